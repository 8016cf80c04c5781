// Package dispatch requests batches of generated values from every
// stream on the device.
//
// All producers and consumers share one layout: the value of stream i at
// step j lives at flat index j*N + i, where N is the number of streams.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/nozzle/tinymt/backend"
)

// ErrKindUnavailable is returned when the program was built without the
// feature a value kind needs.
var ErrKindUnavailable = errors.New("value kind unavailable")

// Kind is the type of value a batch holds.
type Kind int

const (
	// Uint64 is the raw 64-bit output.
	Uint64 Kind = iota
	// Float64OC12 is a double in [1, 2).
	Float64OC12
	// Float64CO01 is a double in [0, 1).
	Float64CO01
)

// Kinds lists every value kind in dispatch order.
var Kinds = []Kind{Uint64, Float64OC12, Float64CO01}

// Kernel entry points for generation.
const (
	KernelUint64   = "tinymt_uint64_kernel"
	KernelDouble12 = "tinymt_double12_kernel"
	KernelDouble01 = "tinymt_double01_kernel"
)

func (k Kind) String() string {
	switch k {
	case Uint64:
		return "uint64"
	case Float64OC12:
		return "double[1,2)"
	case Float64CO01:
		return "double[0,1)"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Kernel returns the kernel entry point for k.
func (k Kind) Kernel() string {
	switch k {
	case Float64OC12:
		return KernelDouble12
	case Float64CO01:
		return KernelDouble01
	default:
		return KernelUint64
	}
}

// NeedsDouble reports whether k needs double-precision support.
func (k Kind) NeedsDouble() bool {
	return k == Float64OC12 || k == Float64CO01
}

// RoundUp returns the smallest multiple of n that is at least d, so that
// every stream produces the same number of values. It is idempotent.
// d must be at most math.MaxInt-n+1.
func RoundUp(d, n int) int {
	if n <= 0 {
		return d
	}
	if r := d % n; r != 0 {
		return d + n - r
	}
	return d
}

// Index returns the flat position of step j of stream i among n streams.
func Index(step, stream, n int) int {
	return step*n + stream
}

// Timing is observability telemetry for one batch.
type Timing struct {
	// Kernel is the device execution time.
	Kernel time.Duration
	// Wall covers allocation, dispatch, wait and read-back.
	Wall time.Duration
}

// Batch is the output of one generation request.
type Batch struct {
	Kind    Kind
	Streams int
	Steps   int
	Words   []uint64
	Timing  Timing
}

// Uint64At returns the raw word of stream i at step j.
func (b *Batch) Uint64At(stream, step int) uint64 {
	return b.Words[Index(step, stream, b.Streams)]
}

// Float64At returns the word of stream i at step j as a double.
func (b *Batch) Float64At(stream, step int) float64 {
	return math.Float64frombits(b.Uint64At(stream, step))
}

// Dispatcher runs generation kernels against the device stream states.
type Dispatcher struct {
	Context backend.Context
	Queue   backend.Queue
	Program backend.Program

	// States holds the device streams; kernels advance them in place.
	States backend.Buffer
	// Local is the number of work items per group.
	Local int
}

// Streams returns the number of device streams.
func (d *Dispatcher) Streams() int {
	return d.States.Len() / 2
}

// Available reports whether the program can generate kind.
func (d *Dispatcher) Available(kind Kind) bool {
	return d.Program.Has(kind.Kernel())
}

// Generate asks every stream for its share of count values of kind.
// count is rounded up to a multiple of the stream count.
func (d *Dispatcher) Generate(ctx context.Context, kind Kind, count int) (*Batch, error) {
	if !d.Available(kind) {
		return nil, fmt.Errorf("%w: %s", ErrKindUnavailable, kind)
	}
	n := d.Streams()
	if count <= 0 {
		return nil, fmt.Errorf("generate %s: %w: count %d", kind, backend.ErrInvalidArg, count)
	}
	if count > math.MaxInt-n+1 {
		return nil, fmt.Errorf("generate %s: %w: count %d overflows for %d streams", kind, backend.ErrInvalidArg, count, n)
	}
	total := RoundUp(count, n)
	steps := total / n

	start := time.Now()
	out, err := d.Context.Alloc(total, backend.WriteOnly)
	if err != nil {
		return nil, fmt.Errorf("generate %s: %w", kind, err)
	}
	defer out.Release()

	ev, err := d.Queue.Dispatch(ctx, d.Program, kind.Kernel(), n, d.Local, d.States, out, steps)
	if err != nil {
		return nil, fmt.Errorf("generate %s: %w", kind, err)
	}
	if err := ev.Wait(ctx); err != nil {
		return nil, fmt.Errorf("generate %s: %w", kind, err)
	}

	b := &Batch{Kind: kind, Streams: n, Steps: steps, Words: make([]uint64, total)}
	if err := d.Queue.Read(ctx, out, b.Words); err != nil {
		return nil, fmt.Errorf("generate %s: %w", kind, err)
	}
	b.Timing = Timing{Kernel: ev.Elapsed(), Wall: time.Since(start)}
	return b, nil
}
