package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/nozzle/tinymt/backend"
	"github.com/nozzle/tinymt/tinymt64"
)

// Kernel entry points for stream initialization.
const (
	KernelInitSeed  = "tinymt_init_seed_kernel"
	KernelInitArray = "tinymt_init_array_kernel"
)

// Initializer dispatches device-side stream initialization and reads the
// resulting states back.
type Initializer struct {
	Context backend.Context
	Queue   backend.Queue
	Program backend.Program

	// States holds two words per work item.
	States backend.Buffer
	// Local is the number of work items per group.
	Local  int
	Params tinymt64.Params
}

func (in *Initializer) streams() int {
	return in.States.Len() / 2
}

// Seed initializes every device stream from seed and returns the states
// the device produced together with the kernel time.
func (in *Initializer) Seed(ctx context.Context, seed uint64) (Set, time.Duration, error) {
	ev, err := in.Queue.Dispatch(ctx, in.Program, KernelInitSeed, in.streams(), in.Local, in.States, seed)
	if err != nil {
		return nil, 0, fmt.Errorf("init by seed: %w", err)
	}
	return in.collect(ctx, ev)
}

// Array initializes every device stream from an array seed. The key
// buffer lives only for the duration of the call.
func (in *Initializer) Array(ctx context.Context, key []uint64) (Set, time.Duration, error) {
	if len(key) == 0 {
		return nil, 0, fmt.Errorf("init by array: %w: empty key", backend.ErrInvalidArg)
	}
	keyBuf, err := in.Context.Alloc(len(key), backend.ReadOnly)
	if err != nil {
		return nil, 0, fmt.Errorf("init by array: %w", err)
	}
	defer keyBuf.Release()

	if err := in.Queue.Write(ctx, keyBuf, key); err != nil {
		return nil, 0, fmt.Errorf("init by array: %w", err)
	}
	ev, err := in.Queue.Dispatch(ctx, in.Program, KernelInitArray, in.streams(), in.Local, in.States, keyBuf, len(key))
	if err != nil {
		return nil, 0, fmt.Errorf("init by array: %w", err)
	}
	return in.collect(ctx, ev)
}

func (in *Initializer) collect(ctx context.Context, ev backend.Event) (Set, time.Duration, error) {
	if err := ev.Wait(ctx); err != nil {
		return nil, 0, fmt.Errorf("init kernel: %w", err)
	}
	set, err := ReadStates(ctx, in.Queue, in.States, in.Params)
	if err != nil {
		return nil, 0, err
	}
	return set, ev.Elapsed(), nil
}

// ReadStates reads the device state buffer back into a Set.
func ReadStates(ctx context.Context, q backend.Queue, states backend.Buffer, p tinymt64.Params) (Set, error) {
	words := make([]uint64, states.Len())
	if err := q.Read(ctx, states, words); err != nil {
		return nil, fmt.Errorf("read states: %w", err)
	}
	return Unpack(words, p), nil
}
