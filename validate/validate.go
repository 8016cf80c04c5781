// Package validate compares device output against the host reference.
//
// Every check is the same differential loop: walk all streams and steps,
// ask both sides for a value, compare. Checks differ only in how values
// are produced and how they are compared.
package validate

import (
	"errors"
	"fmt"
	"io"

	"gonum.org/v1/gonum/floats/scalar"

	"github.com/nozzle/tinymt/dispatch"
	"github.com/nozzle/tinymt/stream"
)

// MaxDetails is the number of mismatches a report keeps detail for.
// Mismatches past it are counted but not recorded.
const MaxDetails = 10

// FloatEpsilon is the tolerance for double comparisons: the machine
// epsilon of single precision.
const FloatEpsilon = 0x1p-23

// ErrValidation marks a failed cross-validation.
var ErrValidation = errors.New("validation failed")

// Source produces the value of stream at index step, a generation step
// or a state word depending on the check. The loop calls it in
// stream-major order, so stateful sources may advance as they go.
type Source[T any] func(stream, step int) T

// Comparator reports whether got is acceptable for want.
type Comparator[T any] func(want, got T) bool

// Exact requires bit-identical values.
func Exact[T comparable]() Comparator[T] {
	return func(want, got T) bool { return want == got }
}

// Within accepts doubles that differ by at most tol.
func Within(tol float64) Comparator[float64] {
	return func(want, got float64) bool {
		return scalar.EqualWithinAbs(want, got, tol)
	}
}

// Mismatch is one recorded difference.
type Mismatch struct {
	Stream int
	Step   int
	Want   any
	Got    any
}

// Report is the outcome of one check.
type Report struct {
	Name       string
	Compared   int
	Mismatches int
	Details    []Mismatch

	// Index names the inner dimension in mismatch lines.
	// Default: "step"
	Index string
}

// OK reports whether every element matched.
func (r *Report) OK() bool {
	return r.Mismatches == 0
}

// Err returns a *ValidationError for a failed report and nil otherwise.
func (r *Report) Err() error {
	if r.OK() {
		return nil
	}
	return &ValidationError{Report: r}
}

// Print writes one line per recorded mismatch and the summary line.
func (r *Report) Print(w io.Writer) {
	index := r.Index
	if index == "" {
		index = "step"
	}
	for _, m := range r.Details {
		fmt.Fprintf(w, "mismatch stream=%d %s=%d observed=%s expected=%s\n",
			m.Stream, index, m.Step, format(m.Got), format(m.Want))
	}
	if r.OK() {
		fmt.Fprintf(w, "%s check O.K.\n", r.Name)
		return
	}
	if n := r.Mismatches - len(r.Details); n > 0 {
		fmt.Fprintf(w, "... %d more mismatches\n", n)
	}
	fmt.Fprintf(w, "%s check N.G.\n", r.Name)
}

func format(v any) string {
	switch x := v.(type) {
	case uint64:
		return fmt.Sprintf("%016x", x)
	case float64:
		return fmt.Sprintf("%.17g", x)
	default:
		return fmt.Sprint(x)
	}
}

// ValidationError carries the report of a failed check.
type ValidationError struct {
	Report *Report
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s check: %d of %d values differ", e.Report.Name, e.Report.Mismatches, e.Report.Compared)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Check compares want and got over streams × steps. Streams are the outer
// loop. All elements are compared; detail is kept for the first
// MaxDetails mismatches.
func Check[T any](name string, streams, steps int, want, got Source[T], cmp Comparator[T]) *Report {
	r := &Report{Name: name}
	for i := range streams {
		for j := range steps {
			w, g := want(i, j), got(i, j)
			r.Compared++
			if cmp(w, g) {
				continue
			}
			r.Mismatches++
			if len(r.Details) < MaxDetails {
				r.Details = append(r.Details, Mismatch{Stream: i, Step: j, Want: w, Got: g})
			}
		}
	}
	return r
}

// CheckStates compares two stream sets word by word, with the reserved
// bit of word 0 masked. Mismatches carry the word index in Step.
func CheckStates(ref, got stream.Set) *Report {
	if len(ref) != len(got) {
		return sizeMismatch("init", len(ref), len(got))
	}
	r := Check[uint64]("init", len(ref), 2,
		func(i, w int) uint64 { return ref[i].Masked()[w] },
		func(i, w int) uint64 { return got[i].Masked()[w] },
		Exact[uint64](),
	)
	r.Index = "word"
	return r
}

// CheckUint64 compares a uint64 batch against values drawn from ref.
// ref is advanced past the compared values.
func CheckUint64(ref stream.Set, b *dispatch.Batch) *Report {
	name := dispatch.Uint64.String()
	if len(ref) != b.Streams {
		return sizeMismatch(name, len(ref), b.Streams)
	}
	return Check[uint64](name, b.Streams, b.Steps,
		func(i, _ int) uint64 { return ref[i].Uint64() },
		b.Uint64At,
		Exact[uint64](),
	)
}

// CheckFloat64 compares a double batch against values of kind drawn
// from ref, within FloatEpsilon. ref is advanced past the compared values.
func CheckFloat64(kind dispatch.Kind, ref stream.Set, b *dispatch.Batch) (*Report, error) {
	name := kind.String()
	if len(ref) != b.Streams {
		return sizeMismatch(name, len(ref), b.Streams), nil
	}
	var want Source[float64]
	switch kind {
	case dispatch.Float64OC12:
		want = func(i, _ int) float64 { return ref[i].Float64OC12() }
	case dispatch.Float64CO01:
		want = func(i, _ int) float64 { return ref[i].Float64CO01() }
	default:
		return nil, fmt.Errorf("check %s: not a double kind", kind)
	}
	return Check[float64](name, b.Streams, b.Steps, want, b.Float64At, Within(FloatEpsilon)), nil
}

func sizeMismatch(name string, want, got int) *Report {
	return &Report{
		Name:       name,
		Compared:   1,
		Mismatches: 1,
		Details:    []Mismatch{{Stream: -1, Step: -1, Want: want, Got: got}},
	}
}
