// Package stream splits one TinyMT64 sequence into independent,
// non-overlapping streams, one per parallel work item.
//
// Stream i starts i jumps after stream 0. The host builds the reference
// set by chaining one jump at a time; device work items cannot wait on
// each other, so each computes its own start directly from its index.
// Both must agree for every i.
package stream

import (
	"math/bits"

	"github.com/nozzle/tinymt/internal/parallel"
	"github.com/nozzle/tinymt/jump"
	"github.com/nozzle/tinymt/tinymt64"
)

// Set is an ordered set of stream states, index 0..N-1.
type Set []tinymt64.State

// Clone returns an independent copy of s.
func (s Set) Clone() Set {
	return append(Set(nil), s...)
}

// Jumper holds the run-wide jump constants.
type Jumper struct {
	Char jump.Poly
	Step uint64
}

// DefaultJumper returns the jump constants for tinymt64.DefaultParams.
func DefaultJumper() Jumper {
	return Jumper{
		Char: jump.MustParse(jump.DefaultCharacteristic),
		Step: jump.DefaultStep,
	}
}

// Table precomputes the per-index jump table for j.
func (j Jumper) Table() *jump.Table {
	return jump.NewTable(j.Char, j.Step)
}

// FromSeed builds n streams, the first initialized from seed.
func FromSeed(n int, p tinymt64.Params, seed uint64, j Jumper) Set {
	first := tinymt64.NewSeeded(p, seed)
	return Chain(first, n, j)
}

// FromArray builds n streams, the first initialized from an array seed.
func FromArray(n int, p tinymt64.Params, key []uint64, j Jumper) Set {
	first := tinymt64.New(p)
	first.InitByArray(key)
	return Chain(first, n, j)
}

// Chain builds n streams from first, each one jump after its predecessor.
func Chain(first tinymt64.State, n int, j Jumper) Set {
	if n <= 0 {
		return nil
	}
	poly := jump.Polynomial(j.Char, j.Step, 0)
	set := make(Set, n)
	set[0] = first
	for i := 1; i < n; i++ {
		set[i] = set[i-1]
		jump.Apply(&set[i], poly)
	}
	return set
}

// Direct returns stream i computed as a single jump of step·i values
// from first. The product is taken in 128 bits.
func Direct(first tinymt64.State, i uint64, j Jumper) tinymt64.State {
	hi, lo := bits.Mul64(j.Step, i)
	s := first
	jump.Ahead(&s, j.Char, lo, hi)
	return s
}

// DirectSet builds n streams the way device work items do: each index
// independently, via the binary-power jump table.
func DirectSet(first tinymt64.State, n int, tab *jump.Table) Set {
	if n <= 0 {
		return nil
	}
	set := make(Set, n)
	parallel.ParallelFor(0, n, parallel.NumWorkers(), func(i int) {
		s := first
		tab.Advance(&s, uint64(i))
		set[i] = s
	})
	return set
}

// Pack flattens set into the device state layout: two words per stream.
func Pack(set Set) []uint64 {
	out := make([]uint64, 2*len(set))
	for i, s := range set {
		out[2*i] = s.Status[0]
		out[2*i+1] = s.Status[1]
	}
	return out
}

// Unpack rebuilds a set from the device state layout.
func Unpack(words []uint64, p tinymt64.Params) Set {
	set := make(Set, len(words)/2)
	for i := range set {
		set[i] = tinymt64.State{
			Status: [2]uint64{words[2*i], words[2*i+1]},
			Params: p,
		}
	}
	return set
}
