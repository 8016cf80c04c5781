package jump

import (
	"fmt"

	"github.com/nozzle/tinymt/tinymt64"
)

const (
	// DefaultCharacteristic is the characteristic polynomial of
	// tinymt64.DefaultParams.
	DefaultCharacteristic = "945e0ad4a30ec19432dfa9d5959e5d5d"

	// DefaultStep is the distance between consecutive streams, 3^40.
	// Streams are 2^63 values apart on average and cannot overlap in any
	// feasible run.
	DefaultStep uint64 = 12157665459056928801
)

// Polynomial returns the jump polynomial t^n mod char for the 128-bit
// step count n = hi·2^64 + lo.
func Polynomial(char Poly, lo, hi uint64) Poly {
	return PowMod(T, lo, hi, char)
}

// Apply replaces the status of s with p(T)·s, where T is the state
// transition. It costs deg(p)+1 transitions.
func Apply(s *tinymt64.State, p Poly) {
	work := *s
	var acc [2]uint64
	for k := 0; k <= p.Degree(); k++ {
		if p.Coeff(k) != 0 {
			acc[0] ^= work.Status[0]
			acc[1] ^= work.Status[1]
		}
		work.NextState()
	}
	s.Status = acc
}

// Jump advances s by step values.
func Jump(s *tinymt64.State, char Poly, step uint64) {
	Apply(s, Polynomial(char, step, 0))
}

// Ahead advances s by hi·2^64 + lo values.
func Ahead(s *tinymt64.State, char Poly, lo, hi uint64) {
	Apply(s, Polynomial(char, lo, hi))
}

// Table holds the jump polynomials for step·2^k, k < 64. With it a
// worker reaches stream n from stream 0 with one Apply per set bit of n,
// independent of every other worker.
type Table struct {
	char  Poly
	step  uint64
	polys [64]Poly
}

// NewTable precomputes the binary-power jump polynomials for step.
func NewTable(char Poly, step uint64) *Table {
	t := &Table{char: char, step: step}
	p := Polynomial(char, step, 0)
	for k := range t.polys {
		t.polys[k] = p
		p = MulMod(p, p, char)
	}
	return t
}

// Step returns the distance of one jump.
func (t *Table) Step() uint64 { return t.step }

// Characteristic returns the modulus the table was built for.
func (t *Table) Characteristic() Poly { return t.char }

// At returns t^(step·2^k) mod char.
func (t *Table) At(k int) Poly { return t.polys[k] }

// Advance moves s forward by n jumps.
func (t *Table) Advance(s *tinymt64.State, n uint64) {
	for k := 0; n != 0; k++ {
		if n&1 != 0 {
			Apply(s, t.polys[k])
		}
		n >>= 1
	}
}

// Characteristic derives the characteristic polynomial of the generator
// with parameters p from one bit of its state sequence, using
// Berlekamp-Massey.
func Characteristic(p tinymt64.Params) (Poly, error) {
	s := tinymt64.NewSeeded(p, 1)
	// Skip one transition so the sequence starts inside the image of T.
	s.NextState()
	seq := make([]uint8, 4*128)
	for i := range seq {
		seq[i] = uint8(s.Status[1] & 1)
		s.NextState()
	}

	c := berlekampMassey(seq)
	l := len(c) - 1
	if l > 127 {
		return Poly{}, fmt.Errorf("jump: linear complexity %d exceeds 127", l)
	}
	// The characteristic polynomial is the reciprocal of the connection
	// polynomial.
	var out Poly
	for j, b := range c {
		if b != 0 {
			out = out.setCoeff(l - j)
		}
	}
	return out, nil
}

// berlekampMassey returns the shortest connection polynomial
// c[0] + c[1]x + ... + c[L]x^L generating s over GF(2).
func berlekampMassey(s []uint8) []uint8 {
	n := len(s)
	c := make([]uint8, n+1)
	b := make([]uint8, n+1)
	c[0], b[0] = 1, 1
	l, m := 0, -1
	for i := range n {
		d := s[i]
		for j := 1; j <= l; j++ {
			d ^= c[j] & s[i-j]
		}
		if d == 0 {
			continue
		}
		prev := append([]uint8(nil), c...)
		shift := i - m
		for j := 0; j+shift <= n; j++ {
			c[j+shift] ^= b[j]
		}
		if 2*l <= i {
			l = i + 1 - l
			m = i
			b = prev
		}
	}
	return c[:l+1]
}
