// Package jump implements jump-ahead for TinyMT64.
//
// A jump is computed in GF(2)[t] modulo the generator's characteristic
// polynomial: advancing a state by n steps is the same as evaluating
// t^n mod φ(t) at the state-transition map. Polynomials of degree below
// 128 are stored in a Poly.
package jump

import (
	"fmt"
	"math/bits"
	"strconv"
	"strings"
)

// Poly is a polynomial over GF(2) of degree at most 127. Bit k of the
// 128-bit value is the coefficient of t^k; Poly[0] holds the low word.
type Poly [2]uint64

// T is the polynomial t.
var T = Poly{2, 0}

// One is the constant polynomial 1.
var One = Poly{1, 0}

// Parse reads a polynomial written as up to 32 hexadecimal digits, most
// significant coefficient first. An optional 0x prefix is accepted.
func Parse(s string) (Poly, error) {
	h := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if h == "" || len(h) > 32 {
		return Poly{}, fmt.Errorf("jump: polynomial %q: want 1 to 32 hex digits", s)
	}
	h = strings.Repeat("0", 32-len(h)) + h

	hi, err := strconv.ParseUint(h[:16], 16, 64)
	if err != nil {
		return Poly{}, fmt.Errorf("jump: polynomial %q: %w", s, err)
	}
	lo, err := strconv.ParseUint(h[16:], 16, 64)
	if err != nil {
		return Poly{}, fmt.Errorf("jump: polynomial %q: %w", s, err)
	}
	return Poly{lo, hi}, nil
}

// MustParse is like Parse but panics on error.
func MustParse(s string) Poly {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Poly) String() string {
	return fmt.Sprintf("%016x%016x", p[1], p[0])
}

// IsZero reports whether p is the zero polynomial.
func (p Poly) IsZero() bool {
	return p[0] == 0 && p[1] == 0
}

// Degree returns the degree of p, or -1 for the zero polynomial.
func (p Poly) Degree() int {
	if p[1] != 0 {
		return 127 - bits.LeadingZeros64(p[1])
	}
	return 63 - bits.LeadingZeros64(p[0])
}

// Coeff returns the coefficient of t^k.
func (p Poly) Coeff(k int) uint64 {
	return (p[k>>6] >> (k & 63)) & 1
}

func (p Poly) setCoeff(k int) Poly {
	p[k>>6] |= 1 << (k & 63)
	return p
}

// Add returns p + q, which over GF(2) is also p - q.
func (p Poly) Add(q Poly) Poly {
	return Poly{p[0] ^ q[0], p[1] ^ q[1]}
}

func (p Poly) shl(n int) Poly {
	switch {
	case n == 0:
		return p
	case n >= 128:
		return Poly{}
	case n >= 64:
		return Poly{0, p[0] << (n - 64)}
	default:
		return Poly{p[0] << n, p[1]<<n | p[0]>>(64-n)}
	}
}

// Mod returns p mod m. It panics if m is zero.
func Mod(p, m Poly) Poly {
	dm := m.Degree()
	if dm < 0 {
		panic("jump: modulus is zero")
	}
	for d := p.Degree(); d >= dm; d = p.Degree() {
		p = p.Add(m.shl(d - dm))
	}
	return p
}

// mulT returns r·t mod m for r already reduced mod m.
func mulT(r, m Poly, dm int) Poly {
	carry := r.Coeff(dm - 1)
	r = r.shl(1)
	if carry != 0 {
		r = r.Add(m)
	}
	return r
}

// MulMod returns a·b mod m.
func MulMod(a, b, m Poly) Poly {
	dm := m.Degree()
	a = Mod(a, m)
	if dm == 0 {
		return Poly{}
	}
	var r Poly
	for k := b.Degree(); k >= 0; k-- {
		r = mulT(r, m, dm)
		if b.Coeff(k) != 0 {
			r = r.Add(a)
		}
	}
	return r
}

// PowMod returns base^e mod m for the 128-bit exponent e = hi·2^64 + lo.
func PowMod(base Poly, lo, hi uint64, m Poly) Poly {
	r := Mod(One, m)
	base = Mod(base, m)
	e := Poly{lo, hi}
	for k := e.Degree(); k >= 0; k-- {
		r = MulMod(r, r, m)
		if e.Coeff(k) != 0 {
			r = MulMod(r, base, m)
		}
	}
	return r
}
