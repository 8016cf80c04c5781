package kernels

import (
	"math"

	"github.com/nozzle/tinymt/jump"
)

// Device-side TinyMT64. Work items keep only the two status words; the
// structural constants come from the program.

type consts struct {
	mat1 uint64
	mat2 uint64
	tmat uint64
}

type tinymt64j struct {
	s0, s1 uint64
}

const (
	jMask = 0x7fffffffffffffff
	jMul  = 1.0 / 9007199254740992.0
)

func (t *tinymt64j) next(c *consts) {
	t.s0 &= jMask
	x := t.s0 ^ t.s1
	x ^= x << 12
	x ^= x >> 32
	x ^= x << 32
	x ^= x << 11
	t.s0 = t.s1
	t.s1 = x
	// Branch-free select of the feedback constants on the low bit.
	m := -(x & 1)
	t.s0 ^= m & c.mat1
	t.s1 ^= m & (c.mat2 << 32)
}

func (t *tinymt64j) tempered(c *consts) uint64 {
	x := t.s0 + t.s1
	x ^= t.s0 >> 8
	return x ^ (-(x & 1) & c.tmat)
}

func (t *tinymt64j) genUint64(c *consts) uint64 {
	t.next(c)
	return t.tempered(c)
}

func (t *tinymt64j) genDouble12(c *consts) float64 {
	t.next(c)
	return math.Float64frombits(t.tempered(c)>>12 | 0x3ff0000000000000)
}

func (t *tinymt64j) genDouble01(c *consts) float64 {
	t.next(c)
	return float64(t.tempered(c)>>11) * jMul
}

func (t *tinymt64j) certify() {
	if t.s0&jMask == 0 && t.s1 == 0 {
		t.s0, t.s1 = 'T', 'M'
	}
}

func (t *tinymt64j) initSeed(c *consts, seed uint64) {
	st := [2]uint64{seed ^ (c.mat1 << 32), c.mat2 ^ c.tmat}
	for i := uint64(1); i < 8; i++ {
		p := st[(i-1)&1]
		st[i&1] ^= i + 6364136223846793005*(p^(p>>62))
	}
	t.s0, t.s1 = st[0], st[1]
	t.certify()
}

func (t *tinymt64j) initArray(c *consts, key []uint64) {
	f1 := func(x uint64) uint64 { return (x ^ (x >> 59)) * 2173292883993 }
	f2 := func(x uint64) uint64 { return (x ^ (x >> 59)) * 58885565329898161 }

	st := [4]uint64{0, c.mat1, c.mat2, c.tmat}
	count := max(len(key)+1, 8)

	r := f1(st[0] ^ st[1] ^ st[3])
	st[1] += r
	r += uint64(uint32(len(key)))
	st[2] += r
	st[0] = r

	i := 1
	for j := 0; j < count-1; j++ {
		r = f1(st[i] ^ st[(i+1)&3] ^ st[(i+3)&3])
		st[(i+1)&3] += r
		if j < len(key) {
			r += key[j]
		}
		r += uint64(i)
		st[(i+2)&3] += r
		st[i] = r
		i = (i + 1) & 3
	}
	for range 4 {
		r = f2(st[i] + st[(i+1)&3] + st[(i+3)&3])
		st[(i+1)&3] ^= r
		r -= uint64(i)
		st[(i+2)&3] ^= r
		st[i] = r
		i = (i + 1) & 3
	}
	t.s0 = st[0] ^ st[1]
	t.s1 = st[2] ^ st[3]
	t.certify()
}

// apply replaces the state with p(T)·state.
func (t *tinymt64j) apply(c *consts, p jump.Poly) {
	work := *t
	var acc tinymt64j
	for k := 0; k <= p.Degree(); k++ {
		if p.Coeff(k) != 0 {
			acc.s0 ^= work.s0
			acc.s1 ^= work.s1
		}
		work.next(c)
	}
	*t = acc
}

// jumpTo advances the state to stream n using the program jump table.
func (t *tinymt64j) jumpTo(c *consts, tab *jump.Table, n uint64) {
	for k := 0; n != 0; k++ {
		if n&1 != 0 {
			t.apply(c, tab.At(k))
		}
		n >>= 1
	}
}
