// Package tinymt64 implements the 64-bit Tiny Mersenne Twister (TinyMT64).
//
// The generator keeps 127 bits of state in two 64-bit words and is
// parameterized by three structural constants. It is the sequential
// reference that every parallel stream is checked against, so its output
// must match the device kernels bit for bit.
package tinymt64

import "math"

const (
	sh0 = 12
	sh1 = 11
	sh8 = 8

	// Mask clears the reserved bit 63 of status word 0. NextState applies
	// it before every transition, so that bit never feeds the recurrence
	// and two states that differ only there are the same generator state.
	Mask = 0x7fffffffffffffff

	mul53   = 1.0 / 9007199254740992.0
	minLoop = 8
	oneBits = 0x3ff0000000000000
)

// Params are the structural constants shared by every stream in a run.
type Params struct {
	Mat1 uint32
	Mat2 uint32
	TMat uint64
}

// DefaultParams are the TinyMT64 parameters the jump constants were
// computed for.
var DefaultParams = Params{
	Mat1: 0xfa051f40,
	Mat2: 0xffd0fff4,
	TMat: 0x58d02ffeffbfffbc,
}

// State is one TinyMT64 generator.
type State struct {
	Status [2]uint64
	Params
}

// New returns a generator with the given parameters and a zero status.
// Call Init or InitByArray before generating.
func New(p Params) State {
	return State{Params: p}
}

// NewSeeded returns a generator initialized from seed.
func NewSeeded(p Params, seed uint64) State {
	s := New(p)
	s.Init(seed)
	return s
}

// Init expands a 64-bit seed into a valid initial state.
func (s *State) Init(seed uint64) {
	s.Status[0] = seed ^ (uint64(s.Mat1) << 32)
	s.Status[1] = uint64(s.Mat2) ^ s.TMat
	for i := uint64(1); i < minLoop; i++ {
		prev := s.Status[(i-1)&1]
		s.Status[i&1] ^= i + 6364136223846793005*(prev^(prev>>62))
	}
	s.certify()
}

func iniFunc1(x uint64) uint64 {
	return (x ^ (x >> 59)) * 2173292883993
}

func iniFunc2(x uint64) uint64 {
	return (x ^ (x >> 59)) * 58885565329898161
}

// InitByArray expands an array seed into a valid initial state.
func (s *State) InitByArray(key []uint64) {
	const (
		lag  = 1
		mid  = 1
		size = 4
	)
	st := [size]uint64{0, uint64(s.Mat1), uint64(s.Mat2), s.TMat}

	count := minLoop
	if len(key)+1 > minLoop {
		count = len(key) + 1
	}

	r := iniFunc1(st[0] ^ st[mid%size] ^ st[(size-1)%size])
	st[mid%size] += r
	r += uint64(uint32(len(key)))
	st[(mid+lag)%size] += r
	st[0] = r
	count--

	i, j := 1, 0
	for ; j < count && j < len(key); j++ {
		r = iniFunc1(st[i] ^ st[(i+mid)%size] ^ st[(i+size-1)%size])
		st[(i+mid)%size] += r
		r += key[j] + uint64(i)
		st[(i+mid+lag)%size] += r
		st[i] = r
		i = (i + 1) % size
	}
	for ; j < count; j++ {
		r = iniFunc1(st[i] ^ st[(i+mid)%size] ^ st[(i+size-1)%size])
		st[(i+mid)%size] += r
		r += uint64(i)
		st[(i+mid+lag)%size] += r
		st[i] = r
		i = (i + 1) % size
	}
	for j = 0; j < size; j++ {
		r = iniFunc2(st[i] + st[(i+mid)%size] + st[(i+size-1)%size])
		st[(i+mid)%size] ^= r
		r -= uint64(i)
		st[(i+mid+lag)%size] ^= r
		st[i] = r
		i = (i + 1) % size
	}

	s.Status[0] = st[0] ^ st[1]
	s.Status[1] = st[2] ^ st[3]
	s.certify()
}

// certify replaces the all-zero state, which has period 1.
func (s *State) certify() {
	if s.Status[0]&Mask == 0 && s.Status[1] == 0 {
		s.Status[0] = 'T'
		s.Status[1] = 'M'
	}
}

// NextState advances the state by one step.
func (s *State) NextState() {
	s.Status[0] &= Mask
	x := s.Status[0] ^ s.Status[1]
	x ^= x << sh0
	x ^= x >> 32
	x ^= x << 32
	x ^= x << sh1
	s.Status[0] = s.Status[1]
	s.Status[1] = x
	if x&1 != 0 {
		s.Status[0] ^= uint64(s.Mat1)
		s.Status[1] ^= uint64(s.Mat2) << 32
	}
}

func (s *State) temperBits() uint64 {
	x := s.Status[0] + s.Status[1]
	x ^= s.Status[0] >> sh8
	return x
}

func (s *State) temper() uint64 {
	x := s.temperBits()
	if x&1 != 0 {
		x ^= s.TMat
	}
	return x
}

// Uint64 advances the state and returns the next 64-bit output.
func (s *State) Uint64() uint64 {
	s.NextState()
	return s.temper()
}

// Float64OC12 advances the state and returns a float64 in [1, 2).
// The tempered output fills the mantissa of 1.0 directly.
func (s *State) Float64OC12() float64 {
	s.NextState()
	return math.Float64frombits((s.temper() >> 12) | oneBits)
}

// Float64CO01 advances the state and returns a float64 in [0, 1)
// with 53 bits of precision.
func (s *State) Float64CO01() float64 {
	s.NextState()
	return float64(s.temper()>>11) * mul53
}

// Add XORs the status of o into s. States form a vector space over GF(2)
// and NextState is linear on it, which is what jump-ahead relies on.
func (s *State) Add(o State) {
	s.Status[0] ^= o.Status[0]
	s.Status[1] ^= o.Status[1]
}

// Masked returns the status with the reserved bit of word 0 cleared.
func (s State) Masked() [2]uint64 {
	return [2]uint64{s.Status[0] & Mask, s.Status[1]}
}

// Equal reports whether two generators are in the same state, ignoring
// the reserved bit.
func (s State) Equal(o State) bool {
	return s.Params == o.Params && s.Masked() == o.Masked()
}
