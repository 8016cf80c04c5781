package tinymt64

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitDeterministic(t *testing.T) {
	a := NewSeeded(DefaultParams, 1234)
	b := NewSeeded(DefaultParams, 1234)
	c := NewSeeded(DefaultParams, 1235)

	require.Equal(t, a, b)
	assert.NotEqual(t, a.Status, c.Status)

	for i := range 1000 {
		x, y := a.Uint64(), b.Uint64()
		if x != y {
			t.Fatalf("step %d: %#x != %#x", i, x, y)
		}
	}
}

func TestInitByArrayDeterministic(t *testing.T) {
	key := []uint64{1, 2, 3, 4, 5}

	a := New(DefaultParams)
	a.InitByArray(key)
	b := New(DefaultParams)
	b.InitByArray(key)
	require.Equal(t, a.Status, b.Status)

	// Longer keys take the count = len+1 branch.
	long := make([]uint64, 20)
	for i := range long {
		long[i] = uint64(i) * 0x9e3779b97f4a7c15
	}
	c := New(DefaultParams)
	c.InitByArray(long)
	assert.NotEqual(t, a.Status, c.Status)

	// A key differing in its last word must give a different state.
	long[19]++
	d := New(DefaultParams)
	d.InitByArray(long)
	assert.NotEqual(t, c.Status, d.Status)
}

// Published outputs of the reference generator with the default
// parameters.
func TestKnownAnswers(t *testing.T) {
	tests := []struct {
		name string
		init func(*State)
		want []uint64
	}{
		{
			name: "seed 1",
			init: func(s *State) { s.Init(1) },
			want: []uint64{15503804787016557143, 17280942441431881838, 2177846447079362065},
		},
		{
			name: "array {1}",
			init: func(s *State) { s.InitByArray([]uint64{1}) },
			want: []uint64{2316304586286922237, 15094277089150361724, 5685675787316092711},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(DefaultParams)
			tt.init(&s)
			for i, want := range tt.want {
				if got := s.Uint64(); got != want {
					t.Fatalf("output %d: got %d, want %d", i, got, want)
				}
			}
		})
	}
}

func TestCertify(t *testing.T) {
	s := New(DefaultParams)
	s.Status = [2]uint64{1 << 63, 0}
	s.certify()
	assert.Equal(t, [2]uint64{'T', 'M'}, s.Status)

	s.Status = [2]uint64{0, 1}
	s.certify()
	assert.Equal(t, [2]uint64{0, 1}, s.Status)
}

func TestFloatRanges(t *testing.T) {
	s := NewSeeded(DefaultParams, 42)
	for range 10000 {
		d := s.Float64OC12()
		if d < 1 || d >= 2 {
			t.Fatalf("Float64OC12 = %v, want [1, 2)", d)
		}
		d = s.Float64CO01()
		if d < 0 || d >= 1 {
			t.Fatalf("Float64CO01 = %v, want [0, 1)", d)
		}
	}
}

func TestConversionsShareTempering(t *testing.T) {
	s := NewSeeded(DefaultParams, 7)
	for i := range 1000 {
		u, d12, d01 := s, s, s
		x := u.Uint64()
		got12 := d12.Float64OC12()
		got01 := d01.Float64CO01()

		if want := math.Float64frombits(x>>12 | oneBits); got12 != want {
			t.Fatalf("step %d: Float64OC12 = %v, want %v", i, got12, want)
		}
		if want := float64(x>>11) * mul53; got01 != want {
			t.Fatalf("step %d: Float64CO01 = %v, want %v", i, got01, want)
		}
		// [0,1) keeps one more mantissa bit than [1,2).
		diff := got01 - (got12 - 1)
		if diff < 0 || diff > 0x1p-53 {
			t.Fatalf("step %d: [0,1) and [1,2) disagree by %v", i, diff)
		}
		s.NextState()
	}
}

func TestNextStateLinear(t *testing.T) {
	a := NewSeeded(DefaultParams, 1)
	b := NewSeeded(DefaultParams, 2)
	sum := a
	sum.Add(b)

	for i := range 500 {
		a.NextState()
		b.NextState()
		sum.NextState()

		want := a
		want.Add(b)
		if !want.Equal(sum) {
			t.Fatalf("step %d: T(a^b) = %x, want %x", i, sum.Masked(), want.Masked())
		}
	}
}

func TestReservedBitIgnored(t *testing.T) {
	a := NewSeeded(DefaultParams, 99)
	b := a
	b.Status[0] ^= 1 << 63

	assert.True(t, a.Equal(b))
	assert.NotEqual(t, a.Status, b.Status)

	// The reserved bit never reaches the output.
	for range 100 {
		require.Equal(t, a.Uint64(), b.Uint64())
	}
}

func TestEqualComparesParams(t *testing.T) {
	a := NewSeeded(DefaultParams, 5)
	b := a
	b.TMat ^= 1
	assert.False(t, a.Equal(b))
}
