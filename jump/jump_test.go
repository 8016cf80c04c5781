package jump

import (
	"math/bits"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nozzle/tinymt/tinymt64"
)

var defaultChar = MustParse(DefaultCharacteristic)

func TestParse(t *testing.T) {
	p, err := Parse(DefaultCharacteristic)
	require.NoError(t, err)
	assert.Equal(t, DefaultCharacteristic, p.String())
	assert.Equal(t, 127, p.Degree())

	short, err := Parse("0x1b")
	require.NoError(t, err)
	assert.Equal(t, Poly{0x1b, 0}, short)
	assert.Equal(t, 4, short.Degree())

	for _, bad := range []string{"", "0x", "zz", "945e0ad4a30ec19432dfa9d5959e5d5d0"} {
		_, err := Parse(bad)
		assert.Error(t, err, "Parse(%q)", bad)
	}
	assert.Panics(t, func() { MustParse("xyz") })
}

func TestDegree(t *testing.T) {
	assert.Equal(t, -1, Poly{}.Degree())
	assert.Equal(t, 0, One.Degree())
	assert.Equal(t, 1, T.Degree())
	assert.Equal(t, 64, Poly{0, 1}.Degree())
	assert.True(t, Poly{}.IsZero())
}

func TestMod(t *testing.T) {
	// t^4 + t + 1 over GF(2): t^4 = t + 1.
	m := Poly{0x13, 0}
	assert.Equal(t, Poly{0x3, 0}, Mod(Poly{0x10, 0}, m))
	assert.Equal(t, Poly{0x5, 0}, Mod(Poly{0x5, 0}, m))
	assert.Panics(t, func() { Mod(One, Poly{}) })
}

func TestMulModSmallField(t *testing.T) {
	// GF(16) generated by t^4 + t + 1 is a field with a cyclic group of
	// order 15, so t^15 = 1 and t^i != 1 for 0 < i < 15.
	m := Poly{0x13, 0}
	x := One
	for i := 1; i <= 15; i++ {
		x = MulMod(x, T, m)
		if i < 15 {
			assert.NotEqual(t, One, x, "t^%d", i)
		}
	}
	assert.Equal(t, One, x)
	assert.Equal(t, One, PowMod(T, 15, 0, m))
	// 2^64 = 1 mod 15, so t^(2^64) = t.
	assert.Equal(t, T, PowMod(T, 0, 1, m))
}

func TestMulModCommutes(t *testing.T) {
	a := Poly{0x0123456789abcdef, 0x1edcba9876543210}
	b := Poly{0xdeadbeefcafebabe, 0x0badf00d}
	require.Equal(t, MulMod(a, b, defaultChar), MulMod(b, a, defaultChar))
	assert.Equal(t, Mod(a, defaultChar), MulMod(a, One, defaultChar))
}

func TestPowModAddsExponents(t *testing.T) {
	cases := []struct{ a, b uint64 }{
		{1, 1},
		{DefaultStep, DefaultStep},
		{1 << 63, 1 << 63},
		{^uint64(0), 12345},
	}
	for _, c := range cases {
		lo, carry := bits.Add64(c.a, c.b, 0)
		want := Polynomial(defaultChar, lo, carry)
		got := MulMod(Polynomial(defaultChar, c.a, 0), Polynomial(defaultChar, c.b, 0), defaultChar)
		assert.Equal(t, want, got, "t^%d * t^%d", c.a, c.b)
	}
}

func TestPolynomialBelowDegree(t *testing.T) {
	for n := range 127 {
		p := Polynomial(defaultChar, uint64(n), 0)
		assert.Equal(t, Poly{}.setCoeff(n), p, "t^%d", n)
	}
}

func stepped(s tinymt64.State, n int) tinymt64.State {
	for range n {
		s.NextState()
	}
	return s
}

func TestJumpMatchesStepping(t *testing.T) {
	for _, n := range []int{0, 1, 5, 126, 127, 128, 1000, 4096} {
		s := tinymt64.NewSeeded(tinymt64.DefaultParams, 1234)
		want := stepped(s, n)
		Jump(&s, defaultChar, uint64(n))
		if !s.Equal(want) {
			t.Errorf("jump %d: got %x, want %x", n, s.Masked(), want.Masked())
		}
	}
}

func TestJumpedStreamContinues(t *testing.T) {
	s := tinymt64.NewSeeded(tinymt64.DefaultParams, 1)
	want := stepped(s, 3000)
	Jump(&s, defaultChar, 3000)
	for range 100 {
		require.Equal(t, want.Uint64(), s.Uint64())
	}
}

func TestTableMatchesDirect(t *testing.T) {
	tab := NewTable(defaultChar, DefaultStep)
	assert.Equal(t, DefaultStep, tab.Step())
	assert.Equal(t, defaultChar, tab.Characteristic())
	assert.Equal(t, Polynomial(defaultChar, DefaultStep, 0), tab.At(0))

	base := tinymt64.NewSeeded(tinymt64.DefaultParams, 1234)
	for _, n := range []uint64{0, 1, 2, 3, 7, 255, 8191} {
		viaTable := base
		tab.Advance(&viaTable, n)

		direct := base
		hi, lo := bits.Mul64(DefaultStep, n)
		Ahead(&direct, defaultChar, lo, hi)

		if !viaTable.Equal(direct) {
			t.Errorf("stream %d: table %x, direct %x", n, viaTable.Masked(), direct.Masked())
		}
	}
}

func TestCharacteristicOfDefaultParams(t *testing.T) {
	got, err := Characteristic(tinymt64.DefaultParams)
	require.NoError(t, err)
	assert.Equal(t, DefaultCharacteristic, got.String())
}

func TestBerlekampMassey(t *testing.T) {
	// s[i] = s[i-1] ^ s[i-3] has connection polynomial 1 + x + x^3.
	s := []uint8{1, 0, 0}
	for i := 3; i < 20; i++ {
		s = append(s, s[i-1]^s[i-3])
	}
	assert.Equal(t, []uint8{1, 1, 0, 1}, berlekampMassey(s))
}
