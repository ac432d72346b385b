package amount

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoundTrip(t *testing.T) {
	for _, raw := range []string{"0", "1", "1000000", "115792089237316195423570985008687907853269984665640564039457584007913129639935"} {
		a, err := Parse(raw, 18)
		require.NoError(t, err)
		assert.Equal(t, raw, a.String())
	}
}

func TestParseRejectsNonIntegers(t *testing.T) {
	for _, raw := range []string{"", "-1", "1.5", "1e6", "0x10", " "} {
		_, err := Parse(raw, 6)
		assert.Error(t, err, raw)
	}
}

func TestParseUnits(t *testing.T) {
	a, err := ParseUnits("1.5", 6)
	require.NoError(t, err)
	assert.Equal(t, "1500000", a.String())
	assert.Equal(t, "1.5", a.Format(6))

	_, err = ParseUnits("0.0000001", 6)
	assert.Error(t, err, "more precision than the token supports")

	_, err = ParseUnits("-1", 6)
	assert.ErrorIs(t, err, ErrNegative)
}

func TestArithmeticRequiresEqualScale(t *testing.T) {
	a := FromUint64(100, 6)
	b := FromUint64(100, 18)

	_, err := a.Add(b)
	assert.ErrorIs(t, err, ErrScaleMismatch)
	_, err = a.Cmp(b)
	assert.ErrorIs(t, err, ErrScaleMismatch)

	r, err := a.Rescale(18)
	require.NoError(t, err)
	assert.Equal(t, "100000000000000", r.String())
	sum, err := r.Add(b)
	require.NoError(t, err)
	assert.Equal(t, "100000000000100", sum.String())
}

func TestSubNeverNegative(t *testing.T) {
	_, err := FromUint64(1, 6).Sub(FromUint64(2, 6))
	assert.ErrorIs(t, err, ErrNegative)
}

func TestMulBpsFloors(t *testing.T) {
	tests := []struct {
		raw  uint64
		bps  uint32
		want string
	}{
		{1000, 30, "3"},
		{500000, 50, "2500"},
		{999, 1, "0"},
		{1000000, 10000, "1000000"},
		{1000000, 0, "0"},
	}
	for _, tt := range tests {
		got, err := FromUint64(tt.raw, 6).MulBps(tt.bps)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got.String())
	}

	_, err := FromUint64(1, 6).MulBps(10001)
	assert.ErrorIs(t, err, ErrInvalidBps)
}

func TestFromBigOverflow(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(1), 300)
	_, err := FromBig(huge, 18)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestFromBigCopies(t *testing.T) {
	v := big.NewInt(42)
	a, err := FromBig(v, 0)
	require.NoError(t, err)
	v.SetInt64(7)
	assert.Equal(t, "42", a.String())
}

func TestZeroValueIsUsable(t *testing.T) {
	var a Amount
	assert.True(t, a.IsZero())
	assert.Equal(t, "0", a.String())
}
