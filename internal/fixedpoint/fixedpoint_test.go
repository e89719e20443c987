package fixedpoint

import (
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMulDivRounding(t *testing.T) {
	down, err := MulDiv(uint256.NewInt(7), uint256.NewInt(3), uint256.NewInt(2), Down)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), down.Uint64())

	up, err := MulDiv(uint256.NewInt(7), uint256.NewInt(3), uint256.NewInt(2), Up)
	require.NoError(t, err)
	assert.Equal(t, uint64(11), up.Uint64())

	exact, err := MulDiv(uint256.NewInt(6), uint256.NewInt(2), uint256.NewInt(3), Up)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), exact.Uint64())
}

func TestMulDivWideIntermediate(t *testing.T) {
	a := new(uint256.Int).Lsh(One, 255)
	got, err := MulDiv(a, uint256.NewInt(4), uint256.NewInt(8), Down)
	require.NoError(t, err)
	assert.Equal(t, new(uint256.Int).Lsh(One, 254), got)
}

func TestMulDivErrors(t *testing.T) {
	_, err := MulDiv(One, One, Zero, Down)
	assert.ErrorIs(t, err, ErrDivisionByZero)

	_, err = MulDiv(maxUint256, maxUint256, One, Down)
	assert.ErrorIs(t, err, ErrOverflow)

	_, err = MulDiv(maxUint256, uint256.NewInt(3), uint256.NewInt(2), Up)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestDiv(t *testing.T) {
	got, err := Div(uint256.NewInt(10), uint256.NewInt(4), Down)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), got.Uint64())

	got, err = Div(uint256.NewInt(10), uint256.NewInt(4), Up)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), got.Uint64())

	_, err = Div(One, Zero, Up)
	assert.ErrorIs(t, err, ErrDivisionByZero)
}

func TestSqrt(t *testing.T) {
	assert.Equal(t, uint64(4), Sqrt(uint256.NewInt(16)).Uint64())
	assert.Equal(t, uint64(4), Sqrt(uint256.NewInt(24)).Uint64())
	assert.Equal(t, WAD, Sqrt(new(uint256.Int).Mul(WAD, WAD)))
}

func TestCheckedArithmetic(t *testing.T) {
	_, err := Sub(One, uint256.NewInt(2))
	assert.ErrorIs(t, err, ErrUnderflow)

	_, err = Add(maxUint256, One)
	assert.ErrorIs(t, err, ErrOverflow)

	_, err = Mul(maxUint256, uint256.NewInt(2))
	assert.ErrorIs(t, err, ErrOverflow)

	assert.Equal(t, One, Min(One, WAD))
}

func TestParseAndFromBig(t *testing.T) {
	got, err := Parse("1000000000000000000")
	require.NoError(t, err)
	assert.Equal(t, WAD, got)

	_, err = Parse("1e18")
	assert.Error(t, err)

	_, err = FromBig(big.NewInt(-1))
	assert.ErrorIs(t, err, ErrUnderflow)

	_, err = FromBig(new(big.Int).Lsh(big.NewInt(1), 256))
	assert.ErrorIs(t, err, ErrOverflow)

	assert.Equal(t, "0", String(nil))
	assert.Equal(t, "79228162514264337593543950336", String(Q96))
}
