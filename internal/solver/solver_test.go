package solver

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liquidityRebalancer/internal/fixedpoint"
	"liquidityRebalancer/internal/pricing"
	"liquidityRebalancer/internal/tickmath"
)

func ether(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), fixedpoint.WAD)
}

func band(t *testing.T, tolerance *uint256.Int) (lower, upper *uint256.Int) {
	t.Helper()
	lowerDeviation := fixedpoint.Sqrt(new(uint256.Int).Mul(new(uint256.Int).Sub(fixedpoint.WAD, tolerance), fixedpoint.WAD))
	upperDeviation := fixedpoint.Sqrt(new(uint256.Int).Mul(new(uint256.Int).Add(fixedpoint.WAD, tolerance), fixedpoint.WAD))
	lower, err := fixedpoint.MulDiv(fixedpoint.Q96, lowerDeviation, fixedpoint.WAD, fixedpoint.Down)
	require.NoError(t, err)
	upper, err = fixedpoint.MulDiv(fixedpoint.Q96, upperDeviation, fixedpoint.WAD, fixedpoint.Down)
	require.NoError(t, err)
	return lower, upper
}

// centredProblem is a position over [-600, 600] at price 1.
func centredProblem(t *testing.T, balance0, balance1 *uint256.Int, poolFee uint32, liquidity string) Problem {
	t.Helper()
	lowerRatio, err := tickmath.GetSqrtRatioAtTick(-600)
	require.NoError(t, err)
	upperRatio, err := tickmath.GetSqrtRatioAtTick(600)
	require.NoError(t, err)
	lowerBound, upperBound := band(t, uint256.NewInt(50_000_000_000_000_000))
	return Problem{
		SqrtPriceX96:   fixedpoint.Q96,
		SqrtRatioLower: lowerRatio,
		SqrtRatioUpper: upperRatio,
		Balance0:       balance0,
		Balance1:       balance1,
		PoolFee:        poolFee,
		InitiatorFee:   new(uint256.Int),
		PoolLiquidity:  fixedpoint.MustParse(liquidity),
		LowerBound:     lowerBound,
		UpperBound:     upperBound,
	}
}

func TestNoSlippageTwoToOneCentred(t *testing.T) {
	p := centredProblem(t, ether(2), ether(1), 3000, "1000000000000000000000000")

	estimate, err := TwoSided{}.Estimate(p)
	require.NoError(t, err)
	require.True(t, estimate.ZeroToOne)
	assert.Equal(t, "333333333333333333", fixedpoint.String(estimate.CurrentRatio))
	assert.Equal(t, "499999999999999999", fixedpoint.String(estimate.TargetRatio))

	// (target - current) * total / (1 + target * fee)
	fee := uint256.NewInt(3_000_000_000_000_000)
	targetFee, err := fixedpoint.MulDiv(estimate.TargetRatio, fee, fixedpoint.WAD, fixedpoint.Down)
	require.NoError(t, err)
	deficit := new(uint256.Int).Sub(estimate.TargetRatio, estimate.CurrentRatio)
	wantOut, err := fixedpoint.MulDiv(deficit, ether(3), new(uint256.Int).Add(fixedpoint.WAD, targetFee), fixedpoint.Down)
	require.NoError(t, err)
	// at price 1 the input is the output grossed up by the fee
	wantIn, err := fixedpoint.MulDiv(wantOut, fixedpoint.WAD, new(uint256.Int).Sub(fixedpoint.WAD, fee), fixedpoint.Up)
	require.NoError(t, err)

	assert.Equal(t, wantOut, estimate.AmountOut)
	assert.Equal(t, wantIn, estimate.AmountIn)
	assert.Equal(t, "499251123315027457", fixedpoint.String(estimate.AmountOut))
	assert.Equal(t, "500753383465423729", fixedpoint.String(estimate.AmountIn))
}

func TestNoSlippageOneToZero(t *testing.T) {
	p := centredProblem(t, ether(1), ether(3), 500, "10000000000000000000000")

	estimate, err := TwoSided{}.Estimate(p)
	require.NoError(t, err)
	assert.False(t, estimate.ZeroToOne)
	assert.Equal(t, "1000250062515628910", fixedpoint.String(estimate.AmountIn))
	assert.Equal(t, "999749937484371095", fixedpoint.String(estimate.AmountOut))
}

func TestNoSlippageEmptyBalances(t *testing.T) {
	params, err := NoSlippage(fixedpoint.Q96, new(uint256.Int), new(uint256.Int), fixedpoint.WAD, new(uint256.Int))
	require.NoError(t, err)
	assert.True(t, params.IsZero())
}

func TestTotalFee(t *testing.T) {
	fee, err := TotalFee(3000, uint256.NewInt(10_000_000_000_000_000))
	require.NoError(t, err)
	assert.Equal(t, "13000000000000000", fixedpoint.String(fee))

	_, err = TotalFee(1_000_000, nil)
	assert.ErrorIs(t, err, ErrInvalidFee)
}

func TestNoSlippageAmountsRoundTrip(t *testing.T) {
	priceX96, err := pricing.PriceX96(fixedpoint.MustParse("3543191142285913894699275708842"))
	require.NoError(t, err)
	fee := uint256.NewInt(3_000_000_000_000_000)

	out, err := AmountOutNoSlippage(priceX96, true, ether(1), fee)
	require.NoError(t, err)
	in, err := AmountInNoSlippage(priceX96, true, out, fee)
	require.NoError(t, err)
	assert.False(t, in.Gt(ether(1)))

	_, err = AmountInNoSlippage(priceX96, true, out, fixedpoint.WAD)
	assert.ErrorIs(t, err, ErrInvalidFee)
}

func TestMinLiquidity(t *testing.T) {
	got, err := MinLiquidity(uint256.NewInt(1_000_000), uint256.NewInt(990_000_000_000_000_000))
	require.NoError(t, err)
	assert.Equal(t, uint64(990_000), got.Uint64())

	_, err = MinLiquidity(uint256.NewInt(1), new(uint256.Int).AddUint64(fixedpoint.WAD, 1))
	assert.ErrorIs(t, err, ErrInvalidProblem)
}

func TestValidate(t *testing.T) {
	p := centredProblem(t, ether(1), ether(1), 3000, "1")
	p.SqrtRatioLower, p.SqrtRatioUpper = p.SqrtRatioUpper, p.SqrtRatioLower
	_, err := TwoSided{}.Estimate(p)
	assert.ErrorIs(t, err, pricing.ErrInvalidRange)

	p = centredProblem(t, ether(1), ether(1), 3000, "1")
	p.Balance0 = nil
	_, err = TwoSided{}.Estimate(p)
	assert.ErrorIs(t, err, ErrInvalidProblem)
}
