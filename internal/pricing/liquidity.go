package pricing

import (
	"github.com/holiman/uint256"

	"liquidityRebalancer/internal/fixedpoint"
	"liquidityRebalancer/internal/sqrtpricemath"
)

// LiquidityForAmount0 returns the liquidity that amount0 supports over [a, b].
func LiquidityForAmount0(sqrtRatioA, sqrtRatioB, amount0 *uint256.Int) (*uint256.Int, error) {
	sqrtRatioA, sqrtRatioB = ordered(sqrtRatioA, sqrtRatioB)
	if sqrtRatioA.Eq(sqrtRatioB) {
		return nil, ErrInvalidRange
	}
	intermediate, err := fixedpoint.MulDiv(sqrtRatioA, sqrtRatioB, fixedpoint.Q96, fixedpoint.Down)
	if err != nil {
		return nil, err
	}
	return fixedpoint.MulDiv(amount0, intermediate, new(uint256.Int).Sub(sqrtRatioB, sqrtRatioA), fixedpoint.Down)
}

// LiquidityForAmount1 returns the liquidity that amount1 supports over [a, b].
func LiquidityForAmount1(sqrtRatioA, sqrtRatioB, amount1 *uint256.Int) (*uint256.Int, error) {
	sqrtRatioA, sqrtRatioB = ordered(sqrtRatioA, sqrtRatioB)
	if sqrtRatioA.Eq(sqrtRatioB) {
		return nil, ErrInvalidRange
	}
	return fixedpoint.MulDiv(amount1, fixedpoint.Q96, new(uint256.Int).Sub(sqrtRatioB, sqrtRatioA), fixedpoint.Down)
}

// LiquidityForAmounts returns the largest liquidity mintable from amount0 and
// amount1 at the current price.
func LiquidityForAmounts(sqrtRatioX96, sqrtRatioA, sqrtRatioB, amount0, amount1 *uint256.Int) (*uint256.Int, error) {
	sqrtRatioA, sqrtRatioB = ordered(sqrtRatioA, sqrtRatioB)

	var (
		liquidity *uint256.Int
		err       error
	)
	switch {
	case !sqrtRatioX96.Gt(sqrtRatioA):
		liquidity, err = LiquidityForAmount0(sqrtRatioA, sqrtRatioB, amount0)
	case sqrtRatioX96.Lt(sqrtRatioB):
		liquidity0, err0 := LiquidityForAmount0(sqrtRatioX96, sqrtRatioB, amount0)
		if err0 != nil {
			return nil, err0
		}
		liquidity1, err1 := LiquidityForAmount1(sqrtRatioA, sqrtRatioX96, amount1)
		if err1 != nil {
			return nil, err1
		}
		liquidity = fixedpoint.Min(liquidity0, liquidity1)
	default:
		liquidity, err = LiquidityForAmount1(sqrtRatioA, sqrtRatioB, amount1)
	}
	if err != nil {
		return nil, err
	}
	if liquidity.Gt(fixedpoint.MaxUint128) {
		return nil, fixedpoint.ErrOverflow
	}
	return liquidity, nil
}

// AmountsForLiquidity returns the token amounts represented by liquidity over
// [a, b] at the current price. Mints owe rounded-up amounts, withdrawals pay
// rounded-down amounts.
func AmountsForLiquidity(sqrtRatioX96, sqrtRatioA, sqrtRatioB, liquidity *uint256.Int, rounding fixedpoint.Rounding) (amount0, amount1 *uint256.Int, err error) {
	sqrtRatioA, sqrtRatioB = ordered(sqrtRatioA, sqrtRatioB)
	amount0, amount1 = new(uint256.Int), new(uint256.Int)

	switch {
	case !sqrtRatioX96.Gt(sqrtRatioA):
		amount0, err = sqrtpricemath.GetAmount0Delta(sqrtRatioA, sqrtRatioB, liquidity, rounding)
	case sqrtRatioX96.Lt(sqrtRatioB):
		amount0, err = sqrtpricemath.GetAmount0Delta(sqrtRatioX96, sqrtRatioB, liquidity, rounding)
		if err != nil {
			return nil, nil, err
		}
		amount1, err = sqrtpricemath.GetAmount1Delta(sqrtRatioA, sqrtRatioX96, liquidity, rounding)
	default:
		amount1, err = sqrtpricemath.GetAmount1Delta(sqrtRatioA, sqrtRatioB, liquidity, rounding)
	}
	if err != nil {
		return nil, nil, err
	}
	return amount0, amount1, nil
}

func ordered(a, b *uint256.Int) (*uint256.Int, *uint256.Int) {
	if a.Gt(b) {
		return b, a
	}
	return a, b
}
