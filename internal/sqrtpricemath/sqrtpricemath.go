package sqrtpricemath

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"liquidityRebalancer/internal/fixedpoint"
)

var (
	ErrLiquidityZero       = errors.New("liquidity must be greater than zero")
	ErrSqrtPriceZero       = errors.New("sqrt price must be greater than zero")
	ErrPriceOverflow       = errors.New("sqrt price exceeds uint160")
	ErrInsufficientReserve = errors.New("output exceeds available reserve")
)

// GetAmount0Delta returns the token0 amount between two sqrt prices for a liquidity:
// L * (sqrtB - sqrtA) / (sqrtA * sqrtB).
func GetAmount0Delta(sqrtRatioA, sqrtRatioB, liquidity *uint256.Int, rounding fixedpoint.Rounding) (*uint256.Int, error) {
	if sqrtRatioA.Gt(sqrtRatioB) {
		sqrtRatioA, sqrtRatioB = sqrtRatioB, sqrtRatioA
	}
	if sqrtRatioA.IsZero() {
		return nil, ErrSqrtPriceZero
	}

	numerator1 := new(uint256.Int).Lsh(liquidity, fixedpoint.Resolution)
	numerator2 := new(uint256.Int).Sub(sqrtRatioB, sqrtRatioA)

	scaled, err := fixedpoint.MulDiv(numerator1, numerator2, sqrtRatioB, rounding)
	if err != nil {
		return nil, fmt.Errorf("amount0 delta: %w", err)
	}
	return fixedpoint.Div(scaled, sqrtRatioA, rounding)
}

// GetAmount1Delta returns the token1 amount between two sqrt prices for a liquidity:
// L * (sqrtB - sqrtA).
func GetAmount1Delta(sqrtRatioA, sqrtRatioB, liquidity *uint256.Int, rounding fixedpoint.Rounding) (*uint256.Int, error) {
	if sqrtRatioA.Gt(sqrtRatioB) {
		sqrtRatioA, sqrtRatioB = sqrtRatioB, sqrtRatioA
	}
	diff := new(uint256.Int).Sub(sqrtRatioB, sqrtRatioA)
	amount, err := fixedpoint.MulDiv(liquidity, diff, fixedpoint.Q96, rounding)
	if err != nil {
		return nil, fmt.Errorf("amount1 delta: %w", err)
	}
	return amount, nil
}

// GetNextSqrtPriceFromInput returns the price after adding amountIn of the input token.
// The result never overshoots the exact price in the direction of the swap.
func GetNextSqrtPriceFromInput(sqrtPX96, liquidity, amountIn *uint256.Int, zeroForOne bool) (*uint256.Int, error) {
	if sqrtPX96.IsZero() {
		return nil, ErrSqrtPriceZero
	}
	if liquidity.IsZero() {
		return nil, ErrLiquidityZero
	}
	if zeroForOne {
		return nextFromAmount0RoundingUp(sqrtPX96, liquidity, amountIn, true)
	}
	return nextFromAmount1RoundingDown(sqrtPX96, liquidity, amountIn, true)
}

// GetNextSqrtPriceFromOutput returns the price after removing amountOut of the output token.
func GetNextSqrtPriceFromOutput(sqrtPX96, liquidity, amountOut *uint256.Int, zeroForOne bool) (*uint256.Int, error) {
	if sqrtPX96.IsZero() {
		return nil, ErrSqrtPriceZero
	}
	if liquidity.IsZero() {
		return nil, ErrLiquidityZero
	}
	if zeroForOne {
		return nextFromAmount1RoundingDown(sqrtPX96, liquidity, amountOut, false)
	}
	return nextFromAmount0RoundingUp(sqrtPX96, liquidity, amountOut, false)
}

func nextFromAmount0RoundingUp(sqrtPX96, liquidity, amount *uint256.Int, add bool) (*uint256.Int, error) {
	if amount.IsZero() {
		return new(uint256.Int).Set(sqrtPX96), nil
	}
	numerator1 := new(uint256.Int).Lsh(liquidity, fixedpoint.Resolution)
	product, productOverflow := new(uint256.Int).MulOverflow(amount, sqrtPX96)

	if add {
		if !productOverflow {
			denominator, sumOverflow := new(uint256.Int).AddOverflow(numerator1, product)
			if !sumOverflow {
				return fixedpoint.MulDiv(numerator1, sqrtPX96, denominator, fixedpoint.Up)
			}
		}
		// L / (L/sqrtP + amount), less precise but cannot overflow.
		denominator, err := fixedpoint.Add(new(uint256.Int).Div(numerator1, sqrtPX96), amount)
		if err != nil {
			return nil, fmt.Errorf("next sqrt price from amount0: %w", err)
		}
		return fixedpoint.Div(numerator1, denominator, fixedpoint.Up)
	}

	if productOverflow || !numerator1.Gt(product) {
		return nil, ErrInsufficientReserve
	}
	denominator := new(uint256.Int).Sub(numerator1, product)
	next, err := fixedpoint.MulDiv(numerator1, sqrtPX96, denominator, fixedpoint.Up)
	if err != nil {
		return nil, err
	}
	if next.Gt(fixedpoint.MaxUint160) {
		return nil, ErrPriceOverflow
	}
	return next, nil
}

func nextFromAmount1RoundingDown(sqrtPX96, liquidity, amount *uint256.Int, add bool) (*uint256.Int, error) {
	if add {
		quotient, err := fixedpoint.MulDiv(amount, fixedpoint.Q96, liquidity, fixedpoint.Down)
		if err != nil {
			return nil, err
		}
		next, err := fixedpoint.Add(sqrtPX96, quotient)
		if err != nil || next.Gt(fixedpoint.MaxUint160) {
			return nil, ErrPriceOverflow
		}
		return next, nil
	}

	quotient, err := fixedpoint.MulDiv(amount, fixedpoint.Q96, liquidity, fixedpoint.Up)
	if err != nil {
		return nil, err
	}
	if !sqrtPX96.Gt(quotient) {
		return nil, ErrInsufficientReserve
	}
	return new(uint256.Int).Sub(sqrtPX96, quotient), nil
}
