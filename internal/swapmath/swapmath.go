package swapmath

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"liquidityRebalancer/internal/fixedpoint"
	"liquidityRebalancer/internal/sqrtpricemath"
)

// FeeDenominator is 100% expressed in pips.
const FeeDenominator = 1_000_000

var ErrInvalidFee = errors.New("fee must be below 100%")

var feeDenominator = uint256.NewInt(FeeDenominator)

// Step is the outcome of a single constant-liquidity swap step.
type Step struct {
	SqrtPriceNext *uint256.Int
	AmountIn      *uint256.Int
	AmountOut     *uint256.Int
	FeeAmount     *uint256.Int
}

// ComputeSwapStep simulates swapping within one tick range without mutating any state.
// A non-negative amountRemaining is an exact input still to spend, a negative one is
// an exact output still wanted. The step never moves past sqrtPriceTarget. Input amounts
// round up and output amounts round down.
func ComputeSwapStep(sqrtPriceCurrent, sqrtPriceTarget, liquidity *uint256.Int, amountRemaining *big.Int, feePips uint32) (Step, error) {
	if feePips >= FeeDenominator {
		return Step{}, ErrInvalidFee
	}
	zeroForOne := !sqrtPriceCurrent.Lt(sqrtPriceTarget)
	exactIn := amountRemaining.Sign() >= 0

	remaining, err := fixedpoint.FromBig(new(big.Int).Abs(amountRemaining))
	if err != nil {
		return Step{}, fmt.Errorf("amount remaining: %w", err)
	}
	fee := uint256.NewInt(uint64(feePips))
	feeComplement := new(uint256.Int).Sub(feeDenominator, fee)

	var (
		next      *uint256.Int
		amountIn  *uint256.Int
		amountOut *uint256.Int
	)

	if exactIn {
		remainingLessFee, err := fixedpoint.MulDiv(remaining, feeComplement, feeDenominator, fixedpoint.Down)
		if err != nil {
			return Step{}, err
		}
		if zeroForOne {
			amountIn, err = sqrtpricemath.GetAmount0Delta(sqrtPriceTarget, sqrtPriceCurrent, liquidity, fixedpoint.Up)
		} else {
			amountIn, err = sqrtpricemath.GetAmount1Delta(sqrtPriceCurrent, sqrtPriceTarget, liquidity, fixedpoint.Up)
		}
		if err != nil {
			return Step{}, err
		}
		if !remainingLessFee.Lt(amountIn) {
			next = new(uint256.Int).Set(sqrtPriceTarget)
		} else {
			next, err = sqrtpricemath.GetNextSqrtPriceFromInput(sqrtPriceCurrent, liquidity, remainingLessFee, zeroForOne)
			if err != nil {
				return Step{}, err
			}
		}
	} else {
		var err error
		if zeroForOne {
			amountOut, err = sqrtpricemath.GetAmount1Delta(sqrtPriceTarget, sqrtPriceCurrent, liquidity, fixedpoint.Down)
		} else {
			amountOut, err = sqrtpricemath.GetAmount0Delta(sqrtPriceCurrent, sqrtPriceTarget, liquidity, fixedpoint.Down)
		}
		if err != nil {
			return Step{}, err
		}
		if !remaining.Lt(amountOut) {
			next = new(uint256.Int).Set(sqrtPriceTarget)
		} else {
			next, err = sqrtpricemath.GetNextSqrtPriceFromOutput(sqrtPriceCurrent, liquidity, remaining, zeroForOne)
			if err != nil {
				return Step{}, err
			}
		}
	}

	reachedTarget := next.Eq(sqrtPriceTarget)

	if zeroForOne {
		if !(reachedTarget && exactIn) {
			if amountIn, err = sqrtpricemath.GetAmount0Delta(next, sqrtPriceCurrent, liquidity, fixedpoint.Up); err != nil {
				return Step{}, err
			}
		}
		if !(reachedTarget && !exactIn) {
			if amountOut, err = sqrtpricemath.GetAmount1Delta(next, sqrtPriceCurrent, liquidity, fixedpoint.Down); err != nil {
				return Step{}, err
			}
		}
	} else {
		if !(reachedTarget && exactIn) {
			if amountIn, err = sqrtpricemath.GetAmount1Delta(sqrtPriceCurrent, next, liquidity, fixedpoint.Up); err != nil {
				return Step{}, err
			}
		}
		if !(reachedTarget && !exactIn) {
			if amountOut, err = sqrtpricemath.GetAmount0Delta(sqrtPriceCurrent, next, liquidity, fixedpoint.Down); err != nil {
				return Step{}, err
			}
		}
	}

	if !exactIn && amountOut.Gt(remaining) {
		amountOut = new(uint256.Int).Set(remaining)
	}

	var feeAmount *uint256.Int
	if exactIn && !reachedTarget {
		// whatever input was not swapped is kept as fee
		feeAmount = new(uint256.Int).Sub(remaining, amountIn)
	} else {
		feeAmount, err = fixedpoint.MulDiv(amountIn, fee, feeComplement, fixedpoint.Up)
		if err != nil {
			return Step{}, err
		}
	}

	return Step{
		SqrtPriceNext: next,
		AmountIn:      amountIn,
		AmountOut:     amountOut,
		FeeAmount:     feeAmount,
	}, nil
}

// AmountOutZeroForOne returns the token1 received for amountIn of token0 under
// constant liquidity, including price impact and the pool fee. Rounds down.
func AmountOutZeroForOne(sqrtPriceX96, liquidity, amountIn *uint256.Int, feePips uint32) (*uint256.Int, error) {
	lessFee, err := amountLessFee(amountIn, feePips)
	if err != nil {
		return nil, err
	}
	next, err := sqrtpricemath.GetNextSqrtPriceFromInput(sqrtPriceX96, liquidity, lessFee, true)
	if err != nil {
		return nil, err
	}
	return sqrtpricemath.GetAmount1Delta(next, sqrtPriceX96, liquidity, fixedpoint.Down)
}

// AmountOutOneForZero returns the token0 received for amountIn of token1 under
// constant liquidity, including price impact and the pool fee. Rounds down.
func AmountOutOneForZero(sqrtPriceX96, liquidity, amountIn *uint256.Int, feePips uint32) (*uint256.Int, error) {
	lessFee, err := amountLessFee(amountIn, feePips)
	if err != nil {
		return nil, err
	}
	next, err := sqrtpricemath.GetNextSqrtPriceFromInput(sqrtPriceX96, liquidity, lessFee, false)
	if err != nil {
		return nil, err
	}
	return sqrtpricemath.GetAmount0Delta(sqrtPriceX96, next, liquidity, fixedpoint.Down)
}

// AmountOutZeroForOneWithoutSlippage values amountIn of token0 at the spot price,
// after the pool fee. It is an upper bound for AmountOutZeroForOne.
func AmountOutZeroForOneWithoutSlippage(sqrtPriceX96, amountIn *uint256.Int, feePips uint32) (*uint256.Int, error) {
	lessFee, err := amountLessFee(amountIn, feePips)
	if err != nil {
		return nil, err
	}
	// x * sqrtP^2 / 2^192, exact floor; the product needs more than 256 bits.
	sqrtP := sqrtPriceX96.ToBig()
	out := new(big.Int).Mul(lessFee.ToBig(), sqrtP)
	out.Mul(out, sqrtP)
	out.Rsh(out, 2*fixedpoint.Resolution)
	return fixedpoint.FromBig(out)
}

// AmountOutOneForZeroWithoutSlippage values amountIn of token1 at the spot price,
// after the pool fee. It is an upper bound for AmountOutOneForZero.
func AmountOutOneForZeroWithoutSlippage(sqrtPriceX96, amountIn *uint256.Int, feePips uint32) (*uint256.Int, error) {
	if sqrtPriceX96.IsZero() {
		return nil, sqrtpricemath.ErrSqrtPriceZero
	}
	lessFee, err := amountLessFee(amountIn, feePips)
	if err != nil {
		return nil, err
	}
	sqrtP := sqrtPriceX96.ToBig()
	out := new(big.Int).Lsh(lessFee.ToBig(), 2*fixedpoint.Resolution)
	out.Quo(out, new(big.Int).Mul(sqrtP, sqrtP))
	return fixedpoint.FromBig(out)
}

func amountLessFee(amountIn *uint256.Int, feePips uint32) (*uint256.Int, error) {
	if feePips >= FeeDenominator {
		return nil, ErrInvalidFee
	}
	complement := uint256.NewInt(uint64(FeeDenominator - feePips))
	return fixedpoint.MulDiv(amountIn, complement, feeDenominator, fixedpoint.Down)
}
