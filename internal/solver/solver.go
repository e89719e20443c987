// Package solver sizes the internal swap that brings a pair of balances to the
// token ratio a liquidity range requires.
package solver

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"liquidityRebalancer/internal/fixedpoint"
	"liquidityRebalancer/internal/pricing"
)

var (
	ErrNonConvergence = errors.New("swap size did not converge")
	ErrInvalidFee     = errors.New("fee must be below 1e18")
	ErrInvalidProblem = errors.New("invalid swap problem")
)

// pipsToWAD scales a fee in pips (1e6) to 18 decimals.
var pipsToWAD = uint256.NewInt(1_000_000_000_000)

// Problem holds everything needed to size a rebalance swap.
type Problem struct {
	SqrtPriceX96   *uint256.Int
	SqrtRatioLower *uint256.Int
	SqrtRatioUpper *uint256.Int
	Balance0       *uint256.Int
	Balance1       *uint256.Int
	// PoolFee is the pool fee tier in pips.
	PoolFee uint32
	// InitiatorFee is the initiator's cut of the swap input, 18 decimals.
	InitiatorFee *uint256.Int
	// PoolLiquidity is the active liquidity the swap trades against.
	PoolLiquidity *uint256.Int
	// LowerBound and UpperBound are the exclusive price limits of the swap.
	LowerBound *uint256.Int
	UpperBound *uint256.Int
}

func (p Problem) validate() error {
	for name, value := range map[string]*uint256.Int{
		"sqrt price":       p.SqrtPriceX96,
		"sqrt ratio lower": p.SqrtRatioLower,
		"sqrt ratio upper": p.SqrtRatioUpper,
		"balance0":         p.Balance0,
		"balance1":         p.Balance1,
	} {
		if value == nil {
			return fmt.Errorf("%s missing: %w", name, ErrInvalidProblem)
		}
	}
	if !p.SqrtRatioLower.Lt(p.SqrtRatioUpper) {
		return fmt.Errorf("range: %w", pricing.ErrInvalidRange)
	}
	return nil
}

// SwapParams describes a swap of AmountIn of one token for AmountOut of the other.
type SwapParams struct {
	ZeroToOne bool
	AmountIn  *uint256.Int
	AmountOut *uint256.Int
}

// IsZero reports whether no swap is needed.
func (s SwapParams) IsZero() bool {
	return s.AmountIn == nil || s.AmountIn.IsZero()
}

// Estimate is the first-order, fixed-price answer.
type Estimate struct {
	SwapParams
	TargetRatio  *uint256.Int
	CurrentRatio *uint256.Int
	// Liquidity is what the post-swap balances mint at the unchanged price.
	Liquidity *uint256.Int
}

// Strategy produces the first-order swap estimate for a problem. Only the
// two-sided strategy exists; single-asset deposits plug in here.
type Strategy interface {
	Estimate(p Problem) (Estimate, error)
}

// TwoSided balances both tokens toward the target ratio of the range.
type TwoSided struct{}

// Estimate implements Strategy.
func (TwoSided) Estimate(p Problem) (Estimate, error) {
	if err := p.validate(); err != nil {
		return Estimate{}, err
	}
	target, err := pricing.TargetRatio(p.SqrtPriceX96, p.SqrtRatioLower, p.SqrtRatioUpper)
	if err != nil {
		return Estimate{}, err
	}
	fee, err := TotalFee(p.PoolFee, p.InitiatorFee)
	if err != nil {
		return Estimate{}, err
	}
	current, _, err := pricing.CurrentRatio(p.SqrtPriceX96, p.Balance0, p.Balance1)
	if err != nil {
		return Estimate{}, err
	}
	params, err := NoSlippage(p.SqrtPriceX96, p.Balance0, p.Balance1, target, fee)
	if err != nil {
		return Estimate{}, err
	}

	available := p.Balance1
	if params.ZeroToOne {
		available = p.Balance0
	}
	if params.AmountIn.Gt(available) {
		// rounding up can ask for a few wei more than the whole balance
		params.AmountIn = new(uint256.Int).Set(available)
	}

	balance0, balance1, err := applySwap(p.Balance0, p.Balance1, params)
	if err != nil {
		return Estimate{}, err
	}
	liquidity, err := pricing.LiquidityForAmounts(p.SqrtPriceX96, p.SqrtRatioLower, p.SqrtRatioUpper, balance0, balance1)
	if err != nil {
		return Estimate{}, fmt.Errorf("estimate liquidity: %w", err)
	}

	return Estimate{
		SwapParams:   params,
		TargetRatio:  target,
		CurrentRatio: current,
		Liquidity:    liquidity,
	}, nil
}

// TotalFee combines a pool fee in pips with an 18-decimal initiator fee.
func TotalFee(poolFeePips uint32, initiatorFee *uint256.Int) (*uint256.Int, error) {
	fee := new(uint256.Int).Mul(uint256.NewInt(uint64(poolFeePips)), pipsToWAD)
	if initiatorFee != nil {
		fee.Add(fee, initiatorFee)
	}
	if !fee.Lt(fixedpoint.WAD) {
		return nil, ErrInvalidFee
	}
	return fee, nil
}

// NoSlippage treats the pool as a fixed-price exchange at sqrtPriceX96 and
// returns the swap that moves the token1 share of value from its current level
// to targetRatio, net of fee (18 decimals).
func NoSlippage(sqrtPriceX96, balance0, balance1, targetRatio, fee *uint256.Int) (SwapParams, error) {
	if !fee.Lt(fixedpoint.WAD) {
		return SwapParams{}, ErrInvalidFee
	}
	priceX96, err := pricing.PriceX96(sqrtPriceX96)
	if err != nil {
		return SwapParams{}, err
	}
	currentRatio, totalValue1, err := pricing.CurrentRatio(sqrtPriceX96, balance0, balance1)
	if err != nil {
		return SwapParams{}, err
	}
	if totalValue1.IsZero() {
		return SwapParams{AmountIn: new(uint256.Int), AmountOut: new(uint256.Int)}, nil
	}

	targetFee, err := fixedpoint.MulDiv(targetRatio, fee, fixedpoint.WAD, fixedpoint.Down)
	if err != nil {
		return SwapParams{}, err
	}

	if currentRatio.Lt(targetRatio) {
		// too much token0: sell the token1-valued deficit worth of token0
		denominator := new(uint256.Int).Add(fixedpoint.WAD, targetFee)
		deficit := new(uint256.Int).Sub(targetRatio, currentRatio)
		amountOut, err := fixedpoint.MulDiv(deficit, totalValue1, denominator, fixedpoint.Down)
		if err != nil {
			return SwapParams{}, err
		}
		amountIn, err := AmountInNoSlippage(priceX96, true, amountOut, fee)
		if err != nil {
			return SwapParams{}, err
		}
		return SwapParams{ZeroToOne: true, AmountIn: amountIn, AmountOut: amountOut}, nil
	}

	denominator := new(uint256.Int).Sub(fixedpoint.WAD, targetFee)
	surplus := new(uint256.Int).Sub(currentRatio, targetRatio)
	amountIn, err := fixedpoint.MulDiv(surplus, totalValue1, denominator, fixedpoint.Down)
	if err != nil {
		return SwapParams{}, err
	}
	amountOut, err := AmountOutNoSlippage(priceX96, false, amountIn, fee)
	if err != nil {
		return SwapParams{}, err
	}
	return SwapParams{ZeroToOne: false, AmountIn: amountIn, AmountOut: amountOut}, nil
}

// AmountOutNoSlippage converts amountIn at priceX96 after deducting fee. Rounds down.
func AmountOutNoSlippage(priceX96 *uint256.Int, zeroToOne bool, amountIn, fee *uint256.Int) (*uint256.Int, error) {
	if fee.Gt(fixedpoint.WAD) {
		return nil, ErrInvalidFee
	}
	complement := new(uint256.Int).Sub(fixedpoint.WAD, fee)
	withoutFee, err := fixedpoint.MulDiv(complement, amountIn, fixedpoint.WAD, fixedpoint.Down)
	if err != nil {
		return nil, err
	}
	if zeroToOne {
		return fixedpoint.MulDiv(withoutFee, priceX96, fixedpoint.Q96, fixedpoint.Down)
	}
	return fixedpoint.MulDiv(withoutFee, fixedpoint.Q96, priceX96, fixedpoint.Down)
}

// AmountInNoSlippage returns the input, fee included, that buys amountOut at
// priceX96. Rounds up.
func AmountInNoSlippage(priceX96 *uint256.Int, zeroToOne bool, amountOut, fee *uint256.Int) (*uint256.Int, error) {
	if !fee.Lt(fixedpoint.WAD) {
		return nil, ErrInvalidFee
	}
	var (
		withoutFee *uint256.Int
		err        error
	)
	if zeroToOne {
		withoutFee, err = fixedpoint.MulDiv(amountOut, fixedpoint.Q96, priceX96, fixedpoint.Up)
	} else {
		withoutFee, err = fixedpoint.MulDiv(amountOut, priceX96, fixedpoint.Q96, fixedpoint.Up)
	}
	if err != nil {
		return nil, err
	}
	complement := new(uint256.Int).Sub(fixedpoint.WAD, fee)
	return fixedpoint.MulDiv(withoutFee, fixedpoint.WAD, complement, fixedpoint.Up)
}

// MinLiquidity scales an estimated liquidity by maxSlippageRatio (18 decimals).
func MinLiquidity(liquidity, maxSlippageRatio *uint256.Int) (*uint256.Int, error) {
	if maxSlippageRatio.Gt(fixedpoint.WAD) {
		return nil, fmt.Errorf("max slippage ratio above 1e18: %w", ErrInvalidProblem)
	}
	return fixedpoint.MulDiv(liquidity, maxSlippageRatio, fixedpoint.WAD, fixedpoint.Down)
}

func applySwap(balance0, balance1 *uint256.Int, params SwapParams) (*uint256.Int, *uint256.Int, error) {
	if params.IsZero() {
		return balance0, balance1, nil
	}
	if params.ZeroToOne {
		out0, err := fixedpoint.Sub(balance0, params.AmountIn)
		if err != nil {
			return nil, nil, fmt.Errorf("token0 balance below swap input: %w", err)
		}
		out1, err := fixedpoint.Add(balance1, params.AmountOut)
		if err != nil {
			return nil, nil, err
		}
		return out0, out1, nil
	}
	out1, err := fixedpoint.Sub(balance1, params.AmountIn)
	if err != nil {
		return nil, nil, fmt.Errorf("token1 balance below swap input: %w", err)
	}
	out0, err := fixedpoint.Add(balance0, params.AmountOut)
	if err != nil {
		return nil, nil, err
	}
	return out0, out1, nil
}
