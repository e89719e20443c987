// Package pricing converts trusted USD prices into pool prices and derives the
// token composition a concentrated-liquidity range wants at a given price.
package pricing

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"liquidityRebalancer/internal/fixedpoint"
	"liquidityRebalancer/internal/sqrtpricemath"
	"liquidityRebalancer/internal/tickmath"
)

var ErrInvalidRange = errors.New("sqrt ratio lower must be below sqrt ratio upper")

// SqrtPriceFromUSD returns sqrt(price0/price1) as a Q64.96 number, where both
// prices are USD values of one unit with 18 decimals. A zero price1 maps to
// tickmath.MaxSqrtRatio.
//
// The ratio is taken with 28 decimals, its integer square root has 14 decimals
// and is then rescaled to 96 binary digits. Keep this order: every step
// truncates and the result must match on-chain values bit for bit.
func SqrtPriceFromUSD(price0, price1 *uint256.Int) (*uint256.Int, error) {
	if price1.IsZero() {
		return new(uint256.Int).Set(tickmath.MaxSqrtRatio), nil
	}
	priceXd28, err := fixedpoint.MulDiv(price0, fixedpoint.E28, price1, fixedpoint.Down)
	if err != nil {
		return nil, fmt.Errorf("price ratio: %w", err)
	}
	sqrtPriceXd14 := fixedpoint.Sqrt(priceXd28)

	// sqrtPriceXd14 < 2^128, the shift cannot overflow.
	shifted := new(uint256.Int).Lsh(sqrtPriceXd14, fixedpoint.Resolution)
	sqrtPriceX96, err := fixedpoint.Div(shifted, fixedpoint.E14, fixedpoint.Down)
	if err != nil {
		return nil, err
	}
	if sqrtPriceX96.Gt(fixedpoint.MaxUint160) {
		return nil, fmt.Errorf("sqrt price %s: %w", fixedpoint.String(sqrtPriceX96), sqrtpricemath.ErrPriceOverflow)
	}
	return sqrtPriceX96, nil
}

// TargetRatio returns the share of position value, in token1 terms and scaled
// by 1e18, that a range [sqrtRatioLower, sqrtRatioUpper] holds in token1 at sqrtPrice:
//
//	(sqrtP - sqrtA) / (2*sqrtP - sqrtA - sqrtP^2/sqrtB)
func TargetRatio(sqrtPrice, sqrtRatioLower, sqrtRatioUpper *uint256.Int) (*uint256.Int, error) {
	if !sqrtRatioLower.Lt(sqrtRatioUpper) {
		return nil, ErrInvalidRange
	}
	if !sqrtPrice.Gt(sqrtRatioLower) {
		return new(uint256.Int), nil
	}
	if !sqrtPrice.Lt(sqrtRatioUpper) {
		return new(uint256.Int).Set(fixedpoint.WAD), nil
	}

	numerator := new(uint256.Int).Sub(sqrtPrice, sqrtRatioLower)
	squaredOverUpper, err := fixedpoint.MulDiv(sqrtPrice, sqrtPrice, sqrtRatioUpper, fixedpoint.Down)
	if err != nil {
		return nil, fmt.Errorf("target ratio: %w", err)
	}
	denominator := new(uint256.Int).Lsh(sqrtPrice, 1)
	denominator.Sub(denominator, sqrtRatioLower)
	if denominator.Lt(squaredOverUpper) {
		return nil, fmt.Errorf("target ratio: %w", fixedpoint.ErrUnderflow)
	}
	denominator.Sub(denominator, squaredOverUpper)

	ratio, err := fixedpoint.MulDiv(numerator, fixedpoint.WAD, denominator, fixedpoint.Down)
	if err != nil {
		return nil, fmt.Errorf("target ratio: %w", err)
	}
	return fixedpoint.Min(ratio, fixedpoint.WAD), nil
}

// PriceX96 returns sqrtPriceX96^2 / 2^96, the token1 per token0 price in Q96.
func PriceX96(sqrtPriceX96 *uint256.Int) (*uint256.Int, error) {
	return fixedpoint.MulDiv(sqrtPriceX96, sqrtPriceX96, fixedpoint.Q96, fixedpoint.Down)
}

// CurrentRatio returns the share of total value held in token1, scaled by 1e18,
// together with the total value expressed in token1.
func CurrentRatio(sqrtPriceX96, balance0, balance1 *uint256.Int) (ratio, totalValue1 *uint256.Int, err error) {
	priceX96, err := PriceX96(sqrtPriceX96)
	if err != nil {
		return nil, nil, err
	}
	value0, err := fixedpoint.MulDiv(balance0, priceX96, fixedpoint.Q96, fixedpoint.Down)
	if err != nil {
		return nil, nil, err
	}
	totalValue1, err = fixedpoint.Add(balance1, value0)
	if err != nil {
		return nil, nil, err
	}
	if totalValue1.IsZero() {
		return new(uint256.Int), totalValue1, nil
	}
	ratio, err = fixedpoint.MulDiv(balance1, fixedpoint.WAD, totalValue1, fixedpoint.Down)
	if err != nil {
		return nil, nil, err
	}
	return ratio, totalValue1, nil
}
