package rebalance

import (
	"context"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"liquidityRebalancer/internal/fixedpoint"
	"liquidityRebalancer/internal/initiator"
	"liquidityRebalancer/internal/position"
	"liquidityRebalancer/internal/pricing"
	"liquidityRebalancer/internal/solver"
	"liquidityRebalancer/internal/tickmath"
)

// Preview is the swap a rebalance would make against the current state.
// Balances are the withdrawn principal; uncollected fees are not read.
type Preview struct {
	State        position.State
	Balance0     *uint256.Int
	Balance1     *uint256.Int
	Estimate     solver.Estimate
	Refinement   solver.Refinement
	MinLiquidity *uint256.Int
}

// PreviewRebalance sizes the rebalance of position id without changing
// anything. It fails the same way Rebalance would before its swap.
func PreviewRebalance(ctx context.Context, builder *position.Builder, id *big.Int, newRange position.Range, cfg initiator.Config, opts Options) (Preview, error) {
	opts = opts.withDefaults()
	state, err := builder.Build(ctx, id, newRange, cfg)
	if err != nil {
		return Preview{}, err
	}
	if err := state.CheckBalanced(); err != nil {
		return Preview{}, err
	}

	sqrtA, err := tickmath.GetSqrtRatioAtTick(state.TickLower)
	if err != nil {
		return Preview{}, err
	}
	sqrtB, err := tickmath.GetSqrtRatioAtTick(state.TickUpper)
	if err != nil {
		return Preview{}, err
	}
	balance0, balance1, err := pricing.AmountsForLiquidity(state.SqrtPriceX96, sqrtA, sqrtB, state.Liquidity, fixedpoint.Down)
	if err != nil {
		return Preview{}, fmt.Errorf("withdrawn amounts: %w", err)
	}
	// the swap meets the pool without this position's liquidity
	if state.Tick >= state.TickLower && state.Tick < state.TickUpper {
		if state.PoolLiquidity, err = fixedpoint.Sub(state.PoolLiquidity, state.Liquidity); err != nil {
			return Preview{}, fmt.Errorf("pool liquidity after withdraw: %w", err)
		}
	}

	problem := state.Problem(balance0, balance1, cfg.Fee)
	estimate, err := opts.Strategy.Estimate(problem)
	if err != nil {
		return Preview{}, fmt.Errorf("estimate swap: %w", err)
	}
	minLiquidity, err := solver.MinLiquidity(estimate.Liquidity, opts.MaxSlippageRatio)
	if err != nil {
		return Preview{}, err
	}
	refined, err := solver.Refine(problem, estimate, opts.Solver)
	if err != nil {
		return Preview{}, fmt.Errorf("refine swap: %w", err)
	}

	return Preview{
		State:        state,
		Balance0:     balance0,
		Balance1:     balance1,
		Estimate:     estimate,
		Refinement:   refined,
		MinLiquidity: minLiquidity,
	}, nil
}
