// Package position assembles the per-call snapshot a rebalance works from and
// checks it against the trusted tolerance band.
package position

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"liquidityRebalancer/internal/fixedpoint"
	"liquidityRebalancer/internal/initiator"
	"liquidityRebalancer/internal/pricing"
	"liquidityRebalancer/internal/solver"
	"liquidityRebalancer/internal/tickmath"
)

var (
	ErrUnbalancedPool  = errors.New("pool price outside tolerance band")
	ErrInvalidRange    = errors.New("invalid tick range")
	ErrInvalidBand     = errors.New("invalid tolerance band")
	ErrIdenticalTokens = errors.New("identical pool tokens")
)

// Info is what the position registry reports for a position.
type Info struct {
	Token0    common.Address
	Token1    common.Address
	Fee       uint32
	TickLower int32
	TickUpper int32
	Liquidity *uint256.Int
}

// Slot0 is the current pool price.
type Slot0 struct {
	SqrtPriceX96 *uint256.Int
	Tick         int32
}

// Range is a tick range. The zero value means "keep the current width".
type Range struct {
	TickLower int32
	TickUpper int32
}

// IsZero reports whether no explicit range was requested.
func (r Range) IsZero() bool {
	return r.TickLower == 0 && r.TickUpper == 0
}

// PositionReader reads positions from the position registry.
type PositionReader interface {
	Position(ctx context.Context, id *big.Int) (Info, error)
}

// PoolReader reads live pool state.
type PoolReader interface {
	Slot0(ctx context.Context, pool common.Address) (Slot0, error)
	TickSpacing(ctx context.Context, pool common.Address) (int32, error)
	Liquidity(ctx context.Context, pool common.Address) (*uint256.Int, error)
}

// PriceOracle returns trusted USD unit prices with 18 decimals.
type PriceOracle interface {
	UnitPricesUSD(ctx context.Context, token0, token1 common.Address) (price0, price1 *uint256.Int, err error)
}

// State is the snapshot of a position and its pool for one rebalance.
type State struct {
	ID     *big.Int
	Pool   common.Address
	Token0 common.Address
	Token1 common.Address
	Fee    uint32

	TickLower    int32
	TickUpper    int32
	NewTickLower int32
	NewTickUpper int32
	TickSpacing  int32

	Liquidity     *uint256.Int
	PoolLiquidity *uint256.Int
	SqrtPriceX96  *uint256.Int
	Tick          int32

	SqrtRatioLower *uint256.Int
	SqrtRatioUpper *uint256.Int

	TrustedSqrtPriceX96    *uint256.Int
	LowerBoundSqrtPriceX96 *uint256.Int
	UpperBoundSqrtPriceX96 *uint256.Int
}

// IsPoolUnbalanced reports whether the pool price left the tolerance band.
func (s State) IsPoolUnbalanced() bool {
	return IsPoolUnbalanced(s.SqrtPriceX96, s.LowerBoundSqrtPriceX96, s.UpperBoundSqrtPriceX96)
}

// CheckBalanced returns ErrUnbalancedPool when the price left the band.
func (s State) CheckBalanced() error {
	if s.IsPoolUnbalanced() {
		return fmt.Errorf("sqrt price %s not in (%s, %s): %w",
			fixedpoint.String(s.SqrtPriceX96),
			fixedpoint.String(s.LowerBoundSqrtPriceX96),
			fixedpoint.String(s.UpperBoundSqrtPriceX96),
			ErrUnbalancedPool)
	}
	return nil
}

// Problem describes the swap sizing problem for the given balances.
func (s State) Problem(balance0, balance1, initiatorFee *uint256.Int) solver.Problem {
	return solver.Problem{
		SqrtPriceX96:   s.SqrtPriceX96,
		SqrtRatioLower: s.SqrtRatioLower,
		SqrtRatioUpper: s.SqrtRatioUpper,
		Balance0:       balance0,
		Balance1:       balance1,
		PoolFee:        s.Fee,
		InitiatorFee:   initiatorFee,
		PoolLiquidity:  s.PoolLiquidity,
		LowerBound:     s.LowerBoundSqrtPriceX96,
		UpperBound:     s.UpperBoundSqrtPriceX96,
	}
}

// IsPoolUnbalanced is true at or below lower and at or above upper.
func IsPoolUnbalanced(sqrtPriceX96, lowerBound, upperBound *uint256.Int) bool {
	return !sqrtPriceX96.Gt(lowerBound) || !sqrtPriceX96.Lt(upperBound)
}

// Builder reads collaborators and produces States.
type Builder struct {
	factory   common.Address
	positions PositionReader
	pools     PoolReader
	oracle    PriceOracle
	logger    *zap.Logger
}

// NewBuilder creates a Builder for pools deployed by factory.
func NewBuilder(factory common.Address, positions PositionReader, pools PoolReader, oracle PriceOracle, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{
		factory:   factory,
		positions: positions,
		pools:     pools,
		oracle:    oracle,
		logger:    logger,
	}
}

// Build snapshots position id. A zero newRange re-centres the current width on
// the current tick.
func (b *Builder) Build(ctx context.Context, id *big.Int, newRange Range, cfg initiator.Config) (State, error) {
	info, err := b.positions.Position(ctx, id)
	if err != nil {
		return State{}, fmt.Errorf("read position %s: %w", id, err)
	}
	pool, err := PoolAddress(b.factory, info.Token0, info.Token1, info.Fee)
	if err != nil {
		return State{}, err
	}

	state := State{
		ID:        new(big.Int).Set(id),
		Pool:      pool,
		Token0:    info.Token0,
		Token1:    info.Token1,
		Fee:       info.Fee,
		TickLower: info.TickLower,
		TickUpper: info.TickUpper,
		Liquidity: info.Liquidity,
	}

	if err := b.Refresh(ctx, &state); err != nil {
		return State{}, err
	}
	spacing, err := b.pools.TickSpacing(ctx, pool)
	if err != nil {
		return State{}, fmt.Errorf("read tick spacing %s: %w", pool.Hex(), err)
	}
	state.TickSpacing = spacing

	if newRange.IsZero() {
		newRange, err = SymmetricRange(state.Tick, info.TickLower, info.TickUpper, spacing)
	} else {
		err = ValidateRange(newRange, spacing)
	}
	if err != nil {
		return State{}, err
	}
	state.NewTickLower = newRange.TickLower
	state.NewTickUpper = newRange.TickUpper

	if state.SqrtRatioLower, err = tickmath.GetSqrtRatioAtTick(newRange.TickLower); err != nil {
		return State{}, err
	}
	if state.SqrtRatioUpper, err = tickmath.GetSqrtRatioAtTick(newRange.TickUpper); err != nil {
		return State{}, err
	}

	price0, price1, err := b.oracle.UnitPricesUSD(ctx, info.Token0, info.Token1)
	if err != nil {
		return State{}, fmt.Errorf("read trusted prices: %w", err)
	}
	if state.TrustedSqrtPriceX96, err = pricing.SqrtPriceFromUSD(price0, price1); err != nil {
		return State{}, err
	}
	state.LowerBoundSqrtPriceX96, state.UpperBoundSqrtPriceX96, err = ToleranceBand(state.TrustedSqrtPriceX96, cfg)
	if err != nil {
		return State{}, err
	}

	b.logger.Debug("position state built",
		zap.String("position", id.String()),
		zap.String("pool", pool.Hex()),
		zap.Int32("tick", state.Tick),
		zap.Int32("new_tick_lower", state.NewTickLower),
		zap.Int32("new_tick_upper", state.NewTickUpper),
		zap.String("sqrt_price", fixedpoint.String(state.SqrtPriceX96)),
		zap.String("trusted_sqrt_price", fixedpoint.String(state.TrustedSqrtPriceX96)),
	)
	return state, nil
}

// Refresh re-reads the pool price and active liquidity into state.
func (b *Builder) Refresh(ctx context.Context, state *State) error {
	slot0, err := b.pools.Slot0(ctx, state.Pool)
	if err != nil {
		return fmt.Errorf("read slot0 %s: %w", state.Pool.Hex(), err)
	}
	liquidity, err := b.pools.Liquidity(ctx, state.Pool)
	if err != nil {
		return fmt.Errorf("read liquidity %s: %w", state.Pool.Hex(), err)
	}
	state.SqrtPriceX96 = slot0.SqrtPriceX96
	state.Tick = slot0.Tick
	state.PoolLiquidity = liquidity
	return nil
}

// SymmetricRange keeps the half-width of [tickLower, tickUpper], rounded to
// spacing and at least one spacing, around tick floored to spacing.
func SymmetricRange(tick, tickLower, tickUpper, spacing int32) (Range, error) {
	if spacing <= 0 {
		return Range{}, tickmath.ErrInvalidTickSpacing
	}
	if tickLower >= tickUpper {
		return Range{}, fmt.Errorf("current range [%d, %d]: %w", tickLower, tickUpper, ErrInvalidRange)
	}
	half := (tickUpper - tickLower) / spacing / 2 * spacing
	if half < spacing {
		half = spacing
	}
	centre := tickmath.FloorToSpacing(tick, spacing)

	out := Range{TickLower: centre - half, TickUpper: centre + half}
	if minTick := tickmath.MinUsableTick(spacing); out.TickLower < minTick {
		out.TickLower = minTick
	}
	if maxTick := tickmath.MaxUsableTick(spacing); out.TickUpper > maxTick {
		out.TickUpper = maxTick
	}
	return out, nil
}

// ValidateRange checks that r is ordered, aligned to spacing and usable.
func ValidateRange(r Range, spacing int32) error {
	if spacing <= 0 {
		return tickmath.ErrInvalidTickSpacing
	}
	switch {
	case r.TickLower >= r.TickUpper:
		return fmt.Errorf("lower %d not below upper %d: %w", r.TickLower, r.TickUpper, ErrInvalidRange)
	case r.TickLower%spacing != 0 || r.TickUpper%spacing != 0:
		return fmt.Errorf("[%d, %d] not aligned to spacing %d: %w", r.TickLower, r.TickUpper, spacing, ErrInvalidRange)
	case r.TickLower < tickmath.MinUsableTick(spacing) || r.TickUpper > tickmath.MaxUsableTick(spacing):
		return fmt.Errorf("[%d, %d]: %w", r.TickLower, r.TickUpper, tickmath.ErrTickOutOfBounds)
	}
	return nil
}

// ToleranceBand scales the trusted sqrt price by the initiator's deviations and
// keeps both bounds strictly inside (MinSqrtRatio, MaxSqrtRatio).
func ToleranceBand(trustedSqrtPriceX96 *uint256.Int, cfg initiator.Config) (lower, upper *uint256.Int, err error) {
	if cfg.LowerSqrtPriceDeviation == nil || cfg.UpperSqrtPriceDeviation == nil {
		return nil, nil, fmt.Errorf("deviations missing: %w", ErrInvalidBand)
	}
	lower, err = fixedpoint.MulDiv(trustedSqrtPriceX96, cfg.LowerSqrtPriceDeviation, fixedpoint.WAD, fixedpoint.Down)
	if err != nil {
		return nil, nil, fmt.Errorf("lower bound: %w", err)
	}
	upper, err = fixedpoint.MulDiv(trustedSqrtPriceX96, cfg.UpperSqrtPriceDeviation, fixedpoint.WAD, fixedpoint.Down)
	if err != nil {
		return nil, nil, fmt.Errorf("upper bound: %w", err)
	}

	if !lower.Gt(tickmath.MinSqrtRatio) {
		lower = new(uint256.Int).AddUint64(tickmath.MinSqrtRatio, 1)
	}
	if !upper.Lt(tickmath.MaxSqrtRatio) {
		upper = new(uint256.Int).SubUint64(tickmath.MaxSqrtRatio, 1)
	}
	if !lower.Lt(upper) {
		return nil, nil, fmt.Errorf("lower %s not below upper %s: %w", fixedpoint.String(lower), fixedpoint.String(upper), ErrInvalidBand)
	}
	return lower, upper, nil
}
