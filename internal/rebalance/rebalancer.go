// Package rebalance re-centres a liquidity position: it withdraws, swaps the
// balances toward the new range's ratio, and mints again, all as one unit
// bracketed by the tolerance band.
package rebalance

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"liquidityRebalancer/internal/fixedpoint"
	"liquidityRebalancer/internal/initiator"
	"liquidityRebalancer/internal/position"
	"liquidityRebalancer/internal/solver"
)

// DefaultMaxSlippageRatio accepts up to 1% less liquidity than the
// fixed-price estimate.
var DefaultMaxSlippageRatio = uint256.NewInt(990_000_000_000_000_000)

// Request asks for one rebalance. A zero Range keeps the current width.
type Request struct {
	PositionID   *big.Int
	Range        position.Range
	ExternalSwap *ExternalSwap
}

// Result describes a completed rebalance.
type Result struct {
	PositionID    *big.Int
	NewPositionID *big.Int
	Owner         common.Address
	Initiator     common.Address
	Pool          common.Address
	TickLower     int32
	TickUpper     int32

	SqrtPriceBefore  *uint256.Int
	SqrtPriceAfter   *uint256.Int
	TrustedSqrtPrice *uint256.Int

	Swapped      bool
	External     bool
	ZeroToOne    bool
	AmountIn     *uint256.Int
	AmountOut    *uint256.Int
	InitiatorFee *uint256.Int
	Iterations   int

	Liquidity    *uint256.Int
	MinLiquidity *uint256.Int
	Amount0      *uint256.Int
	Amount1      *uint256.Int
	Leftover0    *uint256.Int
	Leftover1    *uint256.Int
}

// Options tunes a Rebalancer.
type Options struct {
	MaxSlippageRatio *uint256.Int
	Solver           solver.Options
	Strategy         solver.Strategy
}

// Deps are the collaborators a Rebalancer drives.
type Deps struct {
	Builder    *position.Builder
	Positions  PositionManager
	Pool       Pool
	Router     Router
	Ledger     Ledger
	Registry   *initiator.Registry
	Guard      *Guard
	Transactor Transactor
}

// Rebalancer executes rebalances.
type Rebalancer struct {
	deps   Deps
	opts   Options
	logger *zap.Logger
}

// New creates a Rebalancer. A nil Guard gets a private one.
func New(deps Deps, opts Options, logger *zap.Logger) *Rebalancer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Guard == nil {
		deps.Guard = NewGuard()
	}
	return &Rebalancer{deps: deps, opts: opts.withDefaults(), logger: logger}
}

func (o Options) withDefaults() Options {
	if o.MaxSlippageRatio == nil {
		o.MaxSlippageRatio = DefaultMaxSlippageRatio
	}
	if o.Strategy == nil {
		o.Strategy = solver.TwoSided{}
	}
	return o
}

// scope carries the in-flight state of one call.
type scope struct {
	owner     common.Address
	initiator common.Address
	cfg       initiator.Config
	state     position.State
	balance0  *uint256.Int
	balance1  *uint256.Int
	result    Result
}

// Rebalance repositions req.PositionID on behalf of caller.
func (r *Rebalancer) Rebalance(ctx context.Context, caller common.Address, req Request) (Result, error) {
	if req.PositionID == nil {
		return Result{}, ErrMissingPosition
	}
	owner, err := r.deps.Positions.OwnerOf(ctx, req.PositionID)
	if err != nil {
		return Result{}, fmt.Errorf("owner of %s: %w", req.PositionID, err)
	}
	if err := r.deps.Registry.CheckAuthorized(ctx, owner, caller); err != nil {
		return Result{}, err
	}
	cfg, err := r.deps.Registry.Config(ctx, caller)
	if err != nil {
		return Result{}, err
	}

	release, err := r.deps.Guard.Enter(owner)
	if err != nil {
		return Result{}, err
	}
	defer release()

	sc := &scope{owner: owner, initiator: caller, cfg: cfg}
	err = r.deps.Transactor.Atomic(ctx, func(ctx context.Context) error {
		return r.execute(ctx, sc, req)
	})
	if err != nil {
		r.logger.Warn("rebalance aborted",
			zap.String("position", req.PositionID.String()),
			zap.String("initiator", caller.Hex()),
			zap.Error(err),
		)
		return Result{}, fmt.Errorf("rebalance position %s: %w", req.PositionID, err)
	}

	r.logger.Info("position rebalanced",
		zap.String("position", req.PositionID.String()),
		zap.String("new_position", sc.result.NewPositionID.String()),
		zap.Int32("tick_lower", sc.result.TickLower),
		zap.Int32("tick_upper", sc.result.TickUpper),
		zap.Bool("zero_to_one", sc.result.ZeroToOne),
		zap.String("amount_in", fixedpoint.String(sc.result.AmountIn)),
		zap.String("liquidity", fixedpoint.String(sc.result.Liquidity)),
		zap.Int("iterations", sc.result.Iterations),
	)
	return sc.result, nil
}

func (r *Rebalancer) execute(ctx context.Context, sc *scope, req Request) error {
	state, err := r.deps.Builder.Build(ctx, req.PositionID, req.Range, sc.cfg)
	if err != nil {
		return err
	}
	if err := state.CheckBalanced(); err != nil {
		return fmt.Errorf("before withdraw: %w", err)
	}
	sc.state = state
	sc.result = Result{
		PositionID:       new(big.Int).Set(req.PositionID),
		Owner:            sc.owner,
		Initiator:        sc.initiator,
		Pool:             state.Pool,
		TickLower:        state.NewTickLower,
		TickUpper:        state.NewTickUpper,
		SqrtPriceBefore:  state.SqrtPriceX96,
		TrustedSqrtPrice: state.TrustedSqrtPriceX96,
		AmountIn:         new(uint256.Int),
		AmountOut:        new(uint256.Int),
		InitiatorFee:     new(uint256.Int),
	}

	if err := r.withdraw(ctx, sc); err != nil {
		return err
	}

	problem := sc.state.Problem(sc.balance0, sc.balance1, sc.cfg.Fee)
	estimate, err := r.opts.Strategy.Estimate(problem)
	if err != nil {
		return fmt.Errorf("estimate swap: %w", err)
	}
	minLiquidity, err := solver.MinLiquidity(estimate.Liquidity, r.opts.MaxSlippageRatio)
	if err != nil {
		return err
	}
	sc.result.MinLiquidity = minLiquidity

	switch {
	case req.ExternalSwap != nil:
		err = r.swapExternal(ctx, sc, *req.ExternalSwap)
	case !estimate.IsZero():
		err = r.swapInternal(ctx, sc, problem, estimate)
	}
	if err != nil {
		return err
	}

	if err := r.mint(ctx, sc); err != nil {
		return err
	}
	return r.payout(ctx, sc)
}

func (r *Rebalancer) withdraw(ctx context.Context, sc *scope) error {
	id := sc.state.ID
	if sc.state.Liquidity != nil && !sc.state.Liquidity.IsZero() {
		if _, _, err := r.deps.Positions.DecreaseLiquidity(ctx, id, sc.state.Liquidity); err != nil {
			return fmt.Errorf("decrease liquidity: %w", err)
		}
	}
	amount0, amount1, err := r.deps.Positions.Collect(ctx, id)
	if err != nil {
		return fmt.Errorf("collect: %w", err)
	}
	if err := r.deps.Positions.Burn(ctx, id); err != nil {
		return fmt.Errorf("burn: %w", err)
	}
	sc.balance0 = amount0
	sc.balance1 = amount1

	// withdrawing changes the active liquidity the swap will see
	if err := r.deps.Builder.Refresh(ctx, &sc.state); err != nil {
		return err
	}
	r.logger.Debug("position withdrawn",
		zap.String("position", id.String()),
		zap.String("amount0", fixedpoint.String(amount0)),
		zap.String("amount1", fixedpoint.String(amount1)),
	)
	return nil
}

func (r *Rebalancer) swapInternal(ctx context.Context, sc *scope, problem solver.Problem, estimate solver.Estimate) error {
	refined, err := solver.Refine(problem, estimate, r.opts.Solver)
	if err != nil {
		return fmt.Errorf("refine swap: %w", err)
	}
	if refined.IsZero() {
		return nil
	}
	if err := sc.debit(refined.ZeroToOne, refined.InitiatorFee); err != nil {
		return err
	}
	sc.result.InitiatorFee = refined.InitiatorFee
	sc.result.Iterations = refined.Iterations

	if !refined.PoolAmountIn.IsZero() {
		limit := sc.state.LowerBoundSqrtPriceX96
		if !refined.ZeroToOne {
			limit = sc.state.UpperBoundSqrtPriceX96
		}
		amount0, amount1, err := r.deps.Pool.Swap(ctx, sc.state.Pool, refined.ZeroToOne, refined.PoolAmountIn.ToBig(), limit, sc.settle)
		if err != nil {
			return fmt.Errorf("pool swap: %w", err)
		}
		received, err := receivedAmount(refined.ZeroToOne, amount0, amount1)
		if err != nil {
			return err
		}
		sc.credit(!refined.ZeroToOne, received)
		sc.result.AmountOut = received
	}
	sc.result.Swapped = true
	sc.result.ZeroToOne = refined.ZeroToOne
	sc.result.AmountIn = refined.AmountIn

	return r.checkAfterSwap(ctx, sc)
}

func (r *Rebalancer) swapExternal(ctx context.Context, sc *scope, swap ExternalSwap) error {
	if r.deps.Router == nil {
		return fmt.Errorf("no router configured: %w", ErrExternalSwapFailed)
	}
	if swap.AmountIn == nil || swap.AmountIn.IsZero() {
		return fmt.Errorf("empty amount in: %w", ErrExternalSwapFailed)
	}
	fee, err := fixedpoint.MulDiv(swap.AmountIn, sc.cfg.Fee, fixedpoint.WAD, fixedpoint.Up)
	if err != nil {
		return err
	}
	if err := sc.debit(swap.ZeroToOne, swap.AmountIn); err != nil {
		return err
	}
	routed := new(uint256.Int).Sub(swap.AmountIn, fee)

	amountOut, err := r.deps.Router.Swap(ctx, sc.state.Pool, swap.ZeroToOne, routed, swap.Data)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrExternalSwapFailed, err)
	}
	if swap.MinAmountOut != nil && amountOut.Lt(swap.MinAmountOut) {
		return fmt.Errorf("received %s below minimum %s: %w", fixedpoint.String(amountOut), fixedpoint.String(swap.MinAmountOut), ErrExternalSwapFailed)
	}
	sc.credit(!swap.ZeroToOne, amountOut)

	sc.result.Swapped = true
	sc.result.External = true
	sc.result.ZeroToOne = swap.ZeroToOne
	sc.result.AmountIn = new(uint256.Int).Set(swap.AmountIn)
	sc.result.AmountOut = amountOut
	sc.result.InitiatorFee = fee

	if err := r.checkAfterSwap(ctx, sc); err != nil {
		return fmt.Errorf("%w: %w", ErrExternalSwapFailed, err)
	}
	return nil
}

func (r *Rebalancer) checkAfterSwap(ctx context.Context, sc *scope) error {
	if err := r.deps.Builder.Refresh(ctx, &sc.state); err != nil {
		return err
	}
	if err := sc.state.CheckBalanced(); err != nil {
		return fmt.Errorf("after swap: %w", err)
	}
	return nil
}

func (r *Rebalancer) mint(ctx context.Context, sc *scope) error {
	minted, err := r.deps.Positions.Mint(ctx, MintParams{
		Token0:         sc.state.Token0,
		Token1:         sc.state.Token1,
		Fee:            sc.state.Fee,
		TickLower:      sc.state.NewTickLower,
		TickUpper:      sc.state.NewTickUpper,
		Amount0Desired: sc.balance0,
		Amount1Desired: sc.balance1,
		Recipient:      sc.owner,
	})
	if err != nil {
		return fmt.Errorf("mint: %w", err)
	}
	if minted.Liquidity.Lt(sc.result.MinLiquidity) {
		return fmt.Errorf("minted %s, minimum %s: %w", fixedpoint.String(minted.Liquidity), fixedpoint.String(sc.result.MinLiquidity), ErrInsufficientLiquidity)
	}
	if err := sc.debit(true, minted.Amount0); err != nil {
		return fmt.Errorf("mint token0: %w", err)
	}
	if err := sc.debit(false, minted.Amount1); err != nil {
		return fmt.Errorf("mint token1: %w", err)
	}

	sc.result.NewPositionID = minted.TokenID
	sc.result.Liquidity = minted.Liquidity
	sc.result.Amount0 = minted.Amount0
	sc.result.Amount1 = minted.Amount1
	sc.result.SqrtPriceAfter = sc.state.SqrtPriceX96
	return nil
}

func (r *Rebalancer) payout(ctx context.Context, sc *scope) error {
	if !sc.result.InitiatorFee.IsZero() {
		feeToken := sc.state.Token1
		if sc.result.ZeroToOne {
			feeToken = sc.state.Token0
		}
		if err := r.deps.Ledger.Credit(ctx, sc.initiator, feeToken, sc.result.InitiatorFee); err != nil {
			return fmt.Errorf("pay initiator fee: %w", err)
		}
	}
	if !sc.balance0.IsZero() {
		if err := r.deps.Ledger.Credit(ctx, sc.owner, sc.state.Token0, sc.balance0); err != nil {
			return fmt.Errorf("return token0 leftover: %w", err)
		}
	}
	if !sc.balance1.IsZero() {
		if err := r.deps.Ledger.Credit(ctx, sc.owner, sc.state.Token1, sc.balance1); err != nil {
			return fmt.Errorf("return token1 leftover: %w", err)
		}
	}
	sc.result.Leftover0 = sc.balance0
	sc.result.Leftover1 = sc.balance1
	return nil
}

// settle pays the pool from the in-flight balances.
func (sc *scope) settle(_ context.Context, amount0Delta, amount1Delta *big.Int) error {
	if amount0Delta.Sign() > 0 {
		owed, err := fixedpoint.FromBig(amount0Delta)
		if err != nil {
			return err
		}
		if err := sc.debit(true, owed); err != nil {
			return err
		}
	}
	if amount1Delta.Sign() > 0 {
		owed, err := fixedpoint.FromBig(amount1Delta)
		if err != nil {
			return err
		}
		if err := sc.debit(false, owed); err != nil {
			return err
		}
	}
	return nil
}

func (sc *scope) debit(token0 bool, amount *uint256.Int) error {
	balance := &sc.balance1
	if token0 {
		balance = &sc.balance0
	}
	if amount.Gt(*balance) {
		return fmt.Errorf("owe %s, hold %s: %w", fixedpoint.String(amount), fixedpoint.String(*balance), ErrInsufficientBalance)
	}
	*balance = new(uint256.Int).Sub(*balance, amount)
	return nil
}

func (sc *scope) credit(token0 bool, amount *uint256.Int) {
	if token0 {
		sc.balance0 = new(uint256.Int).Add(sc.balance0, amount)
		return
	}
	sc.balance1 = new(uint256.Int).Add(sc.balance1, amount)
}

func receivedAmount(zeroToOne bool, amount0, amount1 *big.Int) (*uint256.Int, error) {
	delta := amount1
	if !zeroToOne {
		delta = amount0
	}
	if delta.Sign() > 0 {
		return nil, fmt.Errorf("pool charged %s of the output token", delta)
	}
	return fixedpoint.FromBig(new(big.Int).Neg(delta))
}
