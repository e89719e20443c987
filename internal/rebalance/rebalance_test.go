package rebalance_test

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"liquidityRebalancer/internal/fixedpoint"
	"liquidityRebalancer/internal/position"
	"liquidityRebalancer/internal/rebalance"
	"liquidityRebalancer/internal/sim"
)

var (
	factory   = common.HexToAddress("0x1F98431c8aD98523631AE4a59f267346ea31F984")
	token0    = common.HexToAddress("0x0000000000000000000000000000000000000001")
	token1    = common.HexToAddress("0x0000000000000000000000000000000000000002")
	owner     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	initiator = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

type fixture struct {
	world *sim.World
	pool  common.Address
	id    *big.Int
}

// newFixture opens a [-1800, 600] position with liquidity 1e21 in a pool at
// price 1 with poolLiquidity of other liquidity, and a 5% tolerance initiator.
func newFixture(t *testing.T, poolLiquidity string, opts rebalance.Options, initiatorFee uint64) fixture {
	t.Helper()
	ctx := context.Background()
	world := sim.NewWorld(factory, opts, nil)

	pool, err := world.Exchange.CreatePool(sim.PoolConfig{
		Token0:       token0,
		Token1:       token1,
		Fee:          3000,
		TickSpacing:  60,
		SqrtPriceX96: fixedpoint.Q96,
		Liquidity:    fixedpoint.MustParse(poolLiquidity),
	})
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	world.Oracle.SetPrice(token0, fixedpoint.WAD)
	world.Oracle.SetPrice(token1, fixedpoint.WAD)

	id, err := world.Positions.Open(owner, token0, token1, 3000, -1800, 600, fixedpoint.MustParse("1000000000000000000000"), nil, nil)
	if err != nil {
		t.Fatalf("open position: %v", err)
	}
	if _, err := world.Registry.Set(ctx, initiator, uint256.NewInt(50_000_000_000_000_000), uint256.NewInt(initiatorFee)); err != nil {
		t.Fatalf("configure initiator: %v", err)
	}
	if err := world.Registry.Authorize(ctx, owner, initiator, true); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	return fixture{world: world, pool: pool, id: id}
}

// assertUntouched checks that a failed rebalance left no trace.
func (f fixture) assertUntouched(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	info, err := f.world.Positions.Position(ctx, f.id)
	if err != nil {
		t.Fatalf("original position missing after failed rebalance: %v", err)
	}
	if fixedpoint.String(info.Liquidity) != "1000000000000000000000" {
		t.Fatalf("original liquidity changed to %s", fixedpoint.String(info.Liquidity))
	}
	slot0, err := f.world.Exchange.Slot0(ctx, f.pool)
	if err != nil {
		t.Fatalf("slot0: %v", err)
	}
	if !slot0.SqrtPriceX96.Eq(fixedpoint.Q96) {
		t.Fatalf("pool price moved to %s", fixedpoint.String(slot0.SqrtPriceX96))
	}
	if !f.world.Ledger.Balance(owner, token1).IsZero() || !f.world.Ledger.Balance(initiator, token1).IsZero() {
		t.Fatalf("ledger credited by a failed rebalance")
	}
	if f.world.Guard.Active(owner) {
		t.Fatalf("guard still held after failure")
	}
}

func TestRebalanceRecentresPosition(t *testing.T) {
	f := newFixture(t, "1000000000000000000000000", rebalance.Options{}, 0)
	ctx := context.Background()

	result, err := f.world.Rebalancer.Rebalance(ctx, initiator, rebalance.Request{PositionID: f.id})
	if err != nil {
		t.Fatalf("rebalance: %v", err)
	}

	if result.TickLower != -1200 || result.TickUpper != 1200 {
		t.Fatalf("expected [-1200, 1200], got [%d, %d]", result.TickLower, result.TickUpper)
	}
	if !result.Swapped || result.ZeroToOne || result.External {
		t.Fatalf("expected an internal token1 -> token0 swap, got %+v", result)
	}
	if got := fixedpoint.String(result.AmountIn); got != "28270669267335882311" {
		t.Fatalf("unexpected amount in %s", got)
	}
	if got := fixedpoint.String(result.AmountOut); got != "28185062839375833024" {
		t.Fatalf("unexpected amount out %s", got)
	}
	if got := fixedpoint.String(result.Liquidity); got != "991987168079551556014" {
		t.Fatalf("unexpected liquidity %s", got)
	}
	if result.Liquidity.Lt(result.MinLiquidity) {
		t.Fatalf("liquidity %s below minimum %s", fixedpoint.String(result.Liquidity), fixedpoint.String(result.MinLiquidity))
	}

	if _, err := f.world.Positions.Position(ctx, f.id); !errors.Is(err, sim.ErrUnknownPosition) {
		t.Fatalf("old position should be burned, got %v", err)
	}
	info, err := f.world.Positions.Position(ctx, result.NewPositionID)
	if err != nil {
		t.Fatalf("new position: %v", err)
	}
	if info.TickLower != -1200 || info.TickUpper != 1200 || !info.Liquidity.Eq(result.Liquidity) {
		t.Fatalf("new position does not match result: %+v", info)
	}
	newOwner, err := f.world.Positions.OwnerOf(ctx, result.NewPositionID)
	if err != nil || newOwner != owner {
		t.Fatalf("new position owned by %s (%v)", newOwner.Hex(), err)
	}

	slot0, err := f.world.Exchange.Slot0(ctx, f.pool)
	if err != nil {
		t.Fatalf("slot0: %v", err)
	}
	if fixedpoint.String(slot0.SqrtPriceX96) != "79230395627943899800623397793" {
		t.Fatalf("unexpected post-swap price %s", fixedpoint.String(slot0.SqrtPriceX96))
	}
	if got := f.world.Ledger.Balance(owner, token1); !got.Eq(result.Leftover1) || fixedpoint.String(got) != "40088104711914" {
		t.Fatalf("unexpected token1 leftover %s", fixedpoint.String(got))
	}
	if f.world.Guard.Active(owner) {
		t.Fatalf("guard still held after success")
	}
}

func TestRebalancePaysInitiatorFee(t *testing.T) {
	f := newFixture(t, "1000000000000000000000000", rebalance.Options{}, 10_000_000_000_000_000)

	result, err := f.world.Rebalancer.Rebalance(context.Background(), initiator, rebalance.Request{PositionID: f.id})
	if err != nil {
		t.Fatalf("rebalance: %v", err)
	}
	if got := fixedpoint.String(result.InitiatorFee); got != "284126556303498798" {
		t.Fatalf("unexpected initiator fee %s", got)
	}
	if paid := f.world.Ledger.Balance(initiator, token1); !paid.Eq(result.InitiatorFee) {
		t.Fatalf("initiator received %s, expected %s", fixedpoint.String(paid), fixedpoint.String(result.InitiatorFee))
	}
}

func TestRebalanceRejectsUnbalancedPool(t *testing.T) {
	f := newFixture(t, "1000000000000000000000000", rebalance.Options{}, 0)
	// trusted price 1/1.2 puts the pool price above the band
	f.world.Oracle.SetPrice(token1, uint256.NewInt(1_200_000_000_000_000_000))

	_, err := f.world.Rebalancer.Rebalance(context.Background(), initiator, rebalance.Request{PositionID: f.id})
	if !errors.Is(err, rebalance.ErrUnbalancedPool) {
		t.Fatalf("expected ErrUnbalancedPool, got %v", err)
	}
	f.assertUntouched(t)
}

func TestRebalanceChecksCaller(t *testing.T) {
	f := newFixture(t, "1000000000000000000000000", rebalance.Options{}, 0)
	ctx := context.Background()
	stranger := common.HexToAddress("0x00000000000000000000000000000000000000c3")

	_, err := f.world.Rebalancer.Rebalance(ctx, stranger, rebalance.Request{PositionID: f.id})
	if !errors.Is(err, rebalance.ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}

	if err := f.world.Registry.Authorize(ctx, owner, stranger, true); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	_, err = f.world.Rebalancer.Rebalance(ctx, stranger, rebalance.Request{PositionID: f.id})
	if !errors.Is(err, rebalance.ErrInvalidActor) {
		t.Fatalf("expected ErrInvalidActor, got %v", err)
	}
	f.assertUntouched(t)
}

func TestRebalanceRollsBackBelowMinLiquidity(t *testing.T) {
	f := newFixture(t, "1000000000000000000000000", rebalance.Options{MaxSlippageRatio: fixedpoint.WAD}, 0)

	_, err := f.world.Rebalancer.Rebalance(context.Background(), initiator, rebalance.Request{PositionID: f.id})
	if !errors.Is(err, rebalance.ErrInsufficientLiquidity) {
		t.Fatalf("expected ErrInsufficientLiquidity, got %v", err)
	}
	f.assertUntouched(t)

	// the failed attempt must not have consumed a position id
	next, err := f.world.Positions.Open(owner, token0, token1, 3000, -60, 60, uint256.NewInt(1), nil, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if next.Int64() != f.id.Int64()+1 {
		t.Fatalf("expected id %d, got %s", f.id.Int64()+1, next)
	}
}

func TestRebalanceReportsNonConvergence(t *testing.T) {
	f := newFixture(t, "1", rebalance.Options{}, 0)

	_, err := f.world.Rebalancer.Rebalance(context.Background(), initiator, rebalance.Request{PositionID: f.id})
	if !errors.Is(err, rebalance.ErrNonConvergence) {
		t.Fatalf("expected ErrNonConvergence, got %v", err)
	}
	f.assertUntouched(t)
}

func TestRebalanceExplicitRange(t *testing.T) {
	f := newFixture(t, "1000000000000000000000000", rebalance.Options{}, 0)

	result, err := f.world.Rebalancer.Rebalance(context.Background(), initiator, rebalance.Request{
		PositionID: f.id,
		Range:      position.Range{TickLower: -600, TickUpper: 1800},
	})
	if err != nil {
		t.Fatalf("rebalance: %v", err)
	}
	if result.TickLower != -600 || result.TickUpper != 1800 {
		t.Fatalf("expected [-600, 1800], got [%d, %d]", result.TickLower, result.TickUpper)
	}

	g := newFixture(t, "1000000000000000000000000", rebalance.Options{}, 0)
	_, err = g.world.Rebalancer.Rebalance(context.Background(), initiator, rebalance.Request{
		PositionID: g.id,
		Range:      position.Range{TickLower: -601, TickUpper: 1800},
	})
	if !errors.Is(err, position.ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}
	g.assertUntouched(t)
}

func TestRebalanceExternalSwap(t *testing.T) {
	f := newFixture(t, "1000000000000000000000000", rebalance.Options{}, 0)

	result, err := f.world.Rebalancer.Rebalance(context.Background(), initiator, rebalance.Request{
		PositionID: f.id,
		ExternalSwap: &rebalance.ExternalSwap{
			ZeroToOne:    false,
			AmountIn:     fixedpoint.MustParse("28270669267335882311"),
			MinAmountOut: fixedpoint.MustParse("28000000000000000000"),
		},
	})
	if err != nil {
		t.Fatalf("rebalance: %v", err)
	}
	if !result.External || fixedpoint.String(result.AmountOut) != "28185062839375833024" {
		t.Fatalf("unexpected external swap result: external=%v out=%s", result.External, fixedpoint.String(result.AmountOut))
	}
}

func TestRebalanceExternalSwapFailures(t *testing.T) {
	f := newFixture(t, "1000000000000000000000000", rebalance.Options{}, 0)
	_, err := f.world.Rebalancer.Rebalance(context.Background(), initiator, rebalance.Request{
		PositionID: f.id,
		ExternalSwap: &rebalance.ExternalSwap{
			AmountIn:     fixedpoint.MustParse("28270669267335882311"),
			MinAmountOut: fixedpoint.MustParse("29000000000000000000"),
		},
	})
	if !errors.Is(err, rebalance.ErrExternalSwapFailed) {
		t.Fatalf("expected ErrExternalSwapFailed on short output, got %v", err)
	}
	f.assertUntouched(t)

	// a shallow pool lets the route push the price out of the band
	g := newFixture(t, "1000000000000000000000", rebalance.Options{}, 0)
	_, err = g.world.Rebalancer.Rebalance(context.Background(), initiator, rebalance.Request{
		PositionID:   g.id,
		ExternalSwap: &rebalance.ExternalSwap{AmountIn: fixedpoint.MustParse("80000000000000000000")},
	})
	if !errors.Is(err, rebalance.ErrExternalSwapFailed) || !errors.Is(err, rebalance.ErrUnbalancedPool) {
		t.Fatalf("expected ErrExternalSwapFailed and ErrUnbalancedPool, got %v", err)
	}
}

// reentrantRouter calls back into the rebalancer from inside the swap.
type reentrantRouter struct {
	rebalancer *rebalance.Rebalancer
	request    rebalance.Request
	inner      error
}

func (r *reentrantRouter) Swap(ctx context.Context, _ common.Address, _ bool, _ *uint256.Int, _ []byte) (*uint256.Int, error) {
	_, r.inner = r.rebalancer.Rebalance(ctx, initiator, r.request)
	return nil, r.inner
}

func TestRebalanceRejectsReentry(t *testing.T) {
	f := newFixture(t, "1000000000000000000000000", rebalance.Options{}, 0)
	w := f.world
	router := &reentrantRouter{request: rebalance.Request{PositionID: f.id}}
	rebalancer := rebalance.New(rebalance.Deps{
		Builder:    w.Builder,
		Positions:  w.Positions,
		Pool:       w.Exchange,
		Router:     router,
		Ledger:     w.Ledger,
		Registry:   w.Registry,
		Guard:      w.Guard,
		Transactor: w.Transactor,
	}, rebalance.Options{}, nil)
	router.rebalancer = rebalancer

	_, err := rebalancer.Rebalance(context.Background(), initiator, rebalance.Request{
		PositionID:   f.id,
		ExternalSwap: &rebalance.ExternalSwap{AmountIn: uint256.NewInt(1_000_000)},
	})
	if !errors.Is(router.inner, rebalance.ErrReentrancyDetected) {
		t.Fatalf("expected nested call to fail with ErrReentrancyDetected, got %v", router.inner)
	}
	if !errors.Is(err, rebalance.ErrExternalSwapFailed) {
		t.Fatalf("expected outer call to fail with ErrExternalSwapFailed, got %v", err)
	}
	f.assertUntouched(t)
}

func TestRebalanceRejectsNestedUnitForOtherOwner(t *testing.T) {
	f := newFixture(t, "1000000000000000000000000", rebalance.Options{}, 0)
	w := f.world
	ctx := context.Background()

	otherOwner := common.HexToAddress("0x00000000000000000000000000000000000000c3")
	otherID, err := w.Positions.Open(otherOwner, token0, token1, 3000, -1800, 600, fixedpoint.MustParse("1000000000000000000000"), nil, nil)
	if err != nil {
		t.Fatalf("open second position: %v", err)
	}
	if err := w.Registry.Authorize(ctx, otherOwner, initiator, true); err != nil {
		t.Fatalf("authorize second owner: %v", err)
	}

	router := &reentrantRouter{request: rebalance.Request{PositionID: otherID}}
	rebalancer := rebalance.New(rebalance.Deps{
		Builder:    w.Builder,
		Positions:  w.Positions,
		Pool:       w.Exchange,
		Router:     router,
		Ledger:     w.Ledger,
		Registry:   w.Registry,
		Guard:      w.Guard,
		Transactor: w.Transactor,
	}, rebalance.Options{}, nil)
	router.rebalancer = rebalancer

	done := make(chan error, 1)
	go func() {
		_, err := rebalancer.Rebalance(ctx, initiator, rebalance.Request{
			PositionID:   f.id,
			ExternalSwap: &rebalance.ExternalSwap{AmountIn: uint256.NewInt(1_000_000)},
		})
		done <- err
	}()
	select {
	case err = <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("nested rebalance for another owner did not return")
	}

	if !errors.Is(router.inner, rebalance.ErrReentrancyDetected) {
		t.Fatalf("expected nested call to fail with ErrReentrancyDetected, got %v", router.inner)
	}
	if !errors.Is(err, rebalance.ErrExternalSwapFailed) {
		t.Fatalf("expected outer call to fail with ErrExternalSwapFailed, got %v", err)
	}
	if w.Guard.Active(otherOwner) {
		t.Fatalf("guard still held for the nested owner")
	}
	info, err := w.Positions.Position(ctx, otherID)
	if err != nil {
		t.Fatalf("second position missing: %v", err)
	}
	if fixedpoint.String(info.Liquidity) != "1000000000000000000000" {
		t.Fatalf("second position changed to %s", fixedpoint.String(info.Liquidity))
	}
	f.assertUntouched(t)
}

func TestRebalanceRequiresPositionID(t *testing.T) {
	f := newFixture(t, "1000000000000000000000000", rebalance.Options{}, 0)
	_, err := f.world.Rebalancer.Rebalance(context.Background(), initiator, rebalance.Request{})
	if !errors.Is(err, rebalance.ErrMissingPosition) {
		t.Fatalf("expected ErrMissingPosition, got %v", err)
	}
}

func TestGuard(t *testing.T) {
	guard := rebalance.NewGuard()
	release, err := guard.Enter(owner)
	if err != nil {
		t.Fatalf("enter: %v", err)
	}
	if _, err := guard.Enter(owner); !errors.Is(err, rebalance.ErrReentrancyDetected) {
		t.Fatalf("expected ErrReentrancyDetected, got %v", err)
	}
	other, err := guard.Enter(initiator)
	if err != nil {
		t.Fatalf("a different owner must not be blocked: %v", err)
	}
	other()
	release()
	release()
	if guard.Active(owner) {
		t.Fatalf("owner still active after release")
	}
}

func TestPreviewMatchesRebalance(t *testing.T) {
	f := newFixture(t, "1000000000000000000000000", rebalance.Options{}, 0)
	ctx := context.Background()
	cfg, err := f.world.Registry.Config(ctx, initiator)
	if err != nil {
		t.Fatalf("config: %v", err)
	}

	preview, err := rebalance.PreviewRebalance(ctx, f.world.Builder, f.id, position.Range{}, cfg, rebalance.Options{})
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if preview.State.NewTickLower != -1200 || preview.State.NewTickUpper != 1200 {
		t.Fatalf("unexpected range [%d, %d]", preview.State.NewTickLower, preview.State.NewTickUpper)
	}
	if fixedpoint.String(preview.Balance0) != "29553010879137169680" || fixedpoint.String(preview.Balance1) != "86064702303344553045" {
		t.Fatalf("unexpected withdrawn balances %s / %s", fixedpoint.String(preview.Balance0), fixedpoint.String(preview.Balance1))
	}
	if preview.Refinement.ZeroToOne || fixedpoint.String(preview.Refinement.AmountIn) != "28270669267335882311" {
		t.Fatalf("unexpected refined swap %s", fixedpoint.String(preview.Refinement.AmountIn))
	}
	if fixedpoint.String(preview.MinLiquidity) != "982073692299753502415" {
		t.Fatalf("unexpected min liquidity %s", fixedpoint.String(preview.MinLiquidity))
	}
	f.assertUntouched(t)

	result, err := f.world.Rebalancer.Rebalance(ctx, initiator, rebalance.Request{PositionID: f.id})
	if err != nil {
		t.Fatalf("rebalance: %v", err)
	}
	if !result.AmountIn.Eq(preview.Refinement.AmountIn) || !result.MinLiquidity.Eq(preview.MinLiquidity) {
		t.Fatalf("preview diverged from execution")
	}
}
