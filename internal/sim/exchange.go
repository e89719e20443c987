// Package sim provides in-memory pools, a position manager, an oracle, a
// router and a snapshotting transactor for running rebalances off-chain.
package sim

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"liquidityRebalancer/internal/fixedpoint"
	"liquidityRebalancer/internal/position"
	"liquidityRebalancer/internal/rebalance"
	"liquidityRebalancer/internal/swapmath"
	"liquidityRebalancer/internal/tickmath"
)

var (
	ErrUnknownPool       = errors.New("unknown pool")
	ErrInvalidPriceLimit = errors.New("invalid sqrt price limit")
	ErrZeroAmount        = errors.New("amount specified is zero")
	ErrPoolChanged       = errors.New("pool state changed during settle")
)

// PoolConfig seeds a pool.
type PoolConfig struct {
	Token0       common.Address
	Token1       common.Address
	Fee          uint32
	TickSpacing  int32
	SqrtPriceX96 *uint256.Int
	// Liquidity is active liquidity not owned by any simulated position.
	Liquidity *uint256.Int
}

// pool has constant liquidity across ticks; swaps never cross an initialized tick.
type pool struct {
	token0       common.Address
	token1       common.Address
	fee          uint32
	tickSpacing  int32
	sqrtPriceX96 *uint256.Int
	tick         int32
	liquidity    *uint256.Int
}

func (p *pool) clone() *pool {
	c := *p
	c.sqrtPriceX96 = new(uint256.Int).Set(p.sqrtPriceX96)
	c.liquidity = new(uint256.Int).Set(p.liquidity)
	return &c
}

// Exchange holds the pools deployed by one factory.
type Exchange struct {
	factory common.Address

	mu    sync.Mutex
	pools map[common.Address]*pool
}

func NewExchange(factory common.Address) *Exchange {
	return &Exchange{factory: factory, pools: make(map[common.Address]*pool)}
}

// Factory returns the deploying factory address.
func (e *Exchange) Factory() common.Address {
	return e.factory
}

// CreatePool deploys a pool at its CREATE2 address.
func (e *Exchange) CreatePool(cfg PoolConfig) (common.Address, error) {
	if cfg.TickSpacing <= 0 {
		return common.Address{}, tickmath.ErrInvalidTickSpacing
	}
	address, err := position.PoolAddress(e.factory, cfg.Token0, cfg.Token1, cfg.Fee)
	if err != nil {
		return common.Address{}, err
	}
	tick, err := tickmath.GetTickAtSqrtRatio(cfg.SqrtPriceX96)
	if err != nil {
		return common.Address{}, fmt.Errorf("initial price: %w", err)
	}
	liquidity := new(uint256.Int)
	if cfg.Liquidity != nil {
		liquidity.Set(cfg.Liquidity)
	}
	token0, token1 := position.SortTokens(cfg.Token0, cfg.Token1)

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.pools[address]; ok {
		return common.Address{}, fmt.Errorf("pool %s already exists", address.Hex())
	}
	e.pools[address] = &pool{
		token0:       token0,
		token1:       token1,
		fee:          cfg.Fee,
		tickSpacing:  cfg.TickSpacing,
		sqrtPriceX96: new(uint256.Int).Set(cfg.SqrtPriceX96),
		tick:         tick,
		liquidity:    liquidity,
	}
	return address, nil
}

func (e *Exchange) get(address common.Address) (*pool, error) {
	p, ok := e.pools[address]
	if !ok {
		return nil, fmt.Errorf("%s: %w", address.Hex(), ErrUnknownPool)
	}
	return p, nil
}

// Slot0 implements position.PoolReader.
func (e *Exchange) Slot0(_ context.Context, address common.Address) (position.Slot0, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.get(address)
	if err != nil {
		return position.Slot0{}, err
	}
	return position.Slot0{SqrtPriceX96: new(uint256.Int).Set(p.sqrtPriceX96), Tick: p.tick}, nil
}

// TickSpacing implements position.PoolReader.
func (e *Exchange) TickSpacing(_ context.Context, address common.Address) (int32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.get(address)
	if err != nil {
		return 0, err
	}
	return p.tickSpacing, nil
}

// Liquidity implements position.PoolReader.
func (e *Exchange) Liquidity(_ context.Context, address common.Address) (*uint256.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.get(address)
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).Set(p.liquidity), nil
}

// SetPrice moves a pool price directly, as a trade elsewhere would.
func (e *Exchange) SetPrice(address common.Address, sqrtPriceX96 *uint256.Int) error {
	tick, err := tickmath.GetTickAtSqrtRatio(sqrtPriceX96)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.get(address)
	if err != nil {
		return err
	}
	p.sqrtPriceX96 = new(uint256.Int).Set(sqrtPriceX96)
	p.tick = tick
	return nil
}

// Swap implements rebalance.Pool. settle runs before the pool state changes
// and a settle error leaves the pool untouched. settle runs without the pool
// lock, so a price or liquidity change made meanwhile fails the swap with
// ErrPoolChanged instead of being overwritten.
func (e *Exchange) Swap(ctx context.Context, address common.Address, zeroForOne bool, amountSpecified *big.Int, sqrtPriceLimitX96 *uint256.Int, settle rebalance.SettleFunc) (*big.Int, *big.Int, error) {
	if amountSpecified.Sign() == 0 {
		return nil, nil, ErrZeroAmount
	}

	e.mu.Lock()
	p, err := e.get(address)
	if err != nil {
		e.mu.Unlock()
		return nil, nil, err
	}
	current := new(uint256.Int).Set(p.sqrtPriceX96)
	liquidity := new(uint256.Int).Set(p.liquidity)
	fee := p.fee
	e.mu.Unlock()

	if zeroForOne {
		if !sqrtPriceLimitX96.Lt(current) || !sqrtPriceLimitX96.Gt(tickmath.MinSqrtRatio) {
			return nil, nil, fmt.Errorf("zero for one limit %s: %w", fixedpoint.String(sqrtPriceLimitX96), ErrInvalidPriceLimit)
		}
	} else if !sqrtPriceLimitX96.Gt(current) || !sqrtPriceLimitX96.Lt(tickmath.MaxSqrtRatio) {
		return nil, nil, fmt.Errorf("one for zero limit %s: %w", fixedpoint.String(sqrtPriceLimitX96), ErrInvalidPriceLimit)
	}

	step, err := swapmath.ComputeSwapStep(current, sqrtPriceLimitX96, liquidity, amountSpecified, fee)
	if err != nil {
		return nil, nil, err
	}
	paid := new(uint256.Int).Add(step.AmountIn, step.FeeAmount).ToBig()
	received := new(big.Int).Neg(step.AmountOut.ToBig())

	amount0, amount1 := paid, received
	if !zeroForOne {
		amount0, amount1 = received, paid
	}
	if settle != nil {
		if err := settle(ctx, amount0, amount1); err != nil {
			return nil, nil, fmt.Errorf("settle: %w", err)
		}
	}

	tick, err := tickmath.GetTickAtSqrtRatio(step.SqrtPriceNext)
	if err != nil {
		return nil, nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err = e.get(address)
	if err != nil {
		return nil, nil, err
	}
	if !p.sqrtPriceX96.Eq(current) || !p.liquidity.Eq(liquidity) {
		return nil, nil, fmt.Errorf("%s: %w", address.Hex(), ErrPoolChanged)
	}
	p.sqrtPriceX96 = step.SqrtPriceNext
	p.tick = tick
	return amount0, amount1, nil
}

// modifyLiquidity adds or removes in-range liquidity for a position.
func (e *Exchange) modifyLiquidity(address common.Address, tickLower, tickUpper int32, delta *uint256.Int, add bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.get(address)
	if err != nil {
		return err
	}
	if p.tick < tickLower || p.tick >= tickUpper {
		return nil
	}
	if add {
		p.liquidity = new(uint256.Int).Add(p.liquidity, delta)
		return nil
	}
	if delta.Gt(p.liquidity) {
		return fmt.Errorf("remove %s from %s: %w", fixedpoint.String(delta), fixedpoint.String(p.liquidity), fixedpoint.ErrUnderflow)
	}
	p.liquidity = new(uint256.Int).Sub(p.liquidity, delta)
	return nil
}

func (e *Exchange) sqrtPrice(address common.Address) (*uint256.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.get(address)
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).Set(p.sqrtPriceX96), nil
}

// Snapshot captures every pool and returns a function restoring them.
func (e *Exchange) Snapshot() func() {
	e.mu.Lock()
	saved := make(map[common.Address]*pool, len(e.pools))
	for address, p := range e.pools {
		saved[address] = p.clone()
	}
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		e.pools = saved
		e.mu.Unlock()
	}
}
