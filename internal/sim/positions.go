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
	"liquidityRebalancer/internal/pricing"
	"liquidityRebalancer/internal/rebalance"
	"liquidityRebalancer/internal/tickmath"
)

var (
	ErrUnknownPosition = errors.New("unknown position")
	ErrNotCleared      = errors.New("position not cleared")
	ErrZeroLiquidity   = errors.New("mint would add zero liquidity")
)

type simPosition struct {
	owner       common.Address
	pool        common.Address
	token0      common.Address
	token1      common.Address
	fee         uint32
	tickLower   int32
	tickUpper   int32
	liquidity   *uint256.Int
	tokensOwed0 *uint256.Int
	tokensOwed1 *uint256.Int
}

func (p *simPosition) clone() *simPosition {
	c := *p
	c.liquidity = new(uint256.Int).Set(p.liquidity)
	c.tokensOwed0 = new(uint256.Int).Set(p.tokensOwed0)
	c.tokensOwed1 = new(uint256.Int).Set(p.tokensOwed1)
	return &c
}

// PositionManager is an in-memory position registry over an Exchange.
type PositionManager struct {
	exchange *Exchange

	mu        sync.Mutex
	nextID    uint64
	positions map[uint64]*simPosition
}

func NewPositionManager(exchange *Exchange) *PositionManager {
	return &PositionManager{
		exchange:  exchange,
		nextID:    1,
		positions: make(map[uint64]*simPosition),
	}
}

// Open seeds a position with liquidity and uncollected fees.
func (m *PositionManager) Open(owner, token0, token1 common.Address, fee uint32, tickLower, tickUpper int32, liquidity, fees0, fees1 *uint256.Int) (*big.Int, error) {
	pool, err := position.PoolAddress(m.exchange.Factory(), token0, token1, fee)
	if err != nil {
		return nil, err
	}
	if err := m.exchange.modifyLiquidity(pool, tickLower, tickUpper, liquidity, true); err != nil {
		return nil, err
	}
	token0, token1 = position.SortTokens(token0, token1)
	return m.store(&simPosition{
		owner:       owner,
		pool:        pool,
		token0:      token0,
		token1:      token1,
		fee:         fee,
		tickLower:   tickLower,
		tickUpper:   tickUpper,
		liquidity:   new(uint256.Int).Set(liquidity),
		tokensOwed0: orZero(fees0),
		tokensOwed1: orZero(fees1),
	}), nil
}

func (m *PositionManager) store(p *simPosition) *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.positions[id] = p
	return new(big.Int).SetUint64(id)
}

func (m *PositionManager) get(id *big.Int) (*simPosition, error) {
	if !id.IsUint64() {
		return nil, fmt.Errorf("%s: %w", id, ErrUnknownPosition)
	}
	p, ok := m.positions[id.Uint64()]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrUnknownPosition)
	}
	return p, nil
}

// Position implements position.PositionReader.
func (m *PositionManager) Position(_ context.Context, id *big.Int) (position.Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.get(id)
	if err != nil {
		return position.Info{}, err
	}
	return position.Info{
		Token0:    p.token0,
		Token1:    p.token1,
		Fee:       p.fee,
		TickLower: p.tickLower,
		TickUpper: p.tickUpper,
		Liquidity: new(uint256.Int).Set(p.liquidity),
	}, nil
}

// OwnerOf implements rebalance.PositionManager.
func (m *PositionManager) OwnerOf(_ context.Context, id *big.Int) (common.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.get(id)
	if err != nil {
		return common.Address{}, err
	}
	return p.owner, nil
}

// DecreaseLiquidity moves the token value of liquidity into tokens owed.
func (m *PositionManager) DecreaseLiquidity(_ context.Context, id *big.Int, liquidity *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.get(id)
	if err != nil {
		return nil, nil, err
	}
	if liquidity.Gt(p.liquidity) {
		return nil, nil, fmt.Errorf("decrease %s of %s: %w", fixedpoint.String(liquidity), fixedpoint.String(p.liquidity), fixedpoint.ErrUnderflow)
	}
	amount0, amount1, err := m.amounts(p, liquidity, fixedpoint.Down)
	if err != nil {
		return nil, nil, err
	}
	if err := m.exchange.modifyLiquidity(p.pool, p.tickLower, p.tickUpper, liquidity, false); err != nil {
		return nil, nil, err
	}
	p.liquidity = new(uint256.Int).Sub(p.liquidity, liquidity)
	p.tokensOwed0 = new(uint256.Int).Add(p.tokensOwed0, amount0)
	p.tokensOwed1 = new(uint256.Int).Add(p.tokensOwed1, amount1)
	return amount0, amount1, nil
}

// Collect pays out and clears everything owed.
func (m *PositionManager) Collect(_ context.Context, id *big.Int) (*uint256.Int, *uint256.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.get(id)
	if err != nil {
		return nil, nil, err
	}
	amount0, amount1 := p.tokensOwed0, p.tokensOwed1
	p.tokensOwed0, p.tokensOwed1 = new(uint256.Int), new(uint256.Int)
	return amount0, amount1, nil
}

// Burn deletes a position with no liquidity and nothing owed.
func (m *PositionManager) Burn(_ context.Context, id *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.get(id)
	if err != nil {
		return err
	}
	if !p.liquidity.IsZero() || !p.tokensOwed0.IsZero() || !p.tokensOwed1.IsZero() {
		return fmt.Errorf("burn %s: %w", id, ErrNotCleared)
	}
	delete(m.positions, id.Uint64())
	return nil
}

// Mint opens a position with as much liquidity as the desired amounts allow.
func (m *PositionManager) Mint(ctx context.Context, params rebalance.MintParams) (rebalance.MintResult, error) {
	pool, err := position.PoolAddress(m.exchange.Factory(), params.Token0, params.Token1, params.Fee)
	if err != nil {
		return rebalance.MintResult{}, err
	}
	spacing, err := m.exchange.TickSpacing(ctx, pool)
	if err != nil {
		return rebalance.MintResult{}, err
	}
	if err := position.ValidateRange(position.Range{TickLower: params.TickLower, TickUpper: params.TickUpper}, spacing); err != nil {
		return rebalance.MintResult{}, err
	}
	sqrtPrice, err := m.exchange.sqrtPrice(pool)
	if err != nil {
		return rebalance.MintResult{}, err
	}
	sqrtA, err := tickmath.GetSqrtRatioAtTick(params.TickLower)
	if err != nil {
		return rebalance.MintResult{}, err
	}
	sqrtB, err := tickmath.GetSqrtRatioAtTick(params.TickUpper)
	if err != nil {
		return rebalance.MintResult{}, err
	}

	liquidity, err := pricing.LiquidityForAmounts(sqrtPrice, sqrtA, sqrtB, params.Amount0Desired, params.Amount1Desired)
	if err != nil {
		return rebalance.MintResult{}, err
	}
	// amounts round up, so back off until they fit the desired amounts
	var amount0, amount1 *uint256.Int
	for {
		if liquidity.IsZero() {
			return rebalance.MintResult{}, ErrZeroLiquidity
		}
		amount0, amount1, err = pricing.AmountsForLiquidity(sqrtPrice, sqrtA, sqrtB, liquidity, fixedpoint.Up)
		if err != nil {
			return rebalance.MintResult{}, err
		}
		if !amount0.Gt(params.Amount0Desired) && !amount1.Gt(params.Amount1Desired) {
			break
		}
		liquidity = new(uint256.Int).SubUint64(liquidity, 1)
	}

	if err := m.exchange.modifyLiquidity(pool, params.TickLower, params.TickUpper, liquidity, true); err != nil {
		return rebalance.MintResult{}, err
	}
	token0, token1 := position.SortTokens(params.Token0, params.Token1)
	id := m.store(&simPosition{
		owner:       params.Recipient,
		pool:        pool,
		token0:      token0,
		token1:      token1,
		fee:         params.Fee,
		tickLower:   params.TickLower,
		tickUpper:   params.TickUpper,
		liquidity:   liquidity,
		tokensOwed0: new(uint256.Int),
		tokensOwed1: new(uint256.Int),
	})
	return rebalance.MintResult{TokenID: id, Liquidity: liquidity, Amount0: amount0, Amount1: amount1}, nil
}

func (m *PositionManager) amounts(p *simPosition, liquidity *uint256.Int, rounding fixedpoint.Rounding) (*uint256.Int, *uint256.Int, error) {
	sqrtPrice, err := m.exchange.sqrtPrice(p.pool)
	if err != nil {
		return nil, nil, err
	}
	sqrtA, err := tickmath.GetSqrtRatioAtTick(p.tickLower)
	if err != nil {
		return nil, nil, err
	}
	sqrtB, err := tickmath.GetSqrtRatioAtTick(p.tickUpper)
	if err != nil {
		return nil, nil, err
	}
	return pricing.AmountsForLiquidity(sqrtPrice, sqrtA, sqrtB, liquidity, rounding)
}

// Snapshot captures every position and returns a function restoring them.
func (m *PositionManager) Snapshot() func() {
	m.mu.Lock()
	nextID := m.nextID
	saved := make(map[uint64]*simPosition, len(m.positions))
	for id, p := range m.positions {
		saved[id] = p.clone()
	}
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		m.nextID = nextID
		m.positions = saved
		m.mu.Unlock()
	}
}

func orZero(value *uint256.Int) *uint256.Int {
	if value == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(value)
}
