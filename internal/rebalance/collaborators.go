package rebalance

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"liquidityRebalancer/internal/position"
)

// MintParams opens a new position.
type MintParams struct {
	Token0         common.Address
	Token1         common.Address
	Fee            uint32
	TickLower      int32
	TickUpper      int32
	Amount0Desired *uint256.Int
	Amount1Desired *uint256.Int
	Recipient      common.Address
}

// MintResult reports the new position and what it consumed.
type MintResult struct {
	TokenID   *big.Int
	Liquidity *uint256.Int
	Amount0   *uint256.Int
	Amount1   *uint256.Int
}

// PositionManager is the position registry.
type PositionManager interface {
	position.PositionReader
	OwnerOf(ctx context.Context, id *big.Int) (common.Address, error)
	DecreaseLiquidity(ctx context.Context, id *big.Int, liquidity *uint256.Int) (amount0, amount1 *uint256.Int, err error)
	// Collect returns everything owed to the position, withdrawn principal included.
	Collect(ctx context.Context, id *big.Int) (amount0, amount1 *uint256.Int, err error)
	Burn(ctx context.Context, id *big.Int) error
	Mint(ctx context.Context, params MintParams) (MintResult, error)
}

// SettleFunc pays the pool inside a swap. Positive deltas are owed to the pool.
type SettleFunc func(ctx context.Context, amount0Delta, amount1Delta *big.Int) error

// Pool executes swaps and reports its state.
type Pool interface {
	position.PoolReader
	// Swap trades against pool. A positive amountSpecified is an exact input.
	// The returned deltas use the same sign convention as settle.
	Swap(ctx context.Context, pool common.Address, zeroForOne bool, amountSpecified *big.Int, sqrtPriceLimitX96 *uint256.Int, settle SettleFunc) (amount0, amount1 *big.Int, err error)
}

// ExternalSwap is a caller-supplied route executed instead of the pool swap.
type ExternalSwap struct {
	ZeroToOne bool
	// AmountIn is taken from the balances, initiator fee included.
	AmountIn     *uint256.Int
	MinAmountOut *uint256.Int
	Data         []byte
}

// Router executes external swaps. amountIn has the initiator fee removed.
type Router interface {
	Swap(ctx context.Context, pool common.Address, zeroToOne bool, amountIn *uint256.Int, data []byte) (amountOut *uint256.Int, err error)
}

// Ledger receives tokens paid out of a rebalance.
type Ledger interface {
	Credit(ctx context.Context, account, token common.Address, amount *uint256.Int) error
}

// Transactor runs fn as one unit; an error discards every effect fn had.
// Atomic must not wait for a unit already in flight: a nested or concurrent
// call fails with ErrReentrancyDetected.
type Transactor interface {
	Atomic(ctx context.Context, fn func(ctx context.Context) error) error
}
