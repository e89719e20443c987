package dex

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"liquidityRebalancer/internal/position"
)

// PoolReader reads live V3 pool state over eth_call. A zero Block reads the
// latest state.
type PoolReader struct {
	caller Caller
	Block  *big.Int
}

func NewPoolReader(caller Caller) *PoolReader {
	return &PoolReader{caller: caller}
}

// Slot0 implements position.PoolReader.
func (r *PoolReader) Slot0(ctx context.Context, pool common.Address) (position.Slot0, error) {
	parsed, err := V3PoolABI()
	if err != nil {
		return position.Slot0{}, fmt.Errorf("parse pool abi: %w", err)
	}
	values, err := callMethod(ctx, r.caller, pool, parsed, "slot0", r.Block)
	if err != nil {
		return position.Slot0{}, err
	}
	if len(values) < 2 {
		return position.Slot0{}, fmt.Errorf("slot0: %d values", len(values))
	}
	sqrtPrice, err := asUint256(values[0])
	if err != nil {
		return position.Slot0{}, fmt.Errorf("slot0 sqrt price: %w", err)
	}
	tick, err := asInt24(values[1])
	if err != nil {
		return position.Slot0{}, fmt.Errorf("slot0 tick: %w", err)
	}
	return position.Slot0{SqrtPriceX96: sqrtPrice, Tick: tick}, nil
}

// TickSpacing implements position.PoolReader.
func (r *PoolReader) TickSpacing(ctx context.Context, pool common.Address) (int32, error) {
	parsed, err := V3PoolABI()
	if err != nil {
		return 0, fmt.Errorf("parse pool abi: %w", err)
	}
	values, err := callMethod(ctx, r.caller, pool, parsed, "tickSpacing", r.Block)
	if err != nil {
		return 0, err
	}
	spacing, err := asInt24(values[0])
	if err != nil {
		return 0, fmt.Errorf("tick spacing: %w", err)
	}
	return spacing, nil
}

// Liquidity implements position.PoolReader.
func (r *PoolReader) Liquidity(ctx context.Context, pool common.Address) (*uint256.Int, error) {
	parsed, err := V3PoolABI()
	if err != nil {
		return nil, fmt.Errorf("parse pool abi: %w", err)
	}
	values, err := callMethod(ctx, r.caller, pool, parsed, "liquidity", r.Block)
	if err != nil {
		return nil, err
	}
	liquidity, err := asUint256(values[0])
	if err != nil {
		return nil, fmt.Errorf("liquidity: %w", err)
	}
	return liquidity, nil
}
