package dex

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"liquidityRebalancer/internal/position"
)

// PositionReader reads NonfungiblePositionManager positions over eth_call.
type PositionReader struct {
	caller  Caller
	manager common.Address
	Block   *big.Int
}

func NewPositionReader(caller Caller, manager common.Address) *PositionReader {
	return &PositionReader{caller: caller, manager: manager}
}

// Position implements position.PositionReader.
func (r *PositionReader) Position(ctx context.Context, id *big.Int) (position.Info, error) {
	parsed, err := PositionManagerABI()
	if err != nil {
		return position.Info{}, fmt.Errorf("parse position manager abi: %w", err)
	}
	values, err := callMethod(ctx, r.caller, r.manager, parsed, "positions", r.Block, id)
	if err != nil {
		return position.Info{}, err
	}
	if len(values) < 8 {
		return position.Info{}, fmt.Errorf("positions: %d values", len(values))
	}

	var info position.Info
	if info.Token0, err = asAddress(values[2]); err != nil {
		return position.Info{}, fmt.Errorf("token0: %w", err)
	}
	if info.Token1, err = asAddress(values[3]); err != nil {
		return position.Info{}, fmt.Errorf("token1: %w", err)
	}
	fee, err := asBigInt(values[4])
	if err != nil {
		return position.Info{}, fmt.Errorf("fee: %w", err)
	}
	info.Fee = uint32(fee.Uint64())
	if info.TickLower, err = asInt24(values[5]); err != nil {
		return position.Info{}, fmt.Errorf("tick lower: %w", err)
	}
	if info.TickUpper, err = asInt24(values[6]); err != nil {
		return position.Info{}, fmt.Errorf("tick upper: %w", err)
	}
	if info.Liquidity, err = asUint256(values[7]); err != nil {
		return position.Info{}, fmt.Errorf("liquidity: %w", err)
	}
	return info, nil
}

// OwnerOf returns the holder of position id.
func (r *PositionReader) OwnerOf(ctx context.Context, id *big.Int) (common.Address, error) {
	parsed, err := PositionManagerABI()
	if err != nil {
		return common.Address{}, fmt.Errorf("parse position manager abi: %w", err)
	}
	values, err := callMethod(ctx, r.caller, r.manager, parsed, "ownerOf", r.Block, id)
	if err != nil {
		return common.Address{}, err
	}
	return asAddress(values[0])
}

// Factory returns the pool factory the manager deploys through.
func (r *PositionReader) Factory(ctx context.Context) (common.Address, error) {
	parsed, err := PositionManagerABI()
	if err != nil {
		return common.Address{}, fmt.Errorf("parse position manager abi: %w", err)
	}
	values, err := callMethod(ctx, r.caller, r.manager, parsed, "factory", r.Block)
	if err != nil {
		return common.Address{}, err
	}
	return asAddress(values[0])
}
