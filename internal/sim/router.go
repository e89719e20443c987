package sim

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"liquidityRebalancer/internal/fixedpoint"
	"liquidityRebalancer/internal/tickmath"
)

// Router routes external swaps straight through the exchange pool with no
// price limit other than the domain edge.
type Router struct {
	exchange *Exchange
}

func NewRouter(exchange *Exchange) *Router {
	return &Router{exchange: exchange}
}

// Swap implements rebalance.Router. The route payload is ignored.
func (r *Router) Swap(ctx context.Context, pool common.Address, zeroToOne bool, amountIn *uint256.Int, _ []byte) (*uint256.Int, error) {
	limit := new(uint256.Int).AddUint64(tickmath.MinSqrtRatio, 1)
	if !zeroToOne {
		limit = new(uint256.Int).SubUint64(tickmath.MaxSqrtRatio, 1)
	}
	amount0, amount1, err := r.exchange.Swap(ctx, pool, zeroToOne, amountIn.ToBig(), limit, nil)
	if err != nil {
		return nil, fmt.Errorf("route %s: %w", fixedpoint.String(amountIn), err)
	}
	out := amount1
	if !zeroToOne {
		out = amount0
	}
	return fixedpoint.FromBig(out.Neg(out))
}
