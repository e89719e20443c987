package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var ErrNoPrice = errors.New("no price for token")

// StaticOracle serves fixed USD unit prices: USD per base unit of a token,
// scaled by 1e36. An 18 decimal token worth $1 has unit price 1e18.
type StaticOracle struct {
	mu     sync.RWMutex
	prices map[common.Address]*uint256.Int
}

func NewStaticOracle() *StaticOracle {
	return &StaticOracle{prices: make(map[common.Address]*uint256.Int)}
}

// SetPrice sets the unit price of token, in the UnitPricesUSD scale.
func (o *StaticOracle) SetPrice(token common.Address, price *uint256.Int) {
	o.mu.Lock()
	o.prices[token] = new(uint256.Int).Set(price)
	o.mu.Unlock()
}

// UnitPricesUSD implements position.PriceOracle.
func (o *StaticOracle) UnitPricesUSD(_ context.Context, token0, token1 common.Address) (*uint256.Int, *uint256.Int, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	price0, ok := o.prices[token0]
	if !ok {
		return nil, nil, fmt.Errorf("%s: %w", token0.Hex(), ErrNoPrice)
	}
	price1, ok := o.prices[token1]
	if !ok {
		return nil, nil, fmt.Errorf("%s: %w", token1.Hex(), ErrNoPrice)
	}
	return new(uint256.Int).Set(price0), new(uint256.Int).Set(price1), nil
}
