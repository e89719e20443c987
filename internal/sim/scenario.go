package sim

import (
	"context"
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/sugawarayuuta/sonnet"

	"liquidityRebalancer/internal/fixedpoint"
	"liquidityRebalancer/internal/position"
	"liquidityRebalancer/internal/pricing"
	"liquidityRebalancer/internal/rebalance"
)

// Scenario describes one pool, one position and one rebalance request.
// Amounts are decimal strings in base units.
type Scenario struct {
	Factory       string `json:"factory"`
	Token0        string `json:"token0"`
	Token1        string `json:"token1"`
	Fee           uint32 `json:"fee"`
	TickSpacing   int32  `json:"tick_spacing"`
	SqrtPriceX96  string `json:"sqrt_price_x96,omitempty"`
	PoolLiquidity string `json:"pool_liquidity"`
	// Price0USD and Price1USD are oracle unit prices, see StaticOracle.
	Price0USD     string `json:"price0_usd"`
	Price1USD     string `json:"price1_usd"`

	Owner     string `json:"owner"`
	Initiator string `json:"initiator"`
	Tolerance string `json:"tolerance"`
	// InitiatorFee is the initiator's share of the swap input, 18 decimals.
	InitiatorFee string `json:"initiator_fee"`

	Position ScenarioPosition `json:"position"`
	Request  ScenarioRequest  `json:"request"`
}

// ScenarioPosition is the position to rebalance.
type ScenarioPosition struct {
	TickLower int32  `json:"tick_lower"`
	TickUpper int32  `json:"tick_upper"`
	Liquidity string `json:"liquidity"`
	Fees0     string `json:"fees0,omitempty"`
	Fees1     string `json:"fees1,omitempty"`
}

// ScenarioRequest is an optional explicit range and external swap.
type ScenarioRequest struct {
	TickLower    int32            `json:"tick_lower,omitempty"`
	TickUpper    int32            `json:"tick_upper,omitempty"`
	ExternalSwap *ScenarioExtSwap `json:"external_swap,omitempty"`
}

// ScenarioExtSwap mirrors rebalance.ExternalSwap.
type ScenarioExtSwap struct {
	ZeroToOne    bool   `json:"zero_to_one"`
	AmountIn     string `json:"amount_in"`
	MinAmountOut string `json:"min_amount_out,omitempty"`
}

// LoadScenario reads a JSON scenario file.
func LoadScenario(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("read scenario: %w", err)
	}
	var scenario Scenario
	if err := sonnet.Unmarshal(data, &scenario); err != nil {
		return Scenario{}, fmt.Errorf("decode scenario: %w", err)
	}
	return scenario, nil
}

// Addresses returns the scenario's factory, owner and initiator.
func (s Scenario) Addresses() (factory, owner, initiator common.Address, err error) {
	for _, value := range []string{s.Factory, s.Owner, s.Initiator, s.Token0, s.Token1} {
		if !common.IsHexAddress(value) {
			return common.Address{}, common.Address{}, common.Address{}, fmt.Errorf("invalid address %q", value)
		}
	}
	return common.HexToAddress(s.Factory), common.HexToAddress(s.Owner), common.HexToAddress(s.Initiator), nil
}

// Setup deploys the scenario into w and returns the request to run.
func (s Scenario) Setup(ctx context.Context, w *World) (rebalance.Request, error) {
	_, owner, initiatorAddress, err := s.Addresses()
	if err != nil {
		return rebalance.Request{}, err
	}
	token0, token1 := position.SortTokens(common.HexToAddress(s.Token0), common.HexToAddress(s.Token1))

	amounts, err := parseAll(map[string]string{
		"pool_liquidity":     s.PoolLiquidity,
		"price0_usd":         s.Price0USD,
		"price1_usd":         s.Price1USD,
		"tolerance":          s.Tolerance,
		"initiator_fee":      s.InitiatorFee,
		"position.liquidity": s.Position.Liquidity,
		"position.fees0":     s.Position.Fees0,
		"position.fees1":     s.Position.Fees1,
	})
	if err != nil {
		return rebalance.Request{}, err
	}

	// prices are given for the scenario's token0/token1 and follow the sort
	price0, price1 := amounts["price0_usd"], amounts["price1_usd"]
	if token0 != common.HexToAddress(s.Token0) {
		price0, price1 = price1, price0
	}
	w.Oracle.SetPrice(token0, price0)
	w.Oracle.SetPrice(token1, price1)

	var sqrtPrice *uint256.Int
	if s.SqrtPriceX96 != "" {
		if sqrtPrice, err = fixedpoint.Parse(s.SqrtPriceX96); err != nil {
			return rebalance.Request{}, fmt.Errorf("sqrt_price_x96: %w", err)
		}
	} else if sqrtPrice, err = pricing.SqrtPriceFromUSD(price0, price1); err != nil {
		return rebalance.Request{}, err
	}

	_, err = w.Exchange.CreatePool(PoolConfig{
		Token0:       token0,
		Token1:       token1,
		Fee:          s.Fee,
		TickSpacing:  s.TickSpacing,
		SqrtPriceX96: sqrtPrice,
		Liquidity:    amounts["pool_liquidity"],
	})
	if err != nil {
		return rebalance.Request{}, fmt.Errorf("create pool: %w", err)
	}

	id, err := w.Positions.Open(owner, token0, token1, s.Fee, s.Position.TickLower, s.Position.TickUpper,
		amounts["position.liquidity"], amounts["position.fees0"], amounts["position.fees1"])
	if err != nil {
		return rebalance.Request{}, fmt.Errorf("open position: %w", err)
	}

	if _, err := w.Registry.Set(ctx, initiatorAddress, amounts["tolerance"], amounts["initiator_fee"]); err != nil {
		return rebalance.Request{}, err
	}
	if err := w.Registry.Authorize(ctx, owner, initiatorAddress, true); err != nil {
		return rebalance.Request{}, err
	}

	req := rebalance.Request{
		PositionID: new(big.Int).Set(id),
		Range:      position.Range{TickLower: s.Request.TickLower, TickUpper: s.Request.TickUpper},
	}
	if ext := s.Request.ExternalSwap; ext != nil {
		swap := rebalance.ExternalSwap{ZeroToOne: ext.ZeroToOne}
		if swap.AmountIn, err = fixedpoint.Parse(ext.AmountIn); err != nil {
			return rebalance.Request{}, fmt.Errorf("external_swap.amount_in: %w", err)
		}
		if ext.MinAmountOut != "" {
			if swap.MinAmountOut, err = fixedpoint.Parse(ext.MinAmountOut); err != nil {
				return rebalance.Request{}, fmt.Errorf("external_swap.min_amount_out: %w", err)
			}
		}
		req.ExternalSwap = &swap
	}
	return req, nil
}

func parseAll(values map[string]string) (map[string]*uint256.Int, error) {
	out := make(map[string]*uint256.Int, len(values))
	for name, value := range values {
		if value == "" {
			out[name] = new(uint256.Int)
			continue
		}
		parsed, err := fixedpoint.Parse(value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		out[name] = parsed
	}
	return out, nil
}
