package model

import (
	"math/big"
	"time"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"liquidityRebalancer/internal/rebalance"
)

// RebalanceRecord is the flattened form of a completed rebalance for storage.
// Integer amounts are base-unit decimal strings.
type RebalanceRecord struct {
	PositionID      string `json:"position_id"`
	NewPositionID   string `json:"new_position_id"`
	Owner           string `json:"owner"`
	Initiator       string `json:"initiator"`
	Pool            string `json:"pool"`
	TickLower       int32  `json:"tick_lower"`
	TickUpper       int32  `json:"tick_upper"`
	SqrtPriceBefore string `json:"sqrt_price_before"`
	SqrtPriceAfter  string `json:"sqrt_price_after"`
	TrustedPrice    string `json:"trusted_sqrt_price"`
	Swapped         bool   `json:"swapped"`
	External        bool   `json:"external"`
	ZeroToOne       bool   `json:"zero_to_one"`
	AmountIn        string `json:"amount_in"`
	AmountOut       string `json:"amount_out"`
	InitiatorFee    string `json:"initiator_fee"`
	Iterations      int    `json:"iterations"`
	Liquidity       string `json:"liquidity"`
	MinLiquidity    string `json:"min_liquidity"`
	Amount0         string `json:"amount0"`
	Amount1         string `json:"amount1"`
	Leftover0       string `json:"leftover0"`
	Leftover1       string `json:"leftover1"`
	RecordedAt      string `json:"recorded_at"`
}

// NewRebalanceRecord flattens r, stamped with at in UTC.
func NewRebalanceRecord(r rebalance.Result, at time.Time) RebalanceRecord {
	return RebalanceRecord{
		PositionID:      bigString(r.PositionID),
		NewPositionID:   bigString(r.NewPositionID),
		Owner:           r.Owner.Hex(),
		Initiator:       r.Initiator.Hex(),
		Pool:            r.Pool.Hex(),
		TickLower:       r.TickLower,
		TickUpper:       r.TickUpper,
		SqrtPriceBefore: uintString(r.SqrtPriceBefore),
		SqrtPriceAfter:  uintString(r.SqrtPriceAfter),
		TrustedPrice:    uintString(r.TrustedSqrtPrice),
		Swapped:         r.Swapped,
		External:        r.External,
		ZeroToOne:       r.ZeroToOne,
		AmountIn:        uintString(r.AmountIn),
		AmountOut:       uintString(r.AmountOut),
		InitiatorFee:    uintString(r.InitiatorFee),
		Iterations:      r.Iterations,
		Liquidity:       uintString(r.Liquidity),
		MinLiquidity:    uintString(r.MinLiquidity),
		Amount0:         uintString(r.Amount0),
		Amount1:         uintString(r.Amount1),
		Leftover0:       uintString(r.Leftover0),
		Leftover1:       uintString(r.Leftover1),
		RecordedAt:      at.UTC().Format(time.RFC3339),
	}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func uintString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

// FormatUnits renders a base-unit amount with the token's decimals.
func FormatUnits(amount *uint256.Int, decimals uint8) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount.ToBig(), -int32(decimals)).String()
}

// FormatWAD renders an 18-decimal fixed point value, such as a tolerance.
func FormatWAD(value *uint256.Int) string {
	return FormatUnits(value, 18)
}

var q192 = decimal.NewFromBigInt(new(big.Int).Lsh(big.NewInt(1), 192), 0)

// PriceFromSqrtX96 converts a Q64.96 sqrt price into the human price of one
// token0 in token1, rounded to places digits.
func PriceFromSqrtX96(sqrtPriceX96 *uint256.Int, decimals0, decimals1 uint8, places int32) string {
	if sqrtPriceX96 == nil {
		return "0"
	}
	s := decimal.NewFromBigInt(sqrtPriceX96.ToBig(), 0)
	raw := s.Mul(s).DivRound(q192, places+int32(decimals1)+1)
	return raw.Shift(int32(decimals0) - int32(decimals1)).Round(places).String()
}
