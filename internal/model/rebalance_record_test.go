package model

import (
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"liquidityRebalancer/internal/rebalance"
)

func TestNewRebalanceRecord(t *testing.T) {
	result := rebalance.Result{
		PositionID:    big.NewInt(7),
		NewPositionID: big.NewInt(8),
		Owner:         common.HexToAddress("0x00000000000000000000000000000000000000a1"),
		Pool:          common.HexToAddress("0x88e6A0c2dDD26FEEb64F039a2c41296FcB3f5640"),
		TickLower:     -1200,
		TickUpper:     1200,
		Swapped:       true,
		AmountIn:      uint256.NewInt(1_000),
		Liquidity:     uint256.NewInt(42),
	}
	at := time.Date(2024, 1, 1, 8, 0, 0, 0, time.FixedZone("UTC+8", 8*3600))

	record := NewRebalanceRecord(result, at)
	if record.PositionID != "7" || record.NewPositionID != "8" {
		t.Fatalf("unexpected ids %s -> %s", record.PositionID, record.NewPositionID)
	}
	if record.Pool != "0x88e6A0c2dDD26FEEb64F039a2c41296FcB3f5640" {
		t.Fatalf("pool not checksummed: %s", record.Pool)
	}
	if record.AmountIn != "1000" || record.AmountOut != "0" || record.Liquidity != "42" {
		t.Fatalf("unexpected amounts %+v", record)
	}
	if record.RecordedAt != "2024-01-01T00:00:00Z" {
		t.Fatalf("unexpected timestamp %s", record.RecordedAt)
	}

	b, err := json.Marshal(record)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(b, &fields); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if fields["tick_lower"].(float64) != -1200 || fields["zero_to_one"].(bool) {
		t.Fatalf("unexpected json %s", b)
	}
}

func TestFormatUnits(t *testing.T) {
	cases := []struct {
		amount   uint64
		decimals uint8
		want     string
	}{
		{amount: 1_500_000, decimals: 6, want: "1.5"},
		{amount: 50_000_000_000_000_000, decimals: 18, want: "0.05"},
		{amount: 42, decimals: 0, want: "42"},
	}
	for _, tc := range cases {
		if got := FormatUnits(uint256.NewInt(tc.amount), tc.decimals); got != tc.want {
			t.Fatalf("FormatUnits(%d, %d) = %s, want %s", tc.amount, tc.decimals, got, tc.want)
		}
	}
	if got := FormatWAD(uint256.NewInt(10_000_000_000_000_000)); got != "0.01" {
		t.Fatalf("FormatWAD = %s", got)
	}
}

func TestPriceFromSqrtX96(t *testing.T) {
	q96 := new(uint256.Int).Lsh(uint256.NewInt(1), 96)
	if got := PriceFromSqrtX96(q96, 18, 18, 6); got != "1" {
		t.Fatalf("price at Q96 = %s", got)
	}
	half := new(uint256.Int).Rsh(q96, 1)
	if got := PriceFromSqrtX96(half, 18, 18, 6); got != "0.25" {
		t.Fatalf("price at Q96/2 = %s", got)
	}
	// one whole token0 with 6 decimals against an 18 decimal token1
	if got := PriceFromSqrtX96(q96, 6, 18, 15); got != "0.000000000001" {
		t.Fatalf("decimal-adjusted price = %s", got)
	}
}
