package dex

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// fakeCaller answers eth_call from responses keyed by contract and selector.
type fakeCaller struct {
	responses map[string][]byte
	calls     int
}

func newFakeCaller() *fakeCaller {
	return &fakeCaller{responses: make(map[string][]byte)}
}

func (f *fakeCaller) set(t *testing.T, to common.Address, parsed abi.ABI, method string, outputs ...interface{}) {
	t.Helper()
	m, ok := parsed.Methods[method]
	if !ok {
		t.Fatalf("unknown method %s", method)
	}
	data, err := m.Outputs.Pack(outputs...)
	if err != nil {
		t.Fatalf("pack %s: %v", method, err)
	}
	f.responses[fmt.Sprintf("%s/%x", to.Hex(), m.ID)] = data
}

func (f *fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.calls++
	data, ok := f.responses[fmt.Sprintf("%s/%x", msg.To.Hex(), msg.Data[:4])]
	if !ok {
		return nil, errors.New("execution reverted")
	}
	return data, nil
}

var (
	poolAddress = common.HexToAddress("0x88e6A0c2dDD26FEEb64F039a2c41296FcB3f5640")
	manager     = common.HexToAddress("0xC36442b4a4522E871399CD717aBDD847Ab11FE88")
	usdc        = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	weth        = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	usdcFeed    = common.HexToAddress("0x8fFfFfd4AfB6115b954Bd326cbe7B4BA576818f6")
	wethFeed    = common.HexToAddress("0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419")
)

func mustBig(t *testing.T, value string) *big.Int {
	t.Helper()
	out, ok := new(big.Int).SetString(value, 10)
	if !ok {
		t.Fatalf("bad integer %q", value)
	}
	return out
}

func TestPoolReader(t *testing.T) {
	parsed, err := V3PoolABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	caller := newFakeCaller()
	caller.set(t, poolAddress, parsed, "slot0",
		mustBig(t, "1771595571142957166518320255467520"), big.NewInt(-201189),
		uint16(1), uint16(722), uint16(722), uint8(0), true)
	caller.set(t, poolAddress, parsed, "tickSpacing", big.NewInt(10))
	caller.set(t, poolAddress, parsed, "liquidity", mustBig(t, "21906444384567234851"))

	reader := NewPoolReader(caller)
	ctx := context.Background()

	slot0, err := reader.Slot0(ctx, poolAddress)
	if err != nil {
		t.Fatalf("slot0: %v", err)
	}
	if slot0.SqrtPriceX96.Dec() != "1771595571142957166518320255467520" || slot0.Tick != -201189 {
		t.Fatalf("unexpected slot0 %s / %d", slot0.SqrtPriceX96.Dec(), slot0.Tick)
	}
	spacing, err := reader.TickSpacing(ctx, poolAddress)
	if err != nil || spacing != 10 {
		t.Fatalf("tick spacing %d (%v)", spacing, err)
	}
	liquidity, err := reader.Liquidity(ctx, poolAddress)
	if err != nil || liquidity.Dec() != "21906444384567234851" {
		t.Fatalf("liquidity %v (%v)", liquidity, err)
	}

	if _, err := reader.Slot0(ctx, usdc); err == nil {
		t.Fatalf("expected error for a contract without slot0")
	}
}

func TestPositionReader(t *testing.T) {
	parsed, err := PositionManagerABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	owner := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	factory := common.HexToAddress("0x1F98431c8aD98523631AE4a59f267346ea31F984")

	caller := newFakeCaller()
	caller.set(t, manager, parsed, "positions",
		big.NewInt(0), common.Address{}, usdc, weth, big.NewInt(500),
		big.NewInt(-201300), big.NewInt(-201000), mustBig(t, "123456789012345678"),
		big.NewInt(0), big.NewInt(0), big.NewInt(7), big.NewInt(9))
	caller.set(t, manager, parsed, "ownerOf", owner)
	caller.set(t, manager, parsed, "factory", factory)

	reader := NewPositionReader(caller, manager)
	ctx := context.Background()

	info, err := reader.Position(ctx, big.NewInt(42))
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if info.Token0 != usdc || info.Token1 != weth || info.Fee != 500 {
		t.Fatalf("unexpected identity %+v", info)
	}
	if info.TickLower != -201300 || info.TickUpper != -201000 || info.Liquidity.Dec() != "123456789012345678" {
		t.Fatalf("unexpected range %+v", info)
	}

	got, err := reader.OwnerOf(ctx, big.NewInt(42))
	if err != nil || got != owner {
		t.Fatalf("owner %s (%v)", got.Hex(), err)
	}
	gotFactory, err := reader.Factory(ctx)
	if err != nil || gotFactory != factory {
		t.Fatalf("factory %s (%v)", gotFactory.Hex(), err)
	}
}

func newOracleFixture(t *testing.T, wethAnswer *big.Int, updatedAt int64) (*ChainlinkOracle, *fakeCaller) {
	t.Helper()
	aggregator, err := AggregatorABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	erc20, err := erc20ABIString.get()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}

	caller := newFakeCaller()
	caller.set(t, usdcFeed, aggregator, "decimals", uint8(8))
	caller.set(t, usdcFeed, aggregator, "latestRoundData",
		big.NewInt(1), big.NewInt(100_000_000), big.NewInt(updatedAt), big.NewInt(updatedAt), big.NewInt(1))
	caller.set(t, wethFeed, aggregator, "decimals", uint8(8))
	caller.set(t, wethFeed, aggregator, "latestRoundData",
		big.NewInt(1), wethAnswer, big.NewInt(updatedAt), big.NewInt(updatedAt), big.NewInt(1))
	caller.set(t, usdc, erc20, "decimals", uint8(6))
	caller.set(t, usdc, erc20, "symbol", "USDC")
	caller.set(t, weth, erc20, "decimals", uint8(18))
	caller.set(t, weth, erc20, "symbol", "WETH")

	oracle := NewChainlinkOracle(caller, map[common.Address]common.Address{
		usdc: usdcFeed,
		weth: wethFeed,
	}, nil)
	return oracle, caller
}

func TestChainlinkOracleUnitPrices(t *testing.T) {
	oracle, caller := newOracleFixture(t, big.NewInt(300_000_000_000), 1_700_000_000)
	ctx := context.Background()

	price0, price1, err := oracle.UnitPricesUSD(ctx, usdc, weth)
	if err != nil {
		t.Fatalf("unit prices: %v", err)
	}
	if price0.Dec() != "1000000000000000000000000000000" {
		t.Fatalf("unexpected usdc unit price %s", price0.Dec())
	}
	if price1.Dec() != "3000000000000000000000" {
		t.Fatalf("unexpected weth unit price %s", price1.Dec())
	}

	// token decimals are cached after the first lookup
	before := caller.calls
	if _, _, err := oracle.UnitPricesUSD(ctx, usdc, weth); err != nil {
		t.Fatalf("unit prices: %v", err)
	}
	if caller.calls-before != 4 {
		t.Fatalf("expected 4 feed calls on a warm cache, got %d", caller.calls-before)
	}
}

func TestChainlinkOracleRejectsBadAnswers(t *testing.T) {
	ctx := context.Background()

	oracle, _ := newOracleFixture(t, big.NewInt(-1), 1_700_000_000)
	if _, _, err := oracle.UnitPricesUSD(ctx, usdc, weth); !errors.Is(err, ErrInvalidAnswer) {
		t.Fatalf("expected ErrInvalidAnswer, got %v", err)
	}

	oracle, _ = newOracleFixture(t, big.NewInt(300_000_000_000), 1_700_000_000)
	oracle.MaxAge = time.Hour
	oracle.now = func() time.Time { return time.Unix(1_700_000_000, 0).Add(2 * time.Hour) }
	if _, _, err := oracle.UnitPricesUSD(ctx, usdc, weth); !errors.Is(err, ErrStaleAnswer) {
		t.Fatalf("expected ErrStaleAnswer, got %v", err)
	}

	unknown := common.HexToAddress("0x00000000000000000000000000000000000000ff")
	if _, _, err := oracle.UnitPricesUSD(ctx, unknown, weth); !errors.Is(err, ErrNoFeed) {
		t.Fatalf("expected ErrNoFeed, got %v", err)
	}
}

func TestUnitPriceFromAnswer(t *testing.T) {
	cases := []struct {
		answer        int64
		feedDecimals  uint8
		tokenDecimals uint8
		want          string
	}{
		{answer: 100_000_000, feedDecimals: 8, tokenDecimals: 18, want: "1000000000000000000"},
		{answer: 100_000_000, feedDecimals: 8, tokenDecimals: 6, want: "1000000000000000000000000000000"},
		{answer: 6_500_000_000_000, feedDecimals: 8, tokenDecimals: 8, want: "650000000000000000000000000000000"},
		{answer: 1_500_000_000_000_000_000, feedDecimals: 18, tokenDecimals: 18, want: "1500000000000000000"},
	}
	for _, tc := range cases {
		got, err := UnitPriceFromAnswer(big.NewInt(tc.answer), tc.feedDecimals, tc.tokenDecimals)
		if err != nil {
			t.Fatalf("answer %d: %v", tc.answer, err)
		}
		if got.Dec() != tc.want {
			t.Fatalf("answer %d with %d/%d decimals: got %s want %s", tc.answer, tc.feedDecimals, tc.tokenDecimals, got.Dec(), tc.want)
		}
	}

	if _, err := UnitPriceFromAnswer(big.NewInt(1), 18, 30); !errors.Is(err, ErrInvalidAnswer) {
		t.Fatalf("expected truncation to zero to fail, got %v", err)
	}
}

func TestFetchTokenMeta(t *testing.T) {
	_, caller := newOracleFixture(t, big.NewInt(1), 0)
	meta, err := FetchTokenMeta(context.Background(), caller, usdc, nil)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if meta.Decimals != 6 || meta.Symbol != "USDC" || meta.Address != usdc.Hex() {
		t.Fatalf("unexpected meta %+v", meta)
	}

	if _, err := FetchTokenMeta(context.Background(), caller, poolAddress, nil); err == nil {
		t.Fatalf("expected error without decimals")
	}
}

func TestInt24FromBig(t *testing.T) {
	if v, err := int24FromBig(big.NewInt(-8388608)); err != nil || v != -8388608 {
		t.Fatalf("min int24: %d (%v)", v, err)
	}
	if _, err := int24FromBig(big.NewInt(8388608)); err == nil {
		t.Fatalf("expected overflow")
	}
	if _, err := asUint256(big.NewInt(-1)); err == nil {
		t.Fatalf("expected negative value to be rejected")
	}
}
