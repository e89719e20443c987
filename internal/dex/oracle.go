package dex

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrNoFeed        = errors.New("no price feed for token")
	ErrInvalidAnswer = errors.New("non-positive feed answer")
	ErrStaleAnswer   = errors.New("stale feed answer")
)

// unitScale is the exponent of a unit price: USD per base unit with 36
// decimals, so an 18-decimal token worth $1 has unit price 1e18.
const unitScale = 36

// ChainlinkOracle prices tokens from Chainlink USD feeds.
type ChainlinkOracle struct {
	caller Caller
	feeds  map[common.Address]common.Address
	tokens *TokenMetaCache
	logger *zap.Logger

	// MaxAge rejects answers older than this when non-zero.
	MaxAge time.Duration
	now    func() time.Time
}

// NewChainlinkOracle creates an oracle over feeds, keyed by token address.
func NewChainlinkOracle(caller Caller, feeds map[common.Address]common.Address, logger *zap.Logger) *ChainlinkOracle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChainlinkOracle{
		caller: caller,
		feeds:  feeds,
		tokens: NewTokenMetaCache(),
		logger: logger,
		now:    time.Now,
	}
}

// UnitPricesUSD implements position.PriceOracle.
func (o *ChainlinkOracle) UnitPricesUSD(ctx context.Context, token0, token1 common.Address) (*uint256.Int, *uint256.Int, error) {
	price0, err := o.UnitPrice(ctx, token0)
	if err != nil {
		return nil, nil, err
	}
	price1, err := o.UnitPrice(ctx, token1)
	if err != nil {
		return nil, nil, err
	}
	return price0, price1, nil
}

// UnitPrice returns the USD value of one base unit of token.
func (o *ChainlinkOracle) UnitPrice(ctx context.Context, token common.Address) (*uint256.Int, error) {
	feed, ok := o.feeds[token]
	if !ok {
		return nil, fmt.Errorf("%s: %w", token.Hex(), ErrNoFeed)
	}
	parsed, err := AggregatorABI()
	if err != nil {
		return nil, fmt.Errorf("parse aggregator abi: %w", err)
	}

	values, err := callMethod(ctx, o.caller, feed, parsed, "decimals", nil)
	if err != nil {
		return nil, err
	}
	feedDecimals, err := asUint8(values[0])
	if err != nil {
		return nil, fmt.Errorf("feed decimals: %w", err)
	}

	values, err = callMethod(ctx, o.caller, feed, parsed, "latestRoundData", nil)
	if err != nil {
		return nil, err
	}
	if len(values) < 4 {
		return nil, fmt.Errorf("latestRoundData: %d values", len(values))
	}
	answer, err := asBigInt(values[1])
	if err != nil {
		return nil, fmt.Errorf("answer: %w", err)
	}
	if answer.Sign() <= 0 {
		return nil, fmt.Errorf("feed %s answered %s: %w", feed.Hex(), answer, ErrInvalidAnswer)
	}
	updatedAt, err := asBigInt(values[3])
	if err != nil {
		return nil, fmt.Errorf("updated at: %w", err)
	}
	if o.MaxAge > 0 {
		age := o.now().Sub(time.Unix(updatedAt.Int64(), 0))
		if age > o.MaxAge {
			return nil, fmt.Errorf("feed %s is %s old: %w", feed.Hex(), age.Round(time.Second), ErrStaleAnswer)
		}
	}

	meta, err := o.tokens.Lookup(ctx, o.caller, token, o.logger)
	if err != nil {
		return nil, fmt.Errorf("token %s metadata: %w", token.Hex(), err)
	}
	price, err := UnitPriceFromAnswer(answer, feedDecimals, meta.Decimals)
	if err != nil {
		return nil, err
	}
	o.logger.Debug("feed price",
		zap.String("token", token.Hex()),
		zap.String("feed", feed.Hex()),
		zap.String("answer", decimal.NewFromBigInt(answer, -int32(feedDecimals)).String()),
	)
	return price, nil
}

// UnitPriceFromAnswer rescales a feed answer in USD per whole token to USD
// per base unit with 36 decimals, truncating.
func UnitPriceFromAnswer(answer *big.Int, feedDecimals, tokenDecimals uint8) (*uint256.Int, error) {
	exp := int32(unitScale) - int32(feedDecimals) - int32(tokenDecimals)
	scaled := decimal.NewFromBigInt(answer, exp).BigInt()
	price, overflow := uint256.FromBig(scaled)
	if overflow {
		return nil, fmt.Errorf("unit price overflows: %s", scaled)
	}
	if price.IsZero() {
		return nil, fmt.Errorf("unit price truncates to zero: %w", ErrInvalidAnswer)
	}
	return price, nil
}
