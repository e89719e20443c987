package config

import (
	"time"

	"github.com/spf13/pflag"
)

// DefaultFactory is the Uniswap V3 factory on Ethereum mainnet.
const DefaultFactory = "0x1F98431c8aD98523631AE4a59f267346ea31F984"

// DefaultPositionManager is the NonfungiblePositionManager on Ethereum mainnet.
const DefaultPositionManager = "0xC36442b4a4522E871399CD717aBDD847Ab11FE88"

// PlanConfig holds configuration for the plan command.
type PlanConfig struct {
	RPCURL          string
	Factory         string
	PositionManager string
	PositionID      string
	TickLower       int32
	TickUpper       int32
	Initiator       string
	Tolerance       string
	Fee             string
	Feeds           map[string]string
	MaxFeedAge      time.Duration
	MaxIterations   int
	RatioTolerance  string
	PGDSN           string
	MaxRetries      int
	RetryBackoff    time.Duration
	LogLevel        string
}

// LoadPlan merges config file, environment variables, and flags into PlanConfig.
func LoadPlan(cfgFile string, flags *pflag.FlagSet) (PlanConfig, error) {
	v, err := newViper(cfgFile, flags, map[string]interface{}{
		"factory":          DefaultFactory,
		"position-manager": DefaultPositionManager,
		"tolerance":        "50000000000000000",
		"fee":              "0",
		"max-feed-age":     time.Hour,
		"max-iterations":   100,
		"ratio-tolerance":  "1000000000000",
		"max-retries":      5,
		"retry-backoff":    500 * time.Millisecond,
		"log-level":        "info",
	})
	if err != nil {
		return PlanConfig{}, err
	}

	cfg := PlanConfig{
		RPCURL:          v.GetString("rpc"),
		Factory:         v.GetString("factory"),
		PositionManager: v.GetString("position-manager"),
		PositionID:      v.GetString("position"),
		TickLower:       v.GetInt32("tick-lower"),
		TickUpper:       v.GetInt32("tick-upper"),
		Initiator:       v.GetString("initiator"),
		Tolerance:       v.GetString("tolerance"),
		Fee:             v.GetString("fee"),
		Feeds:           getStringMap(v, "feeds"),
		MaxFeedAge:      v.GetDuration("max-feed-age"),
		MaxIterations:   v.GetInt("max-iterations"),
		RatioTolerance:  v.GetString("ratio-tolerance"),
		PGDSN:           v.GetString("pg-dsn"),
		MaxRetries:      v.GetInt("max-retries"),
		RetryBackoff:    v.GetDuration("retry-backoff"),
		LogLevel:        v.GetString("log-level"),
	}

	return cfg, nil
}
