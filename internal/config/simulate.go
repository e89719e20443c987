package config

import "github.com/spf13/pflag"

// SimulateConfig holds configuration for the simulate command.
type SimulateConfig struct {
	Scenario         string
	Out              string
	PGDSN            string
	MaxSlippageRatio string
	MaxIterations    int
	RatioTolerance   string
	LogLevel         string
}

// LoadSimulate merges config file, environment variables, and flags into SimulateConfig.
func LoadSimulate(cfgFile string, flags *pflag.FlagSet) (SimulateConfig, error) {
	v, err := newViper(cfgFile, flags, map[string]interface{}{
		"out":                "./data/rebalances.jsonl",
		"max-slippage-ratio": "990000000000000000",
		"max-iterations":     100,
		"ratio-tolerance":    "1000000000000",
		"log-level":          "info",
	})
	if err != nil {
		return SimulateConfig{}, err
	}

	cfg := SimulateConfig{
		Scenario:         v.GetString("scenario"),
		Out:              v.GetString("out"),
		PGDSN:            v.GetString("pg-dsn"),
		MaxSlippageRatio: v.GetString("max-slippage-ratio"),
		MaxIterations:    v.GetInt("max-iterations"),
		RatioTolerance:   v.GetString("ratio-tolerance"),
		LogLevel:         v.GetString("log-level"),
	}

	return cfg, nil
}
