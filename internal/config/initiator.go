package config

import "github.com/spf13/pflag"

// InitiatorConfig holds configuration for the initiator and authorize commands.
type InitiatorConfig struct {
	PGDSN        string
	Initiator    string
	Owner        string
	Tolerance    string
	Fee          string
	MaxTolerance string
	MaxFee       string
	Revoke       bool
	LogLevel     string
}

// LoadInitiator merges config file, environment variables, and flags into InitiatorConfig.
func LoadInitiator(cfgFile string, flags *pflag.FlagSet) (InitiatorConfig, error) {
	v, err := newViper(cfgFile, flags, map[string]interface{}{
		"max-tolerance": "100000000000000000",
		"max-fee":       "50000000000000000",
		"log-level":     "info",
	})
	if err != nil {
		return InitiatorConfig{}, err
	}

	cfg := InitiatorConfig{
		PGDSN:        v.GetString("pg-dsn"),
		Initiator:    v.GetString("initiator"),
		Owner:        v.GetString("owner"),
		Tolerance:    v.GetString("tolerance"),
		Fee:          v.GetString("fee"),
		MaxTolerance: v.GetString("max-tolerance"),
		MaxFee:       v.GetString("max-fee"),
		Revoke:       v.GetBool("revoke"),
		LogLevel:     v.GetString("log-level"),
	}

	return cfg, nil
}
