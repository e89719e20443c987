package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "rebalancer",
		Short:        "Concentrated liquidity position rebalancer",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")
	root.PersistentFlags().String("env-file", "", "dotenv file with REBALANCER_* variables")
	root.PersistentPreRunE = loadEnvFile

	planCmd := &cobra.Command{
		Use:   "plan",
		Short: "Preview the rebalance of a live position without sending anything",
		RunE:  runPlan,
	}

	planCmd.Flags().String("rpc", "", "Ethereum RPC URL")
	planCmd.Flags().String("position", "", "position token id")
	planCmd.Flags().Int32("tick-lower", 0, "new lower tick (0 with tick-upper 0 re-centres)")
	planCmd.Flags().Int32("tick-upper", 0, "new upper tick")
	planCmd.Flags().String("factory", "", "pool factory address")
	planCmd.Flags().String("position-manager", "", "position manager address")
	planCmd.Flags().String("initiator", "", "initiator whose stored config applies (requires pg-dsn)")
	planCmd.Flags().String("tolerance", "", "price tolerance, 18 decimals, when no stored config is used")
	planCmd.Flags().String("fee", "", "initiator fee, 18 decimals, when no stored config is used")
	planCmd.Flags().String("feeds", "", "token=chainlink feed pairs (comma-separated)")
	planCmd.Flags().Duration("max-feed-age", time.Hour, "reject feed answers older than this (0 disables)")
	planCmd.Flags().Int("max-iterations", 100, "swap refinement iteration budget")
	planCmd.Flags().String("ratio-tolerance", "", "accepted ratio gap, 18 decimals")
	planCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	planCmd.Flags().Int("max-retries", 5, "maximum retry attempts per RPC call")
	planCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	planCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(planCmd)

	simulateCmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a rebalance against an in-memory pool described by a scenario file",
		RunE:  runSimulate,
	}

	simulateCmd.Flags().String("scenario", "", "scenario JSON path")
	simulateCmd.Flags().String("out", "./data/rebalances.jsonl", "output JSONL path")
	simulateCmd.Flags().String("pg-dsn", "", "optional Postgres DSN for rebalance history")
	simulateCmd.Flags().String("max-slippage-ratio", "", "minimum minted/estimated liquidity, 18 decimals")
	simulateCmd.Flags().Int("max-iterations", 100, "swap refinement iteration budget")
	simulateCmd.Flags().String("ratio-tolerance", "", "accepted ratio gap, 18 decimals")
	simulateCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(simulateCmd)

	initiatorCmd := &cobra.Command{
		Use:   "initiator",
		Short: "Manage initiator configurations",
	}
	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Set or lower an initiator's tolerance and fee",
		RunE:  runInitiatorSet,
	}
	setCmd.Flags().String("tolerance", "", "price tolerance, 18 decimals")
	setCmd.Flags().String("fee", "0", "initiator fee, 18 decimals")
	setCmd.Flags().String("max-tolerance", "", "tolerance cap, 18 decimals")
	setCmd.Flags().String("max-fee", "", "fee cap, 18 decimals")
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show an initiator's configuration",
		RunE:  runInitiatorShow,
	}
	for _, cmd := range []*cobra.Command{setCmd, showCmd} {
		cmd.Flags().String("initiator", "", "initiator address")
		cmd.Flags().String("pg-dsn", "", "Postgres DSN")
		cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
		initiatorCmd.AddCommand(cmd)
	}

	root.AddCommand(initiatorCmd)

	authorizeCmd := &cobra.Command{
		Use:   "authorize",
		Short: "Allow or revoke an initiator for an owner's positions",
		RunE:  runAuthorize,
	}

	authorizeCmd.Flags().String("owner", "", "position owner address")
	authorizeCmd.Flags().String("initiator", "", "initiator address")
	authorizeCmd.Flags().Bool("revoke", false, "revoke instead of allow")
	authorizeCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	authorizeCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(authorizeCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

// loadEnvFile exports the --env-file variables before any command reads its
// config. Variables already set in the environment win.
func loadEnvFile(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("env-file")
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}
