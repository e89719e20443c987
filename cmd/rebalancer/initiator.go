package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"liquidityRebalancer/internal/config"
	"liquidityRebalancer/internal/initiator"
	"liquidityRebalancer/internal/model"
	"liquidityRebalancer/internal/storage/postgres"
)

// withRegistry connects to Postgres and hands fn a registry over it.
func withRegistry(cmd *cobra.Command, fn func(ctx context.Context, cfg config.InitiatorConfig, registry *initiator.Registry, logger *zap.Logger) error) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadInitiator(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.PGDSN == "" {
		return fmt.Errorf("pg dsn is required")
	}
	maxTolerance, err := config.ParseAmount("max tolerance", cfg.MaxTolerance)
	if err != nil {
		return err
	}
	maxFee, err := config.ParseAmount("max fee", cfg.MaxFee)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	store, err := postgres.NewStore(ctx, cfg.PGDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer store.Close()
	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}

	registry := initiator.NewRegistry(store, initiator.Limits{MaxTolerance: maxTolerance, MaxFee: maxFee}, logger)
	return fn(ctx, cfg, registry, logger)
}

func runInitiatorSet(cmd *cobra.Command, _ []string) error {
	return withRegistry(cmd, func(ctx context.Context, cfg config.InitiatorConfig, registry *initiator.Registry, logger *zap.Logger) error {
		address, err := config.ParseAddress("initiator", cfg.Initiator)
		if err != nil {
			return err
		}
		tolerance, err := config.ParseAmount("tolerance", cfg.Tolerance)
		if err != nil {
			return err
		}
		fee, err := config.ParseAmount("fee", cfg.Fee)
		if err != nil {
			return err
		}
		if _, err := registry.Set(ctx, address, tolerance, fee); err != nil {
			return err
		}
		logger.Info("initiator configured",
			zap.String("initiator", address.Hex()),
			zap.String("tolerance", model.FormatWAD(tolerance)),
			zap.String("fee", model.FormatWAD(fee)),
		)
		return nil
	})
}

func runInitiatorShow(cmd *cobra.Command, _ []string) error {
	return withRegistry(cmd, func(ctx context.Context, cfg config.InitiatorConfig, registry *initiator.Registry, _ *zap.Logger) error {
		address, err := config.ParseAddress("initiator", cfg.Initiator)
		if err != nil {
			return err
		}
		current, err := registry.Config(ctx, address)
		if err != nil {
			return err
		}
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(map[string]string{
			"initiator":                  address.Hex(),
			"tolerance":                  model.FormatWAD(current.Tolerance),
			"fee":                        model.FormatWAD(current.Fee),
			"upper_sqrt_price_deviation": model.FormatWAD(current.UpperSqrtPriceDeviation),
			"lower_sqrt_price_deviation": model.FormatWAD(current.LowerSqrtPriceDeviation),
		})
	})
}

func runAuthorize(cmd *cobra.Command, _ []string) error {
	return withRegistry(cmd, func(ctx context.Context, cfg config.InitiatorConfig, registry *initiator.Registry, logger *zap.Logger) error {
		owner, err := config.ParseAddress("owner", cfg.Owner)
		if err != nil {
			return err
		}
		address, err := config.ParseAddress("initiator", cfg.Initiator)
		if err != nil {
			return err
		}
		if err := registry.Authorize(ctx, owner, address, !cfg.Revoke); err != nil {
			return err
		}
		logger.Info("authorization updated",
			zap.String("owner", owner.Hex()),
			zap.String("initiator", address.Hex()),
			zap.Bool("allowed", !cfg.Revoke),
		)
		return nil
	})
}
