package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"liquidityRebalancer/internal/config"
	"liquidityRebalancer/internal/model"
	"liquidityRebalancer/internal/rebalance"
	"liquidityRebalancer/internal/sim"
	"liquidityRebalancer/internal/storage"
	"liquidityRebalancer/internal/storage/postgres"
)

func runSimulate(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadSimulate(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Scenario == "" {
		return fmt.Errorf("scenario path is required")
	}
	scenario, err := sim.LoadScenario(cfg.Scenario)
	if err != nil {
		return err
	}
	factory, _, caller, err := scenario.Addresses()
	if err != nil {
		return err
	}
	maxSlippage, err := config.ParseAmount("max slippage ratio", cfg.MaxSlippageRatio)
	if err != nil {
		return err
	}
	solverOpts, err := solverOptions(cfg.MaxIterations, cfg.RatioTolerance)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sinks := storage.Multi{storage.NewJsonlStorage(cfg.Out)}
	if cfg.PGDSN != "" {
		store, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer store.Close()
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		sinks = append(sinks, store)
	}

	world := sim.NewWorld(factory, rebalance.Options{
		MaxSlippageRatio: maxSlippage,
		Solver:           solverOpts,
	}, logger)
	req, err := scenario.Setup(ctx, world)
	if err != nil {
		return fmt.Errorf("setup scenario: %w", err)
	}

	logger.Info("simulate start",
		zap.String("scenario", cfg.Scenario),
		zap.String("position", req.PositionID.String()),
		zap.String("initiator", caller.Hex()),
		zap.Bool("external_swap", req.ExternalSwap != nil),
	)

	result, err := world.Rebalancer.Rebalance(ctx, caller, req)
	if err != nil {
		return err
	}

	records := []model.RebalanceRecord{model.NewRebalanceRecord(result, time.Now())}
	if err := sinks.PutRebalanceBatch(ctx, records); err != nil {
		return fmt.Errorf("store rebalance: %w", err)
	}

	logger.Info("simulate complete",
		zap.String("new_position", result.NewPositionID.String()),
		zap.Int32("tick_lower", result.TickLower),
		zap.Int32("tick_upper", result.TickUpper),
		zap.String("liquidity", records[0].Liquidity),
		zap.String("min_liquidity", records[0].MinLiquidity),
		zap.String("out", cfg.Out),
	)
	return nil
}
