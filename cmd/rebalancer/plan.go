package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"liquidityRebalancer/internal/chain"
	"liquidityRebalancer/internal/config"
	"liquidityRebalancer/internal/dex"
	"liquidityRebalancer/internal/fixedpoint"
	"liquidityRebalancer/internal/initiator"
	"liquidityRebalancer/internal/model"
	"liquidityRebalancer/internal/position"
	"liquidityRebalancer/internal/rebalance"
	"liquidityRebalancer/internal/solver"
	"liquidityRebalancer/internal/storage/postgres"
)

// planOutput is the human-facing preview printed by plan.
type planOutput struct {
	ChainID      string   `json:"chain_id,omitempty"`
	Block        uint64   `json:"block,omitempty"`
	Position     string   `json:"position"`
	Pool         string   `json:"pool"`
	Token0       string   `json:"token0"`
	Token1       string   `json:"token1"`
	CurrentRange [2]int32 `json:"current_range"`
	NewRange     [2]int32 `json:"new_range"`
	PoolPrice    string   `json:"pool_price"`
	TrustedPrice string   `json:"trusted_price"`
	BandLower    string   `json:"band_lower"`
	BandUpper    string   `json:"band_upper"`
	Withdraw0    string   `json:"withdraw0"`
	Withdraw1    string   `json:"withdraw1"`
	ZeroToOne    bool     `json:"zero_to_one"`
	AmountIn     string   `json:"amount_in"`
	AmountOut    string   `json:"amount_out"`
	InitiatorFee string   `json:"initiator_fee"`
	PriceAfter   string   `json:"price_after"`
	Iterations   int      `json:"iterations"`
	Liquidity    string   `json:"liquidity"`
	MinLiquidity string   `json:"min_liquidity"`
}

func runPlan(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadPlan(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}
	positionID, err := config.ParsePositionID(cfg.PositionID)
	if err != nil {
		return err
	}
	factory, err := config.ParseAddress("factory", cfg.Factory)
	if err != nil {
		return err
	}
	manager, err := config.ParseAddress("position manager", cfg.PositionManager)
	if err != nil {
		return err
	}
	feeds, err := config.ParseFeeds(cfg.Feeds)
	if err != nil {
		return err
	}
	solverOpts, err := solverOptions(cfg.MaxIterations, cfg.RatioTolerance)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()
	chainClient.WithRetry(cfg.MaxRetries, cfg.RetryBackoff)

	initiatorCfg, err := planInitiatorConfig(ctx, cfg, logger)
	if err != nil {
		return err
	}

	oracle := dex.NewChainlinkOracle(chainClient, feeds, logger)
	oracle.MaxAge = cfg.MaxFeedAge
	chainID, err := chainClient.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("chain id: %w", err)
	}
	block, err := chainClient.LatestBlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("latest block: %w", err)
	}
	// every read sees the same block
	positions := dex.NewPositionReader(chainClient, manager)
	positions.Block = new(big.Int).SetUint64(block)
	pools := dex.NewPoolReader(chainClient)
	pools.Block = positions.Block
	builder := position.NewBuilder(factory, positions, pools, oracle, logger)

	newRange := position.Range{TickLower: cfg.TickLower, TickUpper: cfg.TickUpper}
	preview, err := rebalance.PreviewRebalance(ctx, builder, positionID, newRange, initiatorCfg, rebalance.Options{Solver: solverOpts})
	if err != nil {
		return err
	}

	tokens := dex.NewTokenMetaCache()
	meta0, err := tokens.Lookup(ctx, chainClient, preview.State.Token0, logger)
	if err != nil {
		return fmt.Errorf("token0 metadata: %w", err)
	}
	meta1, err := tokens.Lookup(ctx, chainClient, preview.State.Token1, logger)
	if err != nil {
		return fmt.Errorf("token1 metadata: %w", err)
	}

	out := buildPlanOutput(preview, meta0, meta1)
	out.ChainID = chainID.String()
	out.Block = block
	logger.Info("rebalance plan",
		zap.String("chain_id", out.ChainID),
		zap.Uint64("block", block),
		zap.String("position", out.Position),
		zap.String("pool", out.Pool),
		zap.Bool("zero_to_one", out.ZeroToOne),
		zap.String("amount_in", out.AmountIn),
		zap.Int("iterations", out.Iterations),
	)

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}

// planInitiatorConfig reads the stored config of cfg.Initiator, or derives one
// from the tolerance and fee flags.
func planInitiatorConfig(ctx context.Context, cfg config.PlanConfig, logger *zap.Logger) (initiator.Config, error) {
	if cfg.Initiator != "" {
		address, err := config.ParseAddress("initiator", cfg.Initiator)
		if err != nil {
			return initiator.Config{}, err
		}
		if cfg.PGDSN == "" {
			return initiator.Config{}, fmt.Errorf("pg dsn is required to load initiator %s", address.Hex())
		}
		store, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return initiator.Config{}, fmt.Errorf("connect postgres: %w", err)
		}
		defer store.Close()
		return initiator.NewRegistry(store, initiator.DefaultLimits(), logger).Config(ctx, address)
	}

	tolerance, err := config.ParseAmount("tolerance", cfg.Tolerance)
	if err != nil {
		return initiator.Config{}, err
	}
	fee, err := config.ParseAmount("fee", cfg.Fee)
	if err != nil {
		return initiator.Config{}, err
	}
	return initiator.NewConfig(tolerance, fee)
}

func solverOptions(maxIterations int, ratioTolerance string) (solver.Options, error) {
	opts := solver.Options{MaxIterations: maxIterations}
	if ratioTolerance != "" {
		tol, err := config.ParseAmount("ratio tolerance", ratioTolerance)
		if err != nil {
			return solver.Options{}, err
		}
		opts.RatioTolerance = tol
	}
	return opts, nil
}

func buildPlanOutput(p rebalance.Preview, meta0, meta1 model.TokenMeta) planOutput {
	s := p.State
	r := p.Refinement
	inDecimals, outDecimals := meta1.Decimals, meta0.Decimals
	if r.ZeroToOne {
		inDecimals, outDecimals = meta0.Decimals, meta1.Decimals
	}
	return planOutput{
		Position:     s.ID.String(),
		Pool:         s.Pool.Hex(),
		Token0:       meta0.Label(),
		Token1:       meta1.Label(),
		CurrentRange: [2]int32{s.TickLower, s.TickUpper},
		NewRange:     [2]int32{s.NewTickLower, s.NewTickUpper},
		PoolPrice:    model.PriceFromSqrtX96(s.SqrtPriceX96, meta0.Decimals, meta1.Decimals, 8),
		TrustedPrice: model.PriceFromSqrtX96(s.TrustedSqrtPriceX96, meta0.Decimals, meta1.Decimals, 8),
		BandLower:    model.PriceFromSqrtX96(s.LowerBoundSqrtPriceX96, meta0.Decimals, meta1.Decimals, 8),
		BandUpper:    model.PriceFromSqrtX96(s.UpperBoundSqrtPriceX96, meta0.Decimals, meta1.Decimals, 8),
		Withdraw0:    model.FormatUnits(p.Balance0, meta0.Decimals),
		Withdraw1:    model.FormatUnits(p.Balance1, meta1.Decimals),
		ZeroToOne:    r.ZeroToOne,
		AmountIn:     model.FormatUnits(r.AmountIn, inDecimals),
		AmountOut:    model.FormatUnits(r.AmountOut, outDecimals),
		InitiatorFee: model.FormatUnits(r.InitiatorFee, inDecimals),
		PriceAfter:   model.PriceFromSqrtX96(r.SqrtPriceAfter, meta0.Decimals, meta1.Decimals, 8),
		Iterations:   r.Iterations,
		Liquidity:    fixedpoint.String(r.Liquidity),
		MinLiquidity: fixedpoint.String(p.MinLiquidity),
	}
}
