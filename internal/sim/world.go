package sim

import (
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"liquidityRebalancer/internal/initiator"
	"liquidityRebalancer/internal/position"
	"liquidityRebalancer/internal/rebalance"
)

// World wires every in-memory collaborator into a Rebalancer.
type World struct {
	Exchange   *Exchange
	Positions  *PositionManager
	Oracle     *StaticOracle
	Ledger     *Ledger
	Router     *Router
	Transactor *Transactor
	Registry   *initiator.Registry
	Guard      *rebalance.Guard
	Builder    *position.Builder
	Rebalancer *rebalance.Rebalancer
}

// NewWorld creates an empty world for pools deployed by factory.
func NewWorld(factory common.Address, opts rebalance.Options, logger *zap.Logger) *World {
	if logger == nil {
		logger = zap.NewNop()
	}
	exchange := NewExchange(factory)
	positions := NewPositionManager(exchange)
	oracle := NewStaticOracle()
	ledger := NewLedger()
	router := NewRouter(exchange)
	transactor := NewTransactor(exchange, positions, ledger)
	registry := initiator.NewRegistry(initiator.NewMemoryStore(), initiator.DefaultLimits(), logger)
	guard := rebalance.NewGuard()

	builder := position.NewBuilder(factory, positions, exchange, oracle, logger)
	rebalancer := rebalance.New(rebalance.Deps{
		Builder:    builder,
		Positions:  positions,
		Pool:       exchange,
		Router:     router,
		Ledger:     ledger,
		Registry:   registry,
		Guard:      guard,
		Transactor: transactor,
	}, opts, logger)

	return &World{
		Exchange:   exchange,
		Positions:  positions,
		Oracle:     oracle,
		Ledger:     ledger,
		Router:     router,
		Transactor: transactor,
		Registry:   registry,
		Guard:      guard,
		Builder:    builder,
		Rebalancer: rebalancer,
	}
}
