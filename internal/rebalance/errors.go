package rebalance

import (
	"errors"

	"liquidityRebalancer/internal/initiator"
	"liquidityRebalancer/internal/position"
	"liquidityRebalancer/internal/solver"
)

// Every error aborts the whole rebalance; match with errors.Is.
var (
	ErrUnbalancedPool        = position.ErrUnbalancedPool
	ErrInsufficientLiquidity = errors.New("minted liquidity below minimum")
	ErrNotAuthorized         = initiator.ErrNotAuthorized
	ErrInvalidActor          = initiator.ErrInvalidActor
	ErrReentrancyDetected    = errors.New("rebalance already in flight")
	ErrConfigurationRejected = initiator.ErrConfigurationRejected
	ErrNonConvergence        = solver.ErrNonConvergence
	ErrExternalSwapFailed    = errors.New("external swap failed")
	ErrInsufficientBalance   = errors.New("insufficient balance to settle")
	ErrMissingPosition       = errors.New("position id required")
)
