// Package initiator keeps the per-initiator risk configuration and the
// owner -> initiator authorizations a rebalance is checked against.
package initiator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"liquidityRebalancer/internal/fixedpoint"
)

var (
	ErrInvalidActor          = errors.New("initiator has no configuration")
	ErrNotAuthorized         = errors.New("initiator not authorized for owner")
	ErrConfigurationRejected = errors.New("initiator configuration may only decrease")
	ErrToleranceTooHigh      = errors.New("tolerance above maximum")
	ErrFeeTooHigh            = errors.New("initiator fee above maximum")
)

var (
	// DefaultMaxTolerance is 10%.
	DefaultMaxTolerance = uint256.NewInt(100_000_000_000_000_000)
	// DefaultMaxFee is 5%.
	DefaultMaxFee = uint256.NewInt(50_000_000_000_000_000)
)

// Config is an initiator's tolerance and fee, both 18 decimals, with the
// tolerance expressed on the sqrt price.
type Config struct {
	Tolerance               *uint256.Int
	Fee                     *uint256.Int
	UpperSqrtPriceDeviation *uint256.Int
	LowerSqrtPriceDeviation *uint256.Int
}

// NewConfig derives sqrt(1 ± tolerance) scaled to 18 decimals.
func NewConfig(tolerance, fee *uint256.Int) (Config, error) {
	if !tolerance.Lt(fixedpoint.WAD) {
		return Config{}, fmt.Errorf("tolerance %s: %w", fixedpoint.String(tolerance), ErrToleranceTooHigh)
	}
	upper, err := fixedpoint.Mul(new(uint256.Int).Add(fixedpoint.WAD, tolerance), fixedpoint.WAD)
	if err != nil {
		return Config{}, err
	}
	lower, err := fixedpoint.Mul(new(uint256.Int).Sub(fixedpoint.WAD, tolerance), fixedpoint.WAD)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Tolerance:               new(uint256.Int).Set(tolerance),
		Fee:                     new(uint256.Int).Set(fee),
		UpperSqrtPriceDeviation: fixedpoint.Sqrt(upper),
		LowerSqrtPriceDeviation: fixedpoint.Sqrt(lower),
	}, nil
}

// Limits caps what any initiator may configure.
type Limits struct {
	MaxTolerance *uint256.Int
	MaxFee       *uint256.Int
}

// DefaultLimits returns the 10% tolerance and 5% fee caps.
func DefaultLimits() Limits {
	return Limits{MaxTolerance: DefaultMaxTolerance, MaxFee: DefaultMaxFee}
}

// Store persists configurations and authorizations.
type Store interface {
	LoadConfig(ctx context.Context, initiator common.Address) (Config, bool, error)
	SaveConfig(ctx context.Context, initiator common.Address, cfg Config) error
	LoadAuthorization(ctx context.Context, owner, initiator common.Address) (bool, error)
	SaveAuthorization(ctx context.Context, owner, initiator common.Address, allowed bool) error
}

// Registry enforces limits and monotonicity on top of a Store.
type Registry struct {
	store  Store
	limits Limits
	logger *zap.Logger

	mu sync.Mutex
}

// NewRegistry creates a registry. Nil limits fall back to DefaultLimits.
func NewRegistry(store Store, limits Limits, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limits.MaxTolerance == nil {
		limits.MaxTolerance = DefaultMaxTolerance
	}
	if limits.MaxFee == nil {
		limits.MaxFee = DefaultMaxFee
	}
	return &Registry{store: store, limits: limits, logger: logger}
}

// Set configures an initiator. Once a configuration exists, neither tolerance
// nor fee may go up.
func (r *Registry) Set(ctx context.Context, initiator common.Address, tolerance, fee *uint256.Int) (Config, error) {
	if tolerance.Gt(r.limits.MaxTolerance) {
		return Config{}, fmt.Errorf("tolerance %s: %w", fixedpoint.String(tolerance), ErrToleranceTooHigh)
	}
	if fee.Gt(r.limits.MaxFee) {
		return Config{}, fmt.Errorf("fee %s: %w", fixedpoint.String(fee), ErrFeeTooHigh)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok, err := r.store.LoadConfig(ctx, initiator)
	if err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", initiator.Hex(), err)
	}
	if ok {
		if tolerance.Gt(current.Tolerance) {
			return Config{}, fmt.Errorf("tolerance %s above %s: %w", fixedpoint.String(tolerance), fixedpoint.String(current.Tolerance), ErrConfigurationRejected)
		}
		if fee.Gt(current.Fee) {
			return Config{}, fmt.Errorf("fee %s above %s: %w", fixedpoint.String(fee), fixedpoint.String(current.Fee), ErrConfigurationRejected)
		}
	}

	cfg, err := NewConfig(tolerance, fee)
	if err != nil {
		return Config{}, err
	}
	if err := r.store.SaveConfig(ctx, initiator, cfg); err != nil {
		return Config{}, fmt.Errorf("save config %s: %w", initiator.Hex(), err)
	}
	r.logger.Info("initiator configured",
		zap.String("initiator", initiator.Hex()),
		zap.String("tolerance", fixedpoint.String(tolerance)),
		zap.String("fee", fixedpoint.String(fee)),
	)
	return cfg, nil
}

// Config returns the initiator's configuration or ErrInvalidActor.
func (r *Registry) Config(ctx context.Context, initiator common.Address) (Config, error) {
	cfg, ok, err := r.store.LoadConfig(ctx, initiator)
	if err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", initiator.Hex(), err)
	}
	if !ok {
		return Config{}, fmt.Errorf("%s: %w", initiator.Hex(), ErrInvalidActor)
	}
	return cfg, nil
}

// Authorize allows or revokes initiator for owner's positions.
func (r *Registry) Authorize(ctx context.Context, owner, initiator common.Address, allowed bool) error {
	if err := r.store.SaveAuthorization(ctx, owner, initiator, allowed); err != nil {
		return fmt.Errorf("save authorization %s -> %s: %w", owner.Hex(), initiator.Hex(), err)
	}
	r.logger.Info("initiator authorization changed",
		zap.String("owner", owner.Hex()),
		zap.String("initiator", initiator.Hex()),
		zap.Bool("allowed", allowed),
	)
	return nil
}

// CheckAuthorized returns ErrNotAuthorized unless owner allowed initiator.
func (r *Registry) CheckAuthorized(ctx context.Context, owner, initiator common.Address) error {
	allowed, err := r.store.LoadAuthorization(ctx, owner, initiator)
	if err != nil {
		return fmt.Errorf("load authorization %s -> %s: %w", owner.Hex(), initiator.Hex(), err)
	}
	if !allowed {
		return fmt.Errorf("%s for %s: %w", initiator.Hex(), owner.Hex(), ErrNotAuthorized)
	}
	return nil
}
