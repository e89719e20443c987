package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"liquidityRebalancer/internal/initiator"
	"liquidityRebalancer/internal/model"
)

// Schema creates the tables the store writes to.
const Schema = `
CREATE TABLE IF NOT EXISTS initiators (
	initiator  TEXT PRIMARY KEY,
	tolerance  NUMERIC(78, 0) NOT NULL,
	fee        NUMERIC(78, 0) NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS authorizations (
	owner      TEXT NOT NULL,
	initiator  TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (owner, initiator)
);

CREATE TABLE IF NOT EXISTS rebalances (
	position_id        NUMERIC(78, 0) NOT NULL,
	new_position_id    NUMERIC(78, 0) NOT NULL,
	owner              TEXT NOT NULL,
	initiator          TEXT NOT NULL,
	pool               TEXT NOT NULL,
	tick_lower         INTEGER NOT NULL,
	tick_upper         INTEGER NOT NULL,
	sqrt_price_before  NUMERIC(78, 0) NOT NULL,
	sqrt_price_after   NUMERIC(78, 0) NOT NULL,
	trusted_sqrt_price NUMERIC(78, 0) NOT NULL,
	swapped            BOOLEAN NOT NULL,
	external           BOOLEAN NOT NULL,
	zero_to_one        BOOLEAN NOT NULL,
	amount_in          NUMERIC(78, 0) NOT NULL,
	amount_out         NUMERIC(78, 0) NOT NULL,
	initiator_fee      NUMERIC(78, 0) NOT NULL,
	iterations         INTEGER NOT NULL,
	liquidity          NUMERIC(78, 0) NOT NULL,
	min_liquidity      NUMERIC(78, 0) NOT NULL,
	amount0            NUMERIC(78, 0) NOT NULL,
	amount1            NUMERIC(78, 0) NOT NULL,
	leftover0          NUMERIC(78, 0) NOT NULL,
	leftover1          NUMERIC(78, 0) NOT NULL,
	recorded_at        TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (position_id, new_position_id)
);
`

// Store provides Postgres persistence for initiators and rebalance history.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates missing tables.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// LoadConfig implements initiator.Store.
func (s *Store) LoadConfig(ctx context.Context, address common.Address) (initiator.Config, bool, error) {
	var tolerance, fee string
	row := s.pool.QueryRow(ctx, `SELECT tolerance::text, fee::text FROM initiators WHERE initiator=$1`, address.Hex())
	if err := row.Scan(&tolerance, &fee); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return initiator.Config{}, false, nil
		}
		return initiator.Config{}, false, err
	}
	cfg, err := configFromText(tolerance, fee)
	if err != nil {
		return initiator.Config{}, false, fmt.Errorf("initiator %s: %w", address.Hex(), err)
	}
	return cfg, true, nil
}

// SaveConfig implements initiator.Store. The deviations are derived on load.
func (s *Store) SaveConfig(ctx context.Context, address common.Address, cfg initiator.Config) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO initiators (initiator, tolerance, fee, updated_at)
		VALUES ($1, $2::numeric, $3::numeric, now())
		ON CONFLICT (initiator) DO UPDATE
		SET tolerance = EXCLUDED.tolerance, fee = EXCLUDED.fee, updated_at = now()
	`, address.Hex(), cfg.Tolerance.Dec(), cfg.Fee.Dec())
	return err
}

// LoadAuthorization implements initiator.Store.
func (s *Store) LoadAuthorization(ctx context.Context, owner, address common.Address) (bool, error) {
	var exists bool
	row := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM authorizations WHERE owner=$1 AND initiator=$2)`, owner.Hex(), address.Hex())
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// SaveAuthorization implements initiator.Store. Revoking deletes the row.
func (s *Store) SaveAuthorization(ctx context.Context, owner, address common.Address, allowed bool) error {
	if !allowed {
		_, err := s.pool.Exec(ctx, `DELETE FROM authorizations WHERE owner=$1 AND initiator=$2`, owner.Hex(), address.Hex())
		return err
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO authorizations (owner, initiator, created_at)
		VALUES ($1, $2, now())
		ON CONFLICT (owner, initiator) DO NOTHING
	`, owner.Hex(), address.Hex())
	return err
}

// PutRebalanceBatch inserts rebalance records, ignoring ones already stored.
func (s *Store) PutRebalanceBatch(ctx context.Context, records []model.RebalanceRecord) error {
	if len(records) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(`
			INSERT INTO rebalances (
				position_id, new_position_id, owner, initiator, pool, tick_lower, tick_upper,
				sqrt_price_before, sqrt_price_after, trusted_sqrt_price, swapped, external, zero_to_one,
				amount_in, amount_out, initiator_fee, iterations, liquidity, min_liquidity,
				amount0, amount1, leftover0, leftover1, recorded_at
			) VALUES (
				$1::numeric, $2::numeric, $3, $4, $5, $6, $7,
				$8::numeric, $9::numeric, $10::numeric, $11, $12, $13,
				$14::numeric, $15::numeric, $16::numeric, $17, $18::numeric, $19::numeric,
				$20::numeric, $21::numeric, $22::numeric, $23::numeric, $24::timestamptz
			)
			ON CONFLICT (position_id, new_position_id) DO NOTHING
		`,
			r.PositionID,
			r.NewPositionID,
			r.Owner,
			r.Initiator,
			r.Pool,
			r.TickLower,
			r.TickUpper,
			r.SqrtPriceBefore,
			r.SqrtPriceAfter,
			r.TrustedPrice,
			r.Swapped,
			r.External,
			r.ZeroToOne,
			r.AmountIn,
			r.AmountOut,
			r.InitiatorFee,
			r.Iterations,
			r.Liquidity,
			r.MinLiquidity,
			r.Amount0,
			r.Amount1,
			r.Leftover0,
			r.Leftover1,
			r.RecordedAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range records {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func configFromText(tolerance, fee string) (initiator.Config, error) {
	tol, err := uint256.FromDecimal(tolerance)
	if err != nil {
		return initiator.Config{}, fmt.Errorf("tolerance %q: %w", tolerance, err)
	}
	f, err := uint256.FromDecimal(fee)
	if err != nil {
		return initiator.Config{}, fmt.Errorf("fee %q: %w", fee, err)
	}
	return initiator.NewConfig(tol, f)
}
