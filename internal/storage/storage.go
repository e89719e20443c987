package storage

import (
	"context"
	"fmt"

	"liquidityRebalancer/internal/model"
)

// Storage defines a sink for rebalance records.
type Storage interface {
	PutRebalanceBatch(ctx context.Context, records []model.RebalanceRecord) error
}

// Multi writes every batch to each sink in order and stops at the first error.
type Multi []Storage

func (m Multi) PutRebalanceBatch(ctx context.Context, records []model.RebalanceRecord) error {
	for i, sink := range m {
		if err := sink.PutRebalanceBatch(ctx, records); err != nil {
			return fmt.Errorf("sink %d: %w", i, err)
		}
	}
	return nil
}
