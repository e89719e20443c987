package sim

import (
	"context"
	"sync"

	"liquidityRebalancer/internal/rebalance"
)

// Snapshotter can capture its state and restore it later.
type Snapshotter interface {
	Snapshot() (restore func())
}

// Transactor runs units of work against Snapshotters and rolls all of them
// back when the unit fails. One unit runs at a time; another unit started
// while it is in flight fails instead of waiting.
type Transactor struct {
	mu    sync.Mutex
	parts []Snapshotter
}

func NewTransactor(parts ...Snapshotter) *Transactor {
	return &Transactor{parts: parts}
}

// Atomic implements rebalance.Transactor.
func (t *Transactor) Atomic(ctx context.Context, fn func(ctx context.Context) error) error {
	if !t.mu.TryLock() {
		return rebalance.ErrReentrancyDetected
	}
	defer t.mu.Unlock()

	restores := make([]func(), 0, len(t.parts))
	for _, part := range t.parts {
		restores = append(restores, part.Snapshot())
	}
	if err := fn(ctx); err != nil {
		for i := len(restores) - 1; i >= 0; i-- {
			restores[i]()
		}
		return err
	}
	return nil
}
