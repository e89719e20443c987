package rebalance

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Guard allows one rebalance in flight per owner.
type Guard struct {
	mu     sync.Mutex
	active map[common.Address]struct{}
}

func NewGuard() *Guard {
	return &Guard{active: make(map[common.Address]struct{})}
}

// Enter marks owner busy. The returned release must be called exactly once.
func (g *Guard) Enter(owner common.Address) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.active[owner]; ok {
		return nil, fmt.Errorf("owner %s: %w", owner.Hex(), ErrReentrancyDetected)
	}
	g.active[owner] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.active, owner)
			g.mu.Unlock()
		})
	}, nil
}

// Active reports whether owner has a rebalance in flight.
func (g *Guard) Active(owner common.Address) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.active[owner]
	return ok
}
