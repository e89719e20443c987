package initiator

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

type authKey struct {
	owner     common.Address
	initiator common.Address
}

// MemoryStore is a Store held in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	configs map[common.Address]Config
	auth    map[authKey]bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		configs: make(map[common.Address]Config),
		auth:    make(map[authKey]bool),
	}
}

func (s *MemoryStore) LoadConfig(_ context.Context, initiator common.Address) (Config, bool, error) {
	s.mu.RLock()
	cfg, ok := s.configs[initiator]
	s.mu.RUnlock()
	return cfg, ok, nil
}

func (s *MemoryStore) SaveConfig(_ context.Context, initiator common.Address, cfg Config) error {
	s.mu.Lock()
	s.configs[initiator] = cfg
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) LoadAuthorization(_ context.Context, owner, initiator common.Address) (bool, error) {
	s.mu.RLock()
	allowed := s.auth[authKey{owner: owner, initiator: initiator}]
	s.mu.RUnlock()
	return allowed, nil
}

func (s *MemoryStore) SaveAuthorization(_ context.Context, owner, initiator common.Address, allowed bool) error {
	s.mu.Lock()
	if allowed {
		s.auth[authKey{owner: owner, initiator: initiator}] = true
	} else {
		delete(s.auth, authKey{owner: owner, initiator: initiator})
	}
	s.mu.Unlock()
	return nil
}
