package sim

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type ledgerKey struct {
	account common.Address
	token   common.Address
}

// Ledger records token balances paid out of rebalances.
type Ledger struct {
	mu       sync.Mutex
	balances map[ledgerKey]*uint256.Int
}

func NewLedger() *Ledger {
	return &Ledger{balances: make(map[ledgerKey]*uint256.Int)}
}

// Credit implements rebalance.Ledger.
func (l *Ledger) Credit(_ context.Context, account, token common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := ledgerKey{account: account, token: token}
	balance, ok := l.balances[key]
	if !ok {
		balance = new(uint256.Int)
	}
	l.balances[key] = new(uint256.Int).Add(balance, amount)
	return nil
}

// Balance returns what account holds of token.
func (l *Ledger) Balance(account, token common.Address) *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if balance, ok := l.balances[ledgerKey{account: account, token: token}]; ok {
		return new(uint256.Int).Set(balance)
	}
	return new(uint256.Int)
}

// Snapshot captures every balance and returns a function restoring them.
func (l *Ledger) Snapshot() func() {
	l.mu.Lock()
	saved := make(map[ledgerKey]*uint256.Int, len(l.balances))
	for key, balance := range l.balances {
		saved[key] = new(uint256.Int).Set(balance)
	}
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		l.balances = saved
		l.mu.Unlock()
	}
}
