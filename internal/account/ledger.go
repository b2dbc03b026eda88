package account

import (
	"sync"

	"go.uber.org/zap"
)

// Ledger is a thread-safe map of user name → Account, bounded by a
// fixed cap on distinct accounts.
type Ledger struct {
	log *zap.Logger
	max int

	mu       sync.RWMutex
	accounts map[string]*Account
}

// NewLedger creates an empty ledger admitting at most maxAccounts
// distinct accounts.
func NewLedger(maxAccounts int, log *zap.Logger) *Ledger {
	return &Ledger{
		log:      log,
		max:      maxAccounts,
		accounts: make(map[string]*Account, maxAccounts),
	}
}

// Lookup returns the account for name, creating one with zero balance
// and inventory if none exists. It returns ErrLedgerFull when creation
// would exceed the cap.
func (l *Ledger) Lookup(name string) (*Account, error) {
	l.mu.RLock()
	acct, ok := l.accounts[name]
	l.mu.RUnlock()
	if ok {
		return acct, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	// Double-check after acquiring write lock.
	if acct, ok = l.accounts[name]; ok {
		return acct, nil
	}
	if len(l.accounts) >= l.max {
		return nil, ErrLedgerFull
	}
	acct = &Account{
		name: name,
		log:  l.log.With(zap.String("account", name)),
	}
	l.accounts[name] = acct
	l.log.Debug("create account", zap.String("account", name))
	return acct, nil
}

// Len returns the number of accounts currently in the ledger.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.accounts)
}
