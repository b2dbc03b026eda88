// Package account implements the ledger: the process-wide mapping from
// user names to accounts, each holding a cash balance and an inventory
// of the traded instrument.
package account

import (
	"errors"
	"sync"

	"go.uber.org/zap"
)

// Sentinel errors for ledger and account operations.
var (
	ErrLedgerFull            = errors.New("ledger_full")
	ErrInsufficientFunds     = errors.New("insufficient_funds")
	ErrInsufficientInventory = errors.New("insufficient_inventory")
)

// Account holds the funds and inventory of one named user. Balances are
// unsigned: a debit that would underflow fails instead of wrapping.
// Accounts outlive sessions; logging out and back in under the same
// name reaches the same account.
type Account struct {
	name string
	log  *zap.Logger

	mu        sync.Mutex
	balance   uint32
	inventory uint32
}

// Name returns the user name the account is keyed by.
func (a *Account) Name() string {
	return a.name
}

// CreditBalance adds amount to the balance. Credits cannot fail.
func (a *Account) CreditBalance(amount uint32) {
	a.mu.Lock()
	old := a.balance
	a.balance += amount
	a.log.Debug("credit balance",
		zap.Uint32("from", old),
		zap.Uint32("to", a.balance),
	)
	a.mu.Unlock()
}

// DebitBalance removes amount from the balance. If the balance does not
// cover the amount, it returns ErrInsufficientFunds and the balance is
// left untouched; a failed debit never observes an intermediate state.
func (a *Account) DebitBalance(amount uint32) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.balance < amount {
		return ErrInsufficientFunds
	}
	old := a.balance
	a.balance -= amount
	a.log.Debug("debit balance",
		zap.Uint32("from", old),
		zap.Uint32("to", a.balance),
	)
	return nil
}

// CreditInventory adds quantity to the inventory. Credits cannot fail.
func (a *Account) CreditInventory(quantity uint32) {
	a.mu.Lock()
	old := a.inventory
	a.inventory += quantity
	a.log.Debug("credit inventory",
		zap.Uint32("from", old),
		zap.Uint32("to", a.inventory),
	)
	a.mu.Unlock()
}

// DebitInventory removes quantity from the inventory, with the same
// all-or-nothing contract as DebitBalance.
func (a *Account) DebitInventory(quantity uint32) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.inventory < quantity {
		return ErrInsufficientInventory
	}
	old := a.inventory
	a.inventory -= quantity
	a.log.Debug("debit inventory",
		zap.Uint32("from", old),
		zap.Uint32("to", a.inventory),
	)
	return nil
}

// Status returns a simultaneous snapshot of balance and inventory.
func (a *Account) Status() (balance, inventory uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balance, a.inventory
}
