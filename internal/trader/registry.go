package trader

import (
	"errors"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/efreitasn/bourse/internal/account"
	"github.com/efreitasn/bourse/internal/protocol"
)

// Sentinel errors for login.
var (
	ErrRegistryFull    = errors.New("registry_full")
	ErrAlreadyLoggedIn = errors.New("already_logged_in")
)

// Registry is the thread-safe map of user name → live session, bounded
// by a cap on concurrent logins.
type Registry struct {
	log    *zap.Logger
	ledger *account.Ledger
	max    int

	mu      sync.Mutex
	traders map[string]*Trader
}

// NewRegistry creates an empty registry admitting at most maxTraders
// concurrent sessions, resolving accounts through ledger.
func NewRegistry(maxTraders int, ledger *account.Ledger, log *zap.Logger) *Registry {
	return &Registry{
		log:     log,
		ledger:  ledger,
		max:     maxTraders,
		traders: make(map[string]*Trader, maxTraders),
	}
}

// Login creates a session for name over conn and registers it. It fails
// with ErrRegistryFull at the cap, ErrAlreadyLoggedIn when the name
// already has a live session, or the ledger's error when the account
// cannot be obtained. The new session's refcount is 1, held by the
// registry until Logout.
func (r *Registry) Login(conn net.Conn, name string) (*Trader, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.traders) >= r.max {
		return nil, ErrRegistryFull
	}
	if _, ok := r.traders[name]; ok {
		return nil, ErrAlreadyLoggedIn
	}
	acct, err := r.ledger.Lookup(name)
	if err != nil {
		return nil, err
	}

	t := &Trader{
		conn:     conn,
		name:     name,
		acct:     acct,
		log:      r.log.With(zap.String("trader", name)),
		refcount: 1,
	}
	r.traders[name] = t
	r.log.Info("trader logged in", zap.String("trader", name))
	return t, nil
}

// Logout removes the session's registry entry and drops the registry's
// reference. References held by resting orders keep the session alive
// past logout; the name becomes free for a new login immediately.
func (r *Registry) Logout(t *Trader) {
	r.mu.Lock()
	// A successor may already own the name entry; only remove our own.
	if cur, ok := r.traders[t.name]; ok && cur == t {
		delete(r.traders, t.name)
	}
	r.mu.Unlock()

	r.log.Info("trader logged out", zap.String("trader", t.name))
	t.Unref("logout")
}

// Broadcast sends one packet to every logged-in session. It snapshots
// the registry under the lock, taking a reference on each session, then
// delivers outside the lock. Per-recipient send failures are logged
// and swallowed.
func (r *Registry) Broadcast(typ protocol.Type, payload []byte) {
	r.mu.Lock()
	snapshot := make([]*Trader, 0, len(r.traders))
	for _, t := range r.traders {
		snapshot = append(snapshot, t.Ref("broadcast"))
	}
	r.mu.Unlock()

	for _, t := range snapshot {
		if err := t.Send(typ, payload); err != nil {
			r.log.Debug("broadcast send failed",
				zap.String("trader", t.name),
				zap.Stringer("type", typ),
				zap.Error(err),
			)
		}
		t.Unref("broadcast")
	}
}

// Len returns the number of logged-in sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.traders)
}
