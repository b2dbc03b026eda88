// Package trader implements sessions and the session registry: one
// reference-counted Trader per logged-in connection, shared between the
// session goroutine and the matcher.
package trader

import (
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/efreitasn/bourse/internal/account"
	"github.com/efreitasn/bourse/internal/protocol"
)

// Trader is a logged-in session bound to an account. It is created with
// refcount 1 (the registry's reference); every resting order holds one
// more, and broadcasts take a transient reference per recipient. The
// reference that drops the count to zero closes the socket.
//
// Two locks: refMu guards the refcount, sendMu serializes writes to the
// socket. Callers never invoke Send with refMu held, so the pair
// replaces the single re-entrant lock a coarser design would need.
type Trader struct {
	conn net.Conn
	name string
	acct *account.Account
	log  *zap.Logger

	refMu    sync.Mutex
	refcount int

	sendMu sync.Mutex
}

// Name returns the user name the session logged in under.
func (t *Trader) Name() string {
	return t.name
}

// Account returns the account the session is bound to.
func (t *Trader) Account() *account.Account {
	return t.acct
}

// Ref increments the reference count. The why string only feeds the
// debug log.
func (t *Trader) Ref(why string) *Trader {
	t.refMu.Lock()
	t.refcount++
	t.log.Debug("trader ref",
		zap.Int("refcount", t.refcount),
		zap.String("why", why),
	)
	t.refMu.Unlock()
	return t
}

// Unref decrements the reference count. Reaching zero closes the
// socket and ends the session's life. A negative count is an internal
// invariant violation and aborts the process.
func (t *Trader) Unref(why string) {
	t.refMu.Lock()
	t.refcount--
	t.log.Debug("trader unref",
		zap.Int("refcount", t.refcount),
		zap.String("why", why),
	)
	if t.refcount < 0 {
		t.refMu.Unlock()
		t.log.Panic("trader refcount went negative", zap.String("why", why))
	}
	if t.refcount == 0 {
		// Zero is reached exactly once: no reference remains that
		// could resurrect the count, so the close cannot race.
		t.conn.Close()
		t.log.Debug("trader released", zap.String("why", why))
	}
	t.refMu.Unlock()
}

// Send writes one packet to the session's socket. Concurrent senders
// (the session goroutine replying, the matcher notifying, a broadcast)
// are serialized so frames never interleave.
func (t *Trader) Send(typ protocol.Type, payload []byte) error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	return protocol.WritePacket(t.conn, typ, payload)
}

// SendAck sends an ACK, carrying a status payload when info is non-nil.
func (t *Trader) SendAck(info *protocol.StatusInfo) error {
	if info == nil {
		return t.Send(protocol.TypeAck, nil)
	}
	return t.Send(protocol.TypeAck, info.Encode())
}

// SendNack sends a bare NACK.
func (t *Trader) SendNack() error {
	return t.Send(protocol.TypeNack, nil)
}
