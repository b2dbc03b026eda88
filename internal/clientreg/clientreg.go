// Package clientreg tracks live client connections so shutdown can
// interrupt every session and wait for all of them to unwind.
package clientreg

import (
	"errors"
	"net"
	"sync"

	"go.uber.org/zap"
)

// ErrFull is returned by Register when the connection cap is reached.
var ErrFull = errors.New("client_registry_full")

// readHalfCloser is satisfied by *net.TCPConn. Connections that cannot
// half-close are fully closed instead; either way a blocked reader
// observes end-of-stream.
type readHalfCloser interface {
	CloseRead() error
}

// Registry is a bounded set of open client connections.
type Registry struct {
	log *zap.Logger
	max int

	mu    sync.Mutex
	empty *sync.Cond // broadcast when the set drains
	conns map[net.Conn]struct{}
}

// NewRegistry creates an empty registry admitting at most maxClients
// concurrent connections.
func NewRegistry(maxClients int, log *zap.Logger) *Registry {
	r := &Registry{
		log:   log,
		max:   maxClients,
		conns: make(map[net.Conn]struct{}, maxClients),
	}
	r.empty = sync.NewCond(&r.mu)
	return r
}

// Register adds conn to the set. Registering a connection twice is a
// no-op. Returns ErrFull at the cap.
func (r *Registry) Register(conn net.Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[conn]; ok {
		return nil
	}
	if len(r.conns) >= r.max {
		return ErrFull
	}
	r.conns[conn] = struct{}{}
	r.log.Debug("register client", zap.Int("connected", len(r.conns)))
	return nil
}

// Unregister removes conn from the set, waking any WaitForEmpty callers
// when the set drains. Unknown connections are ignored.
func (r *Registry) Unregister(conn net.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[conn]; !ok {
		return
	}
	delete(r.conns, conn)
	r.log.Debug("unregister client", zap.Int("connected", len(r.conns)))
	if len(r.conns) == 0 {
		r.empty.Broadcast()
	}
}

// ShutdownAll half-closes every registered connection so session
// goroutines blocked on reads observe end-of-stream and unwind. Replies
// already in flight can still be written on the intact write side.
func (r *Registry) ShutdownAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.log.Info("shutting down client connections", zap.Int("connected", len(r.conns)))
	for conn := range r.conns {
		if hc, ok := conn.(readHalfCloser); ok {
			hc.CloseRead()
		} else {
			conn.Close()
		}
	}
}

// WaitForEmpty blocks until the registry holds no connections,
// returning immediately if it is already empty.
func (r *Registry) WaitForEmpty() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for len(r.conns) > 0 {
		r.empty.Wait()
	}
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}
