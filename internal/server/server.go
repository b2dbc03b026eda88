// Package server accepts trader connections and runs one session
// goroutine per connection, translating the wire protocol into ledger,
// registry and exchange operations.
package server

import (
	"errors"
	"net"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/efreitasn/bourse/internal/clientreg"
	"github.com/efreitasn/bourse/internal/exchange"
	"github.com/efreitasn/bourse/internal/metrics"
	"github.com/efreitasn/bourse/internal/trader"
)

// Server owns the accept loop. Sessions do their own cleanup, so
// stopping the server is just closing the listener and letting the
// client registry drain.
type Server struct {
	log  *zap.Logger
	creg *clientreg.Registry
	reg  *trader.Registry
	ex   *exchange.Exchange
	met  *metrics.Metrics
}

func New(creg *clientreg.Registry, reg *trader.Registry, ex *exchange.Exchange, met *metrics.Metrics, log *zap.Logger) *Server {
	return &Server{
		log:  log,
		creg: creg,
		reg:  reg,
		ex:   ex,
		met:  met,
	}
}

// Serve accepts connections until the listener is closed, which makes
// it return nil. Transient accept failures are logged and the loop
// keeps going. Each connection gets its own goroutine.
func (s *Server) Serve(ln net.Listener) error {
	s.log.Info("accepting traders", zap.String("addr", ln.Addr().String()))
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Warn("accept failed", zap.Error(err))
			continue
		}
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	log := s.log.With(
		zap.String("conn", uuid.NewString()),
		zap.String("remote", conn.RemoteAddr().String()),
	)
	if err := s.creg.Register(conn); err != nil {
		log.Warn("connection rejected", zap.Error(err))
		conn.Close()
		return
	}
	s.met.ConnectedClients.Inc()
	log.Debug("client connected")

	sess := &session{
		srv:  s,
		conn: conn,
		log:  log,
	}
	sess.run()
}
