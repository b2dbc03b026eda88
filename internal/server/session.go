package server

import (
	"errors"
	"io"
	"net"

	"go.uber.org/zap"

	"github.com/efreitasn/bourse/internal/protocol"
	"github.com/efreitasn/bourse/internal/trader"
)

// session is the per-connection state machine. Before login only LOGIN
// is honored and replies are written directly to the connection; after
// login every reply goes through the trader so it serializes with
// notification sends on the same socket.
type session struct {
	srv    *Server
	conn   net.Conn
	log    *zap.Logger
	trader *trader.Trader
}

func (sess *session) run() {
	defer sess.cleanup()
	for {
		hdr, payload, err := protocol.ReadPacket(sess.conn)
		if err != nil {
			if errors.Is(err, io.EOF) {
				sess.log.Debug("client closed connection")
			} else {
				sess.log.Debug("read failed", zap.Error(err))
			}
			return
		}

		var acked bool
		if sess.trader == nil {
			acked = sess.handleLogin(hdr, payload)
		} else {
			acked = sess.handle(hdr, payload)
		}
		result := "nack"
		if acked {
			result = "ack"
		}
		sess.srv.met.RequestsTotal.WithLabelValues(hdr.Type.String(), result).Inc()
	}
}

func (sess *session) cleanup() {
	if sess.trader != nil {
		sess.srv.met.LoggedInTraders.Dec()
		sess.srv.reg.Logout(sess.trader)
	}
	sess.srv.creg.Unregister(sess.conn)
	sess.srv.met.ConnectedClients.Dec()
	sess.conn.Close()
	sess.log.Info("client disconnected")
}

// nackRaw replies NACK on a connection that has no trader yet.
func (sess *session) nackRaw() bool {
	if err := protocol.WritePacket(sess.conn, protocol.TypeNack, nil); err != nil {
		sess.log.Debug("nack failed", zap.Error(err))
	}
	return false
}

// handleLogin services the pre-login state: a LOGIN with a non-empty
// name either logs the trader in or is NACKed, and every other packet
// is NACKed while the connection stays open.
func (sess *session) handleLogin(hdr protocol.Header, payload []byte) bool {
	if hdr.Type != protocol.TypeLogin || len(payload) == 0 {
		return sess.nackRaw()
	}

	name := string(payload)
	t, err := sess.srv.reg.Login(sess.conn, name)
	if err != nil {
		sess.log.Debug("login rejected", zap.String("trader", name), zap.Error(err))
		return sess.nackRaw()
	}
	sess.trader = t
	sess.log = sess.log.With(zap.String("trader", name))
	sess.srv.met.LoggedInTraders.Inc()

	if err := t.SendAck(nil); err != nil {
		sess.log.Debug("login ack failed", zap.Error(err))
	}
	return true
}

// handle services one post-login request and reports whether it was
// ACKed. Replies go through the trader and are fire-and-forget; the
// read loop notices a dead connection on its own.
func (sess *session) handle(hdr protocol.Header, payload []byte) bool {
	t := sess.trader
	acct := t.Account()

	switch hdr.Type {
	case protocol.TypeLogin:
		// One login per connection.
		t.SendNack()
		return false

	case protocol.TypeStatus:
		info := sess.srv.ex.Status(acct)
		t.SendAck(&info)
		return true

	case protocol.TypeDeposit:
		funds, err := protocol.DecodeFundsInfo(payload)
		if err != nil {
			t.SendNack()
			return false
		}
		acct.CreditBalance(funds.Amount)
		info := sess.srv.ex.Status(acct)
		t.SendAck(&info)
		return true

	case protocol.TypeWithdraw:
		funds, err := protocol.DecodeFundsInfo(payload)
		if err != nil {
			t.SendNack()
			return false
		}
		if err := acct.DebitBalance(funds.Amount); err != nil {
			t.SendNack()
			return false
		}
		info := sess.srv.ex.Status(acct)
		t.SendAck(&info)
		return true

	case protocol.TypeEscrow:
		escrow, err := protocol.DecodeEscrowInfo(payload)
		if err != nil {
			t.SendNack()
			return false
		}
		acct.CreditInventory(escrow.Quantity)
		info := sess.srv.ex.Status(acct)
		t.SendAck(&info)
		return true

	case protocol.TypeRelease:
		escrow, err := protocol.DecodeEscrowInfo(payload)
		if err != nil {
			t.SendNack()
			return false
		}
		if err := acct.DebitInventory(escrow.Quantity); err != nil {
			t.SendNack()
			return false
		}
		info := sess.srv.ex.Status(acct)
		t.SendAck(&info)
		return true

	case protocol.TypeBuy:
		order, err := protocol.DecodeOrderInfo(payload)
		if err != nil {
			t.SendNack()
			return false
		}
		id, err := sess.srv.ex.PostBuy(t, order.Quantity, order.Price)
		if err != nil {
			sess.log.Debug("buy rejected", zap.Error(err))
			t.SendNack()
			return false
		}
		info := sess.srv.ex.Status(acct)
		info.OrderID = id
		t.SendAck(&info)
		sess.srv.reg.Broadcast(protocol.TypePosted, protocol.NotifyInfo{
			BuyerID:  id,
			Quantity: order.Quantity,
			Price:    order.Price,
		}.Encode())
		return true

	case protocol.TypeSell:
		order, err := protocol.DecodeOrderInfo(payload)
		if err != nil {
			t.SendNack()
			return false
		}
		id, err := sess.srv.ex.PostSell(t, order.Quantity, order.Price)
		if err != nil {
			sess.log.Debug("sell rejected", zap.Error(err))
			t.SendNack()
			return false
		}
		info := sess.srv.ex.Status(acct)
		info.OrderID = id
		t.SendAck(&info)
		sess.srv.reg.Broadcast(protocol.TypePosted, protocol.NotifyInfo{
			SellerID: id,
			Quantity: order.Quantity,
			Price:    order.Price,
		}.Encode())
		return true

	case protocol.TypeCancel:
		cancel, err := protocol.DecodeCancelInfo(payload)
		if err != nil {
			t.SendNack()
			return false
		}
		qty, err := sess.srv.ex.Cancel(t, cancel.OrderID)
		if err != nil {
			sess.log.Debug("cancel rejected", zap.Uint32("order", cancel.OrderID), zap.Error(err))
			t.SendNack()
			return false
		}
		info := sess.srv.ex.Status(acct)
		info.OrderID = cancel.OrderID
		info.Quantity = qty
		t.SendAck(&info)
		return true

	default:
		t.SendNack()
		return false
	}
}
