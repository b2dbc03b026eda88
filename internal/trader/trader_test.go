package trader

import (
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/efreitasn/bourse/internal/account"
	"github.com/efreitasn/bourse/internal/protocol"
)

func newTestRegistry(t *testing.T, max int) *Registry {
	t.Helper()
	ledger := account.NewLedger(max+8, zap.NewNop())
	return NewRegistry(max, ledger, zap.NewNop())
}

// loginPipe logs name in over one end of a fresh pipe and returns the
// session plus the peer end for reading what the server sends.
func loginPipe(t *testing.T, r *Registry, name string) (*Trader, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	tr, err := r.Login(server, name)
	if err != nil {
		server.Close()
		client.Close()
		t.Fatalf("Login(%q): %v", name, err)
	}
	return tr, client
}

// readPackets consumes packets from conn until it closes, delivering
// each on the returned channel.
func readPackets(conn net.Conn) <-chan protocol.Header {
	ch := make(chan protocol.Header, 16)
	go func() {
		defer close(ch)
		for {
			hdr, _, err := protocol.ReadPacket(conn)
			if err != nil {
				return
			}
			ch <- hdr
		}
	}()
	return ch
}

func (t *Trader) testRefcount() int {
	t.refMu.Lock()
	defer t.refMu.Unlock()
	return t.refcount
}

func TestRegistry_LoginLogout(t *testing.T) {
	r := newTestRegistry(t, 4)
	tr, client := loginPipe(t, r, "alice")
	defer client.Close()

	if tr.Name() != "alice" {
		t.Errorf("expected name alice, got %s", tr.Name())
	}
	if tr.Account() == nil {
		t.Fatal("expected session to be bound to an account")
	}
	if r.Len() != 1 {
		t.Errorf("expected 1 logged-in trader, got %d", r.Len())
	}
	if tr.testRefcount() != 1 {
		t.Errorf("expected refcount 1 after login, got %d", tr.testRefcount())
	}

	r.Logout(tr)
	if r.Len() != 0 {
		t.Errorf("expected 0 logged-in traders after logout, got %d", r.Len())
	}
}

func TestRegistry_DuplicateName(t *testing.T) {
	r := newTestRegistry(t, 4)
	_, client := loginPipe(t, r, "alice")
	defer client.Close()

	server2, client2 := net.Pipe()
	defer client2.Close()
	if _, err := r.Login(server2, "alice"); !errors.Is(err, ErrAlreadyLoggedIn) {
		t.Errorf("expected ErrAlreadyLoggedIn, got %v", err)
	}
}

func TestRegistry_Full(t *testing.T) {
	r := newTestRegistry(t, 1)
	_, client := loginPipe(t, r, "alice")
	defer client.Close()

	server2, client2 := net.Pipe()
	defer client2.Close()
	if _, err := r.Login(server2, "bob"); !errors.Is(err, ErrRegistryFull) {
		t.Errorf("expected ErrRegistryFull, got %v", err)
	}
}

func TestRegistry_ReloginAfterLogout(t *testing.T) {
	r := newTestRegistry(t, 4)
	tr1, client1 := loginPipe(t, r, "alice")
	tr1.Account().CreditBalance(100)
	r.Logout(tr1)
	client1.Close()

	tr2, client2 := loginPipe(t, r, "alice")
	defer client2.Close()
	if tr2 == tr1 {
		t.Error("expected a fresh session object on re-login")
	}
	// Same name resolves to the same persistent account.
	bal, _ := tr2.Account().Status()
	if bal != 100 {
		t.Errorf("expected balance 100 carried across sessions, got %d", bal)
	}
}

func TestRegistry_LogoutWithResidualRefs(t *testing.T) {
	r := newTestRegistry(t, 4)
	tr1, client1 := loginPipe(t, r, "alice")
	defer client1.Close()

	// A resting order keeps the session alive past logout, and the
	// name becomes free immediately.
	tr1.Ref("order 1")
	r.Logout(tr1)
	if tr1.testRefcount() != 1 {
		t.Fatalf("expected refcount 1 held by the order, got %d", tr1.testRefcount())
	}

	tr2, client2 := loginPipe(t, r, "alice")
	defer client2.Close()
	if r.Len() != 1 {
		t.Errorf("expected 1 logged-in trader, got %d", r.Len())
	}

	// Releasing the order's reference must not disturb the successor's
	// registry entry.
	tr1.Unref("order 1")
	if r.Len() != 1 {
		t.Errorf("expected successor still registered, got %d entries", r.Len())
	}
	server3, client3 := net.Pipe()
	defer client3.Close()
	if _, err := r.Login(server3, "alice"); !errors.Is(err, ErrAlreadyLoggedIn) {
		t.Errorf("expected successor to own the name, got %v", err)
	}
	_ = tr2
}

func TestTrader_UnrefToZeroClosesConn(t *testing.T) {
	r := newTestRegistry(t, 4)
	tr, client := loginPipe(t, r, "alice")
	defer client.Close()

	r.Logout(tr) // drops the last reference

	client.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := client.Read(make([]byte, 1)); err != io.EOF {
		t.Errorf("expected EOF after session release, got %v", err)
	}
}

func TestTrader_UnrefNegativePanics(t *testing.T) {
	r := newTestRegistry(t, 4)
	tr, client := loginPipe(t, r, "alice")
	defer client.Close()
	r.Logout(tr)

	defer func() {
		if recover() == nil {
			t.Error("expected panic on refcount underflow")
		}
	}()
	tr.Unref("underflow")
}

func TestTrader_SendAck(t *testing.T) {
	r := newTestRegistry(t, 4)
	tr, client := loginPipe(t, r, "alice")
	defer client.Close()

	done := make(chan struct{})
	var hdr protocol.Header
	var payload []byte
	go func() {
		defer close(done)
		hdr, payload, _ = protocol.ReadPacket(client)
	}()

	info := &protocol.StatusInfo{Balance: 42, OrderID: 7}
	if err := tr.SendAck(info); err != nil {
		t.Fatalf("SendAck: %v", err)
	}
	<-done

	if hdr.Type != protocol.TypeAck {
		t.Errorf("expected ACK, got %v", hdr.Type)
	}
	got, err := protocol.DecodeStatusInfo(payload)
	if err != nil {
		t.Fatalf("DecodeStatusInfo: %v", err)
	}
	if got.Balance != 42 || got.OrderID != 7 {
		t.Errorf("unexpected status payload: %+v", got)
	}
}

func TestTrader_SendNackHasNoPayload(t *testing.T) {
	r := newTestRegistry(t, 4)
	tr, client := loginPipe(t, r, "alice")
	defer client.Close()

	done := make(chan protocol.Header, 1)
	go func() {
		hdr, payload, err := protocol.ReadPacket(client)
		if err != nil || payload != nil {
			t.Errorf("expected bare NACK, got payload=%v err=%v", payload, err)
		}
		done <- hdr
	}()

	if err := tr.SendNack(); err != nil {
		t.Fatalf("SendNack: %v", err)
	}
	if hdr := <-done; hdr.Type != protocol.TypeNack {
		t.Errorf("expected NACK, got %v", hdr.Type)
	}
}

func TestRegistry_Broadcast(t *testing.T) {
	r := newTestRegistry(t, 4)
	trA, clientA := loginPipe(t, r, "alice")
	defer clientA.Close()
	trB, clientB := loginPipe(t, r, "bob")
	defer clientB.Close()

	chA := readPackets(clientA)
	chB := readPackets(clientB)

	payload := protocol.NotifyInfo{BuyerID: 2, SellerID: 1, Quantity: 5, Price: 110}.Encode()
	r.Broadcast(protocol.TypeTraded, payload)

	for name, ch := range map[string]<-chan protocol.Header{"alice": chA, "bob": chB} {
		select {
		case hdr := <-ch:
			if hdr.Type != protocol.TypeTraded {
				t.Errorf("%s: expected TRADED, got %v", name, hdr.Type)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s: timed out waiting for broadcast", name)
		}
	}

	// Transient broadcast references are all returned.
	if trA.testRefcount() != 1 || trB.testRefcount() != 1 {
		t.Errorf("expected refcounts back to 1, got %d and %d", trA.testRefcount(), trB.testRefcount())
	}
}

func TestRegistry_BroadcastSurvivesDeadPeer(t *testing.T) {
	r := newTestRegistry(t, 4)
	_, clientA := loginPipe(t, r, "alice")
	clientA.Close() // peer gone; sends to alice will fail

	_, clientB := loginPipe(t, r, "bob")
	defer clientB.Close()
	chB := readPackets(clientB)

	r.Broadcast(protocol.TypePosted, protocol.NotifyInfo{BuyerID: 1, Quantity: 2, Price: 50}.Encode())

	select {
	case hdr := <-chB:
		if hdr.Type != protocol.TypePosted {
			t.Errorf("expected POSTED, got %v", hdr.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out: dead peer poisoned the broadcast")
	}
}

func TestTrader_ConcurrentSendsDoNotInterleave(t *testing.T) {
	r := newTestRegistry(t, 4)
	tr, client := loginPipe(t, r, "alice")
	defer client.Close()

	const senders = 8
	const perSender = 20
	total := senders * perSender

	got := make(chan protocol.Header, total)
	go func() {
		for i := 0; i < total; i++ {
			hdr, _, err := protocol.ReadPacket(client)
			if err != nil {
				t.Errorf("ReadPacket after %d frames: %v", i, err)
				close(got)
				return
			}
			got <- hdr
		}
		close(got)
	}()

	for s := 0; s < senders; s++ {
		go func() {
			payload := protocol.NotifyInfo{Quantity: 1, Price: 1}.Encode()
			for i := 0; i < perSender; i++ {
				if err := tr.Send(protocol.TypeTraded, payload); err != nil {
					t.Errorf("Send: %v", err)
					return
				}
			}
		}()
	}

	count := 0
	for hdr := range got {
		if hdr.Type != protocol.TypeTraded || hdr.PayloadSize != protocol.NotifyInfoSize {
			t.Fatalf("frame %d corrupted: %+v", count, hdr)
		}
		count++
	}
	if count != total {
		t.Errorf("expected %d intact frames, got %d", total, count)
	}
}
