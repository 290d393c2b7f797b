package lludp

import (
	"net"
	"sync"
	"testing"
	"time"

	"verdantia/simulator/internal/config"
	"verdantia/simulator/internal/core"
	"verdantia/simulator/internal/logging"
	"verdantia/simulator/internal/login"
	"verdantia/simulator/internal/protocol"
)

// testClock is a manually advanced wall clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// capturedFrame is one datagram written through the fake connection.
type capturedFrame struct {
	addr  string
	frame []byte
}

// fakeConn records writes and blocks reads until closed.
type fakeConn struct {
	mu     sync.Mutex
	writes []capturedFrame
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{closed: make(chan struct{})}
}

func (f *fakeConn) ReadFrom(p []byte) (int, net.Addr, error) {
	<-f.closed
	return 0, nil, net.ErrClosed
}

func (f *fakeConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	frame := make([]byte, len(p))
	copy(frame, p)
	f.mu.Lock()
	f.writes = append(f.writes, capturedFrame{addr: addr.String(), frame: frame})
	f.mu.Unlock()
	return len(p), nil
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) LocalAddr() net.Addr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9000}
}

func (f *fakeConn) SetDeadline(time.Time) error      { return nil }
func (f *fakeConn) SetReadDeadline(time.Time) error  { return nil }
func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }

// framesTo returns every captured frame addressed to addr.
func (f *fakeConn) framesTo(addr net.Addr) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]byte
	for _, w := range f.writes {
		if w.addr == addr.String() {
			out = append(out, w.frame)
		}
	}
	return out
}

func (f *fakeConn) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func (f *fakeConn) reset() {
	f.mu.Lock()
	f.writes = nil
	f.mu.Unlock()
}

func testConfig() *config.Config {
	return &config.Config{
		BindAddr:      "127.0.0.1:0",
		MaxPacketSize: 1200,
		ResendTimeout: 100 * time.Millisecond,
		MaxResends:    3,
		AckTimeout:    time.Second,
		PingInterval:  5 * time.Second,
		ClientTimeout: 60 * time.Second,
		ChatRange:     20,
		RegionName:    "Testia",
	}
}

// newTestServer wires a server around a fake connection and a fake clock.
func newTestServer(t *testing.T, clk *testClock) (*Server, *fakeConn, *login.Service) {
	t.Helper()
	conn := newFakeConn()
	svc := login.NewService(login.WithClock(clk.Now))
	s := newWithConn(testConfig(), svc, logging.NewTestLogger(), conn, WithClock(clk.Now))
	return s, conn, svc
}

func clientAddr(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
}

// insertTestCircuit registers an authenticated circuit directly, bypassing
// the establishment handshake.
func insertTestCircuit(t *testing.T, s *Server, code uint32, addr net.Addr, pos core.Vector3) *CircuitInfo {
	t.Helper()
	c := NewCircuit(code, addr, s.clock())
	c.AgentID = core.NewUserID()
	c.SessionID = core.NewSessionID()
	c.Position = pos
	c.Authenticated = true
	if err := s.registry.Insert(c); err != nil {
		t.Fatalf("insert circuit %d: %v", code, err)
	}
	return c
}

// useCircuitPayload lays out an establishment request body.
func useCircuitPayload(code uint32, session core.SessionID, agent core.UserID) []byte {
	payload := appendU32(nil, code)
	payload = appendUUID(payload, session)
	payload = appendUUID(payload, agent.UUID)
	return payload
}

// registerAndGrant provisions an account and mints its session grant.
func registerAndGrant(t *testing.T, svc *login.Service, first, last string) login.Grant {
	t.Helper()
	svc.RegisterUser(first, last, "secret")
	grant, err := svc.Authenticate(login.Credentials{First: first, Last: last, Password: "secret"})
	if err != nil {
		t.Fatalf("authenticate %s %s: %v", first, last, err)
	}
	return grant
}

// dispatchPacket encodes the packet and feeds it to the dispatcher as if it
// had arrived from addr.
func dispatchPacket(t *testing.T, s *Server, addr net.Addr, p *protocol.Packet) {
	t.Helper()
	frame, err := p.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	s.dispatch(frame, addr)
}

// establishCircuit drives the full UseCircuitCode path for a fresh account.
func establishCircuit(t *testing.T, s *Server, svc *login.Service, addr net.Addr, first, last string) login.Grant {
	t.Helper()
	grant := registerAndGrant(t, svc, first, last)
	pkt := protocol.Reliable(1, useCircuitPayload(grant.CircuitCode, grant.SessionID, grant.AgentID)).
		WithMessageID(protocol.MsgUseCircuitCode)
	dispatchPacket(t, s, addr, pkt)
	return grant
}
