package rudp

import (
	"net"
	"sync"
	"testing"
	"time"
)

// eventSink collects engine hook invocations for assertions.
type eventSink struct {
	mu           sync.Mutex
	connected    []int
	disconnected []int
	received     map[DeliveryMethod][][]byte
}

func newEventSink() *eventSink {
	return &eventSink{received: make(map[DeliveryMethod][][]byte)}
}

func (s *eventSink) hooks(onRequest func(*ConnectionRequest)) Hooks {
	return Hooks{
		OnConnectionRequest: onRequest,
		OnPeerConnected: func(id int) {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.connected = append(s.connected, id)
		},
		OnPeerDisconnected: func(id int, _ error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.disconnected = append(s.disconnected, id)
		},
		OnReceive: func(_ int, data []byte, method DeliveryMethod) {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.received[method] = append(s.received[method], append([]byte(nil), data...))
		},
	}
}

func (s *eventSink) connectedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.connected)
}

func (s *eventSink) reliableFrames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.received[DeliveryReliableOrdered]...)
}

func (s *eventSink) unreliableFrames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.received[DeliveryUnreliable])
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// TestEngineLoopback runs a full listener/dialer exchange over localhost.
func TestEngineLoopback(t *testing.T) {
	serverSink := newEventSink()
	server := New(Config{
		Hooks: serverSink.hooks(func(req *ConnectionRequest) {
			if req.Key == "good key" {
				req.Accept()
			}
		}),
		ConnectKey: "good key",
	})
	defer server.Stop()

	if err := server.Listen(net.IPv4(127, 0, 0, 1), nil, 0); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	port := server.Port()
	if port == 0 {
		t.Fatal("bound port not reported")
	}

	clientSink := newEventSink()
	client := New(Config{
		Hooks:      clientSink.hooks(nil),
		ConnectKey: "good key",
	})
	defer client.Stop()

	if err := client.Connect("127.0.0.1", uint16(port)); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if got := clientSink.connectedCount(); got != 1 {
		t.Fatalf("client connected events = %d, want 1", got)
	}
	if !client.IsConnected(ServerPeerID) {
		t.Fatal("client should report the server peer")
	}

	waitFor(t, "server to admit the peer", func() bool {
		return serverSink.connectedCount() == 1
	})
	if server.PeerCount() != 1 {
		t.Fatalf("server peer count = %d, want 1", server.PeerCount())
	}

	// Reliable both directions.
	if err := client.Send(ServerPeerID, []byte("c2s"), DeliveryReliableOrdered); err != nil {
		t.Fatalf("client send: %v", err)
	}
	waitFor(t, "server to receive reliable data", func() bool {
		return len(serverSink.reliableFrames()) == 1
	})
	if got := string(serverSink.reliableFrames()[0]); got != "c2s" {
		t.Fatalf("server received %q", got)
	}

	peerID := server.PeerIDs()[0]
	if err := server.Send(peerID, []byte("s2c"), DeliveryReliableOrdered); err != nil {
		t.Fatalf("server send: %v", err)
	}
	waitFor(t, "client to receive reliable data", func() bool {
		return len(clientSink.reliableFrames()) == 1
	})

	// Datagrams are lossy even on loopback; retry until one lands.
	waitFor(t, "an unreliable datagram to arrive", func() bool {
		_ = client.Send(ServerPeerID, []byte("dgram"), DeliveryUnreliable)
		return serverSink.unreliableFrames() > 0
	})

	if addr, ok := server.PeerAddr(peerID); !ok || addr == "" {
		t.Fatalf("PeerAddr = %q, %v", addr, ok)
	}
}

func TestEngineRejectsBadKey(t *testing.T) {
	serverSink := newEventSink()
	server := New(Config{
		Hooks: serverSink.hooks(func(req *ConnectionRequest) {
			if req.Key == "expected" {
				req.Accept()
			}
		}),
	})
	defer server.Stop()

	if err := server.Listen(net.IPv4(127, 0, 0, 1), nil, 0); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	client := New(Config{ConnectKey: "wrong"})
	defer client.Stop()

	if err := client.Connect("127.0.0.1", uint16(server.Port())); err == nil {
		t.Fatal("connect with a rejected key must fail")
	}
	if serverSink.connectedCount() != 0 {
		t.Fatal("rejected peer must never surface as connected")
	}
}

func TestEngineDisconnectIsSilent(t *testing.T) {
	serverSink := newEventSink()
	server := New(Config{
		Hooks: serverSink.hooks(func(req *ConnectionRequest) { req.Accept() }),
	})
	defer server.Stop()

	if err := server.Listen(net.IPv4(127, 0, 0, 1), nil, 0); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	client := New(Config{})
	defer client.Stop()
	if err := client.Connect("127.0.0.1", uint16(server.Port())); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitFor(t, "admission", func() bool { return server.PeerCount() == 1 })

	peerID := server.PeerIDs()[0]
	if err := server.Disconnect(peerID); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if server.IsConnected(peerID) {
		t.Fatal("peer should be gone after Disconnect")
	}

	serverSink.mu.Lock()
	locallyReported := len(serverSink.disconnected)
	serverSink.mu.Unlock()
	if locallyReported != 0 {
		t.Fatal("locally initiated disconnects must not fire OnPeerDisconnected")
	}

	if err := server.Disconnect(peerID); err != ErrPeerNotFound {
		t.Fatalf("second Disconnect = %v, want ErrPeerNotFound", err)
	}
}

func TestEngineSendToUnknownPeer(t *testing.T) {
	e := New(Config{})
	defer e.Stop()
	if err := e.Send(42, []byte("x"), DeliveryReliableOrdered); err != ErrPeerNotFound {
		t.Fatalf("Send = %v, want ErrPeerNotFound", err)
	}
}

func TestEngineStoppedRefusesWork(t *testing.T) {
	e := New(Config{})
	e.Stop()

	if err := e.Listen(net.IPv4(127, 0, 0, 1), nil, 0); err != ErrEngineClosed {
		t.Fatalf("Listen = %v, want ErrEngineClosed", err)
	}
	if err := e.Connect("127.0.0.1", 1); err != ErrEngineClosed {
		t.Fatalf("Connect = %v, want ErrEngineClosed", err)
	}
	if err := e.Send(0, nil, DeliveryReliableOrdered); err != ErrEngineClosed {
		t.Fatalf("Send = %v, want ErrEngineClosed", err)
	}
}
