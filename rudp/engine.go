// Package rudp is the reliable-UDP engine underneath the transport sockets.
// It maps the two delivery channels onto QUIC: reliable-ordered messages are
// length-prefixed frames on a single bidirectional stream per peer, and
// unreliable messages are QUIC DATAGRAM frames. Handshake, acknowledgement,
// retransmission, congestion control and encryption all belong to QUIC; this
// package only adds message framing, connect-key admission and integer peer
// identities.
//
// Event hooks fire on the engine's own goroutines. Callers are expected to
// hand the events off to thread-safe queues, never to block in a hook.
package rudp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/lcx/nagare/log"
)

// DeliveryMethod selects the channel an outbound message travels on.
type DeliveryMethod byte

const (
	// DeliveryReliableOrdered guarantees delivery and ordering.
	DeliveryReliableOrdered DeliveryMethod = iota

	// DeliveryUnreliable is fire-and-forget with a datagram size limit.
	DeliveryUnreliable
)

// Hooks are the event callbacks of an engine instance. Any hook may be nil.
type Hooks struct {
	// OnConnectionRequest is invoked for every dialing peer before admission
	// (listening engines only). The hook must call Accept or Reject on the
	// request; an undecided request is rejected.
	OnConnectionRequest func(req *ConnectionRequest)

	// OnPeerConnected fires once per admitted peer.
	OnPeerConnected func(peerID int)

	// OnPeerDisconnected fires once per peer whose connection ended for any
	// reason other than a local Disconnect or Stop call.
	OnPeerDisconnected func(peerID int, err error)

	// OnReceive delivers one inbound message. The data slice is owned by the
	// callee.
	OnReceive func(peerID int, data []byte, method DeliveryMethod)
}

// Config parameterizes an engine instance.
type Config struct {
	Hooks Hooks

	// DisconnectTimeout is the idle interval after which a silent peer is
	// considered gone. Zero selects 30 seconds.
	DisconnectTimeout time.Duration

	// DoNotRoute sets SO_DONTROUTE on the UDP socket (best effort; no-op on
	// platforms without the option).
	DoNotRoute bool

	// MaxFrameSize caps a single reliable message. Zero selects 1 MiB.
	MaxFrameSize int

	// ConnectKey is presented by dialing engines during the handshake and
	// surfaced to the listener's OnConnectionRequest hook.
	ConnectKey string
}

const (
	_defaultDisconnectTimeout = 30 * time.Second
	_defaultMaxFrameSize      = 1 << 20
	_handshakeTimeout         = 7 * time.Second
)

// ServerPeerID is the id a dialing engine assigns to its remote server.
const ServerPeerID = 0

var (
	// ErrPeerNotFound reports a send or disconnect aimed at an unknown peer id.
	ErrPeerNotFound = errors.New("rudp: peer not found")

	// ErrEngineClosed reports an operation on a stopped engine.
	ErrEngineClosed = errors.New("rudp: engine closed")
)

const (
	_codeShutdown quic.ApplicationErrorCode = 0x0
	_codeRejected quic.ApplicationErrorCode = 0x1
	_codeKicked   quic.ApplicationErrorCode = 0x2
)

// Engine is one reliable-UDP endpoint: either a listener with many peers or
// a dialer with exactly one. All exported methods are safe for concurrent use.
type Engine struct {
	cfg Config

	mu        sync.Mutex
	udpConns  []*net.UDPConn
	listeners []*quic.Listener
	peers     map[int]*peer
	nextID    int
	port      int

	closed atomic.Bool
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates an idle engine. Call Listen or Connect to bring it up.
func New(cfg Config) *Engine {
	if cfg.DisconnectTimeout <= 0 {
		cfg.DisconnectTimeout = _defaultDisconnectTimeout
	}
	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = _defaultMaxFrameSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:    cfg,
		peers:  make(map[int]*peer),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (e *Engine) quicConfig() *quic.Config {
	return &quic.Config{
		EnableDatagrams:      true,
		MaxIdleTimeout:       e.cfg.DisconnectTimeout,
		KeepAlivePeriod:      e.cfg.DisconnectTimeout / 3,
		HandshakeIdleTimeout: _handshakeTimeout,
	}
}

func (e *Engine) listenUDP(network string, ip net.IP, port int) (*net.UDPConn, error) {
	conn, err := net.ListenUDP(network, &net.UDPAddr{IP: ip, Port: port})
	if err != nil {
		return nil, err
	}
	if e.cfg.DoNotRoute {
		if err := setDoNotRoute(conn); err != nil {
			log.Warn().Err(err).Msg("SO_DONTROUTE not applied")
		}
	}
	return conn, nil
}

// Listen binds the engine to the given IPv4 address (required) and, when
// ipv6 is non-nil, the given IPv6 address on the same port. An IPv6 bind
// failure is logged and tolerated; an IPv4 bind failure fails the call.
func (e *Engine) Listen(ipv4 net.IP, ipv6 net.IP, port uint16) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}

	tlsConf, err := serverTLSConfig()
	if err != nil {
		return fmt.Errorf("tls setup: %w", err)
	}

	conn4, err := e.listenUDP("udp4", ipv4, int(port))
	if err != nil {
		return fmt.Errorf("bind ipv4: %w", err)
	}
	boundPort := conn4.LocalAddr().(*net.UDPAddr).Port

	ln4, err := quic.Listen(conn4, tlsConf, e.quicConfig())
	if err != nil {
		_ = conn4.Close()
		return fmt.Errorf("listen ipv4: %w", err)
	}

	e.mu.Lock()
	e.udpConns = append(e.udpConns, conn4)
	e.listeners = append(e.listeners, ln4)
	e.port = boundPort
	e.mu.Unlock()

	go e.acceptLoop(ln4)

	if ipv6 != nil {
		conn6, err := e.listenUDP("udp6", ipv6, boundPort)
		if err != nil {
			log.Warn().Err(err).Msg("ipv6 bind failed, continuing ipv4 only")
			return nil
		}
		ln6, err := quic.Listen(conn6, tlsConf, e.quicConfig())
		if err != nil {
			log.Warn().Err(err).Msg("ipv6 listen failed, continuing ipv4 only")
			_ = conn6.Close()
			return nil
		}
		e.mu.Lock()
		e.udpConns = append(e.udpConns, conn6)
		e.listeners = append(e.listeners, ln6)
		e.mu.Unlock()
		go e.acceptLoop(ln6)
	}

	return nil
}

// Connect dials a listening engine, presents the connect key, and waits for
// admission. On success the remote server is registered as peer 0 and
// OnPeerConnected fires before Connect returns.
func (e *Engine) Connect(address string, port uint16) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}

	raddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", address, port))
	if err != nil {
		return fmt.Errorf("resolve %s: %w", address, err)
	}

	conn, err := e.listenUDP("udp", nil, 0)
	if err != nil {
		return fmt.Errorf("bind local: %w", err)
	}

	ctx, cancel := context.WithTimeout(e.ctx, _handshakeTimeout)
	defer cancel()

	qconn, err := quic.Dial(ctx, conn, raddr, clientTLSConfig(), e.quicConfig())
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("dial: %w", err)
	}

	stream, err := qconn.OpenStreamSync(ctx)
	if err != nil {
		_ = qconn.CloseWithError(_codeShutdown, "handshake failed")
		_ = conn.Close()
		return fmt.Errorf("open stream: %w", err)
	}

	// Handshake: key out, empty ack frame back. A rejecting server closes
	// the connection instead of acking.
	if err := writeFrame(stream, []byte(e.cfg.ConnectKey)); err != nil {
		_ = qconn.CloseWithError(_codeShutdown, "handshake failed")
		_ = conn.Close()
		return fmt.Errorf("send key: %w", err)
	}
	_ = stream.SetReadDeadline(time.Now().Add(_handshakeTimeout))
	if _, err := readFrame(stream, e.cfg.MaxFrameSize); err != nil {
		_ = qconn.CloseWithError(_codeShutdown, "handshake failed")
		_ = conn.Close()
		return fmt.Errorf("admission: %w", err)
	}
	_ = stream.SetReadDeadline(time.Time{})

	p := &peer{
		id:     ServerPeerID,
		conn:   qconn,
		stream: stream,
	}

	e.mu.Lock()
	e.udpConns = append(e.udpConns, conn)
	e.peers[p.id] = p
	e.port = conn.LocalAddr().(*net.UDPAddr).Port
	e.mu.Unlock()

	e.firePeerConnected(p.id)
	go e.readStreamLoop(p)
	go e.readDatagramLoop(p)
	return nil
}

// acceptLoop admits inbound connections until the listener closes.
func (e *Engine) acceptLoop(ln *quic.Listener) {
	for {
		qconn, err := ln.Accept(e.ctx)
		if err != nil {
			return
		}
		go e.handleInbound(qconn)
	}
}

// handleInbound performs the admission handshake for one dialing peer.
func (e *Engine) handleInbound(qconn quic.Connection) {
	ctx, cancel := context.WithTimeout(e.ctx, _handshakeTimeout)
	defer cancel()

	stream, err := qconn.AcceptStream(ctx)
	if err != nil {
		_ = qconn.CloseWithError(_codeShutdown, "handshake timeout")
		return
	}

	_ = stream.SetReadDeadline(time.Now().Add(_handshakeTimeout))
	key, err := readFrame(stream, e.cfg.MaxFrameSize)
	if err != nil {
		_ = qconn.CloseWithError(_codeShutdown, "handshake failed")
		return
	}
	_ = stream.SetReadDeadline(time.Time{})

	req := &ConnectionRequest{
		Key:        string(key),
		RemoteAddr: qconn.RemoteAddr(),
	}
	if e.cfg.Hooks.OnConnectionRequest != nil {
		e.cfg.Hooks.OnConnectionRequest(req)
	}
	if !req.accepted {
		_ = qconn.CloseWithError(_codeRejected, "connection rejected")
		return
	}

	p := &peer{
		conn:   qconn,
		stream: stream,
	}

	e.mu.Lock()
	if e.closed.Load() {
		e.mu.Unlock()
		_ = qconn.CloseWithError(_codeShutdown, "engine stopped")
		return
	}
	p.id = e.nextID
	e.nextID++
	e.peers[p.id] = p
	e.mu.Unlock()

	// Admission ack: empty frame.
	p.writeMu.Lock()
	err = writeFrame(stream, nil)
	p.writeMu.Unlock()
	if err != nil {
		e.removePeer(p, err)
		return
	}

	e.firePeerConnected(p.id)
	go e.readStreamLoop(p)
	go e.readDatagramLoop(p)
}

// Send transmits data to a peer on the selected channel.
func (e *Engine) Send(peerID int, data []byte, method DeliveryMethod) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	p := e.lookupPeer(peerID)
	if p == nil {
		return ErrPeerNotFound
	}

	if method == DeliveryUnreliable {
		return p.conn.SendDatagram(data)
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return writeFrame(p.stream, data)
}

// Disconnect closes a peer's connection without firing OnPeerDisconnected;
// the caller initiated the disconnect and already knows.
func (e *Engine) Disconnect(peerID int) error {
	p := e.lookupPeer(peerID)
	if p == nil {
		return ErrPeerNotFound
	}
	p.markClosed()
	_ = p.conn.CloseWithError(_codeKicked, "disconnected")

	e.mu.Lock()
	delete(e.peers, peerID)
	e.mu.Unlock()
	return nil
}

// Poll performs one housekeeping tick: peers whose underlying connection has
// died without the read loops noticing yet are reaped. The transport layer
// calls this once per frame.
func (e *Engine) Poll() {
	if e.closed.Load() {
		return
	}

	e.mu.Lock()
	var dead []*peer
	for _, p := range e.peers {
		select {
		case <-p.conn.Context().Done():
			dead = append(dead, p)
		default:
		}
	}
	e.mu.Unlock()

	for _, p := range dead {
		e.removePeer(p, context.Cause(p.conn.Context()))
	}
}

// Stop tears the engine down: listeners, peers and sockets. Hooks do not
// fire for peers closed by Stop.
func (e *Engine) Stop() {
	if !e.closed.CompareAndSwap(false, true) {
		return
	}
	e.cancel()

	e.mu.Lock()
	listeners := e.listeners
	conns := e.udpConns
	peers := make([]*peer, 0, len(e.peers))
	for _, p := range e.peers {
		peers = append(peers, p)
	}
	e.listeners = nil
	e.udpConns = nil
	e.peers = make(map[int]*peer)
	e.mu.Unlock()

	for _, p := range peers {
		p.markClosed()
		_ = p.conn.CloseWithError(_codeShutdown, "engine stopped")
	}
	for _, ln := range listeners {
		_ = ln.Close()
	}
	for _, c := range conns {
		_ = c.Close()
	}
}

// Port returns the locally bound UDP port, or 0 before Listen/Connect.
func (e *Engine) Port() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.port
}

// IsConnected reports whether the peer id is currently registered.
func (e *Engine) IsConnected(peerID int) bool {
	return e.lookupPeer(peerID) != nil
}

// PeerAddr returns the remote address string of a registered peer.
func (e *Engine) PeerAddr(peerID int) (string, bool) {
	p := e.lookupPeer(peerID)
	if p == nil {
		return "", false
	}
	return p.conn.RemoteAddr().String(), true
}

// PeerCount returns the number of registered peers.
func (e *Engine) PeerCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.peers)
}

// PeerIDs returns a snapshot of the registered peer ids.
func (e *Engine) PeerIDs() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]int, 0, len(e.peers))
	for id := range e.peers {
		ids = append(ids, id)
	}
	return ids
}

func (e *Engine) lookupPeer(peerID int) *peer {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.peers[peerID]
}

// removePeer unregisters a peer and fires OnPeerDisconnected exactly once,
// unless the peer was already closed locally (Disconnect/Stop).
func (e *Engine) removePeer(p *peer, cause error) {
	if !p.markClosed() {
		return
	}
	_ = p.conn.CloseWithError(_codeShutdown, "closed")

	e.mu.Lock()
	delete(e.peers, p.id)
	e.mu.Unlock()

	if e.closed.Load() {
		return
	}
	if e.cfg.Hooks.OnPeerDisconnected != nil {
		e.cfg.Hooks.OnPeerDisconnected(p.id, cause)
	}
}

func (e *Engine) firePeerConnected(peerID int) {
	if e.cfg.Hooks.OnPeerConnected != nil {
		e.cfg.Hooks.OnPeerConnected(peerID)
	}
}

func (e *Engine) fireReceive(peerID int, data []byte, method DeliveryMethod) {
	if e.cfg.Hooks.OnReceive != nil {
		e.cfg.Hooks.OnReceive(peerID, data, method)
	}
}
