package transport

import (
	"net"
	"sync/atomic"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/lcx/nagare/log"
	"github.com/lcx/nagare/metrics"
	"github.com/lcx/nagare/rudp"
)

// shardConnectionID spreads sequential engine-assigned ids across map shards.
func shardConnectionID(key int) uint32 {
	h := uint32(key)
	h ^= h >> 16
	h *= 0x45d9f3b
	h ^= h >> 16
	return h
}

// ServerSocket is the server role: a listening engine, admission control,
// and the authoritative peer table the frame thread reads.
//
// The peer table is maintained on the frame thread as remote events drain,
// so data delivery and address lookups agree with the connect/disconnect
// callbacks the consumer has already observed, not with the engine's more
// current view.
type ServerSocket struct {
	commonSocket

	incoming     *concurrentQueue[*Packet]
	outgoing     *concurrentQueue[*Packet]
	remoteEvents *concurrentQueue[remoteConnectionEvent]

	// peers maps connection id to remote address for every peer whose
	// Started event has drained and whose Stopped event has not.
	peers cmap.ConcurrentMap[int, string]

	// connLimiter is read on engine worker goroutines and swapped on start
	// and on config reload.
	connLimiter atomic.Pointer[TokenRecvLimiter]
}

func newServerSocket(m *TransportManager) *ServerSocket {
	s := &ServerSocket{
		incoming:     newConcurrentQueue[*Packet](),
		outgoing:     newConcurrentQueue[*Packet](),
		remoteEvents: newConcurrentQueue[remoteConnectionEvent](),
		peers:        cmap.NewWithCustomShardingFunction[int, string](shardConnectionID),
	}
	s.init(m, true)
	return s
}

// StartConnection begins listening. Returns false when the socket is not
// Stopped. The Starting callback fires from the caller's goroutine; binding
// continues on a background task.
func (s *ServerSocket) StartConnection() bool {
	if s.ConnectionState() != Stopped {
		return false
	}

	cfg := s.snapshotCfg()
	if cfg.ConnectionRequestRate > 0 {
		s.connLimiter.Store(NewTokenRecvLimiter(cfg.ConnectionRequestRate, cfg.ConnectionRequestBurst))
	} else {
		s.connLimiter.Store(nil)
	}
	s.stopPending.Store(false)

	s.clearQueues()
	s.setConnectionState(Starting)
	s.manager.submit(s.threadedSocketStart)
	return true
}

// StopConnection begins shutting the listener down. Returns false when the
// socket is already Stopping or Stopped.
func (s *ServerSocket) StopConnection() bool {
	return s.requestStop(false)
}

// requestStop begins teardown once. Caller-initiated stops apply Stopping
// synchronously; stops raised from background tasks queue it instead, so
// receiver callbacks only ever fire from the frame thread's drain.
func (s *ServerSocket) requestStop(queued bool) bool {
	st := s.ConnectionState()
	if st == Stopped || st == Stopping {
		return false
	}
	if !s.stopPending.CompareAndSwap(false, true) {
		return false
	}
	if queued {
		s.localStateQ.Enqueue(Stopping)
	} else {
		s.setConnectionState(Stopping)
	}
	s.manager.submit(s.threadedSocketStop)
	return true
}

// resolveBindIPv4 turns the configured bind address into an IP: empty binds
// all interfaces, non-IP values go through DNS.
func resolveBindIPv4(addr string) (net.IP, error) {
	if addr == "" {
		return net.IPv4zero, nil
	}
	if ip := net.ParseIP(addr); ip != nil {
		if ip4 := ip.To4(); ip4 != nil {
			return ip4, nil
		}
		return nil, &net.AddrError{Err: "not an IPv4 address", Addr: addr}
	}
	ips, err := net.LookupIP(addr)
	if err != nil {
		return nil, err
	}
	for _, ip := range ips {
		if ip4 := ip.To4(); ip4 != nil {
			return ip4, nil
		}
	}
	return nil, &net.AddrError{Err: "no IPv4 address found", Addr: addr}
}

// resolveBindIPv6 parses the IPv6 bind address. A bad value disables the
// IPv6 listener rather than failing the start.
func resolveBindIPv6(addr string) net.IP {
	if addr == "" {
		return net.IPv6unspecified
	}
	ip := net.ParseIP(addr)
	if ip == nil || ip.To4() != nil {
		log.Warn().Str("address", addr).Msg("invalid ipv6 bind address, disabling ipv6 listener")
		return nil
	}
	return ip
}

// threadedSocketStart resolves bind addresses, builds the engine and binds.
// Runs on a background task; completion surfaces through the local state
// queue.
func (s *ServerSocket) threadedSocketStart() {
	cfg := s.activeCfg()

	ipv4, err := resolveBindIPv4(cfg.BindAddressIPv4)
	if err != nil {
		log.Error().Err(err).Str("address", cfg.BindAddressIPv4).
			Msg("server bind address resolution failed")
		s.requestStop(true)
		return
	}
	var ipv6 net.IP
	if cfg.EnableIPv6 {
		ipv6 = resolveBindIPv6(cfg.BindAddressIPv6)
	}

	e := s.newEngine(rudp.Config{
		Hooks: rudp.Hooks{
			OnConnectionRequest: s.handleConnectionRequest,
			OnPeerConnected: func(peerID int) {
				s.remoteEvents.Enqueue(remoteConnectionEvent{connectionID: peerID, connected: true})
			},
			OnPeerDisconnected: func(peerID int, _ error) {
				s.remoteEvents.Enqueue(remoteConnectionEvent{connectionID: peerID, connected: false})
			},
			OnReceive: s.handleReceive,
		},
		DisconnectTimeout: cfg.Timeout(),
		DoNotRoute:        cfg.DoNotRoute,
		MaxFrameSize:      cfg.UnreliableMTUFragmented,
		ConnectKey:        cfg.ConnectKey,
	})
	s.setEngine(e)

	if err := e.Listen(ipv4, ipv6, cfg.Port); err != nil {
		log.Error().Err(err).Uint16("port", cfg.Port).Msg("server listen failed")
		metrics.IncrCounterWithGroup("transport", "server_listen_failures", 1)
		s.requestStop(true)
		return
	}
	s.localStateQ.Enqueue(Started)
}

// threadedSocketStop tears the engine down and reports Stopped. The packet
// and event queues are left alone: the frame thread is their only consumer
// and clears them on its own not-Started path.
func (s *ServerSocket) threadedSocketStop() {
	s.stopMu.Lock()
	defer s.stopMu.Unlock()

	if e := s.takeEngine(); e != nil {
		e.Stop()
	}
	s.localStateQ.Enqueue(Stopped)
}

// handleConnectionRequest gates admission: request rate, capacity, then
// connect key. Runs on an engine worker goroutine.
func (s *ServerSocket) handleConnectionRequest(req *rudp.ConnectionRequest) {
	cfg := s.activeCfg()

	if lim := s.connLimiter.Load(); lim != nil && !lim.TryTake() {
		log.Warn().Str("remote", req.RemoteAddr.String()).Msg("connection request rate limited")
		metrics.IncrCounterWithDimGroup("transport", "admission_rejected", 1,
			metrics.Dimension{"reason": "ratelimit"})
		req.Reject()
		return
	}

	if e := s.getEngine(); e != nil && e.PeerCount() >= cfg.MaximumClients {
		log.Warn().Str("remote", req.RemoteAddr.String()).Int("max", cfg.MaximumClients).
			Msg("connection rejected, server full")
		metrics.IncrCounterWithDimGroup("transport", "admission_rejected", 1,
			metrics.Dimension{"reason": "capacity"})
		req.Reject()
		return
	}

	// An empty configured key accepts any dialer.
	if cfg.ConnectKey != "" && req.Key != cfg.ConnectKey {
		log.Warn().Str("remote", req.RemoteAddr.String()).Msg("connection rejected, bad connect key")
		metrics.IncrCounterWithDimGroup("transport", "admission_rejected", 1,
			metrics.Dimension{"reason": "key"})
		req.Reject()
		return
	}

	req.Accept()
}

// handleReceive screens inbound payloads before queueing. A peer sending an
// unreliable payload over the MTU is violating the protocol and gets kicked;
// the matching Stopped event is synthesized here because the engine stays
// silent for locally initiated disconnects.
func (s *ServerSocket) handleReceive(peerID int, data []byte, method rudp.DeliveryMethod) {
	if method == rudp.DeliveryUnreliable && len(data) > s.activeCfg().UnreliableMTU {
		log.Warn().Int("conn", peerID).Int("size", len(data)).
			Msg("peer kicked for oversized unreliable payload")
		metrics.IncrCounterWithGroup("transport", "oversized_kicks", 1)
		if e := s.getEngine(); e != nil {
			_ = e.Disconnect(peerID)
		}
		s.remoteEvents.Enqueue(remoteConnectionEvent{connectionID: peerID, connected: false})
		return
	}
	s.enqueueReceived(s.incoming, peerID, data, method)
}

// SendToClient queues one payload for a peer, or for every peer when
// connectionID is BroadcastConnectionID. Dropped unless Started.
func (s *ServerSocket) SendToClient(channel Channel, segment []byte, connectionID int) {
	s.enqueueOutgoing(s.outgoing, connectionID, segment, channel)
}

// IterateOutgoing flushes the outbound queue into the engine. Packets for
// peers that disconnected while queued are discarded.
func (s *ServerSocket) IterateOutgoing() {
	e := s.getEngine()
	if s.ConnectionState() != Started || e == nil {
		s.outgoing.Clear(disposePacket)
		return
	}

	mtu := s.activeCfg().UnreliableMTU
	for _, p := range s.outgoing.Drain() {
		data := s.outboundData(p)
		method := s.deliveryFor(p.Channel, len(data), mtu)

		if p.ConnectionID == BroadcastConnectionID {
			for _, id := range s.peers.Keys() {
				if err := e.Send(id, data, method); err != nil {
					log.Warn().Err(err).Int("conn", id).Msg("broadcast send failed")
				}
			}
		} else if s.peers.Has(p.ConnectionID) {
			if err := e.Send(p.ConnectionID, data, method); err != nil {
				log.Warn().Err(err).Int("conn", p.ConnectionID).Msg("server send failed")
			}
		}
		p.Dispose()
	}
}

// IterateIncoming applies queued socket states, then remote connection
// events, then inbound packets, in that order. A packet whose source peer
// left the table between queueing and draining is discarded; the consumer
// already saw that peer's Stopped event.
func (s *ServerSocket) IterateIncoming() {
	s.pollSocket()
	s.drainLocalStates()

	st := s.ConnectionState()
	if st != Started {
		s.remoteEvents.Clear(nil)
		s.incoming.Clear(disposePacket)
		s.peers.Clear()
		if st == Stopped && s.getEngine() != nil {
			s.manager.submit(s.threadedSocketStop)
		}
		return
	}

	for _, ev := range s.remoteEvents.Drain() {
		if ev.connected {
			addr := ""
			if e := s.getEngine(); e != nil {
				addr, _ = e.PeerAddr(ev.connectionID)
			}
			s.peers.Set(ev.connectionID, addr)
			s.manager.handleRemoteConnectionState(RemoteConnectionStateArgs{
				State:        RemoteStarted,
				ConnectionID: ev.connectionID,
			})
		} else {
			// Already removed means the disconnect was reported through
			// another path; do not double-notify.
			if !s.peers.Has(ev.connectionID) {
				continue
			}
			s.peers.Remove(ev.connectionID)
			s.manager.handleRemoteConnectionState(RemoteConnectionStateArgs{
				State:        RemoteStopped,
				ConnectionID: ev.connectionID,
			})
		}
	}

	pace := s.manager.inboundLimiter()
	for _, p := range s.incoming.Drain() {
		if !s.peers.Has(p.ConnectionID) {
			p.Dispose()
			continue
		}
		if pace != nil {
			pace.Take()
		}
		s.manager.handleServerReceivedData(ServerReceivedDataArgs{
			Data:         p.Data(),
			Channel:      p.Channel,
			ConnectionID: p.ConnectionID,
		})
		p.Dispose()
	}
}

// StopRemoteConnection kicks one peer. Returns false when the server is not
// Started or the peer is unknown to the engine. The Stopped callback for a
// peer the consumer already knows fires synchronously so the caller observes
// the kick immediately.
func (s *ServerSocket) StopRemoteConnection(connectionID int) bool {
	if s.ConnectionState() != Started {
		return false
	}
	e := s.getEngine()
	if e == nil {
		return false
	}
	if err := e.Disconnect(connectionID); err != nil {
		log.Warn().Err(err).Int("conn", connectionID).Msg("kick failed")
		return false
	}

	if s.peers.Has(connectionID) {
		s.peers.Remove(connectionID)
		s.manager.handleRemoteConnectionState(RemoteConnectionStateArgs{
			State:        RemoteStopped,
			ConnectionID: connectionID,
		})
	} else {
		// Peer admitted but its Started event has not drained yet; queue the
		// Stopped event so the pair stays ordered.
		s.remoteEvents.Enqueue(remoteConnectionEvent{connectionID: connectionID, connected: false})
	}
	return true
}

// GetConnectionState reports whether a peer is connected, from the frame
// thread's point of view.
func (s *ServerSocket) GetConnectionState(connectionID int) RemoteConnectionState {
	if s.ConnectionState() != Started {
		return RemoteStopped
	}
	if !s.peers.Has(connectionID) {
		return RemoteStopped
	}
	e := s.getEngine()
	if e == nil || !e.IsConnected(connectionID) {
		return RemoteStopped
	}
	return RemoteStarted
}

// GetConnectionAddress returns a peer's remote address, or "" with a warning
// when the server is not Started or the peer is unknown.
func (s *ServerSocket) GetConnectionAddress(connectionID int) string {
	if s.ConnectionState() != Started {
		log.Warn().Int("conn", connectionID).Msg("address requested while server not started")
		return ""
	}
	if addr, ok := s.peers.Get(connectionID); ok && addr != "" {
		return addr
	}
	if e := s.getEngine(); e != nil {
		if addr, ok := e.PeerAddr(connectionID); ok {
			return addr
		}
	}
	log.Warn().Int("conn", connectionID).Msg("address requested for unknown connection")
	return ""
}

// ConnectedCount returns the number of peers in the frame thread's table.
func (s *ServerSocket) ConnectedCount() int {
	return s.peers.Count()
}

func (s *ServerSocket) clearQueues() {
	s.localStateQ.Clear(nil)
	s.remoteEvents.Clear(nil)
	s.incoming.Clear(disposePacket)
	s.outgoing.Clear(disposePacket)
	s.peers.Clear()
}
