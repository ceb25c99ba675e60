package transport

import (
	"sync"
	"sync/atomic"

	"github.com/lcx/nagare/log"
	"github.com/lcx/nagare/metrics"
	"github.com/lcx/nagare/rudp"
)

// commonSocket carries the state and machinery shared by the client and
// server roles: the lifecycle state machine, the engine handle, the local
// state queue, and the guarded enqueue paths.
//
// Threading model: engine hooks enqueue from worker goroutines; the iterate
// methods drain on the frame thread; start and stop run on background tasks.
// The engine handle is the only field those three sides share directly, so
// it sits behind its own mutex.
type commonSocket struct {
	manager  *TransportManager
	asServer bool

	state atomic.Int32

	engineMu sync.Mutex
	engine   netEngine

	// stopMu serializes teardown so a defensively reissued stop task cannot
	// overlap the one already running.
	stopMu sync.Mutex

	// stopPending collapses concurrent stop requests from the caller and the
	// engine hooks into one teardown. Reset on start.
	stopPending atomic.Bool

	// localStateQ carries lifecycle transitions produced off-thread. It is
	// always drained before any packet queue so consumers never see data
	// from a connection they have not been told about.
	localStateQ *concurrentQueue[LocalConnectionState]

	cfg       atomic.Pointer[TransportCfg]
	newEngine engineFactory
}

func (s *commonSocket) init(m *TransportManager, asServer bool) {
	s.manager = m
	s.asServer = asServer
	s.localStateQ = newConcurrentQueue[LocalConnectionState]()
	s.newEngine = defaultEngineFactory
}

// ConnectionState returns the socket's current lifecycle state.
func (s *commonSocket) ConnectionState() LocalConnectionState {
	return LocalConnectionState(s.state.Load())
}

// setConnectionState transitions the socket and notifies the receiver.
// Idempotent: setting the current state again does nothing, which lets
// redundant queued transitions collapse without duplicate callbacks.
func (s *commonSocket) setConnectionState(st LocalConnectionState) {
	if LocalConnectionState(s.state.Swap(int32(st))) == st {
		return
	}

	role := "client"
	if s.asServer {
		role = "server"
	}
	log.Info().Str("role", role).Str("state", st.String()).Msg("connection state changed")
	metrics.IncrCounterWithDimGroup("transport", "state_transitions", 1, metrics.Dimension{
		"role":  role,
		"state": st.String(),
	})

	s.manager.handleLocalConnectionState(s.asServer, st)
}

func (s *commonSocket) getEngine() netEngine {
	s.engineMu.Lock()
	defer s.engineMu.Unlock()
	return s.engine
}

func (s *commonSocket) setEngine(e netEngine) {
	s.engineMu.Lock()
	s.engine = e
	s.engineMu.Unlock()
}

// takeEngine detaches and returns the engine handle, leaving nil behind.
// The teardown task uses it so a concurrent send path cannot reach an
// engine that is being stopped.
func (s *commonSocket) takeEngine() netEngine {
	s.engineMu.Lock()
	defer s.engineMu.Unlock()
	e := s.engine
	s.engine = nil
	return e
}

// snapshotCfg pins the manager's current config for the lifetime of one
// start/stop cycle. Hot reloads swap the manager's pointer; a running
// socket keeps the config it started with.
func (s *commonSocket) snapshotCfg() *TransportCfg {
	cfg := s.manager.currentCfg()
	s.cfg.Store(cfg)
	return cfg
}

func (s *commonSocket) activeCfg() *TransportCfg {
	if cfg := s.cfg.Load(); cfg != nil {
		return cfg
	}
	return s.manager.currentCfg()
}

// pollSocket runs one engine housekeeping tick.
func (s *commonSocket) pollSocket() {
	if e := s.getEngine(); e != nil {
		e.Poll()
	}
}

// drainLocalStates applies every queued lifecycle transition in order.
func (s *commonSocket) drainLocalStates() {
	for _, st := range s.localStateQ.Drain() {
		s.setConnectionState(st)
	}
}

// enqueueReceived converts one inbound engine payload into a pooled packet.
// Runs on engine worker goroutines.
func (s *commonSocket) enqueueReceived(q *concurrentQueue[*Packet], peerID int, data []byte, method rudp.DeliveryMethod) {
	if layer := s.manager.packetLayer(); layer != nil {
		var err error
		if data, err = layer.Inbound(data); err != nil {
			log.Warn().Err(err).Int("conn", peerID).Msg("packet layer rejected inbound data, dropping")
			return
		}
	}

	ch := Reliable
	if method == rudp.DeliveryUnreliable {
		ch = Unreliable
	}
	q.Enqueue(newPacket(peerID, data, ch, s.activeCfg().UnreliableMTU))
}

// enqueueOutgoing queues one outbound payload. Packets queued before the
// socket reaches Started are dropped; the engine they would travel on does
// not exist yet. Payloads over the fragmented MTU are dropped outright since
// the engine would refuse the frame anyway.
func (s *commonSocket) enqueueOutgoing(q *concurrentQueue[*Packet], connectionID int, segment []byte, channel Channel) {
	if s.ConnectionState() != Started {
		return
	}
	cfg := s.activeCfg()
	if len(segment) > cfg.UnreliableMTUFragmented {
		log.Error().Int("size", len(segment)).Int("limit", cfg.UnreliableMTUFragmented).
			Msg("outbound payload exceeds fragmented MTU, dropping")
		metrics.IncrCounterWithGroup("transport", "oversized_drops", 1)
		return
	}
	q.Enqueue(newPacket(connectionID, segment, channel, cfg.UnreliableMTU))
}

// deliveryFor maps a channel and wire size to the engine delivery method,
// upgrading unreliable payloads that exceed the MTU to the reliable channel.
// The size is what actually goes on the wire, after any packet layer ran.
func (s *commonSocket) deliveryFor(channel Channel, size, mtu int) rudp.DeliveryMethod {
	if channel != Unreliable {
		return rudp.DeliveryReliableOrdered
	}
	if size > mtu {
		log.Warn().Int("size", size).Int("mtu", mtu).
			Msg("unreliable packet exceeds MTU, sending reliable instead")
		metrics.IncrCounterWithGroup("transport", "mtu_upgrades", 1)
		return rudp.DeliveryReliableOrdered
	}
	return rudp.DeliveryUnreliable
}

// outboundData applies the optional packet layer to one outbound payload.
func (s *commonSocket) outboundData(p *Packet) []byte {
	data := p.Data()
	if layer := s.manager.packetLayer(); layer != nil {
		data = layer.Outbound(data)
	}
	return data
}

// Port returns the locally bound port once the engine is up.
func (s *commonSocket) Port() (uint16, bool) {
	e := s.getEngine()
	if e == nil {
		return 0, false
	}
	p := e.Port()
	if p <= 0 {
		return 0, false
	}
	return uint16(p), true
}
