package transport

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/lcx/nagare/config"
	"github.com/lcx/nagare/log"
	"github.com/lcx/nagare/metrics"
	"github.com/lcx/nagare/naming"
)

// _taskPoolSize bounds the goroutines running socket start/stop tasks and
// service registration. Tasks are short; two roles rarely need more.
const _taskPoolSize = 4

// TransportManager is the single entry point for the layer above: it owns
// one client socket and one server socket, routes their callbacks to the
// receiver, and carries the cross-cutting pieces (config, task pool, rate
// limits, service registration).
//
// The iterate methods must be called from one goroutine, the frame thread.
// Everything else is safe to call from anywhere.
type TransportManager struct {
	cfg      atomic.Pointer[TransportCfg]
	receiver atomic.Pointer[TransportReceiver]

	client *ClientSocket
	server *ServerSocket

	pool  *ants.Pool
	layer atomic.Pointer[PacketLayer]

	inbound atomic.Pointer[FunnelRecvLimiter]

	regMu     sync.Mutex
	registrar *naming.Registrar

	// Bracketing hooks around the per-frame drains, for consumers that
	// batch work across the transport boundary. Any of them may be nil.
	// Set before the first iterate call; not synchronized afterwards.
	OnIterateIncomingStart func(asServer bool)
	OnIterateIncomingEnd   func(asServer bool)
	OnIterateOutgoingStart func(asServer bool)
	OnIterateOutgoingEnd   func(asServer bool)
}

// NewTransportManager creates a manager from an explicit config. A nil
// config selects defaults.
func NewTransportManager(cfg *TransportCfg, receiver TransportReceiver) (*TransportManager, error) {
	if cfg == nil {
		cfg = NewDefaultTransportCfg()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	pool, err := ants.NewPool(_taskPoolSize)
	if err != nil {
		return nil, fmt.Errorf("transport: task pool: %w", err)
	}

	m := &TransportManager{pool: pool}
	m.SetReceiver(receiver)
	m.cfg.Store(cfg)
	m.client = newClientSocket(m)
	m.server = newServerSocket(m)
	m.applyRateLimits(cfg)
	return m, nil
}

// NewTransportManagerWithConfigManager loads the "transport" section through
// the config manager and subscribes to hot reloads.
func NewTransportManagerWithConfigManager(cm config.ConfigManager, receiver TransportReceiver) (*TransportManager, error) {
	cfg := &TransportCfg{}
	if err := cm.LoadConfig(cfg.GetName(), cfg); err != nil {
		return nil, fmt.Errorf("transport: load config: %w", err)
	}
	m, err := NewTransportManager(cfg, receiver)
	if err != nil {
		return nil, err
	}
	cm.AddChangeListener(m)
	return m, nil
}

// GetConfigName implements config.ConfigChangeListener.
func (m *TransportManager) GetConfigName() string {
	return (&TransportCfg{}).GetName()
}

// OnConfigChanged implements config.ConfigChangeListener. The new config is
// stored for the next socket start; rate limits apply immediately.
func (m *TransportManager) OnConfigChanged(configName string, newConfig, oldConfig config.Config) error {
	cfg, ok := newConfig.(*TransportCfg)
	if !ok {
		return fmt.Errorf("transport: unexpected config type %T", newConfig)
	}
	m.cfg.Store(cfg)
	m.applyRateLimits(cfg)

	if lim := m.server.connLimiter.Load(); lim != nil && cfg.ConnectionRequestRate > 0 {
		lim.Reload(cfg.ConnectionRequestRate, cfg.ConnectionRequestBurst)
	}

	log.Info().Str("config", configName).Msg("transport config reloaded")
	return nil
}

func (m *TransportManager) applyRateLimits(cfg *TransportCfg) {
	if cfg.InboundPacketsPerSecond <= 0 {
		m.inbound.Store(nil)
		return
	}
	if lim := m.inbound.Load(); lim != nil {
		lim.Reload(cfg.InboundPacketsPerSecond)
		return
	}
	m.inbound.Store(NewFunnelRecvLimiter(cfg.InboundPacketsPerSecond))
}

func (m *TransportManager) currentCfg() *TransportCfg {
	return m.cfg.Load()
}

// SetReceiver installs the consumer of transport callbacks. Passing nil
// silences them; useful when the manager is built by the plugin layer before
// the consumer exists.
func (m *TransportManager) SetReceiver(r TransportReceiver) {
	if r == nil {
		m.receiver.Store(nil)
		return
	}
	m.receiver.Store(&r)
}

func (m *TransportManager) getReceiver() TransportReceiver {
	if p := m.receiver.Load(); p != nil {
		return *p
	}
	return nil
}

func (m *TransportManager) inboundLimiter() *FunnelRecvLimiter {
	return m.inbound.Load()
}

// SetPacketLayer installs a processing layer below the queues, e.g.
// compression or encryption. Pass nil to remove it. Takes effect for
// packets queued afterwards.
func (m *TransportManager) SetPacketLayer(layer PacketLayer) {
	if layer == nil {
		m.layer.Store(nil)
		return
	}
	m.layer.Store(&layer)
}

func (m *TransportManager) packetLayer() PacketLayer {
	if p := m.layer.Load(); p != nil {
		return *p
	}
	return nil
}

// submit runs fn on the task pool, falling back to a plain goroutine when
// the pool has been released during shutdown.
func (m *TransportManager) submit(fn func()) {
	if err := m.pool.Submit(fn); err != nil {
		go fn()
	}
}

// StartConnection starts the server role, or the client role dialing the
// configured client address and port.
func (m *TransportManager) StartConnection(asServer bool) bool {
	if asServer {
		return m.server.StartConnection()
	}
	cfg := m.currentCfg()
	return m.client.StartConnection(cfg.ClientAddress, cfg.Port)
}

// StartClient starts the client role against an explicit address and port,
// overriding the configured client address.
func (m *TransportManager) StartClient(address string, port uint16) bool {
	return m.client.StartConnection(address, port)
}

// StopConnection stops the given role.
func (m *TransportManager) StopConnection(asServer bool) bool {
	if asServer {
		return m.server.StopConnection()
	}
	return m.client.StopConnection()
}

// StopRemoteConnection kicks one peer off the server role.
func (m *TransportManager) StopRemoteConnection(connectionID int) bool {
	return m.server.StopRemoteConnection(connectionID)
}

// Shutdown stops both roles and releases the task pool. The manager is not
// reusable afterwards.
func (m *TransportManager) Shutdown() {
	m.client.StopConnection()
	m.server.StopConnection()
	m.deregister()
	m.pool.Release()
}

// GetConnectionState returns the lifecycle state of the given role.
func (m *TransportManager) GetConnectionState(asServer bool) LocalConnectionState {
	if asServer {
		return m.server.ConnectionState()
	}
	return m.client.ConnectionState()
}

// GetRemoteConnectionState reports whether a peer of the server role is
// connected.
func (m *TransportManager) GetRemoteConnectionState(connectionID int) RemoteConnectionState {
	return m.server.GetConnectionState(connectionID)
}

// GetConnectionAddress returns a server-role peer's remote address.
func (m *TransportManager) GetConnectionAddress(connectionID int) string {
	return m.server.GetConnectionAddress(connectionID)
}

// GetPort returns the bound local port of the given role.
func (m *TransportManager) GetPort(asServer bool) (uint16, bool) {
	if asServer {
		return m.server.Port()
	}
	return m.client.Port()
}

// SendToServer queues a payload on the client role.
func (m *TransportManager) SendToServer(channel Channel, segment []byte) {
	m.client.SendToServer(channel, segment)
}

// SendToClient queues a payload on the server role.
func (m *TransportManager) SendToClient(channel Channel, segment []byte, connectionID int) {
	m.server.SendToClient(channel, segment, connectionID)
}

// IterateIncoming drains one role's inbound side: state transitions first,
// then remote connection events, then data.
func (m *TransportManager) IterateIncoming(asServer bool) {
	if m.OnIterateIncomingStart != nil {
		m.OnIterateIncomingStart(asServer)
	}
	start := time.Now()
	if asServer {
		m.server.IterateIncoming()
	} else {
		m.client.IterateIncoming()
	}
	metrics.ObserveHistogramWithGroup("transport", "iterate_incoming_seconds",
		metrics.Value(time.Since(start).Seconds()))
	if m.OnIterateIncomingEnd != nil {
		m.OnIterateIncomingEnd(asServer)
	}
}

// IterateOutgoing flushes one role's outbound queue into the engine.
func (m *TransportManager) IterateOutgoing(asServer bool) {
	if m.OnIterateOutgoingStart != nil {
		m.OnIterateOutgoingStart(asServer)
	}
	start := time.Now()
	if asServer {
		m.server.IterateOutgoing()
	} else {
		m.client.IterateOutgoing()
	}
	metrics.ObserveHistogramWithGroup("transport", "iterate_outgoing_seconds",
		metrics.Value(time.Since(start).Seconds()))
	if m.OnIterateOutgoingEnd != nil {
		m.OnIterateOutgoingEnd(asServer)
	}
}

// handleLocalConnectionState fans a socket lifecycle transition out to the
// receiver and, for the server role, to service registration.
func (m *TransportManager) handleLocalConnectionState(asServer bool, st LocalConnectionState) {
	r := m.getReceiver()
	if asServer {
		if r != nil {
			r.HandleServerConnectionState(ServerConnectionStateArgs{State: st})
		}
		switch st {
		case Started:
			m.submit(m.register)
		case Stopping:
			m.submit(m.deregister)
		}
		return
	}
	if r != nil {
		r.HandleClientConnectionState(ClientConnectionStateArgs{State: st})
	}
}

func (m *TransportManager) handleRemoteConnectionState(args RemoteConnectionStateArgs) {
	metrics.UpdateGaugeWithGroup("transport", "connected_peers", metrics.Value(m.server.ConnectedCount()))
	if r := m.getReceiver(); r != nil {
		r.HandleRemoteConnectionState(args)
	}
}

func (m *TransportManager) handleClientReceivedData(args ClientReceivedDataArgs) {
	metrics.IncrCounterWithDimGroup("transport", "packets_received", 1,
		metrics.Dimension{"role": "client", "channel": args.Channel.String()})
	if r := m.getReceiver(); r != nil {
		r.HandleClientReceivedData(args)
	}
}

func (m *TransportManager) handleServerReceivedData(args ServerReceivedDataArgs) {
	metrics.IncrCounterWithDimGroup("transport", "packets_received", 1,
		metrics.Dimension{"role": "server", "channel": args.Channel.String()})
	if r := m.getReceiver(); r != nil {
		r.HandleServerReceivedData(args)
	}
}

// register announces the server role with consul when a service name is
// configured. Runs on the task pool; registration must not block the frame
// thread draining state events.
func (m *TransportManager) register() {
	cfg := m.currentCfg()
	if cfg.ServiceName == "" {
		return
	}

	port, ok := m.server.Port()
	if !ok {
		port = cfg.Port
	}

	m.regMu.Lock()
	defer m.regMu.Unlock()

	if m.registrar == nil {
		reg, err := naming.NewRegistrar(cfg.ConsulAddress)
		if err != nil {
			log.Error().Err(err).Msg("consul registrar unavailable")
			return
		}
		m.registrar = reg
	}
	if err := m.registrar.Register(cfg.ServiceName, int(port)); err != nil {
		log.Error().Err(err).Str("service", cfg.ServiceName).Msg("service registration failed")
	}
}

func (m *TransportManager) deregister() {
	m.regMu.Lock()
	defer m.regMu.Unlock()

	if m.registrar == nil {
		return
	}
	if err := m.registrar.Deregister(); err != nil {
		log.Error().Err(err).Msg("service deregistration failed")
	}
}
