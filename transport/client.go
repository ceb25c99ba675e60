package transport

import (
	"github.com/lcx/nagare/log"
	"github.com/lcx/nagare/metrics"
	"github.com/lcx/nagare/rudp"
)

// ClientSocket is the client role: one outbound connection to a listening
// server, addressed through the engine as peer 0.
type ClientSocket struct {
	commonSocket

	incoming *concurrentQueue[*Packet]
	outgoing *concurrentQueue[*Packet]

	address string
	port    uint16
}

func newClientSocket(m *TransportManager) *ClientSocket {
	c := &ClientSocket{
		incoming: newConcurrentQueue[*Packet](),
		outgoing: newConcurrentQueue[*Packet](),
	}
	c.init(m, false)
	return c
}

// StartConnection begins connecting to address:port. Returns false when the
// socket is not Stopped. The Starting callback fires from the caller's
// goroutine; engine bring-up continues on a background task.
func (c *ClientSocket) StartConnection(address string, port uint16) bool {
	if c.ConnectionState() != Stopped {
		return false
	}

	c.snapshotCfg()
	c.address = address
	c.port = port
	c.stopPending.Store(false)

	c.clearQueues()
	c.setConnectionState(Starting)
	c.manager.submit(c.threadedSocketStart)
	return true
}

// StopConnection begins disconnecting. Returns false when the socket is
// already Stopping or Stopped.
func (c *ClientSocket) StopConnection() bool {
	return c.requestStop(nil, false)
}

// requestStop begins teardown once. Caller-initiated stops apply Stopping
// synchronously; stops raised from engine hooks or background tasks queue it
// instead, so receiver callbacks only ever fire from the frame thread's
// drain.
func (c *ClientSocket) requestStop(cause error, queued bool) bool {
	st := c.ConnectionState()
	if st == Stopped || st == Stopping {
		return false
	}
	if !c.stopPending.CompareAndSwap(false, true) {
		return false
	}
	if cause != nil {
		log.Info().Err(cause).Msg("server connection lost")
	}
	if queued {
		c.localStateQ.Enqueue(Stopping)
	} else {
		c.setConnectionState(Stopping)
	}
	c.manager.submit(c.threadedSocketStop)
	return true
}

// threadedSocketStart builds the engine and dials. Runs on a background
// task; completion surfaces through the local state queue.
func (c *ClientSocket) threadedSocketStart() {
	cfg := c.activeCfg()

	e := c.newEngine(rudp.Config{
		Hooks: rudp.Hooks{
			OnPeerConnected: func(int) {
				c.localStateQ.Enqueue(Started)
			},
			OnPeerDisconnected: func(_ int, err error) {
				c.requestStop(err, true)
			},
			OnReceive: func(peerID int, data []byte, method rudp.DeliveryMethod) {
				c.enqueueReceived(c.incoming, peerID, data, method)
			},
		},
		DisconnectTimeout: cfg.Timeout(),
		DoNotRoute:        cfg.DoNotRoute,
		MaxFrameSize:      cfg.UnreliableMTUFragmented,
		ConnectKey:        cfg.ConnectKey,
	})
	c.setEngine(e)

	if err := e.Connect(c.address, c.port); err != nil {
		log.Error().Err(err).Str("address", c.address).Uint16("port", c.port).
			Msg("client connect failed")
		metrics.IncrCounterWithGroup("transport", "client_connect_failures", 1)
		c.requestStop(nil, true)
	}
}

// threadedSocketStop tears the engine down and reports Stopped. The packet
// queues are left alone: the frame thread is their only consumer and clears
// them on its own not-Started path.
func (c *ClientSocket) threadedSocketStop() {
	c.stopMu.Lock()
	defer c.stopMu.Unlock()

	if e := c.takeEngine(); e != nil {
		e.Stop()
	}
	c.localStateQ.Enqueue(Stopped)
}

// SendToServer queues one payload for the server. Dropped unless Started.
func (c *ClientSocket) SendToServer(channel Channel, segment []byte) {
	c.enqueueOutgoing(c.outgoing, rudp.ServerPeerID, segment, channel)
}

// IterateOutgoing flushes the outbound queue into the engine. Without a live
// server connection the queue is discarded instead; stale packets from a
// dying connection must not leak into the next one.
func (c *ClientSocket) IterateOutgoing() {
	e := c.getEngine()
	if c.ConnectionState() != Started || e == nil || !e.IsConnected(rudp.ServerPeerID) {
		c.outgoing.Clear(disposePacket)
		return
	}

	mtu := c.activeCfg().UnreliableMTU
	for _, p := range c.outgoing.Drain() {
		data := c.outboundData(p)
		if err := e.Send(rudp.ServerPeerID, data, c.deliveryFor(p.Channel, len(data), mtu)); err != nil {
			log.Warn().Err(err).Msg("client send failed")
		}
		p.Dispose()
	}
}

// IterateIncoming applies queued state transitions, then delivers inbound
// packets. States drain first so a consumer never sees data before the
// Started callback that explains it.
func (c *ClientSocket) IterateIncoming() {
	c.pollSocket()
	c.drainLocalStates()

	st := c.ConnectionState()
	if st != Started {
		c.incoming.Clear(disposePacket)
		if st == Stopped && c.getEngine() != nil {
			// Engine handle still present in Stopped means a teardown task
			// was lost; reissue it.
			c.manager.submit(c.threadedSocketStop)
		}
		return
	}

	pace := c.manager.inboundLimiter()
	for _, p := range c.incoming.Drain() {
		if pace != nil {
			pace.Take()
		}
		c.manager.handleClientReceivedData(ClientReceivedDataArgs{
			Data:    p.Data(),
			Channel: p.Channel,
		})
		p.Dispose()
	}
}

func (c *ClientSocket) clearQueues() {
	c.localStateQ.Clear(nil)
	c.incoming.Clear(disposePacket)
	c.outgoing.Clear(disposePacket)
}

func disposePacket(p *Packet) {
	p.Dispose()
}
