package rudp

import (
	"sync"
	"sync/atomic"

	"github.com/quic-go/quic-go"
)

// peer is one admitted remote endpoint: its QUIC connection and the single
// bidirectional stream carrying the reliable channel.
type peer struct {
	id     int
	conn   quic.Connection
	stream quic.Stream

	// writeMu serializes frame writes; a frame interleaved by two senders
	// would corrupt the stream framing.
	writeMu sync.Mutex

	closed atomic.Bool
}

// markClosed flips the peer to closed. Returns true for the caller that won
// the transition; disconnect bookkeeping runs exactly once.
func (p *peer) markClosed() bool {
	return p.closed.CompareAndSwap(false, true)
}

// readStreamLoop pumps reliable frames until the stream errors, then reaps
// the peer.
func (e *Engine) readStreamLoop(p *peer) {
	for {
		payload, err := readFrame(p.stream, e.cfg.MaxFrameSize)
		if err != nil {
			e.removePeer(p, err)
			return
		}
		if len(payload) == 0 {
			continue
		}
		e.fireReceive(p.id, payload, DeliveryReliableOrdered)
	}
}

// readDatagramLoop pumps unreliable datagrams until the connection dies.
// Stream loop ownership of peer removal avoids double reporting; datagram
// errors merely end this loop.
func (e *Engine) readDatagramLoop(p *peer) {
	for {
		data, err := p.conn.ReceiveDatagram(e.ctx)
		if err != nil {
			return
		}
		e.fireReceive(p.id, data, DeliveryUnreliable)
	}
}
