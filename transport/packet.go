package transport

import (
	"sync/atomic"

	"github.com/valyala/bytebufferpool"

	"github.com/lcx/nagare/metrics"
)

// _packetPool backs every queued packet payload. Buffers are rented with
// capacity for at least one unreliable MTU so that reuse across mixed packet
// sizes rarely reallocates.
var _packetPool bytebufferpool.Pool

// _outstandingPackets counts rented-but-undisposed packets; exported as a
// gauge so a consumer forgetting Dispose shows up on a dashboard instead of
// as silent pool starvation.
var _outstandingPackets atomic.Int64

// Packet is one queued payload plus its addressing. The payload lives in a
// pooled buffer; exactly one Dispose call returns it. ConnectionID is the
// source peer for inbound packets and the destination for outbound ones,
// with BroadcastConnectionID fanning an outbound server packet to all peers.
type Packet struct {
	ConnectionID int
	Channel      Channel

	buf    *bytebufferpool.ByteBuffer
	length int
}

// newPacket copies segment into a pooled buffer. reserve is the minimum
// capacity to rent regardless of the segment length.
func newPacket(connectionID int, segment []byte, channel Channel, reserve int) *Packet {
	bb := _packetPool.Get()
	need := len(segment)
	if reserve > need {
		need = reserve
	}
	if cap(bb.B) < need {
		bb.B = make([]byte, 0, need)
	}
	bb.B = append(bb.B[:0], segment...)

	_outstandingPackets.Add(1)
	metrics.UpdateGaugeWithGroup("transport", "packets_outstanding", metrics.Value(_outstandingPackets.Load()))

	return &Packet{
		ConnectionID: connectionID,
		Channel:      channel,
		buf:          bb,
		length:       len(segment),
	}
}

// Data returns the payload. The slice aliases the pooled buffer and is
// invalid after Dispose.
func (p *Packet) Data() []byte {
	return p.buf.B[:p.length]
}

// Len returns the payload length in bytes.
func (p *Packet) Len() int {
	return p.length
}

// Dispose returns the backing buffer to the pool. Safe to call more than
// once; only the first call returns the buffer. Double returns would hand
// the same buffer to two future packets.
func (p *Packet) Dispose() {
	if p.buf == nil {
		return
	}
	_packetPool.Put(p.buf)
	p.buf = nil

	_outstandingPackets.Add(-1)
	metrics.UpdateGaugeWithGroup("transport", "packets_outstanding", metrics.Value(_outstandingPackets.Load()))
}
