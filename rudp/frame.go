package rudp

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Reliable-channel messages are framed on the QUIC stream as a 4-byte
// big-endian length followed by the payload. A zero-length frame is valid and
// is used as the handshake acknowledgement.

const _frameHeaderSize = 4

// writeFrame writes one length-prefixed frame. Callers serialize access to
// the stream themselves.
func writeFrame(w io.Writer, payload []byte) error {
	var hdr [_frameHeaderSize]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := w.Write(payload)
	return err
}

// readFrame reads one length-prefixed frame, rejecting frames larger than
// maxSize. The returned slice is freshly allocated and owned by the caller.
func readFrame(r io.Reader, maxSize int) ([]byte, error) {
	var hdr [_frameHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(hdr[:])
	if size == 0 {
		return nil, nil
	}
	if maxSize > 0 && int(size) > maxSize {
		return nil, fmt.Errorf("frame size %d exceeds limit %d", size, maxSize)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
