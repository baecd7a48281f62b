// Package secchan implements the node-to-node secure channel:
// length-prefixed framing, an X25519/Ed25519 handshake, and a
// ChaCha20-Poly1305 record layer with strict monotonic counters.
package secchan

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/Klingon-tech/lbm/internal/lberr"
)

// DefaultMaxFrameBytes bounds a single frame's payload size.
const DefaultMaxFrameBytes = 8 * 1024 * 1024

// ReadFrame reads one 4-byte-big-endian-length-prefixed frame from r.
func ReadFrame(r io.Reader, maxBytes int) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("read frame length: %w", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if int(n) > maxBytes {
		return nil, lberr.Protocolf("frame length %d exceeds max %d", n, maxBytes)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("read frame body: %w", err)
	}
	return buf, nil
}

// WriteFrame writes data to w as a single length-prefixed frame.
func WriteFrame(w io.Writer, data []byte, maxBytes int) error {
	if len(data) > maxBytes {
		return lberr.Protocolf("frame length %d exceeds max %d", len(data), maxBytes)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("write frame length: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write frame body: %w", err)
	}
	return nil
}
