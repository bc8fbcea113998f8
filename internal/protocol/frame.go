package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// HeaderSize is the fixed frame header length: two bytes of message
	// type followed by four bytes of payload size, both little-endian.
	HeaderSize = 6

	// MaxPayloadSize caps the payload length a peer may declare. A larger
	// declared size is treated as a broken stream, not an allocation request.
	MaxPayloadSize = 1 << 20
)

// ErrDisconnected marks transport-level failures. Once returned, the stream
// is no longer usable and must be closed; partial frames never surface.
var ErrDisconnected = errors.New("disconnected")

// WriteFrame writes one frame (header plus raw payload bytes) to w.
func WriteFrame(w io.Writer, msgType uint16, payload []byte) error {
	if len(payload) > MaxPayloadSize {
		return fmt.Errorf("write frame: payload %d exceeds limit %d", len(payload), MaxPayloadSize)
	}

	buf := make([]byte, HeaderSize+len(payload))
	binary.LittleEndian.PutUint16(buf[0:2], msgType)
	binary.LittleEndian.PutUint32(buf[2:HeaderSize], uint32(len(payload)))
	copy(buf[HeaderSize:], payload)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("writing frame: %w: %w", ErrDisconnected, err)
	}
	return nil
}

// ReadFrame reads exactly one whole frame from r and returns the message
// type and the raw payload bytes. Any error means the stream is dead.
func ReadFrame(r io.Reader) (uint16, []byte, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, fmt.Errorf("reading frame header: %w: %w", ErrDisconnected, err)
	}

	msgType := binary.LittleEndian.Uint16(header[0:2])
	size := binary.LittleEndian.Uint32(header[2:HeaderSize])
	if size > MaxPayloadSize {
		return 0, nil, fmt.Errorf("reading frame: declared payload %d exceeds limit %d: %w", size, MaxPayloadSize, ErrDisconnected)
	}
	if size == 0 {
		return msgType, nil, nil
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, fmt.Errorf("reading frame payload: %w: %w", ErrDisconnected, err)
	}
	return msgType, payload, nil
}

// WriteMsg encodes p and writes it as one frame.
func WriteMsg(w io.Writer, msgType uint16, p Payload) error {
	return WriteFrame(w, msgType, p.Encode())
}

// ReadMsg reads one frame and decodes its payload.
func ReadMsg(r io.Reader) (uint16, Payload, error) {
	msgType, raw, err := ReadFrame(r)
	if err != nil {
		return 0, nil, err
	}
	return msgType, ParsePayload(raw), nil
}
