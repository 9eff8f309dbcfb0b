// Package protocol frames bus messages on a byte stream.
//
// Every frame is an 18-byte header followed by the body. The receiver reads the
// header, validates it, then reads exactly BodyLen bytes, so frame boundaries
// survive TCP coalescing.
//
// Frame format:
//
//	0      3  4  5  6                  14        18
//	┌──────┬──┬──┬──┬──────────────────┬─────────┬──────────────┐
//	│magic │v │ct│mt│       seq        │ bodyLen │   body ...   │
//	│ cbs  │01│  │  │      uint64      │ uint32  │ bodyLen bytes│
//	└──────┴──┴──┴──┴──────────────────┴─────────┴──────────────┘
//
// Seq is the correlation id of the call; a response reuses the request's seq.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Magic bytes "cbs" (caller bus) reject peers that speak something else.
const (
	MagicByte1  byte = 0x63 // 'c'
	MagicByte2  byte = 0x62 // 'b'
	MagicByte3  byte = 0x73 // 's'
	Version     byte = 0x01
	HeaderSize  int  = 18 // 3 (magic) + 1 (version) + 1 (codec) + 1 (msgType) + 8 (seq) + 4 (bodyLen)
	MaxBodySize      = 16 << 20
)

// ErrBodyTooLarge is returned for a body over MaxBodySize. Nothing is written.
var ErrBodyTooLarge = errors.New("frame body too large")

// MsgType distinguishes request, response, and heartbeat frames.
type MsgType byte

const (
	MsgTypeRequest   MsgType = 0 // Caller → node, body is a request or cast message
	MsgTypeResponse  MsgType = 1 // Node → caller
	MsgTypeHeartbeat MsgType = 2 // KeepAlive frame (no body)
)

// Codec type constants, mirrored from the codec package to avoid an import cycle.
const (
	CodecTypeJSON   byte = 0
	CodecTypeBinary byte = 1
)

// Header is the fixed frame header.
type Header struct {
	CodecType byte
	MsgType   MsgType
	Seq       uint64
	BodyLen   uint32
}

// Encode writes one frame to w. Callers sharing w across goroutines must
// serialize calls, or frames interleave.
func Encode(w io.Writer, h *Header, body []byte) error {
	if len(body) > MaxBodySize {
		return fmt.Errorf("%w: %d bytes", ErrBodyTooLarge, len(body))
	}
	if int(h.BodyLen) != len(body) {
		return fmt.Errorf("header body length %d does not match body of %d bytes", h.BodyLen, len(body))
	}

	buf := make([]byte, HeaderSize, HeaderSize+len(body))
	buf[0], buf[1], buf[2] = MagicByte1, MagicByte2, MagicByte3
	buf[3] = Version
	buf[4] = h.CodecType
	buf[5] = byte(h.MsgType)
	binary.BigEndian.PutUint64(buf[6:14], h.Seq)
	binary.BigEndian.PutUint32(buf[14:18], h.BodyLen)

	// One Write per frame keeps a frame contiguous even on unbuffered writers.
	_, err := w.Write(append(buf, body...))
	return err
}

// Decode reads one frame from r and validates its header.
func Decode(r io.Reader) (*Header, []byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, err
	}

	if headerBuf[0] != MagicByte1 || headerBuf[1] != MagicByte2 || headerBuf[2] != MagicByte3 {
		return nil, nil, fmt.Errorf("invalid magic number: %x", headerBuf[0:3])
	}
	if headerBuf[3] != Version {
		return nil, nil, fmt.Errorf("unsupported version: %d", headerBuf[3])
	}
	if headerBuf[4] != CodecTypeJSON && headerBuf[4] != CodecTypeBinary {
		return nil, nil, fmt.Errorf("unsupported codec type: %d", headerBuf[4])
	}
	msgType := MsgType(headerBuf[5])
	if msgType != MsgTypeRequest && msgType != MsgTypeResponse && msgType != MsgTypeHeartbeat {
		return nil, nil, fmt.Errorf("unsupported message type: %d", msgType)
	}

	seq := binary.BigEndian.Uint64(headerBuf[6:14])
	bodyLen := binary.BigEndian.Uint32(headerBuf[14:18])
	if bodyLen > MaxBodySize {
		return nil, nil, fmt.Errorf("%w: %d bytes", ErrBodyTooLarge, bodyLen)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, err
	}

	return &Header{
		CodecType: headerBuf[4],
		MsgType:   msgType,
		Seq:       seq,
		BodyLen:   bodyLen,
	}, body, nil
}
