package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"caller-rpc/address"
	"caller-rpc/message"
)

var errShortBuffer = errors.New("codec: truncated binary message")

// BinaryCodec lays a message out as length-prefixed fields:
//
//	kind(1) status(1) [len(2) str] x4 (source node, source process,
//	target node, target process) bodyLen(4) body
type BinaryCodec struct{}

func (c *BinaryCodec) Encode(v any) ([]byte, error) {
	msg, ok := v.(*message.Message)
	if !ok {
		return nil, ErrNotMessage
	}
	strs := [4]string{msg.Source.Node, msg.Source.Process, msg.Target.Node, msg.Target.Process}
	total := 2 + 4 + len(msg.Body)
	for _, s := range strs {
		if len(s) > math.MaxUint16 {
			return nil, fmt.Errorf("codec: address field too long: %d bytes", len(s))
		}
		total += 2 + len(s)
	}

	buf := make([]byte, 0, total)
	buf = append(buf, byte(msg.Kind), byte(msg.Status))
	for _, s := range strs {
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
		buf = append(buf, s...)
	}
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(msg.Body)))
	buf = append(buf, msg.Body...)
	return buf, nil
}

func (c *BinaryCodec) Decode(data []byte, v any) error {
	msg, ok := v.(*message.Message)
	if !ok {
		return ErrNotMessage
	}

	r := reader{data: data}
	kind := r.byte()
	status := r.byte()
	var strs [4]string
	for i := range strs {
		strs[i] = string(r.next(int(r.uint16())))
	}
	bodyLen := r.uint32()
	body := r.next(int(bodyLen))
	if r.err != nil {
		return r.err
	}
	if r.off != len(data) {
		return fmt.Errorf("codec: %d trailing bytes", len(data)-r.off)
	}

	msg.Kind = message.Kind(kind)
	msg.Status = message.Status(status)
	msg.Source = address.New(strs[0], strs[1])
	msg.Target = address.New(strs[2], strs[3])
	msg.Body = nil
	if len(body) > 0 {
		msg.Body = append([]byte(nil), body...)
	}
	return nil
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}

// reader walks a buffer and latches the first short read.
type reader struct {
	data []byte
	off  int
	err  error
}

func (r *reader) next(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || len(r.data)-r.off < n {
		r.err = errShortBuffer
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) byte() byte {
	b := r.next(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) uint16() uint16 {
	b := r.next(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *reader) uint32() uint32 {
	b := r.next(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}
