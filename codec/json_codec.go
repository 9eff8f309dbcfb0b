package codec

import (
	"encoding/json"

	"caller-rpc/message"
)

// JSONCodec is readable on the wire and easy to debug; the body is base64 inside it.
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	msg, ok := v.(*message.Message)
	if !ok {
		return nil, ErrNotMessage
	}
	return json.Marshal(msg)
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	msg, ok := v.(*message.Message)
	if !ok {
		return ErrNotMessage
	}
	return json.Unmarshal(data, msg)
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
