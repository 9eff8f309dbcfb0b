package protocol

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"
)

func TestEncodeDecode(t *testing.T) {
	header := Header{
		CodecType: CodecTypeJSON,
		MsgType:   MsgTypeRequest,
		Seq:       1<<40 + 12345,
		BodyLen:   11,
	}
	body := []byte("hello world")

	var buf bytes.Buffer
	if err := Encode(&buf, &header, body); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if buf.Len() != HeaderSize+len(body) {
		t.Fatalf("frame size: got %d, want %d", buf.Len(), HeaderSize+len(body))
	}

	decodedHeader, decodedBody, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if *decodedHeader != header {
		t.Errorf("header mismatch: got %+v, want %+v", *decodedHeader, header)
	}
	if !bytes.Equal(decodedBody, body) {
		t.Errorf("Body mismatch: got %s, want %s", string(decodedBody), string(body))
	}
}

func TestDecodeSequentialFrames(t *testing.T) {
	var buf bytes.Buffer
	for seq := uint64(1); seq <= 3; seq++ {
		body := bytes.Repeat([]byte{byte(seq)}, int(seq))
		h := &Header{MsgType: MsgTypeResponse, Seq: seq, BodyLen: uint32(len(body))}
		if err := Encode(&buf, h, body); err != nil {
			t.Fatal(err)
		}
	}
	for seq := uint64(1); seq <= 3; seq++ {
		h, body, err := Decode(&buf)
		if err != nil {
			t.Fatal(err)
		}
		if h.Seq != seq || len(body) != int(seq) {
			t.Fatalf("frame %d: got seq %d with %d bytes", seq, h.Seq, len(body))
		}
	}
}

func frame(mutate func(b []byte)) *bytes.Buffer {
	b := make([]byte, HeaderSize)
	b[0], b[1], b[2], b[3] = MagicByte1, MagicByte2, MagicByte3, Version
	b[5] = byte(MsgTypeRequest)
	binary.BigEndian.PutUint64(b[6:14], 1)
	mutate(b)
	return bytes.NewBuffer(b)
}

func TestDecodeInvalidHeader(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(b []byte)
		want   string
	}{
		{"magic", func(b []byte) { b[0] = 0 }, "invalid magic number"},
		{"version", func(b []byte) { b[3] = 0xFF }, "unsupported version"},
		{"codec", func(b []byte) { b[4] = 9 }, "unsupported codec type"},
		{"msgType", func(b []byte) { b[5] = 9 }, "unsupported message type"},
		{"bodyLen", func(b []byte) { binary.BigEndian.PutUint32(b[14:18], MaxBodySize+1) }, "too large"},
	}
	for _, tc := range cases {
		_, _, err := Decode(frame(tc.mutate))
		if err == nil {
			t.Fatalf("%s: expected error, got nil", tc.name)
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Errorf("%s: error should contain %q, got: %v", tc.name, tc.want, err)
		}
	}
}

func TestDecodeTruncatedBody(t *testing.T) {
	buf := frame(func(b []byte) { binary.BigEndian.PutUint32(b[14:18], 10) })
	buf.WriteString("short")
	if _, _, err := Decode(buf); err == nil {
		t.Fatal("expected error for truncated body")
	}
}

func TestEncodeLengthMismatch(t *testing.T) {
	var buf bytes.Buffer
	err := Encode(&buf, &Header{BodyLen: 3}, []byte("four"))
	if err == nil {
		t.Fatal("expected error for mismatched body length")
	}
	if buf.Len() != 0 {
		t.Fatalf("nothing should be written, got %d bytes", buf.Len())
	}
}

func TestHeartbeatEmptyBody(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, &Header{MsgType: MsgTypeHeartbeat}, nil); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	h, body, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if h.MsgType != MsgTypeHeartbeat || len(body) != 0 {
		t.Fatalf("unexpected heartbeat frame: %+v, %d bytes", h, len(body))
	}
}

func TestDecodeLargeBody(t *testing.T) {
	var buf bytes.Buffer
	largeBody := make([]byte, 1024*1024)
	for i := range largeBody {
		largeBody[i] = byte(i % 256)
	}

	header := &Header{
		CodecType: CodecTypeBinary,
		MsgType:   MsgTypeRequest,
		Seq:       999,
		BodyLen:   uint32(len(largeBody)),
	}
	if err := Encode(&buf, header, largeBody); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	_, decodedBody, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !bytes.Equal(decodedBody, largeBody) {
		t.Errorf("large body mismatch")
	}
}
