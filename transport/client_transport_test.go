package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"caller-rpc/address"
	"caller-rpc/codec"
	"caller-rpc/envelope"
	"caller-rpc/message"
	"caller-rpc/protocol"
	"caller-rpc/server"
	"caller-rpc/stub"
)

var (
	self    = address.New("bob.os", "app")
	mathSvc = address.New("alice.os", "math")
	add     = stub.NewMethod[envelope.Tuple2[int, int], int]("Add")
)

func mathRouter() *stub.Router {
	r := stub.NewRouter()
	stub.Handle(r, add, func(ctx context.Context, args envelope.Tuple2[int, int]) int {
		return args.First + args.Second
	})
	return r
}

func startNode(t *testing.T, node string) (*server.Server, string) {
	t.Helper()
	svr := server.NewServer(node)
	if err := svr.Register("math", mathRouter()); err != nil {
		t.Fatal(err)
	}
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go svr.ServeListener(l, "", nil)
	t.Cleanup(func() { svr.Shutdown(time.Second) })
	return svr, l.Addr().String()
}

func addRequest(id uint64, a, b int) *message.Message {
	body, _ := envelope.Encode("Add", envelope.Pair(a, b))
	return &message.Message{ID: id, Kind: message.KindRequest, Source: self, Target: mathSvc, Body: body}
}

type replies struct {
	ch chan *message.Message
}

func newReplies() *replies {
	return &replies{ch: make(chan *message.Message, 128)}
}

func (r *replies) sink(msg *message.Message) { r.ch <- msg }

func (r *replies) next(t *testing.T) *message.Message {
	t.Helper()
	select {
	case msg := <-r.ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no reply")
		return nil
	}
}

func TestClientTransportSerial(t *testing.T) {
	_, addr := startNode(t, "alice.os")
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	out := newReplies()
	ct := NewClientTransport(conn, codec.CodecTypeJSON, 0, out.sink)
	defer ct.Close()

	cases := []struct {
		a, b, expect int
	}{
		{1, 2, 3},
		{10, 20, 30},
		{100, 200, 300},
	}
	for i, tc := range cases {
		if err := ct.Send(context.Background(), addRequest(uint64(i+40), tc.a, tc.b)); err != nil {
			t.Fatal(err)
		}
		reply := out.next(t)
		if reply.ID != uint64(i+40) {
			t.Fatalf("expect reply id %d, got %d", i+40, reply.ID)
		}
		if reply.Kind != message.KindResponse || reply.Status != message.StatusOK {
			t.Fatalf("unexpected reply %+v", reply)
		}
		if reply.Target != self {
			t.Fatalf("reply not addressed to caller: %s", reply.Target)
		}
		if string(reply.Body) != fmt.Sprint(tc.expect) {
			t.Fatalf("expect %d, got %s", tc.expect, reply.Body)
		}
	}
	if n := ct.Inflight(); n != 0 {
		t.Fatalf("expect nothing in flight, got %d", n)
	}
}

func TestClientTransportConcurrent(t *testing.T) {
	_, addr := startNode(t, "alice.os")
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	out := newReplies()
	ct := NewClientTransport(conn, codec.CodecTypeBinary, 0, out.sink)
	defer ct.Close()

	// The same message ID from "different callers" must not confuse the transport.
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if err := ct.Send(context.Background(), addRequest(uint64(n%5), n, n)); err != nil {
				t.Errorf("send failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	sums := map[string]int{}
	for i := 0; i < 50; i++ {
		reply := out.next(t)
		sums[string(reply.Body)]++
	}
	for n := 0; n < 50; n++ {
		if sums[fmt.Sprint(n*2)] != 1 {
			t.Fatalf("missing or duplicate reply for %d: %v", n, sums)
		}
	}
}

// A node that accepts requests and then drops the connection.
func TestClientTransportBrokenConnection(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		for i := 0; i < 3; i++ {
			if _, _, err := protocol.Decode(conn); err != nil {
				break
			}
		}
		conn.Close()
	}()

	conn, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	out := newReplies()
	ct := NewClientTransport(conn, codec.CodecTypeJSON, 0, out.sink)

	cast := addRequest(0, 1, 1)
	cast.Kind = message.KindCast
	for _, msg := range []*message.Message{addRequest(1, 1, 1), addRequest(2, 1, 1), cast} {
		if err := ct.Send(context.Background(), msg); err != nil {
			t.Fatal(err)
		}
	}

	seen := map[uint64]bool{}
	for i := 0; i < 2; i++ {
		reply := out.next(t)
		if reply.Status != message.StatusNodeOffline {
			t.Fatalf("expect node_offline, got %s", reply.Status)
		}
		seen[reply.ID] = true
	}
	if !seen[1] || !seen[2] {
		t.Fatalf("expect offline replies for ids 1 and 2, got %v", seen)
	}

	select {
	case <-ct.Done():
	case <-time.After(time.Second):
		t.Fatal("transport not marked done")
	}
	if err := ct.Send(context.Background(), addRequest(3, 1, 1)); err != ErrTransportClosed {
		t.Fatalf("expect ErrTransportClosed, got %v", err)
	}
	select {
	case extra := <-out.ch:
		t.Fatalf("unexpected extra reply %+v", extra)
	default:
	}
}

func TestClientTransportHeartbeat(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	beats := make(chan protocol.MsgType, 4)
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			header, _, err := protocol.Decode(conn)
			if err != nil {
				return
			}
			beats <- header.MsgType
		}
	}()

	conn, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	ct := NewClientTransport(conn, codec.CodecTypeJSON, 20*time.Millisecond, func(*message.Message) {})
	defer ct.Close()

	select {
	case mt := <-beats:
		if mt != protocol.MsgTypeHeartbeat {
			t.Fatalf("expect heartbeat frame, got %d", mt)
		}
	case <-time.After(time.Second):
		t.Fatal("no heartbeat")
	}
}

func TestClientTransportOversizedBody(t *testing.T) {
	_, addr := startNode(t, "alice.os")
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	out := newReplies()
	ct := NewClientTransport(conn, codec.CodecTypeBinary, 0, out.sink)
	defer ct.Close()

	big := addRequest(1, 0, 0)
	big.Body = bytes.Repeat([]byte("x"), protocol.MaxBodySize+1)
	if err := ct.Send(context.Background(), big); !errors.Is(err, protocol.ErrBodyTooLarge) {
		t.Fatalf("expect ErrBodyTooLarge, got %v", err)
	}
	if n := ct.Inflight(); n != 0 {
		t.Fatalf("expect nothing tracked, got %d", n)
	}

	// The connection is untouched and keeps serving.
	if err := ct.Send(context.Background(), addRequest(2, 4, 5)); err != nil {
		t.Fatal(err)
	}
	reply := out.next(t)
	if reply.ID != 2 || reply.Status != message.StatusOK {
		t.Fatalf("expect ok reply for id 2, got id %d status %s", reply.ID, reply.Status)
	}
	if ct.Err() != nil {
		t.Fatalf("expect open transport, got %v", ct.Err())
	}
}

func TestClientTransportWriteDeadline(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	// The peer accepts and never reads.
	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := l.Accept()
		if err == nil {
			accepted <- conn
		}
	}()
	defer func() {
		select {
		case conn := <-accepted:
			conn.Close()
		default:
		}
	}()

	conn, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	out := newReplies()
	ct := NewClientTransport(conn, codec.CodecTypeBinary, 0, out.sink)
	defer ct.Close()

	big := addRequest(1, 0, 0)
	big.Body = bytes.Repeat([]byte("x"), 12<<20)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = ct.Send(ctx, big)
	elapsed := time.Since(start)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expect context.DeadlineExceeded, got %v", err)
	}
	if elapsed > 2*time.Second {
		t.Fatalf("write not bounded by the deadline, took %s", elapsed)
	}
	if n := ct.Inflight(); n != 0 {
		t.Fatalf("expect the timed out request untracked, got %d", n)
	}
}
