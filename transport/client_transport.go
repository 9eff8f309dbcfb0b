// Package transport carries bus messages to remote nodes over TCP.
//
// ClientTransport multiplexes many in-flight requests over one connection.
// Each frame gets a transport-level seq; a single recvLoop reads replies and
// maps each seq back to the request it answers.
//
//	caller-1 ──Send(seq=1)──┐
//	caller-2 ──Send(seq=2)──┼──→ single TCP conn ──→ node
//	caller-3 ──Send(seq=3)──┘
//
//	recvLoop:  ←── response(seq=2) → inflight[2] → onReply(reply to caller-2's message)
//
// Seqs are private to the connection, so callers sharing a transport never
// collide even when their own message IDs do.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"caller-rpc/codec"
	"caller-rpc/message"
	"caller-rpc/protocol"

	"go.uber.org/zap"
)

const (
	// DefaultHeartbeat is how often an idle connection sends a heartbeat.
	DefaultHeartbeat = 30 * time.Second
	// DefaultWriteTimeout bounds a frame write when the caller's context
	// carries no deadline.
	DefaultWriteTimeout = 10 * time.Second
)

var ErrTransportClosed = errors.New("transport: connection closed")

// ClientTransport manages one multiplexed connection to a node endpoint.
type ClientTransport struct {
	conn    net.Conn
	codec   codec.CodecType
	onReply func(*message.Message)
	logger  *zap.Logger

	sending chan struct{} // one-slot lock: serializes frame writes and seq assignment
	seq     uint64

	mu       sync.Mutex
	inflight map[uint64]*message.Message // seq → request, body dropped
	closed   bool
	err      error
	done     chan struct{}
}

type ClientOption func(*ClientTransport)

func WithClientLogger(logger *zap.Logger) ClientOption {
	return func(t *ClientTransport) {
		t.logger = logger
	}
}

// NewClientTransport takes ownership of conn and starts the receive and
// heartbeat loops. onReply receives every reply, including the NodeOffline
// replies synthesized for requests still in flight when the connection
// breaks. It is called from the transport's goroutine and must not block.
func NewClientTransport(conn net.Conn, codecType codec.CodecType, heartbeat time.Duration, onReply func(*message.Message), opts ...ClientOption) *ClientTransport {
	t := &ClientTransport{
		conn:     conn,
		codec:    codecType,
		onReply:  onReply,
		logger:   zap.NewNop(),
		inflight: make(map[uint64]*message.Message),
		done:     make(chan struct{}),
		sending:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(t)
	}
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	go t.recvLoop()
	go t.heartbeatLoop(heartbeat)
	return t
}

// Send writes msg as one request frame. Requests that expect a reply are
// tracked until it arrives or the connection fails.
//
// Waiting for the connection and the write itself are bounded by ctx, or by
// DefaultWriteTimeout when ctx has no deadline. A body over
// protocol.MaxBodySize is refused before anything is tracked or written, and
// leaves the connection usable. Once part of a frame is on the wire a failed
// write breaks the connection.
func (t *ClientTransport) Send(ctx context.Context, msg *message.Message) error {
	body, err := codec.GetCodec(t.codec).Encode(msg)
	if err != nil {
		return err
	}
	if len(body) > protocol.MaxBodySize {
		return fmt.Errorf("%w: %d bytes", protocol.ErrBodyTooLarge, len(body))
	}

	select {
	case t.sending <- struct{}{}:
	case <-t.done:
		return ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-t.sending }()

	t.seq++
	seq := t.seq

	// Track before writing so a fast reply always finds its entry.
	if msg.ExpectsReply() {
		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			return ErrTransportClosed
		}
		t.inflight[seq] = &message.Message{
			ID:     msg.ID,
			Kind:   msg.Kind,
			Source: msg.Source,
			Target: msg.Target,
		}
		t.mu.Unlock()
	} else if t.isClosed() {
		return ErrTransportClosed
	}

	header := protocol.Header{
		CodecType: byte(t.codec),
		MsgType:   protocol.MsgTypeRequest,
		Seq:       seq,
		BodyLen:   uint32(len(body)),
	}
	deadline, fromCtx := ctx.Deadline()
	if !fromCtx {
		deadline = time.Now().Add(DefaultWriteTimeout)
	}
	w := &countingWriter{w: t.conn}
	if err := t.writeFrame(w, deadline, &header, body); err != nil {
		t.take(seq)

		ctxErr := ctx.Err()
		if ctxErr == nil && fromCtx && errors.Is(err, os.ErrDeadlineExceeded) {
			ctxErr = context.DeadlineExceeded
		}
		// A frame cut short leaves the stream unreadable for the node.
		if w.n > 0 || ctxErr == nil {
			t.fail(err)
		}
		if ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %v", ErrTransportClosed, err)
	}
	return nil
}

// writeFrame must be called holding the sending slot.
func (t *ClientTransport) writeFrame(w *countingWriter, deadline time.Time, h *protocol.Header, body []byte) error {
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return protocol.Encode(w, h, body)
}

type countingWriter struct {
	w net.Conn
	n int
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += n
	return n, err
}

func (t *ClientTransport) take(seq uint64) (*message.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	req, ok := t.inflight[seq]
	delete(t.inflight, seq)
	return req, ok
}

func (t *ClientTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Inflight is the number of requests awaiting a reply.
func (t *ClientTransport) Inflight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inflight)
}

// recvLoop is the only reader of the connection.
func (t *ClientTransport) recvLoop() {
	for {
		header, body, err := protocol.Decode(t.conn)
		if err != nil {
			t.fail(err)
			return
		}
		if header.MsgType != protocol.MsgTypeResponse {
			continue
		}

		req, ok := t.take(header.Seq)
		if !ok {
			t.logger.Debug("reply for unknown seq", zap.Uint64("seq", header.Seq))
			continue
		}

		var resp message.Message
		cdc := codec.GetCodec(codec.CodecType(header.CodecType))
		if err := cdc.Decode(body, &resp); err != nil {
			t.logger.Warn("undecodable reply", zap.Uint64("seq", header.Seq), zap.Error(err))
			t.onReply(req.Reply(message.StatusRejected, nil))
			continue
		}
		// Routing comes from the tracked request, so a node can answer
		// without echoing addresses back correctly.
		t.onReply(req.Reply(resp.Status, resp.Body))
	}
}

// fail closes the transport and answers every tracked request with
// StatusNodeOffline.
func (t *ClientTransport) fail(err error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.err = err
	orphaned := t.inflight
	t.inflight = make(map[uint64]*message.Message)
	close(t.done)
	t.mu.Unlock()

	t.conn.Close()
	if len(orphaned) > 0 {
		t.logger.Info("connection lost with requests in flight",
			zap.Stringer("remote", t.conn.RemoteAddr()), zap.Int("inflight", len(orphaned)), zap.Error(err))
	}
	for _, req := range orphaned {
		t.onReply(req.Reply(message.StatusNodeOffline, nil))
	}
}

// Done is closed once the connection has failed or been closed.
func (t *ClientTransport) Done() <-chan struct{} {
	return t.done
}

// Err reports why the transport closed, or nil while it is open.
func (t *ClientTransport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Close shuts the connection. Requests in flight get NodeOffline replies.
func (t *ClientTransport) Close() error {
	t.fail(ErrTransportClosed)
	return nil
}

// Conn returns the underlying connection.
func (t *ClientTransport) Conn() net.Conn {
	return t.conn
}

// heartbeatLoop keeps idle connections alive and notices dead ones between
// requests.
func (t *ClientTransport) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
		}
		header := &protocol.Header{
			CodecType: byte(t.codec),
			MsgType:   protocol.MsgTypeHeartbeat,
		}
		// A write in progress already proves the connection is in use.
		select {
		case t.sending <- struct{}{}:
		default:
			continue
		}
		err := t.writeFrame(&countingWriter{w: t.conn}, time.Now().Add(DefaultWriteTimeout), header, nil)
		<-t.sending
		if err != nil {
			t.fail(err)
			return
		}
	}
}
