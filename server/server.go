// Package server hosts named processes of one node on a TCP listener.
//
// Request processing pipeline:
//
//	Accept conn → handleConn (single goroutine reads frames)
//	  → for each request: go handleRequest
//	    → Codec.Decode → Middleware Chain → process handler → Codec.Encode → write response
//
// The reply's frame seq is the request's, which is all a caller-side transport
// needs to correlate it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"caller-rpc/bus"
	"caller-rpc/codec"
	"caller-rpc/message"
	"caller-rpc/middleware"
	"caller-rpc/protocol"
	"caller-rpc/registry"

	"go.uber.org/zap"
)

// DefaultTTL is the registry lease, in seconds, used when none is configured.
const DefaultTTL int64 = 10

// Server hosts the processes of one node.
type Server struct {
	node string

	mu        sync.RWMutex
	processes map[string]*process

	listener    net.Listener
	conns       sync.Map       // net.Conn → struct{}, closed on shutdown
	wg          sync.WaitGroup // in-flight requests
	drainMu     sync.Mutex     // orders wg.Add against the shutdown flag
	shutdown    atomic.Bool
	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc

	registry      registry.Registry
	advertiseAddr string // routable address stored in the registry, unlike a ":9000" listen address
	ttl           int64
	weight        int
	version       string
	logger        *zap.Logger
}

type Option func(*Server)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithTTL sets the registry lease in seconds.
func WithTTL(ttl int64) Option {
	return func(s *Server) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithWeight sets the load-balancing weight advertised for this endpoint.
func WithWeight(weight int) Option {
	return func(s *Server) {
		s.weight = weight
	}
}

// WithVersion sets the node software version advertised in the registry.
func WithVersion(version string) Option {
	return func(s *Server) {
		s.version = version
	}
}

// NewServer creates a server for node with no processes.
func NewServer(node string, opts ...Option) *Server {
	s := &Server{
		node:      node,
		processes: make(map[string]*process),
		ttl:       DefaultTTL,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (svr *Server) Node() string {
	return svr.node
}

// Register hosts h as process. It must be called before Serve.
func (svr *Server) Register(name string, h bus.Handler) error {
	return svr.RegisterVersion(name, "", h)
}

// RegisterVersion hosts h as process and advertises version as the interface
// version callers may constrain on.
func (svr *Server) RegisterVersion(name, version string, h bus.Handler) error {
	p, err := newProcess(name, version, h)
	if err != nil {
		return err
	}
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if _, ok := svr.processes[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateProcess, name)
	}
	svr.processes[name] = p
	return nil
}

func (svr *Server) lookup(name string) *process {
	svr.mu.RLock()
	defer svr.mu.RUnlock()
	return svr.processes[name]
}

// Instance is the registry entry this server advertises.
func (svr *Server) Instance() registry.NodeInstance {
	svr.mu.RLock()
	defer svr.mu.RUnlock()
	procs := make(map[string]string, len(svr.processes))
	for name, p := range svr.processes {
		procs[name] = p.version
	}
	return registry.NodeInstance{
		Addr:      svr.advertiseAddr,
		Weight:    svr.weight,
		Version:   svr.version,
		Processes: procs,
	}
}

// Use registers a middleware. Middlewares run in the order they are added.
func (svr *Server) Use(mw middleware.Middleware) {
	svr.middlewares = append(svr.middlewares, mw)
}

// Serve listens on address and serves until Shutdown.
//
// advertiseAddr is the endpoint stored in reg. Pass a nil reg to skip
// registration.
func (svr *Server) Serve(network, address string, advertiseAddr string, reg registry.Registry) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	return svr.ServeListener(listener, advertiseAddr, reg)
}

// ServeListener serves on an existing listener. An empty advertiseAddr
// advertises the listener's own address.
func (svr *Server) ServeListener(listener net.Listener, advertiseAddr string, reg registry.Registry) error {
	svr.listener = listener
	svr.handler = middleware.Chain(svr.middlewares...)(svr.businessHandler)

	if advertiseAddr == "" {
		advertiseAddr = listener.Addr().String()
	}
	svr.advertiseAddr = advertiseAddr
	if reg != nil {
		svr.registry = reg
		if err := reg.Register(svr.node, svr.Instance(), svr.ttl); err != nil {
			listener.Close()
			return fmt.Errorf("server: register %s: %w", svr.node, err)
		}
	}
	svr.logger.Info("node serving",
		zap.String("node", svr.node),
		zap.String("listen", listener.Addr().String()),
		zap.String("advertise", advertiseAddr))

	for {
		conn, err := listener.Accept()
		if err != nil {
			// Closing the listener in Shutdown surfaces here.
			if svr.shutdown.Load() {
				return nil
			}
			return err
		}
		svr.conns.Store(conn, struct{}{})
		go svr.handleConn(conn)
	}
}

// handleConn reads frames sequentially and handles each request on its own
// goroutine. Replies share one write lock per connection so frames never
// interleave.
func (svr *Server) handleConn(conn net.Conn) {
	defer func() {
		svr.conns.Delete(conn)
		conn.Close()
	}()
	writeMu := &sync.Mutex{}
	for {
		header, body, err := protocol.Decode(conn)
		if err != nil {
			if !svr.shutdown.Load() && !errors.Is(err, net.ErrClosed) {
				svr.logger.Debug("connection closed", zap.Stringer("remote", conn.RemoteAddr()), zap.Error(err))
			}
			return
		}
		if header.MsgType != protocol.MsgTypeRequest {
			continue
		}

		if !svr.track() {
			return
		}
		go svr.handleRequest(header, body, conn, writeMu)
	}
}

// track counts a request in flight, or reports false once Shutdown has
// started waiting.
func (svr *Server) track() bool {
	svr.drainMu.Lock()
	defer svr.drainMu.Unlock()
	if svr.shutdown.Load() {
		return false
	}
	svr.wg.Add(1)
	return true
}

func (svr *Server) handleRequest(header *protocol.Header, body []byte, conn net.Conn, writeMu *sync.Mutex) {
	defer svr.wg.Done()

	c := codec.GetCodec(codec.CodecType(header.CodecType))
	var reply *message.Message
	msg := &message.Message{}
	if err := c.Decode(body, msg); err != nil {
		// Without a decodable message there is nothing to route back to, but
		// the seq still correlates a refusal on the caller's side.
		svr.logger.Warn("undecodable request", zap.Uint64("seq", header.Seq), zap.Error(err))
		reply = &message.Message{Kind: message.KindResponse, Status: message.StatusRejected}
	} else {
		msg.ID = header.Seq
		reply = svr.handler(context.Background(), msg)
		if reply == nil || !msg.ExpectsReply() {
			return
		}
	}

	result, err := c.Encode(reply)
	if err != nil {
		svr.logger.Error("failed to encode reply", zap.Uint64("seq", header.Seq), zap.Error(err))
		return
	}
	replyHeader := protocol.Header{
		CodecType: header.CodecType,
		MsgType:   protocol.MsgTypeResponse,
		Seq:       header.Seq,
		BodyLen:   uint32(len(result)),
	}

	writeMu.Lock()
	defer writeMu.Unlock()
	if err := protocol.Encode(conn, &replyHeader, result); err != nil {
		svr.logger.Debug("failed to write reply", zap.Uint64("seq", header.Seq), zap.Error(err))
	}
}

// businessHandler routes a message to the process it targets. It is the
// innermost handler of the middleware chain.
func (svr *Server) businessHandler(ctx context.Context, req *message.Message) *message.Message {
	if req.Target.Node != svr.node {
		return replyTo(req, message.StatusNodeOffline, nil)
	}
	p := svr.lookup(req.Target.Process)
	if p == nil {
		return replyTo(req, message.StatusProcessNotFound, nil)
	}

	body, err := p.handler.ServeMessage(ctx, req)
	switch {
	case errors.Is(err, bus.ErrNoReply):
		return nil
	case err != nil:
		svr.logger.Debug("process refused message",
			zap.Stringer("target", req.Target), zap.Uint64("id", req.ID), zap.Error(err))
		return replyTo(req, bus.StatusFor(err), nil)
	}
	return replyTo(req, message.StatusOK, body)
}

func replyTo(req *message.Message, status message.Status, body []byte) *message.Message {
	if !req.ExpectsReply() {
		return nil
	}
	return req.Reply(status, body)
}

// Shutdown stops the server gracefully:
//  1. Deregister from the registry so callers stop routing here
//  2. Close the listener
//  3. Wait for in-flight requests, up to timeout
//  4. Close the remaining connections
func (svr *Server) Shutdown(timeout time.Duration) error {
	if svr.registry != nil {
		if err := svr.registry.Deregister(svr.node, svr.advertiseAddr); err != nil {
			svr.logger.Warn("deregister failed", zap.String("node", svr.node), zap.Error(err))
		}
	}

	// The flag goes first so Serve sees the Accept error as intentional.
	// No request is dispatched after it is set.
	svr.drainMu.Lock()
	svr.shutdown.Store(true)
	svr.drainMu.Unlock()
	if svr.listener != nil {
		svr.listener.Close()
	}

	done := make(chan struct{})
	go func() {
		svr.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = fmt.Errorf("timeout waiting for ongoing requests to finish")
	}

	svr.conns.Range(func(key, _ any) bool {
		key.(net.Conn).Close()
		return true
	})
	return err
}
