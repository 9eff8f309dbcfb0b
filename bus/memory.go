package bus

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"caller-rpc/address"
	"caller-rpc/message"

	"go.uber.org/zap"
)

// ReplyFunc answers a request once; later calls are ignored. Replies to casts
// are dropped.
type ReplyFunc func(status message.Status, body []byte)

// RawHandler sees each delivered message and decides if and when to reply.
type RawHandler func(msg *message.Message, reply ReplyFunc)

// Memory is an in-process Bus. Processes are registered per Address and run on
// their own goroutine per message. Nodes can be marked offline.
type Memory struct {
	mu        sync.RWMutex
	processes map[address.Address]RawHandler
	offline   map[string]bool
	sinks     Sinks
	closed    bool
	logger    *zap.Logger
}

type MemoryOption func(*Memory)

func WithMemoryLogger(logger *zap.Logger) MemoryOption {
	return func(m *Memory) {
		m.logger = logger
	}
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		processes: make(map[address.Address]RawHandler),
		offline:   make(map[string]bool),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register hosts h at addr.
func (m *Memory) Register(addr address.Address, h Handler) {
	m.RegisterRaw(addr, func(msg *message.Message, reply ReplyFunc) {
		body, err := h.ServeMessage(context.Background(), msg)
		switch {
		case errors.Is(err, ErrNoReply):
		case err != nil:
			m.logger.Debug("handler rejected message",
				zap.Stringer("target", msg.Target), zap.Uint64("id", msg.ID), zap.Error(err))
			reply(message.StatusRejected, nil)
		default:
			reply(message.StatusOK, body)
		}
	})
}

// RegisterRaw hosts fn at addr with full control over the reply.
func (m *Memory) RegisterRaw(addr address.Address, fn RawHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processes[addr] = fn
}

func (m *Memory) Unregister(addr address.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.processes, addr)
}

// SetOffline marks every process on node as unreachable.
func (m *Memory) SetOffline(node string, offline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if offline {
		m.offline[node] = true
	} else {
		delete(m.offline, node)
	}
}

func (m *Memory) Subscribe(fn func(*message.Message)) func() {
	return m.sinks.Add(fn)
}

func (m *Memory) Send(ctx context.Context, msg *message.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.RLock()
	closed := m.closed
	offline := m.offline[msg.Target.Node]
	fn := m.processes[msg.Target]
	m.mu.RUnlock()

	switch {
	case closed:
		return ErrClosed
	case offline:
		return fmt.Errorf("%w: %s", ErrNodeOffline, msg.Target.Node)
	case fn == nil:
		return fmt.Errorf("%w: %s", ErrProcessNotFound, msg.Target)
	}

	req := *msg
	req.Body = bytes.Clone(msg.Body)

	var once sync.Once
	reply := func(status message.Status, body []byte) {
		once.Do(func() {
			if req.ExpectsReply() {
				m.deliver(req.Reply(status, body))
			}
		})
	}
	go fn(&req, reply)
	return nil
}

// Inject hands msg to subscribers as if it had arrived from the bus.
func (m *Memory) Inject(msg *message.Message) {
	m.deliver(msg)
}

func (m *Memory) deliver(msg *message.Message) {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		m.logger.Debug("dropping reply on closed bus", zap.Uint64("id", msg.ID))
		return
	}
	m.sinks.Deliver(msg)
}

// Close stops delivery. Sends fail with ErrClosed and pending replies are dropped.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
