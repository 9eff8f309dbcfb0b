package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"caller-rpc/bus"
	"caller-rpc/codec"
	"caller-rpc/loadbalance"
	"caller-rpc/message"
	"caller-rpc/registry"

	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"
)

// NodeBus is a bus.Bus that reaches remote nodes over TCP.
//
// For each message it resolves the target node in the registry, keeps the
// instances that host the target process (and satisfy its version
// constraint, if one is set), picks one with the balancer and writes the
// message on a shared ClientTransport for that endpoint.
type NodeBus struct {
	registry    registry.Registry
	balancer    loadbalance.Balancer
	codec       codec.CodecType
	dialTimeout time.Duration
	heartbeat   time.Duration
	constraints map[string]*semver.Constraints
	logger      *zap.Logger

	mu         sync.Mutex
	transports map[string]*ClientTransport // endpoint → transport
	closed     bool

	sinks bus.Sinks
}

type NodeBusOption func(*NodeBus)

func WithBalancer(b loadbalance.Balancer) NodeBusOption {
	return func(nb *NodeBus) {
		nb.balancer = b
	}
}

func WithCodec(ct codec.CodecType) NodeBusOption {
	return func(nb *NodeBus) {
		nb.codec = ct
	}
}

func WithDialTimeout(d time.Duration) NodeBusOption {
	return func(nb *NodeBus) {
		nb.dialTimeout = d
	}
}

func WithHeartbeat(d time.Duration) NodeBusOption {
	return func(nb *NodeBus) {
		nb.heartbeat = d
	}
}

func WithLogger(logger *zap.Logger) NodeBusOption {
	return func(nb *NodeBus) {
		nb.logger = logger
	}
}

// WithProcessConstraint only routes messages for process to instances that
// advertise a version of it satisfying c.
func WithProcessConstraint(process string, c *semver.Constraints) NodeBusOption {
	return func(nb *NodeBus) {
		nb.constraints[process] = c
	}
}

func NewNodeBus(reg registry.Registry, opts ...NodeBusOption) *NodeBus {
	nb := &NodeBus{
		registry:    reg,
		balancer:    &loadbalance.RoundRobinBalancer{},
		codec:       codec.CodecTypeJSON,
		dialTimeout: 5 * time.Second,
		heartbeat:   DefaultHeartbeat,
		constraints: make(map[string]*semver.Constraints),
		logger:      zap.NewNop(),
		transports:  make(map[string]*ClientTransport),
	}
	for _, opt := range opts {
		opt(nb)
	}
	return nb
}

func (nb *NodeBus) Subscribe(fn func(*message.Message)) func() {
	return nb.sinks.Add(fn)
}

func (nb *NodeBus) Send(ctx context.Context, msg *message.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if nb.isClosed() {
		return bus.ErrClosed
	}

	inst, err := nb.resolve(msg.Target.Node, msg.Target.Process)
	if err != nil {
		return err
	}

	t, err := nb.transportFor(ctx, inst.Addr)
	if err != nil {
		nb.invalidate(msg.Target.Node)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %s: dial %s: %v", bus.ErrNodeOffline, msg.Target.Node, inst.Addr, err)
	}
	if err := t.Send(ctx, msg); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return err
		}
		// Only a broken connection makes the node unreachable; the transport
		// evicts itself once it has failed.
		if errors.Is(err, ErrTransportClosed) || t.Err() != nil {
			return fmt.Errorf("%w: %s: write %s: %v", bus.ErrNodeOffline, msg.Target.Node, inst.Addr, err)
		}
		return fmt.Errorf("transport: send to %s: %w", msg.Target, err)
	}
	return nil
}

// resolve picks the endpoint for node that should receive a message for process.
func (nb *NodeBus) resolve(node, process string) (*registry.NodeInstance, error) {
	instances, err := nb.registry.Discover(node)
	if errors.Is(err, registry.ErrNodeNotFound) {
		return nil, fmt.Errorf("%w: %s", bus.ErrNodeOffline, node)
	}
	if err != nil {
		return nil, fmt.Errorf("transport: resolve %s: %w", node, err)
	}

	candidates := nb.filter(process, instances)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: %s@%s", bus.ErrProcessNotFound, node, process)
	}
	return nb.balancer.Pick(process, candidates)
}

func (nb *NodeBus) filter(process string, instances []registry.NodeInstance) []registry.NodeInstance {
	constraint := nb.constraints[process]
	out := make([]registry.NodeInstance, 0, len(instances))
	for _, inst := range instances {
		if !inst.Hosts(process) {
			continue
		}
		if constraint != nil && !satisfies(constraint, inst.Processes[process]) {
			continue
		}
		out = append(out, inst)
	}
	return out
}

// satisfies reports whether version meets c. Missing or malformed versions
// never do.
func satisfies(c *semver.Constraints, version string) bool {
	if version == "" {
		return false
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return false
	}
	return c.Check(v)
}

func (nb *NodeBus) transportFor(ctx context.Context, addr string) (*ClientTransport, error) {
	nb.mu.Lock()
	if t, ok := nb.transports[addr]; ok && t.Err() == nil {
		nb.mu.Unlock()
		return t, nil
	}
	nb.mu.Unlock()

	dialer := net.Dialer{Timeout: nb.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	t := NewClientTransport(conn, nb.codec, nb.heartbeat, nb.sinks.Deliver, WithClientLogger(nb.logger))

	nb.mu.Lock()
	if nb.closed {
		nb.mu.Unlock()
		t.Close()
		return nil, bus.ErrClosed
	}
	// Another sender may have dialed the same endpoint meanwhile.
	if existing, ok := nb.transports[addr]; ok && existing.Err() == nil {
		nb.mu.Unlock()
		t.Close()
		return existing, nil
	}
	nb.transports[addr] = t
	nb.mu.Unlock()

	nb.logger.Debug("connected to node endpoint", zap.String("addr", addr))
	go nb.evictOnFailure(addr, t)
	return t, nil
}

func (nb *NodeBus) evictOnFailure(addr string, t *ClientTransport) {
	<-t.Done()
	nb.mu.Lock()
	if nb.transports[addr] == t {
		delete(nb.transports, addr)
	}
	nb.mu.Unlock()
}

// invalidate drops a cached view of node, if the registry keeps one, so the
// next send re-resolves it.
func (nb *NodeBus) invalidate(node string) {
	if c, ok := nb.registry.(interface{ Invalidate(string) }); ok {
		c.Invalidate(node)
	}
}

func (nb *NodeBus) isClosed() bool {
	nb.mu.Lock()
	defer nb.mu.Unlock()
	return nb.closed
}

// Close rejects further sends and closes every connection. Requests still in
// flight receive NodeOffline replies.
func (nb *NodeBus) Close() error {
	nb.mu.Lock()
	if nb.closed {
		nb.mu.Unlock()
		return nil
	}
	nb.closed = true
	transports := nb.transports
	nb.transports = make(map[string]*ClientTransport)
	nb.mu.Unlock()

	for _, t := range transports {
		t.Close()
	}
	return nil
}
