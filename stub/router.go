package stub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"caller-rpc/bus"
	"caller-rpc/envelope"
	"caller-rpc/message"
)

var ErrUnknownMethod = errors.New("stub: unknown method")

type route func(ctx context.Context, raw json.RawMessage) ([]byte, error)

// Router is the receiving side of an interface. It opens each envelope,
// dispatches on the tag, and encodes the handler's result as the reply body.
// A tag with no route, or arguments of the wrong shape, is an error; the bus
// turns that into a Rejected response.
type Router struct {
	mu     sync.RWMutex
	routes map[string]route
}

func NewRouter() *Router {
	return &Router{routes: make(map[string]route)}
}

// Handle routes m to fn on r. Registering the same method twice replaces the
// earlier handler.
func Handle[A, R any](r *Router, m Method[A, R], fn func(ctx context.Context, args A) R) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[m.name] = func(ctx context.Context, raw json.RawMessage) ([]byte, error) {
		args, err := envelope.Decode[A](raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", m.name, err)
		}
		return json.Marshal(fn(ctx, args))
	}
}

// Methods lists the routed tags.
func (r *Router) Methods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.routes))
	for name := range r.routes {
		names = append(names, name)
	}
	return names
}

func (r *Router) ServeMessage(ctx context.Context, msg *message.Message) ([]byte, error) {
	tag, raw, err := envelope.Open(msg.Body)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	h, ok := r.routes[tag]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, tag)
	}

	body, err := h(ctx, raw)
	if err != nil {
		return nil, err
	}
	if msg.Kind == message.KindCast {
		return nil, bus.ErrNoReply
	}
	return body, nil
}
