package registry

import (
	"context"
	"sort"
	"sync"
)

// StaticRegistry is an in-memory Registry for single-host setups and tests.
// TTLs are ignored.
type StaticRegistry struct {
	mu       sync.Mutex
	nodes    map[string]map[string]NodeInstance // node → addr → instance
	watchers map[string][]chan []NodeInstance
}

func NewStaticRegistry() *StaticRegistry {
	return &StaticRegistry{
		nodes:    make(map[string]map[string]NodeInstance),
		watchers: make(map[string][]chan []NodeInstance),
	}
}

func (r *StaticRegistry) Register(node string, instance NodeInstance, _ int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.nodes[node] == nil {
		r.nodes[node] = make(map[string]NodeInstance)
	}
	r.nodes[node][instance.Addr] = instance
	r.notifyLocked(node)
	return nil
}

func (r *StaticRegistry) Deregister(node string, addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.nodes[node], addr)
	if len(r.nodes[node]) == 0 {
		delete(r.nodes, node)
	}
	r.notifyLocked(node)
	return nil
}

func (r *StaticRegistry) Discover(node string) ([]NodeInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	instances := r.listLocked(node)
	if len(instances) == 0 {
		return nil, ErrNodeNotFound
	}
	return instances, nil
}

// Watch emits the node's instance list on every change. Slow readers only
// ever see the latest list.
func (r *StaticRegistry) Watch(ctx context.Context, node string) <-chan []NodeInstance {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan []NodeInstance, 1)
	r.watchers[node] = append(r.watchers[node], ch)

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		defer r.mu.Unlock()
		watchers := r.watchers[node]
		for i, w := range watchers {
			if w == ch {
				r.watchers[node] = append(watchers[:i:i], watchers[i+1:]...)
				break
			}
		}
		if len(r.watchers[node]) == 0 {
			delete(r.watchers, node)
		}
		close(ch)
	}()
	return ch
}

func (r *StaticRegistry) listLocked(node string) []NodeInstance {
	instances := make([]NodeInstance, 0, len(r.nodes[node]))
	for _, inst := range r.nodes[node] {
		instances = append(instances, inst)
	}
	sort.Slice(instances, func(i, j int) bool {
		return instances[i].Addr < instances[j].Addr
	})
	return instances
}

func (r *StaticRegistry) notifyLocked(node string) {
	instances := r.listLocked(node)
	for _, ch := range r.watchers[node] {
		select {
		case <-ch:
		default:
		}
		ch <- instances
	}
}
