package registry

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cached puts an expiring LRU of Discover results in front of another
// Registry. Register and Deregister pass through and drop the node's entry.
//
// The first lookup of a node also starts a watch on it, so changes made
// elsewhere refresh the entry before it expires. Watches run until Close.
type Cached struct {
	Registry
	cache *expirable.LRU[string, []NodeInstance]

	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	watched map[string]bool
}

func NewCached(inner Registry, size int, ttl time.Duration) *Cached {
	if size <= 0 {
		size = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Cached{
		Registry: inner,
		cache:    expirable.NewLRU[string, []NodeInstance](size, nil, ttl),
		ctx:      ctx,
		cancel:   cancel,
		watched:  make(map[string]bool),
	}
}

func (c *Cached) Register(node string, instance NodeInstance, ttl int64) error {
	c.cache.Remove(node)
	return c.Registry.Register(node, instance, ttl)
}

func (c *Cached) Deregister(node string, addr string) error {
	c.cache.Remove(node)
	return c.Registry.Deregister(node, addr)
}

// Discover serves from the cache when it can. Misses, including
// ErrNodeNotFound, are not cached.
func (c *Cached) Discover(node string) ([]NodeInstance, error) {
	if instances, ok := c.cache.Get(node); ok {
		return instances, nil
	}
	// Watch before reading so no change between the two is missed.
	c.watch(node)
	instances, err := c.Registry.Discover(node)
	if err != nil {
		return nil, err
	}
	c.cache.Add(node, instances)
	return instances, nil
}

func (c *Cached) watch(node string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.watched[node] || c.ctx.Err() != nil {
		return
	}
	c.watched[node] = true

	updates := c.Registry.Watch(c.ctx, node)
	go func() {
		defer func() {
			c.mu.Lock()
			delete(c.watched, node)
			c.mu.Unlock()
		}()
		for instances := range updates {
			if len(instances) == 0 {
				c.cache.Remove(node)
				continue
			}
			c.cache.Add(node, instances)
		}
	}()
}

// Invalidate forgets the cached instances of node.
func (c *Cached) Invalidate(node string) {
	c.cache.Remove(node)
}

// Close stops every watch. The inner registry stays open.
func (c *Cached) Close() error {
	c.cancel()
	return nil
}
