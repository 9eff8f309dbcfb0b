package registry

// EtcdRegistry keeps node instances in etcd:
//
//	Key:   /caller-rpc/nodes/{node}/{addr}
//	Value: JSON-encoded NodeInstance
//
// Entries are attached to a TTL lease that is kept alive while the node runs,
// so a crashed node drops out once its lease expires.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const keyPrefix = "/caller-rpc/nodes/"

func nodePrefix(node string) string {
	return keyPrefix + node + "/"
}

// EtcdRegistry implements Registry on etcd v3.
type EtcdRegistry struct {
	client  *clientv3.Client
	timeout time.Duration
	logger  *zap.Logger

	mu     sync.Mutex
	leases map[string]clientv3.LeaseID // key → lease, revoked on Deregister
}

// NewEtcdRegistry connects to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string, logger *zap.Logger) (*EtcdRegistry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
		Logger:      logger.Named("etcd"),
	})
	if err != nil {
		return nil, err
	}
	return &EtcdRegistry{
		client:  c,
		timeout: 5 * time.Second,
		logger:  logger,
		leases:  make(map[string]clientv3.LeaseID),
	}, nil
}

// Register stores instance under node with a lease of ttl seconds and keeps
// the lease alive in the background.
func (r *EtcdRegistry) Register(node string, instance NodeInstance, ttl int64) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}

	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}

	key := nodePrefix(node) + instance.Addr
	if _, err := r.client.Put(ctx, key, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return err
	}

	// KeepAlive must outlive this call, so it gets its own context; revoking
	// the lease ends it.
	ch, err := r.client.KeepAlive(context.Background(), lease.ID)
	if err != nil {
		return err
	}
	go func() {
		for range ch {
		}
		r.logger.Debug("registry lease keepalive ended", zap.String("key", key))
	}()

	r.mu.Lock()
	r.leases[key] = lease.ID
	r.mu.Unlock()
	return nil
}

// Deregister removes the instance at addr and revokes its lease.
func (r *EtcdRegistry) Deregister(node string, addr string) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	key := nodePrefix(node) + addr
	if _, err := r.client.Delete(ctx, key); err != nil {
		return err
	}

	r.mu.Lock()
	id, ok := r.leases[key]
	delete(r.leases, key)
	r.mu.Unlock()
	if ok {
		if _, err := r.client.Revoke(ctx, id); err != nil {
			return fmt.Errorf("registry: revoke lease for %s: %w", key, err)
		}
	}
	return nil
}

// Watch emits the node's full instance list after every change under its
// prefix, until ctx is done.
func (r *EtcdRegistry) Watch(ctx context.Context, node string) <-chan []NodeInstance {
	ch := make(chan []NodeInstance, 1)

	go func() {
		defer close(ch)
		for resp := range r.client.Watch(ctx, nodePrefix(node), clientv3.WithPrefix()) {
			if err := resp.Err(); err != nil {
				r.logger.Warn("registry watch failed", zap.String("node", node), zap.Error(err))
				continue
			}
			instances, err := r.Discover(node)
			if err != nil && !errors.Is(err, ErrNodeNotFound) {
				r.logger.Warn("registry watch refresh failed", zap.String("node", node), zap.Error(err))
				continue
			}
			select {
			case ch <- instances:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}

// Discover returns every instance currently registered for node.
func (r *EtcdRegistry) Discover(node string) ([]NodeInstance, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	resp, err := r.client.Get(ctx, nodePrefix(node), clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	instances := make([]NodeInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance NodeInstance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			r.logger.Warn("skipping malformed registry entry", zap.ByteString("key", kv.Key), zap.Error(err))
			continue
		}
		instances = append(instances, instance)
	}
	if len(instances) == 0 {
		return nil, ErrNodeNotFound
	}
	return instances, nil
}

func (r *EtcdRegistry) Close() error {
	return r.client.Close()
}
