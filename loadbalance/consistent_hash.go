package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"
	"strings"
	"sync"

	"caller-rpc/registry"
)

// ConsistentHashBalancer maps keys onto a hash ring of instances. The same key
// maps to the same instance until the instance set changes, and a change only
// moves the keys owned by the instances that came or went.
//
// Each instance is placed on the ring as replicas virtual nodes so that a few
// instances still spread evenly.
type ConsistentHashBalancer struct {
	replicas int

	mu        sync.Mutex
	signature string                           // sorted addrs of the current ring
	ring      []uint32                         // sorted virtual node hashes
	nodes     map[uint32]registry.NodeInstance // virtual node hash → instance
}

// NewConsistentHashBalancer creates a ring with 100 virtual nodes per instance.
func NewConsistentHashBalancer() *ConsistentHashBalancer {
	return &ConsistentHashBalancer{
		replicas: 100,
		nodes:    make(map[uint32]registry.NodeInstance),
	}
}

func signatureOf(instances []registry.NodeInstance) string {
	addrs := make([]string, len(instances))
	for i, inst := range instances {
		addrs[i] = inst.Addr
	}
	sort.Strings(addrs)
	return strings.Join(addrs, ",")
}

// rebuild places every instance on a fresh ring. Caller holds mu.
func (b *ConsistentHashBalancer) rebuild(instances []registry.NodeInstance, signature string) {
	b.ring = b.ring[:0]
	b.nodes = make(map[uint32]registry.NodeInstance, len(instances)*b.replicas)
	for _, inst := range instances {
		for i := 0; i < b.replicas; i++ {
			hash := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", inst.Addr, i)))
			b.ring = append(b.ring, hash)
			b.nodes[hash] = inst
		}
	}
	sort.Slice(b.ring, func(i, j int) bool {
		return b.ring[i] < b.ring[j]
	})
	b.signature = signature
}

// Pick hashes key and walks clockwise to the first virtual node, wrapping
// around past the largest hash.
func (b *ConsistentHashBalancer) Pick(key string, instances []registry.NodeInstance) (*registry.NodeInstance, error) {
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if sig := signatureOf(instances); sig != b.signature {
		b.rebuild(instances, sig)
	}

	hash := crc32.ChecksumIEEE([]byte(key))
	idx := sort.Search(len(b.ring), func(i int) bool {
		return b.ring[i] >= hash
	})
	if idx == len(b.ring) {
		idx = 0
	}

	inst := b.nodes[b.ring[idx]]
	return &inst, nil
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}
