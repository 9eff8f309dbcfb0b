// Package loadbalance picks one endpoint among the instances advertised for a
// node.
//
// Three strategies are implemented:
//   - RoundRobin:      equal-capacity instances
//   - WeightedRandom:  heterogeneous instances
//   - ConsistentHash:  process affinity, the same key keeps landing on the same instance
package loadbalance

import (
	"errors"
	"fmt"

	"caller-rpc/registry"
)

var ErrNoInstances = errors.New("loadbalance: no instances available")

// Balancer is consulted by the node bus before every send. Implementations
// must be safe for concurrent use.
type Balancer interface {
	// Pick selects one instance. key identifies the target process; strategies
	// that do not need affinity ignore it.
	Pick(key string, instances []registry.NodeInstance) (*registry.NodeInstance, error)

	Name() string
}

// ByName returns the balancer for a configured strategy name. An empty name
// selects round robin.
func ByName(name string) (Balancer, error) {
	switch name {
	case "", "round_robin":
		return &RoundRobinBalancer{}, nil
	case "weighted_random":
		return &WeightedRandomBalancer{}, nil
	case "consistent_hash":
		return NewConsistentHashBalancer(), nil
	}
	return nil, fmt.Errorf("loadbalance: unknown strategy %q", name)
}
