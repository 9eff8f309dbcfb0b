package loadbalance

import (
	"math/rand/v2"

	"caller-rpc/registry"
)

// WeightedRandomBalancer picks an instance with probability proportional to its
// weight. A weight of zero or less counts as 1.
type WeightedRandomBalancer struct{}

func weightOf(inst registry.NodeInstance) int {
	if inst.Weight <= 0 {
		return 1
	}
	return inst.Weight
}

func (b *WeightedRandomBalancer) Pick(_ string, instances []registry.NodeInstance) (*registry.NodeInstance, error) {
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}

	total := 0
	for _, v := range instances {
		total += weightOf(v)
	}

	r := rand.IntN(total)
	for i := range instances {
		r -= weightOf(instances[i])
		if r < 0 {
			return &instances[i], nil
		}
	}
	return &instances[len(instances)-1], nil
}

func (b *WeightedRandomBalancer) Name() string {
	return "WeightedRandom"
}
