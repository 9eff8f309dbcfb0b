// Package registry maps node names to the endpoints that serve them.
//
// A node advertises one or more instances. Each instance lists the processes it
// hosts and their interface versions, so a caller can refuse a target process
// before anything is sent.
package registry

import (
	"context"
	"errors"
)

var ErrNodeNotFound = errors.New("registry: node not found")

type NodeInstance struct {
	Addr      string            `json:"addr"`
	Weight    int               `json:"weight"` // Weight for load balancing
	Version   string            `json:"version"`
	Processes map[string]string `json:"processes,omitempty"` // process name → interface version
}

// Hosts reports whether the instance serves process. An instance that
// advertises no processes is treated as hosting all of them.
func (i NodeInstance) Hosts(process string) bool {
	if len(i.Processes) == 0 {
		return true
	}
	_, ok := i.Processes[process]
	return ok
}

type Registry interface {
	Register(node string, instance NodeInstance, ttl int64) error
	Deregister(node string, addr string) error
	// Discover returns the node's instances, or ErrNodeNotFound if it has none.
	Discover(node string) ([]NodeInstance, error)
	// Watch emits the node's instance list after each change. The channel is
	// closed once ctx is done.
	Watch(ctx context.Context, node string) <-chan []NodeInstance
}
