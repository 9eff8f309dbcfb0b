package server

import (
	"errors"
	"fmt"

	"caller-rpc/bus"
)

var ErrDuplicateProcess = errors.New("server: process already registered")

// process is one named handler hosted on the node.
type process struct {
	name    string
	version string // interface version advertised in the registry, may be empty
	handler bus.Handler
}

func newProcess(name, version string, h bus.Handler) (*process, error) {
	if name == "" {
		return nil, errors.New("server: process name is empty")
	}
	if h == nil {
		return nil, fmt.Errorf("server: process %s has no handler", name)
	}
	return &process{name: name, version: version, handler: h}, nil
}
