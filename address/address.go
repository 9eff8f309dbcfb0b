// Package address identifies a destination process on the bus.
//
// An Address is a routing key only: this layer never constructs one on its own,
// it is handed in by the caller and compared by value.
//
//	alice.os@sign:sign:sys
//	└──┬───┘ └─────┬──────┘
//	  node      process
package address

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMissingNode    = errors.New("address: missing node")
	ErrMissingProcess = errors.New("address: missing process")
)

// Address is the (node, process) pair a message is routed to.
type Address struct {
	Node    string `json:"node" yaml:"node"`
	Process string `json:"process" yaml:"process"`
}

// New returns an Address for process on node.
func New(node, process string) Address {
	return Address{Node: node, Process: process}
}

// Parse reads the "node@process" form produced by String.
// The process part may itself contain '@' or ':'; only the first '@' separates.
func Parse(s string) (Address, error) {
	node, process, ok := strings.Cut(strings.TrimSpace(s), "@")
	if !ok {
		return Address{}, fmt.Errorf("address: %q is not of the form node@process", s)
	}
	addr := Address{Node: node, Process: process}
	if err := addr.Validate(); err != nil {
		return Address{}, err
	}
	return addr, nil
}

func (a Address) String() string {
	return a.Node + "@" + a.Process
}

func (a Address) IsZero() bool {
	return a == Address{}
}

// Validate reports whether both halves of the address are present.
func (a Address) Validate() error {
	if a.Node == "" {
		return ErrMissingNode
	}
	if a.Process == "" {
		return ErrMissingProcess
	}
	return nil
}
