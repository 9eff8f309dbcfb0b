package dispatch

import (
	"sync"

	"caller-rpc/message"
)

// completion is what a waiting call receives: a correlated reply, or err when
// the caller shut down underneath it.
type completion struct {
	msg *message.Message
	err error
}

type pendingCall struct {
	ch chan completion // capacity 1, written at most once
}

// pendingTable is the correlation table: one entry per call awaiting a reply.
// An entry leaves the table exactly once, by resolve, abandon or closeAll, and
// only the remover may write to its channel, so no call resolves twice.
type pendingTable struct {
	mu     sync.Mutex
	calls  map[uint64]*pendingCall
	closed bool
}

func newPendingTable() *pendingTable {
	return &pendingTable{calls: make(map[uint64]*pendingCall)}
}

func (t *pendingTable) register(id uint64) (*pendingCall, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrCallerClosed
	}
	p := &pendingCall{ch: make(chan completion, 1)}
	t.calls[id] = p
	return p, nil
}

// resolve hands msg to the call registered under msg.ID. It reports false for
// orphans: replies whose call already timed out, was cancelled, or never existed.
func (t *pendingTable) resolve(msg *message.Message) bool {
	t.mu.Lock()
	p, ok := t.calls[msg.ID]
	delete(t.calls, msg.ID)
	t.mu.Unlock()

	if ok {
		p.ch <- completion{msg: msg}
	}
	return ok
}

// abandon drops the entry for id. It reports false if the entry was already
// removed, in which case a completion is waiting on the call's channel.
func (t *pendingTable) abandon(id uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.calls[id]
	delete(t.calls, id)
	return ok
}

// closeAll fails every pending call with err and refuses new registrations.
func (t *pendingTable) closeAll(err error) int {
	t.mu.Lock()
	calls := t.calls
	t.calls = make(map[uint64]*pendingCall)
	t.closed = true
	t.mu.Unlock()

	for _, p := range calls {
		p.ch <- completion{err: err}
	}
	return len(calls)
}

func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}
