package tunnel

import (
	"fmt"
	"sync"
)

// PendingTable correlates outstanding requests (keyed by request ID) to a
// channel awaiting exactly one ResponseFrame payload, the same pattern as
// the teacher's streamWaiter table but carrying a raw decoded ResponseFrame
// rather than a websocket stream chunk, since the tunnel protocol here has
// no intermediate streaming frames: one request, one response.
type PendingTable struct {
	mu      sync.Mutex
	waiters map[string]chan *ResponseFrame
}

// NewPendingTable constructs an empty pending-request table.
func NewPendingTable() *PendingTable {
	return &PendingTable{waiters: make(map[string]chan *ResponseFrame)}
}

// Add registers id as awaiting a response and returns the channel that will
// receive it. Deliver removes the entry when a response arrives; a caller
// that stops waiting without one (e.g. after a deadline) must call
// Cancel(id) to release it.
func (p *PendingTable) Add(id string) (<-chan *ResponseFrame, error) {
	ch := make(chan *ResponseFrame, 1)

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.waiters[id]; exists {
		return nil, fmt.Errorf("tunnel: request id %q already pending", id)
	}
	p.waiters[id] = ch
	return ch, nil
}

// Deliver hands resp to the waiter registered for resp's ID, if any, and
// removes the entry. It reports whether a waiter was found; an unmatched
// response (arrived after its deadline, or for an unknown ID) is simply
// dropped by the caller.
func (p *PendingTable) Deliver(resp *ResponseFrame) bool {
	p.mu.Lock()
	ch, ok := p.waiters[resp.RequestID]
	if ok {
		delete(p.waiters, resp.RequestID)
	}
	p.mu.Unlock()

	if !ok {
		return false
	}
	ch <- resp
	return true
}

// Cancel removes id from the table without delivering anything, used when a
// request's deadline elapses or the request could not be written to the
// tunnel. Entries are not tied to a tunnel connection, so a connection that
// drops mid-flight does not cancel the requests forwarded over it; they stay
// pending until their deadline.
func (p *PendingTable) Cancel(id string) {
	p.mu.Lock()
	delete(p.waiters, id)
	p.mu.Unlock()
}

// Len reports the number of outstanding requests.
func (p *PendingTable) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.waiters)
}
