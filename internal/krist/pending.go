package krist

import (
	"sync"
	"sync/atomic"
)

// callResult is what the read loop hands to a waiting call.
type callResult struct {
	resp Response
	err  error
}

// pendingCalls correlates outbound calls with their responses by id.
type pendingCalls struct {
	lastID atomic.Int64

	mu    sync.Mutex
	calls map[int64]chan callResult
}

func newPendingCalls() *pendingCalls {
	return &pendingCalls{calls: make(map[int64]chan callResult)}
}

// register allocates the next id and a channel its result will arrive on.
func (p *pendingCalls) register() (int64, <-chan callResult) {
	id := p.lastID.Add(1)
	ch := make(chan callResult, 1)

	p.mu.Lock()
	p.calls[id] = ch
	p.mu.Unlock()

	return id, ch
}

// resolve delivers res to the call with the given id. It reports false
// when no call with that id is pending.
func (p *pendingCalls) resolve(id int64, res callResult) bool {
	p.mu.Lock()
	ch, ok := p.calls[id]
	if ok {
		delete(p.calls, id)
	}
	p.mu.Unlock()

	if ok {
		ch <- res
	}
	return ok
}

// forget drops a call that stopped waiting.
func (p *pendingCalls) forget(id int64) {
	p.mu.Lock()
	delete(p.calls, id)
	p.mu.Unlock()
}

// failAll resolves every pending call with err.
func (p *pendingCalls) failAll(err error) {
	p.mu.Lock()
	calls := p.calls
	p.calls = make(map[int64]chan callResult)
	p.mu.Unlock()

	for _, ch := range calls {
		ch <- callResult{err: err}
	}
}

func (p *pendingCalls) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}
