package flow

import "sync"

// Result is the terminal outcome a callback listener delivers for a PKCE
// flow: either an authorization code or the error that ended the flow.
type Result struct {
	// Code is the authorization code from the redirect, on success.
	Code string

	// Err is the terminal error, if the flow failed.
	Err error
}

// Completion is a single-use handoff point for a flow result. The producer
// side (the callback listener) sends at most one Result into the underlying
// channel; the consumer side claims the channel with Take.
//
// Take has take-once semantics: the first call atomically returns the channel
// and clears it, every later call reports failure. This guarantees a flow
// result is consumed by at most one waiter.
type Completion struct {
	mu sync.Mutex
	ch <-chan Result
}

// NewCompletion wraps a result channel in a take-once box. The channel should
// be buffered (capacity 1) so the producer never blocks.
func NewCompletion(ch <-chan Result) *Completion {
	return &Completion{ch: ch}
}

// Take claims the result channel. Returns the channel and true on the first
// call, nil and false on every call after that.
func (c *Completion) Take() (<-chan Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ch == nil {
		return nil, false
	}
	ch := c.ch
	c.ch = nil
	return ch, true
}
