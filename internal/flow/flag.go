package flow

import "sync/atomic"

// CancelFlag is a cooperative cancellation signal shared between the caller
// waiting on a flow and the background task driving it. It is a one-way
// latch: once set it stays set.
//
// Setting the flag does not interrupt a task mid-sleep; tasks check it
// between polls, so observing a cancellation can take up to one poll
// interval.
type CancelFlag struct {
	cancelled atomic.Bool
}

// NewCancelFlag returns a new, unset flag.
func NewCancelFlag() *CancelFlag {
	return &CancelFlag{}
}

// Set latches the flag.
func (f *CancelFlag) Set() {
	f.cancelled.Store(true)
}

// IsSet reports whether the flag has been latched.
func (f *CancelFlag) IsSet() bool {
	return f.cancelled.Load()
}
