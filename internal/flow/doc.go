// Package flow holds the in-memory state of authentication flows that have
// been started but not yet finished: the pending-flow registry, the
// cooperative cancellation flag, and the take-once completion channel used to
// hand a callback result from the listener to the waiting caller.
//
// # Lifecycle
//
// A Pending entry is created when a flow starts and removed exactly once, on
// the first terminal outcome: successful completion, explicit cancellation,
// timeout, or a hard error. Entries are never persisted; a process restart
// invalidates all pending flows.
//
// # Concurrency
//
// The registry map is guarded by a single lock. Each Pending carries a
// CancelFlag shared by the waiting caller and the background task driving the
// flow (callback listener, device poller, or capture loop). Cancellation is
// cooperative: setting the flag does not preempt a sleeping loop; the loop
// observes the flag at its next check, so worst-case cancellation latency is
// one poll interval.
//
// Completion of a PKCE flow is delivered through a Completion box with
// take-once semantics: Take atomically returns-and-clears the underlying
// channel, so a result can be consumed by at most one waiter. A second Take
// reports failure, which callers surface as an AlreadyWaitingError, distinct
// from the flow not existing at all.
package flow
