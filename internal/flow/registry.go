package flow

import (
	"sync"

	"warden/pkg/logging"
)

// Registry is the single source of truth for flows in progress: a
// thread-safe map from request id to pending flow state.
type Registry struct {
	mu    sync.RWMutex
	flows map[string]*Pending
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		flows: make(map[string]*Pending),
	}
}

// Insert adds a pending flow. Returns false if the request id is already
// present, in which case the registry is unchanged.
func (r *Registry) Insert(p *Pending) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.flows[p.RequestID]; exists {
		return false
	}
	r.flows[p.RequestID] = p

	logging.Debug("Flow", "Registered pending flow %s (account=%s provider=%s)",
		p.RequestID, p.AccountID, p.ProviderID)
	return true
}

// Get returns a shared handle to the pending flow without removing it.
func (r *Registry) Get(requestID string) (*Pending, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.flows[requestID]
	return p, ok
}

// Remove takes the pending flow out of the registry and returns it.
func (r *Registry) Remove(requestID string) (*Pending, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.flows[requestID]
	if !ok {
		return nil, false
	}
	delete(r.flows, requestID)

	logging.Debug("Flow", "Removed pending flow %s", requestID)
	return p, true
}

// Cancel removes the pending flow and sets its cancellation flag so any
// in-flight listener or poll loop observes the cancellation at its next
// check. Returns the removed flow and whether the id existed.
func (r *Registry) Cancel(requestID string) (*Pending, bool) {
	p, ok := r.Remove(requestID)
	if !ok {
		return nil, false
	}
	p.Cancel.Set()

	logging.Info("Flow", "Cancelled pending flow %s (account=%s)", requestID, p.AccountID)
	return p, true
}

// CancelAll cancels every pending flow. Used on shutdown so background
// listeners and pollers terminate instead of leaking.
func (r *Registry) CancelAll() []*Pending {
	r.mu.Lock()
	cancelled := make([]*Pending, 0, len(r.flows))
	for id, p := range r.flows {
		p.Cancel.Set()
		cancelled = append(cancelled, p)
		delete(r.flows, id)
	}
	r.mu.Unlock()

	if len(cancelled) > 0 {
		logging.Info("Flow", "Cancelled %d pending flows on shutdown", len(cancelled))
	}
	return cancelled
}

// Len returns the number of flows currently pending.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.flows)
}
