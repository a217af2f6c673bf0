// Package registry implements the in-process connection registry: the
// bijective binding between a user identity and its live session handle.
package registry

import "sync"

// Handle is anything the gateway can address a live session by. The
// registry only needs an identity to key on.
type Handle interface {
	ID() string
}

// Registry is the single-session-per-user connection registry. Its two
// maps are kept as inverses of each other under the same lock: for every
// (u, h) in users, handles[h.ID()] == u, and vice versa.
type Registry struct {
	mu      sync.RWMutex
	users   map[string]Handle // userId -> handle
	handles map[string]string // handleId -> userId
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		users:   make(map[string]Handle),
		handles: make(map[string]string),
	}
}

// Add binds userId to handle. If a binding already existed for userId, the
// prior handle is evicted from both maps first and returned so the caller
// (the Session Gateway) can schedule its transport for close; the registry
// itself never closes transports.
func (r *Registry) Add(userID string, handle Handle) (evicted Handle, hadPrior bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prior, ok := r.users[userID]; ok {
		delete(r.handles, prior.ID())
		evicted, hadPrior = prior, true
	}

	r.users[userID] = handle
	r.handles[handle.ID()] = userID
	return evicted, hadPrior
}

// Remove evicts userId's binding. Idempotent: removing an absent or
// already-removed user is a no-op, never an error, so it is safe to race
// with a concurrent Add for the same user.
func (r *Registry) Remove(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	handle, ok := r.users[userID]
	if !ok {
		return
	}
	delete(r.users, userID)
	delete(r.handles, handle.ID())
}

// RemoveIfCurrent evicts userId's binding only if it still points at
// handleID, and reports whether it did. A closing connection must use this
// rather than Remove: by the time its own cleanup runs, Add may already have
// evicted it in favor of a newer reconnect, and an unconditional Remove
// would tear down the wrong (newer) session.
func (r *Registry) RemoveIfCurrent(userID, handleID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	handle, ok := r.users[userID]
	if !ok || handle.ID() != handleID {
		return false
	}
	delete(r.users, userID)
	delete(r.handles, handleID)
	return true
}

// HandleOf returns the live handle for userId, or false if absent.
func (r *Registry) HandleOf(userID string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.users[userID]
	return h, ok
}

// UserOf returns the userId bound to handleID, or false if absent.
func (r *Registry) UserOf(handleID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.handles[handleID]
	return u, ok
}

// Has reports whether userId currently has a live binding.
func (r *Registry) Has(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.users[userID]
	return ok
}

// Count returns the number of distinct bound users.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

// Clear drops all bindings.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = make(map[string]Handle)
	r.handles = make(map[string]string)
}
