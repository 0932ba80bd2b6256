package dispatch

import "sync"

// Registry tracks active dispatch sessions and their cancellation
// flags. Cancellation is cooperative: workers poll IsCancelled between
// units of work.
type Registry struct {
	mu        sync.Mutex
	active    map[string]struct{}
	cancelled map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		active:    make(map[string]struct{}),
		cancelled: make(map[string]struct{}),
	}
}

// Register marks a session as active.
func (r *Registry) Register(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[id] = struct{}{}
}

// Cancel flags a session for cancellation. Idempotent; cancelling an
// unknown session is a no-op that returns false.
func (r *Registry) Cancel(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[id]; !ok {
		return false
	}
	r.cancelled[id] = struct{}{}
	return true
}

// IsCancelled reports whether the session was flagged. Once set it
// stays set until Unregister.
func (r *Registry) IsCancelled(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.cancelled[id]
	return ok
}

// Active reports whether the session is currently registered.
func (r *Registry) Active(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[id]
	return ok
}

// Unregister removes the session and its cancellation flag.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, id)
	delete(r.cancelled, id)
}
