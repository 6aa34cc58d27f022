package ws

import "sync"

// Sink delivers an encoded frame to one live connection. Send must not
// block; it reports whether the frame was queued.
type Sink interface {
	Send(payload []byte) bool
}

// Registry maps each user to the sink of their most recent handshake.
// A user has at most one sink: registering again replaces the previous one,
// which is dropped without being closed.
type Registry struct {
	mu    sync.RWMutex
	sinks map[int64]Sink
}

func NewRegistry() *Registry {
	return &Registry{sinks: make(map[int64]Sink)}
}

func (r *Registry) Register(userID int64, sink Sink) {
	r.mu.Lock()
	r.sinks[userID] = sink
	r.mu.Unlock()
}

// Unregister removes userID's sink if there is one.
func (r *Registry) Unregister(userID int64) {
	r.mu.Lock()
	delete(r.sinks, userID)
	r.mu.Unlock()
}

// Release removes userID's sink only if it is still sink. A connection that
// closes after a newer handshake must not evict its replacement.
func (r *Registry) Release(userID int64, sink Sink) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.sinks[userID]; !ok || current != sink {
		return false
	}
	delete(r.sinks, userID)
	return true
}

// Dispatch hands payload to userID's sink. Offline users are skipped and
// nothing is queued for them.
func (r *Registry) Dispatch(userID int64, payload []byte) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sink, ok := r.sinks[userID]
	if !ok {
		return false
	}
	return sink.Send(payload)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sinks)
}
