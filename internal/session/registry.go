package session

import (
	"sort"
	"sync"
	"time"
)

// Info describes one active receiver session.
type Info struct {
	ID      uint32    `json:"id"`
	Peer    string    `json:"peer"`
	Started time.Time `json:"started"`
}

// Registry tracks the active receivers. The processor reads the count to
// decide which idle message to show; receivers register on start and
// unregister on exit.
type Registry struct {
	mu       sync.Mutex
	next     uint64
	sessions map[uint64]Info
	changed  chan struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[uint64]Info),
		changed:  make(chan struct{}),
	}
}

// Register adds a session and returns the function that removes it. The
// returned function is safe to call more than once.
func (r *Registry) Register(id uint32, peer string) (unregister func()) {
	r.mu.Lock()
	key := r.next
	r.next++
	r.sessions[key] = Info{ID: id, Peer: peer, Started: time.Now()}
	r.notifyLocked()
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.sessions, key)
			r.notifyLocked()
			r.mu.Unlock()
		})
	}
}

// Active returns the number of registered sessions.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Changed returns a channel that is closed at the next Register or
// unregister call. Fetch it before reading Active to avoid missing a change.
func (r *Registry) Changed() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.changed
}

// Sessions lists the active sessions, oldest first.
func (r *Registry) Sessions() []Info {
	r.mu.Lock()
	out := make([]Info, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Started.Before(out[j].Started) })
	return out
}

func (r *Registry) notifyLocked() {
	close(r.changed)
	r.changed = make(chan struct{})
}
