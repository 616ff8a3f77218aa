package relay

import (
	"sync"

	"github.com/google/uuid"

	"github.com/codefionn/chatrelay/internal/logger"
)

// Registry tracks the set of live sessions. It is constructed once per
// process and passed by reference; sessions bound to different model keys
// never block one another.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Register assigns the session a fresh identifier and starts tracking it.
func (r *Registry) Register(sess *Session) string {
	id := uuid.NewString()
	sess.ID = id

	r.mu.Lock()
	r.sessions[id] = sess
	r.mu.Unlock()

	logger.Debug("Session registered: %s (model %s)", id, sess.key)
	return id
}

// Unregister stops tracking a session. Idempotent: unregistering an
// absent id is a no-op.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	_, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if ok {
		logger.Debug("Session unregistered: %s", id)
	}
}

// CloseAll tears down every live session's connection. Each session's
// Run loop then exits through its normal disconnect path.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, sess := range r.sessions {
		sess.conn.Close()
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
