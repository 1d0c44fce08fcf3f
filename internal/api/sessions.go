package api

import (
	"sync"

	"github.com/kalambet/applyd/internal/pipeline"
)

// SessionRegistry holds live chat sessions by id. Sessions are process
// local and vanish on restart.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*pipeline.Session
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]*pipeline.Session)}
}

func (r *SessionRegistry) Put(s *pipeline.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
}

func (r *SessionRegistry) Get(id string) (*pipeline.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Delete removes a session and reports whether it existed.
func (r *SessionRegistry) Delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[id]
	delete(r.sessions, id)
	return ok
}

func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
