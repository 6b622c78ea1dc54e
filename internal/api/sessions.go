package api

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/samcharles93/hybridlm/internal/inference"
	"github.com/samcharles93/hybridlm/internal/tensor"
)

// session pairs an inference session with the lock that serialises calls
// against its cache.
type session struct {
	mu        sync.Mutex
	id        string
	createdAt time.Time
	kvDType   tensor.DType
	sess      *inference.Session
}

// SessionStore maps session ids to live sessions.
type SessionStore struct {
	mu       sync.Mutex
	limit    int
	sessions map[string]*session
}

// NewSessionStore returns a store holding at most limit sessions; limit <= 0
// means unlimited.
func NewSessionStore(limit int) *SessionStore {
	return &SessionStore{
		limit:    limit,
		sessions: make(map[string]*session),
	}
}

func (s *SessionStore) add(sess *inference.Session, dtype tensor.DType, now time.Time) (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.limit > 0 && len(s.sessions) >= s.limit {
		return nil, ErrBusy
	}
	rec := &session{
		id:        "sess_" + uuid.NewString(),
		createdAt: now,
		kvDType:   dtype,
		sess:      sess,
	}
	s.sessions[rec.id] = rec
	return rec, nil
}

func (s *SessionStore) get(id string) (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[id]
	if !ok {
		return nil, notFoundError{id: id}
	}
	return rec, nil
}

func (s *SessionStore) delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return false
	}
	delete(s.sessions, id)
	return true
}

// Len is the number of live sessions.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
