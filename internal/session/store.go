package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/23skdu/longbow-kurdish/internal/language"
	"github.com/23skdu/longbow-kurdish/internal/logger"
	"github.com/23skdu/longbow-kurdish/internal/metrics"
)

const DefaultTTL = 30 * time.Minute

// Store keeps sessions in memory, keyed by a random id handed to the browser.
type Store struct {
	langs *language.Table
	ttl   time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewStore(langs *language.Table, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		langs:    langs,
		ttl:      ttl,
		sessions: make(map[string]*Session),
	}
}

func (s *Store) Create() *Session {
	sess := New(uuid.NewString(), s.langs)
	s.mu.Lock()
	s.sessions[sess.ID()] = sess
	n := len(s.sessions)
	s.mu.Unlock()
	metrics.RecordSessions(n)
	return sess
}

func (s *Store) Get(id string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	sess.touch()
	return sess, nil
}

// GetOrCreate returns the session for id, or a fresh one when id is unknown or
// expired. created reports whether a new id must be sent to the client.
func (s *Store) GetOrCreate(id string) (sess *Session, created bool) {
	if id != "" {
		if sess, err := s.Get(id); err == nil {
			return sess, false
		}
	}
	return s.Create(), true
}

func (s *Store) Delete(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	n := len(s.sessions)
	s.mu.Unlock()
	metrics.RecordSessions(n)
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Sweep drops sessions idle since before now-ttl and returns how many it removed.
// Sessions with a submit in flight are kept.
func (s *Store) Sweep(now time.Time) int {
	cutoff := now.Add(-s.ttl)
	s.mu.Lock()
	removed := 0
	for id, sess := range s.sessions {
		if sess.expired(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	n := len(s.sessions)
	s.mu.Unlock()
	metrics.RecordSessions(n)
	return removed
}

// Run sweeps every interval until ctx is done.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = s.ttl / 4
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := s.Sweep(now); n > 0 {
				logger.Log.Debug("expired sessions", "removed", n, "active", s.Len())
			}
		}
	}
}
