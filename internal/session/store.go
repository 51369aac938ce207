// Package session binds opaque session ids to a live database connection and
// its schema snapshot. The Store is an explicit object handed to the HTTP
// layer and the orchestrator; there is no package-level registry.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/suPer8Hu/dbrag/internal/errs"
	"github.com/suPer8Hu/dbrag/internal/schema"
	"gorm.io/gorm"
)

type Session struct {
	ID          string
	Driver      string
	Database    string
	DB          *gorm.DB
	Schema      *schema.Snapshot
	TextColumns []schema.ColumnRef
	CreatedAt   time.Time

	lastUsed atomic.Int64
}

func (s *Session) LastUsed() time.Time {
	return time.Unix(0, s.lastUsed.Load())
}

func (s *Session) touch(now time.Time) {
	s.lastUsed.Store(now.UnixNano())
}

// Close releases the session's connection pool.
func (s *Session) Close() error {
	if s.DB == nil {
		return nil
	}
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	onRemove []func(id string)
	now      func() time.Time
}

func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// OnRemove registers a hook run after a session is removed or evicted, e.g.
// to drop its vector collection.
func (s *Store) OnRemove(fn func(id string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRemove = append(s.onRemove, fn)
}

func (s *Store) Put(sess *Session) {
	now := s.now()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.touch(now)

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
}

// Get returns the session and marks it used. Unknown or evicted ids yield
// SessionNotFoundError.
func (s *Store) Get(id string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, errs.New(errs.KindSessionNotFound, "Invalid or expired session_id")
	}
	sess.touch(s.now())
	return sess, nil
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Remove closes and forgets one session.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	hooks := append([]func(string){}, s.onRemove...)
	s.mu.Unlock()
	if !ok {
		return errs.New(errs.KindSessionNotFound, "Invalid or expired session_id")
	}

	err := sess.Close()
	for _, fn := range hooks {
		fn(id)
	}
	return err
}

// EvictIdle removes sessions unused for longer than ttl and returns their ids.
func (s *Store) EvictIdle(ttl time.Duration) []string {
	cutoff := s.now().Add(-ttl)

	s.mu.Lock()
	var stale []*Session
	for id, sess := range s.sessions {
		if sess.LastUsed().Before(cutoff) {
			stale = append(stale, sess)
			delete(s.sessions, id)
		}
	}
	hooks := append([]func(string){}, s.onRemove...)
	s.mu.Unlock()

	ids := make([]string, 0, len(stale))
	for _, sess := range stale {
		_ = sess.Close()
		for _, fn := range hooks {
			fn(sess.ID)
		}
		ids = append(ids, sess.ID)
	}
	return ids
}

// RunJanitor evicts idle sessions every interval until ctx is done. A
// non-positive ttl disables eviction.
func (s *Store) RunJanitor(ctx context.Context, ttl, interval time.Duration, log logrus.FieldLogger) {
	if ttl <= 0 {
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ids := s.EvictIdle(ttl); len(ids) > 0 {
				log.WithField("evicted", len(ids)).Info("evicted idle sessions")
			}
		}
	}
}

// CloseAll closes every session; used on shutdown.
func (s *Store) CloseAll() {
	s.mu.RLock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	for _, id := range ids {
		_ = s.Remove(id)
	}
}
