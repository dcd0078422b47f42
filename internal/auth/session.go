package auth

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultSessionTTL is how long a session stays valid without renewal.
const DefaultSessionTTL = 7 * 24 * time.Hour

type session struct {
	username  string
	expiresAt time.Time
}

// Sessions issues and verifies opaque bearer tokens. Tokens live in
// memory only; a restart logs everyone out. Safe for concurrent use.
type Sessions struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time // injectable for tests
	active map[string]session
}

// NewSessions creates a session registry. A zero or negative ttl falls
// back to DefaultSessionTTL.
func NewSessions(ttl time.Duration) *Sessions {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Sessions{
		ttl:    ttl,
		now:    time.Now,
		active: make(map[string]session),
	}
}

// Create issues a new token for username.
func (s *Sessions) Create(username string) string {
	token := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[token] = session{
		username:  username,
		expiresAt: s.now().Add(s.ttl),
	}
	return token
}

// Verify returns the username behind a token. Expired tokens are
// removed on sight and report as invalid.
func (s *Sessions) Verify(token string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.active[token]
	if !ok {
		return "", false
	}
	if s.now().After(sess.expiresAt) {
		delete(s.active, token)
		return "", false
	}
	return sess.username, true
}

// Revoke invalidates a token. Unknown tokens are a no-op.
func (s *Sessions) Revoke(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, token)
}

// Count returns the number of live sessions, pruning expired ones.
func (s *Sessions) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for token, sess := range s.active {
		if now.After(sess.expiresAt) {
			delete(s.active, token)
		}
	}
	return len(s.active)
}
