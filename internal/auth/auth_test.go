package auth

import (
	"testing"
	"time"
)

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("hunter2")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if hash == "hunter2" {
		t.Fatal("hash equals plaintext")
	}

	if !VerifyPassword(hash, "hunter2") {
		t.Error("expected correct password to verify")
	}
	if VerifyPassword(hash, "wrong") {
		t.Error("expected wrong password to fail")
	}
	if VerifyPassword("not-a-hash", "hunter2") {
		t.Error("expected malformed hash to fail")
	}
}

func newTestSessions(ttl time.Duration) (*Sessions, *time.Time) {
	s := NewSessions(ttl)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	return s, &now
}

func TestSessions_CreateAndVerify(t *testing.T) {
	s, _ := newTestSessions(time.Hour)

	token := s.Create("admin")
	if token == "" {
		t.Fatal("expected non-empty token")
	}

	user, ok := s.Verify(token)
	if !ok || user != "admin" {
		t.Errorf("Verify = %q, %v", user, ok)
	}

	if _, ok := s.Verify("no-such-token"); ok {
		t.Error("expected unknown token to fail")
	}
}

func TestSessions_Expiry(t *testing.T) {
	s, now := newTestSessions(time.Hour)
	token := s.Create("admin")

	*now = now.Add(59 * time.Minute)
	if _, ok := s.Verify(token); !ok {
		t.Error("expected token valid within ttl")
	}

	*now = now.Add(2 * time.Minute)
	if _, ok := s.Verify(token); ok {
		t.Error("expected token expired")
	}

	// Expired tokens are pruned on verification.
	if got := s.Count(); got != 0 {
		t.Errorf("Count = %d, want 0", got)
	}
}

func TestSessions_Revoke(t *testing.T) {
	s, _ := newTestSessions(time.Hour)
	token := s.Create("admin")

	s.Revoke(token)
	if _, ok := s.Verify(token); ok {
		t.Error("expected revoked token to fail")
	}
	s.Revoke(token) // no-op
}

func TestSessions_DefaultTTL(t *testing.T) {
	s := NewSessions(0)
	if s.ttl != DefaultSessionTTL {
		t.Errorf("ttl = %v, want %v", s.ttl, DefaultSessionTTL)
	}
}

func newTestLimiter() (*Limiter, *time.Time) {
	l := NewLimiter(0, 0)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestLimiter_AllowsUnderThreshold(t *testing.T) {
	l, _ := newTestLimiter()

	for range DefaultMaxFailures - 1 {
		l.RecordFailure("10.0.0.1")
	}
	if ok, _ := l.Allowed("10.0.0.1"); !ok {
		t.Error("expected address under threshold to be allowed")
	}
}

func TestLimiter_BlocksAtThreshold(t *testing.T) {
	l, _ := newTestLimiter()

	for range DefaultMaxFailures {
		l.RecordFailure("10.0.0.1")
	}

	ok, retryIn := l.Allowed("10.0.0.1")
	if ok {
		t.Fatal("expected address to be blocked")
	}
	if retryIn <= 0 || retryIn > DefaultWindow {
		t.Errorf("retryIn = %v", retryIn)
	}

	// Other addresses are unaffected.
	if ok, _ := l.Allowed("10.0.0.2"); !ok {
		t.Error("expected unrelated address to be allowed")
	}
}

func TestLimiter_WindowExpiry(t *testing.T) {
	l, now := newTestLimiter()

	for range DefaultMaxFailures {
		l.RecordFailure("10.0.0.1")
	}
	if ok, _ := l.Allowed("10.0.0.1"); ok {
		t.Fatal("expected block")
	}

	*now = now.Add(DefaultWindow + time.Second)
	if ok, _ := l.Allowed("10.0.0.1"); !ok {
		t.Error("expected block to lapse after window")
	}
}

func TestLimiter_SuccessClearsHistory(t *testing.T) {
	l, _ := newTestLimiter()

	for range DefaultMaxFailures - 1 {
		l.RecordFailure("10.0.0.1")
	}
	l.RecordSuccess("10.0.0.1")

	// A fresh run of failures is needed to block again.
	for range DefaultMaxFailures - 1 {
		l.RecordFailure("10.0.0.1")
	}
	if ok, _ := l.Allowed("10.0.0.1"); !ok {
		t.Error("expected history cleared by success")
	}
}
