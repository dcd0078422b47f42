package web

import (
	"encoding/json"
	"math"
	"net"
	"net/http"

	"github.com/nugget/unifi-toolkit/internal/auth"
	"github.com/nugget/unifi-toolkit/internal/metrics"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"token"`
	Username  string `json:"username"`
	ExpiresIn int    `json:"expires_in_hours"`
}

// clientAddr strips the port from RemoteAddr so the rate limiter keys
// on the host alone.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.AuthEnabled() {
		writeError(w, http.StatusNotFound, "authentication is disabled in local deployments")
		return
	}

	addr := clientAddr(r)
	if ok, retryIn := s.limiter.Allowed(addr); !ok {
		metrics.Get().AuthDenied.WithLabelValues("rate_limited").Inc()
		s.logger.Warn("login rate limited", "addr", addr, "retry_in", retryIn.String())
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"error":               "too many failed attempts",
			"retry_after_seconds": int(math.Ceil(retryIn.Seconds())),
		})
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Username != s.cfg.Auth.Username ||
		!auth.VerifyPassword(s.cfg.Auth.PasswordHash, req.Password) {
		s.limiter.RecordFailure(addr)
		metrics.Get().AuthDenied.WithLabelValues("bad_credentials").Inc()
		s.logger.Warn("login failed", "addr", addr, "username", req.Username)
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	s.limiter.RecordSuccess(addr)
	token := s.sessions.Create(req.Username)
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	s.logger.Info("login succeeded", "username", req.Username, "addr", addr)
	writeJSON(w, loginResponse{
		Token:     token,
		Username:  req.Username,
		ExpiresIn: s.cfg.Auth.SessionTTLHours,
	}, s.logger)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := requestToken(r); token != "" {
		s.sessions.Revoke(token)
	}
	http.SetCookie(w, &http.Cookie{
		Name:   sessionCookie,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
	writeJSON(w, map[string]string{"status": "logged out"}, s.logger)
}

func (s *Server) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"enabled":       s.cfg.AuthEnabled(),
		"authenticated": !s.cfg.AuthEnabled(),
	}
	if username, ok := s.sessions.Verify(requestToken(r)); ok {
		status["authenticated"] = true
		status["username"] = username
	}
	writeJSON(w, status, s.logger)
}
