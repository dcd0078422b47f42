// Package web implements the toolkit's HTTP API: endpoint management,
// the device directory, control actions, reputation lookups, and the
// tracker watchlist with a live event stream.
package web

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nugget/unifi-toolkit/internal/auth"
	"github.com/nugget/unifi-toolkit/internal/buildinfo"
	"github.com/nugget/unifi-toolkit/internal/cache"
	"github.com/nugget/unifi-toolkit/internal/config"
	"github.com/nugget/unifi-toolkit/internal/endpoints"
	"github.com/nugget/unifi-toolkit/internal/intel"
	"github.com/nugget/unifi-toolkit/internal/metrics"
	"github.com/nugget/unifi-toolkit/internal/stalker"
	"github.com/nugget/unifi-toolkit/internal/unifi"
)

// sessionCookie carries the auth token for browser clients. API
// clients may send it as a bearer token instead.
const sessionCookie = "unifitk_session"

// Controller is the per-request view of a connected UniFi controller.
// Satisfied by *unifi.Client.
type Controller interface {
	ListStations(ctx context.Context) (map[string]unifi.Station, error)
	StationByMAC(ctx context.Context, mac string) (unifi.Station, error)
	ListAccessPoints(ctx context.Context) (map[string]unifi.AccessPoint, error)
	APNameByMAC(ctx context.Context, mac string) string
	BlockStation(ctx context.Context, mac string) error
	UnblockStation(ctx context.Context, mac string) error
	SetStationName(ctx context.Context, mac, name string) error
	TestConnection(ctx context.Context) unifi.TestResult
	Disconnect()
}

// Connector opens a connected controller session for an endpoint. The
// caller owns the session and must Disconnect when done.
type Connector func(ctx context.Context, endpoint unifi.Endpoint) (Controller, error)

// DefaultConnector dials a real controller.
func DefaultConnector(logger *slog.Logger) Connector {
	return func(ctx context.Context, endpoint unifi.Endpoint) (Controller, error) {
		client, err := unifi.NewClient(endpoint, logger)
		if err != nil {
			return nil, err
		}
		if err := client.Connect(ctx); err != nil {
			return nil, err
		}
		return client, nil
	}
}

// Server is the toolkit HTTP server.
type Server struct {
	address   string
	port      int
	cfg       *config.Config
	endpoints *endpoints.Store
	watchlist *stalker.Store
	tracker   *stalker.Tracker
	intel     *intel.Client
	connect   Connector
	sessions  *auth.Sessions
	limiter   *auth.Limiter
	stations  *cache.Cache[map[string]unifi.Station]
	hub       *eventHub
	logger    *slog.Logger
	server    *http.Server
}

// NewServer assembles the HTTP server. Register the server's EventSink
// with the tracker to feed the live event stream.
func NewServer(cfg *config.Config, store *endpoints.Store, watchlist *stalker.Store,
	tracker *stalker.Tracker, intelClient *intel.Client, connect Connector,
	logger *slog.Logger) *Server {

	if logger == nil {
		logger = slog.Default()
	}
	if connect == nil {
		connect = DefaultConnector(logger)
	}
	return &Server{
		address:   cfg.Listen.Address,
		port:      cfg.Listen.Port,
		cfg:       cfg,
		endpoints: store,
		watchlist: watchlist,
		tracker:   tracker,
		intel:     intelClient,
		connect:   connect,
		sessions:  auth.NewSessions(time.Duration(cfg.Auth.SessionTTLHours) * time.Hour),
		limiter:   auth.NewLimiter(0, 0),
		stations:  cache.New[map[string]unifi.Station](time.Duration(cfg.Cache.TTLSeconds) * time.Second),
		hub:       newEventHub(logger),
		logger:    logger,
	}
}

// EventSink returns the sink that feeds the live WebSocket stream.
func (s *Server) EventSink() stalker.Sink {
	return s.hub
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health and build metadata, never authenticated.
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /version", s.handleVersion)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Auth endpoints.
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("POST /api/auth/logout", s.handleLogout)
	mux.HandleFunc("GET /api/auth/status", s.handleAuthStatus)

	// Controller endpoint management.
	mux.HandleFunc("GET /api/endpoints", s.requireAuth(s.handleEndpointList))
	mux.HandleFunc("POST /api/endpoints", s.requireAuth(s.handleEndpointSave))
	mux.HandleFunc("DELETE /api/endpoints/{name}", s.requireAuth(s.handleEndpointDelete))
	mux.HandleFunc("POST /api/endpoints/{name}/test", s.requireAuth(s.handleEndpointTest))

	// Device directory and control actions.
	mux.HandleFunc("GET /api/devices/{endpoint}/clients", s.requireAuth(s.handleClientList))
	mux.HandleFunc("GET /api/devices/{endpoint}/clients/{mac}", s.requireAuth(s.handleClientGet))
	mux.HandleFunc("GET /api/devices/{endpoint}/aps", s.requireAuth(s.handleAPList))
	mux.HandleFunc("POST /api/devices/{endpoint}/clients/{mac}/block", s.requireAuth(s.handleClientBlock))
	mux.HandleFunc("POST /api/devices/{endpoint}/clients/{mac}/unblock", s.requireAuth(s.handleClientUnblock))
	mux.HandleFunc("POST /api/devices/{endpoint}/clients/{mac}/name", s.requireAuth(s.handleClientRename))

	// Threat intelligence.
	mux.HandleFunc("GET /api/intel/check/{ip}", s.requireAuth(s.handleIntelCheck))
	mux.HandleFunc("GET /api/intel/status", s.requireAuth(s.handleIntelStatus))

	// Tracker watchlist and live events.
	mux.HandleFunc("GET /api/stalker/watchlist", s.requireAuth(s.handleWatchlist))
	mux.HandleFunc("POST /api/stalker/watchlist", s.requireAuth(s.handleWatch))
	mux.HandleFunc("DELETE /api/stalker/watchlist/{mac}", s.requireAuth(s.handleUnwatch))
	mux.HandleFunc("GET /api/stalker/status", s.requireAuth(s.handleStalkerStatus))
	mux.HandleFunc("GET /api/stalker/events", s.requireAuth(s.handleEventStream))

	return s.withLogging(mux)
}

// Start begins serving HTTP requests. It blocks until the listener
// fails or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        net.JoinHostPort(s.address, strconv.Itoa(s.port)),
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server",
		"address", addr,
		"port", s.port,
		"auth", s.cfg.AuthEnabled(),
	)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server and closes the event stream.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.close()
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		metrics.Get().APIRequests.WithLabelValues(
			r.Method, fmt.Sprintf("%dxx", rec.status/100)).Inc()
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

// statusRecorder captures the response status for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack passes through to the underlying writer so the WebSocket
// upgrade works behind the logging middleware.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := r.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, fmt.Errorf("response writer does not support hijacking")
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// requireAuth gates a handler behind session verification when the
// deployment mode demands it.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.cfg.AuthEnabled() {
			next(w, r)
			return
		}
		if _, ok := s.sessions.Verify(requestToken(r)); !ok {
			metrics.Get().AuthDenied.WithLabelValues("no_session").Inc()
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next(w, r)
	}
}

// requestToken extracts the session token from the Authorization
// header or the session cookie.
func requestToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	if c, err := r.Cookie(sessionCookie); err == nil {
		return c.Value
	}
	return ""
}

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// writeControllerError maps controller failures onto HTTP statuses.
func (s *Server) writeControllerError(w http.ResponseWriter, err error) {
	var connErr *unifi.ConnectError
	var apiErr *unifi.APIError
	switch {
	case errors.Is(err, endpoints.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, unifi.ErrStationNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &connErr), errors.As(err, &apiErr):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, buildinfo.Info(), s.logger)
}
