package web

import (
	"errors"
	"net/http"

	"github.com/nugget/unifi-toolkit/internal/intel"
	"github.com/nugget/unifi-toolkit/internal/metrics"
)

func (s *Server) handleIntelCheck(w http.ResponseWriter, r *http.Request) {
	result, err := s.intel.Check(r.Context(), r.PathValue("ip"))
	if err != nil {
		outcome := "error"
		switch {
		case errors.Is(err, intel.ErrInvalidIP):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, intel.ErrNotConfigured):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		case errors.Is(err, intel.ErrInvalidKey):
			writeError(w, http.StatusBadGateway, err.Error())
		case errors.Is(err, intel.ErrRateLimited):
			outcome = "rate_limited"
			writeError(w, http.StatusTooManyRequests, err.Error())
		default:
			writeError(w, http.StatusBadGateway, err.Error())
		}
		metrics.Get().IntelLookups.WithLabelValues(outcome).Inc()
		return
	}

	metrics.Get().IntelLookups.WithLabelValues(result.RiskLevel).Inc()
	writeJSON(w, result, s.logger)
}

func (s *Server) handleIntelStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"configured": s.intel.Configured(),
	}
	if s.intel.Configured() {
		status["provider"] = "AbuseIPDB"
	}
	writeJSON(w, status, s.logger)
}
