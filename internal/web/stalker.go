package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nugget/unifi-toolkit/internal/stalker"
	"github.com/nugget/unifi-toolkit/internal/unifi"
)

func (s *Server) handleWatchlist(w http.ResponseWriter, r *http.Request) {
	watched, err := s.watchlist.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if watched == nil {
		watched = []stalker.Watched{}
	}
	writeJSON(w, watched, s.logger)
}

func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MAC   string `json:"mac"`
		Label string `json:"label"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.watchlist.Add(req.MAC, req.Label); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	mac := unifi.NormalizeMAC(req.MAC)
	s.logger.Info("station watched", "mac", mac, "label", req.Label)
	writeJSON(w, map[string]string{"mac": mac, "label": req.Label}, s.logger)
}

func (s *Server) handleUnwatch(w http.ResponseWriter, r *http.Request) {
	mac := r.PathValue("mac")
	if err := s.watchlist.Remove(mac); err != nil {
		if errors.Is(err, stalker.ErrNotWatched) {
			writeError(w, http.StatusNotFound, err.Error())
		} else {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	s.logger.Info("station unwatched", "mac", unifi.NormalizeMAC(mac))
	writeJSON(w, map[string]string{"status": "removed"}, s.logger)
}

func (s *Server) handleStalkerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.tracker.Snapshot(), s.logger)
}
