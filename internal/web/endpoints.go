package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/nugget/unifi-toolkit/internal/endpoints"
)

const testTimeout = 20 * time.Second

func (s *Server) handleEndpointList(w http.ResponseWriter, r *http.Request) {
	records, err := s.endpoints.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		records = []endpoints.Record{}
	}
	writeJSON(w, records, s.logger)
}

func (s *Server) handleEndpointSave(w http.ResponseWriter, r *http.Request) {
	var params endpoints.SaveParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if params.Site == "" {
		params.Site = s.cfg.UniFi.Site
	}

	rec, err := s.endpoints.Save(params)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Stored credentials may differ from what the cache saw.
	s.stations.Invalidate(rec.Name)

	s.logger.Info("endpoint saved", "name", rec.Name, "host", rec.Host)
	writeJSON(w, rec, s.logger)
}

func (s *Server) handleEndpointDelete(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.endpoints.Delete(name); err != nil {
		if errors.Is(err, endpoints.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
		} else {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	s.stations.Invalidate(name)
	s.logger.Info("endpoint deleted", "name", name)
	writeJSON(w, map[string]string{"status": "deleted", "name": name}, s.logger)
}

// handleEndpointTest probes connectivity for a stored endpoint. The
// probe itself never errors; failures are reported in the result body.
func (s *Server) handleEndpointTest(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	endpoint, err := s.endpoints.Endpoint(name)
	if err != nil {
		s.writeControllerError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), testTimeout)
	defer cancel()

	client, err := s.connect(ctx, endpoint)
	if err != nil {
		// A failed connection is still a valid probe result.
		result := map[string]any{"connected": false, "error": err.Error()}
		writeJSON(w, result, s.logger)
		return
	}
	defer client.Disconnect()

	writeJSON(w, client.TestConnection(ctx), s.logger)
}
