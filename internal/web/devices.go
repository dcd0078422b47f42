package web

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/nugget/unifi-toolkit/internal/metrics"
	"github.com/nugget/unifi-toolkit/internal/unifi"
)

// withController resolves the named endpoint, opens a controller
// session scoped to this request, and hands it to fn. The session is
// always released before the handler returns.
func (s *Server) withController(w http.ResponseWriter, r *http.Request,
	operation string, fn func(ctx context.Context, c Controller) error) {

	name := r.PathValue("endpoint")
	endpoint, err := s.endpoints.Endpoint(name)
	if err != nil {
		s.writeControllerError(w, err)
		return
	}

	m := metrics.Get()
	m.ControllerRequests.WithLabelValues(operation).Inc()

	client, err := s.connect(r.Context(), endpoint)
	if err != nil {
		m.ControllerErrors.WithLabelValues(operation).Inc()
		s.writeControllerError(w, err)
		return
	}
	defer client.Disconnect()

	if err := fn(r.Context(), client); err != nil {
		m.ControllerErrors.WithLabelValues(operation).Inc()
		s.writeControllerError(w, err)
	}
}

func (s *Server) handleClientList(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("endpoint")

	// The cache fronts enumeration only; a hit avoids a controller
	// session entirely.
	if r.URL.Query().Get("refresh") != "" {
		s.stations.Invalidate(name)
	}
	if stations, ok := s.stations.Get(name); ok {
		writeJSON(w, stations, s.logger)
		return
	}

	s.withController(w, r, "list_stations", func(ctx context.Context, c Controller) error {
		stations, err := c.ListStations(ctx)
		if err != nil {
			return err
		}
		s.stations.Set(name, stations)
		writeJSON(w, stations, s.logger)
		return nil
	})
}

func (s *Server) handleClientGet(w http.ResponseWriter, r *http.Request) {
	mac := r.PathValue("mac")
	s.withController(w, r, "station_by_mac", func(ctx context.Context, c Controller) error {
		station, err := c.StationByMAC(ctx, mac)
		if err != nil {
			return err
		}

		// Decorate with the resolved AP name when the station is wired
		// to one.
		response := struct {
			unifi.Station
			APName string `json:"ap_name,omitempty"`
		}{Station: station}
		if station.APMAC != "" {
			response.APName = c.APNameByMAC(ctx, station.APMAC)
		}
		writeJSON(w, response, s.logger)
		return nil
	})
}

func (s *Server) handleAPList(w http.ResponseWriter, r *http.Request) {
	s.withController(w, r, "list_aps", func(ctx context.Context, c Controller) error {
		aps, err := c.ListAccessPoints(ctx)
		if err != nil {
			return err
		}
		writeJSON(w, aps, s.logger)
		return nil
	})
}

func (s *Server) handleClientBlock(w http.ResponseWriter, r *http.Request) {
	s.setBlocked(w, r, true)
}

func (s *Server) handleClientUnblock(w http.ResponseWriter, r *http.Request) {
	s.setBlocked(w, r, false)
}

func (s *Server) setBlocked(w http.ResponseWriter, r *http.Request, blocked bool) {
	name := r.PathValue("endpoint")
	mac := unifi.NormalizeMAC(r.PathValue("mac"))
	operation := "unblock_station"
	if blocked {
		operation = "block_station"
	}

	s.withController(w, r, operation, func(ctx context.Context, c Controller) error {
		var err error
		if blocked {
			err = c.BlockStation(ctx, mac)
		} else {
			err = c.UnblockStation(ctx, mac)
		}
		if err != nil {
			return err
		}

		s.stations.Invalidate(name)
		s.logger.Info("station block state changed", "mac", mac, "blocked", blocked)
		writeJSON(w, map[string]any{"mac": mac, "blocked": blocked}, s.logger)
		return nil
	})
}

func (s *Server) handleClientRename(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("endpoint")
	mac := unifi.NormalizeMAC(r.PathValue("mac"))

	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	s.withController(w, r, "set_station_name", func(ctx context.Context, c Controller) error {
		if err := c.SetStationName(ctx, mac, req.Name); err != nil {
			return err
		}
		s.stations.Invalidate(name)
		s.logger.Info("station renamed", "mac", mac, "name", req.Name)
		writeJSON(w, map[string]string{"mac": mac, "name": req.Name}, s.logger)
		return nil
	})
}
