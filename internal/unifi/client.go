package unifi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/nugget/unifi-toolkit/internal/httpkit"
)

// connState tracks the connection lifecycle. A failed connect attempt
// lands back in disconnected. There is no reconnecting state; callers
// disconnect and connect again explicitly.
type connState int

const (
	stateDisconnected connState = iota
	stateConnecting
	stateConnected
)

// requestTimeout bounds each individual controller request. There is no
// internal retry; transient failures surface to the caller as typed
// errors for the caller's own retry policy.
const requestTimeout = 15 * time.Second

// Client talks to one UniFi controller through whichever protocol
// matches the endpoint's credential kind. A Client owns exactly one
// session; Connect and Disconnect are not safe for overlapping calls
// from multiple goroutines, so callers must serialize lifecycle
// transitions per instance. Directory reads against a Connected client
// may run concurrently since they do not mutate session state.
type Client struct {
	endpoint Endpoint
	logger   *slog.Logger

	state connState
	hc    *http.Client
	proto protocol
}

// NewClient creates a controller client for the endpoint. No network
// activity happens until Connect. The logger is the injected
// observability sink; nil falls back to slog.Default().
func NewClient(endpoint Endpoint, logger *slog.Logger) (*Client, error) {
	if err := endpoint.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	endpoint.Host = strings.TrimRight(endpoint.Host, "/")
	endpoint.Site = endpoint.SiteOrDefault()
	return &Client{
		endpoint: endpoint,
		logger:   logger,
	}, nil
}

// Connect opens a session with the controller, selecting the protocol
// from the credential kind: an API key means UniFi OS (verified by an
// authenticated probe), username/password means the legacy handshake.
// On any failure the partially-opened session is torn down before the
// error is returned; a failed Connect never leaves a half-open session
// reachable. Connecting an already-connected client is a no-op.
//
// Callers own the session after a successful Connect and must release
// it with Disconnect on every exit path:
//
//	if err := c.Connect(ctx); err != nil { ... }
//	defer c.Disconnect()
func (c *Client) Connect(ctx context.Context) error {
	if c.state == stateConnected {
		return nil
	}
	c.state = stateConnecting

	opts := []httpkit.ClientOption{
		httpkit.WithTimeout(requestTimeout),
		httpkit.WithLogger(c.logger),
	}
	// When verification is disabled, certificate validation and hostname
	// checking are both skipped. Controllers on a trusted local network
	// typically present self-issued certificates.
	if !c.endpoint.VerifyTLS {
		opts = append(opts, httpkit.WithTLSInsecureSkipVerify())
	}

	var proto protocol
	hc := httpkit.NewClient(opts...)
	if c.endpoint.ControllerOS() {
		proto = newControllerOSProtocol(hc, c.endpoint.Host, c.endpoint.Site, c.endpoint.APIKey)
	} else {
		jar, err := cookiejar.New(nil)
		if err != nil {
			c.state = stateDisconnected
			return &ConnectError{Host: c.endpoint.Host, Err: fmt.Errorf("cookie jar: %w", err)}
		}
		hc.Jar = jar
		proto = newLegacyProtocol(hc, c.endpoint.Host, c.endpoint.Site, c.endpoint.Username, c.endpoint.Password)
	}

	if err := proto.login(ctx); err != nil {
		hc.CloseIdleConnections()
		c.state = stateDisconnected
		c.logger.Error("controller connect failed",
			"host", c.endpoint.Host,
			"site", c.endpoint.Site,
			"error", err,
		)
		return &ConnectError{Host: c.endpoint.Host, Err: err}
	}

	c.hc = hc
	c.proto = proto
	c.state = stateConnected
	c.logger.Info("connected to controller",
		"host", c.endpoint.Host,
		"site", c.endpoint.Site,
		"controller_os", c.endpoint.ControllerOS(),
	)
	return nil
}

// Disconnect releases the session. It is idempotent: disconnecting an
// already-closed or never-opened client is a no-op, not an error.
func (c *Client) Disconnect() {
	if c.state == stateDisconnected {
		return
	}
	if c.hc != nil {
		c.hc.CloseIdleConnections()
	}
	c.hc = nil
	c.proto = nil
	c.state = stateDisconnected
	c.logger.Info("disconnected from controller", "host", c.endpoint.Host)
}

// Connected reports whether the client currently holds a session.
func (c *Client) Connected() bool { return c.state == stateConnected }

// Site returns the site identifier this client is bound to.
func (c *Client) Site() string { return c.endpoint.Site }

// ListStations fetches all known client stations and normalizes them
// into records keyed by canonical MAC. Within one result MAC keys are
// unique; raw records lacking a usable MAC are dropped. Results are
// always fetched fresh, this package holds no cache.
func (c *Client) ListStations(ctx context.Context) (map[string]Station, error) {
	if c.state != stateConnected {
		return nil, ErrNotConnected
	}
	raw, err := c.proto.fetchStations(ctx)
	if err != nil {
		c.logger.Error("station enumeration failed", "host", c.endpoint.Host, "error", err)
		return nil, err
	}

	stations := make(map[string]Station, len(raw))
	for _, r := range raw {
		mac := NormalizeMAC(r.MAC)
		if mac == "" {
			continue
		}
		stations[mac] = r.normalize(mac)
	}
	return stations, nil
}

// StationByMAC normalizes mac and returns the matching station from a
// fresh enumeration. A MAC absent from the enumeration yields
// ErrStationNotFound, never partial or default data.
func (c *Client) StationByMAC(ctx context.Context, mac string) (Station, error) {
	normalized := NormalizeMAC(mac)
	stations, err := c.ListStations(ctx)
	if err != nil {
		return Station{}, err
	}
	station, ok := stations[normalized]
	if !ok {
		return Station{}, fmt.Errorf("%w: %s", ErrStationNotFound, normalized)
	}
	return station, nil
}

// ListAccessPoints fetches the device inventory keyed by canonical MAC.
// Under the UniFi OS protocol only devices whose type marks them as
// access points are returned; the legacy listing is already AP-scoped.
func (c *Client) ListAccessPoints(ctx context.Context) (map[string]AccessPoint, error) {
	if c.state != stateConnected {
		return nil, ErrNotConnected
	}
	raw, err := c.proto.fetchDevices(ctx)
	if err != nil {
		c.logger.Error("device enumeration failed", "host", c.endpoint.Host, "error", err)
		return nil, err
	}

	aps := make(map[string]AccessPoint, len(raw))
	for _, d := range raw {
		mac := NormalizeMAC(d.MAC)
		if mac == "" {
			continue
		}
		aps[mac] = AccessPoint{
			MAC:   mac,
			Name:  d.Name,
			Model: d.Model,
			Type:  d.Type,
		}
	}
	return aps, nil
}

// APNameByMAC resolves a friendly label for an access point with the
// fallback chain name, then model, then normalized MAC. This operation is
// advisory/display-only: an enumeration failure is logged and the
// normalized input MAC is returned as the label rather than an error.
func (c *Client) APNameByMAC(ctx context.Context, mac string) string {
	normalized := NormalizeMAC(mac)
	aps, err := c.ListAccessPoints(ctx)
	if err != nil {
		c.logger.Warn("ap name lookup failed", "mac", normalized, "error", err)
		return normalized
	}
	ap, ok := aps[normalized]
	if !ok {
		return normalized
	}
	switch {
	case ap.Name != "":
		return ap.Name
	case ap.Model != "":
		return ap.Model
	default:
		return normalized
	}
}

// BlockStation blocks a client station. Success is strictly a
// successful status from the controller; no optimistic local state is
// kept. Re-query the directory to observe the new blocked flag.
func (c *Client) BlockStation(ctx context.Context, mac string) error {
	return c.stationCommand(ctx, cmdBlockStation, mac)
}

// UnblockStation unblocks a previously blocked client station.
func (c *Client) UnblockStation(ctx context.Context, mac string) error {
	return c.stationCommand(ctx, cmdUnblockStation, mac)
}

func (c *Client) stationCommand(ctx context.Context, cmd, mac string) error {
	if c.state != stateConnected {
		return ErrNotConnected
	}
	normalized := NormalizeMAC(mac)
	if err := c.proto.sendStationCommand(ctx, cmd, normalized); err != nil {
		c.logger.Error("station command failed", "cmd", cmd, "mac", normalized, "error", err)
		return err
	}
	c.logger.Info("station command sent", "cmd", cmd, "mac", normalized)
	return nil
}

// SetStationName sets the display name for a station in the
// controller's user registry: fetch the registry, update the existing
// entry for the MAC by its registry identifier, or create a new entry
// when none exists. The read-modify-write is not atomic against
// concurrent writers for the same MAC; callers needing strict
// uniqueness must serialize writes per MAC.
func (c *Client) SetStationName(ctx context.Context, mac, name string) error {
	if c.state != stateConnected {
		return ErrNotConnected
	}
	normalized := NormalizeMAC(mac)

	users, err := c.proto.fetchUsers(ctx)
	if err != nil {
		c.logger.Error("user registry fetch failed", "mac", normalized, "error", err)
		return err
	}

	for _, u := range users {
		if NormalizeMAC(u.MAC) != normalized {
			continue
		}
		if err := c.proto.updateUserName(ctx, u.ID, name); err != nil {
			c.logger.Error("user rename failed", "mac", normalized, "user_id", u.ID, "error", err)
			return err
		}
		c.logger.Info("station renamed", "mac", normalized, "name", name)
		return nil
	}

	if err := c.proto.createUser(ctx, normalized, name); err != nil {
		c.logger.Error("user create failed", "mac", normalized, "error", err)
		return err
	}
	c.logger.Info("station registry entry created", "mac", normalized, "name", name)
	return nil
}

// TestConnection is a composite health probe: connect, sample station
// and access point counts, and disconnect on every exit path. Failures
// are folded into the result value; the probe never returns an error.
func (c *Client) TestConnection(ctx context.Context) TestResult {
	result := TestResult{Site: c.endpoint.Site}

	if err := c.Connect(ctx); err != nil {
		result.Error = err.Error()
		return result
	}
	defer c.Disconnect()

	stations, err := c.ListStations(ctx)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	aps, err := c.ListAccessPoints(ctx)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	result.Connected = true
	result.StationCount = len(stations)
	result.APCount = len(aps)
	return result
}

// IsNotFound reports whether err indicates a station missing from the
// latest enumeration.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrStationNotFound)
}
