package unifi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/nugget/unifi-toolkit/internal/httpkit"
)

// protocol abstracts the two controller API generations. Each
// implementation knows its own base path, authentication mechanism, and
// payload quirks for the same logical operations, so the rest of the
// client never branches on protocol. The strategy is chosen once at
// Connect time from the credential kind.
type protocol interface {
	// login establishes or verifies the session. For the legacy
	// protocol this is the username/password handshake; for UniFi OS
	// it is an authenticated probe of a known enumeration endpoint.
	login(ctx context.Context) error

	fetchStations(ctx context.Context) ([]rawStation, error)
	fetchDevices(ctx context.Context) ([]rawDevice, error)
	sendStationCommand(ctx context.Context, cmd, mac string) error
	fetchUsers(ctx context.Context) ([]rawUser, error)
	createUser(ctx context.Context, mac, name string) error
	updateUserName(ctx context.Context, id, name string) error
}

// deviceTypeAP is the device inventory type marker for access points.
const deviceTypeAP = "uap"

// Station management commands accepted by cmd/stamgr.
const (
	cmdBlockStation   = "block-sta"
	cmdUnblockStation = "unblock-sta"
)

// rest is the HTTP/JSON plumbing shared by both protocol
// implementations. Paths are absolute (rooted at the controller host);
// each protocol composes them from its own site-scoped base.
type rest struct {
	hc     *http.Client
	host   string
	base   string      // site-scoped API base, e.g. "/api/s/default"
	header http.Header // extra headers applied to every request
}

// envelope is the standard controller response wrapper.
type envelope struct {
	Data json.RawMessage `json:"data"`
}

// do issues a request and decodes the response envelope's data array
// into out when out is non-nil. Any non-200 status is an *APIError;
// an unparseable body is a *DecodeError.
func (r *rest) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request for %s: %w", path, err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.host+path, reader)
	if err != nil {
		return fmt.Errorf("build request for %s: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range r.header {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}

	resp, err := r.hc.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		return &APIError{Status: resp.StatusCode, Endpoint: path}
	}
	if out == nil {
		return nil
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return &DecodeError{Endpoint: path, Err: err}
	}
	if env.Data == nil {
		return &DecodeError{Endpoint: path, Err: fmt.Errorf("response has no data field")}
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &DecodeError{Endpoint: path, Err: err}
	}
	return nil
}

func (r *rest) getJSON(ctx context.Context, path string, out any) error {
	return r.do(ctx, http.MethodGet, path, nil, out)
}

// stationCommand posts a station management command to cmd/stamgr.
func (r *rest) stationCommand(ctx context.Context, cmd, mac string) error {
	payload := map[string]string{"cmd": cmd, "mac": mac}
	return r.do(ctx, http.MethodPost, r.base+"/cmd/stamgr", payload, nil)
}

func (r *rest) userList(ctx context.Context) ([]rawUser, error) {
	var users []rawUser
	if err := r.getJSON(ctx, r.base+"/rest/user", &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (r *rest) userCreate(ctx context.Context, mac, name string) error {
	payload := map[string]string{"mac": mac, "name": name}
	return r.do(ctx, http.MethodPost, r.base+"/rest/user", payload, nil)
}

func (r *rest) userUpdate(ctx context.Context, id, name string) error {
	payload := map[string]string{"name": name}
	return r.do(ctx, http.MethodPut, r.base+"/rest/user/"+id, payload, nil)
}

func (r *rest) stationList(ctx context.Context) ([]rawStation, error) {
	var stations []rawStation
	if err := r.getJSON(ctx, r.base+"/stat/sta", &stations); err != nil {
		return nil, err
	}
	return stations, nil
}

func (r *rest) deviceList(ctx context.Context) ([]rawDevice, error) {
	var devices []rawDevice
	if err := r.getJSON(ctx, r.base+"/stat/device", &devices); err != nil {
		return nil, err
	}
	return devices, nil
}

// legacyProtocol speaks the older cookie-session controller API under
// /api/s/{site}. Authentication is an explicit login handshake; the
// resulting session cookie lives in the http.Client's jar.
type legacyProtocol struct {
	rest
	username string
	password string
}

func newLegacyProtocol(hc *http.Client, host, site, username, password string) *legacyProtocol {
	return &legacyProtocol{
		rest: rest{
			hc:   hc,
			host: host,
			base: "/api/s/" + site,
		},
		username: username,
		password: password,
	}
}

func (p *legacyProtocol) login(ctx context.Context) error {
	payload := map[string]string{
		"username": p.username,
		"password": p.password,
	}
	return p.do(ctx, http.MethodPost, "/api/login", payload, nil)
}

func (p *legacyProtocol) fetchStations(ctx context.Context) ([]rawStation, error) {
	return p.stationList(ctx)
}

// fetchDevices trusts the legacy device listing to already be AP-scoped,
// as provided by its own API surface. No type filtering is applied.
func (p *legacyProtocol) fetchDevices(ctx context.Context) ([]rawDevice, error) {
	return p.deviceList(ctx)
}

func (p *legacyProtocol) sendStationCommand(ctx context.Context, cmd, mac string) error {
	return p.stationCommand(ctx, cmd, mac)
}

func (p *legacyProtocol) fetchUsers(ctx context.Context) ([]rawUser, error) {
	return p.userList(ctx)
}

func (p *legacyProtocol) createUser(ctx context.Context, mac, name string) error {
	return p.userCreate(ctx, mac, name)
}

func (p *legacyProtocol) updateUserName(ctx context.Context, id, name string) error {
	return p.userUpdate(ctx, id, name)
}

// controllerOSProtocol speaks the UniFi OS API behind the reverse proxy
// under /proxy/network/api/s/{site}. A static API key is sent as the
// X-API-KEY header on every request; there is no session handshake.
type controllerOSProtocol struct {
	rest
}

func newControllerOSProtocol(hc *http.Client, host, site, apiKey string) *controllerOSProtocol {
	header := make(http.Header)
	header.Set("X-API-KEY", apiKey)
	return &controllerOSProtocol{
		rest: rest{
			hc:     hc,
			host:   host,
			base:   "/proxy/network/api/s/" + site,
			header: header,
		},
	}
}

// login verifies the API key with a single authenticated probe of the
// device enumeration endpoint. Any non-success status is treated as an
// authentication failure.
func (p *controllerOSProtocol) login(ctx context.Context) error {
	_, err := p.deviceList(ctx)
	return err
}

func (p *controllerOSProtocol) fetchStations(ctx context.Context) ([]rawStation, error) {
	return p.stationList(ctx)
}

// fetchDevices filters the full device inventory down to access points;
// the UniFi OS listing includes switches, gateways, and other device
// types that the directory must not report as APs.
func (p *controllerOSProtocol) fetchDevices(ctx context.Context) ([]rawDevice, error) {
	devices, err := p.deviceList(ctx)
	if err != nil {
		return nil, err
	}
	aps := devices[:0]
	for _, d := range devices {
		if d.Type == deviceTypeAP {
			aps = append(aps, d)
		}
	}
	return aps, nil
}

func (p *controllerOSProtocol) sendStationCommand(ctx context.Context, cmd, mac string) error {
	return p.stationCommand(ctx, cmd, mac)
}

func (p *controllerOSProtocol) fetchUsers(ctx context.Context) ([]rawUser, error) {
	return p.userList(ctx)
}

func (p *controllerOSProtocol) createUser(ctx context.Context, mac, name string) error {
	return p.userCreate(ctx, mac, name)
}

func (p *controllerOSProtocol) updateUserName(ctx context.Context, id, name string) error {
	return p.userUpdate(ctx, id, name)
}
