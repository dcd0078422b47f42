// Package unifi provides a client for the UniFi Network controller API.
// It speaks both controller generations behind one interface: the legacy
// cookie-session API and the newer UniFi OS API-key protocol served
// behind a reverse proxy. The protocol is selected once at construction
// from the credential kind supplied on the Endpoint.
package unifi

import (
	"errors"
	"math"
	"strings"
)

// Endpoint describes a controller to connect to and exactly one
// credential kind. Immutable after construction; NewClient copies it.
type Endpoint struct {
	// Host is the controller base URL including scheme and port,
	// e.g. "https://192.168.1.1:8443".
	Host string

	// Site is the UniFi site identifier. Empty means "default".
	Site string

	// VerifyTLS enables certificate and hostname verification. Most
	// controllers on a local network use self-signed certificates, so
	// this is typically false.
	VerifyTLS bool

	// Username and Password select the legacy protocol.
	Username string
	Password string

	// APIKey selects the UniFi OS protocol. Mutually exclusive with
	// Username/Password.
	APIKey string
}

// ControllerOS reports whether the endpoint uses the UniFi OS API-key
// protocol rather than the legacy session handshake.
func (e Endpoint) ControllerOS() bool { return e.APIKey != "" }

// SiteOrDefault returns the configured site, or "default" if unset.
func (e Endpoint) SiteOrDefault() string {
	if e.Site == "" {
		return "default"
	}
	return e.Site
}

// Validate checks that the endpoint has a host and exactly one
// credential kind.
func (e Endpoint) Validate() error {
	if strings.TrimSpace(e.Host) == "" {
		return errors.New("unifi: endpoint host is required")
	}
	hasLogin := e.Username != "" && e.Password != ""
	hasKey := e.APIKey != ""
	switch {
	case hasLogin && hasKey:
		return errors.New("unifi: endpoint must use either username/password or an API key, not both")
	case !hasLogin && !hasKey:
		return errors.New("unifi: endpoint needs username/password or an API key")
	}
	return nil
}

// Station is a normalized wireless client record. Keys and MAC fields
// are canonical (lowercase, colon-separated). Station data is ephemeral:
// it is recomputed fresh on every directory fetch and never cached by
// this package.
type Station struct {
	MAC        string   `json:"mac"`
	IP         string   `json:"ip,omitempty"`
	APMAC      string   `json:"ap_mac,omitempty"`
	Hostname   string   `json:"hostname,omitempty"`
	Name       string   `json:"name,omitempty"`
	RSSI       int      `json:"rssi"`
	TxRateMbps *float64 `json:"tx_rate_mbps,omitempty"`
	RxRateMbps *float64 `json:"rx_rate_mbps,omitempty"`
	Channel    int      `json:"channel,omitempty"`
	Radio      string   `json:"radio,omitempty"`
	UptimeSec  int64    `json:"uptime_sec,omitempty"`
	TxBytes    int64    `json:"tx_bytes,omitempty"`
	RxBytes    int64    `json:"rx_bytes,omitempty"`
	LastSeen   int64    `json:"last_seen,omitempty"`
	Blocked    bool     `json:"blocked"`
}

// AccessPoint is a normalized access point record.
type AccessPoint struct {
	MAC   string `json:"mac"`
	Name  string `json:"name,omitempty"`
	Model string `json:"model,omitempty"`
	Type  string `json:"type,omitempty"`
}

// TestResult is the outcome of a connectivity probe. It is always a
// value; TestConnection never propagates an error past its boundary.
type TestResult struct {
	Connected    bool   `json:"connected"`
	StationCount int    `json:"station_count,omitempty"`
	APCount      int    `json:"ap_count,omitempty"`
	Site         string `json:"site,omitempty"`
	Error        string `json:"error,omitempty"`
}

// kbpsToMbps converts a controller rate in kilobits/sec to megabits/sec
// rounded to one decimal place. An absent or zero source value maps to
// nil so that "unknown" is never coerced to 0.
func kbpsToMbps(kbps *float64) *float64 {
	if kbps == nil || *kbps == 0 {
		return nil
	}
	mbps := math.Round(*kbps/100) / 10
	return &mbps
}

// rawStation is the wire shape of a client station record. Rate fields
// arrive in kilobits/sec and are converted during normalization.
type rawStation struct {
	MAC      string   `json:"mac"`
	IP       string   `json:"ip"`
	APMAC    string   `json:"ap_mac"`
	Hostname string   `json:"hostname"`
	Name     string   `json:"name"`
	RSSI     int      `json:"rssi"`
	TxRate   *float64 `json:"tx_rate"`
	RxRate   *float64 `json:"rx_rate"`
	Channel  int      `json:"channel"`
	Radio    string   `json:"radio"`
	Uptime   int64    `json:"uptime"`
	TxBytes  int64    `json:"tx_bytes"`
	RxBytes  int64    `json:"rx_bytes"`
	LastSeen int64    `json:"last_seen"`
	Blocked  bool     `json:"blocked"`
}

func (r rawStation) normalize(mac string) Station {
	return Station{
		MAC:        mac,
		IP:         r.IP,
		APMAC:      NormalizeMAC(r.APMAC),
		Hostname:   r.Hostname,
		Name:       r.Name,
		RSSI:       r.RSSI,
		TxRateMbps: kbpsToMbps(r.TxRate),
		RxRateMbps: kbpsToMbps(r.RxRate),
		Channel:    r.Channel,
		Radio:      r.Radio,
		UptimeSec:  r.Uptime,
		TxBytes:    r.TxBytes,
		RxBytes:    r.RxBytes,
		LastSeen:   r.LastSeen,
		Blocked:    r.Blocked,
	}
}

// rawDevice is the wire shape of a device inventory record.
type rawDevice struct {
	MAC   string `json:"mac"`
	Name  string `json:"name"`
	Model string `json:"model"`
	Type  string `json:"type"`
}

// rawUser is the wire shape of a controller user registry entry.
type rawUser struct {
	ID   string `json:"_id"`
	MAC  string `json:"mac"`
	Name string `json:"name"`
}
