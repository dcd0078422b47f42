// Package intel looks up IP reputation through the AbuseIPDB v2 API
// and classifies the returned confidence score into a risk level.
// Private, loopback, and otherwise non-routable addresses short-circuit
// to a clean report without spending a lookup against the daily quota.
package intel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"net/url"
	"strconv"
	"time"

	"github.com/nugget/unifi-toolkit/internal/httpkit"
)

const (
	defaultBaseURL    = "https://api.abuseipdb.com"
	defaultMaxAgeDays = 90
	requestTimeout    = 10 * time.Second
	maxReports        = 10
)

// Lookup failure modes callers may want to distinguish. Quota
// exhaustion in particular should surface to the user rather than be
// retried.
var (
	ErrNotConfigured = errors.New("intel: no api key configured")
	ErrInvalidKey    = errors.New("intel: api key rejected")
	ErrRateLimited   = errors.New("intel: daily lookup quota exhausted")
	ErrInvalidIP     = errors.New("intel: invalid ip address")
)

// Risk levels in descending severity.
const (
	RiskCritical = "critical"
	RiskHigh     = "high"
	RiskMedium   = "medium"
	RiskLow      = "low"
	RiskClean    = "clean"
)

// abuseCategories maps AbuseIPDB numeric report categories to names.
var abuseCategories = map[int]string{
	1:  "DNS Compromise",
	2:  "DNS Poisoning",
	3:  "Fraud Orders",
	4:  "DDoS Attack",
	5:  "FTP Brute-Force",
	6:  "Ping of Death",
	7:  "Phishing",
	8:  "Fraud VoIP",
	9:  "Open Proxy",
	10: "Web Spam",
	11: "Email Spam",
	12: "Blog Spam",
	13: "VPN IP",
	14: "Port Scan",
	15: "Hacking",
	16: "SQL Injection",
	17: "Spoofing",
	18: "Brute-Force",
	19: "Bad Web Bot",
	20: "Exploited Host",
	21: "Web App Attack",
	22: "SSH",
	23: "IoT Targeted",
}

// Report is one abuse report attached to a lookup result.
type Report struct {
	ReportedAt      string   `json:"reported_at"`
	Comment         string   `json:"comment,omitempty"`
	Categories      []string `json:"categories"`
	ReporterCountry string   `json:"reporter_country,omitempty"`
}

// Result is a classified reputation lookup for a single address.
type Result struct {
	IP              string   `json:"ip"`
	ConfidenceScore int      `json:"abuse_confidence_score"`
	IsPublic        bool     `json:"is_public"`
	IsTor           bool     `json:"is_tor"`
	CountryCode     string   `json:"country_code,omitempty"`
	UsageType       string   `json:"usage_type,omitempty"`
	ISP             string   `json:"isp,omitempty"`
	Domain          string   `json:"domain,omitempty"`
	TotalReports    int      `json:"total_reports"`
	DistinctUsers   int      `json:"num_distinct_users"`
	LastReportedAt  string   `json:"last_reported_at,omitempty"`
	RecentReports   []Report `json:"recent_reports"`
	RiskLevel       string   `json:"risk_level"`
}

// Client queries AbuseIPDB. A zero API key disables lookups; Check
// then returns ErrNotConfigured.
type Client struct {
	apiKey     string
	baseURL    string
	maxAgeDays int
	hc         *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the AbuseIPDB endpoint.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithMaxAgeDays bounds how old counted reports may be (1..365).
func WithMaxAgeDays(days int) Option {
	return func(c *Client) {
		if days >= 1 && days <= 365 {
			c.maxAgeDays = days
		}
	}
}

// WithHTTPClient substitutes the transport, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// NewClient creates an AbuseIPDB client.
func NewClient(apiKey string, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		maxAgeDays: defaultMaxAgeDays,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.hc == nil {
		c.hc = httpkit.NewClient(
			httpkit.WithTimeout(requestTimeout),
			httpkit.WithRetry(2, time.Second),
			httpkit.WithLogger(logger),
		)
	}
	return c
}

// Configured reports whether an API key is present.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

// ClassifyRisk buckets an AbuseIPDB confidence score.
func ClassifyRisk(score int) string {
	switch {
	case score >= 80:
		return RiskCritical
	case score >= 50:
		return RiskHigh
	case score >= 25:
		return RiskMedium
	case score > 0:
		return RiskLow
	default:
		return RiskClean
	}
}

type checkEnvelope struct {
	Data struct {
		AbuseConfidenceScore int    `json:"abuseConfidenceScore"`
		IsPublic             bool   `json:"isPublic"`
		IsTor                bool   `json:"isTor"`
		CountryCode          string `json:"countryCode"`
		UsageType            string `json:"usageType"`
		ISP                  string `json:"isp"`
		Domain               string `json:"domain"`
		TotalReports         int    `json:"totalReports"`
		NumDistinctUsers     int    `json:"numDistinctUsers"`
		LastReportedAt       string `json:"lastReportedAt"`
		Reports              []struct {
			ReportedAt          string `json:"reportedAt"`
			Comment             string `json:"comment"`
			Categories          []int  `json:"categories"`
			ReporterCountryName string `json:"reporterCountryName"`
		} `json:"reports"`
	} `json:"data"`
}

// Check looks up one address. Non-routable addresses return a clean
// result without a network call.
func (c *Client) Check(ctx context.Context, ip string) (Result, error) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s", ErrInvalidIP, ip)
	}

	if !addr.IsGlobalUnicast() || addr.IsPrivate() {
		return Result{
			IP:            addr.String(),
			IsPublic:      false,
			UsageType:     "Private/Reserved",
			RecentReports: []Report{},
			RiskLevel:     RiskClean,
		}, nil
	}

	if c.apiKey == "" {
		return Result{}, ErrNotConfigured
	}

	q := url.Values{}
	q.Set("ipAddress", addr.String())
	q.Set("maxAgeInDays", strconv.Itoa(c.maxAgeDays))
	q.Set("verbose", "")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/v2/check?"+q.Encode(), nil)
	if err != nil {
		return Result{}, fmt.Errorf("intel: build request: %w", err)
	}
	req.Header.Set("Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("intel: lookup %s: %w", addr, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return Result{}, ErrInvalidKey
	case http.StatusTooManyRequests:
		return Result{}, ErrRateLimited
	default:
		return Result{}, fmt.Errorf("intel: lookup %s: unexpected status %d", addr, resp.StatusCode)
	}

	var envelope checkEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return Result{}, fmt.Errorf("intel: decode response: %w", err)
	}
	data := envelope.Data

	reports := make([]Report, 0, maxReports)
	for _, r := range data.Reports {
		if len(reports) == maxReports {
			break
		}
		names := make([]string, 0, len(r.Categories))
		for _, id := range r.Categories {
			name, ok := abuseCategories[id]
			if !ok {
				name = fmt.Sprintf("Category %d", id)
			}
			names = append(names, name)
		}
		reports = append(reports, Report{
			ReportedAt:      r.ReportedAt,
			Comment:         r.Comment,
			Categories:      names,
			ReporterCountry: r.ReporterCountryName,
		})
	}

	result := Result{
		IP:              addr.String(),
		ConfidenceScore: data.AbuseConfidenceScore,
		IsPublic:        data.IsPublic,
		IsTor:           data.IsTor,
		CountryCode:     data.CountryCode,
		UsageType:       data.UsageType,
		ISP:             data.ISP,
		Domain:          data.Domain,
		TotalReports:    data.TotalReports,
		DistinctUsers:   data.NumDistinctUsers,
		LastReportedAt:  data.LastReportedAt,
		RecentReports:   reports,
		RiskLevel:       ClassifyRisk(data.AbuseConfidenceScore),
	}

	c.logger.Debug("intel lookup complete",
		"ip", result.IP,
		"score", result.ConfidenceScore,
		"risk", result.RiskLevel,
	)
	return result, nil
}
