package intel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClassifyRisk(t *testing.T) {
	tests := []struct {
		score int
		want  string
	}{
		{100, RiskCritical},
		{80, RiskCritical},
		{79, RiskHigh},
		{50, RiskHigh},
		{49, RiskMedium},
		{25, RiskMedium},
		{24, RiskLow},
		{1, RiskLow},
		{0, RiskClean},
	}
	for _, tt := range tests {
		if got := ClassifyRisk(tt.score); got != tt.want {
			t.Errorf("ClassifyRisk(%d) = %q, want %q", tt.score, got, tt.want)
		}
	}
}

func TestCheck_PrivateAddressesSkipLookup(t *testing.T) {
	// No server: a network call would fail the test.
	c := NewClient("key", nil, WithBaseURL("http://127.0.0.1:1"))

	for _, ip := range []string{"192.168.1.50", "10.0.0.1", "127.0.0.1", "fe80::1"} {
		result, err := c.Check(context.Background(), ip)
		if err != nil {
			t.Fatalf("Check(%s): %v", ip, err)
		}
		if result.IsPublic {
			t.Errorf("Check(%s): expected IsPublic=false", ip)
		}
		if result.RiskLevel != RiskClean {
			t.Errorf("Check(%s): risk = %q", ip, result.RiskLevel)
		}
		if result.UsageType != "Private/Reserved" {
			t.Errorf("Check(%s): usage = %q", ip, result.UsageType)
		}
	}
}

func TestCheck_InvalidIP(t *testing.T) {
	c := NewClient("key", nil)
	if _, err := c.Check(context.Background(), "not-an-ip"); !errors.Is(err, ErrInvalidIP) {
		t.Errorf("expected ErrInvalidIP, got %v", err)
	}
}

func TestCheck_NotConfigured(t *testing.T) {
	c := NewClient("", nil)
	if c.Configured() {
		t.Error("expected Configured() false without key")
	}
	if _, err := c.Check(context.Background(), "1.2.3.4"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}

func TestCheck_ParsesResponse(t *testing.T) {
	var gotKey, gotIP, gotMaxAge string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/check" {
			http.NotFound(w, r)
			return
		}
		gotKey = r.Header.Get("Key")
		gotIP = r.URL.Query().Get("ipAddress")
		gotMaxAge = r.URL.Query().Get("maxAgeInDays")

		fmt.Fprint(w, `{"data":{
			"abuseConfidenceScore": 92,
			"isPublic": true,
			"isTor": true,
			"countryCode": "NL",
			"usageType": "Data Center/Web Hosting/Transit",
			"isp": "ExampleHost BV",
			"domain": "examplehost.nl",
			"totalReports": 143,
			"numDistinctUsers": 61,
			"lastReportedAt": "2025-05-30T08:15:00+00:00",
			"reports": [
				{"reportedAt": "2025-05-30T08:15:00+00:00", "comment": "ssh scan",
				 "categories": [18, 22], "reporterCountryName": "Germany"},
				{"reportedAt": "2025-05-29T23:02:00+00:00", "comment": "",
				 "categories": [99], "reporterCountryName": "France"}
			]
		}}`)
	}))
	defer srv.Close()

	c := NewClient("test-key", nil, WithBaseURL(srv.URL), WithMaxAgeDays(30))
	result, err := c.Check(context.Background(), "203.0.113.7")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}

	if gotKey != "test-key" {
		t.Errorf("Key header = %q", gotKey)
	}
	if gotIP != "203.0.113.7" {
		t.Errorf("ipAddress = %q", gotIP)
	}
	if gotMaxAge != "30" {
		t.Errorf("maxAgeInDays = %q", gotMaxAge)
	}

	if result.ConfidenceScore != 92 || result.RiskLevel != RiskCritical {
		t.Errorf("score=%d risk=%q", result.ConfidenceScore, result.RiskLevel)
	}
	if !result.IsTor || result.CountryCode != "NL" {
		t.Errorf("result = %+v", result)
	}
	if len(result.RecentReports) != 2 {
		t.Fatalf("expected 2 reports, got %d", len(result.RecentReports))
	}
	first := result.RecentReports[0]
	if len(first.Categories) != 2 || first.Categories[0] != "Brute-Force" || first.Categories[1] != "SSH" {
		t.Errorf("categories = %v", first.Categories)
	}
	// Unknown category ids keep their number.
	if got := result.RecentReports[1].Categories[0]; got != "Category 99" {
		t.Errorf("unknown category = %q", got)
	}
}

func TestCheck_ReportLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":{"abuseConfidenceScore": 10, "isPublic": true, "reports": [`)
		for i := range 15 {
			if i > 0 {
				fmt.Fprint(w, ",")
			}
			fmt.Fprintf(w, `{"reportedAt": "2025-05-%02dT00:00:00+00:00", "categories": [14]}`, i+1)
		}
		fmt.Fprint(w, `]}}`)
	}))
	defer srv.Close()

	c := NewClient("key", nil, WithBaseURL(srv.URL))
	result, err := c.Check(context.Background(), "203.0.113.7")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(result.RecentReports) != maxReports {
		t.Errorf("expected %d reports, got %d", maxReports, len(result.RecentReports))
	}
}

func TestCheck_ErrorStatuses(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrInvalidKey},
		{http.StatusTooManyRequests, ErrRateLimited},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		c := NewClient("key", nil, WithBaseURL(srv.URL))
		if _, err := c.Check(context.Background(), "203.0.113.7"); !errors.Is(err, tt.want) {
			t.Errorf("status %d: expected %v, got %v", tt.status, tt.want, err)
		}
		srv.Close()
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	c := NewClient("key", nil, WithBaseURL(srv.URL))
	if _, err := c.Check(context.Background(), "203.0.113.7"); err == nil {
		t.Error("expected error for unexpected status")
	}
}
