package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "unifitk.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "encryption_key: abc123\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Listen.Port != 8420 {
		t.Errorf("expected default port 8420, got %d", cfg.Listen.Port)
	}
	if cfg.Deployment != DeploymentLocal {
		t.Errorf("expected default deployment local, got %q", cfg.Deployment)
	}
	if cfg.Auth.Username != "admin" {
		t.Errorf("expected default auth username admin, got %q", cfg.Auth.Username)
	}
	if cfg.Auth.SessionTTLHours != 168 {
		t.Errorf("expected default session TTL 168h, got %d", cfg.Auth.SessionTTLHours)
	}
	if cfg.UniFi.Site != "default" {
		t.Errorf("expected default site, got %q", cfg.UniFi.Site)
	}
	if cfg.UniFi.VerifyTLS {
		t.Error("expected TLS verification off by default")
	}
	if cfg.Stalker.RefreshIntervalSec != 30 {
		t.Errorf("expected default refresh interval 30, got %d", cfg.Stalker.RefreshIntervalSec)
	}
	if cfg.Intel.MaxAgeDays != 90 {
		t.Errorf("expected default max age 90, got %d", cfg.Intel.MaxAgeDays)
	}
	if cfg.Cache.TTLSeconds != 30 {
		t.Errorf("expected default cache TTL 30, got %d", cfg.Cache.TTLSeconds)
	}
	if cfg.AuthEnabled() {
		t.Error("auth must be disabled in local mode")
	}
}

func TestLoad_EncryptionKeyRequired(t *testing.T) {
	path := writeConfig(t, "listen:\n  port: 9000\n")

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing encryption_key")
	}
}

func TestLoad_ProductionRequiresPasswordHash(t *testing.T) {
	path := writeConfig(t, "encryption_key: abc\ndeployment: production\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for production without password_hash")
	}

	path = writeConfig(t, "encryption_key: abc\ndeployment: production\nauth:\n  password_hash: $2a$10$x\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Error("auth must be enabled in production mode")
	}
}

func TestLoad_RejectsUnknownDeployment(t *testing.T) {
	path := writeConfig(t, "encryption_key: abc\ndeployment: staging\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown deployment mode")
	}
}

func TestLoad_RejectsBadLogLevel(t *testing.T) {
	path := writeConfig(t, "encryption_key: abc\nlog_level: loud\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown log level")
	}
}

func TestLoad_MQTTRequiresBroker(t *testing.T) {
	path := writeConfig(t, "encryption_key: abc\nmqtt:\n  enabled: true\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for mqtt enabled without broker")
	}
}

func TestLoad_Overrides(t *testing.T) {
	path := writeConfig(t, `
encryption_key: abc
listen:
  address: 127.0.0.1
  port: 9999
unifi:
  site: office
  verify_tls: true
stalker:
  refresh_interval_sec: 5
  webhook_url: https://hooks.example.com/wifi
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen.Address != "127.0.0.1" || cfg.Listen.Port != 9999 {
		t.Errorf("unexpected listen config: %+v", cfg.Listen)
	}
	if cfg.UniFi.Site != "office" || !cfg.UniFi.VerifyTLS {
		t.Errorf("unexpected unifi config: %+v", cfg.UniFi)
	}
	if cfg.Stalker.RefreshIntervalSec != 5 {
		t.Errorf("unexpected stalker interval: %d", cfg.Stalker.RefreshIntervalSec)
	}
	if cfg.Stalker.WebhookURL != "https://hooks.example.com/wifi" {
		t.Errorf("unexpected webhook url: %q", cfg.Stalker.WebhookURL)
	}
}

func TestFindConfig_ExplicitMustExist(t *testing.T) {
	if _, err := FindConfig("/nonexistent/unifitk.yaml"); err == nil {
		t.Fatal("expected error for missing explicit config")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"info", slog.LevelInfo, false},
		{"INFO", slog.LevelInfo, false},
		{"trace", LevelTrace, false},
		{"debug", slog.LevelDebug, false},
		{"warn", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{" debug ", slog.LevelDebug, false},
		{"verbose", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseLogLevel(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseLogLevel(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
