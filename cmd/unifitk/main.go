// Unifitk is a management toolkit for UniFi network controllers.
//
// It exposes an HTTP API for browsing connected clients, blocking and
// renaming stations, tracking watched devices, and looking up IP
// reputation. Controller credentials are stored encrypted in SQLite.
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	unifitk serve              Start the API server and tracker
//	unifitk probe <endpoint>   Test connectivity to a stored endpoint
//	unifitk genkey             Generate an encryption key for the config
//	unifitk hashpw <password>  Hash a password for auth.password_hash
//	unifitk version            Print version and build information
//	unifitk -o json version    Output version information as JSON
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/nugget/unifi-toolkit/internal/auth"
	"github.com/nugget/unifi-toolkit/internal/buildinfo"
	"github.com/nugget/unifi-toolkit/internal/config"
	"github.com/nugget/unifi-toolkit/internal/endpoints"
	"github.com/nugget/unifi-toolkit/internal/intel"
	"github.com/nugget/unifi-toolkit/internal/notify"
	"github.com/nugget/unifi-toolkit/internal/secrets"
	"github.com/nugget/unifi-toolkit/internal/stalker"
	"github.com/nugget/unifi-toolkit/internal/unifi"
	"github.com/nugget/unifi-toolkit/internal/web"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the unifitk command. All OS-level
// dependencies are injected as parameters so the lifecycle can be
// driven from tests. Arguments are parsed by hand: the flag package
// relies on package-level globals (flag.CommandLine), which makes it
// impossible to call run() concurrently from tests, and the argument
// surface here is small.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "probe":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: unifitk probe <endpoint>")
		}
		return runProbe(ctx, stdout, configPath, cmdArgs[0], outputFmt)
	case "genkey":
		return runGenkey(stdout)
	case "hashpw":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: unifitk hashpw <password>")
		}
		return runHashpw(stdout, cmdArgs[0])
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "unifitk - UniFi controller toolkit")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: unifitk [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve             Start the API server and tracker")
	fmt.Fprintln(w, "  probe <endpoint>  Test connectivity to a stored endpoint")
	fmt.Fprintln(w, "  genkey            Generate an encryption key for the config")
	fmt.Fprintln(w, "  hashpw <password> Hash a password for auth.password_hash")
	fmt.Fprintln(w, "  version           Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./unifitk.yaml, ~/.config/unifitk/unifitk.yaml, /etc/unifitk/unifitk.yaml")
	return nil
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// runGenkey prints a fresh credential-encryption key for the
// encryption_key config field.
func runGenkey(w io.Writer) error {
	key, err := secrets.GenerateKey()
	if err != nil {
		return err
	}
	fmt.Fprintln(w, key)
	return nil
}

// runHashpw prints a bcrypt hash for the auth.password_hash config field.
func runHashpw(w io.Writer, password string) error {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, hash)
	return nil
}

// runProbe tests connectivity against one stored endpoint and prints
// the result. The probe itself never fails; a failed connection is
// reported in the output.
func runProbe(ctx context.Context, stdout io.Writer, configPath, name, outputFmt string) error {
	logger := newLogger(io.Discard, slog.LevelInfo, "text")

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	db, cipher, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	store, err := endpoints.NewStore(db, cipher)
	if err != nil {
		return err
	}
	endpoint, err := store.Endpoint(name)
	if err != nil {
		return err
	}

	client, err := unifi.NewClient(endpoint, logger)
	if err != nil {
		return err
	}

	probeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	result := client.TestConnection(probeCtx)

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	if result.Connected {
		fmt.Fprintf(stdout, "connected to %s (site %s): %d stations, %d access points\n",
			endpoint.Host, result.Site, result.StationCount, result.APCount)
	} else {
		fmt.Fprintf(stdout, "connection to %s failed: %s\n", endpoint.Host, result.Error)
	}
	return nil
}

func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting unifitk",
		"version", buildinfo.Version,
		"commit", buildinfo.GitCommit,
		"built", buildinfo.BuildTime,
	)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure the logger now that the desired level and format are
	// known. The initial Info-level text logger covers only the startup
	// banner.
	{
		level := slog.LevelInfo
		if cfg.LogLevel != "" {
			// Already validated by config.Validate().
			level, _ = config.ParseLogLevel(cfg.LogLevel)
		}
		logger = newLogger(stdout, level, cfg.LogFormat)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"deployment", cfg.Deployment,
	)

	// --- Storage ---
	// Endpoint credentials and the tracker watchlist share one SQLite
	// database under the data directory.
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}
	db, cipher, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	endpointStore, err := endpoints.NewStore(db, cipher)
	if err != nil {
		return err
	}
	watchlist, err := stalker.NewStore(db)
	if err != nil {
		return err
	}
	logger.Info("database opened", "path", dbPath(cfg))

	// --- Tracker ---
	// The tracker polls the first stored endpoint's directory. Watched
	// stations resolve against whichever controller that endpoint names.
	trackerDir := &endpointDirectory{store: endpointStore, logger: logger}
	tracker := stalker.NewTracker(watchlist, trackerDir,
		time.Duration(cfg.Stalker.RefreshIntervalSec)*time.Second, logger)

	if cfg.Stalker.WebhookURL != "" {
		tracker.AddSink(notify.NewWebhook(cfg.Stalker.WebhookURL, logger))
		logger.Info("webhook notifications enabled", "url", cfg.Stalker.WebhookURL)
	}

	// --- MQTT ---
	var mqttPub *notify.MQTTPublisher
	if cfg.MQTT.Enabled {
		mqttPub = notify.NewMQTTPublisher(cfg.MQTT, logger)
		if err := mqttPub.Start(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
		tracker.AddSink(mqttPub)
		logger.Info("mqtt publishing enabled",
			"broker", cfg.MQTT.Broker,
			"topic_prefix", cfg.MQTT.TopicPrefix,
		)
	} else {
		logger.Info("mqtt publishing disabled (not configured)")
	}

	// --- Threat intelligence ---
	intelClient := intel.NewClient(cfg.Intel.AbuseIPDBAPIKey, logger,
		intel.WithMaxAgeDays(cfg.Intel.MaxAgeDays))
	if !intelClient.Configured() {
		logger.Info("threat intelligence disabled (no abuseipdb_api_key)")
	}

	// --- HTTP server ---
	server := web.NewServer(cfg, endpointStore, watchlist, tracker, intelClient, nil, logger)
	tracker.AddSink(server.EventSink())

	// --- Signal handling and graceful shutdown ---
	// NotifyContext wraps the parent context so that SIGINT/SIGTERM
	// cancellation flows through the same ctx used by all components.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go tracker.Run(ctx)

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")

		// Publish MQTT offline status before disconnecting.
		if mqttPub != nil {
			offlineCtx, offlineCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer offlineCancel()
			if err := mqttPub.Stop(offlineCtx); err != nil {
				logger.Error("mqtt shutdown failed", "error", err)
			}
		}

		_ = server.Shutdown(context.Background())
	}()

	// Start the API server. This blocks until the server is shut down
	// via context cancellation or fatal error.
	if err := server.Start(ctx); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("unifitk stopped")
	return nil
}

// endpointDirectory adapts the endpoint store into a stalker.Directory
// by opening a scoped session against the first stored endpoint each
// poll cycle.
type endpointDirectory struct {
	store  *endpoints.Store
	logger *slog.Logger
}

func (d *endpointDirectory) ListStations(ctx context.Context) (map[string]unifi.Station, error) {
	records, err := d.store.List()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("no controller endpoints configured")
	}

	endpoint, err := d.store.Endpoint(records[0].Name)
	if err != nil {
		return nil, err
	}
	client, err := unifi.NewClient(endpoint, d.logger)
	if err != nil {
		return nil, err
	}
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	defer client.Disconnect()

	return client.ListStations(ctx)
}

// newLogger creates a structured logger that writes to w at the given
// level and format. Format must be "text" or "json"; any other value
// defaults to text.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig locates and parses the YAML configuration file. If
// explicit is non-empty, that exact path is used (and must exist).
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}

func dbPath(cfg *config.Config) string {
	return filepath.Join(cfg.DataDir, "unifitk.db")
}

// openStorage opens the SQLite database and the credential cipher.
func openStorage(cfg *config.Config) (*sql.DB, *secrets.Cipher, error) {
	cipher, err := secrets.NewCipher(cfg.EncryptionKey)
	if err != nil {
		return nil, nil, err
	}

	db, err := sql.Open("sqlite3", dbPath(cfg))
	if err != nil {
		return nil, nil, fmt.Errorf("open database %s: %w", dbPath(cfg), err)
	}
	return db, cipher, nil
}
