package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/faucetdb/keygate/internal/config"
	"github.com/faucetdb/keygate/internal/connector"
	"github.com/faucetdb/keygate/internal/crypto"
	"github.com/faucetdb/keygate/internal/monitor"
	"github.com/faucetdb/keygate/internal/ratelimit"
	"github.com/faucetdb/keygate/internal/service"
	"github.com/faucetdb/keygate/internal/store"
	"github.com/faucetdb/keygate/internal/telemetry"
)

// resolveDataDir returns the data directory from --data-dir,
// KEYGATE_DATA_DIR, or ~/.keygate as fallback.
func resolveDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	if envDir := os.Getenv("KEYGATE_DATA_DIR"); envDir != "" {
		return envDir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".keygate")
}

// loadConfig reads and validates configuration. Non-strict loading fills
// missing secrets silently, for commands that never use them.
func loadConfig(strict, dev bool) (*config.Config, []string, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	warnings, err := cfg.Validate(dev || !strict)
	if err != nil {
		return nil, nil, err
	}
	if !strict {
		warnings = nil
	}
	return cfg, warnings, nil
}

// newLogger builds the process logger from the logging section.
func newLogger(cfg config.LoggingConfig, dev bool, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if dev {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// app is the fully wired set of services shared by serve, mcp and the
// operator commands.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *store.Store
	registry  *connector.Registry
	connector *connector.Connector
	metrics   *telemetry.Metrics
	ledger    *service.Ledger
	limiter   *ratelimit.Limiter
	accounts  *service.AccountService
	creds     *service.CredentialService
	monitor   *monitor.Service
}

func openApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	st, err := store.New(cfg.DatabaseURL(resolveDataDir()))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	registry := connector.NewRegistry(connector.DefaultServices()...)
	if err := cfg.ApplyServices(registry); err != nil {
		st.Close()
		return nil, err
	}
	cipher, err := crypto.NewCipher(cfg.Crypto.EncryptionKey)
	if err != nil {
		st.Close()
		return nil, err
	}

	metrics := telemetry.New(cfg.Metrics.Namespace)
	ledger := service.NewLedger(st)
	limiter := ratelimit.New(st, ratelimit.Options{
		Window:       cfg.RateLimit.Window,
		DefaultLimit: cfg.RateLimit.DefaultPerMinute,
	})
	tokens := service.NewTokenService([]byte(cfg.Auth.SecretKey), cfg.Auth.TokenTTL)

	return &app{
		cfg:       cfg,
		logger:    logger,
		store:     st,
		registry:  registry,
		connector: connector.New(registry, cfg.Upstream.Timeout),
		metrics:   metrics,
		ledger:    ledger,
		limiter:   limiter,
		accounts:  service.NewAccountService(st, tokens, cfg.Auth.BcryptCost),
		creds:     service.NewCredentialService(st, registry, cipher, ledger, cfg.RateLimit.DefaultPerMinute),
		monitor:   monitor.New(st, registry, limiter, metrics, logger),
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// openOperatorApp wires the app for one-shot CLI commands: lenient config,
// warnings-only logging to stderr. Commands that seal credential secrets pass
// sealing and are refused unless a real encryption key is configured.
func openOperatorApp(sealing bool) (*app, error) {
	cfg, _, err := loadConfig(false, false)
	if err != nil {
		return nil, err
	}
	if sealing && cfg.UsesDevEncryptionKey() {
		return nil, errors.New("crypto.encryption_key must be set to the server's key before storing credentials (set KEYGATE_CRYPTO_ENCRYPTION_KEY)")
	}
	logger := newLogger(config.LoggingConfig{Level: "warn", Format: cfg.Logging.Format}, false, os.Stderr)
	return openApp(cfg, logger)
}

// versionString returns a display version string.
func versionString() string {
	if appVersion == "" || appVersion == "dev" {
		return "dev"
	}
	if strings.HasPrefix(appVersion, "v") {
		return appVersion
	}
	return "v" + appVersion
}
