package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultYAML renders the default configuration with freshly generated
// secrets.
func DefaultYAML() ([]byte, error) {
	v := newViper()
	for _, key := range []string{"auth.secret_key", "crypto.encryption_key"} {
		secret, err := randomSecret()
		if err != nil {
			return nil, err
		}
		v.Set(key, secret)
	}
	data, err := yaml.Marshal(v.AllSettings())
	if err != nil {
		return nil, err
	}
	header := "# keygate configuration\n# Every key can be overridden by KEYGATE_<SECTION>_<KEY>, e.g. KEYGATE_SERVER_PORT.\n\n"
	return append([]byte(header), data...), nil
}

// WriteDefault writes DefaultYAML to path. An existing file is kept unless
// force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}
	data, err := DefaultYAML()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// YAML renders c, with secrets redacted, in the same layout as the config
// file.
func (c *Config) YAML() ([]byte, error) {
	r := c.Redacted()
	services := make(map[string]map[string]string, len(r.Services))
	for name, s := range r.Services {
		services[name] = map[string]string{"base_url": s.BaseURL}
	}
	doc := map[string]any{
		"server": map[string]any{
			"host":             r.Server.Host,
			"port":             r.Server.Port,
			"shutdown_timeout": duration(r.Server.ShutdownTimeout),
			"cors_origins":     r.Server.CORSOrigins,
		},
		"auth": map[string]any{
			"secret_key":            r.Auth.SecretKey,
			"token_ttl":             duration(r.Auth.TokenTTL),
			"bcrypt_cost":           r.Auth.BcryptCost,
			"login_rate_per_minute": r.Auth.LoginRatePerMinute,
		},
		"crypto": map[string]any{"encryption_key": r.Crypto.EncryptionKey},
		"ratelimit": map[string]any{
			"default_per_minute": r.RateLimit.DefaultPerMinute,
			"window":             duration(r.RateLimit.Window),
		},
		"database": map[string]any{"url": r.Database.URL},
		"upstream": map[string]any{"timeout": duration(r.Upstream.Timeout)},
		"services": services,
		"logging":  map[string]any{"level": r.Logging.Level, "format": r.Logging.Format},
		"metrics":  map[string]any{"namespace": r.Metrics.Namespace},
	}
	return yaml.Marshal(doc)
}

func duration(d time.Duration) string {
	return d.String()
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}
