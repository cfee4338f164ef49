package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/faucetdb/keygate/internal/config"
	"github.com/faucetdb/keygate/internal/crypto"
	"github.com/faucetdb/keygate/internal/store"
)

func TestVersionJSON(t *testing.T) {
	cmd := newRootCmd("1.2.3", "abc123", "2025-01-01")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version", "--json"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	var info buildInfo
	if err := json.Unmarshal(out.Bytes(), &info); err != nil {
		t.Fatalf("decode %q: %v", out.String(), err)
	}
	if info.Version != "1.2.3" || info.Commit != "abc123" {
		t.Errorf("info = %+v", info)
	}
}

func TestVersionString(t *testing.T) {
	tests := []struct{ in, want string }{
		{"", "dev"},
		{"dev", "dev"},
		{"1.0.0", "v1.0.0"},
		{"v2.0.0", "v2.0.0"},
	}
	for _, tt := range tests {
		appVersion = tt.in
		if got := versionString(); got != tt.want {
			t.Errorf("versionString(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	appVersion = ""
}

func TestResolveDataDir(t *testing.T) {
	t.Cleanup(func() { dataDir = "" })

	dataDir = "/tmp/explicit"
	if got := resolveDataDir(); got != "/tmp/explicit" {
		t.Errorf("flag: got %q", got)
	}

	dataDir = ""
	t.Setenv("KEYGATE_DATA_DIR", "/tmp/from-env")
	if got := resolveDataDir(); got != "/tmp/from-env" {
		t.Errorf("env: got %q", got)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(config.LoggingConfig{Level: "warn", Format: "json"}, false, &buf)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected one JSON line, got %q: %v", buf.String(), err)
	}
	if line["msg"] != "shown" || line["k"] != "v" {
		t.Errorf("line = %v", line)
	}
}

func TestOperatorCommandsAgainstStore(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	t.Setenv("KEYGATE_CRYPTO_ENCRYPTION_KEY", "operator-test-key")
	t.Cleanup(func() { dataDir = "" })

	run := func(args ...string) {
		t.Helper()
		cmd := newRootCmd("test", "", "")
		cmd.SetArgs(append([]string{"--data-dir", dir}, args...))
		if err := cmd.Execute(); err != nil {
			t.Fatalf("keygate %v: %v", args, err)
		}
	}

	run("account", "create", "--email", "ops@example.com", "--password", "correct-horse", "--superuser")
	run("key", "create", "--email", "ops@example.com", "--service", "tmdb", "--field", "api_key=secret")
	run("key", "list", "--email", "ops@example.com", "--json")
	run("key", "usage", "1")
	run("key", "revoke", "1")

	if _, err := os.Stat(filepath.Join(dir, "keygate.db")); err != nil {
		t.Errorf("store not created in data dir: %v", err)
	}
}

func TestKeyCreateRequiresEncryptionKey(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	t.Setenv("KEYGATE_CRYPTO_ENCRYPTION_KEY", "")
	t.Cleanup(func() { dataDir = "" })

	runCLI := func(args ...string) error {
		cmd := newRootCmd("test", "", "")
		cmd.SetArgs(append([]string{"--data-dir", dir}, args...))
		cmd.SilenceUsage = true
		cmd.SilenceErrors = true
		return cmd.Execute()
	}

	// Read-only and account commands stay usable without secrets.
	if err := runCLI("account", "create", "--email", "ops@example.com", "--password", "correct-horse"); err != nil {
		t.Fatalf("account create: %v", err)
	}
	if err := runCLI("account", "list"); err != nil {
		t.Fatalf("account list: %v", err)
	}

	err := runCLI("key", "create", "--email", "ops@example.com", "--service", "tmdb", "--field", "api_key=secret")
	if err == nil || !strings.Contains(err.Error(), "crypto.encryption_key") {
		t.Fatalf("key create without encryption key: err = %v", err)
	}

	// With the real key configured the secret opens under that key.
	t.Setenv("KEYGATE_CRYPTO_ENCRYPTION_KEY", "the-real-production-key")
	if err := runCLI("key", "create", "--email", "ops@example.com", "--service", "tmdb", "--field", "api_key=secret"); err != nil {
		t.Fatalf("key create: %v", err)
	}

	st, err := store.New(filepath.Join(dir, "keygate.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	cred, err := st.GetCredential(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetCredential: %v", err)
	}
	cipher, err := crypto.NewCipher("the-real-production-key")
	if err != nil {
		t.Fatal(err)
	}
	secret, err := cipher.DecryptString(cred.EncryptedSecret)
	if err != nil || secret != "secret" {
		t.Fatalf("DecryptString = %q, %v", secret, err)
	}
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keygate.yaml")
	cmd := newRootCmd("test", "", "")
	cmd.SetArgs([]string{"config", "init", "-o", path})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if _, err := config.Load(path); err != nil {
		t.Fatalf("generated config does not load: %v", err)
	}
}
