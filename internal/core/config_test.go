package core

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// ─── DefaultConfig ──────────────────────────────────────────────────────────

func TestDefaultConfig_Values(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Port != 1790 {
		t.Errorf("default Port = %d, want 1790", cfg.Server.Port)
	}
	if cfg.Bus.Enabled {
		t.Error("expected Bus disabled by default")
	}
	if cfg.Monitor.BaseDelay != 3*time.Second || cfg.Monitor.BackoffFactor != 1.5 {
		t.Errorf("monitor backoff = %s x%v", cfg.Monitor.BaseDelay, cfg.Monitor.BackoffFactor)
	}
	if cfg.Monitor.MaxMessagesPerSecond != 50 || cfg.Monitor.RateLimitWindow != time.Second {
		t.Errorf("rate limit = %d per %s, want 50 per 1s", cfg.Monitor.MaxMessagesPerSecond, cfg.Monitor.RateLimitWindow)
	}
	if cfg.Executor.QueueSize != 64 {
		t.Errorf("Executor.QueueSize = %d, want 64", cfg.Executor.QueueSize)
	}
	if cfg.Journal.MaxLive != 100 || cfg.Journal.MaxPersisted != 500 {
		t.Errorf("journal caps = %d/%d, want 100/500", cfg.Journal.MaxLive, cfg.Journal.MaxPersisted)
	}
	if cfg.Decision.Policy != "standard" {
		t.Errorf("Decision.Policy = %q", cfg.Decision.Policy)
	}
	if !cfg.Notify.EnableConsole {
		t.Error("expected EnableConsole = true by default")
	}
	if cfg.Logging.Format != "console" {
		t.Errorf("default Format = %q, want console", cfg.Logging.Format)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config does not validate: %v", err)
	}
}

// ─── LoadConfig ─────────────────────────────────────────────────────────────

func TestLoadConfig_NonExistentFile_ReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig("/this/path/does/not/exist/config.yaml")
	if err != nil {
		t.Fatalf("LoadConfig with non-existent file should not error, got: %v", err)
	}
	if cfg.Server.Port != 1790 {
		t.Errorf("expected default port 1790, got %d", cfg.Server.Port)
	}
}

func TestLoadConfig_ValidYAML(t *testing.T) {
	yaml := `
monitor:
  enabled: true
  url: "wss://monitor.example/ws"
  base_delay: 1s
  max_delay: 30s
  rate_limit_window: 10s
analyzer:
  weights:
    flash_loan: 60
decision:
  policy: strict
journal:
  store: redis
  redis_addr: "10.0.0.5:6379"
`
	path := writeTempConfig(t, yaml)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if !cfg.Monitor.Enabled || cfg.Monitor.URL != "wss://monitor.example/ws" {
		t.Errorf("monitor = %+v", cfg.Monitor)
	}
	if cfg.Monitor.BaseDelay != time.Second || cfg.Monitor.MaxDelay != 30*time.Second {
		t.Errorf("delays = %s/%s", cfg.Monitor.BaseDelay, cfg.Monitor.MaxDelay)
	}
	if cfg.Monitor.RateLimitWindow != 10*time.Second {
		t.Errorf("rate_limit_window = %s, want 10s", cfg.Monitor.RateLimitWindow)
	}
	if cfg.Monitor.BackoffFactor != 1.5 {
		t.Error("unset fields should keep their defaults")
	}
	if cfg.Analyzer.Weights["flash_loan"] != 60 {
		t.Errorf("weights = %v", cfg.Analyzer.Weights)
	}
	if cfg.Decision.Policy != "strict" || cfg.Journal.Store != "redis" {
		t.Errorf("decision/journal = %q/%q", cfg.Decision.Policy, cfg.Journal.Store)
	}
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := writeTempConfig(t, ": bad: yaml: {{{{")
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoadConfig_SecretsFromEnv(t *testing.T) {
	t.Setenv("PAUSEGUARD_API_KEY", "env-test-key-12345")
	t.Setenv("PAUSEGUARD_PAUSE_SECRET", "s3cret")
	t.Setenv("PAUSEGUARD_PRIVATE_KEY", "0xabc")
	path := writeTempConfig(t, "")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Server.APIKeys) != 1 || cfg.Server.APIKeys[0] != "env-test-key-12345" {
		t.Errorf("APIKeys = %v", cfg.Server.APIKeys)
	}
	if cfg.Server.PauseSecret != "s3cret" || cfg.Chain.PrivateKey != "0xabc" {
		t.Error("secrets not read from environment")
	}
}

func TestLoadConfig_FileSecretTakesPrecedence(t *testing.T) {
	t.Setenv("PAUSEGUARD_API_KEY", "env-key")
	yaml := `
server:
  api_keys:
    - "config-key"
`
	path := writeTempConfig(t, yaml)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Server.APIKeys) != 1 || cfg.Server.APIKeys[0] != "config-key" {
		t.Errorf("expected config key to take precedence: %v", cfg.Server.APIKeys)
	}
}

// ─── SaveConfig ─────────────────────────────────────────────────────────────

func TestSaveConfig_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	original := DefaultConfig()
	original.Server.Port = 8888
	original.Chain.Contracts = []string{"0xabc"}

	if err := SaveConfig(original, path); err != nil {
		t.Fatalf("SaveConfig error: %v", err)
	}
	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig after save error: %v", err)
	}
	if loaded.Server.Port != 8888 || len(loaded.Chain.Contracts) != 1 {
		t.Errorf("loaded = port %d contracts %v", loaded.Server.Port, loaded.Chain.Contracts)
	}
}

// ─── Validate ───────────────────────────────────────────────────────────────

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Monitor.BackoffFactor = 0.5
	cfg.Journal.Store = "s3"
	cfg.Decision.AutoPauseThreshold = 120
	cfg.Monitor.RateLimitWindow = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"backoff_factor", "journal.store", "auto_pause_threshold", "rate_limit_window"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

// ─── Auth ────────────────────────────────────────────────────────────────────

func TestValidateAPIKey(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.AuthEnabled() {
		t.Error("AuthEnabled should be false with no keys")
	}
	cfg.Server.APIKeys = []string{"correct-key", "another-key"}

	if !cfg.ValidateAPIKey("correct-key") || !cfg.ValidateAPIKey("another-key") {
		t.Error("should accept configured keys")
	}
	if cfg.ValidateAPIKey("wrong-key") || cfg.ValidateAPIKey("") {
		t.Error("should reject unknown or empty key")
	}
	cfg.ValidateAPIKey(strings.Repeat("b", 10000))
}

func TestValidatePauseSecret(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.ValidatePauseSecret("") {
		t.Error("empty secret must never validate")
	}
	if cfg.ValidatePauseSecret("anything") {
		t.Error("endpoint must be closed when no secret is configured")
	}
	cfg.Server.PauseSecret = "hunter2"
	if !cfg.ValidatePauseSecret("hunter2") {
		t.Error("correct secret rejected")
	}
	if cfg.ValidatePauseSecret("hunter3") {
		t.Error("wrong secret accepted")
	}
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		t.Fatal(err)
	}
	return f.Name()
}
