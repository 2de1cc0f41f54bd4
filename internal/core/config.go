package core

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the entire pauseguard configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Bus      BusConfig      `yaml:"bus"`
	Chain    ChainConfig    `yaml:"chain"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	Analyzer AnalyzerConfig `yaml:"analyzer"`
	Decision DecisionConfig `yaml:"decision"`
	Executor ExecutorConfig `yaml:"executor"`
	Journal  JournalConfig  `yaml:"journal"`
	Scanner  ScannerConfig  `yaml:"scanner"`
	Notify   NotifyConfig   `yaml:"notify"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds API server settings.
type ServerConfig struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	APIKeys     []string `yaml:"api_keys"`
	CORSOrigins []string `yaml:"cors_origins"`
	// PauseSecret guards the emergency-pause endpoint. Empty disables it.
	PauseSecret    string `yaml:"pause_secret"`
	RateLimitPerIP int    `yaml:"rate_limit_per_ip"`
}

// BusConfig holds NATS event bus settings.
type BusConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"`
	Embedded bool   `yaml:"embedded"`
	DataDir  string `yaml:"data_dir"`
	Port     int    `yaml:"port"`
}

// ChainConfig describes the EVM endpoint and the signer used for pause calls.
type ChainConfig struct {
	RPCURL       string        `yaml:"rpc_url"`
	ChainID      int64         `yaml:"chain_id"`
	PollInterval time.Duration `yaml:"poll_interval"`
	// Polling forces header polling even when the endpoint supports subscriptions.
	Polling    bool     `yaml:"polling"`
	PrivateKey string   `yaml:"private_key"`
	Contracts  []string `yaml:"contracts"`
}

// MonitorConfig configures the remote monitoring service connection.
type MonitorConfig struct {
	Enabled              bool          `yaml:"enabled"`
	URL                  string        `yaml:"url"`
	BaseDelay            time.Duration `yaml:"base_delay"`
	BackoffFactor        float64       `yaml:"backoff_factor"`
	MaxDelay             time.Duration `yaml:"max_delay"`
	MinReconnectInterval time.Duration `yaml:"min_reconnect_interval"`
	ConnectTimeout       time.Duration `yaml:"connect_timeout"`
	MaxMessagesPerSecond int           `yaml:"max_messages_per_second"`
	// RateLimitWindow is the span MaxMessagesPerSecond is counted over.
	RateLimitWindow time.Duration `yaml:"rate_limit_window"`
}

// AnalyzerConfig carries the heuristic weights and trigger thresholds.
type AnalyzerConfig struct {
	LargeValue          float64        `yaml:"large_value"`
	VeryLargeValue      float64        `yaml:"very_large_value"`
	HighGas             uint64         `yaml:"high_gas"`
	VeryHighGas         uint64         `yaml:"very_high_gas"`
	MultipleTransfers   int            `yaml:"multiple_transfers"`
	MassTransfers       int            `yaml:"mass_transfers"`
	ReentrancyLogs      int            `yaml:"reentrancy_logs"`
	FlashLoanSelectors  []string       `yaml:"flash_loan_selectors"`
	Weights             map[string]int `yaml:"weights"`
	MaxKnownAttackers   int            `yaml:"max_known_attackers"`
	RemoteScorerURL     string         `yaml:"remote_scorer_url"`
	RemoteScorerTimeout time.Duration  `yaml:"remote_scorer_timeout"`
}

// DecisionConfig selects the score-to-action policy.
type DecisionConfig struct {
	Policy string `yaml:"policy"`
	// AutoPauseThreshold overrides the policy's pause cutoff when non-zero.
	AutoPauseThreshold int `yaml:"auto_pause_threshold"`
}

// ExecutorConfig controls pause submission.
type ExecutorConfig struct {
	DryRun         bool          `yaml:"dry_run"`
	ConfirmTimeout time.Duration `yaml:"confirm_timeout"`
	Cooldown       time.Duration `yaml:"cooldown"`
	QueueSize      int           `yaml:"queue_size"`
}

// JournalConfig controls the event journal and its persisted form.
type JournalConfig struct {
	MaxLive      int    `yaml:"max_live"`
	MaxPersisted int    `yaml:"max_persisted"`
	Store        string `yaml:"store"` // "file", "redis" or "none"
	Path         string `yaml:"path"`
	RedisAddr    string `yaml:"redis_addr"`
	RedisDB      int    `yaml:"redis_db"`
	RedisKey     string `yaml:"redis_key"`
	RedisPass    string `yaml:"redis_password"`
}

// ScannerConfig points at the contract source scan service.
type ScannerConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// NotifyConfig holds operator notification settings.
type NotifyConfig struct {
	WebhookURLs   []string `yaml:"webhook_urls"`
	EnableConsole bool     `yaml:"enable_console"`
	// Template selects the webhook body format: generic, slack, discord or pagerduty.
	Template   string             `yaml:"template"`
	RoutingKey string             `yaml:"routing_key"`
	Retry      WebhookRetryConfig `yaml:"retry"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns a Config with working defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           1790,
			RateLimitPerIP: 50,
		},
		Bus: BusConfig{
			Enabled:  false,
			URL:      "nats://127.0.0.1:4222",
			Embedded: true,
			DataDir:  "./data/nats",
			Port:     4222,
		},
		Chain: ChainConfig{
			RPCURL:       "ws://127.0.0.1:8546",
			ChainID:      1,
			PollInterval: 12 * time.Second,
		},
		Monitor: MonitorConfig{
			Enabled:              false,
			URL:                  "ws://127.0.0.1:8080/ws",
			BaseDelay:            3 * time.Second,
			BackoffFactor:        1.5,
			MaxDelay:             60 * time.Second,
			MinReconnectInterval: 2 * time.Second,
			ConnectTimeout:       10 * time.Second,
			MaxMessagesPerSecond: 50,
			RateLimitWindow:      time.Second,
		},
		Analyzer: AnalyzerConfig{
			LargeValue:          50,
			VeryLargeValue:      500,
			HighGas:             1_000_000,
			VeryHighGas:         5_000_000,
			MultipleTransfers:   3,
			MassTransfers:       10,
			ReentrancyLogs:      5,
			MaxKnownAttackers:   10000,
			RemoteScorerTimeout: 5 * time.Second,
		},
		Decision: DecisionConfig{
			Policy: "standard",
		},
		Executor: ExecutorConfig{
			ConfirmTimeout: 2 * time.Minute,
			Cooldown:       5 * time.Minute,
			QueueSize:      64,
		},
		Journal: JournalConfig{
			MaxLive:      100,
			MaxPersisted: 500,
			Store:        "file",
			Path:         "./data/journal.json",
			RedisAddr:    "127.0.0.1:6379",
			RedisKey:     "pauseguard:journal",
		},
		Scanner: ScannerConfig{
			Timeout: 20 * time.Second,
		},
		Notify: NotifyConfig{
			EnableConsole: true,
			Retry:         DefaultWebhookRetryConfig(),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig loads configuration from a YAML file, falling back to defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv fills secrets from the environment. Secrets in the file win.
func (c *Config) applyEnv() {
	if c.Chain.PrivateKey == "" {
		c.Chain.PrivateKey = os.Getenv("PAUSEGUARD_PRIVATE_KEY")
	}
	if c.Server.PauseSecret == "" {
		c.Server.PauseSecret = os.Getenv("PAUSEGUARD_PAUSE_SECRET")
	}
	if len(c.Server.APIKeys) == 0 {
		if envKey := os.Getenv("PAUSEGUARD_API_KEY"); envKey != "" {
			c.Server.APIKeys = []string{envKey}
		}
	}
	if c.Journal.RedisPass == "" {
		c.Journal.RedisPass = os.Getenv("PAUSEGUARD_REDIS_PASSWORD")
	}
}

// SaveConfig writes the configuration to a YAML file.
func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

// Validate reports configuration mistakes that would break the pipeline at runtime.
func (c *Config) Validate() error {
	var errs []error
	if c.Monitor.BackoffFactor < 1 {
		errs = append(errs, fmt.Errorf("monitor.backoff_factor must be >= 1, got %v", c.Monitor.BackoffFactor))
	}
	if c.Monitor.BaseDelay <= 0 || c.Monitor.MaxDelay < c.Monitor.BaseDelay {
		errs = append(errs, fmt.Errorf("monitor delays invalid: base=%s max=%s", c.Monitor.BaseDelay, c.Monitor.MaxDelay))
	}
	if c.Monitor.MaxMessagesPerSecond <= 0 {
		errs = append(errs, errors.New("monitor.max_messages_per_second must be positive"))
	}
	if c.Monitor.RateLimitWindow <= 0 {
		errs = append(errs, errors.New("monitor.rate_limit_window must be positive"))
	}
	if c.Journal.MaxLive <= 0 || c.Journal.MaxPersisted <= 0 {
		errs = append(errs, errors.New("journal.max_live and journal.max_persisted must be positive"))
	}
	switch c.Journal.Store {
	case "file", "redis", "none", "":
	default:
		errs = append(errs, fmt.Errorf("journal.store %q is not one of file, redis, none", c.Journal.Store))
	}
	if c.Analyzer.VeryLargeValue < c.Analyzer.LargeValue || c.Analyzer.VeryHighGas < c.Analyzer.HighGas {
		errs = append(errs, errors.New("analyzer tier thresholds must be ordered"))
	}
	if GetNotificationTemplate(c.Notify.Template, "") == nil {
		errs = append(errs, fmt.Errorf("notify.template %q is not one of %s", c.Notify.Template, strings.Join(ValidTemplateNames(), ", ")))
	}
	if c.Decision.AutoPauseThreshold < 0 || c.Decision.AutoPauseThreshold > 100 {
		errs = append(errs, fmt.Errorf("decision.auto_pause_threshold %d outside [0,100]", c.Decision.AutoPauseThreshold))
	}
	return errors.Join(errs...)
}

// LogLevel returns the parsed log level string.
func (c *Config) LogLevel() string {
	return strings.ToLower(c.Logging.Level)
}

// AuthEnabled returns true if API key authentication is configured.
func (c *Config) AuthEnabled() bool {
	return len(c.Server.APIKeys) > 0
}

// ValidateAPIKey checks if the provided key matches any configured API key.
func (c *Config) ValidateAPIKey(key string) bool {
	for _, valid := range c.Server.APIKeys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(valid)) == 1 {
			return true
		}
	}
	return false
}

// ValidatePauseSecret checks the shared secret of the emergency-pause endpoint.
func (c *Config) ValidatePauseSecret(secret string) bool {
	if c.Server.PauseSecret == "" || secret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(secret), []byte(c.Server.PauseSecret)) == 1
}
