package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ppiankov/subwatch/internal/privacy"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigFile     = "config.yaml"
	DefaultStoragePath    = ".subwatch/subwatch.db"
	DefaultRetainDays     = 90
	DefaultFetchTimeout   = 30 * time.Second
	DefaultFetchWorkers   = 4
	DefaultLookback       = 24 * time.Hour
	NotifierLog           = "log"
	NotifierSlack         = "slack"
	NotifierTelegram      = "telegram"
	defaultSlackURLEnvVar = "SLACK_WEBHOOK_URL"
)

// Duration wraps time.Duration for YAML unmarshaling from strings like "24h".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

type Config struct {
	Channels  []ChannelConfig  `yaml:"channels"`
	Notifiers []NotifierConfig `yaml:"notifiers"`
	Storage   StorageConfig    `yaml:"storage"`
	Fetch     FetchConfig      `yaml:"fetch"`
	Run       RunConfig        `yaml:"run"`
	Privacy   PrivacyConfig    `yaml:"privacy"`
	Metrics   MetricsConfig    `yaml:"metrics"`
}

type ChannelConfig struct {
	ID          string `yaml:"id"`
	Handle      string `yaml:"handle"`
	Description string `yaml:"description"`
	FeedURL     string `yaml:"feed_url"`
}

// Name returns the label used for the channel in logs.
func (c ChannelConfig) Name() string {
	if c.Handle != "" {
		return c.Handle
	}
	if c.ID != "" {
		return c.ID
	}
	return c.FeedURL
}

type NotifierConfig struct {
	Type          string `yaml:"type"`
	WebhookURLEnv string `yaml:"webhook_url_env"`
	Channel       string `yaml:"channel"`

	// Resolved from env var at load time.
	WebhookURL string `yaml:"-"`
}

type StorageConfig struct {
	Path       string `yaml:"path"`
	RetainDays int    `yaml:"retain_days"`
}

type FetchConfig struct {
	Timeout   Duration `yaml:"timeout"`
	Workers   int      `yaml:"workers"`
	UserAgent string   `yaml:"user_agent"`
}

type RunConfig struct {
	DefaultLookback Duration `yaml:"default_lookback"`
}

// PrivacyConfig lists extra regex patterns masked in log output. Webhook
// URLs are always masked.
type PrivacyConfig struct {
	Redact []string `yaml:"redact"`
}

// MetricsConfig enables the Prometheus textfile written after every run.
type MetricsConfig struct {
	Textfile string `yaml:"textfile"`
}

// Load reads config.yaml from dir, applies defaults, resolves env vars, and validates.
func Load(dir string) (*Config, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("config dir is required")
	}

	path := filepath.Join(dir, DefaultConfigFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)
	resolveEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = DefaultStoragePath
	}
	if cfg.Storage.RetainDays == 0 {
		cfg.Storage.RetainDays = DefaultRetainDays
	}
	if cfg.Fetch.Timeout.Duration == 0 {
		cfg.Fetch.Timeout.Duration = DefaultFetchTimeout
	}
	if cfg.Fetch.Workers == 0 {
		cfg.Fetch.Workers = DefaultFetchWorkers
	}
	if cfg.Run.DefaultLookback.Duration == 0 {
		cfg.Run.DefaultLookback.Duration = DefaultLookback
	}
	for i := range cfg.Notifiers {
		n := &cfg.Notifiers[i]
		n.Type = strings.ToLower(strings.TrimSpace(n.Type))
		if n.Type == NotifierSlack && n.WebhookURLEnv == "" {
			n.WebhookURLEnv = defaultSlackURLEnvVar
		}
	}
}

func resolveEnv(cfg *Config) {
	for i := range cfg.Notifiers {
		if cfg.Notifiers[i].WebhookURLEnv != "" {
			cfg.Notifiers[i].WebhookURL = os.Getenv(cfg.Notifiers[i].WebhookURLEnv)
		}
	}
}

func validate(cfg *Config) error {
	if len(cfg.Channels) == 0 {
		return errors.New("channels: at least one channel must be configured")
	}
	for i, ch := range cfg.Channels {
		if strings.TrimSpace(ch.ID) == "" && strings.TrimSpace(ch.FeedURL) == "" {
			return fmt.Errorf("channels[%d]: id or feed_url is required", i)
		}
	}

	if len(cfg.Notifiers) == 0 {
		return errors.New("notifiers: at least one notifier must be configured")
	}
	for i, n := range cfg.Notifiers {
		switch n.Type {
		case NotifierLog, NotifierTelegram:
			// valid
		case NotifierSlack:
			if n.WebhookURL == "" {
				return fmt.Errorf("notifiers[%d]: slack webhook url is empty (set %s)", i, n.WebhookURLEnv)
			}
		default:
			return fmt.Errorf("notifiers[%d]: unknown type %q (want log, slack or telegram)", i, n.Type)
		}
	}

	if cfg.Fetch.Timeout.Duration < 0 {
		return fmt.Errorf("fetch.timeout: must be positive, got %s", cfg.Fetch.Timeout.Duration)
	}
	if cfg.Fetch.Workers < 0 {
		return fmt.Errorf("fetch.workers: must be positive, got %d", cfg.Fetch.Workers)
	}
	if cfg.Run.DefaultLookback.Duration < 0 {
		return fmt.Errorf("run.default_lookback: must be positive, got %s", cfg.Run.DefaultLookback.Duration)
	}
	if _, err := privacy.Compile(cfg.Privacy.Redact); err != nil {
		return fmt.Errorf("privacy.redact: %w", err)
	}

	return nil
}
