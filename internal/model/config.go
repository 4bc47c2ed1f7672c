package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// IMAPConfig describes the remote mailbox connection.
type IMAPConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     string `mapstructure:"port" yaml:"port"`
	Username string `mapstructure:"username" yaml:"username"`

	// Password may be left empty, in which case it is looked up in the
	// system keyring under PasswordKey.
	Password    string `mapstructure:"password" yaml:"password"`
	PasswordKey string `mapstructure:"password_key" yaml:"password_key"`

	// Security is one of "tls", "starttls" or "insecure".
	Security string `mapstructure:"security" yaml:"security"`

	Mailbox string `mapstructure:"mailbox" yaml:"mailbox"`

	// GmailAllMail selects "[Gmail]/All Mail" instead of Mailbox when the
	// host is a Gmail server.
	GmailAllMail bool `mapstructure:"gmail_all_mail" yaml:"gmail_all_mail"`

	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	LockTimeout    time.Duration `mapstructure:"lock_timeout" yaml:"lock_timeout"`
}

// SyncConfig controls batch sizing and cadence of sync runs.
type SyncConfig struct {
	Limit           int           `mapstructure:"limit" yaml:"limit"`
	ChunkSize       int           `mapstructure:"chunk_size" yaml:"chunk_size"`
	DefaultLookback time.Duration `mapstructure:"default_lookback" yaml:"default_lookback"`
	Cushion         time.Duration `mapstructure:"cushion" yaml:"cushion"`
	Scope           string        `mapstructure:"scope" yaml:"scope"`
	MinInterval     time.Duration `mapstructure:"min_interval" yaml:"min_interval"`
	RunBudget       time.Duration `mapstructure:"run_budget" yaml:"run_budget"`
	SessionTimeout  time.Duration `mapstructure:"session_timeout" yaml:"session_timeout"`
	LeaseTTL        time.Duration `mapstructure:"lease_ttl" yaml:"lease_ttl"`
	MarkSeen        bool          `mapstructure:"mark_seen" yaml:"mark_seen"`
	StoreBody       bool          `mapstructure:"store_body" yaml:"store_body"`
	RemoteCap       int           `mapstructure:"remote_cap" yaml:"remote_cap"`

	// ProviderIDHeaders are consulted in order for a provider-assigned
	// stable message id when Message-ID is missing or malformed.
	ProviderIDHeaders []string `mapstructure:"provider_id_headers" yaml:"provider_id_headers"`

	// Interval drives the serve command's background loop; zero disables it.
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
}

// ModelConfig selects a remote text model provider.
type ModelConfig struct {
	// Provider is one of "", "anthropic", "openai" or "bedrock".
	// An empty provider disables remote calls.
	Provider  string        `mapstructure:"provider" yaml:"provider"`
	Model     string        `mapstructure:"model" yaml:"model"`
	APIKey    string        `mapstructure:"api_key" yaml:"api_key"`
	APIKeyRef string        `mapstructure:"api_key_ref" yaml:"api_key_ref"`
	BaseURL   string        `mapstructure:"base_url" yaml:"base_url"`
	Region    string        `mapstructure:"region" yaml:"region"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxTokens int           `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// ClassifierConfig holds the heuristic tuning and the optional remote model.
type ClassifierConfig struct {
	Remote           ModelConfig `mapstructure:"remote" yaml:"remote"`
	ImportantSenders []string    `mapstructure:"important_senders" yaml:"important_senders"`
	Threshold        int         `mapstructure:"threshold" yaml:"threshold"`
}

// DraftConfig controls reply draft generation.
type DraftConfig struct {
	Model        ModelConfig   `mapstructure:"model" yaml:"model"`
	TTL          time.Duration `mapstructure:"ttl" yaml:"ttl"`
	RateLimit    int           `mapstructure:"rate_limit" yaml:"rate_limit"`
	RateWindow   time.Duration `mapstructure:"rate_window" yaml:"rate_window"`
	BusinessName string        `mapstructure:"business_name" yaml:"business_name"`
	Signature    string        `mapstructure:"signature" yaml:"signature"`
}

// StoreConfig holds the database location.
type StoreConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr       string `mapstructure:"addr" yaml:"addr"`
	CronSecret string `mapstructure:"cron_secret" yaml:"cron_secret"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Pretty bool   `mapstructure:"pretty" yaml:"pretty"`
}

// TracingConfig holds OpenTelemetry exporter settings.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled" yaml:"enabled"`
	Endpoint    string  `mapstructure:"endpoint" yaml:"endpoint"`
	Insecure    bool    `mapstructure:"insecure" yaml:"insecure"`
	SampleRatio float64 `mapstructure:"sample_ratio" yaml:"sample_ratio"`
	ServiceName string  `mapstructure:"service_name" yaml:"service_name"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	IMAP       IMAPConfig       `mapstructure:"imap" yaml:"imap"`
	Sync       SyncConfig       `mapstructure:"sync" yaml:"sync"`
	Classifier ClassifierConfig `mapstructure:"classifier" yaml:"classifier"`
	Draft      DraftConfig      `mapstructure:"draft" yaml:"draft"`
	Store      StoreConfig      `mapstructure:"store" yaml:"store"`
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
	Tracing    TracingConfig    `mapstructure:"tracing" yaml:"tracing"`
}

// EnvPrefix is prepended to every environment override, so that
// sync.limit can be set with INBOXSYNC_SYNC_LIMIT.
const EnvPrefix = "INBOXSYNC"

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/inboxsync/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "inboxsync", "config.yaml")
}

// DefaultStorePath returns the default database file location.
func DefaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "inboxsync.db"
	}
	return filepath.Join(home, ".local", "share", "inboxsync", "inboxsync.db")
}

var defaults = map[string]any{
	"imap.port":             "993",
	"imap.security":         "tls",
	"imap.mailbox":          "INBOX",
	"imap.password_key":     "imap-password",
	"imap.connect_timeout":  "15s",
	"imap.lock_timeout":     "10s",
	"imap.host":             "",
	"imap.username":         "",
	"imap.password":         "",
	"imap.gmail_all_mail":   false,
	"sync.limit":            25,
	"sync.chunk_size":       10,
	"sync.default_lookback": "72h",
	"sync.cushion":          "1h",
	"sync.scope":            "unseen",
	"sync.min_interval":     "5s",
	"sync.run_budget":       "50s",
	"sync.session_timeout":  "30s",
	"sync.lease_ttl":        "2m",
	"sync.mark_seen":        true,
	"sync.store_body":       true,
	"sync.remote_cap":       10,
	"sync.provider_id_headers": []string{
		"X-MS-Exchange-Organization-Network-Message-Id",
		"X-GM-MSGID",
	},
	"sync.interval":                       "0s",
	"classifier.remote.provider":          "",
	"classifier.remote.model":             "",
	"classifier.remote.api_key":           "",
	"classifier.remote.api_key_ref":       "classifier-api-key",
	"classifier.remote.base_url":          "",
	"classifier.remote.region":            "",
	"classifier.remote.timeout":           "6s",
	"classifier.remote.max_tokens":        60,
	"classifier.important_senders":        []string{},
	"classifier.threshold":                2,
	"draft.model.provider":                "",
	"draft.model.model":                   "",
	"draft.model.api_key":                 "",
	"draft.model.api_key_ref":             "draft-api-key",
	"draft.model.base_url":                "",
	"draft.model.region":                  "",
	"draft.model.timeout":                 "20s",
	"draft.model.max_tokens":              300,
	"draft.ttl":                           "24h",
	"draft.rate_limit":                    3,
	"draft.rate_window":                   "5s",
	"draft.business_name":                 "our team",
	"draft.signature":                     "",
	"server.addr":                         ":8080",
	"server.cron_secret":                  "",
	"log.level":                           "info",
	"log.pretty":                          false,
	"tracing.enabled":                     false,
	"tracing.endpoint":                    "localhost:4317",
	"tracing.insecure":                    true,
	"tracing.sample_ratio":                1.0,
	"tracing.service_name":                "inboxsync",
	"store.path":                          "",
}

func newViper() *viper.Viper {
	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadConfig reads configuration from the given YAML file path using Viper,
// with INBOXSYNC_* environment variables taking precedence over the file.
// If the file does not exist, defaults and environment values are used.
func LoadConfig(path string) (*AppConfig, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")

		if err := v.ReadInConfig(); err != nil {
			var pathErr *os.PathError
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &pathErr) && !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if cfg.Store.Path == "" {
		cfg.Store.Path = DefaultStorePath()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c *AppConfig) Validate() error {
	switch c.IMAP.Security {
	case "tls", "starttls", "insecure":
	default:
		return fmt.Errorf("imap.security must be tls, starttls or insecure, got %q", c.IMAP.Security)
	}
	switch c.Sync.Scope {
	case "unseen", "all":
	default:
		return fmt.Errorf("sync.scope must be unseen or all, got %q", c.Sync.Scope)
	}
	if c.Sync.Limit <= 0 {
		return fmt.Errorf("sync.limit must be positive, got %d", c.Sync.Limit)
	}
	if c.Sync.ChunkSize <= 0 {
		return fmt.Errorf("sync.chunk_size must be positive, got %d", c.Sync.ChunkSize)
	}
	if c.Draft.RateLimit <= 0 || c.Draft.RateWindow <= 0 {
		return fmt.Errorf("draft.rate_limit and draft.rate_window must be positive")
	}
	return nil
}

// SelectedMailbox returns the mailbox name a sync run should select.
func (c IMAPConfig) SelectedMailbox() string {
	if c.GmailAllMail && strings.Contains(strings.ToLower(c.Host), "gmail") {
		return "[Gmail]/All Mail"
	}
	if c.Mailbox == "" {
		return "INBOX"
	}
	return c.Mailbox
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("imap", cfg.IMAP)
	v.Set("sync", cfg.Sync)
	v.Set("classifier", cfg.Classifier)
	v.Set("draft", cfg.Draft)
	v.Set("store", cfg.Store)
	v.Set("server", cfg.Server)
	v.Set("log", cfg.Log)
	v.Set("tracing", cfg.Tracing)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
