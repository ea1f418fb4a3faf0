package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.smsdesk/config.toml.
type Config struct {
	DefaultProfile string        `toml:"default_profile"`
	Server         ServerConfig  `toml:"server"`
	Push           PushConfig    `toml:"push"`
	Gateway        GatewayConfig `toml:"gateway"`
	Console        ConsoleConfig `toml:"console"`
}

// ServerConfig configures the smsdeskd listeners.
type ServerConfig struct {
	HTTPAddr string `toml:"http_addr"`
	PushAddr string `toml:"push_addr"`
	// PublicURL prefixes attachment URLs handed to clients and the gateway.
	PublicURL string `toml:"public_url"`
	// OutboxIntervalMS is how often the outbox sender polls for queued sends.
	OutboxIntervalMS int `toml:"outbox_interval_ms"`
}

// PushConfig selects the push channel transport.
type PushConfig struct {
	Transport string `toml:"transport"` // "grpc" or "nats"
	NATSURL   string `toml:"nats_url"`
	// SubjectPrefix is the NATS subject prefix; the conversation digits are appended.
	SubjectPrefix string `toml:"subject_prefix"`
}

// GatewayConfig points at the SMS gateway HTTP API.
type GatewayConfig struct {
	BaseURL   string `toml:"base_url"`
	APIKey    string `toml:"api_key"`
	TimeoutMS int    `toml:"timeout_ms"`
}

// ConsoleConfig tunes the synchronization engine used by the console.
type ConsoleConfig struct {
	APIBaseURL           string `toml:"api_base_url"`
	DefaultRegion        string `toml:"default_region"`
	ConversationPageSize int    `toml:"conversation_page_size"`
	MessagePageSize      int    `toml:"message_page_size"`
	PushWindow           int    `toml:"push_window"`
	SearchDebounceMS     int    `toml:"search_debounce_ms"`
	RefreshIntervalS     int    `toml:"refresh_interval_s"`
	DownloadDir          string `toml:"download_dir"`

	// GatewayRetries is how many times a failed gateway read-state write
	// is retried after the first attempt.
	GatewayRetries int `toml:"gateway_retries"`
}

const (
	TransportGRPC = "grpc"
	TransportNATS = "nats"
)

// Default returns a config with every field at its default.
func Default() *Config {
	return WithDefaults(&Config{})
}

// WithDefaults fills zero-valued fields of cfg in place and returns it.
func WithDefaults(cfg *Config) *Config {
	if cfg.Server.HTTPAddr == "" {
		cfg.Server.HTTPAddr = "127.0.0.1:8740"
	}
	if cfg.Server.PushAddr == "" {
		cfg.Server.PushAddr = "127.0.0.1:8741"
	}
	if cfg.Server.PublicURL == "" {
		cfg.Server.PublicURL = "http://" + cfg.Server.HTTPAddr
	}
	if cfg.Server.OutboxIntervalMS <= 0 {
		cfg.Server.OutboxIntervalMS = 500
	}
	if cfg.Push.Transport == "" {
		cfg.Push.Transport = TransportGRPC
	}
	if cfg.Push.SubjectPrefix == "" {
		cfg.Push.SubjectPrefix = "smsdesk.conversation"
	}
	if cfg.Gateway.TimeoutMS <= 0 {
		cfg.Gateway.TimeoutMS = 10000
	}
	if cfg.Console.APIBaseURL == "" {
		cfg.Console.APIBaseURL = cfg.Server.PublicURL
	}
	if cfg.Console.DefaultRegion == "" {
		cfg.Console.DefaultRegion = "US"
	}
	if cfg.Console.ConversationPageSize <= 0 {
		cfg.Console.ConversationPageSize = 25
	}
	if cfg.Console.MessagePageSize <= 0 {
		cfg.Console.MessagePageSize = 30
	}
	if cfg.Console.PushWindow <= 0 {
		cfg.Console.PushWindow = 20
	}
	if cfg.Console.GatewayRetries <= 0 {
		cfg.Console.GatewayRetries = 3
	}
	if cfg.Console.SearchDebounceMS <= 0 {
		cfg.Console.SearchDebounceMS = 300
	}
	if cfg.Console.RefreshIntervalS <= 0 {
		cfg.Console.RefreshIntervalS = 15
	}
	return cfg
}

// SearchDebounce returns the search quiescence window.
func (c ConsoleConfig) SearchDebounce() time.Duration {
	return time.Duration(c.SearchDebounceMS) * time.Millisecond
}

// RefreshInterval returns the conversation index polling period.
func (c ConsoleConfig) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalS) * time.Second
}

// Load reads config from the given path. Returns nil and an error if the file
// is missing or malformed.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	return WithDefaults(&cfg), nil
}

// LoadOrDefault is Load that falls back to defaults when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
