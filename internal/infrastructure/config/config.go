package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration.
//
// Precedence is defaults < CONFIG_FILE < environment. Fields carry no
// envconfig default tags: Default() is the only source of defaults, so a
// value read from the file survives when the variable is unset.
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	LMS       LMSConfig       `yaml:"lms" toml:"lms"`
	Player    PlayerConfig    `yaml:"player" toml:"player"`
	Sandbox   SandboxConfig   `yaml:"sandbox" toml:"sandbox"`
	Store     StoreConfig     `yaml:"store" toml:"store"`
	Logging   LogConfig       `yaml:"logging" toml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
	CORS      CORSConfig      `yaml:"cors" toml:"cors"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" yaml:"port" toml:"port"`
	Host string `envconfig:"HOST" yaml:"host" toml:"host"`
	// PublicURL is used to build bridge script and websocket URLs handed to
	// external web views. Empty means relative URLs.
	PublicURL string `envconfig:"PUBLIC_URL" yaml:"public_url" toml:"public_url"`
}

// LMSConfig holds the upstream learning platform settings.
type LMSConfig struct {
	Origin       string        `envconfig:"LMS_ORIGIN" yaml:"origin" toml:"origin"`
	APIPath      string        `envconfig:"LMS_API_PATH" yaml:"api_path" toml:"api_path"`
	Timeout      time.Duration `envconfig:"LMS_TIMEOUT" yaml:"timeout" toml:"timeout"`
	RetryMax     int           `envconfig:"LMS_RETRY_MAX" yaml:"retry_max" toml:"retry_max"`
	RateLimitRPS float64       `envconfig:"LMS_RATE_LIMIT_RPS" yaml:"rate_limit_rps" toml:"rate_limit_rps"`
	TrackEnabled bool          `envconfig:"LMS_TRACK_ENABLED" yaml:"track_enabled" toml:"track_enabled"`
}

// PlayerConfig holds runtime session settings.
type PlayerConfig struct {
	// ResolverPolicy is "strict" or "first_unit".
	ResolverPolicy string `envconfig:"RESOLVER_POLICY" yaml:"resolver_policy" toml:"resolver_policy"`
	OutboxSize     int    `envconfig:"OUTBOX_SIZE" yaml:"outbox_size" toml:"outbox_size"`
	// Headless runs content scripts in the server-side sandbox on open.
	Headless bool `envconfig:"HEADLESS" yaml:"headless" toml:"headless"`
}

// SandboxConfig holds goja sandbox limits.
type SandboxConfig struct {
	Timeout      time.Duration `envconfig:"SANDBOX_TIMEOUT" yaml:"timeout" toml:"timeout"`
	PoolSize     int           `envconfig:"SANDBOX_POOL_SIZE" yaml:"pool_size" toml:"pool_size"`
	MaxCallStack int           `envconfig:"SANDBOX_MAX_CALL_STACK" yaml:"max_call_stack" toml:"max_call_stack"`
	MaxPageBytes int64         `envconfig:"SANDBOX_MAX_PAGE_BYTES" yaml:"max_page_bytes" toml:"max_page_bytes"`
}

// StoreConfig holds the progress ledger location.
type StoreConfig struct {
	Enabled bool   `envconfig:"PROGRESS_STORE_ENABLED" yaml:"enabled" toml:"enabled"`
	Path    string `envconfig:"PROGRESS_DB" yaml:"path" toml:"path"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" yaml:"level" toml:"level"`
	Development bool   `envconfig:"LOG_DEV" yaml:"development" toml:"development"`
}

// RateLimitConfig holds per-IP rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" yaml:"rps" toml:"rps"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" yaml:"burst" toml:"burst"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" yaml:"enabled" toml:"enabled"`
}

// CORSConfig holds allowed origins for browser and web view clients.
type CORSConfig struct {
	AllowOrigins []string `envconfig:"CORS_ALLOW_ORIGINS" yaml:"allow_origins" toml:"allow_origins"`
}

// AuthConfig holds the keys used to verify platform access tokens. Set
// either the shared HMAC secret or a PEM public key (RSA or ECDSA). With
// neither, every bearer token is rejected and callers play as guests.
type AuthConfig struct {
	TokenSecret    string `envconfig:"TOKEN_SECRET" yaml:"token_secret" toml:"token_secret"`
	TokenPublicKey string `envconfig:"TOKEN_PUBLIC_KEY_FILE" yaml:"token_public_key_file" toml:"token_public_key_file"`
	TokenIssuer    string `envconfig:"TOKEN_ISSUER" yaml:"token_issuer" toml:"token_issuer"`
}

// Load builds configuration from defaults, the optional CONFIG_FILE and the
// environment, in that order.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := LoadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault loads configuration or returns defaults on error.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// LoadFile overlays a YAML or TOML file onto cfg. Keys absent from the file
// keep their current values.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	default:
		return fmt.Errorf("unsupported config file type: %s", path)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8000",
			Host: "0.0.0.0",
		},
		LMS: LMSConfig{
			Origin:       "https://learn.ideo-cloud.ma",
			APIPath:      "/tenant",
			Timeout:      30 * time.Second,
			RetryMax:     3,
			TrackEnabled: true,
		},
		Player: PlayerConfig{
			ResolverPolicy: "strict",
			OutboxSize:     64,
			Headless:       true,
		},
		Sandbox: SandboxConfig{
			Timeout:      5 * time.Second,
			PoolSize:     4,
			MaxCallStack: 1024,
			MaxPageBytes: 10 * 1024 * 1024,
		},
		Store: StoreConfig{
			Enabled: true,
			Path:    "/tmp/scormhost/progress.db",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		CORS: CORSConfig{
			AllowOrigins: []string{"*"},
		},
	}
}

// APIBaseURL is the REST root: origin plus tenant path.
func (c LMSConfig) APIBaseURL() string {
	return strings.TrimRight(c.Origin, "/") + c.APIPath
}
