package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults for the runtime surface.
const (
	DefaultRealtimePath = "/api/v1/realtime"
	DefaultTimezone     = "UTC"
	DefaultTransport    = "websocket"

	DefaultMaxMessages  = 1000
	DefaultInitialDelay = 1000 * time.Millisecond
	DefaultMaxDelay     = 30000 * time.Millisecond
	DefaultMaxAttempts  = 10
)

// Config is the process-wide runtime configuration, resolved once at startup
// and passed by reference to every component that needs it. Core logic never
// reads the environment directly.
type Config struct {
	BaseURL      string `yaml:"base_url"`
	RealtimePath string `yaml:"realtime_path"`
	AuthToken    string `yaml:"auth_token"`
	PracticeID   int    `yaml:"practice_id"`
	Timezone     string `yaml:"timezone"`

	Transport string `yaml:"transport"`
	Fallback  *bool  `yaml:"fallback"`

	MaxMessages          int `yaml:"max_messages"`
	ReconnectInitialMS   int `yaml:"reconnect_initial_delay_ms"`
	ReconnectMaxDelayMS  int `yaml:"reconnect_max_delay_ms"`
	ReconnectMaxAttempts int `yaml:"reconnect_max_attempts"`
}

// FallbackEnabled reports whether transport rotation on failure is active.
// Defaults to true when unset.
func (c *Config) FallbackEnabled() bool {
	return c.Fallback == nil || *c.Fallback
}

// InitialDelay returns the first reconnect delay.
func (c *Config) InitialDelay() time.Duration {
	if c.ReconnectInitialMS <= 0 {
		return DefaultInitialDelay
	}
	return time.Duration(c.ReconnectInitialMS) * time.Millisecond
}

// MaxDelay returns the reconnect delay cap.
func (c *Config) MaxDelay() time.Duration {
	if c.ReconnectMaxDelayMS <= 0 {
		return DefaultMaxDelay
	}
	return time.Duration(c.ReconnectMaxDelayMS) * time.Millisecond
}

// Load resolves configuration from flags > env > config file.
func Load(flagURL, flagToken, flagTransport string, flagPractice int) (*Config, error) {
	cfg := &Config{}

	// 1. Load config file as base
	if cfgPath := configFilePath(); cfgPath != "" {
		if data, err := os.ReadFile(cfgPath); err == nil {
			_ = yaml.Unmarshal(data, cfg)
		}
	}

	// 2. Environment variables override config file
	if v := os.Getenv("VOXLINK_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("VOXLINK_REALTIME_PATH"); v != "" {
		cfg.RealtimePath = v
	}
	if v := os.Getenv("VOXLINK_AUTH_TOKEN"); v != "" {
		cfg.AuthToken = v
	}
	if v := os.Getenv("VOXLINK_PRACTICE_ID"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PracticeID = n
		}
	}
	if v := os.Getenv("VOXLINK_TIMEZONE"); v != "" {
		cfg.Timezone = v
	}
	if v := os.Getenv("VOXLINK_TRANSPORT"); v != "" {
		cfg.Transport = v
	}
	if v := os.Getenv("VOXLINK_FALLBACK"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Fallback = &b
		}
	}
	if v := os.Getenv("VOXLINK_MAX_MESSAGES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxMessages = n
		}
	}
	if v := os.Getenv("VOXLINK_RECONNECT_INITIAL_DELAY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ReconnectInitialMS = n
		}
	}
	if v := os.Getenv("VOXLINK_RECONNECT_MAX_DELAY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ReconnectMaxDelayMS = n
		}
	}
	if v := os.Getenv("VOXLINK_RECONNECT_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ReconnectMaxAttempts = n
		}
	}

	// 3. CLI flags override everything
	if flagURL != "" {
		cfg.BaseURL = flagURL
	}
	if flagToken != "" {
		cfg.AuthToken = flagToken
	}
	if flagTransport != "" {
		cfg.Transport = flagTransport
	}
	if flagPractice > 0 {
		cfg.PracticeID = flagPractice
	}

	// Validate required fields
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("API base URL is required (--url, VOXLINK_BASE_URL, or config file)")
	}

	// Defaults
	if cfg.RealtimePath == "" {
		cfg.RealtimePath = DefaultRealtimePath
	}
	if cfg.Timezone == "" {
		cfg.Timezone = DefaultTimezone
	}
	if cfg.Transport == "" {
		cfg.Transport = DefaultTransport
	}
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = DefaultMaxMessages
	}
	if cfg.ReconnectMaxAttempts <= 0 {
		cfg.ReconnectMaxAttempts = DefaultMaxAttempts
	}

	return cfg, nil
}

func configFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	p := filepath.Join(home, ".voxlink", "config.yaml")
	if _, err := os.Stat(p); err == nil {
		return p
	}
	return ""
}
