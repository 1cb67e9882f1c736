// Package config loads server settings from defaults, an optional YAML
// file and the environment, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all server settings.
type Config struct {
	ListenAddr   string        `yaml:"listen_addr"`
	ClientOrigin string        `yaml:"client_origin"`
	RedisAddr    string        `yaml:"redis_addr"`
	QueueSize    int           `yaml:"queue_size"`
	MaxConns     int           `yaml:"max_conns"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	ConnRate     RateConfig    `yaml:"conn_rate"`
	Translate    Translate     `yaml:"translate"`
	Log          Log           `yaml:"log"`
}

// RateConfig limits connection attempts per client address. Max 0
// disables the limit.
type RateConfig struct {
	Max    int           `yaml:"max"`
	Window time.Duration `yaml:"window"`
}

// Translate configures the translation provider. An empty Endpoint
// disables translation.
type Translate struct {
	Endpoint string        `yaml:"endpoint"`
	APIKey   string        `yaml:"api_key"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Log configures the logger.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		ListenAddr:   ":3001",
		ClientOrigin: "http://localhost:5173",
		QueueSize:    1024,
		IdleTimeout:  10 * time.Minute,
		ConnRate: RateConfig{
			Max:    30,
			Window: time.Minute,
		},
		Translate: Translate{
			Timeout: 5 * time.Second,
		},
		Log: Log{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and the process environment.
func Load(path string) (Config, error) {
	return load(path, os.Getenv)
}

func load(path string, getenv func(string) string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	applyEnv(&cfg, getenv)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) {
	if v := getenv("PORT"); v != "" {
		cfg.ListenAddr = ":" + v
	}
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&cfg.ListenAddr, "LISTEN_ADDR")
	set(&cfg.ClientOrigin, "CLIENT_URL")
	set(&cfg.RedisAddr, "REDIS_ADDR")
	set(&cfg.Translate.Endpoint, "TRANSLATE_URL")
	set(&cfg.Translate.APIKey, "TRANSLATE_API_KEY")
	set(&cfg.Log.Level, "LOG_LEVEL")
	set(&cfg.Log.Format, "LOG_FORMAT")
}

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Validate reports the first problem with c.
func (c Config) Validate() error {
	switch {
	case c.ListenAddr == "":
		return fmt.Errorf("%w: listen_addr is empty", ErrInvalid)
	case c.QueueSize <= 0:
		return fmt.Errorf("%w: queue_size must be positive, got %d", ErrInvalid, c.QueueSize)
	case c.MaxConns < 0:
		return fmt.Errorf("%w: max_conns must not be negative", ErrInvalid)
	case c.IdleTimeout < 0:
		return fmt.Errorf("%w: idle_timeout must not be negative", ErrInvalid)
	case c.ConnRate.Max < 0:
		return fmt.Errorf("%w: conn_rate.max must not be negative", ErrInvalid)
	case c.ConnRate.Max > 0 && c.ConnRate.Window <= 0:
		return fmt.Errorf("%w: conn_rate.window must be positive when conn_rate.max is set", ErrInvalid)
	case c.Translate.Endpoint != "" && c.Translate.Timeout <= 0:
		return fmt.Errorf("%w: translate.timeout must be positive", ErrInvalid)
	}
	if c.Translate.Endpoint != "" {
		if u, err := url.Parse(c.Translate.Endpoint); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%w: translate.endpoint %q is not an absolute URL", ErrInvalid, c.Translate.Endpoint)
		}
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("%w: log.format must be json or console, got %q", ErrInvalid, c.Log.Format)
	}
	return nil
}

// OriginPatterns returns the host patterns accepted for cross-origin
// WebSocket upgrades.
func (c Config) OriginPatterns() []string {
	if c.ClientOrigin == "" {
		return nil
	}
	if u, err := url.Parse(c.ClientOrigin); err == nil && u.Host != "" {
		return []string{u.Host}
	}
	return []string{c.ClientOrigin}
}
