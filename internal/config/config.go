package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment overrides applied after the file is read.
const (
	EnvVerifierURL = "C2PA_VERIFIER_URL"
	EnvListenAddr  = "C2PA_LISTEN_ADDR"
	EnvLogLevel    = "LOG_LEVEL"
)

// Config holds the fully processed service configuration.
type Config struct {
	Name       string `yaml:"name"`
	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`
	UserAgent  string `yaml:"user_agent"`

	Verifier    VerifierConfig    `yaml:"verifier"`
	Player      PlayerConfig      `yaml:"player"`
	Sessions    SessionConfig     `yaml:"sessions"`
	ResultCache ResultCacheConfig `yaml:"result_cache"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	CORS        CORSConfig        `yaml:"cors"`
	Origin      OriginConfig      `yaml:"origin"`
}

// VerifierConfig locates the manifest verification service.
type VerifierConfig struct {
	URL        string        `yaml:"url"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
	// Probe skips the verifier for init segments without a C2PA box.
	Probe bool `yaml:"probe"`
}

// PlayerConfig tunes the verification timeline of every player.
type PlayerConfig struct {
	Epsilon       float64 `yaml:"epsilon"`
	FrameInterval float64 `yaml:"frame_interval"`
	SeekThreshold float64 `yaml:"seek_threshold"`
}

// SessionConfig controls session lifetime.
type SessionConfig struct {
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	EvictionInterval time.Duration `yaml:"eviction_interval"`
}

// ResultCacheConfig configures the persistent extraction result cache.
type ResultCacheConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Path     string        `yaml:"path"`
	InMemory bool          `yaml:"in_memory"`
	TTL      time.Duration `yaml:"ttl"`
}

// RateLimitConfig limits API requests. Session creation is counted per
// client IP, every other session request per client IP and session.
type RateLimitConfig struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// CORSConfig lists the page origins allowed to call the API from a
// browser. An empty list disables CORS headers.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// OriginConfig controls segment downloads in headless playback.
type OriginConfig struct {
	Timeout           time.Duration `yaml:"timeout"`
	MaxRetries        int           `yaml:"max_retries"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Workers           int           `yaml:"workers"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Name:       "c2pastreamd",
		ListenAddr: ":8080",
		LogLevel:   "info",
		UserAgent:  "c2pastreamd/1.0",
		Verifier: VerifierConfig{
			URL:        "http://127.0.0.1:9000",
			Timeout:    10 * time.Second,
			MaxRetries: 3,
			RetryDelay: 100 * time.Millisecond,
		},
		Player: PlayerConfig{
			Epsilon:       1e-3,
			FrameInterval: 1.0 / 30,
			SeekThreshold: 0.5,
		},
		Sessions: SessionConfig{
			IdleTimeout:      10 * time.Minute,
			EvictionInterval: 10 * time.Second,
		},
		ResultCache: ResultCacheConfig{TTL: 24 * time.Hour},
		RateLimit:   RateLimitConfig{Requests: 600, Window: time.Minute},
		CORS:        CORSConfig{AllowedOrigins: []string{"*"}},
		Origin: OriginConfig{
			Timeout:           15 * time.Second,
			MaxRetries:        3,
			RequestsPerSecond: 20,
			Workers:           4,
		},
	}
}

// LoadConfig reads the YAML file at path over the defaults, applies the
// environment overrides and validates the result. An empty path skips the
// file.
func LoadConfig(path string) (*Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file at %s: %w", path, err)
		}
		if err := decodeStrict(data, cfg); err != nil {
			return nil, err
		}
	}

	if v, ok := lookup(EnvVerifierURL); ok && v != "" {
		cfg.Verifier.URL = v
	}
	if v, ok := lookup(EnvListenAddr); ok && v != "" {
		cfg.ListenAddr = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		cfg.LogLevel = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeStrict(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return nil
}

// Validate checks the processed configuration.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Verifier.URL) == "" {
		errs = append(errs, errors.New("verifier.url is required"))
	}
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listen_addr is required"))
	}
	if c.Player.Epsilon <= 0 {
		errs = append(errs, fmt.Errorf("player.epsilon must be positive, got %g", c.Player.Epsilon))
	}
	// Players fall back to one frame at 30 fps for a zero interval, so zero
	// cannot express "no lag".
	if c.Player.FrameInterval <= 0 {
		errs = append(errs, fmt.Errorf("player.frame_interval must be positive, got %g", c.Player.FrameInterval))
	}
	if c.Player.SeekThreshold <= 0 {
		errs = append(errs, fmt.Errorf("player.seek_threshold must be positive, got %g", c.Player.SeekThreshold))
	}
	if c.Verifier.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("verifier.max_retries must be at least 1, got %d", c.Verifier.MaxRetries))
	}
	if c.ResultCache.Enabled && !c.ResultCache.InMemory && c.ResultCache.Path == "" {
		errs = append(errs, errors.New("result_cache.path is required unless result_cache.in_memory is set"))
	}
	if c.RateLimit.Requests < 0 {
		errs = append(errs, fmt.Errorf("rate_limit.requests must not be negative, got %d", c.RateLimit.Requests))
	}
	if c.Origin.Workers < 1 {
		errs = append(errs, fmt.Errorf("origin.workers must be at least 1, got %d", c.Origin.Workers))
	}
	return errors.Join(errs...)
}
