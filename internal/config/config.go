package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration. Values are layered:
// defaults, then the optional YAML file, then .env, then the process environment.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Cookies   CookieConfig    `yaml:"cookies"`
	Challenge ChallengeConfig `yaml:"challenge"`
	Stream    StreamConfig    `yaml:"stream"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig defines listener configuration.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// UpstreamConfig describes the chat service being proxied.
type UpstreamConfig struct {
	BaseURL         string            `yaml:"base_url"`
	ChatURL         string            `yaml:"chat_url"`
	SessionURL      string            `yaml:"session_url"`
	ModelsScriptURL string            `yaml:"models_script_url"`
	DefaultModel    string            `yaml:"default_model"`
	Timeout         time.Duration     `yaml:"timeout"`
	MaxRetries      int               `yaml:"max_retries"`
	RetryDelay      time.Duration     `yaml:"retry_delay"`
	ModelsRefresh   time.Duration     `yaml:"models_refresh"`
	Aliases         map[string]string `yaml:"aliases"`
}

// CookieConfig controls cookie persistence and refresh.
type CookieConfig struct {
	File            string        `yaml:"file"`
	ExpiryThreshold time.Duration `yaml:"expiry_threshold"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	Prompt          bool          `yaml:"prompt"`
	Watch           bool          `yaml:"watch"`

	// Operator-supplied values used when automated refresh fails.
	Clearance    string `yaml:"cf_clearance"`
	Session      string `yaml:"session_token"`
	Analytics    string `yaml:"ga"`
	AnalyticsTag string `yaml:"ga_lfrgn2j2rv"`
}

// ChallengeConfig configures the external challenge-solving helper.
type ChallengeConfig struct {
	Command      string        `yaml:"command"`
	InitialWait  time.Duration `yaml:"initial_wait"`
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxWait      time.Duration `yaml:"max_wait"`
}

// StreamConfig holds streaming read parameters.
type StreamConfig struct {
	ChunkSize int           `yaml:"chunk_size"`
	Delay     time.Duration `yaml:"delay"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8000,
		},
		Upstream: UpstreamConfig{
			BaseURL:         "https://chat.akash.network/",
			ChatURL:         "https://chat.akash.network/api/chat/",
			SessionURL:      "https://chat.akash.network/api/auth/session/",
			ModelsScriptURL: "https://chat.akash.network/_next/static/chunks/939-e56b9689ddc1242a.js",
			DefaultModel:    "DeepSeek-R1",
			Timeout:         30 * time.Second,
			MaxRetries:      3,
			RetryDelay:      time.Second,
			ModelsRefresh:   time.Hour,
		},
		Cookies: CookieConfig{
			File:            "akash_cookies.json",
			ExpiryThreshold: time.Hour,
			RefreshInterval: time.Hour,
			Watch:           true,
		},
		Challenge: ChallengeConfig{
			InitialWait:  60 * time.Second,
			PollInterval: 2 * time.Second,
			MaxWait:      60 * time.Second,
		},
		Stream: StreamConfig{
			ChunkSize: 1024,
			Delay:     10 * time.Millisecond,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  50,
			MaxBackups: 3,
		},
	}
}

// Load builds the configuration from the optional YAML file at path, an
// optional .env file in the working directory and the environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return Config{}, fmt.Errorf("resolve config path: %w", err)
		}

		data, err := os.ReadFile(absPath)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %q: %w", absPath, err)
		}

		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %q: %w", absPath, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LookupFunc resolves an environment key.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides fields from environment-style keys.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	e := envReader{lookup: lookup}

	e.str("HOST", &c.Server.Host)
	e.integer("PORT", &c.Server.Port)

	e.str("AKASH_BASE_URL", &c.Upstream.BaseURL)
	e.str("AKASH_API_URL", &c.Upstream.ChatURL)
	e.str("AKASH_SESSION_URL", &c.Upstream.SessionURL)
	e.str("AKASH_JS_URL", &c.Upstream.ModelsScriptURL)
	e.str("DEFAULT_MODEL", &c.Upstream.DefaultModel)
	e.seconds("TIMEOUT", &c.Upstream.Timeout)
	e.integer("MAX_RETRIES", &c.Upstream.MaxRetries)
	e.seconds("RETRY_DELAY", &c.Upstream.RetryDelay)
	e.seconds("MODELS_REFRESH_INTERVAL", &c.Upstream.ModelsRefresh)

	e.str("COOKIE_FILE", &c.Cookies.File)
	e.seconds("COOKIE_EXPIRY_THRESHOLD", &c.Cookies.ExpiryThreshold)
	e.seconds("COOKIE_REFRESH_INTERVAL", &c.Cookies.RefreshInterval)
	e.boolean("COOKIE_PROMPT", &c.Cookies.Prompt)
	e.boolean("COOKIE_WATCH", &c.Cookies.Watch)
	e.str("AKASH_CF_CLEARANCE", &c.Cookies.Clearance)
	e.str("AKASH_SESSION_TOKEN", &c.Cookies.Session)
	e.str("AKASH_GA", &c.Cookies.Analytics)
	e.str("AKASH_GA_LFRGN2J2RV", &c.Cookies.AnalyticsTag)

	e.str("CF_HELPER_COMMAND", &c.Challenge.Command)
	e.seconds("CF_INITIAL_WAIT", &c.Challenge.InitialWait)
	e.seconds("CF_POLL_INTERVAL", &c.Challenge.PollInterval)
	e.seconds("CF_MAX_WAIT", &c.Challenge.MaxWait)

	e.integer("STREAM_CHUNK_SIZE", &c.Stream.ChunkSize)
	e.seconds("STREAM_DELAY", &c.Stream.Delay)

	e.str("LOG_LEVEL", &c.Log.Level)
	e.str("LOG_FORMAT", &c.Log.Format)
	e.str("LOG_FILE", &c.Log.File)

	return errors.Join(e.errs...)
}

// Validate performs strict sanity checks on the configuration.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be a valid TCP port, got %d", c.Server.Port)
	}

	urls := map[string]string{
		"upstream.base_url":          c.Upstream.BaseURL,
		"upstream.chat_url":          c.Upstream.ChatURL,
		"upstream.session_url":       c.Upstream.SessionURL,
		"upstream.models_script_url": c.Upstream.ModelsScriptURL,
	}
	for name, raw := range urls {
		if err := validateURL(name, raw); err != nil {
			return err
		}
	}

	if strings.TrimSpace(c.Upstream.DefaultModel) == "" {
		return errors.New("upstream.default_model must not be empty")
	}
	if c.Upstream.Timeout <= 0 {
		return fmt.Errorf("upstream.timeout must be positive, got %s", c.Upstream.Timeout)
	}
	if c.Upstream.MaxRetries < 0 {
		return fmt.Errorf("upstream.max_retries must not be negative, got %d", c.Upstream.MaxRetries)
	}
	if c.Upstream.RetryDelay < 0 {
		return fmt.Errorf("upstream.retry_delay must not be negative, got %s", c.Upstream.RetryDelay)
	}
	if c.Upstream.ModelsRefresh <= 0 {
		return fmt.Errorf("upstream.models_refresh must be positive, got %s", c.Upstream.ModelsRefresh)
	}
	for alias, target := range c.Upstream.Aliases {
		if strings.TrimSpace(alias) == "" {
			return errors.New("upstream.aliases: alias name must not be empty")
		}
		if strings.TrimSpace(target) == "" {
			return fmt.Errorf("upstream.aliases: alias %q target must not be empty", alias)
		}
	}

	if strings.TrimSpace(c.Cookies.File) == "" {
		return errors.New("cookies.file must not be empty")
	}
	if c.Cookies.ExpiryThreshold <= 0 {
		return fmt.Errorf("cookies.expiry_threshold must be positive, got %s", c.Cookies.ExpiryThreshold)
	}
	if c.Cookies.RefreshInterval <= 0 {
		return fmt.Errorf("cookies.refresh_interval must be positive, got %s", c.Cookies.RefreshInterval)
	}

	if c.Challenge.PollInterval <= 0 || c.Challenge.MaxWait <= 0 || c.Challenge.InitialWait < 0 {
		return errors.New("challenge waits must be positive")
	}

	if c.Stream.ChunkSize <= 0 {
		return fmt.Errorf("stream.chunk_size must be positive, got %d", c.Stream.ChunkSize)
	}

	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format %q must be one of %q or %q", c.Log.Format, "text", "json")
	}

	return nil
}

// Address is the listen address for the HTTP server.
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func validateURL(name, raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("%s must be provided", name)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must be an absolute http(s) URL, got %q", name, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%s must include a host, got %q", name, raw)
	}
	return nil
}

type envReader struct {
	lookup LookupFunc
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (e *envReader) str(key string, target *string) {
	if v, ok := e.get(key); ok {
		*target = v
	}
}

func (e *envReader) integer(key string, target *int) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid integer %q", key, v))
		return
	}
	*target = n
}

func (e *envReader) boolean(key string, target *bool) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid boolean %q", key, v))
		return
	}
	*target = b
}

// seconds accepts either a float number of seconds ("1.5") or a Go duration ("90s").
func (e *envReader) seconds(key string, target *time.Duration) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		*target = time.Duration(f * float64(time.Second))
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid duration %q", key, v))
		return
	}
	*target = d
}
