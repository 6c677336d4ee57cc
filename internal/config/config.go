package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"icarus/internal/quota"
	"icarus/internal/replicate"
)

const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// ErrMissing is returned when a required setting is absent.
var ErrMissing = errors.New("required setting is missing")

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv    string
	Port      string
	BaseURL   string
	StaticDir string

	SessionSecret          string
	SessionSecretGenerated bool

	ReplicateAPIToken string
	ModelEndpoint     string
	ReplicateBaseURL  string
	GenerationTimeout time.Duration

	CounterBackend string
	CounterDir     string
	DatabasePath   string
	GlobalLimit    int
	UserLimit      int

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

// SecureCookies reports whether the site is served over HTTPS.
func (c *Config) SecureCookies() bool {
	return strings.HasPrefix(c.BaseURL, "https://")
}

// Load reads the configuration from the environment. A missing Replicate
// token or model endpoint is an error wrapping ErrMissing.
func Load() (*Config, error) {
	cfg := &Config{
		AppEnv:            getEnv("APP_ENV", "production"),
		Port:              getEnv("PORT", "8080"),
		BaseURL:           getEnv("BASE_URL", "http://localhost:8080"),
		StaticDir:         getEnv("STATIC_DIR", "web/static"),
		SessionSecret:     os.Getenv("SESSION_SECRET"),
		ReplicateAPIToken: strings.TrimSpace(os.Getenv("REPLICATE_API_TOKEN")),
		ModelEndpoint:     strings.TrimSpace(os.Getenv("REPLICATE_MODEL_ENDPOINT")),
		ReplicateBaseURL:  getEnv("REPLICATE_BASE_URL", replicate.DefaultBaseURL),
		GenerationTimeout: time.Second * time.Duration(getEnvInt("GENERATION_TIMEOUT_SECONDS", 0)),
		CounterBackend:    getEnv("COUNTER_BACKEND", BackendFile),
		CounterDir:        getEnv("COUNTER_DIR", "."),
		DatabasePath:      getEnv("DATABASE_PATH", "./icarus.db"),
		GlobalLimit:       getEnvInt("GLOBAL_DAILY_LIMIT", quota.DefaultGlobalLimit),
		UserLimit:         getEnvInt("USER_LIMIT", quota.DefaultUserLimit),
		HTTPReadTimeout:   time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:  time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 300)),
		HTTPIdleTimeout:   time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	if cfg.ReplicateAPIToken == "" {
		return nil, fmt.Errorf("REPLICATE_API_TOKEN: %w", ErrMissing)
	}
	if cfg.ModelEndpoint == "" {
		return nil, fmt.Errorf("REPLICATE_MODEL_ENDPOINT: %w", ErrMissing)
	}

	if cfg.SessionSecret == "" {
		bytes := make([]byte, 32)
		if _, err := rand.Read(bytes); err != nil {
			return nil, fmt.Errorf("failed to generate session secret: %w", err)
		}
		cfg.SessionSecret = hex.EncodeToString(bytes)
		cfg.SessionSecretGenerated = true
	}

	if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		return nil, fmt.Errorf("invalid port: %s", cfg.Port)
	}

	switch cfg.CounterBackend {
	case BackendFile, BackendSQLite:
	default:
		return nil, fmt.Errorf("invalid COUNTER_BACKEND %q: want %q or %q", cfg.CounterBackend, BackendFile, BackendSQLite)
	}

	if cfg.GlobalLimit < 0 || cfg.UserLimit < 0 {
		return nil, fmt.Errorf("usage limits must not be negative")
	}

	var err error
	if cfg.CounterDir, err = filepath.Abs(cfg.CounterDir); err != nil {
		return nil, fmt.Errorf("failed to resolve counter directory: %w", err)
	}
	if cfg.DatabasePath, err = filepath.Abs(cfg.DatabasePath); err != nil {
		return nil, fmt.Errorf("failed to resolve database path: %w", err)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
