// Package config resolves the client's settings. Precedence, highest
// first: command-line flags (applied by the caller), the process
// environment, a .env file, then the defaults below.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment variables.
const (
	EnvAPIURL      = "NUTRITION_API_URL"
	EnvAuthURL     = "NUTRITION_AUTH_URL"
	EnvAuthKey     = "NUTRITION_AUTH_KEY"
	EnvSessionDB   = "NUTRITION_SESSION_DB"
	EnvTimeout     = "NUTRITION_TIMEOUT"
	EnvAccessToken = "NUTRITION_ACCESS_TOKEN"
)

const (
	DefaultAPIURL  = "http://localhost:8000/api"
	DefaultAuthURL = "http://localhost:9999/auth/v1"
	DefaultTimeout = 15 * time.Second

	appDirName = "nutrition"
	dbFileName = "session.db"
)

// Config is the resolved client configuration.
type Config struct {
	APIURL  string // nutrition REST API base, e.g. http://localhost:8000/api
	AuthURL string // identity backend base, e.g. http://localhost:9999/auth/v1
	AuthKey string // optional public key sent as the apikey header

	// SessionDB is the SQLite file holding the persisted session.
	SessionDB string

	// AccessToken is an existing token offered to session restore when
	// nothing is persisted yet.
	AccessToken string

	Timeout time.Duration
}

// DefaultEnvFile is read by Load when no file is named. It is optional.
const DefaultEnvFile = ".env"

// Load reads envFile into the environment without overriding variables
// already set, then builds a Config. "" means DefaultEnvFile, which may be
// absent; a file the caller named must exist.
func Load(envFile string) (Config, error) {
	optional := envFile == ""
	if optional {
		envFile = DefaultEnvFile
	}
	if err := godotenv.Load(envFile); err != nil {
		if !optional || !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config: loading %s: %w", envFile, err)
		}
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function, applying defaults.
func FromEnv(getenv func(string) string) (Config, error) {
	get := func(key string) string { return strings.TrimSpace(getenv(key)) }

	cfg := Config{
		APIURL:      get(EnvAPIURL),
		AuthURL:     get(EnvAuthURL),
		AuthKey:     get(EnvAuthKey),
		SessionDB:   get(EnvSessionDB),
		AccessToken: get(EnvAccessToken),
		Timeout:     DefaultTimeout,
	}
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.AuthURL == "" {
		cfg.AuthURL = DefaultAuthURL
	}
	if cfg.SessionDB == "" {
		path, err := DefaultSessionDB()
		if err != nil {
			return Config{}, err
		}
		cfg.SessionDB = path
	}
	if raw := get(EnvTimeout); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("config: invalid %s %q: %w", EnvTimeout, raw, err)
		}
		cfg.Timeout = d
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the values a flag override may also have set.
func (c Config) Validate() error {
	if c.APIURL == "" {
		return errors.New("config: API URL is required")
	}
	if c.AuthURL == "" {
		return errors.New("config: auth URL is required")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("config: timeout must be positive, got %s", c.Timeout)
	}
	return nil
}

// DefaultSessionDB is session.db under the user's config directory.
func DefaultSessionDB() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve user config dir: %w", err)
	}
	return filepath.Join(base, appDirName, dbFileName), nil
}
