// Package config loads client configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ilyakaznacheev/cleanenv"
)

// Production service endpoints, used when the environment does not
// override them.
const (
	DefaultAPIURL      = "https://lens-api.ondsel.com"
	DefaultFrontendURL = "https://lens.ondsel.com"
)

// Config holds all client configuration.
type Config struct {
	APIURL      string `env:"LENS_API_URL" env-default:"https://lens-api.ondsel.com"`
	FrontendURL string `env:"LENS_FRONTEND_URL" env-default:"https://lens.ondsel.com"`
	LogLevel    string `env:"LENS_LOG_LEVEL" env-default:"info"`
	CacheDir    string `env:"LENS_CACHE_DIR"`

	// ClearCacheOnLogout removes the whole cache directory when the user
	// logs out explicitly.
	ClearCacheOnLogout bool `env:"LENS_CLEAR_CACHE_ON_LOGOUT" env-default:"false"`
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}

	if cfg.CacheDir == "" {
		cfg.CacheDir = defaultCacheDir()
	}

	return &cfg, nil
}

// defaultCacheDir returns the per-user cache location.
func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "lens")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".lens", "cache")
}

// CredentialsPath returns where the session blob is persisted.
func CredentialsPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "lens", "session.json")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".lens", "session.json")
}
