package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
)

// Environment variable names for overrides.
const (
	EnvConfig       = "FILEBOX_CONFIG"
	EnvAPIURL       = "FILEBOX_API_URL"
	EnvSessionStore = "FILEBOX_SESSION_STORE"
	EnvSessionPath  = "FILEBOX_SESSION_PATH"
)

// dotEnvFile is read from the working directory before the environment.
const dotEnvFile = ".env"

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath   string // FILEBOX_CONFIG: override config file path
	APIURL       string // FILEBOX_API_URL: server origin
	SessionStore string // FILEBOX_SESSION_STORE: file, sqlite or memory
	SessionPath  string // FILEBOX_SESSION_PATH: session store location
}

// LoadDotEnv loads variables from a .env file in the working directory.
// Variables already present in the environment are never overridden. A
// missing file is not an error.
func LoadDotEnv(logger *slog.Logger) error {
	if _, err := os.Stat(dotEnvFile); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	if err := godotenv.Load(dotEnvFile); err != nil {
		return fmt.Errorf("loading %s: %w", dotEnvFile, err)
	}

	logger.Debug("loaded environment file", slog.String("path", dotEnvFile))

	return nil
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; Resolve applies the relevant fields.
func ReadEnvOverrides(logger *slog.Logger) EnvOverrides {
	o := EnvOverrides{
		ConfigPath:   os.Getenv(EnvConfig),
		APIURL:       os.Getenv(EnvAPIURL),
		SessionStore: os.Getenv(EnvSessionStore),
		SessionPath:  os.Getenv(EnvSessionPath),
	}

	logger.Debug("read environment overrides",
		slog.String("config_path", o.ConfigPath),
		slog.String("api_url", o.APIURL),
		slog.String("session_store", o.SessionStore),
		slog.String("session_path", o.SessionPath),
	)

	return o
}
