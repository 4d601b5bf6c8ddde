package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal errors with "did you mean?"
// suggestions.
func Load(path string, logger *slog.Logger) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	logger.Debug("loaded config file", slog.String("path", path))

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// a Config populated with all default values.
func LoadOrDefault(path string, logger *slog.Logger) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		logger.Debug("no config file, using defaults", slog.String("path", path))
		return DefaultConfig(), nil
	}

	return Load(path, logger)
}

// Resolve loads configuration and applies the override chain:
// defaults -> config file -> environment variables -> CLI flags.
// It returns the config file path used and the validated result.
func Resolve(env EnvOverrides, cli CLIOverrides, logger *slog.Logger) (string, *Config, error) {
	// 1. Resolve config path: CLI > env > default
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	// 2. Load config file (returns defaults if no file exists)
	cfg, err := LoadOrDefault(cfgPath, logger)
	if err != nil {
		return cfgPath, nil, err
	}

	// 3. Apply env overrides
	if env.APIURL != "" {
		cfg.APIURL = env.APIURL
	}

	if env.SessionStore != "" {
		cfg.SessionStore = env.SessionStore
	}

	if env.SessionPath != "" {
		cfg.SessionPath = env.SessionPath
	}

	// 4. Apply CLI overrides (pointer fields: nil = not specified)
	if cli.APIURL != nil {
		cfg.APIURL = *cli.APIURL
	}

	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")

	// 5. Derive the session path from the backend when unset. The memory
	// backend has no location.
	switch {
	case cfg.SessionStore == "memory":
		cfg.SessionPath = ""
	case cfg.SessionPath == "":
		cfg.SessionPath = DefaultSessionPath(cfg.SessionStore)
	}

	cfg.SessionPath = expandTilde(cfg.SessionPath)

	// 6. Validate the final result
	if err := Validate(cfg); err != nil {
		return cfgPath, nil, fmt.Errorf("config validation: %w", err)
	}

	if err := validateResolved(cfg); err != nil {
		return cfgPath, nil, fmt.Errorf("config validation: %w", err)
	}

	return cfgPath, cfg, nil
}

// expandTilde replaces a leading "~/" with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, path[2:])
}
