package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Validation range constants.
const (
	minPageSize       = 1
	maxPageSize       = 100
	minParallel       = 1
	maxParallel       = 16
	minConnectTimeout = 1 * time.Second
	minDataTimeout    = 5 * time.Second
)

var validSessionStores = map[string]bool{
	"file":   true,
	"sqlite": true,
	"memory": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateServer(&cfg.ServerConfig)...)
	errs = append(errs, validateSession(&cfg.SessionConfig)...)
	errs = append(errs, validateTransfers(&cfg.TransfersConfig)...)
	errs = append(errs, validateLogging(&cfg.LoggingConfig)...)
	errs = append(errs, validateNetwork(&cfg.NetworkConfig)...)

	return errors.Join(errs...)
}

// validateResolved checks constraints that only apply once every layer has
// been merged.
func validateResolved(cfg *Config) error {
	if cfg.SessionStore != "memory" && cfg.SessionPath == "" {
		return errors.New("session_path: cannot determine a location; set session_path or " + EnvSessionPath)
	}

	return nil
}

func validateServer(s *ServerConfig) []error {
	var errs []error

	u, err := url.Parse(s.APIURL)

	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("api_url: %w", err))
	case u.Scheme != "http" && u.Scheme != "https":
		errs = append(errs, fmt.Errorf("api_url: scheme must be http or https, got %q", s.APIURL))
	case u.Host == "":
		errs = append(errs, fmt.Errorf("api_url: missing host in %q", s.APIURL))
	}

	if s.PageSize < minPageSize || s.PageSize > maxPageSize {
		errs = append(errs, fmt.Errorf("page_size: must be between %d and %d, got %d",
			minPageSize, maxPageSize, s.PageSize))
	}

	return errs
}

func validateSession(s *SessionConfig) []error {
	if !validSessionStores[s.SessionStore] {
		return []error{fmt.Errorf("session_store: must be file, sqlite, or memory, got %q", s.SessionStore)}
	}

	return nil
}

func validateTransfers(t *TransfersConfig) []error {
	var errs []error

	if _, err := ParseSize(t.MaxUploadSize); err != nil {
		errs = append(errs, fmt.Errorf("max_upload_size: %w", err))
	}

	if t.ParallelUploads < minParallel || t.ParallelUploads > maxParallel {
		errs = append(errs, fmt.Errorf("parallel_uploads: must be between %d and %d, got %d",
			minParallel, maxParallel, t.ParallelUploads))
	}

	if t.ParallelDownloads < minParallel || t.ParallelDownloads > maxParallel {
		errs = append(errs, fmt.Errorf("parallel_downloads: must be between %d and %d, got %d",
			minParallel, maxParallel, t.ParallelDownloads))
	}

	return errs
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !validLogLevels[l.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", l.LogLevel))
	}

	if !validLogFormats[l.LogFormat] {
		errs = append(errs, fmt.Errorf("log_format: must be one of auto, text, json; got %q", l.LogFormat))
	}

	return errs
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	errs = append(errs, validateDurationMin("connect_timeout", n.ConnectTimeout, minConnectTimeout)...)
	errs = append(errs, validateDurationMin("data_timeout", n.DataTimeout, minDataTimeout)...)

	return errs
}

func validateDuration(field, value string, minimum time.Duration) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}

	if d < minimum {
		return fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)
	}

	return nil
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	if err := validateDuration(field, value, minimum); err != nil {
		return []error{err}
	}

	return nil
}
