// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for filebox. It supports a four-layer
// override chain (defaults -> config file -> environment -> CLI flags).
// All keys are flat; the grouping below exists only in Go.
package config

import "time"

// Config is the top-level configuration structure parsed from a TOML file.
// The embedded section structs are flattened by the TOML decoder.
type Config struct {
	ServerConfig
	SessionConfig
	TransfersConfig
	LoggingConfig
	NetworkConfig
}

// ServerConfig locates the filebox API.
type ServerConfig struct {
	APIURL   string `toml:"api_url" json:"api_url"`
	PageSize int    `toml:"page_size" json:"page_size"`
}

// SessionConfig selects where the authentication session is persisted.
type SessionConfig struct {
	SessionStore string `toml:"session_store" json:"session_store"`
	SessionPath  string `toml:"session_path" json:"session_path"`
}

// TransfersConfig controls upload limits and transfer parallelism.
type TransfersConfig struct {
	MaxUploadSize     string `toml:"max_upload_size" json:"max_upload_size"`
	ParallelUploads   int    `toml:"parallel_uploads" json:"parallel_uploads"`
	ParallelDownloads int    `toml:"parallel_downloads" json:"parallel_downloads"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level" json:"log_level"`
	LogFormat string `toml:"log_format" json:"log_format"`
}

// NetworkConfig controls HTTP client behavior.
type NetworkConfig struct {
	ConnectTimeout string `toml:"connect_timeout" json:"connect_timeout"`
	DataTimeout    string `toml:"data_timeout" json:"data_timeout"`
	UserAgent      string `toml:"user_agent" json:"user_agent"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set".
type CLIOverrides struct {
	ConfigPath string  // --config flag (empty = use default)
	APIURL     *string // --api-url flag
}

// MaxUploadBytes returns max_upload_size in bytes; 0 means unlimited.
// The value has already been validated, so a parse error reads as 0.
func (c *Config) MaxUploadBytes() int64 {
	n, err := ParseSize(c.MaxUploadSize)
	if err != nil {
		return 0
	}

	return n
}

// ConnectTimeoutDuration returns connect_timeout, falling back to the default.
func (c *Config) ConnectTimeoutDuration() time.Duration {
	return durationOr(c.ConnectTimeout, defaultConnectTimeout)
}

// DataTimeoutDuration returns data_timeout, falling back to the default.
func (c *Config) DataTimeoutDuration() time.Duration {
	return durationOr(c.DataTimeout, defaultDataTimeout)
}

func durationOr(value, fallback string) time.Duration {
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}

	d, _ := time.ParseDuration(fallback)

	return d
}
