package config

// Default values for configuration options. These represent "layer 0" of
// the override chain and work without any config file against a local
// development server.
const (
	defaultAPIURL            = "http://localhost:8080"
	defaultPageSize          = 10
	defaultSessionStore      = "file"
	defaultMaxUploadSize     = "100MB"
	defaultParallelUploads   = 4
	defaultParallelDownloads = 4
	defaultLogLevel          = "info"
	defaultLogFormat         = "auto"
	defaultConnectTimeout    = "10s"
	defaultDataTimeout       = "60s"
)

// DefaultConfig returns a Config populated with all default values.
// This is used both as the starting point for TOML decoding (so unset
// fields retain defaults) and as the fallback when no config file exists.
// session_path stays empty; Resolve derives it from the chosen backend.
func DefaultConfig() *Config {
	return &Config{
		ServerConfig: ServerConfig{
			APIURL:   defaultAPIURL,
			PageSize: defaultPageSize,
		},
		SessionConfig: SessionConfig{
			SessionStore: defaultSessionStore,
		},
		TransfersConfig: TransfersConfig{
			MaxUploadSize:     defaultMaxUploadSize,
			ParallelUploads:   defaultParallelUploads,
			ParallelDownloads: defaultParallelDownloads,
		},
		LoggingConfig: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
		NetworkConfig: NetworkConfig{
			ConnectTimeout: defaultConnectTimeout,
			DataTimeout:    defaultDataTimeout,
		},
	}
}
