package config

import (
	"fmt"
	"io"
)

// RenderEffective writes the resolved configuration as an annotated TOML
// document to w. This powers the "config show" command.
func RenderEffective(cfg *Config, path string, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (file: %s)\n\n", path)

	ew.printf("# server\n")
	ew.printf("api_url            = %q\n", cfg.APIURL)
	ew.printf("page_size          = %d\n\n", cfg.PageSize)

	ew.printf("# session\n")
	ew.printf("session_store      = %q\n", cfg.SessionStore)
	ew.printf("session_path       = %q\n\n", cfg.SessionPath)

	ew.printf("# transfers\n")
	ew.printf("max_upload_size    = %q\n", cfg.MaxUploadSize)
	ew.printf("parallel_uploads   = %d\n", cfg.ParallelUploads)
	ew.printf("parallel_downloads = %d\n\n", cfg.ParallelDownloads)

	ew.printf("# logging\n")
	ew.printf("log_level          = %q\n", cfg.LogLevel)
	ew.printf("log_format         = %q\n\n", cfg.LogFormat)

	ew.printf("# network\n")
	ew.printf("connect_timeout    = %q\n", cfg.ConnectTimeout)
	ew.printf("data_timeout       = %q\n", cfg.DataTimeout)

	if cfg.UserAgent != "" {
		ew.printf("user_agent         = %q\n", cfg.UserAgent)
	}

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}
