package config

import (
	"bytes"
	"errors"
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderEffective_RoundTripsAsTOML(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SessionPath = "/tmp/session.json"
	cfg.UserAgent = "ua"

	var buf bytes.Buffer
	require.NoError(t, RenderEffective(cfg, "/etc/filebox.toml", &buf))

	assert.Contains(t, buf.String(), "/etc/filebox.toml")

	// The rendered document is itself a valid config.
	parsed := &Config{}
	md, err := toml.Decode(buf.String(), parsed)
	require.NoError(t, err)
	require.NoError(t, checkUnknownKeys(&md))
	assert.Equal(t, cfg, parsed)
}

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) { return 0, errors.New("closed") }

func TestRenderEffective_WriteError(t *testing.T) {
	assert.Error(t, RenderEffective(DefaultConfig(), "x", failWriter{}))
}
