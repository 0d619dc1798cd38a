package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/lanshare/discovery"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lanshare.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFullConfig(t *testing.T) {
	shareDir := t.TempDir()
	path := writeConfig(t, `
name: media-box
port: 4500
discovery_port: 4501
secret: hunter2
rexec_enabled: true
log_level: debug
sharings:
  - name: docs
    path: `+shareDir+`
    read_only: true
`)

	cfg, err := Load(New(), path)
	require.NoError(t, err)

	assert.Equal(t, "media-box", cfg.Name)
	assert.Equal(t, 4500, cfg.Port)
	assert.Equal(t, 4501, cfg.DiscoveryPort)
	assert.Equal(t, "hunter2", cfg.Secret)
	assert.True(t, cfg.RexecEnabled)
	assert.False(t, cfg.TLSEnabled())
	require.Len(t, cfg.Sharings, 1)
	assert.True(t, cfg.Sharings[0].ReadOnly)

	reg, err := cfg.BuildRegistry()
	require.NoError(t, err)
	sh, err := reg.Get("docs")
	require.NoError(t, err)
	assert.True(t, sh.ReadOnly)
}

func TestLoadDefaults(t *testing.T) {
	shareDir := t.TempDir()
	path := writeConfig(t, `
sharings:
  - name: stuff
    path: `+shareDir+`
`)

	cfg, err := Load(New(), path)
	require.NoError(t, err)
	assert.Equal(t, "lanshare", cfg.Name)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, discovery.DefaultPort, cfg.DiscoveryPort)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.Secret)
}

func TestValidateRejectsEmptySharings(t *testing.T) {
	path := writeConfig(t, `name: empty-box`)
	_, err := Load(New(), path)
	assert.ErrorIs(t, err, ErrNoSharings)
}

func TestValidateRejectsPartialTLS(t *testing.T) {
	shareDir := t.TempDir()
	path := writeConfig(t, `
tls_cert: /tmp/cert.pem
sharings:
  - name: s
    path: `+shareDir+`
`)
	_, err := Load(New(), path)
	assert.ErrorIs(t, err, ErrPartialTLS)
}

func TestBuildRegistryRejectsBadRoot(t *testing.T) {
	path := writeConfig(t, `
sharings:
  - name: ghost
    path: /does/not/exist
`)
	cfg, err := Load(New(), path)
	require.NoError(t, err)

	_, err = cfg.BuildRegistry()
	assert.Error(t, err)
}
