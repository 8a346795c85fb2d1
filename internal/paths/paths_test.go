package paths

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wellsgz/netpulse/internal/config"
)

func TestCreateDefaultConfig(t *testing.T) {
	p := ForBase(t.TempDir())

	created, err := p.CreateDefaultConfig()
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, p.ConfigExists())

	// The shipped sample must load cleanly
	cfg, err := config.Load(p.ConfigFile)
	require.NoError(t, err)
	assert.Equal(t, []string{"8.8.8.8", "1.1.1.1"}, cfg.Targets)
	assert.True(t, cfg.Journal.Enabled)

	created, err = p.CreateDefaultConfig()
	require.NoError(t, err)
	assert.False(t, created, "existing config must not be overwritten")
}

func TestEnsureDirectories(t *testing.T) {
	base := t.TempDir()
	p := ForBase(base)

	require.NoError(t, p.EnsureDirectories())
	assert.DirExists(t, p.DataDir)
	assert.DirExists(t, filepath.Dir(p.ConfigFile))
	assert.DirExists(t, filepath.Dir(p.SocketPath))
	assert.Contains(t, p.String(), p.SocketPath)
}
