package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type storeSection struct {
	Backend string
	Path    string
}

type testConfig struct {
	Name  string
	Store storeSection
}

const embedded = `
name: embedded
store:
  backend: file
  path: /var/lib/drm
`

func TestParseConfigWithEmbedded(t *testing.T) {
	t.Run("falls back to embedded", func(t *testing.T) {
		cfg, err := ParseConfigWithEmbedded[testConfig]([]string{t.TempDir()}, []byte(embedded))
		require.NoError(t, err)
		assert.Equal(t, "embedded", cfg.Name)
		assert.Equal(t, "file", cfg.Store.Backend)
		assert.Equal(t, "/var/lib/drm", cfg.Store.Path)
	})

	t.Run("file on disk wins", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("name: disk\nstore:\n  backend: redis\n"), 0o600))

		cfg, err := ParseConfigWithEmbedded[testConfig]([]string{dir}, []byte(embedded))
		require.NoError(t, err)
		assert.Equal(t, "disk", cfg.Name)
		assert.Equal(t, "redis", cfg.Store.Backend)
	})
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("DRMTEST_STORE_BACKEND", "sql")

	cfg, err := Load[testConfig](Options{
		Paths:     []string{t.TempDir()},
		EnvPrefix: "DRMTEST",
		Embedded:  []byte(embedded),
	})
	require.NoError(t, err)
	assert.Equal(t, "sql", cfg.Store.Backend)
	assert.Equal(t, "/var/lib/drm", cfg.Store.Path)
}

func TestLoadExplicitFileMissing(t *testing.T) {
	_, err := Load[testConfig](Options{File: filepath.Join(t.TempDir(), "nope.yaml")})
	assert.Error(t, err)
}
