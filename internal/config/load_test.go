package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "graph-indexer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 8080\n")

	cfg, err := load(nil, path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "pgx", cfg.Database.Driver)
	assert.Equal(t, 10, cfg.Indexer.PageSize)
	assert.Equal(t, 10, cfg.Indexer.MaxFailedCalls)
	assert.Equal(t, 10, cfg.Indexer.MaxEmptyPages)
	assert.False(t, cfg.Indexer.StopIdleIndexers)
	assert.Equal(t, 3*time.Second, cfg.Indexer.IdleWait)
	assert.Equal(t, 5*time.Second, cfg.Indexer.ErrorDelay)
	assert.Equal(t, 5*time.Second, cfg.Indexer.HandlerTimeout)
	assert.True(t, cfg.Indexer.RunExecutors)
	assert.False(t, cfg.Validate().HasErrors())
}

func TestLoadPrecedence(t *testing.T) {
	path := writeConfig(t, `
indexer:
  page_size: 20
  idle_wait: 1s
  manifests: a.yaml,b.yaml
`)

	t.Run("file overrides defaults", func(t *testing.T) {
		cfg, err := load(nil, path)
		require.NoError(t, err)
		assert.Equal(t, 20, cfg.Indexer.PageSize)
		assert.Equal(t, time.Second, cfg.Indexer.IdleWait)
		assert.Equal(t, []string{"a.yaml", "b.yaml"}, cfg.Indexer.Manifests)
	})

	t.Run("env overrides file", func(t *testing.T) {
		t.Setenv("GRAPH_INDEXER_INDEXER_PAGE_SIZE", "30")
		cfg, err := load(nil, path)
		require.NoError(t, err)
		assert.Equal(t, 30, cfg.Indexer.PageSize)
	})

	t.Run("flags override env", func(t *testing.T) {
		t.Setenv("GRAPH_INDEXER_INDEXER_PAGE_SIZE", "30")
		fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
		registerFlags(fs)
		require.NoError(t, fs.Parse([]string{"--indexer.page_size=40", "--database.driver=mysql"}))

		cfg, err := load(fs, path)
		require.NoError(t, err)
		assert.Equal(t, 40, cfg.Indexer.PageSize)
		assert.Equal(t, "mysql", cfg.Database.Driver)
	})
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "indexer:\n  page_sise: 5\n")
	_, err := load(nil, path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to unmarshal config")
}

func TestLoadPasswordFile(t *testing.T) {
	secret := filepath.Join(t.TempDir(), "pw")
	require.NoError(t, os.WriteFile(secret, []byte("s3cret\n"), 0o600))
	path := writeConfig(t, "database:\n  password_file: "+secret+"\n")

	cfg, err := load(nil, path)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Database.Password)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := load(nil, filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
