package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaingraphlabs/chaingraph/execution/config"
)

func TestDefaultMatchesDocumentedDefaults(t *testing.T) {
	cfg := config.Default()
	assert.Equal(t, 200, cfg.Queue.Capacity)
	assert.Equal(t, 50, cfg.EventStore.BatchSize)
	assert.Equal(t, 100*time.Millisecond, cfg.EventStore.BatchTimeout)
	assert.Equal(t, 24*time.Hour, cfg.Cleanup.MaxAge)
	assert.Equal(t, time.Hour, cfg.Cleanup.Interval)
	assert.Equal(t, 50_000, cfg.Cleanup.MaxExecutions)
}

func TestLoadOverridesOnlySpecifiedFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "execd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9090"
cleanup:
  maxExecutions: 1000
`), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 1000, cfg.Cleanup.MaxExecutions)
	// untouched sections keep their defaults.
	assert.Equal(t, 24*time.Hour, cfg.Cleanup.MaxAge)
	assert.Equal(t, 200, cfg.Queue.Capacity)
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
