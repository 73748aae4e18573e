package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRuntime_Defaults(t *testing.T) {
	t.Setenv(EnvDBPath, "")
	t.Setenv(EnvAddr, "")
	t.Setenv(EnvWatchInterval, "")
	t.Setenv(EnvOpenBrowser, "")

	rt := LoadRuntime()
	assert.Equal(t, DefaultAddr, rt.Addr)
	assert.Equal(t, DefaultWatchInterval, rt.WatchInterval)
	assert.Equal(t, DefaultDBName, filepath.Base(rt.DBPath))
	assert.False(t, rt.OpenBrowser)
}

func TestLoadRuntime_Overrides(t *testing.T) {
	t.Setenv(EnvDBPath, "/tmp/x.db")
	t.Setenv(EnvAddr, "0.0.0.0:9000")
	t.Setenv(EnvWatchInterval, "750")
	t.Setenv(EnvOpenBrowser, "yes")

	rt := LoadRuntime()
	assert.Equal(t, "/tmp/x.db", rt.DBPath)
	assert.Equal(t, "0.0.0.0:9000", rt.Addr)
	assert.Equal(t, 750*time.Millisecond, rt.WatchInterval)
	assert.True(t, rt.OpenBrowser)

	t.Setenv(EnvWatchInterval, "-3")
	assert.Equal(t, DefaultWatchInterval, LoadRuntime().WatchInterval)
}

func TestLoadDotenvIfPresent(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, LoadDotenvIfPresent(filepath.Join(dir, "missing.env")))

	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("MEDIA_DISPATCH_TEST_VALUE=from-file\n"), 0o644))
	t.Setenv("MEDIA_DISPATCH_TEST_VALUE", "")
	os.Unsetenv("MEDIA_DISPATCH_TEST_VALUE")

	require.NoError(t, LoadDotenvIfPresent(path))
	assert.Equal(t, "from-file", os.Getenv("MEDIA_DISPATCH_TEST_VALUE"))
}
