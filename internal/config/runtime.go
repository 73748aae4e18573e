package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/ytget/media-dispatch/internal/platform"
)

// Environment variables read by LoadRuntime
const (
	EnvDBPath        = "MEDIA_DISPATCH_DB"
	EnvAddr          = "MEDIA_DISPATCH_ADDR"
	EnvWatchInterval = "MEDIA_DISPATCH_WATCH_MS"
	EnvOpenBrowser   = "MEDIA_DISPATCH_OPEN_BROWSER"
)

// Runtime defaults
const (
	DefaultAddr          = "127.0.0.1:7390"
	DefaultDBName        = "settings.db"
	DefaultWatchInterval = time.Second
)

// Runtime is process-level configuration taken from the environment
type Runtime struct {
	DBPath        string
	Addr          string
	WatchInterval time.Duration
	OpenBrowser   bool
}

// LoadDotenvIfPresent loads path into the environment when the file exists.
// Variables already set are left alone.
func LoadDotenvIfPresent(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

// LoadRuntime reads the runtime configuration from the environment
func LoadRuntime() Runtime {
	dbPath := envOrDefault(EnvDBPath, "")
	if dbPath == "" {
		dir, err := platform.GetDataDir()
		if err != nil {
			dir = "."
		}
		dbPath = filepath.Join(dir, DefaultDBName)
	}

	return Runtime{
		DBPath:        dbPath,
		Addr:          envOrDefault(EnvAddr, DefaultAddr),
		WatchInterval: millisOrDefault(EnvWatchInterval, DefaultWatchInterval),
		OpenBrowser:   boolOrDefault(EnvOpenBrowser, false),
	}
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func millisOrDefault(key string, fallback time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Millisecond
		}
	}
	return fallback
}

func boolOrDefault(key string, fallback bool) bool {
	if v := strings.TrimSpace(strings.ToLower(os.Getenv(key))); v != "" {
		switch v {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return fallback
}
