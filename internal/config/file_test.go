package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestImportFile(t *testing.T) {
	r := require.New(t)
	settings := newTestSettings(t)
	path := filepath.Join(t.TempDir(), "settings.toml")

	content := `
backend = "companion"
jitter_min_ms = 50
check_download_link = false
`
	r.NoError(os.WriteFile(path, []byte(content), 0o644))

	n, err := ImportFile(context.Background(), settings, path)
	r.NoError(err)
	r.Equal(3, n)
	r.Equal("companion", string(settings.GetBackend()))
	r.Equal(50, settings.Store().Int(KeyJitterMinMS))
	r.False(settings.GetCheckDownloadLink())
}

func TestImportFile_RejectsUnknownKey(t *testing.T) {
	r := require.New(t)
	settings := newTestSettings(t)
	path := filepath.Join(t.TempDir(), "settings.toml")
	r.NoError(os.WriteFile(path, []byte("backend = \"direct\"\ncolour = \"red\"\n"), 0o644))

	_, err := ImportFile(context.Background(), settings, path)
	r.Error(err)
	r.Contains(err.Error(), "colour")
	r.Equal(DefaultBackend, settings.GetBackend(), "nothing is written when a key is rejected")
}

func TestImportFile_ValidatesValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"unknown backend", `backend = "ftp"`, "unknown backend"},
		{"unknown placeholder", `path_template = "/x/%#COLOUR#%.mp4"`, "COLOUR"},
		{"wrong type", `check_download_link = "yes"`, "check_download_link"},
		{"fractional jitter", `jitter_min_ms = 1.5`, "jitter_min_ms"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := require.New(t)
			settings := newTestSettings(t)
			path := filepath.Join(t.TempDir(), "settings.toml")
			r.NoError(os.WriteFile(path, []byte("proxy = \"http://p:1\"\n"+tt.content+"\n"), 0o644))

			_, err := ImportFile(context.Background(), settings, path)
			r.Error(err)
			r.Contains(err.Error(), tt.want)
			r.Empty(settings.GetProxy(), "nothing is written when a value is rejected")
		})
	}
}

func TestImportFile_JitterWindow(t *testing.T) {
	r := require.New(t)
	settings := newTestSettings(t)
	path := filepath.Join(t.TempDir(), "settings.toml")
	r.NoError(os.WriteFile(path, []byte("jitter_min_ms = 1000\njitter_max_ms = 2000\n"), 0o644))

	n, err := ImportFile(context.Background(), settings, path)
	r.NoError(err)
	r.Equal(2, n)
	lo, hi := settings.GetJitterWindow()
	r.Equal(time.Second, lo)
	r.Equal(2*time.Second, hi)

	r.NoError(os.WriteFile(path, []byte("jitter_max_ms = 999999\n"), 0o644))
	_, err = ImportFile(context.Background(), settings, path)
	r.NoError(err)
	_, hi = settings.GetJitterWindow()
	r.Equal(time.Duration(MaxJitterMS)*time.Millisecond, hi, "clamped like the setter")
}

func TestExportFile_OmitsSecrets(t *testing.T) {
	r := require.New(t)
	settings := newTestSettings(t)
	ctx := context.Background()
	r.NoError(settings.SetCredentials(ctx, "sid=1", "Bearer abc"))

	path := filepath.Join(t.TempDir(), "out", "settings.toml")
	r.NoError(ExportFile(settings.Store(), path))

	data, err := os.ReadFile(path)
	r.NoError(err)
	text := string(data)
	r.Contains(text, `backend = "aria2"`)
	r.Contains(text, "jitter_max_ms = 800")
	r.False(strings.Contains(text, "sid=1"))
	r.False(strings.Contains(text, "Bearer"))

	// The exported file imports cleanly into a fresh store.
	fresh := newTestSettings(t)
	_, err = ImportFile(ctx, fresh, path)
	r.NoError(err)
}
