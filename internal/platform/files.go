package platform

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// Operating system constants
const (
	OSDarwin  = "darwin"
	OSWindows = "windows"
	OSLinux   = "linux"
	OSAndroid = "android"
)

// File permissions
const (
	DefaultDirPermissions = 0755
)

// Command constants
const (
	OpenCommand    = "open"
	XDGOpenCommand = "xdg-open"
	CmdCommand     = "cmd"
	StartCommand   = "start"
	WindowsCmdFlag = "/c"
)

// Application directory name under the user config dir
const (
	AppDirName = "media-dispatch"
)

// IllegalPathChars are removed from names used as path segments.
const IllegalPathChars = `\/:*?"<>|`

// Browsers tried on Linux when xdg-open is unavailable
var (
	LinuxBrowsers = []string{"sensible-browser", "x-www-browser", "firefox", "chromium", "google-chrome"}
)

// SanitizeFileName strips leading dots and characters that are illegal in
// filesystem paths.
func SanitizeFileName(name string) string {
	cleaned := strings.Map(func(r rune) rune {
		if strings.ContainsRune(IllegalPathChars, r) {
			return -1
		}
		return r
	}, name)
	return strings.TrimLeft(cleaned, ".")
}

// CreateDirectoryIfNotExists creates directory if it doesn't exist
func CreateDirectoryIfNotExists(dirPath string) error {
	if _, err := os.Stat(dirPath); os.IsNotExist(err) {
		return os.MkdirAll(dirPath, DefaultDirPermissions)
	}
	return nil
}

// GetDataDir returns the per-user directory holding the shared settings database
func GetDataDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		homeDir, homeErr := os.UserHomeDir()
		if homeErr != nil {
			return "", fmt.Errorf("failed to get user config directory: %w", err)
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, AppDirName), nil
}

// OpenURL opens the URL with the system default browser
func OpenURL(rawURL string) error {
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return fmt.Errorf("refusing to open non-http URL: %s", rawURL)
	}

	switch runtime.GOOS {
	case OSDarwin:
		return openURLMacOS(rawURL)
	case OSWindows:
		return openURLWindows(rawURL)
	case OSLinux:
		return openURLLinux(rawURL)
	case OSAndroid:
		return openURLAndroid(rawURL)
	default:
		return fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}
}

// openURLMacOS opens URL with default browser on macOS
func openURLMacOS(rawURL string) error {
	cmd := exec.Command(OpenCommand, rawURL)
	return cmd.Run()
}

// openURLWindows opens URL with default browser on Windows
func openURLWindows(rawURL string) error {
	cmd := exec.Command(CmdCommand, WindowsCmdFlag, StartCommand, "", rawURL)
	return cmd.Run()
}

// openURLLinux opens URL on Linux, trying xdg-open first
func openURLLinux(rawURL string) error {
	cmd := exec.Command(XDGOpenCommand, rawURL)
	if err := cmd.Run(); err == nil {
		return nil
	}

	for _, browser := range LinuxBrowsers {
		if _, err := exec.LookPath(browser); err == nil {
			return exec.Command(browser, rawURL).Start()
		}
	}

	return fmt.Errorf("no suitable browser found")
}

// openURLAndroid opens URL through the activity manager
func openURLAndroid(rawURL string) error {
	cmd := exec.Command("am", "start", "-a", "android.intent.action.VIEW", "-d", rawURL)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to open URL with activity manager: %w", err)
	}
	return nil
}
