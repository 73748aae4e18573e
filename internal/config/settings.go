package config

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/ytget/media-dispatch/internal/model"
	"github.com/ytget/media-dispatch/internal/template"
)

// Settings keys in the shared store
const (
	KeyBackend           = "backend"
	KeyPathTemplate      = "path_template"
	KeyProxy             = "proxy"
	KeyAria2Endpoint     = "aria2_endpoint"
	KeyAria2Token        = "aria2_token"
	KeyCompanionEndpoint = "companion_endpoint"
	KeyCompanionToken    = "companion_token"
	KeyCookie            = "cookie"
	KeyAuthorization     = "authorization"
	KeyAPIBase           = "api_base"
	KeyCheckDownloadLink = "check_download_link"
	KeyJitterMinMS       = "jitter_min_ms"
	KeyJitterMaxMS       = "jitter_max_ms"
	KeyVersionSalt       = "version_salt"
)

// Default values
const (
	DefaultBackend           = model.BackendAria2
	DefaultPathTemplate      = "/Media/%#AUTHOR#%/%#TITLE#%[%#ID#%].mp4"
	DefaultAria2Endpoint     = "http://127.0.0.1:6800/jsonrpc"
	DefaultCompanionEndpoint = "http://127.0.0.1:6800/jsonrpc"
	DefaultAPIBase           = "https://api.iwara.tv"
	DefaultCheckDownloadLink = true
	DefaultJitterMinMS       = 200
	DefaultJitterMaxMS       = 800
	DefaultVersionSalt       = "5nFp9kmbNnHdAFhaqMvt"
)

// Jitter bounds
const (
	MaxJitterMS = 60_000
)

// Path template placeholders understood by the dispatcher
const (
	PlaceholderAuthor     = "AUTHOR"
	PlaceholderID         = "ID"
	PlaceholderTitle      = "TITLE"
	PlaceholderNowTime    = "NowTime"
	PlaceholderUploadTime = "UploadTime"
)

// Defaults returns the compiled-in value of every setting
func Defaults() map[string]any {
	return map[string]any{
		KeyBackend:           string(DefaultBackend),
		KeyPathTemplate:      DefaultPathTemplate,
		KeyProxy:             "",
		KeyAria2Endpoint:     DefaultAria2Endpoint,
		KeyAria2Token:        "",
		KeyCompanionEndpoint: DefaultCompanionEndpoint,
		KeyCompanionToken:    "",
		KeyCookie:            "",
		KeyAuthorization:     "",
		KeyAPIBase:           DefaultAPIBase,
		KeyCheckDownloadLink: DefaultCheckDownloadLink,
		KeyJitterMinMS:       DefaultJitterMinMS,
		KeyJitterMaxMS:       DefaultJitterMaxMS,
		KeyVersionSalt:       DefaultVersionSalt,
	}
}

// SecretKeys are left out of exports
var SecretKeys = map[string]bool{
	KeyAria2Token:     true,
	KeyCompanionToken: true,
	KeyCookie:         true,
	KeyAuthorization:  true,
}

// Settings is a typed view over the shared store
type Settings struct {
	store *Store
}

// NewSettings creates a new settings manager
func NewSettings(store *Store) *Settings {
	return &Settings{store: store}
}

// Store returns the underlying store
func (s *Settings) Store() *Store {
	return s.store
}

// GetBackend returns the active backend, falling back to the default for unknown names
func (s *Settings) GetBackend() model.BackendKind {
	kind, err := model.ParseBackendKind(s.store.String(KeyBackend))
	if err != nil {
		return DefaultBackend
	}
	return kind
}

// SetBackend selects the active backend
func (s *Settings) SetBackend(ctx context.Context, kind model.BackendKind) error {
	if _, err := model.ParseBackendKind(string(kind)); err != nil {
		return err
	}
	return s.store.Set(ctx, KeyBackend, string(kind))
}

// GetPathTemplate returns the output path template
func (s *Settings) GetPathTemplate() string {
	tmpl := s.store.String(KeyPathTemplate)
	if tmpl == "" {
		return DefaultPathTemplate
	}
	return tmpl
}

// SetPathTemplate sets the output path template, empty restores the default
func (s *Settings) SetPathTemplate(ctx context.Context, tmpl string) error {
	if tmpl == "" {
		tmpl = DefaultPathTemplate
	}
	if err := ValidatePathTemplate(tmpl); err != nil {
		return err
	}
	return s.store.Set(ctx, KeyPathTemplate, tmpl)
}

// ValidatePathTemplate rejects placeholders the dispatcher cannot fill
func ValidatePathTemplate(tmpl string) error {
	known := map[string]bool{
		PlaceholderAuthor:     true,
		PlaceholderID:         true,
		PlaceholderTitle:      true,
		PlaceholderNowTime:    true,
		PlaceholderUploadTime: true,
	}
	for _, name := range template.Placeholders(tmpl) {
		if !known[name] {
			return fmt.Errorf("unknown path placeholder %q", name)
		}
	}
	return nil
}

// GetProxy returns the download proxy, empty when unset
func (s *Settings) GetProxy() string {
	return s.store.String(KeyProxy)
}

// SetProxy sets the download proxy
func (s *Settings) SetProxy(ctx context.Context, proxy string) error {
	return s.store.Set(ctx, KeyProxy, proxy)
}

// GetAria2Endpoint returns the aria2 JSON-RPC endpoint
func (s *Settings) GetAria2Endpoint() string {
	if v := s.store.String(KeyAria2Endpoint); v != "" {
		return v
	}
	return DefaultAria2Endpoint
}

// GetCompanionEndpoint returns the companion downloader endpoint
func (s *Settings) GetCompanionEndpoint() string {
	if v := s.store.String(KeyCompanionEndpoint); v != "" {
		return v
	}
	return DefaultCompanionEndpoint
}

// Credentials returns the intercepted cookie and authorization header
func (s *Settings) Credentials() (cookie, authorization string) {
	return s.store.String(KeyCookie), s.store.String(KeyAuthorization)
}

// SetCredentials stores credentials captured from an authenticated request
func (s *Settings) SetCredentials(ctx context.Context, cookie, authorization string) error {
	if err := s.store.Set(ctx, KeyCookie, cookie); err != nil {
		return err
	}
	return s.store.Set(ctx, KeyAuthorization, authorization)
}

// GetAPIBase returns the content site API base URL
func (s *Settings) GetAPIBase() string {
	if v := s.store.String(KeyAPIBase); v != "" {
		return v
	}
	return DefaultAPIBase
}

// GetCheckDownloadLink returns whether descriptions are scanned for file-host links
func (s *Settings) GetCheckDownloadLink() bool {
	var v bool
	if err := s.store.Decode(KeyCheckDownloadLink, &v); err != nil {
		return DefaultCheckDownloadLink
	}
	return v
}

// GetVersionSalt returns the salt used for request signing
func (s *Settings) GetVersionSalt() string {
	if v := s.store.String(KeyVersionSalt); v != "" {
		return v
	}
	return DefaultVersionSalt
}

// GetJitterWindow returns the delay window inserted before each queue item
func (s *Settings) GetJitterWindow() (time.Duration, time.Duration) {
	minMS := clampJitter(s.store.Int(KeyJitterMinMS))
	maxMS := clampJitter(s.store.Int(KeyJitterMaxMS))
	if maxMS < minMS {
		maxMS = minMS
	}
	return time.Duration(minMS) * time.Millisecond, time.Duration(maxMS) * time.Millisecond
}

// SetJitterWindow sets the delay window, values are clamped to [0, MaxJitterMS]
func (s *Settings) SetJitterWindow(ctx context.Context, minMS, maxMS int) error {
	minMS = clampJitter(minMS)
	maxMS = clampJitter(maxMS)
	if maxMS < minMS {
		minMS, maxMS = maxMS, minMS
	}
	if err := s.store.Set(ctx, KeyJitterMinMS, minMS); err != nil {
		return err
	}
	return s.store.Set(ctx, KeyJitterMaxMS, maxMS)
}

func clampJitter(ms int) int {
	if ms < 0 {
		return 0
	}
	if ms > MaxJitterMS {
		return MaxJitterMS
	}
	return ms
}

// ActiveProfile returns the settings of the selected backend
func (s *Settings) ActiveProfile() model.BackendProfile {
	profile := model.BackendProfile{
		Kind:         s.GetBackend(),
		PathTemplate: s.GetPathTemplate(),
		Proxy:        s.GetProxy(),
	}

	switch profile.Kind {
	case model.BackendAria2:
		profile.Endpoint = s.GetAria2Endpoint()
		profile.Token = s.store.String(KeyAria2Token)
	case model.BackendCompanion:
		profile.Endpoint = s.GetCompanionEndpoint()
		profile.Token = s.store.String(KeyCompanionToken)
	}
	return profile
}

// GetBackendOptions returns available backends with display names
func (s *Settings) GetBackendOptions() map[model.BackendKind]string {
	return map[model.BackendKind]string{
		model.BackendAria2:     "Aria2 JSON-RPC",
		model.BackendCompanion: "Companion downloader",
		model.BackendDirect:    "Open in browser",
	}
}

// ValidateSetting checks that value is acceptable for key without writing it
func ValidateSetting(key string, value any) error {
	def, known := Defaults()[key]
	if !known {
		return fmt.Errorf("unknown setting %q", key)
	}

	switch key {
	case KeyBackend:
		name, ok := value.(string)
		if !ok {
			return fmt.Errorf("%s must be a string", key)
		}
		_, err := model.ParseBackendKind(name)
		return err
	case KeyPathTemplate:
		tmpl, ok := value.(string)
		if !ok {
			return fmt.Errorf("%s must be a string", key)
		}
		return ValidatePathTemplate(tmpl)
	}

	switch def.(type) {
	case string:
		if _, ok := value.(string); !ok {
			return fmt.Errorf("%s must be a string", key)
		}
	case bool:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("%s must be true or false", key)
		}
	case int:
		if _, ok := wholeNumber(value); !ok {
			return fmt.Errorf("%s must be a whole number", key)
		}
	}
	return nil
}

// Apply validates value and writes it through the setter that owns key
func (s *Settings) Apply(ctx context.Context, key string, value any) error {
	if err := ValidateSetting(key, value); err != nil {
		return err
	}

	switch key {
	case KeyBackend:
		kind, _ := model.ParseBackendKind(value.(string))
		return s.SetBackend(ctx, kind)
	case KeyPathTemplate:
		return s.SetPathTemplate(ctx, value.(string))
	case KeyJitterMinMS, KeyJitterMaxMS:
		n, _ := wholeNumber(value)
		lo, hi := s.GetJitterWindow()
		minMS, maxMS := int(lo.Milliseconds()), int(hi.Milliseconds())
		if key == KeyJitterMinMS {
			minMS = n
		} else {
			maxMS = n
		}
		return s.SetJitterWindow(ctx, minMS, maxMS)
	}
	return s.store.Set(ctx, key, value)
}

// wholeNumber accepts the integer shapes produced by JSON and TOML decoding
func wholeNumber(value any) (int, bool) {
	switch n := value.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	}
	return 0, false
}
