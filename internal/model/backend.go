package model

import "fmt"

// BackendKind selects the executor that receives a resolved item
type BackendKind string

const (
	// BackendDirect opens the resolved URL in the system browser
	BackendDirect BackendKind = "direct"

	// BackendAria2 sends an aria2.addUri JSON-RPC request
	BackendAria2 BackendKind = "aria2"

	// BackendCompanion sends an add envelope to the companion downloader
	BackendCompanion BackendKind = "companion"
)

// String returns the string representation of BackendKind
func (k BackendKind) String() string {
	return string(k)
}

// BackendKinds returns every supported backend in display order
func BackendKinds() []BackendKind {
	return []BackendKind{BackendAria2, BackendCompanion, BackendDirect}
}

// ParseBackendKind validates a backend name
func ParseBackendKind(s string) (BackendKind, error) {
	for _, kind := range BackendKinds() {
		if string(kind) == s {
			return kind, nil
		}
	}
	return "", fmt.Errorf("unknown backend %q", s)
}

// BackendProfile carries the settings of the active backend
type BackendProfile struct {
	Kind         BackendKind `json:"kind"`
	Endpoint     string      `json:"endpoint,omitempty"`
	Token        string      `json:"token,omitempty"`
	PathTemplate string      `json:"path_template,omitempty"`
	Proxy        string      `json:"proxy,omitempty"`
}
