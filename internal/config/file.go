package config

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// ImportFile reads a TOML settings file and applies every top-level key
// through the validating setters. The whole file is checked before anything
// is written. It returns the number of keys that were written.
func ImportFile(ctx context.Context, settings *Settings, path string) (int, error) {
	var values map[string]any
	meta, err := toml.DecodeFile(path, &values)
	if err != nil {
		return 0, fmt.Errorf("config: decode %s: %w", path, err)
	}

	var names []string
	for _, key := range meta.Keys() {
		if len(key) != 1 {
			continue
		}
		if err := ValidateSetting(key[0], values[key[0]]); err != nil {
			return 0, fmt.Errorf("config: %s: %w", path, err)
		}
		names = append(names, key[0])
	}

	// A window given in full is set in one step so the bounds are not
	// reordered against the current values.
	minRaw, hasMin := values[KeyJitterMinMS]
	maxRaw, hasMax := values[KeyJitterMaxMS]
	written := 0
	if hasMin && hasMax {
		minMS, _ := wholeNumber(minRaw)
		maxMS, _ := wholeNumber(maxRaw)
		if err := settings.SetJitterWindow(ctx, minMS, maxMS); err != nil {
			return written, err
		}
		written += 2
	}

	for _, name := range names {
		if hasMin && hasMax && (name == KeyJitterMinMS || name == KeyJitterMaxMS) {
			continue
		}
		if err := settings.Apply(ctx, name, values[name]); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

// ExportFile writes the current settings as TOML. Secrets are left out.
func ExportFile(store *Store, path string) error {
	out := make(map[string]any)
	for _, key := range store.Keys() {
		if SecretKeys[key] || key == BootstrapMarkerKey {
			continue
		}
		value := store.Get(key)
		if value == nil {
			continue
		}
		if f, ok := value.(float64); ok && f == math.Trunc(f) {
			value = int64(f)
		}
		out[key] = value
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create %s: %w", filepath.Dir(path), err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("config: create %s: %w", path, err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(out); err != nil {
		return fmt.Errorf("config: encode %s: %w", path, err)
	}
	return nil
}
