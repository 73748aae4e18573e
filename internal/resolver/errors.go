package resolver

import (
	"errors"
	"fmt"
)

// Stage names the resolution step that failed
type Stage string

const (
	StageMetadata Stage = "metadata"
	StageValidate Stage = "validate"
	StageAssets   Stage = "assets"
)

// ErrExternal is returned for items embedded from another site
var ErrExternal = errors.New("item is hosted externally")

// ErrEmptyManifest is returned when the asset manifest lists no usable variant
var ErrEmptyManifest = errors.New("asset manifest is empty")

// ResolutionError reports why an identifier could not be resolved
type ResolutionError struct {
	ID    string
	Stage Stage
	Err   error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve %s: %s: %v", e.ID, e.Stage, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// IsResolutionError returns true when err is (or wraps) a ResolutionError
func IsResolutionError(err error) bool {
	var target *ResolutionError
	return errors.As(err, &target)
}
