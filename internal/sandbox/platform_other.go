//go:build !linux && !darwin

package sandbox

import (
	"fmt"
	"runtime"
)

// newPlatform has no backend to offer here; New converts this into an
// EnforcementError pointing the caller at the basic backend.
func newPlatform(cfg Config) (Sandbox, error) {
	return nil, fmt.Errorf("no sandbox backend for %s", runtime.GOOS)
}
