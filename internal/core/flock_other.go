//go:build !linux && !darwin

package core

import (
	"os"

	"github.com/ehrlich-b/tangram-go/internal/tgerror"
)

// acquireInstanceLock creates the lock file without an advisory flock;
// platforms outside Linux/macOS have no sandbox backend either, so a
// best-effort marker is all the basic backend gets.
func acquireInstanceLock(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, tgerror.WrapKind(tgerror.KindIO, err, "core: open lock file %s", path)
	}
	return f, nil
}
