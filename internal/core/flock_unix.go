//go:build linux || darwin

package core

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/tangram-go/internal/tgerror"
)

// acquireInstanceLock takes the advisory lock file at the instance root so
// two processes never mutate the same data directory at once. The lock is
// held for the life of the returned file and released by closing it.
func acquireInstanceLock(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, tgerror.WrapKind(tgerror.KindIO, err, "core: open lock file %s", path)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, tgerror.New(tgerror.KindInvalid, "core: instance at %s is locked by another process", path)
	}
	return f, nil
}
