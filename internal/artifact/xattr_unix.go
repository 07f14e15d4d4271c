//go:build linux || darwin

package artifact

import "golang.org/x/sys/unix"

const dependencyXattr = "user.tangram.dependency"

// readDependencyXattr reads the xattr a checkout may tag a symlink with to
// declare "this path is actually a dependency on artifact X at subpath Y".
// The value is "<artifact-id-string>#<subpath>" with subpath possibly empty.
func readDependencyXattr(path string) (string, bool) {
	size, err := unix.Getxattr(path, dependencyXattr, nil)
	if err != nil || size <= 0 {
		return "", false
	}
	buf := make([]byte, size)
	n, err := unix.Getxattr(path, dependencyXattr, buf)
	if err != nil {
		return "", false
	}
	return string(buf[:n]), true
}

// writeDependencyXattr is the inverse of readDependencyXattr. CheckOut does
// not call it: a checked-out symlink carries no dependency annotation.
func writeDependencyXattr(path, value string) error {
	return unix.Setxattr(path, dependencyXattr, []byte(value), 0)
}
