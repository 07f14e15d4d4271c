//go:build !linux && !darwin

package artifact

func readDependencyXattr(path string) (string, bool) { return "", false }

func writeDependencyXattr(path, value string) error { return nil }
