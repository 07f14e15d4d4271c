//go:build linux

package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ehrlich-b/tangram-go/internal/logger"
)

// taskCgroup is a cgroups v2 sub-cgroup holding one task's process tree.
// It exists because prlimit alone cannot express the limits a hermetic
// task needs: RLIMIT_AS bounds virtual address space rather than RSS, and
// RLIMIT_NPROC is per-user rather than per-tree.
type taskCgroup struct {
	path string // /sys/fs/cgroup/<own>/tangram-task-<run id>
}

// newCgroupManager builds a sub-cgroup of this process's own cgroup with
// the requested limits applied. Any unavailability — no cgroups v2, no
// write permission, controller delegation refused — degrades to (nil, nil)
// and the run falls back to prlimit-only enforcement; a nil *taskCgroup is
// valid to call.
func newCgroupManager(runID string, memLimit uint64, pidLimit uint32) (*taskCgroup, error) {
	if memLimit == 0 && pidLimit == 0 {
		return nil, nil
	}
	if _, err := os.Stat("/sys/fs/cgroup/cgroup.controllers"); err != nil {
		logger.Debug("sandbox: cgroups v2 unavailable, prlimit only")
		return nil, nil
	}

	own, err := ownCgroupPath()
	if err != nil {
		logger.Debug("sandbox: cannot read own cgroup, prlimit only", "err", err)
		return nil, nil
	}
	parent := filepath.Join("/sys/fs/cgroup", own)
	path := filepath.Join(parent, "tangram-task-"+runID)

	if err := os.MkdirAll(path, 0o755); err != nil {
		logger.Debug("sandbox: cannot create task cgroup, prlimit only", "path", path, "err", err)
		return nil, nil
	}

	var controllers []string
	if memLimit > 0 {
		controllers = append(controllers, "+memory")
	}
	if pidLimit > 0 {
		controllers = append(controllers, "+pids")
	}
	if err := delegateControllers(parent, controllers); err != nil {
		os.Remove(path)
		logger.Debug("sandbox: controller delegation refused, prlimit only", "err", err)
		return nil, nil
	}

	limits := map[string]uint64{}
	if memLimit > 0 {
		limits["memory.max"] = memLimit
	}
	if pidLimit > 0 {
		limits["pids.max"] = uint64(pidLimit)
	}
	for file, v := range limits {
		if err := os.WriteFile(filepath.Join(path, file), fmt.Appendf(nil, "%d", v), 0o644); err != nil {
			os.Remove(path)
			logger.Debug("sandbox: cannot apply cgroup limit, prlimit only", "file", file, "err", err)
			return nil, nil
		}
	}

	logger.Debug("sandbox: task cgroup ready", "path", path, "memory", memLimit, "pids", pidLimit)
	return &taskCgroup{path: path}, nil
}

// AddPID moves pid into this cgroup's process list.
func (c *taskCgroup) AddPID(pid int) error {
	if c == nil {
		return nil
	}
	return os.WriteFile(filepath.Join(c.path, "cgroup.procs"), fmt.Appendf(nil, "%d", pid), 0o644)
}

// Destroy removes the cgroup. Every process in it must have exited.
func (c *taskCgroup) Destroy() error {
	if c == nil {
		return nil
	}
	return os.Remove(c.path)
}

// ownCgroupPath returns this process's cgroup v2 path from
// /proc/self/cgroup ("0::<path>" entries; v1 lines are ignored).
func ownCgroupPath() (string, error) {
	data, err := os.ReadFile("/proc/self/cgroup")
	if err != nil {
		return "", fmt.Errorf("read /proc/self/cgroup: %w", err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		if rest, ok := strings.CutPrefix(strings.TrimSpace(line), "0::"); ok {
			return rest, nil
		}
	}
	return "", fmt.Errorf("no cgroup v2 entry in /proc/self/cgroup")
}

// delegateControllers enables controllers in parent's subtree_control.
// The v2 "no internal processes" rule means this fails EBUSY while the
// parent still has direct member processes — in that case this process is
// first moved into a tangram-daemon leaf under the same parent, then the
// write is retried.
func delegateControllers(parent string, controllers []string) error {
	if len(controllers) == 0 {
		return nil
	}
	payload := []byte(strings.Join(controllers, " "))
	control := filepath.Join(parent, "cgroup.subtree_control")

	err := os.WriteFile(control, payload, 0o644)
	if err == nil {
		return nil
	}
	if !strings.Contains(err.Error(), "device or resource busy") {
		return err
	}

	leaf := filepath.Join(parent, "tangram-daemon")
	if err := os.MkdirAll(leaf, 0o755); err != nil {
		return fmt.Errorf("create daemon leaf cgroup: %w", err)
	}
	if err := os.WriteFile(filepath.Join(leaf, "cgroup.procs"), fmt.Appendf(nil, "%d", os.Getpid()), 0o644); err != nil {
		return fmt.Errorf("move self to daemon leaf cgroup: %w", err)
	}
	return os.WriteFile(control, payload, 0o644)
}
