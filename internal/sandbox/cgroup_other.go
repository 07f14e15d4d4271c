//go:build !linux

package sandbox

// taskCgroup is a no-op outside Linux; no other platform exposes a
// cgroups-style per-tree limit interface.
type taskCgroup struct{}

func newCgroupManager(runID string, memLimit uint64, pidLimit uint32) (*taskCgroup, error) {
	return nil, nil
}

func (c *taskCgroup) AddPID(pid int) error { return nil }
func (c *taskCgroup) Destroy() error       { return nil }
