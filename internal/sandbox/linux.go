//go:build linux

package sandbox

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/tangram-go/internal/logger"
)

// Dangerous syscalls to deny via seccomp once the sandbox root is set up.
// Architecture-specific syscalls live in deniedSyscallsArch.
var deniedSyscallsCommon = []uint32{
	unix.SYS_MOUNT,
	unix.SYS_UMOUNT2,
	unix.SYS_REBOOT,
	unix.SYS_SWAPON,
	unix.SYS_SWAPOFF,
	unix.SYS_KEXEC_LOAD,
	unix.SYS_INIT_MODULE,
	unix.SYS_FINIT_MODULE,
	unix.SYS_DELETE_MODULE,
	unix.SYS_PIVOT_ROOT,
	unix.SYS_PTRACE,
}

type linuxSandbox struct {
	cfg    Config
	tmpDir string
	cgroup *taskCgroup
}

// newPlatform builds a namespace + seccomp sandbox. It fails closed if this
// process can't create user namespaces, so New falls back to reporting an
// EnforcementError rather than running a task unsandboxed.
func newPlatform(cfg Config) (Sandbox, error) {
	if !hasNamespaceCapability() {
		return nil, fmt.Errorf("linux sandbox: need root or CAP_SYS_ADMIN for namespaces")
	}
	dir, err := os.MkdirTemp("", "tangram-sandbox-*")
	if err != nil {
		return nil, fmt.Errorf("create sandbox tmpdir: %w", err)
	}
	cg, err := newCgroupManager(randomSessionID(), cfg.MemLimit, 0)
	if err != nil {
		logger.Debug("sandbox: cgroup unavailable, falling back to prlimit only", "err", err)
	}
	return &linuxSandbox{cfg: cfg, tmpDir: dir, cgroup: cg}, nil
}

func randomSessionID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

func hasNamespaceCapability() bool {
	if os.Geteuid() == 0 {
		return true
	}
	// VERSION_1 covers caps 0-31, which includes CAP_SYS_ADMIN (cap 21).
	var hdr unix.CapUserHeader
	var data unix.CapUserData
	hdr.Version = unix.LINUX_CAPABILITY_VERSION_1
	hdr.Pid = 0
	if err := unix.Capget(&hdr, &data); err == nil {
		if data.Effective&(1<<unix.CAP_SYS_ADMIN) != 0 {
			return true
		}
	}
	if val, err := os.ReadFile("/proc/sys/kernel/unprivileged_userns_clone"); err == nil {
		return strings.TrimSpace(string(val)) == "1"
	}
	return probeUserNamespace()
}

// probeUserNamespace spawns a trivial child in a new user namespace to test support.
func probeUserNamespace() bool {
	cmd := exec.Command("true")
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Cloneflags: syscall.CLONE_NEWUSER,
		UidMappings: []syscall.SysProcIDMap{{
			ContainerID: os.Getuid(),
			HostID:      os.Getuid(),
			Size:        1,
		}},
		GidMappings: []syscall.SysProcIDMap{{
			ContainerID: os.Getgid(),
			HostID:      os.Getgid(),
			Size:        1,
		}},
	}
	return cmd.Run() == nil
}

// Exec always runs the target through the _sandbox_init re-exec wrapper: the
// wrapper gets CAP_SYS_ADMIN in its own user namespace to perform the three
// bind mounts and the chroot, then clones a PID+user namespace nested inside
// to drop to the real uid before execve. Keeping the wrapper itself out of a
// PID namespace leaves host /proc valid so Go can write its own uid_map.
func (s *linuxSandbox) Exec(ctx context.Context, name string, args []string, env map[string]string) (*exec.Cmd, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable for sandbox wrapper: %w", err)
	}

	wrapArgs := []string{"_sandbox_init",
		"--artifact-dir", s.cfg.ArtifactDir,
		"--output-dir", s.cfg.OutputDir,
		"--work-dir", s.cfg.WorkDir,
		"--uid", strconv.Itoa(os.Getuid()),
		"--gid", strconv.Itoa(os.Getgid()),
		"--log", filepath.Join(s.tmpDir, "sandbox_init.log"),
	}
	if s.cfg.Network {
		wrapArgs = append(wrapArgs, "--network")
	}
	wrapArgs = append(wrapArgs, "--")
	wrapArgs = append(wrapArgs, name)
	wrapArgs = append(wrapArgs, args...)

	cmd := exec.CommandContext(ctx, exe, wrapArgs...)
	cmd.Dir = s.cfg.WorkDir
	cmd.Env = s.buildEnv(env)
	cmd.SysProcAttr = s.sysProcAttr()
	return cmd, nil
}

// PostStart applies resource limits to the wrapper process via prlimit and,
// if a cgroup is available, moves it there for real RSS/PID-tree enforcement.
func (s *linuxSandbox) PostStart(pid int) error {
	for _, rl := range s.rlimits() {
		lim := unix.Rlimit{Cur: rl.value, Max: rl.value}
		if err := unix.Prlimit(pid, rl.resource, &lim, nil); err != nil {
			logger.Warn("sandbox: prlimit failed", "pid", pid, "resource", rl.resource, "value", rl.value, "err", err)
		}
	}
	if s.cgroup != nil {
		if err := s.cgroup.AddPID(pid); err != nil {
			logger.Warn("sandbox: add pid to cgroup", "pid", pid, "err", err)
		}
	}
	return nil
}

func (s *linuxSandbox) Destroy() error {
	if s.cgroup != nil {
		_ = s.cgroup.Destroy()
	}
	return os.RemoveAll(s.tmpDir)
}

// Paths reports the fixed mount points _sandbox_init binds the three host
// directories to inside the chroot. TANGRAM_PATH resolves to "/" so that
// "$TANGRAM_PATH/artifacts/<id>" lands on the artifacts bind mount.
func (s *linuxSandbox) Paths() Paths {
	return Paths{Artifacts: "/artifacts", Output: "/output", Work: "/work", Socket: "/socket"}
}

// buildEnv seeds the runtime contract: HOME, TANGRAM_PATH, the placeholder
// output path, and a reserved socket path, all in terms of the post-chroot
// mount points, plus whatever the task runner supplied (the task's own
// declared environment).
func (s *linuxSandbox) buildEnv(taskEnv map[string]string) []string {
	p := s.Paths()
	env := []string{
		"HOME=/home",
		"PATH=/usr/bin:/bin",
		"TANGRAM_PATH=" + filepath.Dir(p.Artifacts),
		"TANGRAM_PLACEHOLDER_OUTPUT=" + p.Output,
		"TANGRAM_SOCKET=" + p.Socket,
	}
	for k, v := range taskEnv {
		env = append(env, k+"="+v)
	}
	return env
}

func (s *linuxSandbox) sysProcAttr() *syscall.SysProcAttr {
	var flags uintptr = syscall.CLONE_NEWNS | syscall.CLONE_NEWIPC | syscall.CLONE_NEWUTS
	if !s.cfg.Network {
		flags |= syscall.CLONE_NEWNET
	}
	attr := &syscall.SysProcAttr{Cloneflags: flags}
	if os.Geteuid() != 0 {
		attr.Cloneflags |= syscall.CLONE_NEWUSER
		uid, gid := os.Getuid(), os.Getgid()
		// The wrapper needs CAP_SYS_ADMIN to mount and chroot, so it runs as
		// uid 0 inside its own namespace; it drops to the real uid itself
		// before execve'ing the task.
		attr.UidMappings = []syscall.SysProcIDMap{{ContainerID: 0, HostID: uid, Size: 1}}
		attr.GidMappings = []syscall.SysProcIDMap{{ContainerID: 0, HostID: gid, Size: 1}}
	}
	return attr
}

// rlimits returns resource limits for the sandboxed process. Only applies
// limits when explicitly configured — no defaults.
func (s *linuxSandbox) rlimits() []rlimitPair {
	var pairs []rlimitPair
	if s.cfg.CPULimit > 0 {
		pairs = append(pairs, rlimitPair{unix.RLIMIT_CPU, uint64(s.cfg.CPULimit.Seconds())})
	}
	if s.cfg.MemLimit > 0 {
		// RLIMIT_AS limits virtual address space, not physical RAM. JIT
		// runtimes reserve 1GB+ of virtual address space for code regions
		// alone; enforce a floor so they don't fail to start outright.
		mem := s.cfg.MemLimit
		const minVAS = 4 * 1024 * 1024 * 1024
		if mem < minVAS {
			mem = minVAS
		}
		pairs = append(pairs, rlimitPair{unix.RLIMIT_AS, mem})
	}
	if s.cfg.MaxFDs > 0 {
		pairs = append(pairs, rlimitPair{unix.RLIMIT_NOFILE, uint64(s.cfg.MaxFDs)})
	}
	return pairs
}

type rlimitPair struct {
	resource int
	value    uint64
}

// buildSeccompFilter constructs a BPF program that denies dangerous
// syscalls, returning SECCOMP_RET_ERRNO(EPERM) for them and
// SECCOMP_RET_ALLOW for everything else.
func buildSeccompFilter() []unix.SockFilter {
	denied := append(append([]uint32{}, deniedSyscallsCommon...), deniedSyscallsArch...)
	if len(denied) == 0 {
		return nil
	}

	prog := make([]unix.SockFilter, 0, len(denied)+3)
	prog = append(prog, unix.SockFilter{
		Code: unix.BPF_LD | unix.BPF_W | unix.BPF_ABS,
		K:    0, // offsetof(struct seccomp_data, nr)
	})
	for i, nr := range denied {
		prog = append(prog, unix.SockFilter{
			Code: unix.BPF_JMP | unix.BPF_JEQ | unix.BPF_K,
			Jt:   uint8(len(denied) - i),
			Jf:   0,
			K:    nr,
		})
	}
	prog = append(prog, unix.SockFilter{Code: unix.BPF_RET | unix.BPF_K, K: seccompRetAllow})
	prog = append(prog, unix.SockFilter{Code: unix.BPF_RET | unix.BPF_K, K: seccompRetErrno | uint32(unix.EPERM)})
	return prog
}

const (
	seccompRetAllow = 0x7fff0000
	seccompRetErrno = 0x00050000
)
