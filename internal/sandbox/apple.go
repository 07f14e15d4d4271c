//go:build darwin

package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

type appleSandbox struct {
	cfg         Config
	tmpDir      string
	profilePath string
}

// newPlatform renders a sandbox-profile-language program and shells out to
// sandbox-exec, the userspace front end for the sandbox_init syscall: the
// kernel applies the profile in a pre_exec hook before the target ever runs.
func newPlatform(cfg Config) (Sandbox, error) {
	if _, err := exec.LookPath("sandbox-exec"); err != nil {
		return nil, fmt.Errorf("apple sandbox: sandbox-exec not available: %w", err)
	}
	dir, err := os.MkdirTemp("", "tangram-sandbox-*")
	if err != nil {
		return nil, fmt.Errorf("create sandbox tmpdir: %w", err)
	}
	profilePath := filepath.Join(dir, "profile.sb")
	if err := os.WriteFile(profilePath, []byte(buildSandboxProfile(cfg)), 0644); err != nil {
		return nil, fmt.Errorf("write sandbox profile: %w", err)
	}
	return &appleSandbox{cfg: cfg, tmpDir: dir, profilePath: profilePath}, nil
}

// buildSandboxProfile enumerates allowed read paths (essential system tools
// plus the artifact directory), allowed read-write paths (the working
// directory and the output directory), and an optional network allowance.
func buildSandboxProfile(cfg Config) string {
	var b strings.Builder
	b.WriteString("(version 1)\n(deny default)\n(allow process-fork)\n(allow process-exec)\n")

	b.WriteString("(allow file-read*\n")
	for _, p := range []string{"/usr/lib", "/usr/bin", "/bin", "/System/Library", cfg.ArtifactDir} {
		if p != "" {
			fmt.Fprintf(&b, "  (subpath %q)\n", p)
		}
	}
	b.WriteString(")\n")

	b.WriteString("(allow file-write* file-read*\n")
	for _, p := range []string{cfg.WorkDir, cfg.OutputDir} {
		if p != "" {
			fmt.Fprintf(&b, "  (subpath %q)\n", p)
		}
	}
	b.WriteString(")\n")

	if cfg.Network {
		b.WriteString("(allow network*)\n")
	}
	return b.String()
}

func (s *appleSandbox) Exec(ctx context.Context, name string, args []string, env map[string]string) (*exec.Cmd, error) {
	execArgs := append([]string{"-f", s.profilePath, name}, args...)
	cmd := exec.CommandContext(ctx, "sandbox-exec", execArgs...)
	cmd.Dir = s.cfg.WorkDir
	cmd.Env = s.buildEnv(env)
	return cmd, nil
}

// Paths reports the same host paths sandbox-exec was told to profile:
// there is no chroot on this backend, so the command line and the env seen
// inside the profile are built against real host paths directly.
func (s *appleSandbox) Paths() Paths {
	return Paths{
		Artifacts: s.cfg.ArtifactDir,
		Output:    s.cfg.OutputDir,
		Work:      s.cfg.WorkDir,
		Socket:    filepath.Join(s.tmpDir, "socket"),
	}
}

func (s *appleSandbox) buildEnv(taskEnv map[string]string) []string {
	p := s.Paths()
	env := []string{
		"HOME=" + filepath.Join(s.tmpDir, "home"),
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

// PostStart is a no-op: sandbox-exec enforces its profile from exec time
// onward; there is no pre_exec hook in this package to attach BSD resource
// limits to, so CPU/memory gating on macOS is the caller's context timeout.
func (s *appleSandbox) PostStart(pid int) error { return nil }

func (s *appleSandbox) Destroy() error {
	return os.RemoveAll(s.tmpDir)
}
