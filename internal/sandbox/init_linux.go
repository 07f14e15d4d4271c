//go:build linux

package sandbox

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// SandboxInit is the entry point a re-exec'd process runs under when it is
// invoked as "_sandbox_init". It holds CAP_SYS_ADMIN in its own user
// namespace (mapped from the real uid by the parent's Cloneflags) and uses
// it to build the private root a task runs inside:
//
//  1. mount a tmpfs root and make it the pivot target
//  2. bind-mount the artifact dir read-only, the output dir and work dir
//     read-write, at fixed paths under that root
//  3. chroot into it and install a seccomp filter denying dangerous syscalls
//  4. clone a nested PID + user namespace, dropping to the real uid/gid,
//     and execve the task inside it
//
// The wrapper waits for that inner child and forwards its exit code, the
// way a process-group leader forwards a subprocess's status.
//
// Args format: --artifact-dir DIR --output-dir DIR --work-dir DIR
// --uid UID --gid GID [--network] [--log PATH] -- CMD ARGS...
func SandboxInit(args []string) {
	var artifactDir, outputDir, workDir, logPath string
	var uid, gid int
	var network bool
	var cmdStart int

	for i := 0; i < len(args); i++ {
		if args[i] == "--" {
			cmdStart = i + 1
			break
		}
		switch args[i] {
		case "--artifact-dir":
			i++
			artifactDir = args[i]
		case "--output-dir":
			i++
			outputDir = args[i]
		case "--work-dir":
			i++
			workDir = args[i]
		case "--uid":
			i++
			uid, _ = strconv.Atoi(args[i])
		case "--gid":
			i++
			gid, _ = strconv.Atoi(args[i])
		case "--log":
			i++
			logPath = args[i]
		case "--network":
			network = true
		}
	}
	if logPath != "" {
		if f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644); err == nil {
			log.SetOutput(f)
			defer f.Close()
		}
	}
	if cmdStart == 0 || cmdStart >= len(args) {
		log.Fatal("_sandbox_init: missing -- separator or command")
	}

	root, err := os.MkdirTemp("", "tangram-root-*")
	if err != nil {
		log.Fatalf("_sandbox_init: mkdir root: %v", err)
	}
	defer os.RemoveAll(root)

	if err := unix.Mount("", "/", "", unix.MS_PRIVATE|unix.MS_REC, ""); err != nil {
		log.Printf("_sandbox_init: make root private: %v", err)
	}
	if err := unix.Mount("tmpfs", root, "tmpfs", 0, "size=0,mode=0755"); err != nil {
		log.Fatalf("_sandbox_init: mount root tmpfs: %v", err)
	}

	binds := []struct {
		source, rel string
		readOnly    bool
	}{
		{artifactDir, "artifacts", true},
		{outputDir, "output", false},
		{workDir, "work", false},
	}
	for _, b := range binds {
		if b.source == "" {
			continue
		}
		target := root + "/" + b.rel
		if err := os.MkdirAll(target, 0755); err != nil {
			log.Fatalf("_sandbox_init: mkdir %s: %v", target, err)
		}
		if err := os.MkdirAll(b.source, 0755); err != nil {
			log.Fatalf("_sandbox_init: mkdir source %s: %v", b.source, err)
		}
		if err := unix.Mount(b.source, target, "", unix.MS_BIND|unix.MS_REC, ""); err != nil {
			log.Fatalf("_sandbox_init: bind %s -> %s: %v", b.source, target, err)
		}
		if b.readOnly {
			if err := unix.Mount("", target, "", unix.MS_REMOUNT|unix.MS_BIND|unix.MS_RDONLY, ""); err != nil {
				log.Printf("_sandbox_init: remount %s ro: %v", target, err)
			}
		}
	}
	homeDir := root + "/home"
	if err := os.MkdirAll(homeDir, 0755); err != nil {
		log.Fatalf("_sandbox_init: mkdir home: %v", err)
	}

	if err := unix.Chroot(root); err != nil {
		log.Fatalf("_sandbox_init: chroot: %v", err)
	}
	if err := os.Chdir("/work"); err != nil {
		log.Fatalf("_sandbox_init: chdir /work: %v", err)
	}

	if err := installSeccomp(); err != nil {
		log.Printf("_sandbox_init: seccomp: %v (continuing without)", err)
	}
	// Network namespace isolation is applied by the parent's own Cloneflags
	// before this wrapper ever starts, so network here only affects logging.
	_ = network

	cmdArgs := args[cmdStart:]
	// cmdArgs[0] is already a sandbox-visible absolute path (e.g.
	// /artifacts/<id>/bin/tool), rendered against these same mount roles
	// before the runner ever called Exec, so it resolves correctly post-chroot.
	cmd := exec.Command(cmdArgs[0], cmdArgs[1:]...)
	cmd.Dir = "/work"
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Cloneflags: syscall.CLONE_NEWPID | syscall.CLONE_NEWUSER,
		UidMappings: []syscall.SysProcIDMap{{ContainerID: uid, HostID: 0, Size: 1}},
		GidMappings: []syscall.SysProcIDMap{{ContainerID: gid, HostID: 0, Size: 1}},
	}

	if err := cmd.Start(); err != nil {
		log.Fatalf("_sandbox_init: start task: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	go func() {
		for sig := range sigCh {
			_ = cmd.Process.Signal(sig)
		}
	}()

	if err := cmd.Wait(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			os.Exit(exitErr.ExitCode())
		}
		log.Printf("_sandbox_init: wait: %v", err)
		os.Exit(1)
	}
	os.Exit(0)
}

// installSeccomp installs a BPF seccomp filter that denies dangerous
// syscalls (mount, umount, ptrace, ...). Must run after all mounts and the
// chroot are complete; the filter is inherited by the nested task process.
func installSeccomp() error {
	prog := buildSeccompFilter()
	if prog == nil {
		return nil
	}
	if _, _, errno := unix.RawSyscall(unix.SYS_PRCTL, unix.PR_SET_NO_NEW_PRIVS, 1, 0); errno != 0 {
		return fmt.Errorf("prctl(NO_NEW_PRIVS): %v", errno)
	}
	bpfProg := unix.SockFprog{Len: uint16(len(prog)), Filter: &prog[0]}
	if _, _, errno := unix.RawSyscall(unix.SYS_SECCOMP, 1, 0, uintptr(unsafe.Pointer(&bpfProg))); errno != 0 {
		return fmt.Errorf("seccomp(SET_MODE_FILTER): %v", errno)
	}
	return nil
}
