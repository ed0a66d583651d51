//go:build linux

// Command sandbox-init prepares the isolation environment for a single run and then
// replaces itself with the target program.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// statusFD carries setup failures back to the engine. It is close-on-exec, so the engine
// reads EOF without data once the target program is running.
const statusFD = 3

const (
	sandboxHostname = "sandbox"
	maxOpenFiles    = 256
	// RLIMIT_NPROC counts every process of the uid, including other concurrent runs.
	// Without a cgroup it only guards against fork bombs, so it gets generous headroom.
	minNprocPerUID = 4096
)

func main() {
	status := os.NewFile(statusFD, "status")
	if status != nil {
		unix.CloseOnExec(statusFD)
	}
	if err := run(); err != nil {
		if status != nil {
			_, _ = fmt.Fprintln(status, err.Error())
		}
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func run() error {
	req, err := decodeRequest(os.Stdin)
	if err != nil {
		return err
	}
	if err := validateRequest(req); err != nil {
		return err
	}

	if !req.EnableNs {
		if req.Isolation.RootFS != "" || len(req.RunSpec.BindMounts) > 0 {
			return fmt.Errorf("namespaces disabled with rootfs or bind mounts")
		}
	} else {
		if err := unix.Mount("", "/", "", unix.MS_REC|unix.MS_PRIVATE, ""); err != nil {
			return fmt.Errorf("make mount private: %w", err)
		}
		if err := unix.Sethostname([]byte(sandboxHostname)); err != nil {
			return fmt.Errorf("set hostname: %w", err)
		}
		if err := applyBindMounts(req.Isolation.RootFS, req.RunSpec.BindMounts); err != nil {
			return err
		}
		if req.Isolation.RootFS != "" {
			if err := unix.Chroot(req.Isolation.RootFS); err != nil {
				return fmt.Errorf("chroot: %w", err)
			}
			if err := os.Chdir("/"); err != nil {
				return fmt.Errorf("chdir root: %w", err)
			}
		}
	}

	if err := os.Chdir(req.RunSpec.WorkDir); err != nil {
		return fmt.Errorf("chdir workdir: %w", err)
	}

	if err := applyRlimits(rlimitsFor(req.RunSpec.Limits, req.CgroupPIDs)); err != nil {
		return err
	}

	env := buildEnv(req.RunSpec.Env)
	cmdPath, err := lookPath(req.RunSpec.Cmd[0], env)
	if err != nil {
		return fmt.Errorf("resolve command: %w", err)
	}

	files, err := openIO(req.RunSpec)
	if err != nil {
		return err
	}

	if req.DropPrivileges {
		if err := dropPrivileges(req.RunSpec.RunAs); err != nil {
			return err
		}
	}

	if req.EnableSeccomp && req.Isolation.SeccompProfile != "" {
		if err := applySeccomp(req.Isolation.SeccompProfile); err != nil {
			return err
		}
	}

	// Nothing may be reported on stderr after this point; it belongs to the program.
	if err := redirectIO(files); err != nil {
		return err
	}
	return unix.Exec(cmdPath, req.RunSpec.Cmd, env)
}

func decodeRequest(r io.Reader) (initRequest, error) {
	var req initRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return initRequest{}, fmt.Errorf("decode request: %w", err)
	}
	return req, nil
}

func validateRequest(req initRequest) error {
	if len(req.RunSpec.Cmd) == 0 {
		return fmt.Errorf("command is required")
	}
	if req.RunSpec.WorkDir == "" {
		return fmt.Errorf("work dir is required")
	}
	if req.DropPrivileges && req.RunSpec.RunAs.UID <= 0 {
		return fmt.Errorf("run-as uid is required to drop privileges")
	}
	return nil
}

func applyBindMounts(rootfs string, mounts []mountSpec) error {
	for _, m := range mounts {
		if m.Source == "" || m.Target == "" {
			return fmt.Errorf("invalid mount spec")
		}
		target := m.Target
		if rootfs != "" {
			target = filepath.Join(rootfs, m.Target)
		}
		if err := ensureMountTarget(m.Source, target); err != nil {
			return err
		}
		if err := unix.Mount(m.Source, target, "", unix.MS_BIND|unix.MS_REC, ""); err != nil {
			return fmt.Errorf("bind mount %s: %w", m.Target, err)
		}
		if m.ReadOnly {
			if err := unix.Mount("", target, "", unix.MS_BIND|unix.MS_REMOUNT|unix.MS_RDONLY, ""); err != nil {
				return fmt.Errorf("remount readonly %s: %w", m.Target, err)
			}
		}
	}
	if rootfs != "" {
		procPath := filepath.Join(rootfs, "proc")
		if err := os.MkdirAll(procPath, 0755); err != nil {
			return fmt.Errorf("mkdir proc: %w", err)
		}
		if err := unix.Mount("proc", procPath, "proc", 0, ""); err != nil && !errors.Is(err, unix.EBUSY) {
			return fmt.Errorf("mount proc: %w", err)
		}
	}
	return nil
}

func ensureMountTarget(source, target string) error {
	info, err := os.Stat(source)
	if err != nil {
		return fmt.Errorf("stat mount source: %w", err)
	}
	if info.IsDir() {
		if err := os.MkdirAll(target, 0755); err != nil {
			return fmt.Errorf("mkdir mount target: %w", err)
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("mkdir mount target dir: %w", err)
	}
	file, err := os.OpenFile(target, os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("create mount target file: %w", err)
	}
	return file.Close()
}

type rlimit struct {
	name     string
	resource int
	value    uint64
}

// rlimitsFor lists the rlimits to apply for one run. The pids bound is left to pids.max
// when the run has its own cgroup.
func rlimitsFor(limits resourceLimit, cgroupPIDs bool) []rlimit {
	var out []rlimit
	if limits.CPUTimeMs > 0 {
		// One extra second so the engine's watchdog, not SIGXCPU, decides the verdict.
		seconds := uint64((limits.CPUTimeMs+999)/1000) + 1
		out = append(out, rlimit{"cpu", unix.RLIMIT_CPU, seconds})
	}
	if limits.OutputMB > 0 {
		out = append(out, rlimit{"fsize", unix.RLIMIT_FSIZE, uint64(limits.OutputMB * 1024 * 1024)})
	}
	if limits.StackMB > 0 {
		out = append(out, rlimit{"stack", unix.RLIMIT_STACK, uint64(limits.StackMB * 1024 * 1024)})
	}
	if limits.PIDs > 0 && !cgroupPIDs {
		out = append(out, rlimit{"nproc", unix.RLIMIT_NPROC, uint64(max(limits.PIDs, minNprocPerUID))})
	}
	out = append(out,
		rlimit{"core", unix.RLIMIT_CORE, 0},
		rlimit{"nofile", unix.RLIMIT_NOFILE, maxOpenFiles},
	)
	return out
}

func applyRlimits(limits []rlimit) error {
	for _, l := range limits {
		if err := unix.Setrlimit(l.resource, &unix.Rlimit{Cur: l.value, Max: l.value}); err != nil {
			return fmt.Errorf("set rlimit %s: %w", l.name, err)
		}
	}
	return nil
}

type ioFiles struct {
	stdin, stdout, stderr *os.File
}

func openIO(runSpec runSpec) (ioFiles, error) {
	stdin, err := os.Open(orDevNull(runSpec.StdinPath))
	if err != nil {
		return ioFiles{}, fmt.Errorf("open stdin: %w", err)
	}
	stdout, err := os.OpenFile(orDevNull(runSpec.StdoutPath), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return ioFiles{}, fmt.Errorf("open stdout: %w", err)
	}
	stderr, err := os.OpenFile(orDevNull(runSpec.StderrPath), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return ioFiles{}, fmt.Errorf("open stderr: %w", err)
	}
	return ioFiles{stdin: stdin, stdout: stdout, stderr: stderr}, nil
}

func redirectIO(files ioFiles) error {
	if err := unix.Dup3(int(files.stdin.Fd()), 0, 0); err != nil {
		return fmt.Errorf("dup stdin: %w", err)
	}
	if err := unix.Dup3(int(files.stdout.Fd()), 1, 0); err != nil {
		return fmt.Errorf("dup stdout: %w", err)
	}
	if err := unix.Dup3(int(files.stderr.Fd()), 2, 0); err != nil {
		return fmt.Errorf("dup stderr: %w", err)
	}
	_ = files.stdin.Close()
	_ = files.stdout.Close()
	_ = files.stderr.Close()
	return nil
}

func orDevNull(path string) string {
	if path == "" {
		return "/dev/null"
	}
	return path
}

func dropPrivileges(id identity) error {
	if err := unix.Setgroups([]int{id.GID}); err != nil {
		return fmt.Errorf("setgroups: %w", err)
	}
	if err := unix.Setresgid(id.GID, id.GID, id.GID); err != nil {
		return fmt.Errorf("setgid: %w", err)
	}
	if err := unix.Setresuid(id.UID, id.UID, id.UID); err != nil {
		return fmt.Errorf("setuid: %w", err)
	}
	return nil
}

func buildEnv(env []string) []string {
	out := make([]string, 0, len(env)+1)
	hasPath := false
	for _, kv := range env {
		if !strings.Contains(kv, "=") {
			continue
		}
		if strings.HasPrefix(kv, "PATH=") {
			hasPath = true
		}
		out = append(out, kv)
	}
	if !hasPath {
		out = append(out, "PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin")
	}
	return out
}

// lookPath resolves the command against the PATH the program will see.
func lookPath(name string, env []string) (string, error) {
	for _, kv := range env {
		if value, ok := strings.CutPrefix(kv, "PATH="); ok {
			if err := os.Setenv("PATH", value); err != nil {
				return "", err
			}
		}
	}
	return exec.LookPath(name)
}
