//go:build linux

package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"judgebox/internal/judge/sandbox/result"
	"judgebox/internal/judge/sandbox/security"
	"judgebox/internal/judge/sandbox/spec"
	appErr "judgebox/pkg/errors"
	"judgebox/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	cpuPollInterval = 20 * time.Millisecond
	helperWaitDelay = time.Second
)

type linuxEngine struct {
	cfg      Config
	resolver ProfileResolver
	registry *runRegistry
}

// NewEngine creates a Linux sandbox engine that isolates each run in its own process group.
func NewEngine(cfg Config, resolver ProfileResolver) (Engine, error) {
	if resolver == nil {
		return nil, appErr.ValidationError("profile_resolver", "required")
	}
	return &linuxEngine{
		cfg:      cfg.withDefaults(),
		resolver: resolver,
		registry: newRunRegistry(),
	}, nil
}

func (e *linuxEngine) Run(ctx context.Context, runSpec spec.RunSpec) (result.RunResult, error) {
	if err := validateRunSpec(runSpec); err != nil {
		return result.RunResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return result.RunResult{}, err
	}

	isoProfile, err := e.resolver.Resolve(runSpec.Profile)
	if err != nil {
		return result.RunResult{}, appErr.InfrastructureError(err, "resolve profile %s failed", runSpec.Profile)
	}
	if runSpec.DisableNetwork {
		isoProfile.DisableNetwork = true
	}
	if e.cfg.SeccompDir != "" && isoProfile.SeccompProfile != "" && !filepath.IsAbs(isoProfile.SeccompProfile) {
		name := isoProfile.SeccompProfile
		if filepath.Ext(name) == "" {
			name += ".json"
		}
		isoProfile.SeccompProfile = filepath.Join(e.cfg.SeccompDir, name)
	}

	cgroupPath := ""
	if e.cfg.EnableCgroup {
		var cleanup func()
		cgroupPath, cleanup, err = createRunCgroup(e.cfg.CgroupRoot)
		if err != nil {
			return result.RunResult{}, err
		}
		defer cleanup()
		if err := applyCgroupLimits(cgroupPath, runSpec.Limits, e.cfg.CPUPeriodUs); err != nil {
			return result.RunResult{}, err
		}
		e.registry.add(runSpec.SubmissionID, cgroupPath)
		defer e.registry.remove(runSpec.SubmissionID, cgroupPath)
	}

	initReq := initRequest{
		RunSpec:        runSpec,
		Isolation:      isoProfile,
		EnableSeccomp:  e.cfg.EnableSeccomp,
		EnableNs:       e.cfg.EnableNamespaces,
		DropPrivileges: os.Geteuid() == 0 && !e.cfg.EnableNamespaces,
		CgroupPIDs:     cgroupPath != "",
	}
	// The helper blocks on this pipe, so nothing runs before it has joined the run cgroup.
	reqR, reqW, err := os.Pipe()
	if err != nil {
		return result.RunResult{}, appErr.InfrastructureError(err, "create request pipe failed")
	}
	defer reqW.Close()

	statusR, statusW, err := os.Pipe()
	if err != nil {
		reqR.Close()
		return result.RunResult{}, appErr.InfrastructureError(err, "create status pipe failed")
	}
	defer statusR.Close()

	// The helper is killed through the process group below, not by exec's context hook.
	cmd := exec.Command(e.cfg.HelperPath)
	cmd.SysProcAttr = buildSysProcAttr(isoProfile, e.cfg.EnableNamespaces, runSpec.RunAs)
	cmd.Stdin = reqR
	cmd.ExtraFiles = []*os.File{statusW}

	var helperOutput bytes.Buffer
	cmd.Stdout = &helperOutput
	cmd.Stderr = &helperOutput
	cmd.WaitDelay = helperWaitDelay

	start := time.Now()
	if err := cmd.Start(); err != nil {
		reqR.Close()
		statusW.Close()
		return result.RunResult{}, appErr.InfrastructureError(err, "start sandbox helper failed")
	}
	reqR.Close()
	statusW.Close()
	pid := cmd.Process.Pid

	if cgroupPath != "" {
		if err := addProcessToCgroup(cgroupPath, pid); err != nil {
			e.killProcessGroup(pid)
			_ = cmd.Wait()
			return result.RunResult{}, err
		}
	}
	go writeInitRequest(reqW, initReq)

	statusCh := make(chan string, 1)
	go func() {
		data, _ := io.ReadAll(io.LimitReader(statusR, 4096))
		statusCh <- strings.TrimSpace(string(data))
	}()

	var timedOut atomic.Bool
	done := make(chan struct{})
	go func() {
		var wallTimer <-chan time.Time
		if wall := durationFromMs(runSpec.Limits.WallTimeMs); wall > 0 {
			timer := time.NewTimer(wall)
			defer timer.Stop()
			wallTimer = timer.C
		}
		var cpuTick <-chan time.Time
		if cgroupPath != "" && runSpec.Limits.CPUTimeMs > 0 {
			ticker := time.NewTicker(cpuPollInterval)
			defer ticker.Stop()
			cpuTick = ticker.C
		}
		for {
			select {
			case <-ctx.Done():
				e.terminate(pid, cgroupPath)
				return
			case <-wallTimer:
				timedOut.Store(true)
				e.terminate(pid, cgroupPath)
				return
			case <-cpuTick:
				if used, ok := cgroupCPUTimeMs(cgroupPath); ok && used >= runSpec.Limits.CPUTimeMs {
					timedOut.Store(true)
					e.terminate(pid, cgroupPath)
					return
				}
			case <-done:
				return
			}
		}
	}()

	waitErr := cmd.Wait()
	close(done)
	wallMs := time.Since(start).Milliseconds()

	// Children that outlived the main process must not survive the attempt.
	e.terminate(pid, cgroupPath)

	if status := <-statusCh; status != "" {
		return result.RunResult{}, appErr.InfrastructureError(nil, "sandbox setup failed: %s", status)
	}
	if helperOutput.Len() > 0 {
		logger.Debug(ctx, "sandbox helper output", zap.String("output", helperOutput.String()))
	}

	stdoutPath := resolveHostPath(runSpec.StdoutPath, runSpec)
	stderrPath := resolveHostPath(runSpec.StderrPath, runSpec)
	runResult := result.RunResult{
		ExitCode:  exitCodeFromState(waitErr, cmd.ProcessState),
		TimeMs:    cpuTimeMs(cgroupPath, cmd.ProcessState),
		WallMs:    wallMs,
		MemoryKB:  memoryPeakKB(cgroupPath, cmd.ProcessState),
		OutputKB:  stdoutSizeKB(stdoutPath),
		Stdout:    readLimitedFile(stdoutPath, e.cfg.StdoutStderrMaxBytes),
		Stderr:    readLimitedFile(stderrPath, e.cfg.StdoutStderrMaxBytes),
		OomKilled: wasOomKilled(cgroupPath),
	}
	if cpuLimit := runSpec.Limits.CPUTimeMs; cpuLimit > 0 && runResult.TimeMs >= cpuLimit && runResult.ExitCode != 0 {
		timedOut.Store(true)
	}
	runResult.TimedOut = timedOut.Load()
	if runResult.TimedOut {
		runResult.ExitCode = -1
	}

	if err := ctx.Err(); err != nil && !runResult.TimedOut {
		return runResult, err
	}
	return runResult, nil
}

// terminate kills the whole process group and, when present, every process in the run cgroup.
func (e *linuxEngine) terminate(pid int, cgroupPath string) {
	e.killProcessGroup(pid)
	if cgroupPath != "" {
		_ = killCgroup(cgroupPath)
	}
}

func exitCodeFromState(err error, state *os.ProcessState) int {
	if state != nil {
		if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return 128 + int(ws.Signal())
		}
		return state.ExitCode()
	}
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func (e *linuxEngine) KillSubmission(ctx context.Context, submissionID string) error {
	if submissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	for _, cgroupPath := range e.registry.snapshot(submissionID) {
		if err := killCgroup(cgroupPath); err != nil {
			logger.Warn(ctx, "kill cgroup failed", zap.String("cgroup", cgroupPath), zap.Error(err))
		}
	}
	return nil
}

func (e *linuxEngine) killProcessGroup(pid int) {
	if pid <= 0 {
		return
	}
	_ = syscall.Kill(-pid, syscall.SIGKILL)
}

// writeInitRequest hands the request to the helper and closes the pipe so it sees EOF.
func writeInitRequest(w *os.File, req initRequest) {
	_ = json.NewEncoder(w).Encode(req)
	_ = w.Close()
}

// buildSysProcAttr puts the helper in its own process group. With namespaces, root inside the
// user namespace maps to the unprivileged run-as identity when the engine runs as root.
func buildSysProcAttr(profile security.IsolationProfile, enableNamespaces bool, runAs spec.Identity) *syscall.SysProcAttr {
	attr := &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
	if !enableNamespaces {
		return attr
	}

	cloneFlags := uintptr(syscall.CLONE_NEWNS | syscall.CLONE_NEWPID | syscall.CLONE_NEWUTS | syscall.CLONE_NEWIPC | syscall.CLONE_NEWUSER)
	if profile.DisableNetwork {
		cloneFlags |= syscall.CLONE_NEWNET
	}

	hostUID, hostGID := os.Getuid(), os.Getgid()
	if os.Geteuid() == 0 && runAs.UID > 0 {
		hostUID, hostGID = runAs.UID, runAs.GID
	}
	attr.Cloneflags = cloneFlags
	attr.GidMappingsEnableSetgroups = false
	attr.UidMappings = []syscall.SysProcIDMap{{ContainerID: 0, HostID: hostUID, Size: 1}}
	attr.GidMappings = []syscall.SysProcIDMap{{ContainerID: 0, HostID: hostGID, Size: 1}}
	return attr
}

func (e *linuxEngine) String() string {
	return fmt.Sprintf("process(helper=%s cgroup=%v ns=%v seccomp=%v)", e.cfg.HelperPath, e.cfg.EnableCgroup, e.cfg.EnableNamespaces, e.cfg.EnableSeccomp)
}
