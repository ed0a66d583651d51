//go:build linux

package engine

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"judgebox/internal/judge/sandbox/spec"
	appErr "judgebox/pkg/errors"

	"github.com/google/uuid"
)

// createRunCgroup makes a fresh cgroup for one run directly under root. The directory is keyed on
// an internal id so caller supplied ids never take part in the path.
func createRunCgroup(root string) (string, func(), error) {
	if root == "" {
		return "", func() {}, appErr.New(appErr.SandboxUnavailable).WithMessage("cgroup root is required")
	}
	root = filepath.Clean(root)
	cgroupPath := filepath.Join(root, "run-"+uuid.NewString())
	if !withinRoot(root, cgroupPath) {
		return "", func() {}, appErr.InfrastructureError(nil, "cgroup %s escapes %s", cgroupPath, root)
	}
	if err := os.MkdirAll(cgroupPath, 0750); err != nil {
		return "", func() {}, appErr.Wrapf(err, appErr.SandboxUnavailable, "create cgroup %s failed", cgroupPath)
	}
	cleanup := func() {
		_ = os.RemoveAll(cgroupPath)
	}
	return cgroupPath, cleanup, nil
}

func withinRoot(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func applyCgroupLimits(cgroupPath string, limits spec.ResourceLimit, periodUs int64) error {
	pidsValue := "max"
	if limits.PIDs > 0 {
		pidsValue = strconv.FormatInt(limits.PIDs, 10)
	}
	if err := writeCgroupValue(cgroupPath, "pids.max", pidsValue); err != nil {
		return err
	}
	if limits.MemoryMB > 0 {
		bytes := strconv.FormatInt(limits.MemoryMB*1024*1024, 10)
		if err := writeCgroupValue(cgroupPath, "memory.max", bytes); err != nil {
			return err
		}
		// No swap, otherwise memory.max is only a soft ceiling.
		if err := writeCgroupValue(cgroupPath, "memory.swap.max", "0"); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return writeCgroupValue(cgroupPath, "cpu.max", cpuMaxValue(limits.CPUQuota, periodUs))
}

// cpuMaxValue renders the cgroup v2 cpu.max line for a fractional core quota.
func cpuMaxValue(quota float64, periodUs int64) string {
	if periodUs <= 0 {
		periodUs = defaultCPUPeriodUs
	}
	if quota <= 0 {
		return fmt.Sprintf("max %d", periodUs)
	}
	quotaUs := int64(quota * float64(periodUs))
	if quotaUs < 1000 {
		quotaUs = 1000
	}
	return fmt.Sprintf("%d %d", quotaUs, periodUs)
}

func addProcessToCgroup(cgroupPath string, pid int) error {
	if pid <= 0 {
		return appErr.InfrastructureError(nil, "invalid pid %d", pid)
	}
	return writeCgroupValue(cgroupPath, "cgroup.procs", strconv.Itoa(pid))
}

func killCgroup(cgroupPath string) error {
	killPath := filepath.Join(cgroupPath, "cgroup.kill")
	if _, err := os.Stat(killPath); err != nil {
		return err
	}
	return os.WriteFile(killPath, []byte("1"), 0600)
}

func wasOomKilled(cgroupPath string) bool {
	if cgroupPath == "" {
		return false
	}
	data, err := os.ReadFile(filepath.Join(cgroupPath, "memory.events"))
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 || fields[0] != "oom_kill" {
			continue
		}
		val, _ := strconv.ParseInt(fields[1], 10, 64)
		return val > 0
	}
	return false
}

func memoryPeakKB(cgroupPath string, state *os.ProcessState) int64 {
	if cgroupPath != "" {
		if val, err := readCgroupInt(cgroupPath, "memory.peak"); err == nil && val > 0 {
			return val / 1024
		}
	}
	if state == nil {
		return 0
	}
	if usage, ok := state.SysUsage().(*syscall.Rusage); ok {
		return usage.Maxrss
	}
	return 0
}

// cgroupCPUTimeMs reads usage_usec from cpu.stat, which covers every process of the run.
func cgroupCPUTimeMs(cgroupPath string) (int64, bool) {
	if cgroupPath == "" {
		return 0, false
	}
	data, err := os.ReadFile(filepath.Join(cgroupPath, "cpu.stat"))
	if err != nil {
		return 0, false
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 || fields[0] != "usage_usec" {
			continue
		}
		usec, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0, false
		}
		return usec / 1000, true
	}
	return 0, false
}

func readCgroupInt(cgroupPath, name string) (int64, error) {
	data, err := os.ReadFile(filepath.Join(cgroupPath, name))
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
}

func writeCgroupValue(cgroupPath, name, value string) error {
	path := filepath.Join(cgroupPath, name)
	if err := os.WriteFile(path, []byte(value), 0640); err != nil {
		return appErr.Wrapf(err, appErr.SandboxUnavailable, "write %s failed", name)
	}
	return nil
}
