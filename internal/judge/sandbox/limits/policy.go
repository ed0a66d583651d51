// Package limits holds the immutable resource policy applied to every compile and run.
package limits

import (
	"math"
	"runtime"
	"time"

	"judgebox/internal/judge/sandbox/profile"
	"judgebox/internal/judge/sandbox/spec"
	appErr "judgebox/pkg/errors"
)

const (
	DefaultRunWall        = 10 * time.Second
	DefaultCompileWall    = 5 * time.Second
	DefaultMemoryMB       = 256
	DefaultCompileMemMB   = 512
	DefaultStackMB        = 64
	DefaultCPUQuota       = 0.5
	DefaultPIDs           = 64
	DefaultOutputMaxBytes = 64 << 10
	DefaultRunAsUID       = 1000
	DefaultRunAsGID       = 1000
)

// Config is the user-facing policy configuration. Zero values take defaults.
type Config struct {
	RunWall          time.Duration `yaml:"runWall"`
	CompileWall      time.Duration `yaml:"compileWall"`
	MemoryMB         int64         `yaml:"memoryMB"`
	CompileMemoryMB  int64         `yaml:"compileMemoryMB"`
	StackMB          int64         `yaml:"stackMB"`
	CPUQuota         float64       `yaml:"cpuQuota"`
	PIDs             int64         `yaml:"pids"`
	OutputMaxBytes   int64         `yaml:"outputMaxBytes"`
	RunAsUID         int           `yaml:"runAsUid"`
	RunAsGID         int           `yaml:"runAsGid"`
	AllowNetworkRuns bool          `yaml:"allowNetworkRuns"`
}

// Policy is an immutable resource policy shared by all evaluations.
type Policy struct {
	runWall        time.Duration
	compileWall    time.Duration
	memoryMB       int64
	compileMemMB   int64
	stackMB        int64
	cpuQuota       float64
	pids           int64
	outputMaxBytes int64
	runAs          spec.Identity
	disableNetwork bool
}

// Default returns the policy built from an empty Config.
func Default() Policy {
	p, err := NewPolicy(Config{})
	if err != nil {
		panic(err)
	}
	return p
}

// NewPolicy validates cfg and fills defaults.
func NewPolicy(cfg Config) (Policy, error) {
	if cfg.RunWall == 0 {
		cfg.RunWall = DefaultRunWall
	}
	if cfg.CompileWall == 0 {
		cfg.CompileWall = DefaultCompileWall
	}
	if cfg.MemoryMB == 0 {
		cfg.MemoryMB = DefaultMemoryMB
	}
	if cfg.CompileMemoryMB == 0 {
		cfg.CompileMemoryMB = DefaultCompileMemMB
	}
	if cfg.StackMB == 0 {
		cfg.StackMB = DefaultStackMB
	}
	if cfg.CPUQuota == 0 {
		cfg.CPUQuota = DefaultCPUQuota
	}
	if cfg.PIDs == 0 {
		cfg.PIDs = DefaultPIDs
	}
	if cfg.OutputMaxBytes == 0 {
		cfg.OutputMaxBytes = DefaultOutputMaxBytes
	}
	if cfg.RunAsUID == 0 {
		cfg.RunAsUID = DefaultRunAsUID
	}
	if cfg.RunAsGID == 0 {
		cfg.RunAsGID = DefaultRunAsGID
	}

	switch {
	case cfg.RunWall < 0:
		return Policy{}, appErr.ValidationError("limits.runWall", "must be positive")
	case cfg.CompileWall < 0:
		return Policy{}, appErr.ValidationError("limits.compileWall", "must be positive")
	case cfg.CompileWall >= cfg.RunWall:
		return Policy{}, appErr.ValidationError("limits.compileWall", "must be shorter than runWall")
	case cfg.MemoryMB < 0 || cfg.CompileMemoryMB < 0 || cfg.StackMB < 0:
		return Policy{}, appErr.ValidationError("limits.memoryMB", "must be positive")
	case cfg.CPUQuota < 0 || cfg.CPUQuota > float64(runtime.NumCPU()):
		return Policy{}, appErr.ValidationError("limits.cpuQuota", "must be within (0, NumCPU]")
	case cfg.PIDs < 0:
		return Policy{}, appErr.ValidationError("limits.pids", "must be positive")
	case cfg.OutputMaxBytes < 0:
		return Policy{}, appErr.ValidationError("limits.outputMaxBytes", "must be positive")
	case cfg.RunAsUID < 0 || cfg.RunAsGID < 0:
		return Policy{}, appErr.ValidationError("limits.runAsUid", "must not be negative")
	}

	return Policy{
		runWall:        cfg.RunWall,
		compileWall:    cfg.CompileWall,
		memoryMB:       cfg.MemoryMB,
		compileMemMB:   cfg.CompileMemoryMB,
		stackMB:        cfg.StackMB,
		cpuQuota:       cfg.CPUQuota,
		pids:           cfg.PIDs,
		outputMaxBytes: cfg.OutputMaxBytes,
		runAs:          spec.Identity{UID: cfg.RunAsUID, GID: cfg.RunAsGID},
		disableNetwork: !cfg.AllowNetworkRuns,
	}, nil
}

// RunWall is the unscaled per-run deadline.
func (p Policy) RunWall() time.Duration { return p.runWall }

// CompileWall is the compile deadline.
func (p Policy) CompileWall() time.Duration { return p.compileWall }

// OutputMaxBytes bounds captured stdout and stderr.
func (p Policy) OutputMaxBytes() int64 { return p.outputMaxBytes }

// RunAs is the unprivileged identity for compile and run steps.
func (p Policy) RunAs() spec.Identity { return p.runAs }

// DisableNetwork reports whether run steps are cut off from the network.
func (p Policy) DisableNetwork() bool { return p.disableNetwork }

// CompileLimits returns limits for a compile step. Compilers are not scaled by language multipliers.
func (p Policy) CompileLimits() spec.ResourceLimit {
	wallMs := p.compileWall.Milliseconds()
	return spec.ResourceLimit{
		CPUTimeMs:  wallMs,
		WallTimeMs: wallMs,
		MemoryMB:   p.compileMemMB,
		StackMB:    p.stackMB,
		OutputMB:   outputMB(p.outputMaxBytes),
		PIDs:       p.pids,
		CPUQuota:   p.cpuQuota,
	}
}

// RunLimits returns limits for a run step with the language multipliers applied.
func (p Policy) RunLimits(lang profile.LanguageSpec) spec.ResourceLimit {
	wallMs := p.runWall.Milliseconds()
	limits := spec.ResourceLimit{
		CPUTimeMs:  wallMs,
		WallTimeMs: wallMs,
		MemoryMB:   p.memoryMB,
		StackMB:    p.stackMB,
		OutputMB:   outputMB(p.outputMaxBytes),
		PIDs:       p.pids,
		CPUQuota:   p.cpuQuota,
	}
	return applyMultipliers(limits, lang)
}

func applyMultipliers(limits spec.ResourceLimit, lang profile.LanguageSpec) spec.ResourceLimit {
	limits.CPUTimeMs = scaleLimit(limits.CPUTimeMs, lang.TimeMultiplier)
	limits.WallTimeMs = scaleLimit(limits.WallTimeMs, lang.TimeMultiplier)
	limits.MemoryMB = scaleLimit(limits.MemoryMB, lang.MemoryMultiplier)
	return limits
}

func scaleLimit(value int64, multiplier float64) int64 {
	if value <= 0 {
		return 0
	}
	if multiplier <= 0 {
		return value
	}
	return int64(math.Ceil(float64(value) * multiplier))
}

func outputMB(bytes int64) int64 {
	return int64(math.Ceil(float64(bytes) / float64(1<<20)))
}
