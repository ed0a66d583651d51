package engine

import "judgebox/internal/judge/sandbox/security"

// ProfileResolver resolves a profile name into an isolation profile.
type ProfileResolver interface {
	Resolve(profile string) (security.IsolationProfile, error)
}

// Backend selects the isolation mechanism.
type Backend string

const (
	BackendProcess Backend = "process"
	BackendDocker  Backend = "docker"
)

// Config controls sandbox engine behavior.
type Config struct {
	CgroupRoot           string
	SeccompDir           string
	HelperPath           string
	StdoutStderrMaxBytes int64
	// CPUPeriodUs is the cgroup cpu.max period the fractional quota is applied to.
	CPUPeriodUs      int64
	EnableSeccomp    bool
	EnableCgroup     bool
	EnableNamespaces bool

	// ContainerWorkDir is where the docker backend mounts the workspace.
	ContainerWorkDir string
	PullImages       bool
}

const (
	defaultStdoutStderrMaxBytes int64 = 64 * 1024
	defaultCPUPeriodUs          int64 = 100000
	defaultHelperPath                 = "sandbox-init"
	defaultContainerWorkDir           = "/work"
)

func (c Config) withDefaults() Config {
	if c.StdoutStderrMaxBytes <= 0 {
		c.StdoutStderrMaxBytes = defaultStdoutStderrMaxBytes
	}
	if c.CPUPeriodUs <= 0 {
		c.CPUPeriodUs = defaultCPUPeriodUs
	}
	if c.HelperPath == "" {
		c.HelperPath = defaultHelperPath
	}
	if c.ContainerWorkDir == "" {
		c.ContainerWorkDir = defaultContainerWorkDir
	}
	return c
}
