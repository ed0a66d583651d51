// Package spec defines the execution specification and resource limits.
package spec

// ResourceLimit describes hard limits enforced by the sandbox.
type ResourceLimit struct {
	CPUTimeMs  int64
	WallTimeMs int64
	MemoryMB   int64
	StackMB    int64
	OutputMB   int64
	PIDs       int64
	// CPUQuota is the fractional CPU share, e.g. 0.5 for half a core. Zero means unlimited.
	CPUQuota float64
}

// MountSpec describes a bind mount inside the sandbox.
type MountSpec struct {
	Source   string
	Target   string
	ReadOnly bool
}

// Identity is the unprivileged user the program runs as.
type Identity struct {
	UID int
	GID int
}

// RunSpec is the unified execution specification for one task.
type RunSpec struct {
	SubmissionID string
	TestID       string
	WorkDir      string
	Cmd          []string
	Env          []string
	StdinPath    string
	StdoutPath   string
	StderrPath   string
	BindMounts   []MountSpec
	Profile      string
	// Image is the execution environment reference used by container backends.
	Image          string
	RunAs          Identity
	DisableNetwork bool
	Limits         ResourceLimit
}
