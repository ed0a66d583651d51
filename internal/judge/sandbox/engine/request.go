package engine

import (
	"judgebox/internal/judge/sandbox/security"
	"judgebox/internal/judge/sandbox/spec"
)

// initRequest is piped as JSON to the sandbox-init helper.
type initRequest struct {
	RunSpec        spec.RunSpec
	Isolation      security.IsolationProfile
	EnableSeccomp  bool
	EnableNs       bool
	DropPrivileges bool
	// CgroupPIDs is set when pids.max already bounds this run, so the helper skips
	// the per-uid RLIMIT_NPROC that concurrent runs would otherwise share.
	CgroupPIDs bool
}

// statusFD is the descriptor the helper reports setup failures on. It is close-on-exec in the
// helper, so an empty read after exit means the target command was executed.
const statusFD = 3
