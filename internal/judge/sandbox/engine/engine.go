// Package engine runs one command inside an isolation boundary under enforced limits.
package engine

import (
	"context"
	"time"

	"judgebox/internal/judge/sandbox/result"
	"judgebox/internal/judge/sandbox/spec"
	appErr "judgebox/pkg/errors"
)

// Engine executes a RunSpec inside an isolated sandbox.
//
// Run returns a non-nil error only for infrastructure failures or cancellation; a program that
// crashes, exits non-zero or times out is reported through the RunResult.
type Engine interface {
	Run(ctx context.Context, runSpec spec.RunSpec) (result.RunResult, error)
	KillSubmission(ctx context.Context, submissionID string) error
}

func validateRunSpec(runSpec spec.RunSpec) error {
	if runSpec.SubmissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	if runSpec.TestID == "" {
		return appErr.ValidationError("test_id", "required")
	}
	if runSpec.WorkDir == "" {
		return appErr.ValidationError("work_dir", "required")
	}
	if len(runSpec.Cmd) == 0 {
		return appErr.ValidationError("cmd", "required")
	}
	if runSpec.Profile == "" {
		return appErr.ValidationError("profile", "required")
	}
	return nil
}

func durationFromMs(ms int64) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}
