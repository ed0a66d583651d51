//go:build !linux

package engine

import (
	"context"

	"judgebox/internal/judge/sandbox/result"
	"judgebox/internal/judge/sandbox/spec"
	appErr "judgebox/pkg/errors"
)

// unsupportedEngine lets the service start on non-Linux hosts; every run fails as IE.
// Use the docker backend there.
type unsupportedEngine struct{}

func NewEngine(cfg Config, resolver ProfileResolver) (Engine, error) {
	return unsupportedEngine{}, nil
}

func (unsupportedEngine) Run(ctx context.Context, runSpec spec.RunSpec) (result.RunResult, error) {
	if err := validateRunSpec(runSpec); err != nil {
		return result.RunResult{}, err
	}
	return result.RunResult{}, errProcessBackend()
}

func (unsupportedEngine) KillSubmission(ctx context.Context, submissionID string) error {
	return errProcessBackend()
}

func errProcessBackend() error {
	return appErr.New(appErr.SandboxUnavailable).WithMessage("process backend requires linux, set sandbox.backend to docker")
}
