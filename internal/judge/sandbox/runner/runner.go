// Package runner turns a language profile into compile and run steps on the sandbox engine.
package runner

import (
	"context"

	"judgebox/internal/judge/sandbox/profile"
	"judgebox/internal/judge/sandbox/result"
	"judgebox/internal/judge/sandbox/spec"
)

// CompileRequest describes one compilation task.
type CompileRequest struct {
	SubmissionID   string
	Language       profile.LanguageSpec
	WorkDir        string
	Limits         spec.ResourceLimit
	RunAs          spec.Identity
	DisableNetwork bool
}

// RunRequest describes one execution task.
type RunRequest struct {
	SubmissionID string
	TestID       string
	Language     profile.LanguageSpec
	WorkDir      string
	// InputName is the workspace artifact fed to stdin. Empty means no input.
	InputName      string
	Limits         spec.ResourceLimit
	RunAs          spec.Identity
	DisableNetwork bool
}

// Runner orchestrates compile and run workflows.
type Runner interface {
	Compile(ctx context.Context, req CompileRequest) (result.CompileResult, error)
	Run(ctx context.Context, req RunRequest) (result.RunResult, error)
}
