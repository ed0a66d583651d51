// Package sandbox drives compile and run steps across the test cases of a submission.
package sandbox

import (
	"context"

	"judgebox/internal/judge/sandbox/profile"
	"judgebox/internal/judge/sandbox/result"
)

// TestCase is one input with its expected answer.
type TestCase struct {
	Input          string `json:"input"`
	ExpectedOutput string `json:"expectedOutput"`
	IsSample       bool   `json:"isSample,omitempty"`
}

// Submission is everything needed to judge one piece of code.
// UserID and ProblemID are opaque identifiers owned by the caller.
type Submission struct {
	SubmissionID string     `json:"submissionId"`
	UserID       string     `json:"userId"`
	ProblemID    string     `json:"problemId"`
	Language     string     `json:"language"`
	Code         string     `json:"code"`
	TestCases    []TestCase `json:"testCases"`
}

// ExecuteRequest is a single ad-hoc run without test cases.
type ExecuteRequest struct {
	Language string `json:"language"`
	Code     string `json:"code"`
	Input    string `json:"input"`
}

// LanguageResolver maps language identifiers to language specs.
type LanguageResolver interface {
	Resolve(id string) (profile.LanguageSpec, error)
}

// Judge is the high-level entrypoint used by the judge service.
type Judge interface {
	Evaluate(ctx context.Context, sub Submission) (result.Evaluation, error)
	Execute(ctx context.Context, req ExecuteRequest) (result.Execution, error)
}
