package model

import "judgebox/internal/judge/sandbox/result"

// VerdictEventType names the kind of verdict event.
type VerdictEventType string

const (
	VerdictEventFinal VerdictEventType = "final"
)

// VerdictEvent is published once per finished evaluation.
type VerdictEvent struct {
	Type         VerdictEventType        `json:"type"`
	SubmissionID string                  `json:"submissionId"`
	UserID       string                  `json:"userId,omitempty"`
	ProblemID    string                  `json:"problemId,omitempty"`
	Language     string                  `json:"language"`
	Verdict      result.Verdict          `json:"verdict"`
	Total        int                     `json:"total"`
	Tests        []result.TestcaseResult `json:"tests,omitempty"`
	ErrorCode    int                     `json:"errorCode,omitempty"`
	CreatedAt    int64                   `json:"createdAt"`
}
