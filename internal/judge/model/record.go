// Package model holds the judge records persisted in the cache and published as events.
package model

import "judgebox/internal/judge/sandbox/result"

// Progress counts evaluated test cases.
type Progress struct {
	TotalTests int `json:"totalTests"`
	DoneTests  int `json:"doneTests"`
}

// SubmissionRecord is what GET /submissions/:id returns. Evaluation is nil until the submission finishes.
type SubmissionRecord struct {
	SubmissionID string             `json:"submissionId"`
	UserID       string             `json:"userId,omitempty"`
	ProblemID    string             `json:"problemId,omitempty"`
	Language     string             `json:"language"`
	Status       result.JudgeStatus `json:"status"`
	Progress     Progress           `json:"progress"`
	ReceivedAt   int64              `json:"receivedAt"`
	Evaluation   *result.Evaluation `json:"evaluation,omitempty"`
}
