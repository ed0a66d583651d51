package sandbox

import (
	"context"

	"judgebox/internal/judge/sandbox/result"
)

// StatusUpdate is a progress snapshot taken while a submission is judged.
// Verdict holds the outcome of the last evaluated case and is empty before the first one.
type StatusUpdate struct {
	SubmissionID string
	UserID       string
	ProblemID    string
	Language     string
	Status       result.JudgeStatus
	Verdict      result.Verdict
	TotalTests   int
	DoneTests    int
	ReceivedAt   int64
}

// Terminal reports whether no further updates follow for the submission.
func (u StatusUpdate) Terminal() bool {
	return u.Status == result.StatusFinished || u.Status == result.StatusFailed
}

// StatusReporter receives progress snapshots. Implementations must not block judging.
type StatusReporter interface {
	ReportStatus(ctx context.Context, update StatusUpdate) error
}

func newStatusUpdate(sub Submission, eval result.Evaluation, status result.JudgeStatus, doneTests int) StatusUpdate {
	update := StatusUpdate{
		SubmissionID: eval.SubmissionID,
		UserID:       sub.UserID,
		ProblemID:    sub.ProblemID,
		Language:     eval.Language,
		Status:       status,
		TotalTests:   eval.Total,
		DoneTests:    doneTests,
		ReceivedAt:   eval.ReceivedAt,
	}
	if n := len(eval.Tests); n > 0 {
		update.Verdict = eval.Tests[n-1].Verdict
	}
	if update.Terminal() {
		update.Verdict = eval.Verdict
	}
	return update
}
