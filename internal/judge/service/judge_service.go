package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"judgebox/internal/judge/model"
	"judgebox/internal/judge/repository"
	"judgebox/internal/judge/sandbox"
	"judgebox/internal/judge/sandbox/observer"
	"judgebox/internal/judge/sandbox/result"
	appErr "judgebox/pkg/errors"
	"judgebox/pkg/utils/contextkey"
	"judgebox/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const (
	defaultQueueWait    = 2 * time.Second
	defaultMaxCodeBytes = 64 << 10
)

// Caller supplied ids end up in run registries, container labels and store keys.
var submissionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// RunKiller tears down every in-flight run of a submission.
type RunKiller interface {
	KillSubmission(ctx context.Context, submissionID string) error
}

// Service admits evaluations into a bounded pool and records their outcome.
type Service struct {
	judge           sandbox.Judge
	results         *repository.ResultRepository
	publisher       repository.VerdictEventPublisher
	metrics         observer.MetricsRecorder
	killer          RunKiller
	sem             *semaphore.Weighted
	queueWait       time.Duration
	evaluateTimeout time.Duration
	storeTimeout    time.Duration
	maxCodeBytes    int
}

// Config holds service dependencies and settings.
type Config struct {
	Judge sandbox.Judge
	// Results and Publisher are optional; without them verdicts are only returned to the caller.
	Results   *repository.ResultRepository
	Publisher repository.VerdictEventPublisher
	Metrics   observer.MetricsRecorder
	// Killer, when set, stops in-flight runs as soon as an evaluation is aborted or times out.
	Killer RunKiller

	MaxConcurrent   int64
	QueueWait       time.Duration
	EvaluateTimeout time.Duration
	StoreTimeout    time.Duration
	MaxCodeBytes    int
}

// NewService creates a new judge service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Judge == nil {
		return nil, fmt.Errorf("judge is required")
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	queueWait := cfg.QueueWait
	if queueWait <= 0 {
		queueWait = defaultQueueWait
	}
	maxCode := cfg.MaxCodeBytes
	if maxCode <= 0 {
		maxCode = defaultMaxCodeBytes
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observer.NoopMetricsRecorder{}
	}
	return &Service{
		judge:           cfg.Judge,
		results:         cfg.Results,
		publisher:       cfg.Publisher,
		metrics:         metrics,
		killer:          cfg.Killer,
		sem:             semaphore.NewWeighted(maxConcurrent),
		queueWait:       queueWait,
		evaluateTimeout: cfg.EvaluateTimeout,
		storeTimeout:    cfg.StoreTimeout,
		maxCodeBytes:    maxCode,
	}, nil
}

// Evaluate judges one submission. The verdict is returned even when storing or publishing it fails.
func (s *Service) Evaluate(ctx context.Context, sub sandbox.Submission) (result.Evaluation, error) {
	if err := s.validateCode(sub.Code); err != nil {
		return result.Evaluation{}, err
	}
	if sub.SubmissionID == "" {
		sub.SubmissionID = uuid.NewString()
	} else if err := validateSubmissionID(sub.SubmissionID); err != nil {
		return result.Evaluation{}, err
	}
	ctx = context.WithValue(ctx, contextkey.SubmissionID, sub.SubmissionID)

	if err := s.acquireSlot(ctx); err != nil {
		return result.Evaluation{}, err
	}
	defer s.releaseSlot()

	ctxEval := ctx
	if s.evaluateTimeout > 0 {
		var cancel context.CancelFunc
		ctxEval, cancel = context.WithTimeout(ctx, s.evaluateTimeout)
		defer cancel()
	}
	if s.killer != nil {
		stop := context.AfterFunc(ctxEval, func() {
			s.killRuns(ctx, sub.SubmissionID)
		})
		defer stop()
	}

	eval, err := s.judge.Evaluate(ctxEval, sub)
	s.recordOutcome(ctx, sub, eval)
	if err != nil {
		return eval, err
	}
	return eval, nil
}

// Execute runs code once without test cases.
func (s *Service) Execute(ctx context.Context, req sandbox.ExecuteRequest) (result.Execution, error) {
	if err := s.validateCode(req.Code); err != nil {
		return result.Execution{}, err
	}
	if err := s.acquireSlot(ctx); err != nil {
		return result.Execution{}, err
	}
	defer s.releaseSlot()

	ctxExec := ctx
	if s.evaluateTimeout > 0 {
		var cancel context.CancelFunc
		ctxExec, cancel = context.WithTimeout(ctx, s.evaluateTimeout)
		defer cancel()
	}
	return s.judge.Execute(ctxExec, req)
}

// GetResult returns the stored record of a finished submission, or its progress while it runs.
func (s *Service) GetResult(ctx context.Context, submissionID string) (model.SubmissionRecord, error) {
	if submissionID == "" {
		return model.SubmissionRecord{}, appErr.ValidationError("submission_id", "required")
	}
	if err := validateSubmissionID(submissionID); err != nil {
		return model.SubmissionRecord{}, err
	}
	if s.results == nil {
		return model.SubmissionRecord{}, appErr.New(appErr.ServiceUnavailable).WithMessage("result store is not configured")
	}
	record, err := s.results.Get(ctx, submissionID)
	if err == nil {
		return record, nil
	}
	if !appErr.Is(err, appErr.SubmissionNotFound) {
		return model.SubmissionRecord{}, err
	}
	return s.results.GetProgress(ctx, submissionID)
}

func (s *Service) validateCode(code string) error {
	if code == "" {
		return appErr.ValidationError("code", "required")
	}
	if len(code) > s.maxCodeBytes {
		return appErr.CodeTooLargeError(len(code), s.maxCodeBytes)
	}
	return nil
}

func validateSubmissionID(id string) error {
	if !submissionIDPattern.MatchString(id) {
		return appErr.New(appErr.InvalidFormat).
			WithMessage("submission id must be 1 to 64 letters, digits, '_' or '-'").
			WithDetail("field", "submission_id")
	}
	return nil
}

// killRuns kills whatever runs of the submission are still in flight.
func (s *Service) killRuns(ctx context.Context, submissionID string) {
	ctxKill := context.WithoutCancel(ctx)
	if s.storeTimeout > 0 {
		var cancel context.CancelFunc
		ctxKill, cancel = context.WithTimeout(ctxKill, s.storeTimeout)
		defer cancel()
	}
	if err := s.killer.KillSubmission(ctxKill, submissionID); err != nil {
		logger.Warn(ctx, "kill submission runs failed", zap.Error(err))
	}
}

func (s *Service) acquireSlot(ctx context.Context) error {
	ctxWait, cancel := context.WithTimeout(ctx, s.queueWait)
	defer cancel()
	if err := s.sem.Acquire(ctxWait, 1); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return appErr.New(appErr.JudgeQueueFull).WithMessage("judge pool is full")
	}
	s.metrics.InflightAdd(1)
	return nil
}

func (s *Service) releaseSlot() {
	s.metrics.InflightAdd(-1)
	s.sem.Release(1)
}

// recordOutcome stores and publishes the verdict. Failures are logged and never change the verdict.
// A caller abort is not a verdict and is not recorded.
func (s *Service) recordOutcome(ctx context.Context, sub sandbox.Submission, eval result.Evaluation) {
	if eval.Verdict == "" {
		return
	}
	if eval.Verdict == result.VerdictIE && errors.Is(ctx.Err(), context.Canceled) {
		return
	}
	ctxStore := context.WithoutCancel(ctx)
	if s.storeTimeout > 0 {
		var cancel context.CancelFunc
		ctxStore, cancel = context.WithTimeout(ctxStore, s.storeTimeout)
		defer cancel()
	}

	status := result.StatusFinished
	if eval.Verdict == result.VerdictIE {
		status = result.StatusFailed
	}
	if s.results != nil {
		record := model.SubmissionRecord{
			SubmissionID: eval.SubmissionID,
			UserID:       sub.UserID,
			ProblemID:    sub.ProblemID,
			Language:     eval.Language,
			Status:       status,
			Progress:     model.Progress{TotalTests: eval.Total, DoneTests: len(eval.Tests)},
			ReceivedAt:   eval.ReceivedAt,
			Evaluation:   &eval,
		}
		if err := s.results.Save(ctxStore, record); err != nil {
			logger.Warn(ctx, "store judge result failed", zap.Error(err))
		}
	}
	if s.publisher != nil {
		event := model.VerdictEvent{
			Type:         model.VerdictEventFinal,
			SubmissionID: eval.SubmissionID,
			UserID:       sub.UserID,
			ProblemID:    sub.ProblemID,
			Language:     eval.Language,
			Verdict:      eval.Verdict,
			Total:        eval.Total,
			Tests:        eval.Tests,
			ErrorCode:    eval.ErrorCode,
			CreatedAt:    time.Now().UnixMilli(),
		}
		if err := s.publisher.PublishVerdict(ctxStore, event); err != nil {
			logger.Warn(ctx, "publish verdict event failed", zap.Error(err))
		}
	}
}

// ReportStatus stores intermediate progress. It is best effort and never fails the evaluation.
func (s *Service) ReportStatus(ctx context.Context, update sandbox.StatusUpdate) error {
	if s.results == nil || update.SubmissionID == "" {
		return nil
	}
	ctxStore := context.WithoutCancel(ctx)
	if s.storeTimeout > 0 {
		var cancel context.CancelFunc
		ctxStore, cancel = context.WithTimeout(ctxStore, s.storeTimeout)
		defer cancel()
	}
	err := s.results.SaveProgress(ctxStore, model.SubmissionRecord{
		SubmissionID: update.SubmissionID,
		UserID:       update.UserID,
		ProblemID:    update.ProblemID,
		Language:     update.Language,
		Status:       update.Status,
		Progress:     model.Progress{TotalTests: update.TotalTests, DoneTests: update.DoneTests},
		ReceivedAt:   update.ReceivedAt,
	})
	if err != nil {
		logger.Warn(ctx, "store judge progress failed", zap.String("status", string(update.Status)), zap.Error(err))
	}
	return nil
}
