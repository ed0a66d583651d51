package sandbox

import (
	"context"
	"strconv"
	"strings"
	"time"

	"judgebox/internal/judge/sandbox/limits"
	"judgebox/internal/judge/sandbox/observer"
	"judgebox/internal/judge/sandbox/profile"
	"judgebox/internal/judge/sandbox/result"
	"judgebox/internal/judge/sandbox/runner"
	"judgebox/internal/judge/sandbox/workspace"
	appErr "judgebox/pkg/errors"
	"judgebox/pkg/utils/contextkey"
	"judgebox/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// InputName is the workspace artifact holding the stdin of the current run.
	InputName = "input.txt"

	unsupportedLanguageMessage = "Unsupported language"
	timeLimitMessage           = "Time limit exceeded"
	memoryLimitMessage         = "Memory limit exceeded"
)

// Config holds evaluator dependencies.
type Config struct {
	Languages  LanguageResolver
	Workspaces *workspace.Manager
	Runner     runner.Runner
	Policy     limits.Policy
	Metrics    observer.MetricsRecorder
}

// Evaluator judges submissions test case by test case and stops at the first failure.
type Evaluator struct {
	languages      LanguageResolver
	workspaces     *workspace.Manager
	runner         runner.Runner
	policy         limits.Policy
	metrics        observer.MetricsRecorder
	statusReporter StatusReporter
}

// NewEvaluator creates an evaluator with required dependencies.
func NewEvaluator(cfg Config) (*Evaluator, error) {
	if cfg.Languages == nil {
		return nil, appErr.New(appErr.JudgeSystemError).WithMessage("language resolver is required")
	}
	if cfg.Workspaces == nil {
		return nil, appErr.New(appErr.JudgeSystemError).WithMessage("workspace manager is required")
	}
	if cfg.Runner == nil {
		return nil, appErr.New(appErr.JudgeSystemError).WithMessage("runner is required")
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observer.NoopMetricsRecorder{}
	}
	return &Evaluator{
		languages:  cfg.Languages,
		workspaces: cfg.Workspaces,
		runner:     cfg.Runner,
		policy:     cfg.Policy,
		metrics:    metrics,
	}, nil
}

// SetStatusReporter injects a status reporter for intermediate updates.
func (e *Evaluator) SetStatusReporter(reporter StatusReporter) {
	e.statusReporter = reporter
}

// Evaluate compiles the submission once and runs its test cases in order.
// Judging outcomes, including an unsupported language, return a nil error.
// A non-nil error means the platform failed and the verdict is IE.
func (e *Evaluator) Evaluate(ctx context.Context, sub Submission) (result.Evaluation, error) {
	if sub.SubmissionID == "" {
		sub.SubmissionID = uuid.NewString()
	}
	ctx = context.WithValue(ctx, contextkey.SubmissionID, sub.SubmissionID)

	eval := result.Evaluation{
		SubmissionID: sub.SubmissionID,
		Language:     sub.Language,
		Total:        len(sub.TestCases),
		ReceivedAt:   time.Now().UnixMilli(),
	}

	lang, err := e.languages.Resolve(sub.Language)
	if err != nil {
		if !appErr.Is(err, appErr.LanguageNotSupported) {
			return eval, err
		}
		eval.Verdict = result.VerdictCE
		eval.Stderr = unsupportedLanguageMessage
		eval.FinishedAt = time.Now().UnixMilli()
		e.metrics.ObserveEvaluation(ctx, "unsupported", string(eval.Verdict))
		return eval, nil
	}
	lang = lang.ForSource(sub.Code)
	eval.Language = lang.ID

	err = e.workspaces.With(ctx, func(ws *workspace.Workspace) error {
		return e.judge(ctx, ws, lang, sub, &eval)
	})
	eval.FinishedAt = time.Now().UnixMilli()
	if err != nil {
		return e.fail(ctx, sub, eval, err)
	}

	e.reportStatus(ctx, sub, eval, result.StatusFinished, len(eval.Tests))
	e.metrics.ObserveEvaluation(ctx, lang.ID, string(eval.Verdict))
	logger.Info(ctx, "evaluation finished",
		zap.String("language", lang.ID),
		zap.String("verdict", string(eval.Verdict)),
		zap.Int("evaluated", len(eval.Tests)),
		zap.Int("total", eval.Total),
	)
	return eval, nil
}

func (e *Evaluator) judge(ctx context.Context, ws *workspace.Workspace, lang profile.LanguageSpec, sub Submission, eval *result.Evaluation) error {
	if err := ws.WriteArtifact(lang.SourceFile, sub.Code); err != nil {
		return err
	}

	if lang.CompileEnabled {
		e.reportStatus(ctx, sub, *eval, result.StatusCompiling, 0)
		compileRes, err := e.runner.Compile(ctx, runner.CompileRequest{
			SubmissionID:   sub.SubmissionID,
			Language:       lang,
			WorkDir:        ws.Dir,
			Limits:         e.policy.CompileLimits(),
			RunAs:          e.policy.RunAs(),
			DisableNetwork: e.policy.DisableNetwork(),
		})
		if err != nil {
			return err
		}
		eval.Compile = &compileRes
		if !compileRes.OK {
			eval.Verdict = result.VerdictCE
			eval.Stderr = compileRes.Stderr
			return nil
		}
	}

	e.reportStatus(ctx, sub, *eval, result.StatusRunning, 0)
	runLimits := e.policy.RunLimits(lang)
	eval.Verdict = result.VerdictAC
	var stdout, stderr []string

	for i, tc := range sub.TestCases {
		if err := ws.WriteArtifact(InputName, tc.Input); err != nil {
			return err
		}
		runRes, err := e.runner.Run(ctx, runner.RunRequest{
			SubmissionID:   sub.SubmissionID,
			TestID:         strconv.Itoa(i + 1),
			Language:       lang,
			WorkDir:        ws.Dir,
			InputName:      InputName,
			Limits:         runLimits,
			RunAs:          e.policy.RunAs(),
			DisableNetwork: e.policy.DisableNetwork(),
		})
		if err != nil {
			return err
		}

		verdict, output := classify(runRes, tc.ExpectedOutput)
		eval.Tests = append(eval.Tests, result.TestcaseResult{
			Index:    i,
			Verdict:  verdict,
			TimeMs:   runRes.TimeMs,
			WallMs:   runRes.WallMs,
			MemoryKB: runRes.MemoryKB,
			ExitCode: runRes.ExitCode,
			IsSample: tc.IsSample,
		})
		e.metrics.ObserveRun(ctx, lang.ID, string(verdict), runRes.TimeMs, runRes.MemoryKB, runRes.OutputKB)
		e.reportStatus(ctx, sub, *eval, result.StatusRunning, i+1)

		switch verdict {
		case result.VerdictTLE:
			stderr = append(stderr, timeLimitMessage)
		case result.VerdictRE:
			stderr = append(stderr, runtimeDiagnostics(runRes))
		default:
			stdout = append(stdout, output)
		}
		if verdict != result.VerdictAC {
			eval.Verdict = verdict
			break
		}
	}

	eval.Stdout = strings.Join(stdout, "\n")
	eval.Stderr = strings.Join(stderr, "\n")
	return nil
}

// classify turns one run into a per-case verdict.
// Only leading and trailing whitespace is ignored when comparing output; internal whitespace must match.
func classify(res result.RunResult, expected string) (result.Verdict, string) {
	output := strings.TrimSpace(res.Stdout)
	switch {
	case res.TimedOut:
		return result.VerdictTLE, output
	case res.ExitCode != 0 || res.OomKilled:
		return result.VerdictRE, output
	case output != strings.TrimSpace(expected):
		return result.VerdictWA, output
	}
	return result.VerdictAC, output
}

func runtimeDiagnostics(res result.RunResult) string {
	text := strings.TrimSpace(res.Stderr)
	if text == "" && res.OomKilled {
		return memoryLimitMessage
	}
	return text
}

// fail marks the evaluation as an infrastructure error. Context errors are kept as is
// so callers can tell a caller abort from a platform fault.
func (e *Evaluator) fail(ctx context.Context, sub Submission, eval result.Evaluation, err error) (result.Evaluation, error) {
	if !appErr.IsAbort(err) && !appErr.GetCode(err).IsInfrastructure() {
		err = appErr.InfrastructureError(err, "evaluation failed: %v", err)
	}
	eval.Verdict = result.VerdictIE
	eval.Stdout = ""
	eval.Stderr = ""
	eval.ErrorCode = int(appErr.GetCode(err))
	eval.ErrorMessage = err.Error()

	logger.Error(ctx, "evaluation failed",
		zap.String("language", eval.Language),
		zap.Int("evaluated", len(eval.Tests)),
		zap.Error(err),
	)
	e.reportStatus(ctx, sub, eval, result.StatusFailed, len(eval.Tests))
	e.metrics.ObserveEvaluation(ctx, eval.Language, string(eval.Verdict))
	return eval, err
}

func (e *Evaluator) reportStatus(ctx context.Context, sub Submission, eval result.Evaluation, status result.JudgeStatus, doneTests int) {
	if e.statusReporter == nil {
		return
	}
	_ = e.statusReporter.ReportStatus(ctx, newStatusUpdate(sub, eval, status, doneTests))
}
