package runner

import (
	"context"
	"strings"

	"judgebox/internal/judge/sandbox/engine"
	"judgebox/internal/judge/sandbox/observer"
	"judgebox/internal/judge/sandbox/profile"
	"judgebox/internal/judge/sandbox/result"
	"judgebox/internal/judge/sandbox/spec"
	appErr "judgebox/pkg/errors"
	"judgebox/pkg/utils/logger"

	"github.com/google/shlex"
	"go.uber.org/zap"
)

// Artifact names inside a workspace. Paths handed to the engine are relative to the work dir
// so that the same RunSpec works for a host process and a container mounting the workspace.
const (
	CompileLogName = "compile.log"
	StdoutName     = "stdout.txt"
	StderrName     = "stderr.txt"
	compileTestID  = "compile"
)

// DefaultRunner implements compile/run workflows for every language in the registry.
type DefaultRunner struct {
	eng     engine.Engine
	metrics observer.MetricsRecorder
}

// NewRunner creates a new runner backed by the sandbox engine.
func NewRunner(eng engine.Engine) *DefaultRunner {
	return NewRunnerWithObserver(eng, observer.NoopMetricsRecorder{})
}

// NewRunnerWithObserver creates a new runner with metrics hooks.
func NewRunnerWithObserver(eng engine.Engine, metrics observer.MetricsRecorder) *DefaultRunner {
	if metrics == nil {
		metrics = observer.NoopMetricsRecorder{}
	}
	return &DefaultRunner{eng: eng, metrics: metrics}
}

func (r *DefaultRunner) Compile(ctx context.Context, req CompileRequest) (result.CompileResult, error) {
	if err := validateCompileRequest(req); err != nil {
		return result.CompileResult{}, err
	}
	if !req.Language.CompileEnabled {
		return result.CompileResult{OK: true}, nil
	}

	cmd, err := buildCommand(req.Language.CompileCmdTpl, req.Language)
	if err != nil {
		return result.CompileResult{}, err
	}
	runSpec := spec.RunSpec{
		SubmissionID:   req.SubmissionID,
		TestID:         compileTestID,
		WorkDir:        req.WorkDir,
		Cmd:            cmd,
		Env:            req.Language.Env,
		StderrPath:     CompileLogName,
		Profile:        profile.ProfileName(req.Language.ID, profile.TaskTypeCompile),
		Image:          req.Language.Image,
		RunAs:          req.RunAs,
		DisableNetwork: req.DisableNetwork,
		Limits:         req.Limits,
	}

	runRes, err := r.eng.Run(ctx, runSpec)
	if err != nil {
		return result.CompileResult{}, err
	}
	compileRes := result.CompileResult{
		OK:       runRes.ExitCode == 0 && !runRes.TimedOut,
		ExitCode: runRes.ExitCode,
		TimeMs:   runRes.TimeMs,
		MemoryKB: runRes.MemoryKB,
		TimedOut: runRes.TimedOut,
	}
	if !compileRes.OK {
		compileRes.Stderr = compileDiagnostics(runRes)
		logger.Debug(ctx, "compile failed",
			zap.String("language", req.Language.ID),
			zap.Int("exit_code", runRes.ExitCode),
			zap.Bool("timed_out", runRes.TimedOut),
		)
	}
	r.metrics.ObserveCompile(ctx, req.Language.ID, compileRes.OK, compileRes.TimeMs, compileRes.MemoryKB)
	return compileRes, nil
}

func (r *DefaultRunner) Run(ctx context.Context, req RunRequest) (result.RunResult, error) {
	if err := validateRunRequest(req); err != nil {
		return result.RunResult{}, err
	}
	cmd, err := buildCommand(req.Language.RunCmdTpl, req.Language)
	if err != nil {
		return result.RunResult{}, err
	}
	runSpec := spec.RunSpec{
		SubmissionID:   req.SubmissionID,
		TestID:         req.TestID,
		WorkDir:        req.WorkDir,
		Cmd:            cmd,
		Env:            req.Language.Env,
		StdinPath:      req.InputName,
		StdoutPath:     StdoutName,
		StderrPath:     StderrName,
		Profile:        profile.ProfileName(req.Language.ID, profile.TaskTypeRun),
		Image:          req.Language.Image,
		RunAs:          req.RunAs,
		DisableNetwork: req.DisableNetwork,
		Limits:         req.Limits,
	}
	return r.eng.Run(ctx, runSpec)
}

// compileDiagnostics is what the compiler printed, or a short reason when it printed nothing.
func compileDiagnostics(res result.RunResult) string {
	text := res.Stderr
	if strings.TrimSpace(text) == "" {
		text = res.Stdout
	}
	if strings.TrimSpace(text) != "" {
		return text
	}
	if res.TimedOut {
		return "Compilation timed out"
	}
	return "Compilation failed"
}

func validateCompileRequest(req CompileRequest) error {
	if req.SubmissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	if req.WorkDir == "" {
		return appErr.ValidationError("work_dir", "required")
	}
	if req.Language.ID == "" {
		return appErr.ValidationError("language_id", "required")
	}
	return nil
}

func validateRunRequest(req RunRequest) error {
	if req.SubmissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	if req.TestID == "" {
		return appErr.ValidationError("test_id", "required")
	}
	if req.WorkDir == "" {
		return appErr.ValidationError("work_dir", "required")
	}
	if req.Language.ID == "" {
		return appErr.ValidationError("language_id", "required")
	}
	return nil
}

// buildCommand expands the placeholders of a command template and splits it shell-style.
func buildCommand(tpl string, lang profile.LanguageSpec) ([]string, error) {
	if strings.TrimSpace(tpl) == "" {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("command template is required")
	}
	binary := lang.BinaryFile
	if binary != "" && !strings.Contains(binary, "/") {
		binary = "./" + binary
	}
	expanded := strings.NewReplacer(
		"{src}", lang.SourceFile,
		"{bin}", binary,
		"{dir}", ".",
		"{main}", lang.MainName(),
	).Replace(tpl)

	fields, err := shlex.Split(expanded)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.InvalidParams, "parse command template failed")
	}
	if len(fields) == 0 {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("command is empty after expansion")
	}
	return fields, nil
}
