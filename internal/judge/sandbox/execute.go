package sandbox

import (
	"context"
	"strings"

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
	executeTestID           = "execute"
	executionTimeoutMessage = "Execution timeout"
	compileErrorPrefix      = "Compilation Error:\n"
)

// Execute runs code once against an optional input. It never compares output.
// An unsupported language returns a LanguageNotSupported error.
func (e *Evaluator) Execute(ctx context.Context, req ExecuteRequest) (result.Execution, error) {
	lang, err := e.languages.Resolve(req.Language)
	if err != nil {
		return result.Execution{}, err
	}
	lang = lang.ForSource(req.Code)

	id := uuid.NewString()
	ctx = context.WithValue(ctx, contextkey.SubmissionID, id)

	var exec result.Execution
	err = e.workspaces.With(ctx, func(ws *workspace.Workspace) error {
		if err := ws.WriteArtifact(lang.SourceFile, req.Code); err != nil {
			return err
		}
		if err := ws.WriteArtifact(InputName, req.Input); err != nil {
			return err
		}

		if lang.CompileEnabled {
			compileRes, err := e.runner.Compile(ctx, runner.CompileRequest{
				SubmissionID:   id,
				Language:       lang,
				WorkDir:        ws.Dir,
				Limits:         e.policy.CompileLimits(),
				RunAs:          e.policy.RunAs(),
				DisableNetwork: e.policy.DisableNetwork(),
			})
			if err != nil {
				return err
			}
			if !compileRes.OK {
				exec.Error = compileErrorPrefix + strings.TrimSpace(compileRes.Stderr)
				return nil
			}
		}

		runRes, err := e.runner.Run(ctx, runner.RunRequest{
			SubmissionID:   id,
			TestID:         executeTestID,
			Language:       lang,
			WorkDir:        ws.Dir,
			InputName:      InputName,
			Limits:         e.policy.RunLimits(lang),
			RunAs:          e.policy.RunAs(),
			DisableNetwork: e.policy.DisableNetwork(),
		})
		if err != nil {
			return err
		}
		exec.WallMs = runRes.WallMs
		if runRes.TimedOut {
			exec.TimedOut = true
			exec.Error = executionTimeoutMessage
			return nil
		}
		// Ad-hoc output is returned verbatim. A non-zero exit still counts as a finished run
		// and shows up through the captured stderr.
		exec.Success = true
		exec.Output = runRes.Stdout
		exec.Error = runRes.Stderr
		if exec.Error == "" && runRes.OomKilled {
			exec.Error = memoryLimitMessage
		}
		return nil
	})
	if err != nil {
		if !appErr.IsAbort(err) && !appErr.GetCode(err).IsInfrastructure() {
			err = appErr.InfrastructureError(err, "execution failed: %v", err)
		}
		logger.Error(ctx, "execution failed", zap.String("language", lang.ID), zap.Error(err))
		return result.Execution{}, err
	}
	return exec, nil
}
