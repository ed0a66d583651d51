package controller

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"judgebox/internal/judge/model"
	"judgebox/internal/judge/sandbox"
	"judgebox/internal/judge/sandbox/result"
	appErr "judgebox/pkg/errors"
	"judgebox/pkg/utils/logger"
	"judgebox/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultExecuteLanguage = "python"
	submissionIDHeader     = "X-Submission-Id"
)

// JudgeService is what the controller needs from the judge service.
type JudgeService interface {
	Evaluate(ctx context.Context, sub sandbox.Submission) (result.Evaluation, error)
	Execute(ctx context.Context, req sandbox.ExecuteRequest) (result.Execution, error)
	GetResult(ctx context.Context, submissionID string) (model.SubmissionRecord, error)
}

// JudgeController handles judge HTTP endpoints.
type JudgeController struct {
	judgeService JudgeService
	serviceName  string
}

// NewJudgeController creates a new controller.
func NewJudgeController(judgeService JudgeService, serviceName string) *JudgeController {
	return &JudgeController{judgeService: judgeService, serviceName: serviceName}
}

// EvaluateRequest defines the evaluate payload.
type EvaluateRequest struct {
	Code         string             `json:"code"`
	Language     string             `json:"language"`
	TestCases    []sandbox.TestCase `json:"testCases"`
	SubmissionID string             `json:"submissionId"`
	UserID       string             `json:"userId"`
	ProblemID    string             `json:"problemId"`
}

// EvaluateResponse is the verdict body of /evaluate.
type EvaluateResponse struct {
	Verdict result.Verdict `json:"verdict"`
	Stdout  string         `json:"stdout"`
	Stderr  string         `json:"stderr"`
}

// ExecuteRequest defines the execute payload.
type ExecuteRequest struct {
	Code     string `json:"code"`
	Language string `json:"language"`
	Input    string `json:"input"`
}

// ExecuteResponse is the body of /execute. ExecutionTime is in seconds.
type ExecuteResponse struct {
	Success       bool     `json:"success"`
	Output        string   `json:"output"`
	Error         string   `json:"error"`
	ExecutionTime *float64 `json:"execution_time,omitempty"`
}

// HealthResponse is the liveness body.
type HealthResponse struct {
	Status    string  `json:"status"`
	Service   string  `json:"service"`
	Timestamp float64 `json:"timestamp"`
}

// Evaluate judges a submission against its test cases.
func (h *JudgeController) Evaluate(c *gin.Context) {
	var req EvaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	if strings.TrimSpace(req.Code) == "" || strings.TrimSpace(req.Language) == "" {
		response.BadRequest(c, "code and language are required")
		return
	}

	eval, err := h.judgeService.Evaluate(c.Request.Context(), sandbox.Submission{
		SubmissionID: req.SubmissionID,
		UserID:       req.UserID,
		ProblemID:    req.ProblemID,
		Language:     req.Language,
		Code:         req.Code,
		TestCases:    req.TestCases,
	})
	if eval.SubmissionID != "" {
		c.Header(submissionIDHeader, eval.SubmissionID)
	}
	if err != nil {
		if eval.Verdict != result.VerdictIE {
			response.Error(c, err)
			return
		}
		message := eval.ErrorMessage
		if message == "" {
			message = appErr.GetError(err).Error()
		}
		c.JSON(http.StatusInternalServerError, EvaluateResponse{Verdict: result.VerdictIE, Stderr: message})
		return
	}

	c.JSON(http.StatusOK, EvaluateResponse{
		Verdict: eval.Verdict,
		Stdout:  eval.Stdout,
		Stderr:  eval.Stderr,
	})
}

// Execute runs code once without comparing output.
func (h *JudgeController) Execute(c *gin.Context) {
	var req ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ExecuteResponse{Error: "Invalid request parameters"})
		return
	}
	if req.Code == "" {
		c.JSON(http.StatusBadRequest, ExecuteResponse{Error: "No code provided"})
		return
	}
	if req.Language == "" {
		req.Language = defaultExecuteLanguage
	}

	exec, err := h.judgeService.Execute(c.Request.Context(), sandbox.ExecuteRequest{
		Language: req.Language,
		Code:     req.Code,
		Input:    req.Input,
	})
	if err != nil {
		h.executeFailure(c, req.Language, err)
		return
	}

	seconds := float64(exec.WallMs) / 1000
	if exec.TimedOut {
		c.JSON(http.StatusOK, ExecuteResponse{Error: exec.Error, ExecutionTime: &seconds})
		return
	}
	c.JSON(http.StatusOK, ExecuteResponse{
		Success:       exec.Success,
		Output:        exec.Output,
		Error:         exec.Error,
		ExecutionTime: &seconds,
	})
}

func (h *JudgeController) executeFailure(c *gin.Context, language string, err error) {
	code := appErr.GetCode(err)
	switch {
	case code == appErr.LanguageNotSupported:
		c.JSON(http.StatusBadRequest, ExecuteResponse{Error: "Unsupported language: " + language})
	case code == appErr.Canceled || errors.Is(err, context.Canceled):
		c.Status(http.StatusRequestTimeout)
	case code.IsInfrastructure() || code == appErr.Timeout || errors.Is(err, context.DeadlineExceeded):
		logger.Error(c.Request.Context(), "execute failed", zap.String("language", language), zap.Error(err))
		c.JSON(http.StatusInternalServerError, ExecuteResponse{Error: appErr.GetError(err).Error()})
	default:
		response.Error(c, err)
	}
}

// GetResult returns the stored verdict, or the progress of a running submission.
func (h *JudgeController) GetResult(c *gin.Context) {
	submissionID := c.Param("id")
	if submissionID == "" {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	record, err := h.judgeService.GetResult(c.Request.Context(), submissionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, record)
}

// Health reports liveness only.
func (h *JudgeController) Health(c *gin.Context) {
	now := time.Now()
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "OK",
		Service:   h.serviceName,
		Timestamp: float64(now.UnixMilli()) / 1000,
	})
}
