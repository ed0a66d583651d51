// Package result defines sandbox execution results and verdict mapping.
package result

// Verdict represents the final outcome of execution.
type Verdict string

const (
	VerdictAC  Verdict = "AC"
	VerdictWA  Verdict = "WA"
	VerdictRE  Verdict = "RE"
	VerdictCE  Verdict = "CE"
	VerdictTLE Verdict = "TLE"
	// VerdictIE marks an infrastructure failure that is not attributable to the submitted code.
	VerdictIE Verdict = "IE"
)

// JudgeStatus is the progress stage of one evaluation.
type JudgeStatus string

const (
	StatusPending   JudgeStatus = "PENDING"
	StatusCompiling JudgeStatus = "COMPILING"
	StatusRunning   JudgeStatus = "RUNNING"
	StatusFinished  JudgeStatus = "FINISHED"
	StatusFailed    JudgeStatus = "FAILED"
)

// RunResult captures raw sandbox execution data.
type RunResult struct {
	ExitCode  int
	TimeMs    int64
	WallMs    int64
	MemoryKB  int64
	OutputKB  int64
	Stdout    string
	Stderr    string
	TimedOut  bool
	OomKilled bool
}

// CompileResult contains compilation outcomes.
type CompileResult struct {
	OK       bool   `json:"ok"`
	ExitCode int    `json:"exitCode"`
	TimeMs   int64  `json:"timeMs"`
	MemoryKB int64  `json:"memoryKb"`
	TimedOut bool   `json:"timedOut,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
}

// TestcaseResult contains per-testcase execution outcomes.
type TestcaseResult struct {
	Index    int     `json:"index"`
	Verdict  Verdict `json:"verdict"`
	TimeMs   int64   `json:"timeMs"`
	WallMs   int64   `json:"wallMs"`
	MemoryKB int64   `json:"memoryKb"`
	ExitCode int     `json:"exitCode"`
	IsSample bool    `json:"isSample,omitempty"`
}

// Evaluation is the submission-level outcome returned to the caller.
type Evaluation struct {
	SubmissionID string           `json:"submissionId"`
	Language     string           `json:"language"`
	Verdict      Verdict          `json:"verdict"`
	Stdout       string           `json:"stdout"`
	Stderr       string           `json:"stderr"`
	Compile      *CompileResult   `json:"compile,omitempty"`
	Tests        []TestcaseResult `json:"tests,omitempty"`
	// Total is the number of test cases submitted, Tests holds only the evaluated ones.
	Total      int   `json:"total"`
	ReceivedAt int64 `json:"receivedAt"`
	FinishedAt int64 `json:"finishedAt"`
	// ErrorCode and ErrorMessage are set only for IE.
	ErrorCode    int    `json:"errorCode,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// Execution is the outcome of one ad-hoc run without test cases.
// Success means the program ran to completion within its limits, whatever its exit status.
type Execution struct {
	Success  bool
	Output   string
	Error    string
	TimedOut bool
	WallMs   int64
}
