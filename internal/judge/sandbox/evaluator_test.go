package sandbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"judgebox/internal/judge/sandbox/limits"
	"judgebox/internal/judge/sandbox/profile"
	"judgebox/internal/judge/sandbox/result"
	"judgebox/internal/judge/sandbox/runner"
	"judgebox/internal/judge/sandbox/workspace"
	appErr "judgebox/pkg/errors"
)

// fakeRunner answers each run with the output of script applied to the current input.
type fakeRunner struct {
	compile    result.CompileResult
	compileErr error
	script     func(input string) (result.RunResult, error)

	mu        sync.Mutex
	compiles  int
	runs      int
	runReqs   []runner.RunRequest
	compileRq []runner.CompileRequest
}

func (f *fakeRunner) Compile(ctx context.Context, req runner.CompileRequest) (result.CompileResult, error) {
	f.mu.Lock()
	f.compiles++
	f.compileRq = append(f.compileRq, req)
	f.mu.Unlock()
	if _, err := os.Stat(filepath.Join(req.WorkDir, req.Language.SourceFile)); err != nil {
		return result.CompileResult{}, err
	}
	return f.compile, f.compileErr
}

func (f *fakeRunner) Run(ctx context.Context, req runner.RunRequest) (result.RunResult, error) {
	f.mu.Lock()
	f.runs++
	f.runReqs = append(f.runReqs, req)
	f.mu.Unlock()
	data, err := os.ReadFile(filepath.Join(req.WorkDir, req.InputName))
	if err != nil {
		return result.RunResult{}, err
	}
	return f.script(string(data))
}

type recordingReporter struct {
	mu      sync.Mutex
	updates []StatusUpdate
}

func (r *recordingReporter) ReportStatus(ctx context.Context, update StatusUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, update)
	return nil
}

func echo(input string) (result.RunResult, error) {
	return result.RunResult{Stdout: input + "\n", TimeMs: 5, WallMs: 6, MemoryKB: 1024}, nil
}

func newTestEvaluator(t *testing.T, fr *fakeRunner) (*Evaluator, *workspace.Manager) {
	t.Helper()
	reg, err := profile.NewRegistry(nil)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	mgr, err := workspace.NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("workspace manager: %v", err)
	}
	ev, err := NewEvaluator(Config{
		Languages:  reg,
		Workspaces: mgr,
		Runner:     fr,
		Policy:     limits.Default(),
	})
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}
	return ev, mgr
}

func assertNoWorkspaces(t *testing.T, mgr *workspace.Manager) {
	t.Helper()
	if mgr.Active() != 0 {
		t.Fatalf("active workspaces = %d", mgr.Active())
	}
	entries, err := os.ReadDir(mgr.Root())
	if err != nil {
		t.Fatalf("read root: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("workspace directories left behind: %d", len(entries))
	}
}

func cases(pairs ...string) []TestCase {
	out := make([]TestCase, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, TestCase{Input: pairs[i], ExpectedOutput: pairs[i+1]})
	}
	return out
}

func TestEvaluateAccepted(t *testing.T) {
	fr := &fakeRunner{script: echo}
	ev, mgr := newTestEvaluator(t, fr)

	got, err := ev.Evaluate(context.Background(), Submission{
		SubmissionID: "s1",
		Language:     "python",
		Code:         "print(input())",
		TestCases:    cases("1", "1", "2", "2\n", "3", "  3"),
	})
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if got.Verdict != result.VerdictAC {
		t.Fatalf("verdict = %s", got.Verdict)
	}
	if got.Stdout != "1\n2\n3" || got.Stderr != "" {
		t.Fatalf("stdout = %q stderr = %q", got.Stdout, got.Stderr)
	}
	if fr.runs != 3 || fr.compiles != 0 {
		t.Fatalf("runs = %d compiles = %d", fr.runs, fr.compiles)
	}
	if len(got.Tests) != 3 || got.Total != 3 {
		t.Fatalf("tests = %d total = %d", len(got.Tests), got.Total)
	}
	assertNoWorkspaces(t, mgr)
}

func TestEvaluateShortCircuits(t *testing.T) {
	tests := []struct {
		name       string
		script     func(string) (result.RunResult, error)
		tc         []TestCase
		wantRuns   int
		want       result.Verdict
		wantStdout string
		wantStderr string
	}{
		{
			name:       "wrong answer on second case",
			script:     echo,
			tc:         cases("1", "1", "2", "3", "4", "4"),
			wantRuns:   2,
			want:       result.VerdictWA,
			wantStdout: "1\n2",
		},
		{
			name: "runtime error reports stderr",
			script: func(in string) (result.RunResult, error) {
				if in == "boom" {
					return result.RunResult{ExitCode: 1, Stderr: "Traceback\n"}, nil
				}
				return echo(in)
			},
			tc:         cases("1", "1", "boom", "x", "3", "3"),
			wantRuns:   2,
			want:       result.VerdictRE,
			wantStdout: "1",
			wantStderr: "Traceback",
		},
		{
			name: "time limit on first case",
			script: func(in string) (result.RunResult, error) {
				return result.RunResult{TimedOut: true, ExitCode: -1}, nil
			},
			tc:         cases("1", "1", "2", "2"),
			wantRuns:   1,
			want:       result.VerdictTLE,
			wantStderr: timeLimitMessage,
		},
		{
			name: "oom is a runtime error",
			script: func(in string) (result.RunResult, error) {
				return result.RunResult{ExitCode: 137, OomKilled: true}, nil
			},
			tc:         cases("1", "1"),
			wantRuns:   1,
			want:       result.VerdictRE,
			wantStderr: memoryLimitMessage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fr := &fakeRunner{script: tt.script}
			ev, mgr := newTestEvaluator(t, fr)
			got, err := ev.Evaluate(context.Background(), Submission{
				SubmissionID: "s", Language: "python", Code: "x", TestCases: tt.tc,
			})
			if err != nil {
				t.Fatalf("Evaluate error: %v", err)
			}
			if got.Verdict != tt.want {
				t.Fatalf("verdict = %s, want %s", got.Verdict, tt.want)
			}
			if fr.runs != tt.wantRuns {
				t.Fatalf("runs = %d, want %d", fr.runs, tt.wantRuns)
			}
			if got.Stdout != tt.wantStdout || got.Stderr != tt.wantStderr {
				t.Fatalf("stdout = %q stderr = %q", got.Stdout, got.Stderr)
			}
			if last := got.Tests[len(got.Tests)-1]; last.Verdict != tt.want {
				t.Fatalf("last test verdict = %s", last.Verdict)
			}
			assertNoWorkspaces(t, mgr)
		})
	}
}

func TestEvaluateTrimOnlySurroundingWhitespace(t *testing.T) {
	tests := []struct {
		actual   string
		expected string
		want     result.Verdict
	}{
		{"3\n", "3", result.VerdictAC},
		{"\n 3 \r\n", "3\n\n", result.VerdictAC},
		{"3 4", "34", result.VerdictWA},
		{"3  4", "3 4", result.VerdictWA},
	}
	for _, tt := range tests {
		fr := &fakeRunner{script: func(string) (result.RunResult, error) {
			return result.RunResult{Stdout: tt.actual}, nil
		}}
		ev, _ := newTestEvaluator(t, fr)
		got, err := ev.Evaluate(context.Background(), Submission{
			Language: "python", Code: "x", TestCases: cases("", tt.expected),
		})
		if err != nil {
			t.Fatalf("Evaluate error: %v", err)
		}
		if got.Verdict != tt.want {
			t.Fatalf("%q vs %q: verdict = %s, want %s", tt.actual, tt.expected, got.Verdict, tt.want)
		}
	}
}

func TestEvaluateCompileErrorNeverRuns(t *testing.T) {
	fr := &fakeRunner{
		compile: result.CompileResult{OK: false, ExitCode: 1, Stderr: "Main.cpp:1:10: error: expected ';'"},
		script:  echo,
	}
	ev, mgr := newTestEvaluator(t, fr)

	got, err := ev.Evaluate(context.Background(), Submission{
		Language: "cpp", Code: "int main() { return 0 }", TestCases: cases("1", "1"),
	})
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if got.Verdict != result.VerdictCE {
		t.Fatalf("verdict = %s", got.Verdict)
	}
	if fr.runs != 0 {
		t.Fatalf("run invoked %d times after compile error", fr.runs)
	}
	if got.Stdout != "" || !strings.Contains(got.Stderr, "expected ';'") {
		t.Fatalf("stdout = %q stderr = %q", got.Stdout, got.Stderr)
	}
	if got.Compile == nil || got.Compile.OK {
		t.Fatalf("compile result = %+v", got.Compile)
	}
	assertNoWorkspaces(t, mgr)
}

func TestEvaluateCompilesOnceWithShorterDeadline(t *testing.T) {
	fr := &fakeRunner{compile: result.CompileResult{OK: true}, script: echo}
	ev, _ := newTestEvaluator(t, fr)

	_, err := ev.Evaluate(context.Background(), Submission{
		Language:  "java",
		Code:      "public class Solution { public static void main(String[] a) {} }",
		TestCases: cases("1", "1", "2", "2"),
	})
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if fr.compiles != 1 || fr.runs != 2 {
		t.Fatalf("compiles = %d runs = %d", fr.compiles, fr.runs)
	}
	compileWall := fr.compileRq[0].Limits.WallTimeMs
	runWall := fr.runReqs[0].Limits.WallTimeMs
	if compileWall <= 0 || compileWall >= runWall {
		t.Fatalf("compile wall %dms must be shorter than run wall %dms", compileWall, runWall)
	}
	if fr.compileRq[0].Language.SourceFile != "Solution.java" {
		t.Fatalf("source file = %s", fr.compileRq[0].Language.SourceFile)
	}
	if fr.runReqs[0].TestID != "1" || fr.runReqs[1].TestID != "2" {
		t.Fatalf("test ids = %s, %s", fr.runReqs[0].TestID, fr.runReqs[1].TestID)
	}
}

func TestEvaluateEmptyCasesAccepted(t *testing.T) {
	fr := &fakeRunner{script: echo}
	ev, _ := newTestEvaluator(t, fr)

	got, err := ev.Evaluate(context.Background(), Submission{Language: "js", Code: "x"})
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if got.Verdict != result.VerdictAC || got.Stdout != "" || fr.runs != 0 {
		t.Fatalf("verdict = %s stdout = %q runs = %d", got.Verdict, got.Stdout, fr.runs)
	}
	if got.Language != "javascript" {
		t.Fatalf("language = %s", got.Language)
	}
}

func TestEvaluateUnsupportedLanguage(t *testing.T) {
	fr := &fakeRunner{script: echo}
	ev, mgr := newTestEvaluator(t, fr)

	got, err := ev.Evaluate(context.Background(), Submission{Language: "cobol", Code: "x", TestCases: cases("1", "1")})
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if got.Verdict != result.VerdictCE || got.Stderr != "Unsupported language" || got.Stdout != "" {
		t.Fatalf("got %+v", got)
	}
	if fr.runs != 0 || mgr.Active() != 0 {
		t.Fatalf("runs = %d active = %d", fr.runs, mgr.Active())
	}
}

func TestEvaluateInfrastructureFailure(t *testing.T) {
	fr := &fakeRunner{script: func(in string) (result.RunResult, error) {
		if in == "2" {
			return result.RunResult{}, errors.New("docker daemon unreachable")
		}
		return echo(in)
	}}
	ev, mgr := newTestEvaluator(t, fr)

	got, err := ev.Evaluate(context.Background(), Submission{
		Language: "python", Code: "x", TestCases: cases("1", "1", "2", "2", "3", "3"),
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if !appErr.GetCode(err).IsInfrastructure() {
		t.Fatalf("code = %v", appErr.GetCode(err))
	}
	if got.Verdict != result.VerdictIE || got.Stdout != "" {
		t.Fatalf("verdict = %s stdout = %q", got.Verdict, got.Stdout)
	}
	if fr.runs != 2 {
		t.Fatalf("runs = %d", fr.runs)
	}
	assertNoWorkspaces(t, mgr)
}

func TestEvaluateCancellationReleasesWorkspace(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fr := &fakeRunner{script: func(in string) (result.RunResult, error) {
		cancel()
		return result.RunResult{}, context.Canceled
	}}
	ev, mgr := newTestEvaluator(t, fr)

	got, err := ev.Evaluate(ctx, Submission{Language: "python", Code: "x", TestCases: cases("1", "1")})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if got.Verdict != result.VerdictIE {
		t.Fatalf("verdict = %s", got.Verdict)
	}
	assertNoWorkspaces(t, mgr)
}

func TestEvaluateReportsProgress(t *testing.T) {
	fr := &fakeRunner{compile: result.CompileResult{OK: true}, script: echo}
	ev, _ := newTestEvaluator(t, fr)
	rep := &recordingReporter{}
	ev.SetStatusReporter(rep)

	_, err := ev.Evaluate(context.Background(), Submission{
		SubmissionID: "s9", UserID: "u1", Language: "c", Code: "x", TestCases: cases("1", "1", "2", "2"),
	})
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	want := []result.JudgeStatus{
		result.StatusCompiling, result.StatusRunning, result.StatusRunning, result.StatusRunning, result.StatusFinished,
	}
	if len(rep.updates) != len(want) {
		t.Fatalf("updates = %+v", rep.updates)
	}
	for i, u := range rep.updates {
		if u.Status != want[i] || u.SubmissionID != "s9" || u.TotalTests != 2 {
			t.Fatalf("update %d = %+v", i, u)
		}
	}
	final := rep.updates[len(want)-1]
	if final.DoneTests != 2 || final.Verdict != result.VerdictAC || final.UserID != "u1" || !final.Terminal() {
		t.Fatalf("final update = %+v", final)
	}
	if rep.updates[0].Verdict != "" || rep.updates[0].Terminal() {
		t.Fatalf("compiling update = %+v", rep.updates[0])
	}
}

func TestExecute(t *testing.T) {
	tests := []struct {
		name     string
		lang     string
		compile  result.CompileResult
		script   func(string) (result.RunResult, error)
		want     result.Execution
		wantRuns int
	}{
		{
			name:     "success",
			lang:     "python",
			script:   echo,
			want:     result.Execution{Success: true, Output: "hello\n", WallMs: 6},
			wantRuns: 1,
		},
		{
			name: "output keeps leading whitespace",
			lang: "python",
			script: func(string) (result.RunResult, error) {
				return result.RunResult{Stdout: "  *\n ***\n*****\n", WallMs: 2}, nil
			},
			want:     result.Execution{Success: true, Output: "  *\n ***\n*****\n", WallMs: 2},
			wantRuns: 1,
		},
		{
			name: "timeout",
			lang: "python",
			script: func(string) (result.RunResult, error) {
				return result.RunResult{TimedOut: true, ExitCode: -1, WallMs: 10000}, nil
			},
			want:     result.Execution{Error: "Execution timeout", TimedOut: true, WallMs: 10000},
			wantRuns: 1,
		},
		{
			name: "non-zero exit",
			lang: "python",
			script: func(string) (result.RunResult, error) {
				return result.RunResult{ExitCode: 1, Stdout: "partial\n", Stderr: "ZeroDivisionError\n", WallMs: 3}, nil
			},
			want:     result.Execution{Success: true, Output: "partial\n", Error: "ZeroDivisionError\n", WallMs: 3},
			wantRuns: 1,
		},
		{
			name: "memory limit without stderr",
			lang: "python",
			script: func(string) (result.RunResult, error) {
				return result.RunResult{ExitCode: 137, OomKilled: true, WallMs: 4}, nil
			},
			want:     result.Execution{Success: true, Error: "Memory limit exceeded", WallMs: 4},
			wantRuns: 1,
		},
		{
			name:     "compile error",
			lang:     "cpp",
			compile:  result.CompileResult{Stderr: "error: expected ';'\n"},
			script:   echo,
			want:     result.Execution{Error: "Compilation Error:\nerror: expected ';'"},
			wantRuns: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fr := &fakeRunner{compile: tt.compile, script: tt.script}
			ev, mgr := newTestEvaluator(t, fr)
			got, err := ev.Execute(context.Background(), ExecuteRequest{Language: tt.lang, Code: "x", Input: "hello"})
			if err != nil {
				t.Fatalf("Execute error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
			if fr.runs != tt.wantRuns {
				t.Fatalf("runs = %d", fr.runs)
			}
			assertNoWorkspaces(t, mgr)
		})
	}
}

func TestExecuteUnsupportedLanguage(t *testing.T) {
	ev, _ := newTestEvaluator(t, &fakeRunner{script: echo})
	_, err := ev.Execute(context.Background(), ExecuteRequest{Language: "brainfuck", Code: "+"})
	if !appErr.Is(err, appErr.LanguageNotSupported) {
		t.Fatalf("err = %v", err)
	}
}

func TestNewEvaluatorRequiresDependencies(t *testing.T) {
	if _, err := NewEvaluator(Config{}); err == nil {
		t.Fatal("expected error for missing dependencies")
	}
}
