package repl

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"judgebox/internal/cli/command"
	httpclient "judgebox/internal/cli/http"
	"judgebox/internal/cli/state"

	"github.com/fatih/color"
)

type scriptedReader struct {
	lines   []string
	prompts []string
}

func (r *scriptedReader) Readline() (string, error) {
	if len(r.lines) == 0 {
		return "", io.EOF
	}
	line := r.lines[0]
	r.lines = r.lines[1:]
	return line, nil
}

func (r *scriptedReader) SetPrompt(prompt string) {
	r.prompts = append(r.prompts, prompt)
}

func newSession(t *testing.T, server *httptest.Server, reader LineReader) (*Session, *bytes.Buffer, *state.SessionState, string) {
	t.Helper()
	color.NoColor = true
	out := &bytes.Buffer{}
	st := &state.SessionState{}
	statePath := filepath.Join(t.TempDir(), "state.json")
	s := New(httpclient.New(server.URL, time.Second), command.Registry(), st, statePath, false, reader, out)
	return s, out, st, statePath
}

func TestEvaluateRemembersSubmission(t *testing.T) {
	var got map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set(submissionIDHeader, "gen-1")
		_, _ = w.Write([]byte(`{"verdict":"AC","stdout":"5","stderr":""}`))
	}))
	defer server.Close()

	s, out, st, statePath := newSession(t, server, &scriptedReader{})
	err := s.Exec(context.Background(), `judge evaluate language=python code="print(5)" tests='[{"input":"","expectedOutput":"5"}]'`)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if !strings.Contains(out.String(), "verdict: AC") {
		t.Fatalf("missing verdict summary: %s", out.String())
	}
	if got["language"] != "python" || got["code"] != "print(5)" {
		t.Fatalf("unexpected payload: %v", got)
	}
	if st.LastSubmissionID != "gen-1" {
		t.Fatalf("last submission = %q", st.LastSubmissionID)
	}
	saved, err := state.Load(statePath)
	if err != nil || saved.LastSubmissionID != "gen-1" {
		t.Fatalf("state not saved: %+v %v", saved, err)
	}
}

func TestResultDefaultsToLastSubmission(t *testing.T) {
	var path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_, _ = w.Write([]byte(`{"code":0,"message":"Success","data":{"status":"FINISHED","progress":{"totalTests":2,"doneTests":2},"evaluation":{"verdict":"WA"}}}`))
	}))
	defer server.Close()

	s, out, st, _ := newSession(t, server, &scriptedReader{})
	st.LastSubmissionID = "s42"
	if err := s.Exec(context.Background(), "judge result"); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if path != "/submissions/s42" {
		t.Fatalf("path = %s", path)
	}
	if !strings.Contains(out.String(), "status: FINISHED (2/2) verdict: WA") {
		t.Fatalf("unexpected output: %s", out.String())
	}
}

func TestPromptsForMissingFields(t *testing.T) {
	var path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	reader := &scriptedReader{lines: []string{"abc"}}
	s, _, _, _ := newSession(t, server, reader)
	if err := s.Exec(context.Background(), "judge result"); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if path != "/submissions/abc" {
		t.Fatalf("path = %s", path)
	}
	if len(reader.prompts) == 0 || reader.prompts[0] != "submission_id: " {
		t.Fatalf("unexpected prompts: %v", reader.prompts)
	}
}

func TestExecErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()
	s, _, _, _ := newSession(t, server, &scriptedReader{})

	cases := []string{
		"judge",
		"judge unknown",
		"judge health oops",
		`judge execute code="unterminated`,
	}
	for _, line := range cases {
		if err := s.Exec(context.Background(), line); err == nil {
			t.Fatalf("expected error for %q", line)
		}
	}
}

func TestRunStopsOnExit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"OK"}`))
	}))
	defer server.Close()

	reader := &scriptedReader{lines: []string{"judge health", "exit", "judge health"}}
	s, out, _, _ := newSession(t, server, reader)
	s.Run(context.Background())
	if !strings.Contains(out.String(), "HTTP 200") || !strings.Contains(out.String(), "bye") {
		t.Fatalf("unexpected output: %s", out.String())
	}
	if len(reader.lines) != 1 {
		t.Fatalf("run should stop at exit, %d lines left", len(reader.lines))
	}
}

func TestSummarize(t *testing.T) {
	color.NoColor = true
	cases := []struct {
		action string
		body   string
		want   string
	}{
		{action: "evaluate", body: `{"verdict":"TLE"}`, want: "verdict: TLE"},
		{action: "execute", body: `{"success":true,"execution_time":0.25}`, want: "success in 0.250s"},
		{action: "execute", body: `{"success":false,"error":"No code provided"}`, want: "failed"},
		{action: "execute", body: `not json`, want: ""},
		{action: "health", body: `{"status":"OK"}`, want: ""},
	}
	for _, tc := range cases {
		if got := summarize(tc.action, []byte(tc.body)); got != tc.want {
			t.Fatalf("summarize(%s, %s) = %q, want %q", tc.action, tc.body, got, tc.want)
		}
	}
}
