package command

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestRegistryKeys(t *testing.T) {
	commands := Registry()
	for _, key := range []string{"judge execute", "judge evaluate", "judge health", "judge result"} {
		if _, ok := commands[key]; !ok {
			t.Fatalf("missing command %q", key)
		}
	}
}

func TestBuildExecuteRequestFromFiles(t *testing.T) {
	cmd := Registry()["judge execute"]
	params := Params{}
	params.Set("lang", "python")
	params.Set("source_file", writeFile(t, "a.py", "print(input())"))
	params.Set("input_file", writeFile(t, "in.txt", "42"))
	params.ApplyFileShortcuts(cmd.Fields)

	req, err := BuildRequest(cmd, params)
	if err != nil {
		t.Fatalf("BuildRequest: %v", err)
	}
	if req.Method != "POST" || req.Path != "/execute" {
		t.Fatalf("unexpected request: %+v", req)
	}
	var body map[string]string
	if err := json.Unmarshal(req.Body, &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["language"] != "python" || body["code"] != "print(input())" || body["input"] != "42" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestBuildEvaluateRequest(t *testing.T) {
	cmd := Registry()["judge evaluate"]
	params := Params{}
	params.Set("language", "cpp")
	params.Set("code", "int main(){}")
	params.Set("tests_file", writeFile(t, "tests.json", `{"testCases":[{"input":"2 3","expectedOutput":"5"}]}`))
	params.Set("submission_id", "s1")
	params.ApplyFileShortcuts(cmd.Fields)

	req, err := BuildRequest(cmd, params)
	if err != nil {
		t.Fatalf("BuildRequest: %v", err)
	}
	var body struct {
		Language     string     `json:"language"`
		Code         string     `json:"code"`
		TestCases    []TestCase `json:"testCases"`
		SubmissionID string     `json:"submissionId"`
	}
	if err := json.Unmarshal(req.Body, &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Language != "cpp" || body.SubmissionID != "s1" || len(body.TestCases) != 1 || body.TestCases[0].ExpectedOutput != "5" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestBuildEvaluateRequestErrors(t *testing.T) {
	cmd := Registry()["judge evaluate"]
	cases := []struct {
		name   string
		params Params
	}{
		{name: "no code", params: Params{"language": "cpp", "tests": "[]"}},
		{name: "no tests", params: Params{"language": "cpp", "code": "x"}},
		{name: "bad tests", params: Params{"language": "cpp", "code": "x", "tests": "{nope"}},
		{name: "missing file", params: Params{"language": "cpp", "source_file": "/does/not/exist", "tests": "[]"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.params.ApplyFileShortcuts(cmd.Fields)
			if _, err := BuildRequest(cmd, tc.params); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestBuildResultPath(t *testing.T) {
	cmd := Registry()["judge result"]
	params := Params{}
	params.Set("submission_id", "abc")
	req, err := BuildRequest(cmd, params)
	if err != nil {
		t.Fatalf("BuildRequest: %v", err)
	}
	if req.Path != "/submissions/abc" || req.Body != nil {
		t.Fatalf("unexpected request: %+v", req)
	}
	if _, err := BuildRequest(cmd, Params{}); err == nil {
		t.Fatal("expected missing id error")
	}
}

func TestParseTestCases(t *testing.T) {
	cases, err := ParseTestCases(`[{"input":"1","expectedOutput":"1","isSample":true}]`)
	if err != nil {
		t.Fatalf("ParseTestCases: %v", err)
	}
	if len(cases) != 1 || !cases[0].IsSample {
		t.Fatalf("unexpected cases: %+v", cases)
	}
	if _, err := ParseTestCases(`"text"`); err == nil {
		t.Fatal("expected error for scalar json")
	}
}
