//go:build linux

package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidateRequest(t *testing.T) {
	cases := []struct {
		name    string
		req     initRequest
		wantErr bool
	}{
		{name: "ok", req: initRequest{RunSpec: runSpec{WorkDir: "/w", Cmd: []string{"true"}}}},
		{name: "missing_cmd", req: initRequest{RunSpec: runSpec{WorkDir: "/w"}}, wantErr: true},
		{name: "missing_workdir", req: initRequest{RunSpec: runSpec{Cmd: []string{"true"}}}, wantErr: true},
		{
			name:    "drop_without_uid",
			req:     initRequest{RunSpec: runSpec{WorkDir: "/w", Cmd: []string{"true"}}, DropPrivileges: true},
			wantErr: true,
		},
		{
			name: "drop_with_uid",
			req: initRequest{
				RunSpec:        runSpec{WorkDir: "/w", Cmd: []string{"true"}, RunAs: identity{UID: 1000, GID: 1000}},
				DropPrivileges: true,
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateRequest(tc.req)
			if (err != nil) != tc.wantErr {
				t.Fatalf("validateRequest() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestDecodeRequest(t *testing.T) {
	payload := `{"RunSpec":{"WorkDir":"/w","Cmd":["python3","Main.py"],"RunAs":{"UID":1000,"GID":1001},"Limits":{"StackMB":64}},"DropPrivileges":true}`
	req, err := decodeRequest(strings.NewReader(payload))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if req.RunSpec.RunAs.GID != 1001 || req.RunSpec.Limits.StackMB != 64 || !req.DropPrivileges {
		t.Fatalf("unexpected request %+v", req)
	}
	if _, err := decodeRequest(strings.NewReader("{")); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestBuildEnv(t *testing.T) {
	env := buildEnv([]string{"PYTHONIOENCODING=utf-8", "broken"})
	if len(env) != 2 || !strings.HasPrefix(env[1], "PATH=") {
		t.Fatalf("unexpected env %v", env)
	}
	env = buildEnv([]string{"PATH=/opt/bin"})
	if len(env) != 1 || env[0] != "PATH=/opt/bin" {
		t.Fatalf("custom PATH must be kept: %v", env)
	}
}

func TestParseSeccompAction(t *testing.T) {
	for _, action := range []string{"SCMP_ACT_ALLOW", "scmp_act_errno", "SCMP_ACT_KILL_PROCESS"} {
		if _, err := parseSeccompAction(action); err != nil {
			t.Fatalf("parse %s: %v", action, err)
		}
	}
	if _, err := parseSeccompAction("SCMP_ACT_TRACE"); err == nil {
		t.Fatalf("expected unsupported action error")
	}
}

func TestShippedSeccompProfileParses(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("..", "..", "configs", "seccomp", "default.json"))
	if err != nil {
		t.Fatalf("read profile: %v", err)
	}
	var cfg seccompConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("parse profile: %v", err)
	}
	if _, err := parseSeccompAction(cfg.DefaultAction); err != nil {
		t.Fatalf("default action: %v", err)
	}
	for _, rule := range cfg.Syscalls {
		if _, err := parseSeccompAction(rule.Action); err != nil {
			t.Fatalf("rule action: %v", err)
		}
	}
}

func TestRlimitsForNproc(t *testing.T) {
	cases := []struct {
		name       string
		limits     resourceLimit
		cgroupPIDs bool
		want       uint64
		wantSet    bool
	}{
		{name: "cgroup_bounds_pids", limits: resourceLimit{PIDs: 64}, cgroupPIDs: true},
		{name: "no_cgroup_uses_floor", limits: resourceLimit{PIDs: 64}, want: minNprocPerUID, wantSet: true},
		{name: "no_cgroup_large_limit", limits: resourceLimit{PIDs: 10000}, want: 10000, wantSet: true},
		{name: "unlimited", limits: resourceLimit{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got uint64
			set := false
			for _, l := range rlimitsFor(tc.limits, tc.cgroupPIDs) {
				if l.name == "nproc" {
					got, set = l.value, true
				}
			}
			if set != tc.wantSet || got != tc.want {
				t.Fatalf("nproc = %d (set %v), want %d (set %v)", got, set, tc.want, tc.wantSet)
			}
		})
	}
}

func TestDecodeRequestCgroupPIDs(t *testing.T) {
	req, err := decodeRequest(strings.NewReader(`{"RunSpec":{"WorkDir":"/w","Cmd":["true"]},"CgroupPIDs":true}`))
	if err != nil {
		t.Fatalf("decodeRequest() error = %v", err)
	}
	if !req.CgroupPIDs {
		t.Fatalf("CgroupPIDs not decoded")
	}
}
