package main

import (
	"context"
	"os"
	"testing"

	"judgebox/internal/judge/sandbox/engine"
	"judgebox/internal/judge/sandbox/spec"
	"judgebox/internal/judge/sandbox/workspace"
)

func TestWorkspaceOptions(t *testing.T) {
	cases := []struct {
		name          string
		backend       engine.Backend
		euid          int
		worldWritable bool
	}{
		{name: "process_unprivileged", backend: engine.BackendProcess, euid: 1000},
		{name: "docker_root", backend: engine.BackendDocker, euid: 0},
		{name: "docker_unprivileged", backend: engine.BackendDocker, euid: 1000, worldWritable: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			opts := workspaceOptions(tc.backend, spec.Identity{UID: 1000, GID: 1000}, tc.euid)
			mgr, err := workspace.NewManager(t.TempDir(), opts...)
			if err != nil {
				t.Fatalf("NewManager: %v", err)
			}
			ws, err := mgr.Acquire(context.Background())
			if err != nil {
				t.Fatalf("Acquire: %v", err)
			}
			defer ws.Release()
			info, err := os.Stat(ws.Dir)
			if err != nil {
				t.Fatalf("stat: %v", err)
			}
			if got := info.Mode().Perm()&0o002 != 0; got != tc.worldWritable {
				t.Fatalf("mode = %o, world writable = %v", info.Mode().Perm(), got)
			}
		})
	}
}
