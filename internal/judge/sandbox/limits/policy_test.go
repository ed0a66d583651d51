package limits

import (
	"testing"
	"time"

	"judgebox/internal/judge/sandbox/profile"
	"judgebox/internal/judge/sandbox/spec"
)

func TestDefaultPolicy(t *testing.T) {
	p := Default()
	if p.RunWall() != DefaultRunWall || p.CompileWall() != DefaultCompileWall {
		t.Fatalf("unexpected walls: run=%s compile=%s", p.RunWall(), p.CompileWall())
	}
	if p.CompileWall() >= p.RunWall() {
		t.Fatal("compile deadline must be shorter than run deadline")
	}
	if !p.DisableNetwork() {
		t.Fatal("network must be disabled by default")
	}
	if p.RunAs().UID == 0 || p.RunAs().GID == 0 {
		t.Fatalf("default identity must be unprivileged: %+v", p.RunAs())
	}

	lim := p.RunLimits(profile.LanguageSpec{ID: "python"})
	want := spec.ResourceLimit{
		CPUTimeMs:  10000,
		WallTimeMs: 10000,
		MemoryMB:   256,
		StackMB:    64,
		OutputMB:   1,
		PIDs:       64,
		CPUQuota:   0.5,
	}
	if lim != want {
		t.Fatalf("run limits = %+v, want %+v", lim, want)
	}
}

func TestNewPolicyValidation(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{name: "compile not shorter", cfg: Config{RunWall: 2 * time.Second, CompileWall: 2 * time.Second}},
		{name: "negative run wall", cfg: Config{RunWall: -time.Second}},
		{name: "negative memory", cfg: Config{MemoryMB: -1}},
		{name: "negative quota", cfg: Config{CPUQuota: -0.5}},
		{name: "quota above cpus", cfg: Config{CPUQuota: 1 << 20}},
		{name: "negative output", cfg: Config{OutputMaxBytes: -1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewPolicy(tc.cfg); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestRunLimitsApplyMultipliers(t *testing.T) {
	p, err := NewPolicy(Config{RunWall: 2 * time.Second, CompileWall: time.Second, MemoryMB: 100})
	if err != nil {
		t.Fatalf("new policy failed: %v", err)
	}
	lim := p.RunLimits(profile.LanguageSpec{TimeMultiplier: 1.5, MemoryMultiplier: 2})
	if lim.WallTimeMs != 3000 || lim.CPUTimeMs != 3000 {
		t.Fatalf("time not scaled: %+v", lim)
	}
	if lim.MemoryMB != 200 {
		t.Fatalf("memory not scaled: %+v", lim)
	}

	compile := p.CompileLimits()
	if compile.WallTimeMs != 1000 {
		t.Fatalf("compile wall = %d", compile.WallTimeMs)
	}
}
