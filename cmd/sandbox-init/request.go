//go:build linux

package main

// The request mirrors the engine's initRequest JSON encoding.
type initRequest struct {
	RunSpec        runSpec          `json:"RunSpec"`
	Isolation      isolationProfile `json:"Isolation"`
	EnableSeccomp  bool             `json:"EnableSeccomp"`
	EnableNs       bool             `json:"EnableNs"`
	DropPrivileges bool             `json:"DropPrivileges"`
	CgroupPIDs     bool             `json:"CgroupPIDs"`
}

type runSpec struct {
	WorkDir    string        `json:"WorkDir"`
	Cmd        []string      `json:"Cmd"`
	Env        []string      `json:"Env"`
	StdinPath  string        `json:"StdinPath"`
	StdoutPath string        `json:"StdoutPath"`
	StderrPath string        `json:"StderrPath"`
	BindMounts []mountSpec   `json:"BindMounts"`
	RunAs      identity      `json:"RunAs"`
	Limits     resourceLimit `json:"Limits"`
}

type identity struct {
	UID int `json:"UID"`
	GID int `json:"GID"`
}

type mountSpec struct {
	Source   string `json:"Source"`
	Target   string `json:"Target"`
	ReadOnly bool   `json:"ReadOnly"`
}

type resourceLimit struct {
	CPUTimeMs  int64 `json:"CPUTimeMs"`
	WallTimeMs int64 `json:"WallTimeMs"`
	MemoryMB   int64 `json:"MemoryMB"`
	StackMB    int64 `json:"StackMB"`
	OutputMB   int64 `json:"OutputMB"`
	PIDs       int64 `json:"PIDs"`
}

type isolationProfile struct {
	RootFS         string `json:"RootFS"`
	SeccompProfile string `json:"SeccompProfile"`
	DisableNetwork bool   `json:"DisableNetwork"`
}
