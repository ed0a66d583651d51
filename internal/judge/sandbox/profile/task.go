package profile

import (
	"fmt"
	"strings"

	"judgebox/internal/judge/sandbox/security"
	appErr "judgebox/pkg/errors"
)

// TaskType identifies the sandbox task category.
type TaskType string

const (
	TaskTypeCompile TaskType = "compile"
	TaskTypeRun     TaskType = "run"
)

// TaskProfile defines isolation settings for a task type, optionally per language.
type TaskProfile struct {
	// LanguageID is empty for profiles shared by every language.
	LanguageID     string   `yaml:"languageId"`
	TaskType       TaskType `yaml:"taskType"`
	RootFS         string   `yaml:"rootFS"`
	SeccompProfile string   `yaml:"seccompProfile"`
}

// ProfileName builds the engine profile key for a language task.
func ProfileName(languageID string, taskType TaskType) string {
	return fmt.Sprintf("%s-%s", languageID, taskType)
}

// TaskProfiles maps engine profile names to isolation settings.
type TaskProfiles struct {
	exact  map[string]TaskProfile
	shared map[TaskType]TaskProfile
}

// DefaultTaskProfiles returns shared compile and run profiles with the default seccomp policy on runs.
func DefaultTaskProfiles() []TaskProfile {
	return []TaskProfile{
		{TaskType: TaskTypeCompile},
		{TaskType: TaskTypeRun, SeccompProfile: "default"},
	}
}

// NewTaskProfiles indexes profiles by language and task type.
func NewTaskProfiles(profiles []TaskProfile) *TaskProfiles {
	t := &TaskProfiles{
		exact:  make(map[string]TaskProfile),
		shared: make(map[TaskType]TaskProfile),
	}
	for _, p := range profiles {
		if p.TaskType == "" {
			continue
		}
		if p.LanguageID == "" {
			t.shared[p.TaskType] = p
			continue
		}
		t.exact[ProfileName(strings.ToLower(p.LanguageID), p.TaskType)] = p
	}
	return t
}

// Resolve maps a profile name to isolation settings. Every task runs without network.
func (t *TaskProfiles) Resolve(profileName string) (security.IsolationProfile, error) {
	if profileName == "" {
		return security.IsolationProfile{}, appErr.ValidationError("profile", "required")
	}
	prof, ok := t.exact[profileName]
	if !ok {
		idx := strings.LastIndex(profileName, "-")
		if idx < 0 {
			return security.IsolationProfile{}, appErr.Newf(appErr.NotFound, "profile %s not found", profileName)
		}
		prof, ok = t.shared[TaskType(profileName[idx+1:])]
		if !ok {
			return security.IsolationProfile{}, appErr.Newf(appErr.NotFound, "profile %s not found", profileName)
		}
	}
	return security.IsolationProfile{
		RootFS:         prof.RootFS,
		SeccompProfile: prof.SeccompProfile,
		DisableNetwork: true,
	}, nil
}
