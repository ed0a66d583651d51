package engine

import (
	"slices"

	"github.com/puzpuzpuz/xsync/v3"
)

// runRegistry tracks the live isolation handles (cgroup paths or container ids) per submission.
type runRegistry struct {
	m *xsync.MapOf[string, []string]
}

func newRunRegistry() *runRegistry {
	return &runRegistry{m: xsync.NewMapOf[string, []string]()}
}

func (r *runRegistry) add(submissionID, handle string) {
	r.m.Compute(submissionID, func(old []string, loaded bool) ([]string, bool) {
		return append(slices.Clone(old), handle), false
	})
}

func (r *runRegistry) remove(submissionID, handle string) {
	r.m.Compute(submissionID, func(old []string, loaded bool) ([]string, bool) {
		updated := slices.DeleteFunc(slices.Clone(old), func(h string) bool { return h == handle })
		return updated, len(updated) == 0
	})
}

func (r *runRegistry) snapshot(submissionID string) []string {
	handles, ok := r.m.Load(submissionID)
	if !ok {
		return nil
	}
	return slices.Clone(handles)
}

func (r *runRegistry) size() int {
	return r.m.Size()
}
