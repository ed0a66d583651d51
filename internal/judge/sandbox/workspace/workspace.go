// Package workspace manages the ephemeral per-evaluation directories.
package workspace

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"judgebox/internal/judge/sandbox/spec"
	appErr "judgebox/pkg/errors"

	"github.com/google/uuid"
)

// Manager creates and reclaims workspaces under one root directory.
type Manager struct {
	root   string
	owner  *spec.Identity
	shared bool
	active atomic.Int64
}

// Option configures a Manager.
type Option func(*Manager)

// WithOwner chowns every workspace to the sandbox identity so unprivileged programs can write to it.
// It only applies when the process runs as root.
func WithOwner(id spec.Identity) Option {
	return func(m *Manager) {
		owner := id
		m.owner = &owner
	}
}

// WithSharedAccess makes every workspace directory world-writable. A container running as
// the sandbox identity can then write into a workspace created by an unprivileged service.
func WithSharedAccess() Option {
	return func(m *Manager) {
		m.shared = true
	}
}

// NewManager creates the root directory if needed.
func NewManager(root string, opts ...Option) (*Manager, error) {
	if strings.TrimSpace(root) == "" {
		return nil, appErr.ValidationError("work_root", "required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, appErr.Wrapf(err, appErr.WorkspaceError, "create work root failed")
	}
	m := &Manager{root: root}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Workspace is one uniquely named directory owned by a single evaluation.
type Workspace struct {
	ID  string
	Dir string

	mgr      *Manager
	release  sync.Once
	released atomic.Bool
}

// Acquire creates a new empty workspace.
func (m *Manager) Acquire(ctx context.Context) (*Workspace, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id := uuid.NewString()
	dir := filepath.Join(m.root, id)
	if err := os.Mkdir(dir, 0o755); err != nil {
		return nil, appErr.Wrapf(err, appErr.WorkspaceError, "create workspace failed")
	}
	if m.shared {
		// Mkdir is subject to the umask.
		if err := os.Chmod(dir, 0o777); err != nil {
			_ = os.RemoveAll(dir)
			return nil, appErr.Wrapf(err, appErr.WorkspaceError, "chmod workspace failed")
		}
	}
	if m.owner != nil && os.Geteuid() == 0 {
		if err := os.Chown(dir, m.owner.UID, m.owner.GID); err != nil {
			_ = os.RemoveAll(dir)
			return nil, appErr.Wrapf(err, appErr.WorkspaceError, "chown workspace failed")
		}
	}
	m.active.Add(1)
	return &Workspace{ID: id, Dir: dir, mgr: m}, nil
}

// With acquires a workspace, runs fn and always releases the workspace afterwards.
func (m *Manager) With(ctx context.Context, fn func(ws *Workspace) error) (err error) {
	ws, err := m.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if relErr := ws.Release(); relErr != nil && err == nil {
			err = relErr
		}
	}()
	return fn(ws)
}

// Active returns the number of workspaces not yet released.
func (m *Manager) Active() int64 {
	return m.active.Load()
}

// Root returns the directory holding all workspaces.
func (m *Manager) Root() string {
	return m.root
}

// Path returns the host path of an artifact.
func (w *Workspace) Path(name string) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}
	return filepath.Join(w.Dir, name), nil
}

// WriteArtifact creates or overwrites an artifact.
func (w *Workspace) WriteArtifact(name, content string) error {
	if w.released.Load() {
		return appErr.New(appErr.WorkspaceError).WithMessage("workspace already released")
	}
	path, err := w.Path(name)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return appErr.Wrapf(err, appErr.WorkspaceError, "write artifact %s failed", name)
	}
	if w.mgr != nil && w.mgr.owner != nil && os.Geteuid() == 0 {
		_ = os.Chown(path, w.mgr.owner.UID, w.mgr.owner.GID)
	}
	return nil
}

// ReadArtifact returns the artifact content and whether it exists.
func (w *Workspace) ReadArtifact(name string) (string, bool, error) {
	path, err := w.Path(name)
	if err != nil {
		return "", false, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, appErr.Wrapf(err, appErr.WorkspaceError, "read artifact %s failed", name)
	}
	return string(data), true, nil
}

// Release recursively deletes the workspace. It is safe to call more than once.
func (w *Workspace) Release() error {
	var err error
	w.release.Do(func() {
		w.released.Store(true)
		if w.mgr != nil {
			w.mgr.active.Add(-1)
		}
		if rmErr := os.RemoveAll(w.Dir); rmErr != nil {
			err = appErr.Wrapf(rmErr, appErr.WorkspaceError, "release workspace failed")
		}
	})
	return err
}

func validateName(name string) error {
	if name == "" {
		return appErr.ValidationError("artifact", "required")
	}
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return appErr.ValidationError("artifact", "invalid name").WithDetail("name", name)
	}
	return nil
}
