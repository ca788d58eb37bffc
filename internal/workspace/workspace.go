// Package workspace allocates exclusively-owned scratch directories for jobs.
// Every job gets its own directory under a configurable root; the directory and
// everything in it is removed when the job releases it.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// ErrResource is returned when a workspace cannot be allocated.
var ErrResource = errors.New("workspace: resource unavailable")

// Workspace is a scratch directory bound to a single job.
type Workspace struct {
	dir string
}

// Dir returns the absolute path of the workspace directory.
func (w *Workspace) Dir() string {
	return w.dir
}

// Path returns the path of name inside the workspace.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.dir, filepath.Base(name))
}

// SaveFile writes data to name inside the workspace and returns its path.
func (w *Workspace) SaveFile(ctx context.Context, name string, data io.Reader) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	path := w.Path(name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600) // #nosec G304 - path is inside the workspace
	if err != nil {
		return "", fmt.Errorf("create workspace file: %w", err)
	}

	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("write workspace file: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("close workspace file: %w", err)
	}

	return path, nil
}

// Manager creates and destroys workspaces under a root directory.
type Manager struct {
	root   string
	logger *slog.Logger
}

// NewManager creates a Manager rooted at root.
// If root is empty, a "mediapipe" directory under os.TempDir() is used.
// The root directory is created if it doesn't exist.
func NewManager(root string, logger *slog.Logger) (*Manager, error) {
	if root == "" {
		root = filepath.Join(os.TempDir(), "mediapipe")
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(root, 0750); err != nil {
		return nil, fmt.Errorf("%w: create root %s: %w", ErrResource, root, err)
	}

	return &Manager{root: root, logger: logger}, nil
}

// Root returns the directory new workspaces are created in.
func (m *Manager) Root() string {
	return m.root
}

// Acquire creates a uniquely named workspace directory.
func (m *Manager) Acquire(ctx context.Context) (*Workspace, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	dir, err := os.MkdirTemp(m.root, "job-*")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResource, err)
	}

	m.logger.Debug("workspace acquired", slog.String("dir", dir))
	return &Workspace{dir: dir}, nil
}

// Release recursively removes the workspace. Failures are logged and never
// returned so cleanup cannot mask the job result.
func (m *Manager) Release(w *Workspace) {
	if w == nil || w.dir == "" {
		return
	}

	if err := os.RemoveAll(w.dir); err != nil {
		m.logger.Error("failed to release workspace",
			slog.String("dir", w.dir),
			slog.String("error", err.Error()),
		)
		return
	}

	m.logger.Debug("workspace released", slog.String("dir", w.dir))
}
