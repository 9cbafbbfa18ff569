package materialize

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/mockshelf/mockshelf/internal/logging"
)

// Scratch is a per-run working directory. Every path created through it is
// remembered so Cleanup can remove them on any exit path.
type Scratch struct {
	id     string
	dir    string
	logger *slog.Logger

	mu    sync.Mutex
	paths []string
}

// NewScratch creates a unique directory under root.
func NewScratch(root string, logger *slog.Logger) (*Scratch, error) {
	id := uuid.NewString()
	dir := filepath.Join(root, "run-"+id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	return &Scratch{id: id, dir: dir, logger: logger}, nil
}

func (s *Scratch) ID() string {
	return s.id
}

func (s *Scratch) Dir() string {
	return s.dir
}

// Path returns name inside the scratch dir and registers it for cleanup.
func (s *Scratch) Path(name string) string {
	p := filepath.Join(s.dir, filepath.Base(name))
	s.Track(p)
	return p
}

// Track registers an extra path for cleanup. Paths outside the scratch dir
// are allowed, e.g. a partially written output file.
func (s *Scratch) Track(path string) {
	s.mu.Lock()
	s.paths = append(s.paths, path)
	s.mu.Unlock()
}

// WriteFile writes data to name inside the scratch dir.
func (s *Scratch) WriteFile(name string, data []byte) (string, error) {
	p := s.Path(name)
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", filepath.Base(p), err)
	}
	return p, nil
}

// Cleanup removes every tracked path and then the directory itself.
// Failures are logged and counted, never returned.
func (s *Scratch) Cleanup() int {
	s.mu.Lock()
	paths := s.paths
	s.paths = nil
	s.mu.Unlock()

	failed := 0
	for i := len(paths) - 1; i >= 0; i-- {
		if err := os.Remove(paths[i]); err != nil && !errors.Is(err, fs.ErrNotExist) {
			failed++
			s.logger.Warn("failed to remove temp file", "path", logging.SanitizePath(paths[i]), "error", err)
		}
	}
	if err := os.RemoveAll(s.dir); err != nil {
		failed++
		s.logger.Warn("failed to remove scratch dir", "path", logging.SanitizePath(s.dir), "error", err)
	}
	return failed
}
