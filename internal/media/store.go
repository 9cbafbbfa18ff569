package media

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrBadName is returned for storage names that could escape the store.
var ErrBadName = errors.New("invalid storage name")

// Store keeps asset payloads as flat files under one directory. Files are
// addressed by a generated storage name, never by user input.
type Store struct {
	dir    string
	logger *slog.Logger
}

func NewStore(dir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

// Save streams r into a new file named after displayName and returns its
// storage name and size. The file appears atomically.
func (s *Store) Save(displayName, ext string, r io.Reader) (string, int64, error) {
	name := storageName(displayName, ext)
	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", 0, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", 0, fmt.Errorf("write %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		return "", 0, fmt.Errorf("commit %s: %w", name, err)
	}
	s.logger.Debug("media stored", "name", name, "bytes", n)
	return name, n, nil
}

// Import moves a finished file such as a rendered video into the store.
func (s *Store) Import(src, displayName string) (string, int64, error) {
	name := storageName(displayName, filepath.Ext(src))
	dst := filepath.Join(s.dir, name)
	if err := os.Rename(src, dst); err != nil {
		// Scratch space may live on another filesystem.
		f, err := os.Open(src)
		if err != nil {
			return "", 0, fmt.Errorf("open %s: %w", filepath.Base(src), err)
		}
		defer f.Close()
		return s.saveAs(name, f)
	}
	fi, err := os.Stat(dst)
	if err != nil {
		return "", 0, err
	}
	return name, fi.Size(), nil
}

func (s *Store) saveAs(name string, r io.Reader) (string, int64, error) {
	tmp, err := os.CreateTemp(s.dir, ".import-*")
	if err != nil {
		return "", 0, err
	}
	defer os.Remove(tmp.Name())
	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", 0, err
	}
	return name, n, os.Rename(tmp.Name(), filepath.Join(s.dir, name))
}

// Path resolves a storage name to its file path.
func (s *Store) Path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", ErrBadName
	}
	return filepath.Join(s.dir, name), nil
}

// Remove deletes a stored file. Missing files are not an error.
func (s *Store) Remove(name string) error {
	p, err := s.Path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// URL is the HTTP path the API serves a stored file under.
func URL(name string) string {
	return "/media/" + name
}

func storageName(displayName, ext string) string {
	stem := strings.TrimSuffix(displayName, filepath.Ext(displayName))
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return uuid.NewString()[:8] + "_" + slug(stem) + ext
}

// ValidateOutputDir checks a user-supplied directory for rendered files.
func ValidateOutputDir(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return errors.New("output directory is required")
	}
	for _, part := range strings.Split(filepath.ToSlash(dir), "/") {
		if part == ".." {
			return errors.New("output directory cannot contain path traversal")
		}
	}
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.New("output directory does not exist")
		}
		return fmt.Errorf("invalid output directory: %w", err)
	}
	if !info.IsDir() {
		return errors.New("output path is not a directory")
	}
	return nil
}
