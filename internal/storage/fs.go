package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/starford/gitnote/internal/apperr"
)

// FS implements Provider backed by the local file system.
type FS struct {
	root string // absolute path to the repository directory
}

var _ Provider = (*FS)(nil)

// NewFS creates a new FS provider rooted at the given directory.
// The directory must already exist.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	return &FS{root: abs}, nil
}

// Root returns the absolute repository root.
func (f *FS) Root() string { return f.root }

// safePath resolves a relative path against the root and rejects
// any result that escapes it (directory traversal).
func (f *FS) safePath(rel string) (string, error) {
	if rel == "" {
		return f.root, nil
	}
	cleaned := filepath.Clean(filepath.FromSlash(rel))
	if filepath.IsAbs(cleaned) || strings.HasPrefix(rel, "/") {
		return "", fmt.Errorf("storage: absolute paths not allowed: %s", rel)
	}
	abs, err := filepath.Abs(filepath.Join(f.root, cleaned))
	if err != nil {
		return "", fmt.Errorf("storage: resolve path: %w", err)
	}
	if !strings.HasPrefix(abs, f.root+string(os.PathSeparator)) && abs != f.root {
		return "", fmt.Errorf("storage: path escapes repository root: %s", rel)
	}
	return abs, nil
}

// Read returns the raw bytes of a file.
func (f *FS) Read(path string) ([]byte, error) {
	abs, err := f.safePath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", path, notFound(err))
	}
	return data, nil
}

// Write atomically writes content: tmp file → fsync → rename.
func (f *FS) Write(path string, content []byte) error {
	abs, err := f.safePath(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".gitnote-tmp-*")
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("storage: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return fmt.Errorf("storage: rename: %w", err)
	}
	success = true
	return nil
}

// CreateFile creates an empty file and its parent folders. It returns
// apperr.ErrAlreadyExists when something already exists at path.
func (f *FS) CreateFile(path string) error {
	abs, err := f.safePath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("storage: mkdir: %w", err)
	}
	file, err := os.OpenFile(abs, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("storage: create %s: %w", path, apperr.ErrAlreadyExists)
		}
		return fmt.Errorf("storage: create %s: %w", path, err)
	}
	return file.Close()
}

// CreateFolder creates a folder and its parents.
func (f *FS) CreateFolder(path string) error {
	abs, err := f.safePath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return fmt.Errorf("storage: mkdir %s: %w", path, err)
	}
	return nil
}

// Delete removes a file.
func (f *FS) Delete(path string) error {
	abs, err := f.safePath(path)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil {
		return fmt.Errorf("storage: delete %s: %w", path, notFound(err))
	}
	return nil
}

// DeleteFolder removes a folder recursively. The root cannot be removed.
func (f *FS) DeleteFolder(path string) error {
	abs, err := f.safePath(path)
	if err != nil {
		return err
	}
	if abs == f.root {
		return fmt.Errorf("storage: refusing to delete the repository root")
	}
	if err := os.RemoveAll(abs); err != nil {
		return fmt.Errorf("storage: delete folder %s: %w", path, err)
	}
	return nil
}

// Move renames a file within the repository.
func (f *FS) Move(oldPath, newPath string) error {
	absOld, err := f.safePath(oldPath)
	if err != nil {
		return err
	}
	absNew, err := f.safePath(newPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(absNew), 0o755); err != nil {
		return fmt.Errorf("storage: mkdir for move: %w", err)
	}
	if err := os.Rename(absOld, absNew); err != nil {
		return fmt.Errorf("storage: move: %w", notFound(err))
	}
	return nil
}

// Exists reports whether path exists.
func (f *FS) Exists(path string) (bool, error) {
	abs, err := f.safePath(path)
	if err != nil {
		return false, err
	}
	if _, err := os.Lstat(abs); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("storage: stat %s: %w", path, err)
	}
	return true, nil
}

// Stat describes the node at path.
func (f *FS) Stat(path string) (Node, error) {
	abs, err := f.safePath(path)
	if err != nil {
		return Node{}, err
	}
	info, err := os.Lstat(abs)
	if err != nil {
		return Node{}, fmt.Errorf("storage: stat %s: %w", path, notFound(err))
	}
	return f.node(abs, path, info), nil
}

// Walk visits every node below the root in lexical order. Symbolic links
// are reported but never followed.
func (f *FS) Walk(fn WalkFunc) error {
	err := filepath.WalkDir(f.root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if p == f.root {
			return nil
		}
		rel, err := filepath.Rel(f.root, p)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return fn(f.node(p, filepath.ToSlash(rel), info))
	})
	if err != nil {
		return fmt.Errorf("storage: walk: %w", err)
	}
	return nil
}

func (f *FS) node(abs, rel string, info fs.FileInfo) Node {
	n := Node{
		RelativePath: rel,
		Name:         info.Name(),
		IsDir:        info.IsDir(),
		IsHidden:     strings.HasPrefix(info.Name(), "."),
		IsSymlink:    info.Mode()&fs.ModeSymlink != 0,
		Size:         info.Size(),
		ModTime:      info.ModTime(),
	}
	if n.IsSymlink {
		// Report the link target kind; WalkDir never descends into it.
		if target, err := os.Stat(abs); err == nil {
			n.IsDir = target.IsDir()
		}
	}
	return n
}

func notFound(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return errors.Join(apperr.ErrNotFound, err)
	}
	return err
}
