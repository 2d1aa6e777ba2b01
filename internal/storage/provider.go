// Package storage defines the repository file-system abstraction.
package storage

import (
	"io/fs"
	"time"
)

// SkipDir may be returned by a WalkFunc to skip a directory.
var SkipDir = fs.SkipDir

// Node describes one entry found while walking the repository tree.
type Node struct {
	RelativePath string
	Name         string
	IsDir        bool
	IsHidden     bool
	IsSymlink    bool
	Size         int64
	ModTime      time.Time
}

// WalkFunc is called for every node below the root, parents first.
type WalkFunc func(n Node) error

// Provider is the interface for repository file operations. All paths are
// relative to the repository root and use forward slashes.
type Provider interface {
	// Root returns the absolute path of the repository root.
	Root() string
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write atomically writes content to path, creating parent folders.
	Write(path string, content []byte) error
	// CreateFile creates an empty file; it fails if the file exists.
	CreateFile(path string) error
	// CreateFolder creates a folder and its parents.
	CreateFolder(path string) error
	// Delete removes the file at path.
	Delete(path string) error
	// DeleteFolder removes a folder and everything below it.
	DeleteFolder(path string) error
	// Move renames oldPath to newPath.
	Move(oldPath, newPath string) error
	// Exists reports whether a file or folder exists at path.
	Exists(path string) (bool, error)
	// Stat describes the node at path without following symlinks.
	Stat(path string) (Node, error)
	// Walk visits every node below the root.
	Walk(fn WalkFunc) error
}
