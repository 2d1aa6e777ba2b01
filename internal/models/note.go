// Package models defines the domain types for gitnote.
package models

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Note is a text file of the repository as seen by the cache.
type Note struct {
	RelativePath       string `json:"relative_path"`
	Content            string `json:"content"`
	LastModifiedMillis int64  `json:"last_modified_ms"`
	ID                 string `json:"id"`
}

// NewNote builds a note with a fresh id. Leading and trailing slashes of
// relativePath are removed.
func NewNote(relativePath, content string, lastModified time.Time) Note {
	return Note{
		RelativePath:       TrimSlashes(relativePath),
		Content:            content,
		LastModifiedMillis: lastModified.UnixMilli(),
		ID:                 uuid.NewString(),
	}
}

// Validate checks the path invariants of a note.
func (n Note) Validate() error {
	if n.RelativePath == "" {
		return fmt.Errorf("note: empty relative path")
	}
	return requireNoEdgeSlash(n.RelativePath)
}

// FullName returns the file name including its extension.
func (n Note) FullName() string { return FullName(n.RelativePath) }

// ParentPath returns the relative path of the folder holding the note.
func (n Note) ParentPath() string { return ParentPath(n.RelativePath) }

// Extension returns the lower-cased extension without the dot.
func (n Note) Extension() string { return Extension(n.RelativePath) }

// NameWithoutExtension returns the file name minus its extension.
func (n Note) NameWithoutExtension() string {
	name := n.FullName()
	return strings.TrimSuffix(name, path.Ext(name))
}

// LastModified returns the modification time as a time.Time.
func (n Note) LastModified() time.Time {
	return time.UnixMilli(n.LastModifiedMillis)
}

// NoteFolder is a directory of the repository. The root folder has an
// empty relative path.
type NoteFolder struct {
	RelativePath string `json:"relative_path"`
	ID           string `json:"id"`
}

// NewNoteFolder builds a folder with a fresh id.
func NewNoteFolder(relativePath string) NoteFolder {
	return NoteFolder{
		RelativePath: TrimSlashes(relativePath),
		ID:           uuid.NewString(),
	}
}

// Validate checks the path invariants of a folder.
func (f NoteFolder) Validate() error {
	return requireNoEdgeSlash(f.RelativePath)
}

// IsRoot reports whether f is the repository root.
func (f NoteFolder) IsRoot() bool { return f.RelativePath == "" }

// FullName returns the last path element.
func (f NoteFolder) FullName() string { return FullName(f.RelativePath) }

// ParentPath returns the parent folder path and false for the root.
func (f NoteFolder) ParentPath() (string, bool) {
	if f.IsRoot() {
		return "", false
	}
	return ParentPath(f.RelativePath), true
}

// GridNote is a note row decorated for list display.
type GridNote struct {
	Note
	Title     string `json:"title,omitempty"`
	IsUnique  bool   `json:"is_unique"`
	Completed *bool  `json:"completed,omitempty"`
}

// DrawerFolder is a folder row with the number of notes below it.
type DrawerFolder struct {
	RelativePath string `json:"relative_path"`
	ID           string `json:"id"`
	NoteCount    int    `json:"note_count"`
}

// SortOrder selects the ordering of note and folder listings.
type SortOrder string

const (
	SortAZ         SortOrder = "az"
	SortZA         SortOrder = "za"
	SortMostRecent SortOrder = "most_recent"
	SortOldest     SortOrder = "oldest"
)

// ParseSortOrder maps s to a SortOrder, defaulting to SortMostRecent.
func ParseSortOrder(s string) SortOrder {
	switch SortOrder(strings.ToLower(strings.TrimSpace(s))) {
	case SortAZ:
		return SortAZ
	case SortZA:
		return SortZA
	case SortOldest:
		return SortOldest
	default:
		return SortMostRecent
	}
}
