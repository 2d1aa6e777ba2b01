package notesync

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/starford/gitnote/internal/apperr"
	"github.com/starford/gitnote/internal/models"
	"github.com/starford/gitnote/internal/storage"
)

// CreateNote writes a new note file and its cache row. It fails with
// apperr.ErrAlreadyExists when a note already exists at the path.
func (c *Coordinator) CreateNote(ctx context.Context, n models.Note) (models.Note, error) {
	path, err := c.notePath(n.RelativePath, len(n.Content))
	if err != nil {
		return models.Note{}, err
	}
	n.RelativePath = path
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.LastModifiedMillis == 0 {
		n.LastModifiedMillis = c.opts.Now().UnixMilli()
	}

	err = c.envelope(ctx, func(ctx context.Context, files storage.Provider) (string, error) {
		if err := c.claim(ctx, files, n.RelativePath); err != nil {
			return "", err
		}
		if err := c.writeNote(ctx, files, n); err != nil {
			return "", err
		}
		return "created " + n.RelativePath, nil
	})
	if err != nil {
		return models.Note{}, err
	}
	return n, nil
}

// UpdateNote replaces previous with next. A changed path renames the file.
// The id of the stored note is kept.
func (c *Coordinator) UpdateNote(ctx context.Context, previous, next models.Note) (models.Note, error) {
	path, err := c.notePath(next.RelativePath, len(next.Content))
	if err != nil {
		return models.Note{}, err
	}
	next.RelativePath = path
	next.LastModifiedMillis = c.opts.Now().UnixMilli()
	from := models.TrimSlashes(previous.RelativePath)

	err = c.envelope(ctx, func(ctx context.Context, files storage.Provider) (string, error) {
		stored, err := c.opts.Cache.GetNote(ctx, from)
		if err != nil {
			return "", err
		}
		next.ID = stored.ID

		message := "updated " + next.RelativePath
		if next.RelativePath != stored.RelativePath {
			if err := c.requireAbsent(ctx, files, next.RelativePath); err != nil {
				return "", err
			}
			if err := files.Move(stored.RelativePath, next.RelativePath); err != nil && !errors.Is(err, apperr.ErrNotFound) {
				return "", err
			}
			if _, err := c.opts.Cache.RemoveNote(ctx, stored.RelativePath); err != nil {
				return "", err
			}
			message = fmt.Sprintf("renamed %s to %s", stored.RelativePath, next.RelativePath)
		}
		if err := c.writeNote(ctx, files, next); err != nil {
			return "", err
		}
		return message, nil
	})
	if err != nil {
		return models.Note{}, err
	}
	return next, nil
}

// DeleteNote removes the note file and its cache row.
func (c *Coordinator) DeleteNote(ctx context.Context, path string) error {
	path, err := c.notePath(path, 0)
	if err != nil {
		return err
	}
	return c.envelope(ctx, func(ctx context.Context, files storage.Provider) (string, error) {
		if err := c.removeNote(ctx, files, path); err != nil {
			return "", err
		}
		return "deleted " + path, nil
	})
}

// DeleteNotes removes several notes in one envelope and one commit.
func (c *Coordinator) DeleteNotes(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	trimmed := make([]string, len(paths))
	for i, p := range paths {
		var err error
		if trimmed[i], err = c.notePath(p, 0); err != nil {
			return err
		}
	}
	paths = trimmed
	return c.envelope(ctx, func(ctx context.Context, files storage.Provider) (string, error) {
		for _, p := range paths {
			if err := c.removeNote(ctx, files, p); err != nil {
				return "", err
			}
		}
		if len(paths) == 1 {
			return "deleted " + paths[0], nil
		}
		return fmt.Sprintf("deleted %d notes", len(paths)), nil
	})
}

// CreateFolder creates a folder on disk and in the cache. Parent folders are
// created as needed.
func (c *Coordinator) CreateFolder(ctx context.Context, path string) (models.NoteFolder, error) {
	path, err := c.folderPath(path)
	if err != nil {
		return models.NoteFolder{}, err
	}
	folder := models.NewNoteFolder(path)
	err = c.envelope(ctx, func(ctx context.Context, files storage.Provider) (string, error) {
		if err := files.CreateFolder(path); err != nil {
			return "", err
		}
		if err := c.insertAncestors(ctx, path); err != nil {
			return "", err
		}
		if err := c.opts.Cache.InsertFolder(ctx, folder); err != nil {
			return "", err
		}
		return "created folder " + path, nil
	})
	if err != nil {
		return models.NoteFolder{}, err
	}
	return folder, nil
}

// DeleteFolder removes a folder with everything below it, on disk and in
// the cache. The target must be a folder on disk.
func (c *Coordinator) DeleteFolder(ctx context.Context, path string) error {
	path = models.TrimSlashes(path)
	if path == "" {
		return fmt.Errorf("notesync: %w: the root folder cannot be deleted", apperr.ErrInvalidName)
	}
	path, err := c.folderPath(path)
	if err != nil {
		return err
	}
	return c.envelope(ctx, func(ctx context.Context, files storage.Provider) (string, error) {
		node, err := files.Stat(path)
		if err != nil {
			return "", err
		}
		if !node.IsDir || node.IsSymlink {
			return "", fmt.Errorf("notesync: %w: %q is not a folder", apperr.ErrInvalidName, path)
		}
		if err := files.DeleteFolder(path); err != nil {
			return "", err
		}
		if _, err := c.opts.Cache.DeleteFolder(ctx, path); err != nil {
			return "", err
		}
		return "deleted folder " + path, nil
	})
}

// notePath trims path and checks that the cache can hold a note there with
// size bytes of content.
func (c *Coordinator) notePath(path string, size int) (string, error) {
	path = models.TrimSlashes(path)
	if err := models.ValidateRelativePath(path); err != nil {
		return "", err
	}
	if err := c.opts.Rebuilder.CheckNote(path, int64(size)); err != nil {
		return "", err
	}
	return path, nil
}

func (c *Coordinator) folderPath(path string) (string, error) {
	path = models.TrimSlashes(path)
	if err := models.ValidateRelativePath(path); err != nil {
		return "", err
	}
	if err := c.opts.Rebuilder.CheckFolder(path); err != nil {
		return "", err
	}
	return path, nil
}

// claim fails when a note row exists at path and otherwise creates the file
// exclusively.
func (c *Coordinator) claim(ctx context.Context, files storage.Provider, path string) error {
	exists, err := c.opts.Cache.IsNoteExist(ctx, path)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("note %s: %w", path, apperr.ErrAlreadyExists)
	}
	return files.CreateFile(path)
}

func (c *Coordinator) requireAbsent(ctx context.Context, files storage.Provider, path string) error {
	exists, err := c.opts.Cache.IsNoteExist(ctx, path)
	if err != nil {
		return err
	}
	if !exists {
		if exists, err = files.Exists(path); err != nil {
			return err
		}
	}
	if exists {
		return fmt.Errorf("note %s: %w", path, apperr.ErrAlreadyExists)
	}
	return nil
}

func (c *Coordinator) writeNote(ctx context.Context, files storage.Provider, n models.Note) error {
	if err := files.Write(n.RelativePath, []byte(n.Content)); err != nil {
		return err
	}
	if err := c.insertAncestors(ctx, n.RelativePath); err != nil {
		return err
	}
	return c.opts.Cache.InsertNote(ctx, n)
}

// insertAncestors adds a folder row for every folder above path.
func (c *Coordinator) insertAncestors(ctx context.Context, path string) error {
	for dir := models.ParentPath(path); dir != ""; dir = models.ParentPath(dir) {
		if err := c.opts.Cache.InsertFolder(ctx, models.NewNoteFolder(dir)); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) removeNote(ctx context.Context, files storage.Provider, path string) error {
	fileErr := files.Delete(path)
	if fileErr != nil && !errors.Is(fileErr, apperr.ErrNotFound) {
		return fileErr
	}
	removed, err := c.opts.Cache.RemoveNote(ctx, path)
	if err != nil {
		return err
	}
	if fileErr != nil && removed == 0 {
		return fmt.Errorf("note %s: %w", path, apperr.ErrNotFound)
	}
	return nil
}
