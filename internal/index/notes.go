package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/starford/gitnote/internal/apperr"
	"github.com/starford/gitnote/internal/models"
	"github.com/starford/gitnote/internal/parser"
)

// SearchResult represents one search hit.
type SearchResult struct {
	Path    string
	Name    string
	Snippet string
}

// GridQuery selects a page of notes.
type GridQuery struct {
	// Folder scopes the query; "" is the root.
	Folder string
	// IncludeSubfolders widens the scope to every note below Folder.
	IncludeSubfolders bool
	Sort              models.SortOrder
	// Search filters by free text when non-empty.
	Search string
	Limit  int
	Offset int
}

// GridPage is one page of GridNotes and the size of the full result.
type GridPage struct {
	Notes []models.GridNote
	Total int
}

// InsertNote inserts or replaces a note row.
func (db *DB) InsertNote(ctx context.Context, n models.Note) error {
	return inTx(ctx, db.conn, func(tx *sql.Tx) error {
		return insertNote(ctx, tx, n)
	})
}

func insertNote(ctx context.Context, ex execer, n models.Note) error {
	if err := n.Validate(); err != nil {
		return err
	}
	_, err := ex.ExecContext(ctx, `
		INSERT INTO notes (relative_path, content, last_modified_ms, id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(relative_path) DO UPDATE SET
			content          = excluded.content,
			last_modified_ms = excluded.last_modified_ms,
			id               = excluded.id
	`, n.RelativePath, n.Content, n.LastModifiedMillis, n.ID)
	if err != nil {
		return fmt.Errorf("index: insert note: %w", err)
	}
	return ftsInsert(ctx, ex, n.RelativePath, n.Content)
}

// RemoveNote deletes the note row at path and reports how many rows went.
func (db *DB) RemoveNote(ctx context.Context, path string) (int64, error) {
	var removed int64
	err := inTx(ctx, db.conn, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM notes WHERE relative_path = ?`, path)
		if err != nil {
			return fmt.Errorf("index: remove note: %w", err)
		}
		removed, _ = res.RowsAffected()
		return ftsDelete(ctx, tx, path)
	})
	return removed, err
}

// InsertFolder adds a folder row; an existing row keeps its id.
func (db *DB) InsertFolder(ctx context.Context, f models.NoteFolder) error {
	return insertFolder(ctx, db.conn, f)
}

func insertFolder(ctx context.Context, ex execer, f models.NoteFolder) error {
	if err := f.Validate(); err != nil {
		return err
	}
	_, err := ex.ExecContext(ctx, `
		INSERT INTO note_folders (relative_path, id) VALUES (?, ?)
		ON CONFLICT(relative_path) DO NOTHING
	`, f.RelativePath, f.ID)
	if err != nil {
		return fmt.Errorf("index: insert folder: %w", err)
	}
	return nil
}

// DeleteFolder removes the folder row, every folder below it and every note
// whose path starts with path + "/". It returns the number of notes removed.
func (db *DB) DeleteFolder(ctx context.Context, path string) (int64, error) {
	if path == "" {
		return 0, fmt.Errorf("index: delete folder: %w: the root folder cannot be deleted", apperr.ErrInvalidName)
	}
	prefix := path + "/"
	var removed int64
	err := inTx(ctx, db.conn, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM notes WHERE substr(relative_path, 1, ?) = ?`, len(prefix), prefix)
		if err != nil {
			return fmt.Errorf("index: delete folder notes: %w", err)
		}
		removed, _ = res.RowsAffected()
		if err := ftsDeletePrefix(ctx, tx, prefix); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`DELETE FROM note_folders WHERE relative_path = ? OR substr(relative_path, 1, ?) = ?`,
			path, len(prefix), prefix)
		if err != nil {
			return fmt.Errorf("index: delete folders: %w", err)
		}
		return nil
	})
	return removed, err
}

// IsNoteExist reports whether a note row exists at path.
func (db *DB) IsNoteExist(ctx context.Context, path string) (bool, error) {
	var one int
	err := db.conn.QueryRowContext(ctx, `SELECT 1 FROM notes WHERE relative_path = ?`, path).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("index: note exists: %w", err)
	}
	return true, nil
}

// GetNote returns the note at path or apperr.ErrNotFound.
func (db *DB) GetNote(ctx context.Context, path string) (models.Note, error) {
	var n models.Note
	err := db.conn.QueryRowContext(ctx,
		`SELECT relative_path, content, last_modified_ms, id FROM notes WHERE relative_path = ?`, path,
	).Scan(&n.RelativePath, &n.Content, &n.LastModifiedMillis, &n.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Note{}, fmt.Errorf("index: note %s: %w", path, apperr.ErrNotFound)
	}
	if err != nil {
		return models.Note{}, fmt.Errorf("index: get note: %w", err)
	}
	return n, nil
}

// GetFolder returns the folder at path or apperr.ErrNotFound.
func (db *DB) GetFolder(ctx context.Context, path string) (models.NoteFolder, error) {
	var f models.NoteFolder
	err := db.conn.QueryRowContext(ctx,
		`SELECT relative_path, id FROM note_folders WHERE relative_path = ?`, path,
	).Scan(&f.RelativePath, &f.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.NoteFolder{}, fmt.Errorf("index: folder %s: %w", path, apperr.ErrNotFound)
	}
	if err != nil {
		return models.NoteFolder{}, fmt.Errorf("index: get folder: %w", err)
	}
	return f, nil
}

// RootFolder returns the root folder row.
func (db *DB) RootFolder(ctx context.Context) (models.NoteFolder, error) {
	return db.GetFolder(ctx, "")
}

var gridOrder = map[models.SortOrder]string{
	models.SortAZ:         `full_name(relative_path) COLLATE NOCASE ASC, relative_path ASC`,
	models.SortZA:         `full_name(relative_path) COLLATE NOCASE DESC, relative_path DESC`,
	models.SortMostRecent: `last_modified_ms DESC, relative_path ASC`,
	models.SortOldest:     `last_modified_ms ASC, relative_path ASC`,
}

// GridNotes returns a page of notes in scope. IsUnique is computed over the
// whole result, not the page.
func (db *DB) GridNotes(ctx context.Context, q GridQuery) (GridPage, error) {
	var (
		where []string
		args  []any
	)
	switch {
	case q.IncludeSubfolders && q.Folder == "":
	case q.IncludeSubfolders:
		prefix := q.Folder + "/"
		where = append(where, `substr(relative_path, 1, ?) = ?`)
		args = append(args, len(prefix), prefix)
	default:
		where = append(where, `parent_path(relative_path) = ?`)
		args = append(args, q.Folder)
	}
	if strings.TrimSpace(q.Search) != "" {
		clause, clauseArgs := searchClause(q.Search)
		where = append(where, clause)
		args = append(args, clauseArgs...)
	}
	order, ok := gridOrder[q.Sort]
	if !ok {
		order = gridOrder[models.SortMostRecent]
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT relative_path, content, last_modified_ms, id,
		       COUNT(*) OVER (PARTITION BY full_name(relative_path)) = 1 AS is_unique,
		       COUNT(*) OVER () AS total
		FROM notes`
	if len(where) > 0 {
		query += "\n\t\tWHERE " + strings.Join(where, " AND ")
	}
	query += "\n\t\tORDER BY " + order + "\n\t\tLIMIT ? OFFSET ?"
	args = append(args, limit, q.Offset)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return GridPage{}, fmt.Errorf("index: grid notes: %w", err)
	}
	defer rows.Close()

	page := GridPage{Notes: []models.GridNote{}}
	for rows.Next() {
		var g models.GridNote
		if err := rows.Scan(&g.RelativePath, &g.Content, &g.LastModifiedMillis, &g.ID, &g.IsUnique, &page.Total); err != nil {
			return GridPage{}, fmt.Errorf("index: scan grid note: %w", err)
		}
		res := parser.Parse([]byte(g.Content))
		g.Title = res.Title
		g.Completed = res.Completed
		page.Notes = append(page.Notes, g)
	}
	if err := rows.Err(); err != nil {
		return GridPage{}, err
	}
	if len(page.Notes) == 0 && q.Offset > 0 {
		total, err := db.countNotes(ctx, where, args[:len(args)-2])
		if err != nil {
			return GridPage{}, err
		}
		page.Total = total
	}
	return page, nil
}

func (db *DB) countNotes(ctx context.Context, where []string, args []any) (int, error) {
	query := `SELECT COUNT(*) FROM notes`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	var n int
	if err := db.conn.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("index: count notes: %w", err)
	}
	return n, nil
}

// DrawerFolders lists the direct subfolders of parent with the number of
// notes below each of them.
func (db *DB) DrawerFolders(ctx context.Context, parent string, sort models.SortOrder) ([]models.DrawerFolder, error) {
	var order string
	switch sort {
	case models.SortAZ:
		order = `full_name(f.relative_path) COLLATE NOCASE ASC`
	case models.SortZA:
		order = `full_name(f.relative_path) COLLATE NOCASE DESC`
	case models.SortOldest:
		order = `last_modified ASC, f.relative_path ASC`
	default:
		order = `last_modified DESC, f.relative_path ASC`
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT f.relative_path, f.id,
		       (SELECT COUNT(*) FROM notes n
		         WHERE substr(n.relative_path, 1, length(f.relative_path) + 1) = f.relative_path || '/') AS note_count,
		       (SELECT COALESCE(MAX(n.last_modified_ms), 0) FROM notes n
		         WHERE substr(n.relative_path, 1, length(f.relative_path) + 1) = f.relative_path || '/') AS last_modified
		FROM note_folders f
		WHERE f.relative_path != '' AND parent_path(f.relative_path) = ?
		ORDER BY `+order, parent)
	if err != nil {
		return nil, fmt.Errorf("index: drawer folders: %w", err)
	}
	defer rows.Close()

	out := []models.DrawerFolder{}
	for rows.Next() {
		var (
			f       models.DrawerFolder
			ignored int64
		)
		if err := rows.Scan(&f.RelativePath, &f.ID, &f.NoteCount, &ignored); err != nil {
			return nil, fmt.Errorf("index: scan folder: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Clear removes every row and leaves a fresh root folder.
func (db *DB) Clear(ctx context.Context) error {
	return inTx(ctx, db.conn, func(tx *sql.Tx) error {
		if err := clearAll(ctx, tx); err != nil {
			return err
		}
		return insertFolder(ctx, tx, models.NewNoteFolder(""))
	})
}

func clearAll(ctx context.Context, ex execer) error {
	if _, err := ex.ExecContext(ctx, `DELETE FROM notes`); err != nil {
		return fmt.Errorf("index: clear notes: %w", err)
	}
	if _, err := ex.ExecContext(ctx, `DELETE FROM note_folders`); err != nil {
		return fmt.Errorf("index: clear folders: %w", err)
	}
	return ftsClear(ctx, ex)
}

// Stats reports row counts.
func (db *DB) Stats(ctx context.Context) (notes, folders int, err error) {
	err = db.conn.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM notes), (SELECT COUNT(*) FROM note_folders)`,
	).Scan(&notes, &folders)
	if err != nil {
		return 0, 0, fmt.Errorf("index: stats: %w", err)
	}
	return notes, folders, nil
}

func inTx(ctx context.Context, conn *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("index: commit: %w", err)
	}
	return nil
}
