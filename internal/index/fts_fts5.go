//go:build sqlite_fts5

package index

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS notes_fts USING fts5(
			relative_path UNINDEXED,
			name,
			content,
			tokenize = 'unicode61 remove_diacritics 2'
		);
	`)
	return err
}

func ftsInsert(ctx context.Context, ex execer, path, content string) error {
	if _, err := ex.ExecContext(ctx, `DELETE FROM notes_fts WHERE relative_path = ?`, path); err != nil {
		return fmt.Errorf("index: delete fts: %w", err)
	}
	_, err := ex.ExecContext(ctx, `INSERT INTO notes_fts (relative_path, name, content) VALUES (?, full_name(?), ?)`,
		path, path, content)
	if err != nil {
		return fmt.Errorf("index: insert fts: %w", err)
	}
	return nil
}

func ftsDelete(ctx context.Context, ex execer, path string) error {
	_, err := ex.ExecContext(ctx, `DELETE FROM notes_fts WHERE relative_path = ?`, path)
	return err
}

func ftsDeletePrefix(ctx context.Context, ex execer, prefix string) error {
	_, err := ex.ExecContext(ctx, `DELETE FROM notes_fts WHERE substr(relative_path, 1, ?) = ?`, len(prefix), prefix)
	return err
}

func ftsClear(ctx context.Context, ex execer) error {
	_, err := ex.ExecContext(ctx, `DELETE FROM notes_fts`)
	return err
}

// matchQuery turns free text into an FTS5 query of quoted prefix terms.
func matchQuery(text string) string {
	terms := strings.Fields(text)
	for i, t := range terms {
		terms[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"*`
	}
	return strings.Join(terms, " ")
}

// searchClause restricts a notes query to rows matching text.
func searchClause(text string) (string, []any) {
	return `relative_path IN (SELECT relative_path FROM notes_fts WHERE notes_fts MATCH ?)`, []any{matchQuery(text)}
}

// Search performs an FTS5 full-text search and returns matching results with snippets.
func (db *DB) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT relative_path,
		       name,
		       snippet(notes_fts, 2, '<b>', '</b>', '...', 16)
		FROM notes_fts
		WHERE notes_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, matchQuery(query), limit)
	if err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.Path, &r.Name, &r.Snippet); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
