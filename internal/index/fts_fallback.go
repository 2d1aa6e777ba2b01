//go:build !sqlite_fts5

package index

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

func initFTS(_ *sql.DB) error {
	// FTS5 not available; search uses LIKE on the notes table.
	return nil
}

func ftsInsert(_ context.Context, _ execer, _, _ string) error { return nil }

func ftsDelete(_ context.Context, _ execer, _ string) error { return nil }

func ftsDeletePrefix(_ context.Context, _ execer, _ string) error { return nil }

func ftsClear(_ context.Context, _ execer) error { return nil }

func likePattern(text string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.TrimSpace(text)) + "%"
}

// searchClause restricts a notes query to rows whose name or content
// contains text.
func searchClause(text string) (string, []any) {
	like := likePattern(text)
	return `(content LIKE ? ESCAPE '\' OR full_name(relative_path) LIKE ? ESCAPE '\')`, []any{like, like}
}

// Search performs a LIKE-based search (fallback when FTS5 is not compiled in).
func (db *DB) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	clause, args := searchClause(query)
	rows, err := db.conn.QueryContext(ctx, `
		SELECT relative_path, full_name(relative_path), substr(content, 1, 200)
		FROM notes
		WHERE `+clause+`
		ORDER BY last_modified_ms DESC
		LIMIT ?
	`, append(args, limit)...)
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
