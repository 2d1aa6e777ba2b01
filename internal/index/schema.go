// Package index provides the SQLite cache of the notes tree, with optional
// FTS5 full-text search, and rebuilds it from the repository files.
package index

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/starford/gitnote/internal/models"
)

// driverName is the sqlite3 driver with the path helper functions loaded.
const driverName = "sqlite3_gitnote"

func init() {
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			if err := conn.RegisterFunc("parent_path", models.ParentPath, true); err != nil {
				return err
			}
			return conn.RegisterFunc("full_name", models.FullName, true)
		},
	})
}

const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS notes (
	relative_path    TEXT PRIMARY KEY,
	content          TEXT NOT NULL DEFAULT '',
	last_modified_ms INTEGER NOT NULL DEFAULT 0,
	id               TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS note_folders (
	relative_path TEXT PRIMARY KEY,
	id            TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_notes_modified ON notes(last_modified_ms);
`

// DB wraps a sql.DB with cache-specific operations.
type DB struct {
	conn *sql.DB
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Open opens (or creates) the SQLite database, applies the schema and makes
// sure the root folder row exists.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open(driverName, dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("index: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: ping: %w", err)
	}
	if _, err := conn.Exec(coreSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply core schema: %w", err)
	}
	if err := initFTS(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply fts schema: %w", err)
	}
	db := &DB{conn: conn}
	if err := insertFolder(context.Background(), conn, models.NoteFolder{ID: uuid.NewString()}); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
