// Package testutil provides shared test helpers that wire a real repository
// gateway, cache and coordinator in temporary directories.
package testutil

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/starford/gitnote/internal/gitrepo"
	"github.com/starford/gitnote/internal/index"
	"github.com/starford/gitnote/internal/notesync"
	"github.com/starford/gitnote/internal/prefs"
)

// Logger discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// TestDB creates a temporary cache database that is closed on cleanup.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	db, err := index.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// Env is a coordinator over a real gateway and cache.
type Env struct {
	Gateway     *gitrepo.Gateway
	DB          *index.DB
	Prefs       *prefs.FileStore
	Coordinator *notesync.Coordinator
	// Root is the working tree of the repository, empty until Bootstrap.
	Root string
}

// NewEnv wires an environment without a repository.
func NewEnv(t *testing.T, notifier notesync.Notifier) *Env {
	t.Helper()
	dir := t.TempDir()
	gw := gitrepo.New(gitrepo.Options{Home: filepath.Join(dir, "home"), Logger: Logger()})
	t.Cleanup(func() { gw.Shutdown(context.Background()) })
	db := TestDB(t)
	store := prefs.NewFileStore(filepath.Join(dir, "state.yaml"))
	return &Env{
		Gateway: gw,
		DB:      db,
		Prefs:   store,
		Coordinator: notesync.New(notesync.Options{
			Repo:      gw,
			Cache:     db,
			Rebuilder: index.NewRebuilder(db, gw, store, index.RebuilderOptions{Logger: Logger()}),
			Prefs:     store,
			Notifier:  notifier,
			Logger:    Logger(),
		}),
	}
}

// CreateRepo wires an environment and creates a local repository without a
// remote.
func CreateRepo(t *testing.T) *Env {
	t.Helper()
	env := NewEnv(t, nil)
	root := filepath.Join(t.TempDir(), "notes")
	err := env.Coordinator.Bootstrap(context.Background(), notesync.BootstrapOptions{
		Mode: notesync.ModeCreate,
		Path: root,
	})
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	env.Root = root
	return env
}
