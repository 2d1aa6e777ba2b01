package notesync

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/starford/gitnote/internal/gitrepo"
	"github.com/starford/gitnote/internal/index"
	"github.com/starford/gitnote/internal/models"
	"github.com/starford/gitnote/internal/prefs"
)

type client struct {
	gw    *gitrepo.Gateway
	db    *index.DB
	prefs *prefs.FileStore
	c     *Coordinator
}

// newClient wires a coordinator over a real gateway and cache.
func newClient(t *testing.T) *client {
	t.Helper()
	dir := t.TempDir()
	gw := gitrepo.New(gitrepo.Options{Home: filepath.Join(dir, "home"), Logger: quietLogger()})
	t.Cleanup(func() { gw.Shutdown(context.Background()) })
	db, err := index.Open(filepath.Join(dir, "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	store := prefs.NewFileStore(filepath.Join(dir, "state.yaml"))
	return &client{
		gw:    gw,
		db:    db,
		prefs: store,
		c: New(Options{
			Repo:      gw,
			Cache:     db,
			Rebuilder: index.NewRebuilder(db, gw, store, index.RebuilderOptions{Logger: quietLogger()}),
			Prefs:     store,
			Logger:    quietLogger(),
		}),
	}
}

func bareRemote(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	_, err := git.PlainInitWithOptions(dir, &git.PlainInitOptions{
		Bare:        true,
		InitOptions: git.InitOptions{DefaultBranch: plumbing.NewBranchReferenceName(gitrepo.DefaultBranch)},
	})
	if err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestOfflineEdit(t *testing.T) {
	ctx := context.Background()
	cl := newClient(t)
	root := filepath.Join(t.TempDir(), "notes")
	unreachable := filepath.Join(t.TempDir(), "missing.git")

	err := cl.c.Bootstrap(ctx, BootstrapOptions{Mode: ModeCreate, Path: root, RemoteURL: unreachable})
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	states, cancel := cl.c.Subscribe()
	defer cancel()

	if _, err := cl.c.CreateNote(ctx, models.NewNote("work/todo.md", "buy milk", time.Now())); err != nil {
		t.Fatalf("CreateNote offline: %v", err)
	}

	seen := drain(states)
	if len(seen) < 2 || seen[len(seen)-2].Kind != StatePush || seen[len(seen)-1].Kind != StateError {
		t.Errorf("transitions = %v, want ... push error", seen)
	}
	got, err := cl.db.GetNote(ctx, "work/todo.md")
	if err != nil || got.Content != "buy milk" {
		t.Errorf("cached note = %+v, %v", got, err)
	}
	head, err := cl.gw.LastCommitHash(ctx)
	if err != nil || head == "" {
		t.Fatalf("no local commit: %q, %v", head, err)
	}
	p, _ := cl.prefs.Load()
	if p.Checkpoint != head {
		t.Errorf("checkpoint = %q, want %q", p.Checkpoint, head)
	}
}

func TestTwoClientsShareNotes(t *testing.T) {
	ctx := context.Background()
	remote := bareRemote(t)

	a := newClient(t)
	if err := a.c.Bootstrap(ctx, BootstrapOptions{Mode: ModeClone, Path: filepath.Join(t.TempDir(), "a"), RemoteURL: remote}); err != nil {
		t.Fatalf("bootstrap a: %v", err)
	}
	if _, err := a.c.CreateNote(ctx, models.NewNote("work/todo.md", "buy milk", time.Now())); err != nil {
		t.Fatalf("CreateNote: %v", err)
	}
	if s := a.c.SyncState(); s != Ok(false) {
		t.Fatalf("state after push = %v", s)
	}

	b := newClient(t)
	if err := b.c.Bootstrap(ctx, BootstrapOptions{Mode: ModeClone, Path: filepath.Join(t.TempDir(), "b"), RemoteURL: remote}); err != nil {
		t.Fatalf("bootstrap b: %v", err)
	}
	got, err := b.db.GetNote(ctx, "work/todo.md")
	if err != nil || got.Content != "buy milk" {
		t.Fatalf("b sees %+v, %v", got, err)
	}

	if err := a.c.DeleteFolder(ctx, "work"); err != nil {
		t.Fatal(err)
	}
	if err := b.c.UpdateDatabaseAndRepo(ctx); err != nil {
		t.Fatalf("UpdateDatabaseAndRepo: %v", err)
	}
	if ok, _ := b.db.IsNoteExist(ctx, "work/todo.md"); ok {
		t.Error("deletion did not reach the second client")
	}
}
