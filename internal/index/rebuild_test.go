package index

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/starford/gitnote/internal/apperr"
	"github.com/starford/gitnote/internal/models"
	"github.com/starford/gitnote/internal/prefs"
	"github.com/starford/gitnote/internal/storage"
)

type fakeHead struct {
	hash   string
	stamps map[string]int64
}

func (f *fakeHead) LastCommitHash(context.Context) (string, error) { return f.hash, nil }

func (f *fakeHead) Timestamps(context.Context) (map[string]int64, error) { return f.stamps, nil }

type countingFS struct {
	storage.Provider
	walks int
}

func (c *countingFS) Walk(fn storage.WalkFunc) error {
	c.walks++
	return c.Provider.Walk(fn)
}

type rebuildEnv struct {
	root  string
	files *countingFS
	db    *DB
	head  *fakeHead
	prefs *prefs.FileStore
	rb    *Rebuilder
}

func newRebuildEnv(t *testing.T) *rebuildEnv {
	t.Helper()
	root := t.TempDir()
	fsys, err := storage.NewFS(root)
	if err != nil {
		t.Fatal(err)
	}
	env := &rebuildEnv{
		root:  root,
		files: &countingFS{Provider: fsys},
		db:    testDB(t),
		head:  &fakeHead{},
		prefs: prefs.NewFileStore(filepath.Join(t.TempDir(), "state.yaml")),
	}
	env.rb = NewRebuilder(env.db, env.head, env.prefs, RebuilderOptions{MaxFileSize: 64})
	return env
}

func (e *rebuildEnv) write(t *testing.T, rel, content string) {
	t.Helper()
	abs := filepath.Join(e.root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestEmptyRepoBootstrap(t *testing.T) {
	ctx := context.Background()
	env := newRebuildEnv(t)
	env.head.hash = "abc123"

	rebuilt, err := env.rb.EnsureFresh(ctx, env.files, false)
	if err != nil || !rebuilt {
		t.Fatalf("first EnsureFresh = %v, %v", rebuilt, err)
	}
	notes, folders, _ := env.db.Stats(ctx)
	if notes != 0 || folders != 1 {
		t.Errorf("stats = %d notes, %d folders; want root only", notes, folders)
	}
	p, _ := env.prefs.Load()
	if p.Checkpoint != "abc123" {
		t.Errorf("checkpoint = %q", p.Checkpoint)
	}

	rebuilt, err = env.rb.EnsureFresh(ctx, env.files, false)
	if err != nil || rebuilt {
		t.Errorf("second EnsureFresh = %v, %v; want no rebuild", rebuilt, err)
	}
}

func TestStalenessCheckWalksOnce(t *testing.T) {
	ctx := context.Background()
	env := newRebuildEnv(t)
	env.head.hash = "h1"
	env.write(t, "a.md", "a")

	for i := 0; i < 2; i++ {
		if _, err := env.rb.EnsureFresh(ctx, env.files, false); err != nil {
			t.Fatal(err)
		}
	}
	if env.files.walks != 1 {
		t.Errorf("walks = %d, want 1", env.files.walks)
	}

	env.head.hash = "h2"
	_, _ = env.rb.EnsureFresh(ctx, env.files, false)
	_, _ = env.rb.EnsureFresh(ctx, env.files, true)
	if env.files.walks != 3 {
		t.Errorf("walks = %d, want 3 after head change and force", env.files.walks)
	}
}

func TestRebuildMatchesFilesystem(t *testing.T) {
	ctx := context.Background()
	env := newRebuildEnv(t)
	env.head.hash = "h1"
	env.head.stamps = map[string]int64{"work/todo.md": 1234}

	env.write(t, "work/todo.md", "buy milk")
	env.write(t, "readme.txt", "hi")
	env.write(t, "image.png", "binary")
	env.write(t, "big.md", strings.Repeat("x", 65))
	env.write(t, ".git/config.md", "hidden")
	env.write(t, ".obsidian/x.md", "hidden")
	if err := os.Symlink(filepath.Join(env.root, "work"), filepath.Join(env.root, "link")); err != nil {
		t.Fatal(err)
	}
	mtime := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	_ = os.Chtimes(filepath.Join(env.root, "readme.txt"), mtime, mtime)

	if _, err := env.rb.EnsureFresh(ctx, env.files, false); err != nil {
		t.Fatalf("EnsureFresh: %v", err)
	}

	page, err := env.db.GridNotes(ctx, GridQuery{IncludeSubfolders: true, Sort: models.SortAZ})
	if err != nil {
		t.Fatal(err)
	}
	got := map[string]models.GridNote{}
	for _, n := range page.Notes {
		got[n.RelativePath] = n
	}
	if len(got) != 2 {
		t.Fatalf("notes = %v", page.Notes)
	}
	todo := got["work/todo.md"]
	if todo.Content != "buy milk" || todo.LastModifiedMillis != 1234 {
		t.Errorf("todo = %+v", todo)
	}
	if got["readme.txt"].LastModifiedMillis != mtime.UnixMilli() {
		t.Errorf("readme mtime = %d, want %d", got["readme.txt"].LastModifiedMillis, mtime.UnixMilli())
	}

	_, folders, _ := env.db.Stats(ctx)
	if folders != 2 {
		t.Errorf("folders = %d, want root and work", folders)
	}
	if _, err := env.db.GetFolder(ctx, "link"); err == nil {
		t.Error("symlinked directory indexed")
	}
}

func TestRebuildKeepsIDs(t *testing.T) {
	ctx := context.Background()
	env := newRebuildEnv(t)
	env.head.hash = "h1"
	env.write(t, "dir/a.md", "a")
	_, _ = env.rb.EnsureFresh(ctx, env.files, false)

	before, _ := env.db.GetNote(ctx, "dir/a.md")
	folder, _ := env.db.GetFolder(ctx, "dir")
	root, _ := env.db.RootFolder(ctx)

	env.write(t, "dir/a.md", "changed")
	env.head.hash = "h2"
	_, _ = env.rb.EnsureFresh(ctx, env.files, false)

	after, _ := env.db.GetNote(ctx, "dir/a.md")
	if after.ID != before.ID || after.Content != "changed" {
		t.Errorf("note id %s -> %s, content %q", before.ID, after.ID, after.Content)
	}
	if f, _ := env.db.GetFolder(ctx, "dir"); f.ID != folder.ID {
		t.Error("folder id changed")
	}
	if r, _ := env.db.RootFolder(ctx); r.ID != root.ID {
		t.Error("root id changed")
	}
}

func TestRebuildDropsVanishedRows(t *testing.T) {
	ctx := context.Background()
	env := newRebuildEnv(t)
	env.head.hash = "h1"
	_ = env.db.InsertNote(ctx, note("ghost.md", "boo", 1))

	if _, err := env.rb.EnsureFresh(ctx, env.files, false); err != nil {
		t.Fatal(err)
	}
	if ok, _ := env.db.IsNoteExist(ctx, "ghost.md"); ok {
		t.Error("row without a file survived the rebuild")
	}
}

func TestRebuildFailureKeepsPreviousCache(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	env := newRebuildEnv(t)
	env.head.hash = "h1"
	env.write(t, "a.md", "a")
	if _, err := env.rb.EnsureFresh(ctx, env.files, false); err != nil {
		t.Fatal(err)
	}

	env.head.hash = "h2"
	cancel()
	if _, err := env.rb.EnsureFresh(ctx, env.files, false); err == nil {
		t.Fatal("expected error from cancelled rebuild")
	}
	if ok, _ := env.db.IsNoteExist(context.Background(), "a.md"); !ok {
		t.Error("failed rebuild cleared the cache")
	}
	if p, _ := env.prefs.Load(); p.Checkpoint != "h1" {
		t.Errorf("checkpoint = %q, want h1", p.Checkpoint)
	}
}

func TestCheckMirrorsRebuildRules(t *testing.T) {
	env := newRebuildEnv(t)
	cases := []struct {
		path string
		size int64
		ok   bool
	}{
		{"a.md", 10, true},
		{"work/b.TXT", 64, true},
		{".top.md", 1, true},
		{"scan.pdf", 1, false},
		{"noext", 1, false},
		{"big.md", 65, false},
		{".notes/a.md", 1, false},
		{"work/.drafts/a.md", 1, false},
	}
	for _, c := range cases {
		err := env.rb.CheckNote(c.path, c.size)
		if c.ok && err != nil {
			t.Errorf("CheckNote(%q, %d) = %v", c.path, c.size, err)
		}
		if !c.ok && !errors.Is(err, apperr.ErrInvalidName) {
			t.Errorf("CheckNote(%q, %d) = %v, want ErrInvalidName", c.path, c.size, err)
		}
	}

	for _, p := range []string{"", "work", "work/sub"} {
		if err := env.rb.CheckFolder(p); err != nil {
			t.Errorf("CheckFolder(%q) = %v", p, err)
		}
	}
	for _, p := range []string{".git", "work/.cache", ".a/b"} {
		if err := env.rb.CheckFolder(p); !errors.Is(err, apperr.ErrInvalidName) {
			t.Errorf("CheckFolder(%q) = %v, want ErrInvalidName", p, err)
		}
	}
}
