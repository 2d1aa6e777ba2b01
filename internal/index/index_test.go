package index

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/starford/gitnote/internal/apperr"
	"github.com/starford/gitnote/internal/models"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func note(path, content string, modified int64) models.Note {
	return models.Note{RelativePath: path, Content: content, LastModifiedMillis: modified, ID: "id-" + path}
}

func TestOpenCreatesRootFolder(t *testing.T) {
	db := testDB(t)
	root, err := db.RootFolder(context.Background())
	if err != nil {
		t.Fatalf("RootFolder: %v", err)
	}
	if root.RelativePath != "" || root.ID == "" {
		t.Errorf("root = %+v", root)
	}
}

func TestReopenKeepsRootID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	first, _ := db.RootFolder(context.Background())
	db.Close()

	db, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	second, _ := db.RootFolder(context.Background())
	if first.ID != second.ID {
		t.Errorf("root id changed: %s -> %s", first.ID, second.ID)
	}
}

func TestInsertNoteUpserts(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	if err := db.InsertNote(ctx, note("a.md", "one", 1)); err != nil {
		t.Fatalf("InsertNote: %v", err)
	}
	if err := db.InsertNote(ctx, note("a.md", "two", 2)); err != nil {
		t.Fatalf("InsertNote again: %v", err)
	}
	got, err := db.GetNote(ctx, "a.md")
	if err != nil {
		t.Fatalf("GetNote: %v", err)
	}
	if got.Content != "two" || got.LastModifiedMillis != 2 {
		t.Errorf("note = %+v", got)
	}
	notes, _, _ := db.Stats(ctx)
	if notes != 1 {
		t.Errorf("notes = %d, want 1", notes)
	}
}

func TestInsertNoteRejectsBadPath(t *testing.T) {
	db := testDB(t)
	if err := db.InsertNote(context.Background(), note("/a.md", "x", 1)); err == nil {
		t.Error("expected error for leading slash")
	}
}

func TestRemoveNote(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	_ = db.InsertNote(ctx, note("a.md", "x", 1))

	n, err := db.RemoveNote(ctx, "a.md")
	if err != nil || n != 1 {
		t.Fatalf("RemoveNote = %d, %v", n, err)
	}
	if ok, _ := db.IsNoteExist(ctx, "a.md"); ok {
		t.Error("note still exists")
	}
	if _, err := db.GetNote(ctx, "a.md"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("GetNote err = %v, want ErrNotFound", err)
	}
	if n, _ := db.RemoveNote(ctx, "a.md"); n != 0 {
		t.Errorf("second remove = %d, want 0", n)
	}
}

func TestDeleteFolderCascades(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	for _, f := range []string{"work", "work/b", "workshop"} {
		if err := db.InsertFolder(ctx, models.NewNoteFolder(f)); err != nil {
			t.Fatal(err)
		}
	}
	_ = db.InsertNote(ctx, note("work/a.md", "a", 1))
	_ = db.InsertNote(ctx, note("work/b/c.md", "c", 1))
	_ = db.InsertNote(ctx, note("workshop/d.md", "d", 1))
	_ = db.InsertNote(ctx, note("work.md", "e", 1))

	removed, err := db.DeleteFolder(ctx, "work")
	if err != nil {
		t.Fatalf("DeleteFolder: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}

	var left int
	err = db.conn.QueryRow(`
		SELECT (SELECT COUNT(*) FROM notes WHERE relative_path = 'work' OR relative_path LIKE 'work/%')
		     + (SELECT COUNT(*) FROM note_folders WHERE relative_path = 'work' OR relative_path LIKE 'work/%')
	`).Scan(&left)
	if err != nil {
		t.Fatal(err)
	}
	if left != 0 {
		t.Errorf("%d rows below work survived", left)
	}
	for _, p := range []string{"workshop/d.md", "work.md"} {
		if ok, _ := db.IsNoteExist(ctx, p); !ok {
			t.Errorf("%s should survive", p)
		}
	}
	if _, err := db.GetFolder(ctx, "workshop"); err != nil {
		t.Errorf("workshop folder removed: %v", err)
	}
}

func TestDeleteRootFolderRefused(t *testing.T) {
	db := testDB(t)
	if _, err := db.DeleteFolder(context.Background(), ""); !errors.Is(err, apperr.ErrInvalidName) {
		t.Errorf("err = %v, want ErrInvalidName", err)
	}
}

func TestGridNotesScopeAndSort(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	_ = db.InsertNote(ctx, note("b.md", "b", 30))
	_ = db.InsertNote(ctx, note("a.md", "a", 10))
	_ = db.InsertNote(ctx, note("work/c.md", "c", 20))
	_ = db.InsertNote(ctx, note("work/deep/a.md", "---\ntitle: Deep\ncompleted?: yes\n---\nbody", 40))

	cases := []struct {
		name  string
		query GridQuery
		want  []string
	}{
		{"root only", GridQuery{Sort: models.SortAZ}, []string{"a.md", "b.md"}},
		{"root recursive recent", GridQuery{IncludeSubfolders: true, Sort: models.SortMostRecent},
			[]string{"work/deep/a.md", "b.md", "work/c.md", "a.md"}},
		{"folder", GridQuery{Folder: "work", Sort: models.SortOldest}, []string{"work/c.md"}},
		{"folder recursive za", GridQuery{Folder: "work", IncludeSubfolders: true, Sort: models.SortZA},
			[]string{"work/c.md", "work/deep/a.md"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			page, err := db.GridNotes(ctx, tc.query)
			if err != nil {
				t.Fatalf("GridNotes: %v", err)
			}
			if page.Total != len(tc.want) || len(page.Notes) != len(tc.want) {
				t.Fatalf("got %d notes (total %d), want %v", len(page.Notes), page.Total, tc.want)
			}
			for i, n := range page.Notes {
				if n.RelativePath != tc.want[i] {
					t.Errorf("notes[%d] = %s, want %s", i, n.RelativePath, tc.want[i])
				}
			}
		})
	}
}

func TestGridNotesUniqueTitleCompleted(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	_ = db.InsertNote(ctx, note("a.md", "plain", 1))
	_ = db.InsertNote(ctx, note("work/a.md", "---\ntitle: Shopping\ncompleted?: no\n---\nmilk", 2))
	_ = db.InsertNote(ctx, note("work/b.md", "b", 3))

	page, err := db.GridNotes(ctx, GridQuery{IncludeSubfolders: true, Sort: models.SortAZ})
	if err != nil {
		t.Fatal(err)
	}
	byPath := map[string]models.GridNote{}
	for _, n := range page.Notes {
		byPath[n.RelativePath] = n
	}
	if byPath["a.md"].IsUnique || byPath["work/a.md"].IsUnique {
		t.Error("a.md appears twice and must not be unique")
	}
	if !byPath["work/b.md"].IsUnique {
		t.Error("work/b.md should be unique")
	}
	g := byPath["work/a.md"]
	if g.Title != "Shopping" || g.Completed == nil || *g.Completed {
		t.Errorf("work/a.md = title %q completed %v", g.Title, g.Completed)
	}
	if byPath["a.md"].Completed != nil {
		t.Error("plain note has no completed flag")
	}
}

func TestGridNotesPaging(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	for i, p := range []string{"a.md", "b.md", "c.md", "d.md", "e.md"} {
		_ = db.InsertNote(ctx, note(p, p, int64(i)))
	}
	page, err := db.GridNotes(ctx, GridQuery{Sort: models.SortAZ, Limit: 2, Offset: 2})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 5 || len(page.Notes) != 2 || page.Notes[0].RelativePath != "c.md" {
		t.Errorf("page = %+v", page)
	}
	page, err = db.GridNotes(ctx, GridQuery{Sort: models.SortAZ, Limit: 2, Offset: 10})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 5 || len(page.Notes) != 0 {
		t.Errorf("past-the-end page = %+v", page)
	}
}

func TestGridNotesSearch(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	_ = db.InsertNote(ctx, note("shopping.md", "buy milk", 1))
	_ = db.InsertNote(ctx, note("work/todo.md", "write report", 2))

	page, err := db.GridNotes(ctx, GridQuery{IncludeSubfolders: true, Search: "milk"})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Notes) != 1 || page.Notes[0].RelativePath != "shopping.md" {
		t.Errorf("search = %+v", page.Notes)
	}
}

func TestDrawerFoldersCountsNotesBelow(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	for _, f := range []string{"alpha", "alpha/inner", "beta"} {
		_ = db.InsertFolder(ctx, models.NewNoteFolder(f))
	}
	_ = db.InsertNote(ctx, note("alpha/a.md", "", 1))
	_ = db.InsertNote(ctx, note("alpha/inner/b.md", "", 2))
	_ = db.InsertNote(ctx, note("root.md", "", 3))

	got, err := db.DrawerFolders(ctx, "", models.SortAZ)
	if err != nil {
		t.Fatalf("DrawerFolders: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("folders = %+v", got)
	}
	if got[0].RelativePath != "alpha" || got[0].NoteCount != 2 {
		t.Errorf("alpha = %+v", got[0])
	}
	if got[1].RelativePath != "beta" || got[1].NoteCount != 0 {
		t.Errorf("beta = %+v", got[1])
	}

	inner, err := db.DrawerFolders(ctx, "alpha", models.SortAZ)
	if err != nil {
		t.Fatal(err)
	}
	if len(inner) != 1 || inner[0].RelativePath != "alpha/inner" || inner[0].NoteCount != 1 {
		t.Errorf("inner = %+v", inner)
	}
}

func TestClearLeavesOnlyRoot(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	_ = db.InsertFolder(ctx, models.NewNoteFolder("x"))
	_ = db.InsertNote(ctx, note("x/a.md", "", 1))

	if err := db.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	notes, folders, err := db.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if notes != 0 || folders != 1 {
		t.Errorf("stats = %d notes, %d folders", notes, folders)
	}
	if _, err := db.RootFolder(ctx); err != nil {
		t.Errorf("root missing after clear: %v", err)
	}
}
