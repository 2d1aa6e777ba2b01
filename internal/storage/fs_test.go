package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/gitnote/internal/apperr"
)

func tempRepo(t *testing.T) *FS {
	t.Helper()
	dir := t.TempDir()
	fs, err := NewFS(dir)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

func TestWriteAndRead(t *testing.T) {
	s := tempRepo(t)
	content := []byte("# Hello\nWorld\n")
	if err := s.Write("note.md", content); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("note.md")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch: got %q", got)
	}
}

func TestWriteCreatesSubdirs(t *testing.T) {
	s := tempRepo(t)
	if err := s.Write("a/b/c.md", []byte("deep")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("a/b/c.md")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "deep" {
		t.Errorf("content = %q", got)
	}
}

func TestReadMissingIsNotFound(t *testing.T) {
	s := tempRepo(t)
	if _, err := s.Read("nope.md"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestCreateFileIsExclusive(t *testing.T) {
	s := tempRepo(t)
	if err := s.CreateFile("work/todo.md"); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if err := s.CreateFile("work/todo.md"); !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Errorf("second CreateFile err = %v, want ErrAlreadyExists", err)
	}
}

func TestDelete(t *testing.T) {
	s := tempRepo(t)
	_ = s.Write("del.md", []byte("bye"))
	if err := s.Delete("del.md"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if ok, _ := s.Exists("del.md"); ok {
		t.Error("file should be gone")
	}
}

func TestDeleteFolderRecursive(t *testing.T) {
	s := tempRepo(t)
	_ = s.Write("work/a.md", []byte("a"))
	_ = s.Write("work/b/c.md", []byte("c"))
	if err := s.DeleteFolder("work"); err != nil {
		t.Fatalf("DeleteFolder: %v", err)
	}
	if ok, _ := s.Exists("work"); ok {
		t.Error("folder should be gone")
	}
	if err := s.DeleteFolder(""); err == nil {
		t.Error("deleting the root should fail")
	}
}

func TestMove(t *testing.T) {
	s := tempRepo(t)
	_ = s.Write("old.md", []byte("data"))
	if err := s.Move("old.md", "sub/new.md"); err != nil {
		t.Fatalf("Move: %v", err)
	}
	got, err := s.Read("sub/new.md")
	if err != nil {
		t.Fatalf("Read after move: %v", err)
	}
	if string(got) != "data" {
		t.Errorf("content = %q", got)
	}
	if _, err := s.Read("old.md"); err == nil {
		t.Error("old path should not exist")
	}
}

func TestStat(t *testing.T) {
	s := tempRepo(t)
	_ = s.Write("sub/a.md", []byte("abc"))
	n, err := s.Stat("sub/a.md")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if n.IsDir || n.Size != 3 || n.Name != "a.md" || n.RelativePath != "sub/a.md" {
		t.Errorf("node = %+v", n)
	}
	if _, err := s.Stat("missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestWalkReportsHiddenAndSymlinks(t *testing.T) {
	s := tempRepo(t)
	_ = s.Write("a.md", []byte("a"))
	_ = s.Write("sub/b.md", []byte("b"))
	_ = s.Write(".git/config", []byte("x"))
	if err := os.Symlink(filepath.Join(s.Root(), "sub"), filepath.Join(s.Root(), "link")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	nodes := map[string]Node{}
	err := s.Walk(func(n Node) error {
		nodes[n.RelativePath] = n
		if n.IsHidden && n.IsDir {
			return SkipDir
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if !nodes[".git"].IsHidden {
		t.Error(".git should be hidden")
	}
	if _, ok := nodes[".git/config"]; ok {
		t.Error("hidden dir should have been skipped")
	}
	link := nodes["link"]
	if !link.IsSymlink || !link.IsDir {
		t.Errorf("link = %+v", link)
	}
	if _, ok := nodes["link/b.md"]; ok {
		t.Error("symlinks must not be followed")
	}
	if _, ok := nodes["sub/b.md"]; !ok {
		t.Error("sub/b.md not visited")
	}
}

func TestTraversalBlocked(t *testing.T) {
	s := tempRepo(t)

	cases := []string{
		"../../etc/passwd",
		"../outside.md",
		"/etc/shadow",
	}
	for _, p := range cases {
		if _, err := s.Read(p); err == nil {
			t.Errorf("expected error for path %q", p)
		}
		if err := s.Write(p, []byte("x")); err == nil {
			t.Errorf("expected error for write to %q", p)
		}
	}
}

func TestAtomicWriteLeavesNoTempFiles(t *testing.T) {
	s := tempRepo(t)
	_ = s.Write("atomic.md", []byte("original content"))

	updated := []byte("updated content")
	if err := s.Write("atomic.md", updated); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, _ := s.Read("atomic.md")
	if string(got) != string(updated) {
		t.Errorf("expected updated content, got %q", got)
	}

	matches, _ := filepath.Glob(filepath.Join(s.root, ".gitnote-tmp-*"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestNewFS_NonExistentDir(t *testing.T) {
	_, err := NewFS(filepath.Join(t.TempDir(), "does-not-exist"))
	if err == nil {
		t.Error("expected error for non-existent dir")
	}
}

func TestNewFS_FileNotDir(t *testing.T) {
	f, _ := os.CreateTemp(t.TempDir(), "gitnote-test-*")
	_ = f.Close()
	_, err := NewFS(f.Name())
	if err == nil {
		t.Error("expected error when root is a file")
	}
}
