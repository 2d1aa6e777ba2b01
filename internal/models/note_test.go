package models

import (
	"errors"
	"testing"
	"time"

	"github.com/starford/gitnote/internal/apperr"
)

func TestNewNoteTrimsSlashes(t *testing.T) {
	n := NewNote("/work/todo.md/", "buy milk", time.UnixMilli(42))
	if n.RelativePath != "work/todo.md" {
		t.Errorf("path = %q", n.RelativePath)
	}
	if n.LastModifiedMillis != 42 {
		t.Errorf("mtime = %d", n.LastModifiedMillis)
	}
	if n.ID == "" {
		t.Error("expected an id")
	}
	if err := n.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestNoteIDsAreDistinct(t *testing.T) {
	a := NewNote("a.md", "", time.Now())
	b := NewNote("a.md", "", time.Now())
	if a.ID == b.ID {
		t.Error("ids should differ")
	}
}

func TestNoteValidate(t *testing.T) {
	if err := (Note{}).Validate(); err == nil {
		t.Error("empty path should fail")
	}
	if err := (Note{RelativePath: "a/"}).Validate(); err == nil {
		t.Error("trailing slash should fail")
	}
}

func TestNotePathHelpers(t *testing.T) {
	n := Note{RelativePath: "work/b/c.MD"}
	if got := n.FullName(); got != "c.MD" {
		t.Errorf("FullName = %q", got)
	}
	if got := n.ParentPath(); got != "work/b" {
		t.Errorf("ParentPath = %q", got)
	}
	if got := n.Extension(); got != "md" {
		t.Errorf("Extension = %q", got)
	}
	if got := n.NameWithoutExtension(); got != "c" {
		t.Errorf("NameWithoutExtension = %q", got)
	}
	if got := (Note{RelativePath: "top.txt"}).ParentPath(); got != "" {
		t.Errorf("root ParentPath = %q", got)
	}
}

func TestFolderParent(t *testing.T) {
	if _, ok := NewNoteFolder("").ParentPath(); ok {
		t.Error("root has no parent")
	}
	p, ok := NewNoteFolder("work/b").ParentPath()
	if !ok || p != "work" {
		t.Errorf("ParentPath = %q, %v", p, ok)
	}
}

func TestValidateName(t *testing.T) {
	for _, bad := range []string{"", "   ", "a/b", "what?", "a:b", "x\ty", `q"`} {
		if err := ValidateName(bad); !errors.Is(err, apperr.ErrInvalidName) {
			t.Errorf("ValidateName(%q) = %v, want ErrInvalidName", bad, err)
		}
	}
	for _, good := range []string{"todo.md", "Meeting notes", "2024-01-01"} {
		if err := ValidateName(good); err != nil {
			t.Errorf("ValidateName(%q) = %v", good, err)
		}
	}
}

func TestValidateRelativePath(t *testing.T) {
	if err := ValidateRelativePath("work/todo.md"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	for _, bad := range []string{"/abs.md", "work/../x.md", "a//b.md"} {
		if err := ValidateRelativePath(bad); err == nil {
			t.Errorf("ValidateRelativePath(%q) should fail", bad)
		}
	}
}

func TestParseSortOrder(t *testing.T) {
	cases := map[string]SortOrder{
		"az":      SortAZ,
		"ZA":      SortZA,
		"oldest":  SortOldest,
		"":        SortMostRecent,
		"unknown": SortMostRecent,
	}
	for in, want := range cases {
		if got := ParseSortOrder(in); got != want {
			t.Errorf("ParseSortOrder(%q) = %q, want %q", in, got, want)
		}
	}
}
