package parser

import (
	"strings"
	"testing"
	"time"
)

func TestParse_FrontmatterAndBody(t *testing.T) {
	input := []byte("---\ntitle: Hello\ncompleted?: yes\n---\n# Other\nBody text.\n")
	r := Parse(input)
	if r.Title != "Hello" {
		t.Errorf("title = %q, want %q", r.Title, "Hello")
	}
	if r.Completed == nil || !*r.Completed {
		t.Errorf("completed = %v, want true", r.Completed)
	}
	if r.Body != "# Other\nBody text.\n" {
		t.Errorf("body = %q", r.Body)
	}
}

func TestParse_NoFrontmatter(t *testing.T) {
	r := Parse([]byte("# Just a heading\nSome text.\n"))
	if r.Frontmatter != nil {
		t.Errorf("expected nil frontmatter, got %v", r.Frontmatter)
	}
	if r.Title != "Just a heading" {
		t.Errorf("title = %q, want %q", r.Title, "Just a heading")
	}
	if r.Completed != nil {
		t.Errorf("completed = %v, want nil", *r.Completed)
	}
}

func TestParse_CompletedNo(t *testing.T) {
	r := Parse([]byte("---\ncompleted?: no\n---\nx"))
	if r.Completed == nil || *r.Completed {
		t.Errorf("completed = %v, want false", r.Completed)
	}
}

func TestParse_InvalidYAMLFallback(t *testing.T) {
	input := []byte("---\n: invalid: yaml: {{{\n---\nBody\n")
	r := Parse(input)
	if r.Frontmatter != nil {
		t.Errorf("expected nil frontmatter on invalid YAML")
	}
	if r.Body != string(input) {
		t.Errorf("body = %q", r.Body)
	}
}

func TestDeriveTitle_H1Fallback(t *testing.T) {
	title := deriveTitle(nil, "some text\n# My Heading\nmore")
	if title != "My Heading" {
		t.Errorf("title = %q, want %q", title, "My Heading")
	}
}

func TestToggleCompleted_AddsFrontmatter(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	got := ToggleCompleted("buy milk", now)
	want := "---\ncompleted?: yes\nupdated: 2024-05-01 10:00:00Z\n---\nbuy milk"
	if got != want {
		t.Errorf("got %q\nwant %q", got, want)
	}
}

func TestToggleCompleted_FlipsExisting(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	in := "---\ntitle: T\ncompleted?: yes\nupdated: old\n---\nbody"
	got := ToggleCompleted(in, now)
	want := "---\ntitle: T\ncompleted?: no\nupdated: 2024-05-01 10:00:00Z\n---\nbody"
	if got != want {
		t.Errorf("got %q\nwant %q", got, want)
	}
	if back := ToggleCompleted(got, now); !strings.Contains(back, "completed?: yes") {
		t.Errorf("second toggle = %q", back)
	}
}

func TestToggleCompleted_InsertsAfterTitle(t *testing.T) {
	in := "---\ntitle: T\ntags: x\n---\nbody"
	got := ToggleCompleted(in, time.Now())
	want := "---\ntitle: T\ncompleted?: yes\ntags: x\n---\nbody"
	if got != want {
		t.Errorf("got %q\nwant %q", got, want)
	}
	r := Parse([]byte(got))
	if r.Completed == nil || !*r.Completed {
		t.Errorf("completed = %v", r.Completed)
	}
}
