package index

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

func startWatch(t *testing.T, root string) *atomic.Int32 {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	var calls atomic.Int32
	opts := WatchOptions{
		Supports: func(p string) bool { return strings.HasSuffix(p, ".md") },
		Debounce: 50 * time.Millisecond,
		Logger:   slog.New(slog.NewJSONHandler(io.Discard, nil)),
	}
	go Watch(ctx, root, opts, func(context.Context) { calls.Add(1) })
	time.Sleep(100 * time.Millisecond)
	return &calls
}

func TestWatcherDebouncesNoteEdits(t *testing.T) {
	root := t.TempDir()
	calls := startWatch(t, root)

	for i := 0; i < 5; i++ {
		_ = os.WriteFile(filepath.Join(root, "new.md"), []byte(strings.Repeat("x", i)), 0o644)
	}

	eventually(t, 5*time.Second, 20*time.Millisecond, func() bool {
		return calls.Load() >= 1
	}, "change callback not called")
	time.Sleep(200 * time.Millisecond)
	if n := calls.Load(); n != 1 {
		t.Errorf("callback ran %d times, want 1", n)
	}
}

func TestWatcherFollowsNewDirectories(t *testing.T) {
	root := t.TempDir()
	calls := startWatch(t, root)

	sub := filepath.Join(root, "subdir")
	_ = os.MkdirAll(sub, 0o755)
	eventually(t, 5*time.Second, 20*time.Millisecond, func() bool {
		return calls.Load() >= 1
	}, "new directory not reported")

	before := calls.Load()
	_ = os.WriteFile(filepath.Join(sub, "deep.md"), []byte("# Deep"), 0o644)
	eventually(t, 5*time.Second, 20*time.Millisecond, func() bool {
		return calls.Load() > before
	}, "file in new subdir not reported")
}

func TestWatcherIgnoresHiddenAndUnsupported(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, ".git"), 0o755); err != nil {
		t.Fatal(err)
	}
	calls := startWatch(t, root)

	_ = os.WriteFile(filepath.Join(root, ".git", "index"), []byte("x"), 0o644)
	_ = os.WriteFile(filepath.Join(root, "picture.png"), []byte("x"), 0o644)
	_ = os.WriteFile(filepath.Join(root, ".hidden.md"), []byte("x"), 0o644)

	time.Sleep(300 * time.Millisecond)
	if n := calls.Load(); n != 0 {
		t.Errorf("callback ran %d times for ignored files", n)
	}
}

func TestWatcherReportsRemovals(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "del.md")
	_ = os.WriteFile(path, []byte("x"), 0o644)
	calls := startWatch(t, root)

	_ = os.Remove(path)
	eventually(t, 5*time.Second, 20*time.Millisecond, func() bool {
		return calls.Load() >= 1
	}, "removal not reported")
}

func TestIsHiddenPath(t *testing.T) {
	cases := map[string]bool{
		".":              false,
		"a.md":           false,
		"dir/a.md":       false,
		".git":           true,
		".git/objects/x": true,
		"dir/.cache/a":   true,
	}
	for in, want := range cases {
		if got := isHiddenPath(in); got != want {
			t.Errorf("isHiddenPath(%q) = %v, want %v", in, got, want)
		}
	}
}
