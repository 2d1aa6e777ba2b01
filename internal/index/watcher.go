package index

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultWatchDebounce is the quiet period after the last event before the
// change callback runs.
const DefaultWatchDebounce = 500 * time.Millisecond

// WatchOptions configures Watch.
type WatchOptions struct {
	// Supports filters note files by path; nil accepts every file.
	Supports func(path string) bool
	Debounce time.Duration
	Logger   *slog.Logger
}

// Watch observes the repository tree rooted at root and calls onChange once
// edits made outside the application settle. Hidden directories such as
// .git are not watched. New directories are added as they appear. Watch
// returns when ctx is cancelled.
func Watch(ctx context.Context, root string, opts WatchOptions, onChange func(ctx context.Context)) error {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, root); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", root))

	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(debounce)
			timerCh = timer.C
			return
		}
		timer.Reset(debounce)
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-timerCh:
			timer, timerCh = nil, nil
			onChange(ctx)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			rel, err := filepath.Rel(root, ev.Name)
			if err != nil || isHiddenPath(rel) {
				continue
			}
			rel = filepath.ToSlash(rel)

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Lstat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, ev.Name); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", rel),
							slog.String("error", addErr.Error()))
					}
					schedule()
					continue
				}
			}
			// Removed or renamed directories carry no extension.
			if ev.Op&(fsnotify.Remove|fsnotify.Rename) == 0 && opts.Supports != nil && !opts.Supports(rel) {
				continue
			}
			if ev.Op == fsnotify.Chmod {
				continue
			}
			logger.Debug("watcher: change", slog.String("path", rel), slog.String("op", ev.Op.String()))
			schedule()

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// addDirsRecursive adds root and all its non-hidden subdirectories.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}

func isHiddenPath(rel string) bool {
	if rel == "." {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}
