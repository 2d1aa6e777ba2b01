package index

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/starford/gitnote/internal/apperr"
	"github.com/starford/gitnote/internal/models"
	"github.com/starford/gitnote/internal/prefs"
	"github.com/starford/gitnote/internal/storage"
)

// DefaultMaxFileSize is the largest file the rebuilder indexes.
const DefaultMaxFileSize = 2 << 20

// DefaultExtensions are the note extensions indexed when none are configured.
var DefaultExtensions = []string{"md", "txt"}

// HeadSource is the part of the repository gateway the rebuilder reads.
type HeadSource interface {
	LastCommitHash(ctx context.Context) (string, error)
	Timestamps(ctx context.Context) (map[string]int64, error)
}

// RebuilderOptions configures a Rebuilder.
type RebuilderOptions struct {
	Extensions  []string
	MaxFileSize int64
	Logger      *slog.Logger
}

// Rebuilder repopulates the cache from the repository files whenever the
// persisted checkpoint no longer matches the repository head.
type Rebuilder struct {
	db          *DB
	repo        HeadSource
	prefs       prefs.Store
	extensions  map[string]bool
	maxFileSize int64
	logger      *slog.Logger
}

// NewRebuilder creates a Rebuilder.
func NewRebuilder(db *DB, repo HeadSource, store prefs.Store, opts RebuilderOptions) *Rebuilder {
	exts := opts.Extensions
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	set := make(map[string]bool, len(exts))
	for _, e := range exts {
		set[strings.ToLower(strings.TrimPrefix(e, "."))] = true
	}
	limit := opts.MaxFileSize
	if limit <= 0 {
		limit = DefaultMaxFileSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Rebuilder{
		db:          db,
		repo:        repo,
		prefs:       store,
		extensions:  set,
		maxFileSize: limit,
		logger:      logger,
	}
}

// Supports reports whether files with the extension of path are indexed.
func (r *Rebuilder) Supports(path string) bool {
	return r.extensions[models.Extension(path)]
}

// CheckNote fails with apperr.ErrInvalidName when a rebuild would leave a
// note at path with size bytes of content out of the cache.
func (r *Rebuilder) CheckNote(path string, size int64) error {
	if !r.Supports(path) {
		return fmt.Errorf("%w: %q has an unsupported extension", apperr.ErrInvalidName, path)
	}
	if size > r.maxFileSize {
		return fmt.Errorf("%w: %q is larger than %d bytes", apperr.ErrInvalidName, path, r.maxFileSize)
	}
	return r.CheckFolder(models.ParentPath(path))
}

// CheckFolder fails with apperr.ErrInvalidName when path lies in or below a
// hidden folder, which a rebuild skips.
func (r *Rebuilder) CheckFolder(path string) error {
	if path == "" {
		return nil
	}
	for _, elem := range strings.Split(path, "/") {
		if strings.HasPrefix(elem, ".") {
			return fmt.Errorf("%w: %q is hidden", apperr.ErrInvalidName, path)
		}
	}
	return nil
}

// EnsureFresh rebuilds the cache from files when force is set or the head
// differs from the checkpoint. It reports whether a rebuild happened.
//
// Clearing, walking and inserting run in one transaction, so readers see
// either the previous cache or the new one. Ids of paths that survive the
// rebuild are kept.
func (r *Rebuilder) EnsureFresh(ctx context.Context, files storage.Provider, force bool) (bool, error) {
	head, err := r.repo.LastCommitHash(ctx)
	if err != nil {
		return false, fmt.Errorf("index: head: %w", err)
	}
	p, err := r.prefs.Load()
	if err != nil {
		return false, err
	}
	if !force && p.Checkpoint == head {
		return false, nil
	}

	var stamps map[string]int64
	if head != "" {
		if stamps, err = r.repo.Timestamps(ctx); err != nil {
			return false, fmt.Errorf("index: timestamps: %w", err)
		}
	}

	var notes, folders int
	err = inTx(ctx, r.db.conn, func(tx *sql.Tx) error {
		ids, err := knownIDs(ctx, tx)
		if err != nil {
			return err
		}
		if err := clearAll(ctx, tx); err != nil {
			return err
		}
		if err := insertFolder(ctx, tx, models.NoteFolder{ID: ids.id("")}); err != nil {
			return err
		}
		return files.Walk(func(n storage.Node) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			switch {
			case n.IsSymlink:
				return nil
			case n.IsDir && n.IsHidden:
				return storage.SkipDir
			case n.IsDir:
				folders++
				return insertFolder(ctx, tx, models.NoteFolder{RelativePath: n.RelativePath, ID: ids.id(n.RelativePath)})
			}
			if !r.Supports(n.RelativePath) {
				return nil
			}
			if n.Size > r.maxFileSize {
				r.logger.Warn("rebuild: file too large, skipped",
					slog.String("path", n.RelativePath),
					slog.Int64("size", n.Size))
				return nil
			}
			data, err := files.Read(n.RelativePath)
			if err != nil {
				r.logger.Warn("rebuild: read failed",
					slog.String("path", n.RelativePath),
					slog.String("error", err.Error()))
				return nil
			}
			modified, ok := stamps[n.RelativePath]
			if !ok {
				modified = n.ModTime.UnixMilli()
			}
			notes++
			return insertNote(ctx, tx, models.Note{
				RelativePath:       n.RelativePath,
				Content:            string(data),
				LastModifiedMillis: modified,
				ID:                 ids.id(n.RelativePath),
			})
		})
	})
	if err != nil {
		return false, fmt.Errorf("index: rebuild: %w", err)
	}

	if err := r.prefs.Update(func(p *prefs.Preferences) { p.Checkpoint = head }); err != nil {
		return true, err
	}
	r.logger.Info("rebuild: cache refreshed",
		slog.String("head", head),
		slog.Int("notes", notes),
		slog.Int("folders", folders))
	return true, nil
}

type idSet map[string]string

func (s idSet) id(path string) string {
	if id, ok := s[path]; ok {
		return id
	}
	return uuid.NewString()
}

func knownIDs(ctx context.Context, ex execer) (idSet, error) {
	rows, err := ex.QueryContext(ctx,
		`SELECT relative_path, id FROM notes UNION ALL SELECT relative_path, id FROM note_folders`)
	if err != nil {
		return nil, fmt.Errorf("index: load ids: %w", err)
	}
	defer rows.Close()
	ids := idSet{}
	for rows.Next() {
		var path, id string
		if err := rows.Scan(&path, &id); err != nil {
			return nil, err
		}
		ids[path] = id
	}
	return ids, rows.Err()
}
