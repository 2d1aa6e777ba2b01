// Package noteservice is the UI-facing facade over the sync coordinator and
// the cache: it validates input, resolves stored notes and shapes results.
package noteservice

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/starford/gitnote/internal/apperr"
	"github.com/starford/gitnote/internal/checksum"
	"github.com/starford/gitnote/internal/index"
	"github.com/starford/gitnote/internal/models"
	"github.com/starford/gitnote/internal/notesync"
	"github.com/starford/gitnote/internal/parser"
)

// DefaultExtension is appended to new note names without an extension.
const DefaultExtension = "md"

// NoteDetail is the full representation of a note.
type NoteDetail struct {
	ID           string         `json:"id"`
	Path         string         `json:"path"`
	Name         string         `json:"name"`
	Title        string         `json:"title"`
	Content      string         `json:"content"`
	Checksum     string         `json:"checksum"`
	Completed    *bool          `json:"completed,omitempty"`
	Frontmatter  map[string]any `json:"frontmatter,omitempty"`
	LastModified time.Time      `json:"last_modified"`
}

// NoteListItem is a lightweight item in a list response.
type NoteListItem struct {
	ID           string    `json:"id"`
	Path         string    `json:"path"`
	Name         string    `json:"name"`
	Title        string    `json:"title"`
	IsUnique     bool      `json:"is_unique"`
	Completed    *bool     `json:"completed,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// ListQuery selects a page of notes.
type ListQuery = index.GridQuery

// Syncer performs the writes. It is implemented by *notesync.Coordinator.
type Syncer interface {
	CreateNote(ctx context.Context, n models.Note) (models.Note, error)
	UpdateNote(ctx context.Context, previous, next models.Note) (models.Note, error)
	DeleteNote(ctx context.Context, path string) error
	DeleteNotes(ctx context.Context, paths []string) error
	CreateFolder(ctx context.Context, path string) (models.NoteFolder, error)
	DeleteFolder(ctx context.Context, path string) error
	UpdateDatabaseAndRepo(ctx context.Context) error
	UpdateDatabase(ctx context.Context, force bool) (bool, error)
	Bootstrap(ctx context.Context, o notesync.BootstrapOptions) error
	CloseRepo(ctx context.Context) error
	SyncState() notesync.SyncState
	ConsumeOkSyncState() bool
}

// Reader answers cache queries. It is implemented by *index.DB.
type Reader interface {
	GetNote(ctx context.Context, path string) (models.Note, error)
	GridNotes(ctx context.Context, q index.GridQuery) (index.GridPage, error)
	DrawerFolders(ctx context.Context, parent string, sort models.SortOrder) ([]models.DrawerFolder, error)
	Search(ctx context.Context, query string, limit int) ([]index.SearchResult, error)
}

// EventFunc is called after a successful write. kind is one of "created",
// "updated" or "deleted".
type EventFunc func(kind, path string)

// Service combines the coordinator and the cache.
type Service struct {
	sync    Syncer
	db      Reader
	onEvent EventFunc
	now     func() time.Time
}

// NewService creates a note service. onEvent may be nil.
func NewService(sync Syncer, db Reader, onEvent EventFunc) *Service {
	if onEvent == nil {
		onEvent = func(string, string) {}
	}
	return &Service{sync: sync, db: db, onEvent: onEvent, now: time.Now}
}

// GetNote returns the cached note at path.
func (s *Service) GetNote(ctx context.Context, path string) (*NoteDetail, error) {
	n, err := s.db.GetNote(ctx, models.TrimSlashes(path))
	if err != nil {
		return nil, err
	}
	return detail(n), nil
}

// NormalizeNotePath trims slashes and appends DefaultExtension to names
// without one.
func NormalizeNotePath(path string) string {
	path = models.TrimSlashes(strings.TrimSpace(path))
	if path != "" && models.Extension(path) == "" {
		path += "." + DefaultExtension
	}
	return path
}

// CreateNote writes a new note.
func (s *Service) CreateNote(ctx context.Context, path, content string) (*NoteDetail, error) {
	path = NormalizeNotePath(path)
	if err := models.ValidateRelativePath(path); err != nil {
		return nil, err
	}
	n, err := s.sync.CreateNote(ctx, models.NewNote(path, content, s.now()))
	if err != nil {
		return nil, err
	}
	s.onEvent("created", n.RelativePath)
	return detail(n), nil
}

// UpdateRequest describes a note update. An empty NewPath keeps the path;
// IfMatch, when set, must match the current content checksum.
type UpdateRequest struct {
	Path    string
	NewPath string
	Content string
	IfMatch string
}

// UpdateNote replaces the content of a note and optionally renames it.
// It fails with apperr.ErrConflict when IfMatch does not match.
func (s *Service) UpdateNote(ctx context.Context, req UpdateRequest) (*NoteDetail, error) {
	prev, err := s.db.GetNote(ctx, models.TrimSlashes(req.Path))
	if err != nil {
		return nil, err
	}
	if !checksum.Matches(req.IfMatch, []byte(prev.Content)) {
		return nil, fmt.Errorf("note %s: %w", prev.RelativePath, apperr.ErrConflict)
	}
	next := prev
	next.Content = req.Content
	if req.NewPath != "" {
		next.RelativePath = NormalizeNotePath(req.NewPath)
		if err := models.ValidateRelativePath(next.RelativePath); err != nil {
			return nil, err
		}
	}
	updated, err := s.sync.UpdateNote(ctx, prev, next)
	if err != nil {
		return nil, err
	}
	if updated.RelativePath != prev.RelativePath {
		s.onEvent("deleted", prev.RelativePath)
		s.onEvent("created", updated.RelativePath)
	} else {
		s.onEvent("updated", updated.RelativePath)
	}
	return detail(updated), nil
}

// ToggleCompleted flips the completed? frontmatter flag of a note.
func (s *Service) ToggleCompleted(ctx context.Context, path string) (*NoteDetail, error) {
	prev, err := s.db.GetNote(ctx, models.TrimSlashes(path))
	if err != nil {
		return nil, err
	}
	next := prev
	next.Content = parser.ToggleCompleted(prev.Content, s.now())
	updated, err := s.sync.UpdateNote(ctx, prev, next)
	if err != nil {
		return nil, err
	}
	s.onEvent("updated", updated.RelativePath)
	return detail(updated), nil
}

// DeleteNote removes one note.
func (s *Service) DeleteNote(ctx context.Context, path string) error {
	path = models.TrimSlashes(path)
	if err := s.sync.DeleteNote(ctx, path); err != nil {
		return err
	}
	s.onEvent("deleted", path)
	return nil
}

// DeleteNotes removes several notes in one commit.
func (s *Service) DeleteNotes(ctx context.Context, paths []string) error {
	clean := make([]string, 0, len(paths))
	for _, p := range paths {
		if p = models.TrimSlashes(p); p != "" {
			clean = append(clean, p)
		}
	}
	if err := s.sync.DeleteNotes(ctx, clean); err != nil {
		return err
	}
	for _, p := range clean {
		s.onEvent("deleted", p)
	}
	return nil
}

// ListNotes returns a page of notes and the total count.
func (s *Service) ListNotes(ctx context.Context, q ListQuery) ([]NoteListItem, int, error) {
	q.Folder = models.TrimSlashes(q.Folder)
	page, err := s.db.GridNotes(ctx, q)
	if err != nil {
		return nil, 0, err
	}
	items := make([]NoteListItem, len(page.Notes))
	for i, g := range page.Notes {
		items[i] = NoteListItem{
			ID:           g.ID,
			Path:         g.RelativePath,
			Name:         g.FullName(),
			Title:        g.Title,
			IsUnique:     g.IsUnique,
			Completed:    g.Completed,
			LastModified: g.LastModified(),
		}
	}
	return items, page.Total, nil
}

// ListFolders returns the direct subfolders of parent.
func (s *Service) ListFolders(ctx context.Context, parent string, sort models.SortOrder) ([]models.DrawerFolder, error) {
	return s.db.DrawerFolders(ctx, models.TrimSlashes(parent), sort)
}

// CreateFolder creates a folder.
func (s *Service) CreateFolder(ctx context.Context, path string) (models.NoteFolder, error) {
	return s.sync.CreateFolder(ctx, models.TrimSlashes(strings.TrimSpace(path)))
}

// DeleteFolder removes a folder and every note below it.
func (s *Service) DeleteFolder(ctx context.Context, path string) error {
	path = models.TrimSlashes(path)
	if err := s.sync.DeleteFolder(ctx, path); err != nil {
		return err
	}
	s.onEvent("deleted", path+"/")
	return nil
}

// Search runs a free-text search over the cache.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]index.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return []index.SearchResult{}, nil
	}
	return s.db.Search(ctx, query, limit)
}

// Sync pulls, pushes and refreshes the cache.
func (s *Service) Sync(ctx context.Context) error {
	return s.sync.UpdateDatabaseAndRepo(ctx)
}

// Reindex rebuilds the cache from the files.
func (s *Service) Reindex(ctx context.Context) error {
	_, err := s.sync.UpdateDatabase(ctx, true)
	return err
}

// SyncState returns the current sync indicator.
func (s *Service) SyncState() notesync.SyncState { return s.sync.SyncState() }

// ConsumeSyncState acknowledges a successful sync.
func (s *Service) ConsumeSyncState() bool { return s.sync.ConsumeOkSyncState() }

// OpenRepository sets up the repository described by o.
func (s *Service) OpenRepository(ctx context.Context, o notesync.BootstrapOptions) error {
	return s.sync.Bootstrap(ctx, o)
}

// CloseRepository closes the repository and clears the cache.
func (s *Service) CloseRepository(ctx context.Context) error {
	return s.sync.CloseRepo(ctx)
}

func detail(n models.Note) *NoteDetail {
	res := parser.Parse([]byte(n.Content))
	return &NoteDetail{
		ID:           n.ID,
		Path:         n.RelativePath,
		Name:         n.FullName(),
		Title:        res.Title,
		Content:      n.Content,
		Checksum:     checksum.Sum([]byte(n.Content)),
		Completed:    res.Completed,
		Frontmatter:  res.Frontmatter,
		LastModified: n.LastModified(),
	}
}
