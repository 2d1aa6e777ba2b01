package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/gitnote/internal/noteservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *noteservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	if authEnabled {
		r.Use(TokenAuth(token))
	}

	// Notes.
	r.Get("/notes", h.ListNotes)
	r.Post("/notes", h.CreateNote)
	r.Post("/notes:batchDelete", h.DeleteNotes)
	r.Get("/notes/*", h.GetNote)
	r.Put("/notes/*", h.UpdateNote)
	r.Delete("/notes/*", h.DeleteNote)
	r.Post("/completed/*", h.ToggleCompleted)

	// Folders.
	r.Get("/folders", h.ListFolders)
	r.Post("/folders", h.CreateFolder)
	r.Delete("/folders/*", h.DeleteFolder)

	r.Get("/search", h.Search)

	// Sync and repository lifecycle.
	r.Post("/sync", h.Sync)
	r.Post("/reindex", h.Reindex)
	r.Get("/sync/state", h.SyncState)
	r.Post("/sync/state/consume", h.ConsumeSyncState)
	r.Post("/repo", h.OpenRepository)
	r.Delete("/repo", h.CloseRepository)

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
