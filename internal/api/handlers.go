package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/gitnote/internal/checksum"
	"github.com/starford/gitnote/internal/models"
	"github.com/starford/gitnote/internal/noteservice"
)

const maxBodySize = 10 << 20

// Handler holds API route handlers.
type Handler struct {
	svc *noteservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *noteservice.Service) *Handler {
	return &Handler{svc: svc}
}

// wildcardPath extracts the path after the route prefix.
// Supports encoded slashes from OpenAPI clients (e.g. work%2Ftodo.md).
func wildcardPath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return false
	}
	return true
}

// ListNotes handles GET /api/notes.
//
//	@Summary		List notes of a folder
//	@Tags			notes
//	@Produce		json
//	@Param			folder		query		string	false	"Folder path, empty for the root"
//	@Param			recursive	query		bool	false	"Include notes of subfolders"
//	@Param			sort		query		string	false	"Sort order"	Enums(az, za, most_recent, oldest)
//	@Param			q			query		string	false	"Filter by text"
//	@Param			limit		query		int		false	"Page size"
//	@Param			offset		query		int		false	"Page offset"
//	@Success		200			{object}	NoteListResponse
//	@Security		BearerAuth
//	@Router			/notes [get]
func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	recursive, _ := strconv.ParseBool(q.Get("recursive"))

	items, total, err := h.svc.ListNotes(r.Context(), noteservice.ListQuery{
		Folder:            q.Get("folder"),
		IncludeSubfolders: recursive,
		Sort:              models.ParseSortOrder(q.Get("sort")),
		Search:            q.Get("q"),
		Limit:             limit,
		Offset:            offset,
	})
	if err != nil {
		writeError(w, "list notes", err)
		return
	}
	writeJSON(w, http.StatusOK, NoteListResponse{Notes: items, Total: total})
}

// GetNote handles GET /api/notes/*.
//
//	@Summary		Get a single note by path
//	@Tags			notes
//	@Produce		json
//	@Param			path	path		string	true	"Note path"
//	@Success		200		{object}	NoteDetail
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{path} [get]
func (h *Handler) GetNote(w http.ResponseWriter, r *http.Request) {
	path := wildcardPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	note, err := h.svc.GetNote(r.Context(), path)
	if err != nil {
		writeError(w, "get note", err, "path", path)
		return
	}
	w.Header().Set("ETag", checksum.ETag([]byte(note.Content)))
	writeJSON(w, http.StatusOK, note)
}

// CreateNote handles POST /api/notes.
//
//	@Summary		Create a new note and commit it
//	@Tags			notes
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateNoteRequest	true	"Note to create"
//	@Success		201		{object}	NoteDetail
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes [post]
func (h *Handler) CreateNote(w http.ResponseWriter, r *http.Request) {
	var req CreateNoteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Path) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	note, err := h.svc.CreateNote(r.Context(), req.Path, req.Content)
	if err != nil {
		writeError(w, "create note", err, "path", req.Path)
		return
	}
	writeJSON(w, http.StatusCreated, note)
}

// UpdateNote handles PUT /api/notes/*.
//
//	@Summary		Update or rename a note with optimistic concurrency
//	@Tags			notes
//	@Accept			json
//	@Produce		json
//	@Param			path		path		string				true	"Note path"
//	@Param			If-Match	header		string				false	"SHA-256 checksum for optimistic concurrency"
//	@Param			body		body		UpdateNoteRequest	true	"Updated content"
//	@Success		200			{object}	NoteDetail
//	@Failure		400			{object}	errResponse
//	@Failure		404			{object}	errResponse
//	@Failure		409			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{path} [put]
func (h *Handler) UpdateNote(w http.ResponseWriter, r *http.Request) {
	path := wildcardPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	var req UpdateNoteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	note, err := h.svc.UpdateNote(r.Context(), noteservice.UpdateRequest{
		Path:    path,
		NewPath: req.Path,
		Content: req.Content,
		IfMatch: r.Header.Get("If-Match"),
	})
	if err != nil {
		writeError(w, "update note", err, "path", path)
		return
	}
	w.Header().Set("ETag", checksum.ETag([]byte(note.Content)))
	writeJSON(w, http.StatusOK, note)
}

// DeleteNote handles DELETE /api/notes/*.
//
//	@Summary		Delete a note
//	@Tags			notes
//	@Param			path	path	string	true	"Note path"
//	@Success		204		"Note deleted"
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{path} [delete]
func (h *Handler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	path := wildcardPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	if err := h.svc.DeleteNote(r.Context(), path); err != nil {
		writeError(w, "delete note", err, "path", path)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteNotes handles POST /api/notes:batchDelete.
//
//	@Summary		Delete several notes in one commit
//	@Tags			notes
//	@Accept			json
//	@Param			body	body	BatchDeleteRequest	true	"Paths to delete"
//	@Success		204		"Notes deleted"
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes:batchDelete [post]
func (h *Handler) DeleteNotes(w http.ResponseWriter, r *http.Request) {
	var req BatchDeleteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Paths) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("paths are required"))
		return
	}
	if err := h.svc.DeleteNotes(r.Context(), req.Paths); err != nil {
		writeError(w, "delete notes", err, "count", len(req.Paths))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ToggleCompleted handles POST /api/completed/*.
//
//	@Summary		Flip the completed flag of a note
//	@Tags			notes
//	@Produce		json
//	@Param			path	path		string	true	"Note path"
//	@Success		200		{object}	NoteDetail
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/completed/{path} [post]
func (h *Handler) ToggleCompleted(w http.ResponseWriter, r *http.Request) {
	path := wildcardPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	note, err := h.svc.ToggleCompleted(r.Context(), path)
	if err != nil {
		writeError(w, "toggle completed", err, "path", path)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// ListFolders handles GET /api/folders.
//
//	@Summary		List the direct subfolders of a folder
//	@Tags			folders
//	@Produce		json
//	@Param			parent	query		string	false	"Parent folder, empty for the root"
//	@Param			sort	query		string	false	"Sort order"	Enums(az, za, most_recent, oldest)
//	@Success		200		{object}	FolderListResponse
//	@Security		BearerAuth
//	@Router			/folders [get]
func (h *Handler) ListFolders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	folders, err := h.svc.ListFolders(r.Context(), q.Get("parent"), models.ParseSortOrder(q.Get("sort")))
	if err != nil {
		writeError(w, "list folders", err)
		return
	}
	if folders == nil {
		folders = []models.DrawerFolder{}
	}
	writeJSON(w, http.StatusOK, FolderListResponse{Folders: folders})
}

// CreateFolder handles POST /api/folders.
//
//	@Summary		Create a folder
//	@Tags			folders
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateFolderRequest	true	"Folder to create"
//	@Success		201		{object}	models.NoteFolder
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/folders [post]
func (h *Handler) CreateFolder(w http.ResponseWriter, r *http.Request) {
	var req CreateFolderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	folder, err := h.svc.CreateFolder(r.Context(), req.Path)
	if err != nil {
		writeError(w, "create folder", err, "path", req.Path)
		return
	}
	writeJSON(w, http.StatusCreated, folder)
}

// DeleteFolder handles DELETE /api/folders/*.
//
//	@Summary		Delete a folder with everything below it
//	@Tags			folders
//	@Param			path	path	string	true	"Folder path"
//	@Success		204		"Folder deleted"
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/folders/{path} [delete]
func (h *Handler) DeleteFolder(w http.ResponseWriter, r *http.Request) {
	path := wildcardPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	if err := h.svc.DeleteFolder(r.Context(), path); err != nil {
		writeError(w, "delete folder", err, "path", path)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Search handles GET /api/search.
//
//	@Summary		Full-text search across notes
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.svc.Search(r.Context(), q, limit)
	if err != nil {
		writeError(w, "search", err, "query", q)
		return
	}
	writeJSON(w, http.StatusOK, searchResponse(results))
}

// Sync handles POST /api/sync.
//
//	@Summary		Pull, push and refresh the cache
//	@Tags			sync
//	@Produce		json
//	@Success		200	{object}	notesync.SyncState
//	@Failure		409	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sync [post]
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Sync(r.Context()); err != nil {
		writeError(w, "sync", err)
		return
	}
	writeJSON(w, http.StatusOK, h.svc.SyncState())
}

// Reindex handles POST /api/reindex.
//
//	@Summary		Rebuild the cache from the files
//	@Tags			sync
//	@Success		204	"Cache rebuilt"
//	@Security		BearerAuth
//	@Router			/reindex [post]
func (h *Handler) Reindex(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Reindex(r.Context()); err != nil {
		writeError(w, "reindex", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SyncState handles GET /api/sync/state.
//
//	@Summary		Current sync indicator
//	@Tags			sync
//	@Produce		json
//	@Success		200	{object}	notesync.SyncState
//	@Security		BearerAuth
//	@Router			/sync/state [get]
func (h *Handler) SyncState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.SyncState())
}

// ConsumeSyncState handles POST /api/sync/state/consume.
//
//	@Summary		Acknowledge a successful sync
//	@Tags			sync
//	@Produce		json
//	@Success		200	{object}	map[string]bool
//	@Security		BearerAuth
//	@Router			/sync/state/consume [post]
func (h *Handler) ConsumeSyncState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"consumed": h.svc.ConsumeSyncState()})
}

// OpenRepository handles POST /api/repo.
//
//	@Summary		Create, open or clone the notes repository
//	@Tags			repository
//	@Accept			json
//	@Produce		json
//	@Param			body	body		OpenRepositoryRequest	true	"Repository to set up"
//	@Success		201		{object}	notesync.SyncState
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Failure		502		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/repo [post]
func (h *Handler) OpenRepository(w http.ResponseWriter, r *http.Request) {
	var req OpenRepositoryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	if err := h.svc.OpenRepository(r.Context(), req.options()); err != nil {
		writeError(w, "open repository", err, "mode", req.Mode, "path", req.Path)
		return
	}
	writeJSON(w, http.StatusCreated, h.svc.SyncState())
}

// CloseRepository handles DELETE /api/repo.
//
//	@Summary		Close the repository and clear the cache
//	@Tags			repository
//	@Success		204	"Repository closed"
//	@Security		BearerAuth
//	@Router			/repo [delete]
func (h *Handler) CloseRepository(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.CloseRepository(r.Context()); err != nil {
		writeError(w, "close repository", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
