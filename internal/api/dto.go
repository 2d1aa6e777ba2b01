package api

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/gitnote/internal/index"
	"github.com/starford/gitnote/internal/models"
	"github.com/starford/gitnote/internal/noteservice"
	"github.com/starford/gitnote/internal/notesync"
	"github.com/starford/gitnote/internal/prefs"
)

// CreateNoteRequest is the request body for creating a note.
type CreateNoteRequest struct {
	Path    string `json:"path" example:"work/todo.md" validate:"required"`
	Content string `json:"content" example:"buy milk"`
}

// UpdateNoteRequest is the request body for updating a note. A non-empty
// path renames the note.
type UpdateNoteRequest struct {
	Content string `json:"content" example:"buy milk and eggs"`
	Path    string `json:"path,omitempty" example:"work/groceries.md"`
}

// BatchDeleteRequest lists notes to delete in one commit.
type BatchDeleteRequest struct {
	Paths []string `json:"paths" validate:"required"`
}

// CreateFolderRequest is the request body for creating a folder.
type CreateFolderRequest struct {
	Path string `json:"path" example:"work/archive" validate:"required"`
}

// OpenRepositoryRequest sets up the notes repository.
type OpenRepositoryRequest struct {
	Mode           string `json:"mode" example:"clone" validate:"required"`
	Path           string `json:"path" example:"/data/notes" validate:"required"`
	RemoteURL      string `json:"remote_url,omitempty" example:"https://example.com/notes.git"`
	AuthorName     string `json:"author_name,omitempty"`
	CredentialType string `json:"credential_type,omitempty" example:"basic"`
	Username       string `json:"username,omitempty"`
	Password       string `json:"password,omitempty"`
	PrivateKeyFile string `json:"private_key_file,omitempty"`
	Passphrase     string `json:"passphrase,omitempty"`
}

func (r *OpenRepositoryRequest) options() notesync.BootstrapOptions {
	return notesync.BootstrapOptions{
		Mode:           notesync.BootstrapMode(r.Mode),
		Path:           r.Path,
		RemoteURL:      r.RemoteURL,
		AuthorName:     r.AuthorName,
		CredentialType: prefs.CredentialType(r.CredentialType),
		Username:       r.Username,
		Password:       r.Password,
		PrivateKeyFile: r.PrivateKeyFile,
		Passphrase:     r.Passphrase,
	}
}

// NoteDetail is the full note response type (aliased from the domain layer).
type NoteDetail = noteservice.NoteDetail

// NoteListItem is a lightweight item in a list response (aliased from the domain layer).
type NoteListItem = noteservice.NoteListItem

// NoteListResponse wraps paginated note listings.
type NoteListResponse struct {
	Notes []NoteListItem `json:"notes" validate:"required"`
	Total int            `json:"total" example:"42" validate:"required"`
}

// FolderListResponse wraps a folder listing.
type FolderListResponse struct {
	Folders []models.DrawerFolder `json:"folders" validate:"required"`
}

// SearchResult is a single search hit in the API response.
type SearchResult struct {
	Path    string `json:"path" example:"work/todo.md" validate:"required"`
	Name    string `json:"name" example:"todo.md" validate:"required"`
	Snippet string `json:"snippet" example:"...matched text..." validate:"required"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []SearchResult `json:"results" validate:"required"`
}

func searchResponse(in []index.SearchResult) SearchResponse {
	out := make([]SearchResult, len(in))
	for i, r := range in {
		out[i] = SearchResult{Path: r.Path, Name: r.Name, Snippet: r.Snippet}
	}
	return SearchResponse{Results: out}
}

// Validate checks the request before any repository work starts.
func (r *OpenRepositoryRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Mode, validation.Required,
			validation.In(string(notesync.ModeCreate), string(notesync.ModeOpen), string(notesync.ModeClone))),
		validation.Field(&r.Path, validation.Required),
		validation.Field(&r.RemoteURL, validation.When(r.Mode == string(notesync.ModeClone), validation.Required)),
		validation.Field(&r.CredentialType, validation.In(
			string(prefs.CredentialNone), string(prefs.CredentialBasic), string(prefs.CredentialSSH))),
		validation.Field(&r.PrivateKeyFile, validation.When(r.CredentialType == string(prefs.CredentialSSH), validation.Required)),
	)
}
