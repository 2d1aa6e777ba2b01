package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/starford/gitnote/internal/apperr"
	"github.com/starford/gitnote/internal/gitrepo"
	"github.com/starford/gitnote/internal/notesync"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error string `json:"error" validate:"required"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

// errorStatus maps domain errors to an HTTP status and a client message.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, apperr.ErrAlreadyExists):
		return http.StatusConflict, "already exists"
	case errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict, "checksum mismatch"
	case errors.Is(err, apperr.ErrInvalidName):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, apperr.ErrNoRepository):
		return http.StatusConflict, "no repository is open"
	case errors.Is(err, notesync.ErrRepositoryOpen), gitrepo.IsKind(err, gitrepo.KindRepoAlreadyInit):
		return http.StatusConflict, "a repository is already open"
	case gitrepo.IsKind(err, gitrepo.KindWrongPath):
		return http.StatusBadRequest, err.Error()
	case gitrepo.IsKind(err, gitrepo.KindTransport):
		return http.StatusBadGateway, "remote: " + gitrepo.CodeOf(err).String()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// writeError logs unexpected failures and writes the mapped error body.
func writeError(w http.ResponseWriter, op string, err error, attrs ...any) {
	status, msg := errorStatus(err)
	if status >= http.StatusInternalServerError {
		args := append([]any{slog.String("error", err.Error())}, attrs...)
		slog.Error(op+" failed", args...)
	}
	writeJSON(w, status, errorBody(msg))
}
