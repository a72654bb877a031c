package fakeapi

// Response helpers. The /api routes answer errors in FastAPI's shape:
//
//	{"detail": "Food not found"}
//	{"detail": [{"loc": ["body", "quantity_grams"], "msg": "...", "type": "value_error"}]}
//
// and the identity routes in GoTrue's:
//
//	{"error": "invalid_grant", "error_description": "Invalid login credentials"}
//	{"code": 422, "error_code": "weak_password", "msg": "..."}

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/nutrition-client/internal/apperror"
)

// detailResponse is the FastAPI error body.
type detailResponse struct {
	Detail any `json:"detail"`
}

type fieldError struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

// writeJSON sets headers and status before the body; nothing can change
// them once the encoder starts writing.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, detailResponse{Detail: detail})
}

// writeInvalid answers 422 with a single-entry FastAPI validation list.
func writeInvalid(w http.ResponseWriter, loc, field, msg string) {
	writeJSON(w, http.StatusUnprocessableEntity, detailResponse{Detail: []fieldError{{
		Loc:  []string{loc, field},
		Msg:  msg,
		Type: "value_error",
	}}})
}

// writeError maps an apperror value to its status and a detail body.
// Anything else is an opaque 500.
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		status := appErr.Status
		if status == 0 {
			status = http.StatusInternalServerError
		}
		if appErr.Field != "" {
			writeInvalid(w, "body", appErr.Field, appErr.Message)
			return
		}
		writeDetail(w, status, appErr.Message)
		return
	}

	// Internal details never leave the server.
	writeDetail(w, http.StatusInternalServerError, "Internal Server Error")
}

// gotrueError is the body of identity endpoint failures.
type gotrueError struct {
	Code             int    `json:"code,omitempty"`
	Error            string `json:"error,omitempty"`
	ErrorCode        string `json:"error_code,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
	Msg              string `json:"msg,omitempty"`
}

func writeGrantError(w http.ResponseWriter, description string) {
	writeJSON(w, http.StatusBadRequest, gotrueError{Error: "invalid_grant", ErrorDescription: description})
}

func writeAuthError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, gotrueError{Code: status, ErrorCode: code, Msg: msg})
}

// notFound and conflict build the errors the data layer returns.
func notFound(msg string) error {
	return &apperror.AppError{Err: apperror.ErrNotFound, Status: http.StatusNotFound, Code: "not_found", Message: msg}
}

func conflict(msg string) error {
	return &apperror.AppError{Err: apperror.ErrUnknownServer, Status: http.StatusConflict, Code: "conflict", Message: msg}
}
