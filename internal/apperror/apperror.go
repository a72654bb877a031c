// Package apperror defines the error taxonomy every layer of the client
// speaks: the HTTP adapter normalises all failures into an *AppError before
// they reach the resource services or the session store.
//
// Callers branch on the category with errors.Is:
//
//	if errors.Is(err, apperror.ErrNotFound) { ... }
//
// and read the status, code and message with errors.As.
package apperror

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrAuth          = errors.New("authentication error")
	ErrValidation    = errors.New("validation error")
	ErrNotFound      = errors.New("not found")
	ErrTransport     = errors.New("transport error")
	ErrUnknownServer = errors.New("unknown server error")
)

// AppError is the uniform error shape. Status is 0 when the request never
// got a response.
type AppError struct {
	Err     error  // category sentinel, one of the Err* values above
	Status  int    // HTTP status, 0 for transport failures
	Code    string // machine-usable code, e.g. "not_found", "invalid_grant"
	Message string // human-readable message
	Field   string // optional: input field the backend complained about
	Cause   error  // underlying error, if any
}

func (e *AppError) Error() string {
	return e.Message
}

// Unwrap exposes both the category sentinel and the cause, so
// errors.Is(err, context.Canceled) keeps working on a cancelled request.
func (e *AppError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

// Generic per-category messages, used when the backend gave no detail.
const (
	msgAuth       = "authentication failed"
	msgValidation = "the request was rejected as invalid"
	msgNotFound   = "the requested resource was not found"
	msgTransport  = "network error: could not reach server"
	msgServer     = "the server returned an unexpected error"
)

func Auth(message string) *AppError {
	if message == "" {
		message = msgAuth
	}
	return &AppError{Err: ErrAuth, Status: http.StatusUnauthorized, Code: "unauthorized", Message: message}
}

func NotFound(resource string, id int64) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Status:  http.StatusNotFound,
		Code:    "not_found",
		Message: fmt.Sprintf("%s not found with id %d", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Status:  http.StatusUnprocessableEntity,
		Code:    "validation_error",
		Message: message,
		Field:   field,
	}
}

// Transport wraps a failure where no response was received.
func Transport(cause error) *AppError {
	return &AppError{
		Err:     ErrTransport,
		Code:    "transport_error",
		Message: msgTransport,
		Cause:   cause,
	}
}

// FromResponse maps a non-2xx status and its body onto the taxonomy.
func FromResponse(status int, body []byte) *AppError {
	e := &AppError{Status: status}

	switch {
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		e.Err, e.Code, e.Message = ErrValidation, "validation_error", msgValidation
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Err, e.Code, e.Message = ErrAuth, "unauthorized", msgAuth
		if status == http.StatusForbidden {
			e.Code = "forbidden"
		}
	case status == http.StatusNotFound:
		e.Err, e.Code, e.Message = ErrNotFound, "not_found", msgNotFound
	case status == http.StatusConflict:
		e.Err, e.Code, e.Message = ErrUnknownServer, "conflict", msgServer
	default:
		e.Err, e.Code, e.Message = ErrUnknownServer, "server_error", msgServer
	}

	parsed := parseBody(body)
	if parsed.message != "" {
		e.Message = parsed.message
	}
	if parsed.code != "" {
		e.Code = parsed.code
	}
	e.Field = parsed.field
	return e
}

// errorBody covers the shapes the backends in play produce:
//
//	FastAPI:  {"detail": "Food not found"}
//	          {"detail": [{"loc": ["body","name"], "msg": "field required"}]}
//	GoTrue:   {"error": "invalid_grant", "error_description": "Invalid login credentials"}
//	          {"code": 400, "msg": "User already registered"}
//	internal: {"error": "not_found", "message": "..."}
type errorBody struct {
	Detail           json.RawMessage `json:"detail"`
	Message          string          `json:"message"`
	Msg              string          `json:"msg"`
	Error            string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
	ErrorCode        string          `json:"error_code"`
}

type validationItem struct {
	Loc []any  `json:"loc"`
	Msg string `json:"msg"`
}

type parsedBody struct {
	message string
	code    string
	field   string
}

func parseBody(body []byte) parsedBody {
	var out parsedBody
	if len(body) == 0 {
		return out
	}

	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return out
	}

	if len(eb.Detail) > 0 {
		var s string
		if err := json.Unmarshal(eb.Detail, &s); err == nil {
			out.message = s
		} else {
			var items []validationItem
			if err := json.Unmarshal(eb.Detail, &items); err == nil && len(items) > 0 {
				msgs := make([]string, 0, len(items))
				for _, it := range items {
					msgs = append(msgs, it.Msg)
				}
				out.message = strings.Join(msgs, "; ")
				if n := len(items[0].Loc); n > 0 {
					out.field = fmt.Sprint(items[0].Loc[n-1])
				}
			}
		}
	}

	if out.message == "" {
		for _, m := range []string{eb.Message, eb.Msg, eb.ErrorDescription} {
			if m != "" {
				out.message = m
				break
			}
		}
	}

	switch {
	case eb.ErrorCode != "":
		out.code = eb.ErrorCode
	case eb.Error != "":
		out.code = eb.Error
	}
	if out.message == "" && eb.Error != "" && eb.ErrorDescription == "" {
		out.message = eb.Error
	}
	return out
}

// Status returns the HTTP status carried by err, or 0.
func Status(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return 0
}

// Message returns the user-facing message of err: the AppError message
// when err carries one, err.Error() otherwise.
func Message(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	return err.Error()
}
