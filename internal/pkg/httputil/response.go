package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ignite/campaign-engine/internal/pkg/apperr"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
)

// ErrorResponse is the standard error envelope for all API errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("httputil: JSON encode failed", "err", err)
	}
}

// OK writes a 200 response with the given data.
func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, data)
}

// Accepted writes a 202 response. Used when work continues in the background.
func Accepted(w http.ResponseWriter, data any) {
	JSON(w, http.StatusAccepted, data)
}

// Error writes a JSON error response with optional details.
func Error(w http.ResponseWriter, status int, message string, details any) {
	JSON(w, status, ErrorResponse{Error: message, Details: details})
}

// BadRequest writes a 400 error.
func BadRequest(w http.ResponseWriter, message string, details any) {
	Error(w, http.StatusBadRequest, message, details)
}

// Unauthorized writes a 401 error.
func Unauthorized(w http.ResponseWriter, message string) {
	Error(w, http.StatusUnauthorized, message, nil)
}

// InternalError logs the real error and returns a generic message.
func InternalError(w http.ResponseWriter, err error) {
	logger.Error("httputil: internal error", "err", err)
	Error(w, http.StatusInternalServerError, "internal server error", nil)
}

// StatusFor maps an application error kind to an HTTP status.
// Errors without a kind map to 500.
func StatusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindAuth:
		return http.StatusUnauthorized
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteError renders err. Typed application errors keep their message and
// details; anything else is logged and hidden behind a 500.
func WriteError(w http.ResponseWriter, err error) {
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		InternalError(w, err)
		return
	}
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error("httputil: request failed", "kind", string(ae.Kind), "err", err)
	}
	Error(w, status, ae.Message, ae.Details)
}

// Decode reads JSON from the request body into dst.
// Returns false and writes a 400 response if parsing fails.
func Decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		BadRequest(w, "invalid JSON", err.Error())
		return false
	}
	return true
}
