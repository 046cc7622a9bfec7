// Package httpserver contains HTTP handlers and middleware.
//
// It exposes the routing endpoint plus the operator surface (health, logs,
// DLQ status and replay) and keeps HTTP concerns out of the business logic.
package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/signalmesh/router/internal/domain"
)

type errorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, _ *http.Request, err error, details any) {
	code := http.StatusInternalServerError
	codeStr := "internal"
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		code = http.StatusBadRequest
		codeStr = "validation_failed"
	case errors.Is(err, domain.ErrUnauthorized):
		code = http.StatusUnauthorized
		codeStr = "auth_failed"
	case errors.Is(err, domain.ErrNotFound):
		code = http.StatusNotFound
		codeStr = "not_found"
	case errors.Is(err, domain.ErrConflict):
		code = http.StatusConflict
		codeStr = "conflict"
	case errors.Is(err, domain.ErrRateLimited):
		code = http.StatusTooManyRequests
		codeStr = "rate_limited"
	}
	writeJSON(w, code, errorEnvelope{Error: apiError{Code: codeStr, Message: err.Error(), Details: details}})
}
