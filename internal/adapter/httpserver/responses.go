// Package httpserver contains the HTTP handlers and middleware for the
// detection, events, and health surface (§6).
package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fairyhunter13/drift-detection-service/internal/domain"
)

type errorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps a domain error kind onto the HTTP status taxonomy of §7.
func writeError(w http.ResponseWriter, _ *http.Request, err error, details interface{}) {
	code := http.StatusInternalServerError
	codeStr := "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrValidation):
		code = http.StatusUnprocessableEntity
		codeStr = "VALIDATION"
	case errors.Is(err, domain.ErrNotFound):
		code = http.StatusNotFound
		codeStr = "NOT_FOUND"
	case errors.Is(err, domain.ErrConflict):
		code = http.StatusConflict
		codeStr = "CONFLICT"
	case errors.Is(err, domain.ErrInsufficientData):
		code = http.StatusBadRequest
		codeStr = "INSUFFICIENT_DATA"
	case errors.Is(err, domain.ErrCooldown):
		code = http.StatusTooManyRequests
		codeStr = "COOLDOWN"
	case errors.Is(err, domain.ErrTransient):
		code = http.StatusServiceUnavailable
		codeStr = "TRANSIENT"
	}
	writeJSON(w, code, errorEnvelope{Error: apiError{Code: codeStr, Message: err.Error(), Details: details}})
}
