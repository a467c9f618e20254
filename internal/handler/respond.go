package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	appErrors "github.com/mezamarco14/resu-sistem/internal/errors"
)

// RespondJSON writes v with the given status.
func RespondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// RespondError maps application errors to HTTP statuses.
func RespondError(w http.ResponseWriter, err error) {
	RespondJSON(w, StatusFor(err), map[string]string{"error": err.Error()})
}

// StatusFor returns the HTTP status an error is reported with.
func StatusFor(err error) int {
	switch {
	case appErrors.IsValidation(err):
		return http.StatusBadRequest
	case appErrors.IsAuthentication(err):
		return http.StatusUnauthorized
	case appErrors.IsConflict(err):
		return http.StatusConflict
	case appErrors.IsNotFound(err), errors.Is(err, appErrors.ErrNoReport):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
