package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/wonny/aegis/weightgov/internal/contracts"
)

// Helper functions

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

// statusFor maps domain errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, contracts.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, contracts.ErrActiveVersion):
		return http.StatusConflict
	case errors.Is(err, contracts.ErrIntegrity):
		return http.StatusUnprocessableEntity
	case errors.Is(err, contracts.ErrValidation), errors.Is(err, contracts.ErrInsufficientData):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// queryInt reads a positive integer query parameter
func queryInt(r *http.Request, key string, def int) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// decodeOptional decodes a JSON body; an empty body leaves dest untouched
func decodeOptional(r *http.Request, dest interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
