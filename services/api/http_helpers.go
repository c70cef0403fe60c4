package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"
)

func decodeJSON(r *http.Request, dest any) error {
	if r.Body == nil {
		return errors.New("request body required")
	}
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dest)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

// respondError maps the error taxonomy to HTTP. Validation and quota bodies
// carry the original message; storage and unexpected failures are logged
// with context and answered with a generic body.
func respondError(w http.ResponseWriter, log zerolog.Logger, err error) {
	var (
		validation *ValidationError
		quota      *QuotaError
		storage    *StorageError
	)

	switch {
	case errors.As(err, &validation):
		respondJSON(w, http.StatusBadRequest, map[string]any{"error": validation.Error()})
	case errors.As(err, &quota):
		respondJSON(w, http.StatusForbidden, map[string]any{"error": quota.Error(), "limit": quota.Limit})
	case errors.Is(err, ErrNotFound):
		respondJSON(w, http.StatusNotFound, map[string]any{"error": ErrNotFound.Error()})
	case errors.As(err, &storage):
		log.Error().Err(err).Str("op", storage.Op).Msg("storage failure")
		respondJSON(w, http.StatusBadGateway, map[string]any{"error": "storage operation failed"})
	default:
		log.Error().Err(err).Msg("unhandled error")
		respondJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal server error"})
	}
}
