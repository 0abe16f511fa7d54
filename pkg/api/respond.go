package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/dotsetgreg/dotcompanion/pkg/session"
)

const maxBodyBytes = 1 << 20

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps repository errors onto status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, session.ErrNoteNotFound),
		errors.Is(err, session.ErrMediaNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, session.ErrEmptyMessage),
		errors.Is(err, session.ErrEmptyNote),
		errors.Is(err, session.ErrEmptyTitle),
		errors.Is(err, session.ErrEmptyMediaURL),
		errors.Is(err, session.ErrInvalidRole):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
