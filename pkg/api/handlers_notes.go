package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type NoteHandler struct {
	deps Deps
}

// ListNotes handles GET /notes
func (h *NoteHandler) ListNotes(w http.ResponseWriter, r *http.Request) {
	notes, err := h.deps.Sessions.ListNotes(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, notes)
}

// AddNote handles POST /notes
func (h *NoteHandler) AddNote(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	touch(h.deps, r)
	note, err := h.deps.Sessions.AddNote(r.Context(), req.Content)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, note)
}

// DeleteNote handles DELETE /notes/{id}
func (h *NoteHandler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	touch(h.deps, r)
	if err := h.deps.Sessions.DeleteNote(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListMedia handles GET /media
func (h *NoteHandler) ListMedia(w http.ResponseWriter, r *http.Request) {
	items, err := h.deps.Sessions.ListMedia(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// AddMedia handles POST /media
func (h *NoteHandler) AddMedia(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL     string `json:"url"`
		Caption string `json:"caption"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	touch(h.deps, r)
	item, err := h.deps.Sessions.AddMedia(r.Context(), req.URL, req.Caption)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

// DeleteMedia handles DELETE /media/{id}
func (h *NoteHandler) DeleteMedia(w http.ResponseWriter, r *http.Request) {
	touch(h.deps, r)
	if err := h.deps.Sessions.DeleteMedia(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
