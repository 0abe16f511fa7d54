package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dotsetgreg/dotcompanion/pkg/chat"
	"github.com/dotsetgreg/dotcompanion/pkg/logger"
	"github.com/dotsetgreg/dotcompanion/pkg/session"
)

type SessionHandler struct {
	deps Deps
}

// touch records a user action. Failures are logged, never surfaced.
func touch(deps Deps, r *http.Request) {
	if deps.Toucher == nil {
		return
	}
	if err := deps.Toucher.Touch(r.Context()); err != nil {
		logger.WarnCF("api", "Failed to record interaction", map[string]any{
			"request_id": GetRequestID(r),
			"error":      err.Error(),
		})
	}
}

type sessionListResponse struct {
	Sessions []session.Session `json:"sessions"`
	Current  string            `json:"current"`
}

// List handles GET /sessions
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	current, err := h.deps.Sessions.Reconcile(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	sessions, err := h.deps.Sessions.LoadAll(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionListResponse{Sessions: sessions, Current: current})
}

// Create handles POST /sessions. The new session becomes current.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	touch(h.deps, r)
	s, err := h.deps.Sessions.NewConversation(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

// Get handles GET /sessions/{id}
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, err := h.deps.Sessions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// Rename handles PATCH /sessions/{id}
func (h *SessionHandler) Rename(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	touch(h.deps, r)
	s, err := h.deps.Sessions.Rename(r.Context(), chi.URLParam(r, "id"), req.Title)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// Delete handles DELETE /sessions/{id}
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	touch(h.deps, r)
	current, err := h.deps.Sessions.DeleteSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"current": current})
}

// AppendMessage handles POST /sessions/{id}/messages
func (h *SessionHandler) AppendMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Role string `json:"role"`
		Text string `json:"text"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	role := session.Role(req.Role)
	if req.Role == "" {
		role = session.RoleUser
	}
	if role == session.RoleUser {
		touch(h.deps, r)
	}
	s, err := h.deps.Sessions.AppendMessage(r.Context(), chi.URLParam(r, "id"), role, req.Text)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

type chatResponse struct {
	UserMessage session.Message  `json:"userMessage"`
	Reply       *session.Message `json:"reply,omitempty"`
	Notes       []session.Note   `json:"notes,omitempty"`
	Fallback    string           `json:"fallback,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// Chat handles POST /sessions/{id}/chat. A model failure answers 502 with
// the fallback text; the user message stays in the session.
func (h *SessionHandler) Chat(w http.ResponseWriter, r *http.Request) {
	if h.deps.Conversation == nil {
		writeError(w, http.StatusServiceUnavailable, "no model configured")
		return
	}
	var req struct {
		Text string `json:"text"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	res, err := h.deps.Conversation.Send(r.Context(), chi.URLParam(r, "id"), req.Text)
	if errors.Is(err, chat.ErrModelUnavailable) {
		writeJSON(w, http.StatusBadGateway, chatResponse{
			UserMessage: res.UserMessage,
			Fallback:    res.Fallback,
			Error:       err.Error(),
		})
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	reply := res.Reply
	writeJSON(w, http.StatusOK, chatResponse{
		UserMessage: res.UserMessage,
		Reply:       &reply,
		Notes:       res.Notes,
	})
}

// GetCurrent handles GET /current
func (h *SessionHandler) GetCurrent(w http.ResponseWriter, r *http.Request) {
	current, err := h.deps.Sessions.Reconcile(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"current": current})
}

// SetCurrent handles PUT /current. Opening a session counts as activity.
func (h *SessionHandler) SetCurrent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	touch(h.deps, r)
	if err := h.deps.Sessions.SetCurrent(r.Context(), req.ID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"current": req.ID})
}
