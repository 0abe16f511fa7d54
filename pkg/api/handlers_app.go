package api

import (
	"net/http"

	"github.com/dotsetgreg/dotcompanion/pkg/engage"
	"github.com/dotsetgreg/dotcompanion/pkg/navguard"
	"github.com/dotsetgreg/dotcompanion/pkg/notify"
)

func health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// AppHandler serves the UI-shell endpoints: memory preview, activity,
// deep-links, back navigation and notification permission.
type AppHandler struct {
	deps Deps
}

// Memory handles GET /memory
func (h *AppHandler) Memory(w http.ResponseWriter, r *http.Request) {
	if h.deps.Memory == nil {
		writeError(w, http.StatusServiceUnavailable, "memory not configured")
		return
	}
	blob, err := h.deps.Memory.BuildMemory(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"memory": blob})
}

// Touch handles POST /touch
func (h *AppHandler) Touch(w http.ResponseWriter, r *http.Request) {
	if h.deps.Toucher == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err := h.deps.Toucher.Touch(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type foregroundRequest struct {
	Foreground *bool `json:"foreground"`
}

// SetForeground handles PUT /foreground
func (h *AppHandler) SetForeground(w http.ResponseWriter, r *http.Request) {
	var req foregroundRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Foreground == nil {
		writeError(w, http.StatusBadRequest, "foreground is required")
		return
	}
	if h.deps.Foreground != nil {
		h.deps.Foreground.SetForeground(*req.Foreground)
	}
	w.WriteHeader(http.StatusNoContent)
}

// PendingView handles GET /pending-view. The deep-link is consumed; a
// second call answers 204.
func (h *AppHandler) PendingView(w http.ResponseWriter, r *http.Request) {
	view, ok, err := engage.ConsumePendingView(r.Context(), h.deps.Store)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if view.View == engage.ViewConversation {
		h.deps.Guard.Navigate(view.View)
	}
	writeJSON(w, http.StatusOK, view)
}

type navigationResponse struct {
	View     string            `json:"view"`
	Position string            `json:"position"`
	Decision navguard.Decision `json:"decision,omitempty"`
	Hint     bool              `json:"hint"`
}

// NavigateView handles POST /navigation/view. Opening a conversation with a
// session id also makes it current.
func (h *AppHandler) NavigateView(w http.ResponseWriter, r *http.Request) {
	var req struct {
		View      string `json:"view"`
		SessionID string `json:"sessionId,omitempty"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	touch(h.deps, r)
	if req.SessionID != "" {
		if err := h.deps.Sessions.SetCurrent(r.Context(), req.SessionID); err != nil {
			writeDomainError(w, err)
			return
		}
	}
	pos := h.deps.Guard.Navigate(req.View)
	writeJSON(w, http.StatusOK, navigationResponse{
		View:     h.deps.Guard.View(),
		Position: pos.String(),
		Hint:     h.deps.Guard.HintVisible(h.deps.Now()),
	})
}

// NavigateBack handles POST /navigation/back
func (h *AppHandler) NavigateBack(w http.ResponseWriter, r *http.Request) {
	touch(h.deps, r)
	now := h.deps.Now()
	decision := h.deps.Guard.Back(now)
	writeJSON(w, http.StatusOK, navigationResponse{
		View:     h.deps.Guard.View(),
		Position: h.deps.Guard.Position().String(),
		Decision: decision,
		Hint:     h.deps.Guard.HintVisible(now),
	})
}

// Permission handles GET /notifications/permission
func (h *AppHandler) Permission(w http.ResponseWriter, r *http.Request) {
	state := notify.PermissionDenied
	if h.deps.Notifier != nil {
		state = h.deps.Notifier.Permission()
	}
	writeJSON(w, http.StatusOK, map[string]notify.PermissionState{"state": state})
}

// RequestPermission handles POST /notifications/permission. The host is
// prompted at most once per process.
func (h *AppHandler) RequestPermission(w http.ResponseWriter, r *http.Request) {
	state := notify.PermissionDenied
	if h.deps.Notifier != nil {
		state = h.deps.Notifier.RequestAccess(r.Context())
	}
	writeJSON(w, http.StatusOK, map[string]notify.PermissionState{"state": state})
}
