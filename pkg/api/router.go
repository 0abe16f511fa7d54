package api

import (
	"context"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dotsetgreg/dotcompanion/pkg/chat"
	"github.com/dotsetgreg/dotcompanion/pkg/navguard"
	"github.com/dotsetgreg/dotcompanion/pkg/notify"
	"github.com/dotsetgreg/dotcompanion/pkg/session"
	"github.com/dotsetgreg/dotcompanion/pkg/store"
)

// Toucher records user activity; the engagement scheduler implements it.
type Toucher interface {
	Touch(ctx context.Context) error
}

// Foregrounder receives host visibility changes.
type Foregrounder interface {
	SetForeground(fg bool)
}

type MemoryBuilder interface {
	BuildMemory(ctx context.Context) (string, error)
}

// Deps are the collaborators the HTTP surface drives. Conversation,
// Toucher, Foreground and Notifier may be nil.
type Deps struct {
	Sessions     *session.Repository
	Memory       MemoryBuilder
	Conversation *chat.Conversation
	Toucher      Toucher
	Foreground   Foregrounder
	Notifier     *notify.Dispatcher
	Guard        *navguard.Guard
	// Store holds the pending deep-link; defaults to Sessions.Store().
	Store store.Store
	Now   func() time.Time
}

// NewRouter creates the Chi router with all routes and middleware.
func NewRouter(deps Deps, apiKey string) *chi.Mux {
	if deps.Store == nil && deps.Sessions != nil {
		deps.Store = deps.Sessions.Store()
	}
	if deps.Guard == nil {
		deps.Guard = navguard.New(navguard.Options{})
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	r := chi.NewRouter()

	r.Use(CORS)
	r.Use(RequestID)
	r.Use(Logger)
	r.Use(Recovery)

	r.Get("/health", health)

	sessionH := &SessionHandler{deps: deps}
	noteH := &NoteHandler{deps: deps}
	appH := &AppHandler{deps: deps}

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(apiKey))

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", sessionH.List)
			r.Post("/", sessionH.Create)
			r.Get("/{id}", sessionH.Get)
			r.Patch("/{id}", sessionH.Rename)
			r.Delete("/{id}", sessionH.Delete)
			r.Post("/{id}/messages", sessionH.AppendMessage)
			r.Post("/{id}/chat", sessionH.Chat)
		})

		r.Get("/current", sessionH.GetCurrent)
		r.Put("/current", sessionH.SetCurrent)

		r.Route("/notes", func(r chi.Router) {
			r.Get("/", noteH.ListNotes)
			r.Post("/", noteH.AddNote)
			r.Delete("/{id}", noteH.DeleteNote)
		})

		r.Route("/media", func(r chi.Router) {
			r.Get("/", noteH.ListMedia)
			r.Post("/", noteH.AddMedia)
			r.Delete("/{id}", noteH.DeleteMedia)
		})

		r.Get("/memory", appH.Memory)
		r.Post("/touch", appH.Touch)
		r.Put("/foreground", appH.SetForeground)
		r.Get("/pending-view", appH.PendingView)
		r.Post("/navigation/view", appH.NavigateView)
		r.Post("/navigation/back", appH.NavigateBack)
		r.Get("/notifications/permission", appH.Permission)
		r.Post("/notifications/permission", appH.RequestPermission)
	})

	return r
}
