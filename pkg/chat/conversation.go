package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dotsetgreg/dotcompanion/pkg/bus"
	"github.com/dotsetgreg/dotcompanion/pkg/logger"
	"github.com/dotsetgreg/dotcompanion/pkg/memory"
	"github.com/dotsetgreg/dotcompanion/pkg/notify"
	"github.com/dotsetgreg/dotcompanion/pkg/session"
)

const (
	DefaultFallback   = "I can't reach the server right now. Say that again in a bit?"
	DefaultEmptyReply = "..."
)

var ErrModelUnavailable = errors.New("model unavailable")

// Request is everything a model needs for one reply.
type Request struct {
	System   string
	Memory   string
	History  []session.Turn
	UserText string
}

// Model produces the companion's next reply.
type Model interface {
	Reply(ctx context.Context, req Request) (string, error)
}

// Repository is the slice of session.Repository a conversation writes to.
type Repository interface {
	History(ctx context.Context, id string) ([]session.Turn, error)
	AppendMessage(ctx context.Context, sessionID string, role session.Role, text string) (session.Session, error)
	AddNote(ctx context.Context, content string) (session.Note, error)
}

type MemoryBuilder interface {
	BuildMemory(ctx context.Context) (string, error)
}

// Toucher records user activity for the engagement scheduler.
type Toucher interface {
	Touch(ctx context.Context) error
}

type Publisher interface {
	Publish(ev bus.Event)
}

// Notifier alerts the user to a new reply; notify.Dispatcher implements it.
type Notifier interface {
	Send(ctx context.Context, n notify.Notification)
}

type Options struct {
	Persona    string
	Fallback   string
	EmptyReply string
	// Notifier, when set, is told about every appended reply under
	// NotifyTitle.
	Notifier    Notifier
	NotifyTitle string
}

// Result describes one completed exchange. On model failure Reply is the
// zero value and Fallback holds the text to show instead.
type Result struct {
	SessionID   string
	UserMessage session.Message
	Reply       session.Message
	Notes       []session.Note
	Fallback    string
}

type Conversation struct {
	repo      Repository
	memory    MemoryBuilder
	model     Model
	toucher   Toucher
	publisher Publisher
	opts      Options
}

// NewConversation wires a conversation. toucher and publisher may be nil.
func NewConversation(repo Repository, mem MemoryBuilder, model Model, toucher Toucher, publisher Publisher, opts Options) *Conversation {
	if strings.TrimSpace(opts.Persona) == "" {
		opts.Persona = DefaultPersona
	}
	if strings.TrimSpace(opts.Fallback) == "" {
		opts.Fallback = DefaultFallback
	}
	if strings.TrimSpace(opts.EmptyReply) == "" {
		opts.EmptyReply = DefaultEmptyReply
	}
	return &Conversation{
		repo:      repo,
		memory:    mem,
		model:     model,
		toucher:   toucher,
		publisher: publisher,
		opts:      opts,
	}
}

// Send appends the user's message to the session, asks the model for a
// reply and appends it. Note directives in the reply become notes and are
// stripped from the stored text.
func (c *Conversation) Send(ctx context.Context, sessionID, userText string) (Result, error) {
	userText = strings.TrimSpace(userText)
	if userText == "" {
		return Result{}, session.ErrEmptyMessage
	}
	if c.toucher != nil {
		if err := c.toucher.Touch(ctx); err != nil {
			logger.WarnCF("chat", "Failed to record interaction", map[string]any{
				"error": err.Error(),
			})
		}
	}

	history, err := c.repo.History(ctx, sessionID)
	if err != nil {
		return Result{}, err
	}
	sess, err := c.repo.AppendMessage(ctx, sessionID, session.RoleUser, userText)
	if err != nil {
		return Result{}, fmt.Errorf("append user message: %w", err)
	}
	res := Result{SessionID: sessionID, UserMessage: sess.LastMessage()}

	mem := ""
	if c.memory != nil {
		mem, err = c.memory.BuildMemory(ctx)
		if err != nil {
			logger.WarnCF("chat", "Memory unavailable, replying without it", map[string]any{
				"error": err.Error(),
			})
			mem = ""
		}
	}

	if c.model == nil {
		res.Fallback = c.opts.Fallback
		return res, ErrModelUnavailable
	}

	start := time.Now()
	reply, err := c.model.Reply(ctx, Request{
		System:   c.opts.Persona,
		Memory:   mem,
		History:  history,
		UserText: userText,
	})
	if err != nil {
		logger.ErrorCF("chat", "Model request failed", map[string]any{
			"session_id": sessionID,
			"error":      err.Error(),
		})
		res.Fallback = c.opts.Fallback
		return res, fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	}

	clean, directives := memory.ExtractNoteDirectives(reply)
	for _, content := range directives {
		note, err := c.repo.AddNote(ctx, content)
		if err != nil {
			logger.WarnCF("chat", "Failed to save note from reply", map[string]any{
				"error": err.Error(),
			})
			continue
		}
		res.Notes = append(res.Notes, note)
	}
	if clean == "" {
		clean = c.opts.EmptyReply
	}

	sess, err = c.repo.AppendMessage(ctx, sessionID, session.RoleCompanion, clean)
	if err != nil {
		return res, fmt.Errorf("append reply: %w", err)
	}
	res.Reply = sess.LastMessage()

	if c.opts.Notifier != nil {
		c.opts.Notifier.Send(ctx, notify.Notification{
			Title:     c.opts.NotifyTitle,
			Body:      res.Reply.Text,
			SessionID: sessionID,
		})
	}
	if c.publisher != nil {
		c.publisher.Publish(bus.Event{
			Kind:      bus.EventReply,
			SessionID: sessionID,
			MessageID: res.Reply.ID,
			Text:      res.Reply.Text,
			At:        res.Reply.Timestamp,
		})
	}

	logger.InfoCF("chat", "Reply appended", map[string]any{
		"session_id":  sessionID,
		"notes_saved": len(res.Notes),
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return res, nil
}
