package chat

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotsetgreg/dotcompanion/pkg/bus"
	"github.com/dotsetgreg/dotcompanion/pkg/memory"
	"github.com/dotsetgreg/dotcompanion/pkg/notify"
	"github.com/dotsetgreg/dotcompanion/pkg/session"
	"github.com/dotsetgreg/dotcompanion/pkg/store"
)

type fakeModel struct {
	mu    sync.Mutex
	reply string
	err   error
	reqs  []Request
}

func (m *fakeModel) Reply(_ context.Context, req Request) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reqs = append(m.reqs, req)
	return m.reply, m.err
}

type countingToucher struct{ n int }

func (c *countingToucher) Touch(context.Context) error {
	c.n++
	return nil
}

type eventSink struct{ events []bus.Event }

func (s *eventSink) Publish(ev bus.Event) { s.events = append(s.events, ev) }

type fixture struct {
	repo    *session.Repository
	model   *fakeModel
	toucher *countingToucher
	events  *eventSink
	conv    *Conversation
	sid     string
}

func newFixture(t *testing.T, model *fakeModel) *fixture {
	t.Helper()
	repo := session.NewRepository(store.NewMemoryStore(), session.Options{})
	sid, err := repo.Reconcile(context.Background())
	require.NoError(t, err)
	f := &fixture{
		repo:    repo,
		model:   model,
		toucher: &countingToucher{},
		events:  &eventSink{},
		sid:     sid,
	}
	agg := memory.NewAggregator(repo, memory.Options{})
	f.conv = NewConversation(repo, agg, model, f.toucher, f.events, Options{Persona: "be kind"})
	return f
}

func TestSend_AppendsBothMessages(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakeModel{reply: "Hi! Tell me more."})

	res, err := f.conv.Send(ctx, f.sid, "  I started a new project  ")
	require.NoError(t, err)
	assert.Empty(t, res.Fallback)
	assert.Equal(t, "I started a new project", res.UserMessage.Text)
	assert.Equal(t, "Hi! Tell me more.", res.Reply.Text)
	assert.Equal(t, session.RoleCompanion, res.Reply.Role)

	s, err := f.repo.Get(ctx, f.sid)
	require.NoError(t, err)
	require.Len(t, s.Messages, 3, "seed greeting, user message, reply")
	assert.Equal(t, "I started a new project", s.Title)

	assert.Equal(t, 1, f.toucher.n)
	require.Len(t, f.events.events, 1)
	assert.Equal(t, bus.EventReply, f.events.events[0].Kind)
	assert.Equal(t, res.Reply.ID, f.events.events[0].MessageID)
}

func TestSend_RequestCarriesPersonaMemoryAndPriorHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakeModel{reply: "ok"})
	_, err := f.repo.AddNote(ctx, "likes tea")
	require.NoError(t, err)

	_, err = f.conv.Send(ctx, f.sid, "hello")
	require.NoError(t, err)

	require.Len(t, f.model.reqs, 1)
	req := f.model.reqs[0]
	assert.Equal(t, "be kind", req.System)
	assert.Equal(t, "hello", req.UserText)
	assert.Contains(t, req.Memory, "[NOTE] likes tea")
	require.Len(t, req.History, 1, "history excludes the message being sent")
	assert.Equal(t, string(session.RoleCompanion), req.History[0].Role)
}

func TestSend_SaveNoteDirectivesBecomeNotes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakeModel{reply: "Noted! ||SAVE_NOTE: exam on Sunday||"})

	res, err := f.conv.Send(ctx, f.sid, "my exam is on sunday")
	require.NoError(t, err)
	assert.Equal(t, "Noted!", res.Reply.Text)
	require.Len(t, res.Notes, 1)

	notes, err := f.repo.ListNotes(ctx)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "exam on Sunday", notes[0].Content)
}

func TestSend_EmptyReplyBecomesEllipsis(t *testing.T) {
	f := newFixture(t, &fakeModel{reply: "||SAVE_NOTE:x||"})
	res, err := f.conv.Send(context.Background(), f.sid, "hey")
	require.NoError(t, err)
	assert.Equal(t, DefaultEmptyReply, res.Reply.Text)
}

func TestSend_ModelFailureKeepsOnlyUserMessage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakeModel{err: errors.New("connection refused")})

	res, err := f.conv.Send(ctx, f.sid, "are you there?")
	require.ErrorIs(t, err, ErrModelUnavailable)
	assert.Equal(t, DefaultFallback, res.Fallback)
	assert.Empty(t, res.Reply.ID)

	s, err := f.repo.Get(ctx, f.sid)
	require.NoError(t, err)
	require.Len(t, s.Messages, 2)
	assert.Equal(t, session.RoleUser, s.LastMessage().Role)
	assert.Empty(t, f.events.events)
}

// permissionHost is a notification host with a fixed permission state.
type permissionHost struct {
	state notify.PermissionState
	mu    sync.Mutex
	sent  []notify.Notification
}

func (h *permissionHost) Permission() notify.PermissionState { return h.state }

func (h *permissionHost) RequestPermission(context.Context) (notify.PermissionState, error) {
	return h.state, nil
}

func (h *permissionHost) Deliver(_ context.Context, n notify.Notification) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sent = append(h.sent, n)
	return nil
}

func TestSend_ReplyNotifiesWhenPermitted(t *testing.T) {
	cases := []struct {
		state notify.PermissionState
		want  int
	}{
		{state: notify.PermissionGranted, want: 1},
		{state: notify.PermissionDenied, want: 0},
		{state: notify.PermissionUndetermined, want: 0},
	}
	for _, tc := range cases {
		t.Run(string(tc.state), func(t *testing.T) {
			ctx := context.Background()
			repo := session.NewRepository(store.NewMemoryStore(), session.Options{})
			sid, err := repo.Reconcile(ctx)
			require.NoError(t, err)
			host := &permissionHost{state: tc.state}
			conv := NewConversation(repo, nil, &fakeModel{reply: "Proud of you!"}, nil, nil, Options{
				Notifier:    notify.NewDispatcher(host, ""),
				NotifyTitle: "Donia",
			})

			_, err = conv.Send(ctx, sid, "I passed")
			require.NoError(t, err)

			require.Len(t, host.sent, tc.want)
			if tc.want == 1 {
				assert.Equal(t, notify.Notification{Title: "Donia", Body: "Proud of you!", SessionID: sid}, host.sent[0])
			}
		})
	}
}

func TestSend_ModelFailureDoesNotNotify(t *testing.T) {
	ctx := context.Background()
	repo := session.NewRepository(store.NewMemoryStore(), session.Options{})
	sid, err := repo.Reconcile(ctx)
	require.NoError(t, err)
	host := &permissionHost{state: notify.PermissionGranted}
	conv := NewConversation(repo, nil, &fakeModel{err: errors.New("timeout")}, nil, nil, Options{
		Notifier: notify.NewDispatcher(host, ""),
	})

	_, err = conv.Send(ctx, sid, "hello?")
	require.ErrorIs(t, err, ErrModelUnavailable)
	assert.Empty(t, host.sent)
}

func TestSend_Validation(t *testing.T) {
	f := newFixture(t, &fakeModel{reply: "x"})
	_, err := f.conv.Send(context.Background(), f.sid, "   ")
	assert.ErrorIs(t, err, session.ErrEmptyMessage)

	_, err = f.conv.Send(context.Background(), "missing", "hi")
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
	assert.Empty(t, f.model.reqs)
}

func TestLoadPersona(t *testing.T) {
	dir := t.TempDir()

	got, err := LoadPersona(filepath.Join(dir, "PERSONA.md"))
	require.NoError(t, err)
	assert.Equal(t, DefaultPersona, got)

	path := filepath.Join(dir, "PERSONA.md")
	require.NoError(t, os.WriteFile(path, []byte("\nYou are Mira.\n"), 0o644))
	got, err = LoadPersona(path)
	require.NoError(t, err)
	assert.Equal(t, "You are Mira.", got)

	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat(" ", 4)), 0o644))
	got, err = LoadPersona(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultPersona, got)
}
