package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotsetgreg/dotcompanion/pkg/chat"
	"github.com/dotsetgreg/dotcompanion/pkg/engage"
	"github.com/dotsetgreg/dotcompanion/pkg/memory"
	"github.com/dotsetgreg/dotcompanion/pkg/navguard"
	"github.com/dotsetgreg/dotcompanion/pkg/notify"
	"github.com/dotsetgreg/dotcompanion/pkg/session"
	"github.com/dotsetgreg/dotcompanion/pkg/store"
)

type countingToucher struct {
	mu sync.Mutex
	n  int
	fg []bool
}

func (c *countingToucher) SetForeground(fg bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fg = append(c.fg, fg)
}

func (c *countingToucher) foreground() []bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]bool(nil), c.fg...)
}

func (c *countingToucher) Touch(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return nil
}

func (c *countingToucher) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

type stubModel struct {
	reply string
	err   error
}

func (m stubModel) Reply(context.Context, chat.Request) (string, error) { return m.reply, m.err }

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testServer struct {
	srv     *httptest.Server
	repo    *session.Repository
	st      store.Store
	toucher *countingToucher
	clock   *testClock
}

func newTestServer(t *testing.T, model chat.Model, apiKey string) *testServer {
	t.Helper()
	st := store.NewMemoryStore()
	repo := session.NewRepository(st, session.Options{})
	ts := &testServer{
		repo:    repo,
		st:      st,
		toucher: &countingToucher{},
		clock:   &testClock{now: time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)},
	}
	agg := memory.NewAggregator(repo, memory.Options{})
	deps := Deps{
		Sessions:   repo,
		Memory:     agg,
		Toucher:    ts.toucher,
		Foreground: ts.toucher,
		Notifier:   notify.NewDispatcher(notify.LogHost{}, ""),
		Guard:      navguard.New(navguard.Options{}),
		Now:        ts.clock.Now,
	}
	if model != nil {
		deps.Conversation = chat.NewConversation(repo, agg, model, ts.toucher, nil, chat.Options{})
	}
	ts.srv = httptest.NewServer(NewRouter(deps, apiKey))
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil, "secret")
	resp := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestBearerAuth(t *testing.T) {
	ts := newTestServer(t, nil, "secret")
	resp := ts.do(t, http.MethodGet, "/sessions", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, ts.srv.URL+"/sessions", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer secret")
	authed, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer authed.Body.Close()
	assert.Equal(t, http.StatusOK, authed.StatusCode)
}

func TestSessions_ListReconcilesEmptyStore(t *testing.T) {
	ts := newTestServer(t, nil, "")
	resp := ts.do(t, http.MethodGet, "/sessions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got := decode[sessionListResponse](t, resp)
	require.Len(t, got.Sessions, 1)
	assert.Equal(t, got.Sessions[0].ID, got.Current)
}

func TestSessions_CreateDeleteRename(t *testing.T) {
	ts := newTestServer(t, nil, "")

	created := decode[session.Session](t, ts.do(t, http.MethodPost, "/sessions", nil))
	current := decode[map[string]string](t, ts.do(t, http.MethodGet, "/current", nil))
	assert.Equal(t, created.ID, current["current"], "new conversation becomes current")

	resp := ts.do(t, http.MethodPatch, "/sessions/"+created.ID, map[string]string{"title": "Plans"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Plans", decode[session.Session](t, resp).Title)

	resp = ts.do(t, http.MethodDelete, "/sessions/"+created.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	after := decode[map[string]string](t, resp)
	assert.NotEqual(t, created.ID, after["current"])
	assert.NotEmpty(t, after["current"])

	resp = ts.do(t, http.MethodGet, "/sessions/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.GreaterOrEqual(t, ts.toucher.count(), 3)
}

func TestSessions_AppendMessageValidation(t *testing.T) {
	ts := newTestServer(t, nil, "")
	sid, err := ts.repo.Reconcile(context.Background())
	require.NoError(t, err)

	resp := ts.do(t, http.MethodPost, "/sessions/"+sid+"/messages", map[string]string{"text": "  "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/sessions/"+sid+"/messages", map[string]string{"role": "narrator", "text": "x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/sessions/"+sid+"/messages", map[string]string{"text": "hello there"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	s := decode[session.Session](t, resp)
	assert.Equal(t, "hello there", s.Title)
	assert.Equal(t, 1, ts.toucher.count())
}

func TestCurrent_SetUnknownIs404(t *testing.T) {
	ts := newTestServer(t, nil, "")
	resp := ts.do(t, http.MethodPut, "/current", map[string]string{"id": "nope"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = ts.do(t, http.MethodPut, "/current", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestChat_ReplyAndFallback(t *testing.T) {
	ts := newTestServer(t, stubModel{reply: "hey! ||SAVE_NOTE:likes jazz||"}, "")
	sid, err := ts.repo.Reconcile(context.Background())
	require.NoError(t, err)

	resp := ts.do(t, http.MethodPost, "/sessions/"+sid+"/chat", map[string]string{"text": "I love jazz"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[chatResponse](t, resp)
	require.NotNil(t, got.Reply)
	assert.Equal(t, "hey!", got.Reply.Text)
	require.Len(t, got.Notes, 1)

	failing := newTestServer(t, stubModel{err: errors.New("offline")}, "")
	sid, err = failing.repo.Reconcile(context.Background())
	require.NoError(t, err)
	resp = failing.do(t, http.MethodPost, "/sessions/"+sid+"/chat", map[string]string{"text": "hello?"})
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	fb := decode[chatResponse](t, resp)
	assert.Equal(t, chat.DefaultFallback, fb.Fallback)
	assert.Nil(t, fb.Reply)
	assert.Equal(t, "hello?", fb.UserMessage.Text)
}

func TestChat_WithoutModel(t *testing.T) {
	ts := newTestServer(t, nil, "")
	resp := ts.do(t, http.MethodPost, "/sessions/x/chat", map[string]string{"text": "hi"})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestNotesAndMemory(t *testing.T) {
	ts := newTestServer(t, nil, "")

	resp := ts.do(t, http.MethodPost, "/notes", map[string]string{"content": "birthday in May"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	note := decode[session.Note](t, resp)

	resp = ts.do(t, http.MethodPost, "/media", map[string]string{"url": "https://x/y.png", "caption": "beach"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	blob := decode[map[string]string](t, ts.do(t, http.MethodGet, "/memory", nil))
	assert.Contains(t, blob["memory"], "[NOTE] birthday in May")
	assert.Contains(t, blob["memory"], "[PHOTO] beach")

	resp = ts.do(t, http.MethodDelete, "/notes/"+note.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = ts.do(t, http.MethodDelete, "/notes/"+note.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	notes := decode[[]session.Note](t, ts.do(t, http.MethodGet, "/notes", nil))
	assert.Empty(t, notes)
}

func TestPendingView_ConsumedOnce(t *testing.T) {
	ts := newTestServer(t, nil, "")
	ctx := context.Background()
	require.NoError(t, store.SaveJSON(ctx, ts.st, store.KeyPendingView, engage.PendingView{
		View:      engage.ViewConversation,
		SessionID: "s-1",
		SetAt:     ts.clock.Now(),
	}))

	resp := ts.do(t, http.MethodGet, "/pending-view", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view := decode[engage.PendingView](t, resp)
	assert.Equal(t, "s-1", view.SessionID)

	resp = ts.do(t, http.MethodGet, "/pending-view", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestNavigation_DoubleBackToExit(t *testing.T) {
	ts := newTestServer(t, nil, "")
	sid, err := ts.repo.Reconcile(context.Background())
	require.NoError(t, err)

	nav := decode[navigationResponse](t, ts.do(t, http.MethodPost, "/navigation/view",
		map[string]string{"view": "conversation", "sessionId": sid}))
	assert.Equal(t, "elsewhere", nav.Position)

	back := decode[navigationResponse](t, ts.do(t, http.MethodPost, "/navigation/back", nil))
	assert.Equal(t, navguard.ShowList, back.Decision)

	back = decode[navigationResponse](t, ts.do(t, http.MethodPost, "/navigation/back", nil))
	assert.Equal(t, navguard.ShowHint, back.Decision)
	assert.True(t, back.Hint)

	ts.clock.Advance(time.Second)
	back = decode[navigationResponse](t, ts.do(t, http.MethodPost, "/navigation/back", nil))
	assert.Equal(t, navguard.Exit, back.Decision)
}

func TestNotificationPermission(t *testing.T) {
	ts := newTestServer(t, nil, "")
	got := decode[map[string]notify.PermissionState](t, ts.do(t, http.MethodGet, "/notifications/permission", nil))
	assert.Equal(t, notify.PermissionGranted, got["state"])

	got = decode[map[string]notify.PermissionState](t, ts.do(t, http.MethodPost, "/notifications/permission", nil))
	assert.Equal(t, notify.PermissionGranted, got["state"])
}

func TestTouch(t *testing.T) {
	ts := newTestServer(t, nil, "")
	resp := ts.do(t, http.MethodPost, "/touch", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 1, ts.toucher.count())
}

func TestForeground(t *testing.T) {
	ts := newTestServer(t, nil, "")

	resp := ts.do(t, http.MethodPut, "/foreground", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.do(t, http.MethodPut, "/foreground", map[string]any{"foreground": false})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = ts.do(t, http.MethodPut, "/foreground", map[string]any{"foreground": true})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	assert.Equal(t, []bool{false, true}, ts.toucher.foreground())
}
