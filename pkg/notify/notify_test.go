package notify

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHost struct {
	mu        sync.Mutex
	state     PermissionState
	answer    PermissionState
	prompts   atomic.Int32
	delivered []Notification
	deliver   func(Notification) error
	delay     time.Duration
}

func (h *fakeHost) Permission() PermissionState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *fakeHost) RequestPermission(context.Context) (PermissionState, error) {
	h.prompts.Add(1)
	time.Sleep(h.delay)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = h.answer
	return h.answer, nil
}

func (h *fakeHost) Deliver(_ context.Context, n Notification) error {
	if h.deliver != nil {
		return h.deliver(n)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.delivered = append(h.delivered, n)
	return nil
}

func TestRequestAccess_SinglePromptForConcurrentCallers(t *testing.T) {
	host := &fakeHost{state: PermissionUndetermined, answer: PermissionGranted, delay: 20 * time.Millisecond}
	d := NewDispatcher(host, "")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, PermissionGranted, d.RequestAccess(context.Background()))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), host.prompts.Load())
	assert.Equal(t, PermissionGranted, d.RequestAccess(context.Background()))
	assert.Equal(t, int32(1), host.prompts.Load())
}

func TestRequestAccess_DismissedPromptNotRepeated(t *testing.T) {
	host := &fakeHost{state: PermissionUndetermined, answer: PermissionUndetermined}
	d := NewDispatcher(host, "")

	assert.Equal(t, PermissionUndetermined, d.RequestAccess(context.Background()))
	assert.Equal(t, PermissionUndetermined, d.RequestAccess(context.Background()))
	assert.Equal(t, int32(1), host.prompts.Load())
}

func TestRequestAccess_DecidedStateSkipsPrompt(t *testing.T) {
	host := &fakeHost{state: PermissionDenied}
	d := NewDispatcher(host, "")

	assert.Equal(t, PermissionDenied, d.RequestAccess(context.Background()))
	assert.Equal(t, int32(0), host.prompts.Load())
}

func TestSend_NoopUnlessGranted(t *testing.T) {
	for _, state := range []PermissionState{PermissionDenied, PermissionUndetermined} {
		host := &fakeHost{state: state}
		NewDispatcher(host, "").Send(context.Background(), Notification{Title: "t", Body: "b"})
		assert.Empty(t, host.delivered, "state %s", state)
	}
}

func TestSend_RevocationTakesEffectImmediately(t *testing.T) {
	host := &fakeHost{state: PermissionGranted}
	d := NewDispatcher(host, "icon.png")

	d.Send(context.Background(), Notification{Title: "a", Body: "first"})
	host.mu.Lock()
	host.state = PermissionDenied
	host.mu.Unlock()
	d.Send(context.Background(), Notification{Title: "a", Body: "second"})

	require.Len(t, host.delivered, 1)
	assert.Equal(t, "first", host.delivered[0].Body)
	assert.Equal(t, "icon.png", host.delivered[0].Icon)
	assert.Equal(t, PermissionDenied, d.Permission())
}

func TestSend_SwallowsHostFailures(t *testing.T) {
	host := &fakeHost{state: PermissionGranted, deliver: func(Notification) error {
		return errors.New("host offline")
	}}
	d := NewDispatcher(host, "")
	assert.NotPanics(t, func() { d.Send(context.Background(), Notification{Title: "x"}) })

	host.deliver = func(Notification) error { panic("platform exploded") }
	assert.NotPanics(t, func() { d.Send(context.Background(), Notification{Title: "x"}) })
}

func TestNilHostIsDenied(t *testing.T) {
	d := NewDispatcher(nil, "")
	assert.Equal(t, PermissionDenied, d.Permission())
	d.Send(context.Background(), Notification{Title: "x"})
}

type fakeDiscord struct {
	channelErr error
	sendErr    error
	panicOn    string
	sent       []string
}

func (f *fakeDiscord) UserChannelCreate(recipientID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	if f.panicOn == "channel" {
		panic("nil pointer in ratelimiter")
	}
	if f.channelErr != nil {
		return nil, f.channelErr
	}
	return &discordgo.Channel{ID: "dm-" + recipientID}, nil
}

func (f *fakeDiscord) ChannelMessageSend(channelID string, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	if f.panicOn == "send" {
		panic("nil pointer in ratelimiter")
	}
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, channelID+":"+content)
	return &discordgo.Message{ID: "m"}, nil
}

func forbidden() error {
	return &discordgo.RESTError{
		Response: &http.Response{StatusCode: http.StatusForbidden, Status: "403 Forbidden"},
		Message:  &discordgo.APIErrorMessage{Code: discordCannotDM, Message: "Cannot send messages to this user"},
	}
}

func TestDiscordHost_GrantsAfterDMChannelOpens(t *testing.T) {
	api := &fakeDiscord{}
	h := newDiscordHost(api, "42")
	assert.Equal(t, PermissionUndetermined, h.Permission())

	state, err := h.RequestPermission(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PermissionGranted, state)

	d := NewDispatcher(h, "")
	d.Send(context.Background(), Notification{Title: "Companion", Body: "Good morning"})
	assert.Equal(t, []string{"dm-42:**Companion**\nGood morning"}, api.sent)
}

func TestDiscordHost_RefusalDenies(t *testing.T) {
	h := newDiscordHost(&fakeDiscord{channelErr: forbidden()}, "42")
	state, err := h.RequestPermission(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PermissionDenied, state)
}

func TestDiscordHost_RevokedWhileGranted(t *testing.T) {
	api := &fakeDiscord{}
	h := newDiscordHost(api, "42")
	_, err := h.RequestPermission(context.Background())
	require.NoError(t, err)

	api.sendErr = forbidden()
	err = h.Deliver(context.Background(), Notification{Body: "hi"})
	require.Error(t, err)
	assert.Equal(t, PermissionDenied, h.Permission())
}

func TestDiscordHost_TransientErrorKeepsState(t *testing.T) {
	h := newDiscordHost(&fakeDiscord{channelErr: errors.New("dial tcp: timeout")}, "42")
	state, err := h.RequestPermission(context.Background())
	require.Error(t, err)
	assert.Equal(t, PermissionUndetermined, state)
}

func TestDiscordHost_PanicBecomesError(t *testing.T) {
	api := &fakeDiscord{panicOn: "channel"}
	h := newDiscordHost(api, "42")
	state, err := h.RequestPermission(context.Background())
	if err == nil || !strings.Contains(err.Error(), "panicked") {
		t.Fatalf("expected panic surfaced as error, got %v", err)
	}
	assert.Equal(t, PermissionUndetermined, state)

	api.panicOn = ""
	_, err = h.RequestPermission(context.Background())
	require.NoError(t, err)

	api.panicOn = "send"
	err = h.Deliver(context.Background(), Notification{Body: "hi"})
	require.Error(t, err)
	assert.Equal(t, PermissionGranted, h.Permission())
	assert.Empty(t, api.sent)

	NewDispatcher(h, "").Send(context.Background(), Notification{Body: "still alive"})
}

func TestNewDiscordHost_RequiresCredentials(t *testing.T) {
	_, err := NewDiscordHost("", "42")
	assert.Error(t, err)
	_, err = NewDiscordHost("token", " ")
	assert.Error(t, err)
}
