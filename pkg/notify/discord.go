package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/dotsetgreg/dotcompanion/pkg/logger"
)

const (
	sendTimeout = 10 * time.Second
	// Discord refuses DMs to users who share no guild or block the bot.
	discordCannotDM = 50007
)

// discordAPI is the subset of *discordgo.Session the host uses.
type discordAPI interface {
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordHost delivers notifications as direct messages from a bot to one
// user. Permission stays undetermined until the DM channel has been opened;
// Discord refusing the DM flips it to denied.
type DiscordHost struct {
	api    discordAPI
	userID string

	mu        sync.RWMutex
	state     PermissionState
	channelID string
}

func NewDiscordHost(token, userID string) (*DiscordHost, error) {
	token = strings.TrimSpace(token)
	userID = strings.TrimSpace(userID)
	if token == "" || userID == "" {
		return nil, fmt.Errorf("discord notifications need a bot token and a user id")
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	return newDiscordHost(session, userID), nil
}

func newDiscordHost(api discordAPI, userID string) *DiscordHost {
	return &DiscordHost{api: api, userID: userID, state: PermissionUndetermined}
}

func (h *DiscordHost) Permission() PermissionState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

func (h *DiscordHost) RequestPermission(ctx context.Context) (PermissionState, error) {
	ch, err := h.call(ctx, func() (any, error) {
		return h.api.UserChannelCreate(h.userID)
	})
	if err != nil {
		if isDiscordRefusal(err) {
			h.setState(PermissionDenied, "")
			return PermissionDenied, nil
		}
		return h.Permission(), fmt.Errorf("open discord dm: %w", err)
	}
	channel, _ := ch.(*discordgo.Channel)
	if channel == nil || channel.ID == "" {
		return h.Permission(), fmt.Errorf("open discord dm: empty channel")
	}
	h.setState(PermissionGranted, channel.ID)
	return PermissionGranted, nil
}

func (h *DiscordHost) Deliver(ctx context.Context, n Notification) error {
	h.mu.RLock()
	channelID := h.channelID
	h.mu.RUnlock()
	if channelID == "" {
		return fmt.Errorf("discord dm channel not open")
	}

	content := n.Body
	if title := strings.TrimSpace(n.Title); title != "" {
		content = "**" + title + "**\n" + n.Body
	}
	_, err := h.call(ctx, func() (any, error) {
		return h.api.ChannelMessageSend(channelID, content)
	})
	if err != nil {
		if isDiscordRefusal(err) {
			h.setState(PermissionDenied, "")
			logger.WarnCF("notify", "Discord revoked direct messages", map[string]any{"user_id": h.userID})
		}
		return fmt.Errorf("failed to send discord message: %w", err)
	}
	return nil
}

func (h *DiscordHost) setState(state PermissionState, channelID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = state
	h.channelID = channelID
}

// call runs fn with the send timeout applied; discordgo itself takes no
// context.
func (h *DiscordHost) call(ctx context.Context, fn func() (any, error)) (any, error) {
	callCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	type result struct {
		v   any
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("discord call panicked: %v", r)}
			}
		}()
		v, err := fn()
		done <- result{v: v, err: err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-callCtx.Done():
		return nil, fmt.Errorf("discord call timeout: %w", callCtx.Err())
	}
}

func isDiscordRefusal(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return false
	}
	if restErr.Message != nil && restErr.Message.Code == discordCannotDM {
		return true
	}
	return restErr.Response != nil && restErr.Response.StatusCode == http.StatusForbidden
}
