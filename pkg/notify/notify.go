package notify

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/dotsetgreg/dotcompanion/pkg/logger"
)

// PermissionState mirrors the host's notification permission.
type PermissionState string

const (
	PermissionGranted      PermissionState = "granted"
	PermissionDenied       PermissionState = "denied"
	PermissionUndetermined PermissionState = "undetermined"
)

// Notification is the out-of-band payload shown to the user.
type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Icon  string `json:"icon,omitempty"`
	// SessionID lets hosts that support it deep-link the notification.
	SessionID string `json:"sessionId,omitempty"`
}

// Host is the platform notification capability. Permission is owned by the
// host and may change at any time.
type Host interface {
	Permission() PermissionState
	RequestPermission(ctx context.Context) (PermissionState, error)
	Deliver(ctx context.Context, n Notification) error
}

// Dispatcher gates deliveries on the host permission and never lets a host
// failure reach its caller.
type Dispatcher struct {
	host Host
	icon string

	prompt   singleflight.Group
	mu       sync.Mutex
	prompted bool
}

func NewDispatcher(host Host, defaultIcon string) *Dispatcher {
	if host == nil {
		host = NopHost{}
	}
	return &Dispatcher{host: host, icon: defaultIcon}
}

// Permission is a read-only mirror of the host state.
func (d *Dispatcher) Permission() PermissionState {
	return d.host.Permission()
}

// RequestAccess asks the host for permission at most once per process while
// the state is undetermined. Concurrent callers share the same prompt.
func (d *Dispatcher) RequestAccess(ctx context.Context) PermissionState {
	if state := d.host.Permission(); state != PermissionUndetermined {
		return state
	}

	v, _, _ := d.prompt.Do("permission", func() (any, error) {
		d.mu.Lock()
		already := d.prompted
		d.mu.Unlock()
		if already || d.host.Permission() != PermissionUndetermined {
			return d.host.Permission(), nil
		}
		state, err := d.host.RequestPermission(ctx)
		d.mu.Lock()
		d.prompted = true
		d.mu.Unlock()
		if err != nil {
			logger.WarnCF("notify", "Permission request failed", map[string]any{"error": err.Error()})
			return d.host.Permission(), nil
		}
		logger.InfoCF("notify", "Permission resolved", map[string]any{"state": string(state)})
		return state, nil
	})
	state, _ := v.(PermissionState)
	if state == "" {
		state = d.host.Permission()
	}
	return state
}

// Send delivers n when permission is granted. It is a no-op otherwise and
// swallows host errors and panics after logging them.
func (d *Dispatcher) Send(ctx context.Context, n Notification) {
	if state := d.host.Permission(); state != PermissionGranted {
		logger.DebugCF("notify", "Notification skipped", map[string]any{
			"permission": string(state),
			"title":      n.Title,
		})
		return
	}
	if n.Icon == "" {
		n.Icon = d.icon
	}

	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCF("notify", "Notification host panicked", map[string]any{"panic": fmt.Sprint(r)})
		}
	}()
	if err := d.host.Deliver(ctx, n); err != nil {
		logger.WarnCF("notify", "Notification delivery failed", map[string]any{
			"error": err.Error(),
			"title": n.Title,
		})
	}
}
