package notify

import (
	"context"

	"github.com/dotsetgreg/dotcompanion/pkg/logger"
)

// LogHost delivers notifications to the structured log. It is always
// granted.
type LogHost struct{}

func (LogHost) Permission() PermissionState { return PermissionGranted }

func (LogHost) RequestPermission(context.Context) (PermissionState, error) {
	return PermissionGranted, nil
}

func (LogHost) Deliver(_ context.Context, n Notification) error {
	logger.InfoCF("notify", n.Title, map[string]any{
		"body":       n.Body,
		"icon":       n.Icon,
		"session_id": n.SessionID,
	})
	return nil
}

// NopHost models a platform without notification support.
type NopHost struct{}

func (NopHost) Permission() PermissionState { return PermissionDenied }

func (NopHost) RequestPermission(context.Context) (PermissionState, error) {
	return PermissionDenied, nil
}

func (NopHost) Deliver(context.Context, Notification) error { return nil }
