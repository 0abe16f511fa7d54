package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dotsetgreg/dotcompanion/pkg/logger"
)

// Logical keys of the persisted state layout.
const (
	KeySessions        = "sessions"
	KeyCurrentSession  = "currentSessionId"
	KeyNotes           = "notes"
	KeyMedia           = "media"
	KeyScheduleMarkers = "scheduleMarkers"
	KeyLastFired       = "scheduler.lastFired"
	KeyLastInteraction = "scheduler.lastInteraction"
	KeyPendingView     = "pendingView"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store closed")

// Reader is the read side shared by Store and Tx.
type Reader interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
}

// Tx is a read-modify-write view valid only inside Store.Update.
type Tx interface {
	Reader
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Store is a durable key-value medium. Writes are last-write-wins per key;
// Update runs fn with exclusive access so several keys can be read and
// written as one unit.
type Store interface {
	Reader
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Update(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

// LoadJSON reads key as JSON. A missing key yields the zero value, and a blob
// that fails to parse is logged and treated as missing.
func LoadJSON[T any](ctx context.Context, r Reader, key string) (T, error) {
	var out T
	raw, ok, err := r.Get(ctx, key)
	if err != nil {
		return out, err
	}
	if !ok || len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		logger.WarnCF("store", "Discarding unreadable value", map[string]any{
			"key":   key,
			"error": err.Error(),
		})
		var zero T
		return zero, nil
	}
	return out, nil
}

// Writer is the write side shared by Store and Tx.
type Writer interface {
	Set(ctx context.Context, key string, value []byte) error
}

// SaveJSON marshals v and writes it under key.
func SaveJSON(ctx context.Context, w Writer, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return w.Set(ctx, key, b)
}
