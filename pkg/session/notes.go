package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/dotsetgreg/dotcompanion/pkg/store"
)

// ListNotes returns notes oldest-first.
func (r *Repository) ListNotes(ctx context.Context) ([]Note, error) {
	notes, err := store.LoadJSON[[]Note](ctx, r.store, store.KeyNotes)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	if notes == nil {
		notes = []Note{}
	}
	return notes, nil
}

func (r *Repository) AddNote(ctx context.Context, content string) (Note, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Note{}, ErrEmptyNote
	}
	note := Note{ID: r.opts.NewID(), Content: content, Timestamp: r.now()}
	err := r.store.Update(ctx, func(tx store.Tx) error {
		notes, err := store.LoadJSON[[]Note](ctx, tx, store.KeyNotes)
		if err != nil {
			return err
		}
		return store.SaveJSON(ctx, tx, store.KeyNotes, append(notes, note))
	})
	if err != nil {
		return Note{}, fmt.Errorf("add note: %w", err)
	}
	return note, nil
}

func (r *Repository) DeleteNote(ctx context.Context, id string) error {
	err := r.store.Update(ctx, func(tx store.Tx) error {
		notes, err := store.LoadJSON[[]Note](ctx, tx, store.KeyNotes)
		if err != nil {
			return err
		}
		for i := range notes {
			if notes[i].ID == id {
				return store.SaveJSON(ctx, tx, store.KeyNotes, append(notes[:i], notes[i+1:]...))
			}
		}
		return ErrNoteNotFound
	})
	if err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	return nil
}

// ListMedia returns media references oldest-first.
func (r *Repository) ListMedia(ctx context.Context) ([]MediaItem, error) {
	items, err := store.LoadJSON[[]MediaItem](ctx, r.store, store.KeyMedia)
	if err != nil {
		return nil, fmt.Errorf("list media: %w", err)
	}
	if items == nil {
		items = []MediaItem{}
	}
	return items, nil
}

func (r *Repository) AddMedia(ctx context.Context, url, caption string) (MediaItem, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return MediaItem{}, ErrEmptyMediaURL
	}
	item := MediaItem{
		ID:        r.opts.NewID(),
		URL:       url,
		Caption:   strings.TrimSpace(caption),
		Timestamp: r.now(),
	}
	err := r.store.Update(ctx, func(tx store.Tx) error {
		items, err := store.LoadJSON[[]MediaItem](ctx, tx, store.KeyMedia)
		if err != nil {
			return err
		}
		return store.SaveJSON(ctx, tx, store.KeyMedia, append(items, item))
	})
	if err != nil {
		return MediaItem{}, fmt.Errorf("add media: %w", err)
	}
	return item, nil
}

func (r *Repository) DeleteMedia(ctx context.Context, id string) error {
	err := r.store.Update(ctx, func(tx store.Tx) error {
		items, err := store.LoadJSON[[]MediaItem](ctx, tx, store.KeyMedia)
		if err != nil {
			return err
		}
		for i := range items {
			if items[i].ID == id {
				return store.SaveJSON(ctx, tx, store.KeyMedia, append(items[:i], items[i+1:]...))
			}
		}
		return ErrMediaNotFound
	})
	if err != nil {
		return fmt.Errorf("delete media: %w", err)
	}
	return nil
}
