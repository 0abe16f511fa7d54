package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotes_AddListDelete(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t, nil)

	notes, err := r.ListNotes(ctx)
	require.NoError(t, err)
	assert.Empty(t, notes)

	first, err := r.AddNote(ctx, "  likes mango juice ")
	require.NoError(t, err)
	assert.Equal(t, "likes mango juice", first.Content)
	second, err := r.AddNote(ctx, "exam on thursday")
	require.NoError(t, err)

	notes, err = r.ListNotes(ctx)
	require.NoError(t, err)
	require.Len(t, notes, 2)
	assert.Equal(t, first.ID, notes[0].ID)
	assert.Equal(t, second.ID, notes[1].ID)

	require.NoError(t, r.DeleteNote(ctx, first.ID))
	notes, err = r.ListNotes(ctx)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, second.ID, notes[0].ID)

	assert.ErrorIs(t, r.DeleteNote(ctx, first.ID), ErrNoteNotFound)
	_, err = r.AddNote(ctx, " ")
	assert.ErrorIs(t, err, ErrEmptyNote)
}

func TestMedia_AddListDelete(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t, nil)

	item, err := r.AddMedia(ctx, "https://example.com/a.jpg", " beach day ")
	require.NoError(t, err)
	assert.Equal(t, "beach day", item.Caption)

	items, err := r.ListMedia(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, item.ID, items[0].ID)

	_, err = r.AddMedia(ctx, "", "no url")
	assert.ErrorIs(t, err, ErrEmptyMediaURL)

	require.NoError(t, r.DeleteMedia(ctx, item.ID))
	assert.ErrorIs(t, r.DeleteMedia(ctx, item.ID), ErrMediaNotFound)

	items, err = r.ListMedia(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)
}
