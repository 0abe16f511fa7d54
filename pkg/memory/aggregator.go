package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/dotsetgreg/dotcompanion/pkg/logger"
	"github.com/dotsetgreg/dotcompanion/pkg/session"
)

const (
	DefaultDigestMessages = 5
	DefaultMaxBytes       = 12000
)

// Source is the read side of the session repository the aggregator needs.
type Source interface {
	LoadAll(ctx context.Context) ([]session.Session, error)
	ListNotes(ctx context.Context) ([]session.Note, error)
	ListMedia(ctx context.Context) ([]session.MediaItem, error)
}

type Options struct {
	// DigestMessages is how many trailing messages of each session are
	// summarized.
	DigestMessages int
	// MaxBytes caps the blob size. Zero or negative disables the cap.
	MaxBytes int
}

// Aggregator projects notes, media captions and session digests into the
// single text block sent with every model request.
type Aggregator struct {
	source Source
	opts   Options
}

func NewAggregator(source Source, opts Options) *Aggregator {
	if opts.DigestMessages <= 0 {
		opts.DigestMessages = DefaultDigestMessages
	}
	return &Aggregator{source: source, opts: opts}
}

// BuildMemory renders the memory blob. It never mutates the store.
func (a *Aggregator) BuildMemory(ctx context.Context) (string, error) {
	if a == nil || a.source == nil {
		return "", ErrNoSource
	}
	notes, err := a.source.ListNotes(ctx)
	if err != nil {
		return "", fmt.Errorf("build memory: %w", err)
	}
	media, err := a.source.ListMedia(ctx)
	if err != nil {
		return "", fmt.Errorf("build memory: %w", err)
	}
	sessions, err := a.source.LoadAll(ctx)
	if err != nil {
		return "", fmt.Errorf("build memory: %w", err)
	}

	noteLines := make([]string, 0, len(notes))
	for _, n := range notes {
		if c := collapse(n.Content); c != "" {
			noteLines = append(noteLines, "[NOTE] "+c)
		}
	}
	mediaLines := make([]string, 0, len(media))
	for _, m := range media {
		if c := collapse(m.Caption); c != "" {
			mediaLines = append(mediaLines, "[PHOTO] "+c)
		}
	}
	chatLines := make([]string, 0, len(sessions))
	for _, s := range sessions {
		if line := digest(s, a.opts.DigestMessages); line != "" {
			chatLines = append(chatLines, line)
		}
	}

	blob, dropped := fit(noteLines, mediaLines, chatLines, a.opts.MaxBytes)
	if dropped > 0 {
		logger.DebugCF("memory", "Memory blob trimmed", map[string]any{
			"dropped_lines": dropped,
			"max_bytes":     a.opts.MaxBytes,
			"bytes":         len(blob),
		})
	}
	return blob, nil
}

// digest renders `[CHAT "title"] user: ... | companion: ...` over the last n
// messages of s.
func digest(s session.Session, n int) string {
	msgs := s.Messages
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		text := collapse(m.Text)
		if text == "" {
			continue
		}
		parts = append(parts, string(m.Role)+": "+text)
	}
	if len(parts) == 0 {
		return ""
	}
	return fmt.Sprintf("[CHAT %q] %s", collapse(s.Title), strings.Join(parts, " | "))
}

// fit joins the three sections and, while the result exceeds maxBytes, drops
// chat digests from the oldest session (the tail, since sessions arrive
// newest-first), then media oldest-first, then notes oldest-first.
func fit(notes, media, chats []string, maxBytes int) (string, int) {
	size := func() int {
		total, count := 0, 0
		for _, group := range [][]string{notes, media, chats} {
			for _, l := range group {
				total += len(l)
				count++
			}
		}
		if count > 1 {
			total += count - 1
		}
		return total
	}

	dropped := 0
	if maxBytes > 0 {
		for size() > maxBytes {
			switch {
			case len(chats) > 0:
				chats = chats[:len(chats)-1]
			case len(media) > 0:
				media = media[1:]
			case len(notes) > 0:
				notes = notes[1:]
			}
			dropped++
		}
	}

	lines := make([]string, 0, len(notes)+len(media)+len(chats))
	lines = append(lines, notes...)
	lines = append(lines, media...)
	lines = append(lines, chats...)
	return strings.Join(lines, "\n"), dropped
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
