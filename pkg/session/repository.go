package session

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dotsetgreg/dotcompanion/pkg/logger"
	"github.com/dotsetgreg/dotcompanion/pkg/store"
)

const (
	DefaultSeedGreeting     = "Hey you! I missed you. What's on your mind today?"
	DefaultPlaceholderTitle = "New Chat"
	DefaultTitleMaxRunes    = 30
	titleEllipsis           = "..."
)

// Options configures a Repository. Zero fields take defaults.
type Options struct {
	SeedGreeting     string
	PlaceholderTitle string
	TitleMaxRunes    int
	Now              func() time.Time
	NewID            func() string
}

// Repository owns every mutation of sessions, notes and media references.
// Each mutating call re-reads the persisted collection inside store.Update,
// so callers never write back a stale snapshot.
type Repository struct {
	store store.Store
	opts  Options
}

func NewRepository(st store.Store, opts Options) *Repository {
	if strings.TrimSpace(opts.SeedGreeting) == "" {
		opts.SeedGreeting = DefaultSeedGreeting
	}
	if strings.TrimSpace(opts.PlaceholderTitle) == "" {
		opts.PlaceholderTitle = DefaultPlaceholderTitle
	}
	if opts.TitleMaxRunes <= 0 {
		opts.TitleMaxRunes = DefaultTitleMaxRunes
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Repository{store: st, opts: opts}
}

// Store exposes the underlying medium for collaborators that keep their own
// keys next to the sessions.
func (r *Repository) Store() store.Store { return r.store }

// PlaceholderTitle is the title of sessions not yet named.
func (r *Repository) PlaceholderTitle() string { return r.opts.PlaceholderTitle }

func (r *Repository) now() time.Time {
	return r.opts.Now().UTC()
}

func loadSessions(ctx context.Context, rd store.Reader) ([]Session, error) {
	sessions, err := store.LoadJSON[[]Session](ctx, rd, store.KeySessions)
	if err != nil {
		return nil, err
	}
	out := sessions[:0]
	for _, s := range sessions {
		if strings.TrimSpace(s.ID) == "" {
			continue
		}
		out = append(out, s)
	}
	sortSessions(out)
	return out, nil
}

// sortSessions orders newest-first by LastModified, then by the newest
// message timestamp, then by id for determinism.
func sortSessions(sessions []Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		a, b := sessions[i], sessions[j]
		if !a.LastModified.Equal(b.LastModified) {
			return a.LastModified.After(b.LastModified)
		}
		at, bt := a.LastMessage().Timestamp, b.LastMessage().Timestamp
		if !at.Equal(bt) {
			return at.After(bt)
		}
		return a.ID < b.ID
	})
}

func saveSessions(ctx context.Context, tx store.Tx, sessions []Session) error {
	sortSessions(sessions)
	if sessions == nil {
		sessions = []Session{}
	}
	return store.SaveJSON(ctx, tx, store.KeySessions, sessions)
}

func indexOf(sessions []Session, id string) int {
	for i := range sessions {
		if sessions[i].ID == id {
			return i
		}
	}
	return -1
}

func loadPointer(ctx context.Context, rd store.Reader) (string, error) {
	return store.LoadJSON[string](ctx, rd, store.KeyCurrentSession)
}

func savePointer(ctx context.Context, tx store.Tx, id string) error {
	return store.SaveJSON(ctx, tx, store.KeyCurrentSession, id)
}

func (r *Repository) newSession(seedText string) Session {
	seedText = strings.TrimSpace(seedText)
	if seedText == "" {
		seedText = r.opts.SeedGreeting
	}
	now := r.now()
	return Session{
		ID:    r.opts.NewID(),
		Title: r.opts.PlaceholderTitle,
		Messages: []Message{{
			ID:        r.opts.NewID(),
			Role:      RoleCompanion,
			Text:      seedText,
			Timestamp: now,
		}},
		LastModified: now,
	}
}

// LoadAll returns every session newest-first. An empty store yields an
// empty slice.
func (r *Repository) LoadAll(ctx context.Context) ([]Session, error) {
	sessions, err := loadSessions(ctx, r.store)
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}
	if sessions == nil {
		sessions = []Session{}
	}
	return sessions, nil
}

// Get returns one session by id.
func (r *Repository) Get(ctx context.Context, id string) (Session, error) {
	sessions, err := r.LoadAll(ctx)
	if err != nil {
		return Session{}, err
	}
	idx := indexOf(sessions, id)
	if idx < 0 {
		return Session{}, ErrSessionNotFound
	}
	return sessions[idx], nil
}

// CreateSession seeds a new session with one companion message and prepends
// it to the latest persisted collection. The current pointer is untouched.
func (r *Repository) CreateSession(ctx context.Context, seedText string) (Session, error) {
	var created Session
	err := r.store.Update(ctx, func(tx store.Tx) error {
		sessions, err := loadSessions(ctx, tx)
		if err != nil {
			return err
		}
		created = r.newSession(seedText)
		return saveSessions(ctx, tx, append([]Session{created}, sessions...))
	})
	if err != nil {
		return Session{}, fmt.Errorf("create session: %w", err)
	}
	logger.InfoCF("session", "Session created", map[string]any{"session_id": created.ID})
	return created, nil
}

// NewConversation creates a session and makes it current.
func (r *Repository) NewConversation(ctx context.Context) (Session, error) {
	var created Session
	err := r.store.Update(ctx, func(tx store.Tx) error {
		sessions, err := loadSessions(ctx, tx)
		if err != nil {
			return err
		}
		created = r.newSession("")
		if err := saveSessions(ctx, tx, append([]Session{created}, sessions...)); err != nil {
			return err
		}
		return savePointer(ctx, tx, created.ID)
	})
	if err != nil {
		return Session{}, fmt.Errorf("new conversation: %w", err)
	}
	logger.InfoCF("session", "Conversation started", map[string]any{"session_id": created.ID})
	return created, nil
}

// EnsureTitled returns the session whose title is exactly title, creating
// it with seedText when none exists.
func (r *Repository) EnsureTitled(ctx context.Context, title, seedText string) (Session, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Session{}, ErrEmptyTitle
	}
	var out Session
	created := false
	err := r.store.Update(ctx, func(tx store.Tx) error {
		sessions, err := loadSessions(ctx, tx)
		if err != nil {
			return err
		}
		for _, s := range sessions {
			if s.Title == title {
				out = s
				return nil
			}
		}
		out = r.newSession(seedText)
		out.Title = title
		out.AutoTitled = true
		created = true
		return saveSessions(ctx, tx, append([]Session{out}, sessions...))
	})
	if err != nil {
		return Session{}, fmt.Errorf("ensure session %q: %w", title, err)
	}
	if created {
		logger.InfoCF("session", "Titled session created", map[string]any{"session_id": out.ID, "title": title})
	}
	return out, nil
}

// DeleteSession removes id. If it was current (or the pointer no longer
// resolves) the newest remaining session becomes current; deleting the last
// session creates a replacement in the same write. Returns the current id
// after deletion.
func (r *Repository) DeleteSession(ctx context.Context, id string) (string, error) {
	var current string
	var replaced bool
	err := r.store.Update(ctx, func(tx store.Tx) error {
		sessions, err := loadSessions(ctx, tx)
		if err != nil {
			return err
		}
		idx := indexOf(sessions, id)
		if idx < 0 {
			return ErrSessionNotFound
		}
		sessions = append(sessions[:idx], sessions[idx+1:]...)

		current, err = loadPointer(ctx, tx)
		if err != nil {
			return err
		}
		switch {
		case len(sessions) == 0:
			s := r.newSession("")
			sessions = []Session{s}
			current = s.ID
			replaced = true
		case current == id || indexOf(sessions, current) < 0:
			sortSessions(sessions)
			current = sessions[0].ID
		}
		if err := saveSessions(ctx, tx, sessions); err != nil {
			return err
		}
		return savePointer(ctx, tx, current)
	})
	if err != nil {
		return "", fmt.Errorf("delete session: %w", err)
	}
	logger.InfoCF("session", "Session deleted", map[string]any{
		"session_id": id,
		"current":    current,
		"replaced":   replaced,
	})
	return current, nil
}

// AppendMessage adds a message to sessionID. The first user message of a
// session still carrying the placeholder title names it.
func (r *Repository) AppendMessage(ctx context.Context, sessionID string, role Role, text string) (Session, error) {
	if !role.Valid() {
		return Session{}, ErrInvalidRole
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Session{}, ErrEmptyMessage
	}

	var out Session
	err := r.store.Update(ctx, func(tx store.Tx) error {
		var err error
		out, err = r.appendTx(ctx, tx, sessionID, role, text)
		return err
	})
	if err != nil {
		return Session{}, fmt.Errorf("append message: %w", err)
	}
	return out, nil
}

// DeliverMessage appends a companion message to sessionID and makes that
// session current in a single write. extra, when set, runs inside the same
// transaction; if it fails nothing is committed.
func (r *Repository) DeliverMessage(ctx context.Context, sessionID, text string, extra func(tx store.Tx) error) (Session, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Session{}, ErrEmptyMessage
	}

	var out Session
	err := r.store.Update(ctx, func(tx store.Tx) error {
		var err error
		out, err = r.appendTx(ctx, tx, sessionID, RoleCompanion, text)
		if err != nil {
			return err
		}
		if err := savePointer(ctx, tx, sessionID); err != nil {
			return err
		}
		if extra != nil {
			return extra(tx)
		}
		return nil
	})
	if err != nil {
		return Session{}, fmt.Errorf("deliver message: %w", err)
	}
	return out, nil
}

func (r *Repository) appendTx(ctx context.Context, tx store.Tx, sessionID string, role Role, text string) (Session, error) {
	sessions, err := loadSessions(ctx, tx)
	if err != nil {
		return Session{}, err
	}
	idx := indexOf(sessions, sessionID)
	if idx < 0 {
		return Session{}, ErrSessionNotFound
	}
	s := sessions[idx]
	now := r.now()
	if role == RoleUser && !s.AutoTitled {
		if s.Title == r.opts.PlaceholderTitle {
			s.Title = DeriveTitle(text, r.opts.TitleMaxRunes)
		}
		s.AutoTitled = true
	}
	msgs := make([]Message, len(s.Messages), len(s.Messages)+1)
	copy(msgs, s.Messages)
	s.Messages = append(msgs, Message{
		ID:        r.opts.NewID(),
		Role:      role,
		Text:      text,
		Timestamp: now,
	})
	s.LastModified = now
	sessions[idx] = s
	if err := saveSessions(ctx, tx, sessions); err != nil {
		return Session{}, err
	}
	return s, nil
}

// Rename sets an explicit title; auto-derivation never runs afterwards.
func (r *Repository) Rename(ctx context.Context, id, title string) (Session, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Session{}, ErrEmptyTitle
	}
	var out Session
	err := r.store.Update(ctx, func(tx store.Tx) error {
		sessions, err := loadSessions(ctx, tx)
		if err != nil {
			return err
		}
		idx := indexOf(sessions, id)
		if idx < 0 {
			return ErrSessionNotFound
		}
		sessions[idx].Title = title
		sessions[idx].AutoTitled = true
		out = sessions[idx]
		return saveSessions(ctx, tx, sessions)
	})
	if err != nil {
		return Session{}, fmt.Errorf("rename session: %w", err)
	}
	return out, nil
}

// SetCurrent points the current-session pointer at id.
func (r *Repository) SetCurrent(ctx context.Context, id string) error {
	err := r.store.Update(ctx, func(tx store.Tx) error {
		sessions, err := loadSessions(ctx, tx)
		if err != nil {
			return err
		}
		if indexOf(sessions, id) < 0 {
			return ErrSessionNotFound
		}
		return savePointer(ctx, tx, id)
	})
	if err != nil {
		return fmt.Errorf("set current session: %w", err)
	}
	return nil
}

// GetCurrent returns the current session id, reconciling a stale or absent
// pointer first.
func (r *Repository) GetCurrent(ctx context.Context) (string, error) {
	return r.Reconcile(ctx)
}

// Reconcile guarantees at least one session exists and that the pointer
// resolves: a valid pointer is kept, otherwise the newest session is chosen.
func (r *Repository) Reconcile(ctx context.Context) (string, error) {
	var current string
	var reason string
	err := r.store.Update(ctx, func(tx store.Tx) error {
		sessions, err := loadSessions(ctx, tx)
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			s := r.newSession("")
			current = s.ID
			reason = "empty"
			if err := saveSessions(ctx, tx, []Session{s}); err != nil {
				return err
			}
			return savePointer(ctx, tx, current)
		}

		ptr, err := loadPointer(ctx, tx)
		if err != nil {
			return err
		}
		if ptr != "" && indexOf(sessions, ptr) >= 0 {
			current = ptr
			return nil
		}
		current = sessions[0].ID
		reason = "stale_pointer"
		if ptr == "" {
			reason = "no_pointer"
		}
		return savePointer(ctx, tx, current)
	})
	if err != nil {
		return "", fmt.Errorf("reconcile sessions: %w", err)
	}
	if reason != "" {
		logger.InfoCF("session", "Current session reconciled", map[string]any{
			"session_id": current,
			"reason":     reason,
		})
	}
	return current, nil
}

// History returns the session's messages in the shape the model expects.
func (r *Repository) History(ctx context.Context, id string) ([]Turn, error) {
	s, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	turns := make([]Turn, 0, len(s.Messages))
	for _, m := range s.Messages {
		turns = append(turns, Turn{Role: string(m.Role), Text: m.Text})
	}
	return turns, nil
}

// DeriveTitle truncates text to maxRunes runes, adding an ellipsis when cut.
func DeriveTitle(text string, maxRunes int) string {
	clean := strings.Join(strings.Fields(text), " ")
	runes := []rune(clean)
	if maxRunes <= 0 || len(runes) <= maxRunes {
		return clean
	}
	return strings.TrimRight(string(runes[:maxRunes]), " ") + titleEllipsis
}
