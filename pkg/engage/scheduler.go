package engage

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/dotsetgreg/dotcompanion/pkg/bus"
	"github.com/dotsetgreg/dotcompanion/pkg/logger"
	"github.com/dotsetgreg/dotcompanion/pkg/notify"
	"github.com/dotsetgreg/dotcompanion/pkg/session"
	"github.com/dotsetgreg/dotcompanion/pkg/store"
)

const (
	DefaultTickInterval  = 60 * time.Second
	DefaultTopicTitle    = "Random Topics"
	DefaultTopicGreeting = "This is our random-topics corner. I'll drop ideas here when you're quiet for a while."

	// ViewConversation is the only deep-link target the scheduler writes.
	ViewConversation = "conversation"
)

var errMissingDependency = errors.New("scheduler needs a store and a session repository")

// Sessions is the slice of the session repository the scheduler uses.
type Sessions interface {
	GetCurrent(ctx context.Context) (string, error)
	EnsureTitled(ctx context.Context, title, seedText string) (session.Session, error)
	DeliverMessage(ctx context.Context, sessionID, text string, extra func(tx store.Tx) error) (session.Session, error)
}

type Notifier interface {
	Send(ctx context.Context, n notify.Notification)
}

type Publisher interface {
	Publish(ev bus.Event)
}

// PendingView tells the UI which conversation to open on its next load.
type PendingView struct {
	View      string    `json:"view"`
	SessionID string    `json:"sessionId"`
	SetAt     time.Time `json:"setAt"`
}

type Options struct {
	Rules []Rule
	// Companion is the zone fixed-rule times are written in.
	Companion *time.Location
	// Device keys the once-per-day markers.
	Device         *time.Location
	TickInterval   time.Duration
	TopicTitle     string
	TopicGreeting  string
	NotifyTitle    string
	ForegroundOnly bool
	Now            func() time.Time
	Rand           Rand
}

// Scheduler evaluates the rule table on a fixed tick and delivers the
// resulting companion messages.
type Scheduler struct {
	store     store.Store
	sessions  Sessions
	notifier  Notifier
	publisher Publisher
	opts      Options

	mu         sync.Mutex
	rules      []Rule
	foreground bool
	running    bool
	stopCh     chan struct{}
	wakeCh     chan struct{}
	wg         sync.WaitGroup

	// tickMu keeps evaluations from overlapping.
	tickMu sync.Mutex
}

func NewScheduler(st store.Store, sessions Sessions, notifier Notifier, publisher Publisher, opts Options) (*Scheduler, error) {
	if st == nil || sessions == nil {
		return nil, errMissingDependency
	}
	if opts.Rules == nil {
		opts.Rules = DefaultRules()
	}
	if err := ValidateRules(opts.Rules); err != nil {
		return nil, err
	}
	if opts.Companion == nil {
		opts.Companion = time.UTC
	}
	if opts.Device == nil {
		opts.Device = time.Local
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if strings.TrimSpace(opts.TopicTitle) == "" {
		opts.TopicTitle = DefaultTopicTitle
	}
	if strings.TrimSpace(opts.TopicGreeting) == "" {
		opts.TopicGreeting = DefaultTopicGreeting
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Scheduler{
		store:      st,
		sessions:   sessions,
		notifier:   notifier,
		publisher:  publisher,
		opts:       opts,
		rules:      append([]Rule(nil), opts.Rules...),
		foreground: true,
	}, nil
}

// Rules returns a copy of the active table.
func (s *Scheduler) Rules() []Rule {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Rule(nil), s.rules...)
}

// SetRules swaps the active table after validating it. The next tick uses
// the new table; existing markers and cooldowns are kept.
func (s *Scheduler) SetRules(rules []Rule) error {
	if err := ValidateRules(rules); err != nil {
		return err
	}
	s.mu.Lock()
	s.rules = append([]Rule(nil), rules...)
	s.mu.Unlock()
	logger.InfoCF("engage", "Rule table replaced", map[string]any{"rules": len(rules)})
	return nil
}

// Location returns the companion zone.
func (s *Scheduler) Location() *time.Location { return s.opts.Companion }

// Touch records a user interaction.
func (s *Scheduler) Touch(ctx context.Context) error {
	if err := store.SaveJSON(ctx, s.store, store.KeyLastInteraction, s.opts.Now().UTC()); err != nil {
		return fmt.Errorf("touch: %w", err)
	}
	return nil
}

// Start runs one evaluation immediately and then one per TickInterval on a
// single goroutine. A missing last-interaction time is initialized to now.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	ctx := context.Background()
	last, err := store.LoadJSON[time.Time](ctx, s.store, store.KeyLastInteraction)
	if err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	if last.IsZero() {
		if err := s.Touch(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
	}

	s.stopCh = make(chan struct{})
	s.wakeCh = make(chan struct{}, 1)
	s.running = true
	s.wg.Add(1)
	go s.run(s.stopCh, s.wakeCh)

	logger.InfoCF("engage", "Scheduler started", map[string]any{
		"tick":       s.opts.TickInterval.String(),
		"rules":      len(s.rules),
		"companion":  s.opts.Companion.String(),
		"foreground": s.opts.ForegroundOnly,
	})
	return nil
}

// Stop ends the tick loop and waits for an in-flight evaluation to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	logger.InfoC("engage", "Scheduler stopped")
}

// SetForeground reports whether the host application is visible. In
// foreground-only mode ticks are skipped while in the background, and
// returning to the foreground triggers an evaluation.
func (s *Scheduler) SetForeground(fg bool) {
	s.mu.Lock()
	wasBackground := !s.foreground
	s.foreground = fg
	wake := s.wakeCh
	running := s.running
	s.mu.Unlock()

	if fg && wasBackground && running && s.opts.ForegroundOnly {
		select {
		case wake <- struct{}{}:
		default:
		}
	}
}

func (s *Scheduler) run(stopCh, wakeCh chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.opts.TickInterval)
	defer ticker.Stop()

	s.scheduledTick()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			s.scheduledTick()
		case <-wakeCh:
			s.scheduledTick()
		}
	}
}

func (s *Scheduler) scheduledTick() {
	if s.opts.ForegroundOnly {
		s.mu.Lock()
		fg := s.foreground
		s.mu.Unlock()
		if !fg {
			return
		}
	}
	if _, err := s.Tick(context.Background()); err != nil {
		logger.ErrorCF("engage", "Tick failed", map[string]any{"error": err.Error()})
	}
}

// Tick runs one evaluation and delivers its effects. It returns the effects
// that were delivered. Each firing commits its message, the current-session
// pointer, the deep-link and its marker in one write, so an effect whose
// message could not be stored leaves no trace and may fire again.
func (s *Scheduler) Tick(ctx context.Context) ([]Effect, error) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	now := s.opts.Now()
	prev, err := LoadState(ctx, s.store)
	if err != nil {
		return nil, err
	}
	next, effects := Evaluate(prev, now, Env{
		Rules:     s.Rules(),
		Companion: s.opts.Companion,
		Device:    s.opts.Device,
		Rand:      s.opts.Rand,
	})
	if len(effects) == 0 {
		return nil, s.saveState(ctx, next)
	}

	// committed holds next minus every firing; each delivery adds its own.
	committed := next.Clone()
	for _, e := range effects {
		committed.Revert(prev, e)
	}

	delivered := make([]Effect, 0, len(effects))
	for _, e := range effects {
		candidate := committed.Clone()
		candidate.adopt(next, e)
		if err := s.deliver(ctx, e, candidate); err != nil {
			logger.WarnCF("engage", "Autonomous message rolled back", map[string]any{
				"rule":  e.RuleID,
				"error": err.Error(),
			})
			continue
		}
		committed = candidate
		delivered = append(delivered, e)
	}
	if len(delivered) == 0 {
		return nil, s.saveState(ctx, committed)
	}
	return delivered, nil
}

func (s *Scheduler) saveState(ctx context.Context, st State) error {
	return s.store.Update(ctx, func(tx store.Tx) error {
		return SaveState(ctx, tx, st)
	})
}

// deliver performs one effect. The message, pointer, deep-link and state
// are written together; the notification and event follow only once that
// write has committed.
func (s *Scheduler) deliver(ctx context.Context, e Effect, state State) error {
	sessionID, err := s.resolveTarget(ctx, e.Target)
	if err != nil {
		return err
	}
	view := PendingView{View: ViewConversation, SessionID: sessionID, SetAt: e.At.UTC()}
	sess, err := s.sessions.DeliverMessage(ctx, sessionID, e.Text, func(tx store.Tx) error {
		if err := store.SaveJSON(ctx, tx, store.KeyPendingView, view); err != nil {
			return err
		}
		return SaveState(ctx, tx, state)
	})
	if err != nil {
		return err
	}
	msg := sess.LastMessage()

	if s.notifier != nil {
		s.notifier.Send(ctx, notify.Notification{
			Title:     s.opts.NotifyTitle,
			Body:      e.Text,
			SessionID: sessionID,
		})
	}
	if s.publisher != nil {
		s.publisher.Publish(bus.Event{
			Kind:      bus.EventAutonomousMessage,
			SessionID: sessionID,
			MessageID: msg.ID,
			Text:      msg.Text,
			RuleID:    e.RuleID,
			At:        e.At,
		})
	}

	logger.InfoCF("engage", "Autonomous message delivered", map[string]any{
		"rule":       e.RuleID,
		"kind":       string(e.Kind),
		"session_id": sessionID,
	})
	return nil
}

func (s *Scheduler) resolveTarget(ctx context.Context, target Target) (string, error) {
	switch target {
	case TargetTopic:
		sess, err := s.sessions.EnsureTitled(ctx, s.opts.TopicTitle, s.opts.TopicGreeting)
		if err != nil {
			return "", err
		}
		return sess.ID, nil
	default:
		return s.sessions.GetCurrent(ctx)
	}
}

// ConsumePendingView returns and clears the deep-link written by the
// scheduler.
func ConsumePendingView(ctx context.Context, st store.Store) (PendingView, bool, error) {
	var view PendingView
	found := false
	err := st.Update(ctx, func(tx store.Tx) error {
		v, err := store.LoadJSON[PendingView](ctx, tx, store.KeyPendingView)
		if err != nil {
			return err
		}
		if v.SessionID == "" {
			return nil
		}
		view, found = v, true
		return tx.Delete(ctx, store.KeyPendingView)
	})
	if err != nil {
		return PendingView{}, false, fmt.Errorf("consume pending view: %w", err)
	}
	return view, found, nil
}
