package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dotsetgreg/dotcompanion/pkg/bus"
	"github.com/dotsetgreg/dotcompanion/pkg/chat"
	"github.com/dotsetgreg/dotcompanion/pkg/config"
	"github.com/dotsetgreg/dotcompanion/pkg/engage"
	"github.com/dotsetgreg/dotcompanion/pkg/logger"
	"github.com/dotsetgreg/dotcompanion/pkg/memory"
	"github.com/dotsetgreg/dotcompanion/pkg/notify"
	"github.com/dotsetgreg/dotcompanion/pkg/providers"
	"github.com/dotsetgreg/dotcompanion/pkg/session"
	"github.com/dotsetgreg/dotcompanion/pkg/store"
)

// app is the assembled runtime shared by serve, chat and the data commands.
type app struct {
	cfg          *config.Config
	store        store.Store
	sessions     *session.Repository
	memory       *memory.Aggregator
	bus          *bus.MessageBus
	notifier     *notify.Dispatcher
	scheduler    *engage.Scheduler
	conversation *chat.Conversation
	rulesPath    string
}

func openStore(cfg *config.Config) (store.Store, error) {
	if cfg.Storage.Driver == "memory" {
		return store.NewMemoryStore(), nil
	}
	return store.NewSQLiteStore(cfg.StoragePath())
}

func newNotifyHost(cfg *config.Config) (notify.Host, error) {
	if !cfg.Notify.Enabled {
		return notify.NopHost{}, nil
	}
	switch cfg.Notify.Host {
	case "discord":
		return notify.NewDiscordHost(cfg.Notify.Discord.Token, cfg.Notify.Discord.UserID)
	case "none":
		return notify.NopHost{}, nil
	default:
		return notify.LogHost{}, nil
	}
}

// loadRules returns the configured rule table, falling back to the built-in
// defaults when no rules file is set.
func loadRules(cfg *config.Config) ([]engage.Rule, string, error) {
	path := cfg.RulesPath()
	if path == "" {
		return engage.DefaultRules(), "", nil
	}
	rules, err := engage.LoadRulesFile(path)
	if err != nil {
		return nil, path, err
	}
	return rules, path, nil
}

// openApp wires every component. A missing provider key leaves
// conversation nil; everything else still works.
func openApp(cfg *config.Config) (*app, error) {
	st, err := openStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	a := &app{cfg: cfg, store: st}
	a.sessions = session.NewRepository(st, session.Options{
		SeedGreeting:     cfg.Companion.Greeting,
		PlaceholderTitle: cfg.Companion.PlaceholderTitle,
		TitleMaxRunes:    cfg.Companion.TitleMaxRunes,
	})
	a.memory = memory.NewAggregator(a.sessions, memory.Options{
		DigestMessages: cfg.Memory.DigestMessages,
		MaxBytes:       cfg.Memory.MaxBytes,
	})
	a.bus = bus.NewMessageBus()

	host, err := newNotifyHost(cfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("notification host: %w", err)
	}
	a.notifier = notify.NewDispatcher(host, cfg.Notify.Icon)

	companion, err := cfg.CompanionLocation()
	if err != nil {
		a.Close()
		return nil, err
	}
	device, err := cfg.MarkerLocation()
	if err != nil {
		a.Close()
		return nil, err
	}
	rules, rulesPath, err := loadRules(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.rulesPath = rulesPath

	a.scheduler, err = engage.NewScheduler(st, a.sessions, a.notifier, a.bus, engage.Options{
		Rules:          rules,
		Companion:      companion,
		Device:         device,
		TickInterval:   time.Duration(cfg.Scheduler.TickSeconds) * time.Second,
		TopicTitle:     cfg.Companion.TopicTitle,
		TopicGreeting:  cfg.Companion.TopicGreeting,
		NotifyTitle:    cfg.Companion.Name,
		ForegroundOnly: cfg.Scheduler.ForegroundOnly,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("scheduler: %w", err)
	}

	persona, err := chat.LoadPersona(cfg.PersonaPath())
	if err != nil {
		a.Close()
		return nil, err
	}
	provider, err := providers.CreateProvider(cfg)
	switch {
	case errors.Is(err, providers.ErrMissingAPIKey):
		logger.WarnCF("cli", "No provider key configured; chat replies are disabled", nil)
	case err != nil:
		a.Close()
		return nil, err
	default:
		a.conversation = chat.NewConversation(a.sessions, a.memory, provider, a.scheduler, a.bus, chat.Options{
			Persona:     persona,
			Notifier:    a.notifier,
			NotifyTitle: cfg.Companion.Name,
		})
	}

	return a, nil
}

// currentSession reconciles and returns the current session id.
func (a *app) currentSession(ctx context.Context) (string, error) {
	return a.sessions.Reconcile(ctx)
}

// resolveSession accepts a full id or a unique prefix of one.
func (a *app) resolveSession(ctx context.Context, ref string) (session.Session, error) {
	ref = strings.TrimSpace(ref)
	all, err := a.sessions.LoadAll(ctx)
	if err != nil {
		return session.Session{}, err
	}
	var match []session.Session
	for _, s := range all {
		if s.ID == ref {
			return s, nil
		}
		if ref != "" && strings.HasPrefix(s.ID, ref) {
			match = append(match, s)
		}
	}
	switch len(match) {
	case 1:
		return match[0], nil
	case 0:
		return session.Session{}, fmt.Errorf("%w: %s", session.ErrSessionNotFound, ref)
	default:
		return session.Session{}, fmt.Errorf("session prefix %q is ambiguous (%d matches)", ref, len(match))
	}
}

func (a *app) Close() {
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if a.bus != nil {
		a.bus.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.WarnCF("cli", "Failed to close store", map[string]any{"error": err.Error()})
		}
	}
}
