package engage

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dotsetgreg/dotcompanion/pkg/logger"
)

const defaultReloadDebounce = 300 * time.Millisecond

// RuleSink receives a freshly loaded rule table.
type RuleSink interface {
	SetRules(rules []Rule) error
}

// RulesWatcher reloads a YAML rule file into a sink whenever it changes on
// disk. An invalid file is logged and the previous table stays active.
type RulesWatcher struct {
	path     string
	sink     RuleSink
	watcher  *fsnotify.Watcher
	debounce time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

func NewRulesWatcher(path string, sink RuleSink) (*RulesWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve rules path: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RulesWatcher{
		path:     filepath.Clean(abs),
		sink:     sink,
		watcher:  watcher,
		debounce: defaultReloadDebounce,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start watches the file's directory, so editors that replace the file by
// rename are still seen.
func (w *RulesWatcher) Start() error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch rules directory: %w", err)
	}
	w.wg.Add(1)
	go w.eventLoop()
	logger.InfoCF("engage", "Watching rule file", map[string]any{"path": w.path})
	return nil
}

func (w *RulesWatcher) Stop() error {
	var err error
	w.once.Do(func() {
		w.cancel()
		err = w.watcher.Close()
		w.wg.Wait()
	})
	return err
}

// Reload reads the file and hands it to the sink.
func (w *RulesWatcher) Reload() error {
	rules, err := LoadRulesFile(w.path)
	if err != nil {
		return err
	}
	return w.sink.SetRules(rules)
}

func (w *RulesWatcher) eventLoop() {
	defer w.wg.Done()

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			if err := w.Reload(); err != nil {
				logger.WarnCF("engage", "Rule file rejected, keeping previous table", map[string]any{
					"path":  w.path,
					"error": err.Error(),
				})
				continue
			}
			logger.InfoCF("engage", "Rule file reloaded", map[string]any{"path": w.path})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.WarnCF("engage", "Watcher error", map[string]any{"error": err.Error()})
		}
	}
}
