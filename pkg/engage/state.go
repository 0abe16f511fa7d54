package engage

import (
	"context"
	"fmt"
	"time"

	"github.com/dotsetgreg/dotcompanion/pkg/store"
)

// markerRetention bounds how long per-day fixed-rule markers are kept.
const markerRetention = 7 * 24 * time.Hour

// State is everything the evaluator needs from previous ticks.
type State struct {
	LastInteraction time.Time
	// Markers records fixed-rule firings, keyed "YYYY-MM-DD|ruleId".
	Markers map[string]time.Time
	// LastFired records the latest firing of each idle rule.
	LastFired map[string]time.Time
}

func (s State) Clone() State {
	out := State{
		LastInteraction: s.LastInteraction,
		Markers:         make(map[string]time.Time, len(s.Markers)),
		LastFired:       make(map[string]time.Time, len(s.LastFired)),
	}
	for k, v := range s.Markers {
		out.Markers[k] = v
	}
	for k, v := range s.LastFired {
		out.LastFired[k] = v
	}
	return out
}

// Revert undoes the bookkeeping e applied, restoring what prev held.
func (s *State) Revert(prev State, e Effect) {
	s.adopt(prev, e)
}

// adopt copies the marker or last-fired entry that e touches from src.
func (s *State) adopt(src State, e Effect) {
	switch e.Kind {
	case KindFixed:
		if at, ok := src.Markers[e.MarkerKey]; ok {
			s.Markers[e.MarkerKey] = at
		} else {
			delete(s.Markers, e.MarkerKey)
		}
	case KindIdle:
		if at, ok := src.LastFired[e.RuleID]; ok {
			s.LastFired[e.RuleID] = at
		} else {
			delete(s.LastFired, e.RuleID)
		}
	}
}

func markerKey(day, ruleID string) string {
	return day + "|" + ruleID
}

// LoadState reads the scheduler keys. Missing or unreadable values yield an
// empty state.
func LoadState(ctx context.Context, r store.Reader) (State, error) {
	last, err := store.LoadJSON[time.Time](ctx, r, store.KeyLastInteraction)
	if err != nil {
		return State{}, fmt.Errorf("load scheduler state: %w", err)
	}
	markers, err := store.LoadJSON[map[string]time.Time](ctx, r, store.KeyScheduleMarkers)
	if err != nil {
		return State{}, fmt.Errorf("load scheduler state: %w", err)
	}
	fired, err := store.LoadJSON[map[string]time.Time](ctx, r, store.KeyLastFired)
	if err != nil {
		return State{}, fmt.Errorf("load scheduler state: %w", err)
	}
	return State{LastInteraction: last, Markers: markers, LastFired: fired}.Clone(), nil
}

// SaveState writes the markers and last-fired keys. LastInteraction is owned
// by Touch and is not rewritten here, so a tick never clobbers a concurrent
// interaction.
func SaveState(ctx context.Context, w store.Writer, s State) error {
	if err := store.SaveJSON(ctx, w, store.KeyScheduleMarkers, s.Markers); err != nil {
		return fmt.Errorf("save scheduler state: %w", err)
	}
	if err := store.SaveJSON(ctx, w, store.KeyLastFired, s.LastFired); err != nil {
		return fmt.Errorf("save scheduler state: %w", err)
	}
	return nil
}
