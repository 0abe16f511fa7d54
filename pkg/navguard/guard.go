// Package navguard resolves back gestures against the view stack: back from
// any view returns to the session list, and leaving the app from the list
// needs two presses within a short window.
package navguard

import (
	"strings"
	"sync"
	"time"
)

const (
	DefaultWindow = 2 * time.Second
	// ViewList is the top-level session list.
	ViewList = "list"
)

type Position int

const (
	AtTop Position = iota
	Elsewhere
)

func (p Position) String() string {
	if p == AtTop {
		return "at_top"
	}
	return "elsewhere"
}

// Decision is what the UI should do with a back gesture.
type Decision string

const (
	// ShowList navigates to the top-level list.
	ShowList Decision = "show_list"
	// ShowHint keeps the app open and shows "press again to exit".
	ShowHint Decision = "show_hint"
	// Exit lets the gesture close the app.
	Exit Decision = "exit"
)

type Options struct {
	Window time.Duration
	// TopViews are the views that count as top level. ViewList is always
	// included.
	TopViews []string
}

type Guard struct {
	window time.Duration
	top    map[string]struct{}

	mu        sync.Mutex
	view      string
	pos       Position
	lastBack  time.Time
	hintUntil time.Time
}

func New(opts Options) *Guard {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	top := map[string]struct{}{ViewList: {}}
	for _, v := range opts.TopViews {
		if v = normalizeView(v); v != "" {
			top[v] = struct{}{}
		}
	}
	return &Guard{window: opts.Window, top: top, view: ViewList, pos: AtTop}
}

func normalizeView(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

// Navigate records a view transition made by the UI. Moving to another view
// disarms any pending exit press.
func (g *Guard) Navigate(view string) Position {
	view = normalizeView(view)
	if view == "" {
		view = ViewList
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if view != g.view {
		// A pending exit press only counts against the view it was made on.
		g.lastBack = time.Time{}
		g.hintUntil = time.Time{}
	}
	g.view = view
	if _, ok := g.top[view]; ok {
		g.pos = AtTop
	} else {
		g.pos = Elsewhere
	}
	return g.pos
}

// Back resolves one back gesture made at now.
func (g *Guard) Back(now time.Time) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.pos == Elsewhere {
		g.pos = AtTop
		g.view = ViewList
		g.lastBack = time.Time{}
		g.hintUntil = time.Time{}
		return ShowList
	}

	if !g.lastBack.IsZero() && now.Sub(g.lastBack) < g.window {
		g.lastBack = time.Time{}
		g.hintUntil = time.Time{}
		return Exit
	}
	g.lastBack = now
	g.hintUntil = now.Add(g.window)
	return ShowHint
}

// HintVisible reports whether the exit hint is still showing at now.
func (g *Guard) HintVisible(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.hintUntil.IsZero() && now.Before(g.hintUntil)
}

func (g *Guard) Position() Position {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pos
}

func (g *Guard) View() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.view
}
