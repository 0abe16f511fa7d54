package navguard

import (
	"testing"
	"time"
)

func TestGuard_BackFromConversationShowsList(t *testing.T) {
	g := New(Options{})
	now := time.Unix(1_000, 0)

	if pos := g.Navigate("conversation"); pos != Elsewhere {
		t.Fatalf("expected elsewhere, got %s", pos)
	}
	if d := g.Back(now); d != ShowList {
		t.Fatalf("expected show_list, got %s", d)
	}
	if g.Position() != AtTop || g.View() != ViewList {
		t.Fatalf("expected list at top, got %s/%s", g.View(), g.Position())
	}
}

func TestGuard_DoubleBackWithinWindowExits(t *testing.T) {
	g := New(Options{})
	now := time.Unix(1_000, 0)

	if d := g.Back(now); d != ShowHint {
		t.Fatalf("first back at top: expected show_hint, got %s", d)
	}
	if !g.HintVisible(now.Add(1500 * time.Millisecond)) {
		t.Fatalf("hint should be visible inside the window")
	}
	if d := g.Back(now.Add(1500 * time.Millisecond)); d != Exit {
		t.Fatalf("second back inside window: expected exit, got %s", d)
	}
}

func TestGuard_SlowSecondBackRearms(t *testing.T) {
	g := New(Options{})
	now := time.Unix(1_000, 0)

	g.Back(now)
	if g.HintVisible(now.Add(2 * time.Second)) {
		t.Fatalf("hint must disappear after the window")
	}
	if d := g.Back(now.Add(2 * time.Second)); d != ShowHint {
		t.Fatalf("back at window edge: expected show_hint, got %s", d)
	}
	if d := g.Back(now.Add(3 * time.Second)); d != Exit {
		t.Fatalf("back after re-arm: expected exit, got %s", d)
	}
}

func TestGuard_ReturningToListRearms(t *testing.T) {
	g := New(Options{})
	now := time.Unix(1_000, 0)

	g.Back(now)
	g.Navigate("conversation")
	if d := g.Back(now.Add(500 * time.Millisecond)); d != ShowList {
		t.Fatalf("expected show_list, got %s", d)
	}
	if d := g.Back(now.Add(time.Second)); d != ShowHint {
		t.Fatalf("guard must be re-armed after returning to list, got %s", d)
	}
}

func TestGuard_NavigateBackToListRearms(t *testing.T) {
	g := New(Options{})
	now := time.Unix(1_000, 0)

	g.Navigate("conversation")
	if d := g.Back(now); d != ShowList {
		t.Fatalf("expected show_list, got %s", d)
	}
	if d := g.Back(now.Add(200 * time.Millisecond)); d != ShowHint {
		t.Fatalf("expected show_hint at list, got %s", d)
	}
	g.Navigate("conversation")
	if pos := g.Navigate(ViewList); pos != AtTop {
		t.Fatalf("expected list at top, got %s", pos)
	}
	if g.HintVisible(now.Add(time.Second)) {
		t.Fatalf("hint must clear once the user navigates away")
	}
	if d := g.Back(now.Add(time.Second)); d != ShowHint {
		t.Fatalf("single back after navigating to the list must not exit, got %s", d)
	}
}

func TestGuard_CustomTopViews(t *testing.T) {
	g := New(Options{Window: time.Second, TopViews: []string{" Gallery "}})
	if pos := g.Navigate("gallery"); pos != AtTop {
		t.Fatalf("expected gallery to be top level, got %s", pos)
	}
	now := time.Unix(1_000, 0)
	g.Back(now)
	if d := g.Back(now.Add(1100 * time.Millisecond)); d != ShowHint {
		t.Fatalf("custom window not honored, got %s", d)
	}
	if pos := g.Navigate(""); pos != AtTop || g.View() != ViewList {
		t.Fatalf("empty view should resolve to list, got %s/%s", g.View(), pos)
	}
}
