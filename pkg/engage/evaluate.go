package engage

import (
	"time"

	"github.com/adhocore/gronx"
)

const dayLayout = "2006-01-02"

// Rand is the randomness source of idle rules. *math/rand.Rand satisfies it.
type Rand interface {
	Float64() float64
	Intn(n int) int
}

// Env carries the inputs of one evaluation that are not State.
type Env struct {
	Rules []Rule
	// Companion is the zone fixed-rule clock times are expressed in.
	Companion *time.Location
	// Device is the zone whose calendar day keys fixed-rule markers.
	Device *time.Location
	Rand   Rand
}

// Effect is one autonomous message the scheduler must deliver.
type Effect struct {
	RuleID    string
	Kind      Kind
	Target    Target
	Text      string
	At        time.Time
	MarkerKey string
}

// Evaluate decides which rules fire at now. It is pure: the returned State
// already records every firing and the input state is not modified.
//
// Fixed rules fire when now, read in the companion zone, matches the rule's
// cron expression and no marker exists for the device-local day. Idle rules
// are only eligible once the user has been idle longer than MinIdle and the
// cooldown since their last firing has elapsed; only then is a random draw
// made.
func Evaluate(state State, now time.Time, env Env) (State, []Effect) {
	next := state.Clone()
	companion := env.Companion
	if companion == nil {
		companion = time.UTC
	}
	device := env.Device
	if device == nil {
		device = time.Local
	}
	day := now.In(device).Format(dayLayout)
	g := gronx.New()

	var effects []Effect
	for _, r := range evaluationOrder(env.Rules) {
		switch r.Kind {
		case KindFixed:
			expr, err := r.CronExpr()
			if err != nil {
				continue
			}
			due, err := g.IsDue(expr, now.In(companion))
			if err != nil || !due {
				continue
			}
			key := markerKey(day, r.ID)
			if _, fired := next.Markers[key]; fired {
				continue
			}
			next.Markers[key] = now
			effects = append(effects, Effect{
				RuleID:    r.ID,
				Kind:      KindFixed,
				Target:    r.Target,
				Text:      r.Text,
				At:        now,
				MarkerKey: key,
			})

		case KindIdle:
			if len(r.Pool) == 0 || next.LastInteraction.IsZero() {
				continue
			}
			if now.Sub(next.LastInteraction) <= r.MinIdle {
				continue
			}
			if last, ok := next.LastFired[r.ID]; ok && now.Sub(last) < r.Cooldown {
				continue
			}
			if env.Rand == nil || env.Rand.Float64() >= r.Probability {
				continue
			}
			next.LastFired[r.ID] = now
			effects = append(effects, Effect{
				RuleID: r.ID,
				Kind:   KindIdle,
				Target: r.Target,
				Text:   r.Pool[env.Rand.Intn(len(r.Pool))],
				At:     now,
			})
		}
	}

	for k, at := range next.Markers {
		if now.Sub(at) > markerRetention {
			delete(next.Markers, k)
		}
	}
	return next, effects
}

// evaluationOrder returns rules grouped by class: fixed rules first, then
// idle rules targeting the active session, then topic rules. Table order is
// kept within each class.
func evaluationOrder(rules []Rule) []Rule {
	class := func(r Rule) int {
		switch {
		case r.Kind == KindFixed:
			return 0
		case r.Target == TargetTopic:
			return 2
		default:
			return 1
		}
	}
	ordered := make([]Rule, 0, len(rules))
	for c := 0; c <= 2; c++ {
		for _, r := range rules {
			if class(r) == c {
				ordered = append(ordered, r)
			}
		}
	}
	return ordered
}

// NextFixed returns the next time a fixed rule is due strictly after ref, in
// the companion zone.
func NextFixed(r Rule, ref time.Time, companion *time.Location) (time.Time, error) {
	expr, err := r.CronExpr()
	if err != nil {
		return time.Time{}, err
	}
	if companion == nil {
		companion = time.UTC
	}
	return gronx.NextTickAfter(expr, ref.In(companion), false)
}
