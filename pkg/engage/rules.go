package engage

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"gopkg.in/yaml.v3"
)

// Kind is the trigger class of a rule.
type Kind string

const (
	KindFixed Kind = "fixed"
	KindIdle  Kind = "idle"
)

// Target selects the session an effect is appended to.
type Target string

const (
	// TargetActive is the reconciled current session.
	TargetActive Target = "active"
	// TargetTopic is the dedicated topic session, found or created by title.
	TargetTopic Target = "topic"
)

var ErrInvalidRule = errors.New("invalid engagement rule")

// Rule is one row of the engagement table. Fixed rules use At (or Cron) and
// Text; idle rules use MinIdle, Probability, Cooldown and Pool.
type Rule struct {
	ID          string        `yaml:"id" json:"id"`
	Kind        Kind          `yaml:"kind" json:"kind"`
	At          string        `yaml:"at,omitempty" json:"at,omitempty"`
	Cron        string        `yaml:"cron,omitempty" json:"cron,omitempty"`
	Text        string        `yaml:"text,omitempty" json:"text,omitempty"`
	MinIdle     time.Duration `yaml:"min_idle,omitempty" json:"minIdle,omitempty"`
	Probability float64       `yaml:"probability,omitempty" json:"probability,omitempty"`
	Cooldown    time.Duration `yaml:"cooldown,omitempty" json:"cooldown,omitempty"`
	Pool        []string      `yaml:"pool,omitempty" json:"pool,omitempty"`
	Target      Target        `yaml:"target,omitempty" json:"target,omitempty"`
}

// DefaultRules is the built-in table: three daily greetings to the active
// session, an idle check-in and a topic starter.
func DefaultRules() []Rule {
	return []Rule{
		{ID: "morning", Kind: KindFixed, At: "07:00", Target: TargetActive,
			Text: "Good morning, sleepyhead! Did you sleep well?"},
		{ID: "lunch", Kind: KindFixed, At: "14:00", Target: TargetActive,
			Text: "Lunch break! Promise me you'll eat something proper today."},
		{ID: "night", Kind: KindFixed, At: "23:00", Target: TargetActive,
			Text: "It's getting late. Get some rest and tell me all about tomorrow."},
		{
			ID: "idle-checkin", Kind: KindIdle, Target: TargetActive,
			MinIdle: 60 * time.Minute, Probability: 0.05, Cooldown: 3 * time.Hour,
			Pool: []string{
				"Hey, where did you disappear to?",
				"I was just thinking about you. How's it going?",
				"Busy day? Tell me about it when you get a minute.",
			},
		},
		{
			ID: "topic-spark", Kind: KindIdle, Target: TargetTopic,
			MinIdle: 90 * time.Minute, Probability: 0.10, Cooldown: 4 * time.Hour,
			Pool: []string{
				"Random thought: if you could master one skill overnight, what would it be?",
				"Quick question: what's the best thing that happened to you this week?",
				"Be honest, what's a tiny thing that always makes your day better?",
			},
		},
	}
}

// CronExpr returns the 5-field cron expression of a fixed rule.
func (r Rule) CronExpr() (string, error) {
	if strings.TrimSpace(r.Cron) != "" {
		return strings.TrimSpace(r.Cron), nil
	}
	hour, minute, err := parseClock(r.At)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d %d * * *", minute, hour), nil
}

func parseClock(at string) (int, int, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(at), ":")
	if !ok {
		return 0, 0, fmt.Errorf("%w: time %q is not HH:MM", ErrInvalidRule, at)
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("%w: hour in %q", ErrInvalidRule, at)
	}
	minute, err := strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("%w: minute in %q", ErrInvalidRule, at)
	}
	return hour, minute, nil
}

// Validate checks one rule in isolation.
func (r Rule) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidRule)
	}
	if strings.Contains(r.ID, "|") {
		return fmt.Errorf("%w: id %q contains '|'", ErrInvalidRule, r.ID)
	}
	switch r.Target {
	case TargetActive, TargetTopic:
	default:
		return fmt.Errorf("%w: rule %s has unknown target %q", ErrInvalidRule, r.ID, r.Target)
	}

	switch r.Kind {
	case KindFixed:
		expr, err := r.CronExpr()
		if err != nil {
			return fmt.Errorf("rule %s: %w", r.ID, err)
		}
		if !gronx.New().IsValid(expr) {
			return fmt.Errorf("%w: rule %s has invalid cron %q", ErrInvalidRule, r.ID, expr)
		}
		if strings.TrimSpace(r.Text) == "" {
			return fmt.Errorf("%w: rule %s has no text", ErrInvalidRule, r.ID)
		}
	case KindIdle:
		if r.MinIdle <= 0 {
			return fmt.Errorf("%w: rule %s needs a positive min_idle", ErrInvalidRule, r.ID)
		}
		if r.Probability < 0 || r.Probability > 1 {
			return fmt.Errorf("%w: rule %s probability must be within [0,1]", ErrInvalidRule, r.ID)
		}
		if r.Cooldown < 0 {
			return fmt.Errorf("%w: rule %s has a negative cooldown", ErrInvalidRule, r.ID)
		}
		if len(r.Pool) == 0 {
			return fmt.Errorf("%w: rule %s has an empty pool", ErrInvalidRule, r.ID)
		}
	default:
		return fmt.Errorf("%w: rule %s has unknown kind %q", ErrInvalidRule, r.ID, r.Kind)
	}
	return nil
}

// ValidateRules checks every rule and that ids are unique.
func ValidateRules(rules []Rule) error {
	seen := make(map[string]struct{}, len(rules))
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return err
		}
		if _, dup := seen[r.ID]; dup {
			return fmt.Errorf("%w: duplicate id %q", ErrInvalidRule, r.ID)
		}
		seen[r.ID] = struct{}{}
	}
	return nil
}

type rulesFile struct {
	Rules []Rule `yaml:"rules"`
}

// ParseRules decodes a YAML rule table. Durations use Go syntax ("90m").
// A missing target defaults to the active session.
func ParseRules(data []byte) ([]Rule, error) {
	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	for i := range f.Rules {
		if f.Rules[i].Target == "" {
			f.Rules[i].Target = TargetActive
		}
	}
	if err := ValidateRules(f.Rules); err != nil {
		return nil, err
	}
	return f.Rules, nil
}

// LoadRulesFile reads a YAML rule table from path.
func LoadRulesFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	return ParseRules(data)
}

// MarshalRules renders rules in the format ParseRules accepts.
func MarshalRules(rules []Rule) ([]byte, error) {
	return yaml.Marshal(rulesFile{Rules: rules})
}
