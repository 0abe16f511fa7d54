package engage

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sinkRecorder struct {
	mu    sync.Mutex
	calls [][]Rule
}

func (s *sinkRecorder) SetRules(rules []Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, rules)
	return nil
}

func (s *sinkRecorder) last() ([]Rule, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.calls) == 0 {
		return nil, 0
	}
	return s.calls[len(s.calls)-1], len(s.calls)
}

func writeRules(t *testing.T, path string, rules []Rule) {
	t.Helper()
	data, err := MarshalRules(rules)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestRulesWatcher_ReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	writeRules(t, path, fixedOnly())

	sink := &sinkRecorder{}
	w, err := NewRulesWatcher(path, sink)
	require.NoError(t, err)
	w.debounce = 20 * time.Millisecond
	require.NoError(t, w.Start())
	defer w.Stop()

	writeRules(t, path, []Rule{{ID: "late", Kind: KindFixed, At: "01:00", Text: "still up?", Target: TargetActive}})

	require.Eventually(t, func() bool {
		rules, _ := sink.last()
		return len(rules) == 1 && rules[0].ID == "late"
	}, 3*time.Second, 20*time.Millisecond)
}

func TestRulesWatcher_InvalidFileKeepsPreviousTable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	writeRules(t, path, fixedOnly())

	sink := &sinkRecorder{}
	w, err := NewRulesWatcher(path, sink)
	require.NoError(t, err)
	w.debounce = 20 * time.Millisecond
	require.NoError(t, w.Reload())
	require.NoError(t, w.Start())

	require.NoError(t, os.WriteFile(path, []byte("rules: [broken"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x"), 0o644))
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, w.Stop())

	rules, calls := sink.last()
	assert.Equal(t, 1, calls)
	assert.Len(t, rules, 3)
}

func TestRulesWatcher_FeedsScheduler(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	writeRules(t, path, fixedOnly())

	h := newHarness(t, nil, Options{})
	w, err := NewRulesWatcher(path, h.sched)
	require.NoError(t, err)
	require.NoError(t, w.Reload())
	assert.Len(t, h.sched.Rules(), 3)
	require.NoError(t, w.Stop())
}
