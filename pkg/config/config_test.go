package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// TestDefaultConfig_Companion verifies companion defaults
func TestDefaultConfig_Companion(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Companion.Timezone != "Africa/Cairo" {
		t.Errorf("expected Africa/Cairo, got %q", cfg.Companion.Timezone)
	}
	if cfg.Companion.PlaceholderTitle == "" {
		t.Error("PlaceholderTitle should not be empty")
	}
	if cfg.Companion.TitleMaxRunes != 30 {
		t.Error("Expected TitleMaxRunes 30, got ", cfg.Companion.TitleMaxRunes)
	}
	if cfg.Companion.TopicTitle == "" || cfg.Companion.TopicGreeting == "" {
		t.Error("topic session defaults should be set")
	}
}

// TestDefaultConfig_Provider verifies the OpenAI-compatible defaults
func TestDefaultConfig_Provider(t *testing.T) {
	cfg := DefaultConfig()
	p := cfg.Providers.OpenAICompat

	if p.APIKey != "" {
		t.Error("API key should be empty by default")
	}
	if p.Model != "llama-3.3-70b-versatile" {
		t.Errorf("unexpected default model %q", p.Model)
	}
	if p.Temperature != 0.8 {
		t.Errorf("unexpected default temperature %v", p.Temperature)
	}
	if p.MaxTokens != 1024 {
		t.Errorf("unexpected default max tokens %d", p.MaxTokens)
	}
	if cfg.GetAPIBase() != "https://api.groq.com/openai/v1" {
		t.Errorf("unexpected api base %q", cfg.GetAPIBase())
	}
}

// TestDefaultConfig_Scheduler verifies scheduler defaults
func TestDefaultConfig_Scheduler(t *testing.T) {
	cfg := DefaultConfig()

	if !cfg.Scheduler.Enabled {
		t.Error("Scheduler should be enabled by default")
	}
	if cfg.Scheduler.TickSeconds != 60 {
		t.Error("Expected TickSeconds 60, got ", cfg.Scheduler.TickSeconds)
	}
	if cfg.Scheduler.MarkerDayZone != "device" {
		t.Errorf("expected device marker zone, got %q", cfg.Scheduler.MarkerDayZone)
	}
}

func TestDefaultConfig_Validates(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Companion.Timezone = "Mars/Olympus"
	cfg.Scheduler.MarkerDayZone = "utc"
	cfg.Notify.Host = "discord"
	cfg.Storage.Driver = "postgres"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"companion.timezone", "marker_day_zone", "notify.discord", "storage.driver"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestSaveConfig_FilePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file permission bits are not enforced on Windows")
	}

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")

	cfg := DefaultConfig()
	if err := SaveConfig(path, cfg); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}

	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("config file has permission %04o, want 0600", perm)
	}
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := `{"companion":{"name":"Mira","timezone":"Europe/Berlin"},"memory":{"digest_messages":8}}`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Companion.Name != "Mira" || cfg.Companion.Timezone != "Europe/Berlin" {
		t.Fatalf("file values not applied: %+v", cfg.Companion)
	}
	if cfg.Memory.DigestMessages != 8 {
		t.Fatalf("expected digest 8, got %d", cfg.Memory.DigestMessages)
	}
	if cfg.Memory.MaxBytes != 12000 {
		t.Fatalf("unset field should keep default, got %d", cfg.Memory.MaxBytes)
	}
}

func TestLoadConfig_EnvOverridesWithoutFile(t *testing.T) {
	t.Setenv("DOTCOMPANION_PROVIDERS_OPENAI_COMPAT_MODEL", "env/model")
	t.Setenv("DOTCOMPANION_PROVIDERS_OPENAI_COMPAT_API_KEY", "gsk-test")
	t.Setenv("DOTCOMPANION_SCHEDULER_FOREGROUND_ONLY", "true")
	path := filepath.Join(t.TempDir(), "missing-config.json")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if got := cfg.Providers.OpenAICompat.Model; got != "env/model" {
		t.Fatalf("expected env override model, got %q", got)
	}
	if got := cfg.GetAPIKey(); got != "gsk-test" {
		t.Fatalf("expected api key from env, got %q", got)
	}
	if !cfg.Scheduler.ForegroundOnly {
		t.Fatal("expected foreground_only from env")
	}
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{"), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestPaths_ResolveAgainstWorkspace(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Companion.Workspace = "/srv/companion"
	cfg.Scheduler.RulesFile = "rules.yaml"

	if got := cfg.StoragePath(); got != filepath.Join("/srv/companion", "state", "companion.db") {
		t.Errorf("unexpected storage path %q", got)
	}
	if got := cfg.RulesPath(); got != filepath.Join("/srv/companion", "rules.yaml") {
		t.Errorf("unexpected rules path %q", got)
	}
	cfg.Scheduler.RulesFile = "/etc/rules.yaml"
	if got := cfg.RulesPath(); got != "/etc/rules.yaml" {
		t.Errorf("absolute rules path should be kept, got %q", got)
	}
	cfg.Scheduler.RulesFile = ""
	if got := cfg.RulesPath(); got != "" {
		t.Errorf("expected no rules path, got %q", got)
	}
	if got := cfg.PersonaPath(); got != filepath.Join("/srv/companion", "PERSONA.md") {
		t.Errorf("unexpected persona path %q", got)
	}
}

func TestMarkerLocation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Scheduler.MarkerDayZone = "companion"
	loc, err := cfg.MarkerLocation()
	if err != nil {
		t.Fatalf("MarkerLocation: %v", err)
	}
	if loc.String() != "Africa/Cairo" {
		t.Fatalf("expected companion zone, got %s", loc)
	}

	cfg.Scheduler.MarkerDayZone = "device"
	cfg.Scheduler.DeviceTimezone = "UTC"
	loc, err = cfg.MarkerLocation()
	if err != nil {
		t.Fatalf("MarkerLocation: %v", err)
	}
	if loc.String() != "UTC" {
		t.Fatalf("expected UTC, got %s", loc)
	}
}

func TestExpandHome(t *testing.T) {
	home, _ := os.UserHomeDir()
	if got := expandHome("~/x"); got != home+"/x" {
		t.Errorf("expandHome(~/x) = %q", got)
	}
	if got := expandHome("/abs"); got != "/abs" {
		t.Errorf("expandHome(/abs) = %q", got)
	}
}
