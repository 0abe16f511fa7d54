package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Companion CompanionConfig `json:"companion"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Memory    MemoryConfig    `json:"memory"`
	Notify    NotifyConfig    `json:"notify"`
	Providers ProvidersConfig `json:"providers"`
	Gateway   GatewayConfig   `json:"gateway"`
	Storage   StorageConfig   `json:"storage"`
	Logging   LoggingConfig   `json:"logging"`
	mu        sync.RWMutex
}

type CompanionConfig struct {
	Name             string `json:"name" env:"DOTCOMPANION_COMPANION_NAME"`
	Timezone         string `json:"timezone" env:"DOTCOMPANION_COMPANION_TIMEZONE"`
	Workspace        string `json:"workspace" env:"DOTCOMPANION_COMPANION_WORKSPACE"`
	Greeting         string `json:"greeting" env:"DOTCOMPANION_COMPANION_GREETING"`
	PlaceholderTitle string `json:"placeholder_title" env:"DOTCOMPANION_COMPANION_PLACEHOLDER_TITLE"`
	TitleMaxRunes    int    `json:"title_max_runes" env:"DOTCOMPANION_COMPANION_TITLE_MAX_RUNES"`
	TopicTitle       string `json:"topic_title" env:"DOTCOMPANION_COMPANION_TOPIC_TITLE"`
	TopicGreeting    string `json:"topic_greeting" env:"DOTCOMPANION_COMPANION_TOPIC_GREETING"`
}

type SchedulerConfig struct {
	Enabled        bool   `json:"enabled" env:"DOTCOMPANION_SCHEDULER_ENABLED"`
	TickSeconds    int    `json:"tick_seconds" env:"DOTCOMPANION_SCHEDULER_TICK_SECONDS"`
	RulesFile      string `json:"rules_file" env:"DOTCOMPANION_SCHEDULER_RULES_FILE"`
	ForegroundOnly bool   `json:"foreground_only" env:"DOTCOMPANION_SCHEDULER_FOREGROUND_ONLY"`
	// MarkerDayZone selects whose calendar day keys once-per-day markers:
	// "device" or "companion".
	MarkerDayZone  string `json:"marker_day_zone" env:"DOTCOMPANION_SCHEDULER_MARKER_DAY_ZONE"`
	DeviceTimezone string `json:"device_timezone,omitempty" env:"DOTCOMPANION_SCHEDULER_DEVICE_TIMEZONE"`
}

type MemoryConfig struct {
	DigestMessages int `json:"digest_messages" env:"DOTCOMPANION_MEMORY_DIGEST_MESSAGES"`
	MaxBytes       int `json:"max_bytes" env:"DOTCOMPANION_MEMORY_MAX_BYTES"`
}

type NotifyConfig struct {
	Enabled bool `json:"enabled" env:"DOTCOMPANION_NOTIFY_ENABLED"`
	// Host is "log", "discord" or "none".
	Host    string        `json:"host" env:"DOTCOMPANION_NOTIFY_HOST"`
	Icon    string        `json:"icon,omitempty" env:"DOTCOMPANION_NOTIFY_ICON"`
	Discord DiscordConfig `json:"discord"`
}

type DiscordConfig struct {
	Token  string `json:"token" env:"DOTCOMPANION_NOTIFY_DISCORD_TOKEN"`
	UserID string `json:"user_id" env:"DOTCOMPANION_NOTIFY_DISCORD_USER_ID"`
}

type ProvidersConfig struct {
	OpenAICompat ProviderConfig `json:"openai_compat"`
}

type ProviderConfig struct {
	APIKey         string  `json:"api_key" env:"DOTCOMPANION_PROVIDERS_OPENAI_COMPAT_API_KEY"`
	APIBase        string  `json:"api_base" env:"DOTCOMPANION_PROVIDERS_OPENAI_COMPAT_API_BASE"`
	Model          string  `json:"model" env:"DOTCOMPANION_PROVIDERS_OPENAI_COMPAT_MODEL"`
	Temperature    float64 `json:"temperature" env:"DOTCOMPANION_PROVIDERS_OPENAI_COMPAT_TEMPERATURE"`
	MaxTokens      int     `json:"max_tokens" env:"DOTCOMPANION_PROVIDERS_OPENAI_COMPAT_MAX_TOKENS"`
	TimeoutSeconds int     `json:"timeout_seconds" env:"DOTCOMPANION_PROVIDERS_OPENAI_COMPAT_TIMEOUT_SECONDS"`
	Proxy          string  `json:"proxy,omitempty" env:"DOTCOMPANION_PROVIDERS_OPENAI_COMPAT_PROXY"`
}

type GatewayConfig struct {
	Host   string `json:"host" env:"DOTCOMPANION_GATEWAY_HOST"`
	Port   int    `json:"port" env:"DOTCOMPANION_GATEWAY_PORT"`
	APIKey string `json:"api_key,omitempty" env:"DOTCOMPANION_GATEWAY_API_KEY"`
}

type StorageConfig struct {
	// Driver is "sqlite" or "memory".
	Driver string `json:"driver" env:"DOTCOMPANION_STORAGE_DRIVER"`
	Path   string `json:"path,omitempty" env:"DOTCOMPANION_STORAGE_PATH"`
}

type LoggingConfig struct {
	Level string `json:"level" env:"DOTCOMPANION_LOGGING_LEVEL"`
}

func DefaultConfig() *Config {
	return &Config{
		Companion: CompanionConfig{
			Name:             "Donia",
			Timezone:         "Africa/Cairo",
			Workspace:        "~/.dotcompanion/workspace",
			Greeting:         "Hey you! I missed you. What's on your mind today?",
			PlaceholderTitle: "New Chat",
			TitleMaxRunes:    30,
			TopicTitle:       "Random Topics",
			TopicGreeting:    "This is our random-topics corner. I'll drop ideas here when you're quiet for a while.",
		},
		Scheduler: SchedulerConfig{
			Enabled:       true,
			TickSeconds:   60,
			MarkerDayZone: "device",
		},
		Memory: MemoryConfig{
			DigestMessages: 5,
			MaxBytes:       12000,
		},
		Notify: NotifyConfig{
			Enabled: true,
			Host:    "log",
		},
		Providers: ProvidersConfig{
			OpenAICompat: ProviderConfig{
				APIBase:        "https://api.groq.com/openai/v1",
				Model:          "llama-3.3-70b-versatile",
				Temperature:    0.8,
				MaxTokens:      1024,
				TimeoutSeconds: 120,
			},
		},
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 18791,
		},
		Storage: StorageConfig{
			Driver: "sqlite",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig reads path over the defaults, then applies DOTCOMPANION_*
// environment overrides. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnv overlays DOTCOMPANION_* environment variables onto cfg.
func ApplyEnv(cfg *Config) error {
	cfg.mu.Lock()
	defer cfg.mu.Unlock()
	return env.Parse(cfg)
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Validate reports every setting that would make the runtime fail.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var errs []error
	if _, err := time.LoadLocation(c.Companion.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("companion.timezone: %w", err))
	}
	if tz := strings.TrimSpace(c.Scheduler.DeviceTimezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.device_timezone: %w", err))
		}
	}
	switch c.Scheduler.MarkerDayZone {
	case "device", "companion":
	default:
		errs = append(errs, fmt.Errorf("scheduler.marker_day_zone must be device or companion, got %q", c.Scheduler.MarkerDayZone))
	}
	if c.Scheduler.TickSeconds < 1 {
		errs = append(errs, fmt.Errorf("scheduler.tick_seconds must be positive"))
	}
	switch c.Notify.Host {
	case "log", "none":
	case "discord":
		if strings.TrimSpace(c.Notify.Discord.Token) == "" || strings.TrimSpace(c.Notify.Discord.UserID) == "" {
			errs = append(errs, fmt.Errorf("notify.discord needs token and user_id"))
		}
	default:
		errs = append(errs, fmt.Errorf("notify.host must be log, discord or none, got %q", c.Notify.Host))
	}
	switch c.Storage.Driver {
	case "sqlite", "memory":
	default:
		errs = append(errs, fmt.Errorf("storage.driver must be sqlite or memory, got %q", c.Storage.Driver))
	}
	if c.Gateway.Port < 0 || c.Gateway.Port > 65535 {
		errs = append(errs, fmt.Errorf("gateway.port out of range: %d", c.Gateway.Port))
	}
	if t := c.Providers.OpenAICompat.Temperature; t < 0 || t > 2 {
		errs = append(errs, fmt.Errorf("providers.openai_compat.temperature out of range: %v", t))
	}
	return errors.Join(errs...)
}

func (c *Config) WorkspacePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Companion.Workspace)
}

// StoragePath is the SQLite file, defaulting to state/companion.db inside
// the workspace.
func (c *Config) StoragePath() string {
	c.mu.RLock()
	path := c.Storage.Path
	c.mu.RUnlock()
	if strings.TrimSpace(path) != "" {
		return expandHome(path)
	}
	return filepath.Join(c.WorkspacePath(), "state", "companion.db")
}

// RulesPath resolves scheduler.rules_file relative to the workspace.
func (c *Config) RulesPath() string {
	c.mu.RLock()
	path := strings.TrimSpace(c.Scheduler.RulesFile)
	c.mu.RUnlock()
	if path == "" {
		return ""
	}
	path = expandHome(path)
	if !filepath.IsAbs(path) {
		path = filepath.Join(c.WorkspacePath(), path)
	}
	return path
}

// PersonaPath is the optional persona prompt file in the workspace.
func (c *Config) PersonaPath() string {
	return filepath.Join(c.WorkspacePath(), "PERSONA.md")
}

func (c *Config) CompanionLocation() (*time.Location, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.LoadLocation(c.Companion.Timezone)
}

// MarkerLocation is the zone whose calendar day keys fixed-rule markers.
func (c *Config) MarkerLocation() (*time.Location, error) {
	c.mu.RLock()
	zone := c.Scheduler.MarkerDayZone
	device := strings.TrimSpace(c.Scheduler.DeviceTimezone)
	c.mu.RUnlock()
	if zone == "companion" {
		return c.CompanionLocation()
	}
	if device != "" {
		return time.LoadLocation(device)
	}
	return time.Local, nil
}

func (c *Config) GetAPIKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Providers.OpenAICompat.APIKey
}

func (c *Config) GetAPIBase() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Providers.OpenAICompat.APIBase != "" {
		return c.Providers.OpenAICompat.APIBase
	}
	return "https://api.groq.com/openai/v1"
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
