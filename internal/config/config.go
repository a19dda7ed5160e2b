// Package config loads talkclaw runtime configuration from a TOML file, .env files and environment variables, exposing typed structs and accessors for all sections.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// HomeEnv names the environment variable that overrides the home directory.
const HomeEnv = "TALKCLAW_HOME"

// Config is the runtime configuration loaded from defaults, config.toml, and env vars.
type Config struct {
	// HomeDir is runtime-resolved from TALKCLAW_HOME and not read from config.
	HomeDir  string                       `mapstructure:"-"`
	Channels map[string]ChannelConfig     `mapstructure:"channels"`
	LLM      map[string]LLMProviderConfig `mapstructure:"llm"`
	Calendar CalendarConfig               `mapstructure:"calendar"`
	Persona  PersonaConfig                `mapstructure:"persona"`
	Flows    FlowsConfig                  `mapstructure:"flows"`
	Costs    CostsConfig                  `mapstructure:"costs"`
}

// ChannelConfig configures one inbound/outbound channel.
type ChannelConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Token   string `mapstructure:"token"`
}

// LLMProviderConfig configures one LLM provider profile.
type LLMProviderConfig struct {
	APIKey            string        `mapstructure:"api_key"`
	Provider          string        `mapstructure:"provider" validate:"required,oneof=anthropic openrouter"`
	Model             string        `mapstructure:"model" validate:"required"`
	MaxTokens         int           `mapstructure:"max_tokens" validate:"gte=0"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute" validate:"gte=0"`
}

// CalendarConfig controls event extraction and the local calendar.
type CalendarConfig struct {
	CalendarID   string        `mapstructure:"calendar_id" validate:"required"`
	Timezone     string        `mapstructure:"timezone" validate:"required"`
	ListLimit    int           `mapstructure:"list_limit" validate:"gt=0,lte=50"`
	Reminders    bool          `mapstructure:"reminders"`
	ReminderLead time.Duration `mapstructure:"reminder_lead" validate:"gte=0"`
}

// PersonaConfig controls persona chat prompt composition.
type PersonaConfig struct {
	HistoryLimit         int    `mapstructure:"history_limit" validate:"gt=0"`
	HistoryWindow        int    `mapstructure:"history_window" validate:"gt=0,ltefield=HistoryLimit"`
	MaxTokens            int    `mapstructure:"max_tokens" validate:"gt=0"`
	DevelopmentThreshold int    `mapstructure:"development_threshold" validate:"gte=0"`
	DefaultScene         string `mapstructure:"default_scene" validate:"required"`
}

// FlowsConfig bounds how long interactive flows wait for the next user message.
type FlowsConfig struct {
	CreateTimeout time.Duration `mapstructure:"create_timeout" validate:"gt=0"`
	DeleteTimeout time.Duration `mapstructure:"delete_timeout" validate:"gt=0"`
	BindTimeout   time.Duration `mapstructure:"bind_timeout" validate:"gt=0"`
}

// CostsConfig defines soft USD spending limits.
type CostsConfig struct {
	DailyLimit   float64 `mapstructure:"daily_limit" validate:"gte=0"`
	MonthlyLimit float64 `mapstructure:"monthly_limit" validate:"gte=0"`
}

var defaultConfig = Config{
	Channels: map[string]ChannelConfig{
		"telegram": {
			Enabled: false,
			Token:   "",
		},
	},
	LLM: map[string]LLMProviderConfig{
		"default": {
			APIKey:            "",
			Provider:          "anthropic",
			Model:             "claude-sonnet-4-6",
			MaxTokens:         2048,
			RequestTimeout:    30 * time.Second,
			RequestsPerMinute: 30,
		},
	},
	Calendar: CalendarConfig{
		CalendarID:   "primary",
		Timezone:     "Asia/Taipei",
		ListLimit:    5,
		Reminders:    true,
		ReminderLead: 10 * time.Minute,
	},
	Persona: PersonaConfig{
		HistoryLimit:         20,
		HistoryWindow:        5,
		MaxTokens:            300,
		DevelopmentThreshold: 50,
		DefaultScene:         "虛擬對話空間",
	},
	Flows: FlowsConfig{
		CreateTimeout: 120 * time.Second,
		DeleteTimeout: 30 * time.Second,
		BindTimeout:   60 * time.Second,
	},
}

// defaultUserConfig is the minimal bootstrap config written for first-time
// users. It contains only user-editable essentials.
var defaultUserConfig = Config{
	Channels: map[string]ChannelConfig{
		"telegram": {
			Enabled: false,
			Token:   "$TELEGRAM_BOT_TOKEN",
		},
	},
	LLM: map[string]LLMProviderConfig{
		"default": {
			APIKey:         "$ANTHROPIC_API_KEY",
			Provider:       "anthropic",
			Model:          "claude-sonnet-4-6",
			RequestTimeout: 30 * time.Second,
		},
	},
	Calendar: CalendarConfig{
		Timezone: "Asia/Taipei",
	},
}

// homeDir returns the talkclaw home directory.
// Uses TALKCLAW_HOME env var if set, otherwise defaults to ~/.talkclaw.
func homeDir() (string, error) {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return defaultHomePath(home), nil
}

// Load merges hardcoded defaults and config file values in that order.
// Values of the form $VAR are expanded after .env files in the home
// directory and the working directory have been loaded into the environment.
func Load() (*Config, error) {
	homeDir, err := homeDir()
	if err != nil {
		return nil, err
	}
	if err := loadDotEnv(homeDir); err != nil {
		return nil, err
	}

	v, err := newViper(homeDir)
	if err != nil {
		return nil, err
	}

	var cfg Config
	decodeHook := mapstructure.ComposeDecodeHookFunc(
		expandEnvStringHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)

	if err := v.Unmarshal(&cfg, func(c *mapstructure.DecoderConfig) {
		c.DecodeHook = decodeHook
	}); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.HomeDir = homeDir

	return &cfg, nil
}

// loadDotEnv loads .env files without overriding variables already set.
// Missing files are ignored.
func loadDotEnv(homeDir string) error {
	for _, path := range []string{filepath.Join(homeDir, DotEnvFilePath), DotEnvFilePath} {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

func newViper(homeDir string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(homeConfigPath(homeDir))
	v.SetConfigType("toml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}
	return v, nil
}

// Write writes the merged configuration (defaults overlaid by user
// config) to w in TOML format.
func Write(w io.Writer) error {
	if w == nil {
		return errors.New("writer is required")
	}

	homeDir, err := homeDir()
	if err != nil {
		return err
	}
	v, err := newViper(homeDir)
	if err != nil {
		return err
	}

	// Keep duration fields human-readable in generated TOML.
	for _, key := range []string{
		"llm.default.request_timeout",
		"calendar.reminder_lead",
		"flows.create_timeout",
		"flows.delete_timeout",
		"flows.bind_timeout",
	} {
		v.Set(key, v.GetDuration(key).String())
	}

	if err := v.WriteConfigTo(w); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// DefaultUserConfigTOML renders the minimal bootstrap user config as TOML.
func DefaultUserConfigTOML() (string, error) {
	v := viper.New()
	v.SetConfigType("toml")

	for profile, llm := range defaultUserConfig.LLM {
		v.Set("llm."+profile+".api_key", llm.APIKey)
		v.Set("llm."+profile+".provider", llm.Provider)
		v.Set("llm."+profile+".model", llm.Model)
		v.Set("llm."+profile+".request_timeout", llm.RequestTimeout.String())
	}
	for channel, ch := range defaultUserConfig.Channels {
		v.Set("channels."+channel+".enabled", ch.Enabled)
		v.Set("channels."+channel+".token", ch.Token)
	}
	v.Set("calendar.timezone", defaultUserConfig.Calendar.Timezone)

	var out bytes.Buffer
	if err := v.WriteConfigTo(&out); err != nil {
		return "", fmt.Errorf("write default user config: %w", err)
	}
	return out.String(), nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("channels.telegram.enabled", defaultConfig.Channels["telegram"].Enabled)
	v.SetDefault("channels.telegram.token", defaultConfig.Channels["telegram"].Token)

	llm := defaultConfig.LLM["default"]
	v.SetDefault("llm.default.api_key", llm.APIKey)
	v.SetDefault("llm.default.provider", llm.Provider)
	v.SetDefault("llm.default.model", llm.Model)
	v.SetDefault("llm.default.max_tokens", llm.MaxTokens)
	v.SetDefault("llm.default.request_timeout", llm.RequestTimeout)
	v.SetDefault("llm.default.requests_per_minute", llm.RequestsPerMinute)

	v.SetDefault("calendar.calendar_id", defaultConfig.Calendar.CalendarID)
	v.SetDefault("calendar.timezone", defaultConfig.Calendar.Timezone)
	v.SetDefault("calendar.list_limit", defaultConfig.Calendar.ListLimit)
	v.SetDefault("calendar.reminders", defaultConfig.Calendar.Reminders)
	v.SetDefault("calendar.reminder_lead", defaultConfig.Calendar.ReminderLead)

	v.SetDefault("persona.history_limit", defaultConfig.Persona.HistoryLimit)
	v.SetDefault("persona.history_window", defaultConfig.Persona.HistoryWindow)
	v.SetDefault("persona.max_tokens", defaultConfig.Persona.MaxTokens)
	v.SetDefault("persona.development_threshold", defaultConfig.Persona.DevelopmentThreshold)
	v.SetDefault("persona.default_scene", defaultConfig.Persona.DefaultScene)

	v.SetDefault("flows.create_timeout", defaultConfig.Flows.CreateTimeout)
	v.SetDefault("flows.delete_timeout", defaultConfig.Flows.DeleteTimeout)
	v.SetDefault("flows.bind_timeout", defaultConfig.Flows.BindTimeout)

	v.SetDefault("costs.daily_limit", defaultConfig.Costs.DailyLimit)
	v.SetDefault("costs.monthly_limit", defaultConfig.Costs.MonthlyLimit)
}

// DefaultLLM returns the default LLM profile with fallback defaults.
func (c *Config) DefaultLLM() LLMProviderConfig {
	if llm, ok := c.LLM["default"]; ok {
		return llm
	}
	return defaultConfig.LLM["default"]
}

// TelegramChannel returns Telegram channel config with fallback defaults.
func (c *Config) TelegramChannel() ChannelConfig {
	if ch, ok := c.Channels["telegram"]; ok {
		return ch
	}
	return defaultConfig.Channels["telegram"]
}

// Location resolves the configured calendar timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Calendar.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Calendar.Timezone, err)
	}
	return loc, nil
}

func expandEnvStringHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to.Kind() != reflect.String {
			return data, nil
		}
		value, ok := data.(string)
		if !ok {
			return data, nil
		}
		return os.ExpandEnv(value), nil
	}
}
