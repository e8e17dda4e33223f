package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	ProviderGemini    = "gemini"
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"

	StrategySummary  = "summary"
	StrategyFollowUp = "followup"
)

const (
	DefaultGeminiModel    = "gemini-1.5-flash"
	DefaultAnthropicModel = "claude-sonnet-4-5-20250929"
	DefaultOpenAIModel    = "gpt-4o"
	DefaultMaxTokens      = 4096
	DefaultTemperature    = 0.7
	DefaultMemoryCap      = 50
	DefaultHistoryWindow  = 20
	DefaultCallbackPort   = 8888
	DefaultLogLevel       = "warn"
	DefaultToolTimeout    = 30
)

// ErrNoAPIKey is returned by Validate when no model API key is configured.
var ErrNoAPIKey = errors.New("model API key not set")

type Config struct {
	Agent     AgentConfig     `json:"agent"`
	Provider  ProviderConfig  `json:"provider"`
	Services  ServicesConfig  `json:"services"`
	Tasks     TasksConfig     `json:"tasks"`
	Reminders RemindersConfig `json:"reminders"`
	Notify    NotifyConfig    `json:"notify"`
	Skills    SkillsConfig    `json:"skills"`
	Log       LogConfig       `json:"log"`
}

type AgentConfig struct {
	Workspace     string  `json:"workspace"`
	Model         string  `json:"model"`
	MaxTokens     int     `json:"maxTokens"`
	Temperature   float64 `json:"temperature"`
	MemoryCap     int     `json:"memoryCap"`
	HistoryWindow int     `json:"historyWindow"`
	ToolStrategy  string  `json:"toolStrategy"` // "summary" (default) or "followup"
	Stream        bool    `json:"stream"`
	ToolTimeout   int     `json:"toolTimeout"` // seconds, per external call
}

type ProviderConfig struct {
	Type    string `json:"type,omitempty"` // "gemini" (default), "anthropic" or "openai"
	APIKey  string `json:"apiKey"`
	BaseURL string `json:"baseUrl,omitempty"`
}

type ServicesConfig struct {
	Spotify      OAuthAppConfig `json:"spotify"`
	Google       OAuthAppConfig `json:"google"`
	CallbackPort int            `json:"callbackPort"`
}

type OAuthAppConfig struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

// Configured reports whether both client credentials are present.
func (c OAuthAppConfig) Configured() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

type TasksConfig struct {
	DBPath string `json:"dbPath,omitempty"`
}

type RemindersConfig struct {
	StorePath string `json:"storePath,omitempty"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
	ChatID  int64  `json:"chatId"`
}

type SkillsConfig struct {
	Enabled bool   `json:"enabled"`
	Dir     string `json:"dir,omitempty"`
}

type LogConfig struct {
	Level string `json:"level"`
}

func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			Workspace:     filepath.Join(ConfigDir(), "workspace"),
			MaxTokens:     DefaultMaxTokens,
			Temperature:   DefaultTemperature,
			MemoryCap:     DefaultMemoryCap,
			HistoryWindow: DefaultHistoryWindow,
			ToolStrategy:  StrategySummary,
			ToolTimeout:   DefaultToolTimeout,
		},
		Provider: ProviderConfig{},
		Services: ServicesConfig{CallbackPort: DefaultCallbackPort},
		Skills:   SkillsConfig{Enabled: true},
		Log:      LogConfig{Level: DefaultLogLevel},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".termpal")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

// CredentialsDir is where encrypted service tokens are stored.
func CredentialsDir() string {
	return filepath.Join(ConfigDir(), "credentials")
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	cfg.normalize()
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if p := os.Getenv("TERMPAL_PROVIDER"); p != "" {
		cfg.Provider.Type = strings.ToLower(p)
	}
	if key := os.Getenv("TERMPAL_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
	providerKeys := []struct {
		env      string
		provider string
	}{
		{"GEMINI_API_KEY", ProviderGemini},
		{"GOOGLE_API_KEY", ProviderGemini},
		{"ANTHROPIC_API_KEY", ProviderAnthropic},
		{"OPENAI_API_KEY", ProviderOpenAI},
	}
	for _, pk := range providerKeys {
		key := os.Getenv(pk.env)
		if key == "" || cfg.Provider.APIKey != "" {
			continue
		}
		if cfg.Provider.Type == "" || cfg.Provider.Type == pk.provider {
			cfg.Provider.APIKey = key
			cfg.Provider.Type = pk.provider
		}
	}
	if url := os.Getenv("TERMPAL_BASE_URL"); url != "" {
		cfg.Provider.BaseURL = url
	}
	if m := os.Getenv("TERMPAL_MODEL"); m != "" {
		cfg.Agent.Model = m
	}
	if lvl := os.Getenv("TERMPAL_LOG_LEVEL"); lvl != "" {
		cfg.Log.Level = lvl
	}
	if s := os.Getenv("TERMPAL_STREAM"); s != "" {
		if parsed, err := strconv.ParseBool(s); err == nil {
			cfg.Agent.Stream = parsed
		}
	}
	if token := os.Getenv("TERMPAL_TELEGRAM_TOKEN"); token != "" {
		cfg.Notify.Telegram.Token = token
	}
	if chat := os.Getenv("TERMPAL_TELEGRAM_CHAT_ID"); chat != "" {
		if parsed, err := strconv.ParseInt(chat, 10, 64); err == nil {
			cfg.Notify.Telegram.ChatID = parsed
		}
	}
	if id := os.Getenv("TERMPAL_SPOTIFY_CLIENT_ID"); id != "" {
		cfg.Services.Spotify.ClientID = id
	}
	if secret := os.Getenv("TERMPAL_SPOTIFY_CLIENT_SECRET"); secret != "" {
		cfg.Services.Spotify.ClientSecret = secret
	}
	if id := os.Getenv("TERMPAL_GOOGLE_CLIENT_ID"); id != "" {
		cfg.Services.Google.ClientID = id
	}
	if secret := os.Getenv("TERMPAL_GOOGLE_CLIENT_SECRET"); secret != "" {
		cfg.Services.Google.ClientSecret = secret
	}
}

func (cfg *Config) normalize() {
	defaults := DefaultConfig()
	if cfg.Provider.Type == "" {
		cfg.Provider.Type = ProviderGemini
	}
	if cfg.Agent.Workspace == "" {
		cfg.Agent.Workspace = defaults.Agent.Workspace
	}
	if cfg.Agent.Model == "" {
		cfg.Agent.Model = DefaultModelFor(cfg.Provider.Type)
	}
	if cfg.Agent.MaxTokens <= 0 {
		cfg.Agent.MaxTokens = DefaultMaxTokens
	}
	if cfg.Agent.MemoryCap <= 0 {
		cfg.Agent.MemoryCap = DefaultMemoryCap
	}
	if cfg.Agent.HistoryWindow <= 0 {
		cfg.Agent.HistoryWindow = DefaultHistoryWindow
	}
	if cfg.Agent.ToolStrategy != StrategyFollowUp {
		cfg.Agent.ToolStrategy = StrategySummary
	}
	if cfg.Agent.ToolTimeout <= 0 {
		cfg.Agent.ToolTimeout = DefaultToolTimeout
	}
	if cfg.Services.CallbackPort <= 0 {
		cfg.Services.CallbackPort = DefaultCallbackPort
	}
	if cfg.Tasks.DBPath == "" {
		cfg.Tasks.DBPath = filepath.Join(ConfigDir(), "data", "tasks.db")
	}
	if cfg.Reminders.StorePath == "" {
		cfg.Reminders.StorePath = filepath.Join(ConfigDir(), "data", "reminders.json")
	}
	if cfg.Skills.Dir == "" {
		cfg.Skills.Dir = filepath.Join(cfg.Agent.Workspace, "skills")
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
}

// DefaultModelFor returns the default model name of a provider.
func DefaultModelFor(provider string) string {
	switch provider {
	case ProviderAnthropic:
		return DefaultAnthropicModel
	case ProviderOpenAI:
		return DefaultOpenAIModel
	default:
		return DefaultGeminiModel
	}
}

// Validate reports startup misconfiguration.
func (cfg *Config) Validate() error {
	switch cfg.Provider.Type {
	case ProviderGemini, ProviderAnthropic, ProviderOpenAI:
	default:
		return fmt.Errorf("unknown provider type %q", cfg.Provider.Type)
	}
	if strings.TrimSpace(cfg.Provider.APIKey) == "" {
		return ErrNoAPIKey
	}
	return nil
}

// ToolTimeoutDuration returns the per-call timeout for external tool I/O.
func (cfg *Config) ToolTimeoutDuration() time.Duration {
	return time.Duration(cfg.Agent.ToolTimeout) * time.Second
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0600)
}

// Reset overwrites the config file with defaults.
func Reset() (*Config, error) {
	cfg := DefaultConfig()
	if err := SaveConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Backup copies the current config file next to itself with a timestamp
// suffix and returns the backup path.
func Backup(now time.Time) (string, error) {
	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("no config to back up at %s", ConfigPath())
		}
		return "", fmt.Errorf("read config: %w", err)
	}
	path := filepath.Join(ConfigDir(), "backups", "config-"+now.Format("20060102-150405")+".json")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("write backup: %w", err)
	}
	return path, nil
}

// Restore replaces the config file with the contents of path after checking
// that it parses.
func Restore(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read backup: %w", err)
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse backup: %w", err)
	}
	if err := SaveConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MaskSecret shortens a secret for display.
func MaskSecret(s string) string {
	switch {
	case s == "":
		return "not set"
	case len(s) > 8:
		return s[:4] + "..." + s[len(s)-4:]
	default:
		return "set"
	}
}
