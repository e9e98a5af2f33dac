// Package config – config.go defines all configuration structures
// for the ButlerDuck assistant.
package config

import (
	"time"

	"github.com/songmeo/ButlerDuck/pkg/butler/telegram"
)

// Config holds all assistant configuration.
type Config struct {
	// Name is the assistant name shown in the chat history.
	Name string `yaml:"name"`

	// Model is the LLM model to use (e.g. "gpt-4-turbo").
	Model string `yaml:"model"`

	// API configures the OpenAI-compatible endpoint.
	API APIConfig `yaml:"api"`

	// Telegram is the transport config.
	Telegram telegram.Config `yaml:"telegram"`

	// Database configures persistence.
	Database DatabaseConfig `yaml:"database"`

	// Scheduler configures the response and reminder schedulers.
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// Agent configures the tool-calling loop.
	Agent AgentConfig `yaml:"agent"`

	// Logging configures log output.
	Logging LoggingConfig `yaml:"logging"`
}

// APIConfig configures the LLM endpoint.
type APIConfig struct {
	// BaseURL is the OpenAI-compatible API base (e.g. "https://api.openai.com/v1").
	BaseURL string `yaml:"base_url"`

	// APIKey authenticates against the endpoint. Prefer ${BUTLERDUCK_API_KEY}
	// or the OS keyring over a plaintext value here.
	APIKey string `yaml:"api_key"`
}

// DatabaseConfig configures the SQLite store.
type DatabaseConfig struct {
	// Path is the SQLite database file path.
	Path string `yaml:"path"`

	// ImageDir is the directory for received photos.
	ImageDir string `yaml:"image_dir"`
}

// SchedulerConfig configures the schedulers. All values are seconds.
type SchedulerConfig struct {
	// QuietWindowSeconds is how long a chat must be quiet before the
	// bot considers responding.
	QuietWindowSeconds int `yaml:"quiet_window_seconds"`

	// ScanIntervalSeconds is how often pending chats are checked.
	ScanIntervalSeconds int `yaml:"scan_interval_seconds"`

	// ReminderIntervalSeconds is how often due reminders are delivered.
	ReminderIntervalSeconds int `yaml:"reminder_interval_seconds"`
}

// QuietWindow returns the quiet window as a duration.
func (s SchedulerConfig) QuietWindow() time.Duration {
	return time.Duration(s.QuietWindowSeconds) * time.Second
}

// ScanInterval returns the scan interval as a duration.
func (s SchedulerConfig) ScanInterval() time.Duration {
	return time.Duration(s.ScanIntervalSeconds) * time.Second
}

// ReminderInterval returns the reminder interval as a duration.
func (s SchedulerConfig) ReminderInterval() time.Duration {
	return time.Duration(s.ReminderIntervalSeconds) * time.Second
}

// AgentConfig configures the tool-calling loop.
type AgentConfig struct {
	// MaxToolRounds caps how many model/tool round trips a single
	// response may take.
	MaxToolRounds int `yaml:"max_tool_rounds"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	// Level is the log level ("debug", "info", "warn", "error").
	Level string `yaml:"level"`

	// Format is the log format ("json", "text").
	Format string `yaml:"format"`
}

// DefaultConfig returns the default assistant configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:  "ButlerBot",
		Model: "gpt-4-turbo",
		API: APIConfig{
			BaseURL: "https://api.openai.com/v1",
		},
		Database: DatabaseConfig{
			Path:     "./data/butler.db",
			ImageDir: "./data/images",
		},
		Scheduler: SchedulerConfig{
			QuietWindowSeconds:      5,
			ScanIntervalSeconds:     1,
			ReminderIntervalSeconds: 60,
		},
		Agent: AgentConfig{
			MaxToolRounds: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
