package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/codefionn/chatrelay/internal/consts"
)

// DefaultSystemPrompt seeds every fresh conversation.
const DefaultSystemPrompt = "You are a helpful and polite AI assistant. " +
	"You always keep the conversation light and try your best to provide " +
	"answers to the point, giving appropriate responses."

// Config represents application configuration
type Config struct {
	ListenAddr         string `json:"listen_addr"`
	OllamaURL          string `json:"ollama_url"`
	HistoryDir         string `json:"history_dir"`
	SystemPrompt       string `json:"system_prompt"`
	MaxHistoryMessages int    `json:"max_history_messages"`
	// MaxContextTokens bounds the outbound context by estimated token
	// count when > 0. Zero keeps the count-based policy only.
	MaxContextTokens     int    `json:"max_context_tokens,omitempty"`
	AutostartBackend     bool   `json:"autostart_backend"`
	ReadyMaxAttempts     int    `json:"ready_max_attempts"`
	ReadyIntervalSeconds int    `json:"ready_interval_seconds"`
	LogLevel             string `json:"log_level"` // debug, info, warn, error, none
	LogPath              string `json:"-"`
}

func defaultConfigDir() string {
	switch runtime.GOOS {
	case "linux":
		if configHome := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); configHome != "" {
			return filepath.Join(configHome, "chatrelay")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", "chatrelay")
	case "windows":
		if appData := strings.TrimSpace(os.Getenv("APPDATA")); appData != "" {
			return filepath.Join(appData, "chatrelay")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Roaming", "chatrelay")
	default:
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", "chatrelay")
	}
}

func defaultStateDir() string {
	switch runtime.GOOS {
	case "linux":
		if stateHome := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); stateHome != "" {
			return filepath.Join(stateHome, "chatrelay")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".local", "state", "chatrelay")
	case "windows":
		if localAppData := strings.TrimSpace(os.Getenv("LOCALAPPDATA")); localAppData != "" {
			return filepath.Join(localAppData, "chatrelay")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Local", "chatrelay")
	default:
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", "chatrelay")
	}
}

// DefaultConfigPath returns the default location of the config file
func DefaultConfigPath() string {
	return filepath.Join(defaultConfigDir(), "config.json")
}

// Default returns a configuration populated with defaults
func Default() *Config {
	return &Config{
		ListenAddr:           ":8000",
		OllamaURL:            "http://localhost:11434",
		HistoryDir:           filepath.Join(defaultStateDir(), "chat_history"),
		SystemPrompt:         DefaultSystemPrompt,
		MaxHistoryMessages:   consts.DefaultMaxHistoryMessages,
		MaxContextTokens:     0,
		AutostartBackend:     true,
		ReadyMaxAttempts:     10,
		ReadyIntervalSeconds: 1,
		LogLevel:             "info",
	}
}

// Load reads the config file at path, falling back to defaults when the
// file does not exist. Fields missing from the file keep their defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg.normalize()
	return cfg, nil
}

// Save writes the configuration to path, creating parent directories
func (c *Config) Save(path string) error {
	if path == "" {
		path = DefaultConfigPath()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func (c *Config) normalize() {
	if strings.TrimSpace(c.ListenAddr) == "" {
		c.ListenAddr = ":8000"
	}
	if strings.TrimSpace(c.SystemPrompt) == "" {
		c.SystemPrompt = DefaultSystemPrompt
	}
	if c.MaxHistoryMessages <= 0 {
		c.MaxHistoryMessages = consts.DefaultMaxHistoryMessages
	}
	if c.ReadyMaxAttempts <= 0 {
		c.ReadyMaxAttempts = 10
	}
	if c.ReadyIntervalSeconds <= 0 {
		c.ReadyIntervalSeconds = 1
	}
}
