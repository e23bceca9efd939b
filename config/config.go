// Package config handles application configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	appName        = "reverie"
	configFileName = "config.json"
)

// Config represents the application configuration. API keys are read from
// the environment, not stored here.
type Config struct {
	// Voice detection tuning, in milliseconds where applicable.
	VAD VADConfig `json:"vad"`

	// Provider selection.
	ChatProvider string `json:"chat_provider"` // "openai" or "claude"
	ChatModel    string `json:"chat_model,omitempty"`
	VoiceID      string `json:"voice_id,omitempty"`

	// Conversation behavior.
	ContinueMode bool `json:"continue_mode"`
	AutoDetect   bool `json:"auto_detect"`

	// Capture format.
	SampleRate int `json:"sample_rate"`

	// HistoryDir overrides the session database location.
	HistoryDir string `json:"history_dir,omitempty"`
}

// VADConfig mirrors the detector tuning in config-file-friendly units.
type VADConfig struct {
	StartThresholdDB   float64 `json:"start_threshold_db"`
	ConfidenceFrames   int     `json:"confidence_frames"`
	ShortPauseMs       int     `json:"short_pause_ms"`
	LongSilenceMs      int     `json:"long_silence_ms"`
	MinSpeechMs        int     `json:"min_speech_ms"`
	ShortPauseMinChars int     `json:"short_pause_min_chars"`
}

func defaultConfig() *Config {
	return &Config{
		VAD: VADConfig{
			StartThresholdDB:   -35,
			ConfidenceFrames:   3,
			ShortPauseMs:       800,
			LongSilenceMs:      2500,
			MinSpeechMs:        500,
			ShortPauseMinChars: 10,
		},
		ChatProvider: "openai",
		ContinueMode: false,
		AutoDetect:   true,
		SampleRate:   44100,
	}
}

// Load loads configuration from the config file.
// Returns default config if file doesn't exist.
func Load() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, fmt.Errorf("get config path: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultConfig(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := defaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// Save persists the configuration to disk.
func (c *Config) Save() error {
	path, err := configPath()
	if err != nil {
		return fmt.Errorf("get config path: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// HistoryPath returns the session database directory, creating it if
// needed.
func (c *Config) HistoryPath() (string, error) {
	if c.HistoryDir != "" {
		return c.HistoryDir, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("get config dir: %w", err)
	}
	dir := filepath.Join(base, appName, "history")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create history dir: %w", err)
	}
	return dir, nil
}

func configPath() (string, error) {
	if override := os.Getenv("REVERIE_CONFIG_DIR"); override != "" {
		return filepath.Join(override, configFileName), nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("get user config dir: %w", err)
	}
	return filepath.Join(base, appName, configFileName), nil
}
