package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Reference   string        `yaml:"reference"`
	WeightsPath string        `yaml:"weights_path"`
	Audio       AudioConfig   `yaml:"audio"`
	Session     SessionConfig `yaml:"session"`
	Hotkey      HotkeyConfig  `yaml:"hotkey"`
	LogLevel    string        `yaml:"log_level"`
}

// AudioConfig holds audio capture settings.
type AudioConfig struct {
	SampleRate uint32 `yaml:"sample_rate"`
	Channels   uint32 `yaml:"channels"`
	Device     string `yaml:"device"`     // empty selects the system default
	LatencyMS  int    `yaml:"latency_ms"` // sizes the capture chunk queue
}

// SessionConfig holds alignment and live session settings.
type SessionConfig struct {
	LatencyBudgetMS int    `yaml:"latency_budget_ms"`
	Band            int    `yaml:"band"`
	SegmentFrames   int    `yaml:"segment_frames"`
	SaveTakesDir    string `yaml:"save_takes_dir"`
}

// HotkeyConfig holds hotkey-related settings.
type HotkeyConfig struct {
	Keys []string `yaml:"keys"`
	Mode string   `yaml:"mode"` // "hold" or "toggle"
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "shadowing")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Audio: AudioConfig{
			SampleRate: 16000,
			Channels:   1,
			LatencyMS:  200,
		},
		Session: SessionConfig{
			LatencyBudgetMS: 200,
			Band:            20,
			SegmentFrames:   18,
		},
		Hotkey: HotkeyConfig{
			Keys: []string{"ctrl", "shift", "s"},
			Mode: "toggle",
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in file and directory paths is expanded to the
// user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Reference = expandTilde(cfg.Reference)
	cfg.WeightsPath = expandTilde(cfg.WeightsPath)
	cfg.Session.SaveTakesDir = expandTilde(cfg.Session.SaveTakesDir)

	return cfg, nil
}

// Validate checks the config for invalid values. An empty reference is
// allowed here; commands that need one supply it on the command line.
func (c *Config) Validate() error {
	if c.Audio.SampleRate == 0 {
		return fmt.Errorf("audio.sample_rate must be > 0")
	}

	if c.Audio.Channels == 0 {
		return fmt.Errorf("audio.channels must be > 0")
	}

	if c.Audio.LatencyMS < 0 {
		return fmt.Errorf("audio.latency_ms must be >= 0, got %d", c.Audio.LatencyMS)
	}

	if c.Session.LatencyBudgetMS <= 0 {
		return fmt.Errorf("session.latency_budget_ms must be > 0")
	}

	if c.Session.Band < 0 {
		return fmt.Errorf("session.band must be >= 0, got %d", c.Session.Band)
	}

	if c.Session.SegmentFrames <= 0 {
		return fmt.Errorf("session.segment_frames must be > 0")
	}

	if len(c.Hotkey.Keys) == 0 {
		return fmt.Errorf("hotkey.keys must not be empty")
	}

	switch c.Hotkey.Mode {
	case "hold", "toggle":
	default:
		return fmt.Errorf("hotkey.mode must be \"hold\" or \"toggle\", got %q", c.Hotkey.Mode)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// ParseLogLevel maps a log_level value to a slog.Level. Unknown values map
// to info.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

const defaultHeader = `# shadowing configuration
#
# reference:      default reference WAV for "shadowing session"
# weights_path:   optional JSON file with alignment weights
#                 (mfcc, delta, delta_delta, mel, energy, flux, pitch)
# session.save_takes_dir: write each take as <session-id>-<n>.wav when set
`

// WriteDefault writes the default config to DefaultConfigPath. It returns
// the written path, or "" when a config file already exists.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("checking %s: %w", path, err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(defaultHeader+"\n"), data...), 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
