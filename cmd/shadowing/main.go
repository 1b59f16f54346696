// Command shadowing is a pronunciation shadowing trainer. It plays a
// reference clip, records the learner speaking along, and continuously
// aligns the two to report timing, articulation and intonation scores.
//
// Usage:
//
//	shadowing session [reference.wav]     live shadowing with hotkey control
//	shadowing align ref.wav learner.wav   score one recording, print JSON
//	shadowing batch ref.wav takes/        score every WAV in a directory
//	shadowing init                        write the default config file
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chaz8081/shadowing/internal/align"
	"github.com/chaz8081/shadowing/internal/config"
)

var (
	configPath string
	logLevel   string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "shadowing",
	Short:         "Pronunciation shadowing trainer",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "init" {
			return nil
		}
		loaded, err := loadConfig(configPath)
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		if logLevel != "" {
			loaded.LogLevel = logLevel
		}
		if err := loaded.Validate(); err != nil {
			return fmt.Errorf("config validation: %w", err)
		}
		cfg = loaded

		handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: config.ParseLogLevel(cfg.LogLevel),
		})
		slog.SetDefault(slog.New(handler))
		return nil
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default config to ~/.config/shadowing/config.yaml",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := config.WriteDefault()
		if err != nil {
			return err
		}
		if path == "" {
			fmt.Printf("Config already exists at %s\n", config.DefaultConfigPath())
			return nil
		}
		fmt.Printf("Wrote default config to %s\n", path)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default: ~/.config/shadowing/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log_level: debug, info, warn or error")
	rootCmd.AddCommand(sessionCmd, alignCmd, batchCmd, initCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		loaded, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		slog.Debug("config loaded", "path", defaultPath)
		return loaded, nil
	}

	slog.Debug("no config file found, using defaults")
	return config.Default(), nil
}

// alignSettings returns the weights and options the config selects.
func alignSettings(c *config.Config) (align.Weights, align.Options, error) {
	weights := align.DefaultWeights()
	if c.WeightsPath != "" {
		w, err := align.LoadWeights(c.WeightsPath)
		if err != nil {
			return align.Weights{}, align.Options{}, err
		}
		weights = w
	}
	opts := align.Options{Band: c.Session.Band, SegmentFrames: c.Session.SegmentFrames}
	return weights, opts, opts.Validate()
}

// printBanner displays the startup configuration summary.
func printBanner(c *config.Config, reference string, hotkeys bool) {
	fmt.Println("=== shadowing ===")
	fmt.Printf("  Reference: %s\n", reference)
	if hotkeys {
		fmt.Printf("  Hotkey:    %s (%s mode)\n", strings.Join(c.Hotkey.Keys, "+"), c.Hotkey.Mode)
	} else {
		fmt.Println("  Hotkey:    disabled (Enter toggles)")
	}
	fmt.Printf("  Audio:     %dHz, %dch, device %q\n", c.Audio.SampleRate, c.Audio.Channels, c.Audio.Device)
	fmt.Printf("  Budget:    %d ms, band %d\n", c.Session.LatencyBudgetMS, c.Session.Band)
	if c.Session.SaveTakesDir != "" {
		fmt.Printf("  Takes:     %s\n", c.Session.SaveTakesDir)
	}
	fmt.Printf("  Log:       %s\n", c.LogLevel)
	fmt.Println("=================")
}
