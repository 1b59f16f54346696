package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chaz8081/shadowing/internal/audio"
	"github.com/chaz8081/shadowing/internal/hotkey"
	"github.com/chaz8081/shadowing/internal/session"
)

var noHotkey bool

var sessionCmd = &cobra.Command{
	Use:   "session [reference.wav]",
	Short: "Shadow a reference clip live",
	Long: `Play a reference clip and score the learner's recording while they speak.

The global hotkey from the config starts and stops a take. With --no-hotkey,
press Enter to toggle recording instead. Ctrl+C ends the session.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSession,
}

func init() {
	sessionCmd.Flags().BoolVar(&noHotkey, "no-hotkey", false, "toggle recording with Enter instead of a global hotkey")
}

func runSession(cmd *cobra.Command, args []string) error {
	reference := cfg.Reference
	if len(args) == 1 {
		reference = args[0]
	}
	if reference == "" {
		return fmt.Errorf("no reference clip: pass one as an argument or set reference in the config")
	}

	weights, opts, err := alignSettings(cfg)
	if err != nil {
		return err
	}

	printBanner(cfg, reference, !noHotkey)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	rt, err := session.New(ctx, session.Config{
		ReferencePath:   reference,
		Weights:         weights,
		Align:           opts,
		LatencyBudgetMS: cfg.Session.LatencyBudgetMS,
		Capture: audio.CaptureConfig{
			SampleRate: cfg.Audio.SampleRate,
			Channels:   cfg.Audio.Channels,
			Device:     cfg.Audio.Device,
			LatencyMS:  cfg.Audio.LatencyMS,
		},
		SaveTakesDir: cfg.Session.SaveTakesDir,
	}, session.WithLogger(slog.Default()))
	if err != nil {
		return err
	}

	var listener *hotkey.Listener
	if noHotkey {
		go toggleOnEnter(rt.Controller())
		fmt.Println("Ready. Press Enter to start or stop a take. Ctrl+C to quit.")
	} else {
		listener = hotkey.NewListener(cfg.Hotkey.Keys, cfg.Hotkey.Mode)
		go listener.Start()
		go hotkey.Bind(listener.Events(), rt.Controller())
		fmt.Println("Ready. Use the hotkey to start or stop a take. Ctrl+C to quit.")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		if err := rt.Close(); err != nil {
			slog.Error("closing session", "error", err)
		}
	}()

	for snap := range rt.Updates() {
		printSnapshot(snap)
	}

	if listener != nil {
		listener.Stop()
		// gohook's C cleanup can crash when the process unwinds normally.
		os.Exit(0)
	}
	return nil
}

// toggleOnEnter feeds Enter presses through a toggle trigger into ctl.
func toggleOnEnter(ctl session.Controller) {
	events := make(chan hotkey.Event)
	go func() {
		defer close(events)
		trigger := hotkey.NewTrigger("toggle")
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			if ev, ok := trigger.Press(); ok {
				events <- ev
			}
		}
	}()
	hotkey.Bind(events, ctl)
}

func printSnapshot(s session.Snapshot) {
	switch {
	case s.Error != "":
		fmt.Printf("! %s\n", s.Error)
	case s.Recording && len(s.Alignment.Segments) > 0:
		fmt.Printf("overall %.2f  timing %.2f  articulation %.2f  intonation %.2f  offset %+.0f ms  confidence %.2f  (%.0f ms)\n",
			s.Scores.Overall, s.Scores.Timing, s.Scores.Articulation, s.Scores.Intonation,
			s.Alignment.GlobalTimeOffsetMS, s.Alignment.Confidence, s.LatencyMS)
	case s.Recording:
		fmt.Println("recording...")
	default:
		fmt.Printf("idle (reference %s)\n", s.Alignment.TotalDuration)
	}
}
