package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/chaz8081/shadowing/internal/features"
)

func newTestRuntime(t *testing.T, capture CaptureSource, player *fakePlayer, cfg Config, opts ...Option) *Runtime {
	t.Helper()
	ref := referenceClip()
	opts = append([]Option{
		WithCapture(capture),
		WithPlayerFactory(player.factory()),
		WithClipLoader(func(string) (features.Clip, error) { return ref, nil }),
	}, opts...)
	rt, err := New(context.Background(), cfg, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { rt.Close() })
	return rt
}

// waitFor reads snapshots until match accepts one.
func waitFor(t *testing.T, rt *Runtime, what string, match func(Snapshot) bool) Snapshot {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case s, ok := <-rt.Updates():
			if !ok {
				t.Fatalf("updates closed while waiting for %s", what)
			}
			if match(s) {
				return s
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", what)
		}
	}
}

func isIdle(s Snapshot) bool      { return !s.Recording }
func isRecording(s Snapshot) bool { return s.Recording }
func hasScores(s Snapshot) bool   { return s.Recording && len(s.Alignment.Segments) > 0 }

func TestNewLoaderFailure(t *testing.T) {
	_, err := New(context.Background(), Config{ReferencePath: "missing.wav"},
		WithCapture(newScriptedCapture(nil, 320)),
		WithClipLoader(func(string) (features.Clip, error) { return features.Clip{}, os.ErrNotExist }),
	)
	if !errors.Is(err, ErrConstruction) {
		t.Errorf("New() error = %v, want ErrConstruction", err)
	}
}

func TestInitialSnapshot(t *testing.T) {
	rt := newTestRuntime(t, newScriptedCapture(nil, 320), &fakePlayer{}, Config{})

	initial := rt.InitialSnapshot()
	if initial.Recording || initial.Error != "" {
		t.Errorf("InitialSnapshot() = %+v, want idle without error", initial)
	}
	if initial.Alignment.TotalDuration != 500*time.Millisecond {
		t.Errorf("TotalDuration = %v, want 500ms", initial.Alignment.TotalDuration)
	}
	if len(initial.Alignment.ReferenceEnergy) == 0 {
		t.Error("initial snapshot should carry the reference envelope")
	}

	first, ok := rt.TryRecv()
	if !ok {
		t.Fatal("TryRecv() found no initial snapshot")
	}
	if first.Alignment.TotalDuration != initial.Alignment.TotalDuration {
		t.Error("first published snapshot should be the initial snapshot")
	}
	if _, ok := rt.TryRecv(); ok {
		t.Error("TryRecv() should be empty before any command")
	}
}

func TestRuntimeTakeLifecycle(t *testing.T) {
	capture := newScriptedCapture(speechLike(8000), 320)
	player := &fakePlayer{}
	rt := newTestRuntime(t, capture, player, Config{})
	ctl := rt.Controller()

	if err := ctl.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, rt, "recording", isRecording)
	scored := waitFor(t, rt, "scores", hasScores)
	if !scored.ReferencePlaying {
		t.Error("reference should be playing during a take")
	}

	if err := ctl.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	final := waitFor(t, rt, "idle", isIdle)
	if final.ReferencePlaying {
		t.Error("reference should stop with the take")
	}

	if plays, stops := player.counts(); plays != 1 || stops != 1 {
		t.Errorf("player plays=%d stops=%d, want 1 and 1", plays, stops)
	}
	if started, stopped, active := capture.counts(); started != 1 || stopped != 1 || active {
		t.Errorf("capture started=%d stopped=%d active=%v", started, stopped, active)
	}

	// A second take reopens the capture source.
	if err := ctl.Start(); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	waitFor(t, rt, "second recording", isRecording)
	if started, _, _ := capture.counts(); started != 2 {
		t.Errorf("capture started %d times, want 2", started)
	}
}

func TestRuntimeStopWhileIdle(t *testing.T) {
	rt := newTestRuntime(t, newScriptedCapture(nil, 320), &fakePlayer{}, Config{})
	rt.Drain()

	if err := rt.Controller().Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	s := waitFor(t, rt, "idle", func(Snapshot) bool { return true })
	if s.Recording || s.Error != "" {
		t.Errorf("Stop while idle = %+v, want clean idle snapshot", s)
	}
	if len(s.Alignment.ReferenceEnergy) == 0 || s.Alignment.TotalDuration != 500*time.Millisecond {
		t.Errorf("Stop while idle dropped the reference preview: %d energy frames, duration %v",
			len(s.Alignment.ReferenceEnergy), s.Alignment.TotalDuration)
	}
}

func TestRuntimeWithLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	rt := newTestRuntime(t, newScriptedCapture(nil, 320), &fakePlayer{}, Config{}, WithLogger(logger))
	if err := rt.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "session="+rt.ID()) {
		t.Errorf("log output does not carry the session id %s:\n%s", rt.ID(), out)
	}
	if !strings.Contains(out, "[session] exited") {
		t.Errorf("log output missing the exit line:\n%s", out)
	}
}

func TestRuntimeCaptureStartFailure(t *testing.T) {
	capture := newScriptedCapture(nil, 320)
	capture.startErr = errors.New("microphone busy")
	player := &fakePlayer{}
	rt := newTestRuntime(t, capture, player, Config{})

	if err := rt.Controller().Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	s := waitFor(t, rt, "error", func(s Snapshot) bool { return s.Error != "" })
	if s.Recording {
		t.Error("failed start should leave the session idle")
	}
	if plays, _ := player.counts(); plays != 0 {
		t.Errorf("player started %d times after a capture failure", plays)
	}

	// The runtime survives and accepts further commands.
	if err := rt.Controller().Stop(); err != nil {
		t.Errorf("Stop() after failure error = %v", err)
	}
}

func TestRuntimePlaybackFailure(t *testing.T) {
	capture := newScriptedCapture(speechLike(8000), 320)
	player := &fakePlayer{playErr: errors.New("no output device")}
	rt := newTestRuntime(t, capture, player, Config{})

	if err := rt.Controller().Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	s := waitFor(t, rt, "playback error", func(s Snapshot) bool { return s.Error != "" })
	if s.Recording || s.Error != "no output device" {
		t.Errorf("snapshot = recording %v error %q", s.Recording, s.Error)
	}
	if _, stopped, active := capture.counts(); stopped != 1 || active {
		t.Errorf("capture stopped=%d active=%v, want released", stopped, active)
	}

	player.mu.Lock()
	player.playErr = nil
	player.mu.Unlock()
	if err := rt.Controller().Start(); err != nil {
		t.Fatalf("retry Start() error = %v", err)
	}
	s = waitFor(t, rt, "retry recording", isRecording)
	if s.Error != "" {
		t.Errorf("retry snapshot error = %q, want cleared", s.Error)
	}
}

func TestRuntimeCloseReleasesCapture(t *testing.T) {
	capture := newScriptedCapture(speechLike(8000), 320)
	rt := newTestRuntime(t, capture, &fakePlayer{}, Config{})

	if err := rt.Controller().Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, rt, "recording", isRecording)

	closed := make(chan struct{})
	go func() {
		rt.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close() did not return")
	}

	if _, _, active := capture.counts(); active {
		t.Error("capture still active after Close")
	}
	if _, err := capture.Start(); err != nil {
		t.Errorf("reopening capture after Close: %v", err)
	}

	if err := rt.Controller().Start(); !errors.Is(err, ErrClosed) {
		t.Errorf("Start() after Close error = %v, want ErrClosed", err)
	}
	if err := rt.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	var last Snapshot
	for s := range rt.Updates() {
		last = s
	}
	if last.Recording {
		t.Error("final snapshot should be idle")
	}
}

func TestRuntimeContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ref := referenceClip()
	rt, err := New(ctx, Config{},
		WithCapture(newScriptedCapture(nil, 320)),
		WithPlayerFactory((&fakePlayer{}).factory()),
		WithClipLoader(func(string) (features.Clip, error) { return ref, nil }),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	cancel()
	select {
	case <-rt.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not exit after cancel")
	}
	if err := rt.Controller().Shutdown(); !errors.Is(err, ErrClosed) {
		t.Errorf("Shutdown() after exit error = %v, want ErrClosed", err)
	}
}

func TestRuntimeSavesTakes(t *testing.T) {
	dir := t.TempDir()
	capture := newScriptedCapture(speechLike(8000), 320)
	rt := newTestRuntime(t, capture, &fakePlayer{}, Config{SaveTakesDir: dir})

	if err := rt.Controller().Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, rt, "scores", hasScores)
	if err := rt.Controller().Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	waitFor(t, rt, "idle", isIdle)

	path := filepath.Join(dir, fmt.Sprintf("%s-1.wav", rt.ID()))
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("take not saved: %v", err)
	}
	if info.Size() <= 44 {
		t.Errorf("take file holds %d bytes, want audio after the header", info.Size())
	}
}

func TestRuntimeDropsOldestSnapshots(t *testing.T) {
	// Enough short chunks to overflow the snapshot queue without a reader.
	capture := newScriptedCapture(speechLike(testRate*2), 160)
	ref := features.Clip{Samples: speechLike(testRate * 2), SampleRate: testRate}
	rt, err := New(context.Background(), Config{},
		WithCapture(capture),
		WithPlayerFactory((&fakePlayer{}).factory()),
		WithClipLoader(func(string) (features.Clip, error) { return ref, nil }),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer rt.Close()

	if err := rt.Controller().Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, _, active := capture.counts(); active {
			capture.mu.Lock()
			remaining := len(capture.pending)
			capture.mu.Unlock()
			if remaining == 0 {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatal("capture script not consumed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)

	pending := rt.Drain()
	if len(pending) > snapshotQueueSize {
		t.Fatalf("drained %d snapshots, queue holds %d", len(pending), snapshotQueueSize)
	}
	if len(pending) == 0 {
		t.Fatal("no snapshots queued")
	}
	last := pending[len(pending)-1]
	if !last.Recording || len(last.Alignment.LearnerEnergy) == 0 {
		t.Errorf("newest snapshot = recording %v, learner frames %d", last.Recording, len(last.Alignment.LearnerEnergy))
	}
}

func TestControllerSendAfterDone(t *testing.T) {
	done := make(chan struct{})
	close(done)
	ctl := Controller{commands: make(chan Command), done: done}
	for _, send := range []func() error{ctl.Start, ctl.Stop, ctl.Shutdown} {
		if err := send(); !errors.Is(err, ErrClosed) {
			t.Errorf("send error = %v, want ErrClosed", err)
		}
	}
}

func TestCommandString(t *testing.T) {
	if CommandShutdown.String() != "shutdown" || Command(9).String() != "Command(9)" {
		t.Error("unexpected Command.String output")
	}
}
