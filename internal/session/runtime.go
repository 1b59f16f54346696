// Package session runs a live shadowing session: a single goroutine owns the
// capture source and the reference features, accepts Start, Stop and
// Shutdown commands, and publishes a Snapshot after every state change.
//
// Callers talk to the session only through a Controller and the snapshot
// stream; nothing inside the session goroutine is shared.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/chaz8081/shadowing/internal/align"
	"github.com/chaz8081/shadowing/internal/audio"
	"github.com/chaz8081/shadowing/internal/features"
)

const (
	commandQueueSize  = 16
	snapshotQueueSize = 32
)

// ErrClosed is returned by Controller methods once the session has exited.
var ErrClosed = errors.New("session: closed")

// Command is a control message for the session goroutine.
type Command int

const (
	CommandStart Command = iota
	CommandStop
	CommandShutdown
)

func (c Command) String() string {
	switch c {
	case CommandStart:
		return "start"
	case CommandStop:
		return "stop"
	case CommandShutdown:
		return "shutdown"
	default:
		return fmt.Sprintf("Command(%d)", int(c))
	}
}

// Controller sends commands to a running session. It is a small value;
// copy it freely.
type Controller struct {
	commands chan<- Command
	done     <-chan struct{}
}

// Start begins a take.
func (c Controller) Start() error { return c.send(CommandStart) }

// Stop ends the current take.
func (c Controller) Stop() error { return c.send(CommandStop) }

// Shutdown ends the session.
func (c Controller) Shutdown() error { return c.send(CommandShutdown) }

func (c Controller) send(cmd Command) error {
	select {
	case <-c.done:
		return fmt.Errorf("%w: failed to %s session", ErrClosed, cmd)
	default:
	}
	select {
	case c.commands <- cmd:
		return nil
	case <-c.done:
		return fmt.Errorf("%w: failed to %s session", ErrClosed, cmd)
	}
}

// Config describes one session.
type Config struct {
	ReferencePath   string
	Weights         align.Weights
	Align           align.Options
	LatencyBudgetMS int
	Capture         audio.CaptureConfig
	SaveTakesDir    string // empty disables saving takes
}

type options struct {
	capture   CaptureSource
	player    PlayerFactory
	extractor features.Extractor
	scorer    Scorer
	loader    ClipLoader
	logger    *slog.Logger
}

// Option customizes a Runtime.
type Option func(*options)

// WithCapture replaces the live microphone. The caller keeps ownership of
// the source.
func WithCapture(c CaptureSource) Option {
	return func(o *options) { o.capture = c }
}

// WithPlayerFactory replaces the reference playback device.
func WithPlayerFactory(f PlayerFactory) Option {
	return func(o *options) { o.player = f }
}

// WithExtractor replaces the feature extractor.
func WithExtractor(e features.Extractor) Option {
	return func(o *options) { o.extractor = e }
}

// WithScorer replaces the scorer.
func WithScorer(s Scorer) Option {
	return func(o *options) { o.scorer = s }
}

// WithClipLoader replaces the reference clip decoder.
func WithClipLoader(l ClipLoader) Option {
	return func(o *options) { o.loader = l }
}

// WithLogger sets the base logger; the session id is added to it.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Runtime owns the session goroutine.
type Runtime struct {
	id         string
	controller Controller
	updates    chan Snapshot
	initial    Snapshot
	done       chan struct{}
	cancel     context.CancelFunc
	closeOnce  sync.Once
}

// New loads and analyzes the reference clip, then starts the session
// goroutine. Construction failures wrap ErrConstruction and leave nothing
// running. Cancelling ctx shuts the session down.
func New(ctx context.Context, cfg Config, opts ...Option) (*Runtime, error) {
	o := options{
		loader: audio.LoadClip,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	id := uuid.NewString()
	log := o.logger.With("session", id)

	log.Info("[session] loading reference", "path", cfg.ReferencePath)
	reference, err := o.loader(cfg.ReferencePath)
	if err != nil {
		return nil, fmt.Errorf("%w: loading reference: %v", ErrConstruction, err)
	}
	log.Info("[session] reference loaded",
		"samples", len(reference.Samples), "rate", reference.SampleRate)

	capture := o.capture
	var owned io.Closer
	if capture == nil {
		live, err := audio.NewLiveCapture(cfg.Capture)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConstruction, err)
		}
		capture, owned = live, live
	}
	if o.player == nil {
		o.player = func(clip features.Clip) (Player, error) {
			return audio.NewPlayer(clip.Samples, clip.SampleRate, ""), nil
		}
	}

	engine, err := NewEngine(reference, EngineConfig{
		Weights:         cfg.Weights,
		Align:           cfg.Align,
		LatencyBudgetMS: cfg.LatencyBudgetMS,
		Extractor:       o.extractor,
		Scorer:          o.scorer,
	}, capture)
	if err != nil {
		if owned != nil {
			owned.Close()
		}
		return nil, err
	}
	engine.log = log

	ctx, cancel := context.WithCancel(ctx)
	commands := make(chan Command, commandQueueSize)
	done := make(chan struct{})
	r := &Runtime{
		id:         id,
		controller: Controller{commands: commands, done: done},
		updates:    make(chan Snapshot, snapshotQueueSize),
		initial:    engine.Snapshot(),
		done:       done,
		cancel:     cancel,
	}

	w := &worker{
		engine:    engine,
		reference: reference,
		player:    o.player,
		owned:     owned,
		commands:  commands,
		updates:   r.updates,
		takesDir:  cfg.SaveTakesDir,
		id:        id,
		log:       log,
	}
	w.publish(r.initial)
	go func() {
		defer close(done)
		w.run(ctx)
	}()
	return r, nil
}

// ID returns the session id used in logs and saved take names.
func (r *Runtime) ID() string { return r.id }

// Controller returns a handle for sending commands.
func (r *Runtime) Controller() Controller { return r.controller }

// InitialSnapshot returns the snapshot published before any take: the
// reference preview with no scores.
func (r *Runtime) InitialSnapshot() Snapshot { return r.initial.Clone() }

// TryRecv returns the oldest unread snapshot without blocking.
func (r *Runtime) TryRecv() (Snapshot, bool) {
	select {
	case s, ok := <-r.updates:
		return s, ok
	default:
		return Snapshot{}, false
	}
}

// Drain returns every unread snapshot, oldest first, without blocking.
func (r *Runtime) Drain() []Snapshot {
	var out []Snapshot
	for {
		s, ok := r.TryRecv()
		if !ok {
			return out
		}
		out = append(out, s)
	}
}

// Updates exposes the snapshot stream. It is closed when the session exits.
// A slow reader loses the oldest snapshots, never the newest.
func (r *Runtime) Updates() <-chan Snapshot { return r.updates }

// Done is closed once the session goroutine has exited.
func (r *Runtime) Done() <-chan struct{} { return r.done }

// Close shuts the session down and waits for its goroutine to exit. It is
// safe to call more than once.
func (r *Runtime) Close() error {
	r.closeOnce.Do(func() {
		// ErrClosed means the goroutine already exited.
		_ = r.controller.Shutdown()
		<-r.done
		r.cancel()
	})
	return nil
}

// worker is the state owned by the session goroutine.
type worker struct {
	engine    *Engine
	reference features.Clip
	player    PlayerFactory
	owned     io.Closer
	commands  <-chan Command
	updates   chan Snapshot
	takesDir  string
	id        string
	takes     int
	dropped   int
	log       *slog.Logger
}

func (w *worker) run(ctx context.Context) {
	defer w.teardown()
	w.log.Info("[session] running")

	for {
		select {
		case <-ctx.Done():
			w.log.Info("[session] context done, shutting down")
			return
		case cmd := <-w.commands:
			switch cmd {
			case CommandStart:
				if w.take(ctx) {
					return
				}
			case CommandStop:
				w.publish(w.engine.Stop())
			case CommandShutdown:
				w.log.Info("[session] shutdown requested")
				w.publish(w.engine.Stop())
				return
			}
		}
	}
}

// take runs one recording from Start until Stop, Shutdown or an error. It
// reports whether the session should exit.
func (w *worker) take(ctx context.Context) bool {
	snap, err := w.engine.Start()
	if err != nil {
		w.log.Error("[session] failed to start capture", "error", err)
		w.publish(w.engine.Fail(err))
		return false
	}
	w.publish(snap)

	player, err := w.player(w.reference)
	if err == nil {
		err = player.Play()
	}
	if err != nil {
		w.log.Error("[session] failed to start reference playback", "error", err)
		w.publish(w.engine.Fail(err))
		return false
	}

	w.log.Info("[session] recording")
	for {
		select {
		case <-ctx.Done():
			w.finish(player)
			return true
		case cmd := <-w.commands:
			switch cmd {
			case CommandStop:
				w.log.Info("[session] stop requested")
				w.finish(player)
				return false
			case CommandShutdown:
				w.log.Info("[session] shutdown requested")
				w.finish(player)
				return true
			case CommandStart:
				w.log.Debug("[session] start requested while recording")
			}
		default:
		}

		snap, updated, err := w.engine.Poll()
		if err != nil {
			w.log.Error("[session] poll failed", "error", err)
			w.saveTake()
			player.Stop()
			w.publish(w.engine.Fail(err))
			return false
		}
		if updated {
			w.publish(snap)
		}
	}
}

// finish saves the take, releases both devices and publishes the idle
// snapshot.
func (w *worker) finish(player Player) {
	w.saveTake()
	snap := w.engine.Stop()
	player.Stop()
	w.publish(snap)
}

func (w *worker) saveTake() {
	if w.takesDir == "" {
		return
	}
	samples := w.engine.Take()
	if len(samples) == 0 {
		return
	}
	if err := os.MkdirAll(w.takesDir, 0755); err != nil {
		w.log.Warn("[session] creating takes directory", "error", err)
		return
	}
	w.takes++
	path := filepath.Join(w.takesDir, fmt.Sprintf("%s-%d.wav", w.id, w.takes))
	if err := audio.WriteClip(path, samples, audio.TargetRate); err != nil {
		w.log.Warn("[session] saving take", "path", path, "error", err)
		return
	}
	w.log.Info("[session] take saved", "path", path, "samples", len(samples))
}

// publish never blocks: when the queue is full the oldest snapshot is
// dropped to make room.
func (w *worker) publish(s Snapshot) {
	s = s.Clone()
	for {
		select {
		case w.updates <- s:
			return
		default:
		}
		select {
		case <-w.updates:
			w.dropped++
			if w.dropped == 1 || w.dropped%100 == 0 {
				w.log.Debug("[session] snapshot queue full, dropping oldest", "dropped", w.dropped)
			}
		default:
		}
	}
}

func (w *worker) teardown() {
	if w.engine.Recording() {
		w.publish(w.engine.Stop())
	}
	if w.owned != nil {
		if err := w.owned.Close(); err != nil {
			w.log.Warn("[session] closing capture", "error", err)
		}
	}
	close(w.updates)
	w.log.Info("[session] exited")
}
