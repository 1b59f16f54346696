package session

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chaz8081/shadowing/internal/align"
	"github.com/chaz8081/shadowing/internal/audio"
	"github.com/chaz8081/shadowing/internal/features"
	"github.com/chaz8081/shadowing/internal/scoring"
)

const (
	// pollTimeout bounds the engine's only blocking wait.
	pollTimeout = 20 * time.Millisecond

	// minSignalFraction sets the minimum buffered signal before aligning:
	// one tenth of a second at the target rate.
	minSignalFraction = 10

	// debugEvery is how often, in chunks, the engine logs progress.
	debugEvery = 50
)

var (
	// ErrConstruction is returned when a session cannot be built, for
	// example because the reference clip is missing or yields no features.
	ErrConstruction = errors.New("session: construction failed")

	// ErrNotRecording is returned by Poll outside a take.
	ErrNotRecording = errors.New("session: not recording")
)

// EngineConfig holds the engine's collaborators and budgets. Zero fields
// take the defaults shown. A zero Weights or Options value can never pass
// validation (all-zero weights and zero SegmentFrames are rejected), so
// replacing it never hides a real setting; a partially set value is used
// as is.
type EngineConfig struct {
	Weights         align.Weights      // align.DefaultWeights()
	Align           align.Options      // align.DefaultOptions()
	LatencyBudgetMS int                // 200
	Extractor       features.Extractor // features.NewEnvelopeExtractor()
	Scorer          Scorer             // scoring.NewCalculator()
}

func (c *EngineConfig) applyDefaults() {
	if c.Weights == (align.Weights{}) {
		c.Weights = align.DefaultWeights()
	}
	if c.Align == (align.Options{}) {
		c.Align = align.DefaultOptions()
	}
	if c.LatencyBudgetMS <= 0 {
		c.LatencyBudgetMS = 200
	}
	if c.Extractor == nil {
		c.Extractor = features.NewEnvelopeExtractor()
	}
	if c.Scorer == nil {
		c.Scorer = scoring.NewCalculator()
	}
}

// Engine runs one shadowing session: it owns the capture source, keeps the
// reference features, and turns each captured chunk into a Snapshot.
//
// An Engine is not safe for concurrent use; Runtime drives it from a single
// goroutine.
type Engine struct {
	capture   CaptureSource
	extractor features.Extractor
	aligner   *align.Aligner
	scorer    Scorer
	log       *slog.Logger

	reference        features.Vector
	referenceSamples int
	budgetMS         int

	recording bool
	resampler *audio.StreamResampler
	buffer    []float32
	chunks    int
	snapshot  Snapshot
}

// NewEngine extracts the reference features once and returns an idle engine.
func NewEngine(reference features.Clip, cfg EngineConfig, capture CaptureSource) (*Engine, error) {
	if capture == nil {
		return nil, fmt.Errorf("%w: no capture source", ErrConstruction)
	}
	cfg.applyDefaults()

	aligner, err := align.NewAligner(cfg.Weights, cfg.Align)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConstruction, err)
	}
	vector, err := cfg.Extractor.Extract(reference)
	if err != nil {
		return nil, fmt.Errorf("%w: extracting reference features: %v", ErrConstruction, err)
	}
	if vector.Frames == 0 {
		return nil, fmt.Errorf("%w: reference clip yields no frames", ErrConstruction)
	}
	if err := vector.Validate(); err != nil {
		return nil, fmt.Errorf("%w: reference: %v", ErrConstruction, err)
	}

	e := &Engine{
		capture:          capture,
		extractor:        cfg.Extractor,
		aligner:          aligner,
		scorer:           cfg.Scorer,
		log:              slog.Default(),
		reference:        vector,
		referenceSamples: len(reference.Samples),
		budgetMS:         cfg.LatencyBudgetMS,
	}
	e.snapshot = Snapshot{Alignment: e.ReferencePreview()}
	return e, nil
}

// Start opens the capture source and begins a take.
func (e *Engine) Start() (Snapshot, error) {
	if e.recording {
		return e.snapshot.Clone(), nil
	}

	e.log.Info("[session] starting capture")
	rate, err := e.capture.Start()
	if err != nil {
		return Snapshot{}, fmt.Errorf("starting capture: %w", err)
	}
	resampler, err := audio.NewStreamResampler(rate, audio.TargetRate)
	if err != nil {
		e.capture.Stop()
		return Snapshot{}, fmt.Errorf("starting capture: %w", err)
	}

	e.resampler = resampler
	e.buffer = e.buffer[:0]
	e.chunks = 0
	e.recording = true
	e.snapshot = e.snapshot.withRecording(true, true).withError("")
	from, to := resampler.Rates()
	e.log.Info("[session] capture started", "capture_rate", from, "analysis_rate", to)
	return e.snapshot.Clone(), nil
}

// Poll waits up to 20 ms for one chunk. It reports true when the chunk
// produced a new snapshot; too little buffered signal or no chunk at all
// reports false.
func (e *Engine) Poll() (Snapshot, bool, error) {
	if !e.recording {
		return Snapshot{}, false, ErrNotRecording
	}

	chunk, ok := e.capture.RecvChunk(pollTimeout)
	if !ok {
		return Snapshot{}, false, nil
	}
	e.chunks++

	resampled, err := e.resampler.Process(chunk)
	if err != nil {
		return Snapshot{}, false, err
	}
	e.buffer = appendLimited(e.buffer, resampled, e.maxSamples())
	if len(e.buffer) < minRequiredSamples() {
		return Snapshot{}, false, nil
	}

	started := time.Now()
	learner, err := e.extractor.Extract(features.Clip{Samples: e.buffer, SampleRate: audio.TargetRate})
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("extracting learner features: %w", err)
	}
	if err := learner.Validate(); err != nil {
		return Snapshot{}, false, fmt.Errorf("%w: learner: %v", align.ErrValidation, err)
	}
	reference, learner := align.ProgressWindow(e.reference, learner, e.aligner.Options().Band)
	report, err := e.aligner.Align(reference, learner)
	if err != nil {
		return Snapshot{}, false, err
	}
	scores, err := e.scorer.Score(report)
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("scoring: %w", err)
	}
	latency := float64(time.Since(started).Microseconds()) / 1000

	if latency > float64(e.budgetMS) {
		e.log.Warn("[session] latency exceeds budget", "latency_ms", latency, "budget_ms", e.budgetMS)
	}
	if e.chunks%debugEvery == 0 {
		e.log.Debug("[session] processed chunk",
			"chunk", e.chunks, "latency_ms", latency, "learner_samples", len(e.buffer))
	}

	e.snapshot = e.snapshot.
		withAlignment(report, scores).
		withRecording(true, true).
		withLatency(latency, e.budgetMS)
	return e.snapshot.Clone(), true, nil
}

// Stop ends the take and releases the capture source. Stopping an idle
// engine only returns the idle snapshot. The snapshot keeps the last
// alignment, or the reference preview if no take has produced one.
func (e *Engine) Stop() Snapshot {
	if e.recording {
		e.log.Info("[session] stopping capture", "chunks_processed", e.chunks)
		e.capture.Stop()
		e.recording = false
		e.resampler = nil
		e.buffer = e.buffer[:0]
	}
	e.snapshot = e.snapshot.withRecording(false, false)
	return e.snapshot.Clone()
}

// Fail records an error on an idle snapshot, stopping the take if needed.
func (e *Engine) Fail(err error) Snapshot {
	e.Stop()
	e.snapshot = e.snapshot.withError(err.Error())
	return e.snapshot.Clone()
}

// Snapshot returns the current state without changing it.
func (e *Engine) Snapshot() Snapshot {
	return e.snapshot.Clone()
}

// Recording reports whether a take is in progress.
func (e *Engine) Recording() bool {
	return e.recording
}

// Take returns a copy of the learner audio buffered so far, at
// audio.TargetRate.
func (e *Engine) Take() []float32 {
	return append([]float32(nil), e.buffer...)
}

// ReferencePreview is the report shown before any learner audio exists.
func (e *Engine) ReferencePreview() align.Report {
	duration := time.Duration(float64(e.referenceSamples) / audio.TargetRate * float64(time.Second))
	return align.Preview(e.reference, duration)
}

// maxSamples caps the learner buffer at the reference length plus half a
// second.
func (e *Engine) maxSamples() int {
	return e.referenceSamples + audio.TargetRate/2
}

// appendLimited appends chunk and drops the oldest samples beyond
// maxSamples.
func appendLimited(buffer, chunk []float32, maxSamples int) []float32 {
	buffer = append(buffer, chunk...)
	if excess := len(buffer) - maxSamples; excess > 0 {
		n := copy(buffer, buffer[excess:])
		buffer = buffer[:n]
	}
	return buffer
}

func minRequiredSamples() int {
	return audio.TargetRate / minSignalFraction
}
