// Package align maps a learner's feature sequence onto a reference feature
// sequence with banded dynamic time warping and derives per-segment timing
// and quality metrics from the warping path.
//
// Only cells with |row-col| <= Band are evaluated, so a call costs
// O(frames * Band) time and memory. Rows index reference frames and columns
// index learner frames. Each call recomputes its grid from scratch.
package align

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/chaz8081/shadowing/internal/features"
)

// CostCeiling bounds the per-frame cost so a single outlier frame cannot
// dominate the cumulative path cost.
const CostCeiling = 6.0

var (
	// ErrValidation marks inputs rejected before any computation starts.
	ErrValidation = errors.New("align: invalid input")

	// ErrAlignment marks a grid with no reachable terminal cell.
	ErrAlignment = errors.New("align: no reachable alignment")
)

// Options configures the band and the segmentation of the path.
type Options struct {
	Band          int // max |reference frame - learner frame| on the path
	SegmentFrames int // path steps per reported segment
}

// DefaultOptions returns Band 20 and SegmentFrames 18.
func DefaultOptions() Options {
	return Options{Band: 20, SegmentFrames: 18}
}

// Validate checks the option ranges.
func (o Options) Validate() error {
	if o.Band < 0 {
		return fmt.Errorf("%w: band must be >= 0, got %d", ErrValidation, o.Band)
	}
	if o.SegmentFrames < 1 {
		return fmt.Errorf("%w: segment frames must be >= 1, got %d", ErrValidation, o.SegmentFrames)
	}
	return nil
}

// Step is one cell on the warping path.
type Step struct {
	Ref     int
	Learner int
	Cost    float64 // local cost of the cell, in [0, CostCeiling]
}

// Aligner aligns feature vectors with fixed weights and options.
type Aligner struct {
	weights Weights
	opts    Options
}

// NewAligner validates weights and options and returns an Aligner.
func NewAligner(weights Weights, opts Options) (*Aligner, error) {
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Aligner{weights: weights, opts: opts}, nil
}

// Options returns the aligner's options.
func (a *Aligner) Options() Options {
	return a.opts
}

// Align is shorthand for NewAligner followed by Aligner.Align.
func Align(reference, learner features.Vector, weights Weights, opts Options) (Report, error) {
	a, err := NewAligner(weights, opts)
	if err != nil {
		return Report{}, err
	}
	return a.Align(reference, learner)
}

// Align warps learner onto reference and summarizes the path.
func (a *Aligner) Align(reference, learner features.Vector) (Report, error) {
	g, path, err := a.solve(reference, learner)
	if err != nil {
		return Report{}, err
	}
	return a.report(reference, learner, g, path), nil
}

// Trace returns the warping path without building a report.
func (a *Aligner) Trace(reference, learner features.Vector) ([]Step, error) {
	_, path, err := a.solve(reference, learner)
	return path, err
}

// ProgressWindow crops a reference and a learner sequence that may differ
// in length by more than band. The reference is cut to where the learner
// could have reached, and the learner to at most band frames past the
// reference end, so the pair always fits the band.
func ProgressWindow(reference, learner features.Vector, band int) (features.Vector, features.Vector) {
	refEnd := min(reference.Frames, learner.Frames+band)
	learnerEnd := min(learner.Frames, refEnd+band)
	return reference.Slice(0, refEnd), learner.Slice(0, learnerEnd)
}

func (a *Aligner) solve(reference, learner features.Vector) (*grid, []Step, error) {
	if err := checkInput("reference", reference); err != nil {
		return nil, nil, err
	}
	if err := checkInput("learner", learner); err != nil {
		return nil, nil, err
	}

	drift := reference.Frames - learner.Frames
	if drift < 0 {
		drift = -drift
	}
	if drift > a.opts.Band {
		return nil, nil, fmt.Errorf("%w: frame counts %d and %d differ by more than band %d",
			ErrAlignment, reference.Frames, learner.Frames, a.opts.Band)
	}

	g := newGrid(reference.Frames, learner.Frames, a.opts.Band)
	g.fill(func(r, c int) float64 {
		return frameCost(reference, learner, r, c, a.weights)
	})

	r, c, ok := g.terminal()
	if !ok {
		return nil, nil, fmt.Errorf("%w: no finite terminal cell within band %d", ErrAlignment, a.opts.Band)
	}
	return g, g.backtrace(r, c), nil
}

func checkInput(side string, v features.Vector) error {
	if v.Frames == 0 {
		return fmt.Errorf("%w: %s features are empty", ErrValidation, side)
	}
	if err := v.Validate(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrValidation, side, err)
	}
	return nil
}

// frameCost is the weighted distance between reference frame r and learner
// frame c, clamped to [0, CostCeiling].
func frameCost(ref, learner features.Vector, r, c int, w Weights) float64 {
	cost := w.MFCC*meanAbsDiff(ref.MFCC[r], learner.MFCC[c]) +
		w.Delta*meanAbsDiff(ref.Deltas[r], learner.Deltas[c]) +
		w.DeltaDelta*meanAbsDiff(ref.DeltaDeltas[r], learner.DeltaDeltas[c]) +
		w.Mel*meanAbsDiff(ref.Mel[r], learner.Mel[c]) +
		w.Energy*absDiff(ref.Energy[r], learner.Energy[c]) +
		w.Flux*absDiff(ref.Flux[r], learner.Flux[c]) +
		w.Pitch*absDiff(ref.Pitch[r], learner.Pitch[c])
	if math.IsNaN(cost) {
		return CostCeiling
	}
	return clamp(cost, 0, CostCeiling)
}

// meanAbsDiff compares the shared prefix of a and b. Zero-width rows cost 0.
func meanAbsDiff(a, b []float64) float64 {
	n := min(len(a), len(b))
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += absDiff(a[i], b[i])
	}
	return sum / float64(n)
}

func absDiff(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func framesDuration(frames int) time.Duration {
	return time.Duration(features.FramesToMS(float64(frames)) * float64(time.Millisecond))
}
