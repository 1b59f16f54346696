package features

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

const (
	windowMS = 25
	epsilon  = 1e-12
)

// EnvelopeExtractor produces a time-domain Vector: per-frame RMS energy and
// positive energy flux, both z-normalized over the clip. Spectral channels
// (MFCC, deltas, mel) are zero-width and the pitch contour is flat, so an
// aligner weighting those channels sees no difference on them.
//
// It exists so the CLI can run end to end without a spectral front end; a
// richer Extractor can be swapped in through session.WithExtractor.
type EnvelopeExtractor struct{}

// NewEnvelopeExtractor returns an EnvelopeExtractor.
func NewEnvelopeExtractor() *EnvelopeExtractor {
	return &EnvelopeExtractor{}
}

// Extract frames the clip with a 25 ms window and a HopMS hop.
func (e *EnvelopeExtractor) Extract(clip Clip) (Vector, error) {
	if len(clip.Samples) == 0 {
		return Vector{}, ErrEmptyClip
	}
	if clip.SampleRate <= 0 {
		return Vector{}, fmt.Errorf("features: invalid sample rate %d", clip.SampleRate)
	}

	window := clip.SampleRate * windowMS / 1000
	hop := int(float64(clip.SampleRate) * HopMS / 1000)
	if window < 1 {
		window = 1
	}
	if hop < 1 {
		hop = 1
	}

	frames := 1
	if len(clip.Samples) > window {
		frames = 1 + (len(clip.Samples)-window)/hop
	}

	energy := make([]float64, frames)
	for i := range energy {
		start := i * hop
		end := min(start+window, len(clip.Samples))
		var sum float64
		for _, s := range clip.Samples[start:end] {
			sum += float64(s) * float64(s)
		}
		energy[i] = math.Sqrt(sum / float64(end-start))
	}

	flux := make([]float64, frames)
	for i := 1; i < frames; i++ {
		flux[i] = math.Max(energy[i]-energy[i-1], 0)
	}

	v := Vector{
		Frames:      frames,
		MFCC:        make([][]float64, frames),
		Deltas:      make([][]float64, frames),
		DeltaDeltas: make([][]float64, frames),
		Mel:         make([][]float64, frames),
		Energy:      normalize(energy),
		Flux:        normalize(flux),
		Pitch:       make([]float64, frames),
	}
	for i := 0; i < frames; i++ {
		v.MFCC[i] = []float64{}
		v.Deltas[i] = []float64{}
		v.DeltaDeltas[i] = []float64{}
		v.Mel[i] = []float64{}
	}
	return v, nil
}

// normalize rescales values to zero mean and unit standard deviation.
func normalize(values []float64) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	mean, std := stat.PopMeanStdDev(values, nil)
	if std < epsilon {
		std = epsilon
	}
	for i, v := range values {
		out[i] = (v - mean) / std
	}
	return out
}
