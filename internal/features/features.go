// Package features defines the per-frame acoustic descriptor sequence that the
// alignment engine consumes, and the Extractor contract that produces it.
//
// All per-frame arrays share one frame count and are sampled at a fixed hop of
// HopMS milliseconds. A Vector is treated as immutable once produced.
package features

import (
	"errors"
	"fmt"
)

// HopMS is the frame hop shared by every extractor and by the aligner.
const HopMS = 10.0

// ErrEmptyClip is returned when an extractor is handed a clip with no samples.
var ErrEmptyClip = errors.New("features: clip contains no samples")

// Vector is the per-frame feature sequence of one clip.
type Vector struct {
	Frames      int         `json:"frames"`
	MFCC        [][]float64 `json:"mfcc"`
	Deltas      [][]float64 `json:"deltas"`
	DeltaDeltas [][]float64 `json:"delta_deltas"`
	Mel         [][]float64 `json:"mel"`
	Energy      []float64   `json:"energy"`
	Flux        []float64   `json:"spectral_flux"`
	Pitch       []float64   `json:"pitch_contour"` // semitones relative to the clip median
}

// Clip is the extractor input: mono samples at a known rate.
type Clip struct {
	Samples    []float32
	SampleRate int
}

// Extractor turns a clip into a feature Vector.
type Extractor interface {
	Extract(clip Clip) (Vector, error)
}

// Validate checks that every per-frame array has exactly Frames entries.
func (v Vector) Validate() error {
	if v.Frames < 0 {
		return fmt.Errorf("features: negative frame count %d", v.Frames)
	}
	matrices := []struct {
		name string
		rows [][]float64
	}{
		{"mfcc", v.MFCC},
		{"deltas", v.Deltas},
		{"delta_deltas", v.DeltaDeltas},
		{"mel", v.Mel},
	}
	for _, m := range matrices {
		if len(m.rows) != v.Frames {
			return fmt.Errorf("features: %s has %d frames, want %d", m.name, len(m.rows), v.Frames)
		}
	}
	series := []struct {
		name   string
		values []float64
	}{
		{"energy", v.Energy},
		{"spectral_flux", v.Flux},
		{"pitch_contour", v.Pitch},
	}
	for _, s := range series {
		if len(s.values) != v.Frames {
			return fmt.Errorf("features: %s has %d frames, want %d", s.name, len(s.values), v.Frames)
		}
	}
	return nil
}

// Slice returns the frames in [start, end) as a Vector sharing the receiver's
// backing arrays. Bounds are clamped to the valid range.
func (v Vector) Slice(start, end int) Vector {
	if start < 0 {
		start = 0
	}
	if end > v.Frames {
		end = v.Frames
	}
	if start > end {
		start = end
	}
	return Vector{
		Frames:      end - start,
		MFCC:        v.MFCC[start:end],
		Deltas:      v.Deltas[start:end],
		DeltaDeltas: v.DeltaDeltas[start:end],
		Mel:         v.Mel[start:end],
		Energy:      v.Energy[start:end],
		Flux:        v.Flux[start:end],
		Pitch:       v.Pitch[start:end],
	}
}

// FramesToMS converts a frame count to milliseconds at HopMS.
func FramesToMS(frames float64) float64 {
	return frames * HopMS
}
