package audio

import (
	"fmt"
	"math"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Resample converts a complete mono clip from one rate to another. The
// result always holds ceil(len(samples)*to/from) samples.
func Resample(samples []float32, from, to int) ([]float32, error) {
	if from <= 0 || to <= 0 {
		return nil, fmt.Errorf("invalid sample rates %d -> %d", from, to)
	}
	if from == to || len(samples) == 0 {
		return append([]float32(nil), samples...), nil
	}

	want := int(math.Ceil(float64(len(samples)) * float64(to) / float64(from)))

	r, err := newResampler(from, to)
	if err != nil {
		return nil, err
	}
	// Trailing silence pushes the filter's delayed tail through.
	input := make([]float64, len(samples)+from/10)
	for i, s := range samples {
		input[i] = float64(s)
	}
	output, err := r.Process(input)
	if err != nil {
		return nil, fmt.Errorf("resample error: %w", err)
	}

	out := make([]float32, want)
	for i := 0; i < want && i < len(output); i++ {
		out[i] = float32(output[i])
	}
	return out, nil
}

// StreamResampler converts consecutive chunks of one stream, keeping filter
// state across calls. Equal rates pass chunks through untouched.
type StreamResampler struct {
	from, to  int
	resampler resampling.Resampler
}

// NewStreamResampler returns a resampler for a from -> to stream.
func NewStreamResampler(from, to int) (*StreamResampler, error) {
	if from <= 0 || to <= 0 {
		return nil, fmt.Errorf("invalid sample rates %d -> %d", from, to)
	}
	s := &StreamResampler{from: from, to: to}
	if from != to {
		r, err := newResampler(from, to)
		if err != nil {
			return nil, err
		}
		s.resampler = r
	}
	return s, nil
}

// Process resamples one chunk. Early calls may return fewer samples than
// the rate ratio suggests while the filter fills.
func (s *StreamResampler) Process(chunk []float32) ([]float32, error) {
	if s.resampler == nil {
		return append([]float32(nil), chunk...), nil
	}
	input := make([]float64, len(chunk))
	for i, v := range chunk {
		input[i] = float64(v)
	}
	output, err := s.resampler.Process(input)
	if err != nil {
		return nil, fmt.Errorf("resample error: %w", err)
	}
	out := make([]float32, len(output))
	for i, v := range output {
		out[i] = float32(v)
	}
	return out, nil
}

// Rates returns the input and output rates.
func (s *StreamResampler) Rates() (int, int) {
	return s.from, s.to
}

func newResampler(from, to int) (resampling.Resampler, error) {
	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(from),
		OutputRate: float64(to),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create resampler: %w", err)
	}
	return r, nil
}
