package align

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// Weights scale each feature family's contribution to the per-frame cost.
type Weights struct {
	MFCC       float64 `json:"mfcc"`
	Delta      float64 `json:"delta"`
	DeltaDelta float64 `json:"delta_delta"`
	Mel        float64 `json:"mel"`
	Energy     float64 `json:"energy"`
	Flux       float64 `json:"flux"`
	Pitch      float64 `json:"pitch"`
}

// DefaultWeights returns the weights used when no weights file is configured.
func DefaultWeights() Weights {
	return Weights{
		MFCC:       0.3,
		Delta:      0.15,
		DeltaDelta: 0.05,
		Mel:        0.1,
		Energy:     0.15,
		Flux:       0.05,
		Pitch:      0.2,
	}
}

// LoadWeights reads a JSON weights document. Fields missing from the document
// keep their default value.
func LoadWeights(path string) (Weights, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Weights{}, fmt.Errorf("align: reading weights %q: %w", path, err)
	}

	w := DefaultWeights()
	if err := json.Unmarshal(data, &w); err != nil {
		return Weights{}, fmt.Errorf("%w: parsing weights %q: %v", ErrValidation, path, err)
	}
	if err := w.Validate(); err != nil {
		return Weights{}, err
	}
	return w, nil
}

// Validate rejects negative or non-finite weights, and weights that are all
// zero, since those make every frame pair cost the same.
func (w Weights) Validate() error {
	fields := []struct {
		name  string
		value float64
	}{
		{"mfcc", w.MFCC},
		{"delta", w.Delta},
		{"delta_delta", w.DeltaDelta},
		{"mel", w.Mel},
		{"energy", w.Energy},
		{"flux", w.Flux},
		{"pitch", w.Pitch},
	}
	var total float64
	for _, f := range fields {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) || f.value < 0 {
			return fmt.Errorf("%w: weight %s must be a non-negative number, got %v", ErrValidation, f.name, f.value)
		}
		total += f.value
	}
	if total == 0 {
		return fmt.Errorf("%w: at least one weight must be positive", ErrValidation)
	}
	return nil
}
