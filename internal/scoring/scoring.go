// Package scoring turns an alignment report into learner-facing scores in
// [0, 1]: timing, articulation, intonation and an overall blend that also
// weighs the aligner's confidence.
package scoring

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/chaz8081/shadowing/internal/align"
)

const (
	timingToleranceMS     = 120.0
	articulationTolerance = 1.0
	confidenceWeight      = 0.3
	timingWeight          = 0.4
	articulationWeight    = 0.3
	intonationWeight      = 0.3
)

// SegmentScore holds the scores of one aligned segment.
type SegmentScore struct {
	Symbol       string  `json:"symbol"`
	Timing       float64 `json:"timing"`
	Articulation float64 `json:"articulation"`
	Intonation   float64 `json:"intonation"`
}

// Scores is the scored view of one report.
type Scores struct {
	Overall      float64        `json:"overall"`
	Timing       float64        `json:"timing"`
	Articulation float64        `json:"articulation"`
	Intonation   float64        `json:"intonation"`
	Segments     []SegmentScore `json:"segments"`
}

// Clone returns a deep copy of s.
func (s Scores) Clone() Scores {
	out := s
	if s.Segments != nil {
		out.Segments = append([]SegmentScore(nil), s.Segments...)
	}
	return out
}

// Calculator scores reports. The zero value is ready to use.
type Calculator struct{}

// NewCalculator returns a Calculator.
func NewCalculator() *Calculator {
	return &Calculator{}
}

// Score aggregates the report's segments. A report without segments scores
// its confidence alone, with every component at 1.
func (c *Calculator) Score(report align.Report) (Scores, error) {
	if len(report.Segments) == 0 {
		return Scores{
			Overall:      clamp01(report.Confidence),
			Timing:       1,
			Articulation: 1,
			Intonation:   1,
		}, nil
	}

	n := len(report.Segments)
	deltas := make([]float64, n)
	variances := make([]float64, n)
	similarities := make([]float64, n)
	segments := make([]SegmentScore, n)
	for i, seg := range report.Segments {
		deltas[i] = math.Abs(seg.TimingDeltaMS)
		variances[i] = seg.ArticulationVariance
		similarities[i] = clamp01(seg.Similarity)
		segments[i] = SegmentScore{
			Symbol:       seg.Symbol,
			Timing:       toleranceScore(deltas[i], timingToleranceMS),
			Articulation: clamp01(1 - seg.ArticulationVariance),
			Intonation:   similarities[i],
		}
	}

	timing := toleranceScore(stat.Mean(deltas, nil), timingToleranceMS)
	articulation := toleranceScore(stat.Mean(variances, nil), articulationTolerance)
	intonation := clamp01(stat.Mean(similarities, nil))

	composite := timingWeight*timing + articulationWeight*articulation + intonationWeight*intonation
	overall := clamp01(composite*(1-confidenceWeight) + clamp01(report.Confidence)*confidenceWeight)

	return Scores{
		Overall:      overall,
		Timing:       timing,
		Articulation: articulation,
		Intonation:   intonation,
		Segments:     segments,
	}, nil
}

// toleranceScore is 1 at zero error and falls linearly to 0 at tolerance.
func toleranceScore(value, tolerance float64) float64 {
	return clamp01(1 - math.Min(value/tolerance, 1))
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
