package align

import (
	"fmt"
	"math"
	"slices"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/chaz8081/shadowing/internal/features"
)

// contourTolerance is the pitch gap, in semitones, at which contour
// similarity reaches zero.
const contourTolerance = 12.0

// Segment is a fixed-size window of the warping path reported as one unit.
type Segment struct {
	Symbol               string  `json:"symbol"`
	ReferenceStartMS     float64 `json:"reference_start_ms"`
	ReferenceEndMS       float64 `json:"reference_end_ms"`
	LearnerStartMS       float64 `json:"learner_start_ms"`
	LearnerEndMS         float64 `json:"learner_end_ms"`
	TimingDeltaMS        float64 `json:"timing_delta_ms"`
	Similarity           float64 `json:"similarity"`
	ArticulationVariance float64 `json:"articulation_variance"`
	ContourSimilarity    float64 `json:"contour_similarity"`
}

// Report summarizes one alignment. It is a plain value; Clone before handing
// it to another goroutine that may outlive the caller's use of it.
type Report struct {
	Segments      []Segment     `json:"segments"`
	TotalDuration time.Duration `json:"total_duration"`
	// ReferencePathCost and LearnerPathCost both hold the mean local cost of
	// the single warping path.
	ReferencePathCost  float64   `json:"reference_path_cost"`
	LearnerPathCost    float64   `json:"learner_path_cost"`
	GlobalTimeOffsetMS float64   `json:"global_time_offset_ms"`
	Confidence         float64   `json:"confidence"`
	ReferenceEnergy    []float64 `json:"reference_energy"`
	LearnerEnergy      []float64 `json:"learner_energy"`
	SimilarityBand     []float64 `json:"similarity_band"`
	ContourBand        []float64 `json:"contour_band"`
	ReferencePitch     []float64 `json:"reference_pitch"`
	LearnerPitch       []float64 `json:"learner_pitch"`
}

// Clone returns a deep copy of r.
func (r Report) Clone() Report {
	out := r
	out.Segments = slices.Clone(r.Segments)
	out.ReferenceEnergy = slices.Clone(r.ReferenceEnergy)
	out.LearnerEnergy = slices.Clone(r.LearnerEnergy)
	out.SimilarityBand = slices.Clone(r.SimilarityBand)
	out.ContourBand = slices.Clone(r.ContourBand)
	out.ReferencePitch = slices.Clone(r.ReferencePitch)
	out.LearnerPitch = slices.Clone(r.LearnerPitch)
	return out
}

// Preview builds the report shown before any learner audio exists: the
// reference envelope and contour, with the similarity band set to the
// normalized reference energy.
func Preview(reference features.Vector, duration time.Duration) Report {
	return Report{
		TotalDuration:   duration,
		ReferenceEnergy: slices.Clone(reference.Energy),
		ReferencePitch:  slices.Clone(reference.Pitch),
		SimilarityBand:  normalizeBand(reference.Energy),
		ContourBand:     slices.Clone(reference.Pitch),
	}
}

func (a *Aligner) report(ref, learner features.Vector, g *grid, path []Step) Report {
	costs := make([]float64, len(path))
	for i, s := range path {
		costs[i] = s.Cost
	}
	pathCost := stat.Mean(costs, nil)

	segments := segmentPath(ref, learner, path, a.opts.SegmentFrames)
	deltas := make([]float64, len(segments))
	for i, s := range segments {
		deltas[i] = s.TimingDeltaMS
	}

	similarityBand := make([]float64, ref.Frames)
	contourBand := make([]float64, ref.Frames)
	for _, s := range path {
		similarityBand[s.Ref] = math.Max(similarityBand[s.Ref], stepSimilarity(s))
		contourBand[s.Ref] = math.Max(contourBand[s.Ref], contourSimilarity(ref, learner, s))
	}

	return Report{
		Segments:           segments,
		TotalDuration:      framesDuration(ref.Frames),
		ReferencePathCost:  pathCost,
		LearnerPathCost:    pathCost,
		GlobalTimeOffsetMS: stat.Mean(deltas, nil),
		Confidence:         1 / (1 + g.meanLocal()/CostCeiling),
		ReferenceEnergy:    slices.Clone(ref.Energy),
		LearnerEnergy:      slices.Clone(learner.Energy),
		SimilarityBand:     similarityBand,
		ContourBand:        contourBand,
		ReferencePitch:     slices.Clone(ref.Pitch),
		LearnerPitch:       slices.Clone(learner.Pitch),
	}
}

// segmentPath cuts the path into windows of size steps; the last window may
// be shorter.
func segmentPath(ref, learner features.Vector, path []Step, size int) []Segment {
	segments := make([]Segment, 0, (len(path)+size-1)/size)
	for start := 0; start < len(path); start += size {
		window := path[start:min(start+size, len(path))]
		first, last := window[0], window[len(window)-1]

		deltas := make([]float64, len(window))
		sims := make([]float64, len(window))
		artic := make([]float64, len(window))
		contour := make([]float64, len(window))
		for i, s := range window {
			deltas[i] = features.FramesToMS(float64(s.Learner - s.Ref))
			sims[i] = stepSimilarity(s)
			artic[i] = articulationDeviation(ref, learner, s)
			contour[i] = contourSimilarity(ref, learner, s)
		}

		segments = append(segments, Segment{
			Symbol:               fmt.Sprintf("S%d", len(segments)+1),
			ReferenceStartMS:     features.FramesToMS(float64(first.Ref)),
			ReferenceEndMS:       features.FramesToMS(float64(last.Ref + 1)),
			LearnerStartMS:       features.FramesToMS(float64(first.Learner)),
			LearnerEndMS:         features.FramesToMS(float64(last.Learner + 1)),
			TimingDeltaMS:        stat.Mean(deltas, nil),
			Similarity:           clamp(stat.Mean(sims, nil), 0, 1),
			ArticulationVariance: math.Max(stat.Mean(artic, nil), 0),
			ContourSimilarity:    clamp(stat.Mean(contour, nil), 0, 1),
		})
	}
	return segments
}

func stepSimilarity(s Step) float64 {
	return 1 - s.Cost/CostCeiling
}

// articulationDeviation is the squared flux gap plus half the squared energy
// gap between the two frames of a step.
func articulationDeviation(ref, learner features.Vector, s Step) float64 {
	df := learner.Flux[s.Learner] - ref.Flux[s.Ref]
	de := learner.Energy[s.Learner] - ref.Energy[s.Ref]
	return df*df + 0.5*de*de
}

func contourSimilarity(ref, learner features.Vector, s Step) float64 {
	gap := absDiff(ref.Pitch[s.Ref], learner.Pitch[s.Learner])
	return 1 - math.Min(gap/contourTolerance, 1)
}

// normalizeBand maps |v| / max|v| into [0, 1].
func normalizeBand(values []float64) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	for i, v := range values {
		out[i] = math.Abs(v)
	}
	peak := math.Max(floats.Max(out), 1e-6)
	floats.Scale(1/peak, out)
	for i := range out {
		out[i] = clamp(out[i], 0, 1)
	}
	return out
}
