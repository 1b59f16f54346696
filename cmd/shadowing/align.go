package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chaz8081/shadowing/internal/align"
	"github.com/chaz8081/shadowing/internal/audio"
	"github.com/chaz8081/shadowing/internal/features"
	"github.com/chaz8081/shadowing/internal/scoring"
)

var alignCmd = &cobra.Command{
	Use:   "align <reference.wav> <learner.wav>",
	Short: "Align a recorded take against a reference and print the report",
	Long: `Align a learner recording against a reference clip offline.

The alignment report and scores are written to stdout as indented JSON.
A take longer than the reference is scored up to the band past the reference
end; a shorter take is scored against the matching part of the reference.
Both clips are resampled to 16 kHz mono before feature extraction.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		an, err := newAnalyzer(args[0])
		if err != nil {
			return err
		}
		result, err := an.analyze(args[1])
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

type analysis struct {
	Learner string         `json:"learner"`
	Report  align.Report   `json:"report"`
	Scores  scoring.Scores `json:"scores"`
}

// analyzer holds the reference features so many takes can be scored
// against one reference.
type analyzer struct {
	reference features.Vector
	extractor features.Extractor
	aligner   *align.Aligner
	scorer    *scoring.Calculator
}

func newAnalyzer(referencePath string) (*analyzer, error) {
	weights, opts, err := alignSettings(cfg)
	if err != nil {
		return nil, err
	}
	aligner, err := align.NewAligner(weights, opts)
	if err != nil {
		return nil, err
	}

	extractor := features.NewEnvelopeExtractor()
	reference, err := extractFile(extractor, referencePath)
	if err != nil {
		return nil, err
	}
	return &analyzer{
		reference: reference,
		extractor: extractor,
		aligner:   aligner,
		scorer:    scoring.NewCalculator(),
	}, nil
}

func (a *analyzer) analyze(learnerPath string) (analysis, error) {
	learner, err := extractFile(a.extractor, learnerPath)
	if err != nil {
		return analysis{}, err
	}
	// Takes rarely match the reference length; crop to matched progress as
	// the live session does.
	reference, learner := align.ProgressWindow(a.reference, learner, a.aligner.Options().Band)
	report, err := a.aligner.Align(reference, learner)
	if err != nil {
		return analysis{}, fmt.Errorf("aligning %s: %w", learnerPath, err)
	}
	scores, err := a.scorer.Score(report)
	if err != nil {
		return analysis{}, fmt.Errorf("scoring %s: %w", learnerPath, err)
	}
	return analysis{Learner: learnerPath, Report: report, Scores: scores}, nil
}

func extractFile(extractor features.Extractor, path string) (features.Vector, error) {
	clip, err := audio.LoadClip(path)
	if err != nil {
		return features.Vector{}, err
	}
	v, err := extractor.Extract(clip)
	if err != nil {
		return features.Vector{}, fmt.Errorf("extracting %s: %w", path, err)
	}
	return v, nil
}
