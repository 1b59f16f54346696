package session

import (
	"time"

	"github.com/chaz8081/shadowing/internal/align"
	"github.com/chaz8081/shadowing/internal/features"
	"github.com/chaz8081/shadowing/internal/scoring"
)

// CaptureSource delivers learner audio. audio.LiveCapture is the device
// implementation; tests script their own.
type CaptureSource interface {
	// Start opens the source and returns its sample rate.
	Start() (int, error)
	// RecvChunk waits at most timeout for the next chunk of mono samples.
	RecvChunk(timeout time.Duration) ([]float32, bool)
	// Stop releases the source. It must be safe to call when not started.
	Stop()
}

// Player plays the reference clip while the learner records.
type Player interface {
	Play() error
	Stop()
}

// PlayerFactory builds a Player for the reference clip at the start of
// each take.
type PlayerFactory func(reference features.Clip) (Player, error)

// Scorer converts an alignment report into scores.
type Scorer interface {
	Score(report align.Report) (scoring.Scores, error)
}

// ClipLoader decodes a clip file into 16 kHz mono samples.
type ClipLoader func(path string) (features.Clip, error)
