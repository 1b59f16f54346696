package session

import (
	"fmt"

	"github.com/chaz8081/shadowing/internal/align"
	"github.com/chaz8081/shadowing/internal/scoring"
)

// Snapshot is a complete description of session state at one point in time.
// Consumers keep only the newest one they have received.
type Snapshot struct {
	Alignment        align.Report   `json:"alignment"`
	Scores           scoring.Scores `json:"scores"`
	Recording        bool           `json:"recording"`
	ReferencePlaying bool           `json:"reference_playing"`
	LatencyMS        float64        `json:"latency_ms"`
	Error            string         `json:"error,omitempty"`
}

// Clone returns a deep copy of s.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Alignment = s.Alignment.Clone()
	out.Scores = s.Scores.Clone()
	return out
}

func (s Snapshot) withRecording(recording, playing bool) Snapshot {
	s.Recording = recording
	s.ReferencePlaying = playing
	return s
}

func (s Snapshot) withAlignment(report align.Report, scores scoring.Scores) Snapshot {
	s.Alignment = report
	s.Scores = scores
	return s
}

// withLatency records the processing latency. Going over budget sets the
// error text; coming back under it clears any error.
func (s Snapshot) withLatency(latencyMS float64, budgetMS int) Snapshot {
	s.LatencyMS = latencyMS
	if latencyMS > float64(budgetMS) {
		s.Error = latencyError(latencyMS, budgetMS)
	} else {
		s.Error = ""
	}
	return s
}

func (s Snapshot) withError(message string) Snapshot {
	s.Error = message
	return s
}

func latencyError(latencyMS float64, budgetMS int) string {
	return fmt.Sprintf("latency %.1f ms exceeds budget %d ms", latencyMS, budgetMS)
}
