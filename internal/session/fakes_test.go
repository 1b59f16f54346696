package session

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/chaz8081/shadowing/internal/align"
	"github.com/chaz8081/shadowing/internal/features"
	"github.com/chaz8081/shadowing/internal/scoring"
)

const testRate = 16000

// scriptedCapture replays fixed chunks. It never blocks longer than a
// millisecond, so tests stay deterministic.
type scriptedCapture struct {
	mu       sync.Mutex
	rate     int
	script   [][]float32
	pending  [][]float32
	startErr error
	started  int
	stopped  int
	active   bool
}

func newScriptedCapture(samples []float32, chunk int) *scriptedCapture {
	c := &scriptedCapture{rate: testRate}
	for start := 0; start < len(samples); start += chunk {
		c.script = append(c.script, samples[start:min(start+chunk, len(samples))])
	}
	return c
}

func (c *scriptedCapture) Start() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.startErr != nil {
		return 0, c.startErr
	}
	if c.active {
		return 0, errors.New("capture already started")
	}
	c.started++
	c.active = true
	c.pending = append([][]float32(nil), c.script...)
	return c.rate, nil
}

func (c *scriptedCapture) RecvChunk(time.Duration) ([]float32, bool) {
	c.mu.Lock()
	if !c.active || len(c.pending) == 0 {
		c.mu.Unlock()
		time.Sleep(time.Millisecond)
		return nil, false
	}
	chunk := c.pending[0]
	c.pending = c.pending[1:]
	c.mu.Unlock()
	return chunk, true
}

func (c *scriptedCapture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped++
	c.active = false
	c.pending = nil
}

func (c *scriptedCapture) counts() (started, stopped int, active bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started, c.stopped, c.active
}

type fakePlayer struct {
	mu      sync.Mutex
	playErr error
	plays   int
	stops   int
}

func (p *fakePlayer) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.plays++
	return p.playErr
}

func (p *fakePlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
}

func (p *fakePlayer) counts() (plays, stops int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.plays, p.stops
}

func (p *fakePlayer) factory() PlayerFactory {
	return func(features.Clip) (Player, error) { return p, nil }
}

// slowScorer sleeps before scoring; delays are consumed in order and the
// last one repeats.
type slowScorer struct {
	mu     sync.Mutex
	delays []time.Duration
	calc   scoring.Calculator
}

func (s *slowScorer) Score(report align.Report) (scoring.Scores, error) {
	s.mu.Lock()
	d := s.delays[0]
	if len(s.delays) > 1 {
		s.delays = s.delays[1:]
	}
	s.mu.Unlock()
	time.Sleep(d)
	return s.calc.Score(report)
}

type extractorFunc func(features.Clip) (features.Vector, error)

func (f extractorFunc) Extract(c features.Clip) (features.Vector, error) { return f(c) }

// speechLike returns n samples of a tone under a slowly varying envelope so
// the energy contour has structure.
func speechLike(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		t := float64(i) / testRate
		env := 0.2 + 0.8*math.Abs(math.Sin(2*math.Pi*3*t))
		out[i] = float32(0.5 * env * math.Sin(2*math.Pi*220*t))
	}
	return out
}

func referenceClip() features.Clip {
	return features.Clip{Samples: speechLike(testRate / 2), SampleRate: testRate}
}
