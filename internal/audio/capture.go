// Package audio handles the sound I/O around a shadowing session: live
// microphone capture, reference playback, WAV decode and encode, and sample
// rate conversion to the 16 kHz analysis rate.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/gen2brain/malgo"
)

// ErrDevice is returned when an audio device cannot be found or opened.
var ErrDevice = errors.New("audio: device unavailable")

// CaptureConfig selects and sizes the capture device.
type CaptureConfig struct {
	SampleRate uint32 // requested device rate; 0 uses the device default
	Channels   uint32 // requested device channels; frames are mixed to mono
	Device     string // device name; empty selects the system default
	LatencyMS  int    // upper bound of the capture latency window
}

// LiveCapture delivers microphone audio as mono float32 chunks.
//
// The malgo callback never blocks: chunks go into a bounded channel and are
// dropped when the consumer falls behind. Start, RecvChunk and Stop are
// meant to be called from a single goroutine.
type LiveCapture struct {
	cfg CaptureConfig
	ctx *malgo.AllocatedContext

	mu      sync.Mutex
	device  *malgo.Device
	chunks  chan []float32
	active  atomic.Bool
	dropped atomic.Uint64
}

// NewLiveCapture initializes the audio context. Call Close when done.
func NewLiveCapture(cfg CaptureConfig) (*LiveCapture, error) {
	if cfg.Channels == 0 {
		cfg.Channels = 1
	}
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: initializing audio context: %v", ErrDevice, err)
	}
	return &LiveCapture{cfg: cfg, ctx: ctx}, nil
}

// Start opens the capture device and returns its actual sample rate.
func (c *LiveCapture) Start() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.device != nil {
		return 0, fmt.Errorf("capture already started")
	}

	deviceCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceCfg.Capture.Format = malgo.FormatF32
	deviceCfg.Capture.Channels = c.cfg.Channels
	deviceCfg.SampleRate = c.cfg.SampleRate
	if c.cfg.Device != "" {
		id, err := findDevice(c.ctx.Context, malgo.Capture, c.cfg.Device)
		if err != nil {
			return 0, err
		}
		deviceCfg.Capture.DeviceID = id
	}

	rate := c.cfg.SampleRate
	if rate == 0 {
		rate = 48000
	}
	c.chunks = make(chan []float32, channelCapacity(rate, c.cfg.LatencyMS))

	device, err := malgo.InitDevice(c.ctx.Context, deviceCfg, malgo.DeviceCallbacks{
		Data: c.onData,
	})
	if err != nil {
		return 0, fmt.Errorf("%w: initializing capture device: %v", ErrDevice, err)
	}

	c.active.Store(true)
	if err := device.Start(); err != nil {
		c.active.Store(false)
		device.Uninit()
		return 0, fmt.Errorf("%w: starting capture device: %v", ErrDevice, err)
	}
	c.device = device

	actual := int(device.SampleRate())
	slog.Debug("[capture] started", "rate", actual, "channels", c.cfg.Channels, "device", c.cfg.Device)
	return actual, nil
}

// RecvChunk waits up to timeout for the next chunk.
func (c *LiveCapture) RecvChunk(timeout time.Duration) ([]float32, bool) {
	c.mu.Lock()
	chunks := c.chunks
	c.mu.Unlock()
	if chunks == nil {
		return nil, false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case chunk := <-chunks:
		return chunk, true
	case <-timer.C:
		return nil, false
	}
}

// Stop releases the device and discards undelivered chunks.
func (c *LiveCapture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.active.Store(false)
	if c.device != nil {
		c.device.Uninit()
		c.device = nil
	}
	if c.chunks != nil {
		for len(c.chunks) > 0 {
			<-c.chunks
		}
	}
	if n := c.dropped.Swap(0); n > 0 {
		slog.Debug("[capture] chunks dropped", "count", n)
	}
}

// Dropped reports chunks discarded by the callback since the last Stop.
func (c *LiveCapture) Dropped() uint64 {
	return c.dropped.Load()
}

// Close stops capture and frees the audio context.
func (c *LiveCapture) Close() error {
	c.Stop()
	if c.ctx == nil {
		return nil
	}
	err := c.ctx.Uninit()
	c.ctx.Free()
	c.ctx = nil
	if err != nil {
		return fmt.Errorf("uninitializing audio context: %w", err)
	}
	return nil
}

// onData runs on the audio thread.
func (c *LiveCapture) onData(_, pInput []byte, frameCount uint32) {
	if !c.active.Load() {
		return
	}
	samples := bytesToFloat32(pInput, frameCount*c.cfg.Channels)
	chunk := mixdown(samples, int(c.cfg.Channels))
	select {
	case c.chunks <- chunk:
	default:
		c.dropped.Add(1)
	}
}

// channelCapacity sizes the chunk channel to roughly the latency window,
// counted in 1024-frame periods, never fewer than two.
func channelCapacity(rate uint32, latencyMS int) int {
	return max(2, int(rate)*latencyMS/1000/1024)
}

// findDevice returns the ID pointer of the device with the given name.
func findDevice(ctx malgo.Context, kind malgo.DeviceType, name string) (unsafe.Pointer, error) {
	infos, err := ctx.Devices(kind)
	if err != nil {
		return nil, fmt.Errorf("%w: listing devices: %v", ErrDevice, err)
	}
	for i := range infos {
		if infos[i].Name() == name {
			return infos[i].ID.Pointer(), nil
		}
	}
	return nil, fmt.Errorf("%w: no device named %q", ErrDevice, name)
}

// mixdown averages interleaved frames to mono. Mono input is returned as is.
func mixdown(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	mono := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for ch := 0; ch < channels; ch++ {
			sum += samples[i*channels+ch]
		}
		mono[i] = sum / float32(channels)
	}
	return mono
}

// bytesToFloat32 converts raw bytes (little-endian float32) to a float32 slice.
func bytesToFloat32(data []byte, sampleCount uint32) []float32 {
	samples := make([]float32, 0, sampleCount)
	for i := uint32(0); i < sampleCount; i++ {
		offset := i * 4
		if offset+4 > uint32(len(data)) {
			break
		}
		bits := binary.LittleEndian.Uint32(data[offset : offset+4])
		samples = append(samples, math.Float32frombits(bits))
	}
	return samples
}
