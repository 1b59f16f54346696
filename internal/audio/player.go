package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/gen2brain/malgo"
)

const playbackChannels = 2

// Player plays one mono clip on the default (or named) output device. Mono
// samples are duplicated to stereo; once the clip ends the device plays
// silence until Stop.
type Player struct {
	samples []float32
	rate    uint32
	name    string

	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	device *malgo.Device

	posMu sync.Mutex // taken by the audio callback
	pos   int
}

// NewPlayer prepares a Player for samples at rate. No device is opened
// until Play.
func NewPlayer(samples []float32, rate int, deviceName string) *Player {
	return &Player{samples: samples, rate: uint32(rate), name: deviceName}
}

// Play starts playback from the beginning of the clip.
func (p *Player) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.device != nil {
		return fmt.Errorf("playback already started")
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("%w: initializing audio context: %v", ErrDevice, err)
	}

	deviceCfg := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceCfg.Playback.Format = malgo.FormatF32
	deviceCfg.Playback.Channels = playbackChannels
	deviceCfg.SampleRate = p.rate
	if p.name != "" {
		id, err := findDevice(ctx.Context, malgo.Playback, p.name)
		if err != nil {
			freeContext(ctx)
			return err
		}
		deviceCfg.Playback.DeviceID = id
	}

	p.posMu.Lock()
	p.pos = 0
	p.posMu.Unlock()

	device, err := malgo.InitDevice(ctx.Context, deviceCfg, malgo.DeviceCallbacks{
		Data: p.onData,
	})
	if err != nil {
		freeContext(ctx)
		return fmt.Errorf("%w: initializing playback device: %v", ErrDevice, err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		freeContext(ctx)
		return fmt.Errorf("%w: starting playback device: %v", ErrDevice, err)
	}

	p.ctx = ctx
	p.device = device
	slog.Debug("[playback] started", "samples", len(p.samples), "rate", p.rate)
	return nil
}

// Stop halts playback and releases the device. It is safe to call when not
// playing.
func (p *Player) Stop() {
	p.mu.Lock()
	device, ctx := p.device, p.ctx
	p.device, p.ctx = nil, nil
	p.mu.Unlock()

	if device != nil {
		device.Uninit()
	}
	if ctx != nil {
		freeContext(ctx)
	}
}

func (p *Player) onData(pOutput, _ []byte, frameCount uint32) {
	p.posMu.Lock()
	p.pos += fillStereo(pOutput, p.samples, p.pos, int(frameCount))
	p.posMu.Unlock()
}

// fillStereo writes frameCount stereo F32 frames into out, starting at
// samples[pos] and padding with silence past the end. It returns the number
// of source samples consumed.
func fillStereo(out []byte, samples []float32, pos, frameCount int) int {
	consumed := 0
	for i := 0; i < frameCount; i++ {
		var v float32
		if pos+i < len(samples) {
			v = samples[pos+i]
			consumed++
		}
		bits := math.Float32bits(v)
		for ch := 0; ch < playbackChannels; ch++ {
			offset := (i*playbackChannels + ch) * 4
			if offset+4 > len(out) {
				return consumed
			}
			binary.LittleEndian.PutUint32(out[offset:], bits)
		}
	}
	return consumed
}

func freeContext(ctx *malgo.AllocatedContext) {
	if err := ctx.Uninit(); err != nil {
		slog.Warn("[playback] uninitializing audio context", "error", err)
	}
	ctx.Free()
}
