package audio

import (
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestBytesToFloat32(t *testing.T) {
	// Test with known float32 value: 1.0 = 0x3F800000
	data := []byte{0x00, 0x00, 0x80, 0x3F} // 1.0 in little-endian float32
	samples := bytesToFloat32(data, 1)

	if len(samples) != 1 {
		t.Fatalf("bytesToFloat32() returned %d samples, want 1", len(samples))
	}
	if samples[0] != 1.0 {
		t.Errorf("bytesToFloat32() = %f, want 1.0", samples[0])
	}
}

func TestBytesToFloat32Short(t *testing.T) {
	// Two samples requested, one and a half present
	data := []byte{0x00, 0x00, 0x80, 0xBF, 0x00, 0x00}
	samples := bytesToFloat32(data, 2)

	if len(samples) != 1 {
		t.Fatalf("bytesToFloat32() returned %d samples, want 1", len(samples))
	}
	if samples[0] != -1.0 {
		t.Errorf("samples[0] = %f, want -1.0", samples[0])
	}
}

func TestMixdown(t *testing.T) {
	stereo := []float32{1, 0, 0.5, 0.5, -1, 1}
	mono := mixdown(stereo, 2)
	want := []float32{0.5, 0.5, 0}
	if len(mono) != len(want) {
		t.Fatalf("mixdown() returned %d frames, want %d", len(mono), len(want))
	}
	for i := range want {
		if mono[i] != want[i] {
			t.Errorf("mono[%d] = %f, want %f", i, mono[i], want[i])
		}
	}

	in := []float32{0.1, 0.2}
	if out := mixdown(in, 1); &out[0] != &in[0] {
		t.Error("mixdown() should return mono input unchanged")
	}
}

func TestChannelCapacity(t *testing.T) {
	tests := []struct {
		rate    uint32
		latency int
		want    int
	}{
		{16000, 100, 2},
		{16000, 200, 3},
		{48000, 200, 9},
		{48000, 0, 2},
	}
	for _, tt := range tests {
		if got := channelCapacity(tt.rate, tt.latency); got != tt.want {
			t.Errorf("channelCapacity(%d, %d) = %d, want %d", tt.rate, tt.latency, got, tt.want)
		}
	}
}

func TestFillStereo(t *testing.T) {
	samples := []float32{0.25, -0.5}
	out := make([]byte, 3*playbackChannels*4)

	consumed := fillStereo(out, samples, 0, 3)
	if consumed != 2 {
		t.Fatalf("fillStereo() consumed %d samples, want 2", consumed)
	}
	want := []float32{0.25, 0.25, -0.5, -0.5, 0, 0}
	for i, w := range want {
		got := math.Float32frombits(binary.LittleEndian.Uint32(out[i*4:]))
		if got != w {
			t.Errorf("value %d = %f, want %f", i, got, w)
		}
	}

	if consumed := fillStereo(out, samples, 5, 3); consumed != 0 {
		t.Errorf("fillStereo() past the end consumed %d, want 0", consumed)
	}
}

func TestWriteAndLoadClip(t *testing.T) {
	samples := sine(TargetRate, 440, 0.5, TargetRate/2)
	path := filepath.Join(t.TempDir(), "take.wav")

	if err := WriteClip(path, samples, TargetRate); err != nil {
		t.Fatalf("WriteClip() error = %v", err)
	}
	clip, err := LoadClip(path)
	if err != nil {
		t.Fatalf("LoadClip() error = %v", err)
	}

	if clip.SampleRate != TargetRate {
		t.Errorf("SampleRate = %d, want %d", clip.SampleRate, TargetRate)
	}
	if len(clip.Samples) != len(samples) {
		t.Fatalf("len(Samples) = %d, want %d", len(clip.Samples), len(samples))
	}
	for i := range samples {
		if d := math.Abs(float64(clip.Samples[i] - samples[i])); d > 1e-3 {
			t.Fatalf("sample %d = %f, want %f", i, clip.Samples[i], samples[i])
		}
	}
}

func TestLoadClipResamples(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ref.wav")
	if err := WriteClip(path, sine(48000, 220, 0.5, 48000), 48000); err != nil {
		t.Fatalf("WriteClip() error = %v", err)
	}

	clip, err := LoadClip(path)
	if err != nil {
		t.Fatalf("LoadClip() error = %v", err)
	}
	if len(clip.Samples) != TargetRate {
		t.Errorf("len(Samples) = %d, want %d", len(clip.Samples), TargetRate)
	}
}

func TestLoadClipErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadClip(filepath.Join(dir, "missing.wav")); err == nil {
		t.Error("LoadClip() on a missing file should error")
	}

	junk := filepath.Join(dir, "junk.wav")
	if err := os.WriteFile(junk, []byte("not a wav file at all"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadClip(junk); err == nil {
		t.Error("LoadClip() on a non-WAV file should error")
	}
}

func TestResampleLength(t *testing.T) {
	tests := []struct {
		from, to, n, want int
	}{
		{48000, 16000, 4800, 1600},
		{44100, 16000, 44100, 16000},
		{8000, 16000, 801, 1602},
		{16000, 16000, 123, 123},
	}
	for _, tt := range tests {
		out, err := Resample(make([]float32, tt.n), tt.from, tt.to)
		if err != nil {
			t.Fatalf("Resample(%d -> %d) error = %v", tt.from, tt.to, err)
		}
		if len(out) != tt.want {
			t.Errorf("Resample(%d samples, %d -> %d) = %d samples, want %d", tt.n, tt.from, tt.to, len(out), tt.want)
		}
	}

	if _, err := Resample([]float32{1}, 0, 16000); err == nil {
		t.Error("Resample() with a zero rate should error")
	}
}

func TestStreamResamplerPassthrough(t *testing.T) {
	s, err := NewStreamResampler(16000, 16000)
	if err != nil {
		t.Fatalf("NewStreamResampler() error = %v", err)
	}
	in := []float32{0.1, 0.2, 0.3}
	out, err := s.Process(in)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(out) != len(in) || out[2] != in[2] {
		t.Errorf("Process() = %v, want %v", out, in)
	}
	out[0] = 9
	if in[0] == 9 {
		t.Error("Process() should not alias its input")
	}
}

func TestStreamResamplerConverges(t *testing.T) {
	s, err := NewStreamResampler(48000, 16000)
	if err != nil {
		t.Fatalf("NewStreamResampler() error = %v", err)
	}
	if from, to := s.Rates(); from != 48000 || to != 16000 {
		t.Errorf("Rates() = %d, %d, want 48000, 16000", from, to)
	}
	total := 0
	chunk := sine(48000, 300, 0.3, 960)
	for i := 0; i < 100; i++ {
		out, err := s.Process(chunk)
		if err != nil {
			t.Fatalf("Process() error = %v", err)
		}
		total += len(out)
	}
	// 96000 input samples at a third of the rate; allow for filter delay.
	if total < 30000 || total > 32100 {
		t.Errorf("total output = %d, want about 32000", total)
	}
}

func TestLiveCaptureLifecycle(t *testing.T) {
	c, err := NewLiveCapture(CaptureConfig{SampleRate: 16000, Channels: 1, LatencyMS: 200})
	if err != nil {
		t.Skipf("no audio context: %v", err)
	}
	defer func() {
		if err := c.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	}()

	if _, ok := c.RecvChunk(0); ok {
		t.Error("RecvChunk() before Start should not deliver")
	}
	// Stop without Start is a no-op.
	c.Stop()

	if _, err := c.Start(); err != nil {
		if errors.Is(err, ErrDevice) {
			t.Skipf("no capture device: %v", err)
		}
		t.Fatalf("Start() error = %v", err)
	}
	c.Stop()
}

func TestLiveCaptureUnknownDevice(t *testing.T) {
	c, err := NewLiveCapture(CaptureConfig{SampleRate: 16000, Channels: 1, Device: "no such microphone"})
	if err != nil {
		t.Skipf("no audio context: %v", err)
	}
	defer c.Close()

	if _, err := c.Start(); !errors.Is(err, ErrDevice) {
		t.Errorf("Start() error = %v, want ErrDevice", err)
	}
}

func TestPlayerStopWithoutPlay(t *testing.T) {
	p := NewPlayer([]float32{0, 0}, TargetRate, "")
	p.Stop()
	p.Stop()
}

func sine(rate int, freq, amp float64, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amp * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return out
}
