package audio

import (
	"fmt"
	"math"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/chaz8081/shadowing/internal/features"
)

// TargetRate is the analysis sample rate every clip is converted to.
const TargetRate = 16000

// LoadClip decodes a PCM WAV file, mixes it to mono and resamples it to
// TargetRate.
func LoadClip(path string) (features.Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return features.Clip{}, fmt.Errorf("opening clip: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return features.Clip{}, fmt.Errorf("decoding clip %q: not a valid WAV file", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return features.Clip{}, fmt.Errorf("decoding clip %q: %w", path, err)
	}
	if buf.Format == nil || buf.Format.SampleRate <= 0 {
		return features.Clip{}, fmt.Errorf("decoding clip %q: missing sample rate", path)
	}

	channels := max(buf.Format.NumChannels, 1)
	mono := mixdown(intToFloat32(buf.Data, int(dec.BitDepth)), channels)

	samples, err := Resample(mono, buf.Format.SampleRate, TargetRate)
	if err != nil {
		return features.Clip{}, fmt.Errorf("resampling clip %q: %w", path, err)
	}
	return features.Clip{Samples: samples, SampleRate: TargetRate}, nil
}

// WriteClip encodes mono samples as a 16-bit PCM WAV file.
func WriteClip(path string, samples []float32, rate int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %q: %w", path, err)
	}

	enc := wav.NewEncoder(f, rate, 16, 1, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: rate},
		Data:           float32ToInt16(samples),
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		f.Close()
		return fmt.Errorf("encoding %q: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return fmt.Errorf("finalizing %q: %w", path, err)
	}
	return f.Close()
}

// intToFloat32 scales integer PCM of the given bit depth into [-1, 1].
func intToFloat32(data []int, bitDepth int) []float32 {
	if bitDepth <= 0 {
		bitDepth = 16
	}
	scale := float32(math.Exp2(float64(bitDepth - 1)))
	out := make([]float32, len(data))
	for i, v := range data {
		out[i] = float32(v) / scale
	}
	return out
}

func float32ToInt16(samples []float32) []int {
	out := make([]int, len(samples))
	for i, s := range samples {
		switch {
		case s >= 1:
			out[i] = math.MaxInt16
		case s <= -1:
			out[i] = math.MinInt16
		default:
			out[i] = int(s * math.MaxInt16)
		}
	}
	return out
}
