// Command test-capture is a manual test for live microphone capture.
// It records for a few seconds and prints one line per second with the
// chunk count, RMS level and dropped chunk count.
//
// Usage:
//
//	go run ./cmd/test-capture [--device name] [--seconds 5] [--out take.wav]
package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chaz8081/shadowing/internal/audio"
)

func main() {
	device := flag.String("device", "", "capture device name (default: system default)")
	seconds := flag.Int("seconds", 5, "how long to record")
	out := flag.String("out", "", "optional WAV file for the resampled 16 kHz take")
	flag.Parse()

	capture, err := audio.NewLiveCapture(audio.CaptureConfig{
		SampleRate: 16000,
		Channels:   1,
		Device:     *device,
		LatencyMS:  200,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	defer capture.Close()

	rate, err := capture.Start()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	fmt.Printf("Capturing at %d Hz for %ds. Press Ctrl+C to stop early.\n", rate, *seconds)

	resampler, err := audio.NewStreamResampler(rate, audio.TargetRate)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	var (
		take     []float32
		chunks   int
		sumSq    float64
		count    int
		deadline = time.After(time.Duration(*seconds) * time.Second)
		tick     = time.NewTicker(time.Second)
	)
	defer tick.Stop()

loop:
	for {
		select {
		case <-sig:
			fmt.Println("\nStopping...")
			break loop
		case <-deadline:
			break loop
		case <-tick.C:
			rms := 0.0
			if count > 0 {
				rms = math.Sqrt(sumSq / float64(count))
			}
			fmt.Printf("chunks=%-4d rms=%.4f dropped=%d\n", chunks, rms, capture.Dropped())
			chunks, sumSq, count = 0, 0, 0
		default:
		}

		chunk, ok := capture.RecvChunk(20 * time.Millisecond)
		if !ok {
			continue
		}
		chunks++
		for _, s := range chunk {
			sumSq += float64(s) * float64(s)
		}
		count += len(chunk)

		resampled, err := resampler.Process(chunk)
		if err != nil {
			fmt.Fprintln(os.Stderr, "resample:", err)
			continue
		}
		take = append(take, resampled...)
	}
	capture.Stop()

	fmt.Printf("Captured %.2fs of 16 kHz audio.\n", float64(len(take))/audio.TargetRate)
	if *out != "" {
		if err := audio.WriteClip(*out, take, audio.TargetRate); err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}
		fmt.Printf("Wrote %s\n", *out)
	}
}
