package main

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

var batchWorkers int

var batchCmd = &cobra.Command{
	Use:   "batch <reference.wav> <takes-dir>",
	Short: "Score every WAV take in a directory against a reference",
	Long: `Score a directory of recorded takes, for example the ones a session saves
with save_takes_dir, against one reference clip. Prints one row per take.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		an, err := newAnalyzer(args[0])
		if err != nil {
			return err
		}
		takes, err := collectTakes(args[1])
		if err != nil {
			return err
		}
		if len(takes) == 0 {
			return fmt.Errorf("no .wav files under %s", args[1])
		}

		results := scoreTakes(an, takes, batchWorkers)
		return printBatch(results)
	},
}

func init() {
	batchCmd.Flags().IntVar(&batchWorkers, "workers", 0, "parallel workers (default: NumCPU-1, at least 2)")
}

type batchResult struct {
	path   string
	result analysis
	err    error
}

func scoreTakes(an *analyzer, takes []string, workers int) []batchResult {
	p := mpb.New(mpb.WithWidth(64))
	bar := p.AddBar(int64(len(takes)),
		mpb.PrependDecorators(
			decor.Name("Scoring: "),
			decor.CountersNoUnit("%d / %d"),
		),
		mpb.AppendDecorators(
			decor.Percentage(),
			decor.EwmaETA(decor.ET_STYLE_GO, 60),
		),
	)

	if workers <= 0 {
		workers = max(runtime.NumCPU()-1, 2)
	}

	jobs := make(chan string, len(takes))
	results := make(chan batchResult, len(takes))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range jobs {
				res, err := an.analyze(path)
				results <- batchResult{path: path, result: res, err: err}
			}
		}()
	}

	for _, t := range takes {
		jobs <- t
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	out := make([]batchResult, 0, len(takes))
	for r := range results {
		bar.Increment()
		out = append(out, r)
	}
	p.Wait()

	slices.SortFunc(out, func(a, b batchResult) int { return strings.Compare(a.path, b.path) })
	return out
}

func printBatch(results []batchResult) error {
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TAKE\tOVERALL\tTIMING\tARTIC\tINTON\tOFFSET(ms)\tCONF")
	failed := 0
	for _, r := range results {
		name := filepath.Base(r.path)
		if r.err != nil {
			failed++
			fmt.Fprintf(tw, "%s\terror: %v\n", name, r.err)
			continue
		}
		s, rep := r.result.Scores, r.result.Report
		fmt.Fprintf(tw, "%s\t%.2f\t%.2f\t%.2f\t%.2f\t%+.0f\t%.2f\n",
			name, s.Overall, s.Timing, s.Articulation, s.Intonation, rep.GlobalTimeOffsetMS, rep.Confidence)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if failed > 0 {
		fmt.Printf("%d of %d takes failed\n", failed, len(results))
	}
	return nil
}

func collectTakes(root string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".wav") {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(out)
	return out, nil
}
