package cmd

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/facegate/internal/constants"
	"github.com/kozaktomas/facegate/internal/pipeline"
)

var recognizeCmd = &cobra.Command{
	Use:   "recognize <image>...",
	Short: "Run frames through the recognition pipeline",
	Long: `Run one or more image files through the recognition pipeline exactly like
camera frames: matched faces are checked in or out in the local ledger.

Examples:
  facegate recognize frame.jpg
  facegate recognize --concurrency 2 --json frames/*.jpg`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRecognize,
}

func init() {
	rootCmd.AddCommand(recognizeCmd)

	recognizeCmd.Flags().Int("concurrency", constants.WorkerPoolSize, "Number of parallel workers")
	recognizeCmd.Flags().Bool("json", false, "Output as JSON")
}

// RecognizeFileResult is the pipeline result of one image file.
type RecognizeFileResult struct {
	File  string                `json:"file"`
	Faces []pipeline.FaceResult `json:"faces"`
	Error string                `json:"error,omitempty"`
}

func runRecognize(cmd *cobra.Command, args []string) error {
	concurrency := max(1, mustGetInt(cmd, "concurrency"))
	jsonOutput := mustGetBool(cmd, "json")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := context.Background()
	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	results := make([]RecognizeFileResult, len(args))
	jobs := make(chan int)
	var wg sync.WaitGroup
	for range concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = recognizeFile(ctx, a.pipeline, args[i])
			}
		}()
	}
	for i := range args {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	if jsonOutput {
		return outputJSON(results)
	}

	failed := 0
	for _, r := range results {
		if r.Error != "" {
			failed++
			fmt.Printf("%s: error: %s\n", r.File, r.Error)
			continue
		}
		if len(r.Faces) == 0 {
			fmt.Printf("%s: no faces\n", r.File)
		}
		for _, f := range r.Faces {
			who := "unknown"
			if f.Match != nil {
				who = fmt.Sprintf("%s (distance %.3f)", f.Match.Identity, f.Match.Distance)
			}
			fmt.Printf("%s: face %d %s: %s: %s\n", r.File, f.Index, who, f.Outcome.Kind, f.Outcome.Message)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(results))
	}
	return nil
}

func recognizeFile(ctx context.Context, p *pipeline.Pipeline, path string) RecognizeFileResult {
	res := RecognizeFileResult{File: path}
	image, err := os.ReadFile(path)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	faces, err := p.Process(ctx, image, time.Now())
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Faces = faces
	return res
}
