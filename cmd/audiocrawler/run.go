package main

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/smg1208/audio-crawler/internal/app"
	"github.com/smg1208/audio-crawler/pkg/audio"
	"github.com/smg1208/audio-crawler/pkg/core"
	"github.com/smg1208/audio-crawler/pkg/probe"
)

type runFlags struct {
	concurrency  int
	maxRetries   int
	noRetrySweep bool
	dryRun       bool
	provider     string
	fallbacks    []string
	voice        string
	from, to     int
}

func (c *cli) newRunCmd() *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run <job>",
		Short: "Render every pending chapter of a job",
		Long: `Run reads "<root>/<job> - Text/Chapter_N.txt", renders each chapter through
the provider chain and writes "<root>/<job> - Audio/Chapter_N.<format>".

Progress is kept in the job's ledger.csv, so an interrupted run resumes where
it stopped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runJob(cmd, args[0], f)
		},
	}

	fl := cmd.Flags()
	fl.IntVarP(&f.concurrency, "concurrency", "j", 0, "worker count (0 uses the config or the primary provider's limit)")
	fl.IntVar(&f.maxRetries, "max-retries", 0, "attempts per chunk (0 uses the config)")
	fl.BoolVar(&f.noRetrySweep, "no-retry-sweep", false, "skip the final pass over failed chapters")
	fl.BoolVar(&f.dryRun, "dry-run", false, "plan and chunk without calling any provider")
	fl.StringVarP(&f.provider, "provider", "p", "", "primary provider, overriding tts.primary")
	fl.StringSliceVar(&f.fallbacks, "fallback", nil, "fallback providers in order, overriding tts.fallbacks")
	fl.StringVar(&f.voice, "voice", "", "voice for the primary provider")
	fl.IntVar(&f.from, "from", 0, "first chapter to render")
	fl.IntVar(&f.to, "to", 0, "last chapter to render")
	return cmd
}

func (c *cli) runJob(cmd *cobra.Command, job string, f *runFlags) error {
	if f.from > 0 && f.to > 0 && f.from > f.to {
		return fmt.Errorf("--from %d is after --to %d", f.from, f.to)
	}

	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	if f.provider != "" {
		cfg.TTS.Primary = f.provider
	}
	if cmd.Flags().Changed("fallback") {
		cfg.TTS.Fallbacks = f.fallbacks
	}
	voice := f.voice
	if voice == "" {
		voice = cfg.TTS.Voice
	}

	ctx := cmd.Context()
	a, cleanup, err := c.open(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	if !f.dryRun {
		probes, err := a.Probes(false)
		if err != nil {
			return err
		}
		if err := probe.AnalyzeResults(probe.Run(ctx, probes)); err != nil {
			return fmt.Errorf("startup checks failed: %w", err)
		}
	}

	opts := app.JobOptions{
		Options: core.Options{
			Concurrency: cfg.Job.Concurrency,
			MaxRetries:  cfg.Job.MaxRetries,
			RetryFailed: cfg.Job.RetryFailed && !f.noRetrySweep,
			DryRun:      f.dryRun,
		},
		From:  f.from,
		To:    f.to,
		Voice: voice,
	}
	if f.concurrency > 0 {
		opts.Concurrency = f.concurrency
	}
	if f.maxRetries > 0 {
		opts.MaxRetries = f.maxRetries
	}

	start := time.Now()
	summary, err := a.RunJob(ctx, job, opts)
	if summary != nil {
		printSummary(cmd.OutOrStdout(), summary, time.Since(start))
	}
	if err != nil {
		return err
	}
	if n := len(summary.Failed); n > 0 {
		return fmt.Errorf("%d chapter(s) failed", n)
	}
	return nil
}

func printSummary(w io.Writer, s *core.Summary, elapsed time.Duration) {
	fmt.Fprintf(w, "Completed: %d  Failed: %d  Skipped: %d  Pending: %d  Chunks: %s  (%s)\n",
		len(s.Completed), len(s.Failed), len(s.Skipped), len(s.Pending),
		humanize.Comma(int64(s.Chunks())), elapsed.Round(time.Second))

	var playing time.Duration
	for _, r := range s.Completed {
		if d, err := audio.GetDuration(r.Output); err == nil {
			playing += d
		}
	}
	if playing > 0 {
		fmt.Fprintf(w, "Rendered audio: %s\n", playing.Round(time.Second))
	}

	for _, r := range s.Completed {
		note := ""
		if r.Degraded {
			note = "  [degraded: first chunk only]"
		}
		fmt.Fprintf(w, "  ok    %-14s %-14s %s%s\n", r.Label, r.Provider, r.Output, note)
	}
	for _, r := range s.Failed {
		fmt.Fprintf(w, "  FAIL  %-14s %v\n", r.Label, r.Err)
	}
}
