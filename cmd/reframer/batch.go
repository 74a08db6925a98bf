package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/kikiluvv/reframer/internal/clips"
	"github.com/kikiluvv/reframer/internal/config"
	"github.com/kikiluvv/reframer/internal/logging"
	"github.com/kikiluvv/reframer/internal/pipeline"
	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	batchConcurrency int
	batchFailFast    bool
)

var batchCmd = &cobra.Command{
	Use:   "batch [manifest]",
	Short: "Retarget every clip listed in a YAML manifest",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := *config.FromContext(cmd.Context())
		if cmd.Flags().Changed("concurrency") {
			cfg.Concurrency = batchConcurrency
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		manifest, err := clips.Load(args[0])
		if err != nil {
			return err
		}
		eng, err := newEngine(&cfg)
		if err != nil {
			return err
		}

		log.Info().
			Str("manifest", args[0]).
			Int("clips", manifest.Len()).
			Int("concurrency", cfg.Concurrency).
			Msg("starting batch")

		outcomes, err := runBatch(cmd.Context(), eng.render, manifest.All(), cfg.Concurrency, batchFailFast)
		fmt.Fprintln(cmd.OutOrStdout(), batchSummary(outcomes))
		if err != nil {
			return err
		}

		if failed := countFailed(outcomes); failed > 0 {
			return fmt.Errorf("%d of %d clips failed", failed, len(outcomes))
		}
		return nil
	},
}

func init() {
	batchCmd.Flags().IntVarP(&batchConcurrency, "concurrency", "j", 0, "clips rendered at once (default: config concurrency)")
	batchCmd.Flags().BoolVar(&batchFailFast, "fail-fast", false, "cancel remaining clips after the first failure")
}

// renderFunc renders one clip; engine.render in production.
type renderFunc func(ctx context.Context, c *clips.Clip, progress func(done, total int)) (*pipeline.Result, error)

type batchOutcome struct {
	clip    *clips.Clip
	result  *pipeline.Result
	err     error
	elapsed time.Duration
}

// runBatch renders clips with at most limit in flight. Each clip gets its own
// pipeline run, and so its own detector and encoder. Failures are recorded
// per clip; with failFast the first one cancels the rest.
func runBatch(ctx context.Context, render renderFunc, all []*clips.Clip, limit int, failFast bool) ([]batchOutcome, error) {
	logger := logging.WithComponent("batch")
	outcomes := make([]batchOutcome, len(all))

	var bar *progressbar.ProgressBar
	if stderrIsTerminal() {
		bar = progressbar.NewOptions(len(all),
			progressbar.OptionSetDescription("Batch"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
		)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(limit, 1))
	for i, c := range all {
		g.Go(func() error {
			started := time.Now()
			res, err := render(gctx, c, nil)
			outcomes[i] = batchOutcome{clip: c, result: res, err: err, elapsed: time.Since(started)}
			if bar != nil {
				_ = bar.Add(1)
			}
			if err != nil {
				logger.Error().Err(err).Str("clip", c.ID).Msg("clip failed")
				if failFast {
					return fmt.Errorf("clip %s: %w", c.ID, err)
				}
			}
			return nil
		})
	}
	err := g.Wait()
	if bar != nil {
		_ = bar.Finish()
		fmt.Fprintln(os.Stderr)
	}
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	return outcomes, err
}

func countFailed(outcomes []batchOutcome) int {
	n := 0
	for _, o := range outcomes {
		if o.err != nil {
			n++
		}
	}
	return n
}

func batchSummary(outcomes []batchOutcome) string {
	headers := []string{"Clip", "Status", "Frames", "Size", "Profile", "Elapsed", "Output"}
	aligns := []columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignRight, alignLeft}

	rows := make([][]string, 0, len(outcomes))
	for _, o := range outcomes {
		if o.clip == nil {
			continue
		}
		row := []string{o.clip.ID, outcomeStatus(o), "", "", "", o.elapsed.Round(time.Millisecond).String(), o.clip.Output}
		if o.result != nil {
			row[2] = strconv.Itoa(o.result.Frames)
			row[4] = o.result.Profile
			if st, err := os.Stat(o.result.OutputPath); err == nil {
				row[3] = humanize.Bytes(uint64(st.Size()))
			}
		}
		rows = append(rows, row)
	}
	return renderTable(headers, rows, aligns)
}

func outcomeStatus(o batchOutcome) string {
	switch {
	case o.err == nil && o.result != nil && o.result.Profile == staticProfile:
		return "static"
	case o.err == nil:
		return "ok"
	case errors.Is(o.err, pipeline.ErrCanceled):
		return "canceled"
	default:
		return "failed"
	}
}
