package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-pathguide/internal/log"
	"github.com/teslashibe/go-pathguide/pkg/narration"
	"github.com/teslashibe/go-pathguide/pkg/pipeline"
	"github.com/teslashibe/go-pathguide/pkg/settings"
	"github.com/teslashibe/go-pathguide/pkg/video"
)

func newAnalyzeCommand(ctx *commandContext) *cobra.Command {
	var speak bool
	var threshold, debounce float64

	cmd := &cobra.Command{
		Use:   "analyze <video>",
		Short: "Run guidance over a video file and report the alerts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger := log.L()

			initial, err := cfg.Settings()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("threshold") {
				initial.SlopeThreshold = threshold
			}
			if cmd.Flags().Changed("debounce") {
				initial.DebounceSeconds = debounce
			}
			mgr := settings.NewManager(initial)

			detector, err := newDetector(cfg, logger)
			if err != nil {
				return err
			}
			defer detector.Close()

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			pc := pipeline.Config{
				Source:   video.NewSource(video.WithLogger(logger)),
				Detector: detector,
				Settings: mgr,
				Logger:   logger,
			}

			var dispatcher *narration.Dispatcher
			if speak {
				provider, err := newProvider(cfg, logger)
				if err != nil {
					return fmt.Errorf("narration client: %w", err)
				}
				defer provider.Close()

				speaker, err := newSpeaker(cfg, logger)
				if err != nil {
					return err
				}
				dispatcher, err = newDispatcher(cfg, provider, speaker, mgr, narration.NewLiveText(""), logger, nil)
				if err != nil {
					return err
				}
				pc.Dispatcher = dispatcher
			}

			runner, err := pipeline.New(pc)
			if err != nil {
				return err
			}

			start := time.Now()
			sum := runner.Analyze(runCtx, args[0])

			if dispatcher != nil {
				drainCtx, cancel := context.WithTimeout(runCtx, 2*time.Minute)
				if err := dispatcher.Drain(drainCtx); err != nil {
					logger.Warn("narration did not finish", "error", err)
				}
				cancel()
			}

			printSummary(cmd.OutOrStdout(), sum, time.Since(start))
			if sum.State == video.StateFailed {
				return fmt.Errorf("analyze %s: %w", args[0], sum.Err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&speak, "speak", false, "Generate and speak narration for each alert")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "Slope threshold (overrides settings)")
	cmd.Flags().Float64Var(&debounce, "debounce", 0, "Seconds between alerts (overrides settings)")
	return cmd
}

func printSummary(w io.Writer, sum pipeline.Summary, elapsed time.Duration) {
	rows := make([][]string, 0, len(sum.Alerts))
	for i, ev := range sum.Alerts {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			fmt.Sprintf("%.2f", ev.TriggeredAt.Sub(sum.StartedAt).Seconds()),
			ev.Direction.String(),
			fmt.Sprintf("%+.3f", ev.Slope),
		})
	}

	if len(rows) > 0 {
		fmt.Fprintln(w, renderTable(
			[]string{"#", "Time (s)", "Direction", "Slope"},
			rows,
			[]columnAlignment{alignRight, alignRight, alignLeft, alignRight},
		))
	} else {
		fmt.Fprintln(w, "No alerts.")
	}

	fmt.Fprintf(w, "Session: %s\n", sum.State)
	fmt.Fprintf(w, "Frames: %d (detector failures: %d)\n", sum.Frames, sum.DetectionFailures)
	fmt.Fprintf(w, "Alerts: %d\n", len(sum.Alerts))
	fmt.Fprintf(w, "Elapsed: %s\n", elapsed.Round(time.Millisecond))
}
