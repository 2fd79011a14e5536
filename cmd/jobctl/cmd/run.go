package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"jobctl/cmd/jobctl/internal/console"
	"jobctl/core/config"
	"jobctl/core/jobs"
	"jobctl/core/kernel"
	"jobctl/core/logger"
	"jobctl/gateways/eventlog"
	"jobctl/gateways/metrics"
)

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().Bool("auto", false, "Run a single job to completion and exit")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the job controller on the console",
	Long: `Run the job controller on the console.

Input, one command per line:
  <enter> or t   toggle: start the job, or reset it once it has progressed
  s              show the current job
  q              quit`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := logger.WithComponentName(cmd.Context(), "run")
		auto, _ := cmd.Flags().GetBool("auto")

		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}
		if err := logger.Configure(cfg.LogLevel); err != nil {
			return err
		}
		logger.Debug(ctx, "Configuration loaded", zap.Any("config", cfg))

		gin.SetMode(gin.ReleaseMode)
		sink := console.New(cmd.OutOrStdout(), cfg.Job.Max)
		k := kernel.New(cfg, sink)
		if err := k.AddGateway(eventlog.NewGateway()); err != nil {
			return err
		}
		if err := k.AddGateway(metrics.NewGateway(metrics.WithHealth(k.Health))); err != nil {
			return err
		}

		if err := k.Start(ctx); err != nil {
			return fmt.Errorf("start kernel: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Timeouts.Shutdown)*time.Second)
			defer cancel()
			if err := k.Stop(shutdownCtx); err != nil {
				logger.Error(ctx, "Error during shutdown", zap.Error(err))
			}
			fmt.Fprintln(cmd.OutOrStdout())
		}()

		if auto {
			return runOnce(ctx, k.Controller(), sink)
		}
		return interact(ctx, cmd.InOrStdin(), k.Controller(), sink)
	},
}

// runOnce starts a job and waits for it to end.
func runOnce(ctx context.Context, c *jobs.Controller, sink *console.Sink) error {
	c.Toggle()
	snap, _ := c.Current()
	sink.SetMax(snap.Max)

	outcome, err := c.Wait(ctx, snap.Generation)
	if err != nil {
		return fmt.Errorf("wait for job #%d: %w", snap.Generation, err)
	}
	if outcome.Kind == jobs.OutcomeCancelled {
		return fmt.Errorf("job #%d cancelled: %s", snap.Generation, outcome.Reason)
	}
	return nil
}

// interact feeds commands read from in to the controller until "q", end of
// input or ctx is done.
func interact(ctx context.Context, in io.Reader, c *jobs.Controller, sink *console.Sink) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			logger.Warn(ctx, "Reading input failed", zap.Error(err))
		}
	}()

	c.Init()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			switch strings.TrimSpace(strings.ToLower(line)) {
			case "", "t":
				c.Toggle()
				if snap, ok := c.Current(); ok {
					sink.SetMax(snap.Max)
				}
			case "s":
				sink.Println(describe(c))
			case "q":
				return nil
			default:
				sink.Println(fmt.Sprintf("unknown command %q (t, s, q)", line))
			}
		}
	}
}

func describe(c *jobs.Controller) string {
	snap, ok := c.Current()
	if !ok {
		return "no job"
	}
	text := fmt.Sprintf("job #%d %s %d/%d (run %s)", snap.Generation, snap.State, snap.Progress, snap.Max, snap.RunID)
	if snap.State == jobs.StateCancelled {
		text += ": " + jobs.CancellationMessage(snap.CancelReason, "no reason")
	}
	return text
}
