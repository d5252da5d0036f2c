package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/brensch/solarfetch/internal/orchestrator"
	"github.com/brensch/solarfetch/internal/progress"

	"github.com/spf13/cobra"
)

var progressMode string

// runCmd is the explicit form of the root command.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full fetch workflow",
	Long: `Performs the complete fetch:
1. Fetches the GOES flare catalog from HEK, one year per worker.
2. Fetches SHARP and SMARP header records, one file per region.
3. Exports and downloads the SHARP and SMARP magnetogram images of every region
   with a header, skipping images already on disk.
Outcome logs are written to the log directory and every unit is recorded in the ledger.`,
	RunE: runWorkflow,
}

func runWorkflow(cmd *cobra.Command, args []string) error {
	logger := getLogger()
	cfg := getConfig()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var reporter progress.Reporter = progress.NewLogReporter(logger)
	if cfg.Progress == "tui" {
		tui := progress.NewTUI("solarfetch", cancel)
		tui.Start()
		defer func() {
			if err := tui.Stop(); err != nil {
				logger.Error("Progress display failed.", "error", err)
			}
		}()
		reporter = tui
	}

	logger.Info("Starting fetch workflow...")
	err := orchestrator.New(cfg, getDB(), reporter, logger).Run(ctx)
	if err != nil {
		logger.Error("Fetch workflow completed with errors", "error", err)
		return fmt.Errorf("run workflow failed: %w", err)
	}
	logger.Info("Fetch workflow completed successfully.")
	return nil
}

func init() {
	runCmd.Flags().StringVar(&progressMode, "progress", "log", "Progress display (log or tui), overrides the configured mode")
}
