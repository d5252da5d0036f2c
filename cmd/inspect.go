package cmd

import (
	"fmt"
	"os"

	"github.com/brensch/solarfetch/internal/inspector"

	"github.com/spf13/cobra"
)

// inspectCmd represents the inspect command
var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Summarize the fetched artifacts using DuckDB",
	Long: `Uses DuckDB to summarize what is on disk: outcome counts from every
log_download_<tag>.csv, header file and record counts and image counts per
dataset, and the schema and event statistics of goes.parquet.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := getLogger()
		cfg := getConfig()

		logger.Info("Starting artifact inspection...")
		err := inspector.Inspect(cmd.Context(), getDB(), inspector.Options{
			LogDir:  cfg.LogDir,
			GOESDir: cfg.GOESDir(),
			Datasets: []inspector.Dataset{
				{Name: "sharp", HeaderDir: cfg.SharpHeaderDir(), ImageDir: cfg.SharpImageDir()},
				{Name: "smarp", HeaderDir: cfg.SmarpHeaderDir(), ImageDir: cfg.SmarpImageDir()},
			},
		}, os.Stdout, logger)
		if err != nil {
			logger.Error("Inspection completed with errors", "error", err)
			return fmt.Errorf("inspection failed: %w", err)
		}

		logger.Info("Artifact inspection completed successfully.")
		return nil
	},
}
