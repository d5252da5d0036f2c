package cmd

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/brensch/solarfetch/internal/saver"

	"github.com/spf13/cobra"
)

var saveOutputDir string

// saveCmd represents the save command
var saveCmd = &cobra.Command{
	Use:   "save",
	Short: "Saves the ledger tables to Parquet files",
	Long: `Saves each table of the DuckDB ledger (runs, unit_event_log) into a separate
Parquet file. Files go to <log_dir>/ledger unless --output-dir is given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := getLogger()
		cfg := getConfig()

		outDir := saveOutputDir
		if outDir == "" {
			outDir = filepath.Join(cfg.LogDir, "ledger")
		}
		logger.Info("Starting table save process...",
			slog.String("db_path", cfg.DbPath),
			slog.String("output_dir", outDir),
		)

		paths, err := saver.SaveTablesToParquet(cmd.Context(), getDB(), outDir, logger)
		if err != nil {
			logger.Error("Save process completed with errors", "error", err)
			return fmt.Errorf("save failed: %w", err)
		}
		for _, p := range paths {
			fmt.Fprintln(cmd.OutOrStdout(), p)
		}
		logger.Info("Table save process completed successfully.", slog.Int("files", len(paths)))
		return nil
	},
}

func init() {
	saveCmd.Flags().StringVarP(&saveOutputDir, "output-dir", "o", "", "Directory for the Parquet files (default <log_dir>/ledger)")
}
