package cmd

import (
	"fmt"
	"os"

	"github.com/brensch/solarfetch/internal/db"

	"github.com/spf13/cobra"
)

var stateLimit int
var stateFilterOutcome string
var stateRun string
var stateUnitID int

// stateCmd shows the ledger.
var stateCmd = &cobra.Command{
	Use:   "state [runs|<tag>]",
	Short: "View the run history or the unit outcomes of one batch run",
	Long: `Queries the DuckDB ledger. Without an argument, or with 'runs', it lists the
most recent runs with their unit totals. With a run tag (goes, sharp_headers,
smarp_headers, sharp_images, smarp_images) it lists the recorded unit outcomes
of that tag, optionally filtered by outcome name.

With a tag and --run it prints the outcome totals of that tag in one run (a
run id prefix is enough). With a tag and --id it prints the latest outcome of
a single unit.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := getLogger()
		dbConn := getDB()

		if len(args) == 0 || args[0] == "runs" {
			logger.Info("Querying run history", "limit", stateLimit)
			if err := db.DisplayRunHistory(cmd.Context(), dbConn, os.Stdout, stateLimit); err != nil {
				logger.Error("Failed to display run history", "error", err)
				return err
			}
			return nil
		}

		tag := args[0]
		ledger := db.NewLedger(dbConn, logger)
		switch {
		case stateRun != "":
			logger.Info("Querying run outcomes", "tag", tag, "run", stateRun)
			if err := ledger.DisplayRunOutcomes(cmd.Context(), os.Stdout, stateRun, tag); err != nil {
				logger.Error("Failed to display run outcomes", "error", err)
				return fmt.Errorf("state %s: %w", tag, err)
			}
		case stateUnitID >= 0:
			logger.Info("Querying latest unit outcome", "tag", tag, "id", stateUnitID)
			if err := ledger.DisplayLatestOutcome(cmd.Context(), os.Stdout, tag, stateUnitID); err != nil {
				logger.Error("Failed to display unit outcome", "error", err)
				return fmt.Errorf("state %s: %w", tag, err)
			}
		default:
			logger.Info("Querying unit history", "tag", tag, "outcome_filter", stateFilterOutcome, "limit", stateLimit)
			if err := db.DisplayUnitHistory(cmd.Context(), dbConn, os.Stdout, tag, stateFilterOutcome, stateLimit); err != nil {
				logger.Error("Failed to display unit history", "error", err)
				return fmt.Errorf("state %s: %w", tag, err)
			}
		}
		return nil
	},
}

func init() {
	stateCmd.Flags().IntVarP(&stateLimit, "limit", "n", 50, "Limit the number of records displayed")
	stateCmd.Flags().StringVarP(&stateFilterOutcome, "outcome", "o", "", "Filter unit records by outcome (e.g. written, no_records, failed)")
	stateCmd.Flags().StringVarP(&stateRun, "run", "r", "", "Show the outcome totals of this run id (or unique prefix)")
	stateCmd.Flags().IntVar(&stateUnitID, "id", -1, "Show the latest outcome of this unit (HARPNUM/TARPNUM)")
}
