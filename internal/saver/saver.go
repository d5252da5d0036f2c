package saver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/marcboeker/go-duckdb"
	"golang.org/x/sync/errgroup"
)

// SaveTablesToParquet copies every table of the ledger database into its own
// Parquet file under outDir and returns the written paths, sorted.
func SaveTablesToParquet(ctx context.Context, db *sql.DB, outDir string, logger *slog.Logger) ([]string, error) {
	logger.Info("--- Starting Ledger to Parquet Save Process ---")

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory '%s': %w", outDir, err)
	}
	logger.Info("Output directory ensured.", slog.String("dir", outDir))

	tableNames, err := listTables(ctx, db)
	if err != nil {
		return nil, err
	}
	if len(tableNames) == 0 {
		logger.Info("No tables found in the database to save.")
		return nil, nil
	}
	logger.Info("Found tables to save.", slog.Int("count", len(tableNames)))

	paths := make([]string, len(tableNames))
	saveErrs := make([]error, len(tableNames))
	var g errgroup.Group
	g.SetLimit(4)
	for i, tn := range tableNames {
		if ctx.Err() != nil {
			logger.Warn("Context cancelled before saving all tables.", "error", ctx.Err())
			saveErrs[i] = ctx.Err()
			break
		}
		g.Go(func() error {
			l := logger.With(slog.String("table", tn))
			l.Info("Saving table to Parquet...")

			safeFilename := strings.ReplaceAll(tn, `"`, "")
			safeFilename = strings.ReplaceAll(safeFilename, "/", "_")
			outputFilePath := filepath.Join(outDir, safeFilename+".parquet")

			copySQL := fmt.Sprintf(`COPY "%s" TO '%s' (FORMAT PARQUET, COMPRESSION SNAPPY);`,
				strings.ReplaceAll(tn, `"`, `""`),
				strings.ReplaceAll(filepath.ToSlash(outputFilePath), "'", "''"),
			)
			if _, err := db.ExecContext(ctx, copySQL); err != nil {
				l.Error("Failed to save table to Parquet.", "error", err)
				saveErrs[i] = fmt.Errorf("save %s: %w", tn, err)
				return nil
			}
			l.Info("Successfully saved table to Parquet.", slog.String("output_path", outputFilePath))
			paths[i] = outputFilePath
			return nil
		})
	}
	g.Wait()

	written := make([]string, 0, len(paths))
	for _, p := range paths {
		if p != "" {
			written = append(written, p)
		}
	}
	sort.Strings(written)

	if finalErr := errors.Join(saveErrs...); finalErr != nil {
		logger.Error("Save process completed with errors.", "error", finalErr)
		return written, finalErr
	}
	logger.Info("--- Ledger to Parquet Save Process Finished Successfully ---")
	return written, nil
}

func listTables(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, `PRAGMA show_tables;`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tables: %w", err)
	}
	defer rows.Close()

	var tableNames []string
	for rows.Next() {
		var tableName string
		if err := rows.Scan(&tableName); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tableNames = append(tableNames, tableName)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tables: %w", err)
	}
	return tableNames, nil
}
