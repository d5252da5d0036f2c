package inspector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/marcboeker/go-duckdb"
)

// Dataset names the artifact directories of one series.
type Dataset struct {
	Name      string
	HeaderDir string
	ImageDir  string
}

// Options lists the artifact locations to inspect.
type Options struct {
	LogDir   string
	GOESDir  string
	Datasets []Dataset
}

type outcomeCount struct {
	tag    string
	result int64
	count  int64
}

type datasetSummary struct {
	name        string
	headerFiles int
	headerRows  int64
	imageDirs   int
	imageFiles  int
	err         error
}

// Inspect summarizes the audit logs, header files, image directories and
// flare catalog with DuckDB and prints the result to w.
func Inspect(ctx context.Context, db *sql.DB, opts Options, w io.Writer, logger *slog.Logger) error {
	logger.Info("--- Starting Artifact Inspection ---")

	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	logger.Debug("Installing and loading Parquet extension.")
	if _, err := conn.ExecContext(ctx, `INSTALL parquet; LOAD parquet;`); err != nil {
		logger.Warn("Failed install/load parquet extension.", "error", err)
	}

	var inspectErr error

	// 1. Outcome logs
	outcomes, err := outcomeCounts(ctx, conn, opts.LogDir, logger)
	inspectErr = errors.Join(inspectErr, err)
	fmt.Fprintln(w, "\n--- Run Outcomes (log_download_*.csv) ---")
	fmt.Fprintf(w, "%-20s | %-8s | %s\n", "Tag", "Result", "Count")
	fmt.Fprintln(w, strings.Repeat("-", 45))
	for _, o := range outcomes {
		fmt.Fprintf(w, "%-20s | %-8d | %d\n", o.tag, o.result, o.count)
	}

	// 2. Per dataset headers and images
	fmt.Fprintln(w, "\n--- Datasets ---")
	fmt.Fprintf(w, "%-10s | %-12s | %-12s | %-10s | %-12s | %s\n", "Dataset", "Headers", "Header Rows", "Image Dirs", "Image Files", "Errors")
	fmt.Fprintln(w, strings.Repeat("-", 80))
	for _, ds := range opts.Datasets {
		s := summarizeDataset(ctx, conn, ds, logger)
		inspectErr = errors.Join(inspectErr, s.err)
		errStr := ""
		if s.err != nil {
			errStr = "Error"
		}
		fmt.Fprintf(w, "%-10s | %-12d | %-12d | %-10d | %-12d | %s\n", s.name, s.headerFiles, s.headerRows, s.imageDirs, s.imageFiles, errStr)
	}

	// 3. Flare catalog
	fmt.Fprintln(w, "\n--- GOES Flare Catalog ---")
	catalogPath := filepath.Join(opts.GOESDir, "goes.parquet")
	if _, statErr := os.Stat(catalogPath); statErr != nil {
		fmt.Fprintln(w, "  (goes.parquet not found)")
	} else {
		schemaStr, _, schemaErr := getSchemaAndColumns(ctx, conn, catalogPath)
		if schemaErr != nil {
			fmt.Fprintf(w, "  ERROR retrieving schema: %v\n", schemaErr)
		} else {
			fmt.Fprintln(w, schemaStr)
		}
		events, regions, first, last, statsErr := catalogStats(ctx, conn, catalogPath)
		if statsErr != nil {
			fmt.Fprintf(w, "  ERROR retrieving statistics: %v\n", statsErr)
		} else {
			fmt.Fprintf(w, "\n  Events: %d  Regions: %d  First: %s  Last: %s\n", events, regions, first.String, last.String)
		}
		inspectErr = errors.Join(inspectErr, schemaErr, statsErr)
	}

	logger.Info("--- Artifact Inspection Finished ---")
	if inspectErr != nil {
		logger.Warn("Inspection completed with errors.", "error", inspectErr)
	}
	return inspectErr
}

func outcomeCounts(ctx context.Context, conn *sql.Conn, logDir string, logger *slog.Logger) ([]outcomeCount, error) {
	logs, err := filepath.Glob(filepath.Join(logDir, "log_download_*.csv"))
	if err != nil {
		return nil, fmt.Errorf("failed glob outcome logs in %s: %w", logDir, err)
	}
	sort.Strings(logs)

	var out []outcomeCount
	var countErr error
	for _, path := range logs {
		tag := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(path), "log_download_"), ".csv")
		query := fmt.Sprintf(`SELECT CAST(result AS BIGINT) AS result, COUNT(*) FROM read_csv(%s, header = true) GROUP BY 1 ORDER BY 1;`, sqlString(path))
		rows, err := conn.QueryContext(ctx, query)
		if err != nil {
			logger.Error("Failed reading outcome log.", slog.String("path", path), "error", err)
			countErr = errors.Join(countErr, fmt.Errorf("read %s: %w", path, err))
			continue
		}
		for rows.Next() {
			o := outcomeCount{tag: tag}
			if err := rows.Scan(&o.result, &o.count); err != nil {
				countErr = errors.Join(countErr, fmt.Errorf("scan %s: %w", path, err))
				break
			}
			out = append(out, o)
		}
		countErr = errors.Join(countErr, rows.Err())
		rows.Close()
	}
	return out, countErr
}

func summarizeDataset(ctx context.Context, conn *sql.Conn, ds Dataset, logger *slog.Logger) datasetSummary {
	s := datasetSummary{name: ds.Name}
	l := logger.With(slog.String("dataset", ds.Name))

	headers, err := filepath.Glob(filepath.Join(ds.HeaderDir, "*_ATTRS.csv"))
	if err != nil {
		s.err = fmt.Errorf("glob headers of %s: %w", ds.Name, err)
		return s
	}
	s.headerFiles = len(headers)
	if len(headers) > 0 {
		query := fmt.Sprintf(`SELECT COUNT(*) FROM read_csv(%s, header = true, union_by_name = true, all_varchar = true);`,
			sqlString(filepath.Join(ds.HeaderDir, "*_ATTRS.csv")))
		if err := conn.QueryRowContext(ctx, query).Scan(&s.headerRows); err != nil {
			l.Error("Failed counting header rows.", "error", err)
			s.err = fmt.Errorf("count header rows of %s: %w", ds.Name, err)
		}
	}

	walkErr := filepath.WalkDir(ds.ImageDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == ds.ImageDir {
				return filepath.SkipDir
			}
			return err
		}
		switch {
		case path == ds.ImageDir:
		case d.IsDir():
			s.imageDirs++
		case strings.HasSuffix(d.Name(), ".fits"):
			s.imageFiles++
		}
		return nil
	})
	if walkErr != nil {
		s.err = errors.Join(s.err, fmt.Errorf("walk images of %s: %w", ds.Name, walkErr))
	}
	l.Debug("Dataset summarized.", slog.Int("headers", s.headerFiles), slog.Int("image_files", s.imageFiles))
	return s
}

func catalogStats(ctx context.Context, conn *sql.Conn, path string) (events, regions int64, first, last sql.NullString, err error) {
	query := fmt.Sprintf(`SELECT COUNT(*), COUNT(DISTINCT noaa_active_region), MIN(start_time), MAX(start_time) FROM read_parquet(%s);`, sqlString(path))
	err = conn.QueryRowContext(ctx, query).Scan(&events, &regions, &first, &last)
	if err != nil {
		err = fmt.Errorf("query catalog stats for %s: %w", path, err)
	}
	return events, regions, first, last, err
}

func sqlString(path string) string {
	return "'" + strings.ReplaceAll(filepath.ToSlash(path), "'", "''") + "'"
}

func getSchemaAndColumns(ctx context.Context, conn *sql.Conn, filePath string) (schemaString string, columnNames []string, err error) {
	describeSQL := fmt.Sprintf("DESCRIBE SELECT * FROM read_parquet(%s);", sqlString(filePath))
	schemaRows, err := conn.QueryContext(ctx, describeSQL)
	if err != nil {
		if strings.Contains(err.Error(), "does not exist") || strings.Contains(err.Error(), "No files found") {
			return "(File not found or empty)", nil, nil
		}
		return "", nil, fmt.Errorf("query schema for %s: %w", filePath, err)
	}
	defer schemaRows.Close()
	var schemaBuilder strings.Builder
	columnNames = []string{}
	schemaBuilder.WriteString(fmt.Sprintf("  %-30s | %-20s | %-5s | %-5s | %-5s | %s\n", "Column Name", "Column Type", "Null", "Key", "Default", "Extra"))
	schemaBuilder.WriteString("  " + strings.Repeat("-", 90) + "\n")
	for schemaRows.Next() {
		var colName, colType, nullVal, keyVal, defaultVal, extraVal sql.NullString
		if scanErr := schemaRows.Scan(&colName, &colType, &nullVal, &keyVal, &defaultVal, &extraVal); scanErr != nil {
			return "", nil, fmt.Errorf("scan schema row for %s: %w", filePath, scanErr)
		}
		schemaBuilder.WriteString(fmt.Sprintf("  %-30s | %-20s | %-5s | %-5s | %-5s | %s\n", colName.String, colType.String, nullVal.String, keyVal.String, defaultVal.String, extraVal.String))
		if colName.Valid {
			columnNames = append(columnNames, colName.String)
		}
	}
	if err = schemaRows.Err(); err != nil {
		return "", nil, fmt.Errorf("iterate schema rows for %s: %w", filePath, err)
	}
	if len(columnNames) == 0 {
		return "(No columns found)", nil, nil
	}
	return strings.TrimRight(schemaBuilder.String(), "\n"), columnNames, nil
}
