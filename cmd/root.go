package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/brensch/solarfetch/internal/config"
	"github.com/brensch/solarfetch/internal/db"

	_ "github.com/marcboeker/go-duckdb" // DuckDB driver
	"github.com/spf13/cobra"
)

var (
	// Flags override the loaded configuration when set.
	cfgFile   string
	logFormat string
	logLevel  string
	logOutput string

	// Global instances populated in PersistentPreRunE
	rootLogger *slog.Logger
	logFile    *os.File
	dbConn     *sql.DB
	appConfig  config.Config
)

// rootCmd runs the fetch workflow when called without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "solarfetch",
	Short: "Fetch SHARP/SMARP magnetogram headers and images and the GOES flare catalog.",
	Long: `Solarfetch retrieves the GOES flare catalog from HEK and the SHARP and SMARP
header metadata and magnetogram images from JSOC into a local directory tree.
Runs are idempotent: anything already on disk is skipped.

Every unit outcome is recorded in a DuckDB ledger. Use 'state' to view the
history, 'inspect' to summarize the artifacts on disk and 'save' to export the
ledger to Parquet.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if dbConn != nil {
			rootLogger.Info("Closing DuckDB connection.")
			if err := dbConn.Close(); err != nil {
				rootLogger.Error("Failed to close DuckDB connection cleanly", "error", err)
			}
		}
		if logFile != nil {
			logFile.Close()
		}
		return nil
	},
	RunE: runWorkflow,
}

func setup(cmd *cobra.Command, args []string) error {
	// --- 1. Load Config ---
	if cfgFile != "" {
		if err := os.Setenv(config.ConfigPathEnvVar, cfgFile); err != nil {
			return fmt.Errorf("failed to set %s: %w", config.ConfigPathEnvVar, err)
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	appConfig = *cfg

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		appConfig.Logging.Level = logLevel
	}
	if flags.Changed("log-format") {
		appConfig.Logging.Format = logFormat
	}
	if flags.Changed("log-output") {
		appConfig.Logging.Output = logOutput
	}
	if flags.Changed("progress") {
		appConfig.Progress = progressMode
	}
	// The TUI owns the terminal, so its logs go to a file.
	if appConfig.Progress == "tui" && runsWorkflow(cmd) && isTerminalOutput(appConfig.Logging.Output) {
		appConfig.Logging.Output = filepath.Join(appConfig.LogDir, "solarfetch.log")
	}

	// --- 2. Initialize Logger ---
	if err := initLogger(appConfig.Logging); err != nil {
		return err
	}
	rootLogger.Debug("Configuration loaded", slog.Any("config", appConfig))

	// --- 3. Initialize DuckDB Connection & Schema ---
	if appConfig.DbPath != ":memory:" {
		dbDir := filepath.Dir(appConfig.DbPath)
		if err := os.MkdirAll(dbDir, 0o755); err != nil {
			return fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
		}
	}
	rootLogger.Info("Initializing DuckDB connection", "path", appConfig.DbPath)
	dbConn, err = sql.Open("duckdb", strings.TrimPrefix(appConfig.DbPath, ":memory:"))
	if err != nil {
		return fmt.Errorf("failed to open duckdb database (%s): %w", appConfig.DbPath, err)
	}
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err = dbConn.PingContext(pingCtx); err != nil {
		dbConn.Close()
		dbConn = nil
		return fmt.Errorf("failed to ping duckdb database (%s): %w", appConfig.DbPath, err)
	}
	if err := db.InitializeSchema(dbConn); err != nil {
		dbConn.Close()
		dbConn = nil
		return fmt.Errorf("failed to initialize database schema: %w", err)
	}
	rootLogger.Info("Database schema initialized successfully.")
	return nil
}

func initLogger(lc config.LoggingConfig) error {
	var level slog.Level
	switch strings.ToLower(lc.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var logWriter io.Writer = os.Stderr
	if !isTerminalOutput(lc.Output) {
		if err := os.MkdirAll(filepath.Dir(lc.Output), 0o755); err != nil {
			return fmt.Errorf("failed to create log directory for %s: %w", lc.Output, err)
		}
		f, err := os.OpenFile(lc.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", lc.Output, err)
		}
		logFile = f
		logWriter = f
	} else if strings.ToLower(lc.Output) == "stdout" {
		logWriter = os.Stdout
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if lc.Format == "json" {
		handler = slog.NewJSONHandler(logWriter, opts)
	} else {
		handler = slog.NewTextHandler(logWriter, opts)
	}
	rootLogger = slog.New(handler)
	slog.SetDefault(rootLogger)
	rootLogger.Info("Logger initialized", "level", level.String(), "format", lc.Format, "output", lc.Output)
	return nil
}

func isTerminalOutput(output string) bool {
	switch strings.ToLower(output) {
	case "", "stderr", "stdout":
		return true
	}
	return false
}

func runsWorkflow(cmd *cobra.Command) bool {
	return !cmd.HasParent() || cmd.Name() == "run"
}

// Execute adds all child commands to the root command and runs it. It exits
// with status 1 on error.
func Execute() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(saveCmd)
	rootCmd.AddCommand(stateCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		if rootLogger != nil {
			rootLogger.Error("Command execution failed", "error", err)
		} else {
			fmt.Fprintf(os.Stderr, "Command execution failed: %v\n", err)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $CONFIG_PATH or ./solarfetch.yaml)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log output format (text or json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logOutput, "log-output", "stderr", "Log output destination (stderr, stdout, or file path)")
	rootCmd.Flags().StringVar(&progressMode, "progress", "log", "Progress display (log or tui), overrides the configured mode")

	rootCmd.Version = "0.1.0"
}

func getLogger() *slog.Logger {
	if rootLogger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return rootLogger
}

func getDB() *sql.DB {
	return dbConn
}

func getConfig() config.Config {
	return appConfig
}
