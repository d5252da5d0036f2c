package config

import (
	"fmt"
	"path/filepath"
	"time"
)

const (
	// Upper bound of the SHARP numbering space we consider. The last record is
	// hmi.sharp_cea_720s[7544][2021.02.03_04:12:00_TAI].
	DefaultSharpMaxID = 7544
	// SMARP TARPNUMs run from 1 to 13670; the range is padded.
	DefaultSmarpMaxID = 14000

	DefaultWorkers     = 8
	DefaultGOESWorkers = 4
)

// Config holds application settings. It is read once at process start.
type Config struct {
	RawDataDir string `koanf:"raw_data_dir"`
	Email      string `koanf:"email"`
	LogDir     string `koanf:"log_dir"` // where log_download_*/log_add_* land
	DbPath     string `koanf:"db_path"`
	NumWorkers int    `koanf:"workers"`

	// Progress is "log" or "tui".
	Progress    string `koanf:"progress"`
	MetricsFile string `koanf:"metrics_file"`

	Sharp DatasetConfig `koanf:"sharp"`
	Smarp DatasetConfig `koanf:"smarp"`
	GOES  GOESConfig    `koanf:"goes"`
	JSOC  JSOCConfig    `koanf:"jsoc"`
	HEK   HEKConfig     `koanf:"hek"`

	Logging LoggingConfig `koanf:"logging"`
}

// DatasetConfig controls the identifier range of one batch run pair.
type DatasetConfig struct {
	MaxID     int `koanf:"max_id"`
	BatchSize int `koanf:"batch_size"`
}

type GOESConfig struct {
	FirstYear  int `koanf:"first_year"`
	LastYear   int `koanf:"last_year"`
	NumWorkers int `koanf:"workers"`
}

type JSOCConfig struct {
	BaseURL            string        `koanf:"base_url"`
	RequestsPerSecond  float64       `koanf:"requests_per_second"`
	Timeout            time.Duration `koanf:"timeout"`
	ExportPollInterval time.Duration `koanf:"export_poll_interval"`
	ExportTimeout      time.Duration `koanf:"export_timeout"`
}

type HEKConfig struct {
	BaseURL           string        `koanf:"base_url"`
	RequestsPerSecond float64       `koanf:"requests_per_second"`
	Timeout           time.Duration `koanf:"timeout"`
	PageSize          int           `koanf:"page_size"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Output string `koanf:"output"`
}

// Directory layout under RawDataDir.
func (c Config) SharpHeaderDir() string { return filepath.Join(c.RawDataDir, "SHARP", "header") }
func (c Config) SharpImageDir() string  { return filepath.Join(c.RawDataDir, "SHARP", "image") }
func (c Config) SmarpHeaderDir() string { return filepath.Join(c.RawDataDir, "SMARP", "header") }
func (c Config) SmarpImageDir() string  { return filepath.Join(c.RawDataDir, "SMARP", "image") }
func (c Config) GOESDir() string        { return filepath.Join(c.RawDataDir, "GOES") }

// DataDirs lists every directory the workflow writes into.
func (c Config) DataDirs() []string {
	return []string{
		c.SharpHeaderDir(), c.SharpImageDir(),
		c.SmarpHeaderDir(), c.SmarpImageDir(),
		c.GOESDir(),
	}
}

// Validate checks the settings the workflow cannot run without.
func (c *Config) Validate() error {
	if c.RawDataDir == "" {
		return fmt.Errorf("raw_data_dir is required")
	}
	if c.Email == "" {
		return fmt.Errorf("email is required (JSOC exports need a registered notify address)")
	}
	if c.DbPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if c.NumWorkers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", c.NumWorkers)
	}
	for name, ds := range map[string]DatasetConfig{"sharp": c.Sharp, "smarp": c.Smarp} {
		if ds.MaxID < 0 {
			return fmt.Errorf("%s.max_id must be >= 0, got %d", name, ds.MaxID)
		}
		if ds.BatchSize < 1 {
			return fmt.Errorf("%s.batch_size must be >= 1, got %d", name, ds.BatchSize)
		}
	}
	if c.GOES.FirstYear > c.GOES.LastYear {
		return fmt.Errorf("goes.first_year (%d) is after goes.last_year (%d)", c.GOES.FirstYear, c.GOES.LastYear)
	}
	if c.GOES.NumWorkers < 1 {
		return fmt.Errorf("goes.workers must be >= 1, got %d", c.GOES.NumWorkers)
	}
	switch c.Progress {
	case "log", "tui":
	default:
		return fmt.Errorf("progress must be 'log' or 'tui', got %q", c.Progress)
	}
	return nil
}
