package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "CONFIG_PATH"

// EnvPrefix is stripped from environment overrides. Nested keys use a double
// underscore, e.g. SOLARFETCH_JSOC__BASE_URL sets jsoc.base_url.
const EnvPrefix = "SOLARFETCH_"

// DefaultConfigPaths are searched in order when CONFIG_PATH is unset.
var DefaultConfigPaths = []string{
	"solarfetch.yaml",
	"solarfetch.yml",
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		RawDataDir: "/data2",
		LogDir:     ".",
		DbPath:     "./solarfetch_state.duckdb",
		NumWorkers: DefaultWorkers,
		Progress:   "log",
		Sharp: DatasetConfig{
			MaxID:     DefaultSharpMaxID,
			BatchSize: 100,
		},
		Smarp: DatasetConfig{
			MaxID:     DefaultSmarpMaxID,
			BatchSize: 1000,
		},
		// Up until 2021-05-21 the last record HEK returns is a B3.2 flare at
		// 2020-12-23T05:53:00 in AR 12795.
		GOES: GOESConfig{
			FirstYear:  1996,
			LastYear:   2021,
			NumWorkers: DefaultGOESWorkers,
		},
		JSOC: JSOCConfig{
			BaseURL:            "http://jsoc.stanford.edu",
			RequestsPerSecond:  2,
			Timeout:            2 * time.Minute,
			ExportPollInterval: 3 * time.Second,
			ExportTimeout:      30 * time.Minute,
		},
		HEK: HEKConfig{
			BaseURL:           "https://www.lmsal.com/hek/her",
			RequestsPerSecond: 1,
			Timeout:           2 * time.Minute,
			PageSize:          20000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Load layers defaults, an optional YAML file and SOLARFETCH_ environment
// variables, then validates the result.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func envTransform(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}
