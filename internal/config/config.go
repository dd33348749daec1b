// =============================================================================
// PFI Indexer - Configuration Module
// =============================================================================
//
// This module loads the application configuration. Settings come from three
// layers, each overriding the one before it:
//   1. Built-in defaults (see applyMainConfigDefaults)
//   2. The main config file (config.yaml)
//   3. PFI_* environment variables
//
// A missing config file is not an error when the caller says so; the
// defaults and the environment are then the whole configuration.
//
// =============================================================================

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/ginjaninja78/pfi-indexer/internal/mapper"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "PFI_"

// Store kinds.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StoreRedis    = "redis"
	StoreBulkFile = "bulkfile"
)

// =============================================================================
// MAIN CONFIGURATION STRUCTURE
// =============================================================================

// MainConfig holds the global application configuration.
type MainConfig struct {
	// =========================================================================
	// DIRECTORY SETTINGS
	// =========================================================================

	// InputDir is scanned for register extracts (.csv, .xlsx) when no file is
	// named on the command line.
	// Default: "./input"
	InputDir string `yaml:"input_dir" env:"INPUT_DIR"`

	// InputArchiveDir receives extracts after a run that had no fatal error.
	// Default: "./input_archive"
	InputArchiveDir string `yaml:"input_archive_dir" env:"INPUT_ARCHIVE_DIR"`

	// ReportDir receives the row error log and run summary of each run.
	// Default: "./reports"
	ReportDir string `yaml:"report_dir" env:"REPORT_DIR"`

	// ArchiveInputs moves processed extracts to InputArchiveDir.
	// Default: false
	ArchiveInputs bool `yaml:"archive_inputs" env:"ARCHIVE_INPUTS"`

	// ReportNameFormat names report files.
	// Placeholders:
	//   {uuid}      - The run id
	//   {timestamp} - Run start time (YYYYMMDD_HHMMSS)
	//   {source}    - Base name of the input file, without extension
	// Default: "{source}_{timestamp}"
	ReportNameFormat string `yaml:"report_name_format" env:"REPORT_NAME_FORMAT"`

	// =========================================================================
	// LOGGING SETTINGS
	// =========================================================================

	// LogFile is where logs are written. Empty means stderr.
	LogFile string `yaml:"log_file" env:"LOG_FILE"`

	// LogLevel controls the verbosity of logging.
	// Valid values: "debug", "info", "warn", "error"
	// Default: "info"
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL"`

	// =========================================================================
	// COMPONENT SETTINGS
	// =========================================================================

	CSV     CSVSettings     `yaml:"csv" envPrefix:"CSV_"`
	XLSX    XLSXSettings    `yaml:"xlsx" envPrefix:"XLSX_"`
	Mapping MappingSettings `yaml:"mapping" envPrefix:"MAPPING_"`
	Ingest  IngestSettings  `yaml:"ingest" envPrefix:"INGEST_"`
	Store   StoreSettings   `yaml:"store" envPrefix:"STORE_"`
	API     APISettings     `yaml:"api" envPrefix:"API_"`
}

// =============================================================================
// CSV SETTINGS STRUCTURE
// =============================================================================

// CSVSettings contains settings for reading CSV extracts.
type CSVSettings struct {
	// Delimiter is the field separator. "tab", "pipe" and "semicolon" are
	// accepted as names.
	// Default: ","
	Delimiter string `yaml:"delimiter" env:"DELIMITER"`

	// HeaderRows is the number of leading rows to skip. The published
	// register carries none.
	// Default: 0
	HeaderRows int `yaml:"header_rows" env:"HEADER_ROWS"`

	// LazyQuotes tolerates stray quotes inside unquoted fields.
	// Default: false
	LazyQuotes bool `yaml:"lazy_quotes" env:"LAZY_QUOTES"`
}

// XLSXSettings contains settings for reading workbook extracts.
type XLSXSettings struct {
	// Sheet is the worksheet to read. Empty means the first sheet.
	Sheet string `yaml:"sheet" env:"SHEET"`

	// HeaderRows is the number of leading rows to skip.
	// Default: 0
	HeaderRows int `yaml:"header_rows" env:"HEADER_ROWS"`

	// Width pads rows with blank cells, since workbooks drop trailing empty
	// cells.
	// Default: 101
	Width int `yaml:"width" env:"WIDTH"`
}

// MappingSettings selects how rows are decoded.
type MappingSettings struct {
	// Layout names the column layout.
	// Valid values: "v1", "v1-sequential"
	// Default: "v1"
	Layout string `yaml:"layout" env:"LAYOUT"`

	// DateLayouts overrides the accepted date formats, as Go time layouts.
	// Empty means the built-in list.
	DateLayouts []string `yaml:"date_layouts" env:"DATE_LAYOUTS" envSeparator:"|"`
}

// IngestSettings controls the batch driver.
type IngestSettings struct {
	// Workers is the number of rows mapped in parallel.
	// Default: 4
	Workers int `yaml:"workers" env:"WORKERS"`

	// Timeout bounds a whole run. Zero means no limit.
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`

	// Retry controls resubmission of documents the store failed to accept.
	Retry RetrySettings `yaml:"retry" envPrefix:"RETRY_"`
}

// NoRetries as max_retries submits each document once.
const NoRetries = -1

// RetrySettings is an exponential backoff policy.
type RetrySettings struct {
	// MaxRetries is the number of retries after the first attempt. Zero means
	// the default; NoRetries (-1) turns retrying off.
	// Default: 3
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`

	// InitialInterval is the wait before the first retry.
	// Default: 200ms
	InitialInterval time.Duration `yaml:"initial_interval" env:"INITIAL_INTERVAL"`

	// MaxInterval caps the wait between retries.
	// Default: 5s
	MaxInterval time.Duration `yaml:"max_interval" env:"MAX_INTERVAL"`
}

// StoreSettings selects and configures the document store.
type StoreSettings struct {
	// Kind selects the store.
	// Valid values: "memory", "sqlite", "redis", "bulkfile"
	// Default: "sqlite"
	Kind string `yaml:"kind" env:"KIND"`

	// SQLitePath is the database file.
	// Default: "./data/pfi.db"
	SQLitePath string `yaml:"sqlite_path" env:"SQLITE_PATH"`

	// RedisURL is a redis:// URL.
	// Default: "redis://localhost:6379/0"
	RedisURL string `yaml:"redis_url" env:"REDIS_URL"`

	// RedisPrefix namespaces every key.
	// Default: "pfi:"
	RedisPrefix string `yaml:"redis_prefix" env:"REDIS_PREFIX"`

	// BulkPath is the NDJSON file written by the bulk store.
	// Default: "./output/pfi.ndjson"
	BulkPath string `yaml:"bulk_path" env:"BULK_PATH"`

	// BulkIndex is the search index named in each bulk action.
	// Default: "pfi"
	BulkIndex string `yaml:"bulk_index" env:"BULK_INDEX"`

	// BulkMappingPath, when set, receives the index mapping as JSON.
	BulkMappingPath string `yaml:"bulk_mapping_path" env:"BULK_MAPPING_PATH"`
}

// APISettings configures the read API.
type APISettings struct {
	// Addr is the listen address.
	// Default: ":8080"
	Addr string `yaml:"addr" env:"ADDR"`

	// DefaultPageSize applies when results_per_page is not given.
	// Default: 10
	DefaultPageSize int `yaml:"default_page_size" env:"DEFAULT_PAGE_SIZE"`

	// MaxPageSize caps results_per_page.
	// Default: 100
	MaxPageSize int `yaml:"max_page_size" env:"MAX_PAGE_SIZE"`

	// ShutdownTimeout bounds graceful shutdown.
	// Default: 10s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// =============================================================================
// CONFIGURATION LOADING FUNCTIONS
// =============================================================================

// LoadMainConfig loads the main configuration from a YAML file.
//
// PARAMETERS:
//   - configPath: The path to the main configuration file.
//   - allowMissing: Treat a missing file as an empty one.
//
// RETURNS:
//   - A pointer to the MainConfig struct, with defaults and environment
//     overrides applied.
//   - An error if the file cannot be read or parsed, or the result is invalid.
func LoadMainConfig(configPath string, allowMissing bool) (*MainConfig, error) {
	var config MainConfig

	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case allowMissing && errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return finish(&config)
}

// Default returns the built-in configuration with environment overrides.
func Default() (*MainConfig, error) {
	return finish(&MainConfig{})
}

func finish(config *MainConfig) (*MainConfig, error) {
	applyMainConfigDefaults(config)

	if err := env.ParseWithOptions(config, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to apply environment: %w", err)
	}

	if err := validateMainConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// applyMainConfigDefaults sets default values for any unset configuration options.
func applyMainConfigDefaults(config *MainConfig) {
	if config.InputDir == "" {
		config.InputDir = "./input"
	}
	if config.InputArchiveDir == "" {
		config.InputArchiveDir = "./input_archive"
	}
	if config.ReportDir == "" {
		config.ReportDir = "./reports"
	}
	if config.ReportNameFormat == "" {
		config.ReportNameFormat = "{source}_{timestamp}"
	}
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}

	if config.CSV.Delimiter == "" {
		config.CSV.Delimiter = ","
	}
	if config.XLSX.Width == 0 {
		config.XLSX.Width = mapper.MinRowWidth
	}
	if config.Mapping.Layout == "" {
		config.Mapping.Layout = mapper.LayoutV1
	}

	if config.Ingest.Workers == 0 {
		config.Ingest.Workers = 4
	}
	if config.Ingest.Retry.MaxRetries == 0 {
		config.Ingest.Retry.MaxRetries = 3
	}
	if config.Ingest.Retry.InitialInterval == 0 {
		config.Ingest.Retry.InitialInterval = 200 * time.Millisecond
	}
	if config.Ingest.Retry.MaxInterval == 0 {
		config.Ingest.Retry.MaxInterval = 5 * time.Second
	}

	if config.Store.Kind == "" {
		config.Store.Kind = StoreSQLite
	}
	if config.Store.SQLitePath == "" {
		config.Store.SQLitePath = "./data/pfi.db"
	}
	if config.Store.RedisURL == "" {
		config.Store.RedisURL = "redis://localhost:6379/0"
	}
	if config.Store.RedisPrefix == "" {
		config.Store.RedisPrefix = "pfi:"
	}
	if config.Store.BulkPath == "" {
		config.Store.BulkPath = "./output/pfi.ndjson"
	}
	if config.Store.BulkIndex == "" {
		config.Store.BulkIndex = "pfi"
	}

	if config.API.Addr == "" {
		config.API.Addr = ":8080"
	}
	if config.API.DefaultPageSize == 0 {
		config.API.DefaultPageSize = 10
	}
	if config.API.MaxPageSize == 0 {
		config.API.MaxPageSize = 100
	}
	if config.API.ShutdownTimeout == 0 {
		config.API.ShutdownTimeout = 10 * time.Second
	}
}

// validateMainConfig validates the main configuration.
func validateMainConfig(config *MainConfig) error {
	switch strings.ToLower(config.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log_level %q is not one of debug, info, warn, error", config.LogLevel)
	}

	if _, err := Delimiter(config.CSV.Delimiter); err != nil {
		return err
	}
	if config.CSV.HeaderRows < 0 || config.XLSX.HeaderRows < 0 {
		return fmt.Errorf("header_rows must not be negative")
	}
	if config.XLSX.Width < mapper.MinRowWidth {
		return fmt.Errorf("xlsx.width must be at least %d", mapper.MinRowWidth)
	}

	if _, err := mapper.LayoutByName(config.Mapping.Layout); err != nil {
		return err
	}

	if config.Ingest.Workers < 1 {
		return fmt.Errorf("ingest.workers must be at least 1")
	}
	if config.Ingest.Timeout < 0 {
		return fmt.Errorf("ingest.timeout must not be negative")
	}
	if config.Ingest.Retry.MaxRetries < NoRetries {
		return fmt.Errorf("ingest.retry.max_retries must be %d (no retries) or more", NoRetries)
	}

	switch config.Store.Kind {
	case StoreMemory, StoreSQLite, StoreRedis, StoreBulkFile:
	default:
		return fmt.Errorf("store.kind %q is not one of %s, %s, %s, %s",
			config.Store.Kind, StoreMemory, StoreSQLite, StoreRedis, StoreBulkFile)
	}

	if config.API.DefaultPageSize < 1 || config.API.MaxPageSize < config.API.DefaultPageSize {
		return fmt.Errorf("api page sizes must satisfy 1 <= default_page_size <= max_page_size")
	}

	return nil
}

// Delimiter resolves a configured delimiter to its rune.
func Delimiter(s string) (rune, error) {
	switch s {
	case "\\t", "tab", "TAB":
		return '\t', nil
	case "pipe", "PIPE":
		return '|', nil
	case "semicolon":
		return ';', nil
	}
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError || size != len(s) || r == '"' || r == '\r' || r == '\n' {
		return 0, fmt.Errorf("csv.delimiter %q must be a single character", s)
	}
	return r, nil
}
