package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)

	assert.Equal(t, "./input", cfg.InputDir)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, ",", cfg.CSV.Delimiter)
	assert.Equal(t, 0, cfg.CSV.HeaderRows)
	assert.Equal(t, 101, cfg.XLSX.Width)
	assert.Equal(t, "v1", cfg.Mapping.Layout)
	assert.Equal(t, 4, cfg.Ingest.Workers)
	assert.Equal(t, 3, cfg.Ingest.Retry.MaxRetries)
	assert.Equal(t, 200*time.Millisecond, cfg.Ingest.Retry.InitialInterval)
	assert.Equal(t, StoreSQLite, cfg.Store.Kind)
	assert.Equal(t, "pfi", cfg.Store.BulkIndex)
	assert.Equal(t, 10, cfg.API.DefaultPageSize)
	assert.Equal(t, 100, cfg.API.MaxPageSize)
}

func TestLoadMainConfigFromYAML(t *testing.T) {
	path := writeConfig(t, `
input_dir: /data/in
log_level: debug
csv:
  delimiter: pipe
  header_rows: 1
mapping:
  layout: v1-sequential
  date_layouts: ["02/01/2006"]
ingest:
  workers: 8
  timeout: 2m
  retry:
    max_retries: 5
    initial_interval: 50ms
store:
  kind: bulkfile
  bulk_path: /tmp/out.ndjson
api:
  default_page_size: 25
`)

	cfg, err := LoadMainConfig(path, false)
	require.NoError(t, err)

	assert.Equal(t, "/data/in", cfg.InputDir)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "pipe", cfg.CSV.Delimiter)
	assert.Equal(t, 1, cfg.CSV.HeaderRows)
	assert.Equal(t, "v1-sequential", cfg.Mapping.Layout)
	assert.Equal(t, []string{"02/01/2006"}, cfg.Mapping.DateLayouts)
	assert.Equal(t, 8, cfg.Ingest.Workers)
	assert.Equal(t, 2*time.Minute, cfg.Ingest.Timeout)
	assert.Equal(t, 5, cfg.Ingest.Retry.MaxRetries)
	assert.Equal(t, 50*time.Millisecond, cfg.Ingest.Retry.InitialInterval)
	assert.Equal(t, 5*time.Second, cfg.Ingest.Retry.MaxInterval)
	assert.Equal(t, StoreBulkFile, cfg.Store.Kind)
	assert.Equal(t, "/tmp/out.ndjson", cfg.Store.BulkPath)
	assert.Equal(t, 25, cfg.API.DefaultPageSize)
}

func TestEnvironmentOverridesYAML(t *testing.T) {
	path := writeConfig(t, "store:\n  kind: sqlite\ningest:\n  workers: 2\n")

	t.Setenv("PFI_STORE_KIND", "redis")
	t.Setenv("PFI_STORE_REDIS_URL", "redis://cache:6379/2")
	t.Setenv("PFI_INGEST_WORKERS", "16")
	t.Setenv("PFI_INGEST_RETRY_MAX_RETRIES", "1")
	t.Setenv("PFI_MAPPING_DATE_LAYOUTS", "2006-01-02|02/01/2006")
	t.Setenv("PFI_LOG_LEVEL", "warn")

	cfg, err := LoadMainConfig(path, false)
	require.NoError(t, err)

	assert.Equal(t, StoreRedis, cfg.Store.Kind)
	assert.Equal(t, "redis://cache:6379/2", cfg.Store.RedisURL)
	assert.Equal(t, 16, cfg.Ingest.Workers)
	assert.Equal(t, 1, cfg.Ingest.Retry.MaxRetries)
	assert.Equal(t, []string{"2006-01-02", "02/01/2006"}, cfg.Mapping.DateLayouts)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoadMainConfigMissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.yaml")

	_, err := LoadMainConfig(missing, false)
	assert.Error(t, err)

	cfg, err := LoadMainConfig(missing, true)
	require.NoError(t, err)
	assert.Equal(t, StoreSQLite, cfg.Store.Kind)
}

func TestRetriesCanBeTurnedOff(t *testing.T) {
	cfg, err := LoadMainConfig(writeConfig(t, "ingest:\n  retry:\n    max_retries: -1\n"), false)
	require.NoError(t, err)
	assert.Equal(t, NoRetries, cfg.Ingest.Retry.MaxRetries)
}

func TestLoadMainConfigRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"bad yaml":        "csv: [",
		"log level":       "log_level: chatty\n",
		"delimiter":       "csv:\n  delimiter: ',,'\n",
		"layout":          "mapping:\n  layout: v9\n",
		"workers":         "ingest:\n  workers: -1\n",
		"store kind":      "store:\n  kind: postgres\n",
		"page sizes":      "api:\n  default_page_size: 50\n  max_page_size: 20\n",
		"xlsx width":      "xlsx:\n  width: 50\n",
		"negative header": "csv:\n  header_rows: -2\n",
		"max retries":     "ingest:\n  retry:\n    max_retries: -2\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadMainConfig(writeConfig(t, body), false)
			assert.Error(t, err)
		})
	}
}

func TestDelimiter(t *testing.T) {
	for in, want := range map[string]rune{",": ',', "tab": '\t', `\t`: '\t', "pipe": '|', "|": '|', "semicolon": ';'} {
		got, err := Delimiter(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, in := range []string{"", `"`, "ab"} {
		_, err := Delimiter(in)
		assert.Error(t, err, in)
	}
}
