package utils

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("1,a\n"), 0644))
}

func TestDiscoverInputFiles(t *testing.T) {
	dir := t.TempDir()
	fm := NewFileManager(dir, filepath.Join(dir, "reports"), filepath.Join(dir, "archive"))

	touch(t, filepath.Join(dir, "b_register.csv"))
	touch(t, filepath.Join(dir, "a_register.XLSX"))
	touch(t, filepath.Join(dir, "notes.txt"))
	touch(t, filepath.Join(dir, ".hidden.csv"))
	touch(t, filepath.Join(dir, "nested", "c.csv"))

	files, err := fm.DiscoverInputFiles()
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a_register.XLSX"),
		filepath.Join(dir, "b_register.csv"),
	}, files)
}

func TestDiscoverInputFilesMissingDir(t *testing.T) {
	fm := NewFileManager(filepath.Join(t.TempDir(), "absent"), "", "")
	_, err := fm.DiscoverInputFiles()
	assert.Error(t, err)
}

func TestEnsureDirectories(t *testing.T) {
	dir := t.TempDir()
	fm := NewFileManager(filepath.Join(dir, "in"), filepath.Join(dir, "reports"), filepath.Join(dir, "archive"))
	require.NoError(t, fm.EnsureDirectories())

	for _, d := range []string{fm.InputDir, fm.ReportDir, fm.InputArchiveDir} {
		info, err := os.Stat(d)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestArchiveInputFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in", "register.csv")
	touch(t, src)

	t.Run("flat", func(t *testing.T) {
		fm := NewFileManager(filepath.Join(dir, "in"), "", filepath.Join(dir, "archive"))
		got, err := fm.ArchiveInputFile(src)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "archive", "register.csv"), got)
		assert.False(t, FileExists(src))
		assert.True(t, FileExists(got))
	})

	t.Run("dated", func(t *testing.T) {
		touch(t, src)
		fm := NewFileManager(filepath.Join(dir, "in"), "", filepath.Join(dir, "dated"))
		fm.UseTimestampSubdirs = true
		got, err := fm.ArchiveInputFile(src)
		require.NoError(t, err)
		rel, err := filepath.Rel(filepath.Join(dir, "dated"), got)
		require.NoError(t, err)
		assert.Regexp(t, `^\d{4}/\d{2}/\d{2}/register\.csv$`, filepath.ToSlash(rel))
	})
}

func TestReportBaseName(t *testing.T) {
	started := time.Date(2024, time.January, 15, 14, 30, 22, 0, time.UTC)

	assert.Equal(t, "pfi_register_2016_20240115_143022",
		ReportBaseName("{source}_{timestamp}", "input/pfi_register_2016.csv", "run-1", started))
	assert.Equal(t, "run-1", ReportBaseName("{uuid}", "x.csv", "run-1", started))
	assert.Len(t, ReportBaseName("{uuid}", "x.csv", "", started), 36)
}

func TestWriteErrorLog(t *testing.T) {
	dir := t.TempDir()

	path, err := WriteErrorLog(nil, dir, "empty")
	require.NoError(t, err)
	assert.Empty(t, path)

	path, err = WriteErrorLog([]ErrorLogEntry{
		{Timestamp: time.Now(), FileName: "register.csv", ErrorType: "malformed_row", ErrorMessage: "capital_value: not a number", RowNumber: 14, HMTID: 512, FieldName: "capital_value"},
		{Timestamp: time.Now(), FileName: "register.csv", ErrorType: "unreadable_row", ErrorMessage: "bare quote", RowNumber: 20},
	}, filepath.Join(dir, "reports"), "register_20240115_143022")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "reports", "register_20240115_143022_errors.txt"), path)

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(body)
	assert.Contains(t, text, "Total Errors: 2")
	assert.Contains(t, text, "Row Number:     14")
	assert.Contains(t, text, "HMT ID:         512")
	assert.Contains(t, text, "Field:          capital_value")
	assert.Contains(t, text, "End of Error Log")
}

func TestWriteSummaryLog(t *testing.T) {
	dir := t.TempDir()
	start := time.Date(2024, time.January, 15, 14, 30, 0, 0, time.UTC)

	path, err := WriteSummaryLog(ProcessingSummary{
		StartTime:       start,
		EndTime:         start.Add(3 * time.Second),
		TotalFiles:      2,
		SuccessfulFiles: 1,
		FailedFiles:     1,
		TotalRows:       10,
		Stored:          9,
		Skipped:         1,
		ProcessedFiles:  []ProcessedFileInfo{{InputFile: "a.csv", RunID: "run-1", Rows: 10, Stored: 9, Skipped: 1}},
		FailedFilesList: []FailedFileInfo{{InputFile: "b.xlsx", ErrorMessage: "sheet not found"}},
	}, dir, "batch")
	require.NoError(t, err)

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(body)
	assert.Contains(t, text, "Duration:       3s")
	assert.Contains(t, text, "Stored:             9")
	assert.Contains(t, text, "Run ID:       run-1")
	assert.Contains(t, text, "Error: sheet not found")
}
