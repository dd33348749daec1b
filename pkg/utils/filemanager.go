// =============================================================================
// PFI Indexer - File Manager Utility
// =============================================================================
//
// This module provides file management utilities for ingestion runs:
//   - Discovery of register extracts in the input directory
//   - Archival of extracts after a run
//   - Row error logs and run summaries in the report directory
//   - Report file naming
//
// ARCHIVAL STRATEGY:
//   - Extracts are moved to input_archive after a run that read the whole
//     file, even if some rows were skipped; the error log names those rows
//   - Extracts whose run failed stay where they are
//
// =============================================================================

package utils

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// InputExtensions are the extract formats DiscoverInputFiles picks up.
var InputExtensions = []string{".csv", ".xlsx"}

// =============================================================================
// FILE MANAGER
// =============================================================================

// FileManager handles file operations around ingestion runs.
type FileManager struct {
	// InputDir is where register extracts are placed.
	InputDir string

	// ReportDir receives error logs and summaries.
	ReportDir string

	// InputArchiveDir receives extracts after a run.
	InputArchiveDir string

	// UseTimestampSubdirs creates date-based subdirectories in the archive.
	// Example: input_archive/2024/01/15/register.csv
	UseTimestampSubdirs bool
}

// NewFileManager creates a new FileManager with the specified directories.
func NewFileManager(inputDir, reportDir, inputArchiveDir string) *FileManager {
	return &FileManager{
		InputDir:        inputDir,
		ReportDir:       reportDir,
		InputArchiveDir: inputArchiveDir,
	}
}

// =============================================================================
// DIRECTORY MANAGEMENT
// =============================================================================

// EnsureDirectories creates all required directories if they don't exist.
func (fm *FileManager) EnsureDirectories() error {
	for _, dir := range []string{fm.InputDir, fm.ReportDir, fm.InputArchiveDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// =============================================================================
// FILE DISCOVERY
// =============================================================================

// DiscoverInputFiles lists the extracts in the input directory, sorted by
// name. Subdirectories and hidden files are ignored.
//
// RETURNS:
//   - A slice of file paths.
//   - An error if the directory cannot be read.
func (fm *FileManager) DiscoverInputFiles() ([]string, error) {
	entries, err := os.ReadDir(fm.InputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan input directory: %w", err)
	}

	var result []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		if IsInputFile(name) {
			result = append(result, filepath.Join(fm.InputDir, name))
		}
	}
	sort.Strings(result)
	return result, nil
}

// IsInputFile reports whether path has an extract extension.
func IsInputFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range InputExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// =============================================================================
// FILE ARCHIVAL
// =============================================================================

// ArchiveInputFile moves an extract to the archive directory.
//
// PARAMETERS:
//   - filePath: The path to the file to archive.
//
// RETURNS:
//   - The path to the archived file.
//   - An error if archival fails.
func (fm *FileManager) ArchiveInputFile(filePath string) (string, error) {
	archivePath := fm.getArchivePath(filePath)

	if err := os.MkdirAll(filepath.Dir(archivePath), 0755); err != nil {
		return "", fmt.Errorf("failed to create archive directory: %w", err)
	}

	if err := os.Rename(filePath, archivePath); err != nil {
		// If rename fails (e.g., cross-device), try copy and delete.
		if err := copyFile(filePath, archivePath); err != nil {
			return "", fmt.Errorf("failed to copy file to archive: %w", err)
		}
		if err := os.Remove(filePath); err != nil {
			return "", fmt.Errorf("failed to remove original file: %w", err)
		}
	}

	return archivePath, nil
}

// getArchivePath constructs the archive path for a file.
func (fm *FileManager) getArchivePath(filePath string) string {
	fileName := filepath.Base(filePath)

	if fm.UseTimestampSubdirs {
		now := time.Now()
		return filepath.Join(
			fm.InputArchiveDir,
			fmt.Sprintf("%d", now.Year()),
			fmt.Sprintf("%02d", now.Month()),
			fmt.Sprintf("%02d", now.Day()),
			fileName,
		)
	}

	return filepath.Join(fm.InputArchiveDir, fileName)
}

// =============================================================================
// REPORT FILE NAMING
// =============================================================================

// ReportBaseName expands a report name format.
//
// PARAMETERS:
//   - format: The format string. Placeholders:
//     {uuid}      - runID, or a new UUID when runID is empty
//     {timestamp} - started as YYYYMMDD_HHMMSS
//     {source}    - Base name of source, without extension
//   - source: The input file.
//   - runID: The run id.
//   - started: The run start time.
//
// RETURNS:
//   - The base name, without extension.
//
// EXAMPLE:
//
//	format: "{source}_{timestamp}"
//	source: "input/pfi_register_2016.csv"
//	output: "pfi_register_2016_20240115_143022"
func ReportBaseName(format, source, runID string, started time.Time) string {
	if runID == "" {
		runID = uuid.New().String()
	}
	base := filepath.Base(source)
	base = strings.TrimSuffix(base, filepath.Ext(base))

	return strings.NewReplacer(
		"{uuid}", runID,
		"{timestamp}", started.Format("20060102_150405"),
		"{source}", base,
	).Replace(format)
}

// =============================================================================
// ERROR LOG GENERATION
// =============================================================================

// ErrorLogEntry represents a single error log entry.
type ErrorLogEntry struct {
	Timestamp    time.Time
	FileName     string
	ErrorType    string
	ErrorMessage string
	RowNumber    int

	// HMTID is zero when the project id could not be read.
	HMTID     int
	FieldName string
}

// WriteErrorLog writes error entries to <dir>/<baseName>_errors.txt.
//
// PARAMETERS:
//   - entries: The error entries to write.
//   - dir: The directory to write the log file.
//   - baseName: The report base name, see ReportBaseName.
//
// RETURNS:
//   - The path to the error log file, empty when there were no entries.
//   - An error if writing fails.
func WriteErrorLog(entries []ErrorLogEntry, dir, baseName string) (string, error) {
	if len(entries) == 0 {
		return "", nil
	}

	logPath := filepath.Join(dir, baseName+"_errors.txt")
	err := writeReport(logPath, func(w *bufio.Writer) {
		fmt.Fprintf(w, "PFI Indexer - Error Log\n"+
			"Generated: %s\n"+
			"Total Errors: %d\n"+
			"================================================================================\n\n",
			time.Now().Format("2006-01-02 15:04:05"),
			len(entries))

		for i, entry := range entries {
			fmt.Fprintf(w, "Error #%d\n"+
				"  Timestamp:      %s\n"+
				"  File:           %s\n"+
				"  Error Type:     %s\n"+
				"  Message:        %s\n",
				i+1,
				entry.Timestamp.Format("2006-01-02 15:04:05"),
				entry.FileName,
				entry.ErrorType,
				entry.ErrorMessage)
			if entry.RowNumber > 0 {
				fmt.Fprintf(w, "  Row Number:     %d\n", entry.RowNumber)
			}
			if entry.HMTID != 0 {
				fmt.Fprintf(w, "  HMT ID:         %d\n", entry.HMTID)
			}
			if entry.FieldName != "" {
				fmt.Fprintf(w, "  Field:          %s\n", entry.FieldName)
			}
			w.WriteString("\n")
		}

		w.WriteString("================================================================================\n" +
			"End of Error Log\n")
	})
	if err != nil {
		return "", fmt.Errorf("failed to write error log: %w", err)
	}
	return logPath, nil
}

// =============================================================================
// PROCESSING SUMMARY
// =============================================================================

// ProcessingSummary contains summary information about a processing run.
type ProcessingSummary struct {
	StartTime       time.Time
	EndTime         time.Time
	TotalFiles      int
	SuccessfulFiles int
	FailedFiles     int
	TotalRows       int
	Stored          int
	Skipped         int
	StoreErrors     int
	Warnings        int
	ProcessedFiles  []ProcessedFileInfo
	FailedFilesList []FailedFileInfo
}

// ProcessedFileInfo contains information about a file that was read in full.
type ProcessedFileInfo struct {
	InputFile   string
	RunID       string
	ArchivePath string
	ErrorLog    string
	Rows        int
	Stored      int
	Skipped     int
	ProcessTime time.Duration
}

// FailedFileInfo contains information about a failed file.
type FailedFileInfo struct {
	InputFile    string
	ErrorMessage string
}

// WriteSummaryLog writes a processing summary to <dir>/<baseName>_summary.txt.
//
// PARAMETERS:
//   - summary: The processing summary.
//   - dir: The directory to write the summary file.
//   - baseName: The report base name, see ReportBaseName.
//
// RETURNS:
//   - The path to the summary file.
//   - An error if writing fails.
func WriteSummaryLog(summary ProcessingSummary, dir, baseName string) (string, error) {
	summaryPath := filepath.Join(dir, baseName+"_summary.txt")

	err := writeReport(summaryPath, func(w *bufio.Writer) {
		fmt.Fprintf(w, "PFI Indexer - Processing Summary\n"+
			"================================================================================\n\n"+
			"Run Information:\n"+
			"  Start Time:     %s\n"+
			"  End Time:       %s\n"+
			"  Duration:       %s\n\n"+
			"Statistics:\n"+
			"  Total Files:        %d\n"+
			"  Successful:         %d\n"+
			"  Failed:             %d\n"+
			"  Total Rows:         %d\n"+
			"  Stored:             %d\n"+
			"  Skipped Rows:       %d\n"+
			"  Store Errors:       %d\n"+
			"  Warnings:           %d\n\n",
			summary.StartTime.Format("2006-01-02 15:04:05"),
			summary.EndTime.Format("2006-01-02 15:04:05"),
			summary.EndTime.Sub(summary.StartTime).String(),
			summary.TotalFiles,
			summary.SuccessfulFiles,
			summary.FailedFiles,
			summary.TotalRows,
			summary.Stored,
			summary.Skipped,
			summary.StoreErrors,
			summary.Warnings)

		if len(summary.ProcessedFiles) > 0 {
			w.WriteString("Processed Files:\n")
			w.WriteString("--------------------------------------------------------------------------------\n")
			for _, pf := range summary.ProcessedFiles {
				fmt.Fprintf(w, "  Input:        %s\n", pf.InputFile)
				fmt.Fprintf(w, "  Run ID:       %s\n", pf.RunID)
				if pf.ArchivePath != "" {
					fmt.Fprintf(w, "  Archived To:  %s\n", pf.ArchivePath)
				}
				if pf.ErrorLog != "" {
					fmt.Fprintf(w, "  Error Log:    %s\n", pf.ErrorLog)
				}
				fmt.Fprintf(w, "  Rows:         %d\n", pf.Rows)
				fmt.Fprintf(w, "  Stored:       %d\n", pf.Stored)
				fmt.Fprintf(w, "  Skipped:      %d\n", pf.Skipped)
				fmt.Fprintf(w, "  Process Time: %s\n\n", pf.ProcessTime.String())
			}
		}

		if len(summary.FailedFilesList) > 0 {
			w.WriteString("Failed Files:\n")
			w.WriteString("--------------------------------------------------------------------------------\n")
			for _, ff := range summary.FailedFilesList {
				fmt.Fprintf(w, "  File:  %s\n", ff.InputFile)
				fmt.Fprintf(w, "  Error: %s\n\n", ff.ErrorMessage)
			}
		}

		w.WriteString("================================================================================\n" +
			"End of Summary\n")
	})
	if err != nil {
		return "", fmt.Errorf("failed to write summary file: %w", err)
	}
	return summaryPath, nil
}

// =============================================================================
// UTILITY FUNCTIONS
// =============================================================================

// writeReport creates path, lets fill write the body and flushes it.
func writeReport(path string, fill func(w *bufio.Writer)) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	fill(writer)
	if err := writer.Flush(); err != nil {
		return err
	}
	return file.Sync()
}

// copyFile copies a file from src to dst.
func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer destFile.Close()

	if _, err := io.Copy(destFile, sourceFile); err != nil {
		return err
	}

	return destFile.Sync()
}

// FileExists checks if a file exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}
