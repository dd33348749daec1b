// =============================================================================
// PFI Indexer - Ingest Command
// =============================================================================
//
// This file defines the 'ingest' command, which loads register extracts into
// the configured store.
//
// COMMAND USAGE:
//   pfi ingest [flags]
//
// FLAGS:
//   --file             : Ingest only this extract instead of the input directory
//   --dry-run          : Map and check rows without storing anything
//   --store            : Override store.kind for this run
//   --layout           : Override mapping.layout for this run
//   --metrics-textfile : Write the run's metrics in Prometheus text format
//
// PROCESSING PIPELINE:
//   1. Discover extracts (or take --file)
//   2. Open the store
//   3. For each extract, in name order:
//      a. Read, map and store every row (see internal/ingest)
//      b. Write the row error log to the report directory
//      c. Archive the extract, if configured
//   4. Write the run summary
//
// A bad row never stops a run. An extract that cannot be read is reported
// and the next extract is processed; the command then exits non-zero.
//
// =============================================================================

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/ginjaninja78/pfi-indexer/internal/config"
	"github.com/ginjaninja78/pfi-indexer/internal/ingest"
	"github.com/ginjaninja78/pfi-indexer/internal/metrics"
	"github.com/ginjaninja78/pfi-indexer/pkg/utils"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

type runOptions struct {
	file            string
	dryRun          bool
	storeKind       string
	layout          string
	metricsTextfile string

	// reports writes error logs and summaries and archives extracts.
	reports bool
	// strict fails the run when any row is skipped.
	strict bool
}

var ingestOpts runOptions

// =============================================================================
// INGEST COMMAND DEFINITION
// =============================================================================

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load register extracts into the document store",
	Long: `The ingest command reads every .csv and .xlsx extract in the input
directory (or the one named with --file), maps each row to a project document
and upserts it into the store, keyed by hmt_id. Re-running an extract leaves
the store unchanged.

Rows that cannot be mapped are skipped and listed in an error log in the
report directory. Repeated hmt_ids are reported as warnings; the later row
wins. Transient store errors are retried with exponential backoff.`,

	RunE: func(cmd *cobra.Command, args []string) error {
		opts := ingestOpts
		opts.reports = true
		return runIngest(cmd.Context(), cmd.OutOrStdout(), appConfig, opts)
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().StringVar(&ingestOpts.file, "file", "", "Ingest only this extract")
	ingestCmd.Flags().BoolVar(&ingestOpts.dryRun, "dry-run", false, "Map and check rows without storing anything")
	ingestCmd.Flags().StringVar(&ingestOpts.storeKind, "store", "", "Store kind: memory, sqlite, redis or bulkfile (default from config)")
	ingestCmd.Flags().StringVar(&ingestOpts.layout, "layout", "", "Column layout: v1 or v1-sequential (default from config)")
	ingestCmd.Flags().StringVar(&ingestOpts.metricsTextfile, "metrics-textfile", "", "Write run metrics to this file in Prometheus text format")
}

// =============================================================================
// MAIN PROCESSING FUNCTION
// =============================================================================

// runIngest ingests the selected extracts.
//
// PARAMETERS:
//   - ctx: Cancelled on interrupt.
//   - out: Where run summaries are printed.
//   - cfg: The loaded configuration.
//   - opts: Command options.
//
// RETURNS:
//   - An error if nothing could run, or if any extract failed.
func runIngest(ctx context.Context, out io.Writer, cfg *config.MainConfig, opts runOptions) error {
	startTime := time.Now()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// =========================================================================
	// STEP 1: DISCOVER INPUT FILES
	// =========================================================================

	fm := utils.NewFileManager(cfg.InputDir, cfg.ReportDir, cfg.InputArchiveDir)

	var inputFiles []string
	if opts.file != "" {
		inputFiles = []string{opts.file}
	} else {
		files, err := fm.DiscoverInputFiles()
		if err != nil {
			return fmt.Errorf("failed to discover input files: %w", err)
		}
		inputFiles = files
	}
	if len(inputFiles) == 0 {
		fmt.Fprintf(out, "No extracts found in %s.\n", cfg.InputDir)
		return nil
	}
	logger.Info("extracts found", "count", len(inputFiles))

	// =========================================================================
	// STEP 2: OPEN STORE AND BUILD DRIVER
	// =========================================================================

	kind := cfg.Store.Kind
	if opts.storeKind != "" {
		kind = opts.storeKind
	}
	layout := cfg.Mapping.Layout
	if opts.layout != "" {
		layout = opts.layout
	}

	mp, err := newMapper(cfg, layout)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	driverOpts := []ingest.Option{
		ingest.WithLogger(logger),
		ingest.WithMetrics(m),
		ingest.WithWorkers(cfg.Ingest.Workers),
		ingest.WithRetry(cfg.Ingest.Retry),
		ingest.WithTimeout(cfg.Ingest.Timeout),
		ingest.WithDryRun(opts.dryRun),
	}

	var driver *ingest.Driver
	var closeStore func() error
	if opts.dryRun {
		driver, err = ingest.New(mp, nil, driverOpts...)
	} else {
		st, openErr := openStore(ctx, cfg, kind)
		if openErr != nil {
			return fmt.Errorf("failed to open %s store: %w", kind, openErr)
		}
		closeStore = st.Close
		driver, err = ingest.New(mp, st, driverOpts...)
	}
	if err != nil {
		if closeStore != nil {
			_ = closeStore()
		}
		return err
	}

	// =========================================================================
	// STEP 3: PROCESS FILES
	// =========================================================================

	summary := utils.ProcessingSummary{StartTime: startTime, TotalFiles: len(inputFiles)}

	for _, file := range inputFiles {
		info, err := ingestFile(ctx, out, cfg, fm, driver, file, opts)
		if err != nil {
			summary.FailedFiles++
			summary.FailedFilesList = append(summary.FailedFilesList, utils.FailedFileInfo{
				InputFile:    file,
				ErrorMessage: err.Error(),
			})
			fmt.Fprintf(out, "  ✗ %s: %v\n", filepath.Base(file), err)
			if ctx.Err() != nil {
				break
			}
			continue
		}

		summary.SuccessfulFiles++
		summary.TotalRows += info.report.RowsRead
		summary.Stored += info.report.Stored
		summary.Skipped += info.report.Skipped()
		summary.StoreErrors += len(info.report.StoreErrors)
		summary.Warnings += len(info.report.Warnings)
		summary.ProcessedFiles = append(summary.ProcessedFiles, info.ProcessedFileInfo)
	}

	// =========================================================================
	// STEP 4: CLOSE STORE AND WRITE SUMMARY
	// =========================================================================

	var errs []error
	if closeStore != nil {
		if err := closeStore(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close store: %w", err))
		}
	}

	summary.EndTime = time.Now()
	fmt.Fprintln(out, "=== Ingest Complete ===")
	fmt.Fprintf(out, "Total files:     %d\n", summary.TotalFiles)
	fmt.Fprintf(out, "Successful:      %d\n", summary.SuccessfulFiles)
	fmt.Fprintf(out, "Failed:          %d\n", summary.FailedFiles)
	fmt.Fprintf(out, "Rows stored:     %d\n", summary.Stored)
	fmt.Fprintf(out, "Rows skipped:    %d\n", summary.Skipped)
	fmt.Fprintf(out, "Time elapsed:    %s\n", summary.EndTime.Sub(startTime).Round(time.Millisecond))

	if opts.reports {
		name := utils.ReportBaseName(cfg.ReportNameFormat, "batch", "", startTime)
		if path, err := utils.WriteSummaryLog(summary, cfg.ReportDir, name); err != nil {
			logger.Warn("failed to write summary", "error", err)
		} else {
			logger.Info("summary written", "path", path)
		}
	}
	if opts.metricsTextfile != "" {
		if err := prometheus.WriteToTextfile(opts.metricsTextfile, reg); err != nil {
			errs = append(errs, fmt.Errorf("failed to write metrics: %w", err))
		}
	}

	if summary.FailedFiles > 0 {
		errs = append(errs, fmt.Errorf("%d of %d extract(s) failed", summary.FailedFiles, summary.TotalFiles))
	}
	if opts.strict && summary.Skipped+summary.StoreErrors > 0 {
		errs = append(errs, fmt.Errorf("%d row(s) would be skipped", summary.Skipped+summary.StoreErrors))
	}
	return errors.Join(errs...)
}

type fileResult struct {
	utils.ProcessedFileInfo
	report *ingest.Report
}

// ingestFile runs one extract and writes its error log.
func ingestFile(ctx context.Context, out io.Writer, cfg *config.MainConfig, fm *utils.FileManager, driver *ingest.Driver, file string, opts runOptions) (*fileResult, error) {
	src, err := openSource(file, cfg)
	if err != nil {
		return nil, err
	}
	report, err := driver.Run(ctx, src, file)
	if closeErr := src.Close(); closeErr != nil {
		logger.Warn("failed to close extract", "file", file, "error", closeErr)
	}
	if err != nil {
		return nil, err
	}

	fmt.Fprintln(out, report.Summary())

	res := &fileResult{
		ProcessedFileInfo: utils.ProcessedFileInfo{
			InputFile:   file,
			RunID:       report.RunID,
			Rows:        report.RowsRead,
			Stored:      report.Stored,
			Skipped:     report.Skipped(),
			ProcessTime: report.Duration(),
		},
		report: report,
	}
	if !opts.reports {
		return res, nil
	}

	name := utils.ReportBaseName(cfg.ReportNameFormat, file, report.RunID, report.StartedAt)
	logPath, err := utils.WriteErrorLog(errorLogEntries(report), cfg.ReportDir, name)
	if err != nil {
		logger.Warn("failed to write error log", "file", file, "error", err)
	}
	res.ErrorLog = logPath

	if cfg.ArchiveInputs && !opts.dryRun && opts.file == "" {
		archived, err := fm.ArchiveInputFile(file)
		if err != nil {
			logger.Warn("failed to archive extract", "file", file, "error", err)
		} else {
			res.ArchivePath = archived
		}
	}
	return res, nil
}

// errorLogEntries lists every skipped row and store failure of a run.
func errorLogEntries(report *ingest.Report) []utils.ErrorLogEntry {
	var entries []utils.ErrorLogEntry
	now := time.Now()
	name := filepath.Base(report.Source)

	for _, e := range report.RowErrors {
		entry := utils.ErrorLogEntry{
			Timestamp:    now,
			FileName:     name,
			ErrorType:    "malformed_row",
			ErrorMessage: e.Error(),
			RowNumber:    e.Row,
		}
		if errors.Is(e, ingest.ErrUnreadableRow) {
			entry.ErrorType = "unreadable_row"
		}
		if e.IDKnown {
			entry.HMTID = e.HMTID
		}
		if len(e.Fields) > 0 {
			entry.FieldName = strings.Join(e.Fields, ", ")
		}
		entries = append(entries, entry)
	}
	for _, e := range report.StoreErrors {
		entries = append(entries, utils.ErrorLogEntry{
			Timestamp:    now,
			FileName:     name,
			ErrorType:    "store_submission",
			ErrorMessage: e.Error(),
			RowNumber:    e.Row,
			HMTID:        e.HMTID,
		})
	}
	return entries
}
