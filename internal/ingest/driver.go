// =============================================================================
// PFI Indexer - Batch Driver
// =============================================================================
//
// This module runs one ingestion: it reads every row of a register extract,
// maps the rows to project documents and submits the documents to a store.
//
// PIPELINE:
//   1. A reader goroutine pulls rows from the source in file order
//   2. A bounded pool of workers maps rows in parallel
//   3. Results are put back into source order
//   4. A single submitter checks each document and upserts it, retrying
//      transient store failures with exponential backoff
//
// FAILURE POLICY:
//   - A row that cannot be read or mapped is reported and skipped
//   - A document the store will not accept is reported and skipped
//   - A repeated hmt_id is reported as a warning; the later row wins
//   - Only a failure of the source itself ends the run early
//
// =============================================================================

package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/ginjaninja78/pfi-indexer/internal/config"
	"github.com/ginjaninja78/pfi-indexer/internal/mapper"
	"github.com/ginjaninja78/pfi-indexer/internal/metrics"
	"github.com/ginjaninja78/pfi-indexer/internal/project"
	"github.com/ginjaninja78/pfi-indexer/internal/store"
	"github.com/ginjaninja78/pfi-indexer/internal/types"
	"github.com/ginjaninja78/pfi-indexer/internal/validation"
)

// DefaultWorkers is the mapping pool size when none is configured.
const DefaultWorkers = 4

// DefaultRetry is the store retry policy when none is configured.
var DefaultRetry = config.RetrySettings{
	MaxRetries:      3,
	InitialInterval: 200 * time.Millisecond,
	MaxInterval:     5 * time.Second,
}

// =============================================================================
// DRIVER STRUCTURE
// =============================================================================

// Driver runs ingestions. A Driver may run several sources one after the
// other; each run gets its own duplicate tracking.
type Driver struct {
	mapper  *mapper.Mapper
	store   store.Store
	logger  *slog.Logger
	metrics *metrics.Metrics

	workers int
	retry   config.RetrySettings
	timeout time.Duration
	dryRun  bool
	checks  validation.Options
}

type Option func(*Driver)

func WithLogger(logger *slog.Logger) Option {
	return func(d *Driver) {
		d.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Driver) {
		d.metrics = m
	}
}

// WithWorkers sets how many rows are mapped at once.
func WithWorkers(n int) Option {
	return func(d *Driver) {
		d.workers = n
	}
}

// WithRetry sets the store retry policy.
func WithRetry(r config.RetrySettings) Option {
	return func(d *Driver) {
		d.retry = r
	}
}

// WithTimeout bounds each run. Zero means no limit.
func WithTimeout(t time.Duration) Option {
	return func(d *Driver) {
		d.timeout = t
	}
}

// WithDryRun maps and checks rows without submitting anything.
func WithDryRun(dryRun bool) Option {
	return func(d *Driver) {
		d.dryRun = dryRun
	}
}

// WithChecks sets the data quality check options.
func WithChecks(opts validation.Options) Option {
	return func(d *Driver) {
		d.checks = opts
	}
}

// New creates a Driver. The store may be nil only for a dry run.
func New(m *mapper.Mapper, s store.Store, opts ...Option) (*Driver, error) {
	if m == nil {
		return nil, fmt.Errorf("mapper is required")
	}

	d := &Driver{
		mapper:  m,
		store:   s,
		workers: DefaultWorkers,
		retry:   DefaultRetry,
		checks:  validation.DefaultOptions(),
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.store == nil && !d.dryRun {
		return nil, fmt.Errorf("store is required unless dry run is set")
	}
	if d.logger == nil {
		d.logger = slog.New(slog.DiscardHandler)
	}
	if d.workers < 1 {
		d.workers = 1
	}
	if d.retry.MaxRetries < 0 {
		d.retry.MaxRetries = 0
	}
	return d, nil
}

// =============================================================================
// MAIN PROCESSING FUNCTION
// =============================================================================

// result is one row after mapping.
type result struct {
	seq        int
	row        int
	doc        *project.Document
	err        error
	unreadable bool
}

// Run ingests every row of src.
//
// PARAMETERS:
//   - ctx: Cancels the run. Rows not yet submitted are abandoned.
//   - src: The row source. Run does not close it.
//   - source: A name for the source, used in logs and the report.
//
// RETURNS:
//   - The report, also when the run ended early.
//   - An error only if the source failed, the run was cancelled or it timed
//     out. Bad rows and store rejections are in the report instead.
func (d *Driver) Run(ctx context.Context, src types.RowSource, source string) (*Report, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	report := newReport(source, d.dryRun)
	log := d.logger.With("run_id", report.RunID, "source", source)
	checker := validation.NewChecker(d.checks)

	log.Info("ingest started", "workers", d.workers, "dry_run", d.dryRun)

	results := make(chan result, d.workers)
	readErr := make(chan error, 1)
	go func() {
		readErr <- d.read(ctx, src, results)
	}()

	// Results arrive in completion order; hold them until their turn.
	pending := make(map[int]result)
	next := 0
	for r := range results {
		pending[r.seq] = r
		for {
			cur, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			next++
			if ctx.Err() != nil {
				continue
			}
			d.handle(ctx, log, checker, report, cur)
		}
	}

	report.FinishedAt = time.Now()
	err := <-readErr

	attrs := []any{
		"rows", report.RowsRead,
		"stored", report.Stored,
		"skipped", report.Skipped(),
		"store_errors", len(report.StoreErrors),
		"warnings", len(report.Warnings),
		"duration", report.Duration(),
	}
	if err != nil {
		log.Error("ingest stopped", append(attrs, "error", err)...)
		return report, err
	}
	log.Info("ingest finished", attrs...)
	return report, nil
}

// read feeds rows to the mapping pool and closes out once every row has been
// mapped.
func (d *Driver) read(ctx context.Context, src types.RowSource, out chan<- result) error {
	defer close(out)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)

	seq := 0
	for ctx.Err() == nil && src.Next() {
		row := src.Row()
		item := result{seq: seq, row: row.Number}
		seq++

		g.Go(func() error {
			if row.Err != nil {
				item.err = row.Err
				item.unreadable = true
			} else {
				item.doc, item.err = d.mapper.MapRow(row.Number, row.Fields)
			}
			select {
			case out <- item:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}
	waitErr := g.Wait()

	if err := src.Err(); err != nil {
		return fmt.Errorf("read source: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return waitErr
}

// handle records one row and submits its document. Rows arrive in source
// order.
func (d *Driver) handle(ctx context.Context, log *slog.Logger, checker *validation.Checker, report *Report, r result) {
	report.RowsRead++

	if r.err != nil {
		rowErr := newRowError(r.row, r.err, r.unreadable)
		report.RowErrors = append(report.RowErrors, rowErr)
		if r.unreadable {
			d.metrics.IncrementRows(metrics.OutcomeUnread)
		} else {
			d.metrics.IncrementRows(metrics.OutcomeMalformed)
		}
		attrs := []any{"row", r.row, "error", rowErr.Err}
		if rowErr.IDKnown {
			attrs = append(attrs, "hmt_id", rowErr.HMTID)
		}
		log.Warn("row skipped", attrs...)
		return
	}

	report.Mapped++
	d.metrics.IncrementRows(metrics.OutcomeMapped)

	for _, w := range checker.Check(r.row, r.doc) {
		report.Warnings = append(report.Warnings, w)
		if w.Kind == validation.KindDuplicateKey {
			d.metrics.IncrementDuplicates()
		}
		log.Warn("data quality warning", "row", w.RowNumber, "hmt_id", w.HMTID, "kind", string(w.Kind), "message", w.Message)
	}

	if d.dryRun {
		return
	}

	if err := d.submit(ctx, log, r.row, r.doc); err != nil {
		var subErr *StoreSubmissionError
		if errors.As(err, &subErr) {
			report.StoreErrors = append(report.StoreErrors, subErr)
			d.metrics.IncrementStoreFailure(subErr.Permanent)
		}
		log.Error("store submission failed", "row", r.row, "hmt_id", r.doc.HMTID, "error", err)
		return
	}
	report.Stored++
	d.metrics.IncrementStored()
}

// =============================================================================
// STORE SUBMISSION
// =============================================================================

// submit upserts doc, retrying transient failures.
//
// RETURNS:
//   - nil once the store accepts the document.
//   - A *StoreSubmissionError when retries are exhausted, the store rejects
//     the document permanently, or ctx ends.
func (d *Driver) submit(ctx context.Context, log *slog.Logger, row int, doc *project.Document) error {
	attempts := 0
	op := func() error {
		attempts++
		start := time.Now()
		err := d.store.Upsert(ctx, doc)
		d.metrics.ObserveStoreLatency(time.Since(start))
		if err != nil && (store.IsPermanent(err) || ctx.Err() != nil) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		d.metrics.IncrementRetries()
		log.Warn("store submission failed, retrying",
			"row", row, "hmt_id", doc.HMTID, "attempt", attempts, "wait", wait, "error", err)
	}

	err := backoff.RetryNotify(op, d.retryPolicy(ctx), notify)
	if err == nil {
		return nil
	}
	return &StoreSubmissionError{
		Row:       row,
		HMTID:     doc.HMTID,
		Attempts:  attempts,
		Permanent: store.IsPermanent(err),
		Err:       err,
	}
}

func (d *Driver) retryPolicy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.retry.InitialInterval
	b.MaxInterval = d.retry.MaxInterval
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(d.retry.MaxRetries)), ctx)
}
