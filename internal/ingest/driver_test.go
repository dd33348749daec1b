package ingest

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ginjaninja78/pfi-indexer/internal/config"
	"github.com/ginjaninja78/pfi-indexer/internal/csvparser"
	"github.com/ginjaninja78/pfi-indexer/internal/mapper"
	"github.com/ginjaninja78/pfi-indexer/internal/metrics"
	"github.com/ginjaninja78/pfi-indexer/internal/project"
	"github.com/ginjaninja78/pfi-indexer/internal/store"
	"github.com/ginjaninja78/pfi-indexer/internal/testutil"
	"github.com/ginjaninja78/pfi-indexer/internal/types"
	"github.com/ginjaninja78/pfi-indexer/internal/validation"
)

var fastRetry = config.RetrySettings{
	MaxRetries:      2,
	InitialInterval: time.Millisecond,
	MaxInterval:     time.Millisecond,
}

// sliceSource serves fixed rows, then an optional fatal error.
type sliceSource struct {
	rows []types.Row
	pos  int
	err  error
}

func newSliceSource(rows ...[]string) *sliceSource {
	s := &sliceSource{pos: -1}
	for i, r := range rows {
		s.rows = append(s.rows, types.Row{Number: i + 1, Fields: r})
	}
	return s
}

func (s *sliceSource) Next() bool {
	if s.pos+1 >= len(s.rows) {
		return false
	}
	s.pos++
	return true
}

func (s *sliceSource) Row() types.Row { return s.rows[s.pos] }
func (s *sliceSource) Err() error     { return s.err }
func (s *sliceSource) Close() error   { return nil }

// recordingStore wraps a Memory store, remembers submission order and fails
// on demand.
type recordingStore struct {
	*store.Memory

	mu    sync.Mutex
	order []int
	calls map[int]int

	// fail returns the error for the n-th call (1-based) for an id.
	fail func(hmtID, call int) error
}

func newRecordingStore() *recordingStore {
	return &recordingStore{Memory: store.NewMemory(), calls: make(map[int]int)}
}

func (s *recordingStore) Upsert(ctx context.Context, doc *project.Document) error {
	s.mu.Lock()
	s.calls[doc.HMTID]++
	call := s.calls[doc.HMTID]
	fail := s.fail
	s.mu.Unlock()

	if fail != nil {
		if err := fail(doc.HMTID, call); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.order = append(s.order, doc.HMTID)
	s.mu.Unlock()
	return s.Memory.Upsert(ctx, doc)
}

func newDriver(t *testing.T, s store.Store, opts ...Option) *Driver {
	t.Helper()
	m, err := mapper.New()
	require.NoError(t, err)
	d, err := New(m, s, append([]Option{WithRetry(fastRetry)}, opts...)...)
	require.NoError(t, err)
	return d
}

func TestNewValidation(t *testing.T) {
	m, err := mapper.New()
	require.NoError(t, err)

	_, err = New(nil, store.NewMemory())
	assert.Error(t, err)

	_, err = New(m, nil)
	assert.Error(t, err)

	_, err = New(m, nil, WithDryRun(true))
	assert.NoError(t, err)
}

func TestRunStoresEveryValidRow(t *testing.T) {
	s := newRecordingStore()
	d := newDriver(t, s)

	report, err := d.Run(context.Background(), newSliceSource(
		testutil.ValidRow(1), testutil.ValidRow(2), testutil.ValidRow(3),
	), "register.csv")
	require.NoError(t, err)

	assert.Equal(t, 3, report.RowsRead)
	assert.Equal(t, 3, report.Mapped)
	assert.Equal(t, 3, report.Stored)
	assert.Zero(t, report.Skipped())
	assert.False(t, report.HasFailures())
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, "register.csv", report.Source)
	assert.Equal(t, 3, s.Len())
}

func TestBadCapitalValueSkipsOnlyThatRow(t *testing.T) {
	bad := testutil.ValidRow(2)
	bad[17] = "£265m"

	s := newRecordingStore()
	d := newDriver(t, s)

	report, err := d.Run(context.Background(), newSliceSource(
		testutil.ValidRow(1), bad, testutil.ValidRow(3),
	), "register.csv")
	require.NoError(t, err)

	assert.Equal(t, 2, report.Stored)
	require.Len(t, report.RowErrors, 1)
	rowErr := report.RowErrors[0]
	assert.Equal(t, 2, rowErr.Row)
	assert.True(t, rowErr.IDKnown)
	assert.Equal(t, 2, rowErr.HMTID)
	assert.Equal(t, []string{"capital_value"}, rowErr.Fields)
	assert.ErrorIs(t, rowErr, mapper.ErrInvalidFloat)

	_, err = s.Get(context.Background(), 2)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.Get(context.Background(), 3)
	assert.NoError(t, err)
}

func TestShortAndUnreadableRowsAreSkipped(t *testing.T) {
	input := testutil.CSV(testutil.ValidRow(1), []string{"2", "short"})
	input = append(input, []byte("3,b\"roken\n")...)
	input = append(input, testutil.CSV(testutil.ValidRow(4))...)

	src, err := csvparser.NewStreamingParser(bytes.NewReader(input), config.CSVSettings{Delimiter: ","})
	require.NoError(t, err)
	defer src.Close()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	s := newRecordingStore()
	d := newDriver(t, s, WithMetrics(m))

	report, err := d.Run(context.Background(), src, "register.csv")
	require.NoError(t, err)

	assert.Equal(t, 4, report.RowsRead)
	assert.Equal(t, 2, report.Stored)
	require.Len(t, report.RowErrors, 2)

	short := report.RowErrors[0]
	assert.Equal(t, 2, short.Row)
	assert.ErrorIs(t, short, mapper.ErrShortRow)
	assert.True(t, short.IDKnown)

	unreadable := report.RowErrors[1]
	assert.Equal(t, 3, unreadable.Row)
	assert.ErrorIs(t, unreadable, ErrUnreadableRow)
	assert.False(t, unreadable.IDKnown)

	assert.Equal(t, 2.0, promtestutil.ToFloat64(m.RowsProcessed.WithLabelValues(metrics.OutcomeMapped)))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(m.RowsProcessed.WithLabelValues(metrics.OutcomeMalformed)))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(m.RowsProcessed.WithLabelValues(metrics.OutcomeUnread)))
	assert.Equal(t, 2.0, promtestutil.ToFloat64(m.DocumentsStored))
}

func TestDuplicateKeyWarnsAndLaterRowWins(t *testing.T) {
	first := testutil.ValidRow(5)
	second := testutil.ValidRow(5)
	second[1] = "Renamed project"

	s := newRecordingStore()
	d := newDriver(t, s)

	report, err := d.Run(context.Background(), newSliceSource(first, testutil.ValidRow(6), second), "register.csv")
	require.NoError(t, err)

	assert.Equal(t, 3, report.Stored)
	require.Len(t, report.Warnings, 1)
	assert.Equal(t, validation.KindDuplicateKey, report.Warnings[0].Kind)
	assert.Equal(t, 3, report.Warnings[0].RowNumber)

	got, err := s.Get(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, "Renamed project", got.ProjectName)
	assert.Equal(t, 2, s.Len())
}

func TestSubmissionFollowsSourceOrder(t *testing.T) {
	var rows [][]string
	var want []int
	for id := 200; id > 150; id-- {
		rows = append(rows, testutil.ValidRow(id))
		want = append(want, id)
	}

	s := newRecordingStore()
	d := newDriver(t, s, WithWorkers(8))

	_, err := d.Run(context.Background(), newSliceSource(rows...), "register.csv")
	require.NoError(t, err)
	assert.Equal(t, want, s.order)
}

func TestReingestionLeavesSameState(t *testing.T) {
	rows := [][]string{testutil.ValidRow(1), testutil.ValidRow(2)}
	s := newRecordingStore()
	d := newDriver(t, s)

	_, err := d.Run(context.Background(), newSliceSource(rows...), "register.csv")
	require.NoError(t, err)
	before, err := s.List(context.Background(), 0, 0)
	require.NoError(t, err)

	report, err := d.Run(context.Background(), newSliceSource(rows...), "register.csv")
	require.NoError(t, err)
	assert.Empty(t, report.Warnings, "duplicate tracking is per run")

	after, err := s.List(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestTransientStoreErrorsAreRetried(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	s := newRecordingStore()
	s.fail = func(_ int, call int) error {
		if call <= 2 {
			return store.Unavailable(errors.New("connection reset"))
		}
		return nil
	}
	d := newDriver(t, s, WithMetrics(m))

	report, err := d.Run(context.Background(), newSliceSource(testutil.ValidRow(1)), "register.csv")
	require.NoError(t, err)

	assert.Equal(t, 1, report.Stored)
	assert.Empty(t, report.StoreErrors)
	assert.Equal(t, 3, s.calls[1])
	assert.Equal(t, 2.0, promtestutil.ToFloat64(m.StoreRetries))
}

func TestRetriesAreBounded(t *testing.T) {
	s := newRecordingStore()
	s.fail = func(int, int) error {
		return store.Unavailable(errors.New("connection refused"))
	}
	d := newDriver(t, s)

	report, err := d.Run(context.Background(), newSliceSource(testutil.ValidRow(1), testutil.ValidRow(2)), "register.csv")
	require.NoError(t, err)

	require.Len(t, report.StoreErrors, 2)
	subErr := report.StoreErrors[0]
	assert.Equal(t, 1, subErr.Row)
	assert.Equal(t, 1, subErr.HMTID)
	assert.Equal(t, fastRetry.MaxRetries+1, subErr.Attempts)
	assert.False(t, subErr.Permanent)
	assert.ErrorIs(t, subErr, store.ErrUnavailable)
	assert.Zero(t, report.Stored)
	assert.True(t, report.HasFailures())
}

func TestRetriesTurnedOff(t *testing.T) {
	s := newRecordingStore()
	s.fail = func(int, int) error {
		return store.Unavailable(errors.New("connection refused"))
	}
	noRetry := fastRetry
	noRetry.MaxRetries = config.NoRetries
	d := newDriver(t, s, WithRetry(noRetry))

	report, err := d.Run(context.Background(), newSliceSource(testutil.ValidRow(1)), "register.csv")
	require.NoError(t, err)

	require.Len(t, report.StoreErrors, 1)
	assert.Equal(t, 1, report.StoreErrors[0].Attempts)
	assert.Equal(t, 1, s.calls[1])
}

func TestPermanentStoreErrorIsNotRetried(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	s := newRecordingStore()
	s.fail = func(hmtID, _ int) error {
		if hmtID == 2 {
			return store.Permanent(errors.New("schema mismatch"))
		}
		return nil
	}
	d := newDriver(t, s, WithMetrics(m))

	report, err := d.Run(context.Background(), newSliceSource(
		testutil.ValidRow(1), testutil.ValidRow(2), testutil.ValidRow(3),
	), "register.csv")
	require.NoError(t, err)

	assert.Equal(t, 2, report.Stored)
	require.Len(t, report.StoreErrors, 1)
	assert.True(t, report.StoreErrors[0].Permanent)
	assert.Equal(t, 1, report.StoreErrors[0].Attempts)
	assert.Equal(t, 1, s.calls[2])
	assert.Equal(t, 1.0, promtestutil.ToFloat64(m.StoreFailures.WithLabelValues("permanent")))
	assert.Zero(t, promtestutil.ToFloat64(m.StoreRetries))
}

func TestDryRunStoresNothing(t *testing.T) {
	d := newDriver(t, nil, WithDryRun(true))

	report, err := d.Run(context.Background(), newSliceSource(testutil.ValidRow(1), testutil.ValidRow(1)), "register.csv")
	require.NoError(t, err)

	assert.True(t, report.DryRun)
	assert.Equal(t, 2, report.Mapped)
	assert.Zero(t, report.Stored)
	assert.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Summary(), "(dry run)")
}

func TestSourceFailureIsFatal(t *testing.T) {
	src := newSliceSource(testutil.ValidRow(1))
	src.err = errors.New("disk read failed")

	s := newRecordingStore()
	d := newDriver(t, s)

	report, err := d.Run(context.Background(), src, "register.csv")
	require.Error(t, err)
	assert.ErrorIs(t, err, src.err)
	require.NotNil(t, report)
	assert.Equal(t, 1, report.Stored)
}

func TestCancelledRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := newRecordingStore()
	d := newDriver(t, s)

	report, err := d.Run(ctx, newSliceSource(testutil.ValidRow(1)), "register.csv")
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.Zero(t, s.Len())
}

func TestSummaryListsProblems(t *testing.T) {
	bad := testutil.ValidRow(9)
	bad[0] = "abc"

	d := newDriver(t, newRecordingStore())
	report, err := d.Run(context.Background(), newSliceSource(testutil.ValidRow(1), bad), "register.csv")
	require.NoError(t, err)

	summary := report.Summary()
	assert.Contains(t, summary, "rows read:    2")
	assert.Contains(t, summary, "skipped:      1")
	assert.Contains(t, summary, "Skipped rows:")
	assert.Contains(t, summary, "malformed row 2")
}
