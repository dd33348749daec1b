package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ginjaninja78/pfi-indexer/internal/metrics"
	"github.com/ginjaninja78/pfi-indexer/internal/project"
	"github.com/ginjaninja78/pfi-indexer/internal/store"
	"github.com/ginjaninja78/pfi-indexer/internal/store/sqlite"
	"github.com/ginjaninja78/pfi-indexer/internal/store/storetest"
)

type envelope struct {
	NumResults int              `json:"num_results"`
	Page       int              `json:"page"`
	TotalPages int              `json:"total_pages"`
	Objects    []map[string]any `json:"objects"`
}

func seededMemory(t *testing.T, ids ...int) *store.Memory {
	t.Helper()
	m := store.NewMemory()
	for _, id := range ids {
		require.NoError(t, m.Upsert(context.Background(), storetest.Document(id)))
	}
	return m
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var env envelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	return env
}

func TestListProjectsPagination(t *testing.T) {
	router := NewRouter(New(seededMemory(t, 1, 2, 3, 4, 5), WithPageSizes(2, 3)), nil)

	t.Run("default page", func(t *testing.T) {
		env := decodeEnvelope(t, get(t, router, "/api/v1/projects"))
		assert.Equal(t, 5, env.NumResults)
		assert.Equal(t, 1, env.Page)
		assert.Equal(t, 3, env.TotalPages)
		require.Len(t, env.Objects, 2)
		assert.EqualValues(t, 1, env.Objects[0]["hmt_id"])
	})

	t.Run("last page", func(t *testing.T) {
		env := decodeEnvelope(t, get(t, router, "/api/v1/projects?page=3"))
		require.Len(t, env.Objects, 1)
		assert.EqualValues(t, 5, env.Objects[0]["hmt_id"])
	})

	t.Run("page size is capped", func(t *testing.T) {
		env := decodeEnvelope(t, get(t, router, "/api/v1/projects?results_per_page=50"))
		assert.Len(t, env.Objects, 3)
		assert.Equal(t, 2, env.TotalPages)
	})

	t.Run("past the end", func(t *testing.T) {
		env := decodeEnvelope(t, get(t, router, "/api/v1/projects?page=9"))
		assert.Equal(t, 5, env.NumResults)
		assert.NotNil(t, env.Objects)
		assert.Empty(t, env.Objects)
	})

	t.Run("invalid page", func(t *testing.T) {
		for _, target := range []string{"/api/v1/projects?page=0", "/api/v1/projects?page=x", "/api/v1/projects?results_per_page=-1"} {
			assert.Equal(t, http.StatusBadRequest, get(t, router, target).Code, target)
		}
	})

	t.Run("page beyond addressable offsets", func(t *testing.T) {
		rec := get(t, router, "/api/v1/projects?page=4611686018427387905&results_per_page=3")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "page is out of range")
	})
}

func TestListProjectsEmptyStore(t *testing.T) {
	router := NewRouter(New(store.NewMemory()), nil)
	rec := get(t, router, "/api/v1/projects")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"num_results":0,"page":1,"total_pages":0,"objects":[]}`, rec.Body.String())
}

func TestListProjectsExclude(t *testing.T) {
	router := NewRouter(New(seededMemory(t, 1)), nil)

	env := decodeEnvelope(t, get(t, router, "/api/v1/projects?exclude=unitary_charge_payments,%20equity_holders"))
	require.Len(t, env.Objects, 1)
	obj := env.Objects[0]
	assert.NotContains(t, obj, "unitary_charge_payments")
	assert.NotContains(t, obj, "equity_holders")
	assert.Equal(t, "Project 1", obj["project_name"])
}

func TestGetProject(t *testing.T) {
	router := NewRouter(New(seededMemory(t, 42)), nil)

	rec := get(t, router, "/api/v1/projects/42")
	require.Equal(t, http.StatusOK, rec.Code)
	var doc project.Document
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&doc))
	assert.Equal(t, storetest.Document(42), &doc)

	assert.Equal(t, http.StatusNotFound, get(t, router, "/api/v1/projects/7").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, router, "/api/v1/projects/abc").Code)
}

func TestEntitiesNeedRelationalStore(t *testing.T) {
	router := NewRouter(New(seededMemory(t, 1)), nil)
	assert.Equal(t, http.StatusNotFound, get(t, router, "/api/v1/sector").Code)
}

func TestListEntity(t *testing.T) {
	s, err := sqlite.Open(filepath.Join(t.TempDir(), "pfi.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, storetest.Document(1)))
	require.NoError(t, s.Upsert(ctx, storetest.Document(2)))

	router := NewRouter(New(s), nil)

	t.Run("lookup table", func(t *testing.T) {
		env := decodeEnvelope(t, get(t, router, "/api/v1/company"))
		assert.Equal(t, 2, env.NumResults)
		require.Len(t, env.Objects, 2)
		assert.Equal(t, "Innisfree", env.Objects[0]["name"])
	})

	t.Run("payments hide the project key", func(t *testing.T) {
		env := decodeEnvelope(t, get(t, router, "/api/v1/payment?results_per_page=5"))
		assert.Equal(t, 2*66, env.NumResults)
		assert.Equal(t, 27, env.TotalPages)
		require.Len(t, env.Objects, 5)
		assert.NotContains(t, env.Objects[0], "proj_id")
		assert.Equal(t, false, env.Objects[0]["estimated"])
	})

	t.Run("include restores the project key", func(t *testing.T) {
		env := decodeEnvelope(t, get(t, router, "/api/v1/payment?results_per_page=1&include=proj_id"))
		require.Len(t, env.Objects, 1)
		assert.Contains(t, env.Objects[0], "proj_id")
	})

	t.Run("exclude", func(t *testing.T) {
		env := decodeEnvelope(t, get(t, router, "/api/v1/spv?exclude=address"))
		require.Len(t, env.Objects, 1)
		assert.NotContains(t, env.Objects[0], "address")
		assert.Equal(t, "04325678", env.Objects[0]["spv_number"])
	})

	t.Run("unknown entity", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, get(t, router, "/api/v1/transactions").Code)
	})
}

type failingReader struct{ err error }

func (f failingReader) Get(context.Context, int) (*project.Document, error) { return nil, f.err }
func (f failingReader) List(context.Context, int, int) (store.Page, error) {
	return store.Page{}, f.err
}

func TestStoreFailures(t *testing.T) {
	down := NewRouter(New(failingReader{err: store.Unavailable(errors.New("connection refused"))}), nil)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, down, "/api/v1/projects").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, down, "/api/v1/projects/1").Code)

	broken := NewRouter(New(failingReader{err: errors.New("corrupt row")}), nil)
	rec := get(t, broken, "/api/v1/projects")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "corrupt row")
}

func TestMetricsEndpointAndRequestCounting(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	router := NewRouter(New(seededMemory(t, 1, 2), WithMetrics(m)), reg)

	get(t, router, "/api/v1/projects/1")
	get(t, router, "/api/v1/projects/2")
	get(t, router, "/api/v1/projects/99")

	assert.Equal(t, 2.0, promtestutil.ToFloat64(m.APIRequests.WithLabelValues("/api/v1/projects/{hmt_id}", "200")))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(m.APIRequests.WithLabelValues("/api/v1/projects/{hmt_id}", "404")))

	rec := get(t, router, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "pfi_api_requests_total"))
}

func TestHealthz(t *testing.T) {
	router := NewRouter(New(store.NewMemory()), nil)
	rec := get(t, router, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
