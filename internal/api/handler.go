// Package api serves stored projects, and for relational stores the
// register's other entities, as paginated read-only JSON collections.
//
// Every collection answers with the same envelope:
//
//	{"num_results": 120, "page": 2, "total_pages": 12, "objects": [...]}
//
// Query parameters: page (1-based), results_per_page (capped), exclude, a
// comma-separated list of fields to drop from each object, and include, which
// restores fields an entity hides by default (payment rows hide proj_id).
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ginjaninja78/pfi-indexer/internal/metrics"
	"github.com/ginjaninja78/pfi-indexer/internal/store"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// defaultExclude lists fields an entity hides unless named in ?include=.
var defaultExclude = map[string][]string{
	"payment": {"proj_id"},
}

// Envelope is the body of every collection response.
type Envelope struct {
	NumResults int `json:"num_results"`
	Page       int `json:"page"`
	TotalPages int `json:"total_pages"`
	Objects    any `json:"objects"`
}

// Handler wires the read endpoints to a store.
type Handler struct {
	reader  store.Reader
	lister  store.EntityLister
	logger  *slog.Logger
	metrics *metrics.Metrics

	defaultPageSize int
	maxPageSize     int
}

type Option func(*Handler)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithPageSizes sets the default and maximum results_per_page.
func WithPageSizes(defaultSize, maxSize int) Option {
	return func(h *Handler) {
		h.defaultPageSize = defaultSize
		h.maxPageSize = maxSize
	}
}

// New constructs a handler. Entity collections are served only when reader
// also implements store.EntityLister.
func New(reader store.Reader, opts ...Option) *Handler {
	h := &Handler{
		reader:          reader,
		defaultPageSize: DefaultPageSize,
		maxPageSize:     MaxPageSize,
	}
	if l, ok := reader.(store.EntityLister); ok {
		h.lister = l
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = slog.New(slog.DiscardHandler)
	}
	if h.maxPageSize < 1 {
		h.maxPageSize = MaxPageSize
	}
	if h.defaultPageSize < 1 || h.defaultPageSize > h.maxPageSize {
		h.defaultPageSize = min(DefaultPageSize, h.maxPageSize)
	}
	return h
}

// Register mounts the read endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/projects", h.HandleListProjects)
		r.Get("/projects/{hmt_id}", h.HandleGetProject)
		r.Get("/{entity}", h.HandleListEntity)
	})
}

// HandleListProjects handles GET /api/v1/projects.
func (h *Handler) HandleListProjects(w http.ResponseWriter, r *http.Request) {
	q, ok := h.parseQuery(w, r)
	if !ok {
		return
	}

	page, err := h.reader.List(r.Context(), q.offset(), q.perPage)
	if err != nil {
		h.storeError(w, r, err)
		return
	}

	var objects any = page.Documents
	if page.Documents == nil {
		objects = []any{}
	}
	if len(q.exclude) > 0 {
		objs, err := toObjects(page.Documents)
		if err != nil {
			h.storeError(w, r, err)
			return
		}
		objects = dropFields(objs, q.exclude)
	}
	writeJSON(w, http.StatusOK, q.envelope(page.Total, objects))
}

// HandleGetProject handles GET /api/v1/projects/{hmt_id}.
func (h *Handler) HandleGetProject(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "hmt_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "hmt_id must be an integer")
		return
	}

	doc, err := h.reader.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "No result found")
		return
	}
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// HandleListEntity handles GET /api/v1/{entity}.
func (h *Handler) HandleListEntity(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "entity")
	if h.lister == nil {
		writeError(w, http.StatusNotFound, "unknown collection "+strconv.Quote(name))
		return
	}

	q, ok := h.parseQuery(w, r)
	if !ok {
		return
	}

	page, err := h.lister.ListEntity(r.Context(), name, q.offset(), q.perPage)
	if errors.Is(err, store.ErrUnknownEntity) {
		writeError(w, http.StatusNotFound, "unknown collection "+strconv.Quote(name))
		return
	}
	if err != nil {
		h.storeError(w, r, err)
		return
	}

	exclude := q.exclude
	for _, field := range defaultExclude[name] {
		if !slices.Contains(q.include, field) {
			exclude = append(exclude, field)
		}
	}
	writeJSON(w, http.StatusOK, q.envelope(page.Total, dropFields(page.Objects, exclude)))
}

func (h *Handler) storeError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.ErrorContext(r.Context(), "read failed", "path", r.URL.Path, "error", err)
	if errors.Is(err, store.ErrUnavailable) {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeError(w, http.StatusInternalServerError, "internal error")
}

// =============================================================================
// QUERY PARAMETERS
// =============================================================================

type query struct {
	page    int
	perPage int
	exclude []string
	include []string
}

func (q query) offset() int {
	return (q.page - 1) * q.perPage
}

func (q query) envelope(total int, objects any) Envelope {
	return Envelope{
		NumResults: total,
		Page:       q.page,
		TotalPages: (total + q.perPage - 1) / q.perPage,
		Objects:    objects,
	}
}

func (h *Handler) parseQuery(w http.ResponseWriter, r *http.Request) (query, bool) {
	values := r.URL.Query()
	q := query{page: 1, perPage: h.defaultPageSize}

	if v := values.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "page must be a positive integer")
			return query{}, false
		}
		q.page = n
	}
	if v := values.Get("results_per_page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "results_per_page must be a positive integer")
			return query{}, false
		}
		q.perPage = min(n, h.maxPageSize)
	}
	if q.page-1 > math.MaxInt/q.perPage {
		writeError(w, http.StatusBadRequest, "page is out of range")
		return query{}, false
	}
	q.exclude = splitList(values.Get("exclude"))
	q.include = splitList(values.Get("include"))
	return q, true
}

// splitList splits a comma-separated parameter, dropping blanks.
func splitList(v string) []string {
	var out []string
	for _, field := range strings.Split(v, ",") {
		if field = strings.TrimSpace(field); field != "" {
			out = append(out, field)
		}
	}
	return out
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

// toObjects re-reads values as generic JSON objects so fields can be dropped.
func toObjects[T any](values []T) ([]map[string]any, error) {
	body, err := json.Marshal(values)
	if err != nil {
		return nil, err
	}
	objs := []map[string]any{}
	if err := json.Unmarshal(body, &objs); err != nil {
		return nil, err
	}
	return objs, nil
}

func dropFields(objs []map[string]any, fields []string) []map[string]any {
	if objs == nil {
		return []map[string]any{}
	}
	for _, obj := range objs {
		for _, f := range fields {
			delete(obj, f)
		}
	}
	return objs
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}
