package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/ginjaninja78/pfi-indexer/internal/store"
)

// entity describes one listable table.
type entity struct {
	table   string
	columns []string
	orderBy string
	// bools lists integer columns that hold flags.
	bools map[string]bool
}

var entities = []entity{
	{table: "department", columns: []string{"id", "name"}, orderBy: "id"},
	{table: "authority", columns: []string{"id", "name"}, orderBy: "id"},
	{table: "sector", columns: []string{"id", "name"}, orderBy: "id"},
	{table: "constituency", columns: []string{"id", "name"}, orderBy: "id"},
	{table: "region", columns: []string{"id", "name"}, orderBy: "id"},
	{table: "company", columns: []string{"id", "name"}, orderBy: "id"},
	{table: "spv", columns: []string{"id", "spv_number", "name", "address"}, orderBy: "id"},
	{table: "equity", columns: []string{"proj_id", "position", "company_id", "share"}, orderBy: "proj_id, position"},
	{
		table:   "payment",
		columns: []string{"proj_id", "position", "year", "estimated", "payment"},
		orderBy: "proj_id, position",
		bools:   map[string]bool{"estimated": true},
	},
}

// Entities lists the tables the store can page through.
func (s *Store) Entities() []string {
	names := make([]string, len(entities))
	for i, e := range entities {
		names[i] = e.table
	}
	return names
}

// ListEntity returns one page of an entity's rows.
func (s *Store) ListEntity(ctx context.Context, name string, offset, limit int) (store.EntityPage, error) {
	if err := ctx.Err(); err != nil {
		return store.EntityPage{}, err
	}
	e, ok := findEntity(name)
	if !ok {
		return store.EntityPage{}, fmt.Errorf("%w: %q", store.ErrUnknownEntity, name)
	}

	var page store.EntityPage
	if err := s.sqlDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+e.table).Scan(&page.Total); err != nil {
		return store.EntityPage{}, fmt.Errorf("count %s: %w", e.table, err)
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+strings.Join(e.columns, ", ")+` FROM `+e.table+` ORDER BY `+e.orderBy+` LIMIT ? OFFSET ?`,
		sqlLimit(limit), max(offset, 0),
	)
	if err != nil {
		return store.EntityPage{}, fmt.Errorf("list %s: %w", e.table, err)
	}
	defer rows.Close()

	page.Objects = []map[string]any{}
	for rows.Next() {
		values := make([]any, len(e.columns))
		ptrs := make([]any, len(e.columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return store.EntityPage{}, fmt.Errorf("scan %s: %w", e.table, err)
		}

		obj := make(map[string]any, len(e.columns))
		for i, col := range e.columns {
			obj[col] = e.value(col, values[i])
		}
		page.Objects = append(page.Objects, obj)
	}
	if err := rows.Err(); err != nil {
		return store.EntityPage{}, fmt.Errorf("iterate %s: %w", e.table, err)
	}
	return page, nil
}

func findEntity(name string) (entity, bool) {
	for _, e := range entities {
		if e.table == name {
			return e, true
		}
	}
	return entity{}, false
}

// value converts a scanned column to its JSON form.
func (e entity) value(col string, v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case int64:
		if e.bools[col] {
			return x != 0
		}
		return x
	default:
		return v
	}
}
