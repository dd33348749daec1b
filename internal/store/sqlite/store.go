// Package sqlite provides a SQLite-backed project store.
//
// The full document is kept as JSON on the project row for read-back. Next
// to it the register is normalised into the tables of the public PFI
// database: project rows reference department, authority, sector,
// constituency, region and spv lookup rows, and each project owns its
// payment and equity rows. The lookup tables are what the read API lists as
// entities.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/ginjaninja78/pfi-indexer/internal/project"
	"github.com/ginjaninja78/pfi-indexer/internal/store"
	"github.com/ginjaninja78/pfi-indexer/internal/store/sqlite/migrations"
)

// Store persists project documents in SQLite.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

var (
	_ store.ReadStore    = (*Store)(nil)
	_ store.EntityLister = (*Store)(nil)
)

// Open opens a SQLite project store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	// Pragmas are per connection.
	sqlDB.SetMaxOpenConns(1)

	ctx := context.Background()
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := sqlDB.ExecContext(ctx, pragma); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if err := applyMigrations(ctx, sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB, now: time.Now}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// =============================================================================
// WRITES
// =============================================================================

// Upsert writes doc and its child rows in one transaction, replacing any
// earlier version of the project.
func (s *Store) Upsert(ctx context.Context, doc *project.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return store.Permanent(fmt.Errorf("storage is not configured"))
	}
	if doc == nil {
		return store.Permanent(fmt.Errorf("document is required"))
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return store.Permanent(fmt.Errorf("encode project %d: %w", doc.HMTID, err))
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return classify(fmt.Errorf("begin upsert: %w", err))
	}
	if err := s.upsertTx(ctx, tx, doc, body); err != nil {
		_ = tx.Rollback()
		return classify(fmt.Errorf("upsert project %d: %w", doc.HMTID, err))
	}
	if err := tx.Commit(); err != nil {
		return classify(fmt.Errorf("commit project %d: %w", doc.HMTID, err))
	}
	return nil
}

func (s *Store) upsertTx(ctx context.Context, tx *sql.Tx, doc *project.Document, body []byte) error {
	lookups := []struct {
		table string
		name  string
	}{
		{table: "department", name: doc.Department},
		{table: "authority", name: doc.ProcuringAuth},
		{table: "sector", name: doc.Sector},
		{table: "constituency", name: doc.Constituency},
		{table: "region", name: doc.Region},
	}
	ids := make([]sql.NullInt64, len(lookups))
	for i := range lookups {
		id, err := lookupID(ctx, tx, lookups[i].table, lookups[i].name)
		if err != nil {
			return err
		}
		ids[i] = id
	}

	spvID, err := upsertSPV(ctx, tx, doc)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO project (
		   hmt_id, name,
		   department_id, authority_id, sector_id, constituency_id, region_id,
		   status,
		   date_ojeu, date_pref_bid, date_fin_close, date_cons_complete, date_ops,
		   contract_years,
		   off_balance_IFRS, off_balance_ESA95, off_balance_GAAP,
		   capital_value, spv_id, document, updated_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (hmt_id) DO UPDATE SET
		   name = excluded.name,
		   department_id = excluded.department_id,
		   authority_id = excluded.authority_id,
		   sector_id = excluded.sector_id,
		   constituency_id = excluded.constituency_id,
		   region_id = excluded.region_id,
		   status = excluded.status,
		   date_ojeu = excluded.date_ojeu,
		   date_pref_bid = excluded.date_pref_bid,
		   date_fin_close = excluded.date_fin_close,
		   date_cons_complete = excluded.date_cons_complete,
		   date_ops = excluded.date_ops,
		   contract_years = excluded.contract_years,
		   off_balance_IFRS = excluded.off_balance_IFRS,
		   off_balance_ESA95 = excluded.off_balance_ESA95,
		   off_balance_GAAP = excluded.off_balance_GAAP,
		   capital_value = excluded.capital_value,
		   spv_id = excluded.spv_id,
		   document = excluded.document,
		   updated_at = excluded.updated_at`,
		doc.HMTID, doc.ProjectName,
		ids[0], ids[1], ids[2], ids[3], ids[4],
		doc.ProjectStatus,
		dateValue(doc.DateOJEU), dateValue(doc.DatePrefBid), dateValue(doc.DateFinClose),
		dateValue(doc.DateConsComplete), dateValue(doc.DateOperational),
		intValue(doc.ContractYears),
		doc.OffBalanceIFRS, doc.OffBalanceESA95, doc.OffBalanceGAAP,
		floatValue(doc.CapitalValue), spvID, string(body), s.now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("write project row: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM payment WHERE proj_id = ?`, doc.HMTID); err != nil {
		return fmt.Errorf("clear payments: %w", err)
	}
	for i, p := range doc.UnitaryChargePayments {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO payment (proj_id, position, year, estimated, payment) VALUES (?, ?, ?, ?, ?)`,
			doc.HMTID, i, p.Year, p.Estimated, floatValue(p.Payment),
		); err != nil {
			return fmt.Errorf("write payment %d: %w", i, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM equity WHERE proj_id = ?`, doc.HMTID); err != nil {
		return fmt.Errorf("clear equity: %w", err)
	}
	for i, h := range doc.EquityHolders {
		companyID, err := lookupID(ctx, tx, "company", h.Name)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO equity (proj_id, position, company_id, share) VALUES (?, ?, ?, ?)`,
			doc.HMTID, i, companyID, floatValue(h.Share),
		); err != nil {
			return fmt.Errorf("write equity %d: %w", i, err)
		}
	}
	return nil
}

// lookupID returns the id of name in a lookup table, inserting it when new.
// Blank names have no row.
func lookupID(ctx context.Context, tx *sql.Tx, table, name string) (sql.NullInt64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return sql.NullInt64{}, nil
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO `+table+` (name) VALUES (?) ON CONFLICT (name) DO NOTHING`, name,
	); err != nil {
		return sql.NullInt64{}, fmt.Errorf("write %s %q: %w", table, name, err)
	}
	var id int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM `+table+` WHERE name = ?`, name).Scan(&id); err != nil {
		return sql.NullInt64{}, fmt.Errorf("read %s %q: %w", table, name, err)
	}
	return sql.NullInt64{Int64: id, Valid: true}, nil
}

// upsertSPV returns the spv row for the document's special purpose vehicle.
func upsertSPV(ctx context.Context, tx *sql.Tx, doc *project.Document) (sql.NullInt64, error) {
	name := strings.TrimSpace(doc.SPVName)
	number := strings.TrimSpace(doc.SPVNumber)
	if name == "" && number == "" {
		return sql.NullInt64{}, nil
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO spv (spv_number, name, address) VALUES (?, ?, ?)
		 ON CONFLICT (spv_number, name) DO UPDATE SET address = excluded.address`,
		number, name, doc.SPVAddress,
	); err != nil {
		return sql.NullInt64{}, fmt.Errorf("write spv: %w", err)
	}
	var id int64
	if err := tx.QueryRowContext(ctx,
		`SELECT id FROM spv WHERE spv_number = ? AND name = ?`, number, name,
	).Scan(&id); err != nil {
		return sql.NullInt64{}, fmt.Errorf("read spv: %w", err)
	}
	return sql.NullInt64{Int64: id, Valid: true}, nil
}

// =============================================================================
// READS
// =============================================================================

// Get returns one project by hmt_id.
func (s *Store) Get(ctx context.Context, hmtID int) (*project.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var body string
	err := s.sqlDB.QueryRowContext(ctx, `SELECT document FROM project WHERE hmt_id = ?`, hmtID).Scan(&body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get project %d: %w", hmtID, err)
	}
	return decodeDocument(body)
}

// List returns projects in hmt_id order.
func (s *Store) List(ctx context.Context, offset, limit int) (store.Page, error) {
	if err := ctx.Err(); err != nil {
		return store.Page{}, err
	}
	var page store.Page
	if err := s.sqlDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM project`).Scan(&page.Total); err != nil {
		return store.Page{}, fmt.Errorf("count projects: %w", err)
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT document FROM project ORDER BY hmt_id LIMIT ? OFFSET ?`,
		sqlLimit(limit), max(offset, 0),
	)
	if err != nil {
		return store.Page{}, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return store.Page{}, fmt.Errorf("scan project: %w", err)
		}
		doc, err := decodeDocument(body)
		if err != nil {
			return store.Page{}, err
		}
		page.Documents = append(page.Documents, doc)
	}
	if err := rows.Err(); err != nil {
		return store.Page{}, fmt.Errorf("iterate projects: %w", err)
	}
	return page, nil
}

func decodeDocument(body string) (*project.Document, error) {
	var doc project.Document
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, fmt.Errorf("decode project document: %w", err)
	}
	return &doc, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// classify marks errors that retrying cannot fix as permanent and lock
// contention as unavailable.
func classify(err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3lib.SQLITE_CONSTRAINT, sqlite3lib.SQLITE_MISMATCH, sqlite3lib.SQLITE_TOOBIG,
			sqlite3lib.SQLITE_READONLY, sqlite3lib.SQLITE_CORRUPT:
			return store.Permanent(err)
		case sqlite3lib.SQLITE_BUSY, sqlite3lib.SQLITE_LOCKED:
			return store.Unavailable(err)
		}
	}
	return err
}

func dateValue(d *project.Date) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func intValue(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func floatValue(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

// sqlLimit converts "no limit" to SQLite's -1.
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}
