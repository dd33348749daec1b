package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/ginjaninja78/pfi-indexer/internal/store"
	"github.com/ginjaninja78/pfi-indexer/internal/store/storetest"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pfi.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return s
}

func TestSQLiteStore(t *testing.T) {
	suite.Run(t, &storetest.ReadStoreSuite{
		Open: func() store.ReadStore { return openTempStore(t) },
	})
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("  ")
	assert.Error(t, err)
}

func TestReopenKeepsDataAndSkipsAppliedMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pfi.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Upsert(ctx, storetest.Document(11)))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get(ctx, 11)
	require.NoError(t, err)
	assert.Equal(t, storetest.Document(11), got)

	var applied int
	require.NoError(t, s.sqlDB.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&applied))
	assert.Equal(t, 1, applied)
}

func TestRelationalRows(t *testing.T) {
	s := openTempStore(t)
	defer s.Close()
	ctx := context.Background()

	first := storetest.Document(1)
	second := storetest.Document(2)
	second.Department = "Ministry of Defence"
	require.NoError(t, s.Upsert(ctx, first))
	require.NoError(t, s.Upsert(ctx, second))
	// Re-submitting must not duplicate child rows.
	require.NoError(t, s.Upsert(ctx, first))

	count := func(query string, args ...any) int {
		t.Helper()
		var n int
		require.NoError(t, s.sqlDB.QueryRowContext(ctx, query, args...).Scan(&n))
		return n
	}

	assert.Equal(t, 2, count(`SELECT COUNT(*) FROM department`))
	assert.Equal(t, 1, count(`SELECT COUNT(*) FROM sector`))
	assert.Equal(t, 1, count(`SELECT COUNT(*) FROM spv`))
	assert.Equal(t, 2, count(`SELECT COUNT(*) FROM company`))
	assert.Equal(t, 66, count(`SELECT COUNT(*) FROM payment WHERE proj_id = ?`, 1))
	assert.Equal(t, 6, count(`SELECT COUNT(*) FROM equity WHERE proj_id = ?`, 1))
	assert.Equal(t, 4, count(`SELECT COUNT(*) FROM equity WHERE proj_id = ? AND company_id IS NULL`, 1))
	assert.Equal(t, 22, count(`SELECT COUNT(*) FROM payment WHERE proj_id = ? AND payment IS NULL`, 1))

	var ojeu string
	var offIFRS, offESA bool
	require.NoError(t, s.sqlDB.QueryRowContext(ctx,
		`SELECT date_ojeu, off_balance_IFRS, off_balance_ESA95 FROM project WHERE hmt_id = 1`,
	).Scan(&ojeu, &offIFRS, &offESA))
	assert.Equal(t, "1999-03-12", ojeu)
	assert.False(t, offIFRS)
	assert.True(t, offESA)
}

func TestListEntity(t *testing.T) {
	s := openTempStore(t)
	defer s.Close()
	ctx := context.Background()

	for id := 1; id <= 3; id++ {
		doc := storetest.Document(id)
		doc.Sector = fmt.Sprintf("Sector %d", id)
		require.NoError(t, s.Upsert(ctx, doc))
	}

	assert.Contains(t, s.Entities(), "payment")
	assert.Contains(t, s.Entities(), "company")

	page, err := s.ListEntity(ctx, "sector", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	require.Len(t, page.Objects, 1)
	assert.Equal(t, "Sector 2", page.Objects[0]["name"])
	assert.EqualValues(t, 2, page.Objects[0]["id"])

	payments, err := s.ListEntity(ctx, "payment", 21, 1)
	require.NoError(t, err)
	assert.Equal(t, 3*66, payments.Total)
	require.Len(t, payments.Objects, 1)
	assert.Equal(t, true, payments.Objects[0]["estimated"])
	assert.EqualValues(t, 1992, payments.Objects[0]["year"])

	spv, err := s.ListEntity(ctx, "spv", 0, 0)
	require.NoError(t, err)
	require.Len(t, spv.Objects, 1)
	assert.Equal(t, "04325678", spv.Objects[0]["spv_number"])

	_, err = s.ListEntity(ctx, "project; DROP TABLE project", 0, 10)
	assert.ErrorIs(t, err, store.ErrUnknownEntity)
}

func TestClassify(t *testing.T) {
	assert.NoError(t, classify(nil))
	assert.ErrorIs(t, classify(context.Canceled), context.Canceled)
	assert.False(t, store.IsPermanent(classify(errors.New("disk hiccup"))))
}

func TestUpsertRejectsNilDocument(t *testing.T) {
	s := openTempStore(t)
	defer s.Close()
	assert.True(t, store.IsPermanent(s.Upsert(context.Background(), nil)))
}

func TestUpSection(t *testing.T) {
	assert.Equal(t, "\nCREATE TABLE a (x);\n", upSection("-- +migrate Up\nCREATE TABLE a (x);\n-- +migrate Down\nDROP TABLE a;"))
	assert.Equal(t, "CREATE TABLE b (y);", upSection("CREATE TABLE b (y);"))
}
