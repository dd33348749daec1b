// Package storetest holds the behaviour every readable store must share.
package storetest

import (
	"context"
	"fmt"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/ginjaninja78/pfi-indexer/internal/project"
	"github.com/ginjaninja78/pfi-indexer/internal/store"
)

// ReadStoreSuite checks upsert and read-back. Embed it and set Open.
type ReadStoreSuite struct {
	suite.Suite

	// Open returns an empty store. It is called once per test.
	Open func() store.ReadStore

	Store store.ReadStore
}

func (s *ReadStoreSuite) SetupTest() {
	s.Require().NotNil(s.Open, "Open must be set")
	s.Store = s.Open()
}

func (s *ReadStoreSuite) TearDownTest() {
	if s.Store != nil {
		s.NoError(s.Store.Close())
	}
}

// Document builds a document with every kind of field populated.
func Document(id int) *project.Document {
	doc := &project.Document{
		HMTID:           id,
		ProjectName:     fmt.Sprintf("Project %d", id),
		Department:      "Department of Health",
		ProcuringAuth:   "Leeds Teaching Hospitals NHS Trust",
		Sector:          "Health",
		Constituency:    "Leeds Central",
		Region:          "Yorkshire and the Humber",
		ProjectStatus:   "Operational",
		DateOJEU:        project.NewDate(1999, time.March, 12),
		DateFinClose:    project.NewDate(2001, time.June, 30),
		ContractYears:   project.Int(30),
		OffBalanceIFRS:  false,
		OffBalanceESA95: true,
		OffBalanceGAAP:  true,
		CapitalValue:    project.Float(265.5),
		SPVName:         "Leeds Hospital SPV Ltd",
		SPVNumber:       "04325678",
		SPVAddress:      "1 Park Row, Leeds",
	}
	for i := 0; i < 21; i++ {
		doc.UnitaryChargePayments = append(doc.UnitaryChargePayments, project.Payment{Year: 1992 + i, Payment: project.Float(float64(i) + 0.5)})
	}
	for i := 0; i < 45; i++ {
		p := project.Payment{Estimated: true, Year: 1992 + i}
		if i%2 == 0 {
			p.Payment = project.Float(float64(i))
		}
		doc.UnitaryChargePayments = append(doc.UnitaryChargePayments, p)
	}
	doc.EquityHolders = []project.EquityHolder{
		{Name: "Innisfree", Share: project.Float(50)},
		{Name: "HSBC Infrastructure", Share: project.Float(50)},
		{}, {}, {}, {},
	}
	return doc
}

func (s *ReadStoreSuite) TestUpsertThenGet() {
	ctx := context.Background()
	doc := Document(7)

	s.Require().NoError(s.Store.Upsert(ctx, doc))

	got, err := s.Store.Get(ctx, 7)
	s.Require().NoError(err)
	s.Equal(doc, got)
}

func (s *ReadStoreSuite) TestGetMissing() {
	_, err := s.Store.Get(context.Background(), 404)
	s.ErrorIs(err, store.ErrNotFound)
}

func (s *ReadStoreSuite) TestUpsertReplaces() {
	ctx := context.Background()
	first := Document(3)
	s.Require().NoError(s.Store.Upsert(ctx, first))

	second := Document(3)
	second.ProjectName = "Renamed"
	second.Department = "Ministry of Defence"
	second.CapitalValue = nil
	second.EquityHolders[0].Name = "Semperian"
	s.Require().NoError(s.Store.Upsert(ctx, second))

	got, err := s.Store.Get(ctx, 3)
	s.Require().NoError(err)
	s.Equal(second, got)

	page, err := s.Store.List(ctx, 0, 0)
	s.Require().NoError(err)
	s.Equal(1, page.Total)
}

func (s *ReadStoreSuite) TestUpsertIsIdempotent() {
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		for _, id := range []int{5, 1, 3} {
			s.Require().NoError(s.Store.Upsert(ctx, Document(id)))
		}
	}

	page, err := s.Store.List(ctx, 0, 0)
	s.Require().NoError(err)
	s.Equal(3, page.Total)
	s.Len(page.Documents, 3)
}

func (s *ReadStoreSuite) TestListPagesInIDOrder() {
	ctx := context.Background()
	for _, id := range []int{30, 10, 50, 20, 40} {
		s.Require().NoError(s.Store.Upsert(ctx, Document(id)))
	}

	s.Run("first page", func() {
		page, err := s.Store.List(ctx, 0, 2)
		s.Require().NoError(err)
		s.Equal(5, page.Total)
		s.Equal([]int{10, 20}, ids(page))
	})

	s.Run("last page", func() {
		page, err := s.Store.List(ctx, 4, 2)
		s.Require().NoError(err)
		s.Equal([]int{50}, ids(page))
	})

	s.Run("past the end", func() {
		page, err := s.Store.List(ctx, 10, 2)
		s.Require().NoError(err)
		s.Equal(5, page.Total)
		s.Empty(page.Documents)
	})
}

func (s *ReadStoreSuite) TestStoredDocumentIsACopy() {
	ctx := context.Background()
	doc := Document(9)
	s.Require().NoError(s.Store.Upsert(ctx, doc))

	doc.ProjectName = "changed after submission"
	*doc.UnitaryChargePayments[0].Payment = -1

	got, err := s.Store.Get(ctx, 9)
	s.Require().NoError(err)
	s.Equal(Document(9), got)
}

func ids(page store.Page) []int {
	out := make([]int, 0, len(page.Documents))
	for _, d := range page.Documents {
		out = append(out, d.HMTID)
	}
	return out
}
