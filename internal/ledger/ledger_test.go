package ledger_test

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/olehkaliuzhnyi/certwallet/internal/ledger"
	"github.com/olehkaliuzhnyi/certwallet/internal/storage"
	"github.com/olehkaliuzhnyi/certwallet/internal/testgen"
	"github.com/olehkaliuzhnyi/certwallet/internal/wallet"
	dErrors "github.com/olehkaliuzhnyi/certwallet/pkg/domainerrors"
	"github.com/olehkaliuzhnyi/certwallet/pkg/models"
)

type LedgerSuite struct {
	suite.Suite
	ctx    context.Context
	store  *storage.MemoryStore
	keeper *wallet.Keeper
	ledger *ledger.Ledger
	gen    *testgen.Gen

	registry *models.Registry
}

func TestLedgerSuite(t *testing.T) {
	suite.Run(t, new(LedgerSuite))
}

func (s *LedgerSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = storage.NewMemoryStore()
	s.keeper = wallet.NewKeeper(s.store)
	s.ledger = ledger.New(s.store)
	s.gen = testgen.New(7)

	s.registry = &models.Registry{ID: s.gen.UUID(), Name: "Energinet"}
	s.Require().NoError(s.ledger.InsertRegistry(s.ctx, s.registry))
}

func (s *LedgerSuite) section(owner string) *models.WalletSection {
	w, err := s.keeper.EnsureWallet(s.ctx, owner)
	s.Require().NoError(err)
	sec, err := s.keeper.AllocateSection(s.ctx, w.ID)
	s.Require().NoError(err)
	return sec
}

func (s *LedgerSuite) certificate() *models.Certificate {
	c := &models.Certificate{ID: s.gen.UUID(), RegistryID: s.registry.ID}
	s.Require().NoError(s.ledger.InsertCertificate(s.ctx, c))
	return c
}

func (s *LedgerSuite) slice(sec *models.WalletSection, c *models.Certificate, quantity int64) *models.Slice {
	sl := &models.Slice{
		ID:              s.gen.UUID(),
		WalletSectionID: sec.ID,
		RegistryID:      c.RegistryID,
		CertificateID:   c.ID,
		Quantity:        quantity,
		Commitment:      s.gen.Bytes(32),
	}
	s.Require().NoError(s.ledger.InsertSlice(s.ctx, sl))
	return sl
}

// TestOwnerIsolation: alice holds 30+45 of C1 and 17 of C2, bob holds an
// unrelated slice of C3. Alice sees exactly C1:75 and C2:17.
func (s *LedgerSuite) TestOwnerIsolation() {
	s1 := s.section("alice")
	s2 := s.section("bob")
	c1, c2, c3 := s.certificate(), s.certificate(), s.certificate()

	s.slice(s1, c1, 30)
	s.slice(s1, c1, 45)
	s.slice(s1, c2, 17)
	s.slice(s2, c3, 99)

	got, err := s.ledger.QueryGranularCertificates(s.ctx, "alice")
	s.Require().NoError(err)
	s.ElementsMatch([]models.GranularCertificate{
		{CertificateID: c1.ID, RegistryID: s.registry.ID, Quantity: 75},
		{CertificateID: c2.ID, RegistryID: s.registry.ID, Quantity: 17},
	}, got)
}

func (s *LedgerSuite) TestSharedCertificateIsSplitPerOwner() {
	alice := s.section("alice")
	bob := s.section("bob")
	c := s.certificate()

	s.slice(alice, c, 40)
	s.slice(bob, c, 60)

	got, err := s.ledger.QueryGranularCertificates(s.ctx, "alice")
	s.Require().NoError(err)
	s.Equal([]models.GranularCertificate{{CertificateID: c.ID, RegistryID: s.registry.ID, Quantity: 40}}, got)
}

func (s *LedgerSuite) TestSlicesAcrossSectionsAreSummed() {
	first := s.section("alice")
	second := s.section("alice")
	c := s.certificate()

	s.slice(first, c, 5)
	s.slice(second, c, 7)

	got, err := s.ledger.QueryGranularCertificates(s.ctx, "alice")
	s.Require().NoError(err)
	s.Equal([]models.GranularCertificate{{CertificateID: c.ID, RegistryID: s.registry.ID, Quantity: 12}}, got)
}

func (s *LedgerSuite) TestZeroTotalsAreOmitted() {
	sec := s.section("alice")
	s.slice(sec, s.certificate(), 0)

	got, err := s.ledger.QueryGranularCertificates(s.ctx, "alice")
	s.Require().NoError(err)
	s.NotNil(got)
	s.Empty(got)
}

func (s *LedgerSuite) TestUnknownOwner() {
	got, err := s.ledger.QueryGranularCertificates(s.ctx, "nobody")
	s.Require().NoError(err)
	s.Empty(got)
}

func (s *LedgerSuite) TestInsertSlice_Validation() {
	sec := s.section("alice")
	c := s.certificate()
	other := &models.Registry{ID: s.gen.UUID(), Name: "Other"}
	s.Require().NoError(s.ledger.InsertRegistry(s.ctx, other))

	valid := func() *models.Slice {
		return &models.Slice{
			ID: s.gen.UUID(), WalletSectionID: sec.ID, RegistryID: c.RegistryID,
			CertificateID: c.ID, Quantity: 1, Commitment: []byte{1},
		}
	}
	tests := []struct {
		name   string
		mutate func(*models.Slice)
	}{
		{"negative quantity", func(sl *models.Slice) { sl.Quantity = -1 }},
		{"missing id", func(sl *models.Slice) { sl.ID = uuid.Nil }},
		{"unknown section", func(sl *models.Slice) { sl.WalletSectionID = s.gen.UUID() }},
		{"unknown certificate", func(sl *models.Slice) { sl.CertificateID = s.gen.UUID() }},
		{"unknown registry", func(sl *models.Slice) { sl.RegistryID = s.gen.UUID() }},
		{"registry mismatch", func(sl *models.Slice) { sl.RegistryID = other.ID }},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			sl := valid()
			tt.mutate(sl)
			err := s.ledger.InsertSlice(s.ctx, sl)
			s.True(dErrors.HasCode(err, dErrors.CodeInvalidArgument), "got %v", err)
		})
	}

	got, err := s.ledger.QueryGranularCertificates(s.ctx, "alice")
	s.Require().NoError(err)
	s.Empty(got, "rejected slices must not be recorded")
}

func (s *LedgerSuite) TestInsertSlice_Redelivery() {
	sec := s.section("alice")
	c := s.certificate()
	sl := s.slice(sec, c, 10)

	// Identical payload: no-op.
	s.Require().NoError(s.ledger.InsertSlice(s.ctx, sl))

	changed := *sl
	changed.Quantity = 11
	err := s.ledger.InsertSlice(s.ctx, &changed)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict), "got %v", err)

	got, err := s.ledger.QueryGranularCertificates(s.ctx, "alice")
	s.Require().NoError(err)
	s.Equal(int64(10), got[0].Quantity)
}

func (s *LedgerSuite) TestReferentialInsertsAreIdempotent() {
	s.Require().NoError(s.ledger.InsertRegistry(s.ctx, &models.Registry{ID: s.registry.ID, Name: s.registry.Name}))
	err := s.ledger.InsertRegistry(s.ctx, &models.Registry{ID: s.registry.ID, Name: "Renamed"})
	s.True(dErrors.HasCode(err, dErrors.CodeConflict), "got %v", err)

	c := s.certificate()
	s.Require().NoError(s.ledger.InsertCertificate(s.ctx, &models.Certificate{ID: c.ID, RegistryID: c.RegistryID}))

	other := &models.Registry{ID: s.gen.UUID(), Name: "Other"}
	s.Require().NoError(s.ledger.InsertRegistry(s.ctx, other))
	err = s.ledger.InsertCertificate(s.ctx, &models.Certificate{ID: c.ID, RegistryID: other.ID})
	s.True(dErrors.HasCode(err, dErrors.CodeConflict), "got %v", err)
}

func (s *LedgerSuite) TestInsertCertificate_UnknownRegistry() {
	err := s.ledger.InsertCertificate(s.ctx, &models.Certificate{ID: s.gen.UUID(), RegistryID: s.gen.UUID()})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidArgument), "got %v", err)
}

// TestConcurrentBatchesAndQuery appends batches of three slices (1, 2 and
// 4) in one transaction each while readers query. A reader may only see
// whole batches, so every observed total is a multiple of 7.
func (s *LedgerSuite) TestConcurrentBatchesAndQuery() {
	sec := s.section("alice")
	c := s.certificate()

	const batches = 20
	var wg sync.WaitGroup
	for i := 0; i < batches; i++ {
		batch := make([]*models.Slice, 0, 3)
		for _, q := range []int64{1, 2, 4} {
			batch = append(batch, &models.Slice{
				ID: s.gen.UUID(), WalletSectionID: sec.ID, RegistryID: c.RegistryID,
				CertificateID: c.ID, Quantity: q, Commitment: s.gen.Bytes(8),
			})
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.NoError(s.store.RunInTx(s.ctx, func(st storage.Store) error {
				for _, sl := range batch {
					if err := ledger.ApplySlice(s.ctx, st, sl); err != nil {
						return err
					}
				}
				return nil
			}))
		}()
	}
	for i := 0; i < batches; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := s.ledger.QueryGranularCertificates(s.ctx, "alice")
			if s.NoError(err) && len(got) == 1 {
				s.Zero(got[0].Quantity%7, "total %d includes part of a batch", got[0].Quantity)
				s.LessOrEqual(got[0].Quantity, int64(7*batches))
			}
		}()
	}
	wg.Wait()

	got, err := s.ledger.QueryGranularCertificates(s.ctx, "alice")
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal(int64(7*batches), got[0].Quantity)
}

// TestInsertSlice_TotalOverflow: a slice that would push the holder's total
// on a certificate past int64 is rejected and the existing total stays
// visible.
func (s *LedgerSuite) TestInsertSlice_TotalOverflow() {
	sec := s.section("alice")
	c := s.certificate()
	s.slice(sec, c, math.MaxInt64)

	err := s.ledger.InsertSlice(s.ctx, &models.Slice{
		ID: s.gen.UUID(), WalletSectionID: sec.ID, RegistryID: c.RegistryID,
		CertificateID: c.ID, Quantity: math.MaxInt64, Commitment: s.gen.Bytes(8),
	})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidArgument), "got %v", err)

	got, err := s.ledger.QueryGranularCertificates(s.ctx, "alice")
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal(c.ID, got[0].CertificateID)
	s.Equal(int64(math.MaxInt64), got[0].Quantity)

	// Another holder's total on the same certificate is independent.
	s.slice(s.section("bob"), c, math.MaxInt64)
}

// TestInsertSlice_NilCommitment stores a missing commitment as empty bytes
// and treats its redelivery as the same slice.
func (s *LedgerSuite) TestInsertSlice_NilCommitment() {
	sec := s.section("alice")
	c := s.certificate()
	sl := &models.Slice{
		ID: s.gen.UUID(), WalletSectionID: sec.ID, RegistryID: c.RegistryID,
		CertificateID: c.ID, Quantity: 3,
	}
	s.Require().NoError(s.ledger.InsertSlice(s.ctx, sl))
	s.Nil(sl.Commitment, "caller's slice must not be modified")
	s.Require().NoError(s.ledger.InsertSlice(s.ctx, sl))

	s.Require().NoError(s.store.View(s.ctx, func(st storage.Store) error {
		stored, err := st.FindSlice(s.ctx, sl.ID)
		s.Require().NoError(err)
		s.NotNil(stored.Commitment)
		s.Empty(stored.Commitment)
		return nil
	}))
}
