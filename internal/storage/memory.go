package storage

import (
	"bytes"
	"cmp"
	"context"
	"maps"
	"math"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/olehkaliuzhnyi/certwallet/pkg/models"
)

// firstSectionPosition is the first position handed out for a new wallet.
const firstSectionPosition = 1

// MemoryStore is an in-memory Store and Tx.
//
// Transactions are serialized by a single lock and run against a copy of
// the state that replaces the live one only when fn succeeds, so a failed or
// cancelled transaction leaves nothing behind.
type MemoryStore struct {
	mu    sync.RWMutex
	state *memState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState()}
}

func (s *MemoryStore) RunInTx(ctx context.Context, fn func(Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := s.state.clone()
	if err := fn(staged); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = staged
	return nil
}

func (s *MemoryStore) View(ctx context.Context, fn func(Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(readOnlyState{s.state})
}

type memState struct {
	wallets       map[uuid.UUID]*models.Wallet
	walletByOwner map[string]uuid.UUID
	nextPosition  map[uuid.UUID]uint32
	sections      map[uuid.UUID]*models.WalletSection
	sectionKeys   map[string]struct{}
	endpoints     []*models.ExternalEndpoint
	endpointRefs  map[endpointRef]struct{}
	registries    map[uuid.UUID]*models.Registry
	certificates  map[uuid.UUID]*models.Certificate
	slices        map[uuid.UUID]*models.Slice
}

type endpointRef struct {
	owner     string
	reference string
}

func newMemState() *memState {
	return &memState{
		wallets:       make(map[uuid.UUID]*models.Wallet),
		walletByOwner: make(map[string]uuid.UUID),
		nextPosition:  make(map[uuid.UUID]uint32),
		sections:      make(map[uuid.UUID]*models.WalletSection),
		sectionKeys:   make(map[string]struct{}),
		endpointRefs:  make(map[endpointRef]struct{}),
		registries:    make(map[uuid.UUID]*models.Registry),
		certificates:  make(map[uuid.UUID]*models.Certificate),
		slices:        make(map[uuid.UUID]*models.Slice),
	}
}

// clone copies the indexes. Records are never mutated in place, so they are
// shared between copies.
func (m *memState) clone() *memState {
	return &memState{
		wallets:       maps.Clone(m.wallets),
		walletByOwner: maps.Clone(m.walletByOwner),
		nextPosition:  maps.Clone(m.nextPosition),
		sections:      maps.Clone(m.sections),
		sectionKeys:   maps.Clone(m.sectionKeys),
		endpoints:     slices.Clone(m.endpoints),
		endpointRefs:  maps.Clone(m.endpointRefs),
		registries:    maps.Clone(m.registries),
		certificates:  maps.Clone(m.certificates),
		slices:        maps.Clone(m.slices),
	}
}

func (m *memState) CreateWallet(_ context.Context, w *models.Wallet) error {
	if _, ok := m.walletByOwner[w.Owner]; ok {
		return ErrConflict
	}
	if _, ok := m.wallets[w.ID]; ok {
		return ErrConflict
	}
	stored := *w
	stored.MasterKey = bytes.Clone(w.MasterKey)
	m.wallets[w.ID] = &stored
	m.walletByOwner[w.Owner] = w.ID
	m.nextPosition[w.ID] = firstSectionPosition
	return nil
}

func (m *memState) FindWalletByOwner(ctx context.Context, owner string) (*models.Wallet, error) {
	id, ok := m.walletByOwner[owner]
	if !ok {
		return nil, ErrNotFound
	}
	return m.FindWalletByID(ctx, id)
}

func (m *memState) FindWalletByID(_ context.Context, id uuid.UUID) (*models.Wallet, error) {
	w, ok := m.wallets[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *w
	out.MasterKey = bytes.Clone(w.MasterKey)
	return &out, nil
}

func (m *memState) ReserveSectionPosition(_ context.Context, walletID uuid.UUID) (uint32, error) {
	next, ok := m.nextPosition[walletID]
	if !ok {
		return 0, ErrNotFound
	}
	m.nextPosition[walletID] = next + 1
	return next, nil
}

func (m *memState) CreateSection(_ context.Context, s *models.WalletSection) error {
	if _, ok := m.wallets[s.WalletID]; !ok {
		return ErrNotFound
	}
	if _, ok := m.sections[s.ID]; ok {
		return ErrConflict
	}
	if _, ok := m.sectionKeys[string(s.PublicKey)]; ok {
		return ErrConflict
	}
	for _, existing := range m.sections {
		if existing.WalletID == s.WalletID && existing.Position == s.Position {
			return ErrConflict
		}
	}
	stored := *s
	stored.PublicKey = bytes.Clone(s.PublicKey)
	m.sections[s.ID] = &stored
	m.sectionKeys[string(s.PublicKey)] = struct{}{}
	return nil
}

func (m *memState) FindSection(_ context.Context, id uuid.UUID) (*models.WalletSection, error) {
	s, ok := m.sections[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copySection(s), nil
}

func (m *memState) FindSectionsByOwner(_ context.Context, owner string) ([]*models.WalletSection, error) {
	walletID, ok := m.walletByOwner[owner]
	if !ok {
		return nil, nil
	}
	var out []*models.WalletSection
	for _, s := range m.sections {
		if s.WalletID == walletID {
			out = append(out, copySection(s))
		}
	}
	slices.SortFunc(out, func(a, b *models.WalletSection) int {
		return cmp.Compare(a.Position, b.Position)
	})
	return out, nil
}

func (m *memState) CreateExternalEndpoint(_ context.Context, e *models.ExternalEndpoint) error {
	if e.Reference != nil {
		ref := endpointRef{owner: e.Owner, reference: *e.Reference}
		if _, ok := m.endpointRefs[ref]; ok {
			return ErrConflict
		}
		m.endpointRefs[ref] = struct{}{}
	}
	m.endpoints = append(m.endpoints, copyEndpoint(e))
	return nil
}

func (m *memState) FindExternalEndpointsByOwner(_ context.Context, owner string) ([]*models.ExternalEndpoint, error) {
	var out []*models.ExternalEndpoint
	for _, e := range m.endpoints {
		if e.Owner == owner {
			out = append(out, copyEndpoint(e))
		}
	}
	return out, nil
}

func (m *memState) InsertRegistry(_ context.Context, r *models.Registry) error {
	if _, ok := m.registries[r.ID]; ok {
		return ErrConflict
	}
	stored := *r
	m.registries[r.ID] = &stored
	return nil
}

func (m *memState) FindRegistry(_ context.Context, id uuid.UUID) (*models.Registry, error) {
	r, ok := m.registries[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *r
	return &out, nil
}

func (m *memState) InsertCertificate(_ context.Context, c *models.Certificate) error {
	if _, ok := m.certificates[c.ID]; ok {
		return ErrConflict
	}
	if _, ok := m.registries[c.RegistryID]; !ok {
		return ErrNotFound
	}
	stored := *c
	m.certificates[c.ID] = &stored
	return nil
}

func (m *memState) FindCertificate(_ context.Context, id uuid.UUID) (*models.Certificate, error) {
	c, ok := m.certificates[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *c
	return &out, nil
}

func (m *memState) InsertSlice(_ context.Context, s *models.Slice) error {
	if _, ok := m.slices[s.ID]; ok {
		return ErrConflict
	}
	if _, ok := m.sections[s.WalletSectionID]; !ok {
		return ErrNotFound
	}
	if _, ok := m.certificates[s.CertificateID]; !ok {
		return ErrNotFound
	}
	if _, ok := m.registries[s.RegistryID]; !ok {
		return ErrNotFound
	}
	stored := *s
	stored.Commitment = bytes.Clone(s.Commitment)
	m.slices[s.ID] = &stored
	return nil
}

func (m *memState) FindSlice(_ context.Context, id uuid.UUID) (*models.Slice, error) {
	s, ok := m.slices[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *s
	out.Commitment = bytes.Clone(s.Commitment)
	return &out, nil
}

func (m *memState) SumOwnedSlices(_ context.Context, owner string) ([]models.GranularCertificate, error) {
	walletID, ok := m.walletByOwner[owner]
	if !ok {
		return nil, nil
	}
	totals := make(map[uuid.UUID]*models.GranularCertificate)
	for _, s := range m.slices {
		section, ok := m.sections[s.WalletSectionID]
		if !ok || section.WalletID != walletID {
			continue
		}
		gc, ok := totals[s.CertificateID]
		if !ok {
			gc = &models.GranularCertificate{CertificateID: s.CertificateID, RegistryID: s.RegistryID}
			totals[s.CertificateID] = gc
		}
		sum, err := addQuantity(gc.Quantity, s.Quantity)
		if err != nil {
			return nil, err
		}
		gc.Quantity = sum
	}
	out := make([]models.GranularCertificate, 0, len(totals))
	for _, gc := range totals {
		if gc.Quantity > 0 {
			out = append(out, *gc)
		}
	}
	return out, nil
}

func (m *memState) SumOwnedCertificate(_ context.Context, owner string, certificateID uuid.UUID) (int64, error) {
	walletID, ok := m.walletByOwner[owner]
	if !ok {
		return 0, nil
	}
	var total int64
	for _, s := range m.slices {
		if s.CertificateID != certificateID {
			continue
		}
		section, ok := m.sections[s.WalletSectionID]
		if !ok || section.WalletID != walletID {
			continue
		}
		sum, err := addQuantity(total, s.Quantity)
		if err != nil {
			return 0, err
		}
		total = sum
	}
	return total, nil
}

// addQuantity adds two non-negative quantities, failing where postgres
// would raise bigint out of range.
func addQuantity(a, b int64) (int64, error) {
	if b > 0 && a > math.MaxInt64-b {
		return 0, ErrOutOfRange
	}
	return a + b, nil
}

func copySection(s *models.WalletSection) *models.WalletSection {
	out := *s
	out.PublicKey = bytes.Clone(s.PublicKey)
	return &out
}

func copyEndpoint(e *models.ExternalEndpoint) *models.ExternalEndpoint {
	out := *e
	out.PublicKey = bytes.Clone(e.PublicKey)
	if e.Reference != nil {
		ref := *e.Reference
		out.Reference = &ref
	}
	return &out
}

// readOnlyState rejects writes made from View.
type readOnlyState struct {
	*memState
}

func (readOnlyState) CreateWallet(context.Context, *models.Wallet) error { return ErrReadOnly }

func (readOnlyState) ReserveSectionPosition(context.Context, uuid.UUID) (uint32, error) {
	return 0, ErrReadOnly
}

func (readOnlyState) CreateSection(context.Context, *models.WalletSection) error { return ErrReadOnly }

func (readOnlyState) CreateExternalEndpoint(context.Context, *models.ExternalEndpoint) error {
	return ErrReadOnly
}

func (readOnlyState) InsertRegistry(context.Context, *models.Registry) error { return ErrReadOnly }

func (readOnlyState) InsertCertificate(context.Context, *models.Certificate) error {
	return ErrReadOnly
}

func (readOnlyState) InsertSlice(context.Context, *models.Slice) error { return ErrReadOnly }
