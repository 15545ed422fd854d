package storage

import (
	"context"

	"github.com/google/uuid"

	"github.com/olehkaliuzhnyi/certwallet/pkg/models"
)

// WalletStore persists wallets and their derived sections.
type WalletStore interface {
	// CreateWallet stores w. Returns ErrConflict if the owner already has a wallet.
	CreateWallet(ctx context.Context, w *models.Wallet) error
	// FindWalletByOwner returns ErrNotFound when the owner has no wallet.
	FindWalletByOwner(ctx context.Context, owner string) (*models.Wallet, error)
	FindWalletByID(ctx context.Context, id uuid.UUID) (*models.Wallet, error)
	// ReserveSectionPosition atomically returns the next unused position of
	// the wallet and advances it. Positions are never handed out twice.
	ReserveSectionPosition(ctx context.Context, walletID uuid.UUID) (uint32, error)
	// CreateSection returns ErrConflict if (wallet, position) is taken and
	// ErrNotFound if the wallet does not exist.
	CreateSection(ctx context.Context, s *models.WalletSection) error
	FindSection(ctx context.Context, id uuid.UUID) (*models.WalletSection, error)
	// FindSectionsByOwner returns every section of every wallet owned by owner.
	FindSectionsByOwner(ctx context.Context, owner string) ([]*models.WalletSection, error)
}

// EndpointStore persists external endpoints.
type EndpointStore interface {
	// CreateExternalEndpoint returns ErrConflict when e.Reference is non-nil
	// and the owner already has an endpoint with that reference.
	CreateExternalEndpoint(ctx context.Context, e *models.ExternalEndpoint) error
	FindExternalEndpointsByOwner(ctx context.Context, owner string) ([]*models.ExternalEndpoint, error)
}

// LedgerStore persists registries, certificates and slices.
type LedgerStore interface {
	// InsertRegistry returns ErrConflict if the id is taken.
	InsertRegistry(ctx context.Context, r *models.Registry) error
	FindRegistry(ctx context.Context, id uuid.UUID) (*models.Registry, error)
	// InsertCertificate returns ErrConflict if the id is taken.
	InsertCertificate(ctx context.Context, c *models.Certificate) error
	FindCertificate(ctx context.Context, id uuid.UUID) (*models.Certificate, error)
	// InsertSlice returns ErrConflict if the id is taken.
	InsertSlice(ctx context.Context, s *models.Slice) error
	FindSlice(ctx context.Context, id uuid.UUID) (*models.Slice, error)
	// SumOwnedSlices totals, per certificate, the slices held by sections of
	// wallets owned by owner. Certificates totalling zero are left out.
	// Returns ErrOutOfRange if a total does not fit in int64.
	SumOwnedSlices(ctx context.Context, owner string) ([]models.GranularCertificate, error)
	// SumOwnedCertificate totals the slices of one certificate held by
	// owner, zero when there are none.
	SumOwnedCertificate(ctx context.Context, owner string, certificateID uuid.UUID) (int64, error)
}

// Store is the full storage port of the wallet core.
type Store interface {
	WalletStore
	EndpointStore
	LedgerStore
}

// Tx runs store operations atomically.
type Tx interface {
	// RunInTx applies every write made by fn or none of them. A cancelled
	// context aborts the transaction.
	RunInTx(ctx context.Context, fn func(Store) error) error
	// View runs fn against one consistent snapshot. fn must not write.
	View(ctx context.Context, fn func(Store) error) error
}
