// Package wallet owns wallets and their derived sections.
//
// Each wallet holds one master key. A section is the public extended key
// derived from it at a reserved position; slices are addressed to sections.
package wallet

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/olehkaliuzhnyi/certwallet/internal/hdkey"
	"github.com/olehkaliuzhnyi/certwallet/internal/storage"
	dErrors "github.com/olehkaliuzhnyi/certwallet/pkg/domainerrors"
	"github.com/olehkaliuzhnyi/certwallet/pkg/models"
)

// Keeper runs wallet operations in their own transactions.
type Keeper struct {
	tx     storage.Tx
	logger *slog.Logger
}

// Option configures a Keeper.
type Option func(*Keeper)

// WithLogger overrides the default component logger.
func WithLogger(logger *slog.Logger) Option {
	return func(k *Keeper) {
		if logger != nil {
			k.logger = logger
		}
	}
}

func NewKeeper(tx storage.Tx, opts ...Option) *Keeper {
	k := &Keeper{
		tx:     tx,
		logger: slog.Default().With("component", "wallet"),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// CreateWallet creates the owner's wallet. Fails with Conflict if the owner
// already has one.
func (k *Keeper) CreateWallet(ctx context.Context, owner string) (*models.Wallet, error) {
	var w *models.Wallet
	err := k.tx.RunInTx(ctx, func(st storage.Store) error {
		var err error
		w, err = Create(ctx, st, owner)
		return err
	})
	if err != nil {
		return nil, err
	}
	k.logger.InfoContext(ctx, "wallet created", "wallet_id", w.ID)
	return w, nil
}

// EnsureWallet returns the owner's wallet, creating it on first use. A
// creation race lost to a concurrent caller is retried once as a lookup.
func (k *Keeper) EnsureWallet(ctx context.Context, owner string) (*models.Wallet, error) {
	var w *models.Wallet
	err := storage.RetryOnConflict(func() error {
		return k.tx.RunInTx(ctx, func(st storage.Store) error {
			var err error
			w, err = Ensure(ctx, st, owner)
			return err
		})
	})
	return w, err
}

// AllocateSection derives and stores the next section of the wallet.
func (k *Keeper) AllocateSection(ctx context.Context, walletID uuid.UUID) (*models.WalletSection, error) {
	var sec *models.WalletSection
	err := k.tx.RunInTx(ctx, func(st storage.Store) error {
		var err error
		sec, err = AllocateSection(ctx, st, walletID)
		return err
	})
	if err != nil {
		return nil, err
	}
	k.logger.InfoContext(ctx, "section allocated",
		"wallet_id", walletID,
		"position", sec.Position,
	)
	return sec, nil
}

// ResolveOwnedSections returns every section held by owner's wallets.
func (k *Keeper) ResolveOwnedSections(ctx context.Context, owner string) ([]*models.WalletSection, error) {
	var sections []*models.WalletSection
	err := k.tx.View(ctx, func(st storage.Store) error {
		var err error
		sections, err = ResolveOwnedSections(ctx, st, owner)
		return err
	})
	return sections, err
}

// Create generates a master key and stores a new wallet for owner.
func Create(ctx context.Context, st storage.Store, owner string) (*models.Wallet, error) {
	if owner == "" {
		return nil, dErrors.New(dErrors.CodeInvalidArgument, "owner is required")
	}
	master, err := hdkey.GenerateMaster()
	if err != nil {
		return nil, err
	}
	w := &models.Wallet{
		ID:        uuid.New(),
		Owner:     owner,
		MasterKey: master.Export(),
	}
	if err := st.CreateWallet(ctx, w); err != nil {
		return nil, storage.DomainError(err, "wallet")
	}
	return w, nil
}

// Ensure returns owner's wallet, creating it on first use.
func Ensure(ctx context.Context, st storage.Store, owner string) (*models.Wallet, error) {
	w, err := st.FindWalletByOwner(ctx, owner)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, storage.DomainError(err, "wallet")
	}
	return Create(ctx, st, owner)
}

// AllocateSection reserves the wallet's next position and stores the
// section derived there.
func AllocateSection(ctx context.Context, st storage.Store, walletID uuid.UUID) (*models.WalletSection, error) {
	w, err := st.FindWalletByID(ctx, walletID)
	if err != nil {
		return nil, storage.DomainError(err, "wallet")
	}
	master, err := hdkey.ImportPrivate(w.MasterKey)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "stored master key is unreadable")
	}

	position, err := st.ReserveSectionPosition(ctx, walletID)
	if err != nil {
		return nil, storage.DomainError(err, "wallet")
	}
	child, err := hdkey.Derive(master, position)
	if err != nil {
		return nil, err
	}

	sec := &models.WalletSection{
		ID:        uuid.New(),
		WalletID:  walletID,
		Position:  position,
		PublicKey: child.Neuter().Export(),
	}
	if err := st.CreateSection(ctx, sec); err != nil {
		return nil, storage.DomainError(err, "wallet section")
	}
	return sec, nil
}

// ResolveOwnedSections returns every section held by owner's wallets.
func ResolveOwnedSections(ctx context.Context, st storage.Store, owner string) ([]*models.WalletSection, error) {
	sections, err := st.FindSectionsByOwner(ctx, owner)
	if err != nil {
		return nil, storage.DomainError(err, "wallet section")
	}
	return sections, nil
}
