// Package endpoint implements the deposit-endpoint handshake between
// wallets. Only neutered public keys cross the boundary.
package endpoint

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/olehkaliuzhnyi/certwallet/internal/hdkey"
	"github.com/olehkaliuzhnyi/certwallet/internal/storage"
	"github.com/olehkaliuzhnyi/certwallet/internal/wallet"
	dErrors "github.com/olehkaliuzhnyi/certwallet/pkg/domainerrors"
	"github.com/olehkaliuzhnyi/certwallet/pkg/models"
)

// DefaultVersion tags deposit endpoints issued by this service.
const DefaultVersion int32 = 1

// ErrSelfReference is returned when an owner registers one of its own
// sections as a receiver.
var ErrSelfReference = dErrors.New(dErrors.CodeInvalidArgument, "Cannot create receiver deposit endpoint to self.")

// Registry issues deposit endpoints and records receiver endpoints.
type Registry struct {
	tx        storage.Tx
	publicURL string
	version   int32
	logger    *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithVersion overrides the version tag of issued endpoints.
func WithVersion(v int32) Option {
	return func(r *Registry) {
		r.version = v
	}
}

// NewRegistry returns a Registry that advertises publicURL as the address
// of this service.
func NewRegistry(tx storage.Tx, publicURL string, opts ...Option) *Registry {
	r := &Registry{
		tx:        tx,
		publicURL: publicURL,
		version:   DefaultVersion,
		logger:    slog.Default().With("component", "endpoint"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateWalletDepositEndpoint allocates a fresh section for owner, creating
// the owner's wallet on first use, and returns it as a deposit endpoint.
func (r *Registry) CreateWalletDepositEndpoint(ctx context.Context, owner string) (*models.DepositEndpoint, error) {
	var sec *models.WalletSection
	err := storage.RetryOnConflict(func() error {
		return r.tx.RunInTx(ctx, func(st storage.Store) error {
			w, err := wallet.Ensure(ctx, st, owner)
			if err != nil {
				return err
			}
			sec, err = wallet.AllocateSection(ctx, st, w.ID)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	r.logger.InfoContext(ctx, "deposit endpoint created",
		"wallet_id", sec.WalletID,
		"position", sec.Position,
	)
	return &models.DepositEndpoint{
		EndpointURL: r.publicURL,
		PublicKey:   sec.PublicKey,
		Version:     r.version,
	}, nil
}

// CreateReceiverDepositEndpoint registers remote as a receiver owned by
// owner and returns the id of the stored endpoint.
//
// A non-nil reference must be unique per owner; a nil reference is never
// deduplicated.
func (r *Registry) CreateReceiverDepositEndpoint(ctx context.Context, owner string, reference *string, remote models.DepositEndpoint) (uuid.UUID, error) {
	if owner == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidArgument, "owner is required")
	}
	if remote.EndpointURL == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidArgument, "endpoint url is required")
	}
	remoteKey, err := hdkey.ImportPublic(remote.PublicKey)
	if err != nil {
		return uuid.Nil, err
	}

	e := &models.ExternalEndpoint{
		ID:          uuid.New(),
		Owner:       owner,
		PublicKey:   remoteKey.Export(),
		EndpointURL: remote.EndpointURL,
		Version:     remote.Version,
		Reference:   reference,
	}
	err = r.tx.RunInTx(ctx, func(st storage.Store) error {
		owned, err := wallet.ResolveOwnedSections(ctx, st, owner)
		if err != nil {
			return err
		}
		for _, sec := range owned {
			if isSameKey(sec.PublicKey, remoteKey) {
				return ErrSelfReference
			}
		}
		if err := st.CreateExternalEndpoint(ctx, e); err != nil {
			if errors.Is(err, storage.ErrConflict) {
				return dErrors.Wrap(err, dErrors.CodeConflict, "receiver deposit endpoint with this reference already exists")
			}
			return storage.DomainError(err, "receiver deposit endpoint")
		}
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}

	r.logger.InfoContext(ctx, "receiver deposit endpoint created",
		"receiver_id", e.ID,
		"remote_key", remoteKey.Fingerprint(),
		"has_reference", reference != nil,
	)
	return e.ID, nil
}

// ListReceiverEndpoints returns the receiver endpoints owned by owner in
// registration order.
func (r *Registry) ListReceiverEndpoints(ctx context.Context, owner string) ([]*models.ExternalEndpoint, error) {
	var out []*models.ExternalEndpoint
	err := r.tx.View(ctx, func(st storage.Store) error {
		var err error
		out, err = st.FindExternalEndpointsByOwner(ctx, owner)
		return storage.DomainError(err, "receiver deposit endpoint")
	})
	return out, err
}

func isSameKey(stored []byte, key *hdkey.PublicKey) bool {
	other, err := hdkey.ImportPublic(stored)
	if err != nil {
		return false
	}
	return other.Equal(key)
}
