// Package ledger records registries, certificates and the append-only slice
// set, and answers the owner-scoped holdings query.
package ledger

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"math"

	"github.com/google/uuid"

	"github.com/olehkaliuzhnyi/certwallet/internal/storage"
	dErrors "github.com/olehkaliuzhnyi/certwallet/pkg/domainerrors"
	"github.com/olehkaliuzhnyi/certwallet/pkg/models"
)

// Ledger runs each ledger operation in its own transaction.
type Ledger struct {
	tx     storage.Tx
	logger *slog.Logger
}

type Option func(*Ledger)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func New(tx storage.Tx, opts ...Option) *Ledger {
	l := &Ledger{
		tx:     tx,
		logger: slog.Default().With("component", "ledger"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// InsertRegistry stores r. An exact duplicate is a no-op; the same id with
// a different payload is a Conflict.
func (l *Ledger) InsertRegistry(ctx context.Context, r *models.Registry) error {
	return l.write(ctx, func(st storage.Store) error {
		return ApplyRegistry(ctx, st, r)
	})
}

// InsertCertificate stores c with the same idempotency as InsertRegistry.
func (l *Ledger) InsertCertificate(ctx context.Context, c *models.Certificate) error {
	return l.write(ctx, func(st storage.Store) error {
		return ApplyCertificate(ctx, st, c)
	})
}

// InsertSlice appends sl to the ledger. Redelivering an identical slice is
// a no-op.
func (l *Ledger) InsertSlice(ctx context.Context, sl *models.Slice) error {
	err := l.write(ctx, func(st storage.Store) error {
		return ApplySlice(ctx, st, sl)
	})
	if err != nil {
		return err
	}
	l.logger.DebugContext(ctx, "slice recorded",
		"slice_id", sl.ID,
		"certificate_id", sl.CertificateID,
		"quantity", sl.Quantity,
	)
	return nil
}

// QueryGranularCertificates totals, per certificate, the slices held by
// owner's sections. Slices of other owners are never included, even on a
// certificate owner partially holds. The result is read from one snapshot.
func (l *Ledger) QueryGranularCertificates(ctx context.Context, owner string) ([]models.GranularCertificate, error) {
	var out []models.GranularCertificate
	err := l.tx.View(ctx, func(st storage.Store) error {
		var err error
		out, err = st.SumOwnedSlices(ctx, owner)
		return storage.DomainError(err, "granular certificate")
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []models.GranularCertificate{}
	}
	return out, nil
}

// write retries once when a concurrent writer inserted the same id first:
// the second attempt sees the row and compares payloads.
func (l *Ledger) write(ctx context.Context, fn func(storage.Store) error) error {
	return storage.RetryOnConflict(func() error {
		return l.tx.RunInTx(ctx, fn)
	})
}

// ApplyRegistry is InsertRegistry within the caller's transaction.
func ApplyRegistry(ctx context.Context, st storage.Store, r *models.Registry) error {
	if r.ID == uuid.Nil {
		return dErrors.New(dErrors.CodeInvalidArgument, "registry id is required")
	}
	existing, err := st.FindRegistry(ctx, r.ID)
	switch {
	case err == nil:
		if *existing != *r {
			return dErrors.Newf(dErrors.CodeConflict, "registry %s already exists with a different payload", r.ID)
		}
		return nil
	case !errors.Is(err, storage.ErrNotFound):
		return storage.DomainError(err, "registry")
	}
	return storage.DomainError(st.InsertRegistry(ctx, r), "registry")
}

// ApplyCertificate is InsertCertificate within the caller's transaction.
func ApplyCertificate(ctx context.Context, st storage.Store, c *models.Certificate) error {
	if c.ID == uuid.Nil {
		return dErrors.New(dErrors.CodeInvalidArgument, "certificate id is required")
	}
	existing, err := st.FindCertificate(ctx, c.ID)
	switch {
	case err == nil:
		if *existing != *c {
			return dErrors.Newf(dErrors.CodeConflict, "certificate %s already exists with a different payload", c.ID)
		}
		return nil
	case !errors.Is(err, storage.ErrNotFound):
		return storage.DomainError(err, "certificate")
	}

	if err := mustExist(ctx, st.FindRegistry, c.RegistryID, "registry"); err != nil {
		return err
	}
	return storage.DomainError(st.InsertCertificate(ctx, c), "certificate")
}

// ApplySlice is InsertSlice within the caller's transaction.
func ApplySlice(ctx context.Context, st storage.Store, sl *models.Slice) error {
	if sl.ID == uuid.Nil {
		return dErrors.New(dErrors.CodeInvalidArgument, "slice id is required")
	}
	if sl.Quantity < 0 {
		return dErrors.Newf(dErrors.CodeInvalidArgument, "slice quantity must not be negative, got %d", sl.Quantity)
	}

	existing, err := st.FindSlice(ctx, sl.ID)
	switch {
	case err == nil:
		if !sameSlice(existing, sl) {
			return dErrors.Newf(dErrors.CodeConflict, "slice %s already exists with a different payload", sl.ID)
		}
		return nil
	case !errors.Is(err, storage.ErrNotFound):
		return storage.DomainError(err, "slice")
	}

	sec, err := st.FindSection(ctx, sl.WalletSectionID)
	if err != nil {
		return missingReference(err, "wallet section", sl.WalletSectionID)
	}
	if err := mustExist(ctx, st.FindRegistry, sl.RegistryID, "registry"); err != nil {
		return err
	}
	cert, err := st.FindCertificate(ctx, sl.CertificateID)
	if err != nil {
		return missingReference(err, "certificate", sl.CertificateID)
	}
	if cert.RegistryID != sl.RegistryID {
		return dErrors.Newf(dErrors.CodeInvalidArgument,
			"certificate %s belongs to registry %s, not %s", cert.ID, cert.RegistryID, sl.RegistryID)
	}
	if err := checkOwnedTotal(ctx, st, sec, sl); err != nil {
		return err
	}

	rec := *sl
	if rec.Commitment == nil {
		rec.Commitment = []byte{}
	}
	return storage.DomainError(st.InsertSlice(ctx, &rec), "slice")
}

// checkOwnedTotal rejects sl if the holder's total on its certificate would
// no longer fit in int64.
func checkOwnedTotal(ctx context.Context, st storage.Store, sec *models.WalletSection, sl *models.Slice) error {
	w, err := st.FindWalletByID(ctx, sec.WalletID)
	if err != nil {
		return storage.DomainError(err, "wallet")
	}
	total, err := st.SumOwnedCertificate(ctx, w.Owner, sl.CertificateID)
	if err != nil {
		return storage.DomainError(err, "granular certificate")
	}
	if sl.Quantity > math.MaxInt64-total {
		return dErrors.Newf(dErrors.CodeInvalidArgument,
			"slice quantity %d overflows the holder's total on certificate %s", sl.Quantity, sl.CertificateID)
	}
	return nil
}

func mustExist[T any](ctx context.Context, find func(context.Context, uuid.UUID) (T, error), id uuid.UUID, entity string) error {
	if _, err := find(ctx, id); err != nil {
		return missingReference(err, entity, id)
	}
	return nil
}

// missingReference reports an absent referenced row as InvalidArgument: the
// caller supplied the dangling id.
func missingReference(err error, entity string, id uuid.UUID) error {
	if errors.Is(err, storage.ErrNotFound) {
		return dErrors.Wrap(err, dErrors.CodeInvalidArgument, entity+" "+id.String()+" does not exist")
	}
	return storage.DomainError(err, entity)
}

func sameSlice(a, b *models.Slice) bool {
	return a.WalletSectionID == b.WalletSectionID &&
		a.RegistryID == b.RegistryID &&
		a.CertificateID == b.CertificateID &&
		a.Quantity == b.Quantity &&
		bytes.Equal(a.Commitment, b.Commitment)
}
