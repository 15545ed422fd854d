package postgres

import (
	"context"
	"math"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/olehkaliuzhnyi/certwallet/internal/storage"
	"github.com/olehkaliuzhnyi/certwallet/pkg/models"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// queries implements storage.Store on top of one transaction.
type queries struct {
	q querier
}

func (s *queries) CreateWallet(ctx context.Context, w *models.Wallet) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO wallets (id, owner, master_key) VALUES ($1, $2, $3)`,
		w.ID, w.Owner, w.MasterKey)
	if err != nil {
		return translate(err, "create wallet")
	}
	return nil
}

func (s *queries) FindWalletByOwner(ctx context.Context, owner string) (*models.Wallet, error) {
	return s.findWallet(ctx, `SELECT id, owner, master_key FROM wallets WHERE owner = $1`, owner)
}

func (s *queries) FindWalletByID(ctx context.Context, id uuid.UUID) (*models.Wallet, error) {
	return s.findWallet(ctx, `SELECT id, owner, master_key FROM wallets WHERE id = $1`, id)
}

func (s *queries) findWallet(ctx context.Context, query string, arg any) (*models.Wallet, error) {
	var w models.Wallet
	if err := s.q.QueryRow(ctx, query, arg).Scan(&w.ID, &w.Owner, &w.MasterKey); err != nil {
		return nil, translate(err, "find wallet")
	}
	return &w, nil
}

// ReserveSectionPosition relies on the row lock taken by UPDATE: concurrent
// reservations for one wallet queue behind each other and each sees the
// previous increment.
func (s *queries) ReserveSectionPosition(ctx context.Context, walletID uuid.UUID) (uint32, error) {
	var pos int64
	err := s.q.QueryRow(ctx,
		`UPDATE wallets SET next_position = next_position + 1 WHERE id = $1 RETURNING next_position - 1`,
		walletID).Scan(&pos)
	if err != nil {
		return 0, translate(err, "reserve section position")
	}
	if pos < 0 || pos > math.MaxUint32 {
		return 0, translate(errPositionOverflow, "reserve section position")
	}
	return uint32(pos), nil
}

func (s *queries) CreateSection(ctx context.Context, sec *models.WalletSection) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO wallet_sections (id, wallet_id, position, public_key) VALUES ($1, $2, $3, $4)`,
		sec.ID, sec.WalletID, int64(sec.Position), sec.PublicKey)
	if err != nil {
		return translate(err, "create section")
	}
	return nil
}

func (s *queries) FindSection(ctx context.Context, id uuid.UUID) (*models.WalletSection, error) {
	var (
		sec models.WalletSection
		pos int64
	)
	err := s.q.QueryRow(ctx,
		`SELECT id, wallet_id, position, public_key FROM wallet_sections WHERE id = $1`,
		id).Scan(&sec.ID, &sec.WalletID, &pos, &sec.PublicKey)
	if err != nil {
		return nil, translate(err, "find section")
	}
	sec.Position = uint32(pos)
	return &sec, nil
}

func (s *queries) FindSectionsByOwner(ctx context.Context, owner string) ([]*models.WalletSection, error) {
	rows, err := s.q.Query(ctx, `
		SELECT ws.id, ws.wallet_id, ws.position, ws.public_key
		FROM wallet_sections ws
		JOIN wallets w ON w.id = ws.wallet_id
		WHERE w.owner = $1
		ORDER BY ws.position`, owner)
	if err != nil {
		return nil, translate(err, "find sections by owner")
	}
	defer rows.Close()

	var out []*models.WalletSection
	for rows.Next() {
		var (
			sec models.WalletSection
			pos int64
		)
		if err := rows.Scan(&sec.ID, &sec.WalletID, &pos, &sec.PublicKey); err != nil {
			return nil, translate(err, "scan section")
		}
		sec.Position = uint32(pos)
		out = append(out, &sec)
	}
	if err := rows.Err(); err != nil {
		return nil, translate(err, "find sections by owner")
	}
	return out, nil
}

func (s *queries) CreateExternalEndpoint(ctx context.Context, e *models.ExternalEndpoint) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO external_endpoints (id, owner, public_key, endpoint_url, version, reference_text)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.Owner, e.PublicKey, e.EndpointURL, e.Version, e.Reference)
	if err != nil {
		return translate(err, "create external endpoint")
	}
	return nil
}

func (s *queries) FindExternalEndpointsByOwner(ctx context.Context, owner string) ([]*models.ExternalEndpoint, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, owner, public_key, endpoint_url, version, reference_text
		FROM external_endpoints
		WHERE owner = $1
		ORDER BY created_at, id`, owner)
	if err != nil {
		return nil, translate(err, "find external endpoints")
	}
	defer rows.Close()

	var out []*models.ExternalEndpoint
	for rows.Next() {
		var e models.ExternalEndpoint
		if err := rows.Scan(&e.ID, &e.Owner, &e.PublicKey, &e.EndpointURL, &e.Version, &e.Reference); err != nil {
			return nil, translate(err, "scan external endpoint")
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, translate(err, "find external endpoints")
	}
	return out, nil
}

func (s *queries) InsertRegistry(ctx context.Context, r *models.Registry) error {
	_, err := s.q.Exec(ctx, `INSERT INTO registries (id, name) VALUES ($1, $2)`, r.ID, r.Name)
	if err != nil {
		return translate(err, "insert registry")
	}
	return nil
}

func (s *queries) FindRegistry(ctx context.Context, id uuid.UUID) (*models.Registry, error) {
	var r models.Registry
	if err := s.q.QueryRow(ctx, `SELECT id, name FROM registries WHERE id = $1`, id).Scan(&r.ID, &r.Name); err != nil {
		return nil, translate(err, "find registry")
	}
	return &r, nil
}

func (s *queries) InsertCertificate(ctx context.Context, c *models.Certificate) error {
	_, err := s.q.Exec(ctx, `INSERT INTO certificates (id, registry_id) VALUES ($1, $2)`, c.ID, c.RegistryID)
	if err != nil {
		return translate(err, "insert certificate")
	}
	return nil
}

func (s *queries) FindCertificate(ctx context.Context, id uuid.UUID) (*models.Certificate, error) {
	var c models.Certificate
	err := s.q.QueryRow(ctx, `SELECT id, registry_id FROM certificates WHERE id = $1`, id).Scan(&c.ID, &c.RegistryID)
	if err != nil {
		return nil, translate(err, "find certificate")
	}
	return &c, nil
}

func (s *queries) InsertSlice(ctx context.Context, sl *models.Slice) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO slices (id, wallet_section_id, registry_id, certificate_id, quantity, commitment)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		sl.ID, sl.WalletSectionID, sl.RegistryID, sl.CertificateID, sl.Quantity, sl.Commitment)
	if err != nil {
		return translate(err, "insert slice")
	}
	return nil
}

func (s *queries) FindSlice(ctx context.Context, id uuid.UUID) (*models.Slice, error) {
	var sl models.Slice
	err := s.q.QueryRow(ctx, `
		SELECT id, wallet_section_id, registry_id, certificate_id, quantity, commitment
		FROM slices WHERE id = $1`, id).
		Scan(&sl.ID, &sl.WalletSectionID, &sl.RegistryID, &sl.CertificateID, &sl.Quantity, &sl.Commitment)
	if err != nil {
		return nil, translate(err, "find slice")
	}
	return &sl, nil
}

// SumOwnedSlices is a single statement, so it reads one snapshot even
// outside View.
func (s *queries) SumOwnedSlices(ctx context.Context, owner string) ([]models.GranularCertificate, error) {
	rows, err := s.q.Query(ctx, `
		SELECT s.certificate_id, s.registry_id, SUM(s.quantity)::BIGINT
		FROM slices s
		JOIN wallet_sections ws ON ws.id = s.wallet_section_id
		JOIN wallets w ON w.id = ws.wallet_id
		WHERE w.owner = $1
		GROUP BY s.certificate_id, s.registry_id
		HAVING SUM(s.quantity) > 0`, owner)
	if err != nil {
		return nil, translate(err, "sum owned slices")
	}
	defer rows.Close()

	out := make([]models.GranularCertificate, 0)
	for rows.Next() {
		var gc models.GranularCertificate
		if err := rows.Scan(&gc.CertificateID, &gc.RegistryID, &gc.Quantity); err != nil {
			return nil, translate(err, "scan granular certificate")
		}
		out = append(out, gc)
	}
	if err := rows.Err(); err != nil {
		return nil, translate(err, "sum owned slices")
	}
	return out, nil
}

func (s *queries) SumOwnedCertificate(ctx context.Context, owner string, certificateID uuid.UUID) (int64, error) {
	var total int64
	err := s.q.QueryRow(ctx, `
		SELECT COALESCE(SUM(s.quantity), 0)::BIGINT
		FROM slices s
		JOIN wallet_sections ws ON ws.id = s.wallet_section_id
		JOIN wallets w ON w.id = ws.wallet_id
		WHERE w.owner = $1 AND s.certificate_id = $2`, owner, certificateID).Scan(&total)
	if err != nil {
		return 0, translate(err, "sum owned certificate")
	}
	return total, nil
}

var _ storage.Store = (*queries)(nil)
