package models

import "github.com/google/uuid"

// Wallet is the custodial key tree of one owner identity.
// MasterKey holds the exported private extended key; it never leaves the
// wallet boundary.
type Wallet struct {
	ID        uuid.UUID `json:"id"`
	Owner     string    `json:"owner"`
	MasterKey []byte    `json:"-"`
}

// WalletSection is one derived receiving slot of a wallet.
// PublicKey is the exported public extended key derived at Position.
type WalletSection struct {
	ID        uuid.UUID `json:"id"`
	WalletID  uuid.UUID `json:"wallet_id"`
	Position  uint32    `json:"position"`
	PublicKey []byte    `json:"public_key"`
}

// Registry is an external certificate-issuing authority.
type Registry struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// Certificate is an external certificate identity. Ownership of it is the
// sum of its slices.
type Certificate struct {
	ID         uuid.UUID `json:"id"`
	RegistryID uuid.UUID `json:"registry_id"`
}

// Slice is an immutable quantity fragment of a certificate attributed to
// one wallet section.
type Slice struct {
	ID              uuid.UUID `json:"id"`
	WalletSectionID uuid.UUID `json:"wallet_section_id"`
	RegistryID      uuid.UUID `json:"registry_id"`
	CertificateID   uuid.UUID `json:"certificate_id"`
	Quantity        int64     `json:"quantity"`
	Commitment      []byte    `json:"commitment"`
}

// ExternalEndpoint is a pointer, owned by Owner, to a counterparty's
// deposit endpoint. A nil Reference is never deduplicated.
type ExternalEndpoint struct {
	ID          uuid.UUID `json:"id"`
	Owner       string    `json:"owner"`
	PublicKey   []byte    `json:"public_key"`
	EndpointURL string    `json:"endpoint_url"`
	Version     int32     `json:"version"`
	Reference   *string   `json:"reference,omitempty"`
}

// DepositEndpoint is the payload a wallet publishes so that others can
// register it as a receiver.
type DepositEndpoint struct {
	EndpointURL string `json:"endpoint_url"`
	PublicKey   []byte `json:"public_key"`
	Version     int32  `json:"version"`
}

// GranularCertificate is the caller-visible aggregate of owned slices.
type GranularCertificate struct {
	CertificateID uuid.UUID `json:"certificate_id"`
	RegistryID    uuid.UUID `json:"registry_id"`
	Quantity      int64     `json:"quantity"`
}
