// Package hdkey derives the wallet key tree.
//
// Keys follow BIP-32 over secp256k1. Only the non-hardened range is used so
// that a neutered parent can derive the same public children as its private
// counterpart: Neuter(Derive(k, p)) == DerivePublic(Neuter(k), p). Deposit
// endpoints rely on that equivalence.
package hdkey

import (
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"

	dErrors "github.com/olehkaliuzhnyi/certwallet/pkg/domainerrors"
)

// MaxPosition is the highest derivation position a section may use.
const MaxPosition = bip32.FirstHardenedChild - 1

// entropyBits is the mnemonic strength used for fresh master keys (24 words).
const entropyBits = 256

// PrivateKey is a private extended key.
type PrivateKey struct {
	key *bip32.Key
}

// PublicKey is a neutered extended key. It can derive public children but
// carries no signing capability.
type PublicKey struct {
	key *bip32.Key
}

// GenerateMaster returns a master key seeded from fresh random entropy.
func GenerateMaster() (*PrivateKey, error) {
	entropy, err := bip39.NewEntropy(entropyBits)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "generate entropy")
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "generate mnemonic")
	}
	return MasterFromMnemonic(mnemonic, "")
}

// MasterFromMnemonic recovers a master key from a BIP-39 mnemonic.
func MasterFromMnemonic(mnemonic, passphrase string) (*PrivateKey, error) {
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, passphrase)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidArgument, "invalid mnemonic")
	}
	master, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidKeyMaterial, "master key")
	}
	return &PrivateKey{key: master}, nil
}

// Derive returns the private child of parent at position.
func Derive(parent *PrivateKey, position uint32) (*PrivateKey, error) {
	if parent == nil || parent.key == nil {
		return nil, dErrors.New(dErrors.CodeInvalidKeyMaterial, "private key is required")
	}
	if err := checkPosition(position); err != nil {
		return nil, err
	}
	child, err := parent.key.NewChildKey(position)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidKeyMaterial, "derive private child")
	}
	return &PrivateKey{key: child}, nil
}

// Neuter strips the private scalar from key.
func Neuter(key *PrivateKey) *PublicKey {
	return &PublicKey{key: key.key.PublicKey()}
}

// DerivePublic returns the public child of parent at position without any
// private material.
func DerivePublic(parent *PublicKey, position uint32) (*PublicKey, error) {
	if parent == nil || parent.key == nil {
		return nil, dErrors.New(dErrors.CodeInvalidKeyMaterial, "public key is required")
	}
	if err := checkPosition(position); err != nil {
		return nil, err
	}
	child, err := parent.key.NewChildKey(position)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidKeyMaterial, "derive public child")
	}
	return &PublicKey{key: child}, nil
}

// Derive is shorthand for the package-level Derive.
func (k *PrivateKey) Derive(position uint32) (*PrivateKey, error) {
	return Derive(k, position)
}

// Neuter is shorthand for the package-level Neuter.
func (k *PrivateKey) Neuter() *PublicKey {
	return Neuter(k)
}

// Derive is shorthand for DerivePublic.
func (k *PublicKey) Derive(position uint32) (*PublicKey, error) {
	return DerivePublic(k, position)
}

func checkPosition(position uint32) error {
	if position > MaxPosition {
		return dErrors.Newf(dErrors.CodeInvalidArgument, "position %d is outside the non-hardened range", position)
	}
	return nil
}
