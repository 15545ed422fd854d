package hdkey

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/tyler-smith/go-bip32"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // BIP-32 fingerprints are defined over Hash160

	dErrors "github.com/olehkaliuzhnyi/certwallet/pkg/domainerrors"
)

// KeyLength is the size of an exported extended key: the 78-byte BIP-32
// serialization followed by a 4-byte double-SHA256 checksum. Private and
// public keys carry different version prefixes (xprv / xpub).
const KeyLength = 82

// Export returns the fixed-width serialization of k.
func (k *PrivateKey) Export() []byte {
	return mustSerialize(k.key)
}

// Export returns the fixed-width serialization of k.
func (k *PublicKey) Export() []byte {
	return mustSerialize(k.key)
}

// Equal reports whether both keys serialize identically.
func (k *PublicKey) Equal(other *PublicKey) bool {
	if k == nil || other == nil {
		return k == other
	}
	return bytes.Equal(k.Export(), other.Export())
}

// Fingerprint identifies k in logs without revealing it: the first four
// bytes of Hash160 over the compressed point, hex encoded.
func (k *PublicKey) Fingerprint() string {
	sha := sha256.Sum256(k.key.Key)
	h := ripemd160.New()
	h.Write(sha[:])
	return hex.EncodeToString(h.Sum(nil)[:4])
}

// ImportPrivate parses an exported private extended key.
func ImportPrivate(data []byte) (*PrivateKey, error) {
	key, err := deserialize(data)
	if err != nil {
		return nil, err
	}
	if !key.IsPrivate || !bytes.Equal(key.Version, bip32.PrivateWalletVersion) {
		return nil, dErrors.New(dErrors.CodeInvalidKeyMaterial, "not a private extended key")
	}
	var scalar btcec.ModNScalar
	if overflow := scalar.SetByteSlice(key.Key); overflow || scalar.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvalidKeyMaterial, "private scalar out of range")
	}
	return &PrivateKey{key: key}, nil
}

// ImportPublic parses an exported public extended key.
func ImportPublic(data []byte) (*PublicKey, error) {
	key, err := deserialize(data)
	if err != nil {
		return nil, err
	}
	if key.IsPrivate || !bytes.Equal(key.Version, bip32.PublicWalletVersion) {
		return nil, dErrors.New(dErrors.CodeInvalidKeyMaterial, "not a public extended key")
	}
	if _, err := btcec.ParsePubKey(key.Key); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidKeyMaterial, "invalid curve point")
	}
	return &PublicKey{key: key}, nil
}

// EncodeText renders an exported key as base58 for text transports.
func EncodeText(exported []byte) string {
	return base58.Encode(exported)
}

// DecodeText reverses EncodeText. The result still has to be imported.
func DecodeText(text string) ([]byte, error) {
	data := base58.Decode(text)
	if len(data) != KeyLength {
		return nil, dErrors.New(dErrors.CodeInvalidKeyMaterial, "malformed extended key text")
	}
	return data, nil
}

func deserialize(data []byte) (*bip32.Key, error) {
	if len(data) != KeyLength {
		return nil, dErrors.Newf(dErrors.CodeInvalidKeyMaterial, "extended key must be %d bytes, got %d", KeyLength, len(data))
	}
	// bip32.Deserialize aliases its input.
	key, err := bip32.Deserialize(bytes.Clone(data))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidKeyMaterial, "malformed extended key")
	}
	return key, nil
}

func mustSerialize(key *bip32.Key) []byte {
	data, err := key.Serialize()
	if err != nil {
		// Serialize only fails when writing to a hash does, which it never does.
		panic("hdkey: serialize extended key: " + err.Error())
	}
	return data
}
