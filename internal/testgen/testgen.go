// Package testgen builds deterministic test fixtures. Every generator draws
// from a seeded source so failures reproduce with the same seed.
package testgen

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/google/uuid"
	"github.com/tyler-smith/go-bip39"

	"github.com/olehkaliuzhnyi/certwallet/internal/hdkey"
)

// Mnemonics used across packages so that fixtures stay recognisable.
const (
	MnemonicA = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	MnemonicB = "zoo zoo zoo zoo zoo zoo zoo zoo zoo zoo zoo wrong"
)

// Gen is a seeded fixture generator. It is not safe for concurrent use.
type Gen struct {
	r *rand.Rand
}

// New returns a generator seeded with seed.
func New(seed uint64) *Gen {
	return &Gen{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Master returns a valid master key built from generated entropy.
func (g *Gen) Master(t testing.TB) *hdkey.PrivateKey {
	t.Helper()
	entropy := g.Bytes(32)
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		t.Fatalf("mnemonic: %v", err)
	}
	key, err := hdkey.MasterFromMnemonic(mnemonic, "")
	if err != nil {
		t.Fatalf("master key: %v", err)
	}
	return key
}

// Position returns a non-hardened derivation position.
func (g *Gen) Position() uint32 {
	return g.r.Uint32N(hdkey.MaxPosition + 1)
}

// Quantity returns a non-negative quantity below max.
func (g *Gen) Quantity(max int64) int64 {
	return g.r.Int64N(max)
}

// Owner returns a caller identity distinct from every earlier call on g.
func (g *Gen) Owner() string {
	return fmt.Sprintf("owner-%016x", g.r.Uint64())
}

// Bytes returns n generated bytes.
func (g *Gen) Bytes(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(g.r.UintN(256))
	}
	return b
}

// UUID returns a generated v4-shaped identifier.
func (g *Gen) UUID() uuid.UUID {
	id, err := uuid.FromBytes(g.Bytes(16))
	if err != nil {
		panic(err)
	}
	id[6] = (id[6] & 0x0f) | 0x40
	id[8] = (id[8] & 0x3f) | 0x80
	return id
}

// Master returns the master key of a fixed mnemonic.
func Master(t testing.TB, mnemonic string) *hdkey.PrivateKey {
	t.Helper()
	key, err := hdkey.MasterFromMnemonic(mnemonic, "")
	if err != nil {
		t.Fatalf("master key: %v", err)
	}
	return key
}
