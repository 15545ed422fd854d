package hdkey_test

import (
	"bytes"
	"testing"

	"github.com/olehkaliuzhnyi/certwallet/internal/hdkey"
	"github.com/olehkaliuzhnyi/certwallet/internal/testgen"
	dErrors "github.com/olehkaliuzhnyi/certwallet/pkg/domainerrors"
)

func TestDerive_Deterministic(t *testing.T) {
	g := testgen.New(1)
	for i := 0; i < 20; i++ {
		master := g.Master(t)
		pos := g.Position()

		a, err := hdkey.Derive(master, pos)
		if err != nil {
			t.Fatal(err)
		}
		b, err := hdkey.Derive(master, pos)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(a.Export(), b.Export()) {
			t.Fatalf("position %d derived two different keys", pos)
		}
	}
}

func TestDerive_PublicEquivalence(t *testing.T) {
	g := testgen.New(2)
	for i := 0; i < 20; i++ {
		master := g.Master(t)
		pos := g.Position()

		child, err := hdkey.Derive(master, pos)
		if err != nil {
			t.Fatal(err)
		}
		viaPrivate := hdkey.Neuter(child)

		viaPublic, err := hdkey.DerivePublic(hdkey.Neuter(master), pos)
		if err != nil {
			t.Fatal(err)
		}
		if !viaPrivate.Equal(viaPublic) {
			t.Fatalf("position %d: neuter(derive) != derivePublic(neuter)", pos)
		}
	}
}

func TestDerive_PublicEquivalenceAtDepth(t *testing.T) {
	master := testgen.Master(t, testgen.MnemonicA)

	section, err := master.Derive(7)
	if err != nil {
		t.Fatal(err)
	}
	grandchild, err := section.Derive(42)
	if err != nil {
		t.Fatal(err)
	}

	pub, err := section.Neuter().Derive(42)
	if err != nil {
		t.Fatal(err)
	}
	if !grandchild.Neuter().Equal(pub) {
		t.Error("published section key derives a different child than its private counterpart")
	}
}

func TestDerive_DifferentPositions(t *testing.T) {
	master := testgen.Master(t, testgen.MnemonicA)
	seen := make(map[string]uint32)
	for pos := uint32(0); pos < 50; pos++ {
		child, err := hdkey.Derive(master, pos)
		if err != nil {
			t.Fatal(err)
		}
		k := string(child.Neuter().Export())
		if prev, ok := seen[k]; ok {
			t.Fatalf("positions %d and %d derived the same key", prev, pos)
		}
		seen[k] = pos
	}
}

func TestDerive_DifferentMasters(t *testing.T) {
	a, err := hdkey.Derive(testgen.Master(t, testgen.MnemonicA), 0)
	if err != nil {
		t.Fatal(err)
	}
	b, err := hdkey.Derive(testgen.Master(t, testgen.MnemonicB), 0)
	if err != nil {
		t.Fatal(err)
	}
	if a.Neuter().Equal(b.Neuter()) {
		t.Error("different masters derived the same key")
	}
}

func TestDerive_HardenedRejected(t *testing.T) {
	master := testgen.Master(t, testgen.MnemonicA)

	if _, err := hdkey.Derive(master, hdkey.MaxPosition+1); !dErrors.HasCode(err, dErrors.CodeInvalidArgument) {
		t.Errorf("Derive hardened: want invalid_argument, got %v", err)
	}
	if _, err := hdkey.DerivePublic(master.Neuter(), hdkey.MaxPosition+1); !dErrors.HasCode(err, dErrors.CodeInvalidArgument) {
		t.Errorf("DerivePublic hardened: want invalid_argument, got %v", err)
	}
	if _, err := hdkey.Derive(master, hdkey.MaxPosition); err != nil {
		t.Errorf("Derive at MaxPosition: %v", err)
	}
}

func TestDerive_NilKey(t *testing.T) {
	if _, err := hdkey.Derive(nil, 1); !dErrors.HasCode(err, dErrors.CodeInvalidKeyMaterial) {
		t.Errorf("want invalid_key_material, got %v", err)
	}
	if _, err := hdkey.DerivePublic(nil, 1); !dErrors.HasCode(err, dErrors.CodeInvalidKeyMaterial) {
		t.Errorf("want invalid_key_material, got %v", err)
	}
}

func TestGenerateMaster_Unique(t *testing.T) {
	a, err := hdkey.GenerateMaster()
	if err != nil {
		t.Fatal(err)
	}
	b, err := hdkey.GenerateMaster()
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(a.Export(), b.Export()) {
		t.Error("two generated masters are identical")
	}
}

func TestMasterFromMnemonic_Invalid(t *testing.T) {
	_, err := hdkey.MasterFromMnemonic("abandon abandon", "")
	if !dErrors.HasCode(err, dErrors.CodeInvalidArgument) {
		t.Errorf("want invalid_argument, got %v", err)
	}
}
