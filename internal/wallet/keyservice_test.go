package wallet

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/atomicbridge/swapserver/internal/config"
)

func writeMnemonicFile(t *testing.T, mnemonic string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mnemonic.txt")
	if err := os.WriteFile(path, []byte(mnemonic), 0o600); err != nil {
		t.Fatalf("write mnemonic file: %v", err)
	}
	return path
}

func TestDeriveBTCPrivateKey_MatchesDerivedAddress(t *testing.T) {
	path := writeMnemonicFile(t, testMnemonic24)
	ks := NewKeyService(path, "mainnet")

	privKey, err := ks.DeriveBTCPrivateKey(context.Background(), 3)
	if err != nil {
		t.Fatalf("DeriveBTCPrivateKey() error = %v", err)
	}

	seed, err := MnemonicToSeed(testMnemonic24)
	if err != nil {
		t.Fatal(err)
	}
	masterKey, err := DeriveMasterKey(seed, &chaincfg.MainNetParams)
	if err != nil {
		t.Fatal(err)
	}
	wantAddr, err := DeriveBTCAddress(masterKey, 3, &chaincfg.MainNetParams)
	if err != nil {
		t.Fatal(err)
	}

	witnessProg := btcutil.Hash160(privKey.PubKey().SerializeCompressed())
	gotAddr, err := btcutil.NewAddressWitnessPubKeyHash(witnessProg, &chaincfg.MainNetParams)
	if err != nil {
		t.Fatal(err)
	}
	if gotAddr.EncodeAddress() != wantAddr {
		t.Errorf("address from derived private key = %s, want %s", gotAddr.EncodeAddress(), wantAddr)
	}
}

func TestDeriveBTCPrivateKey_Deterministic(t *testing.T) {
	path := writeMnemonicFile(t, testMnemonic24)
	ks := NewKeyService(path, "mainnet")

	k1, err := ks.DeriveBTCPrivateKey(context.Background(), 5)
	if err != nil {
		t.Fatal(err)
	}
	k2, err := ks.DeriveBTCPrivateKey(context.Background(), 5)
	if err != nil {
		t.Fatal(err)
	}
	if string(k1.Serialize()) != string(k2.Serialize()) {
		t.Error("DeriveBTCPrivateKey not deterministic")
	}
}

func TestDeriveBTCPrivateKey_MnemonicFileNotSet(t *testing.T) {
	ks := NewKeyService("", "mainnet")
	if _, err := ks.DeriveBTCPrivateKey(context.Background(), 0); err != config.ErrMnemonicFileNotSet {
		t.Errorf("err = %v, want ErrMnemonicFileNotSet", err)
	}
}
