// Package chainref provides a reference SwapContract adapter (spec.md §1,
// §9) for a single EVM-style smart chain: an intermediary signing key
// derived from the operator's mnemonic, ECDSA claim-init/refund
// authorization signing, and an in-memory committed-state ledger that
// stands in for a real chain RPC client while still exercising the full
// SwapContract surface the handlers depend on.
package chainref

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/atomicbridge/swapserver/internal/config"
	"github.com/atomicbridge/swapserver/internal/wallet"
)

// KeyService derives the intermediary's EVM signing key on demand from the
// mnemonic file, adapted from the Bitcoin key derivation service to the
// BIP-44 EVM path m/44'/60'/0'/0/N (grounded on internal/tx/key_service.go).
type KeyService struct {
	mnemonicFilePath string
}

// NewKeyService creates an EVM key derivation service.
func NewKeyService(mnemonicFilePath string) *KeyService {
	slog.Info("chainref key service created", "mnemonicFileConfigured", mnemonicFilePath != "")
	return &KeyService{mnemonicFilePath: mnemonicFilePath}
}

// DerivePrivateKey derives the ECDSA private key and address at the given
// BIP-44 index: m/44'/60'/0'/0/index.
func (ks *KeyService) DerivePrivateKey(ctx context.Context, index uint32) (*ecdsa.PrivateKey, common.Address, error) {
	if ks.mnemonicFilePath == "" {
		return nil, common.Address{}, config.ErrMnemonicFileNotSet
	}
	if err := ctx.Err(); err != nil {
		return nil, common.Address{}, fmt.Errorf("context cancelled before key derivation: %w", err)
	}

	mnemonic, err := wallet.ReadMnemonicFromFile(ks.mnemonicFilePath)
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("read mnemonic: %w", err)
	}
	seed, err := wallet.MnemonicToSeed(mnemonic)
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("mnemonic to seed: %w", err)
	}
	masterKey, err := hdkeychain.NewMaster(seed, wallet.NetworkParams("mainnet"))
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("derive master key: %w", err)
	}

	privKey, addr, err := derivePrivKeyAtIndex(masterKey, index)
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("%w: EVM index %d: %s", config.ErrKeyDerivation, index, err)
	}

	slog.Debug("EVM private key derived", "index", index, "address", addr.Hex())
	return privKey, addr, nil
}

func derivePrivKeyAtIndex(masterKey *hdkeychain.ExtendedKey, index uint32) (*ecdsa.PrivateKey, common.Address, error) {
	purpose, err := masterKey.Derive(hdkeychain.HardenedKeyStart + uint32(config.BIP44Purpose))
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("derive purpose key: %w", err)
	}
	coin, err := purpose.Derive(hdkeychain.HardenedKeyStart + uint32(config.EVMCoinType))
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("derive coin key: %w", err)
	}
	account, err := coin.Derive(hdkeychain.HardenedKeyStart + 0)
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("derive account key: %w", err)
	}
	change, err := account.Derive(0)
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("derive change key: %w", err)
	}
	child, err := change.Derive(index)
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("derive child key at index %d: %w", index, err)
	}
	privKey, err := child.ECPrivKey()
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("extract private key at index %d: %w", index, err)
	}

	ecdsaKey := privKey.ToECDSA()
	addr := crypto.PubkeyToAddress(ecdsaKey.PublicKey)
	return ecdsaKey, addr, nil
}
