package wallet

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/atomicbridge/swapserver/internal/config"
)

// KeyService derives BTC private keys on demand from the operator's
// mnemonic file. The mnemonic is read fresh on every call to minimize
// how long the seed lives in memory.
type KeyService struct {
	mnemonicFilePath string
	network          string
}

// NewKeyService creates a BTC key derivation service. mnemonicFilePath
// is the path to the file holding the 24-word mnemonic.
func NewKeyService(mnemonicFilePath, network string) *KeyService {
	slog.Info("BTC key service created",
		"network", network,
		"mnemonicFileConfigured", mnemonicFilePath != "",
	)
	return &KeyService{mnemonicFilePath: mnemonicFilePath, network: network}
}

// DeriveBTCPrivateKey derives the BTC private key at the given address
// index (BIP-84, m/84'/coin'/0'/0/N). The caller must zero the returned
// key after use.
func (ks *KeyService) DeriveBTCPrivateKey(ctx context.Context, index uint32) (*btcec.PrivateKey, error) {
	if ks.mnemonicFilePath == "" {
		return nil, config.ErrMnemonicFileNotSet
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled before key derivation: %w", err)
	}

	masterKey, err := ks.deriveMasterKey()
	if err != nil {
		return nil, fmt.Errorf("derive master key for BTC index %d: %w", index, err)
	}

	net := NetworkParams(ks.network)
	privKey, err := deriveBTCPrivKeyAtIndex(masterKey, index, net)
	if err != nil {
		return nil, fmt.Errorf("%w: BTC index %d: %s", config.ErrKeyDerivation, index, err)
	}

	slog.Debug("BTC private key derived", "index", index)
	return privKey, nil
}

func (ks *KeyService) deriveMasterKey() (*hdkeychain.ExtendedKey, error) {
	mnemonic, err := ReadMnemonicFromFile(ks.mnemonicFilePath)
	if err != nil {
		return nil, fmt.Errorf("read mnemonic: %w", err)
	}
	seed, err := MnemonicToSeed(mnemonic)
	if err != nil {
		return nil, fmt.Errorf("mnemonic to seed: %w", err)
	}
	return DeriveMasterKey(seed, NetworkParams(ks.network))
}

// deriveBTCPrivKeyAtIndex walks m/84'/coin'/0'/0/N, mirroring
// DeriveBTCAddress's path but returning the private key instead of the
// public address.
func deriveBTCPrivKeyAtIndex(masterKey *hdkeychain.ExtendedKey, index uint32, net *chaincfg.Params) (*btcec.PrivateKey, error) {
	coinType := uint32(config.BTCCoinType)
	if net == &chaincfg.TestNet3Params {
		coinType = uint32(config.BTCTestCoinType)
	}

	purpose, err := masterKey.Derive(hdkeychain.HardenedKeyStart + uint32(config.BIP84Purpose))
	if err != nil {
		return nil, fmt.Errorf("derive purpose key: %w", err)
	}
	coin, err := purpose.Derive(hdkeychain.HardenedKeyStart + coinType)
	if err != nil {
		return nil, fmt.Errorf("derive coin key: %w", err)
	}
	account, err := coin.Derive(hdkeychain.HardenedKeyStart + 0)
	if err != nil {
		return nil, fmt.Errorf("derive account key: %w", err)
	}
	change, err := account.Derive(0)
	if err != nil {
		return nil, fmt.Errorf("derive change key: %w", err)
	}
	child, err := change.Derive(index)
	if err != nil {
		return nil, fmt.Errorf("derive child key at index %d: %w", index, err)
	}
	return child.ECPrivKey()
}
