package config

import "errors"

// Sentinel errors for internal use, wrapped into business error codes at
// the HTTP boundary (spec.md §7).
var (
	ErrInvalidConfig      = errors.New("invalid config")
	ErrChainNotFound      = errors.New("chain not found")
	ErrTokenNotFound      = errors.New("token not found")
	ErrPriceFetchFailed   = errors.New("price fetch failed")
	ErrInvalidMnemonic    = errors.New("invalid mnemonic")
	ErrMnemonicFileNotSet = errors.New("mnemonic file path not configured")
	ErrKeyDerivation      = errors.New("key derivation failed")
	ErrInsufficientUTXO   = errors.New("insufficient UTXO value to cover fee")
	ErrTxTooLarge         = errors.New("transaction exceeds maximum weight")
	ErrDustOutput         = errors.New("output below dust threshold")
	ErrTxNotInBlock       = errors.New("transaction not found in block")
	ErrSwapLocked         = errors.New("swap is locked by another operation")
	ErrSwapNotFound       = errors.New("swap not found")
	ErrSwapAlreadyExists  = errors.New("swap already exists for this identity")
	ErrInvalidState       = errors.New("swap is not in a valid state for this operation")
)
