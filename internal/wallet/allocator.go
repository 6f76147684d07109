package wallet

import (
	"context"
	"sync/atomic"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
)

// Allocator hands out monotonically increasing BIP-84 child indices and
// the addresses they derive to, serving both ToBtc's change output and
// FromBtc's per-swap receive address (spec.md §4.5, §4.7) from one
// index space so neither can ever collide with the other.
type Allocator struct {
	masterKey *hdkeychain.ExtendedKey
	net       *chaincfg.Params
	next      atomic.Uint32
}

// NewAllocator builds an Allocator seeded at startIndex, typically one
// past the highest AddressIndex/key index persisted across every swap
// record.
func NewAllocator(masterKey *hdkeychain.ExtendedKey, net *chaincfg.Params, startIndex uint32) *Allocator {
	a := &Allocator{masterKey: masterKey, net: net}
	a.next.Store(startIndex)
	return a
}

// NextAddress derives the next unused address and returns it with its
// index, satisfying frombtc's and tobtc's address-source interfaces.
func (a *Allocator) NextAddress(ctx context.Context) (string, uint32, error) {
	index := a.next.Add(1) - 1
	addr, err := DeriveBTCAddress(a.masterKey, index, a.net)
	if err != nil {
		return "", 0, err
	}
	return addr, index, nil
}

// NextChangeAddress satisfies tobtc.ChangeAddressSource.
func (a *Allocator) NextChangeAddress(ctx context.Context) (string, uint32, error) {
	return a.NextAddress(ctx)
}
