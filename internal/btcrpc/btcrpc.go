// Package btcrpc defines BitcoinRpc (spec.md §1): the abstract block
// header retrieval, Merkle proof, and chain-tip capability ToBtc/FromBtc
// depend on, plus an in-memory fake for tests.
package btcrpc

import (
	"context"
	"errors"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/atomicbridge/swapserver/internal/merkle"
)

// ErrBlockNotFound is returned when a requested block height is unknown.
var ErrBlockNotFound = errors.New("btcrpc: block not found")

// Block is the minimal shape BitcoinRpc needs to produce a Merkle proof
// and report confirmations (spec.md §4.2, §4.7).
type Block struct {
	Height int
	TxIDs  []chainhash.Hash
}

// UTXO is one spendable output in the intermediary's wallet, consumed by
// ToBtc's coin selection (spec.md §4.5).
type UTXO struct {
	TxID         chainhash.Hash
	Vout         uint32
	AmountSats   int64
	PkScript     []byte
	Confirmations int
	KeyIndex     uint32 // HD index whose derived key can sign this output
}

// BitcoinRpc is the abstract capability ToBtc/FromBtc depend on (spec.md
// §1): chain tip, block/transaction lookup, Merkle proof construction,
// UTXO listing, and raw transaction broadcast.
type BitcoinRpc interface {
	ChainTipHeight(ctx context.Context) (int, error)

	// GetTransactionMerkle returns the Merkle inclusion proof for txid,
	// searching confirmed blocks from the chain tip down to minHeight.
	GetTransactionMerkle(ctx context.Context, txid chainhash.Hash, minHeight int) (*merkle.Proof, error)

	// GetTransactionConfirmations returns how many confirmations txid
	// has, 0 if unconfirmed, and ErrBlockNotFound if never seen.
	GetTransactionConfirmations(ctx context.Context, txid chainhash.Hash) (int, error)

	// ListUnspent returns the wallet's current UTXO set for coin
	// selection (spec.md §4.5).
	ListUnspent(ctx context.Context) ([]UTXO, error)

	// BroadcastTransaction submits a raw signed transaction, returning
	// its txid.
	BroadcastTransaction(ctx context.Context, rawTx []byte) (chainhash.Hash, error)

	// EstimateFeeRate returns the sat/vByte fee estimate for a given
	// confirmation target (spec.md §4.5 preferedConfirmationTarget).
	EstimateFeeRate(ctx context.Context, confTarget int) (int64, error)
}

// InMemoryRpc is a deterministic fake BitcoinRpc for tests: blocks,
// confirmations, and the UTXO set are all configured directly by the
// caller rather than fetched from a real node.
type InMemoryRpc struct {
	mu            sync.Mutex
	tip           int
	blocks        map[int]Block
	confirmations map[chainhash.Hash]int
	utxos         []UTXO
	broadcast     []chainhash.Hash
	feeRate       int64
}

// NewInMemoryRpc builds an empty fake at the given chain tip.
func NewInMemoryRpc(tip int) *InMemoryRpc {
	return &InMemoryRpc{
		tip:           tip,
		blocks:        make(map[int]Block),
		confirmations: make(map[chainhash.Hash]int),
		feeRate:       10,
	}
}

func (r *InMemoryRpc) ChainTipHeight(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tip, nil
}

// AddBlock registers a block's transaction list for Merkle lookups and
// tracks the tip height.
func (r *InMemoryRpc) AddBlock(b Block) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blocks[b.Height] = b
	if b.Height > r.tip {
		r.tip = b.Height
	}
}

func (r *InMemoryRpc) GetTransactionMerkle(ctx context.Context, txid chainhash.Hash, minHeight int) (*merkle.Proof, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for h := r.tip; h >= minHeight; h-- {
		block, ok := r.blocks[h]
		if !ok {
			continue
		}
		proof, err := merkle.GetTransactionMerkle(txid, block.TxIDs, h)
		if err == nil {
			return proof, nil
		}
	}
	return nil, merkle.ErrTxNotInBlock
}

// SetConfirmations configures the confirmation count GetTransactionConfirmations
// reports for txid.
func (r *InMemoryRpc) SetConfirmations(txid chainhash.Hash, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.confirmations[txid] = n
}

func (r *InMemoryRpc) GetTransactionConfirmations(ctx context.Context, txid chainhash.Hash) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.confirmations[txid]
	if !ok {
		return 0, ErrBlockNotFound
	}
	return n, nil
}

// SetUTXOs replaces the fake wallet's spendable set.
func (r *InMemoryRpc) SetUTXOs(utxos []UTXO) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.utxos = utxos
}

func (r *InMemoryRpc) ListUnspent(ctx context.Context) ([]UTXO, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]UTXO, len(r.utxos))
	copy(out, r.utxos)
	return out, nil
}

func (r *InMemoryRpc) BroadcastTransaction(ctx context.Context, rawTx []byte) (chainhash.Hash, error) {
	h := chainhash.DoubleHashH(rawTx)
	r.mu.Lock()
	r.broadcast = append(r.broadcast, h)
	r.mu.Unlock()
	return h, nil
}

// SetFeeRate configures what EstimateFeeRate returns.
func (r *InMemoryRpc) SetFeeRate(satsPerVbyte int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.feeRate = satsPerVbyte
}

func (r *InMemoryRpc) EstimateFeeRate(ctx context.Context, confTarget int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.feeRate, nil
}
