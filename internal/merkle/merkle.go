// Package merkle builds Bitcoin block Merkle inclusion proofs for a single
// transaction, the shape a smart-chain swap contract demands before it will
// accept an on-chain BTC payment as proof for a FromBtc claim (spec.md §4.2).
package merkle

import (
	"errors"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// ErrTxNotInBlock is returned when the requested transaction id is absent
// from the supplied block's transaction list.
var ErrTxNotInBlock = errors.New("merkle: transaction not found in block")

// Proof is the result of walking a block's Merkle tree up to its root from
// one leaf (spec.md §4.2): enough for a contract to recompute the root
// on-chain and compare it against the block header it already trusts.
type Proof struct {
	ReversedTxID chainhash.Hash // little-endian txid, as Bitcoin wire-serializes it
	Pos          int
	Merkle       []chainhash.Hash
	BlockHeight  int
}

// treeWidth returns the number of nodes at tree level h (0 = leaves) for a
// tree whose leaf count is n.
func treeWidth(h, n int) int {
	return (n + (1 << uint(h)) - 1) >> uint(h)
}

// computePartialHash recursively derives the hash of the node at (height,
// pos) from the leaf txids, duplicating the last node of an odd-width row
// per Bitcoin's canonical Merkle rule.
func computePartialHash(height, pos int, txids []chainhash.Hash) chainhash.Hash {
	if height == 0 {
		return txids[pos]
	}
	left := computePartialHash(height-1, pos*2, txids)
	width := treeWidth(height-1, len(txids))
	rightPos := pos*2 + 1
	right := left
	if rightPos < width {
		right = computePartialHash(height-1, rightPos, txids)
	}
	var buf [64]byte
	copy(buf[:32], left[:])
	copy(buf[32:], right[:])
	return chainhash.DoubleHashH(buf[:])
}

// GetTransactionMerkle builds the inclusion proof for txid within
// blockTxids (block order, as broadcast), failing with ErrTxNotInBlock if
// absent (spec.md §4.2).
func GetTransactionMerkle(txid chainhash.Hash, blockTxids []chainhash.Hash, blockHeight int) (*Proof, error) {
	pos := -1
	for i, t := range blockTxids {
		if t == txid {
			pos = i
			break
		}
	}
	if pos < 0 {
		return nil, ErrTxNotInBlock
	}

	n := len(blockTxids)
	var path []chainhash.Hash
	idx := pos
	height := 0
	for treeWidth(height, n) > 1 {
		width := treeWidth(height, n)
		var siblingPos int
		switch {
		case idx%2 == 1:
			siblingPos = idx - 1
		case idx+1 < width:
			siblingPos = idx + 1
		default:
			// odd node out at this level: it is promoted unchanged,
			// no proof element contributed until width drops to 1.
			idx = idx / 2
			height++
			continue
		}
		path = append(path, computePartialHash(height, siblingPos, blockTxids))
		idx = idx / 2
		height++
	}

	reversed := txid
	for i, j := 0, len(reversed)-1; i < j; i, j = i+1, j-1 {
		reversed[i], reversed[j] = reversed[j], reversed[i]
	}

	return &Proof{
		ReversedTxID: reversed,
		Pos:          pos,
		Merkle:       path,
		BlockHeight:  blockHeight,
	}, nil
}
