package merkle

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

func hashOf(b byte) chainhash.Hash {
	var h chainhash.Hash
	h[0] = b
	return h
}

func TestTreeWidth(t *testing.T) {
	tests := []struct {
		name string
		h, n int
		want int
	}{
		{"leaves, odd count", 0, 5, 5},
		{"level 1, odd count", 1, 5, 3},
		{"level 2, odd count", 2, 5, 2},
		{"level 3, odd count", 3, 5, 1},
		{"leaves, single tx", 0, 1, 1},
		{"leaves, power of two", 0, 8, 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := treeWidth(tt.h, tt.n); got != tt.want {
				t.Fatalf("treeWidth(%d,%d) = %d, want %d", tt.h, tt.n, got, tt.want)
			}
		})
	}
}

func TestGetTransactionMerkle_SingleTx(t *testing.T) {
	txids := []chainhash.Hash{hashOf(1)}
	proof, err := GetTransactionMerkle(txids[0], txids, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if proof.Pos != 0 {
		t.Fatalf("pos = %d, want 0", proof.Pos)
	}
	if len(proof.Merkle) != 0 {
		t.Fatalf("merkle path = %v, want empty for a single-tx block", proof.Merkle)
	}
	if proof.BlockHeight != 100 {
		t.Fatalf("blockHeight = %d, want 100", proof.BlockHeight)
	}
}

func TestGetTransactionMerkle_EvenCount(t *testing.T) {
	txids := []chainhash.Hash{hashOf(1), hashOf(2), hashOf(3), hashOf(4)}
	proof, err := GetTransactionMerkle(txids[2], txids, 200)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if proof.Pos != 2 {
		t.Fatalf("pos = %d, want 2", proof.Pos)
	}
	if len(proof.Merkle) != 2 {
		t.Fatalf("merkle path length = %d, want 2", len(proof.Merkle))
	}
}

func TestGetTransactionMerkle_OddCountDuplicatesLast(t *testing.T) {
	txids := []chainhash.Hash{hashOf(1), hashOf(2), hashOf(3)}
	proof, err := GetTransactionMerkle(txids[2], txids, 300)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// level 0 width is 3 (odd); tx at index 2 has no right sibling, so it
	// is promoted without a proof element and the path holds only its
	// level-1 sibling.
	if len(proof.Merkle) == 0 {
		t.Fatalf("expected a non-empty merkle path for a 3-tx block")
	}
}

func TestGetTransactionMerkle_NotInBlock(t *testing.T) {
	txids := []chainhash.Hash{hashOf(1), hashOf(2)}
	_, err := GetTransactionMerkle(hashOf(99), txids, 1)
	if err != ErrTxNotInBlock {
		t.Fatalf("err = %v, want ErrTxNotInBlock", err)
	}
}

func TestGetTransactionMerkle_ReversedTxID(t *testing.T) {
	txid := hashOf(0xAB)
	txids := []chainhash.Hash{txid}
	proof, err := GetTransactionMerkle(txid, txids, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if proof.ReversedTxID[31] != 0xAB {
		t.Fatalf("reversed txid last byte = %x, want ab", proof.ReversedTxID[31])
	}
}
