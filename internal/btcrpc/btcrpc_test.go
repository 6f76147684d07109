package btcrpc

import (
	"context"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

func hashOf(b byte) chainhash.Hash {
	var h chainhash.Hash
	h[0] = b
	return h
}

func TestGetTransactionMerkle_FindsBlock(t *testing.T) {
	r := NewInMemoryRpc(0)
	txids := []chainhash.Hash{hashOf(1), hashOf(2), hashOf(3)}
	r.AddBlock(Block{Height: 100, TxIDs: txids})

	proof, err := r.GetTransactionMerkle(context.Background(), txids[1], 50)
	if err != nil {
		t.Fatalf("GetTransactionMerkle() error = %v", err)
	}
	if proof.BlockHeight != 100 || proof.Pos != 1 {
		t.Errorf("proof = %+v, want height 100 pos 1", proof)
	}
}

func TestGetTransactionMerkle_NotFound(t *testing.T) {
	r := NewInMemoryRpc(0)
	r.AddBlock(Block{Height: 100, TxIDs: []chainhash.Hash{hashOf(1)}})

	if _, err := r.GetTransactionMerkle(context.Background(), hashOf(99), 0); err == nil {
		t.Fatal("expected error for unknown txid")
	}
}

func TestListUnspent_ReturnsCopy(t *testing.T) {
	r := NewInMemoryRpc(0)
	r.SetUTXOs([]UTXO{{AmountSats: 1000}, {AmountSats: 2000}})

	utxos, err := r.ListUnspent(context.Background())
	if err != nil {
		t.Fatalf("ListUnspent() error = %v", err)
	}
	if len(utxos) != 2 {
		t.Fatalf("len(utxos) = %d, want 2", len(utxos))
	}
	utxos[0].AmountSats = 999999
	fresh, _ := r.ListUnspent(context.Background())
	if fresh[0].AmountSats != 1000 {
		t.Error("ListUnspent should return a defensive copy")
	}
}

func TestBroadcastTransaction_Deterministic(t *testing.T) {
	r := NewInMemoryRpc(0)
	tx := []byte{0x01, 0x02, 0x03}
	h1, err := r.BroadcastTransaction(context.Background(), tx)
	if err != nil {
		t.Fatalf("BroadcastTransaction() error = %v", err)
	}
	h2, _ := r.BroadcastTransaction(context.Background(), tx)
	if h1 != h2 {
		t.Error("expected identical txid for identical raw tx")
	}
}

func TestGetTransactionConfirmations_Unknown(t *testing.T) {
	r := NewInMemoryRpc(0)
	if _, err := r.GetTransactionConfirmations(context.Background(), hashOf(1)); err != ErrBlockNotFound {
		t.Fatalf("err = %v, want ErrBlockNotFound", err)
	}
}
