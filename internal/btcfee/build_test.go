package btcfee

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/atomicbridge/swapserver/internal/btcrpc"
)

func testSelection(amount int64, changeAddr string) *Selection {
	return &Selection{
		Inputs:     []btcrpc.UTXO{utxo(amount)},
		InputSats:  amount,
		FeeSats:    1000,
		ChangeSats: 0,
	}
}

func TestBuildPayoutTx_EncodesNonceOnFirstInput(t *testing.T) {
	sel := testSelection(100_000, "")
	destAddr := "bc1qcr8te4kr609gcawutmrza0j4xv80jy8z306fyu"

	msgTx, err := BuildPayoutTx(sel, destAddr, 99_000, "", 0xABCDEF1234, &chaincfg.MainNetParams)
	if err != nil {
		t.Fatalf("BuildPayoutTx() error = %v", err)
	}

	wantLockTime, wantSeq := EncodeNonce(0xABCDEF1234)
	if msgTx.LockTime != wantLockTime {
		t.Errorf("LockTime = %d, want %d", msgTx.LockTime, wantLockTime)
	}
	if msgTx.TxIn[0].Sequence != wantSeq {
		t.Errorf("Sequence = %#x, want %#x", msgTx.TxIn[0].Sequence, wantSeq)
	}
	if len(msgTx.TxOut) != 1 {
		t.Fatalf("len(TxOut) = %d, want 1 (no change)", len(msgTx.TxOut))
	}
	if msgTx.TxOut[0].Value != 99_000 {
		t.Errorf("TxOut[0].Value = %d, want 99000", msgTx.TxOut[0].Value)
	}
}

func TestBuildPayoutTx_WithChangeOutput(t *testing.T) {
	sel := &Selection{
		Inputs:     []btcrpc.UTXO{utxo(200_000)},
		InputSats:  200_000,
		FeeSats:    1000,
		ChangeSats: 99_000,
	}
	destAddr := "bc1qcr8te4kr609gcawutmrza0j4xv80jy8z306fyu"
	changeAddr := "bc1qcr8te4kr609gcawutmrza0j4xv80jy8z306fyu"

	msgTx, err := BuildPayoutTx(sel, destAddr, 100_000, changeAddr, 1, &chaincfg.MainNetParams)
	if err != nil {
		t.Fatalf("BuildPayoutTx() error = %v", err)
	}
	if len(msgTx.TxOut) != 2 {
		t.Fatalf("len(TxOut) = %d, want 2 (destination + change)", len(msgTx.TxOut))
	}
	if msgTx.TxOut[1].Value != 99_000 {
		t.Errorf("change output value = %d, want 99000", msgTx.TxOut[1].Value)
	}
}

func TestBuildPayoutTx_MissingChangeAddressErrors(t *testing.T) {
	sel := &Selection{
		Inputs:     []btcrpc.UTXO{utxo(200_000)},
		InputSats:  200_000,
		ChangeSats: 99_000,
	}
	destAddr := "bc1qcr8te4kr609gcawutmrza0j4xv80jy8z306fyu"
	if _, err := BuildPayoutTx(sel, destAddr, 100_000, "", 1, &chaincfg.MainNetParams); err == nil {
		t.Fatal("BuildPayoutTx() error = nil, want error for missing change address")
	}
}

func TestSignPayoutTx_ProducesWitness(t *testing.T) {
	privKey, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	witnessProg := btcutil.Hash160(privKey.PubKey().SerializeCompressed())
	addr, err := btcutil.NewAddressWitnessPubKeyHash(witnessProg, &chaincfg.MainNetParams)
	if err != nil {
		t.Fatal(err)
	}
	pkScript, err := PKScriptFromAddress(addr.EncodeAddress(), &chaincfg.MainNetParams)
	if err != nil {
		t.Fatal(err)
	}

	sel := &Selection{Inputs: []btcrpc.UTXO{utxo(100_000)}, InputSats: 100_000}
	destAddr := "bc1qcr8te4kr609gcawutmrza0j4xv80jy8z306fyu"
	msgTx, err := BuildPayoutTx(sel, destAddr, 99_000, "", 1, &chaincfg.MainNetParams)
	if err != nil {
		t.Fatal(err)
	}

	inputs := []SigningInput{{
		TxID:       sel.Inputs[0].TxID,
		Vout:       sel.Inputs[0].Vout,
		AmountSats: 100_000,
		PKScript:   pkScript,
		PrivKey:    privKey,
	}}
	if err := SignPayoutTx(msgTx, inputs); err != nil {
		t.Fatalf("SignPayoutTx() error = %v", err)
	}
	if len(msgTx.TxIn[0].Witness) == 0 {
		t.Error("expected a non-empty witness after signing")
	}

	if _, err := SerializeTx(msgTx); err != nil {
		t.Errorf("SerializeTx() error = %v", err)
	}
}
