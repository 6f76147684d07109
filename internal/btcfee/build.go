package btcfee

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// SigningInput pairs a selected UTXO with the data needed to sign its
// P2WPKH witness.
type SigningInput struct {
	TxID     chainhash.Hash
	Vout     uint32
	AmountSats int64
	PKScript []byte
	PrivKey  *btcec.PrivateKey
}

// BuildPayoutTx builds an unsigned ToBtc payout transaction: one output
// to destAddress carrying outputSats, one optional change output back to
// changeAddress, and the swap nonce encoded into nLockTime/nSequence via
// EncodeNonce on the transaction's first input (spec.md §4.5).
func BuildPayoutTx(sel *Selection, destAddress string, outputSats int64, changeAddress string, nonce uint64, netParams *chaincfg.Params) (*wire.MsgTx, error) {
	destAddr, err := btcutil.DecodeAddress(destAddress, netParams)
	if err != nil {
		return nil, fmt.Errorf("decode destination address %q: %w", destAddress, err)
	}
	destScript, err := txscript.PayToAddrScript(destAddr)
	if err != nil {
		return nil, fmt.Errorf("build destination script: %w", err)
	}

	lockTime, sequence := EncodeNonce(nonce)

	msgTx := wire.NewMsgTx(wire.TxVersion)
	msgTx.LockTime = lockTime

	for i, u := range sel.Inputs {
		hash := u.TxID
		outPoint := wire.NewOutPoint(&hash, u.Vout)
		txIn := wire.NewTxIn(outPoint, nil, nil)
		if i == 0 {
			txIn.Sequence = sequence
		} else {
			txIn.Sequence = wire.MaxTxInSequenceNum
		}
		msgTx.AddTxIn(txIn)
	}

	msgTx.AddTxOut(wire.NewTxOut(outputSats, destScript))

	if sel.ChangeSats > 0 {
		if changeAddress == "" {
			return nil, fmt.Errorf("btcfee: selection produced change but no change address was given")
		}
		changeAddr, err := btcutil.DecodeAddress(changeAddress, netParams)
		if err != nil {
			return nil, fmt.Errorf("decode change address %q: %w", changeAddress, err)
		}
		changeScript, err := txscript.PayToAddrScript(changeAddr)
		if err != nil {
			return nil, fmt.Errorf("build change script: %w", err)
		}
		msgTx.AddTxOut(wire.NewTxOut(sel.ChangeSats, changeScript))
	}

	return msgTx, nil
}

// SignPayoutTx signs every input of msgTx with P2WPKH witness data,
// using a BIP-143 sighash midstate shared across inputs. Each private
// key is zeroed immediately after it signs its input, matching the
// teacher's SignBTCTx discipline for minimizing key lifetime.
func SignPayoutTx(msgTx *wire.MsgTx, inputs []SigningInput) error {
	if len(msgTx.TxIn) != len(inputs) {
		return fmt.Errorf("btcfee: input count mismatch: tx has %d inputs, got %d signing inputs",
			len(msgTx.TxIn), len(inputs))
	}

	prevOutFetcher := txscript.NewMultiPrevOutFetcher(nil)
	for _, in := range inputs {
		op := wire.OutPoint{Hash: in.TxID, Index: in.Vout}
		prevOutFetcher.AddPrevOut(op, &wire.TxOut{Value: in.AmountSats, PkScript: in.PKScript})
	}

	sigHashes := txscript.NewTxSigHashes(msgTx, prevOutFetcher)

	for i, in := range inputs {
		witness, err := txscript.WitnessSignature(
			msgTx, sigHashes, i, in.AmountSats, in.PKScript,
			txscript.SigHashAll, in.PrivKey, true,
		)
		if err != nil {
			return fmt.Errorf("sign input %d: %w", i, err)
		}
		msgTx.TxIn[i].Witness = witness
		in.PrivKey.Zero()
	}
	return nil
}

// SerializeTx serializes a signed transaction to hex for broadcast.
func SerializeTx(msgTx *wire.MsgTx) (string, error) {
	var buf bytes.Buffer
	if err := msgTx.Serialize(&buf); err != nil {
		return "", fmt.Errorf("serialize transaction: %w", err)
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

// PKScriptFromAddress reconstructs the pkScript for a BTC address, used
// when a chain-sourced UTXO listing doesn't carry scriptPubKey directly.
func PKScriptFromAddress(address string, netParams *chaincfg.Params) ([]byte, error) {
	decoded, err := btcutil.DecodeAddress(address, netParams)
	if err != nil {
		return nil, fmt.Errorf("decode address %q: %w", address, err)
	}
	return txscript.PayToAddrScript(decoded)
}
