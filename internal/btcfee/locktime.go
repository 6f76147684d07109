package btcfee

import (
	"crypto/sha256"
	"encoding/binary"
)

// sequenceDisableRelativeLocktime is BIP-68's bit 31: setting it on a
// transaction input's sequence number tells consensus to ignore that
// sequence value as a relative locktime, which this package requires
// since the upper nonce bits stored there are not a real relative
// locktime.
const sequenceDisableRelativeLocktime = uint32(1 << 31)

// EncodeNonce splits a 63-bit swap nonce across a transaction's
// nLockTime (low 32 bits) and a single input's nSequence (high 31
// bits, with BIP-68's disable-relative-locktime bit forced on) per
// spec.md §4.5's locktime trick: the nonce rides along in fields every
// Bitcoin transaction already carries, so uniqueness needs no extra
// on-chain output or OP_RETURN.
func EncodeNonce(nonce uint64) (lockTime uint32, sequence uint32) {
	lockTime = uint32(nonce)
	sequence = uint32(nonce>>32) | sequenceDisableRelativeLocktime
	return lockTime, sequence
}

// DecodeNonce reverses EncodeNonce.
func DecodeNonce(lockTime, sequence uint32) uint64 {
	high := uint64(sequence &^ sequenceDisableRelativeLocktime)
	return high<<32 | uint64(lockTime)
}

// HashForOnchain computes the payment-hash-binding digest spec.md §4.5
// requires: SHA-256(amountSats as 8-byte little-endian ∥ outputScript ∥
// nonce as 8-byte little-endian), matching the teacher's little-endian sat-amount encoding conventions
// used for wire.TxOut.Value elsewhere in the BTC transaction stack.
func HashForOnchain(amountSats int64, outputScript []byte, nonce uint64) [32]byte {
	buf := make([]byte, 8+len(outputScript)+8)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(amountSats))
	copy(buf[8:8+len(outputScript)], outputScript)
	binary.LittleEndian.PutUint64(buf[8+len(outputScript):], nonce)
	return sha256.Sum256(buf)
}
