package tobtc

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// randomNonce draws a 63-bit nonce, leaving the top bit clear so it
// never collides with EncodeNonce's BIP-68 disable-relative-locktime
// bit once split across lockTime/sequence.
func randomNonce() (uint64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf[:]) &^ (1 << 63), nil
}

func hexDecode(s string) ([]byte, error) {
	return hex.DecodeString(s)
}

// reverseHex returns the byte-reversed, hex-encoded txid used as the
// claim secret for a ToBtc swap (spec.md §4.5): the contract verifies
// Merkle inclusion rather than a hash preimage, so any injective
// encoding of the txid serves as "the secret."
func reverseHex(h chainhash.Hash) string {
	reversed := make([]byte, len(h))
	for i, b := range h {
		reversed[len(h)-1-i] = b
	}
	return hex.EncodeToString(reversed)
}
