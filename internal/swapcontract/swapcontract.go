// Package swapcontract defines the abstract capability every handler
// depends on to read, sign, and act on the smart-chain side of a swap
// (spec.md §1, §9): a SwapContract interface plus a typed, tagged
// swap-data payload so the core never interprets bytes it cannot name.
package swapcontract

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/atomicbridge/swapserver/internal/models"
)

// Type distinguishes the on-chain escrow primitive (GLOSSARY): HTLC is
// hash-locked and secret-gated, CHAIN (PTLC) is gated by a Merkle-verified
// Bitcoin transaction.
type Type = models.SwapContractType

const (
	TypeHTLC  = models.SwapTypeHTLC
	TypeCHAIN = models.SwapTypeCHAIN
)

// Data is the typed swap payload the core reads through named accessors
// instead of interpreting an opaque byte blob directly (spec.md §9's
// "dynamic swapData polymorphism → typed accessors" re-architecture). A
// SwapContract implementation serializes/deserializes Data to/from the
// opaque []byte carried on models.CommonFields.Data.
type Data struct {
	Type            Type
	PaymentHash     models.PaymentHash
	Sequence        models.Sequence
	Amount          *big.Int // native smart-chain token amount
	Token           string   // token contract address, empty for native
	Expiry          int64    // unix seconds
	SecurityDeposit *big.Int
	ClaimerBounty   *big.Int
	Offerer         string // address funding the escrow
	Claimer         string // address entitled to withdraw it on proof
	PayIn           bool   // offerer funds the escrow at Initialize
	PayOut          bool   // claim pays the claimer directly (vs. leaving a balance)
}

// EventKind distinguishes the three events a SwapContract emits per swap
// (spec.md §1 data flow).
type EventKind int

const (
	EventInitialize EventKind = iota
	EventClaim
	EventRefund
)

// Event is one on-chain lifecycle transition observed for a swap.
type Event struct {
	Kind        EventKind
	ChainID     models.ChainIdentifier
	PaymentHash models.PaymentHash
	Sequence    models.Sequence
	HasSequence bool
	Secret      string // populated on EventClaim for HTLC swaps
	TxID        string
	BlockHeight int64
}

// CommittedState is what the contract currently holds on-chain for a swap
// identity, used by the watchdog to reconcile after a missed event.
type CommittedState struct {
	Exists   bool
	Claimed  bool
	Refunded bool
	Data     Data
}

// SwapContract is the abstract capability the core depends on (spec.md
// §1): signing claim-init authorizations, posting init/claim/refund
// transactions, reading committed state, watching events, and the
// fee/refund-fee estimates the bound/deposit math needs.
type SwapContract interface {
	// ChainIdentifier names the chain this adapter serves.
	ChainIdentifier() models.ChainIdentifier

	// GetHashForOnchain derives the PaymentHash a FromBtc swap uses from
	// the Bitcoin amount and output script (spec.md §3 PaymentHash note).
	GetHashForOnchain(amountSats int64, outputScript []byte) models.PaymentHash

	// SignClaimInitAuthorization signs an authorization letting the
	// caller later call Initialize for this Data before expiry.
	SignClaimInitAuthorization(ctx context.Context, data Data, validUntil int64) (signature string, err error)

	// SignRefundAuthorization signs an authorization letting the offerer
	// refund this swap once its expiry has passed.
	SignRefundAuthorization(ctx context.Context, data Data) (signature string, err error)

	// GetCommittedState reads on-chain state for (paymentHash, sequence),
	// used by watchdog reconciliation after a missed event.
	GetCommittedState(ctx context.Context, hash models.PaymentHash, seq models.Sequence, hasSeq bool) (CommittedState, error)

	// ClaimWithSecret posts a claim transaction revealing secret for an
	// HTLC swap (ToBtcLn, FromBtcLn).
	ClaimWithSecret(ctx context.Context, data Data, secret string) (txID string, err error)

	// ClaimWithProof posts a claim transaction for a CHAIN (PTLC) swap,
	// carrying the Bitcoin Merkle proof of payment (FromBtc).
	ClaimWithProof(ctx context.Context, data Data, proof ChainProof) (txID string, err error)

	// Refund posts a refund transaction returning the escrow to the
	// offerer once expiry has passed.
	Refund(ctx context.Context, data Data) (txID string, err error)

	// GetRefundFee estimates the native-currency gas cost of a refund
	// transaction, used by the security-deposit's baseDeposit term
	// (spec.md §4.3). raw indicates the adapter exposes an exact-variant
	// estimate rather than only a doubled generic one.
	GetRefundFee(ctx context.Context, data Data) (fee *big.Int, raw bool, err error)

	// SubscribeEvents streams Initialize/Claim/Refund events starting
	// from the given block height (0 = chain tip) until ctx is canceled.
	SubscribeEvents(ctx context.Context, fromHeight int64) (<-chan Event, error)
}

// ChainProof carries a Bitcoin Merkle inclusion proof to ClaimWithProof
// (spec.md §4.2, §4.7).
type ChainProof struct {
	ReversedTxID [32]byte
	Pos          int
	Merkle       [][32]byte
	BlockHeight  int
}

// Encode serializes Data to the length-prefixed tagged wire format every
// SwapContract carries opaquely (spec.md §9): a one-byte type tag
// followed by fixed/length-prefixed fields, so future fields can be added
// without breaking older readers that stop at a field they recognize.
func Encode(d Data) []byte {
	buf := make([]byte, 0, 128)
	buf = append(buf, byte(d.Type))
	buf = append(buf, d.PaymentHash[:]...)

	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], uint64(d.Sequence))
	buf = append(buf, seqBuf[:]...)

	buf = appendLenPrefixed(buf, bigIntBytes(d.Amount))
	buf = appendLenPrefixed(buf, []byte(d.Token))

	var expBuf [8]byte
	binary.BigEndian.PutUint64(expBuf[:], uint64(d.Expiry))
	buf = append(buf, expBuf[:]...)

	buf = appendLenPrefixed(buf, bigIntBytes(d.SecurityDeposit))
	buf = appendLenPrefixed(buf, bigIntBytes(d.ClaimerBounty))
	buf = appendLenPrefixed(buf, []byte(d.Offerer))
	buf = appendLenPrefixed(buf, []byte(d.Claimer))

	var flags byte
	if d.PayIn {
		flags |= 1
	}
	if d.PayOut {
		flags |= 2
	}
	buf = append(buf, flags)
	return buf
}

// Decode reverses Encode, failing if buf is truncated or malformed.
func Decode(buf []byte) (Data, error) {
	var d Data
	r := reader{buf: buf}

	typeTag, err := r.byte_()
	if err != nil {
		return d, err
	}
	d.Type = Type(typeTag)

	hashBytes, err := r.fixed(32)
	if err != nil {
		return d, err
	}
	copy(d.PaymentHash[:], hashBytes)

	seqBytes, err := r.fixed(8)
	if err != nil {
		return d, err
	}
	d.Sequence = models.Sequence(binary.BigEndian.Uint64(seqBytes))

	amountBytes, err := r.lenPrefixed()
	if err != nil {
		return d, err
	}
	d.Amount = new(big.Int).SetBytes(amountBytes)

	tokenBytes, err := r.lenPrefixed()
	if err != nil {
		return d, err
	}
	d.Token = string(tokenBytes)

	expBytes, err := r.fixed(8)
	if err != nil {
		return d, err
	}
	d.Expiry = int64(binary.BigEndian.Uint64(expBytes))

	secDepBytes, err := r.lenPrefixed()
	if err != nil {
		return d, err
	}
	d.SecurityDeposit = new(big.Int).SetBytes(secDepBytes)

	bountyBytes, err := r.lenPrefixed()
	if err != nil {
		return d, err
	}
	d.ClaimerBounty = new(big.Int).SetBytes(bountyBytes)

	offererBytes, err := r.lenPrefixed()
	if err != nil {
		return d, err
	}
	d.Offerer = string(offererBytes)

	claimerBytes, err := r.lenPrefixed()
	if err != nil {
		return d, err
	}
	d.Claimer = string(claimerBytes)

	flags, err := r.byte_()
	if err != nil {
		return d, err
	}
	d.PayIn = flags&1 != 0
	d.PayOut = flags&2 != 0

	return d, nil
}

func bigIntBytes(v *big.Int) []byte {
	if v == nil {
		return nil
	}
	return v.Bytes()
}

func appendLenPrefixed(buf, field []byte) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(field)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, field...)
}

type reader struct {
	buf []byte
	pos int
}

func (r *reader) byte_() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, fmt.Errorf("swapcontract: truncated data at byte %d", r.pos)
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) fixed(n int) ([]byte, error) {
	if r.pos+n > len(r.buf) {
		return nil, fmt.Errorf("swapcontract: truncated data, want %d bytes at %d", n, r.pos)
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) lenPrefixed() ([]byte, error) {
	lenBytes, err := r.fixed(4)
	if err != nil {
		return nil, err
	}
	n := int(binary.BigEndian.Uint32(lenBytes))
	return r.fixed(n)
}
