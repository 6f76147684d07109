package chainref

import (
	"context"
	"crypto/ecdsa"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/atomicbridge/swapserver/internal/models"
	"github.com/atomicbridge/swapserver/internal/swapcontract"
)

// swapKey is the in-memory ledger key: (paymentHash, sequence) collapsed
// to a single string per models.SwapIdentity's identity rule (spec.md §3).
type swapKey string

func keyFor(hash models.PaymentHash, seq models.Sequence, hasSeq bool) swapKey {
	if !hasSeq {
		return swapKey(hash.String())
	}
	return swapKey(hash.String() + ":" + seq.SequenceHex())
}

type ledgerEntry struct {
	data     swapcontract.Data
	claimed  bool
	refunded bool
}

// ReferenceContract is the reference SwapContract implementation for one
// EVM-style chain (spec.md §1, §9): it signs authorizations with a real
// ECDSA key and tracks committed state in memory, standing in for the RPC
// client a production deployment would point at an actual chain node.
type ReferenceContract struct {
	chainID    models.ChainIdentifier
	privateKey *ecdsa.PrivateKey

	mu      sync.Mutex
	ledger  map[swapKey]*ledgerEntry
	subs    []chan swapcontract.Event
	nextBlk int64
}

// New builds a ReferenceContract signing with privateKey for chainID.
func New(chainID models.ChainIdentifier, privateKey *ecdsa.PrivateKey) *ReferenceContract {
	return &ReferenceContract{
		chainID:    chainID,
		privateKey: privateKey,
		ledger:     make(map[swapKey]*ledgerEntry),
	}
}

func (c *ReferenceContract) ChainIdentifier() models.ChainIdentifier { return c.chainID }

// GetHashForOnchain derives the PaymentHash a FromBtc swap uses: a double
// SHA-256 of the amount (little-endian, 8 bytes) concatenated with the
// destination output script (spec.md §3 PaymentHash note), matching the
// same double-hash convention the Bitcoin side already uses for txids.
func (c *ReferenceContract) GetHashForOnchain(amountSats int64, outputScript []byte) models.PaymentHash {
	var amtBuf [8]byte
	binary.LittleEndian.PutUint64(amtBuf[:], uint64(amountSats))
	buf := make([]byte, 0, 8+len(outputScript))
	buf = append(buf, amtBuf[:]...)
	buf = append(buf, outputScript...)
	h := chainhash.DoubleHashH(buf)
	return models.PaymentHash(h)
}

// digest hashes the fields a signature must commit to so a verifier (the
// real on-chain contract, in production) can check it against Data and an
// expiry without trusting the caller's framing of either.
func digest(d swapcontract.Data, validUntil int64) []byte {
	buf := swapcontract.Encode(d)
	var vu [8]byte
	binary.BigEndian.PutUint64(vu[:], uint64(validUntil))
	buf = append(buf, vu[:]...)
	return crypto.Keccak256(buf)
}

func (c *ReferenceContract) sign(msgHash []byte) (string, error) {
	sig, err := crypto.Sign(msgHash, c.privateKey)
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}
	return hex.EncodeToString(sig), nil
}

func (c *ReferenceContract) SignClaimInitAuthorization(ctx context.Context, data swapcontract.Data, validUntil int64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return c.sign(digest(data, validUntil))
}

func (c *ReferenceContract) SignRefundAuthorization(ctx context.Context, data swapcontract.Data) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return c.sign(digest(data, data.Expiry))
}

// Address returns the hex-encoded EVM address backing this contract's
// signing key, used by InfoHandler to attribute a /info envelope
// signature to this chain (spec.md §4.8).
func (c *ReferenceContract) Address() string {
	return crypto.PubkeyToAddress(c.privateKey.PublicKey).Hex()
}

// Sign signs an arbitrary message with the same key used for swap
// authorizations, hashing it the same way digest does rather than
// signing the raw bytes directly.
func (c *ReferenceContract) Sign(ctx context.Context, message []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return c.sign(crypto.Keccak256(message))
}

func (c *ReferenceContract) GetCommittedState(ctx context.Context, hash models.PaymentHash, seq models.Sequence, hasSeq bool) (swapcontract.CommittedState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.ledger[keyFor(hash, seq, hasSeq)]
	if !ok {
		return swapcontract.CommittedState{}, nil
	}
	return swapcontract.CommittedState{
		Exists:   true,
		Claimed:  entry.claimed,
		Refunded: entry.refunded,
		Data:     entry.data,
	}, nil
}

func (c *ReferenceContract) ClaimWithSecret(ctx context.Context, data swapcontract.Data, secret string) (string, error) {
	txID, err := c.markClaimed(data)
	if err != nil {
		return "", err
	}
	c.emit(swapcontract.Event{
		Kind:        swapcontract.EventClaim,
		ChainID:     c.chainID,
		PaymentHash: data.PaymentHash,
		Sequence:    data.Sequence,
		HasSequence: true,
		Secret:      secret,
		TxID:        txID,
	})
	return txID, nil
}

func (c *ReferenceContract) ClaimWithProof(ctx context.Context, data swapcontract.Data, proof swapcontract.ChainProof) (string, error) {
	txID, err := c.markClaimed(data)
	if err != nil {
		return "", err
	}
	c.emit(swapcontract.Event{
		Kind:        swapcontract.EventClaim,
		ChainID:     c.chainID,
		PaymentHash: data.PaymentHash,
		Sequence:    data.Sequence,
		HasSequence: true,
		TxID:        txID,
		BlockHeight: int64(proof.BlockHeight),
	})
	return txID, nil
}

func (c *ReferenceContract) markClaimed(data swapcontract.Data) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := keyFor(data.PaymentHash, data.Sequence, true)
	entry, ok := c.ledger[key]
	if !ok {
		entry = &ledgerEntry{data: data}
		c.ledger[key] = entry
	}
	entry.claimed = true
	return fmt.Sprintf("ref-claim-%s", key), nil
}

func (c *ReferenceContract) Refund(ctx context.Context, data swapcontract.Data) (string, error) {
	c.mu.Lock()
	key := keyFor(data.PaymentHash, data.Sequence, true)
	entry, ok := c.ledger[key]
	if !ok {
		entry = &ledgerEntry{data: data}
		c.ledger[key] = entry
	}
	entry.refunded = true
	c.mu.Unlock()

	txID := fmt.Sprintf("ref-refund-%s", key)
	c.emit(swapcontract.Event{
		Kind:        swapcontract.EventRefund,
		ChainID:     c.chainID,
		PaymentHash: data.PaymentHash,
		Sequence:    data.Sequence,
		HasSequence: true,
		TxID:        txID,
	})
	return txID, nil
}

// GetRefundFee returns a fixed gas-cost estimate; raw=true signals this
// adapter exposes an exact estimate rather than a doubled generic one
// (spec.md §4.3's baseDeposit doubling rule only applies when raw=false).
func (c *ReferenceContract) GetRefundFee(ctx context.Context, data swapcontract.Data) (*big.Int, bool, error) {
	return big.NewInt(21_000 * 2), true, nil
}

func (c *ReferenceContract) SubscribeEvents(ctx context.Context, fromHeight int64) (<-chan swapcontract.Event, error) {
	ch := make(chan swapcontract.Event, 64)
	c.mu.Lock()
	c.subs = append(c.subs, ch)
	c.mu.Unlock()

	go func() {
		<-ctx.Done()
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, sub := range c.subs {
			if sub == ch {
				c.subs = append(c.subs[:i], c.subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

func (c *ReferenceContract) emit(ev swapcontract.Event) {
	c.mu.Lock()
	subs := make([]chan swapcontract.Event, len(c.subs))
	copy(subs, c.subs)
	c.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Initialize records a swap as committed on-chain and emits an Initialize
// event — the ReferenceContract's stand-in for an offerer broadcasting the
// escrow-funding transaction a real adapter would observe via RPC.
func (c *ReferenceContract) Initialize(data swapcontract.Data) {
	c.mu.Lock()
	key := keyFor(data.PaymentHash, data.Sequence, true)
	c.ledger[key] = &ledgerEntry{data: data}
	c.mu.Unlock()

	c.emit(swapcontract.Event{
		Kind:        swapcontract.EventInitialize,
		ChainID:     c.chainID,
		PaymentHash: data.PaymentHash,
		Sequence:    data.Sequence,
		HasSequence: true,
	})
}
