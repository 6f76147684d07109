package swapbase

import (
	"context"
	"fmt"
	"time"

	"github.com/atomicbridge/swapserver/internal/models"
	"github.com/atomicbridge/swapserver/internal/oracle"
	"github.com/atomicbridge/swapserver/internal/storage"
	"github.com/atomicbridge/swapserver/internal/swaplock"
)

// VaultBalance reports the intermediary's available balance for a given
// chain+token, read-only and best-effort consistent (spec.md §5: "a race
// that accepts two swaps that together exceed balance will surface as
// one failing at commit time. Acceptable.").
type VaultBalance interface {
	AvailableBalance(ctx context.Context, chain models.ChainIdentifier, token string) (*BigIntLike, error)
}

// BigIntLike avoids an import cycle with models.BigInt while keeping the
// balance check's integer type explicit; handlers convert to
// *models.BigInt at their boundary.
type BigIntLike = models.BigInt

// SwapHandlerBase is embedded by every per-direction handler (spec.md
// §2 items 5-6): the chain/token registry, persistent storage, the
// per-swap lock, and the price oracle every handler's math depends on.
type SwapHandlerBase struct {
	Registry *Registry
	Storage  storage.IntermediaryStorage
	Locker   *swaplock.Locker
	Oracle   *oracle.Oracle
	Vault    VaultBalance
	Kind     string // storage.Record.HandlerKind, e.g. "tobtcln"
}

// Identity builds the storage/lock key for a swap (spec.md §3
// invariants): (chainIdentifier, paymentHash[, sequence]).
func (b *SwapHandlerBase) Identity(chain models.ChainIdentifier, hash models.PaymentHash, sequence models.Sequence, hasSequence bool) models.SwapIdentity {
	return models.SwapIdentity{
		ChainIdentifier: chain,
		PaymentHash:     hash,
		Sequence:        sequence,
		HasSequence:     hasSequence,
	}
}

// WithLock serializes fn against every other operation on the same
// swap identifier (spec.md §5), returning CodeInFlight if the swap is
// already locked by a concurrent operation.
func (b *SwapHandlerBase) WithLock(id models.SwapIdentity, lease time.Duration, fn func() error) error {
	unlock, ok := b.Locker.TryLock(id.String(), lease)
	if !ok {
		return NewBusinessError(CodeInFlight, fmt.Sprintf("swap %s is busy", id), nil)
	}
	defer unlock()
	return fn()
}

// Load fetches and JSON-decodes a swap record, translating a missing
// record into CodeNotFound.
func (b *SwapHandlerBase) Load(ctx context.Context, id models.SwapIdentity, into any, decode func([]byte, any) error) error {
	rec, err := b.Storage.Get(ctx, id)
	if err == storage.ErrNotFound {
		return NewBusinessError(CodeNotFound, fmt.Sprintf("swap %s not found", id), nil)
	}
	if err != nil {
		return fmt.Errorf("load swap %s: %w", id, err)
	}
	return decode(rec.Payload, into)
}

// Save persists a swap record under this handler's Kind.
func (b *SwapHandlerBase) Save(ctx context.Context, id models.SwapIdentity, payload []byte) error {
	return b.Storage.Put(ctx, storage.Record{Identity: id, HandlerKind: b.Kind, Payload: payload})
}

// Remove deletes a swap record once it reaches a terminal state and its
// side effects have flushed (spec.md §5 lifecycle).
func (b *SwapHandlerBase) Remove(ctx context.Context, id models.SwapIdentity) error {
	return b.Storage.Delete(ctx, id)
}
