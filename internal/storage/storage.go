// Package storage defines IntermediaryStorage (spec.md §1, §3, §6): the
// durable key-value capability every handler uses to persist swap
// records, keyed by (chainIdentifier, paymentHash, sequence).
package storage

import (
	"context"
	"errors"

	"github.com/atomicbridge/swapserver/internal/models"
)

// ErrNotFound is returned by Get when no record matches the identity.
var ErrNotFound = errors.New("storage: swap not found")

// Record is one persisted swap row: the opaque, handler-specific JSON
// payload (ToBtcLnSwap, ToBtcSwap, FromBtcLnSwap, or FromBtcSwap) plus the
// identity fields storage itself indexes on. HandlerKind names which
// handler owns this record so a generic reload pass can dispatch
// deserialization to the right type (spec.md §3's four record shapes).
type Record struct {
	Identity    models.SwapIdentity
	HandlerKind string
	Payload     []byte // JSON-encoded handler-specific swap struct
}

// Predicate filters LoadAll/Query results without requiring callers to
// deserialize Payload themselves first.
type Predicate func(Record) bool

// IntermediaryStorage is the abstract persistence capability (spec.md
// §1): keyed by (chainIdentifier, paymentHash, sequence), supporting
// load-all, put, delete, and predicate query. Durability assumed; deletes
// are final (spec.md §5).
type IntermediaryStorage interface {
	// Put inserts or overwrites the record at r.Identity.
	Put(ctx context.Context, r Record) error

	// Get returns the record at id, or ErrNotFound.
	Get(ctx context.Context, id models.SwapIdentity) (Record, error)

	// Delete removes the record at id; a no-op if absent (idempotent
	// against duplicate event delivery, spec.md §8).
	Delete(ctx context.Context, id models.SwapIdentity) error

	// LoadAll returns every record for handlerKind across all chains,
	// used by watchdog reconciliation and startup resume.
	LoadAll(ctx context.Context, handlerKind string) ([]Record, error)

	// Query returns every record for handlerKind matching pred.
	Query(ctx context.Context, handlerKind string, pred Predicate) ([]Record, error)
}
