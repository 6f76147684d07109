package swapbase

import (
	"context"
	"log/slog"
	"time"

	"github.com/atomicbridge/swapserver/internal/storage"
)

// Watchdog periodically reconciles every swap a handler owns (spec.md §5:
// a handler re-checks its own in-flight swaps against chain/LN state on
// an interval, independent of event delivery). Grounded on
// poller/watcher.runWatch's ticker+select shape, generalized from one
// goroutine per watched address to one goroutine per handler iterating
// every persisted swap of its kind.
type Watchdog struct {
	storage  storage.IntermediaryStorage
	kind     string
	interval time.Duration
	check    func(ctx context.Context, rec storage.Record) error
}

// NewWatchdog builds a Watchdog for one handler's swap kind. check is
// invoked once per persisted record on every pass; it owns its own
// error handling (it should not return an error for a swap that is
// simply still pending).
func NewWatchdog(st storage.IntermediaryStorage, kind string, interval time.Duration, check func(ctx context.Context, rec storage.Record) error) *Watchdog {
	return &Watchdog{storage: st, kind: kind, interval: interval, check: check}
}

// Run blocks, performing an immediate reconciliation pass (so a process
// restart resumes mid-swap without waiting a full interval) and then one
// pass per tick, until ctx is canceled.
func (w *Watchdog) Run(ctx context.Context) {
	w.pass(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.pass(ctx)
		}
	}
}

func (w *Watchdog) pass(ctx context.Context) {
	recs, err := w.storage.LoadAll(ctx, w.kind)
	if err != nil {
		slog.Error("watchdog: load pending swaps failed", "kind", w.kind, "error", err)
		return
	}

	for _, rec := range recs {
		if ctx.Err() != nil {
			return
		}
		if err := w.check(ctx, rec); err != nil {
			slog.Warn("watchdog: reconcile pass failed for swap", "kind", w.kind, "identity", rec.Identity.String(), "error", err)
		}
	}
}
