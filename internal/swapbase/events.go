package swapbase

import (
	"context"
	"log/slog"

	"github.com/atomicbridge/swapserver/internal/swapcontract"
)

// EventRouter subscribes to one chain's SwapContract event stream and
// dispatches every Initialize/Claim/Refund event to a single handler
// callback in arrival order (spec.md §2 item 5: "event demultiplexing,
// serialized per chain identifier"). One EventRouter runs per chain, so
// events for different chains are processed concurrently while events
// for the same chain never race each other.
type EventRouter struct {
	contract swapcontract.SwapContract
	handle   func(ctx context.Context, ev swapcontract.Event) error
}

// NewEventRouter builds a router for one chain's SwapContract adapter.
func NewEventRouter(contract swapcontract.SwapContract, handle func(ctx context.Context, ev swapcontract.Event) error) *EventRouter {
	return &EventRouter{contract: contract, handle: handle}
}

// Run subscribes starting at fromHeight (0 = chain tip) and dispatches
// events one at a time until ctx is canceled or the event channel
// closes. A handler error is logged, not fatal to the router.
func (r *EventRouter) Run(ctx context.Context, fromHeight int64) error {
	events, err := r.contract.SubscribeEvents(ctx, fromHeight)
	if err != nil {
		return err
	}

	chain := r.contract.ChainIdentifier()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := r.handle(ctx, ev); err != nil {
				slog.Error("event router: handler failed", "chain", chain, "kind", ev.Kind, "paymentHash", ev.PaymentHash, "error", err)
			}
		}
	}
}
