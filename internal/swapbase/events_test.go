package swapbase

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/atomicbridge/swapserver/internal/models"
	"github.com/atomicbridge/swapserver/internal/swapcontract"
)

type fakeContract struct {
	chain  models.ChainIdentifier
	events chan swapcontract.Event
}

func (f *fakeContract) ChainIdentifier() models.ChainIdentifier { return f.chain }
func (f *fakeContract) GetHashForOnchain(amountSats int64, outputScript []byte) models.PaymentHash {
	return models.PaymentHash{}
}
func (f *fakeContract) SignClaimInitAuthorization(ctx context.Context, data swapcontract.Data, validUntil int64) (string, error) {
	return "", nil
}
func (f *fakeContract) SignRefundAuthorization(ctx context.Context, data swapcontract.Data) (string, error) {
	return "", nil
}
func (f *fakeContract) GetCommittedState(ctx context.Context, hash models.PaymentHash, seq models.Sequence, hasSeq bool) (swapcontract.CommittedState, error) {
	return swapcontract.CommittedState{}, nil
}
func (f *fakeContract) ClaimWithSecret(ctx context.Context, data swapcontract.Data, secret string) (string, error) {
	return "", nil
}
func (f *fakeContract) ClaimWithProof(ctx context.Context, data swapcontract.Data, proof swapcontract.ChainProof) (string, error) {
	return "", nil
}
func (f *fakeContract) Refund(ctx context.Context, data swapcontract.Data) (string, error) {
	return "", nil
}
func (f *fakeContract) GetRefundFee(ctx context.Context, data swapcontract.Data) (*big.Int, bool, error) {
	return big.NewInt(0), true, nil
}
func (f *fakeContract) SubscribeEvents(ctx context.Context, fromHeight int64) (<-chan swapcontract.Event, error) {
	return f.events, nil
}

func TestEventRouter_DispatchesInArrivalOrder(t *testing.T) {
	events := make(chan swapcontract.Event, 4)
	contract := &fakeContract{chain: "bsc", events: events}

	var seen []swapcontract.EventKind
	done := make(chan struct{})
	router := NewEventRouter(contract, func(ctx context.Context, ev swapcontract.Event) error {
		seen = append(seen, ev.Kind)
		if len(seen) == 3 {
			close(done)
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go router.Run(ctx, 0)

	events <- swapcontract.Event{Kind: swapcontract.EventInitialize}
	events <- swapcontract.Event{Kind: swapcontract.EventClaim}
	events <- swapcontract.Event{Kind: swapcontract.EventRefund}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("router did not dispatch all three events")
	}

	want := []swapcontract.EventKind{swapcontract.EventInitialize, swapcontract.EventClaim, swapcontract.EventRefund}
	if len(seen) != len(want) {
		t.Fatalf("seen = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("seen[%d] = %v, want %v", i, seen[i], want[i])
		}
	}
}

func TestEventRouter_HandlerErrorDoesNotStopRouter(t *testing.T) {
	events := make(chan swapcontract.Event, 2)
	contract := &fakeContract{chain: "ethereum", events: events}

	var count int
	done := make(chan struct{})
	router := NewEventRouter(contract, func(ctx context.Context, ev swapcontract.Event) error {
		count++
		if count == 2 {
			close(done)
		}
		return errRouterHandler
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go router.Run(ctx, 0)

	events <- swapcontract.Event{Kind: swapcontract.EventInitialize}
	events <- swapcontract.Event{Kind: swapcontract.EventClaim}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("router stopped dispatching after a handler error")
	}
}

func TestEventRouter_StopsOnContextCancel(t *testing.T) {
	events := make(chan swapcontract.Event)
	contract := &fakeContract{chain: "bsc", events: events}
	router := NewEventRouter(contract, func(ctx context.Context, ev swapcontract.Event) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- router.Run(ctx, 0) }()

	cancel()
	select {
	case err := <-errCh:
		if err != context.Canceled {
			t.Fatalf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancel")
	}
}

var errRouterHandler = &BusinessError{Code: CodePluginError, Msg: "test handler error"}
