package tobtcln

import (
	"context"
	"encoding/json"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/atomicbridge/swapserver/internal/lnwallet"
	"github.com/atomicbridge/swapserver/internal/models"
	"github.com/atomicbridge/swapserver/internal/oracle"
	"github.com/atomicbridge/swapserver/internal/storage"
	"github.com/atomicbridge/swapserver/internal/swapbase"
	"github.com/atomicbridge/swapserver/internal/swapcontract"
	"github.com/atomicbridge/swapserver/internal/swaplock"
)

func decodeSwap(rec storage.Record, into *models.ToBtcLnSwap) error {
	return json.Unmarshal(rec.Payload, into)
}

const testChain models.ChainIdentifier = "bsc"
const testToken = "0xToken"

type fakeStorage struct {
	mu      sync.Mutex
	records map[string]storage.Record
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{records: make(map[string]storage.Record)}
}

func (f *fakeStorage) Put(ctx context.Context, r storage.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[r.Identity.String()] = r
	return nil
}

func (f *fakeStorage) Get(ctx context.Context, id models.SwapIdentity) (storage.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id.String()]
	if !ok {
		return storage.Record{}, storage.ErrNotFound
	}
	return r, nil
}

func (f *fakeStorage) Delete(ctx context.Context, id models.SwapIdentity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, id.String())
	return nil
}

func (f *fakeStorage) LoadAll(ctx context.Context, kind string) ([]storage.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []storage.Record
	for _, r := range f.records {
		if r.HandlerKind == kind {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStorage) Query(ctx context.Context, kind string, pred storage.Predicate) ([]storage.Record, error) {
	all, _ := f.LoadAll(ctx, kind)
	var out []storage.Record
	for _, r := range all {
		if pred(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStorage) get(id models.SwapIdentity) (storage.Record, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id.String()]
	return r, ok
}

// fakeContract is a minimal swapcontract.SwapContract test double: every
// call succeeds trivially unless a test configures otherwise.
type fakeContract struct {
	chain        models.ChainIdentifier
	refundFee    *big.Int
	refundFeeRaw bool
	claims       []string // secrets passed to ClaimWithSecret
	claimErr     error
}

func (c *fakeContract) ChainIdentifier() models.ChainIdentifier { return c.chain }

func (c *fakeContract) GetHashForOnchain(amountSats int64, outputScript []byte) models.PaymentHash {
	return models.PaymentHash{}
}

func (c *fakeContract) SignClaimInitAuthorization(ctx context.Context, data swapcontract.Data, validUntil int64) (string, error) {
	return "sig-init", nil
}

func (c *fakeContract) SignRefundAuthorization(ctx context.Context, data swapcontract.Data) (string, error) {
	return "sig-refund", nil
}

func (c *fakeContract) GetCommittedState(ctx context.Context, hash models.PaymentHash, seq models.Sequence, hasSeq bool) (swapcontract.CommittedState, error) {
	return swapcontract.CommittedState{}, nil
}

func (c *fakeContract) ClaimWithSecret(ctx context.Context, data swapcontract.Data, secret string) (string, error) {
	if c.claimErr != nil {
		return "", c.claimErr
	}
	c.claims = append(c.claims, secret)
	return "claim-tx", nil
}

func (c *fakeContract) ClaimWithProof(ctx context.Context, data swapcontract.Data, proof swapcontract.ChainProof) (string, error) {
	return "claim-tx", nil
}

func (c *fakeContract) Refund(ctx context.Context, data swapcontract.Data) (string, error) {
	return "refund-tx", nil
}

func (c *fakeContract) GetRefundFee(ctx context.Context, data swapcontract.Data) (*big.Int, bool, error) {
	if c.refundFee == nil {
		return big.NewInt(1000), false, nil
	}
	return c.refundFee, c.refundFeeRaw, nil
}

func (c *fakeContract) SubscribeEvents(ctx context.Context, fromHeight int64) (<-chan swapcontract.Event, error) {
	return nil, nil
}

type fixedFetcher struct{}

func (fixedFetcher) FetchPriceMsat(ctx context.Context, coinID string) (*big.Int, error) {
	return big.NewInt(1000), nil
}

func newTestOracle() *oracle.Oracle {
	return oracle.New(fixedFetcher{}, []oracle.TokenData{
		{ChainIdentifier: testChain, Address: testToken, Decimals: 18, CoinGeckoID: "$fixed-1.0"},
	})
}

func newTestHandler(t *testing.T) (*Handler, *fakeStorage, *fakeContract, *lnwallet.InMemoryWallet) {
	t.Helper()
	st := newFakeStorage()
	contract := &fakeContract{chain: testChain}
	registry := swapbase.NewRegistry(map[models.ChainIdentifier]swapbase.ChainBinding{
		testChain: {
			Contract: contract,
			Tokens: []oracle.TokenData{
				{ChainIdentifier: testChain, Address: testToken, Decimals: 18, CoinGeckoID: "$fixed-1.0"},
			},
		},
	})
	ln := lnwallet.NewInMemoryWallet(1000)
	base := swapbase.SwapHandlerBase{
		Registry: registry,
		Storage:  st,
		Locker:   swaplock.New(),
		Oracle:   newTestOracle(),
	}
	h := New(base, ln, swapbase.FeeSchedule{BaseFeeSats: 100, FeePPM: 1000, MinSats: 1000, MaxSats: 10_000_000, APY: 0.05})
	return h, st, contract, ln
}

func validPayInvoiceRequest() PayInvoiceRequest {
	now := time.Now().Unix()
	return PayInvoiceRequest{
		PR:              "lnbc1...",
		PaymentHash:     models.PaymentHash{1, 2, 3},
		AmountMsat:      100_000_000,
		InvoiceExpiry:   now + 3600,
		MaxFeeSats:      1000,
		ExpiryTimestamp: now + 20_000,
		Chain:           testChain,
		Token:           testToken,
		Offerer:         "0xOfferer",
	}
}

func TestPayInvoice_Success(t *testing.T) {
	h, st, _, ln := newTestHandler(t)
	req := validPayInvoiceRequest()
	ln.SetProbeResult(req.PR, &lnwallet.Route{Confidence: 0.9})

	resp, bizErr := h.PayInvoice(context.Background(), req)
	if bizErr != nil {
		t.Fatalf("unexpected business error: %v", bizErr)
	}
	if resp.Signature == "" {
		t.Fatal("expected a signature")
	}

	id := h.Identity(req.Chain, req.PaymentHash, 0, false)
	rec, ok := st.get(id)
	if !ok {
		t.Fatal("expected swap to be persisted")
	}
	if rec.HandlerKind != Kind {
		t.Errorf("HandlerKind = %q, want %q", rec.HandlerKind, Kind)
	}
}

func TestPayInvoice_RejectsExpiredInvoice(t *testing.T) {
	h, _, _, _ := newTestHandler(t)
	req := validPayInvoiceRequest()
	req.InvoiceExpiry = time.Now().Unix() - 10

	_, bizErr := h.PayInvoice(context.Background(), req)
	if bizErr == nil || bizErr.Code != swapbase.CodeNotEnoughTime {
		t.Fatalf("bizErr = %v, want CodeNotEnoughTime", bizErr)
	}
}

func TestPayInvoice_RejectsExpiryTooClose(t *testing.T) {
	h, _, _, _ := newTestHandler(t)
	req := validPayInvoiceRequest()
	req.ExpiryTimestamp = time.Now().Unix() + 10

	_, bizErr := h.PayInvoice(context.Background(), req)
	if bizErr == nil || bizErr.Code != swapbase.CodeNotEnoughTime {
		t.Fatalf("bizErr = %v, want CodeNotEnoughTime", bizErr)
	}
}

func TestPayInvoice_NoRoute(t *testing.T) {
	h, _, _, ln := newTestHandler(t)
	req := validPayInvoiceRequest()
	_ = ln // no probe result configured: ProbeRoute returns nil, nil

	_, bizErr := h.PayInvoice(context.Background(), req)
	if bizErr == nil || bizErr.Code != swapbase.CodeNoRoute {
		t.Fatalf("bizErr = %v, want CodeNoRoute", bizErr)
	}
}

func TestPayInvoice_RejectsDuplicatePaymentHash(t *testing.T) {
	h, _, _, ln := newTestHandler(t)
	req := validPayInvoiceRequest()
	ln.SetProbeResult(req.PR, &lnwallet.Route{Confidence: 0.9})

	if _, bizErr := h.PayInvoice(context.Background(), req); bizErr != nil {
		t.Fatalf("first call: unexpected business error: %v", bizErr)
	}
	_, bizErr := h.PayInvoice(context.Background(), req)
	if bizErr == nil || bizErr.Code != swapbase.CodeAlreadyPaid {
		t.Fatalf("bizErr = %v, want CodeAlreadyPaid", bizErr)
	}
}

func TestGetRefundAuthorization_AlreadyPaid(t *testing.T) {
	h, st, _, ln := newTestHandler(t)
	req := validPayInvoiceRequest()
	ln.SetProbeResult(req.PR, &lnwallet.Route{Confidence: 0.9})
	if _, bizErr := h.PayInvoice(context.Background(), req); bizErr != nil {
		t.Fatalf("setup PayInvoice failed: %v", bizErr)
	}

	id := h.Identity(req.Chain, req.PaymentHash, 0, false)
	swap, bizErr := h.load(context.Background(), id)
	if bizErr != nil {
		t.Fatal(bizErr)
	}
	swap.Secret = "deadbeef"
	if err := h.persist(context.Background(), swap); err != nil {
		t.Fatal(err)
	}
	_ = st

	_, bizErr = h.GetRefundAuthorization(context.Background(), req.Chain, req.PaymentHash)
	if bizErr == nil || bizErr.Code != swapbase.CodeAlreadyPaid {
		t.Fatalf("bizErr = %v, want CodeAlreadyPaid", bizErr)
	}
}

func TestGetRefundAuthorization_NotRefundableWhileSaved(t *testing.T) {
	h, _, _, ln := newTestHandler(t)
	req := validPayInvoiceRequest()
	ln.SetProbeResult(req.PR, &lnwallet.Route{Confidence: 0.9})
	if _, bizErr := h.PayInvoice(context.Background(), req); bizErr != nil {
		t.Fatalf("setup PayInvoice failed: %v", bizErr)
	}

	_, bizErr := h.GetRefundAuthorization(context.Background(), req.Chain, req.PaymentHash)
	if bizErr == nil || bizErr.Code != swapbase.CodeNotCommitted {
		t.Fatalf("bizErr = %v, want CodeNotCommitted (still SAVED)", bizErr)
	}
}

func TestWatch_RemovesExpiredSavedSwap(t *testing.T) {
	h, st, _, ln := newTestHandler(t)
	req := validPayInvoiceRequest()
	req.ExpiryTimestamp = time.Now().Unix() + 20_000
	ln.SetProbeResult(req.PR, &lnwallet.Route{Confidence: 0.9})
	if _, bizErr := h.PayInvoice(context.Background(), req); bizErr != nil {
		t.Fatalf("setup PayInvoice failed: %v", bizErr)
	}

	id := h.Identity(req.Chain, req.PaymentHash, 0, false)
	swap, bizErr := h.load(context.Background(), id)
	if bizErr != nil {
		t.Fatal(bizErr)
	}
	swap.SignatureExpiry = time.Now().Unix() - 1
	if err := h.persist(context.Background(), swap); err != nil {
		t.Fatal(err)
	}

	rec, _ := st.get(id)
	if err := h.Watch(context.Background(), rec); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if _, ok := st.get(id); ok {
		t.Fatal("expected expired SAVED swap to be removed")
	}
}

func TestHandleEvent_InitializeDispatchesAndClaimsOnSuccess(t *testing.T) {
	h, st, contract, ln := newTestHandler(t)
	req := validPayInvoiceRequest()
	ln.SetProbeResult(req.PR, &lnwallet.Route{Confidence: 0.9})
	resp, bizErr := h.PayInvoice(context.Background(), req)
	if bizErr != nil {
		t.Fatalf("setup PayInvoice failed: %v", bizErr)
	}
	_ = resp

	ev := swapcontract.Event{Kind: swapcontract.EventInitialize, ChainID: req.Chain, PaymentHash: req.PaymentHash}
	if err := h.HandleEvent(context.Background(), ev); err != nil {
		t.Fatalf("HandleEvent(Initialize): %v", err)
	}

	id := h.Identity(req.Chain, req.PaymentHash, 0, false)
	rec, ok := st.get(id)
	if !ok {
		t.Fatal("expected swap still present after Initialize")
	}
	var swap models.ToBtcLnSwap
	if err := decodeSwap(rec, &swap); err != nil {
		t.Fatal(err)
	}
	if swap.State != models.ToBtcLnCommited {
		t.Fatalf("state = %v, want COMMITED", swap.State)
	}
	if !swap.PaymentDispatched {
		t.Fatal("expected PaymentDispatched to be set once the payment is sent")
	}

	// awaitPayment subscribes from its own goroutine, so retry delivery
	// until that subscription has registered rather than racing it.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		ln.ResolvePayment(req.PaymentHash, lnwallet.PaymentUpdate{PaymentHash: req.PaymentHash, Succeeded: true, Secret: "cafebabe"})
		rec, _ = st.get(id)
		var cur models.ToBtcLnSwap
		_ = decodeSwap(rec, &cur)
		if cur.State == models.ToBtcLnClaimed {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	var final models.ToBtcLnSwap
	if err := decodeSwap(rec, &final); err != nil {
		t.Fatal(err)
	}
	if final.State != models.ToBtcLnClaimed {
		t.Fatalf("state = %v, want CLAIMED after LN payment settled", final.State)
	}
	if len(contract.claims) != 1 || contract.claims[0] != "cafebabe" {
		t.Fatalf("claims = %v, want one claim with secret cafebabe", contract.claims)
	}
}
