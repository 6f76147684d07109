package frombtc

import (
	"context"
	"encoding/json"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/atomicbridge/swapserver/internal/btcfee"
	"github.com/atomicbridge/swapserver/internal/btcrpc"
	"github.com/atomicbridge/swapserver/internal/config"
	"github.com/atomicbridge/swapserver/internal/models"
	"github.com/atomicbridge/swapserver/internal/oracle"
	"github.com/atomicbridge/swapserver/internal/storage"
	"github.com/atomicbridge/swapserver/internal/swapbase"
	"github.com/atomicbridge/swapserver/internal/swapcontract"
	"github.com/atomicbridge/swapserver/internal/swaplock"
	"github.com/atomicbridge/swapserver/internal/wallet"
)

const testChain models.ChainIdentifier = "bsc"
const testToken = "0xToken"
const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon art"

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

type fakeContract struct {
	chain           models.ChainIdentifier
	committedExists bool
	proofClaims     int
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
	return swapcontract.CommittedState{Exists: c.committedExists}, nil
}
func (c *fakeContract) ClaimWithSecret(ctx context.Context, data swapcontract.Data, secret string) (string, error) {
	return "claim-tx", nil
}
func (c *fakeContract) ClaimWithProof(ctx context.Context, data swapcontract.Data, proof swapcontract.ChainProof) (string, error) {
	c.proofClaims++
	return "claim-tx", nil
}
func (c *fakeContract) Refund(ctx context.Context, data swapcontract.Data) (string, error) {
	return "refund-tx", nil
}
func (c *fakeContract) GetRefundFee(ctx context.Context, data swapcontract.Data) (*big.Int, bool, error) {
	return big.NewInt(1000), false, nil
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

type fakeAddressSource struct {
	mu   sync.Mutex
	next uint32
	net  *chaincfg.Params
}

func (s *fakeAddressSource) NextAddress(ctx context.Context) (string, uint32, error) {
	s.mu.Lock()
	index := s.next
	s.next++
	s.mu.Unlock()

	seed, err := wallet.MnemonicToSeed(testMnemonic)
	if err != nil {
		return "", 0, err
	}
	masterKey, err := wallet.DeriveMasterKey(seed, s.net)
	if err != nil {
		return "", 0, err
	}
	addr, err := wallet.DeriveBTCAddress(masterKey, index, s.net)
	if err != nil {
		return "", 0, err
	}
	return addr, index, nil
}

func newTestHandler(t *testing.T) (*Handler, *fakeStorage, *fakeContract, *btcrpc.InMemoryRpc) {
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
	net := &chaincfg.MainNetParams
	rpc := btcrpc.NewInMemoryRpc(1000)

	base := swapbase.SwapHandlerBase{
		Registry: registry,
		Storage:  st,
		Locker:   swaplock.New(),
		Oracle:   newTestOracle(),
	}
	h := New(base, rpc, &fakeAddressSource{net: net}, net, swapbase.FeeSchedule{
		BaseFeeSats: 100, FeePPM: 1000, MinSats: 1000, MaxSats: 10_000_000, APY: 0.05,
	})
	return h, st, contract, rpc
}

func validGetAddressRequest(sequence uint64) GetAddressRequest {
	return GetAddressRequest{
		AmountSats:      100_000,
		ExactOut:        false,
		Sequence:        models.Sequence(sequence),
		Chain:           testChain,
		Token:           testToken,
		Claimer:         "0xClaimer",
		ExpiryTimestamp: time.Now().Add(2 * time.Hour).Unix(),
	}
}

func TestGetAddress_Success(t *testing.T) {
	h, st, _, _ := newTestHandler(t)
	req := validGetAddressRequest(1)

	resp, bizErr := h.GetAddress(context.Background(), req)
	if bizErr != nil {
		t.Fatalf("unexpected business error: %v", bizErr)
	}
	if resp.Address == "" {
		t.Fatal("expected a derived receive address")
	}
	if resp.Signature == "" || len(resp.SignDataPrefetch) == 0 {
		t.Fatal("expected a signature and prefetch payload")
	}
	if resp.ClaimerBounty == nil {
		t.Fatal("expected a defaulted claimer bounty")
	}

	data, err := swapcontract.Decode(resp.Data)
	if err != nil {
		t.Fatal(err)
	}
	id := h.Identity(req.Chain, data.PaymentHash, req.Sequence, true)
	rec, ok := st.get(id)
	if !ok {
		t.Fatal("expected swap to be persisted")
	}
	var swap models.FromBtcSwap
	if err := json.Unmarshal(rec.Payload, &swap); err != nil {
		t.Fatal(err)
	}
	if swap.State != models.FromBtcCreated {
		t.Fatalf("state = %v, want CREATED", swap.State)
	}
	if swap.Address != resp.Address {
		t.Fatalf("persisted address = %q, want %q", swap.Address, resp.Address)
	}
}

func TestGetAddress_RejectsInsufficientVaultBalance(t *testing.T) {
	h, _, _, _ := newTestHandler(t)
	h.Vault = fakeVault{balance: big.NewInt(0)}
	req := validGetAddressRequest(1)

	_, bizErr := h.GetAddress(context.Background(), req)
	if bizErr == nil || bizErr.Code != swapbase.CodeNotEnoughLiquidity {
		t.Fatalf("bizErr = %v, want CodeNotEnoughLiquidity", bizErr)
	}
}

type fakeVault struct {
	balance *big.Int
}

func (f fakeVault) AvailableBalance(ctx context.Context, chain models.ChainIdentifier, token string) (*swapbase.BigIntLike, error) {
	b := models.ZeroBigInt()
	b.Int.Set(f.balance)
	return b, nil
}

func TestHandleEvent_InitializeMarksCommited(t *testing.T) {
	h, st, _, _ := newTestHandler(t)
	req := validGetAddressRequest(1)

	resp, bizErr := h.GetAddress(context.Background(), req)
	if bizErr != nil {
		t.Fatalf("GetAddress: %v", bizErr)
	}
	data, err := swapcontract.Decode(resp.Data)
	if err != nil {
		t.Fatal(err)
	}
	id := h.Identity(req.Chain, data.PaymentHash, req.Sequence, true)

	ev := swapcontract.Event{Kind: swapcontract.EventInitialize, ChainID: req.Chain, PaymentHash: data.PaymentHash, Sequence: req.Sequence, HasSequence: true}
	if err := h.HandleEvent(context.Background(), ev); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	rec, ok := st.get(id)
	if !ok {
		t.Fatal("expected swap to still be persisted")
	}
	var swap models.FromBtcSwap
	if err := json.Unmarshal(rec.Payload, &swap); err != nil {
		t.Fatal(err)
	}
	if swap.State != models.FromBtcCommited {
		t.Fatalf("state = %v, want COMMITED", swap.State)
	}
}

func TestWatch_ClaimsOnceIncomingPaymentConfirmed(t *testing.T) {
	h, st, contract, rpc := newTestHandler(t)
	req := validGetAddressRequest(1)

	resp, bizErr := h.GetAddress(context.Background(), req)
	if bizErr != nil {
		t.Fatalf("GetAddress: %v", bizErr)
	}
	data, err := swapcontract.Decode(resp.Data)
	if err != nil {
		t.Fatal(err)
	}
	id := h.Identity(req.Chain, data.PaymentHash, req.Sequence, true)

	incomingScript, err := btcfee.PKScriptFromAddress(resp.Address, &chaincfg.MainNetParams)
	if err != nil {
		t.Fatal(err)
	}
	txid := chainhash.HashH([]byte("incoming-payment"))
	rpc.SetUTXOs([]btcrpc.UTXO{
		{TxID: txid, Vout: 0, AmountSats: resp.AmountSats, PkScript: incomingScript, Confirmations: 0},
	})

	// First pass: the payment is sighted and its txid recorded, but it
	// isn't confirmed yet (no confirmations registered), so the swap
	// stays CREATED.
	rec, _ := st.get(id)
	if err := h.Watch(context.Background(), rec); err != nil {
		t.Fatalf("Watch (sighting): %v", err)
	}
	rec, _ = st.get(id)
	var swap models.FromBtcSwap
	if err := json.Unmarshal(rec.Payload, &swap); err != nil {
		t.Fatal(err)
	}
	if swap.TxID == "" {
		t.Fatal("expected the incoming txid to be recorded")
	}
	if swap.State != models.FromBtcCreated {
		t.Fatalf("state = %v, want still CREATED before confirmation", swap.State)
	}

	// Second pass: the payment clears confirmation, lands in a block,
	// and the handler claims via a Merkle proof.
	rpc.SetConfirmations(txid, config.RequiredBTCConfirmations)
	rpc.AddBlock(btcrpc.Block{Height: 995, TxIDs: []chainhash.Hash{txid}})

	if err := h.Watch(context.Background(), rec); err != nil {
		t.Fatalf("Watch (claim): %v", err)
	}
	rec, _ = st.get(id)
	var cur models.FromBtcSwap
	if err := json.Unmarshal(rec.Payload, &cur); err != nil {
		t.Fatal(err)
	}
	if cur.State != models.FromBtcClaimed {
		t.Fatalf("state = %v, want CLAIMED", cur.State)
	}
	if contract.proofClaims != 1 {
		t.Fatalf("expected exactly one proof claim, got %d", contract.proofClaims)
	}
}

func TestWatch_CancelsExpiredCreatedSwapWithNoOnchainCommit(t *testing.T) {
	h, st, _, _ := newTestHandler(t)
	req := validGetAddressRequest(2)

	resp, bizErr := h.GetAddress(context.Background(), req)
	if bizErr != nil {
		t.Fatalf("GetAddress: %v", bizErr)
	}
	data, err := swapcontract.Decode(resp.Data)
	if err != nil {
		t.Fatal(err)
	}
	id := h.Identity(req.Chain, data.PaymentHash, req.Sequence, true)

	swap, bizErr := h.load(context.Background(), id)
	if bizErr != nil {
		t.Fatal(bizErr)
	}
	swap.AuthorizationExpiry = time.Now().Unix() - 1000
	if err := h.persist(context.Background(), swap); err != nil {
		t.Fatal(err)
	}

	rec, _ := st.get(id)
	if err := h.Watch(context.Background(), rec); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	if _, ok := st.get(id); ok {
		t.Fatal("expected expired uncommitted swap to be removed")
	}
}
