// Package lnwallet defines LightningWallet (spec.md §1, §4.6): the
// abstract hold-invoice CRUD, outbound payment, probing, and
// past-payment-subscription capability every ToBtcLn/FromBtcLn handler
// depends on, plus an in-memory fake used by tests and local runs.
package lnwallet

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/atomicbridge/swapserver/internal/config"
)

// ErrInvoiceNotFound is returned when an operation references an unknown
// payment hash.
var ErrInvoiceNotFound = errors.New("lnwallet: invoice not found")

// InvoiceState mirrors the four states GET/POST getInvoiceStatus reports
// (spec.md §6): pending, held, settled, canceled.
type InvoiceState int

const (
	InvoicePending InvoiceState = iota
	InvoiceHeld
	InvoiceSettled
	InvoiceCanceled
)

// HoldInvoiceParams configures a new hold invoice (spec.md §4.6).
type HoldInvoiceParams struct {
	PaymentHash [32]byte
	AmountMsat  int64
	CltvDelta   int
	ExpiresAt   int64 // unix seconds
	Description string
}

// Invoice is the hold-invoice record LightningWallet tracks.
type Invoice struct {
	PR             string
	PaymentHash    [32]byte
	AmountMsat     int64
	CltvDelta      int
	ExpiresAt      int64
	State          InvoiceState
	HeldCltvExpiry int64 // CLTV expiry block height of the held HTLC, set on held
	Secret         string
}

// Route is the result of a successful probe (spec.md §4.4).
type Route struct {
	Confidence float64 // in [0,1]
	FeeMsat    int64
	TimeoutHeight int64
}

// PaymentUpdate is delivered on the channel SubscribeToPastPayment
// returns, reporting the terminal outcome of one outbound payment.
type PaymentUpdate struct {
	PaymentHash [32]byte
	Succeeded   bool
	Failed      bool
	FeeMsat     int64
	Secret      string // revealed preimage, populated when Succeeded
}

// LightningWallet is the abstract capability ToBtcLn/FromBtcLn depend on
// (spec.md §1). No state is owned by the core; every call is a suspension
// point (spec.md §5).
type LightningWallet interface {
	// CreateHoldInvoice issues a BOLT-11 invoice that locks an HTLC
	// without settling it (GLOSSARY: hold invoice).
	CreateHoldInvoice(ctx context.Context, p HoldInvoiceParams) (*Invoice, error)

	// LookupInvoice returns the current state of a previously created
	// hold invoice.
	LookupInvoice(ctx context.Context, paymentHash [32]byte) (*Invoice, error)

	// SettleHoldInvoice reveals secret, completing the HTLC.
	SettleHoldInvoice(ctx context.Context, paymentHash [32]byte, secret string) error

	// CancelHoldInvoice releases the HTLC without revealing a secret.
	CancelHoldInvoice(ctx context.Context, paymentHash [32]byte) error

	// ProbeRoute attempts to find a route for pr within the fee and
	// timeout-height budget, returning nil if none exists (spec.md §4.4
	// "If no route, NoRoute").
	ProbeRoute(ctx context.Context, pr string, maxFeeMsat int64, maxTimeoutHeight int64) (*Route, error)

	// PayInvoice dispatches an outbound Lightning payment fire-and-
	// forget; the result arrives on SubscribeToPastPayment.
	PayInvoice(ctx context.Context, pr string, maxFeeMsat int64, maxTimeoutHeight int64) error

	// SubscribeToPastPayment watches for the terminal outcome of a
	// dispatched payment. Each call opens a new subscription; keeping one
	// per payment hash is the caller's job (spec.md §5).
	SubscribeToPastPayment(ctx context.Context, paymentHash [32]byte) (<-chan PaymentUpdate, error)

	// ChainTipHeight returns the current block height, used to compute
	// max_timeout_height (spec.md §4.4).
	ChainTipHeight(ctx context.Context) (int64, error)
}

// InMemoryWallet is a deterministic fake LightningWallet for tests and
// local runs: no real Lightning node, payments resolve however the test
// configures via ResolvePayment / SetProbeResult.
type InMemoryWallet struct {
	mu           sync.Mutex
	invoices     map[[32]byte]*Invoice
	subs         map[[32]byte][]chan PaymentUpdate
	probe        map[string]*Route
	tip          int64
	probeLimiter *rate.Limiter
}

// NewInMemoryWallet builds an empty fake wallet at the given chain tip.
func NewInMemoryWallet(tipHeight int64) *InMemoryWallet {
	return &InMemoryWallet{
		invoices:     make(map[[32]byte]*Invoice),
		subs:         make(map[[32]byte][]chan PaymentUpdate),
		probe:        make(map[string]*Route),
		tip:          tipHeight,
		probeLimiter: rate.NewLimiter(rate.Limit(config.LNProbeRateLimitRPS), 1),
	}
}

func (w *InMemoryWallet) CreateHoldInvoice(ctx context.Context, p HoldInvoiceParams) (*Invoice, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	inv := &Invoice{
		PR:          fakeBolt11(p.PaymentHash),
		PaymentHash: p.PaymentHash,
		AmountMsat:  p.AmountMsat,
		CltvDelta:   p.CltvDelta,
		ExpiresAt:   p.ExpiresAt,
		State:       InvoicePending,
	}
	w.invoices[p.PaymentHash] = inv
	return inv, nil
}

func (w *InMemoryWallet) LookupInvoice(ctx context.Context, paymentHash [32]byte) (*Invoice, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	inv, ok := w.invoices[paymentHash]
	if !ok {
		return nil, ErrInvoiceNotFound
	}
	cp := *inv
	return &cp, nil
}

func (w *InMemoryWallet) SettleHoldInvoice(ctx context.Context, paymentHash [32]byte, secret string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	inv, ok := w.invoices[paymentHash]
	if !ok {
		return ErrInvoiceNotFound
	}
	inv.State = InvoiceSettled
	inv.Secret = secret
	return nil
}

func (w *InMemoryWallet) CancelHoldInvoice(ctx context.Context, paymentHash [32]byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	inv, ok := w.invoices[paymentHash]
	if !ok {
		return ErrInvoiceNotFound
	}
	inv.State = InvoiceCanceled
	return nil
}

// MarkHeld simulates an HTLC arriving for a pending invoice, with
// heldCltvExpiry as the HTLC's CLTV expiry block height; the caller
// subtracts the chain tip to get the remaining CLTV (spec.md §4.6
// htlcReceived).
func (w *InMemoryWallet) MarkHeld(paymentHash [32]byte, heldCltvExpiry int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	inv, ok := w.invoices[paymentHash]
	if !ok {
		return ErrInvoiceNotFound
	}
	inv.State = InvoiceHeld
	inv.HeldCltvExpiry = heldCltvExpiry
	return nil
}

// SetProbeResult configures what ProbeRoute returns for a given pr; nil
// means "no route".
func (w *InMemoryWallet) SetProbeResult(pr string, route *Route) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.probe[pr] = route
}

func (w *InMemoryWallet) ProbeRoute(ctx context.Context, pr string, maxFeeMsat int64, maxTimeoutHeight int64) (*Route, error) {
	if err := w.probeLimiter.Wait(ctx); err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	route, ok := w.probe[pr]
	if !ok || route == nil {
		return nil, nil
	}
	cp := *route
	return &cp, nil
}

func (w *InMemoryWallet) PayInvoice(ctx context.Context, pr string, maxFeeMsat int64, maxTimeoutHeight int64) error {
	return nil
}

// ResolvePayment delivers a terminal PaymentUpdate to every subscriber of
// paymentHash, simulating the Lightning node's eventual callback.
func (w *InMemoryWallet) ResolvePayment(paymentHash [32]byte, update PaymentUpdate) {
	w.mu.Lock()
	subs := append([]chan PaymentUpdate(nil), w.subs[paymentHash]...)
	w.mu.Unlock()
	for _, ch := range subs {
		ch <- update
	}
}

func (w *InMemoryWallet) SubscribeToPastPayment(ctx context.Context, paymentHash [32]byte) (<-chan PaymentUpdate, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	ch := make(chan PaymentUpdate, 1)
	w.subs[paymentHash] = append(w.subs[paymentHash], ch)
	return ch, nil
}

func (w *InMemoryWallet) ChainTipHeight(ctx context.Context) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tip, nil
}

func fakeBolt11(paymentHash [32]byte) string {
	var nonce [8]byte
	_, _ = rand.Read(nonce[:])
	sum := sha256.Sum256(append(paymentHash[:], nonce[:]...))
	return fmt.Sprintf("lnbc1p%x", sum[:16])
}
