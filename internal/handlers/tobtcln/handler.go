// Package tobtcln implements the ToBtcLn handler (spec.md §4.4): an
// outbound Lightning payment gated by a smart-chain HTLC the client
// funds up front. The intermediary never risks BTC first — it only
// dispatches the Lightning payment once the client's on-chain escrow is
// confirmed.
package tobtcln

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/atomicbridge/swapserver/internal/config"
	"github.com/atomicbridge/swapserver/internal/lnwallet"
	"github.com/atomicbridge/swapserver/internal/models"
	"github.com/atomicbridge/swapserver/internal/storage"
	"github.com/atomicbridge/swapserver/internal/swapbase"
	"github.com/atomicbridge/swapserver/internal/swapcontract"
)

const Kind = "tobtcln"

// Handler implements the ToBtcLn swap type, paying a BOLT-11 invoice the
// client supplies out of the intermediary's own Lightning channels once
// the client has funded an HTLC on the smart chain (spec.md §4.4).
type Handler struct {
	swapbase.SwapHandlerBase
	LN       lnwallet.LightningWallet
	Schedule swapbase.FeeSchedule

	// awaiting tracks payment hashes with an active SubscribeToPastPayment
	// goroutine, so a re-entry (event replay, watchdog retry) never opens
	// a second subscription for the same payment (spec.md §5, §8: exactly
	// one subscription active per pending LN payment).
	awaiting sync.Map
}

// New builds a ToBtcLn handler, pinning base.Kind so storage/watchdog
// queries resolve to this handler's records only.
func New(base swapbase.SwapHandlerBase, ln lnwallet.LightningWallet, sched swapbase.FeeSchedule) *Handler {
	base.Kind = Kind
	return &Handler{SwapHandlerBase: base, LN: ln, Schedule: sched}
}

func minTsSendCltv() int64 {
	return int64(config.GracePeriod.Seconds()) + int64(config.BitcoinBlocktime.Seconds())*config.MinSendCltv*config.SafetyFactorPPM/config.PPMDenominator
}

func internalErr(err error) *swapbase.BusinessError {
	return swapbase.PluginError(err.Error())
}

// PayInvoiceRequest is POST /payInvoice's input (spec.md §4.4). The
// invoice is decoded upstream of the core (BOLT-11 parsing is Lightning-
// protocol glue, out of scope per spec.md §1) so the handler receives its
// payment hash, millisatoshi amount, and expiry already extracted.
type PayInvoiceRequest struct {
	PR              string
	PaymentHash     models.PaymentHash
	AmountMsat      int64
	InvoiceExpiry   int64 // unix seconds the invoice itself expires
	MaxFeeSats      int64
	ExpiryTimestamp int64 // unix seconds the client wants the smart-chain escrow to expire at
	Chain           models.ChainIdentifier
	Token           string
	Offerer         string
}

// PayInvoiceResponse is POST /payInvoice's output (spec.md §4.4).
type PayInvoiceResponse struct {
	Total      *models.BigInt
	MaxFee     *models.BigInt
	SwapFee    *models.BigInt
	Confidence float64
	Data       []byte
	Signature  string
}

// PayInvoice validates, probes a route, prices, and signs a claim-init
// authorization for a ToBtcLn swap, persisting it as SAVED.
func (h *Handler) PayInvoice(ctx context.Context, req PayInvoiceRequest) (*PayInvoiceResponse, *swapbase.BusinessError) {
	now := time.Now().Unix()

	if req.InvoiceExpiry <= now {
		return nil, swapbase.NewBusinessError(swapbase.CodeNotEnoughTime, "invoice already expired", nil)
	}
	if req.ExpiryTimestamp-now < minTsSendCltv() {
		return nil, swapbase.NewBusinessError(swapbase.CodeNotEnoughTime, "expiry too close", nil)
	}

	contract, bizErr := h.Registry.Contract(req.Chain)
	if bizErr != nil {
		return nil, bizErr.(*swapbase.BusinessError)
	}
	if _, bizErr := h.Registry.Token(req.Chain, req.Token); bizErr != nil {
		return nil, bizErr.(*swapbase.BusinessError)
	}

	id := h.Identity(req.Chain, req.PaymentHash, 0, false)
	if _, getErr := h.Storage.Get(ctx, id); getErr == nil {
		return nil, swapbase.NewBusinessError(swapbase.CodeAlreadyPaid, "swap already exists for this payment hash", nil)
	}

	amountSats := req.AmountMsat / 1000
	quote, bizErr2 := swapbase.QuoteExactIn(h.Schedule, amountSats)
	if bizErr2 != nil {
		return nil, bizErr2
	}

	tip, err := h.LN.ChainTipHeight(ctx)
	if err != nil {
		return nil, internalErr(err)
	}
	route, err := h.LN.ProbeRoute(ctx, req.PR, req.MaxFeeSats*1000, tip+config.MaxUsableCltv)
	if err != nil {
		return nil, swapbase.NewBusinessError(swapbase.CodeNoRoute, err.Error(), nil)
	}
	if route == nil {
		return nil, swapbase.NewBusinessError(swapbase.CodeNoRoute, "no route found", nil)
	}

	amountInToken, err := h.Oracle.GetFromBtcSwapAmount(ctx, big.NewInt(amountSats), req.Chain, req.Token, true, nil)
	if err != nil {
		return nil, internalErr(err)
	}
	maxFeeInToken, err := h.Oracle.GetFromBtcSwapAmount(ctx, big.NewInt(req.MaxFeeSats), req.Chain, req.Token, true, nil)
	if err != nil {
		return nil, internalErr(err)
	}
	swapFeeInToken, err := h.Oracle.GetFromBtcSwapAmount(ctx, quote.SwapFeeSats, req.Chain, req.Token, true, nil)
	if err != nil {
		return nil, internalErr(err)
	}

	total := new(big.Int).Add(amountInToken, maxFeeInToken)
	total.Add(total, swapFeeInToken)

	data := swapcontract.Data{
		Type:        swapcontract.TypeHTLC,
		PaymentHash: req.PaymentHash,
		Amount:      total,
		Token:       req.Token,
		Expiry:      req.ExpiryTimestamp,
		Offerer:     req.Offerer,
		PayIn:       true,
		PayOut:      false,
	}

	refundFee, raw, err := contract.GetRefundFee(ctx, data)
	if err != nil {
		return nil, internalErr(err)
	}
	data.SecurityDeposit = swapbase.SecurityDepositFor(refundFee, raw, total, h.Schedule, req.ExpiryTimestamp-now)

	signature, err := contract.SignClaimInitAuthorization(ctx, data, req.ExpiryTimestamp)
	if err != nil {
		return nil, internalErr(err)
	}

	swap := &models.ToBtcLnSwap{
		CommonFields: models.CommonFields{
			Identity:        id,
			ChainIdentifier: req.Chain,
			Data:            swapcontract.Encode(data),
			Metadata:        h.NewMetadata(ctx, id),
			SwapFee:         models.NewBigInt(quote.SwapFeeSats.Int64()),
			SwapFeeInToken:  bigIntOf(swapFeeInToken),
		},
		State:                   models.ToBtcLnSaved,
		PR:                      req.PR,
		SignatureExpiry:         req.ExpiryTimestamp,
		QuotedNetworkFee:        models.NewBigInt(req.MaxFeeSats),
		QuotedNetworkFeeInToken: bigIntOf(maxFeeInToken),
	}

	if err := h.persist(ctx, swap); err != nil {
		return nil, internalErr(err)
	}

	return &PayInvoiceResponse{
		Total:      bigIntOf(total),
		MaxFee:     models.NewBigInt(req.MaxFeeSats),
		SwapFee:    models.NewBigInt(quote.SwapFeeSats.Int64()),
		Confidence: route.Confidence,
		Data:       swap.Data,
		Signature:  signature,
	}, nil
}

// GetRefundAuthorization returns a refund signature once a ToBtcLn swap
// has become unfulfillable, or reports AlreadyPaid with the preimage if
// the Lightning payment has in fact confirmed (spec.md §4.4).
func (h *Handler) GetRefundAuthorization(ctx context.Context, chain models.ChainIdentifier, hash models.PaymentHash) (signature string, bizErr *swapbase.BusinessError) {
	id := h.Identity(chain, hash, 0, false)
	swap, bizErr := h.load(ctx, id)
	if bizErr != nil {
		return "", bizErr
	}

	if swap.Secret != "" {
		return "", swapbase.NewBusinessError(swapbase.CodeAlreadyPaid, "payment already confirmed", map[string]string{"secret": swap.Secret})
	}
	if swap.State != models.ToBtcLnNonPayable && swap.State != models.ToBtcLnCommited {
		return "", swapbase.NewBusinessError(swapbase.CodeNotCommitted, "swap is not refundable", nil)
	}

	contract, regErr := h.Registry.Contract(chain)
	if regErr != nil {
		return "", regErr.(*swapbase.BusinessError)
	}
	data, err := swapcontract.Decode(swap.Data)
	if err != nil {
		return "", internalErr(err)
	}
	sig, err := contract.SignRefundAuthorization(ctx, data)
	if err != nil {
		return "", internalErr(err)
	}
	return sig, nil
}

// HandleEvent dispatches one SwapContract event to this handler's state
// machine (spec.md §4.4 event handling), serialized against the swap's
// watchdog pass and any other in-flight event by the per-swap lock
// (spec.md §5).
func (h *Handler) HandleEvent(ctx context.Context, ev swapcontract.Event) error {
	id := h.Identity(ev.ChainID, ev.PaymentHash, ev.Sequence, ev.HasSequence)
	switch ev.Kind {
	case swapcontract.EventInitialize:
		return h.WithLock(id, config.SwapLockLease, func() error {
			return h.onInitialize(ctx, id)
		})
	case swapcontract.EventClaim:
		return h.WithLock(id, config.SwapLockLease, func() error {
			return h.Remove(ctx, id)
		})
	}
	return nil
}

func (h *Handler) onInitialize(ctx context.Context, id models.SwapIdentity) error {
	swap, bizErr := h.load(ctx, id)
	if bizErr != nil {
		if bizErr.Code == swapbase.CodeNotFound {
			return nil
		}
		return bizErr
	}
	if swap.State != models.ToBtcLnSaved {
		return nil
	}
	swap.State = models.ToBtcLnCommited
	if err := h.persist(ctx, swap); err != nil {
		return err
	}
	return h.processInitialized(ctx, swap)
}

// processInitialized advances a COMMITED swap: dispatches the Lightning
// payment if none has been attempted yet, or re-subscribes to its
// outcome if one is already in flight (spec.md §4.4, also the watchdog's
// re-entry point after a restart).
func (h *Handler) processInitialized(ctx context.Context, swap *models.ToBtcLnSwap) error {
	if swap.State != models.ToBtcLnCommited {
		return nil
	}

	if swap.Secret != "" {
		return h.claim(ctx, swap)
	}

	if swap.PaymentDispatched {
		h.ensureAwaitingPayment(swap.Identity)
		return nil
	}

	now := time.Now().Unix()
	if swap.SignatureExpiry-now < minTsSendCltv() {
		swap.State = models.ToBtcLnNonPayable
		return h.persist(ctx, swap)
	}

	tip, err := h.LN.ChainTipHeight(ctx)
	if err != nil {
		return err
	}
	maxFeeMsat := swap.QuotedNetworkFee.Int64() * 1000
	if err := h.LN.PayInvoice(ctx, swap.PR, maxFeeMsat, tip+config.MaxUsableCltv); err != nil {
		return err
	}
	swap.PaymentDispatched = true
	if err := h.persist(ctx, swap); err != nil {
		return err
	}
	h.ensureAwaitingPayment(swap.Identity)
	return nil
}

// ensureAwaitingPayment starts awaitPayment for id unless a subscription
// for it is already running, so a watchdog re-entry or replayed event
// never piles up a second goroutine racing the first to claim.
func (h *Handler) ensureAwaitingPayment(id models.SwapIdentity) {
	key := id.String()
	if _, already := h.awaiting.LoadOrStore(key, struct{}{}); already {
		return
	}
	go func() {
		defer h.awaiting.Delete(key)
		h.awaitPayment(context.Background(), id)
	}()
}

func (h *Handler) awaitPayment(ctx context.Context, id models.SwapIdentity) {
	ch, err := h.LN.SubscribeToPastPayment(ctx, id.PaymentHash)
	if err != nil {
		slog.Error("tobtcln: subscribe to past payment failed", "identity", id.String(), "error", err)
		return
	}
	update := <-ch

	err = h.WithLock(id, config.SwapLockLease, func() error {
		swap, bizErr := h.load(ctx, id)
		if bizErr != nil {
			return bizErr
		}

		if update.Succeeded {
			swap.Secret = update.Secret
			swap.RealNetworkFee = models.NewBigInt(update.FeeMsat / 1000)
			if err := h.persist(ctx, swap); err != nil {
				return err
			}
			return h.claim(ctx, swap)
		}

		if update.Failed {
			slog.Warn("tobtcln: LN payment failed, swap stays COMMITED pending escrow expiry", "identity", id.String())
		}
		return nil
	})
	if err != nil {
		slog.Error("tobtcln: settling payment outcome failed, funds may be at risk", "identity", id.String(), "error", err)
	}
}

func (h *Handler) claim(ctx context.Context, swap *models.ToBtcLnSwap) error {
	contract, bizErr := h.Registry.Contract(swap.ChainIdentifier)
	if bizErr != nil {
		return bizErr
	}
	data, err := swapcontract.Decode(swap.Data)
	if err != nil {
		return err
	}
	txid, err := contract.ClaimWithSecret(ctx, data, swap.Secret)
	if err != nil {
		slog.Error("tobtcln: smart-chain claim failed after LN payment confirmed, funds at risk", "identity", swap.Identity.String(), "error", err)
		return err
	}
	swap.State = models.ToBtcLnClaimed
	swap.TxIds.Claim = txid
	return h.persist(ctx, swap)
}

// Watch implements the watchdog check function (spec.md §4.4): SAVED
// swaps past their signature expiry are removed; COMMITED
// swaps re-run processInitialized to tolerate a missed Initialize event
// or a process restart mid-payment.
func (h *Handler) Watch(ctx context.Context, rec storage.Record) error {
	var swap models.ToBtcLnSwap
	if err := json.Unmarshal(rec.Payload, &swap); err != nil {
		return fmt.Errorf("decode ToBtcLn record %s: %w", rec.Identity, err)
	}
	swap.Identity = rec.Identity

	return h.WithLock(rec.Identity, config.SwapLockLease, func() error {
		return h.reconcile(ctx, &swap)
	})
}

// reconcile is Watch's per-record body, run under the swap's lock so it
// never overlaps an in-flight event (spec.md §3, §5).
func (h *Handler) reconcile(ctx context.Context, swap *models.ToBtcLnSwap) error {
	now := time.Now().Unix()
	switch swap.State {
	case models.ToBtcLnSaved:
		if now > swap.SignatureExpiry {
			return h.Remove(ctx, swap.Identity)
		}
	case models.ToBtcLnCommited:
		return h.processInitialized(ctx, swap)
	}
	return nil
}

func (h *Handler) load(ctx context.Context, id models.SwapIdentity) (*models.ToBtcLnSwap, *swapbase.BusinessError) {
	var swap models.ToBtcLnSwap
	if err := h.Load(ctx, id, &swap, json.Unmarshal); err != nil {
		if bizErr, ok := err.(*swapbase.BusinessError); ok {
			return nil, bizErr
		}
		return nil, internalErr(err)
	}
	swap.Identity = id
	return &swap, nil
}

func (h *Handler) persist(ctx context.Context, swap *models.ToBtcLnSwap) error {
	payload, err := json.Marshal(swap)
	if err != nil {
		return fmt.Errorf("encode ToBtcLn record %s: %w", swap.Identity, err)
	}
	return h.Save(ctx, swap.Identity, payload)
}

func bigIntOf(v *big.Int) *models.BigInt {
	b := models.ZeroBigInt()
	b.Int.Set(v)
	return b
}

// GetInfo reports this handler's fee schedule and allowed tokens for
// client discovery (spec.md §4.8).
func (h *Handler) GetInfo() swapbase.ServiceInfo {
	return h.SwapHandlerBase.BuildServiceInfo(h.Schedule, map[string]any{
		"minCltvDelta": config.MinCltvDelta,
	})
}
