// Package frombtcln implements the FromBtcLn handler (spec.md §4.6): the
// client pays a hold invoice the intermediary issues; once the HTLC
// lands, the intermediary commits a smart-chain escrow, and settles the
// invoice (revealing the preimage) only after observing the matching
// on-chain Claim.
package frombtcln

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/atomicbridge/swapserver/internal/config"
	"github.com/atomicbridge/swapserver/internal/lnwallet"
	"github.com/atomicbridge/swapserver/internal/models"
	"github.com/atomicbridge/swapserver/internal/storage"
	"github.com/atomicbridge/swapserver/internal/swapbase"
	"github.com/atomicbridge/swapserver/internal/swapcontract"
)

const Kind = "frombtcln"

// Handler implements the FromBtcLn swap type.
type Handler struct {
	swapbase.SwapHandlerBase
	LN       lnwallet.LightningWallet
	Schedule swapbase.FeeSchedule
}

// New builds a FromBtcLn handler.
func New(base swapbase.SwapHandlerBase, ln lnwallet.LightningWallet, sched swapbase.FeeSchedule) *Handler {
	base.Kind = Kind
	return &Handler{SwapHandlerBase: base, LN: ln, Schedule: sched}
}

func internalErr(err error) *swapbase.BusinessError {
	return swapbase.PluginError(err.Error())
}

// CreateInvoiceRequest is POST /createInvoice's input (spec.md §4.6).
type CreateInvoiceRequest struct {
	Address         string
	PaymentHash     models.PaymentHash
	AmountSats      int64
	Chain           models.ChainIdentifier
	Token           string
	DescriptionHash []byte
}

// CreateInvoiceResponse is POST /createInvoice's output.
type CreateInvoiceResponse struct {
	PR              string
	SwapFee         *models.BigInt
	Total           *models.BigInt
	SecurityDeposit *models.BigInt
}

// CreateInvoice issues a hold invoice for amountSats, ensuring the
// vault can cover the resulting total if the swap completes.
func (h *Handler) CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*CreateInvoiceResponse, *swapbase.BusinessError) {
	if _, bizErr := h.Registry.Contract(req.Chain); bizErr != nil {
		return nil, bizErr.(*swapbase.BusinessError)
	}
	if _, bizErr := h.Registry.Token(req.Chain, req.Token); bizErr != nil {
		return nil, bizErr.(*swapbase.BusinessError)
	}

	quote, bizErr := swapbase.QuoteExactIn(h.Schedule, req.AmountSats)
	if bizErr != nil {
		return nil, bizErr
	}

	totalInToken, err := h.Oracle.GetFromBtcSwapAmount(ctx, big.NewInt(quote.TotalSats), req.Chain, req.Token, false, nil)
	if err != nil {
		return nil, internalErr(err)
	}

	if h.Vault != nil {
		avail, err := h.Vault.AvailableBalance(ctx, req.Chain, req.Token)
		if err != nil {
			return nil, internalErr(err)
		}
		if avail.Int.Cmp(totalInToken) < 0 {
			return nil, swapbase.NewBusinessError(swapbase.CodeNotEnoughLiquidity, "insufficient vault balance", nil)
		}
	}

	id := h.Identity(req.Chain, req.PaymentHash, 0, false)
	if _, getErr := h.Storage.Get(ctx, id); getErr == nil {
		return nil, swapbase.NewBusinessError(swapbase.CodeAlreadyPaid, "swap already exists for this payment hash", nil)
	}

	now := time.Now().Unix()
	cltvDelta := config.MinCltvDelta + config.InvoiceCltvDeltaPadding
	expiresAt := now + config.InvoiceTimeoutSeconds

	inv, err := h.LN.CreateHoldInvoice(ctx, lnwallet.HoldInvoiceParams{
		PaymentHash: req.PaymentHash,
		AmountMsat:  req.AmountSats * 1000,
		CltvDelta:   cltvDelta,
		ExpiresAt:   expiresAt,
		Description: req.Address,
	})
	if err != nil {
		return nil, internalErr(err)
	}

	securityDeposit := swapbase.SecurityDepositFor(big.NewInt(0), true, totalInToken, h.Schedule, config.InvoiceTimeoutSeconds)

	swap := &models.FromBtcLnSwap{
		CommonFields: models.CommonFields{
			Identity:        id,
			ChainIdentifier: req.Chain,
			Metadata:        h.NewMetadata(ctx, id),
			SwapFee:         models.NewBigInt(quote.SwapFeeSats.Int64()),
		},
		State:               models.FromBtcLnCreated,
		PR:                  inv.PR,
		AuthorizationExpiry: expiresAt,
		SecurityDeposit:     bigIntOf(securityDeposit),
	}

	if err := h.persist(ctx, swap); err != nil {
		return nil, internalErr(err)
	}

	return &CreateInvoiceResponse{
		PR:              inv.PR,
		SwapFee:         models.NewBigInt(quote.SwapFeeSats.Int64()),
		Total:           bigIntOf(totalInToken),
		SecurityDeposit: bigIntOf(securityDeposit),
	}, nil
}

// GetInvoicePaymentAuth runs htlcReceived once the invoice has been
// held: re-checks the remaining CLTV, builds the smart-chain escrow
// data, and signs an init authorization (spec.md §4.6). The vault
// balance is not re-checked here; only CreateInvoice checks it. Callable
// both directly over HTTP and from the watchdog's CREATED-state retry,
// so the whole read-modify-persist sequence runs under the swap's lock
// (spec.md §5) to keep those two entry points from racing each other.
func (h *Handler) GetInvoicePaymentAuth(ctx context.Context, chain models.ChainIdentifier, hash models.PaymentHash) (signature string, data []byte, bizErr *swapbase.BusinessError) {
	id := h.Identity(chain, hash, 0, false)
	var sig string
	var payload []byte
	lockErr := h.WithLock(id, config.SwapLockLease, func() error {
		var fnErr *swapbase.BusinessError
		sig, payload, fnErr = h.getInvoicePaymentAuth(ctx, id)
		if fnErr != nil {
			return fnErr
		}
		return nil
	})
	if lockErr != nil {
		if be, ok := lockErr.(*swapbase.BusinessError); ok {
			return "", nil, be
		}
		return "", nil, internalErr(lockErr)
	}
	return sig, payload, nil
}

func (h *Handler) getInvoicePaymentAuth(ctx context.Context, id models.SwapIdentity) (signature string, data []byte, bizErr *swapbase.BusinessError) {
	chain, hash := id.ChainIdentifier, id.PaymentHash
	swap, bizErr := h.load(ctx, id)
	if bizErr != nil {
		return "", nil, bizErr
	}

	if swap.State == models.FromBtcLnReceived && swap.Signature != "" {
		return swap.Signature, swap.CommonFields.Data, nil
	}
	if swap.State != models.FromBtcLnCreated && swap.State != models.FromBtcLnReceived {
		return "", nil, swapbase.NewBusinessError(swapbase.CodeNotCommitted, "swap is not awaiting payment auth", nil)
	}

	inv, err := h.LN.LookupInvoice(ctx, hash)
	if err != nil {
		return "", nil, internalErr(err)
	}
	if inv.State != lnwallet.InvoiceHeld {
		return "", nil, swapbase.NewBusinessError(swapbase.CodeNotCommitted, "invoice not yet held", nil)
	}

	now := time.Now().Unix()
	tip, err := h.LN.ChainTipHeight(ctx)
	if err != nil {
		return "", nil, internalErr(err)
	}
	if inv.HeldCltvExpiry-tip < int64(config.MinSendCltv) {
		return "", nil, swapbase.NewBusinessError(swapbase.CodeNotEnoughTime, "remaining CLTV below minimum", nil)
	}

	contract, regErr := h.Registry.Contract(chain)
	if regErr != nil {
		return "", nil, regErr.(*swapbase.BusinessError)
	}

	expiry := now + int64(config.BitcoinBlocktime.Seconds())*config.MinCltvDelta*config.SafetyFactorPPM/config.PPMDenominator - int64(config.GracePeriod.Seconds())

	contractData := swapcontract.Data{
		Type:            swapcontract.TypeHTLC,
		PaymentHash:     hash,
		Amount:          new(big.Int).Quo(big.NewInt(inv.AmountMsat), big.NewInt(1000)),
		Expiry:          expiry,
		SecurityDeposit: &swap.SecurityDeposit.Int,
		PayIn:           false,
		PayOut:          true,
	}

	sig, err := contract.SignClaimInitAuthorization(ctx, contractData, expiry)
	if err != nil {
		return "", nil, internalErr(err)
	}

	swap.CommonFields.Data = swapcontract.Encode(contractData)
	swap.Signature = sig
	swap.AuthorizationExpiry = expiry
	swap.State = models.FromBtcLnReceived
	if err := h.persist(ctx, swap); err != nil {
		return "", nil, internalErr(err)
	}

	return sig, swap.CommonFields.Data, nil
}

// GetInvoiceStatus maps the swap's current state (and, before any HTLC
// state change, the underlying hold invoice's own state) onto the
// 1000x status codes a client polls (spec.md §6).
func (h *Handler) GetInvoiceStatus(ctx context.Context, chain models.ChainIdentifier, hash models.PaymentHash) (int, *swapbase.BusinessError) {
	id := h.Identity(chain, hash, 0, false)
	swap, bizErr := h.load(ctx, id)
	if bizErr != nil {
		if bizErr.Code != swapbase.CodeNotFound {
			return 0, bizErr
		}
		inv, err := h.LN.LookupInvoice(ctx, hash)
		if err != nil {
			return 0, internalErr(err)
		}
		return codeForInvoiceState(inv.State), nil
	}

	switch swap.State {
	case models.FromBtcLnCreated:
		inv, err := h.LN.LookupInvoice(ctx, hash)
		if err != nil {
			return 0, internalErr(err)
		}
		return codeForInvoiceState(inv.State), nil
	case models.FromBtcLnReceived, models.FromBtcLnCommited:
		return swapbase.CodeInvoiceHeld, nil
	case models.FromBtcLnClaimed, models.FromBtcLnSettled:
		return swapbase.CodeInvoiceSettled, nil
	case models.FromBtcLnCanceled, models.FromBtcLnRefunded:
		return swapbase.CodeInvoiceCanceled, nil
	default:
		return swapbase.CodeInvoicePending, nil
	}
}

func codeForInvoiceState(s lnwallet.InvoiceState) int {
	switch s {
	case lnwallet.InvoicePending:
		return swapbase.CodeInvoicePending
	case lnwallet.InvoiceHeld:
		return swapbase.CodeInvoiceHeld
	case lnwallet.InvoiceSettled:
		return swapbase.CodeInvoiceSettled
	case lnwallet.InvoiceCanceled:
		return swapbase.CodeInvoiceCanceled
	default:
		return swapbase.CodeInvoicePending
	}
}

// HandleEvent dispatches one SwapContract event (spec.md §4.6), serialized
// against this swap's watchdog pass and any other in-flight event by the
// per-swap lock (spec.md §5).
func (h *Handler) HandleEvent(ctx context.Context, ev swapcontract.Event) error {
	id := h.Identity(ev.ChainID, ev.PaymentHash, ev.Sequence, ev.HasSequence)
	switch ev.Kind {
	case swapcontract.EventInitialize:
		return h.WithLock(id, config.SwapLockLease, func() error {
			return h.onInitialize(ctx, id)
		})
	case swapcontract.EventClaim:
		return h.WithLock(id, config.SwapLockLease, func() error {
			return h.onClaim(ctx, id, ev.Secret)
		})
	case swapcontract.EventRefund:
		return h.WithLock(id, config.SwapLockLease, func() error {
			return h.onRefund(ctx, id)
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
	if swap.State != models.FromBtcLnReceived {
		return nil
	}
	swap.State = models.FromBtcLnCommited
	return h.persist(ctx, swap)
}

func (h *Handler) onClaim(ctx context.Context, id models.SwapIdentity, secret string) error {
	swap, bizErr := h.load(ctx, id)
	if bizErr != nil {
		if bizErr.Code == swapbase.CodeNotFound {
			return nil
		}
		return bizErr
	}
	return h.settle(ctx, swap, secret)
}

func (h *Handler) settle(ctx context.Context, swap *models.FromBtcLnSwap, secret string) error {
	swap.Secret = secret
	if err := h.LN.SettleHoldInvoice(ctx, swap.Identity.PaymentHash, secret); err != nil {
		slog.Error("frombtcln: settle hold invoice failed after on-chain claim, preimage already public", "identity", swap.Identity.String(), "error", err)
		swap.State = models.FromBtcLnClaimed
		return h.persist(ctx, swap)
	}
	swap.State = models.FromBtcLnSettled
	if err := h.persist(ctx, swap); err != nil {
		return err
	}
	return h.Remove(ctx, swap.Identity)
}

func (h *Handler) onRefund(ctx context.Context, id models.SwapIdentity) error {
	swap, bizErr := h.load(ctx, id)
	if bizErr != nil {
		if bizErr.Code == swapbase.CodeNotFound {
			return nil
		}
		return bizErr
	}
	if err := h.LN.CancelHoldInvoice(ctx, id.PaymentHash); err != nil {
		slog.Warn("frombtcln: cancel hold invoice after refund failed", "identity", id.String(), "error", err)
	}
	swap.State = models.FromBtcLnRefunded
	if err := h.persist(ctx, swap); err != nil {
		return err
	}
	return h.Remove(ctx, id)
}

// Watch implements the watchdog check function (spec.md §4.6). The
// FromBtcLnCreated case delegates to GetInvoicePaymentAuth, which holds its
// own per-swap lock, so it runs outside reconcile's lock to avoid
// self-contention; every other state mutates under the lock.
func (h *Handler) Watch(ctx context.Context, rec storage.Record) error {
	var swap models.FromBtcLnSwap
	if err := json.Unmarshal(rec.Payload, &swap); err != nil {
		return fmt.Errorf("decode FromBtcLn record %s: %w", rec.Identity, err)
	}
	swap.Identity = rec.Identity

	if swap.State == models.FromBtcLnCreated {
		inv, err := h.LN.LookupInvoice(ctx, rec.Identity.PaymentHash)
		if err == nil && inv.State == lnwallet.InvoiceHeld {
			_, _, bizErr := h.GetInvoicePaymentAuth(ctx, rec.Identity.ChainIdentifier, rec.Identity.PaymentHash)
			if bizErr != nil {
				slog.Warn("frombtcln: watchdog htlcReceived retry failed", "identity", rec.Identity.String(), "error", bizErr)
			}
			return nil
		}
		return h.WithLock(rec.Identity, config.SwapLockLease, func() error {
			return h.reconcileCreated(ctx, &swap)
		})
	}

	return h.WithLock(rec.Identity, config.SwapLockLease, func() error {
		return h.reconcile(ctx, &swap)
	})
}

func (h *Handler) reconcileCreated(ctx context.Context, swap *models.FromBtcLnSwap) error {
	if time.Now().Unix() > swap.AuthorizationExpiry {
		_ = h.LN.CancelHoldInvoice(ctx, swap.Identity.PaymentHash)
		return h.Remove(ctx, swap.Identity)
	}
	return nil
}

// reconcile is Watch's per-record body for every state but
// FromBtcLnCreated, run under the swap's lock so it never overlaps an
// in-flight event (spec.md §3, §5).
func (h *Handler) reconcile(ctx context.Context, swap *models.FromBtcLnSwap) error {
	now := time.Now().Unix()
	switch swap.State {
	case models.FromBtcLnReceived:
		if now > swap.AuthorizationExpiry {
			_ = h.LN.CancelHoldInvoice(ctx, swap.Identity.PaymentHash)
			swap.State = models.FromBtcLnCanceled
			return h.persist(ctx, swap)
		}
	case models.FromBtcLnClaimed:
		return h.settle(ctx, swap, swap.Secret)
	case models.FromBtcLnCanceled:
		_ = h.LN.CancelHoldInvoice(ctx, swap.Identity.PaymentHash)
		return h.Remove(ctx, swap.Identity)
	}
	return nil
}

func (h *Handler) load(ctx context.Context, id models.SwapIdentity) (*models.FromBtcLnSwap, *swapbase.BusinessError) {
	var swap models.FromBtcLnSwap
	if err := h.Load(ctx, id, &swap, json.Unmarshal); err != nil {
		if bizErr, ok := err.(*swapbase.BusinessError); ok {
			return nil, bizErr
		}
		return nil, internalErr(err)
	}
	swap.Identity = id
	return &swap, nil
}

func (h *Handler) persist(ctx context.Context, swap *models.FromBtcLnSwap) error {
	payload, err := json.Marshal(swap)
	if err != nil {
		return fmt.Errorf("encode FromBtcLn record %s: %w", swap.Identity, err)
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
