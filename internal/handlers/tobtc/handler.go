// Package tobtc implements the ToBtc handler (spec.md §4.5): an
// on-chain Bitcoin payment gated by a smart-chain HTLC, using the
// locktime-nonce trick to bind a swap's payment hash without any extra
// on-chain output.
package tobtc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/atomicbridge/swapserver/internal/btcfee"
	"github.com/atomicbridge/swapserver/internal/btcrpc"
	"github.com/atomicbridge/swapserver/internal/config"
	"github.com/atomicbridge/swapserver/internal/models"
	"github.com/atomicbridge/swapserver/internal/storage"
	"github.com/atomicbridge/swapserver/internal/swapbase"
	"github.com/atomicbridge/swapserver/internal/swapcontract"
	"github.com/atomicbridge/swapserver/internal/wallet"
)

const Kind = "tobtc"

// ChangeAddressSource supplies a fresh change address for a payout
// transaction, backed by the intermediary's own HD wallet.
type ChangeAddressSource interface {
	NextChangeAddress(ctx context.Context) (address string, keyIndex uint32, err error)
}

// Handler implements the ToBtc swap type: the client funds a
// smart-chain HTLC, the intermediary sends BTC on-chain, and claims the
// HTLC once its own payment is sufficiently confirmed.
type Handler struct {
	swapbase.SwapHandlerBase
	RPC       btcrpc.BitcoinRpc
	Keys      *wallet.KeyService
	Change    ChangeAddressSource
	NetParams *chaincfg.Params
	Schedule  swapbase.FeeSchedule
}

// New builds a ToBtc handler.
func New(base swapbase.SwapHandlerBase, rpc btcrpc.BitcoinRpc, keys *wallet.KeyService, change ChangeAddressSource, net *chaincfg.Params, sched swapbase.FeeSchedule) *Handler {
	base.Kind = Kind
	return &Handler{SwapHandlerBase: base, RPC: rpc, Keys: keys, Change: change, NetParams: net, Schedule: sched}
}

func internalErr(err error) *swapbase.BusinessError {
	return swapbase.PluginError(err.Error())
}

// GetQuoteRequest is the shared input to getQuote/getQuoteCommit
// (spec.md §4.5).
type GetQuoteRequest struct {
	Address                    string
	AmountSats                 int64
	ExactOut                   bool
	Chain                      models.ChainIdentifier
	Token                      string
	Offerer                    string
	PreferedConfirmationTarget int
	ExpiryTimestamp            int64
}

// QuoteResponse is getQuote's/getQuoteCommit's output.
type QuoteResponse struct {
	Total            *models.BigInt
	SwapFee          *models.BigInt
	NetworkFee       *models.BigInt
	Amount           int64
	Data             []byte
	Signature        string
	PreferedFeeRate  int64
}

// GetQuote prices a ToBtc swap without persisting anything: a
// read-only preview of what getQuoteCommit would produce.
func (h *Handler) GetQuote(ctx context.Context, req GetQuoteRequest) (*QuoteResponse, *swapbase.BusinessError) {
	return h.quote(ctx, req, false)
}

// GetQuoteCommit prices, signs, and persists a SAVED ToBtc swap.
func (h *Handler) GetQuoteCommit(ctx context.Context, req GetQuoteRequest) (*QuoteResponse, *swapbase.BusinessError) {
	return h.quote(ctx, req, true)
}

func (h *Handler) quote(ctx context.Context, req GetQuoteRequest, commit bool) (*QuoteResponse, *swapbase.BusinessError) {
	contract, bizErr := h.Registry.Contract(req.Chain)
	if bizErr != nil {
		return nil, bizErr.(*swapbase.BusinessError)
	}
	if _, bizErr := h.Registry.Token(req.Chain, req.Token); bizErr != nil {
		return nil, bizErr.(*swapbase.BusinessError)
	}

	var quote *swapbase.Quote
	var q *swapbase.BusinessError
	if req.ExactOut {
		quote, q = swapbase.QuoteExactOut(h.Schedule, big.NewInt(req.AmountSats))
	} else {
		quote, q = swapbase.QuoteExactIn(h.Schedule, req.AmountSats)
	}
	if q != nil {
		return nil, q
	}

	feeRate, err := h.RPC.EstimateFeeRate(ctx, req.PreferedConfirmationTarget)
	if err != nil {
		return nil, internalErr(err)
	}

	outputScript, err := btcfee.PKScriptFromAddress(req.Address, h.NetParams)
	if err != nil {
		return nil, swapbase.NewBusinessError(swapbase.CodeInvalidRequestBody, err.Error(), nil)
	}

	utxos, err := h.RPC.ListUnspent(ctx)
	if err != nil {
		return nil, internalErr(err)
	}
	sel, err := btcfee.Select(utxos, quote.AmountSats, feeRate, true)
	if err != nil {
		return nil, swapbase.NewBusinessError(swapbase.CodeNotEnoughLiquidity, err.Error(), nil)
	}

	amountInToken, err := h.Oracle.GetToBtcSwapAmount(ctx, big.NewInt(quote.AmountSats), req.Chain, req.Token, false, nil)
	if err != nil {
		return nil, internalErr(err)
	}
	networkFeeInToken, err := h.Oracle.GetToBtcSwapAmount(ctx, big.NewInt(sel.FeeSats), req.Chain, req.Token, true, nil)
	if err != nil {
		return nil, internalErr(err)
	}
	swapFeeInToken, err := h.Oracle.GetToBtcSwapAmount(ctx, quote.SwapFeeSats, req.Chain, req.Token, true, nil)
	if err != nil {
		return nil, internalErr(err)
	}

	total := new(big.Int).Add(amountInToken, networkFeeInToken)
	total.Add(total, swapFeeInToken)

	if !commit {
		return &QuoteResponse{
			Total:           bigIntOf(total),
			SwapFee:         models.NewBigInt(quote.SwapFeeSats.Int64()),
			NetworkFee:      bigIntOf(networkFeeInToken),
			Amount:          quote.AmountSats,
			PreferedFeeRate: feeRate,
		}, nil
	}

	nonce, err := randomNonce()
	if err != nil {
		return nil, internalErr(err)
	}
	hash := btcfee.HashForOnchain(quote.AmountSats, outputScript, nonce)

	data := swapcontract.Data{
		Type:        swapcontract.TypeHTLC,
		PaymentHash: models.PaymentHash(hash),
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
	now := time.Now().Unix()
	data.SecurityDeposit = swapbase.SecurityDepositFor(refundFee, raw, total, h.Schedule, req.ExpiryTimestamp-now)

	signature, err := contract.SignClaimInitAuthorization(ctx, data, req.ExpiryTimestamp)
	if err != nil {
		return nil, internalErr(err)
	}

	id := h.Identity(req.Chain, data.PaymentHash, 0, false)
	swap := &models.ToBtcSwap{
		CommonFields: models.CommonFields{
			Identity:        id,
			ChainIdentifier: req.Chain,
			Data:            swapcontract.Encode(data),
			Metadata:        h.NewMetadata(ctx, id),
			SwapFee:         models.NewBigInt(quote.SwapFeeSats.Int64()),
			SwapFeeInToken:  bigIntOf(swapFeeInToken),
		},
		State:                      models.ToBtcSaved,
		Address:                    req.Address,
		AmountSats:                 quote.AmountSats,
		SatsPerVbyte:               feeRate,
		Nonce:                      nonce,
		PreferedConfirmationTarget: req.PreferedConfirmationTarget,
		SignatureExpiry:            req.ExpiryTimestamp,
		QuotedNetworkFee:           models.NewBigInt(sel.FeeSats),
		QuotedNetworkFeeInToken:    bigIntOf(networkFeeInToken),
	}
	if err := h.persist(ctx, swap); err != nil {
		return nil, internalErr(err)
	}

	return &QuoteResponse{
		Total:           bigIntOf(total),
		SwapFee:         models.NewBigInt(quote.SwapFeeSats.Int64()),
		NetworkFee:      bigIntOf(networkFeeInToken),
		Amount:          quote.AmountSats,
		Data:            swap.Data,
		Signature:       signature,
		PreferedFeeRate: feeRate,
	}, nil
}

// HandleEvent dispatches one SwapContract event (spec.md §4.5), serialized
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
	if swap.State != models.ToBtcSaved {
		return nil
	}
	swap.State = models.ToBtcCommited
	if err := h.persist(ctx, swap); err != nil {
		return err
	}
	return h.send(ctx, swap)
}

// send builds, signs, and broadcasts a payout transaction for a
// COMMITED swap (spec.md §4.5). On broadcast failure it retries once
// at double the quoted fee rate; the doubled rate is not capped.
func (h *Handler) send(ctx context.Context, swap *models.ToBtcSwap) error {
	if swap.State != models.ToBtcCommited {
		return nil
	}
	if swap.TxID != "" {
		return nil
	}

	now := time.Now().Unix()
	if swap.SignatureExpiry-now < int64(config.MinSendCltv) {
		swap.State = models.ToBtcNonPayable
		return h.persist(ctx, swap)
	}

	swap.State = models.ToBtcSending
	if err := h.persist(ctx, swap); err != nil {
		return err
	}

	txid, err := h.broadcast(ctx, swap, swap.SatsPerVbyte)
	if err != nil {
		bumped := swap.SatsPerVbyte * 2
		txid, err = h.broadcast(ctx, swap, bumped)
		if err != nil {
			slog.Error("tobtc: broadcast failed after fee bump retry", "identity", swap.Identity.String(), "error", err)
			swap.State = models.ToBtcCommited
			return h.persist(ctx, swap)
		}
	}

	swap.State = models.ToBtcSent
	swap.TxID = txid
	swap.TxIds.Init = txid
	return h.persist(ctx, swap)
}

func (h *Handler) broadcast(ctx context.Context, swap *models.ToBtcSwap, feeRate int64) (string, error) {
	utxos, err := h.RPC.ListUnspent(ctx)
	if err != nil {
		return "", err
	}
	sel, err := btcfee.Select(utxos, swap.AmountSats, feeRate, true)
	if err != nil {
		return "", err
	}
	if err := btcfee.CheckWeight(len(sel.Inputs), 2); err != nil {
		return "", err
	}

	changeAddr := ""
	if sel.ChangeSats > 0 {
		addr, _, err := h.Change.NextChangeAddress(ctx)
		if err != nil {
			return "", err
		}
		changeAddr = addr
	}

	msgTx, err := btcfee.BuildPayoutTx(sel, swap.Address, swap.AmountSats, changeAddr, swap.Nonce, h.NetParams)
	if err != nil {
		return "", err
	}

	signingInputs := make([]btcfee.SigningInput, len(sel.Inputs))
	for i, u := range sel.Inputs {
		privKey, err := h.Keys.DeriveBTCPrivateKey(ctx, u.KeyIndex)
		if err != nil {
			return "", err
		}
		signingInputs[i] = btcfee.SigningInput{
			TxID: u.TxID, Vout: u.Vout, AmountSats: u.AmountSats,
			PKScript: u.PkScript, PrivKey: privKey,
		}
	}
	if err := btcfee.SignPayoutTx(msgTx, signingInputs); err != nil {
		return "", err
	}

	rawHex, err := btcfee.SerializeTx(msgTx)
	if err != nil {
		return "", err
	}
	raw, err := hexDecode(rawHex)
	if err != nil {
		return "", err
	}
	txidHash, err := h.RPC.BroadcastTransaction(ctx, raw)
	if err != nil {
		return "", err
	}
	return txidHash.String(), nil
}

// Watch implements the watchdog check function (spec.md §4.5):
// COMMITED swaps retry send, BTC_SENT swaps are claimed once
// sufficiently confirmed, and double-spent BTC_SENT swaps restart from
// COMMITED.
func (h *Handler) Watch(ctx context.Context, rec storage.Record) error {
	var swap models.ToBtcSwap
	if err := json.Unmarshal(rec.Payload, &swap); err != nil {
		return fmt.Errorf("decode ToBtc record %s: %w", rec.Identity, err)
	}
	swap.Identity = rec.Identity

	return h.WithLock(rec.Identity, config.SwapLockLease, func() error {
		return h.reconcile(ctx, &swap)
	})
}

// reconcile is Watch's per-record body, run under the swap's lock so it
// never overlaps an in-flight event (spec.md §3, §5: at most one
// side-effect owner in flight per swap, serialized by a leased lock).
func (h *Handler) reconcile(ctx context.Context, swap *models.ToBtcSwap) error {
	now := time.Now().Unix()
	switch swap.State {
	case models.ToBtcSaved:
		if now > swap.SignatureExpiry {
			return h.Remove(ctx, swap.Identity)
		}
	case models.ToBtcCommited:
		return h.send(ctx, swap)
	case models.ToBtcSent:
		return h.checkConfirmations(ctx, swap)
	}
	return nil
}

func (h *Handler) checkConfirmations(ctx context.Context, swap *models.ToBtcSwap) error {
	hash, err := chainhash.NewHashFromStr(swap.TxID)
	if err != nil {
		return err
	}
	confs, err := h.RPC.GetTransactionConfirmations(ctx, *hash)
	if err == btcrpc.ErrBlockNotFound {
		slog.Warn("tobtc: sent transaction no longer found, restarting from COMMITED (double-spend)", "identity", swap.Identity.String())
		swap.State = models.ToBtcCommited
		swap.TxID = ""
		swap.TxIds.Init = ""
		return h.persist(ctx, swap)
	}
	if err != nil {
		return err
	}
	if confs < config.RequiredBTCConfirmations {
		return nil
	}
	return h.claim(ctx, swap, *hash)
}

func (h *Handler) claim(ctx context.Context, swap *models.ToBtcSwap, txid chainhash.Hash) error {
	contract, bizErr := h.Registry.Contract(swap.ChainIdentifier)
	if bizErr != nil {
		return bizErr
	}
	data, err := swapcontract.Decode(swap.Data)
	if err != nil {
		return err
	}
	secret := reverseHex(txid)
	claimTxID, err := contract.ClaimWithSecret(ctx, data, secret)
	if err != nil {
		slog.Error("tobtc: smart-chain claim failed after BTC sent and confirmed, funds at risk", "identity", swap.Identity.String(), "error", err)
		return err
	}
	swap.State = models.ToBtcClaimed
	swap.TxIds.Claim = claimTxID
	return h.persist(ctx, swap)
}

func (h *Handler) load(ctx context.Context, id models.SwapIdentity) (*models.ToBtcSwap, *swapbase.BusinessError) {
	var swap models.ToBtcSwap
	if err := h.Load(ctx, id, &swap, json.Unmarshal); err != nil {
		if bizErr, ok := err.(*swapbase.BusinessError); ok {
			return nil, bizErr
		}
		return nil, internalErr(err)
	}
	swap.Identity = id
	return &swap, nil
}

func (h *Handler) persist(ctx context.Context, swap *models.ToBtcSwap) error {
	payload, err := json.Marshal(swap)
	if err != nil {
		return fmt.Errorf("encode ToBtc record %s: %w", swap.Identity, err)
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
		"requiredConfirmations": config.RequiredBTCConfirmations,
	})
}
