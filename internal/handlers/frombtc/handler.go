// Package frombtc implements the FromBtc handler (spec.md §4.7): the
// client pays a per-swap Bitcoin address on-chain, proves it with a
// Merkle inclusion proof, and the intermediary pays out on the smart
// chain.
package frombtc

import (
	"bytes"
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
)

const Kind = "frombtc"

// ReceiveAddressSource hands out a fresh per-swap receive address.
type ReceiveAddressSource interface {
	NextAddress(ctx context.Context) (address string, index uint32, err error)
}

// Handler implements the FromBtc swap type.
type Handler struct {
	swapbase.SwapHandlerBase
	RPC       btcrpc.BitcoinRpc
	Addresses ReceiveAddressSource
	NetParams *chaincfg.Params
	Schedule  swapbase.FeeSchedule
}

// New builds a FromBtc handler.
func New(base swapbase.SwapHandlerBase, rpc btcrpc.BitcoinRpc, addrs ReceiveAddressSource, net *chaincfg.Params, sched swapbase.FeeSchedule) *Handler {
	base.Kind = Kind
	return &Handler{SwapHandlerBase: base, RPC: rpc, Addresses: addrs, NetParams: net, Schedule: sched}
}

func internalErr(err error) *swapbase.BusinessError {
	return swapbase.PluginError(err.Error())
}

// GetAddressRequest is POST /getAddress's input (spec.md §4.7).
type GetAddressRequest struct {
	AmountSats      int64
	ExactOut        bool
	Sequence        models.Sequence
	ClaimerBounty   *big.Int
	PreferedFeeRate int64
	Chain           models.ChainIdentifier
	Token           string
	Claimer         string
	ExpiryTimestamp int64
}

// GetAddressResponse is getAddress's output. SignDataPrefetch carries
// the partial payload the streaming HTTP layer writes as its first
// frame before the remaining fields are ready (spec.md §4.7).
type GetAddressResponse struct {
	Address          string
	AmountSats       int64
	Total            *models.BigInt
	SwapFee          *models.BigInt
	SecurityDeposit  *models.BigInt
	ClaimerBounty    *models.BigInt
	Data             []byte
	Signature        string
	SignDataPrefetch []byte
}

// GetAddress derives a fresh receive address, prices the swap, signs a
// claim-init authorization, and persists it as CREATED.
func (h *Handler) GetAddress(ctx context.Context, req GetAddressRequest) (*GetAddressResponse, *swapbase.BusinessError) {
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

	address, index, err := h.Addresses.NextAddress(ctx)
	if err != nil {
		return nil, internalErr(err)
	}
	outputScript, err := btcfee.PKScriptFromAddress(address, h.NetParams)
	if err != nil {
		return nil, internalErr(err)
	}
	hash := btcfee.HashForOnchain(quote.AmountSats, outputScript, 0)

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

	data := swapcontract.Data{
		Type:        swapcontract.TypeCHAIN,
		PaymentHash: models.PaymentHash(hash),
		Sequence:    req.Sequence,
		Amount:      totalInToken,
		Token:       req.Token,
		Expiry:      req.ExpiryTimestamp,
		Claimer:     req.Claimer,
		PayIn:       false,
		PayOut:      true,
	}

	refundFee, raw, err := contract.GetRefundFee(ctx, data)
	if err != nil {
		return nil, internalErr(err)
	}
	now := time.Now().Unix()
	securityDeposit := swapbase.SecurityDepositFor(refundFee, raw, totalInToken, h.Schedule, req.ExpiryTimestamp-now)
	data.SecurityDeposit = securityDeposit

	claimerBounty := req.ClaimerBounty
	if claimerBounty == nil {
		claimerBounty = swapbase.ClaimerBountyFor(refundFee, 0, req.ExpiryTimestamp, now, big.NewInt(0))
	}
	data.ClaimerBounty = claimerBounty

	signDataPrefetch := swapcontract.Encode(data)

	signature, err := contract.SignClaimInitAuthorization(ctx, data, req.ExpiryTimestamp)
	if err != nil {
		return nil, internalErr(err)
	}

	id := h.Identity(req.Chain, data.PaymentHash, req.Sequence, true)
	swap := &models.FromBtcSwap{
		CommonFields: models.CommonFields{
			Identity:        id,
			ChainIdentifier: req.Chain,
			Data:            swapcontract.Encode(data),
			Metadata:        h.NewMetadata(ctx, id),
			SwapFee:         models.NewBigInt(quote.SwapFeeSats.Int64()),
		},
		State:               models.FromBtcCreated,
		Address:             address,
		AmountSats:          quote.AmountSats,
		AddressIndex:        index,
		AuthorizationExpiry: req.ExpiryTimestamp,
		SecurityDeposit:     bigIntOf(securityDeposit),
		ClaimerBounty:       bigIntOf(claimerBounty),
	}
	if err := h.persist(ctx, swap); err != nil {
		return nil, internalErr(err)
	}

	return &GetAddressResponse{
		Address:          address,
		AmountSats:       quote.AmountSats,
		Total:            bigIntOf(totalInToken),
		SwapFee:          models.NewBigInt(quote.SwapFeeSats.Int64()),
		SecurityDeposit:  bigIntOf(securityDeposit),
		ClaimerBounty:    bigIntOf(claimerBounty),
		Data:             swap.Data,
		Signature:        signature,
		SignDataPrefetch: signDataPrefetch,
	}, nil
}

// HandleEvent dispatches one SwapContract event (spec.md §4.7), serialized
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
			return h.onClaim(ctx, id, ev.TxID)
		})
	case swapcontract.EventRefund:
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
	if swap.State != models.FromBtcCreated {
		return nil
	}
	swap.State = models.FromBtcCommited
	return h.persist(ctx, swap)
}

func (h *Handler) onClaim(ctx context.Context, id models.SwapIdentity, txID string) error {
	swap, bizErr := h.load(ctx, id)
	if bizErr != nil {
		if bizErr.Code == swapbase.CodeNotFound {
			return nil
		}
		return bizErr
	}
	swap.State = models.FromBtcClaimed
	swap.TxIds.Claim = txID
	if err := h.persist(ctx, swap); err != nil {
		return err
	}
	return h.Remove(ctx, id)
}

// Watch implements the watchdog check function (spec.md §4.7): a
// CREATED swap is watched for its incoming payment and claimed via a
// Merkle proof once confirmed; an expired CREATED swap with no on-chain
// commit is canceled; a COMMITED swap past its smart-chain expiry is
// left for the refund path.
func (h *Handler) Watch(ctx context.Context, rec storage.Record) error {
	var swap models.FromBtcSwap
	if err := json.Unmarshal(rec.Payload, &swap); err != nil {
		return fmt.Errorf("decode FromBtc record %s: %w", rec.Identity, err)
	}
	swap.Identity = rec.Identity

	return h.WithLock(rec.Identity, config.SwapLockLease, func() error {
		return h.reconcile(ctx, &swap)
	})
}

// reconcile is Watch's per-record body, run under the swap's lock so it
// never overlaps an in-flight event (spec.md §3, §5).
func (h *Handler) reconcile(ctx context.Context, swap *models.FromBtcSwap) error {
	now := time.Now().Unix()

	switch swap.State {
	case models.FromBtcCreated:
		if err := h.checkIncomingPayment(ctx, swap); err != nil {
			return err
		}
		if swap.State != models.FromBtcCreated {
			return nil
		}
		if now > swap.AuthorizationExpiry {
			contract, err := h.Registry.Contract(swap.Identity.ChainIdentifier)
			if err == nil {
				state, cerr := contract.GetCommittedState(ctx, swap.Identity.PaymentHash, swap.Identity.Sequence, swap.Identity.HasSequence)
				if cerr == nil && state.Exists {
					swap.State = models.FromBtcCommited
					return h.persist(ctx, swap)
				}
			}
			swap.State = models.FromBtcCanceled
			if err := h.persist(ctx, swap); err != nil {
				return err
			}
			return h.Remove(ctx, swap.Identity)
		}
	}
	return nil
}

// checkIncomingPayment looks for a payment to swap.Address, recording
// its txid on first sight, then, once it clears
// config.RequiredBTCConfirmations, builds a Merkle proof and claims the
// smart-chain side.
func (h *Handler) checkIncomingPayment(ctx context.Context, swap *models.FromBtcSwap) error {
	if swap.TxID == "" {
		found, err := h.findIncomingUTXO(ctx, swap)
		if err != nil {
			return err
		}
		if found == nil {
			return nil
		}
		swap.TxID = found.TxID.String()
		if err := h.persist(ctx, swap); err != nil {
			return err
		}
	}
	hash, err := chainhash.NewHashFromStr(swap.TxID)
	if err != nil {
		return err
	}
	confs, err := h.RPC.GetTransactionConfirmations(ctx, *hash)
	if err != nil {
		if err == btcrpc.ErrBlockNotFound {
			return nil
		}
		return err
	}
	swap.Confirmations = confs
	if confs < config.RequiredBTCConfirmations {
		return h.persist(ctx, swap)
	}

	tip, err := h.RPC.ChainTipHeight(ctx)
	if err != nil {
		return err
	}
	minHeight := tip - config.RequiredBTCConfirmations - 10
	proof, err := h.RPC.GetTransactionMerkle(ctx, *hash, minHeight)
	if err != nil {
		return err
	}

	contract, bizErr := h.Registry.Contract(swap.ChainIdentifier)
	if bizErr != nil {
		return bizErr
	}
	data, err := swapcontract.Decode(swap.Data)
	if err != nil {
		return err
	}

	chainProof := swapcontract.ChainProof{
		ReversedTxID: [32]byte(proof.ReversedTxID),
		Pos:          proof.Pos,
		BlockHeight:  proof.BlockHeight,
	}
	for _, node := range proof.Merkle {
		chainProof.Merkle = append(chainProof.Merkle, [32]byte(node))
	}

	claimTxID, err := contract.ClaimWithProof(ctx, data, chainProof)
	if err != nil {
		slog.Error("frombtc: smart-chain claim failed after BTC payment confirmed, funds owed to claimer", "identity", swap.Identity.String(), "error", err)
		return err
	}
	swap.State = models.FromBtcClaimed
	swap.TxIds.Claim = claimTxID
	return h.persist(ctx, swap)
}

// findIncomingUTXO scans the wallet's current UTXO set for an output
// paying swap.Address, identified by matching pkScript (the same
// derivation the getAddress response itself used).
func (h *Handler) findIncomingUTXO(ctx context.Context, swap *models.FromBtcSwap) (*btcrpc.UTXO, error) {
	wantScript, err := btcfee.PKScriptFromAddress(swap.Address, h.NetParams)
	if err != nil {
		return nil, err
	}
	utxos, err := h.RPC.ListUnspent(ctx)
	if err != nil {
		return nil, err
	}
	for i := range utxos {
		if bytes.Equal(utxos[i].PkScript, wantScript) {
			return &utxos[i], nil
		}
	}
	return nil, nil
}

func (h *Handler) load(ctx context.Context, id models.SwapIdentity) (*models.FromBtcSwap, *swapbase.BusinessError) {
	var swap models.FromBtcSwap
	if err := h.Load(ctx, id, &swap, json.Unmarshal); err != nil {
		if bizErr, ok := err.(*swapbase.BusinessError); ok {
			return nil, bizErr
		}
		return nil, internalErr(err)
	}
	swap.Identity = id
	return &swap, nil
}

func (h *Handler) persist(ctx context.Context, swap *models.FromBtcSwap) error {
	payload, err := json.Marshal(swap)
	if err != nil {
		return fmt.Errorf("encode FromBtc record %s: %w", swap.Identity, err)
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
