package httpapi

import (
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/atomicbridge/swapserver/internal/handlers/frombtc"
	"github.com/atomicbridge/swapserver/internal/models"
	"github.com/atomicbridge/swapserver/internal/swapbase"
)

type getAddressRequest struct {
	AmountSats      int64  `json:"amountSats"`
	ExactOut        bool   `json:"exactOut"`
	Sequence        uint64 `json:"sequence"`
	ClaimerBounty   string `json:"claimerBounty,omitempty"`
	PreferedFeeRate int64  `json:"preferedFeeRate"`
	Chain           string `json:"chain"`
	Token           string `json:"token"`
	Claimer         string `json:"claimer"`
	ExpiryTimestamp int64  `json:"expiryTimestamp"`
}

// GetAddressHandler returns POST /onchain/getAddress (spec.md §6):
// streams signDataPrefetch as soon as it's known, then the full quote.
// Our core computes the whole response synchronously (no true
// pre-fetch-before-commit boundary inside frombtc.GetAddress), so both
// frames are written back to back rather than interleaved with pending
// I/O — the wire shape the spec describes is preserved even though the
// handler itself doesn't suspend between them.
func GetAddressHandler(h *frombtc.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req getAddressRequest
		if err := decodeBody(r, &req); err != nil {
			writeBadRequest(w, "invalid request body")
			return
		}

		var claimerBounty *big.Int
		if req.ClaimerBounty != "" {
			claimerBounty = new(big.Int)
			if _, ok := claimerBounty.SetString(req.ClaimerBounty, 10); !ok {
				writeBadRequest(w, "invalid claimerBounty")
				return
			}
		}

		resp, bizErr := h.GetAddress(r.Context(), frombtc.GetAddressRequest{
			AmountSats:      req.AmountSats,
			ExactOut:        req.ExactOut,
			Sequence:        models.Sequence(req.Sequence),
			ClaimerBounty:   claimerBounty,
			PreferedFeeRate: req.PreferedFeeRate,
			Chain:           models.ChainIdentifier(req.Chain),
			Token:           req.Token,
			Claimer:         req.Claimer,
			ExpiryTimestamp: req.ExpiryTimestamp,
		})
		if bizErr != nil {
			writeBusinessError(w, bizErr)
			return
		}

		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
		enc := json.NewEncoder(w)
		flusher, canFlush := w.(http.Flusher)

		if err := enc.Encode(map[string]any{"signDataPrefetch": resp.SignDataPrefetch}); err != nil {
			slog.Error("httpapi: failed to encode signDataPrefetch frame", "error", err)
			return
		}
		if canFlush {
			flusher.Flush()
		}

		final := map[string]any{
			"amount":          resp.AmountSats,
			"btcAddress":      resp.Address,
			"swapFee":         resp.SwapFee,
			"total":           resp.Total,
			"securityDeposit": resp.SecurityDeposit,
			"claimerBounty":   resp.ClaimerBounty,
			"data":            resp.Data,
			"signature":       resp.Signature,
		}
		if err := enc.Encode(envelope{Code: swapbase.CodeSuccess, Data: final}); err != nil {
			slog.Error("httpapi: failed to encode getAddress final frame", "error", err)
		}
		if canFlush {
			flusher.Flush()
		}
	}
}
