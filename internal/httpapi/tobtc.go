package httpapi

import (
	"net/http"

	"github.com/atomicbridge/swapserver/internal/handlers/tobtc"
	"github.com/atomicbridge/swapserver/internal/models"
)

type getQuoteRequest struct {
	Address                    string `json:"address"`
	AmountSats                 int64  `json:"amountSats"`
	ExactOut                   bool   `json:"exactOut"`
	Chain                      string `json:"chain"`
	Token                      string `json:"token"`
	Offerer                    string `json:"offerer"`
	PreferedConfirmationTarget int    `json:"preferedConfirmationTarget"`
	ExpiryTimestamp            int64  `json:"expiryTimestamp"`
}

func (req getQuoteRequest) toHandlerRequest() tobtc.GetQuoteRequest {
	return tobtc.GetQuoteRequest{
		Address:                    req.Address,
		AmountSats:                 req.AmountSats,
		ExactOut:                   req.ExactOut,
		Chain:                      models.ChainIdentifier(req.Chain),
		Token:                      req.Token,
		Offerer:                    req.Offerer,
		PreferedConfirmationTarget: req.PreferedConfirmationTarget,
		ExpiryTimestamp:            req.ExpiryTimestamp,
	}
}

func quoteResponseBody(resp *tobtc.QuoteResponse) map[string]any {
	return map[string]any{
		"total":           resp.Total,
		"swapFee":         resp.SwapFee,
		"networkFee":      resp.NetworkFee,
		"amount":          resp.Amount,
		"data":            resp.Data,
		"signature":       resp.Signature,
		"preferedFeeRate": resp.PreferedFeeRate,
	}
}

// GetQuoteHandler returns POST /onchain/getQuote (spec.md §6): a
// non-committing preview.
func GetQuoteHandler(h *tobtc.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req getQuoteRequest
		if err := decodeBody(r, &req); err != nil {
			writeBadRequest(w, "invalid request body")
			return
		}
		resp, bizErr := h.GetQuote(r.Context(), req.toHandlerRequest())
		if bizErr != nil {
			writeBusinessError(w, bizErr)
			return
		}
		writeSuccess(w, quoteResponseBody(resp))
	}
}

// GetQuoteCommitHandler returns POST /onchain/getQuoteCommit (spec.md
// §6): signs and persists a SAVED swap.
func GetQuoteCommitHandler(h *tobtc.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req getQuoteRequest
		if err := decodeBody(r, &req); err != nil {
			writeBadRequest(w, "invalid request body")
			return
		}
		resp, bizErr := h.GetQuoteCommit(r.Context(), req.toHandlerRequest())
		if bizErr != nil {
			writeBusinessError(w, bizErr)
			return
		}
		writeSuccess(w, quoteResponseBody(resp))
	}
}
