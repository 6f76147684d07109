package httpapi

import (
	"net/http"

	"github.com/atomicbridge/swapserver/internal/handlers/tobtcln"
	"github.com/atomicbridge/swapserver/internal/models"
)

// payInvoiceRequest is POST /ln/payInvoice's wire body (spec.md §6). The
// BOLT-11 fields a real deployment would decode from pr client-side
// (paymentHash, amountMsat, invoiceExpiry) travel alongside it since
// BOLT-11 parsing is out of scope for the core (spec.md §1).
type payInvoiceRequest struct {
	PR              string `json:"pr"`
	PaymentHash     string `json:"paymentHash"`
	AmountMsat      int64  `json:"amountMsat"`
	InvoiceExpiry   int64  `json:"invoiceExpiry"`
	MaxFee          int64  `json:"maxFee"`
	ExpiryTimestamp int64  `json:"expiryTimestamp"`
	Chain           string `json:"chain"`
	Token           string `json:"token"`
	Offerer         string `json:"offerer"`
}

// PayInvoiceHandler returns POST /ln/payInvoice (spec.md §6).
func PayInvoiceHandler(h *tobtcln.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req payInvoiceRequest
		if err := decodeBody(r, &req); err != nil {
			writeBadRequest(w, "invalid request body")
			return
		}
		hash, err := models.ParsePaymentHash(req.PaymentHash)
		if err != nil {
			writeBadRequest(w, "invalid paymentHash")
			return
		}

		resp, bizErr := h.PayInvoice(r.Context(), tobtcln.PayInvoiceRequest{
			PR:              req.PR,
			PaymentHash:     hash,
			AmountMsat:      req.AmountMsat,
			InvoiceExpiry:   req.InvoiceExpiry,
			MaxFeeSats:      req.MaxFee,
			ExpiryTimestamp: req.ExpiryTimestamp,
			Chain:           models.ChainIdentifier(req.Chain),
			Token:           req.Token,
			Offerer:         req.Offerer,
		})
		if bizErr != nil {
			writeBusinessError(w, bizErr)
			return
		}

		writeSuccess(w, map[string]any{
			"maxFee":     models.NewBigInt(req.MaxFee),
			"swapFee":    resp.SwapFee,
			"total":      resp.Total,
			"confidence": resp.Confidence,
			"data":       resp.Data,
			"signature":  resp.Signature,
		})
	}
}

// getRefundAuthorizationRequest is POST /ln/getRefundAuthorization's
// wire body (spec.md §6: `{paymentHash}`, extended with chain since the
// registry is multi-chain).
type getRefundAuthorizationRequest struct {
	Chain       string `json:"chain"`
	PaymentHash string `json:"paymentHash"`
}

// GetRefundAuthorizationHandler returns POST /ln/getRefundAuthorization
// (spec.md §6).
func GetRefundAuthorizationHandler(h *tobtcln.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req getRefundAuthorizationRequest
		if err := decodeBody(r, &req); err != nil {
			writeBadRequest(w, "invalid request body")
			return
		}
		hash, err := models.ParsePaymentHash(req.PaymentHash)
		if err != nil {
			writeBadRequest(w, "invalid paymentHash")
			return
		}

		sig, bizErr := h.GetRefundAuthorization(r.Context(), models.ChainIdentifier(req.Chain), hash)
		if bizErr != nil {
			writeBusinessError(w, bizErr)
			return
		}
		writeSuccess(w, map[string]any{"signature": sig})
	}
}
