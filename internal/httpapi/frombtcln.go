package httpapi

import (
	"encoding/hex"
	"net/http"

	"github.com/atomicbridge/swapserver/internal/handlers/frombtcln"
	"github.com/atomicbridge/swapserver/internal/models"
)

type createInvoiceRequest struct {
	Address         string `json:"address"`
	PaymentHash     string `json:"paymentHash"`
	AmountSats      int64  `json:"amountSats"`
	Chain           string `json:"chain"`
	Token           string `json:"token"`
	DescriptionHash string `json:"descriptionHash,omitempty"`
}

// CreateInvoiceHandler returns POST /ln/createInvoice (spec.md §6).
func CreateInvoiceHandler(h *frombtcln.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createInvoiceRequest
		if err := decodeBody(r, &req); err != nil {
			writeBadRequest(w, "invalid request body")
			return
		}
		hash, err := models.ParsePaymentHash(req.PaymentHash)
		if err != nil {
			writeBadRequest(w, "invalid paymentHash")
			return
		}

		var descHash []byte
		if req.DescriptionHash != "" {
			descHash, err = hex.DecodeString(req.DescriptionHash)
			if err != nil {
				writeBadRequest(w, "invalid descriptionHash")
				return
			}
		}

		resp, bizErr := h.CreateInvoice(r.Context(), frombtcln.CreateInvoiceRequest{
			Address:         req.Address,
			PaymentHash:     hash,
			AmountSats:      req.AmountSats,
			Chain:           models.ChainIdentifier(req.Chain),
			Token:           req.Token,
			DescriptionHash: descHash,
		})
		if bizErr != nil {
			writeBusinessError(w, bizErr)
			return
		}

		writeSuccess(w, map[string]any{
			"pr":              resp.PR,
			"swapFee":         resp.SwapFee,
			"total":           resp.Total,
			"securityDeposit": resp.SecurityDeposit,
		})
	}
}

func chainAndHash(r *http.Request) (models.ChainIdentifier, models.PaymentHash, error) {
	var chainStr, hashStr string
	if r.Method == http.MethodGet {
		chainStr = r.URL.Query().Get("chain")
		hashStr = r.URL.Query().Get("paymentHash")
	} else {
		var req struct {
			Chain       string `json:"chain"`
			PaymentHash string `json:"paymentHash"`
		}
		if err := decodeBody(r, &req); err != nil {
			return "", models.PaymentHash{}, err
		}
		chainStr, hashStr = req.Chain, req.PaymentHash
	}
	hash, err := models.ParsePaymentHash(hashStr)
	if err != nil {
		return "", models.PaymentHash{}, err
	}
	return models.ChainIdentifier(chainStr), hash, nil
}

// GetInvoiceStatusHandler returns GET|POST /ln/getInvoiceStatus
// (spec.md §6).
func GetInvoiceStatusHandler(h *frombtcln.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chain, hash, err := chainAndHash(r)
		if err != nil {
			writeBadRequest(w, "invalid request")
			return
		}
		code, bizErr := h.GetInvoiceStatus(r.Context(), chain, hash)
		if bizErr != nil {
			writeBusinessError(w, bizErr)
			return
		}
		writeJSON(w, http.StatusOK, envelope{Code: code})
	}
}

// GetInvoicePaymentAuthHandler returns GET|POST
// /ln/getInvoicePaymentAuth (spec.md §6).
func GetInvoicePaymentAuthHandler(h *frombtcln.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chain, hash, err := chainAndHash(r)
		if err != nil {
			writeBadRequest(w, "invalid request")
			return
		}
		sig, data, bizErr := h.GetInvoicePaymentAuth(r.Context(), chain, hash)
		if bizErr != nil {
			writeBusinessError(w, bizErr)
			return
		}
		writeSuccess(w, map[string]any{"signature": sig, "data": data})
	}
}
