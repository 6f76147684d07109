package httpapi

import (
	"net/http"

	"github.com/atomicbridge/swapserver/internal/handlers/info"
)

// InfoHandler returns POST /info (spec.md §4.8).
func InfoHandler(h *info.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req info.Request
		if err := decodeBody(r, &req); err != nil {
			writeBadRequest(w, "invalid request body")
			return
		}
		resp, bizErr := h.GetInfo(r.Context(), req)
		if bizErr != nil {
			writeBusinessError(w, bizErr)
			return
		}
		writeSuccess(w, resp)
	}
}
