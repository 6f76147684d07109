// Package httpapi wires the four swap handlers and InfoHandler onto the
// HTTP surface (spec.md §6): a chi router, JSON decode/encode, and the
// {code, msg, data} business-error envelope every response uses.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/atomicbridge/swapserver/internal/swapbase"
)

// envelope is the wire shape of every JSON response, success or
// business error alike (spec.md §6: "status 200 with in-body code for
// business errors").
type envelope struct {
	Code int    `json:"code"`
	Msg  string `json:"msg,omitempty"`
	Data any    `json:"data,omitempty"`
}

func writeSuccess(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Code: swapbase.CodeSuccess, Data: data})
}

func writeBusinessError(w http.ResponseWriter, bizErr *swapbase.BusinessError) {
	writeJSON(w, http.StatusOK, envelope{Code: bizErr.Code, Msg: bizErr.Msg, Data: bizErr.Data})
}

// writeBadRequest reports a malformed request body (spec.md §6: "400
// for malformed"), distinct from a well-formed but invalid business
// request, which still answers 200 with a 20xxx code.
func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, envelope{Code: swapbase.CodeInvalidRequestBody, Msg: msg})
}

// writeServerError reports an unexpected, non-business failure (spec.md
// §6: "500 for server") — storage outages, encoding bugs, anything the
// handler layer didn't translate into a BusinessError.
func writeServerError(w http.ResponseWriter, err error) {
	slog.Error("httpapi: unhandled error", "error", err)
	writeJSON(w, http.StatusInternalServerError, envelope{Code: swapbase.CodePluginError, Msg: "internal error"})
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("httpapi: failed to encode response", "error", err)
	}
}

func decodeBody(r *http.Request, into any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(into)
}
