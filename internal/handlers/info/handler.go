// Package info implements the discovery endpoint every client calls
// before committing to a quote: a signed envelope of each registered
// handler's static fee schedule and allowed tokens (spec.md §4.8).
package info

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/atomicbridge/swapserver/internal/models"
	"github.com/atomicbridge/swapserver/internal/swapbase"
)

const maxNonceLen = 64

// Provider is satisfied by each per-direction handler (tobtcln,
// frombtcln, tobtc, frombtc): its static discovery info.
type Provider interface {
	GetInfo() swapbase.ServiceInfo
}

// ChainSigner signs arbitrary bytes with one chain's intermediary key,
// attributing the signature to an address a client can verify against
// (grounded on chainref.ReferenceContract's own authorization-signing
// pattern, generalized from Data digests to arbitrary envelope bytes).
type ChainSigner interface {
	Address() string
	Sign(ctx context.Context, message []byte) (signature string, err error)
}

// Handler answers POST /info by collecting every registered provider's
// info and signing the resulting envelope once per chain.
type Handler struct {
	Services []Provider
	Signers  map[models.ChainIdentifier]ChainSigner
}

// New builds an info Handler over the given providers and per-chain
// signers.
func New(services []Provider, signers map[models.ChainIdentifier]ChainSigner) *Handler {
	return &Handler{Services: services, Signers: signers}
}

// Request is the POST /info body: a client-supplied nonce binding the
// response to this particular request.
type Request struct {
	Nonce string `json:"nonce"`
}

type envelope struct {
	Nonce    string                 `json:"nonce"`
	Services []swapbase.ServiceInfo `json:"services"`
}

// ChainAttestation is one chain's signature over the envelope.
type ChainAttestation struct {
	Address   string `json:"address"`
	Signature string `json:"signature"`
}

// Response is the signed /info payload: the raw envelope bytes (as a
// string, so a client can verify the signature against exactly what was
// signed), a primary address/signature pair, and one attestation per
// registered chain.
type Response struct {
	Envelope  string                                     `json:"envelope"`
	Address   string                                     `json:"address"`
	Signature string                                     `json:"signature"`
	Chains    map[models.ChainIdentifier]ChainAttestation `json:"chains"`
}

// GetInfo builds and signs the discovery envelope.
func (h *Handler) GetInfo(ctx context.Context, req Request) (*Response, *swapbase.BusinessError) {
	if !validNonce(req.Nonce) {
		return nil, swapbase.NewBusinessError(swapbase.CodeInvalidRequestBody, "nonce must be 1-64 hex characters", nil)
	}

	services := make([]swapbase.ServiceInfo, 0, len(h.Services))
	for _, s := range h.Services {
		services = append(services, s.GetInfo())
	}

	body, err := json.Marshal(envelope{Nonce: req.Nonce, Services: services})
	if err != nil {
		return nil, swapbase.PluginError(fmt.Sprintf("marshal info envelope: %s", err))
	}

	chainIDs := make([]models.ChainIdentifier, 0, len(h.Signers))
	for id := range h.Signers {
		chainIDs = append(chainIDs, id)
	}
	sort.Slice(chainIDs, func(i, j int) bool { return chainIDs[i] < chainIDs[j] })

	chains := make(map[models.ChainIdentifier]ChainAttestation, len(chainIDs))
	var primaryAddress, primarySignature string
	for _, id := range chainIDs {
		signer := h.Signers[id]
		sig, err := signer.Sign(ctx, body)
		if err != nil {
			return nil, swapbase.PluginError(fmt.Sprintf("sign info envelope for chain %q: %s", id, err))
		}
		chains[id] = ChainAttestation{Address: signer.Address(), Signature: sig}
		if primaryAddress == "" {
			primaryAddress, primarySignature = signer.Address(), sig
		}
	}

	return &Response{
		Envelope:  string(body),
		Address:   primaryAddress,
		Signature: primarySignature,
		Chains:    chains,
	}, nil
}

func validNonce(nonce string) bool {
	if len(nonce) == 0 || len(nonce) > maxNonceLen {
		return false
	}
	for _, r := range nonce {
		if !isHexDigit(r) {
			return false
		}
	}
	return true
}

func isHexDigit(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}
