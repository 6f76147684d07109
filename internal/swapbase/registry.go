package swapbase

import (
	"fmt"

	"github.com/atomicbridge/swapserver/internal/models"
	"github.com/atomicbridge/swapserver/internal/oracle"
	"github.com/atomicbridge/swapserver/internal/swapcontract"
)

// ChainBinding pairs one chain's SwapContract adapter with its allowed
// token list (spec.md §2 item 5: "multi-chain registry").
type ChainBinding struct {
	Contract swapcontract.SwapContract
	Tokens   []oracle.TokenData
}

// Registry maps chainIdentifier to its ChainBinding, the shared lookup
// every handler consults to validate a request's chain+token and reach
// the right SwapContract adapter.
type Registry struct {
	bindings map[models.ChainIdentifier]ChainBinding
}

// NewRegistry builds a Registry from the given chain bindings.
func NewRegistry(bindings map[models.ChainIdentifier]ChainBinding) *Registry {
	return &Registry{bindings: bindings}
}

// Chains lists every registered chain identifier.
func (r *Registry) Chains() []models.ChainIdentifier {
	out := make([]models.ChainIdentifier, 0, len(r.bindings))
	for id := range r.bindings {
		out = append(out, id)
	}
	return out
}

// Contract resolves a chain identifier's SwapContract adapter, or
// CodeInvalidChain if unknown.
func (r *Registry) Contract(chain models.ChainIdentifier) (swapcontract.SwapContract, error) {
	b, ok := r.bindings[chain]
	if !ok {
		return nil, NewBusinessError(CodeInvalidChain, fmt.Sprintf("unknown chain %q", chain), nil)
	}
	return b.Contract, nil
}

// Token resolves a (chain, token address) pair to its oracle.TokenData,
// or CodeInvalidChain if the chain or token isn't registered.
func (r *Registry) Token(chain models.ChainIdentifier, address string) (oracle.TokenData, error) {
	b, ok := r.bindings[chain]
	if !ok {
		return oracle.TokenData{}, NewBusinessError(CodeInvalidChain, fmt.Sprintf("unknown chain %q", chain), nil)
	}
	for _, t := range b.Tokens {
		if t.Address == address {
			return t, nil
		}
	}
	return oracle.TokenData{}, NewBusinessError(CodeInvalidChain, fmt.Sprintf("token %q not allowed on chain %q", address, chain), nil)
}

// Tokens lists the allowed tokens for a chain (used by InfoHandler).
func (r *Registry) Tokens(chain models.ChainIdentifier) []oracle.TokenData {
	return r.bindings[chain].Tokens
}
