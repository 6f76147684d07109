package swapbase

import (
	"context"
	"math/big"

	"github.com/atomicbridge/swapserver/internal/models"
)

// StaticVault reports one fixed available balance for every chain and
// token, standing in for the balance introspection a real deployment
// would read off a node or contract call — actual blockchain
// connectivity is out of scope (spec.md §1 Non-goals).
type StaticVault struct {
	balance *models.BigInt
}

// NewStaticVault builds a StaticVault that always reports amount as the
// available balance.
func NewStaticVault(amount *big.Int) *StaticVault {
	b := &models.BigInt{}
	b.Int.Set(amount)
	return &StaticVault{balance: b}
}

func (v *StaticVault) AvailableBalance(ctx context.Context, chain models.ChainIdentifier, token string) (*BigIntLike, error) {
	return v.balance, nil
}
