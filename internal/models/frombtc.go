package models

// FromBtcState enumerates the FromBtc lifecycle (spec.md §3, §4.7).
type FromBtcState int8

const (
	FromBtcRefunded FromBtcState = -3
	FromBtcCanceled FromBtcState = -2
	FromBtcCreated  FromBtcState = 0
	FromBtcCommited FromBtcState = 1
	FromBtcClaimed  FromBtcState = 2
)

func (s FromBtcState) String() string {
	switch s {
	case FromBtcRefunded:
		return "REFUNDED"
	case FromBtcCanceled:
		return "CANCELED"
	case FromBtcCreated:
		return "CREATED"
	case FromBtcCommited:
		return "COMMITED"
	case FromBtcClaimed:
		return "CLAIMED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether the state is absorbing (spec.md §3 invariants).
func (s FromBtcState) IsTerminal() bool {
	return s == FromBtcRefunded || s == FromBtcCanceled || s == FromBtcClaimed
}

// FromBtcSwap is the FromBtc swap record (spec.md §3, §4.7): the client
// sends BTC on-chain to a per-swap derived address, and claims the
// smart-chain side once the payment reaches the confirmation target
// the contract demands, proven via a Bitcoin Merkle inclusion proof.
type FromBtcSwap struct {
	CommonFields

	State FromBtcState `json:"state"`

	Address             string  `json:"address"` // per-swap derived receive address
	AmountSats          int64   `json:"amountSats"`
	AddressIndex        uint32  `json:"addressIndex"` // BIP-84 child index used to derive Address
	AuthorizationExpiry int64   `json:"authorizationExpiry"`
	SecurityDeposit     *BigInt `json:"securityDeposit"`
	ClaimerBounty       *BigInt `json:"claimerBounty"`
	TxID                string  `json:"txId,omitempty"`
	Confirmations       int     `json:"confirmations,omitempty"`
}
