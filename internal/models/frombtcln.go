package models

// FromBtcLnState enumerates the FromBtcLn lifecycle (spec.md §3, §4.6).
type FromBtcLnState int8

const (
	FromBtcLnRefunded FromBtcLnState = -3
	FromBtcLnCanceled FromBtcLnState = -2
	FromBtcLnCreated  FromBtcLnState = 0
	FromBtcLnReceived FromBtcLnState = 1
	FromBtcLnCommited FromBtcLnState = 2
	FromBtcLnClaimed  FromBtcLnState = 3
	FromBtcLnSettled  FromBtcLnState = 4
)

func (s FromBtcLnState) String() string {
	switch s {
	case FromBtcLnRefunded:
		return "REFUNDED"
	case FromBtcLnCanceled:
		return "CANCELED"
	case FromBtcLnCreated:
		return "CREATED"
	case FromBtcLnReceived:
		return "RECEIVED"
	case FromBtcLnCommited:
		return "COMMITED"
	case FromBtcLnClaimed:
		return "CLAIMED"
	case FromBtcLnSettled:
		return "SETTLED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether the state is absorbing (spec.md §3 invariants).
func (s FromBtcLnState) IsTerminal() bool {
	return s == FromBtcLnRefunded || s == FromBtcLnCanceled || s == FromBtcLnSettled
}

// FromBtcLnSwap is the FromBtcLn swap record (spec.md §3, §4.6).
type FromBtcLnSwap struct {
	CommonFields

	State FromBtcLnState `json:"state"`

	PR        string `json:"pr"`
	Nonce     uint64 `json:"nonce"`
	Prefix    string `json:"prefix"`
	Timeout   int64  `json:"timeout"`
	Signature string `json:"signature,omitempty"`
	FeeRate   string `json:"feeRate,omitempty"` // client-supplied hint, opaque

	AuthorizationExpiry int64   `json:"authorizationExpiry"`
	SecurityDeposit     *BigInt `json:"securityDeposit"`
	Secret              string  `json:"secret,omitempty"` // preimage from claim
}
