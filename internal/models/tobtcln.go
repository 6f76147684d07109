package models

// ToBtcLnState enumerates the ToBtcLn lifecycle (spec.md §3).
type ToBtcLnState int8

const (
	ToBtcLnRefunded   ToBtcLnState = -3
	ToBtcLnCanceled   ToBtcLnState = -2
	ToBtcLnNonPayable ToBtcLnState = -1
	ToBtcLnSaved      ToBtcLnState = 0
	ToBtcLnCommited   ToBtcLnState = 1
	ToBtcLnPaid       ToBtcLnState = 2
	ToBtcLnClaimed    ToBtcLnState = 3
)

func (s ToBtcLnState) String() string {
	switch s {
	case ToBtcLnRefunded:
		return "REFUNDED"
	case ToBtcLnCanceled:
		return "CANCELED"
	case ToBtcLnNonPayable:
		return "NON_PAYABLE"
	case ToBtcLnSaved:
		return "SAVED"
	case ToBtcLnCommited:
		return "COMMITED"
	case ToBtcLnPaid:
		return "PAID"
	case ToBtcLnClaimed:
		return "CLAIMED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether the state is absorbing (spec.md §3 invariants).
func (s ToBtcLnState) IsTerminal() bool {
	return s == ToBtcLnRefunded || s == ToBtcLnCanceled || s == ToBtcLnClaimed
}

// ToBtcLnSwap is the ToBtcLn swap record (spec.md §3, §4.4).
type ToBtcLnSwap struct {
	CommonFields

	State ToBtcLnState `json:"state"`

	PR                       string  `json:"pr"` // BOLT-11 invoice
	SignatureExpiry          int64   `json:"signatureExpiry"`
	QuotedNetworkFee         *BigInt `json:"quotedNetworkFee"`
	QuotedNetworkFeeInToken  *BigInt `json:"quotedNetworkFeeInToken"`
	RealNetworkFee           *BigInt `json:"realNetworkFee,omitempty"`
	RealNetworkFeeInToken    *BigInt `json:"realNetworkFeeInToken,omitempty"`
	Secret                   string  `json:"secret,omitempty"` // payment preimage, once obtained

	PaymentDispatched bool `json:"paymentDispatched,omitempty"` // an outbound LN payment attempt is in flight or resolved
}
