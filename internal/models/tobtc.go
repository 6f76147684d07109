package models

// ToBtcState enumerates the ToBtc lifecycle (spec.md §3, §4.5).
type ToBtcState int8

const (
	ToBtcRefunded   ToBtcState = -3
	ToBtcCanceled   ToBtcState = -2
	ToBtcNonPayable ToBtcState = -1
	ToBtcSaved      ToBtcState = 0
	ToBtcCommited   ToBtcState = 1
	ToBtcSending    ToBtcState = 2
	ToBtcSent       ToBtcState = 3
	ToBtcClaimed    ToBtcState = 4
)

func (s ToBtcState) String() string {
	switch s {
	case ToBtcRefunded:
		return "REFUNDED"
	case ToBtcCanceled:
		return "CANCELED"
	case ToBtcNonPayable:
		return "NON_PAYABLE"
	case ToBtcSaved:
		return "SAVED"
	case ToBtcCommited:
		return "COMMITED"
	case ToBtcSending:
		return "BTC_SENDING"
	case ToBtcSent:
		return "BTC_SENT"
	case ToBtcClaimed:
		return "CLAIMED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether the state is absorbing (spec.md §3 invariants).
func (s ToBtcState) IsTerminal() bool {
	return s == ToBtcRefunded || s == ToBtcCanceled || s == ToBtcClaimed
}

// ToBtcSwap is the ToBtc swap record (spec.md §3, §4.5).
type ToBtcSwap struct {
	CommonFields

	State ToBtcState `json:"state"`

	Address                    string  `json:"address"`
	AmountSats                 int64   `json:"amountSats"`
	SatsPerVbyte               int64   `json:"satsPerVbyte"`
	Nonce                      uint64  `json:"nonce"` // embedded in locktime, spec.md §4.3
	PreferedConfirmationTarget int     `json:"preferedConfirmationTarget"`
	SignatureExpiry            int64   `json:"signatureExpiry"`
	TxID                       string  `json:"txId,omitempty"`
	QuotedNetworkFee           *BigInt `json:"quotedNetworkFee"`
	QuotedNetworkFeeInToken    *BigInt `json:"quotedNetworkFeeInToken"`
	RealNetworkFee             *BigInt `json:"realNetworkFee,omitempty"`
	RealNetworkFeeInToken      *BigInt `json:"realNetworkFeeInToken,omitempty"`
}
