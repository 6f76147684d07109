// Package swapbase holds the logic shared by every handler (spec.md §2
// items 5-6, §5, §7): the multi-chain SwapContract registry, event
// demultiplexing, the watchdog scaffold, swap-id derivation, bounds/fee/
// security-deposit/claimer-bounty math wiring, vault-balance checks, and
// the business-error envelope every HTTP response uses.
package swapbase

import "fmt"

// BusinessError is a tagged, user-visible error the HTTP layer
// serializes as {code, msg, data?} (spec.md §6/§7). It is never a Go
// panic/500 — those are reserved for external/storage failures.
type BusinessError struct {
	Code int
	Msg  string
	Data any
}

func (e *BusinessError) Error() string {
	return fmt.Sprintf("business error %d: %s", e.Code, e.Msg)
}

// NewBusinessError constructs a BusinessError with optional data.
func NewBusinessError(code int, msg string, data any) *BusinessError {
	return &BusinessError{Code: code, Msg: msg, Data: data}
}

// Business error codes (spec.md §6).
const (
	CodeSuccess = 20000

	CodeNotEnoughLiquidity = 20001
	CodeNotEnoughTime      = 20002
	CodeAmountTooLow       = 20003
	CodeAmountTooHigh      = 20004

	CodeNotCommitted = 20005
	CodeAlreadyPaid  = 20006
	CodeNotFound     = 20007
	CodeInFlight     = 20008

	CodeInvalidSequence          = 20042
	CodeInvalidClaimerBounty     = 20043
	CodeInvalidSequenceDuplicate = 20060

	CodeInvalidRequestBody = 20100
	CodeInvalidChain       = 20200

	CodeNoRoute = 20002 // no route shares the not-enough-time family per spec.md §6

	CodePluginError = 29999

	// Lightning invoice-status/payment-auth codes (spec.md §6).
	CodeInvoicePending        = 10000
	CodeInvoiceHeld           = 10001
	CodeInvoiceSettled        = 10002
	CodeInvoiceCanceled       = 10003
	CodeInvoiceAuthNotReady   = 10004
)

// BoundsError builds the 20003/20004 "amount too low/high" error with
// {min,max} in token units (spec.md §6).
func BoundsError(tooLow bool, min, max string) *BusinessError {
	if tooLow {
		return NewBusinessError(CodeAmountTooLow, "amount below minimum", map[string]string{"min": min, "max": max})
	}
	return NewBusinessError(CodeAmountTooHigh, "amount above maximum", map[string]string{"min": min, "max": max})
}

// PluginError wraps an arbitrary plugin-raised message as the generic
// user-visible 29999 envelope (spec.md §6).
func PluginError(msg string) *BusinessError {
	return NewBusinessError(CodePluginError, msg, nil)
}
