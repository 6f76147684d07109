package swapbase

import (
	"math/big"

	"github.com/atomicbridge/swapserver/internal/feemath"
)

// FeeSchedule is one handler's configured fee/bound parameters (spec.md
// §4.3), returned verbatim by getInfo() and used for every quote this
// handler computes.
type FeeSchedule struct {
	BaseFeeSats int64
	FeePPM      int64
	MinSats     int64
	MaxSats     int64
	APY         float64
}

// Quote is the bounds-checked, fee-applied result of pricing a swap
// request, shared by ToBtcBase (exact-in/exact-out BTC amount) and
// FromBtcBase (exact-in sat amount, exact-out token total).
type Quote struct {
	AmountSats  int64
	SwapFeeSats *big.Int
	TotalSats   int64
}

// QuoteExactIn prices a request where the client specifies the BTC
// amount directly: fee = baseFee + amount*feePPM/1e6, bounds-checked
// against [min,max] with 5% slack (spec.md §4.3).
func QuoteExactIn(sched FeeSchedule, amountSats int64) (*Quote, *BusinessError) {
	amount := big.NewInt(amountSats)
	clamped, ok := feemath.CheckBounds(amount, big.NewInt(sched.MinSats), big.NewInt(sched.MaxSats))
	if !ok {
		return nil, boundsErrorFor(amountSats, sched)
	}

	fee := feemath.SwapFeeExactIn(clamped, sched.BaseFeeSats, sched.FeePPM)
	total := new(big.Int).Add(clamped, fee)

	return &Quote{
		AmountSats:  clamped.Int64(),
		SwapFeeSats: fee,
		TotalSats:   total.Int64(),
	}, nil
}

// QuoteExactOut prices a request where the client specifies the desired
// token total already converted to its BTC equivalent (via
// oracle.Oracle.GetFromBtcSwapAmount at the caller's boundary):
// back-computes the BTC amount needed so that, after the swap fee,
// exactly that BTC equivalent remains (spec.md §4.3).
func QuoteExactOut(sched FeeSchedule, totalBtcEquivalent *big.Int) (*Quote, *BusinessError) {
	amountBtc := feemath.AmountBtcForExactOut(totalBtcEquivalent, sched.BaseFeeSats, sched.FeePPM)

	clamped, ok := feemath.CheckBounds(amountBtc, big.NewInt(sched.MinSats), big.NewInt(sched.MaxSats))
	if !ok {
		return nil, boundsErrorFor(amountBtc.Int64(), sched)
	}

	fee := feemath.SwapFeeExactIn(clamped, sched.BaseFeeSats, sched.FeePPM)
	total := new(big.Int).Add(clamped, fee)

	return &Quote{AmountSats: clamped.Int64(), SwapFeeSats: fee, TotalSats: total.Int64()}, nil
}

func boundsErrorFor(amountSats int64, sched FeeSchedule) *BusinessError {
	tooLow := amountSats < sched.MinSats
	return BoundsError(tooLow, fmtSats(sched.MinSats), fmtSats(sched.MaxSats))
}

func fmtSats(v int64) string {
	return big.NewInt(v).String()
}

// SecurityDepositFor computes a swap's security deposit via
// internal/feemath, reading the refund-fee estimate from the swap's
// SwapContract adapter (spec.md §4.3).
func SecurityDepositFor(contractRefundFee *big.Int, refundFeeIsRaw bool, swapValueNative *big.Int, sched FeeSchedule, expiryTimeoutSecs int64) *big.Int {
	return feemath.SecurityDeposit(feemath.SecurityDepositParams{
		RefundFeeEstimate: contractRefundFee,
		RefundFeeIsRaw:    refundFeeIsRaw,
		SwapValueInNative: swapValueNative,
		APY:               sched.APY,
		ExpiryTimeoutSecs: expiryTimeoutSecs,
	})
}

// ClaimerBountyFor computes FromBtc's claimer bounty via internal/feemath.
func ClaimerBountyFor(addFee *big.Int, addBlock int64, expiryUnix, startUnix int64, feePerBlock *big.Int) *big.Int {
	return feemath.ClaimerBounty(feemath.ClaimerBountyParams{
		AddFee:      addFee,
		AddBlock:    addBlock,
		ExpiryUnix:  expiryUnix,
		StartUnix:   startUnix,
		FeePerBlock: feePerBlock,
	})
}
