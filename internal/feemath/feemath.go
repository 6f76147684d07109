// Package feemath implements the pure, float-free fee, bound, and
// security-deposit arithmetic shared by every handler (spec.md §4.3,
// §9: "BigNumber arithmetic... no floats in fee math; use fixed ppm/
// µ-sat scaling consistently").
package feemath

import (
	"errors"
	"math/big"

	"github.com/atomicbridge/swapserver/internal/config"
)

// ErrAmountOutOfBand is returned when a computed amount falls outside the
// 5% slack band around [min,max] (spec.md §4.3).
var ErrAmountOutOfBand = errors.New("feemath: amount outside acceptable band")

var ppmDenom = big.NewInt(config.PPMDenominator)

// SwapFeeExactIn computes the swap fee for an exact-input BTC request:
// baseFee + amountBtc*feePPM/1e6 (spec.md §4.3).
func SwapFeeExactIn(amountBtc *big.Int, baseFeeSats int64, feePPM int64) *big.Int {
	fee := new(big.Int).Mul(amountBtc, big.NewInt(feePPM))
	fee.Quo(fee, ppmDenom)
	return fee.Add(fee, big.NewInt(baseFeeSats))
}

// AmountBtcForExactOut back-computes the BTC amount needed so that, after
// the swap fee is subtracted, exactly totalBtc (the BTC-equivalent of the
// desired token total) remains: amountBtc = (totalBtc + baseFee)*1e6 /
// (1e6 - feePPM) (spec.md §4.3).
func AmountBtcForExactOut(totalBtc *big.Int, baseFeeSats int64, feePPM int64) *big.Int {
	numerator := new(big.Int).Add(totalBtc, big.NewInt(baseFeeSats))
	numerator.Mul(numerator, ppmDenom)
	denominator := new(big.Int).Sub(ppmDenom, big.NewInt(feePPM))
	return numerator.Quo(numerator, denominator)
}

// CheckBounds enforces spec.md §4.3's 5%-slack acceptance band: reject
// outside [0.95*min, 1.05*max], otherwise report back the clamped,
// inclusive [min,max] the caller should display. ok is false when amount
// must be rejected with ErrAmountOutOfBand.
func CheckBounds(amount, min, max *big.Int) (clamped *big.Int, ok bool) {
	slackMin := scaleDown(min, config.PPMDenominator-config.BoundsSlackPPM)
	slackMax := scaleUp(max, config.PPMDenominator+config.BoundsSlackPPM)

	if amount.Cmp(slackMin) < 0 || amount.Cmp(slackMax) > 0 {
		return nil, false
	}
	if amount.Cmp(min) < 0 {
		return min, true
	}
	if amount.Cmp(max) > 0 {
		return max, true
	}
	return amount, true
}

func scaleDown(v *big.Int, ppm int64) *big.Int {
	out := new(big.Int).Mul(v, big.NewInt(ppm))
	return out.Quo(out, ppmDenom)
}

func scaleUp(v *big.Int, ppm int64) *big.Int {
	out := new(big.Int).Mul(v, big.NewInt(ppm))
	return out.Quo(out, ppmDenom)
}

// SecurityDepositParams configures SecurityDeposit (spec.md §4.3).
type SecurityDepositParams struct {
	RefundFeeEstimate *big.Int // native currency
	RefundFeeIsRaw    bool     // false => contract only exposes a generic estimate, doubled
	SwapValueInNative *big.Int
	APY               float64
	ExpiryTimeoutSecs int64
}

// APYPPM converts a human APY (e.g. 0.10 for 10%) to parts-per-million,
// floor(APY*1e6) (spec.md §4.3).
func APYPPM(apy float64) int64 {
	return int64(apy * float64(config.PPMDenominator))
}

// SecurityDeposit computes baseDeposit + variableDeposit (spec.md §4.3):
// baseDeposit is the refund-fee estimate, doubled when the contract only
// exposes a generic (non-raw) estimate; variableDeposit compensates the
// intermediary for capital locked until expiry at the given APY.
func SecurityDeposit(p SecurityDepositParams) *big.Int {
	baseDeposit := new(big.Int).Set(p.RefundFeeEstimate)
	if !p.RefundFeeIsRaw {
		baseDeposit.Mul(baseDeposit, big.NewInt(2))
	}

	apyPPM := big.NewInt(APYPPM(p.APY))
	variableDeposit := new(big.Int).Mul(p.SwapValueInNative, apyPPM)
	variableDeposit.Mul(variableDeposit, big.NewInt(p.ExpiryTimeoutSecs))
	variableDeposit.Quo(variableDeposit, ppmDenom)
	variableDeposit.Quo(variableDeposit, big.NewInt(config.SecondsPerYear))

	return new(big.Int).Add(baseDeposit, variableDeposit)
}

// ClaimerBountyParams configures ClaimerBounty (spec.md §4.3, FromBtc only).
type ClaimerBountyParams struct {
	AddFee      *big.Int // native currency, fixed component
	AddBlock    int64    // fixed block-count component
	ExpiryUnix  int64
	StartUnix   int64
	FeePerBlock *big.Int // native currency per block, gas-price based
}

// ClaimerBounty computes addFee + (addBlock + (expiry-start)/blocktime*
// safetyFactor)*feePerBlock (spec.md §4.3): the reward paid to whoever
// posts the claim transaction, funding their gas plus a safety margin for
// however many blocks the swap might sit unclaimed.
func ClaimerBounty(p ClaimerBountyParams) *big.Int {
	elapsedBlocks := (p.ExpiryUnix - p.StartUnix) / int64(config.BitcoinBlocktime.Seconds())
	safetyBlocks := new(big.Int).Mul(big.NewInt(elapsedBlocks), big.NewInt(config.SafetyFactorPPM))
	safetyBlocks.Quo(safetyBlocks, ppmDenom)

	blockComponent := new(big.Int).Add(big.NewInt(p.AddBlock), safetyBlocks)
	blockComponent.Mul(blockComponent, p.FeePerBlock)

	return new(big.Int).Add(p.AddFee, blockComponent)
}
