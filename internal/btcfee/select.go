// Package btcfee implements ToBtc/FromBtc Bitcoin transaction plumbing:
// coin selection (blackjack and accumulative strategies), vsize/weight
// estimation, and the locktime-nonce encoding used to bind a swap's
// payment hash into a transaction's nLockTime field (spec.md §4.5),
// adapted from the teacher's consolidation-transaction builder
// (internal/tx/btc_tx.go) generalized from "spend everything to one
// address" to "select just enough inputs for a specific output, with
// optional change."
package btcfee

import (
	"fmt"
	"sort"

	"github.com/atomicbridge/swapserver/internal/btcrpc"
	"github.com/atomicbridge/swapserver/internal/config"
)

// EstimateVsize returns the estimated vsize (vbytes) of a P2WPKH-only
// transaction with the given input/output counts, matching the
// teacher's EstimateBTCVsize weight-unit accounting.
func EstimateVsize(numInputs, numOutputs int) int {
	weight := config.BTCTxOverheadWU +
		numInputs*(config.BTCP2WPKHInputNonWitWU+config.BTCP2WPKHInputWitWU) +
		numOutputs*config.BTCP2WPKHOutputWU
	return (weight + 3) / 4 // ceil(weight/4)
}

// Selection is the result of a coin-selection pass.
type Selection struct {
	Inputs     []btcrpc.UTXO
	InputSats  int64
	FeeSats    int64
	ChangeSats int64 // 0 when no change output is needed
	Vsize      int
}

// Select picks UTXOs from available to cover targetSats plus the fee for
// the resulting transaction at feeRate sat/vB. It first tries Blackjack
// (an exact, no-change fit within config.BlackjackThreshold of slack),
// falling back to Accumulative (largest-first; produces change only when
// hasChangeOutput is set and the leftover reaches the dust threshold).
func Select(available []btcrpc.UTXO, targetSats, feeRate int64, hasChangeOutput bool) (*Selection, error) {
	if targetSats <= 0 {
		return nil, fmt.Errorf("btcfee: target amount must be positive, got %d", targetSats)
	}
	if len(available) == 0 {
		return nil, fmt.Errorf("%w: no UTXOs available", config.ErrInsufficientUTXO)
	}

	sorted := make([]btcrpc.UTXO, len(available))
	copy(sorted, available)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].AmountSats > sorted[j].AmountSats })

	if sel, ok := blackjack(sorted, targetSats, feeRate); ok {
		return sel, nil
	}
	return accumulative(sorted, targetSats, feeRate, hasChangeOutput)
}

// blackjack grows a largest-first prefix of sorted until its total covers
// target+fee; if that first covering prefix lands within
// BlackjackThreshold sats of target+fee it is returned with no change
// output, otherwise blackjack gives up. Other subsets are not tried.
func blackjack(sorted []btcrpc.UTXO, targetSats, feeRate int64) (*Selection, bool) {
	var chosen []btcrpc.UTXO
	var total int64

	for _, u := range sorted {
		chosen = append(chosen, u)
		total += u.AmountSats

		vsize := EstimateVsize(len(chosen), 1)
		need := targetSats + feeRate*int64(vsize)
		slack := total - need

		if slack < 0 {
			continue
		}
		if slack <= config.BlackjackThreshold {
			return &Selection{
				Inputs:    chosen,
				InputSats: total,
				FeeSats:   feeRate * int64(vsize),
				Vsize:     vsize,
			}, true
		}
		// Overshot past the no-change window; blackjack gives up on this
		// prefix and lets the accumulative strategy size a change output.
		return nil, false
	}
	return nil, false
}

// accumulative adds UTXOs largest-first until the running total covers
// target+fee (re-estimated on each addition since more inputs raise the
// fee), producing a change output when the leftover clears the dust
// threshold.
func accumulative(sorted []btcrpc.UTXO, targetSats, feeRate int64, hasChangeOutput bool) (*Selection, error) {
	var chosen []btcrpc.UTXO
	var total int64

	numOutputs := 1
	if hasChangeOutput {
		numOutputs = 2
	}

	for _, u := range sorted {
		chosen = append(chosen, u)
		total += u.AmountSats

		vsize := EstimateVsize(len(chosen), numOutputs)
		fee := feeRate * int64(vsize)
		change := total - targetSats - fee

		if change < 0 {
			continue
		}

		if !hasChangeOutput || (change > 0 && change < int64(config.BTCDustThresholdSats)) {
			// No change address available, or change too small to pay
			// out; fold the leftover into the fee with a single output.
			vsizeNoChange := EstimateVsize(len(chosen), 1)
			feeNoChange := feeRate * int64(vsizeNoChange)
			if total-targetSats-feeNoChange < 0 {
				continue
			}
			return &Selection{
				Inputs:    chosen,
				InputSats: total,
				FeeSats:   total - targetSats,
				Vsize:     vsizeNoChange,
			}, nil
		}

		return &Selection{
			Inputs:     chosen,
			InputSats:  total,
			FeeSats:    fee,
			ChangeSats: change,
			Vsize:      vsize,
		}, nil
	}

	return nil, fmt.Errorf("%w: available %d sats insufficient for target %d sats plus fee",
		config.ErrInsufficientUTXO, total, targetSats)
}

// CheckWeight rejects a transaction whose estimated weight exceeds
// config.BTCMaxTxWeight (spec.md §4.5, mirrors the teacher's
// BuildBTCConsolidationTx weight guard).
func CheckWeight(numInputs, numOutputs int) error {
	weight := config.BTCTxOverheadWU +
		numInputs*(config.BTCP2WPKHInputNonWitWU+config.BTCP2WPKHInputWitWU) +
		numOutputs*config.BTCP2WPKHOutputWU
	if weight > config.BTCMaxTxWeight {
		return fmt.Errorf("%w: estimated weight %d exceeds max %d",
			config.ErrTxTooLarge, weight, config.BTCMaxTxWeight)
	}
	return nil
}
