// Package fee computes platform fees from release amounts and fee rates
// expressed in basis points. All functions are pure.
package fee

import "math/big"

const (
	// BpsDenominator is the basis-point scale: 10000 bps = 100%.
	BpsDenominator = 10000

	// MaxBps caps the configurable platform fee rate at 10%.
	MaxBps = 1000
)

// Calc returns floor(amount * bps / 10000). The product is taken in big.Int
// so amounts near the int64 maximum never silently truncate before the
// division. Non-positive inputs yield zero.
func Calc(amount, bps int64) int64 {
	if amount <= 0 || bps <= 0 {
		return 0
	}
	product := new(big.Int).Mul(big.NewInt(amount), big.NewInt(bps))
	product.Quo(product, big.NewInt(BpsDenominator))
	// floor(a*b/10000) <= a for bps <= 10000, so the result fits in int64.
	return product.Int64()
}

// ValidBps reports whether bps is an acceptable platform fee rate.
func ValidBps(bps int64) bool {
	return bps >= 0 && bps <= MaxBps
}

// SplitDispute divides the remaining escrow of a disputed agreement.
// refundBps of the remainder goes back to the payer; the platform fee is
// computed on the full remainder and withheld from the payee share only.
// When the payee share is smaller than the fee, the payee receives zero and
// the withheld fee is clamped to the share, never pushing the payout
// negative.
func SplitDispute(remaining, refundBps, feeBps int64) (refund, payout, withheld int64) {
	refund = Calc(remaining, refundBps)
	gross := remaining - refund
	withheld = Calc(remaining, feeBps)
	if withheld > gross {
		withheld = gross
	}
	payout = gross - withheld
	return refund, payout, withheld
}
