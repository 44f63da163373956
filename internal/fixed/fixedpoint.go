package fixed

import (
	"math/big"
	"sync"
)

// Amounts (collateral, pools, bets, payouts) are int64 quote cents.
const (
	QuoteDecimals = 2
	QuoteScale    = 100
)

// BpsDenominator is the basis-point divisor for fee math.
const BpsDenominator = 10_000

var intPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt() *big.Int {
	return intPool.Get().(*big.Int)
}

func putInt(v *big.Int) {
	v.SetInt64(0)
	intPool.Put(v)
}

// MulDiv computes a * b / den using 128-bit intermediates, rounding toward
// zero. Panics if den == 0. Used for pro-rata payout splits, where flooring
// guarantees the sum of shares never exceeds the distributable total.
func MulDiv(a, b, den int64) int64 {
	if den == 0 {
		panic("fixed: MulDiv division by zero")
	}

	product := getInt()
	defer putInt(product)

	product.Mul(big.NewInt(a), big.NewInt(b))
	product.Quo(product, big.NewInt(den))

	return product.Int64()
}

// ApplyFeeBps returns amount reduced by fee basis points, floored.
func ApplyFeeBps(amount, feeBps int64) int64 {
	return MulDiv(amount, BpsDenominator-feeBps, BpsDenominator)
}
