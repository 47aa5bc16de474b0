package aggregator

import (
	"sort"

	"github.com/shopspring/decimal"
)

var half = decimal.New(5, -1)

// meanGuardDigits is the number of fractional digits kept beyond the most precise input.
const meanGuardDigits = 16

// median returns the median of values. values is not modified.
func median(values []decimal.Decimal) decimal.Decimal {
	n := len(values)
	if n == 0 {
		return decimal.Zero
	}
	sorted := make([]decimal.Decimal, n)
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })

	// For even count, average the two middle values
	if n%2 == 0 {
		return sorted[n/2-1].Add(sorted[n/2]).Mul(half)
	}
	return sorted[n/2]
}

// mean returns the arithmetic mean of values, clamped to their [min, max].
func mean(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	lo, hi := values[0], values[0]
	sum := decimal.Zero
	var digits int32
	for _, v := range values {
		sum = sum.Add(v)
		lo = decimal.Min(lo, v)
		hi = decimal.Max(hi, v)
		if e := -v.Exponent(); e > digits {
			digits = e
		}
	}
	m := sum.DivRound(decimal.NewFromInt(int64(len(values))), digits+meanGuardDigits)
	switch {
	case m.LessThan(lo):
		return lo
	case m.GreaterThan(hi):
		return hi
	}
	return m
}

// FilterOutliers keeps values within threshold median absolute deviations of the median.
// It returns the indexes of retained values, the median and the MAD.
func FilterOutliers(values []decimal.Decimal, threshold float64) (kept []int, m, mad decimal.Decimal) {
	if len(values) == 0 {
		return nil, decimal.Zero, decimal.Zero
	}

	m = median(values)
	deviations := make([]decimal.Decimal, len(values))
	for i, v := range values {
		deviations[i] = v.Sub(m).Abs()
	}
	mad = median(deviations)

	limit := mad.Mul(decimal.NewFromFloat(threshold))
	for i, d := range deviations {
		if d.LessThanOrEqual(limit) {
			kept = append(kept, i)
		}
	}
	return kept, m, mad
}

// Scale multiplies price by 10^decimals and rounds half away from zero to an integer.
func Scale(price decimal.Decimal, decimals int32) decimal.Decimal {
	return price.Shift(decimals).Round(0)
}
