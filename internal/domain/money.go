package domain

import (
	"sort"

	"github.com/shopspring/decimal"
)

// RoundMoney rounds half away from zero to two decimal places
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// ToCents converts a rounded amount to integer minor units
func ToCents(d decimal.Decimal) int64 {
	return RoundMoney(d).Shift(2).IntPart()
}

// FromCents converts minor units back to an amount
func FromCents(c int64) decimal.Decimal {
	return decimal.New(c, -2)
}

// AllocateTotal splits total across units in proportion to their list prices.
// The result always sums to exactly total; leftover cents go to the units with
// the largest remainders, lowest index first on ties.
func AllocateTotal(unitPrices []decimal.Decimal, total decimal.Decimal) []decimal.Decimal {
	out := make([]decimal.Decimal, len(unitPrices))
	if len(unitPrices) == 0 {
		return out
	}

	totalCents := ToCents(total)
	var listCents int64
	cents := make([]int64, len(unitPrices))
	for i, p := range unitPrices {
		cents[i] = ToCents(p)
		listCents += cents[i]
	}

	alloc := make([]int64, len(unitPrices))
	if listCents == 0 {
		// Free list prices: spread the total evenly
		for i := range alloc {
			alloc[i] = totalCents / int64(len(alloc))
		}
		distributeRemainder(alloc, make([]int64, len(alloc)), totalCents)
	} else {
		rem := make([]int64, len(unitPrices))
		for i, c := range cents {
			num := c * totalCents
			alloc[i] = num / listCents
			rem[i] = num % listCents
		}
		distributeRemainder(alloc, rem, totalCents)
	}

	for i, c := range alloc {
		out[i] = FromCents(c)
	}
	return out
}

func distributeRemainder(alloc, rem []int64, totalCents int64) {
	var sum int64
	for _, a := range alloc {
		sum += a
	}
	left := totalCents - sum
	if left <= 0 {
		return
	}

	idx := make([]int, len(alloc))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return rem[idx[a]] > rem[idx[b]] })

	for i := 0; left > 0; i = (i + 1) % len(idx) {
		alloc[idx[i]]++
		left--
	}
}
