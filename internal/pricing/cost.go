package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/theirongolddev/tokpulse/internal/model"
)

const costPlaces = 6

// EstimateCost prices each token class at tokens/1e6*rate, rounds every
// component to six places and sums the rounded values. Zero cache components
// are omitted.
func EstimateCost(tokens model.TokenCounts, p model.PricingEntry) model.CostBreakdown {
	in := component(tokens.Input, p.Input)
	out := component(tokens.Output, p.Output)
	total := in.Add(out)

	b := model.CostBreakdown{
		Input:  in.InexactFloat64(),
		Output: out.InexactFloat64(),
	}
	if tokens.CacheRead != nil && p.CacheRead != nil {
		if c := component(*tokens.CacheRead, *p.CacheRead); !c.IsZero() {
			total = total.Add(c)
			b.CacheRead = model.Rate(c.InexactFloat64())
		}
	}
	if tokens.CacheWrite != nil && p.CacheWrite != nil {
		if c := component(*tokens.CacheWrite, *p.CacheWrite); !c.IsZero() {
			total = total.Add(c)
			b.CacheWrite = model.Rate(c.InexactFloat64())
		}
	}
	b.Total = total.InexactFloat64()
	return b
}

func component(tokens int64, rate float64) decimal.Decimal {
	if tokens <= 0 || rate <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(tokens).Mul(decimal.NewFromFloat(rate)).Shift(-6).Round(costPlaces)
}

// SumUSD adds dollar amounts exactly and rounds to six places, so the result
// does not depend on the order of values.
func SumUSD(values ...float64) float64 {
	sum := decimal.Zero
	for _, v := range values {
		sum = sum.Add(decimal.NewFromFloat(v))
	}
	return sum.Round(costPlaces).InexactFloat64()
}

// RoundUSD rounds a dollar amount to six places.
func RoundUSD(v float64) float64 {
	return decimal.NewFromFloat(v).Round(costPlaces).InexactFloat64()
}
