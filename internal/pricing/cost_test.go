package pricing

import (
	"testing"

	"github.com/theirongolddev/tokpulse/internal/model"
)

func ptr(v int64) *int64 { return &v }

func TestEstimateCost_RoundsEachComponent(t *testing.T) {
	p := model.PricingEntry{Input: 3, Output: 15, CacheRead: model.Rate(0.3), CacheWrite: model.Rate(3.75)}
	tokens := model.TokenCounts{Input: 1234567, Output: 1, CacheRead: ptr(1), CacheWrite: ptr(7)}

	got := EstimateCost(tokens, p)

	if got.Input != 3.703701 {
		t.Fatalf("Input = %v, want 3.703701", got.Input)
	}
	if got.Output != 0.000015 {
		t.Fatalf("Output = %v, want 0.000015", got.Output)
	}
	// 1 * 0.3 / 1e6 = 0.0000003 rounds to zero and is dropped.
	if got.CacheRead != nil {
		t.Fatalf("CacheRead = %v, want omitted", *got.CacheRead)
	}
	// 7 * 3.75 / 1e6 = 0.00002625 rounds to 0.000026.
	if got.CacheWrite == nil || *got.CacheWrite != 0.000026 {
		t.Fatalf("CacheWrite = %v, want 0.000026", got.CacheWrite)
	}
	if got.Total != 3.703742 {
		t.Fatalf("Total = %v, want 3.703742", got.Total)
	}
}

func TestEstimateCost_OmitsAbsentCache(t *testing.T) {
	p := model.PricingEntry{Input: 0.8, Output: 4, CacheRead: model.Rate(0.08), CacheWrite: model.Rate(1)}
	got := EstimateCost(model.TokenCounts{Input: 1_000_000, Output: 500_000}, p)

	if got.CacheRead != nil || got.CacheWrite != nil {
		t.Fatalf("cache components = %v/%v, want both omitted", got.CacheRead, got.CacheWrite)
	}
	if got.Total != 2.8 {
		t.Fatalf("Total = %v, want 2.8", got.Total)
	}
}

func TestEstimateCost_ZeroRateCacheOmitted(t *testing.T) {
	p := model.PricingEntry{Input: 1, Output: 1}
	got := EstimateCost(model.TokenCounts{Input: 10, CacheRead: ptr(1000)}, p)
	if got.CacheRead != nil {
		t.Fatalf("CacheRead = %v, want omitted when the model has no cache rate", *got.CacheRead)
	}
}

func TestSumUSD_OrderIndependent(t *testing.T) {
	a := SumUSD(0.1, 0.2, 0.3, 1e-7)
	b := SumUSD(1e-7, 0.3, 0.2, 0.1)
	if a != b {
		t.Fatalf("SumUSD order dependence: %v != %v", a, b)
	}
	if a != 0.6 {
		t.Fatalf("SumUSD = %v, want 0.6", a)
	}
}
