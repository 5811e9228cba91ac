package pipeline

import (
	"github.com/theirongolddev/tokpulse/internal/model"
	"github.com/theirongolddev/tokpulse/internal/pricing"
)

// PriceEvents fills CostUSD on rows that report no cost, using prices. Rows
// that already carry a cost, and rows whose model is not priced, are left
// as they are. It returns the number of rows priced.
func PriceEvents(rows []model.UsageEvent, prices pricing.Lookup) int {
	if prices == nil {
		return 0
	}
	n := 0
	for i := range rows {
		e := &rows[i]
		if e.CostUSD > 0 || e.TotalTokens() == 0 {
			continue
		}
		entry, ok := prices.Lookup(e.ProviderID, e.ModelID)
		if !ok {
			continue
		}
		e.CostUSD = pricing.EstimateCost(e.Tokens(), entry).Total
		n++
	}
	return n
}
