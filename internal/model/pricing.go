package model

// PricingSource records where a rate came from.
type PricingSource string

const (
	PricingModelsDev PricingSource = "models.dev"
	PricingFallback  PricingSource = "fallback"
	PricingUnknown   PricingSource = "unknown"
)

// PricingEntry holds per-million-token USD rates for one provider/model.
type PricingEntry struct {
	Provider   string        `json:"provider"`
	Model      string        `json:"model"`
	Input      float64       `json:"input"`
	Output     float64       `json:"output"`
	CacheRead  *float64      `json:"cacheRead,omitempty"`
	CacheWrite *float64      `json:"cacheWrite,omitempty"`
	Source     PricingSource `json:"source"`
}

// CostBreakdown is a per-class USD cost. Components are rounded to six
// decimal places and Total is their sum.
type CostBreakdown struct {
	Input      float64  `json:"input"`
	Output     float64  `json:"output"`
	CacheRead  *float64 `json:"cacheRead,omitempty"`
	CacheWrite *float64 `json:"cacheWrite,omitempty"`
	Total      float64  `json:"total"`
}

// Rate returns a pointer to v for use in PricingEntry literals.
func Rate(v float64) *float64 { return &v }
