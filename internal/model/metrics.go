package model

import "time"

// Granularity selects the rollup table.
type Granularity string

const (
	Hourly Granularity = "hour"
	Daily  Granularity = "day"
)

// Layout returns the bucket key layout for the granularity.
func (g Granularity) Layout() string {
	if g == Hourly {
		return "2006-01-02T15"
	}
	return "2006-01-02"
}

// Rollup is an additive counter row keyed by (Bucket, Provider, Model).
// Bucket is a date ("2006-01-02") or an hour ("2006-01-02T15").
type Rollup struct {
	Bucket            string  `json:"bucket"`
	Provider          string  `json:"provider"`
	Model             string  `json:"model"`
	TotalInputTokens  int64   `json:"totalInputTokens"`
	TotalOutputTokens int64   `json:"totalOutputTokens"`
	TotalCacheRead    int64   `json:"totalCacheRead"`
	TotalCacheWrite   int64   `json:"totalCacheWrite"`
	TotalCostUSD      float64 `json:"totalCostUsd"`
	RequestCount      int64   `json:"requestCount"`
}

// Summary totals usage over [Start, End].
type Summary struct {
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	InputTokens  int64     `json:"inputTokens"`
	OutputTokens int64     `json:"outputTokens"`
	CacheRead    int64     `json:"cacheRead"`
	CacheWrite   int64     `json:"cacheWrite"`
	CostUSD      float64   `json:"costUsd"`
	Requests     int64     `json:"requests"`
	Sessions     int64     `json:"sessions"`
}

// TotalTokens sums every token class.
func (s Summary) TotalTokens() int64 {
	return s.InputTokens + s.OutputTokens + s.CacheRead + s.CacheWrite
}

// GroupSummary is a Summary restricted to one provider/model.
type GroupSummary struct {
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	InputTokens  int64   `json:"inputTokens"`
	OutputTokens int64   `json:"outputTokens"`
	CacheRead    int64   `json:"cacheRead"`
	CacheWrite   int64   `json:"cacheWrite"`
	CostUSD      float64 `json:"costUsd"`
	Requests     int64   `json:"requests"`
	SharePercent float64 `json:"sharePercent"`
}

// TotalTokens sums every token class.
func (g GroupSummary) TotalTokens() int64 {
	return g.InputTokens + g.OutputTokens + g.CacheRead + g.CacheWrite
}

// SeriesPoint is one fixed-width bucket of a time series.
type SeriesPoint struct {
	BucketStart  time.Time `json:"bucketStart"`
	InputTokens  int64     `json:"inputTokens"`
	OutputTokens int64     `json:"outputTokens"`
	CacheRead    int64     `json:"cacheRead"`
	CacheWrite   int64     `json:"cacheWrite"`
	CostUSD      float64   `json:"costUsd"`
	Requests     int64     `json:"requests"`
}

// TotalTokens sums every token class.
func (p SeriesPoint) TotalTokens() int64 {
	return p.InputTokens + p.OutputTokens + p.CacheRead + p.CacheWrite
}
