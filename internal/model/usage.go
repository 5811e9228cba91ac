package model

import (
	"errors"
	"math"
	"time"
)

// UsageEvent is one immutable observation of token consumption. Key, when
// set, is a stable identity used to persist the event at most once.
type UsageEvent struct {
	Key              string    `json:"key,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
	ProviderID       string    `json:"providerId"`
	ModelID          string    `json:"modelId"`
	AgentID          string    `json:"agentId,omitempty"`
	SessionID        string    `json:"sessionId,omitempty"`
	InputTokens      int64     `json:"inputTokens"`
	OutputTokens     int64     `json:"outputTokens"`
	CacheReadTokens  int64     `json:"cacheReadTokens,omitempty"`
	CacheWriteTokens int64     `json:"cacheWriteTokens,omitempty"`
	CostUSD          float64   `json:"costUsd"`
	ProjectPath      string    `json:"projectPath,omitempty"`
}

// Validate reports the first missing or out-of-range field.
func (e UsageEvent) Validate() error {
	switch {
	case e.Timestamp.IsZero():
		return errors.New("missing timestamp")
	case e.ProviderID == "":
		return errors.New("missing provider id")
	case e.ModelID == "":
		return errors.New("missing model id")
	case e.InputTokens < 0 || e.OutputTokens < 0 || e.CacheReadTokens < 0 || e.CacheWriteTokens < 0:
		return errors.New("negative token count")
	case math.IsNaN(e.CostUSD) || math.IsInf(e.CostUSD, 0) || e.CostUSD < 0:
		return errors.New("cost is not a finite non-negative number")
	}
	return nil
}

// Tokens returns the event's counts. Cache classes are left absent when zero.
func (e UsageEvent) Tokens() TokenCounts {
	return TokenCounts{
		Input:      e.InputTokens,
		Output:     e.OutputTokens,
		CacheRead:  Optional(e.CacheReadTokens),
		CacheWrite: Optional(e.CacheWriteTokens),
	}
}

// TotalTokens sums every token class of the event.
func (e UsageEvent) TotalTokens() int64 {
	return e.InputTokens + e.OutputTokens + e.CacheReadTokens + e.CacheWriteTokens
}

// TokenCounts is a sparse token tally. CacheRead and CacheWrite are nil when
// no contributing value was positive.
type TokenCounts struct {
	Input      int64  `json:"input"`
	Output     int64  `json:"output"`
	CacheRead  *int64 `json:"cacheRead,omitempty"`
	CacheWrite *int64 `json:"cacheWrite,omitempty"`
}

// Add returns the field-wise sum. A cache field materializes only if either
// side is positive.
func (t TokenCounts) Add(o TokenCounts) TokenCounts {
	return TokenCounts{
		Input:      t.Input + o.Input,
		Output:     t.Output + o.Output,
		CacheRead:  addOptional(t.CacheRead, o.CacheRead),
		CacheWrite: addOptional(t.CacheWrite, o.CacheWrite),
	}
}

// CacheReadValue returns the cache-read count, zero when absent.
func (t TokenCounts) CacheReadValue() int64 { return Deref(t.CacheRead) }

// CacheWriteValue returns the cache-write count, zero when absent.
func (t TokenCounts) CacheWriteValue() int64 { return Deref(t.CacheWrite) }

// Total sums every token class.
func (t TokenCounts) Total() int64 {
	return t.Input + t.Output + t.CacheReadValue() + t.CacheWriteValue()
}

// Optional returns a pointer to v, or nil when v is not positive.
func Optional(v int64) *int64 {
	if v <= 0 {
		return nil
	}
	return &v
}

// Deref returns *p, or zero for nil.
func Deref[T int64 | float64](p *T) T {
	if p == nil {
		return 0
	}
	return *p
}

func addOptional(a, b *int64) *int64 {
	av, bv := Deref(a), Deref(b)
	if av <= 0 && bv <= 0 {
		return nil
	}
	sum := av + bv
	return &sum
}
