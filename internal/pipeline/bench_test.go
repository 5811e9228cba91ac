package pipeline

import (
	"strconv"
	"testing"
	"time"

	"github.com/theirongolddev/tokpulse/internal/model"
	"github.com/theirongolddev/tokpulse/internal/pricing"
)

func syntheticRows(sessions, perSession int) []model.UsageEvent {
	models := []string{"claude-sonnet-4-5", "claude-opus-4-6", "claude-haiku-4-5"}
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	rows := make([]model.UsageEvent, 0, sessions*perSession)
	for s := 0; s < sessions; s++ {
		sid := "session-" + strconv.Itoa(s)
		for i := 0; i < perSession; i++ {
			rows = append(rows, model.UsageEvent{
				Timestamp:       base.Add(time.Duration(s*perSession+i) * time.Second),
				ProviderID:      "anthropic",
				ModelID:         models[i%len(models)],
				AgentID:         "claude-code",
				SessionID:       sid,
				InputTokens:     int64(100 + i),
				OutputTokens:    int64(20 + i%7),
				CacheReadTokens: int64(i % 3 * 1000),
			})
		}
	}
	return rows
}

func BenchmarkAggregateSessions(b *testing.B) {
	rows := syntheticRows(200, 250)
	now := rows[len(rows)-1].Timestamp
	opts := Options{Prices: pricing.NewTable(nil, pricing.NewFallback())}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if got := AggregateSessions(rows, now, opts); len(got) != 200 {
			b.Fatalf("sessions = %d, want 200", len(got))
		}
	}
}

func BenchmarkPriceEvents(b *testing.B) {
	src := syntheticRows(200, 250)
	prices := pricing.NewTable(nil, pricing.NewFallback())
	rows := make([]model.UsageEvent, len(src))

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		copy(rows, src)
		PriceEvents(rows, prices)
	}
}
