package pipeline

import (
	"math"
	"math/rand"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theirongolddev/tokpulse/internal/model"
	"github.com/theirongolddev/tokpulse/internal/pricing"
)

var epoch = time.UnixMilli(0).UTC()

func at(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func TestAggregateSessions_SingleSessionScenario(t *testing.T) {
	rows := []model.UsageEvent{
		{Timestamp: at(0), ProviderID: "anthropic", ModelID: "m1", AgentID: "a1", SessionID: "s1", InputTokens: 100, OutputTokens: 50},
		{Timestamp: at(1000), ProviderID: "anthropic", ModelID: "m1", AgentID: "a1", SessionID: "s1", InputTokens: 200, OutputTokens: 80, CacheReadTokens: 10},
		{Timestamp: at(2000), ProviderID: "anthropic", ModelID: "m1", AgentID: "a1", SessionID: "s1", InputTokens: 50, OutputTokens: 20},
	}

	got := AggregateSessions(rows, at(2000), Options{})
	require.Len(t, got, 1)

	s := got[0]
	assert.Equal(t, "a1", s.AgentID)
	assert.Equal(t, "s1", s.SessionID)
	assert.True(t, s.StartedAt.Equal(epoch))
	assert.True(t, s.LastActivityAt.Equal(at(2000)))
	assert.EqualValues(t, 350, s.Totals.Input)
	assert.EqualValues(t, 150, s.Totals.Output)
	require.NotNil(t, s.Totals.CacheRead)
	assert.EqualValues(t, 10, *s.Totals.CacheRead)
	assert.Nil(t, s.Totals.CacheWrite, "cacheWrite must stay absent")
	assert.Equal(t, 3, s.RequestCount)
	require.Len(t, s.Streams, 1)
	assert.Equal(t, model.StatusActive, s.Status)
	assert.Equal(t, model.PricingUnknown, s.Streams[0].PricingSource)
	assert.Nil(t, s.CostUSD)
}

func mixedRows() []model.UsageEvent {
	var rows []model.UsageEvent
	sessions := []struct{ agent, id string }{{"claude-code", "s1"}, {"claude-code", "s2"}, {"codex", "s1"}, {"codex", "s9"}}
	models := []struct{ provider, model string }{{"anthropic", "claude-sonnet-4-5"}, {"anthropic", "claude-haiku-4-5"}, {"openai", "gpt-5"}}
	for i := 0; i < 60; i++ {
		s := sessions[i%len(sessions)]
		m := models[(i/2)%len(models)]
		rows = append(rows, model.UsageEvent{
			Timestamp:        at(int64(1000*i + 7*(i%len(sessions)))),
			ProviderID:       m.provider,
			ModelID:          m.model,
			AgentID:          s.agent,
			SessionID:        s.id,
			InputTokens:      int64(10 * (i + 1)),
			OutputTokens:     int64(3 * i),
			CacheReadTokens:  int64(i % 3),
			CacheWriteTokens: int64((i % 5) / 4),
			CostUSD:          0.001 * float64(i%4),
			ProjectPath:      "/work/" + s.id,
		})
	}
	// Rows that must not reach any session.
	rows = append(rows,
		model.UsageEvent{Timestamp: at(500), ProviderID: "anthropic", ModelID: "x", InputTokens: 5},
		model.UsageEvent{Timestamp: at(600), ProviderID: "anthropic", ModelID: "x", SessionID: "bad", InputTokens: -1},
	)
	return rows
}

func TestAggregateSessions_PermutationInvariant(t *testing.T) {
	rows := mixedRows()
	now := at(90_000)
	opts := Options{Prices: pricing.NewTable(nil, pricing.NewFallback())}
	want := AggregateSessions(rows, now, opts)
	require.Len(t, want, 4)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 25; i++ {
		shuffled := append([]model.UsageEvent(nil), rows...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		got := AggregateSessions(shuffled, now, opts)
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("permutation %d changed aggregates:\n got %+v\nwant %+v", i, got, want)
		}
	}
}

func TestAggregateSessions_SumInvariant(t *testing.T) {
	got := AggregateSessions(mixedRows(), at(90_000), Options{})
	for _, s := range got {
		var sum model.TokenCounts
		requests := 0
		for _, st := range s.Streams {
			sum = sum.Add(st.Tokens)
			requests += st.RequestCount
		}
		assert.Equal(t, sum, s.Totals, "session %s totals", s.Key())
		assert.Equal(t, requests, s.RequestCount, "session %s requests", s.Key())
	}
}

func TestAggregateSessions_SortedByLastActivity(t *testing.T) {
	got := AggregateSessions(mixedRows(), at(90_000), Options{})
	for i := 1; i < len(got); i++ {
		assert.False(t, got[i].LastActivityAt.After(got[i-1].LastActivityAt),
			"session %d is newer than session %d", i, i-1)
	}
}

func TestAggregateSessions_TiesKeepInputOrder(t *testing.T) {
	rows := []model.UsageEvent{
		{Timestamp: at(5000), ProviderID: "p", ModelID: "m", SessionID: "b", InputTokens: 1},
		{Timestamp: at(5000), ProviderID: "p", ModelID: "m", SessionID: "a", InputTokens: 1},
		{Timestamp: at(9000), ProviderID: "p", ModelID: "m", SessionID: "c", InputTokens: 1},
	}
	got := AggregateSessions(rows, at(9000), Options{})
	require.Len(t, got, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{got[0].SessionID, got[1].SessionID, got[2].SessionID})
}

func TestAggregateSessions_StatusBoundary(t *testing.T) {
	rows := []model.UsageEvent{{Timestamp: at(0), ProviderID: "p", ModelID: "m", SessionID: "s", InputTokens: 1}}
	opts := Options{ActiveThreshold: 120_000 * time.Millisecond}

	got := AggregateSessions(rows, at(120_000), opts)
	assert.Equal(t, model.StatusActive, got[0].Status)

	got = AggregateSessions(rows, at(120_001), opts)
	assert.Equal(t, model.StatusIdle, got[0].Status)
}

func TestAggregateSessions_ExternalLastSeenWins(t *testing.T) {
	rows := []model.UsageEvent{{Timestamp: at(0), ProviderID: "p", ModelID: "m", AgentID: "a", SessionID: "s", InputTokens: 1}}
	key := model.SessionKey{AgentID: "a", SessionID: "s"}
	opts := Options{LastSeen: map[model.SessionKey]time.Time{key: at(500_000)}}

	got := AggregateSessions(rows, at(600_000), opts)
	require.Len(t, got, 1)
	assert.Equal(t, model.StatusActive, got[0].Status)
	assert.True(t, got[0].LastSeenAt.Equal(at(500_000)))
	assert.True(t, got[0].LastActivityAt.Equal(epoch), "row-derived activity is unchanged")
}

func TestAggregateSessions_SkipsMalformedRows(t *testing.T) {
	rows := []model.UsageEvent{
		{Timestamp: at(1), ProviderID: "p", ModelID: "m", SessionID: "s", InputTokens: 10},
		{ProviderID: "p", ModelID: "m", SessionID: "s", InputTokens: 99},
		{Timestamp: at(2), ModelID: "m", SessionID: "s", InputTokens: 99},
		{Timestamp: at(3), ProviderID: "p", ModelID: "m", SessionID: "s", OutputTokens: -5},
		{Timestamp: at(4), ProviderID: "p", ModelID: "m", SessionID: "s", CostUSD: math.NaN()},
		{Timestamp: at(5), ProviderID: "p", ModelID: "m", InputTokens: 1000},
	}
	got := AggregateSessions(rows, at(10), Options{})
	require.Len(t, got, 1)
	assert.EqualValues(t, 10, got[0].Totals.Input)
	assert.Equal(t, 1, got[0].RequestCount)

	assert.EqualValues(t, 1010, TotalTokens(rows), "session-less rows still count globally")
}

func TestAggregateSessions_Empty(t *testing.T) {
	assert.Empty(t, AggregateSessions(nil, at(0), Options{}))
}

func TestAggregateSessions_PricedStreams(t *testing.T) {
	rows := []model.UsageEvent{
		{Timestamp: at(0), ProviderID: "anthropic", ModelID: "claude-3-5-haiku-20241022", SessionID: "s", InputTokens: 1_000_000, OutputTokens: 250_000, CacheReadTokens: 500_000},
		{Timestamp: at(1), ProviderID: "acme", ModelID: "rocket", SessionID: "s", InputTokens: 10, CostUSD: 0.25},
		{Timestamp: at(2), ProviderID: "acme", ModelID: "rocket", SessionID: "s", InputTokens: 10, CostUSD: 0.5},
	}
	got := AggregateSessions(rows, at(2), Options{Prices: pricing.NewTable(nil, pricing.NewFallback())})
	require.Len(t, got, 1)
	require.Len(t, got[0].Streams, 2)

	acme, haiku := got[0].Streams[0], got[0].Streams[1]
	assert.Equal(t, "acme", acme.ProviderID)
	assert.Equal(t, model.PricingUnknown, acme.PricingSource)
	require.NotNil(t, acme.CostUSD)
	assert.Equal(t, 0.75, *acme.CostUSD)

	assert.Equal(t, model.PricingFallback, haiku.PricingSource)
	require.NotNil(t, haiku.CostUSD)
	// 0.8 + 1.0 + 0.04
	assert.Equal(t, 1.84, *haiku.CostUSD)

	require.NotNil(t, got[0].CostUSD)
	assert.Equal(t, 2.59, *got[0].CostUSD)
}

func TestProviderTotals(t *testing.T) {
	totals := ProviderTotals(mixedRows())
	assert.Contains(t, totals, "anthropic")
	assert.Contains(t, totals, "openai")
	assert.NotContains(t, totals, "")
}
