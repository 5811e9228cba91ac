// Package pipeline folds raw usage events into per-session aggregates.
package pipeline

import (
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/theirongolddev/tokpulse/internal/model"
	"github.com/theirongolddev/tokpulse/internal/pricing"
)

// DefaultActiveThreshold is how long a session stays active after its last
// sighting.
const DefaultActiveThreshold = 120 * time.Second

// Options controls AggregateSessions.
type Options struct {
	// ActiveThreshold defaults to DefaultActiveThreshold when zero.
	ActiveThreshold time.Duration
	// LastSeen holds externally reported session update times, such as a
	// session log's modification time. They win over event timestamps.
	LastSeen map[model.SessionKey]time.Time
	// Prices prices streams. When nil, or when a model is not found, a stream
	// carries the sum of event-reported costs and PricingUnknown.
	Prices pricing.Lookup
}

type streamKey struct {
	provider string
	model    string
}

type streamAcc struct {
	tokens   model.TokenCounts
	requests int
	reported []float64
}

type sessionAcc struct {
	key       model.SessionKey
	project   string
	projectAt time.Time
	started   time.Time
	last      time.Time
	streams   map[streamKey]*streamAcc
}

// AggregateSessions rebuilds every session aggregate from rows. Rows without a
// session id or failing ValidEvent are ignored. The result is sorted by
// LastActivityAt descending; ties keep the order in which sessions first
// appear in rows.
func AggregateSessions(rows []model.UsageEvent, now time.Time, opts Options) []model.SessionAggregate {
	threshold := opts.ActiveThreshold
	if threshold <= 0 {
		threshold = DefaultActiveThreshold
	}

	groups := make(map[model.SessionKey]*sessionAcc)
	var order []*sessionAcc

	for _, e := range rows {
		if e.SessionID == "" || !ValidEvent(e) {
			continue
		}
		key := model.SessionKey{AgentID: e.AgentID, SessionID: e.SessionID}
		g, ok := groups[key]
		if !ok {
			g = &sessionAcc{
				key:     key,
				started: e.Timestamp,
				last:    e.Timestamp,
				streams: make(map[streamKey]*streamAcc),
			}
			groups[key] = g
			order = append(order, g)
		}

		if e.Timestamp.Before(g.started) {
			g.started = e.Timestamp
		}
		if e.Timestamp.After(g.last) {
			g.last = e.Timestamp
		}
		g.takeProject(e)

		sk := streamKey{provider: e.ProviderID, model: e.ModelID}
		st, ok := g.streams[sk]
		if !ok {
			st = &streamAcc{}
			g.streams[sk] = st
		}
		st.tokens = st.tokens.Add(e.Tokens())
		st.requests++
		if e.CostUSD > 0 {
			st.reported = append(st.reported, e.CostUSD)
		}
	}

	out := make([]model.SessionAggregate, 0, len(order))
	for _, g := range order {
		agg := g.build(opts.Prices)

		agg.LastSeenAt = g.last
		if ext, ok := opts.LastSeen[g.key]; ok && !ext.IsZero() {
			agg.LastSeenAt = ext
		}
		agg.Status = model.StatusIdle
		if now.Sub(agg.LastSeenAt) <= threshold {
			agg.Status = model.StatusActive
		}
		out = append(out, agg)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastActivityAt.After(out[j].LastActivityAt)
	})
	return out
}

// takeProject keeps the project path of the latest event, breaking timestamp
// ties by the lexically smallest path.
func (g *sessionAcc) takeProject(e model.UsageEvent) {
	if e.ProjectPath == "" {
		return
	}
	switch {
	case g.project == "",
		e.Timestamp.After(g.projectAt),
		e.Timestamp.Equal(g.projectAt) && e.ProjectPath < g.project:
		g.project = e.ProjectPath
		g.projectAt = e.Timestamp
	}
}

func (g *sessionAcc) build(prices pricing.Lookup) model.SessionAggregate {
	keys := lo.Keys(g.streams)
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].provider != keys[j].provider {
			return keys[i].provider < keys[j].provider
		}
		return keys[i].model < keys[j].model
	})

	agg := model.SessionAggregate{
		AgentID:        g.key.AgentID,
		SessionID:      g.key.SessionID,
		ProjectPath:    g.project,
		StartedAt:      g.started,
		LastActivityAt: g.last,
		Streams:        make([]model.StreamAggregate, 0, len(keys)),
	}

	var costs []float64
	for _, k := range keys {
		st := g.streams[k]
		s := model.StreamAggregate{
			ProviderID:    k.provider,
			ModelID:       k.model,
			Tokens:        st.tokens,
			RequestCount:  st.requests,
			PricingSource: model.PricingUnknown,
		}
		if entry, ok := lookup(prices, k); ok {
			cost := pricing.EstimateCost(st.tokens, entry).Total
			s.CostUSD = &cost
			s.PricingSource = entry.Source
		} else if len(st.reported) > 0 {
			cost := pricing.SumUSD(st.reported...)
			s.CostUSD = &cost
		}
		if s.CostUSD != nil {
			costs = append(costs, *s.CostUSD)
		}

		agg.Totals = agg.Totals.Add(s.Tokens)
		agg.RequestCount += s.RequestCount
		agg.Streams = append(agg.Streams, s)
	}
	if len(costs) > 0 {
		total := pricing.SumUSD(costs...)
		agg.CostUSD = &total
	}
	return agg
}

func lookup(prices pricing.Lookup, k streamKey) (model.PricingEntry, bool) {
	if prices == nil {
		return model.PricingEntry{}, false
	}
	return prices.Lookup(k.provider, k.model)
}

// ValidEvent reports whether e carries the fields aggregation needs.
func ValidEvent(e model.UsageEvent) bool {
	return e.Validate() == nil
}

// TotalTokens sums every valid row, including rows without a session id.
func TotalTokens(rows []model.UsageEvent) int64 {
	var total int64
	for _, e := range rows {
		if ValidEvent(e) {
			total += e.TotalTokens()
		}
	}
	return total
}

// ProviderTotals sums valid rows per provider, including rows without a
// session id.
func ProviderTotals(rows []model.UsageEvent) map[string]model.TokenCounts {
	out := make(map[string]model.TokenCounts)
	for _, e := range rows {
		if !ValidEvent(e) {
			continue
		}
		out[e.ProviderID] = out[e.ProviderID].Add(e.Tokens())
	}
	return out
}
