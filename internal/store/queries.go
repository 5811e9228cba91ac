package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/theirongolddev/tokpulse/internal/model"
)

const sumColumns = `COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0),
	COALESCE(SUM(cache_read_tokens), 0), COALESCE(SUM(cache_write_tokens), 0),
	COALESCE(SUM(cost_usd), 0), COUNT(*)`

// Summary totals events with start <= timestamp <= end.
func (s *Store) Summary(ctx context.Context, start, end time.Time) (model.Summary, error) {
	sum := model.Summary{Start: start, End: end}
	if err := s.ready(); err != nil {
		return sum, err
	}

	err := s.db.QueryRowContext(ctx, `SELECT `+sumColumns+`,
		COUNT(DISTINCT CASE WHEN session_id IS NOT NULL
			THEN COALESCE(agent_id, '') || '/' || session_id END)
		FROM usage_events WHERE timestamp_ms BETWEEN ? AND ?`,
		toMillis(start), toMillis(end),
	).Scan(&sum.InputTokens, &sum.OutputTokens, &sum.CacheRead, &sum.CacheWrite,
		&sum.CostUSD, &sum.Requests, &sum.Sessions)
	if err != nil {
		return sum, fmt.Errorf("querying summary: %w", err)
	}
	sum.CostUSD = roundUSD(sum.CostUSD)
	return sum, nil
}

// GroupedSummary totals events per provider and model over [start, end],
// largest token total first.
func (s *Store) GroupedSummary(ctx context.Context, start, end time.Time) ([]model.GroupSummary, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT provider_id, model_id, `+sumColumns+`
		FROM usage_events WHERE timestamp_ms BETWEEN ? AND ?
		GROUP BY provider_id, model_id`,
		toMillis(start), toMillis(end))
	if err != nil {
		return nil, fmt.Errorf("querying grouped summary: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.GroupSummary
	var grand int64
	for rows.Next() {
		var g model.GroupSummary
		if err := rows.Scan(&g.Provider, &g.Model, &g.InputTokens, &g.OutputTokens,
			&g.CacheRead, &g.CacheWrite, &g.CostUSD, &g.Requests); err != nil {
			return nil, fmt.Errorf("scanning grouped summary: %w", err)
		}
		g.CostUSD = roundUSD(g.CostUSD)
		grand += g.TotalTokens()
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		if grand > 0 {
			out[i].SharePercent = float64(out[i].TotalTokens()) / float64(grand) * 100
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := out[i].TotalTokens(), out[j].TotalTokens()
		if ti != tj {
			return ti > tj
		}
		if out[i].Provider != out[j].Provider {
			return out[i].Provider < out[j].Provider
		}
		return out[i].Model < out[j].Model
	})
	return out, nil
}

// TimeSeries buckets events over [start, end] into fixed windows of
// bucketMinutes. A bucket starts at floor(ts / width) * width; only buckets
// with events are returned, oldest first.
func (s *Store) TimeSeries(ctx context.Context, start, end time.Time, bucketMinutes int) ([]model.SeriesPoint, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if bucketMinutes <= 0 {
		return nil, fmt.Errorf("bucket width must be positive, got %d minutes", bucketMinutes)
	}
	width := int64(bucketMinutes) * int64(time.Minute/time.Millisecond)

	rows, err := s.db.QueryContext(ctx, `SELECT (timestamp_ms / ?) * ? AS bucket, `+sumColumns+`
		FROM usage_events WHERE timestamp_ms BETWEEN ? AND ?
		GROUP BY bucket ORDER BY bucket`,
		width, width, toMillis(start), toMillis(end))
	if err != nil {
		return nil, fmt.Errorf("querying time series: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.SeriesPoint
	for rows.Next() {
		var p model.SeriesPoint
		var bucket int64
		if err := rows.Scan(&bucket, &p.InputTokens, &p.OutputTokens, &p.CacheRead,
			&p.CacheWrite, &p.CostUSD, &p.Requests); err != nil {
			return nil, fmt.Errorf("scanning time series: %w", err)
		}
		p.BucketStart = fromMillis(bucket)
		p.CostUSD = roundUSD(p.CostUSD)
		out = append(out, p)
	}
	return out, rows.Err()
}

// FillSeries returns one point per bucket between start and end, inserting
// zero points where points has none. Series longer than limit are returned
// unfilled.
func FillSeries(points []model.SeriesPoint, start, end time.Time, bucketMinutes, limit int) []model.SeriesPoint {
	if bucketMinutes <= 0 || end.Before(start) {
		return points
	}
	width := int64(bucketMinutes) * int64(time.Minute/time.Millisecond)
	first := toMillis(start) / width * width
	last := toMillis(end) / width * width
	if n := (last-first)/width + 1; limit > 0 && n > int64(limit) {
		return points
	}

	byBucket := make(map[int64]model.SeriesPoint, len(points))
	for _, p := range points {
		byBucket[toMillis(p.BucketStart)] = p
	}
	var out []model.SeriesPoint
	for b := first; b <= last; b += width {
		p, ok := byBucket[b]
		if !ok {
			p = model.SeriesPoint{BucketStart: fromMillis(b)}
		}
		out = append(out, p)
	}
	return out
}

// BurnRate measures consumption over the window ending at now.
func (s *Store) BurnRate(ctx context.Context, window time.Duration, now time.Time) (model.BurnRate, error) {
	br := model.BurnRate{Window: window, End: now}
	if window <= 0 {
		return br, fmt.Errorf("burn rate window must be positive, got %s", window)
	}
	sum, err := s.Summary(ctx, now.Add(-window), now)
	if err != nil {
		return br, err
	}

	br.Tokens = sum.TotalTokens()
	br.CostUSD = sum.CostUSD
	br.Requests = sum.Requests
	br.TokensPerMinute = float64(br.Tokens) / window.Minutes()
	br.CostPerHour = sum.CostUSD / window.Hours()
	br.ProjectedDailyCost = br.CostPerHour * 24
	return br, nil
}
