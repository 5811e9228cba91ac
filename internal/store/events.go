package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/theirongolddev/tokpulse/internal/model"
)

// AppendResult reports what AppendEvents did with each row.
type AppendResult struct {
	Inserted int
	// Updated counts keyed events whose stored row was replaced by a newer
	// version carrying different usage.
	Updated    int
	Duplicates int
	Rejected   int
	// RowErrors joins the per-row failures, nil when every row was accepted.
	RowErrors error
}

// AppendEvents writes events in one transaction. A keyed event replaces the
// stored row with the same Key when its usage differs and is skipped when it
// is identical. Invalid rows are rejected without aborting the batch. Hourly
// and daily rollups receive the deltas of every write in the same
// transaction: inserted rows are added, replaced rows contribute new minus
// old. Each version of an event therefore reaches the rollups exactly once.
func (s *Store) AppendEvents(ctx context.Context, events []model.UsageEvent) (AppendResult, error) {
	var res AppendResult
	if err := s.ready(); err != nil {
		return res, err
	}
	if len(events) == 0 {
		return res, nil
	}

	if err := s.lockWrite(); err != nil {
		return res, err
	}
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("beginning event batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	insert, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO usage_events
		(event_key, timestamp_ms, provider_id, model_id, agent_id, session_id,
		 input_tokens, output_tokens, cache_read_tokens, cache_write_tokens, cost_usd, project_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return res, fmt.Errorf("preparing event insert: %w", err)
	}
	defer func() { _ = insert.Close() }()

	lookup, err := tx.PrepareContext(ctx, `SELECT `+eventColumns+` FROM usage_events WHERE event_key = ?`)
	if err != nil {
		return res, fmt.Errorf("preparing event lookup: %w", err)
	}
	defer func() { _ = lookup.Close() }()

	update, err := tx.PrepareContext(ctx, `UPDATE usage_events SET
		timestamp_ms = ?, provider_id = ?, model_id = ?, agent_id = ?, session_id = ?,
		input_tokens = ?, output_tokens = ?, cache_read_tokens = ?, cache_write_tokens = ?,
		cost_usd = ?, project_path = ?
		WHERE event_key = ?`)
	if err != nil {
		return res, fmt.Errorf("preparing event update: %w", err)
	}
	defer func() { _ = update.Close() }()

	var rowErrs []error
	written := make([]model.UsageEvent, 0, len(events))
	var replaced []model.UsageEvent
	for i, e := range events {
		if err := e.Validate(); err != nil {
			res.Rejected++
			rowErrs = append(rowErrs, fmt.Errorf("event %d: %w", i, err))
			continue
		}
		r, err := insert.ExecContext(ctx, append([]any{nullString(e.Key)}, eventValues(e)...)...)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, ctxErr
			}
			res.Rejected++
			rowErrs = append(rowErrs, fmt.Errorf("event %d: %w", i, err))
			continue
		}
		if n, _ := r.RowsAffected(); n > 0 {
			res.Inserted++
			written = append(written, e)
			continue
		}

		prev, err := scanEvent(lookup.QueryRowContext(ctx, e.Key))
		if err != nil {
			return res, fmt.Errorf("looking up event %q: %w", e.Key, err)
		}
		if sameUsage(prev, e) {
			res.Duplicates++
			continue
		}
		if _, err := update.ExecContext(ctx, append(eventValues(e), e.Key)...); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, ctxErr
			}
			res.Rejected++
			rowErrs = append(rowErrs, fmt.Errorf("event %d: %w", i, err))
			continue
		}
		res.Updated++
		written = append(written, e)
		replaced = append(replaced, prev)
	}

	loc := s.Location()
	for _, g := range []model.Granularity{model.Hourly, model.Daily} {
		deltas := RollupDeltas(written, g, loc)
		deltas = append(deltas, negateRollups(RollupDeltas(replaced, g, loc))...)
		if err := upsertRollupsTx(ctx, tx, g, deltas); err != nil {
			return res, err
		}
	}
	if err := tx.Commit(); err != nil {
		return res, fmt.Errorf("committing event batch: %w", err)
	}

	res.RowErrors = errors.Join(rowErrs...)
	return res, nil
}

// eventValues returns the column values of e after event_key, in
// eventColumns order.
func eventValues(e model.UsageEvent) []any {
	return []any{
		toMillis(e.Timestamp), e.ProviderID, e.ModelID,
		nullString(e.AgentID), nullString(e.SessionID),
		e.InputTokens, e.OutputTokens, nullPositive(e.CacheReadTokens), nullPositive(e.CacheWriteTokens),
		e.CostUSD, nullString(e.ProjectPath),
	}
}

// sameUsage reports whether stored and incoming describe the same usage at
// the store's millisecond resolution.
func sameUsage(stored, incoming model.UsageEvent) bool {
	return toMillis(stored.Timestamp) == toMillis(incoming.Timestamp) &&
		stored.ProviderID == incoming.ProviderID &&
		stored.ModelID == incoming.ModelID &&
		stored.AgentID == incoming.AgentID &&
		stored.SessionID == incoming.SessionID &&
		stored.InputTokens == incoming.InputTokens &&
		stored.OutputTokens == incoming.OutputTokens &&
		stored.CacheReadTokens == incoming.CacheReadTokens &&
		stored.CacheWriteTokens == incoming.CacheWriteTokens &&
		stored.CostUSD == incoming.CostUSD &&
		stored.ProjectPath == incoming.ProjectPath
}

func negateRollups(rs []model.Rollup) []model.Rollup {
	for i := range rs {
		r := &rs[i]
		r.TotalInputTokens = -r.TotalInputTokens
		r.TotalOutputTokens = -r.TotalOutputTokens
		r.TotalCacheRead = -r.TotalCacheRead
		r.TotalCacheWrite = -r.TotalCacheWrite
		r.TotalCostUSD = -r.TotalCostUSD
		r.RequestCount = -r.RequestCount
	}
	return rs
}

// RollupDeltas groups events into additive rollup rows for g, keyed in loc.
// Output is sorted by bucket, provider and model.
func RollupDeltas(events []model.UsageEvent, g model.Granularity, loc *time.Location) []model.Rollup {
	if loc == nil {
		loc = time.Local
	}
	type key struct{ bucket, provider, model string }
	type acc struct {
		r    model.Rollup
		cost decimal.Decimal
	}
	groups := make(map[key]*acc)
	for _, e := range events {
		k := key{e.Timestamp.In(loc).Format(g.Layout()), e.ProviderID, e.ModelID}
		a, ok := groups[k]
		if !ok {
			a = &acc{r: model.Rollup{Bucket: k.bucket, Provider: k.provider, Model: k.model}}
			groups[k] = a
		}
		a.r.TotalInputTokens += e.InputTokens
		a.r.TotalOutputTokens += e.OutputTokens
		a.r.TotalCacheRead += e.CacheReadTokens
		a.r.TotalCacheWrite += e.CacheWriteTokens
		a.r.RequestCount++
		a.cost = a.cost.Add(decimal.NewFromFloat(e.CostUSD))
	}

	out := make([]model.Rollup, 0, len(groups))
	for _, a := range groups {
		a.r.TotalCostUSD = a.cost.Round(6).InexactFloat64()
		out = append(out, a.r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Bucket != out[j].Bucket {
			return out[i].Bucket < out[j].Bucket
		}
		if out[i].Provider != out[j].Provider {
			return out[i].Provider < out[j].Provider
		}
		return out[i].Model < out[j].Model
	})
	return out
}

// EventFilter narrows ListEvents. Zero fields match everything.
type EventFilter struct {
	Start time.Time
	End   time.Time
	// ActiveSince keeps the events of every (agent, session) with at least
	// one event at or after it. Older events of such sessions are included.
	ActiveSince time.Time
	Provider    string
	Model       string
	Agent       string
	Session     string
	Limit       int
}

func (f EventFilter) where() (string, []any) {
	var conds []string
	var args []any
	if !f.Start.IsZero() {
		conds = append(conds, "timestamp_ms >= ?")
		args = append(args, toMillis(f.Start))
	}
	if !f.End.IsZero() {
		conds = append(conds, "timestamp_ms <= ?")
		args = append(args, toMillis(f.End))
	}
	if !f.ActiveSince.IsZero() {
		conds = append(conds, `EXISTS (SELECT 1 FROM usage_events live
			WHERE live.agent_id IS usage_events.agent_id
			AND live.session_id IS usage_events.session_id
			AND live.timestamp_ms >= ?)`)
		args = append(args, toMillis(f.ActiveSince))
	}
	for _, c := range []struct{ col, val string }{
		{"provider_id", f.Provider},
		{"model_id", f.Model},
		{"agent_id", f.Agent},
		{"session_id", f.Session},
	} {
		if c.val != "" {
			conds = append(conds, c.col+" = ?")
			args = append(args, c.val)
		}
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// ListEvents returns matching events oldest first.
func (s *Store) ListEvents(ctx context.Context, f EventFilter) ([]model.UsageEvent, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	where, args := f.where()
	query := `SELECT ` + eventColumns + ` FROM usage_events` + where + ` ORDER BY timestamp_ms, id`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.UsageEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

const eventColumns = `event_key, timestamp_ms, provider_id, model_id, agent_id, session_id,
	input_tokens, output_tokens, cache_read_tokens, cache_write_tokens, cost_usd, project_path`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(sc rowScanner) (model.UsageEvent, error) {
	var (
		e                         model.UsageEvent
		key, agent, session, proj sql.NullString
		ts                        int64
		cacheRead, cacheWrite     sql.NullInt64
	)
	if err := sc.Scan(&key, &ts, &e.ProviderID, &e.ModelID, &agent, &session,
		&e.InputTokens, &e.OutputTokens, &cacheRead, &cacheWrite, &e.CostUSD, &proj); err != nil {
		return e, err
	}
	e.Key = key.String
	e.Timestamp = fromMillis(ts)
	e.AgentID = agent.String
	e.SessionID = session.String
	e.ProjectPath = proj.String
	e.CacheReadTokens = cacheRead.Int64
	e.CacheWriteTokens = cacheWrite.Int64
	return e, nil
}
