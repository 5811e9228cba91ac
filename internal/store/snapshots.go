package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/theirongolddev/tokpulse/internal/model"
)

// RecordSnapshot appends a provider snapshot and its limit windows atomically
// and returns the new snapshot id.
func (s *Store) RecordSnapshot(ctx context.Context, snap model.ProviderSnapshot) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	if snap.Provider == "" || snap.Timestamp.IsZero() {
		return 0, fmt.Errorf("recording snapshot: provider and timestamp are required")
	}

	if err := s.lockWrite(); err != nil {
		return 0, err
	}
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning snapshot: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var limitReached sql.NullInt64
	if snap.LimitReached != nil {
		limitReached = sql.NullInt64{Valid: true}
		if *snap.LimitReached {
			limitReached.Int64 = 1
		}
	}

	res, err := tx.ExecContext(ctx, `INSERT INTO provider_snapshots
		(timestamp_ms, provider, plan_type, used_percent, limit_reached,
		 tokens_input, tokens_output, cost_usd, error, raw_payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		toMillis(snap.Timestamp), snap.Provider, nullString(snap.PlanType),
		nullFloatPtr(snap.UsedPercent), limitReached,
		nullIntPtr(snap.TokensInput), nullIntPtr(snap.TokensOutput), nullFloatPtr(snap.CostUSD),
		nullString(snap.Error), nullString(string(snap.RawPayload)),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting snapshot: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading snapshot id: %w", err)
	}

	for _, w := range snap.Windows {
		var resets sql.NullInt64
		if w.ResetsAt != nil {
			resets = sql.NullInt64{Int64: toMillis(*w.ResetsAt), Valid: true}
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO snapshot_windows
			(snapshot_id, name, used_percent, resets_at_ms) VALUES (?, ?, ?, ?)`,
			id, w.Name, w.UsedPercent, resets); err != nil {
			return 0, fmt.Errorf("inserting snapshot window %s: %w", w.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing snapshot: %w", err)
	}
	return id, nil
}

// RecentSnapshots returns up to n snapshots, newest first. An empty provider
// matches all providers.
func (s *Store) RecentSnapshots(ctx context.Context, provider string, n int) ([]model.ProviderSnapshot, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}

	query := `SELECT id, timestamp_ms, provider, plan_type, used_percent, limit_reached,
		tokens_input, tokens_output, cost_usd, error, raw_payload
		FROM provider_snapshots`
	var args []any
	if provider != "" {
		query += ` WHERE provider = ?`
		args = append(args, provider)
	}
	query += ` ORDER BY timestamp_ms DESC, id DESC LIMIT ?`
	args = append(args, n)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.ProviderSnapshot
	for rows.Next() {
		var (
			snap                 model.ProviderSnapshot
			ts                   int64
			plan, errText, raw   sql.NullString
			used, cost           sql.NullFloat64
			limit, tokIn, tokOut sql.NullInt64
		)
		if err := rows.Scan(&snap.ID, &ts, &snap.Provider, &plan, &used, &limit,
			&tokIn, &tokOut, &cost, &errText, &raw); err != nil {
			return nil, fmt.Errorf("scanning snapshot: %w", err)
		}
		snap.Timestamp = fromMillis(ts)
		snap.PlanType = plan.String
		snap.UsedPercent = floatPtr(used)
		snap.TokensInput = intPtr(tokIn)
		snap.TokensOutput = intPtr(tokOut)
		snap.CostUSD = floatPtr(cost)
		snap.Error = errText.String
		if raw.Valid {
			snap.RawPayload = []byte(raw.String)
		}
		if limit.Valid {
			reached := limit.Int64 != 0
			snap.LimitReached = &reached
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		windows, err := s.snapshotWindows(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Windows = windows
	}
	return out, nil
}

func (s *Store) snapshotWindows(ctx context.Context, id int64) ([]model.LimitWindow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, used_percent, resets_at_ms
		FROM snapshot_windows WHERE snapshot_id = ? ORDER BY name`, id)
	if err != nil {
		return nil, fmt.Errorf("querying snapshot windows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.LimitWindow
	for rows.Next() {
		var w model.LimitWindow
		var resets sql.NullInt64
		if err := rows.Scan(&w.Name, &w.UsedPercent, &resets); err != nil {
			return nil, fmt.Errorf("scanning snapshot window: %w", err)
		}
		if resets.Valid {
			t := fromMillis(resets.Int64)
			w.ResetsAt = &t
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
