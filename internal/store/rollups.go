package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/theirongolddev/tokpulse/internal/model"
)

func rollupTable(g model.Granularity) (table, keyCol string, err error) {
	switch g {
	case model.Hourly:
		return "hourly_rollups", "hour", nil
	case model.Daily:
		return "daily_rollups", "date", nil
	}
	return "", "", fmt.Errorf("unknown rollup granularity %q", g)
}

// UpsertRollups adds each row's counters to the stored row with the same
// (bucket, provider, model), creating it if absent. Submitting the same batch
// twice counts it twice. Malformed rows are skipped and reported in the
// returned error; the rest are committed.
func (s *Store) UpsertRollups(ctx context.Context, g model.Granularity, rollups []model.Rollup) error {
	if err := s.lockWrite(); err != nil {
		return err
	}
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning rollup upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var valid []model.Rollup
	var rowErrs []error
	for i, r := range rollups {
		if err := validateRollup(r); err != nil {
			rowErrs = append(rowErrs, fmt.Errorf("rollup %d: %w", i, err))
			continue
		}
		valid = append(valid, r)
	}
	if err := upsertRollupsTx(ctx, tx, g, valid); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing rollups: %w", err)
	}
	return errors.Join(rowErrs...)
}

func validateRollup(r model.Rollup) error {
	if r.Bucket == "" || r.Provider == "" || r.Model == "" {
		return errors.New("bucket, provider and model are required")
	}
	if r.TotalInputTokens < 0 || r.TotalOutputTokens < 0 || r.TotalCacheRead < 0 ||
		r.TotalCacheWrite < 0 || r.TotalCostUSD < 0 || r.RequestCount < 0 {
		return errors.New("negative counter")
	}
	return nil
}

func upsertRollupsTx(ctx context.Context, tx *sql.Tx, g model.Granularity, rollups []model.Rollup) error {
	if len(rollups) == 0 {
		return nil
	}
	table, keyCol, err := rollupTable(g)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO `+table+`
		(`+keyCol+`, provider, model, total_input_tokens, total_output_tokens,
		 total_cache_read, total_cache_write, total_cost_usd, request_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(`+keyCol+`, provider, model) DO UPDATE SET
			total_input_tokens  = total_input_tokens + excluded.total_input_tokens,
			total_output_tokens = total_output_tokens + excluded.total_output_tokens,
			total_cache_read    = total_cache_read + excluded.total_cache_read,
			total_cache_write   = total_cache_write + excluded.total_cache_write,
			total_cost_usd      = total_cost_usd + excluded.total_cost_usd,
			request_count       = request_count + excluded.request_count`)
	if err != nil {
		return fmt.Errorf("preparing %s upsert: %w", table, err)
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range rollups {
		if _, err := stmt.ExecContext(ctx, r.Bucket, r.Provider, r.Model,
			r.TotalInputTokens, r.TotalOutputTokens, r.TotalCacheRead, r.TotalCacheWrite,
			r.TotalCostUSD, r.RequestCount); err != nil {
			return fmt.Errorf("upserting %s %s/%s/%s: %w", table, r.Bucket, r.Provider, r.Model, err)
		}
	}
	return nil
}

// Rollups returns rows of g with from <= bucket <= to, ordered by bucket,
// provider and model. Empty bounds are open.
func (s *Store) Rollups(ctx context.Context, g model.Granularity, from, to string) ([]model.Rollup, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	table, keyCol, err := rollupTable(g)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + keyCol + `, provider, model, total_input_tokens, total_output_tokens,
		total_cache_read, total_cache_write, total_cost_usd, request_count
		FROM ` + table + ` WHERE 1 = 1`
	var args []any
	if from != "" {
		query += ` AND ` + keyCol + ` >= ?`
		args = append(args, from)
	}
	if to != "" {
		query += ` AND ` + keyCol + ` <= ?`
		args = append(args, to)
	}
	query += ` ORDER BY ` + keyCol + `, provider, model`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Rollup
	for rows.Next() {
		var r model.Rollup
		if err := rows.Scan(&r.Bucket, &r.Provider, &r.Model, &r.TotalInputTokens, &r.TotalOutputTokens,
			&r.TotalCacheRead, &r.TotalCacheWrite, &r.TotalCostUSD, &r.RequestCount); err != nil {
			return nil, fmt.Errorf("scanning %s: %w", table, err)
		}
		r.TotalCostUSD = roundUSD(r.TotalCostUSD)
		out = append(out, r)
	}
	return out, rows.Err()
}
