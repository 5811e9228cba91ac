package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/theirongolddev/tokpulse/internal/model"
)

// SaveSessions writes each aggregate with its stream rows. Every session is
// its own transaction, so a session's rows are committed together or not at
// all.
func (s *Store) SaveSessions(ctx context.Context, aggs []model.SessionAggregate, now time.Time) error {
	if err := s.lockWrite(); err != nil {
		return err
	}
	defer s.writeMu.Unlock()

	var errs []error
	for _, agg := range aggs {
		if err := s.saveSession(ctx, agg, now); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			errs = append(errs, fmt.Errorf("session %s: %w", agg.Key(), err))
		}
	}
	return errors.Join(errs...)
}

func (s *Store) saveSession(ctx context.Context, agg model.SessionAggregate, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `INSERT INTO sessions
		(agent_id, session_id, project_path, started_at_ms, last_activity_at_ms, last_seen_at_ms,
		 status, input_tokens, output_tokens, cache_read_tokens, cache_write_tokens,
		 request_count, cost_usd, updated_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_id, session_id) DO UPDATE SET
			project_path = excluded.project_path,
			started_at_ms = excluded.started_at_ms,
			last_activity_at_ms = excluded.last_activity_at_ms,
			last_seen_at_ms = excluded.last_seen_at_ms,
			status = excluded.status,
			input_tokens = excluded.input_tokens,
			output_tokens = excluded.output_tokens,
			cache_read_tokens = excluded.cache_read_tokens,
			cache_write_tokens = excluded.cache_write_tokens,
			request_count = excluded.request_count,
			cost_usd = excluded.cost_usd,
			updated_at_ms = excluded.updated_at_ms`,
		agg.AgentID, agg.SessionID, nullString(agg.ProjectPath),
		toMillis(agg.StartedAt), toMillis(agg.LastActivityAt), toMillis(agg.LastSeenAt),
		string(agg.Status), agg.Totals.Input, agg.Totals.Output,
		nullIntPtr(agg.Totals.CacheRead), nullIntPtr(agg.Totals.CacheWrite),
		agg.RequestCount, nullFloatPtr(agg.CostUSD), toMillis(now),
	)
	if err != nil {
		return err
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM session_streams WHERE agent_id = ? AND session_id = ?`,
		agg.AgentID, agg.SessionID); err != nil {
		return err
	}

	for _, st := range agg.Streams {
		_, err = tx.ExecContext(ctx, `INSERT INTO session_streams
			(agent_id, session_id, provider_id, model_id, input_tokens, output_tokens,
			 cache_read_tokens, cache_write_tokens, request_count, cost_usd, pricing_source)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			agg.AgentID, agg.SessionID, st.ProviderID, st.ModelID, st.Tokens.Input, st.Tokens.Output,
			nullIntPtr(st.Tokens.CacheRead), nullIntPtr(st.Tokens.CacheWrite),
			st.RequestCount, nullFloatPtr(st.CostUSD), string(st.PricingSource),
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// LoadSessions reads persisted sessions active at or after since, most
// recent first.
func (s *Store) LoadSessions(ctx context.Context, since time.Time) ([]model.SessionAggregate, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT agent_id, session_id, project_path,
		started_at_ms, last_activity_at_ms, last_seen_at_ms, status,
		input_tokens, output_tokens, cache_read_tokens, cache_write_tokens, request_count, cost_usd
		FROM sessions WHERE last_activity_at_ms >= ?
		ORDER BY last_activity_at_ms DESC, agent_id, session_id`, toMillis(since))
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.SessionAggregate
	index := make(map[model.SessionKey]int)
	for rows.Next() {
		var (
			agg                   model.SessionAggregate
			project               sql.NullString
			started, last, seen   int64
			status                string
			cacheRead, cacheWrite sql.NullInt64
			cost                  sql.NullFloat64
		)
		if err := rows.Scan(&agg.AgentID, &agg.SessionID, &project, &started, &last, &seen, &status,
			&agg.Totals.Input, &agg.Totals.Output, &cacheRead, &cacheWrite, &agg.RequestCount, &cost); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		agg.ProjectPath = project.String
		agg.StartedAt = fromMillis(started)
		agg.LastActivityAt = fromMillis(last)
		agg.LastSeenAt = fromMillis(seen)
		agg.Status = model.SessionStatus(status)
		agg.Totals.CacheRead = intPtr(cacheRead)
		agg.Totals.CacheWrite = intPtr(cacheWrite)
		agg.CostUSD = floatPtr(cost)
		index[agg.Key()] = len(out)
		out = append(out, agg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}

	streams, err := s.db.QueryContext(ctx, `SELECT st.agent_id, st.session_id, st.provider_id, st.model_id,
		st.input_tokens, st.output_tokens, st.cache_read_tokens, st.cache_write_tokens,
		st.request_count, st.cost_usd, st.pricing_source
		FROM session_streams st
		JOIN sessions s ON s.agent_id = st.agent_id AND s.session_id = st.session_id
		WHERE s.last_activity_at_ms >= ?
		ORDER BY st.agent_id, st.session_id, st.provider_id, st.model_id`, toMillis(since))
	if err != nil {
		return nil, fmt.Errorf("querying session streams: %w", err)
	}
	defer func() { _ = streams.Close() }()

	for streams.Next() {
		var (
			key                   model.SessionKey
			st                    model.StreamAggregate
			cacheRead, cacheWrite sql.NullInt64
			cost                  sql.NullFloat64
			source                string
		)
		if err := streams.Scan(&key.AgentID, &key.SessionID, &st.ProviderID, &st.ModelID,
			&st.Tokens.Input, &st.Tokens.Output, &cacheRead, &cacheWrite,
			&st.RequestCount, &cost, &source); err != nil {
			return nil, fmt.Errorf("scanning session stream: %w", err)
		}
		st.Tokens.CacheRead = intPtr(cacheRead)
		st.Tokens.CacheWrite = intPtr(cacheWrite)
		st.CostUSD = floatPtr(cost)
		st.PricingSource = model.PricingSource(source)
		if i, ok := index[key]; ok {
			out[i].Streams = append(out[i].Streams, st)
		}
	}
	return out, streams.Err()
}
