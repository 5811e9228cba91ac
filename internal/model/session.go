// Package model defines domain types shared by the aggregator, the store and
// the daemon.
package model

import "time"

// SessionStatus reports whether a session has seen recent activity.
type SessionStatus string

const (
	StatusActive SessionStatus = "active"
	StatusIdle   SessionStatus = "idle"
)

// SessionKey identifies a coding-agent session.
type SessionKey struct {
	AgentID   string
	SessionID string
}

func (k SessionKey) String() string {
	if k.AgentID == "" {
		return k.SessionID
	}
	return k.AgentID + "/" + k.SessionID
}

// StreamAggregate holds cumulative usage for one (provider, model) pair
// within a session.
type StreamAggregate struct {
	ProviderID    string        `json:"providerId"`
	ModelID       string        `json:"modelId"`
	Tokens        TokenCounts   `json:"tokens"`
	RequestCount  int           `json:"requestCount"`
	CostUSD       *float64      `json:"costUsd,omitempty"`
	PricingSource PricingSource `json:"pricingSource"`
}

// SessionAggregate is the rolled-up view of one session. Totals and
// RequestCount always equal the sums over Streams.
type SessionAggregate struct {
	AgentID        string            `json:"agentId,omitempty"`
	SessionID      string            `json:"sessionId"`
	ProjectPath    string            `json:"projectPath,omitempty"`
	StartedAt      time.Time         `json:"startedAt"`
	LastActivityAt time.Time         `json:"lastActivityAt"`
	LastSeenAt     time.Time         `json:"lastSeenAt"`
	Status         SessionStatus     `json:"status"`
	Totals         TokenCounts       `json:"totals"`
	RequestCount   int               `json:"requestCount"`
	CostUSD        *float64          `json:"costUsd,omitempty"`
	Streams        []StreamAggregate `json:"streams"`
}

// Key returns the session's identity.
func (s SessionAggregate) Key() SessionKey {
	return SessionKey{AgentID: s.AgentID, SessionID: s.SessionID}
}

// Duration is the span between the first and last contributing event.
func (s SessionAggregate) Duration() time.Duration {
	return s.LastActivityAt.Sub(s.StartedAt)
}
