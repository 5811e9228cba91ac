package model

import (
	"encoding/json"
	"time"
)

// LimitWindow is one provider-reported quota window.
type LimitWindow struct {
	Name        string     `json:"name"`
	UsedPercent float64    `json:"usedPercent"`
	ResetsAt    *time.Time `json:"resetsAt,omitempty"`
}

// ProviderSnapshot is a point-in-time record of provider-reported state.
// Append-only.
type ProviderSnapshot struct {
	ID           int64           `json:"id,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
	Provider     string          `json:"provider"`
	PlanType     string          `json:"planType,omitempty"`
	UsedPercent  *float64        `json:"usedPercent,omitempty"`
	LimitReached *bool           `json:"limitReached,omitempty"`
	TokensInput  *int64          `json:"tokensInput,omitempty"`
	TokensOutput *int64          `json:"tokensOutput,omitempty"`
	CostUSD      *float64        `json:"costUsd,omitempty"`
	Error        string          `json:"error,omitempty"`
	RawPayload   json.RawMessage `json:"rawPayload,omitempty"`
	Windows      []LimitWindow   `json:"windows,omitempty"`
}
