// Package provider defines the contract for remote usage sources. Providers
// never return errors from FetchUsage: failures travel inside the Result so
// one provider cannot fail another's poll cycle.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/theirongolddev/tokpulse/internal/model"
)

var (
	// ErrUnauthorized indicates rejected or expired credentials. It is not
	// retried within a poll cycle.
	ErrUnauthorized = errors.New("unauthorized (credentials expired or invalid)")
	// ErrRateLimited indicates the upstream answered 429.
	ErrRateLimited = errors.New("rate limited")
	// ErrMissingCredentials indicates the provider has nothing to authenticate with.
	ErrMissingCredentials = errors.New("missing credentials")
)

// Credentials carries whatever a provider authenticates with.
type Credentials struct {
	APIKey     string
	SessionKey string
}

// Provider is a remote usage source polled once per cycle.
type Provider interface {
	ID() string
	FetchUsage(ctx context.Context, creds Credentials) Result
}

// Result is one provider's answer for one poll cycle. Optional fields stay
// nil when the provider does not report them.
type Result struct {
	Provider     string              `json:"provider"`
	PlanType     string              `json:"planType,omitempty"`
	Allowed      *bool               `json:"allowed,omitempty"`
	LimitReached *bool               `json:"limitReached,omitempty"`
	UsedPercent  *float64            `json:"usedPercent,omitempty"`
	Limits       []model.LimitWindow `json:"limits,omitempty"`
	Tokens       *model.TokenCounts  `json:"tokens,omitempty"`
	CostUSD      *float64            `json:"costUsd,omitempty"`
	FetchedAt    time.Time           `json:"fetchedAt"`
	Err          error               `json:"-"`
	Error        string              `json:"error,omitempty"`
	Raw          json.RawMessage     `json:"-"`
}

// Failed builds the Result for a poll that produced no data.
func Failed(id string, at time.Time, err error) Result {
	r := Result{Provider: id, FetchedAt: at}
	r.SetErr(err)
	return r
}

// SetErr records err on the result, keeping Err and Error in step.
func (r *Result) SetErr(err error) {
	r.Err = err
	if err != nil {
		r.Error = err.Error()
	} else {
		r.Error = ""
	}
}

// OK reports whether the poll succeeded.
func (r Result) OK() bool { return r.Err == nil && r.Error == "" }

// Snapshot converts the result into a persistable snapshot.
func (r Result) Snapshot() model.ProviderSnapshot {
	snap := model.ProviderSnapshot{
		Timestamp:    r.FetchedAt,
		Provider:     r.Provider,
		PlanType:     r.PlanType,
		UsedPercent:  r.UsedPercent,
		LimitReached: r.LimitReached,
		CostUSD:      r.CostUSD,
		Error:        r.Error,
		RawPayload:   r.Raw,
		Windows:      r.Limits,
	}
	if r.Tokens != nil {
		in, out := r.Tokens.Input, r.Tokens.Output
		snap.TokensInput = &in
		snap.TokensOutput = &out
	}
	return snap
}

// StatusError reports an unexpected HTTP status.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// CheckStatus maps an HTTP status code onto the provider error taxonomy.
func CheckStatus(code int) error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrUnauthorized
	case code == http.StatusTooManyRequests:
		return ErrRateLimited
	case code < 200 || code >= 300:
		return &StatusError{Code: code}
	}
	return nil
}

// Retryable reports whether retrying within the same cycle may help.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrMissingCredentials) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500
	}
	return true
}

// Bool returns a pointer to b.
func Bool(b bool) *bool { return &b }

// Float returns a pointer to f.
func Float(f float64) *float64 { return &f }
