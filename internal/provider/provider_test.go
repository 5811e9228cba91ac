package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theirongolddev/tokpulse/internal/model"
)

type stubProvider struct{ id string }

func (s stubProvider) ID() string { return s.id }

func (s stubProvider) FetchUsage(_ context.Context, _ Credentials) Result {
	return Result{Provider: s.id}
}

func TestRegistry_ValidatesIDs(t *testing.T) {
	r, err := NewRegistry(stubProvider{"openrouter"}, stubProvider{"claudeai"})
	require.NoError(t, err)
	assert.Equal(t, 2, r.Len())

	for _, id := range []string{"", "Claude", "open router", "x_y", "ü"} {
		assert.Error(t, r.Register(stubProvider{id}), "id %q", id)
	}
	assert.Error(t, r.Register(stubProvider{"claudeai"}))
	assert.Error(t, r.Register(nil))

	all := r.All()
	require.Len(t, all, 2)
	assert.Equal(t, "claudeai", all[0].ID())

	p, ok := r.Get("openrouter")
	require.True(t, ok)
	assert.Equal(t, "openrouter", p.ID())
}

func TestCheckStatus(t *testing.T) {
	tests := []struct {
		code int
		want error
	}{
		{http.StatusOK, nil},
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusForbidden, ErrUnauthorized},
		{http.StatusTooManyRequests, ErrRateLimited},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, CheckStatus(tt.code))
		})
	}

	var se *StatusError
	require.ErrorAs(t, CheckStatus(http.StatusBadGateway), &se)
	assert.Equal(t, http.StatusBadGateway, se.Code)
}

func TestRetryable(t *testing.T) {
	assert.False(t, Retryable(nil))
	assert.False(t, Retryable(fmt.Errorf("claudeai: %w", ErrUnauthorized)))
	assert.False(t, Retryable(ErrMissingCredentials))
	assert.False(t, Retryable(&StatusError{Code: 404}))
	assert.True(t, Retryable(&StatusError{Code: 503}))
	assert.True(t, Retryable(ErrRateLimited))
	assert.True(t, Retryable(errors.New("connection reset")))
}

func TestResultSnapshot(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := Result{
		Provider:    "claudeai",
		PlanType:    "max",
		UsedPercent: Float(80),
		Tokens:      &model.TokenCounts{Input: 10, Output: 0},
		FetchedAt:   at,
		Limits:      []model.LimitWindow{{Name: "five_hour", UsedPercent: 80}},
	}
	snap := r.Snapshot()
	assert.Equal(t, "claudeai", snap.Provider)
	assert.True(t, snap.Timestamp.Equal(at))
	require.NotNil(t, snap.TokensInput)
	assert.EqualValues(t, 10, *snap.TokensInput)
	require.NotNil(t, snap.TokensOutput, "a reported zero is kept")
	assert.Zero(t, *snap.TokensOutput)
	assert.Len(t, snap.Windows, 1)
	assert.True(t, r.OK())

	r.Tokens = nil
	snap = r.Snapshot()
	assert.Nil(t, snap.TokensInput)
	assert.Nil(t, snap.TokensOutput)

	failed := Failed("openrouter", at, ErrRateLimited)
	assert.False(t, failed.OK())
	assert.Equal(t, ErrRateLimited.Error(), failed.Snapshot().Error)
}
