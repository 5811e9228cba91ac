package claudeai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theirongolddev/tokpulse/internal/provider"
)

const testKey = "sk-ant-sid01-test"

func newServer(t *testing.T, routes map[string]func(http.ResponseWriter)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Cookie") != "sessionKey="+testKey {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		h, ok := routes[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h(w)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func body(s string) func(http.ResponseWriter) {
	return func(w http.ResponseWriter) { _, _ = w.Write([]byte(s)) }
}

func TestFetchUsage_MapsWindows(t *testing.T) {
	srv := newServer(t, map[string]func(http.ResponseWriter){
		"/organizations": body(`[{"uuid":"org-1","name":"me","capabilities":["chat","claude_max"]}]`),
		"/organizations/org-1/usage": body(`{
			"five_hour": {"utilization": 100, "resets_at": "2024-01-01T15:00:00Z"},
			"seven_day": {"utilization": "42%"},
			"seven_day_opus": {"utilization": 0.5},
			"seven_day_sonnet": null
		}`),
		"/organizations/org-1/overage_spend_limit": body(`{"isEnabled":true,"usedCredits":12.5,"monthlyCreditLimit":50,"currency":"USD"}`),
	})

	at := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	p := &Provider{BaseURL: srv.URL, Now: func() time.Time { return at }}
	res := p.FetchUsage(context.Background(), provider.Credentials{SessionKey: testKey})

	require.True(t, res.OK(), res.Error)
	assert.Equal(t, "claudeai", res.Provider)
	assert.Equal(t, "max", res.PlanType)
	assert.True(t, res.FetchedAt.Equal(at))

	require.Len(t, res.Limits, 3)
	assert.Equal(t, "five_hour", res.Limits[0].Name)
	assert.InDelta(t, 100.0, res.Limits[0].UsedPercent, 1e-9)
	require.NotNil(t, res.Limits[0].ResetsAt)
	assert.InDelta(t, 42.0, res.Limits[1].UsedPercent, 1e-9)
	assert.Nil(t, res.Limits[1].ResetsAt)
	assert.InDelta(t, 50.0, res.Limits[2].UsedPercent, 1e-9)

	require.NotNil(t, res.UsedPercent)
	assert.InDelta(t, 100.0, *res.UsedPercent, 1e-9)
	assert.True(t, *res.LimitReached)
	assert.False(t, *res.Allowed)
	require.NotNil(t, res.CostUSD)
	assert.Equal(t, 12.5, *res.CostUSD)
	assert.True(t, json.Valid(res.Raw))
}

func TestFetchUsage_PartialFailureKeepsUsage(t *testing.T) {
	srv := newServer(t, map[string]func(http.ResponseWriter){
		"/organizations":             body(`[{"uuid":"org-1"}]`),
		"/organizations/org-1/usage": body(`{"five_hour":{"utilization":20}}`),
		"/organizations/org-1/overage_spend_limit": func(w http.ResponseWriter) {
			w.WriteHeader(http.StatusTooManyRequests)
		},
	})

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".claude.json"), []byte(`{"billingType":"none"}`), 0o600))

	p := &Provider{BaseURL: srv.URL, ClaudeDir: dir}
	res := p.FetchUsage(context.Background(), provider.Credentials{SessionKey: testKey})

	assert.ErrorIs(t, res.Err, provider.ErrRateLimited)
	assert.NotEmpty(t, res.Error)
	assert.Equal(t, "pro", res.PlanType)
	require.Len(t, res.Limits, 1)
	assert.False(t, *res.LimitReached)
	assert.Nil(t, res.CostUSD)
}

func TestFetchUsage_CredentialErrors(t *testing.T) {
	srv := newServer(t, nil)
	p := &Provider{BaseURL: srv.URL}

	res := p.FetchUsage(context.Background(), provider.Credentials{})
	assert.ErrorIs(t, res.Err, provider.ErrMissingCredentials)

	res = p.FetchUsage(context.Background(), provider.Credentials{SessionKey: "not-a-key"})
	assert.ErrorIs(t, res.Err, provider.ErrUnauthorized)

	res = p.FetchUsage(context.Background(), provider.Credentials{SessionKey: keyPrefix + "-wrong"})
	assert.ErrorIs(t, res.Err, provider.ErrUnauthorized)
	assert.Empty(t, res.Limits)
}

func TestParseUtilization(t *testing.T) {
	tests := []struct {
		raw  string
		want float64
		ok   bool
	}{
		{`75`, 0.75, true},
		{`0.75`, 0.75, true},
		{`75.0`, 0.75, true},
		{`"75%"`, 0.75, true},
		{`"0.5"`, 0.5, true},
		{`"abc"`, 0, false},
		{``, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := parseUtilization(json.RawMessage(tt.raw))
			assert.Equal(t, tt.ok, ok)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestDetectPlan(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, "max", DetectPlan(dir).Name())

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".claude.json"), []byte(`{"billingType":"stripe_subscription"}`), 0o600))
	info := DetectPlan(dir)
	assert.Equal(t, "stripe_subscription", info.BillingType)
	assert.Equal(t, 200.0, info.PlanCeiling)
}
