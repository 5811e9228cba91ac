// Package openrouter polls account credit usage from the OpenRouter API.
package openrouter

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/theirongolddev/tokpulse/internal/model"
	"github.com/theirongolddev/tokpulse/internal/provider"
)

const (
	// ID is the registry id of the OpenRouter provider.
	ID = "openrouter"
	// DefaultBaseURL is the OpenRouter API root.
	DefaultBaseURL = "https://openrouter.ai/api/v1"

	requestTimeout = 10 * time.Second
	maxBodySize    = 1 << 20
)

// Provider reports OpenRouter credit consumption.
type Provider struct {
	BaseURL string
	HTTP    *http.Client
	Now     func() time.Time
}

// New returns a provider against the public API.
func New() *Provider { return &Provider{} }

// ID implements provider.Provider.
func (p *Provider) ID() string { return ID }

// FetchUsage reads /credits. Usage is reported as cost; the single
// "credits" limit window carries usage as a share of purchased credits.
func (p *Provider) FetchUsage(ctx context.Context, creds provider.Credentials) provider.Result {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	result := provider.Result{Provider: ID, FetchedAt: now()}

	key := strings.TrimSpace(creds.APIKey)
	if key == "" {
		result.SetErr(fmt.Errorf("openrouter: %w", provider.ErrMissingCredentials))
		return result
	}

	body, err := p.get(ctx, "/credits", key)
	if err != nil {
		result.SetErr(err)
		return result
	}
	if !gjson.ValidBytes(body) {
		result.SetErr(fmt.Errorf("openrouter: malformed credits payload"))
		return result
	}

	data := gjson.GetBytes(body, "data")
	total := data.Get("total_credits")
	usage := data.Get("total_usage")
	if !usage.Exists() {
		result.SetErr(fmt.Errorf("openrouter: credits payload has no total_usage"))
		return result
	}

	result.Raw = body
	result.CostUSD = provider.Float(usage.Float())
	if credits := total.Float(); credits > 0 {
		pct := usage.Float() / credits * 100
		reached := usage.Float() >= credits
		result.UsedPercent = provider.Float(pct)
		result.LimitReached = provider.Bool(reached)
		result.Allowed = provider.Bool(!reached)
		result.Limits = []model.LimitWindow{{Name: "credits", UsedPercent: pct}}
	}
	return result
}

func (p *Provider) get(ctx context.Context, path, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	base := p.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(base, "/")+path, nil)
	if err != nil {
		return nil, fmt.Errorf("openrouter: creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Accept", "application/json")

	hc := p.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openrouter: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := provider.CheckStatus(resp.StatusCode); err != nil {
		return nil, fmt.Errorf("openrouter %s: %w", path, err)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("openrouter: reading response: %w", err)
	}
	return body, nil
}
