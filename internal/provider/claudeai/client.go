// Package claudeai polls subscription usage windows from the claude.ai web API.
package claudeai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/theirongolddev/tokpulse/internal/provider"
)

const (
	// DefaultBaseURL is the claude.ai web API root.
	DefaultBaseURL = "https://claude.ai/api"
	requestTimeout = 10 * time.Second
	maxBodySize    = 1 << 20 // 1 MB
	keyPrefix      = "sk-ant-sid"
)

// Client fetches subscription data from the claude.ai web API.
type Client struct {
	baseURL    string
	sessionKey string
	http       *http.Client
}

// NewClient creates a client for the given session key. The key must carry
// the sk-ant-sid prefix.
func NewClient(baseURL, sessionKey string, hc *http.Client) (*Client, error) {
	sessionKey = strings.TrimSpace(sessionKey)
	if sessionKey == "" {
		return nil, fmt.Errorf("claudeai: %w", provider.ErrMissingCredentials)
	}
	if !strings.HasPrefix(sessionKey, keyPrefix) {
		return nil, fmt.Errorf("claudeai: session key must start with %s: %w", keyPrefix, provider.ErrUnauthorized)
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		sessionKey: sessionKey,
		http:       hc,
	}, nil
}

// FetchOrganizations returns the list of organizations for this session.
func (c *Client) FetchOrganizations(ctx context.Context) ([]Organization, error) {
	body, err := c.get(ctx, "/organizations")
	if err != nil {
		return nil, err
	}

	var orgs []Organization
	if err := json.Unmarshal(body, &orgs); err != nil {
		return nil, fmt.Errorf("claudeai: parsing organizations: %w", err)
	}
	return orgs, nil
}

// FetchUsage returns the raw usage body and its parsed windows for orgID.
func (c *Client) FetchUsage(ctx context.Context, orgID string) (json.RawMessage, []Window, error) {
	body, err := c.get(ctx, fmt.Sprintf("/organizations/%s/usage", orgID))
	if err != nil {
		return nil, nil, err
	}

	var raw UsageResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, nil, fmt.Errorf("claudeai: parsing usage: %w", err)
	}
	return body, raw.windows(), nil
}

// FetchOverageLimit returns overage spend limit data for the given organization.
func (c *Client) FetchOverageLimit(ctx context.Context, orgID string) (*OverageLimit, error) {
	body, err := c.get(ctx, fmt.Sprintf("/organizations/%s/overage_spend_limit", orgID))
	if err != nil {
		return nil, err
	}

	var ol OverageLimit
	if err := json.Unmarshal(body, &ol); err != nil {
		return nil, fmt.Errorf("claudeai: parsing overage limit: %w", err)
	}
	return &ol, nil
}

// get performs an authenticated GET request and returns the response body.
func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("claudeai: creating request: %w", err)
	}

	req.Header.Set("Cookie", "sessionKey="+c.sessionKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "github.com/theirongolddev/tokpulse/1.0")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("claudeai: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := provider.CheckStatus(resp.StatusCode); err != nil {
		return nil, fmt.Errorf("claudeai %s: %w", path, err)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("claudeai: reading response: %w", err)
	}
	return body, nil
}

// parseWindow converts a raw UsageWindow into a normalized Window.
func parseWindow(w *UsageWindow) (Window, bool) {
	if w == nil {
		return Window{}, false
	}

	pct, ok := parseUtilization(w.Utilization)
	if !ok {
		return Window{}, false
	}

	pw := Window{Pct: pct}
	if w.ResetsAt != nil {
		if t, err := time.Parse(time.RFC3339, *w.ResetsAt); err == nil {
			pw.ResetsAt = t
		}
	}
	return pw, true
}

// parseUtilization parses the polymorphic utilization field.
// Handles int (75), float (0.75 or 75.0), and string ("75%" or "0.75").
// Returns value normalized to 0.0-1.0 range.
func parseUtilization(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return normalizeUtilization(f), true
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSuffix(strings.TrimSpace(s), "%")
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return normalizeUtilization(v), true
		}
	}

	return 0, false
}

// normalizeUtilization converts a value to 0.0-1.0 range.
// Values > 1.0 are assumed to be percentages (0-100 scale).
func normalizeUtilization(v float64) float64 {
	if v > 1.0 {
		return v / 100.0
	}
	return v
}
