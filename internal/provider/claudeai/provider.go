package claudeai

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/theirongolddev/tokpulse/internal/model"
	"github.com/theirongolddev/tokpulse/internal/provider"
)

// ID is the registry id of the claude.ai provider.
const ID = "claudeai"

// Provider reports claude.ai subscription windows.
type Provider struct {
	BaseURL   string
	HTTP      *http.Client
	ClaudeDir string
	Now       func() time.Time
}

// New returns a provider reading the plan fallback from claudeDir.
func New(claudeDir string) *Provider {
	return &Provider{ClaudeDir: claudeDir}
}

// ID implements provider.Provider.
func (p *Provider) ID() string { return ID }

// FetchUsage fetches organizations, then usage and overage for the first
// one. Usage and overage are fetched independently; partial data is kept and
// the first failure is reported on the result.
func (p *Provider) FetchUsage(ctx context.Context, creds provider.Credentials) provider.Result {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	result := provider.Result{Provider: ID, FetchedAt: now()}

	c, err := NewClient(p.BaseURL, creds.SessionKey, p.HTTP)
	if err != nil {
		result.SetErr(err)
		return result
	}

	orgs, err := c.FetchOrganizations(ctx)
	if err != nil {
		result.SetErr(err)
		return result
	}
	if len(orgs) == 0 {
		result.SetErr(errors.New("claudeai: no organizations found"))
		return result
	}
	org := orgs[0]

	result.PlanType = planFromCapabilities(org.Capabilities)
	if result.PlanType == "" && p.ClaudeDir != "" {
		result.PlanType = DetectPlan(p.ClaudeDir).Name()
	}

	raw, windows, usageErr := c.FetchUsage(ctx, org.UUID)
	if usageErr == nil {
		result.Raw = raw
		applyWindows(&result, windows)
	}

	overage, overageErr := c.FetchOverageLimit(ctx, org.UUID)
	if overageErr == nil && overage.IsEnabled {
		result.CostUSD = provider.Float(overage.UsedCredits)
	}

	if usageErr != nil {
		result.SetErr(usageErr)
	} else if overageErr != nil {
		result.SetErr(overageErr)
	}
	return result
}

func applyWindows(r *provider.Result, windows []Window) {
	if len(windows) == 0 {
		return
	}
	var peak float64
	for _, w := range windows {
		lw := model.LimitWindow{Name: w.Name, UsedPercent: w.Pct * 100}
		if !w.ResetsAt.IsZero() {
			t := w.ResetsAt
			lw.ResetsAt = &t
		}
		r.Limits = append(r.Limits, lw)
		if lw.UsedPercent > peak {
			peak = lw.UsedPercent
		}
	}
	reached := peak >= 100
	r.UsedPercent = provider.Float(peak)
	r.LimitReached = provider.Bool(reached)
	r.Allowed = provider.Bool(!reached)
}
