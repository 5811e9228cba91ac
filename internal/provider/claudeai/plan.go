package claudeai

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// PlanInfo holds the detected Claude subscription plan.
type PlanInfo struct {
	BillingType string
	PlanCeiling float64
}

// Name returns the short plan name for the ceiling.
func (p PlanInfo) Name() string {
	if p.PlanCeiling >= 200 {
		return "max"
	}
	return "pro"
}

// DetectPlan reads <claudeDir>/.claude.json to determine the billing plan.
func DetectPlan(claudeDir string) PlanInfo {
	path := filepath.Join(claudeDir, ".claude.json")
	data, err := os.ReadFile(path) //nolint:gosec // path is constructed from known claudeDir
	if err != nil {
		return PlanInfo{PlanCeiling: 200} // default to Max plan
	}

	var raw struct {
		BillingType string `json:"billingType"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return PlanInfo{PlanCeiling: 200}
	}

	info := PlanInfo{BillingType: raw.BillingType}

	switch raw.BillingType {
	case "stripe_subscription":
		info.PlanCeiling = 200
	default:
		info.PlanCeiling = 100
	}

	return info
}

// planFromCapabilities reads the plan out of organization capabilities such
// as "claude_max" or "claude_pro".
func planFromCapabilities(caps []string) string {
	for _, c := range caps {
		switch {
		case strings.Contains(c, "max"):
			return "max"
		case strings.Contains(c, "pro"):
			return "pro"
		}
	}
	return ""
}
