package claudeai

import (
	"encoding/json"
	"time"
)

// Organization represents a claude.ai organization.
type Organization struct {
	UUID         string   `json:"uuid"`
	Name         string   `json:"name"`
	Capabilities []string `json:"capabilities"`
}

// UsageResponse is the raw API response from the usage endpoint.
type UsageResponse struct {
	FiveHour       *UsageWindow `json:"five_hour"`
	SevenDay       *UsageWindow `json:"seven_day"`
	SevenDayOpus   *UsageWindow `json:"seven_day_opus"`
	SevenDaySonnet *UsageWindow `json:"seven_day_sonnet"`
}

// UsageWindow is a single rate-limit window from the API.
// Utilization can be int, float, or string, so it stays raw JSON.
type UsageWindow struct {
	Utilization json.RawMessage `json:"utilization"`
	ResetsAt    *string         `json:"resets_at"`
}

// OverageLimit is the raw API response from the overage spend limit endpoint.
type OverageLimit struct {
	IsEnabled          bool    `json:"isEnabled"`
	UsedCredits        float64 `json:"usedCredits"`
	MonthlyCreditLimit float64 `json:"monthlyCreditLimit"`
	Currency           string  `json:"currency"`
}

// Window is a named, normalized rate-limit window.
type Window struct {
	Name     string
	Pct      float64 // 0.0-1.0
	ResetsAt time.Time
}

// windows lists the usage windows in a fixed order, skipping absent ones.
func (u UsageResponse) windows() []Window {
	named := []struct {
		name string
		w    *UsageWindow
	}{
		{"five_hour", u.FiveHour},
		{"seven_day", u.SevenDay},
		{"seven_day_opus", u.SevenDayOpus},
		{"seven_day_sonnet", u.SevenDaySonnet},
	}
	var out []Window
	for _, n := range named {
		if w, ok := parseWindow(n.w); ok {
			w.Name = n.name
			out = append(out, w)
		}
	}
	return out
}
