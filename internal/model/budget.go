package model

import "time"

// BurnRate is consumption over a trailing window ending at End.
type BurnRate struct {
	Window             time.Duration `json:"window"`
	End                time.Time     `json:"end"`
	Tokens             int64         `json:"tokens"`
	CostUSD            float64       `json:"costUsd"`
	Requests           int64         `json:"requests"`
	TokensPerMinute    float64       `json:"tokensPerMinute"`
	CostPerHour        float64       `json:"costPerHour"`
	ProjectedDailyCost float64       `json:"projectedDailyCost"`
}

// ProjectedMonthlyCost extrapolates the daily projection over 30 days.
func (b BurnRate) ProjectedMonthlyCost() float64 {
	return b.ProjectedDailyCost * 30
}

// BudgetUsedPercent returns the projected monthly spend as a share of budget.
func (b BurnRate) BudgetUsedPercent(monthlyUSD float64) float64 {
	if monthlyUSD <= 0 {
		return 0
	}
	return b.ProjectedMonthlyCost() / monthlyUSD * 100
}
