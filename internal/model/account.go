package model

import "time"

// DefaultPlan is the plan assigned to new accounts.
const DefaultPlan = "free"

// Account is the owner record that carries scan quota.
type Account struct {
	ID             string    `json:"id"`
	Email          string    `json:"email,omitempty"`
	Plan           string    `json:"plan"`
	ScansRemaining int       `json:"scans_remaining"`
	TotalLeads     int       `json:"total_leads"`
	CreatedAt      time.Time `json:"created_at"`
}

// DailyCount is the number of leads collected on one calendar day.
type DailyCount struct {
	Day   string `json:"day"`
	Count int    `json:"count"`
}
