package models

import "time"

type Statistics struct {
	Since                time.Time            `json:"since"`
	TotalSessions        int                  `json:"total_sessions"`
	ByState              map[SessionState]int `json:"by_state"`
	TotalRevenue         int64                `json:"total_revenue"`
	Confirmed            int                  `json:"confirmed"`
	MeanConfirmSeconds   float64              `json:"mean_confirm_seconds"`
	MedianConfirmSeconds float64              `json:"median_confirm_seconds"`
	P95ConfirmSeconds    float64              `json:"p95_confirm_seconds"`
	MeanAttempts         float64              `json:"mean_attempts"`
}
