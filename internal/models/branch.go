package models

import "time"

type Branch struct {
	BranchID          string    `json:"branch_id"`
	Name              string    `json:"name"`
	Accepting         bool      `json:"accepting"`
	AvgServiceMinutes int       `json:"avg_service_minutes"`
	CreatedAt         time.Time `json:"created_at"`
}
