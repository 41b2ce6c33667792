package models

import "time"

type Entry struct {
	EntryID      string     `json:"entry_id"`
	BranchID     string     `json:"branch_id"`
	TokenID      *string    `json:"token_id,omitempty"`
	CustomerName string     `json:"customer_name"`
	Phone        string     `json:"phone,omitempty"`
	PlateNumber  string     `json:"plate_number"`
	VehicleModel string     `json:"vehicle_model,omitempty"`
	Notes        string     `json:"notes,omitempty"`
	Status       string     `json:"status"`
	Position     int        `json:"position,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CancelReason string     `json:"cancel_reason,omitempty"`
	CancelledBy  string     `json:"cancelled_by,omitempty"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`
}

const (
	StatusQueued    = "queued"
	StatusInService = "in_service"
	StatusDone      = "done"
	StatusCancelled = "cancelled"
)

// EntryStatus is the public polling view of an entry. Position and the wait
// estimate are only present while the entry is queued.
type EntryStatus struct {
	EntryID              string `json:"entry_id"`
	Status               string `json:"status"`
	Position             *int   `json:"position"`
	EstimatedWaitMinutes *int   `json:"estimated_wait_minutes,omitempty"`
}
