package models

import "time"

// AdmissionToken is a single-use magic-link credential. Secret is only
// populated when the token is first issued; lookups go through the digest.
type AdmissionToken struct {
	TokenID    string     `json:"token_id"`
	BranchID   string     `json:"branch_id"`
	Secret     string     `json:"token,omitempty"`
	Link       string     `json:"link,omitempty"`
	IssuedBy   string     `json:"issued_by,omitempty"`
	Note       string     `json:"note,omitempty"`
	ExpiresAt  time.Time  `json:"expires_at"`
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
	EntryID    *string    `json:"entry_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
