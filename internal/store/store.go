package store

import (
	"context"
	"time"

	"servicelane/queue-service/internal/models"
)

type IssueTokenInput struct {
	BranchID string
	IssuedBy string
	Note     string
	TTL      time.Duration
}

type AdmitInput struct {
	Token        string
	CustomerName string
	Phone        string
	PlateNumber  string
	VehicleModel string
	Notes        string
	CreatedAt    time.Time
}

type EntryActionInput struct {
	EntryID    string
	BranchID   string
	Actor      string
	OccurredAt time.Time
}

type RepositionInput struct {
	EntryID     string
	BranchID    string
	NewPosition int
	Actor       string
}

type CancelInput struct {
	EntryID    string
	BranchID   string
	Reason     string
	Actor      string
	OccurredAt time.Time
}

type QueueStore interface {
	IssueToken(ctx context.Context, input IssueTokenInput) (models.AdmissionToken, error)
	ValidateToken(ctx context.Context, secret string) (models.AdmissionToken, error)
	Admit(ctx context.Context, input AdmitInput) (models.Entry, error)
	GetEntry(ctx context.Context, entryID string) (models.Entry, error)
	GetEntryStatus(ctx context.Context, entryID string) (models.EntryStatus, error)
	ListQueue(ctx context.Context, branchID string) ([]models.Entry, error)
	Reposition(ctx context.Context, input RepositionInput) (models.Entry, error)
	StartService(ctx context.Context, input EntryActionInput) (models.Entry, error)
	CompleteEntry(ctx context.Context, input EntryActionInput) (models.Entry, error)
	CancelEntry(ctx context.Context, input CancelInput) (models.Entry, error)
	ListEntryEvents(ctx context.Context, entryID string) ([]EntryEvent, error)
	GetBranch(ctx context.Context, branchID string) (models.Branch, error)
	SetBranchAccepting(ctx context.Context, branchID string, accepting bool) error
	GetSession(ctx context.Context, sessionID string) (Session, error)
}

type Session struct {
	SessionID   string
	UserID      string
	DisplayName string
	ExpiresAt   time.Time
}
