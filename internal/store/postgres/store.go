package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"servicelane/queue-service/internal/models"
	"servicelane/queue-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultTokenTTL = 24 * time.Hour
const defaultLockTimeout = 3 * time.Second

type Store struct {
	pool        *pgxpool.Pool
	linkBaseURL string
	tokenTTL    time.Duration
	lockTimeout time.Duration
}

type Options struct {
	LinkBaseURL string
	TokenTTL    time.Duration
	LockTimeout time.Duration
}

func NewStore(pool *pgxpool.Pool, options Options) *Store {
	ttl := options.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	lockTimeout := options.LockTimeout
	if lockTimeout <= 0 {
		lockTimeout = defaultLockTimeout
	}
	return &Store{
		pool:        pool,
		linkBaseURL: options.LinkBaseURL,
		tokenTTL:    ttl,
		lockTimeout: lockTimeout,
	}
}

const entryColumns = `entry_id, branch_id, token_id, customer_name, phone, plate_number, vehicle_model, notes, status, position, created_at, started_at, completed_at, cancel_reason, cancelled_by, cancelled_at`

// begin opens a transaction with a bounded lock wait so a contended branch
// queue surfaces as a retryable error instead of an indefinite block.
func (s *Store) begin(ctx context.Context) (pgx.Tx, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())); err != nil {
		_ = tx.Rollback(ctx)
		return nil, err
	}
	return tx, nil
}

// storeError folds lock-wait timeouts, deadlocks, and position unique
// violations into ErrContended; all three mean the caller raced another
// writer on the same branch and should retry.
func storeError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03", "40P01", "23505":
			return store.ErrContended
		}
	}
	return err
}

func (s *Store) Admit(ctx context.Context, input store.AdmitInput) (models.Entry, error) {
	token, err := s.ValidateToken(ctx, input.Token)
	if err != nil {
		return models.Entry{}, err
	}

	branch, err := s.GetBranch(ctx, token.BranchID)
	if err != nil {
		return models.Entry{}, err
	}
	if !branch.Accepting {
		return models.Entry{}, store.ErrBranchClosed
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return models.Entry{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	// Re-check under the row lock: the pre-flight validation above is only a
	// fast fail, the lock is what makes the token single-use under races.
	token, err = lockToken(ctx, tx, input.Token)
	if err != nil {
		return models.Entry{}, storeError(err)
	}

	// The branch row is the serialization point for position assignment. An
	// empty queue has no entry rows to lock, so without this two admissions
	// could both count zero and both claim position 1.
	branch, err = lockBranch(ctx, tx, token.BranchID)
	if err != nil {
		return models.Entry{}, storeError(err)
	}
	if !branch.Accepting {
		err = store.ErrBranchClosed
		return models.Entry{}, err
	}

	// Lock every active row of the branch as well, then count in a separate
	// statement: an aggregate cannot carry a locking clause.
	if err = lockActiveEntries(ctx, tx, token.BranchID); err != nil {
		return models.Entry{}, storeError(err)
	}
	var queued int
	row := tx.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM queue_entries
		WHERE branch_id = $1 AND status = 'queued'
	`, token.BranchID)
	if err = row.Scan(&queued); err != nil {
		return models.Entry{}, err
	}

	entryID := uuid.NewString()
	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	var entry models.Entry
	row = tx.QueryRow(ctx, `
		INSERT INTO queue_entries (
			entry_id, branch_id, token_id, customer_name, phone, plate_number,
			vehicle_model, notes, status, position, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING `+entryColumns+`
	`, entryID, token.BranchID, token.TokenID, input.CustomerName, input.Phone, input.PlateNumber,
		input.VehicleModel, input.Notes, models.StatusQueued, queued+1, createdAt)
	if entry, err = scanEntry(row); err != nil {
		return models.Entry{}, err
	}

	if err = consumeToken(ctx, tx, token.TokenID, entryID, createdAt); err != nil {
		return models.Entry{}, err
	}

	if err = insertEntryEvent(ctx, tx, entryID, "entry.admitted", map[string]interface{}{
		"entry_id":  entry.EntryID,
		"branch_id": entry.BranchID,
		"token_id":  token.TokenID,
		"status":    entry.Status,
		"position":  entry.Position,
	}); err != nil {
		return models.Entry{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Entry{}, storeError(err)
	}
	return entry, nil
}

func (s *Store) Reposition(ctx context.Context, input store.RepositionInput) (models.Entry, error) {
	if input.NewPosition < 1 {
		return models.Entry{}, store.ErrInvalidPosition
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return models.Entry{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	current, err := lockEntry(ctx, tx, input.EntryID)
	if err != nil {
		return models.Entry{}, storeError(err)
	}
	if input.BranchID != "" && current.BranchID != input.BranchID {
		return models.Entry{}, store.ErrBranchMismatch
	}
	if !store.ValidTransition("move", current.Status) {
		return models.Entry{}, store.ErrInvalidTransition
	}

	oldPos := current.Position
	newPos := input.NewPosition
	if newPos == oldPos {
		if err = tx.Commit(ctx); err != nil {
			return models.Entry{}, storeError(err)
		}
		return current, nil
	}

	lo, hi := oldPos, newPos
	if newPos < oldPos {
		lo, hi = newPos, oldPos
	}
	// Lock the whole affected block, not just the target row; locking only the
	// target permits lost updates against concurrent moves and cancellations.
	rows, err := tx.Query(ctx, `
		SELECT entry_id
		FROM queue_entries
		WHERE branch_id = $1 AND status = 'queued' AND position BETWEEN $2 AND $3
		ORDER BY position
		FOR UPDATE
	`, current.BranchID, lo, hi)
	if err != nil {
		return models.Entry{}, storeError(err)
	}
	if err = drainRows(rows); err != nil {
		return models.Entry{}, storeError(err)
	}

	var queued int
	row := tx.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM queue_entries
		WHERE branch_id = $1 AND status = 'queued'
	`, current.BranchID)
	if err = row.Scan(&queued); err != nil {
		return models.Entry{}, err
	}
	if newPos > queued {
		return models.Entry{}, store.ErrInvalidPosition
	}

	// Park the target at 0, stage the shifted block on negative positions,
	// then flip. The partial unique index on (branch_id, position) stays
	// satisfied at every intermediate row version.
	if _, err = tx.Exec(ctx, `
		UPDATE queue_entries SET position = 0 WHERE entry_id = $1
	`, current.EntryID); err != nil {
		return models.Entry{}, err
	}
	if newPos < oldPos {
		_, err = tx.Exec(ctx, `
			UPDATE queue_entries
			SET position = -(position + 1)
			WHERE branch_id = $1 AND status = 'queued' AND position >= $2 AND position < $3
		`, current.BranchID, newPos, oldPos)
	} else {
		_, err = tx.Exec(ctx, `
			UPDATE queue_entries
			SET position = -(position - 1)
			WHERE branch_id = $1 AND status = 'queued' AND position > $2 AND position <= $3
		`, current.BranchID, oldPos, newPos)
	}
	if err != nil {
		return models.Entry{}, err
	}
	if _, err = tx.Exec(ctx, `
		UPDATE queue_entries
		SET position = -position
		WHERE branch_id = $1 AND status = 'queued' AND position < 0
	`, current.BranchID); err != nil {
		return models.Entry{}, err
	}

	var entry models.Entry
	row = tx.QueryRow(ctx, `
		UPDATE queue_entries
		SET position = $1
		WHERE entry_id = $2
		RETURNING `+entryColumns+`
	`, newPos, current.EntryID)
	if entry, err = scanEntry(row); err != nil {
		return models.Entry{}, err
	}

	if err = insertEntryEvent(ctx, tx, entry.EntryID, "entry.moved", map[string]interface{}{
		"entry_id":      entry.EntryID,
		"branch_id":     entry.BranchID,
		"from_position": oldPos,
		"to_position":   newPos,
		"actor":         input.Actor,
	}); err != nil {
		return models.Entry{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Entry{}, storeError(err)
	}
	return entry, nil
}

func (s *Store) StartService(ctx context.Context, input store.EntryActionInput) (models.Entry, error) {
	return s.applyTransition(ctx, transition{
		entryID:    input.EntryID,
		branchID:   input.BranchID,
		action:     "start",
		actor:      input.Actor,
		occurredAt: input.OccurredAt,
	})
}

func (s *Store) CompleteEntry(ctx context.Context, input store.EntryActionInput) (models.Entry, error) {
	return s.applyTransition(ctx, transition{
		entryID:    input.EntryID,
		branchID:   input.BranchID,
		action:     "complete",
		actor:      input.Actor,
		occurredAt: input.OccurredAt,
	})
}

func (s *Store) CancelEntry(ctx context.Context, input store.CancelInput) (models.Entry, error) {
	// the reason requirement is checked before anything is written
	if input.Reason == "" {
		return models.Entry{}, store.ErrMissingCancelReason
	}
	return s.applyTransition(ctx, transition{
		entryID:    input.EntryID,
		branchID:   input.BranchID,
		action:     "cancel",
		actor:      input.Actor,
		reason:     input.Reason,
		occurredAt: input.OccurredAt,
	})
}

type transition struct {
	entryID    string
	branchID   string
	action     string
	actor      string
	reason     string
	occurredAt time.Time
}

func (s *Store) applyTransition(ctx context.Context, t transition) (models.Entry, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return models.Entry{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	current, err := lockEntry(ctx, tx, t.entryID)
	if err != nil {
		return models.Entry{}, storeError(err)
	}
	if t.branchID != "" && current.BranchID != t.branchID {
		return models.Entry{}, store.ErrBranchMismatch
	}
	if !store.ValidTransition(t.action, current.Status) {
		return models.Entry{}, store.ErrInvalidTransition
	}

	occurredAt := t.occurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	var entry models.Entry
	var row pgx.Row
	var eventType string
	switch t.action {
	case "start":
		eventType = "entry.started"
		row = tx.QueryRow(ctx, `
			UPDATE queue_entries
			SET status = $1, position = 0, started_at = $2
			WHERE entry_id = $3
			RETURNING `+entryColumns+`
		`, models.StatusInService, occurredAt, t.entryID)
	case "complete":
		eventType = "entry.completed"
		row = tx.QueryRow(ctx, `
			UPDATE queue_entries
			SET status = $1, completed_at = $2
			WHERE entry_id = $3
			RETURNING `+entryColumns+`
		`, models.StatusDone, occurredAt, t.entryID)
	case "cancel":
		eventType = "entry.cancelled"
		row = tx.QueryRow(ctx, `
			UPDATE queue_entries
			SET status = $1, position = 0, cancel_reason = $2, cancelled_by = $3, cancelled_at = $4
			WHERE entry_id = $5
			RETURNING `+entryColumns+`
		`, models.StatusCancelled, t.reason, t.actor, occurredAt, t.entryID)
	default:
		err = store.ErrInvalidTransition
		return models.Entry{}, err
	}
	if entry, err = scanEntry(row); err != nil {
		return models.Entry{}, err
	}

	// Leaving the queued set vacates a position; close the gap in the same
	// transaction so the queue never commits with a hole.
	if current.Status == models.StatusQueued {
		if err = compactAfter(ctx, tx, current.BranchID, current.Position); err != nil {
			return models.Entry{}, storeError(err)
		}
	}

	payload := map[string]interface{}{
		"entry_id":  entry.EntryID,
		"branch_id": entry.BranchID,
		"status":    entry.Status,
		"actor":     t.actor,
	}
	if t.reason != "" {
		payload["reason"] = t.reason
	}
	if err = insertEntryEvent(ctx, tx, entry.EntryID, eventType, payload); err != nil {
		return models.Entry{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Entry{}, storeError(err)
	}
	return entry, nil
}

// compactAfter shifts every queued entry behind a vacated position one step
// forward. The block is locked before the shift, then staged through negative
// positions for the same unique-index reason as Reposition.
func compactAfter(ctx context.Context, tx pgx.Tx, branchID string, vacated int) error {
	rows, err := tx.Query(ctx, `
		SELECT entry_id
		FROM queue_entries
		WHERE branch_id = $1 AND status = 'queued' AND position > $2
		ORDER BY position
		FOR UPDATE
	`, branchID, vacated)
	if err != nil {
		return err
	}
	if err := drainRows(rows); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE queue_entries
		SET position = -(position - 1)
		WHERE branch_id = $1 AND status = 'queued' AND position > $2
	`, branchID, vacated); err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		UPDATE queue_entries
		SET position = -position
		WHERE branch_id = $1 AND status = 'queued' AND position < 0
	`, branchID)
	return err
}

func lockBranch(ctx context.Context, tx pgx.Tx, branchID string) (models.Branch, error) {
	var branch models.Branch
	row := tx.QueryRow(ctx, `
		SELECT branch_id, name, accepting, avg_service_minutes, created_at
		FROM branches
		WHERE branch_id = $1
		FOR UPDATE
	`, branchID)
	if err := row.Scan(&branch.BranchID, &branch.Name, &branch.Accepting, &branch.AvgServiceMinutes, &branch.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Branch{}, store.ErrBranchNotFound
		}
		return models.Branch{}, err
	}
	return branch, nil
}

func lockActiveEntries(ctx context.Context, tx pgx.Tx, branchID string) error {
	rows, err := tx.Query(ctx, `
		SELECT entry_id
		FROM queue_entries
		WHERE branch_id = $1 AND status IN ('queued', 'in_service')
		ORDER BY entry_id
		FOR UPDATE
	`, branchID)
	if err != nil {
		return err
	}
	return drainRows(rows)
}

func lockEntry(ctx context.Context, tx pgx.Tx, entryID string) (models.Entry, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM queue_entries
		WHERE entry_id = $1
		FOR UPDATE
	`, entryID)
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Entry{}, store.ErrEntryNotFound
		}
		return models.Entry{}, err
	}
	return entry, nil
}

func drainRows(rows pgx.Rows) error {
	defer rows.Close()
	for rows.Next() {
	}
	return rows.Err()
}

func (s *Store) GetEntry(ctx context.Context, entryID string) (models.Entry, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM queue_entries
		WHERE entry_id = $1
	`, entryID)
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Entry{}, store.ErrEntryNotFound
		}
		return models.Entry{}, err
	}
	return entry, nil
}

func (s *Store) GetEntryStatus(ctx context.Context, entryID string) (models.EntryStatus, error) {
	var status models.EntryStatus
	var position int
	var avgMinutes int
	row := s.pool.QueryRow(ctx, `
		SELECT e.entry_id, e.status, e.position, b.avg_service_minutes
		FROM queue_entries e
		JOIN branches b ON b.branch_id = e.branch_id
		WHERE e.entry_id = $1
	`, entryID)
	if err := row.Scan(&status.EntryID, &status.Status, &position, &avgMinutes); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.EntryStatus{}, store.ErrEntryNotFound
		}
		return models.EntryStatus{}, err
	}
	if status.Status == models.StatusQueued {
		status.Position = &position
		if avgMinutes > 0 {
			wait := (position - 1) * avgMinutes
			status.EstimatedWaitMinutes = &wait
		}
	}
	return status, nil
}

func (s *Store) ListQueue(ctx context.Context, branchID string) ([]models.Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+entryColumns+`
		FROM queue_entries
		WHERE branch_id = $1 AND status IN ('queued', 'in_service')
		ORDER BY (status = 'queued') ASC, position ASC, created_at ASC
	`, branchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) GetBranch(ctx context.Context, branchID string) (models.Branch, error) {
	var branch models.Branch
	row := s.pool.QueryRow(ctx, `
		SELECT branch_id, name, accepting, avg_service_minutes, created_at
		FROM branches
		WHERE branch_id = $1
	`, branchID)
	if err := row.Scan(&branch.BranchID, &branch.Name, &branch.Accepting, &branch.AvgServiceMinutes, &branch.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Branch{}, store.ErrBranchNotFound
		}
		return models.Branch{}, err
	}
	return branch, nil
}

func (s *Store) SetBranchAccepting(ctx context.Context, branchID string, accepting bool) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE branches
		SET accepting = $1
		WHERE branch_id = $2
	`, accepting, branchID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrBranchNotFound
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (store.Session, error) {
	var session store.Session
	row := s.pool.QueryRow(ctx, `
		SELECT session_id, user_id, display_name, expires_at
		FROM sessions
		WHERE session_id = $1 AND expires_at > NOW()
	`, sessionID)
	if err := row.Scan(&session.SessionID, &session.UserID, &session.DisplayName, &session.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Session{}, store.ErrSessionNotFound
		}
		return store.Session{}, err
	}
	return session, nil
}

func scanEntry(row pgx.Row) (models.Entry, error) {
	var entry models.Entry
	var tokenIDNull sql.NullString
	var startedAtNull sql.NullTime
	var completedAtNull sql.NullTime
	var cancelledAtNull sql.NullTime
	if err := row.Scan(&entry.EntryID, &entry.BranchID, &tokenIDNull, &entry.CustomerName, &entry.Phone,
		&entry.PlateNumber, &entry.VehicleModel, &entry.Notes, &entry.Status, &entry.Position,
		&entry.CreatedAt, &startedAtNull, &completedAtNull, &entry.CancelReason, &entry.CancelledBy,
		&cancelledAtNull); err != nil {
		return models.Entry{}, err
	}
	entry.TokenID = nullStringPtr(tokenIDNull)
	entry.StartedAt = nullTimePtr(startedAtNull)
	entry.CompletedAt = nullTimePtr(completedAtNull)
	entry.CancelledAt = nullTimePtr(cancelledAtNull)
	return entry, nil
}

func jsonBytes(value interface{}) ([]byte, error) {
	return json.Marshal(value)
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	return &value.Time
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	return &value.String
}
