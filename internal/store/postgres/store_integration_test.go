package postgres

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"servicelane/queue-service/internal/models"
	"servicelane/queue-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

func TestAdmitAssignsSequentialPositions(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	branchID := seedBranch(t, ctx, pool, 15)

	first := admitNewCustomer(t, ctx, st, branchID, "Ari Wibowo")
	second := admitNewCustomer(t, ctx, st, branchID, "Dewi Lestari")

	if first.Position != 1 {
		t.Fatalf("expected first entry at position 1, got %d", first.Position)
	}
	if second.Position != 2 {
		t.Fatalf("expected second entry at position 2, got %d", second.Position)
	}
	assertContiguous(t, ctx, pool, branchID)
}

func TestAdmitRejectsReusedToken(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	branchID := seedBranch(t, ctx, pool, 15)
	token := issueTestToken(t, ctx, st, branchID)

	if _, err := st.Admit(ctx, store.AdmitInput{Token: token.Secret, CustomerName: "Ari"}); err != nil {
		t.Fatalf("first admit: %v", err)
	}
	_, err := st.Admit(ctx, store.AdmitInput{Token: token.Secret, CustomerName: "Budi"})
	if !errors.Is(err, store.ErrTokenConsumed) {
		t.Fatalf("expected ErrTokenConsumed, got %v", err)
	}
}

func TestConsumeTokenIdempotent(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	branchID := seedBranch(t, ctx, pool, 15)
	entry := admitNewCustomer(t, ctx, st, branchID, "first")
	token := issueTestToken(t, ctx, st, branchID)

	runConsume := func(entryID string, at time.Time) error {
		tx, err := pool.Begin(ctx)
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		if err := consumeToken(ctx, tx, token.TokenID, entryID, at); err != nil {
			_ = tx.Rollback(ctx)
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			t.Fatalf("commit: %v", err)
		}
		return nil
	}

	consumedAt := time.Now().UTC().Truncate(time.Microsecond)
	if err := runConsume(entry.EntryID, consumedAt); err != nil {
		t.Fatalf("first consume: %v", err)
	}

	// same entry id again: succeeds without moving the original timestamp
	if err := runConsume(entry.EntryID, consumedAt.Add(time.Hour)); err != nil {
		t.Fatalf("repeat consume with same entry: %v", err)
	}

	var storedAt time.Time
	var storedEntry string
	row := pool.QueryRow(ctx, `SELECT consumed_at, entry_id FROM admission_tokens WHERE token_id = $1`, token.TokenID)
	if err := row.Scan(&storedAt, &storedEntry); err != nil {
		t.Fatalf("scan token: %v", err)
	}
	if !storedAt.UTC().Equal(consumedAt) {
		t.Fatalf("consumed_at moved on repeat consume: %v vs %v", storedAt.UTC(), consumedAt)
	}
	if storedEntry != entry.EntryID {
		t.Fatalf("entry link changed: %s", storedEntry)
	}

	// a different entry id must not steal the token
	if err := runConsume(uuid.NewString(), time.Now().UTC()); !errors.Is(err, store.ErrTokenConsumed) {
		t.Fatalf("expected ErrTokenConsumed for a different entry, got %v", err)
	}
}

func TestAdmitTokenChecks(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	branchID := seedBranch(t, ctx, pool, 15)

	t.Run("unknown token", func(t *testing.T) {
		_, err := st.Admit(ctx, store.AdmitInput{Token: "no-such-token", CustomerName: "Ari"})
		if !errors.Is(err, store.ErrTokenNotFound) {
			t.Fatalf("expected ErrTokenNotFound, got %v", err)
		}
	})

	t.Run("expired token", func(t *testing.T) {
		token := issueTestToken(t, ctx, st, branchID)
		expireToken(t, ctx, pool, token.TokenID)

		_, err := st.Admit(ctx, store.AdmitInput{Token: token.Secret, CustomerName: "Ari"})
		if !errors.Is(err, store.ErrTokenExpired) {
			t.Fatalf("expected ErrTokenExpired, got %v", err)
		}
	})

	t.Run("consumed wins over expired", func(t *testing.T) {
		token := issueTestToken(t, ctx, st, branchID)
		if _, err := st.Admit(ctx, store.AdmitInput{Token: token.Secret, CustomerName: "Ari"}); err != nil {
			t.Fatalf("admit: %v", err)
		}
		expireToken(t, ctx, pool, token.TokenID)

		_, err := st.Admit(ctx, store.AdmitInput{Token: token.Secret, CustomerName: "Budi"})
		if !errors.Is(err, store.ErrTokenConsumed) {
			t.Fatalf("expected ErrTokenConsumed, got %v", err)
		}
	})

	t.Run("closed branch", func(t *testing.T) {
		token := issueTestToken(t, ctx, st, branchID)
		if err := st.SetBranchAccepting(ctx, branchID, false); err != nil {
			t.Fatalf("close branch: %v", err)
		}
		t.Cleanup(func() {
			_ = st.SetBranchAccepting(ctx, branchID, true)
		})

		_, err := st.Admit(ctx, store.AdmitInput{Token: token.Secret, CustomerName: "Ari"})
		if !errors.Is(err, store.ErrBranchClosed) {
			t.Fatalf("expected ErrBranchClosed, got %v", err)
		}
	})
}

func TestConcurrentAdmissions(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	// an empty branch is the hard case: there are no entry rows to lock yet,
	// so only the branch-row lock serializes the position computation
	branchID := seedBranch(t, ctx, pool, 15)
	const admissions = 4
	var secrets []string
	for i := 0; i < admissions; i++ {
		secrets = append(secrets, issueTestToken(t, ctx, st, branchID).Secret)
	}

	var wg sync.WaitGroup
	results := make(chan admitResult, admissions)
	for _, secret := range secrets {
		wg.Add(1)
		go func(secret string) {
			defer wg.Done()
			entry, err := st.Admit(ctx, store.AdmitInput{Token: secret, CustomerName: "Customer"})
			results <- admitResult{entry: entry, err: err}
		}(secret)
	}
	wg.Wait()
	close(results)

	positions := map[int]bool{}
	for result := range results {
		if result.err != nil {
			t.Fatalf("admit error: %v", result.err)
		}
		if positions[result.entry.Position] {
			t.Fatalf("duplicate position %d assigned", result.entry.Position)
		}
		positions[result.entry.Position] = true
	}
	for want := 1; want <= admissions; want++ {
		if !positions[want] {
			t.Fatalf("expected positions 1..%d, got %v", admissions, positions)
		}
	}
	assertContiguous(t, ctx, pool, branchID)
}

func TestConcurrentAdmissionsSameToken(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	branchID := seedBranch(t, ctx, pool, 15)
	token := issueTestToken(t, ctx, st, branchID)

	var wg sync.WaitGroup
	results := make(chan admitResult, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entry, err := st.Admit(ctx, store.AdmitInput{Token: token.Secret, CustomerName: "Customer"})
			results <- admitResult{entry: entry, err: err}
		}()
	}
	wg.Wait()
	close(results)

	var admitted, rejected int
	for result := range results {
		switch {
		case result.err == nil:
			admitted++
		case errors.Is(result.err, store.ErrTokenConsumed):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", result.err)
		}
	}
	if admitted != 1 || rejected != 1 {
		t.Fatalf("expected exactly one admission, got admitted=%d rejected=%d", admitted, rejected)
	}
	assertContiguous(t, ctx, pool, branchID)
}

func TestRepositionShiftsBlock(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	branchID := seedBranch(t, ctx, pool, 15)
	e1 := admitNewCustomer(t, ctx, st, branchID, "first")
	e2 := admitNewCustomer(t, ctx, st, branchID, "second")
	e3 := admitNewCustomer(t, ctx, st, branchID, "third")

	moved, err := st.Reposition(ctx, store.RepositionInput{
		EntryID:     e3.EntryID,
		BranchID:    branchID,
		NewPosition: 1,
		Actor:       "staff",
	})
	if err != nil {
		t.Fatalf("reposition: %v", err)
	}
	if moved.Position != 1 {
		t.Fatalf("expected moved entry at position 1, got %d", moved.Position)
	}

	assertQueueOrder(t, ctx, st, branchID, []string{e3.EntryID, e1.EntryID, e2.EntryID})
	assertContiguous(t, ctx, pool, branchID)
}

func TestRepositionTowardsBack(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	branchID := seedBranch(t, ctx, pool, 15)
	e1 := admitNewCustomer(t, ctx, st, branchID, "first")
	e2 := admitNewCustomer(t, ctx, st, branchID, "second")
	e3 := admitNewCustomer(t, ctx, st, branchID, "third")

	if _, err := st.Reposition(ctx, store.RepositionInput{
		EntryID:     e1.EntryID,
		BranchID:    branchID,
		NewPosition: 3,
		Actor:       "staff",
	}); err != nil {
		t.Fatalf("reposition: %v", err)
	}

	assertQueueOrder(t, ctx, st, branchID, []string{e2.EntryID, e3.EntryID, e1.EntryID})
	assertContiguous(t, ctx, pool, branchID)
}

func TestRepositionSamePositionIsNoOp(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	branchID := seedBranch(t, ctx, pool, 15)
	e1 := admitNewCustomer(t, ctx, st, branchID, "first")
	e2 := admitNewCustomer(t, ctx, st, branchID, "second")
	e3 := admitNewCustomer(t, ctx, st, branchID, "third")

	moved, err := st.Reposition(ctx, store.RepositionInput{
		EntryID:     e2.EntryID,
		BranchID:    branchID,
		NewPosition: 2,
		Actor:       "staff",
	})
	if err != nil {
		t.Fatalf("reposition to current position: %v", err)
	}
	if moved.Position != 2 {
		t.Fatalf("expected position to stay 2, got %d", moved.Position)
	}

	assertQueueOrder(t, ctx, st, branchID, []string{e1.EntryID, e2.EntryID, e3.EntryID})
	assertContiguous(t, ctx, pool, branchID)

	// no rows were touched, so no move is recorded
	events, err := st.ListEntryEvents(ctx, e2.EntryID)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 || events[0].Type != "entry.admitted" {
		t.Fatalf("expected only the admission event, got %+v", events)
	}
}

func TestRepositionBeyondQueueEnd(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	branchID := seedBranch(t, ctx, pool, 15)
	e1 := admitNewCustomer(t, ctx, st, branchID, "first")
	admitNewCustomer(t, ctx, st, branchID, "second")

	_, err := st.Reposition(ctx, store.RepositionInput{
		EntryID:     e1.EntryID,
		BranchID:    branchID,
		NewPosition: 5,
		Actor:       "staff",
	})
	if !errors.Is(err, store.ErrInvalidPosition) {
		t.Fatalf("expected ErrInvalidPosition, got %v", err)
	}
	assertContiguous(t, ctx, pool, branchID)
}

func TestRepositionWrongBranch(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	branchID := seedBranch(t, ctx, pool, 15)
	otherBranch := seedBranch(t, ctx, pool, 15)
	entry := admitNewCustomer(t, ctx, st, branchID, "first")

	_, err := st.Reposition(ctx, store.RepositionInput{
		EntryID:     entry.EntryID,
		BranchID:    otherBranch,
		NewPosition: 1,
		Actor:       "staff",
	})
	if !errors.Is(err, store.ErrBranchMismatch) {
		t.Fatalf("expected ErrBranchMismatch, got %v", err)
	}
}

func TestCancelCompactsQueue(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	branchID := seedBranch(t, ctx, pool, 15)
	e1 := admitNewCustomer(t, ctx, st, branchID, "first")
	e2 := admitNewCustomer(t, ctx, st, branchID, "second")
	e3 := admitNewCustomer(t, ctx, st, branchID, "third")

	cancelled, err := st.CancelEntry(ctx, store.CancelInput{
		EntryID:  e2.EntryID,
		BranchID: branchID,
		Reason:   "customer left",
		Actor:    "staff",
	})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != models.StatusCancelled || cancelled.CancelReason != "customer left" {
		t.Fatalf("unexpected cancelled entry: %+v", cancelled)
	}
	if cancelled.CancelledAt == nil {
		t.Fatal("expected cancelled_at to be set")
	}

	assertQueueOrder(t, ctx, st, branchID, []string{e1.EntryID, e3.EntryID})
	assertContiguous(t, ctx, pool, branchID)
}

func TestCancelRequiresReason(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	branchID := seedBranch(t, ctx, pool, 15)
	entry := admitNewCustomer(t, ctx, st, branchID, "first")

	_, err := st.CancelEntry(ctx, store.CancelInput{
		EntryID:  entry.EntryID,
		BranchID: branchID,
		Actor:    "staff",
	})
	if !errors.Is(err, store.ErrMissingCancelReason) {
		t.Fatalf("expected ErrMissingCancelReason, got %v", err)
	}

	got, err := st.GetEntry(ctx, entry.EntryID)
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	if got.Status != models.StatusQueued {
		t.Fatalf("entry should stay queued, got %s", got.Status)
	}
}

func TestStartServiceLeavesNumbering(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	branchID := seedBranch(t, ctx, pool, 15)
	e1 := admitNewCustomer(t, ctx, st, branchID, "first")
	e2 := admitNewCustomer(t, ctx, st, branchID, "second")

	started, err := st.StartService(ctx, store.EntryActionInput{
		EntryID:  e1.EntryID,
		BranchID: branchID,
		Actor:    "staff",
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if started.Status != models.StatusInService || started.StartedAt == nil {
		t.Fatalf("unexpected started entry: %+v", started)
	}

	status, err := st.GetEntryStatus(ctx, e2.EntryID)
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if status.Position == nil || *status.Position != 1 {
		t.Fatalf("expected the next entry to hold position 1, got %+v", status.Position)
	}

	inService, err := st.GetEntryStatus(ctx, e1.EntryID)
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if inService.Position != nil {
		t.Fatalf("in-service entry should carry no position, got %d", *inService.Position)
	}
	assertContiguous(t, ctx, pool, branchID)
}

func TestCompleteRequiresInService(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	branchID := seedBranch(t, ctx, pool, 15)
	entry := admitNewCustomer(t, ctx, st, branchID, "first")

	_, err := st.CompleteEntry(ctx, store.EntryActionInput{
		EntryID:  entry.EntryID,
		BranchID: branchID,
		Actor:    "staff",
	})
	if !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	if _, err := st.StartService(ctx, store.EntryActionInput{EntryID: entry.EntryID, BranchID: branchID, Actor: "staff"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	completed, err := st.CompleteEntry(ctx, store.EntryActionInput{EntryID: entry.EntryID, BranchID: branchID, Actor: "staff"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if completed.Status != models.StatusDone || completed.CompletedAt == nil {
		t.Fatalf("unexpected completed entry: %+v", completed)
	}

	_, err = st.StartService(ctx, store.EntryActionInput{EntryID: entry.EntryID, BranchID: branchID, Actor: "staff"})
	if !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("done entries must not restart, got %v", err)
	}
}

func TestEstimatedWait(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	branchID := seedBranch(t, ctx, pool, 20)
	admitNewCustomer(t, ctx, st, branchID, "first")
	e2 := admitNewCustomer(t, ctx, st, branchID, "second")
	e3 := admitNewCustomer(t, ctx, st, branchID, "third")

	status, err := st.GetEntryStatus(ctx, e3.EntryID)
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if status.EstimatedWaitMinutes == nil || *status.EstimatedWaitMinutes != 40 {
		t.Fatalf("expected 40 minute estimate at position 3, got %+v", status.EstimatedWaitMinutes)
	}

	status, err = st.GetEntryStatus(ctx, e2.EntryID)
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if status.EstimatedWaitMinutes == nil || *status.EstimatedWaitMinutes != 20 {
		t.Fatalf("expected 20 minute estimate at position 2, got %+v", status.EstimatedWaitMinutes)
	}
}

func TestEntryEventChain(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	branchID := seedBranch(t, ctx, pool, 15)
	entry := admitNewCustomer(t, ctx, st, branchID, "first")
	admitNewCustomer(t, ctx, st, branchID, "second")

	if _, err := st.Reposition(ctx, store.RepositionInput{EntryID: entry.EntryID, BranchID: branchID, NewPosition: 2, Actor: "staff"}); err != nil {
		t.Fatalf("reposition: %v", err)
	}
	if _, err := st.Reposition(ctx, store.RepositionInput{EntryID: entry.EntryID, BranchID: branchID, NewPosition: 1, Actor: "staff"}); err != nil {
		t.Fatalf("reposition: %v", err)
	}
	if _, err := st.StartService(ctx, store.EntryActionInput{EntryID: entry.EntryID, BranchID: branchID, Actor: "staff"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := st.CompleteEntry(ctx, store.EntryActionInput{EntryID: entry.EntryID, BranchID: branchID, Actor: "staff"}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	events, err := st.ListEntryEvents(ctx, entry.EntryID)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	wantTypes := []string{"entry.admitted", "entry.moved", "entry.moved", "entry.started", "entry.completed"}
	if len(events) != len(wantTypes) {
		t.Fatalf("expected %d events, got %d", len(wantTypes), len(events))
	}
	for i, event := range events {
		if event.Type != wantTypes[i] {
			t.Fatalf("event %d: expected type %s, got %s", i, wantTypes[i], event.Type)
		}
	}
	if err := store.VerifyEventChain(events); err != nil {
		t.Fatalf("verify chain: %v", err)
	}
}

func TestGetSessionExpiry(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	sessionID := uuid.NewString()
	userID := uuid.NewString()
	if _, err := pool.Exec(ctx, `
		INSERT INTO sessions (session_id, user_id, display_name, expires_at)
		VALUES ($1, $2, 'Dewi', NOW() + INTERVAL '1 hour')
	`, sessionID, userID); err != nil {
		t.Fatalf("insert session: %v", err)
	}

	session, err := st.GetSession(ctx, sessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if session.DisplayName != "Dewi" || session.UserID != userID {
		t.Fatalf("unexpected session: %+v", session)
	}

	if _, err := pool.Exec(ctx, `UPDATE sessions SET expires_at = NOW() - INTERVAL '1 minute' WHERE session_id = $1`, sessionID); err != nil {
		t.Fatalf("expire session: %v", err)
	}
	if _, err := st.GetSession(ctx, sessionID); !errors.Is(err, store.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound for expired session, got %v", err)
	}
}

type admitResult struct {
	entry models.Entry
	err   error
}

func setupTestStore(t *testing.T, ctx context.Context) (*Store, *pgxpool.Pool, func()) {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		dsn = os.Getenv("DB_DSN")
	}
	if dsn == "" {
		t.Skip("TEST_DB_DSN or DB_DSN is required for integration tests")
	}

	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := createSchema(ctx, dsn, schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	pool, err := newPoolWithSchema(ctx, dsn, schema)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}

	if err := applyMigrations(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("apply migrations: %v", err)
	}

	st := NewStore(pool, Options{LinkBaseURL: "https://queue.example.com", LockTimeout: 5 * time.Second})
	cleanup := func() {
		pool.Close()
		_ = dropSchema(context.Background(), dsn, schema)
	}
	return st, pool, cleanup
}

func createSchema(ctx context.Context, dsn, schema string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, "CREATE SCHEMA "+schema)
	return err
}

func dropSchema(ctx context.Context, dsn, schema string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, "DROP SCHEMA "+schema+" CASCADE")
	return err
}

func newPoolWithSchema(ctx context.Context, dsn, schema string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	return pgxpool.NewWithConfig(ctx, cfg)
}

func applyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	dir := filepath.Join("..", "..", "..", "migrations")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)
	for _, name := range files {
		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if strings.TrimSpace(string(content)) == "" {
			continue
		}
		if _, err := pool.Exec(ctx, string(content)); err != nil {
			return err
		}
	}
	return nil
}

func seedBranch(t *testing.T, ctx context.Context, pool *pgxpool.Pool, avgServiceMinutes int) string {
	t.Helper()
	branchID := uuid.NewString()
	if _, err := pool.Exec(ctx, `
		INSERT INTO branches (branch_id, name, accepting, avg_service_minutes)
		VALUES ($1, 'Workshop', TRUE, $2)
	`, branchID, avgServiceMinutes); err != nil {
		t.Fatalf("seed branch: %v", err)
	}
	return branchID
}

func issueTestToken(t *testing.T, ctx context.Context, st *Store, branchID string) models.AdmissionToken {
	t.Helper()
	token, err := st.IssueToken(ctx, store.IssueTokenInput{BranchID: branchID, IssuedBy: "staff"})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func admitNewCustomer(t *testing.T, ctx context.Context, st *Store, branchID, name string) models.Entry {
	t.Helper()
	token := issueTestToken(t, ctx, st, branchID)
	entry, err := st.Admit(ctx, store.AdmitInput{Token: token.Secret, CustomerName: name})
	if err != nil {
		t.Fatalf("admit %s: %v", name, err)
	}
	return entry
}

func expireToken(t *testing.T, ctx context.Context, pool *pgxpool.Pool, tokenID string) {
	t.Helper()
	if _, err := pool.Exec(ctx, `
		UPDATE admission_tokens SET expires_at = NOW() - INTERVAL '1 minute' WHERE token_id = $1
	`, tokenID); err != nil {
		t.Fatalf("expire token: %v", err)
	}
}

// assertContiguous checks that the queued positions of a branch are exactly
// 1..N with no gaps or duplicates.
func assertContiguous(t *testing.T, ctx context.Context, pool *pgxpool.Pool, branchID string) {
	t.Helper()
	rows, err := pool.Query(ctx, `
		SELECT position
		FROM queue_entries
		WHERE branch_id = $1 AND status = 'queued'
		ORDER BY position
	`, branchID)
	if err != nil {
		t.Fatalf("query positions: %v", err)
	}
	defer rows.Close()

	var positions []int
	for rows.Next() {
		var position int
		if err := rows.Scan(&position); err != nil {
			t.Fatalf("scan position: %v", err)
		}
		positions = append(positions, position)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows: %v", err)
	}
	for i, position := range positions {
		if position != i+1 {
			t.Fatalf("positions not contiguous: %v", positions)
		}
	}
}

func assertQueueOrder(t *testing.T, ctx context.Context, st *Store, branchID string, wantIDs []string) {
	t.Helper()
	entries, err := st.ListQueue(ctx, branchID)
	if err != nil {
		t.Fatalf("list queue: %v", err)
	}
	var queuedIDs []string
	for _, entry := range entries {
		if entry.Status == models.StatusQueued {
			queuedIDs = append(queuedIDs, entry.EntryID)
		}
	}
	if len(queuedIDs) != len(wantIDs) {
		t.Fatalf("expected %d queued entries, got %d", len(wantIDs), len(queuedIDs))
	}
	for i, id := range wantIDs {
		if queuedIDs[i] != id {
			t.Fatalf("queue order mismatch at %d: expected %s, got %s", i, id, queuedIDs[i])
		}
	}
}
