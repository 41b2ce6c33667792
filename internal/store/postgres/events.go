package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"servicelane/queue-service/internal/store"

	"github.com/jackc/pgx/v5"
)

func insertEntryEvent(ctx context.Context, tx pgx.Tx, entryID, eventType string, payload map[string]interface{}) error {
	payloadJSON, err := jsonBytes(payload)
	if err != nil {
		return err
	}

	// serialize appenders per entry so the chain never forks
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, entryID); err != nil {
		return err
	}

	var lastSeq int
	var prevHash sql.NullString
	row := tx.QueryRow(ctx, `
		SELECT entry_seq, hash
		FROM entry_events
		WHERE entry_id = $1
		ORDER BY entry_seq DESC
		LIMIT 1
		FOR UPDATE
	`, entryID)
	if err := row.Scan(&lastSeq, &prevHash); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	nextSeq := lastSeq + 1
	prev := ""
	if prevHash.Valid {
		prev = prevHash.String
	}
	// timestamptz keeps microseconds; truncate so the stored row re-hashes
	// to the same value it was written with
	createdAt := time.Now().UTC().Truncate(time.Microsecond)
	hash := store.ComputeEntryEventHash(prev, entryID, eventType, payloadJSON, createdAt, nextSeq)

	_, err = tx.Exec(ctx, `
		INSERT INTO entry_events (entry_id, entry_seq, type, payload, created_at, prev_hash, hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, entryID, nextSeq, eventType, string(payloadJSON), createdAt, prev, hash)
	return err
}

func (s *Store) ListEntryEvents(ctx context.Context, entryID string) ([]store.EntryEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT entry_id, entry_seq, type, payload, created_at, prev_hash, hash
		FROM entry_events
		WHERE entry_id = $1
		ORDER BY entry_seq ASC
	`, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.EntryEvent
	for rows.Next() {
		var event store.EntryEvent
		var payload string
		if err := rows.Scan(&event.EntryID, &event.EntrySeq, &event.Type, &payload, &event.CreatedAt, &event.PrevHash, &event.Hash); err != nil {
			return nil, err
		}
		event.Payload = []byte(payload)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}
