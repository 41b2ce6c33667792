package store

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"
)

// EntryEvent is one link in an entry's append-only audit chain. Each event
// hashes its predecessor, so tampering with a stored row breaks verification.
type EntryEvent struct {
	EntryID   string          `json:"entry_id"`
	EntrySeq  int             `json:"entry_seq"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	PrevHash  string          `json:"prev_hash"`
	Hash      string          `json:"hash"`
}

func ComputeEntryEventHash(prevHash, entryID, eventType string, payload json.RawMessage, createdAt time.Time, seq int) string {
	raw := fmt.Sprintf("%s|%s|%s|%s|%d|%s", prevHash, entryID, eventType, createdAt.UTC().Format(time.RFC3339Nano), seq, payload)
	sum := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", sum)
}

// VerifyEventChain checks sequence numbering and hash linkage over events
// ordered by entry_seq.
func VerifyEventChain(events []EntryEvent) error {
	prev := ""
	for i, event := range events {
		if event.EntrySeq != i+1 {
			return fmt.Errorf("event %d: sequence %d out of order", i, event.EntrySeq)
		}
		if event.PrevHash != prev {
			return fmt.Errorf("event %d: prev_hash mismatch", i)
		}
		want := ComputeEntryEventHash(prev, event.EntryID, event.Type, event.Payload, event.CreatedAt, event.EntrySeq)
		if event.Hash != want {
			return fmt.Errorf("event %d: hash mismatch", i)
		}
		prev = event.Hash
	}
	return nil
}
