package postgres

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"servicelane/queue-service/internal/models"
	"servicelane/queue-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// 32 bytes of entropy; base64url-encoded the secret is 43 characters.
const tokenSecretBytes = 32

func newTokenSecret() (string, error) {
	buf := make([]byte, tokenSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func tokenDigest(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return fmt.Sprintf("%x", sum)
}

func (s *Store) IssueToken(ctx context.Context, input store.IssueTokenInput) (models.AdmissionToken, error) {
	if _, err := s.GetBranch(ctx, input.BranchID); err != nil {
		return models.AdmissionToken{}, err
	}

	secret, err := newTokenSecret()
	if err != nil {
		return models.AdmissionToken{}, err
	}

	ttl := input.TTL
	if ttl <= 0 {
		ttl = s.tokenTTL
	}
	now := time.Now().UTC()
	token := models.AdmissionToken{
		TokenID:   uuid.NewString(),
		BranchID:  input.BranchID,
		Secret:    secret,
		Link:      s.linkFor(secret),
		IssuedBy:  input.IssuedBy,
		Note:      input.Note,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}

	if _, err := s.pool.Exec(ctx, `
		INSERT INTO admission_tokens (token_id, branch_id, token_digest, token_secret, issued_by, note, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, token.TokenID, token.BranchID, tokenDigest(secret), secret, token.IssuedBy, token.Note, token.ExpiresAt, token.CreatedAt); err != nil {
		return models.AdmissionToken{}, err
	}
	return token, nil
}

func (s *Store) ValidateToken(ctx context.Context, secret string) (models.AdmissionToken, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT token_id, branch_id, token_secret, issued_by, note, expires_at, consumed_at, entry_id, created_at
		FROM admission_tokens
		WHERE token_digest = $1
	`, tokenDigest(secret))
	return scanAndCheckToken(row, secret)
}

// lockToken re-reads a token under FOR UPDATE inside the admission
// transaction. Two racing admissions with the same token serialize here and
// the loser sees it as consumed.
func lockToken(ctx context.Context, tx pgx.Tx, secret string) (models.AdmissionToken, error) {
	row := tx.QueryRow(ctx, `
		SELECT token_id, branch_id, token_secret, issued_by, note, expires_at, consumed_at, entry_id, created_at
		FROM admission_tokens
		WHERE token_digest = $1
		FOR UPDATE
	`, tokenDigest(secret))
	return scanAndCheckToken(row, secret)
}

func scanAndCheckToken(row pgx.Row, presented string) (models.AdmissionToken, error) {
	var token models.AdmissionToken
	var storedSecret string
	var consumedAtNull sql.NullTime
	var entryIDNull sql.NullString
	if err := row.Scan(&token.TokenID, &token.BranchID, &storedSecret, &token.IssuedBy, &token.Note,
		&token.ExpiresAt, &consumedAtNull, &entryIDNull, &token.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.AdmissionToken{}, store.ErrTokenNotFound
		}
		return models.AdmissionToken{}, err
	}
	token.ConsumedAt = nullTimePtr(consumedAtNull)
	token.EntryID = nullStringPtr(entryIDNull)

	// The digest index already keyed the lookup on a fixed-length hash; this
	// compare backstops it without branching on secret content.
	if subtle.ConstantTimeCompare([]byte(storedSecret), []byte(presented)) != 1 {
		return models.AdmissionToken{}, store.ErrTokenNotFound
	}
	if token.ConsumedAt != nil {
		return models.AdmissionToken{}, store.ErrTokenConsumed
	}
	if !token.ExpiresAt.After(time.Now().UTC()) {
		return models.AdmissionToken{}, store.ErrTokenExpired
	}
	return token, nil
}

// consumeToken links a token to the entry it admitted. Calling it again with
// the same entry id is a no-op; any other entry id fails.
func consumeToken(ctx context.Context, tx pgx.Tx, tokenID, entryID string, now time.Time) error {
	tag, err := tx.Exec(ctx, `
		UPDATE admission_tokens
		SET consumed_at = COALESCE(consumed_at, $1), entry_id = COALESCE(entry_id, $2)
		WHERE token_id = $3 AND (consumed_at IS NULL OR entry_id = $2)
	`, now, entryID, tokenID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrTokenConsumed
	}
	return nil
}

func (s *Store) linkFor(secret string) string {
	if s.linkBaseURL == "" {
		return "/q/" + secret
	}
	return strings.TrimSuffix(s.linkBaseURL, "/") + "/q/" + secret
}
