package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/podx/oracle/internal/domain"
)

// MagicLinkStore implements domain.MagicLinkStore using PostgreSQL.
type MagicLinkStore struct {
	db dbExecutor
}

// NewMagicLinkStore creates a new MagicLinkStore.
func NewMagicLinkStore(db dbExecutor) *MagicLinkStore {
	return &MagicLinkStore{db: db}
}

// Create inserts a new magic-link row.
func (s *MagicLinkStore) Create(ctx context.Context, m domain.MagicLink) error {
	const query = `
		INSERT INTO magic_links (token_hash, role, jti, session_id, expires_at, used_at)
		VALUES ($1, $2, $3, $4, $5, NULL)`

	_, err := s.db.Exec(ctx, query, m.TokenHash, m.Role, m.JTI, m.SessionID, m.ExpiresAt)
	if err != nil {
		return fmt.Errorf("postgres: create magic link for session %s: %w", m.SessionID, err)
	}
	return nil
}

// GetByTokenHash retrieves a magic link by its SHA-256 hash.
func (s *MagicLinkStore) GetByTokenHash(ctx context.Context, tokenHash string) (domain.MagicLink, error) {
	row := s.db.QueryRow(ctx,
		`SELECT token_hash, role, jti, session_id, expires_at, used_at
		 FROM magic_links WHERE token_hash = $1`, tokenHash)

	var m domain.MagicLink
	err := row.Scan(&m.TokenHash, &m.Role, &m.JTI, &m.SessionID, &m.ExpiresAt, &m.UsedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.MagicLink{}, domain.ErrNotFound
		}
		return domain.MagicLink{}, fmt.Errorf("postgres: get magic link: %w", err)
	}
	return m, nil
}

// MarkUsed atomically marks a magic link consumed, provided it has not
// already been used. It returns false (no error) if the link was already
// used — the conditional update affecting zero rows IS the single-use
// enforcement mechanism (spec §5).
func (s *MagicLinkStore) MarkUsed(ctx context.Context, tokenHash string, usedAt time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE magic_links SET used_at = $1 WHERE token_hash = $2 AND used_at IS NULL`,
		usedAt, tokenHash)
	if err != nil {
		return false, fmt.Errorf("postgres: mark magic link used: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// InvalidateBySession marks every magic link for a session used, without
// requiring them to have actually been presented. The settlement commit
// calls it when a session completes; ExpireOverdue invalidates links for
// expired sessions with its own update.
func (s *MagicLinkStore) InvalidateBySession(ctx context.Context, sessionUID string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE magic_links SET used_at = NOW() WHERE session_id = $1 AND used_at IS NULL`,
		sessionUID)
	if err != nil {
		return fmt.Errorf("postgres: invalidate magic links for session %s: %w", sessionUID, err)
	}
	return nil
}
