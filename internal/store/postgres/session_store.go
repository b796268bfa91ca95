package postgres

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/podx/oracle/internal/domain"
)

// SessionStore implements domain.SessionStore using PostgreSQL. Exactly one
// non-terminal session per (shipment_id, kind) is enforced by a partial
// unique index (see migrations/0001_init.sql); Create maps the resulting
// unique_violation error to domain.ErrSessionConflict.
type SessionStore struct {
	db dbExecutor
}

// NewSessionStore creates a new SessionStore.
func NewSessionStore(db dbExecutor) *SessionStore {
	return &SessionStore{db: db}
}

// Create inserts a new signing session.
func (s *SessionStore) Create(ctx context.Context, sess domain.SigningSession) error {
	payload, err := marshalPayload(sess.Payload)
	if err != nil {
		return err
	}

	courierSig, err := hex.DecodeString(sess.CourierSignature)
	if err != nil {
		return fmt.Errorf("postgres: session %s has malformed courier signature: %w", sess.SessionUID, err)
	}
	counterpartySig, err := hexOrNil(sess.CounterpartySignature)
	if err != nil {
		return fmt.Errorf("postgres: session %s has malformed counterparty signature: %w", sess.SessionUID, err)
	}

	const query = `
		INSERT INTO signing_sessions (
			session_uid, shipment_id, kind, courier, supplier, chain_order_id,
			deadline, status, courier_nonce, supplier_nonce, context_hash,
			courier_signature, counterparty_signature, payload, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW()
		)`

	_, err = s.db.Exec(ctx, query,
		sess.SessionUID, sess.ShipmentID, string(sess.Kind), sess.Courier, sess.Supplier, sess.ChainOrderID,
		sess.Deadline, string(sess.Status), sess.CourierNonce, sess.SupplierNonce, sess.ContextHash,
		courierSig, counterpartySig, payload,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrSessionConflict
		}
		return fmt.Errorf("postgres: create session %s: %w", sess.SessionUID, err)
	}
	return nil
}

const sessionSelectCols = `session_uid, shipment_id, kind, courier, supplier, chain_order_id,
	deadline, status, courier_nonce, supplier_nonce, context_hash,
	courier_signature, counterparty_signature, payload, created_at`

func scanSessionFromRow(scanner interface{ Scan(dest ...any) error }) (domain.SigningSession, error) {
	var sess domain.SigningSession
	var kind, status string
	var courierSig, counterpartySig []byte
	var payloadRaw []byte

	err := scanner.Scan(
		&sess.SessionUID, &sess.ShipmentID, &kind, &sess.Courier, &sess.Supplier, &sess.ChainOrderID,
		&sess.Deadline, &status, &sess.CourierNonce, &sess.SupplierNonce, &sess.ContextHash,
		&courierSig, &counterpartySig, &payloadRaw, &sess.CreatedAt,
	)
	if err != nil {
		return domain.SigningSession{}, err
	}

	sess.Kind = domain.SessionKind(kind)
	sess.Status = domain.SessionStatus(status)
	sess.CourierSignature = hex.EncodeToString(courierSig)
	sess.CounterpartySignature = hex.EncodeToString(counterpartySig)
	if sess.Payload, err = unmarshalPayload(payloadRaw); err != nil {
		return domain.SigningSession{}, err
	}
	return sess, nil
}

// GetByUID retrieves a session by its external identifier.
func (s *SessionStore) GetByUID(ctx context.Context, sessionUID string) (domain.SigningSession, error) {
	row := s.db.QueryRow(ctx, `SELECT `+sessionSelectCols+` FROM signing_sessions WHERE session_uid = $1`, sessionUID)
	sess, err := scanSessionFromRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.SigningSession{}, domain.ErrSessionGone
		}
		return domain.SigningSession{}, fmt.Errorf("postgres: get session %s: %w", sessionUID, err)
	}
	return sess, nil
}

// GetActive returns the single non-terminal session for (shipment, kind), if
// one exists.
func (s *SessionStore) GetActive(ctx context.Context, shipmentID string, kind domain.SessionKind) (domain.SigningSession, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+sessionSelectCols+` FROM signing_sessions
		 WHERE shipment_id = $1 AND kind = $2
		   AND status IN ('PENDING_SUPPLIER', 'PENDING_BUYER')`,
		shipmentID, string(kind))
	sess, err := scanSessionFromRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.SigningSession{}, domain.ErrNotFound
		}
		return domain.SigningSession{}, fmt.Errorf("postgres: get active session: %w", err)
	}
	return sess, nil
}

// Complete marks a session COMPLETED. It is a no-op error if the session is
// already terminal or missing.
func (s *SessionStore) Complete(ctx context.Context, sessionUID string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE signing_sessions SET status = 'COMPLETED' WHERE session_uid = $1
		 AND status IN ('PENDING_SUPPLIER', 'PENDING_BUYER')`,
		sessionUID)
	if err != nil {
		return fmt.Errorf("postgres: complete session %s: %w", sessionUID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSessionGone
	}
	return nil
}

// ExpireOverdue flips non-terminal sessions whose deadline has passed to
// EXPIRED and invalidates their magic links, returning the count of sessions
// affected.
func (s *SessionStore) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	rows, err := s.db.Query(ctx,
		`UPDATE signing_sessions SET status = 'EXPIRED'
		 WHERE status IN ('PENDING_SUPPLIER', 'PENDING_BUYER') AND deadline < $1
		 RETURNING session_uid`,
		now)
	if err != nil {
		return 0, fmt.Errorf("postgres: expire overdue sessions: %w", err)
	}

	var uids []string
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			rows.Close()
			return 0, fmt.Errorf("postgres: scan expired session uid: %w", err)
		}
		uids = append(uids, uid)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("postgres: expire overdue sessions: %w", err)
	}
	if len(uids) == 0 {
		return 0, nil
	}

	if _, err := s.db.Exec(ctx,
		`UPDATE magic_links SET used_at = $1 WHERE session_id = ANY($2) AND used_at IS NULL`,
		now, uids,
	); err != nil {
		return 0, fmt.Errorf("postgres: invalidate magic links for expired sessions: %w", err)
	}

	return int64(len(uids)), nil
}

// hexOrNil decodes a hex string to bytes, treating an empty string as SQL
// NULL (the counterparty signature is absent until a session is completed).
func hexOrNil(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	return hex.DecodeString(s)
}

// isUniqueViolation reports whether err is a PostgreSQL unique_violation
// (SQLSTATE 23505), the error a racing INSERT into the partial unique
// session index surfaces as.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
