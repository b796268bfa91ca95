package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/podx/oracle/internal/domain"
)

// dbExecutor is satisfied by both *pgxpool.Pool and pgx.Tx, so every store in
// this package works unmodified whether it is reading/writing directly
// against the pool or scoped inside a settlement transaction.
type dbExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func marshalMetadata(m domain.Metadata) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("postgres: marshaling metadata: %w", err)
	}
	return b, nil
}

func unmarshalMetadata(b []byte) (domain.Metadata, error) {
	var m domain.Metadata
	if len(b) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return domain.Metadata{}, fmt.Errorf("postgres: unmarshaling metadata: %w", err)
	}
	return m, nil
}

func marshalLineItems(items []domain.LineItem) ([]byte, error) {
	b, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("postgres: marshaling line items: %w", err)
	}
	return b, nil
}

func unmarshalLineItems(b []byte) ([]domain.LineItem, error) {
	var items []domain.LineItem
	if len(b) == 0 {
		return items, nil
	}
	if err := json.Unmarshal(b, &items); err != nil {
		return nil, fmt.Errorf("postgres: unmarshaling line items: %w", err)
	}
	return items, nil
}

func marshalPayload(p domain.SessionPayload) ([]byte, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("postgres: marshaling session payload: %w", err)
	}
	return b, nil
}

func unmarshalPayload(b []byte) (domain.SessionPayload, error) {
	var p domain.SessionPayload
	if len(b) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(b, &p); err != nil {
		return domain.SessionPayload{}, fmt.Errorf("postgres: unmarshaling session payload: %w", err)
	}
	return p, nil
}
