package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/declaro/internal/common"
	"github.com/dmitrijs2005/declaro/internal/dbx"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Enqueue(ctx context.Context, e Entry) (int64, error) {
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	if e.Payload == nil {
		e.Payload = []byte{}
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO outbox (kind, record_id, idempotency_key, payload, attempts, last_error, created_at)
		VALUES (?, ?, ?, ?, 0, '', ?)
	`, e.Kind, e.RecordID, e.IdempotencyKey, e.Payload, created.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue %s[%s]: %w", e.Kind, e.RecordID, err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read outbox seq: %w", err)
	}
	return seq, nil
}

func (r *SQLiteRepository) List(ctx context.Context, kinds ...string) ([]Entry, error) {
	where, args := kindFilter(kinds)
	rows, err := r.db.QueryContext(ctx, `
		SELECT seq, kind, record_id, idempotency_key, payload, attempts, last_error, created_at
		FROM outbox`+where+` ORDER BY seq`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list outbox: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var created string
		if err := rows.Scan(&e.Seq, &e.Kind, &e.RecordID, &e.IdempotencyKey, &e.Payload, &e.Attempts, &e.LastError, &created); err != nil {
			return nil, fmt.Errorf("failed to scan outbox row: %w", err)
		}
		if e.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("outbox[%d] created_at: %w", e.Seq, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate outbox rows: %w", err)
	}
	return out, nil
}

func (r *SQLiteRepository) Count(ctx context.Context, kinds ...string) (int, error) {
	where, args := kindFilter(kinds)
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count outbox: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, seq int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM outbox WHERE seq = ?`, seq); err != nil {
		return fmt.Errorf("failed to delete outbox[%d]: %w", seq, err)
	}
	return nil
}

func (r *SQLiteRepository) MarkFailed(ctx context.Context, seq int64, reason string) (int, error) {
	var attempts int
	err := r.db.QueryRowContext(ctx, `
		UPDATE outbox SET attempts = attempts + 1, last_error = ?
		WHERE seq = ?
		RETURNING attempts
	`, reason, seq).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("outbox[%d]: %w", seq, common.ErrorNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to mark outbox[%d]: %w", seq, err)
	}
	return attempts, nil
}

func (r *SQLiteRepository) Retarget(ctx context.Context, oldID, newID string) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE outbox SET record_id = ? WHERE record_id = ?`, newID, oldID); err != nil {
		return fmt.Errorf("failed to retarget outbox %s -> %s: %w", oldID, newID, err)
	}
	return nil
}

func (r *SQLiteRepository) Clear(ctx context.Context, kinds ...string) error {
	where, args := kindFilter(kinds)
	if _, err := r.db.ExecContext(ctx, `DELETE FROM outbox`+where, args...); err != nil {
		return fmt.Errorf("failed to clear outbox: %w", err)
	}
	return nil
}

func kindFilter(kinds []string) (string, []any) {
	if len(kinds) == 0 {
		return "", nil
	}
	args := make([]any, len(kinds))
	for i, k := range kinds {
		args[i] = k
	}
	return " WHERE kind IN (" + strings.TrimSuffix(strings.Repeat("?,", len(kinds)), ",") + ")", args
}
