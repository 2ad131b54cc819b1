package sqlite

import (
	"context"
	"database/sql"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type queries struct {
	db dbtx
}

func (q *queries) withTx(tx *sql.Tx) *queries {
	return &queries{db: tx}
}

const listValues = `SELECT key, value FROM session_kv`

func (q *queries) listValues(ctx context.Context) (map[string]string, error) {
	rows, err := q.db.QueryContext(ctx, listValues)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	kv := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		kv[key] = value
	}
	return kv, rows.Err()
}

const putValue = `
INSERT INTO session_kv (key, value, updated_at)
VALUES (?, ?, CURRENT_TIMESTAMP)
ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

func (q *queries) putValue(ctx context.Context, key, value string) error {
	_, err := q.db.ExecContext(ctx, putValue, key, value)
	return err
}

const deleteAll = `DELETE FROM session_kv`

func (q *queries) deleteAll(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, deleteAll)
	return err
}
