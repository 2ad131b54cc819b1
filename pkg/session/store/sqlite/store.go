// Package sqlite is a durable session.Store backed by SQLite. Every
// persisted key is a row of session_kv; Save and Clear replace the rows in a
// single transaction.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aussiebroadwan/kombipay/pkg/session"

	_ "modernc.org/sqlite"
)

type Store struct {
	db  *sql.DB
	q   *queries
	dsn string
}

// NewStore opens the database at dsn. Call ApplyMigrations before use.
func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	// Writers wait for each other instead of failing with SQLITE_BUSY
	if _, err := db.ExecContext(context.Background(), `PRAGMA busy_timeout = 5000;`); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{
		db:  db,
		q:   &queries{db: db},
		dsn: dsn,
	}, nil
}

// Open opens the database at dsn and applies migrations.
func Open(dsn string) (*Store, error) {
	s, err := NewStore(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dsn, err)
	}
	if err := s.ApplyMigrations(); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// WithTx executes fn within a transaction, automatically handling commit/rollback.
func (s *Store) WithTx(ctx context.Context, fn func(q *queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	// Ensure rollback is called if we panic or return early with error
	defer func() {
		_ = tx.Rollback() // safe to call even after commit
	}()

	if err := fn(s.q.withTx(tx)); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Store) Load(ctx context.Context) (session.Snapshot, error) {
	kv, err := s.q.listValues(ctx)
	if err != nil {
		return session.Snapshot{}, fmt.Errorf("store: load session: %w", err)
	}
	return session.Decode(kv)
}

func (s *Store) Save(ctx context.Context, snap session.Snapshot) error {
	kv, err := session.Encode(snap)
	if err != nil {
		return err
	}

	err = s.WithTx(ctx, func(q *queries) error {
		// Keys absent from the snapshot must not survive it
		if err := q.deleteAll(ctx); err != nil {
			return err
		}
		for _, key := range session.Keys {
			value, ok := kv[key]
			if !ok {
				continue
			}
			if err := q.putValue(ctx, key, value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: save session: %w", err)
	}
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	err := s.WithTx(ctx, func(q *queries) error {
		return q.deleteAll(ctx)
	})
	if err != nil {
		return fmt.Errorf("store: clear session: %w", err)
	}
	return nil
}
