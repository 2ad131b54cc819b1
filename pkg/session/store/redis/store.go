// Package redis is a session.Store kept in a single Redis hash. Useful when
// several processes on one host share a session, or the host has no
// writable disk.
package redis

import (
	"context"
	"fmt"

	"github.com/aussiebroadwan/kombipay/pkg/session"
	goredis "github.com/redis/go-redis/v9"
)

// DefaultKey is the hash holding the session.
const DefaultKey = "kombipay:session"

type Store struct {
	rdb   *goredis.Client
	key   string
	owned bool
}

// New uses an existing client. Close leaves the client open.
func New(rdb *goredis.Client, key string) *Store {
	if key == "" {
		key = DefaultKey
	}
	return &Store{rdb: rdb, key: key}
}

// Open connects to addr and checks the connection.
func Open(ctx context.Context, addr, key string) (*Store, error) {
	rdb := goredis.NewClient(&goredis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("store: connect redis %s: %w", addr, err)
	}

	s := New(rdb, key)
	s.owned = true
	return s, nil
}

func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.rdb.Close()
}

func (s *Store) Load(ctx context.Context) (session.Snapshot, error) {
	kv, err := s.rdb.HGetAll(ctx, s.key).Result()
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

	// MULTI/EXEC so readers never see a half written session
	_, err = s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, s.key)
		if len(kv) > 0 {
			pipe.HSet(ctx, s.key, kv)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: save session: %w", err)
	}
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	if err := s.rdb.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("store: clear session: %w", err)
	}
	return nil
}
