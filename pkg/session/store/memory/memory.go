// Package memory is an in-process session.Store. Nothing survives the
// process; it backs tests and the ephemeral CLI mode.
package memory

import (
	"context"
	"errors"
	"maps"
	"sync"

	"github.com/aussiebroadwan/kombipay/pkg/session"
)

// Op names a store operation for FailNext.
type Op string

const (
	OpLoad  Op = "load"
	OpSave  Op = "save"
	OpClear Op = "clear"
)

var ErrClosed = errors.New("store: closed")

type Store struct {
	mu     sync.Mutex
	kv     map[string]string
	fail   map[Op]error
	closed bool
}

func New() *Store {
	return &Store{
		kv:   make(map[string]string),
		fail: make(map[Op]error),
	}
}

// FailNext makes the next call of op fail with err without touching the
// stored data.
func (s *Store) FailNext(op Op, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[op] = err
}

// Put writes a raw value under key, bypassing encoding. Useful to plant
// corrupt data.
func (s *Store) Put(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kv[key] = value
}

// Raw returns a copy of the stored key/value pairs.
func (s *Store) Raw() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.kv)
}

func (s *Store) Load(ctx context.Context) (session.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(OpLoad); err != nil {
		return session.Snapshot{}, err
	}
	return session.Decode(s.kv)
}

func (s *Store) Save(ctx context.Context, snap session.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(OpSave); err != nil {
		return err
	}

	kv, err := session.Encode(snap)
	if err != nil {
		return err
	}
	s.kv = kv
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(OpClear); err != nil {
		return err
	}
	s.kv = make(map[string]string)
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// check must be called with mu held.
func (s *Store) check(op Op) error {
	if s.closed {
		return ErrClosed
	}
	if err, ok := s.fail[op]; ok {
		delete(s.fail, op)
		return err
	}
	return nil
}
