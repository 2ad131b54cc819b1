package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Keys under which a Store persists a Snapshot.
const (
	KeyUser         = "session.user"
	KeyAccessToken  = "session.accessToken"
	KeyRefreshToken = "session.refreshToken"
	KeyPendingEmail = "session.pendingEmail"
)

// Keys lists every persisted key.
var Keys = []string{KeyUser, KeyAccessToken, KeyRefreshToken, KeyPendingEmail}

// ErrCorrupt is returned by Store.Load when stored data cannot be decoded or
// does not form a valid Snapshot.
var ErrCorrupt = errors.New("session: stored session is corrupt")

// Store is the durable copy of the session. Save and Clear write all keys as
// one unit: after a failed call the previous contents are still in place.
type Store interface {
	// Load returns the stored snapshot, or an empty one when nothing is stored.
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
	Clear(ctx context.Context) error
	Close() error
}

// Encode turns a snapshot into the key/value pairs a Store persists. Empty
// values are left out.
func Encode(snap Snapshot) (map[string]string, error) {
	if !snap.Valid() {
		return nil, fmt.Errorf("session: refusing to persist invalid snapshot")
	}

	kv := make(map[string]string, len(Keys))
	if snap.User != nil {
		b, err := json.Marshal(snap.User)
		if err != nil {
			return nil, fmt.Errorf("session: encode user: %w", err)
		}
		kv[KeyUser] = string(b)
	}
	if snap.AccessToken != "" {
		kv[KeyAccessToken] = snap.AccessToken
	}
	if snap.RefreshToken != "" {
		kv[KeyRefreshToken] = snap.RefreshToken
	}
	if snap.PendingEmail != "" {
		kv[KeyPendingEmail] = snap.PendingEmail
	}
	return kv, nil
}

// Decode rebuilds a snapshot from stored key/value pairs. Unknown keys are
// ignored. It fails with ErrCorrupt on undecodable or partial data.
func Decode(kv map[string]string) (Snapshot, error) {
	var snap Snapshot

	if raw, ok := kv[KeyUser]; ok && raw != "" {
		var u User
		if err := json.Unmarshal([]byte(raw), &u); err != nil {
			return Snapshot{}, fmt.Errorf("%w: %s: %v", ErrCorrupt, KeyUser, err)
		}
		snap.User = &u
	}
	snap.AccessToken = kv[KeyAccessToken]
	snap.RefreshToken = kv[KeyRefreshToken]
	snap.PendingEmail = kv[KeyPendingEmail]

	if !snap.Valid() {
		return Snapshot{}, fmt.Errorf("%w: partial session", ErrCorrupt)
	}
	return snap, nil
}
