// Package presence maintains the shared {user -> pod} directory that lets
// any pod answer "is this user connected, and where" for cross-pod routing.
package presence

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound names the no-presence-entry case. Lookup does not return it:
// it reports a missing entry as ok == false with a nil error.
var ErrNotFound = errors.New("presence: not found")

const keyPrefix = "presence:"

// Directory wraps a shared Redis client for the presence entry described in
// original_source's ConnectionRegistryService. Entries are persistent until
// explicitly unregistered (spec's authoritative design); the historical
// TTL-bounded form is not implemented, see Refresh.
type Directory struct {
	rdb *redis.Client
}

// New builds a Directory over an existing Redis client.
func New(rdb *redis.Client) *Directory {
	return &Directory{rdb: rdb}
}

func key(userID string) string {
	return keyPrefix + userID
}

// Register writes the {userID -> pod} entry with no expiration, replacing
// any previous pod for the same user (at most one entry per user globally).
func (d *Directory) Register(ctx context.Context, userID, pod string) error {
	return d.rdb.Set(ctx, key(userID), pod, 0).Err()
}

// Unregister removes the presence entry for userID, if any.
func (d *Directory) Unregister(ctx context.Context, userID string) error {
	return d.rdb.Del(ctx, key(userID)).Err()
}

// Lookup returns the pod holding userID's connection, if any.
func (d *Directory) Lookup(ctx context.Context, userID string) (pod string, ok bool, err error) {
	v, err := d.rdb.Get(ctx, key(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// Has reports whether userID currently has a presence entry.
func (d *Directory) Has(ctx context.Context, userID string) (bool, error) {
	n, err := d.rdb.Exists(ctx, key(userID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Refresh is a no-op under the persistent presence design: there is no TTL
// to extend. Kept so a scheduled sweep remains safe to call regardless of
// which presence mode a deployment ultimately picks (spec §4.1).
func (d *Directory) Refresh(ctx context.Context, userID string) error {
	return nil
}
