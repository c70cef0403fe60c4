// Package cache holds the deploy-key lookup cache shared by the
// distributor (reads) and the API (invalidation on mutate).
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "luadrop:lookup:"

// ErrMiss reports that no entry exists for the deploy key.
var ErrMiss = errors.New("cache: miss")

// Entry is the cached projection of an active deployment, keyed by deploy key.
type Entry struct {
	DeploymentID uuid.UUID `json:"deployment_id"`
	Title        string    `json:"title"`
	StoragePath  string    `json:"storage_path"`
}

// Lookup caches deploy-key resolutions with a short TTL. All methods return
// their errors so callers can log and fall through to the database; nothing
// here is load-bearing for correctness.
type Lookup struct {
	rdb *redis.Client
	ttl time.Duration
}

// New connects to Redis at addr and verifies the connection.
func New(ctx context.Context, addr, password string, ttl time.Duration) (*Lookup, error) {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &Lookup{rdb: rdb, ttl: ttl}, nil
}

// Close releases the underlying Redis connection.
func (l *Lookup) Close() error {
	if l == nil {
		return nil
	}
	return l.rdb.Close()
}

// Get returns the cached entry for deployKey, or ErrMiss.
func (l *Lookup) Get(ctx context.Context, deployKey string) (Entry, error) {
	if l == nil {
		return Entry{}, ErrMiss
	}

	data, err := l.rdb.Get(ctx, keyPrefix+deployKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Entry{}, ErrMiss
		}
		return Entry{}, err
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// Set stores the entry for deployKey with the configured TTL.
func (l *Lookup) Set(ctx context.Context, deployKey string, entry Entry) error {
	if l == nil {
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return l.rdb.Set(ctx, keyPrefix+deployKey, data, l.ttl).Err()
}

// Invalidate drops the entry for deployKey.
func (l *Lookup) Invalidate(ctx context.Context, deployKey string) error {
	if l == nil {
		return nil
	}
	return l.rdb.Del(ctx, keyPrefix+deployKey).Err()
}
