package distributor

import (
	"context"
	"errors"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"luadrop/pkg/cache"
	"luadrop/pkg/db"
)

// ErrUnknownKey covers keys that do not exist and keys whose deployment is
// inactive. Callers answer both the same way.
var ErrUnknownKey = errors.New("unknown deploy key")

// Resolver turns a deploy key into the id and storage path of an active
// deployment.
type Resolver interface {
	Resolve(ctx context.Context, deployKey string) (cache.Entry, error)
}

type pgResolver struct {
	pool *pgxpool.Pool
}

// NewPGResolver resolves deploy keys straight from Postgres.
func NewPGResolver(pool *pgxpool.Pool) Resolver {
	return &pgResolver{pool: pool}
}

func (r *pgResolver) Resolve(ctx context.Context, deployKey string) (cache.Entry, error) {
	var entry cache.Entry
	err := db.Get(ctx, r.pool, &entry,
		`SELECT id AS deployment_id, title, storage_path
		 FROM deployments
		 WHERE deploy_key = $1 AND status = 'active'`,
		deployKey)
	if err != nil {
		if pgxscan.NotFound(err) {
			return cache.Entry{}, ErrUnknownKey
		}
		return cache.Entry{}, err
	}
	return entry, nil
}

type cachedResolver struct {
	lookup *cache.Lookup
	next   Resolver
	log    zerolog.Logger
}

// NewCachedResolver puts a Redis lookup in front of next. Cache trouble is
// logged and falls through to next; only hits are cached, so unknown keys
// always reach the database.
func NewCachedResolver(lookup *cache.Lookup, next Resolver, log zerolog.Logger) Resolver {
	return &cachedResolver{lookup: lookup, next: next, log: log}
}

func (r *cachedResolver) Resolve(ctx context.Context, deployKey string) (cache.Entry, error) {
	entry, err := r.lookup.Get(ctx, deployKey)
	if err == nil {
		return entry, nil
	}
	if !errors.Is(err, cache.ErrMiss) {
		r.log.Warn().Err(err).Str("deploy_key", deployKey).Msg("lookup cache read failed")
	}

	entry, err = r.next.Resolve(ctx, deployKey)
	if err != nil {
		return cache.Entry{}, err
	}

	if err := r.lookup.Set(ctx, deployKey, entry); err != nil {
		r.log.Warn().Err(err).Str("deploy_key", deployKey).Msg("lookup cache write failed")
	}
	return entry, nil
}
