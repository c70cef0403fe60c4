// Package sweeper reclaims orphaned blobs: objects under the deployments
// prefix that no metadata row references. Orphans appear when a metadata
// insert fails after the blob write, when a delete loses its blob removal,
// or when a presigned upload is never registered.
package sweeper

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"luadrop/pkg/blob"
	"luadrop/pkg/db"
)

const sweepPrefix = "deployments/"

// DefaultGrace shields in-flight work: a presigned upload that has landed
// in the store but is not yet registered looks exactly like an orphan.
const DefaultGrace = time.Hour

// ObjectStore is the blob surface the sweeper needs. *blob.Client satisfies it.
type ObjectStore interface {
	List(ctx context.Context, prefix string) ([]blob.Object, error)
	Delete(ctx context.Context, key string) error
}

// Sweeper walks the deployments prefix and removes unreferenced objects
// older than the grace window.
type Sweeper struct {
	store      ObjectStore
	referenced func(ctx context.Context) ([]string, error)
	grace      time.Duration
	dryRun     bool
	now        func() time.Time
	log        zerolog.Logger
}

// New builds a Sweeper that reads referenced paths from Postgres.
func New(pool *pgxpool.Pool, store ObjectStore, grace time.Duration, dryRun bool, log zerolog.Logger) *Sweeper {
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &Sweeper{
		store: store,
		referenced: func(ctx context.Context) ([]string, error) {
			var paths []string
			err := db.Select(ctx, pool, &paths, `SELECT storage_path FROM deployments`)
			return paths, err
		},
		grace:  grace,
		dryRun: dryRun,
		now:    time.Now,
		log:    log,
	}
}

// Sweep performs one pass and returns the number of objects removed (or, in
// dry-run mode, the number that would be). Per-object delete failures are
// logged and skipped; the next pass picks them up.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	paths, err := s.referenced(ctx)
	if err != nil {
		return 0, err
	}
	refs := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		refs[p] = struct{}{}
	}

	objects, err := s.store.List(ctx, sweepPrefix)
	if err != nil {
		return 0, err
	}

	cutoff := s.now().Add(-s.grace)
	removed := 0
	for _, obj := range objects {
		if _, ok := refs[obj.Key]; ok {
			continue
		}
		if obj.LastModified.After(cutoff) {
			s.log.Debug().Str("key", obj.Key).Msg("orphan inside grace window, skipping")
			continue
		}

		if s.dryRun {
			s.log.Info().Str("key", obj.Key).Int64("size", obj.Size).Msg("would remove orphan")
			removed++
			continue
		}
		if err := s.store.Delete(ctx, obj.Key); err != nil {
			s.log.Warn().Err(err).Str("key", obj.Key).Msg("orphan delete failed")
			continue
		}
		s.log.Info().Str("key", obj.Key).Int64("size", obj.Size).Msg("removed orphan")
		removed++
	}

	return removed, nil
}
