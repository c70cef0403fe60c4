package distributor

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"luadrop/pkg/bus"
	"luadrop/pkg/db"
)

const recordTimeout = 5 * time.Second

// UsageRecorder counts one non-browser fetch. Recording never blocks the
// request path and delivery failures are only logged; the counter is a
// statistic, not a ledger.
type UsageRecorder interface {
	Record(id uuid.UUID, deployKey string)
}

type busRecorder struct {
	bus *bus.Bus
	log zerolog.Logger
}

// NewBusRecorder publishes usage events for counterd to apply.
func NewBusRecorder(b *bus.Bus, log zerolog.Logger) UsageRecorder {
	return &busRecorder{bus: b, log: log}
}

func (r *busRecorder) Record(id uuid.UUID, deployKey string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()

		evt := bus.UsageEvent{DeploymentID: id, DeployKey: deployKey, At: time.Now().UTC()}
		if err := r.bus.Publish(ctx, bus.UsageSubject, evt); err != nil {
			r.log.Warn().Err(err).Str("deploy_key", deployKey).Msg("usage event publish failed")
		}
	}()
}

type directRecorder struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// NewDirectRecorder increments the counter in-process. Fallback for setups
// without a message bus.
func NewDirectRecorder(pool *pgxpool.Pool, log zerolog.Logger) UsageRecorder {
	return &directRecorder{pool: pool, log: log}
}

func (r *directRecorder) Record(id uuid.UUID, deployKey string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()

		_, err := db.Exec(ctx, r.pool, `UPDATE deployments SET usage = usage + 1 WHERE id = $1`, id)
		if err != nil {
			r.log.Warn().Err(err).Str("deploy_key", deployKey).Msg("usage increment failed")
		}
	}()
}
