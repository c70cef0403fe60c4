// Package counterd consumes usage events and applies them to the
// deployments table, keeping increments off the distribution hot path.
package counterd

import (
	"context"
	"encoding/json"
	"io"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"luadrop/pkg/bus"
	"luadrop/pkg/db"
)

const durableName = "counterd"

var eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "luadrop_counterd_events_total",
	Help: "Usage events by result.",
}, []string{"result"})

// Consumer applies usage increments. The apply step is swappable for tests.
type Consumer struct {
	apply func(ctx context.Context, id uuid.UUID) error
	log   zerolog.Logger
}

// New builds a Consumer that increments counters in Postgres.
func New(pool *pgxpool.Pool, log zerolog.Logger) *Consumer {
	return &Consumer{
		apply: func(ctx context.Context, id uuid.UUID) error {
			tag, err := db.Exec(ctx, pool, `UPDATE deployments SET usage = usage + 1 WHERE id = $1`, id)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				// Deployment deleted between the hit and now; nothing to count.
				log.Debug().Stringer("deployment_id", id).Msg("usage event for missing deployment")
			}
			return nil
		},
		log: log,
	}
}

// Handle processes one event payload. A returned error triggers redelivery,
// so only transient failures propagate; payloads that can never be applied
// are logged and dropped.
func (c *Consumer) Handle(ctx context.Context, data []byte) error {
	var evt bus.UsageEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		c.log.Error().Err(err).Msg("malformed usage event, dropping")
		eventsTotal.WithLabelValues("malformed").Inc()
		return nil
	}
	if evt.DeploymentID == uuid.Nil {
		c.log.Error().Str("deploy_key", evt.DeployKey).Msg("usage event without deployment id, dropping")
		eventsTotal.WithLabelValues("malformed").Inc()
		return nil
	}

	if err := c.apply(ctx, evt.DeploymentID); err != nil {
		eventsTotal.WithLabelValues("retried").Inc()
		return err
	}
	eventsTotal.WithLabelValues("applied").Inc()
	return nil
}

// Run subscribes on the usage subject and blocks until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context, events *bus.Bus) error {
	sub, err := events.Subscribe(ctx, bus.UsageSubject, durableName, c.Handle)
	if err != nil {
		return err
	}
	defer func(s io.Closer) { _ = s.Close() }(sub)

	<-ctx.Done()
	return nil
}
