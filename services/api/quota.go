package api

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultDeploymentLimit applies when an owner has no plan row or plan
// resolution fails.
const DefaultDeploymentLimit = 5

// QuotaGate compares an owner's current deployment count against their
// plan-derived ceiling before a create is allowed.
//
// The count and the subsequent insert are not serialized: two concurrent
// creates from the same owner can both pass the gate and land the owner one
// over the limit. That window is accepted; closing it would need a
// store-level conditional increment or per-owner locking.
type QuotaGate struct {
	repo  deploymentRepo
	plans planResolver
	log   zerolog.Logger
}

// NewQuotaGate wires the gate from the metadata repo and plan resolver.
func NewQuotaGate(repo deploymentRepo, plans planResolver, log zerolog.Logger) *QuotaGate {
	return &QuotaGate{repo: repo, plans: plans, log: log}
}

// Allow returns nil when owner may create another deployment, a *QuotaError
// carrying the resolved limit when they may not. Database failures on the
// count are fatal; plan-resolution failures fall back to the default limit.
func (g *QuotaGate) Allow(ctx context.Context, owner uuid.UUID) error {
	count, err := g.repo.CountByOwner(ctx, owner)
	if err != nil {
		return err
	}

	limit := g.limit(ctx, owner)
	if count >= int64(limit) {
		return &QuotaError{Limit: limit}
	}
	return nil
}

func (g *QuotaGate) limit(ctx context.Context, owner uuid.UUID) int {
	max, err := g.plans.MaxDeployments(ctx, owner)
	if err != nil {
		g.log.Warn().Err(err).Stringer("owner", owner).Msg("plan resolution failed, using default limit")
		return DefaultDeploymentLimit
	}
	if max <= 0 {
		return DefaultDeploymentLimit
	}
	return max
}
