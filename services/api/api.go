// Package api implements the authenticated control plane: deployment CRUD
// behind the quota gate, upload ingestion, and owner stats.
package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/gorm"

	"luadrop/pkg/cache"
)

// Deployment statuses. Only active deployments are served by the distributor.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// Deployment is the owner-facing view of a stored script.
type Deployment struct {
	ID          uuid.UUID      `json:"id"`
	OwnerID     uuid.UUID      `json:"owner_id"`
	Title       string         `json:"title"`
	DeployKey   string         `json:"deploy_key"`
	StoragePath string         `json:"storage_path"`
	SizeBytes   int64          `json:"size_bytes"`
	MimeType    string         `json:"mime_type"`
	Status      string         `json:"status"`
	Usage       int64          `json:"usage"`
	Meta        map[string]any `json:"meta,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`

	// Content is populated only on single-record reads. When the blob
	// cannot be fetched the record is still returned, with
	// ContentUnavailable set instead of an error.
	Content            string `json:"content,omitempty"`
	ContentUnavailable bool   `json:"content_unavailable,omitempty"`
}

// OwnerStats aggregates an owner's footprint for the dashboard.
type OwnerStats struct {
	Deployments int64 `json:"deployments"`
	TotalBytes  int64 `json:"total_bytes"`
	TotalUsage  int64 `json:"total_usage"`
}

// Store holds external dependencies required by the API layer. Pool is the
// pgx pool behind the ORM, used for readiness checks.
type Store struct {
	ORM   *gorm.DB
	Pool  *pgxpool.Pool
	Blob  BlobStore
	Cache *cache.Lookup
}
