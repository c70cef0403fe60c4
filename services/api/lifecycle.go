package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"luadrop/pkg/blob"
	"luadrop/pkg/cache"
	"luadrop/pkg/deploykey"
)

const (
	maxTitleLen     = 120
	maxContentBytes = 10 << 20

	defaultMimeType = "text/plain; charset=utf-8"
)

// BlobStore is the object-store surface the lifecycle manager needs.
// *blob.Client satisfies it.
type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Stat(ctx context.Context, key string) (blob.Object, error)
	Delete(ctx context.Context, key string) error
	PublicURL(key string) string
	PresignPut(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// deploymentRepo is the metadata-store surface. gormRepo is the Postgres
// implementation; tests substitute an in-memory one.
type deploymentRepo interface {
	Create(ctx context.Context, m *deploymentModel) error
	GetByID(ctx context.Context, owner, id uuid.UUID) (deploymentModel, error)
	ListByOwner(ctx context.Context, owner uuid.UUID) ([]deploymentModel, error)
	Update(ctx context.Context, m *deploymentModel) error
	Delete(ctx context.Context, owner, id uuid.UUID) error
	CountByOwner(ctx context.Context, owner uuid.UUID) (int64, error)
	StatsByOwner(ctx context.Context, owner uuid.UUID) (OwnerStats, error)
}

// CreateInput carries a create request into the lifecycle manager. Exactly
// one of Content or UploadKey must be set: Content is written to the store
// inline, UploadKey references a blob the ingestion flow already uploaded.
type CreateInput struct {
	Title     string
	Content   []byte
	UploadKey string
	MimeType  string
	Meta      map[string]any
}

// UpdateInput carries a partial update. Nil fields are left untouched.
type UpdateInput struct {
	Title   *string
	Content []byte
	Status  *string
}

// Lifecycle orchestrates create/update/delete across the object store and
// the metadata store. Ordering rule on create/update: blob write first, then
// metadata, so a row never references bytes that were not written. The
// reverse orphan (blob without a row) is tolerated and left to the sweeper.
type Lifecycle struct {
	repo   deploymentRepo
	blob   BlobStore
	quota  *QuotaGate
	cache  *cache.Lookup
	log    zerolog.Logger
	newKey func() (string, error)
	now    func() time.Time
}

// NewLifecycle wires a Lifecycle. cache may be nil.
func NewLifecycle(repo deploymentRepo, blob BlobStore, quota *QuotaGate, lookup *cache.Lookup, log zerolog.Logger) *Lifecycle {
	return &Lifecycle{
		repo:   repo,
		blob:   blob,
		quota:  quota,
		cache:  lookup,
		log:    log,
		newKey: deploykey.New,
		now:    time.Now,
	}
}

// Create validates input, passes the quota gate, writes the blob (inline
// path only), then inserts the metadata row. A blob failure aborts with no
// row written; a row failure after a successful blob write leaves an
// orphaned blob behind, which is logged and reclaimed by the sweeper.
func (l *Lifecycle) Create(ctx context.Context, owner uuid.UUID, in CreateInput) (Deployment, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return Deployment{}, validationf("title is required")
	}
	if len(title) > maxTitleLen {
		return Deployment{}, validationf("title exceeds %d characters", maxTitleLen)
	}

	inline := len(in.Content) > 0
	if inline && in.UploadKey != "" {
		return Deployment{}, validationf("content and upload_key are mutually exclusive")
	}
	if !inline && in.UploadKey == "" {
		return Deployment{}, validationf("content or upload_key is required")
	}
	if len(in.Content) > maxContentBytes {
		return Deployment{}, validationf("content exceeds %d bytes", maxContentBytes)
	}

	if err := l.quota.Allow(ctx, owner); err != nil {
		return Deployment{}, err
	}

	var (
		key         string
		storagePath string
		sizeBytes   int64
		mimeType    string
		err         error
	)

	if inline {
		key, err = l.newKey()
		if err != nil {
			return Deployment{}, err
		}
		storagePath = deploykey.StoragePath(owner.String(), key)
		sizeBytes = int64(len(in.Content))
		mimeType = in.MimeType
		if mimeType == "" {
			mimeType = defaultMimeType
		}

		if err := l.blob.Put(ctx, storagePath, bytes.NewReader(in.Content), sizeBytes, mimeType); err != nil {
			return Deployment{}, &StorageError{Op: "put", Err: err}
		}
	} else {
		key, storagePath, err = parseUploadKey(owner, in.UploadKey)
		if err != nil {
			return Deployment{}, err
		}

		// The row must never reference bytes that were not written, so the
		// upload is verified at the store and its size taken from there, not
		// from the client.
		obj, err := l.blob.Stat(ctx, storagePath)
		if err != nil {
			if errors.Is(err, blob.ErrNotFound) {
				return Deployment{}, validationf("upload_key does not reference an uploaded object")
			}
			return Deployment{}, &StorageError{Op: "stat", Err: err}
		}
		sizeBytes = obj.Size
		mimeType = in.MimeType
		if mimeType == "" {
			mimeType = obj.ContentType
		}
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
	}

	now := l.now().UTC()
	model := deploymentModel{
		ID:          uuid.New(),
		OwnerID:     owner,
		Title:       title,
		DeployKey:   key,
		StoragePath: storagePath,
		SizeBytes:   sizeBytes,
		MimeType:    mimeType,
		Status:      StatusActive,
		Meta:        in.Meta,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := l.repo.Create(ctx, &model); err != nil {
		if inline {
			l.log.Warn().Err(err).Str("storage_path", storagePath).
				Msg("metadata insert failed after blob write, blob orphaned")
		}
		return Deployment{}, err
	}

	return model.toAPI(), nil
}

// Get returns a single owned deployment. When withContent is set the blob is
// fetched best-effort: any failure yields the record with empty content and
// ContentUnavailable set, never an error.
func (l *Lifecycle) Get(ctx context.Context, owner, id uuid.UUID, withContent bool) (Deployment, error) {
	model, err := l.repo.GetByID(ctx, owner, id)
	if err != nil {
		return Deployment{}, err
	}

	out := model.toAPI()
	if withContent {
		content, err := l.blob.Get(ctx, model.StoragePath)
		if err != nil {
			l.log.Warn().Err(err).Str("storage_path", model.StoragePath).
				Msg("content fetch failed, returning record without content")
			out.ContentUnavailable = true
		} else {
			out.Content = string(content)
		}
	}
	return out, nil
}

// List returns the owner's deployments, metadata only.
func (l *Lifecycle) List(ctx context.Context, owner uuid.UUID) ([]Deployment, error) {
	models, err := l.repo.ListByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}
	out := make([]Deployment, 0, len(models))
	for _, m := range models {
		out = append(out, m.toAPI())
	}
	return out, nil
}

// Update mutates title, content, and/or status. A content change rewrites
// the blob at the existing storage path before the row is touched; deploy
// key and storage path never change.
func (l *Lifecycle) Update(ctx context.Context, owner, id uuid.UUID, in UpdateInput) (Deployment, error) {
	if in.Title == nil && in.Content == nil && in.Status == nil {
		return Deployment{}, validationf("nothing to update")
	}
	if len(in.Content) > maxContentBytes {
		return Deployment{}, validationf("content exceeds %d bytes", maxContentBytes)
	}

	model, err := l.repo.GetByID(ctx, owner, id)
	if err != nil {
		return Deployment{}, err
	}

	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if title == "" {
			return Deployment{}, validationf("title is required")
		}
		if len(title) > maxTitleLen {
			return Deployment{}, validationf("title exceeds %d characters", maxTitleLen)
		}
		model.Title = title
	}

	if in.Status != nil {
		switch *in.Status {
		case StatusActive, StatusInactive:
			model.Status = *in.Status
		default:
			return Deployment{}, validationf("status must be %q or %q", StatusActive, StatusInactive)
		}
	}

	if in.Content != nil {
		size := int64(len(in.Content))
		if err := l.blob.Put(ctx, model.StoragePath, bytes.NewReader(in.Content), size, model.MimeType); err != nil {
			return Deployment{}, &StorageError{Op: "put", Err: err}
		}
		model.SizeBytes = size
	}

	model.UpdatedAt = l.now().UTC()
	if err := l.repo.Update(ctx, &model); err != nil {
		return Deployment{}, err
	}

	l.invalidate(ctx, model.DeployKey)
	return model.toAPI(), nil
}

// Delete removes the blob, then the metadata row. A blob-deletion failure is
// logged and swallowed: the row still goes, the owner sees success, and the
// stranded blob is the sweeper's problem. A row-deletion failure is fatal.
func (l *Lifecycle) Delete(ctx context.Context, owner, id uuid.UUID) error {
	model, err := l.repo.GetByID(ctx, owner, id)
	if err != nil {
		return err
	}

	if err := l.blob.Delete(ctx, model.StoragePath); err != nil {
		l.log.Warn().Err(err).Str("storage_path", model.StoragePath).
			Msg("blob delete failed, removing metadata anyway")
	}

	if err := l.repo.Delete(ctx, owner, id); err != nil {
		return err
	}

	l.invalidate(ctx, model.DeployKey)
	return nil
}

// Stats returns aggregate counts for the owner's dashboard.
func (l *Lifecycle) Stats(ctx context.Context, owner uuid.UUID) (OwnerStats, error) {
	return l.repo.StatsByOwner(ctx, owner)
}

func (l *Lifecycle) invalidate(ctx context.Context, deployKey string) {
	if l.cache == nil {
		return
	}
	if err := l.cache.Invalidate(ctx, deployKey); err != nil {
		l.log.Warn().Err(err).Str("deploy_key", deployKey).Msg("lookup cache invalidation failed")
	}
}

// parseUploadKey validates an ingestion-flow storage path against the owner
// and recovers the deploy key from its basename.
func parseUploadKey(owner uuid.UUID, uploadKey string) (key, storagePath string, err error) {
	key = path.Base(uploadKey)
	if !deploykey.Valid(key) {
		return "", "", validationf("upload_key does not reference a valid deploy key")
	}
	expected := deploykey.StoragePath(owner.String(), key)
	if uploadKey != expected {
		return "", "", validationf("upload_key does not belong to the caller")
	}
	return key, expected, nil
}
