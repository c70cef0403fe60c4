package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"luadrop/pkg/blob"
	"luadrop/pkg/deploykey"
)

type memRepo struct {
	rows      map[uuid.UUID]deploymentModel
	createErr error
}

func newMemRepo() *memRepo {
	return &memRepo{rows: make(map[uuid.UUID]deploymentModel)}
}

func (r *memRepo) Create(_ context.Context, m *deploymentModel) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.rows[m.ID] = *m
	return nil
}

func (r *memRepo) GetByID(_ context.Context, owner, id uuid.UUID) (deploymentModel, error) {
	m, ok := r.rows[id]
	if !ok || m.OwnerID != owner {
		return deploymentModel{}, ErrNotFound
	}
	return m, nil
}

func (r *memRepo) ListByOwner(_ context.Context, owner uuid.UUID) ([]deploymentModel, error) {
	var out []deploymentModel
	for _, m := range r.rows {
		if m.OwnerID == owner {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *memRepo) Update(_ context.Context, m *deploymentModel) error {
	if _, ok := r.rows[m.ID]; !ok {
		return ErrNotFound
	}
	r.rows[m.ID] = *m
	return nil
}

func (r *memRepo) Delete(_ context.Context, owner, id uuid.UUID) error {
	m, ok := r.rows[id]
	if !ok || m.OwnerID != owner {
		return ErrNotFound
	}
	delete(r.rows, id)
	return nil
}

func (r *memRepo) CountByOwner(_ context.Context, owner uuid.UUID) (int64, error) {
	var count int64
	for _, m := range r.rows {
		if m.OwnerID == owner {
			count++
		}
	}
	return count, nil
}

func (r *memRepo) StatsByOwner(_ context.Context, owner uuid.UUID) (OwnerStats, error) {
	var stats OwnerStats
	for _, m := range r.rows {
		if m.OwnerID == owner {
			stats.Deployments++
			stats.TotalBytes += m.SizeBytes
			stats.TotalUsage += m.Usage
		}
	}
	return stats, nil
}

type fakeBlob struct {
	objects   map[string][]byte
	types     map[string]string
	putErr    error
	getErr    error
	statErr   error
	deleteErr error
	putCalls  int
}

func newFakeBlob() *fakeBlob {
	return &fakeBlob{
		objects: make(map[string][]byte),
		types:   make(map[string]string),
	}
}

func (b *fakeBlob) Put(_ context.Context, key string, r io.Reader, _ int64, contentType string) error {
	b.putCalls++
	if b.putErr != nil {
		return b.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	b.objects[key] = data
	b.types[key] = contentType
	return nil
}

func (b *fakeBlob) Get(_ context.Context, key string) ([]byte, error) {
	if b.getErr != nil {
		return nil, b.getErr
	}
	data, ok := b.objects[key]
	if !ok {
		return nil, errors.New("object not found")
	}
	return data, nil
}

func (b *fakeBlob) Stat(_ context.Context, key string) (blob.Object, error) {
	if b.statErr != nil {
		return blob.Object{}, b.statErr
	}
	data, ok := b.objects[key]
	if !ok {
		return blob.Object{}, blob.ErrNotFound
	}
	return blob.Object{Key: key, Size: int64(len(data)), ContentType: b.types[key]}, nil
}

func (b *fakeBlob) Delete(_ context.Context, key string) error {
	if b.deleteErr != nil {
		return b.deleteErr
	}
	delete(b.objects, key)
	return nil
}

func (b *fakeBlob) PublicURL(key string) string { return "http://blobs.test/" + key }

func (b *fakeBlob) PresignPut(_ context.Context, key string, _ time.Duration) (string, error) {
	return "http://blobs.test/presigned/" + key, nil
}

type staticPlans struct {
	limit int
	err   error
}

func (p staticPlans) MaxDeployments(context.Context, uuid.UUID) (int, error) {
	return p.limit, p.err
}

func newTestLifecycle(repo *memRepo, store *fakeBlob, limit int) *Lifecycle {
	log := zerolog.Nop()
	quota := NewQuotaGate(repo, staticPlans{limit: limit}, log)
	return NewLifecycle(repo, store, quota, nil, log)
}

var deployKeyPattern = regexp.MustCompile(`^[0-9a-f]{32}\.lua$`)

func TestCreateRoundTrip(t *testing.T) {
	repo := newMemRepo()
	store := newFakeBlob()
	lc := newTestLifecycle(repo, store, 3)
	owner := uuid.New()

	created, err := lc.Create(context.Background(), owner, CreateInput{
		Title:   "Test",
		Content: []byte("local x = 1"),
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if created.Status != StatusActive {
		t.Errorf("status = %q, want %q", created.Status, StatusActive)
	}
	if created.SizeBytes != 11 {
		t.Errorf("size_bytes = %d, want 11", created.SizeBytes)
	}
	if !deployKeyPattern.MatchString(created.DeployKey) {
		t.Errorf("deploy_key = %q, want 32 hex chars + .lua", created.DeployKey)
	}
	if want := deploykey.StoragePath(owner.String(), created.DeployKey); created.StoragePath != want {
		t.Errorf("storage_path = %q, want %q", created.StoragePath, want)
	}

	got, err := lc.Get(context.Background(), owner, created.ID, true)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Content != "local x = 1" {
		t.Errorf("content = %q, want %q", got.Content, "local x = 1")
	}
	if got.ContentUnavailable {
		t.Error("content_unavailable set on healthy read")
	}

	if !bytes.Equal(store.objects[created.StoragePath], []byte("local x = 1")) {
		t.Error("blob bytes do not match submitted content")
	}
}

func TestCreateBlobFailureWritesNoMetadata(t *testing.T) {
	repo := newMemRepo()
	store := newFakeBlob()
	store.putErr = errors.New("connection reset")
	lc := newTestLifecycle(repo, store, 3)

	_, err := lc.Create(context.Background(), uuid.New(), CreateInput{
		Title:   "Test",
		Content: []byte("print('hi')"),
	})

	var storageErr *StorageError
	if !errors.As(err, &storageErr) {
		t.Fatalf("Create() error = %v, want *StorageError", err)
	}
	if len(repo.rows) != 0 {
		t.Fatalf("metadata rows = %d after blob failure, want 0", len(repo.rows))
	}
}

func TestCreateMetadataFailureLeavesOrphanBlob(t *testing.T) {
	repo := newMemRepo()
	repo.createErr = errors.New("insert failed")
	store := newFakeBlob()
	lc := newTestLifecycle(repo, store, 3)

	_, err := lc.Create(context.Background(), uuid.New(), CreateInput{
		Title:   "Test",
		Content: []byte("print('hi')"),
	})
	if err == nil {
		t.Fatal("Create() succeeded despite metadata failure")
	}

	// The blob survives as a tolerated orphan for the sweeper.
	if len(store.objects) != 1 {
		t.Fatalf("blob objects = %d, want 1 orphan", len(store.objects))
	}
}

func TestDeleteToleratesBlobFailure(t *testing.T) {
	repo := newMemRepo()
	store := newFakeBlob()
	lc := newTestLifecycle(repo, store, 3)
	owner := uuid.New()

	created, err := lc.Create(context.Background(), owner, CreateInput{
		Title:   "Test",
		Content: []byte("print('hi')"),
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	store.deleteErr = errors.New("connection reset")

	if err := lc.Delete(context.Background(), owner, created.ID); err != nil {
		t.Fatalf("Delete() error = %v, want success despite blob failure", err)
	}
	if len(repo.rows) != 0 {
		t.Fatalf("metadata rows = %d after delete, want 0", len(repo.rows))
	}
}

func TestDeleteRemovesBlob(t *testing.T) {
	repo := newMemRepo()
	store := newFakeBlob()
	lc := newTestLifecycle(repo, store, 3)
	owner := uuid.New()

	created, err := lc.Create(context.Background(), owner, CreateInput{
		Title:   "Test",
		Content: []byte("print('hi')"),
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := lc.Delete(context.Background(), owner, created.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if len(store.objects) != 0 {
		t.Fatalf("blob objects = %d after delete, want 0", len(store.objects))
	}
}

func TestGetMissingBlobReturnsRecord(t *testing.T) {
	repo := newMemRepo()
	store := newFakeBlob()
	lc := newTestLifecycle(repo, store, 3)
	owner := uuid.New()

	created, err := lc.Create(context.Background(), owner, CreateInput{
		Title:   "Test",
		Content: []byte("print('hi')"),
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	store.getErr = errors.New("connection reset")

	got, err := lc.Get(context.Background(), owner, created.ID, true)
	if err != nil {
		t.Fatalf("Get() error = %v, want best-effort success", err)
	}
	if !got.ContentUnavailable {
		t.Error("content_unavailable not set")
	}
	if got.Content != "" {
		t.Errorf("content = %q, want empty", got.Content)
	}
}

func TestUpdateContentRewritesInPlace(t *testing.T) {
	repo := newMemRepo()
	store := newFakeBlob()
	lc := newTestLifecycle(repo, store, 3)
	owner := uuid.New()

	created, err := lc.Create(context.Background(), owner, CreateInput{
		Title:   "Test",
		Content: []byte("local x = 1"),
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	updated, err := lc.Update(context.Background(), owner, created.ID, UpdateInput{
		Content: []byte("local x = 1\nlocal y = 2"),
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	if updated.DeployKey != created.DeployKey {
		t.Error("deploy key changed on update")
	}
	if updated.StoragePath != created.StoragePath {
		t.Error("storage path changed on update")
	}
	if updated.SizeBytes != int64(len("local x = 1\nlocal y = 2")) {
		t.Errorf("size_bytes = %d, want %d", updated.SizeBytes, len("local x = 1\nlocal y = 2"))
	}
	if !bytes.Equal(store.objects[created.StoragePath], []byte("local x = 1\nlocal y = 2")) {
		t.Error("blob bytes not rewritten")
	}
}

func TestUpdateTitleSkipsBlob(t *testing.T) {
	repo := newMemRepo()
	store := newFakeBlob()
	lc := newTestLifecycle(repo, store, 3)
	owner := uuid.New()

	created, err := lc.Create(context.Background(), owner, CreateInput{
		Title:   "Test",
		Content: []byte("print('hi')"),
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	putsBefore := store.putCalls
	title := "Renamed"
	if _, err := lc.Update(context.Background(), owner, created.ID, UpdateInput{Title: &title}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if store.putCalls != putsBefore {
		t.Error("title-only update touched the object store")
	}
}

func TestUpdateBlobFailureLeavesMetadata(t *testing.T) {
	repo := newMemRepo()
	store := newFakeBlob()
	lc := newTestLifecycle(repo, store, 3)
	owner := uuid.New()

	created, err := lc.Create(context.Background(), owner, CreateInput{
		Title:   "Test",
		Content: []byte("local x = 1"),
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	store.putErr = errors.New("connection reset")

	_, err = lc.Update(context.Background(), owner, created.ID, UpdateInput{
		Content: []byte("local y = 2"),
	})
	var storageErr *StorageError
	if !errors.As(err, &storageErr) {
		t.Fatalf("Update() error = %v, want *StorageError", err)
	}

	row := repo.rows[created.ID]
	if row.SizeBytes != 11 {
		t.Errorf("size_bytes = %d after failed update, want 11", row.SizeBytes)
	}
}

func TestGetForeignDeploymentIsNotFound(t *testing.T) {
	repo := newMemRepo()
	store := newFakeBlob()
	lc := newTestLifecycle(repo, store, 3)

	created, err := lc.Create(context.Background(), uuid.New(), CreateInput{
		Title:   "Test",
		Content: []byte("print('hi')"),
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	_, err = lc.Get(context.Background(), uuid.New(), created.ID, false)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() by non-owner error = %v, want ErrNotFound", err)
	}
}

func TestCreateFromUploadKey(t *testing.T) {
	repo := newMemRepo()
	store := newFakeBlob()
	lc := newTestLifecycle(repo, store, 3)
	owner := uuid.New()

	key, err := deploykey.New()
	if err != nil {
		t.Fatalf("deploykey.New() error = %v", err)
	}
	uploadKey := deploykey.StoragePath(owner.String(), key)
	store.objects[uploadKey] = bytes.Repeat([]byte("x"), 2048)
	store.types[uploadKey] = "text/x-lua"

	created, err := lc.Create(context.Background(), owner, CreateInput{
		Title:     "Uploaded",
		UploadKey: uploadKey,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if created.DeployKey != key {
		t.Errorf("deploy_key = %q, want %q", created.DeployKey, key)
	}
	// Size and content type come from the store, not the request.
	if created.SizeBytes != 2048 {
		t.Errorf("size_bytes = %d, want 2048", created.SizeBytes)
	}
	if created.MimeType != "text/x-lua" {
		t.Errorf("mime_type = %q, want %q", created.MimeType, "text/x-lua")
	}
	// Ingestion already wrote the blob; the lifecycle must not write again.
	if store.putCalls != 0 {
		t.Errorf("putCalls = %d, want 0", store.putCalls)
	}
}

func TestCreateFromUploadKeyRequiresUploadedObject(t *testing.T) {
	repo := newMemRepo()
	store := newFakeBlob()
	lc := newTestLifecycle(repo, store, 3)
	owner := uuid.New()

	key, err := deploykey.New()
	if err != nil {
		t.Fatalf("deploykey.New() error = %v", err)
	}

	// Presigned URL issued but nothing was ever uploaded.
	_, err = lc.Create(context.Background(), owner, CreateInput{
		Title:     "Phantom",
		UploadKey: deploykey.StoragePath(owner.String(), key),
	})
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("Create() error = %v, want *ValidationError", err)
	}
	if len(repo.rows) != 0 {
		t.Fatalf("metadata rows = %d for missing upload, want 0", len(repo.rows))
	}
}

func TestCreateFromUploadKeyStatFailure(t *testing.T) {
	repo := newMemRepo()
	store := newFakeBlob()
	store.statErr = errors.New("connection reset")
	lc := newTestLifecycle(repo, store, 3)
	owner := uuid.New()

	key, err := deploykey.New()
	if err != nil {
		t.Fatalf("deploykey.New() error = %v", err)
	}

	_, err = lc.Create(context.Background(), owner, CreateInput{
		Title:     "Uploaded",
		UploadKey: deploykey.StoragePath(owner.String(), key),
	})
	var storageErr *StorageError
	if !errors.As(err, &storageErr) {
		t.Fatalf("Create() error = %v, want *StorageError", err)
	}
	if len(repo.rows) != 0 {
		t.Fatalf("metadata rows = %d after stat failure, want 0", len(repo.rows))
	}
}

func TestCreateFromForeignUploadKeyRejected(t *testing.T) {
	repo := newMemRepo()
	store := newFakeBlob()
	lc := newTestLifecycle(repo, store, 3)

	key, err := deploykey.New()
	if err != nil {
		t.Fatalf("deploykey.New() error = %v", err)
	}
	foreign := uuid.New()
	uploadKey := deploykey.StoragePath(foreign.String(), key)
	store.objects[uploadKey] = []byte("print('hi')")

	_, err = lc.Create(context.Background(), uuid.New(), CreateInput{
		Title:     "Stolen",
		UploadKey: uploadKey,
	})
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("Create() error = %v, want *ValidationError", err)
	}
}
