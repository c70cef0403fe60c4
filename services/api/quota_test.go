package api

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func seedDeployments(t *testing.T, repo *memRepo, owner uuid.UUID, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		err := repo.Create(context.Background(), &deploymentModel{
			ID:          uuid.New(),
			OwnerID:     owner,
			Title:       fmt.Sprintf("seed-%d", i),
			DeployKey:   fmt.Sprintf("%032x.lua", i),
			StoragePath: fmt.Sprintf("deployments/%s/%032x.lua", owner.String()[:8], i),
			SizeBytes:   1,
			Status:      StatusActive,
		})
		if err != nil {
			t.Fatalf("seed deployment %d: %v", i, err)
		}
	}
}

func TestQuotaGateAllow(t *testing.T) {
	tests := []struct {
		name      string
		existing  int
		planLimit int
		planErr   error
		wantLimit int // 0 means allowed
	}{
		{name: "under plan limit", existing: 2, planLimit: 3},
		{name: "one below limit", existing: 2, planLimit: 3, wantLimit: 0},
		{name: "at plan limit", existing: 3, planLimit: 3, wantLimit: 3},
		{name: "over plan limit", existing: 5, planLimit: 3, wantLimit: 3},
		{name: "no plan row uses default", existing: DefaultDeploymentLimit, planLimit: 0, wantLimit: DefaultDeploymentLimit},
		{name: "plan failure uses default", existing: DefaultDeploymentLimit, planErr: errors.New("boom"), wantLimit: DefaultDeploymentLimit},
		{name: "plan failure under default", existing: DefaultDeploymentLimit - 1, planErr: errors.New("boom")},
		{name: "fresh owner", existing: 0, planLimit: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMemRepo()
			owner := uuid.New()
			seedDeployments(t, repo, owner, tt.existing)

			gate := NewQuotaGate(repo, staticPlans{limit: tt.planLimit, err: tt.planErr}, zerolog.Nop())
			err := gate.Allow(context.Background(), owner)

			if tt.wantLimit == 0 {
				if err != nil {
					t.Fatalf("Allow() error = %v, want nil", err)
				}
				return
			}

			var quotaErr *QuotaError
			if !errors.As(err, &quotaErr) {
				t.Fatalf("Allow() error = %v, want *QuotaError", err)
			}
			if quotaErr.Limit != tt.wantLimit {
				t.Errorf("limit = %d, want %d", quotaErr.Limit, tt.wantLimit)
			}
		})
	}
}

func TestQuotaGateIgnoresOtherOwners(t *testing.T) {
	repo := newMemRepo()
	crowded := uuid.New()
	seedDeployments(t, repo, crowded, 10)

	gate := NewQuotaGate(repo, staticPlans{limit: 3}, zerolog.Nop())
	if err := gate.Allow(context.Background(), uuid.New()); err != nil {
		t.Fatalf("Allow() error = %v for unrelated owner", err)
	}
}

func TestQuotaBlocksCreate(t *testing.T) {
	repo := newMemRepo()
	store := newFakeBlob()
	lc := newTestLifecycle(repo, store, 2)
	owner := uuid.New()

	for i := 0; i < 2; i++ {
		_, err := lc.Create(context.Background(), owner, CreateInput{
			Title:   fmt.Sprintf("script %d", i),
			Content: []byte("print('hi')"),
		})
		if err != nil {
			t.Fatalf("Create() %d error = %v", i, err)
		}
	}

	_, err := lc.Create(context.Background(), owner, CreateInput{
		Title:   "one too many",
		Content: []byte("print('hi')"),
	})
	var quotaErr *QuotaError
	if !errors.As(err, &quotaErr) {
		t.Fatalf("Create() error = %v, want *QuotaError", err)
	}
	// Rejected creates must not write blobs either.
	if len(store.objects) != 2 {
		t.Errorf("blob objects = %d, want 2", len(store.objects))
	}
}
