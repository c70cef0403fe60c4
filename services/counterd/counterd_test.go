package counterd

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"luadrop/pkg/bus"
)

func TestHandleAppliesIncrement(t *testing.T) {
	id := uuid.New()
	var applied []uuid.UUID

	c := &Consumer{
		apply: func(_ context.Context, got uuid.UUID) error {
			applied = append(applied, got)
			return nil
		},
		log: zerolog.Nop(),
	}

	data, err := json.Marshal(bus.UsageEvent{
		DeploymentID: id,
		DeployKey:    "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa.lua",
		At:           time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}

	if err := c.Handle(context.Background(), data); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if len(applied) != 1 || applied[0] != id {
		t.Errorf("applied = %v, want exactly one increment for %s", applied, id)
	}
}

func TestHandleDropsMalformedPayload(t *testing.T) {
	c := &Consumer{
		apply: func(context.Context, uuid.UUID) error {
			t.Error("apply called for malformed payload")
			return nil
		},
		log: zerolog.Nop(),
	}

	if err := c.Handle(context.Background(), []byte("{not json")); err != nil {
		t.Fatalf("Handle() error = %v, want nil so the message is not redelivered", err)
	}
}

func TestHandleDropsMissingID(t *testing.T) {
	c := &Consumer{
		apply: func(context.Context, uuid.UUID) error {
			t.Error("apply called without a deployment id")
			return nil
		},
		log: zerolog.Nop(),
	}

	data, _ := json.Marshal(bus.UsageEvent{DeployKey: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa.lua"})
	if err := c.Handle(context.Background(), data); err != nil {
		t.Fatalf("Handle() error = %v, want nil", err)
	}
}

func TestHandleReturnsTransientFailure(t *testing.T) {
	dbErr := errors.New("connection refused")
	c := &Consumer{
		apply: func(context.Context, uuid.UUID) error { return dbErr },
		log:   zerolog.Nop(),
	}

	data, _ := json.Marshal(bus.UsageEvent{DeploymentID: uuid.New()})
	if err := c.Handle(context.Background(), data); !errors.Is(err, dbErr) {
		t.Fatalf("Handle() error = %v, want %v for redelivery", err, dbErr)
	}
}
