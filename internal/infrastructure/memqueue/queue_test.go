package memqueue

import (
	"context"
	"testing"
	"time"

	"github.com/actiongates/actiongates-server/internal/domain"
)

func TestFIFOWithinDueMessages(t *testing.T) {
	q := &Queue{}
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		env := domain.NewEnvelope(id, 6, domain.DeploymentProtectionRuleEvent{})
		if err := q.Enqueue(ctx, "gate", env, time.Time{}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	for _, want := range []string{"a", "b", "c"} {
		got, ok, err := q.Dequeue(ctx, "gate")
		if err != nil || !ok {
			t.Fatalf("Dequeue = %v, %v", ok, err)
		}
		if got.DeliveryID != want {
			t.Fatalf("delivery id = %q, want %q", got.DeliveryID, want)
		}
	}
	if _, ok, _ := q.Dequeue(ctx, "gate"); ok {
		t.Fatal("queue should be drained")
	}
}

func TestDelayedMessageHeldUntilDue(t *testing.T) {
	now := time.Date(2023, 1, 2, 12, 0, 0, 0, time.UTC)
	q := &Queue{Now: func() time.Time { return now }}
	ctx := context.Background()

	if err := q.Enqueue(ctx, "gate", domain.NewEnvelope("later", 6, domain.DeploymentProtectionRuleEvent{}), now.Add(time.Hour)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, "gate", domain.NewEnvelope("now", 6, domain.DeploymentProtectionRuleEvent{}), time.Time{}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	got, ok, _ := q.Dequeue(ctx, "gate")
	if !ok || got.DeliveryID != "now" {
		t.Fatalf("got = %+v, ok = %v", got, ok)
	}
	if _, ok, _ := q.Dequeue(ctx, "gate"); ok {
		t.Fatal("delayed message visible before due")
	}
	if q.Len("gate") != 1 {
		t.Fatalf("Len = %d, want 1", q.Len("gate"))
	}

	now = now.Add(2 * time.Hour)
	got, ok, _ = q.Dequeue(ctx, "gate")
	if !ok || got.DeliveryID != "later" {
		t.Fatalf("got = %+v, ok = %v", got, ok)
	}
}
