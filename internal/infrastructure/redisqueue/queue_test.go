package redisqueue

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/actiongates/actiongates-server/internal/domain"
)

// openTestQueue connects to the Redis named by GATES_TEST_REDIS_ADDR,
// skipping the test when the variable is unset. Each test gets its own
// queue name so runs do not interfere.
func openTestQueue(t *testing.T) (*Queue, string) {
	t.Helper()
	addr := os.Getenv("GATES_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("GATES_TEST_REDIS_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })

	queue := "test-" + uuid.NewString()
	t.Cleanup(func() {
		client.Del(context.Background(), readyKey(queue), scheduledKey(queue))
	})
	return &Queue{Client: client}, queue
}

func TestEnqueueDequeueRoundTrip(t *testing.T) {
	q, queue := openTestQueue(t)
	ctx := context.Background()

	sent := domain.NewEnvelope("d-1", 6, domain.DeploymentProtectionRuleEvent{Environment: "production"})
	if err := q.Enqueue(ctx, queue, sent, time.Time{}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	got, ok, err := q.Dequeue(ctx, queue)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if !ok {
		t.Fatal("Dequeue found nothing")
	}
	if got.DeliveryID != "d-1" || got.Event.Environment != "production" {
		t.Fatalf("envelope = %+v", got)
	}

	if _, ok, _ := q.Dequeue(ctx, queue); ok {
		t.Fatal("queue should be drained")
	}
}

func TestDelayedMessagePromotesWhenDue(t *testing.T) {
	q, queue := openTestQueue(t)
	ctx := context.Background()

	now := time.Now()
	q.Now = func() time.Time { return now }

	env := domain.NewEnvelope("d-1", 6, domain.DeploymentProtectionRuleEvent{Environment: "staging"})
	if err := q.Enqueue(ctx, queue, env, now.Add(time.Hour)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if _, ok, _ := q.Dequeue(ctx, queue); ok {
		t.Fatal("delayed message visible before due time")
	}

	now = now.Add(2 * time.Hour)
	got, ok, err := q.Dequeue(ctx, queue)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if !ok {
		t.Fatal("due message not promoted")
	}
	if got.DeliveryID != "d-1" {
		t.Fatalf("delivery id = %q", got.DeliveryID)
	}
}
