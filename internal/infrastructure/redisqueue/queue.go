// Package redisqueue provides a delayed message queue on Redis for
// multi-node deployments. Ready messages live on a list, delayed
// messages on a sorted set scored by their due time; Dequeue promotes
// due members before popping.
package redisqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/actiongates/actiongates-server/internal/domain"
)

const promoteBatch = 16

// Queue implements [domain.Consumer] on a Redis client.
type Queue struct {
	Client *redis.Client

	// Now is the clock used to decide due times. Defaults to time.Now.
	Now func() time.Time
}

func (q *Queue) now() time.Time {
	if q.Now != nil {
		return q.Now()
	}
	return time.Now()
}

func readyKey(queue string) string     { return "gates:queue:" + queue + ":ready" }
func scheduledKey(queue string) string { return "gates:queue:" + queue + ":scheduled" }

func (q *Queue) Enqueue(ctx context.Context, queue string, env domain.Envelope, notBefore time.Time) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	if notBefore.IsZero() || !notBefore.After(q.now()) {
		if err := q.Client.LPush(ctx, readyKey(queue), body).Err(); err != nil {
			return fmt.Errorf("push ready message: %w", err)
		}
		return nil
	}

	member := redis.Z{
		Score:  float64(notBefore.UnixMilli()),
		Member: body,
	}
	if err := q.Client.ZAdd(ctx, scheduledKey(queue), member).Err(); err != nil {
		return fmt.Errorf("schedule delayed message: %w", err)
	}
	return nil
}

// Dequeue promotes due scheduled messages onto the ready list, then
// pops one. The second return is false when nothing is ready.
func (q *Queue) Dequeue(ctx context.Context, queue string) (domain.Envelope, bool, error) {
	if err := q.promoteDue(ctx, queue); err != nil {
		return domain.Envelope{}, false, err
	}

	body, err := q.Client.RPop(ctx, readyKey(queue)).Result()
	if err == redis.Nil {
		return domain.Envelope{}, false, nil
	}
	if err != nil {
		return domain.Envelope{}, false, fmt.Errorf("pop ready message: %w", err)
	}

	var env domain.Envelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return domain.Envelope{}, false, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return env, true, nil
}

// promoteDue moves scheduled members whose due time has passed onto the
// ready list. ZRem is the claim: a member only moves if this node was
// the one to remove it, so concurrent consumers never double-promote.
func (q *Queue) promoteDue(ctx context.Context, queue string) error {
	max := strconv.FormatInt(q.now().UnixMilli(), 10)
	due, err := q.Client.ZRangeByScore(ctx, scheduledKey(queue), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   max,
		Count: promoteBatch,
	}).Result()
	if err != nil {
		return fmt.Errorf("list due messages: %w", err)
	}

	for _, member := range due {
		removed, err := q.Client.ZRem(ctx, scheduledKey(queue), member).Result()
		if err != nil {
			return fmt.Errorf("claim due message: %w", err)
		}
		if removed == 0 {
			continue
		}
		if err := q.Client.LPush(ctx, readyKey(queue), member).Err(); err != nil {
			return fmt.Errorf("promote due message: %w", err)
		}
	}
	return nil
}
