// Package memqueue provides an in-process queue implementation. It
// backs the "memory" queue backend for local development and is the
// queue used by tests that exercise the full gate pipeline.
package memqueue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/actiongates/actiongates-server/internal/domain"
)

type message struct {
	env       domain.Envelope
	notBefore time.Time
	seq       int64
}

// Queue implements [domain.Consumer] in memory. Safe for concurrent
// use; messages are not durable across process restarts.
type Queue struct {
	// Now is the clock used to decide visibility. Defaults to time.Now.
	Now func() time.Time

	mu     sync.Mutex
	queues map[string][]message
	seq    int64
}

func (q *Queue) now() time.Time {
	if q.Now != nil {
		return q.Now()
	}
	return time.Now()
}

func (q *Queue) Enqueue(_ context.Context, queue string, env domain.Envelope, notBefore time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if notBefore.IsZero() {
		notBefore = q.now()
	}
	if q.queues == nil {
		q.queues = map[string][]message{}
	}
	q.seq++
	msgs := append(q.queues[queue], message{env: env, notBefore: notBefore, seq: q.seq})
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].notBefore.Equal(msgs[j].notBefore) {
			return msgs[i].seq < msgs[j].seq
		}
		return msgs[i].notBefore.Before(msgs[j].notBefore)
	})
	q.queues[queue] = msgs
	return nil
}

func (q *Queue) Dequeue(_ context.Context, queue string) (domain.Envelope, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	msgs := q.queues[queue]
	if len(msgs) == 0 || msgs[0].notBefore.After(q.now()) {
		return domain.Envelope{}, false, nil
	}
	msg := msgs[0]
	q.queues[queue] = msgs[1:]
	return msg.env, true, nil
}

// Len reports how many messages are pending on queue, due or not.
func (q *Queue) Len(queue string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues[queue])
}
