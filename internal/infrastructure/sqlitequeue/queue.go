package sqlitequeue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/actiongates/actiongates-server/internal/domain"
)

// Queue implements [domain.Consumer] backed by SQLite. Messages with a
// not_before in the future stay invisible to Dequeue until they come
// due.
type Queue struct {
	DB *sql.DB

	// Now is the clock used to decide visibility. Defaults to time.Now.
	Now func() time.Time
}

func (q *Queue) now() time.Time {
	if q.Now != nil {
		return q.Now()
	}
	return time.Now()
}

func (q *Queue) Enqueue(ctx context.Context, queue string, env domain.Envelope, notBefore time.Time) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if notBefore.IsZero() {
		notBefore = q.now()
	}

	// not_before is epoch milliseconds so the due comparison is numeric.
	_, err = q.DB.ExecContext(ctx,
		`INSERT INTO queue_messages (queue, body, not_before) VALUES (?, ?, ?)`,
		queue, string(body), notBefore.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert queue message: %w", err)
	}
	return nil
}

// Dequeue claims the earliest due message on queue. The second return
// is false when nothing is due. Claiming deletes the row inside the
// same transaction, so a message is delivered to at most one consumer.
func (q *Queue) Dequeue(ctx context.Context, queue string) (domain.Envelope, bool, error) {
	tx, err := q.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Envelope{}, false, fmt.Errorf("begin dequeue tx: %w", err)
	}
	defer tx.Rollback()

	var (
		id   int64
		body string
	)
	err = tx.QueryRowContext(ctx,
		`SELECT id, body FROM queue_messages
		 WHERE queue = ? AND not_before <= ?
		 ORDER BY not_before, id
		 LIMIT 1`,
		queue, q.now().UnixMilli(),
	).Scan(&id, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Envelope{}, false, nil
	}
	if err != nil {
		return domain.Envelope{}, false, fmt.Errorf("select queue message: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM queue_messages WHERE id = ?`, id); err != nil {
		return domain.Envelope{}, false, fmt.Errorf("delete queue message: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Envelope{}, false, fmt.Errorf("commit dequeue tx: %w", err)
	}

	var env domain.Envelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return domain.Envelope{}, false, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return env, true, nil
}
