package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aq2208/gcheckout/internal/usecase"
)

type MySQLOutboxRepo struct {
	db  *sql.DB
	now func() time.Time
}

func NewMySQLOutboxRepo(db *sql.DB) *MySQLOutboxRepo {
	return &MySQLOutboxRepo{db: db, now: time.Now}
}

var _ usecase.OutboxRepo = (*MySQLOutboxRepo)(nil)

// Enqueue writes one row per (topic, aggregate). A second enqueue for the
// same pair is ignored.
func (r *MySQLOutboxRepo) Enqueue(ctx context.Context, topic, aggregateID string, payload []byte) error {
	now := r.now().UTC()
	_, err := r.db.ExecContext(ctx, `
INSERT IGNORE INTO outbox (channel,aggregate_id,payload,status,retry_count,next_attempt_at,created_at)
VALUES (?, ?, ?, 'PENDING', 0, ?, ?)
`, topic, aggregateID, payload, now, now)
	if err != nil {
		return fmt.Errorf("enqueue %s/%s: %w", topic, aggregateID, err)
	}
	return nil
}

func (r *MySQLOutboxRepo) FetchDue(ctx context.Context, limit int) ([]usecase.OutboxMessage, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id,channel,aggregate_id,payload,retry_count
FROM outbox
WHERE status = 'PENDING' AND next_attempt_at <= ?
ORDER BY id
LIMIT ?`, r.now().UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("fetch outbox: %w", err)
	}
	defer rows.Close()

	var out []usecase.OutboxMessage
	for rows.Next() {
		var m usecase.OutboxMessage
		if err := rows.Scan(&m.ID, &m.Topic, &m.AggregateID, &m.Payload, &m.Attempts); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *MySQLOutboxRepo) MarkSent(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE outbox SET status = 'SENT', sent_at = ? WHERE id = ?`, r.now().UTC(), id)
	return err
}

func (r *MySQLOutboxRepo) MarkRetry(ctx context.Context, id int64, next time.Time) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE outbox SET retry_count = retry_count + 1, next_attempt_at = ? WHERE id = ? AND status = 'PENDING'`,
		next.UTC(), id)
	return err
}
