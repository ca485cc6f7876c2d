package webhookqueue

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/pressly/goose/v3"
	// SQLite driver.
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the file-backed event store underneath the durable intake queue.
// It lives on local disk, entirely separate from the primary relational
// store: a primary outage cannot drop an accepted webhook. WAL journaling
// gives crash safety between write and fsync.
type Store struct {
	db *sql.DB
}

// OpenStore opens (and migrates) the SQLite store at the given path.
func OpenStore(path string) (*Store, error) {
	if path == "" {
		path = "data/webhook_queue"
	}
	db, err := sql.Open("sqlite", storeDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open webhook store: %w", err)
	}

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("sqlite"); err != nil {
		return nil, fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return nil, fmt.Errorf("failed to migrate webhook store: %w", err)
	}

	return &Store{db: db}, nil
}

func storeDSN(path string) string {
	values := url.Values{}
	values.Add("_pragma", "journal_mode(WAL)")
	values.Add("_pragma", "synchronous(FULL)")
	values.Add("_pragma", "busy_timeout(5000)")
	values.Add("_pragma", "temp_store(MEMORY)")
	return fmt.Sprintf("file:%s.sqlite?%s", path, values.Encode())
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) insert(ctx context.Context, e *WebhookEvent) error {
	headers, err := json.Marshal(e.Headers)
	if err != nil {
		return fmt.Errorf("failed to marshal headers: %w", err)
	}
	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	const q = `
INSERT INTO webhook_events (
  id, provider, endpoint, payload, headers, client_ip, signature,
  status, priority, retry_count, max_retries, error_message,
  processing_ms, metadata, scheduled_at, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, q,
		e.ID, e.Provider, e.Endpoint, e.Payload, string(headers), e.ClientIP, e.Signature,
		string(e.Status), int(e.Priority), e.RetryCount, e.MaxRetries, e.ErrorMessage,
		e.ProcessingMs, string(metadata), e.ScheduledAt, e.CreatedAt, e.UpdatedAt,
	)
	return err
}

// dequeueBatch atomically moves the highest-priority, oldest, due events
// from pending/retry to processing and returns them.
func (s *Store) dequeueBatch(ctx context.Context, batchSize int, now time.Time) ([]*WebhookEvent, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	const sel = `
SELECT id, provider, endpoint, payload, headers, client_ip, signature,
       status, priority, retry_count, max_retries, error_message,
       processing_ms, metadata, scheduled_at, created_at, updated_at
FROM webhook_events
WHERE status IN ('pending', 'retry')
  AND (scheduled_at IS NULL OR scheduled_at <= ?)
ORDER BY priority DESC, created_at ASC
LIMIT ?`
	rows, err := tx.QueryContext(ctx, sel, now, batchSize)
	if err != nil {
		return nil, err
	}
	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, tx.Commit()
	}

	const upd = `
UPDATE webhook_events
SET status = 'processing', scheduled_at = NULL, updated_at = ?
WHERE id = ?`
	for _, e := range events {
		if _, err := tx.ExecContext(ctx, upd, now, e.ID); err != nil {
			return nil, err
		}
		e.Status = StatusProcessing
		e.ScheduledAt = nil
		e.UpdatedAt = now
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Store) get(ctx context.Context, id string) (*WebhookEvent, error) {
	const q = `
SELECT id, provider, endpoint, payload, headers, client_ip, signature,
       status, priority, retry_count, max_retries, error_message,
       processing_ms, metadata, scheduled_at, created_at, updated_at
FROM webhook_events WHERE id = ?`
	rows, err := s.db.QueryContext(ctx, q, id)
	if err != nil {
		return nil, err
	}
	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, sql.ErrNoRows
	}
	return events[0], nil
}

func (s *Store) updateStatus(ctx context.Context, id string, status EventStatus, errMsg string, durationMs int64, now time.Time) error {
	const q = `
UPDATE webhook_events
SET status = ?, error_message = ?, processing_ms = ?, scheduled_at = NULL, updated_at = ?
WHERE id = ?`
	res, err := s.db.ExecContext(ctx, q, string(status), errMsg, durationMs, now, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Store) scheduleRetry(ctx context.Context, id string, retryCount int, at time.Time, errMsg string, now time.Time) error {
	const q = `
UPDATE webhook_events
SET status = 'retry', retry_count = ?, scheduled_at = ?, error_message = ?, updated_at = ?
WHERE id = ?`
	_, err := s.db.ExecContext(ctx, q, retryCount, at, errMsg, now, id)
	return err
}

// resetStuckProcessing returns events stuck in processing longer than maxAge
// back to pending so a dead worker's events are recovered.
func (s *Store) resetStuckProcessing(ctx context.Context, maxAge time.Duration, now time.Time) (int64, error) {
	const q = `
UPDATE webhook_events
SET status = 'pending', error_message = 'recovered from stuck processing', updated_at = ?
WHERE status = 'processing' AND updated_at < ?`
	res, err := s.db.ExecContext(ctx, q, now, now.Add(-maxAge))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// boostEndpointPriority raises queued events whose endpoint matches any of
// the given substring patterns to the target priority.
func (s *Store) boostEndpointPriority(ctx context.Context, patterns []string, priority Priority, now time.Time) (int64, error) {
	if len(patterns) == 0 {
		return 0, nil
	}
	q := `
UPDATE webhook_events
SET priority = ?, updated_at = ?
WHERE status IN ('pending', 'retry') AND priority < ? AND (`
	args := []interface{}{int(priority), now, int(priority)}
	for i, p := range patterns {
		if i > 0 {
			q += " OR "
		}
		q += "endpoint LIKE ?"
		args = append(args, "%"+p+"%")
	}
	q += ")"
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) countByStatus(ctx context.Context) (map[EventStatus]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM webhook_events GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[EventStatus]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[EventStatus(status)] = count
	}
	return counts, rows.Err()
}

// pruneTerminal removes completed/failed events older than the cutoff.
func (s *Store) pruneTerminal(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM webhook_events WHERE status IN ('completed', 'failed') AND updated_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanEvents(rows *sql.Rows) ([]*WebhookEvent, error) {
	defer rows.Close()

	var events []*WebhookEvent
	for rows.Next() {
		var (
			e        WebhookEvent
			status   string
			priority int
			headers  string
			metadata string
			sched    sql.NullTime
		)
		err := rows.Scan(
			&e.ID, &e.Provider, &e.Endpoint, &e.Payload, &headers, &e.ClientIP, &e.Signature,
			&status, &priority, &e.RetryCount, &e.MaxRetries, &e.ErrorMessage,
			&e.ProcessingMs, &metadata, &sched, &e.CreatedAt, &e.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		e.Status = EventStatus(status)
		e.Priority = Priority(priority)
		if sched.Valid {
			t := sched.Time
			e.ScheduledAt = &t
		}
		if headers != "" && headers != "{}" {
			if err := json.Unmarshal([]byte(headers), &e.Headers); err != nil {
				return nil, fmt.Errorf("failed to unmarshal headers for %s: %w", e.ID, err)
			}
		}
		if metadata != "" && metadata != "{}" {
			if err := json.Unmarshal([]byte(metadata), &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata for %s: %w", e.ID, err)
			}
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}
