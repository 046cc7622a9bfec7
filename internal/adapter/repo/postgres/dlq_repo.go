package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/signalmesh/router/internal/domain"
)

// DLQRepo persists dead-lettered routing attempts.
type DLQRepo struct{ Pool PgxPool }

// NewDLQRepo constructs a DLQRepo with the given pool.
func NewDLQRepo(p PgxPool) *DLQRepo { return &DLQRepo{Pool: p} }

// Insert adds one row with attempts=0. ts defaults to NOW() server-side.
func (r *DLQRepo) Insert(ctx domain.Context, logID string, reason domain.DLQReason, payload map[string]any) error {
	tracer := otel.Tracer("repo.dlq")
	ctx, span := tracer.Start(ctx, "dlq.Insert")
	defer span.End()
	if payload == nil {
		payload = map[string]any{}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("op=dlq.insert: marshal payload: %w", err)
	}
	q := `INSERT INTO dlq (log_id, reason, payload, attempts) VALUES ($1,$2,$3,0)`
	if _, err := r.Pool.Exec(ctx, q, logID, string(reason), b); err != nil {
		return fmt.Errorf("op=dlq.insert: %w", err)
	}
	return nil
}

// Count returns the number of queued rows.
func (r *DLQRepo) Count(ctx domain.Context) (int64, error) {
	tracer := otel.Tracer("repo.dlq")
	ctx, span := tracer.Start(ctx, "dlq.Count")
	defer span.End()
	var n int64
	if err := r.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM dlq`).Scan(&n); err != nil {
		return 0, fmt.Errorf("op=dlq.count: %w", err)
	}
	return n, nil
}

// Status aggregates the queue for the operator endpoint.
func (r *DLQRepo) Status(ctx domain.Context) (domain.DLQStatus, error) {
	tracer := otel.Tracer("repo.dlq")
	ctx, span := tracer.Start(ctx, "dlq.Status")
	defer span.End()
	var st domain.DLQStatus
	q := `SELECT COUNT(*), MIN(ts), COALESCE(MAX(attempts), 0), COUNT(DISTINCT log_id) FROM dlq`
	if err := r.Pool.QueryRow(ctx, q).Scan(&st.Count, &st.Oldest, &st.MaxAttempts, &st.UniqueLogs); err != nil {
		return domain.DLQStatus{}, fmt.Errorf("op=dlq.status: %w", err)
	}
	rows, err := r.Pool.Query(ctx, `SELECT reason, COUNT(*) FROM dlq GROUP BY reason ORDER BY COUNT(*) DESC`)
	if err != nil {
		return domain.DLQStatus{}, fmt.Errorf("op=dlq.status: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var rc domain.DLQReasonCount
		if err := rows.Scan(&rc.Reason, &rc.Count); err != nil {
			return domain.DLQStatus{}, fmt.Errorf("op=dlq.status: scan: %w", err)
		}
		st.Reasons = append(st.Reasons, rc)
	}
	if err := rows.Err(); err != nil {
		return domain.DLQStatus{}, fmt.Errorf("op=dlq.status: %w", err)
	}
	return st, nil
}

// FetchBatch returns up to limit rows in replay order: oldest first, fewest
// attempts first within the same timestamp.
func (r *DLQRepo) FetchBatch(ctx domain.Context, limit int) ([]domain.DLQEntry, error) {
	tracer := otel.Tracer("repo.dlq")
	ctx, span := tracer.Start(ctx, "dlq.FetchBatch")
	defer span.End()
	q := `SELECT id, ts, log_id, reason, payload, attempts FROM dlq ORDER BY ts ASC, attempts ASC LIMIT $1`
	rows, err := r.Pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("op=dlq.fetch_batch: %w", err)
	}
	defer rows.Close()
	var out []domain.DLQEntry
	for rows.Next() {
		var e domain.DLQEntry
		var reason string
		var payload []byte
		if err := rows.Scan(&e.ID, &e.TS, &e.LogID, &reason, &payload, &e.Attempts); err != nil {
			return nil, fmt.Errorf("op=dlq.fetch_batch: scan: %w", err)
		}
		e.Reason = domain.DLQReason(reason)
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return nil, fmt.Errorf("op=dlq.fetch_batch: decode payload: %w", err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=dlq.fetch_batch: %w", err)
	}
	return out, nil
}

// Delete removes one row by surrogate id.
func (r *DLQRepo) Delete(ctx domain.Context, id int64) error {
	tracer := otel.Tracer("repo.dlq")
	ctx, span := tracer.Start(ctx, "dlq.Delete")
	defer span.End()
	if _, err := r.Pool.Exec(ctx, `DELETE FROM dlq WHERE id=$1`, id); err != nil {
		return fmt.Errorf("op=dlq.delete: %w", err)
	}
	return nil
}

// IncrementAttempts bumps the attempt counter after a failed replay.
func (r *DLQRepo) IncrementAttempts(ctx domain.Context, id int64) error {
	tracer := otel.Tracer("repo.dlq")
	ctx, span := tracer.Start(ctx, "dlq.IncrementAttempts")
	defer span.End()
	if _, err := r.Pool.Exec(ctx, `UPDATE dlq SET attempts = attempts + 1 WHERE id=$1`, id); err != nil {
		return fmt.Errorf("op=dlq.increment_attempts: %w", err)
	}
	return nil
}

// CompleteReplay writes the replayed log row and deletes the DLQ row in one
// transaction so a crash cannot drop the item from both tables.
func (r *DLQRepo) CompleteReplay(ctx domain.Context, id int64, rec domain.LogRecord) error {
	tracer := otel.Tracer("repo.dlq")
	ctx, span := tracer.Start(ctx, "dlq.CompleteReplay")
	defer span.End()
	agents, resp, meta, err := encodeLogJSON(rec)
	if err != nil {
		return fmt.Errorf("op=dlq.complete_replay: %w", err)
	}
	ts := rec.TS
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("op=dlq.complete_replay: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, logUpsertSQL, rec.LogID, ts, rec.SenderID, string(rec.Kind), agents, resp, meta); err != nil {
		return fmt.Errorf("op=dlq.complete_replay: upsert log: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM dlq WHERE id=$1`, id); err != nil {
		return fmt.Errorf("op=dlq.complete_replay: delete: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=dlq.complete_replay: commit: %w", err)
	}
	return nil
}
