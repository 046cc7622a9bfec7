// Package postgres provides PostgreSQL database adapters.
//
// It implements the log and DLQ repository ports on top of a minimal pgx
// pool surface so tests can stub the database.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/signalmesh/router/internal/domain"
)

//go:generate mockery --config=.mockery-pgx.yml

// PgxPool is a minimal subset of pgxpool used by the repos for easy testing.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// LogRepo persists and loads routing log rows keyed by log_id.
type LogRepo struct{ Pool PgxPool }

// NewLogRepo constructs a LogRepo with the given pool.
func NewLogRepo(p PgxPool) *LogRepo { return &LogRepo{Pool: p} }

const logUpsertSQL = `INSERT INTO logs (log_id, ts, sender_id, kind, routed_agents, response, metadata)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (log_id)
DO UPDATE SET routed_agents=EXCLUDED.routed_agents, response=EXCLUDED.response, metadata=logs.metadata || EXCLUDED.metadata`

// Upsert writes the aggregated routing result. On conflict the latest
// routed_agents and response win; metadata accretes across upserts.
func (r *LogRepo) Upsert(ctx domain.Context, rec domain.LogRecord) error {
	tracer := otel.Tracer("repo.logs")
	ctx, span := tracer.Start(ctx, "logs.Upsert")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPSERT"),
		attribute.String("db.sql.table", "logs"),
	)
	agents, resp, meta, err := encodeLogJSON(rec)
	if err != nil {
		return fmt.Errorf("op=log.upsert: %w", err)
	}
	ts := rec.TS
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err = r.Pool.Exec(ctx, logUpsertSQL, rec.LogID, ts, rec.SenderID, string(rec.Kind), agents, resp, meta)
	if err != nil {
		return fmt.Errorf("op=log.upsert: %w", err)
	}
	return nil
}

// Get loads a log row by id.
func (r *LogRepo) Get(ctx domain.Context, logID string) (domain.LogRecord, error) {
	tracer := otel.Tracer("repo.logs")
	ctx, span := tracer.Start(ctx, "logs.Get")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "logs"),
	)
	q := `SELECT log_id, ts, sender_id, kind, routed_agents, response, metadata FROM logs WHERE log_id=$1`
	row := r.Pool.QueryRow(ctx, q, logID)
	rec, err := scanLogRecord(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.LogRecord{}, fmt.Errorf("op=log.get: %w", domain.ErrNotFound)
		}
		return domain.LogRecord{}, fmt.Errorf("op=log.get: %w", err)
	}
	return rec, nil
}

// Exists reports whether a log row with the given id is already present.
func (r *LogRepo) Exists(ctx domain.Context, logID string) (bool, error) {
	tracer := otel.Tracer("repo.logs")
	ctx, span := tracer.Start(ctx, "logs.Exists")
	defer span.End()
	q := `SELECT EXISTS (SELECT 1 FROM logs WHERE log_id=$1)`
	var ok bool
	if err := r.Pool.QueryRow(ctx, q, logID).Scan(&ok); err != nil {
		return false, fmt.Errorf("op=log.exists: %w", err)
	}
	return ok, nil
}

// ListBySender returns the most recent rows for a sender, newest first.
func (r *LogRepo) ListBySender(ctx domain.Context, senderID string, limit, offset int) ([]domain.LogRecord, error) {
	tracer := otel.Tracer("repo.logs")
	ctx, span := tracer.Start(ctx, "logs.ListBySender")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "logs"),
	)
	q := `SELECT log_id, ts, sender_id, kind, routed_agents, response, metadata FROM logs WHERE sender_id=$1 ORDER BY ts DESC LIMIT $2 OFFSET $3`
	rows, err := r.Pool.Query(ctx, q, senderID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("op=log.list: %w", err)
	}
	defer rows.Close()
	var out []domain.LogRecord
	for rows.Next() {
		rec, err := scanLogRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("op=log.list: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=log.list: %w", err)
	}
	return out, nil
}

// encodeLogJSON marshals the JSONB columns. Nil routed_agents and metadata
// collapse to their column defaults; a nil response stays SQL NULL.
func encodeLogJSON(rec domain.LogRecord) (agents, resp, meta []byte, err error) {
	ra := rec.RoutedAgents
	if ra == nil {
		ra = []string{}
	}
	agents, err = json.Marshal(ra)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("routed_agents: %w", err)
	}
	if rec.Response != nil {
		resp, err = json.Marshal(rec.Response)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("response: %w", err)
		}
	}
	md := rec.Metadata
	if md == nil {
		md = map[string]any{}
	}
	meta, err = json.Marshal(md)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("metadata: %w", err)
	}
	return agents, resp, meta, nil
}

func scanLogRecord(row pgx.Row) (domain.LogRecord, error) {
	var rec domain.LogRecord
	var kind string
	var agents, resp, meta []byte
	if err := row.Scan(&rec.LogID, &rec.TS, &rec.SenderID, &kind, &agents, &resp, &meta); err != nil {
		return domain.LogRecord{}, err
	}
	rec.Kind = domain.Kind(kind)
	if len(agents) > 0 {
		if err := json.Unmarshal(agents, &rec.RoutedAgents); err != nil {
			return domain.LogRecord{}, fmt.Errorf("decode routed_agents: %w", err)
		}
	}
	if len(resp) > 0 {
		if err := json.Unmarshal(resp, &rec.Response); err != nil {
			return domain.LogRecord{}, fmt.Errorf("decode response: %w", err)
		}
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &rec.Metadata); err != nil {
			return domain.LogRecord{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return rec, nil
}
