package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oddslab/predarb/internal/domain"
)

// ExecutionStore implements domain.ExecutionStore using PostgreSQL. The
// queryable scalars live in columns; the full record is kept as a JSONB
// payload so the trace survives schema drift in the nested structures.
type ExecutionStore struct {
	pool *pgxpool.Pool
}

// NewExecutionStore creates a new ExecutionStore.
func NewExecutionStore(pool *pgxpool.Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

// Insert stores one execution trace. Re-inserting the same trace id is a
// no-op, matching the deterministic-trace-id contract.
func (s *ExecutionStore) Insert(ctx context.Context, rec domain.ExecutionRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("postgres: marshal execution %s: %w", rec.TraceID, err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO executions (
			trace_id, timestamp, opportunity_type, detector, status,
			net_edge, realized_pnl, latency_ms, approved, reject_reason, payload
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (trace_id) DO NOTHING`,
		rec.TraceID, rec.Timestamp, string(rec.Opportunity.Type), rec.Detector,
		string(rec.Status), rec.Opportunity.NetEdge, rec.RealizedPnL,
		rec.LatencyMS, rec.Risk.Approved, rec.Risk.Reason, payload,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert execution %s: %w", rec.TraceID, err)
	}
	return nil
}

// GetByTraceID returns the execution trace with the given id.
func (s *ExecutionStore) GetByTraceID(ctx context.Context, traceID string) (domain.ExecutionRecord, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM executions WHERE trace_id = $1`, traceID,
	).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ExecutionRecord{}, domain.ErrNotFound
		}
		return domain.ExecutionRecord{}, fmt.Errorf("postgres: get execution %s: %w", traceID, err)
	}

	var rec domain.ExecutionRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return domain.ExecutionRecord{}, fmt.Errorf("postgres: decode execution %s: %w", traceID, err)
	}
	return rec, nil
}

// ListRecent returns the most recent execution traces, newest first.
func (s *ExecutionStore) ListRecent(ctx context.Context, limit int) ([]domain.ExecutionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT payload FROM executions ORDER BY timestamp DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions: %w", err)
	}
	defer rows.Close()

	var list []domain.ExecutionRecord
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var rec domain.ExecutionRecord
		if err := json.Unmarshal(payload, &rec); err != nil {
			return nil, fmt.Errorf("postgres: decode execution: %w", err)
		}
		list = append(list, rec)
	}
	return list, rows.Err()
}

// SumRealizedPnL returns the realized PnL across executions since the given
// time.
func (s *ExecutionStore) SumRealizedPnL(ctx context.Context, since time.Time) (float64, error) {
	var sum float64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(realized_pnl), 0) FROM executions WHERE timestamp >= $1`, since,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("postgres: sum executions pnl: %w", err)
	}
	return sum, nil
}
