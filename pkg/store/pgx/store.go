// Package pgx is the Postgres-backed Storage implementation. Writes happen
// in stage transactions; a failed stage rolls back and leaves the previous
// stage's state untouched.
package pgx

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/walbarellos/Sentinela/pkg/common"
	"github.com/walbarellos/Sentinela/pkg/store"
)

const (
	entityChunk = 250
	eventChunk  = 500
	edgeChunk   = 500
)

type Storage struct {
	conn *pgxpool.Pool
}

var _ store.Storage = (*Storage)(nil)

func New(conn *pgxpool.Pool) *Storage {
	return &Storage{conn: conn}
}

func (s *Storage) StartRun(ctx context.Context, run common.PipelineRun) error {
	counters, err := json.Marshal(run.Counters)
	if err != nil {
		return err
	}
	_, err = s.conn.Exec(ctx, `
		INSERT INTO pipeline_run (id, status, started_at, counters, error)
		VALUES ($1, $2, $3, $4, $5)`,
		run.ID, run.Status, run.StartedAt, counters, run.Error)
	return err
}

func (s *Storage) FinishRun(ctx context.Context, run common.PipelineRun) error {
	counters, err := json.Marshal(run.Counters)
	if err != nil {
		return err
	}
	_, err = s.conn.Exec(ctx, `
		UPDATE pipeline_run
		SET status = $2, finished_at = $3, counters = $4, error = $5
		WHERE id = $1`,
		run.ID, run.Status, nullableTime(run.FinishedAt), counters, run.Error)
	return err
}

func marshalAttrs(attrs map[string]string) ([]byte, error) {
	if attrs == nil {
		attrs = map[string]string{}
	}
	return json.Marshal(attrs)
}

func unmarshalAttrs(raw []byte) (map[string]string, error) {
	attrs := map[string]string{}
	if len(raw) == 0 {
		return attrs, nil
	}
	if err := json.Unmarshal(raw, &attrs); err != nil {
		return nil, err
	}
	return attrs, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func parseAmount(raw string) decimal.Decimal {
	if raw == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return d
}
