package pgx

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/walbarellos/Sentinela/pkg/common"
)

func (s *Storage) GetRun(ctx context.Context, id string) (common.PipelineRun, error) {
	var run common.PipelineRun
	var finishedAt *time.Time
	var rawCounters []byte
	err := s.conn.QueryRow(ctx, `
		SELECT id, status, started_at, finished_at, counters, error
		FROM pipeline_run WHERE id = $1`, id).
		Scan(&run.ID, &run.Status, &run.StartedAt, &finishedAt, &rawCounters, &run.Error)
	if errors.Is(err, pgx.ErrNoRows) {
		return common.PipelineRun{}, ErrNotFound
	}
	if err != nil {
		return common.PipelineRun{}, err
	}
	if finishedAt != nil {
		run.FinishedAt = *finishedAt
	}
	if len(rawCounters) > 0 {
		if err := json.Unmarshal(rawCounters, &run.Counters); err != nil {
			return common.PipelineRun{}, err
		}
	}
	return run, nil
}

func (s *Storage) ListRuns(ctx context.Context, limit int) ([]common.PipelineRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.conn.Query(ctx, `
		SELECT id, status, started_at, finished_at, counters, error
		FROM pipeline_run
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []common.PipelineRun
	for rows.Next() {
		var run common.PipelineRun
		var finishedAt *time.Time
		var rawCounters []byte
		if err := rows.Scan(&run.ID, &run.Status, &run.StartedAt, &finishedAt, &rawCounters, &run.Error); err != nil {
			return nil, err
		}
		if finishedAt != nil {
			run.FinishedAt = *finishedAt
		}
		if len(rawCounters) > 0 {
			if err := json.Unmarshal(rawCounters, &run.Counters); err != nil {
				return nil, err
			}
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
