package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/walbarellos/Sentinela/pkg/leaselock"
	"github.com/walbarellos/Sentinela/pkg/logger"
	"github.com/walbarellos/Sentinela/pkg/pipeline"
	pgxstore "github.com/walbarellos/Sentinela/pkg/store/pgx"
)

// DetectRunMsg triggers a detector-only pass over the stored graph, without
// ingesting new records.
type DetectRunMsg struct {
	Message       string `json:"message"`
	CorrelationID string `json:"correlation_id"`
}

// ProcessDetectMessage re-runs the detector suite under the run lease so it
// never overlaps an ingest batch.
func ProcessDetectMessage(
	ctx context.Context,
	conn *pgxpool.Pool,
	msg string,
) error {
	data := new(DetectRunMsg)
	if err := json.Unmarshal([]byte(msg), data); err != nil {
		return err
	}

	p := pipeline.New(pipelineOptions(pgxstore.New(conn), nil))

	locks := leaselock.New(conn)
	return locks.WithLease(ctx, "pipeline_run", leaselock.Options{
		TTL:         5 * time.Minute,
		Wait:        true,
		TokenPrefix: data.CorrelationID + "_",
	}, func(ctx context.Context) error {
		run, err := p.RunDetectors(ctx)
		if err != nil {
			return err
		}
		logger.Info("[Queue] Detector run processed",
			"correlation_id", data.CorrelationID,
			"run_id", run.ID,
			"insights", run.Counters["insights"])
		return nil
	})
}
