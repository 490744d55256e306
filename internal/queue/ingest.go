package queue

import (
	"context"
	"encoding/json"
	"time"

	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/walbarellos/Sentinela/internal/storage"
	"github.com/walbarellos/Sentinela/internal/util"
	"github.com/walbarellos/Sentinela/pkg/common"
	"github.com/walbarellos/Sentinela/pkg/detect"
	"github.com/walbarellos/Sentinela/pkg/evidence"
	"github.com/walbarellos/Sentinela/pkg/leaselock"
	"github.com/walbarellos/Sentinela/pkg/logger"
	"github.com/walbarellos/Sentinela/pkg/pipeline"
	"github.com/walbarellos/Sentinela/pkg/resolve"
	"github.com/walbarellos/Sentinela/pkg/store"
	pgxstore "github.com/walbarellos/Sentinela/pkg/store/pgx"
)

// IngestBatchMsg carries one batch of raw source records into the pipeline.
type IngestBatchMsg struct {
	Message       string                `json:"message"`
	CorrelationID string                `json:"correlation_id"`
	Records       []common.SourceRecord `json:"records"`
}

// pipelineOptions assembles one pipeline configuration from the environment.
// Unset thresholds fall back to the package defaults.
func pipelineOptions(st store.Storage, archiver evidence.Archiver) pipeline.Options {
	return pipeline.Options{
		Store:    st,
		Archiver: archiver,
		Resolve: resolve.Config{
			Acceptance: util.GetEnvNumeric("RESOLVE_ACCEPTANCE", 0),
		},
		Detect: detect.Config{
			OutlierDeviations:     util.GetEnvNumeric("DETECT_OUTLIER_DEVIATIONS", 0),
			MinCohort:             int(util.GetEnvNumeric("DETECT_MIN_COHORT", 0)),
			ConcentrationShare:    util.GetEnvNumeric("DETECT_CONCENTRATION_SHARE", 0),
			ConcentrationCritical: util.GetEnvNumeric("DETECT_CONCENTRATION_CRITICAL", 0),
			BlockTravelMin:        int(util.GetEnvNumeric("DETECT_BLOCK_TRAVEL_MIN", 0)),
			DirectAwardCeiling:    decimal.NewFromFloat(util.GetEnvNumeric("DETECT_DIRECT_AWARD_CEILING", 0)),
		},
		RedactExcerpts: util.GetEnvBool("REDACT_EXCERPTS", true),
	}
}

// ProcessIngestMessage runs one ingest batch through the pipeline under the
// run lease, so concurrent workers never interleave resolution state.
func ProcessIngestMessage(
	ctx context.Context,
	s3Client *awss3.Client,
	conn *pgxpool.Pool,
	msg string,
) error {
	data := new(IngestBatchMsg)
	if err := json.Unmarshal([]byte(msg), data); err != nil {
		return err
	}
	if len(data.Records) == 0 {
		logger.Warn("[Queue] Ingest batch carries no records", "correlation_id", data.CorrelationID)
		return nil
	}

	var archiver evidence.Archiver
	if s3Client != nil {
		archiver = storage.NewRawArchiver(s3Client)
	}

	p := pipeline.New(pipelineOptions(pgxstore.New(conn), archiver))

	locks := leaselock.New(conn)
	return locks.WithLease(ctx, "pipeline_run", leaselock.Options{
		TTL:         5 * time.Minute,
		Wait:        true,
		TokenPrefix: data.CorrelationID + "_",
	}, func(ctx context.Context) error {
		run, err := p.Run(ctx, data.Records)
		if err != nil {
			return err
		}
		logger.Info("[Queue] Ingest batch processed",
			"correlation_id", data.CorrelationID,
			"run_id", run.ID,
			"records", len(data.Records),
			"insights", run.Counters["insights"])
		return nil
	})
}
