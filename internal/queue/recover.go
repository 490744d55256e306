package queue

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/walbarellos/Sentinela/pkg/logger"
)

// RecoverStaleRuns marks pipeline runs that have been sitting in "running"
// past the lease TTL as failed. A worker that died mid-run leaves such a row
// behind; the stages it committed are intact, the next batch picks up from
// there.
func RecoverStaleRuns(ctx context.Context, conn *pgxpool.Pool, olderThan time.Duration) error {
	tag, err := conn.Exec(ctx, `
		UPDATE pipeline_run
		SET status = 'failed',
		    finished_at = now(),
		    error = 'stale run recovered on worker start'
		WHERE status = 'running' AND started_at < now() - make_interval(secs => $1)`,
		olderThan.Seconds())
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		logger.Info("[Queue] Recovered stale runs", "count", tag.RowsAffected())
	} else {
		logger.Debug("[Queue] No stale runs found")
	}
	return nil
}
