// Package detect runs anomaly detectors over a resolved graph snapshot.
// Detectors are independent: they share the read-only snapshot, run
// concurrently and one failing detector never blocks the others.
package detect

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/walbarellos/Sentinela/pkg/common"
	"github.com/walbarellos/Sentinela/pkg/logger"
)

// Detector kinds, also the insight kinds they emit.
const (
	KindSalaryOutlier       = "salary_outlier"
	KindMarketConcentration = "market_concentration"
	KindBlockTravel         = "block_travel"
	KindCrossRegimeIdentity = "cross_regime_identity"
	KindBidSplitting        = "bid_splitting"
	KindWeekendTravel       = "weekend_travel"
)

// Config carries detector thresholds. Zero values fall back to defaults.
type Config struct {
	// OutlierDeviations is the robust z-score a salary must exceed.
	OutlierDeviations float64
	// MinCohort is the smallest role cohort worth testing for outliers.
	MinCohort int
	// ConcentrationShare flags a supplier above this share of a body's
	// contracted volume; ConcentrationCritical escalates to CRITICO.
	ConcentrationShare    float64
	ConcentrationCritical float64
	// BlockTravelMin is the minimum travelers sharing a window.
	BlockTravelMin int
	// DirectAwardCeiling is the statutory no-bid contract limit.
	DirectAwardCeiling decimal.Decimal
}

func (c Config) withDefaults() Config {
	if c.OutlierDeviations <= 0 {
		c.OutlierDeviations = 3.5
	}
	if c.MinCohort <= 0 {
		c.MinCohort = 5
	}
	if c.ConcentrationShare <= 0 {
		c.ConcentrationShare = 0.35
	}
	if c.ConcentrationCritical <= 0 {
		c.ConcentrationCritical = 0.50
	}
	if c.BlockTravelMin <= 0 {
		c.BlockTravelMin = 3
	}
	if c.DirectAwardCeiling.IsZero() {
		c.DirectAwardCeiling = decimal.RequireFromString("57278.16")
	}
	return c
}

// Detector is one anomaly rule over the snapshot.
type Detector interface {
	Kind() string
	Detect(ctx context.Context, snap *common.Snapshot, cfg Config) ([]common.Insight, error)
}

// Registry returns every built-in detector in a stable order.
func Registry() []Detector {
	return []Detector{
		SalaryOutlier{},
		MarketConcentration{},
		BlockTravel{},
		CrossRegimeIdentity{},
		BidSplitting{},
		WeekendTravel{},
	}
}

// Run fans the detectors out over the snapshot. Detector errors are logged
// and returned per kind; they never abort the sweep. Insights come back in
// registry order so output is stable across runs.
func Run(ctx context.Context, snap *common.Snapshot, detectors []Detector, cfg Config) ([]common.Insight, map[string]error) {
	cfg = cfg.withDefaults()

	results := make([][]common.Insight, len(detectors))
	failures := map[string]error{}
	var mu sync.Mutex

	eg, ectx := errgroup.WithContext(ctx)
	for i, d := range detectors {
		i, d := i, d
		eg.Go(func() error {
			insights, err := d.Detect(ectx, snap, cfg)
			if err != nil {
				logger.Error("[Detect] Detector failed", "kind", d.Kind(), "error", err)
				mu.Lock()
				failures[d.Kind()] = err
				mu.Unlock()
				return nil
			}
			logger.Info("[Detect] Detector finished", "kind", d.Kind(), "insights", len(insights))
			results[i] = insights
			return nil
		})
	}
	_ = eg.Wait()

	var out []common.Insight
	for _, r := range results {
		out = append(out, r...)
	}
	return out, failures
}

func clampConfidence(v int) int {
	if v < 0 {
		return 0
	}
	if v > 95 {
		return 95
	}
	return v
}
