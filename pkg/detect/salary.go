package detect

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/walbarellos/Sentinela/pkg/common"
)

// SalaryOutlier flags payroll amounts far outside their role cohort. It uses
// the median and the median absolute deviation, so a handful of inflated
// salaries cannot drag the baseline up and hide themselves.
type SalaryOutlier struct{}

func (SalaryOutlier) Kind() string { return KindSalaryOutlier }

type salaryObs struct {
	entityID string
	eventID  string
	amount   float64
}

func (SalaryOutlier) Detect(ctx context.Context, snap *common.Snapshot, cfg Config) ([]common.Insight, error) {
	// A cohort is role plus workload, employment regime and competence year.
	// A 40h statutory salary is no baseline for a 20h contractor, and pay
	// scales drift across years.
	type cohortKey struct {
		cargo, ch, vinculo string
		year               int
	}
	cohorts := map[cohortKey][]salaryObs{}
	for i := range snap.Events {
		ev := &snap.Events[i]
		if ev.Type != common.KindPayroll {
			continue
		}
		cargo := ev.Attributes["cargo"]
		if cargo == "" {
			continue
		}
		participants := snap.Participants(ev.ID)
		if len(participants) == 0 {
			continue
		}
		amount, _ := ev.Amount.Float64()
		if amount <= 0 {
			continue
		}
		key := cohortKey{
			cargo:   cargo,
			ch:      ev.Attributes["ch"],
			vinculo: ev.Attributes["vinculo"],
			year:    ev.OccurredAt.Year(),
		}
		cohorts[key] = append(cohorts[key], salaryObs{
			entityID: participants[0],
			eventID:  ev.ID,
			amount:   amount,
		})
	}

	keys := make([]cohortKey, 0, len(cohorts))
	for key := range cohorts {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.cargo != b.cargo {
			return a.cargo < b.cargo
		}
		if a.ch != b.ch {
			return a.ch < b.ch
		}
		if a.vinculo != b.vinculo {
			return a.vinculo < b.vinculo
		}
		return a.year < b.year
	})

	var out []common.Insight
	for _, key := range keys {
		cargo := key.cargo
		obs := cohorts[key]
		if len(obs) < cfg.MinCohort {
			continue
		}

		amounts := make([]float64, len(obs))
		for i, o := range obs {
			amounts[i] = o.amount
		}
		med := median(amounts)
		mad := medianAbsoluteDeviation(amounts, med)
		if mad == 0 {
			continue
		}

		for _, o := range obs {
			z := 0.6745 * math.Abs(o.amount-med) / mad
			if z < cfg.OutlierDeviations {
				continue
			}

			severity := common.SeverityAlto
			if z >= 2*cfg.OutlierDeviations {
				severity = common.SeverityCritico
			}
			name := o.entityID
			if e, ok := snap.Entity(o.entityID); ok {
				name = e.DisplayName
			}
			out = append(out, common.Insight{
				Kind:       KindSalaryOutlier,
				Severity:   severity,
				Confidence: clampConfidence(30 + 2*len(obs)),
				Exposure:   decimal.NewFromFloat(o.amount - med),
				Title:      fmt.Sprintf("Salário fora da curva: %s", name),
				Description: fmt.Sprintf(
					"Pagamento de R$ %.2f para o cargo %q, mediana da coorte R$ %.2f (desvio robusto %.1f, coorte de %d).",
					o.amount, cargo, med, z, len(obs)),
				Pattern:   "amount >> cohort median",
				SampleN:   len(obs),
				UnitTotal: decimal.NewFromFloat(med),
				EntityIDs: []string{o.entityID},
				EventIDs:  []string{o.eventID},
			})
		}
	}
	return out, nil
}

func median(values []float64) float64 {
	s := append([]float64(nil), values...)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

func medianAbsoluteDeviation(values []float64, med float64) float64 {
	devs := make([]float64, len(values))
	for i, v := range values {
		devs[i] = math.Abs(v - med)
	}
	return median(devs)
}
