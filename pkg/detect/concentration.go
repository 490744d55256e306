package detect

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/walbarellos/Sentinela/pkg/common"
)

// MarketConcentration flags suppliers holding an outsized share of one
// body's contracted volume, computed from the CONTRACT_AWARD edges. A
// supplier dominating several bodies at once is escalated: a repeated
// monopoly across buyers is a stronger signal than one skewed market.
type MarketConcentration struct{}

func (MarketConcentration) Kind() string { return KindMarketConcentration }

type awardStat struct {
	edge      common.Edge
	companyID string
	total     decimal.Decimal
	contracts int
}

type concentrated struct {
	stat      awardStat
	bodyID    string
	bodyTotal decimal.Decimal
	share     float64
}

func (MarketConcentration) Detect(ctx context.Context, snap *common.Snapshot, cfg Config) ([]common.Insight, error) {
	byBody := map[string][]awardStat{}
	for i := range snap.Edges {
		e := snap.Edges[i]
		if e.Type != common.EdgeContractAward {
			continue
		}
		// The edge weight carries the summed contract value for the pair,
		// the contract count rides in the attributes.
		if e.Weight.IsZero() {
			continue
		}
		contracts, _ := strconv.Atoi(e.Attributes["contratos"])
		byBody[e.TargetID] = append(byBody[e.TargetID], awardStat{
			edge:      e,
			companyID: e.SourceID,
			total:     e.Weight,
			contracts: contracts,
		})
	}

	bodies := make([]string, 0, len(byBody))
	for id := range byBody {
		bodies = append(bodies, id)
	}
	sort.Strings(bodies)

	var flagged []concentrated
	bodiesPerCompany := map[string]int{}
	for _, bodyID := range bodies {
		stats := byBody[bodyID]

		bodyTotal := decimal.Zero
		bodyContracts := 0
		for _, s := range stats {
			bodyTotal = bodyTotal.Add(s.total)
			bodyContracts += s.contracts
		}
		// A body with a single tiny contract volume is not a market.
		if bodyContracts < 3 || bodyTotal.IsZero() {
			continue
		}

		sort.Slice(stats, func(i, j int) bool { return stats[i].companyID < stats[j].companyID })
		for _, s := range stats {
			share, _ := s.total.Div(bodyTotal).Float64()
			if share <= cfg.ConcentrationShare {
				continue
			}
			flagged = append(flagged, concentrated{stat: s, bodyID: bodyID, bodyTotal: bodyTotal, share: share})
			bodiesPerCompany[s.companyID]++
		}
	}

	var out []common.Insight
	for _, c := range flagged {
		s := c.stat
		repeated := bodiesPerCompany[s.companyID]

		severity := common.SeverityAlto
		if c.share > cfg.ConcentrationCritical || repeated >= 2 {
			severity = common.SeverityCritico
		}
		companyName, bodyName := s.companyID, c.bodyID
		if e, ok := snap.Entity(s.companyID); ok {
			companyName = e.DisplayName
		}
		if e, ok := snap.Entity(c.bodyID); ok {
			bodyName = e.DisplayName
		}
		description := fmt.Sprintf(
			"%s detém %.0f%% do volume contratado por %s (%d contratos, R$ %s de R$ %s).",
			companyName, c.share*100, bodyName, s.contracts, s.total, c.bodyTotal)
		if repeated >= 2 {
			description += fmt.Sprintf(" Padrão repetido em %d órgãos.", repeated)
		}
		out = append(out, common.Insight{
			Kind:        KindMarketConcentration,
			Severity:    severity,
			Confidence:  clampConfidence(int(50 + c.share*40 + float64(10*(repeated-1)))),
			Exposure:    s.total,
			Title:       fmt.Sprintf("Concentração de mercado: %s", companyName),
			Description: description,
			Pattern:     "supplier share > threshold",
			SampleN:     s.contracts,
			UnitTotal:   c.bodyTotal,
			EntityIDs:   []string{s.companyID, c.bodyID},
			EdgeIDs:     []string{s.edge.ID},
		})
	}
	return out, nil
}
