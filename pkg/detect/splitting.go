package detect

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/walbarellos/Sentinela/pkg/common"
)

// BidSplitting flags series of contracts that individually stay under the
// direct-award ceiling but together exceed it: the classic fracionamento
// pattern for dodging a public bidding requirement.
type BidSplitting struct{}

func (BidSplitting) Kind() string { return KindBidSplitting }

func (BidSplitting) Detect(ctx context.Context, snap *common.Snapshot, cfg Config) ([]common.Insight, error) {
	type series struct {
		companyID string
		body      string
		year      int
		eventIDs  []string
		total     decimal.Decimal
	}
	byKey := map[string]*series{}

	for i := range snap.Events {
		ev := snap.Events[i]
		if ev.Type != common.KindContract {
			continue
		}
		// At or above the ceiling a bidding process is already required;
		// only under-ceiling contracts can be splitting.
		if ev.Amount.Cmp(cfg.DirectAwardCeiling) >= 0 || ev.Amount.IsZero() {
			continue
		}
		body := ev.Attributes["secretaria"]
		if body == "" {
			continue
		}
		participants := snap.Participants(ev.ID)
		if len(participants) == 0 {
			continue
		}

		key := participants[0] + "|" + body + "|" + strconv.Itoa(ev.OccurredAt.Year())
		s, ok := byKey[key]
		if !ok {
			s = &series{
				companyID: participants[0],
				body:      body,
				year:      ev.OccurredAt.Year(),
				total:     decimal.Zero,
			}
			byKey[key] = s
		}
		s.eventIDs = append(s.eventIDs, ev.ID)
		s.total = s.total.Add(ev.Amount)
	}

	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []common.Insight
	for _, k := range keys {
		s := byKey[k]
		if len(s.eventIDs) < 3 || s.total.Cmp(cfg.DirectAwardCeiling) <= 0 {
			continue
		}

		severity := common.SeverityAlto
		if s.total.Cmp(cfg.DirectAwardCeiling.Mul(decimal.NewFromInt(2))) > 0 {
			severity = common.SeverityCritico
		}
		name := s.companyID
		if e, ok := snap.Entity(s.companyID); ok {
			name = e.DisplayName
		}
		sort.Strings(s.eventIDs)
		out = append(out, common.Insight{
			Kind:       KindBidSplitting,
			Severity:   severity,
			Confidence: clampConfidence(40 + 10*len(s.eventIDs)),
			Exposure:   s.total,
			Title:      fmt.Sprintf("Possível fracionamento: %s", name),
			Description: fmt.Sprintf(
				"%d contratos com %s em %d, todos abaixo do teto de dispensa, somando R$ %s.",
				len(s.eventIDs), s.body, s.year, s.total),
			Pattern:   "sub-ceiling contracts exceeding ceiling in aggregate",
			SampleN:   len(s.eventIDs),
			UnitTotal: cfg.DirectAwardCeiling,
			EntityIDs: []string{s.companyID},
			EventIDs:  s.eventIDs,
		})
	}
	return out, nil
}
