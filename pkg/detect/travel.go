package detect

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/walbarellos/Sentinela/pkg/common"
)

// BlockTravel flags groups of travelers moving together: the same
// destination over overlapping dates, with recurrence across months raising
// the severity.
type BlockTravel struct{}

func (BlockTravel) Kind() string { return KindBlockTravel }

type trip struct {
	entityID string
	event    common.Event
	from, to time.Time
}

func (BlockTravel) Detect(ctx context.Context, snap *common.Snapshot, cfg Config) ([]common.Insight, error) {
	byDest := map[string][]trip{}
	for i := range snap.Events {
		ev := snap.Events[i]
		if ev.Type != common.KindTravel {
			continue
		}
		dest := ev.Attributes["destino"]
		if dest == "" {
			continue
		}
		participants := snap.Participants(ev.ID)
		if len(participants) == 0 {
			continue
		}
		to := ev.OccurredTo
		if to.IsZero() {
			to = ev.OccurredAt
		}
		byDest[dest] = append(byDest[dest], trip{
			entityID: participants[0],
			event:    ev,
			from:     ev.OccurredAt,
			to:       to,
		})
	}

	// One occurrence is a cluster of overlapping trips with enough distinct
	// travelers; the same group showing up again becomes recurrence.
	type groupState struct {
		dest        string
		entityIDs   []string
		eventIDs    []string
		occurrences int
		exposure    decimal.Decimal
	}
	groups := map[string]*groupState{}

	dests := make([]string, 0, len(byDest))
	for d := range byDest {
		dests = append(dests, d)
	}
	sort.Strings(dests)

	for _, dest := range dests {
		trips := byDest[dest]
		sort.Slice(trips, func(i, j int) bool {
			if !trips[i].from.Equal(trips[j].from) {
				return trips[i].from.Before(trips[j].from)
			}
			return trips[i].event.ID < trips[j].event.ID
		})

		var cluster []trip
		var clusterEnd time.Time
		flush := func() {
			defer func() { cluster = nil }()
			entitySet := map[string]bool{}
			for _, t := range cluster {
				entitySet[t.entityID] = true
			}
			if len(entitySet) < cfg.BlockTravelMin {
				return
			}

			ids := make([]string, 0, len(entitySet))
			for id := range entitySet {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			key := dest + "|" + strings.Join(ids, ",")

			g, ok := groups[key]
			if !ok {
				g = &groupState{dest: dest, entityIDs: ids, exposure: decimal.Zero}
				groups[key] = g
			}
			g.occurrences++
			for _, t := range cluster {
				g.eventIDs = append(g.eventIDs, t.event.ID)
				g.exposure = g.exposure.Add(t.event.Amount)
			}
		}

		for _, t := range trips {
			if len(cluster) > 0 && t.from.After(clusterEnd) {
				flush()
			}
			cluster = append(cluster, t)
			if len(cluster) == 1 || t.to.After(clusterEnd) {
				clusterEnd = t.to
			}
		}
		flush()
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []common.Insight
	for _, k := range keys {
		g := groups[k]
		severity := common.SeverityMedio
		if g.occurrences >= 2 {
			severity = common.SeverityAlto
		}
		out = append(out, common.Insight{
			Kind:       KindBlockTravel,
			Severity:   severity,
			Confidence: clampConfidence(40 + 10*len(g.entityIDs) + 10*(g.occurrences-1)),
			Exposure:   g.exposure,
			Title:      fmt.Sprintf("Viagens em bloco para %s", g.dest),
			Description: fmt.Sprintf(
				"%d servidores viajaram juntos para %s em %d ocasião(ões) com datas sobrepostas.",
				len(g.entityIDs), g.dest, g.occurrences),
			Pattern:   "overlapping trips, same destination",
			SampleN:   g.occurrences,
			EntityIDs: g.entityIDs,
			EventIDs:  g.eventIDs,
			EdgeIDs:   coTravelEdges(snap, g.entityIDs),
		})
	}
	return out, nil
}

// coTravelEdges collects the CO_TRAVEL edges among a traveler group so the
// finding's evidence has to cover them too.
func coTravelEdges(snap *common.Snapshot, entityIDs []string) []string {
	in := map[string]bool{}
	for _, id := range entityIDs {
		in[id] = true
	}
	var out []string
	for i := range snap.Edges {
		e := &snap.Edges[i]
		if e.Type == common.EdgeCoTravel && in[e.SourceID] && in[e.TargetID] {
			out = append(out, e.ID)
		}
	}
	sort.Strings(out)
	return out
}

// WeekendTravel flags paid trips whose window touches a weekend, a weak
// signal on its own but cheap to corroborate against block travel.
type WeekendTravel struct{}

func (WeekendTravel) Kind() string { return KindWeekendTravel }

func (WeekendTravel) Detect(ctx context.Context, snap *common.Snapshot, cfg Config) ([]common.Insight, error) {
	type stat struct {
		eventIDs []string
		exposure decimal.Decimal
	}
	byEntity := map[string]*stat{}

	for i := range snap.Events {
		ev := snap.Events[i]
		if ev.Type != common.KindTravel || !touchesWeekend(ev.OccurredAt, ev.OccurredTo) {
			continue
		}
		participants := snap.Participants(ev.ID)
		if len(participants) == 0 {
			continue
		}
		s, ok := byEntity[participants[0]]
		if !ok {
			s = &stat{exposure: decimal.Zero}
			byEntity[participants[0]] = s
		}
		s.eventIDs = append(s.eventIDs, ev.ID)
		s.exposure = s.exposure.Add(ev.Amount)
	}

	ids := make([]string, 0, len(byEntity))
	for id := range byEntity {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []common.Insight
	for _, id := range ids {
		s := byEntity[id]
		name := id
		if e, ok := snap.Entity(id); ok {
			name = e.DisplayName
		}
		sort.Strings(s.eventIDs)
		out = append(out, common.Insight{
			Kind:       KindWeekendTravel,
			Severity:   common.SeverityMedio,
			Confidence: 60,
			Exposure:   s.exposure,
			Title:      fmt.Sprintf("Viagens em fim de semana: %s", name),
			Description: fmt.Sprintf(
				"%d viagem(ns) custeadas com período sobre fim de semana.", len(s.eventIDs)),
			Pattern:   "trip window includes weekend",
			SampleN:   len(s.eventIDs),
			EntityIDs: []string{id},
			EventIDs:  s.eventIDs,
		})
	}
	return out, nil
}

func touchesWeekend(from, to time.Time) bool {
	if from.IsZero() {
		return false
	}
	if to.IsZero() || to.Before(from) {
		to = from
	}
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
			return true
		}
	}
	return false
}
