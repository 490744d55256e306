// Package graph materializes events and derives typed edges. Build turns one
// batch of resolutions into events that carry their resolved endpoints as
// attributes; Derive recomputes the full edge set from every stored event, so
// an incremental batch never loses relationships written by earlier batches
// and edges re-point to the surviving entity after a merge. Edges are never
// hand-authored; every edge id is derived from its rule and endpoints, so
// rederiving the same events produces byte-identical output.
package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/walbarellos/Sentinela/pkg/common"
	"github.com/walbarellos/Sentinela/pkg/logger"
	"github.com/walbarellos/Sentinela/pkg/resolve"
)

// Event attribute keys recording the resolved endpoints a row referenced.
// Derive reads them back when it rebuilds the edges.
const (
	AttrEntityID  = "entity_id"
	AttrBodyID    = "body_id"
	AttrPartnerID = "partner_id"
)

// Input couples one resolution with the supporting entities the edge rules
// need: the employing or awarding body and, for corporate-registry rows, the
// resolved partner.
type Input struct {
	Resolution resolve.Resolution
	BodyID     string
	PartnerID  string
}

// Result is one graph build or derivation. Skipped collects the construction
// inconsistencies that were logged and dropped without aborting the pass.
type Result struct {
	Events  []common.Event
	Edges   []common.Edge
	Skipped []error
}

// EventID derives the event id from the source record's content hash.
func EventID(rec common.Record) string {
	return "evt_" + rec.SourceHash[:20]
}

// EdgeID derives the edge id from the rule and its endpoints.
func EdgeID(edgeType common.EdgeType, sourceID, targetID string) string {
	h := sha256.Sum256([]byte(string(edgeType) + "|" + sourceID + "|" + targetID))
	return "edg_" + hex.EncodeToString(h[:])[:20]
}

// Build materializes the batch's events. Inputs referencing a missing entity
// are skipped and reported in Result.Skipped; one bad row never poisons the
// batch.
func Build(inputs []Input) Result {
	b := builder{
		events: map[string]common.Event{},
		edges:  map[string]common.Edge{},
	}

	for _, in := range inputs {
		if in.Resolution.EntityID == "" {
			err := &common.ConstructionInconsistencyError{
				EdgeType:   common.EdgeParticipant,
				MissingRef: "entity for " + in.Resolution.Record.SourceHash[:12],
			}
			logger.Warn("[Graph] Skipping inconsistent input", "error", err)
			b.skipped = append(b.skipped, err)
			continue
		}
		b.addEvent(in)
	}

	return b.result()
}

// Derive runs every edge rule over the stored events. Entity references
// resolve through the snapshot's merge log, so each derivation yields the
// complete, current edge set for the whole corpus.
func Derive(snap *common.Snapshot) Result {
	b := builder{
		events: map[string]common.Event{},
		edges:  map[string]common.Edge{},
	}

	var travels []trip
	for i := range snap.Events {
		ev := snap.Events[i]
		actor := canonicalRef(snap, ev.Attributes[AttrEntityID])
		if actor == "" {
			err := &common.ConstructionInconsistencyError{
				EdgeType:   common.EdgeParticipant,
				MissingRef: "entity for " + ev.ID,
			}
			logger.Warn("[Graph] Skipping event without resolved actor", "error", err)
			b.skipped = append(b.skipped, err)
			continue
		}

		b.putEdge(common.Edge{
			ID:            EdgeID(common.EdgeParticipant, actor, ev.ID),
			Type:          common.EdgeParticipant,
			SourceID:      actor,
			TargetID:      ev.ID,
			TargetIsEvent: true,
			Weight:        decimal.NewFromInt(1),
		})

		body := canonicalRef(snap, ev.Attributes[AttrBodyID])
		switch ev.Type {
		case common.KindPayroll:
			b.addEmployment(actor, body, ev)
		case common.KindContract:
			b.addAward(actor, body, ev)
		case common.KindTravel:
			travels = append(travels, trip{entityID: actor, event: ev})
		case common.KindCompany:
			b.addOwnership(canonicalRef(snap, ev.Attributes[AttrPartnerID]), actor, ev)
		}
	}
	b.addCoTravel(travels)

	return b.result()
}

func canonicalRef(snap *common.Snapshot, id string) string {
	if id == "" {
		return ""
	}
	return snap.Canonical(id)
}

type builder struct {
	events  map[string]common.Event
	edges   map[string]common.Edge
	skipped []error
}

// addEvent materializes the record's event. The resolved endpoints land in
// the attributes so the edge rules can rerun from storage alone.
func (b *builder) addEvent(in Input) {
	rec := in.Resolution.Record
	id := EventID(rec)
	if _, ok := b.events[id]; ok {
		return
	}

	attrs := map[string]string{
		"source":     rec.Source,
		AttrEntityID: in.Resolution.EntityID,
	}
	if in.BodyID != "" {
		attrs[AttrBodyID] = in.BodyID
	}
	if in.PartnerID != "" {
		attrs[AttrPartnerID] = in.PartnerID
	}
	for _, k := range []string{"destino", "secretaria", "cargo", "ch", "vinculo", "objeto", "motivo", "qualificacao"} {
		if v, ok := rec.Attrs[k]; ok {
			attrs[k] = v
		}
	}
	b.events[id] = common.Event{
		ID:         id,
		Type:       rec.Kind,
		OccurredAt: rec.OccurredAt,
		OccurredTo: rec.OccurredTo,
		Amount:     rec.Amount,
		Title:      rec.Title,
		Attributes: attrs,
	}
}

func (b *builder) addEmployment(actor, body string, ev common.Event) {
	if body == "" {
		return
	}
	edge := common.Edge{
		ID:         EdgeID(common.EdgeEmployment, actor, body),
		Type:       common.EdgeEmployment,
		SourceID:   actor,
		TargetID:   body,
		Weight:     decimal.NewFromInt(1),
		Attributes: map[string]string{},
	}
	if cargo, ok := ev.Attributes["cargo"]; ok {
		edge.Attributes["cargo"] = cargo
	}
	if vinculo, ok := ev.Attributes["vinculo"]; ok {
		edge.Attributes["vinculo"] = vinculo
	}
	b.mergeEdge(edge)
}

// addAward accumulates the awarded amounts on the (company, body) edge: the
// weight is the total contracted volume between the pair, the contract count
// rides in the attributes.
func (b *builder) addAward(actor, body string, ev common.Event) {
	if body == "" {
		return
	}
	id := EdgeID(common.EdgeContractAward, actor, body)
	existing, ok := b.edges[id]
	if !ok {
		b.edges[id] = common.Edge{
			ID:         id,
			Type:       common.EdgeContractAward,
			SourceID:   actor,
			TargetID:   body,
			Weight:     ev.Amount,
			Attributes: map[string]string{"contratos": "1"},
		}
		return
	}
	existing.Weight = existing.Weight.Add(ev.Amount)
	n, _ := strconv.Atoi(existing.Attributes["contratos"])
	existing.Attributes["contratos"] = strconv.Itoa(n + 1)
	b.edges[id] = existing
}

func (b *builder) addOwnership(partner, company string, ev common.Event) {
	if partner == "" {
		return
	}
	edge := common.Edge{
		ID:         EdgeID(common.EdgeOwnership, partner, company),
		Type:       common.EdgeOwnership,
		SourceID:   partner,
		TargetID:   company,
		Weight:     decimal.NewFromInt(1),
		Attributes: map[string]string{},
	}
	if q, ok := ev.Attributes["qualificacao"]; ok {
		edge.Attributes["qualificacao"] = q
	}
	b.mergeEdge(edge)
}

type trip struct {
	entityID string
	event    common.Event
}

// addCoTravel links pairs of travelers with trips to the same destination
// over overlapping dates. The edge weight counts the shared trips.
// Destinations are walked in sorted order so the derived rows do not depend
// on map iteration.
func (b *builder) addCoTravel(travels []trip) {
	byDest := map[string][]trip{}
	for _, t := range travels {
		dest := t.event.Attributes["destino"]
		if dest == "" {
			continue
		}
		byDest[dest] = append(byDest[dest], t)
	}

	dests := make([]string, 0, len(byDest))
	for d := range byDest {
		dests = append(dests, d)
	}
	sort.Strings(dests)

	for _, dest := range dests {
		group := byDest[dest]
		sort.Slice(group, func(i, j int) bool { return group[i].event.ID < group[j].event.ID })
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				a, c := group[i], group[j]
				if a.entityID == c.entityID {
					continue
				}
				if !windowsOverlap(a.event, c.event) {
					continue
				}
				src, dst := a.entityID, c.entityID
				if src > dst {
					src, dst = dst, src
				}
				id := EdgeID(common.EdgeCoTravel, src, dst)
				if existing, ok := b.edges[id]; ok {
					existing.Weight = existing.Weight.Add(decimal.NewFromInt(1))
					b.edges[id] = existing
					continue
				}
				b.edges[id] = common.Edge{
					ID:         id,
					Type:       common.EdgeCoTravel,
					SourceID:   src,
					TargetID:   dst,
					Weight:     decimal.NewFromInt(1),
					Attributes: map[string]string{"destino": dest},
				}
			}
		}
	}
}

func windowsOverlap(a, c common.Event) bool {
	aEnd, cEnd := a.OccurredTo, c.OccurredTo
	if aEnd.IsZero() {
		aEnd = a.OccurredAt
	}
	if cEnd.IsZero() {
		cEnd = c.OccurredAt
	}
	return !a.OccurredAt.After(cEnd) && !c.OccurredAt.After(aEnd)
}

func (b *builder) putEdge(e common.Edge) {
	b.edges[e.ID] = e
}

// mergeEdge inserts or folds into an existing derived edge: repeat sightings
// bump the weight, first-seen attributes stick.
func (b *builder) mergeEdge(e common.Edge) {
	existing, ok := b.edges[e.ID]
	if !ok {
		b.edges[e.ID] = e
		return
	}
	existing.Weight = existing.Weight.Add(decimal.NewFromInt(1))
	for k, v := range e.Attributes {
		if _, ok := existing.Attributes[k]; !ok {
			existing.Attributes[k] = v
		}
	}
	b.edges[e.ID] = existing
}

func (b *builder) result() Result {
	res := Result{Skipped: b.skipped}
	for _, ev := range b.events {
		res.Events = append(res.Events, ev)
	}
	sort.Slice(res.Events, func(i, j int) bool { return res.Events[i].ID < res.Events[j].ID })
	for _, e := range b.edges {
		res.Edges = append(res.Edges, e)
	}
	sort.Slice(res.Edges, func(i, j int) bool { return res.Edges[i].ID < res.Edges[j].ID })
	return res
}
