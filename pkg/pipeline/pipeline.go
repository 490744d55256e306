// Package pipeline sequences the processing stages: normalize, resolve,
// build graph, detect, persist findings. Each stage commits atomically
// through the store; a failed stage fails the run and leaves everything the
// previous stage wrote intact.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/walbarellos/Sentinela/pkg/common"
	"github.com/walbarellos/Sentinela/pkg/detect"
	"github.com/walbarellos/Sentinela/pkg/evidence"
	"github.com/walbarellos/Sentinela/pkg/graph"
	"github.com/walbarellos/Sentinela/pkg/logger"
	"github.com/walbarellos/Sentinela/pkg/normalize"
	"github.com/walbarellos/Sentinela/pkg/resolve"
	"github.com/walbarellos/Sentinela/pkg/store"
)

// Options wires one pipeline instance. Archiver may be nil.
type Options struct {
	Store     store.Storage
	Archiver  evidence.Archiver
	Resolve   resolve.Config
	Detect    detect.Config
	Detectors []detect.Detector
	// RedactExcerpts controls non-document excerpt fields; document
	// numbers are masked regardless.
	RedactExcerpts bool
}

type Pipeline struct {
	opts Options
}

func New(opts Options) *Pipeline {
	if opts.Detectors == nil {
		opts.Detectors = detect.Registry()
	}
	return &Pipeline{opts: opts}
}

// Run processes one batch of raw records end to end and returns the final
// run record with its counters.
func (p *Pipeline) Run(ctx context.Context, sources []common.SourceRecord) (common.PipelineRun, error) {
	runID, err := gonanoid.New()
	if err != nil {
		return common.PipelineRun{}, err
	}
	run := common.PipelineRun{
		ID:        "run_" + runID,
		Status:    common.RunRunning,
		StartedAt: time.Now(),
		Counters:  map[string]int{},
	}
	if err := p.opts.Store.StartRun(ctx, run); err != nil {
		return run, err
	}
	logger.Info("[Pipeline] Run started", "run_id", run.ID, "records", len(sources))

	err = p.process(ctx, &run, sources)
	run.FinishedAt = time.Now()
	if err != nil {
		run.Status = common.RunFailed
		run.Error = err.Error()
		logger.Error("[Pipeline] Run failed", "run_id", run.ID, "error", err)
	} else {
		run.Status = common.RunSucceeded
		logger.Info("[Pipeline] Run finished", "run_id", run.ID,
			"entities", run.Counters["entities_new"], "insights", run.Counters["insights"])
	}
	if finishErr := p.opts.Store.FinishRun(ctx, run); finishErr != nil && err == nil {
		err = finishErr
	}
	return run, err
}

// RunDetectors re-runs the detector suite over the stored graph without
// ingesting new records. Findings are backed by the evidence earlier runs
// linked to the entities, events and edges they rest on.
func (p *Pipeline) RunDetectors(ctx context.Context) (common.PipelineRun, error) {
	runID, err := gonanoid.New()
	if err != nil {
		return common.PipelineRun{}, err
	}
	run := common.PipelineRun{
		ID:        "run_" + runID,
		Status:    common.RunRunning,
		StartedAt: time.Now(),
		Counters:  map[string]int{},
	}
	if err := p.opts.Store.StartRun(ctx, run); err != nil {
		return run, err
	}
	logger.Info("[Pipeline] Detector run started", "run_id", run.ID)

	err = p.detectOnly(ctx, &run)
	run.FinishedAt = time.Now()
	if err != nil {
		run.Status = common.RunFailed
		run.Error = err.Error()
		logger.Error("[Pipeline] Detector run failed", "run_id", run.ID, "error", err)
	} else {
		run.Status = common.RunSucceeded
		logger.Info("[Pipeline] Detector run finished", "run_id", run.ID,
			"insights", run.Counters["insights"])
	}
	if finishErr := p.opts.Store.FinishRun(ctx, run); finishErr != nil && err == nil {
		err = finishErr
	}
	return run, err
}

func (p *Pipeline) detectOnly(ctx context.Context, run *common.PipelineRun) error {
	snap, err := p.opts.Store.Snapshot(ctx)
	if err != nil {
		return err
	}
	insights, failures := detect.Run(ctx, snap, p.opts.Detectors, p.opts.Detect)
	run.Counters["detectors_failed"] = len(failures)
	run.Counters["insights_detected"] = len(insights)

	linker := evidence.NewLinker()
	var persistable []common.Insight
	for i := range insights {
		in := insights[i]
		in.RunID = run.ID
		in.CreatedAt = time.Now()
		in.ID = insightID(run.ID, &in)

		if err := p.relinkStored(ctx, linker, snap, &in); err != nil {
			return err
		}
		if !fullyCovered(linker, in) {
			logger.Error("[Pipeline] Withholding finding without evidence",
				"kind", in.Kind, "insight_id", in.ID)
			run.Counters["insights_withheld"]++
			continue
		}
		in.Sources = linker.SourcesFor("insight", in.ID)
		persistable = append(persistable, in)
	}
	run.Counters["insights"] = len(persistable)

	if err := linker.Validate(persistable); err != nil {
		return err
	}
	return p.opts.Store.SaveFindings(ctx, persistable, linker.Evidence(), linker.Links())
}

// relinkStored attaches stored evidence to one re-detected finding.
func (p *Pipeline) relinkStored(ctx context.Context, linker *evidence.Linker, snap *common.Snapshot, in *common.Insight) error {
	attach := func(refKind, refID, role string) error {
		evs, err := p.opts.Store.EvidenceForRef(ctx, refKind, refID)
		if err != nil {
			return err
		}
		for _, ev := range evs {
			linker.Add(ev, "insight", in.ID, role)
		}
		return nil
	}
	for _, id := range in.EventIDs {
		if err := attach("event", id, evidence.RoleSourceRecord); err != nil {
			return err
		}
	}
	for _, id := range in.EntityIDs {
		if err := attach("entity", id, evidence.RoleSupports); err != nil {
			return err
		}
	}
	for _, edgeID := range in.EdgeIDs {
		evs, err := p.opts.Store.EvidenceForRef(ctx, "edge", edgeID)
		if err != nil {
			return err
		}
		if len(evs) == 0 {
			evs, err = p.storedEdgeEndpointEvidence(ctx, snap, edgeID)
			if err != nil {
				return err
			}
		}
		for _, ev := range evs {
			linker.Add(ev, "edge", edgeID, evidence.RoleSupports)
		}
	}
	return nil
}

// storedEdgeEndpointEvidence falls back through an uncovered edge's
// endpoints: the event target's record, else either entity's.
func (p *Pipeline) storedEdgeEndpointEvidence(ctx context.Context, snap *common.Snapshot, edgeID string) ([]common.Evidence, error) {
	for i := range snap.Edges {
		e := &snap.Edges[i]
		if e.ID != edgeID {
			continue
		}
		refs := [][2]string{{"entity", e.SourceID}}
		if e.TargetIsEvent {
			refs = append([][2]string{{"event", e.TargetID}}, refs...)
		} else {
			refs = append(refs, [2]string{"entity", e.TargetID})
		}
		for _, ref := range refs {
			evs, err := p.opts.Store.EvidenceForRef(ctx, ref[0], ref[1])
			if err != nil {
				return nil, err
			}
			if len(evs) > 0 {
				return evs, nil
			}
		}
		return nil, nil
	}
	return nil, nil
}

func (p *Pipeline) process(ctx context.Context, run *common.PipelineRun, sources []common.SourceRecord) error {
	// Stage 1: normalize. Malformed rows are dropped and counted, never
	// fatal.
	type normalized struct {
		src common.SourceRecord
		rec common.Record
	}
	var records []normalized
	for _, src := range sources {
		rec, err := normalize.Record(src)
		if err != nil {
			var malformed *common.MalformedRecordError
			if errors.As(err, &malformed) {
				logger.Warn("[Pipeline] Dropping malformed record",
					"source", malformed.Source, "kind", malformed.Kind, "field", malformed.Field)
				run.Counters["records_malformed"]++
				continue
			}
			return err
		}
		records = append(records, normalized{src: src, rec: rec})
	}
	run.Counters["records_normalized"] = len(records)

	// Stage 2: resolve. Ambiguity is precision-biased into new entities.
	state, err := p.opts.Store.LoadResolutionState(ctx)
	if err != nil {
		return err
	}
	resolver := resolve.NewResolver(p.opts.Resolve, state)

	evidenceByEntity := map[string]common.Evidence{}
	var inputs []graph.Input
	for _, n := range records {
		res, err := resolver.Resolve(n.rec, entityTypeFor(n.rec.Kind))
		if err != nil {
			var ambiguous *common.AmbiguousMatchError
			if errors.As(err, &ambiguous) {
				logger.Warn("[Pipeline] Ambiguous match, created provisional entity",
					"name", ambiguous.Name, "best_id", ambiguous.BestID, "confidence", ambiguous.Confidence)
				run.Counters["matches_ambiguous"]++
			}
		}
		if res.CrossRegime {
			run.Counters["matches_cross_regime"]++
		}

		in := graph.Input{Resolution: res}
		if body := n.rec.Attrs["secretaria"]; body != "" {
			in.BodyID = resolver.ResolveBody(normalize.Name(body))
		}
		if partner, ok := normalize.PartnerRecord(n.rec); ok {
			partnerRes, _ := resolver.Resolve(partner, common.EntityPerson)
			in.PartnerID = partnerRes.EntityID
			p.recordEvidence(evidenceByEntity, partnerRes.EntityID, n.src)
		}
		inputs = append(inputs, in)

		p.recordEvidence(evidenceByEntity, res.EntityID, n.src)
		if err := evidence.ArchiveRecord(ctx, p.opts.Archiver, n.src); err != nil {
			logger.Warn("[Pipeline] Raw archive failed", "error", err)
			run.Counters["archive_failures"]++
		}
	}

	batch := resolver.Batch()
	if err := p.opts.Store.CommitResolution(ctx, batch); err != nil {
		return err
	}
	run.Counters["entities_new"] = len(batch.NewEntities)
	run.Counters["entities_enriched"] = len(batch.Enriched)
	run.Counters["entities_merged"] = len(batch.Merges)

	// Stage 3: graph. The batch's events land first, then the edge set is
	// rederived from every stored event: earlier batches keep their
	// relationships and edges re-point to the surviving entity after a merge.
	built := graph.Build(inputs)
	run.Counters["events"] = len(built.Events)
	if err := p.opts.Store.SaveEvents(ctx, built.Events); err != nil {
		return err
	}
	graphSnap, err := p.opts.Store.Snapshot(ctx)
	if err != nil {
		return err
	}
	derived := graph.Derive(graphSnap)
	run.Counters["edges"] = len(derived.Edges)
	run.Counters["edges_skipped"] = len(built.Skipped) + len(derived.Skipped)
	if err := p.opts.Store.ReplaceEdges(ctx, derived.Edges); err != nil {
		return err
	}

	// Stage 4: detect over an immutable snapshot.
	snap, err := p.opts.Store.Snapshot(ctx)
	if err != nil {
		return err
	}
	insights, failures := detect.Run(ctx, snap, p.opts.Detectors, p.opts.Detect)
	run.Counters["detectors_failed"] = len(failures)
	run.Counters["insights_detected"] = len(insights)

	// Stage 5: evidence and persistence. An uncoverable finding fails the
	// whole stage; unauditable output must never land.
	evidenceByEvent := map[string]common.Evidence{}
	for _, n := range records {
		evidenceByEvent[graph.EventID(n.rec)] = evidence.FromRecord(n.src, p.opts.RedactExcerpts)
	}

	linker := evidence.NewLinker()
	// Provenance links by entity and event, so later detector-only runs can
	// re-attach the same evidence to fresh findings.
	for entityID, ev := range evidenceByEntity {
		linker.Add(ev, "entity", entityID, evidence.RoleSourceRecord)
	}
	for eventID, ev := range evidenceByEvent {
		linker.Add(ev, "event", eventID, evidence.RoleSourceRecord)
	}

	var persistable []common.Insight
	for i := range insights {
		in := insights[i]
		in.RunID = run.ID
		in.CreatedAt = time.Now()
		in.ID = insightID(run.ID, &in)

		for _, eventID := range in.EventIDs {
			if ev, ok := evidenceByEvent[eventID]; ok {
				linker.Add(ev, "insight", in.ID, evidence.RoleSourceRecord)
			}
		}
		for _, entityID := range in.EntityIDs {
			if ev, ok := evidenceByEntity[entityID]; ok {
				linker.Add(ev, "insight", in.ID, evidence.RoleSupports)
			}
		}
		for _, edgeID := range in.EdgeIDs {
			p.coverEdge(linker, snap, evidenceByEntity, evidenceByEvent, edgeID)
		}

		// A finding resting on rows from earlier batches re-attaches the
		// evidence those batches stored.
		if !fullyCovered(linker, in) {
			if err := p.relinkStored(ctx, linker, snap, &in); err != nil {
				return err
			}
		}

		// An uncoverable finding is fatal for that finding: it is logged
		// and withheld, never stored unauditable.
		if !fullyCovered(linker, in) {
			logger.Error("[Pipeline] Withholding finding without evidence",
				"kind", in.Kind, "insight_id", in.ID)
			run.Counters["insights_withheld"]++
			continue
		}
		in.Sources = linker.SourcesFor("insight", in.ID)
		persistable = append(persistable, in)
	}
	run.Counters["insights"] = len(persistable)

	if err := linker.Validate(persistable); err != nil {
		return err
	}
	return p.opts.Store.SaveFindings(ctx, persistable, linker.Evidence(), linker.Links())
}

// coverEdge links evidence to a referenced edge through its endpoints: the
// source entity's record, or for participant edges the event's record.
func (p *Pipeline) coverEdge(linker *evidence.Linker, snap *common.Snapshot, byEntity, byEvent map[string]common.Evidence, edgeID string) {
	for i := range snap.Edges {
		e := &snap.Edges[i]
		if e.ID != edgeID {
			continue
		}
		if e.TargetIsEvent {
			if ev, ok := byEvent[e.TargetID]; ok {
				linker.Add(ev, "edge", edgeID, evidence.RoleSourceRecord)
				return
			}
		}
		if ev, ok := byEntity[e.SourceID]; ok {
			linker.Add(ev, "edge", edgeID, evidence.RoleSupports)
			return
		}
		if ev, ok := byEntity[e.TargetID]; ok {
			linker.Add(ev, "edge", edgeID, evidence.RoleSupports)
			return
		}
		return
	}
}

func (p *Pipeline) recordEvidence(byEntity map[string]common.Evidence, entityID string, src common.SourceRecord) {
	if entityID == "" {
		return
	}
	if _, ok := byEntity[entityID]; !ok {
		byEntity[entityID] = evidence.FromRecord(src, p.opts.RedactExcerpts)
	}
}

func fullyCovered(linker *evidence.Linker, in common.Insight) bool {
	if !linker.Covers("insight", in.ID) {
		return false
	}
	for _, edgeID := range in.EdgeIDs {
		if !linker.Covers("edge", edgeID) {
			return false
		}
	}
	return true
}

func entityTypeFor(kind common.RecordKind) common.EntityType {
	switch kind {
	case common.KindContract, common.KindCompany:
		return common.EntityCompany
	default:
		return common.EntityPerson
	}
}

// insightID derives a stable id within the run from the finding's kind and
// references. Re-running a snapshot in a new run appends new rows instead of
// colliding with the old ones.
func insightID(runID string, in *common.Insight) string {
	h := sha256.New()
	h.Write([]byte(runID))
	h.Write([]byte{0})
	h.Write([]byte(in.Kind))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(in.EntityIDs, ",")))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(in.EventIDs, ",")))
	return "ins_" + hex.EncodeToString(h.Sum(nil))[:20]
}
