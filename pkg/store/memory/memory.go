// Package memory implements store.Storage in process. It backs tests and
// single-node runs and enforces the same write invariants as the database
// implementation: append-only entities, merge-log reads and the
// evidence-link requirement on findings.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/walbarellos/Sentinela/pkg/common"
	"github.com/walbarellos/Sentinela/pkg/normalize"
	"github.com/walbarellos/Sentinela/pkg/resolve"
	"github.com/walbarellos/Sentinela/pkg/store"
)

type Store struct {
	mu sync.RWMutex

	entities map[string]common.Entity
	order    []string
	docs     map[resolve.DocKey]string
	merges   []common.EntityMerge
	mergeMap map[string]string

	events map[string]common.Event
	edges  map[string]common.Edge

	insights []common.Insight
	evidence map[string]common.Evidence
	links    []common.EvidenceLink

	runs map[string]common.PipelineRun
}

var _ store.Storage = (*Store)(nil)

func New() *Store {
	return &Store{
		entities: map[string]common.Entity{},
		docs:     map[resolve.DocKey]string{},
		mergeMap: map[string]string{},
		events:   map[string]common.Event{},
		edges:    map[string]common.Edge{},
		evidence: map[string]common.Evidence{},
		runs:     map[string]common.PipelineRun{},
	}
}

func (s *Store) LoadResolutionState(ctx context.Context) (resolve.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state := resolve.State{
		Documents: make(map[resolve.DocKey]string, len(s.docs)),
		Merges:    append([]common.EntityMerge(nil), s.merges...),
	}
	for _, id := range s.order {
		state.Entities = append(state.Entities, s.entities[id])
	}
	for k, v := range s.docs {
		state.Documents[k] = v
	}
	return state, nil
}

func (s *Store) CommitResolution(ctx context.Context, batch resolve.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range batch.NewEntities {
		if _, ok := s.entities[e.ID]; ok {
			return fmt.Errorf("entity %s already exists", e.ID)
		}
		s.entities[e.ID] = e
		s.order = append(s.order, e.ID)
	}
	for _, e := range batch.Enriched {
		if _, ok := s.entities[e.ID]; !ok {
			return fmt.Errorf("cannot enrich unknown entity %s", e.ID)
		}
		s.entities[e.ID] = e
	}
	for _, m := range batch.Merges {
		s.merges = append(s.merges, m)
		s.mergeMap[m.OldID] = m.NewID
	}
	for _, a := range batch.Documents {
		key := resolve.DocKey{Kind: a.Doc.Kind, Value: a.Doc.Value}
		s.docs[key] = a.EntityID
	}
	return nil
}

func (s *Store) SaveEvents(ctx context.Context, events []common.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range events {
		s.events[ev.ID] = ev
	}
	return nil
}

func (s *Store) ReplaceEdges(ctx context.Context, edges []common.Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edges = make(map[string]common.Edge, len(edges))
	for _, e := range edges {
		s.edges[e.ID] = e
	}
	return nil
}

func (s *Store) SaveFindings(ctx context.Context, insights []common.Insight, evidence []common.Evidence, links []common.EvidenceLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	linked := map[string]bool{}
	for _, l := range links {
		linked[l.RefKind+":"+l.RefID] = true
	}
	for _, in := range insights {
		if !linked["insight:"+in.ID] {
			return &common.UnlinkedFindingError{RefKind: "insight", RefID: in.ID}
		}
		for _, edgeID := range in.EdgeIDs {
			if !linked["edge:"+edgeID] {
				return &common.UnlinkedFindingError{RefKind: "edge", RefID: edgeID}
			}
		}
	}

	for _, ev := range evidence {
		if normalize.LeaksCPF(ev.Excerpt) {
			return fmt.Errorf("evidence %s carries an unmasked CPF", ev.ID)
		}
	}

	s.insights = append(s.insights, insights...)
	for _, ev := range evidence {
		s.evidence[ev.ID] = ev
	}
	s.links = append(s.links, links...)
	return nil
}

func (s *Store) Snapshot(ctx context.Context) (*common.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entities := make([]common.Entity, 0, len(s.entities))
	for _, id := range s.order {
		entities = append(entities, s.entities[id])
	}
	events := make([]common.Event, 0, len(s.events))
	for _, ev := range s.events {
		events = append(events, ev)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].ID < events[j].ID })
	edges := make([]common.Edge, 0, len(s.edges))
	for _, e := range s.edges {
		edges = append(edges, e)
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].ID < edges[j].ID })

	return common.NewSnapshot(time.Now(), entities, events, edges,
		append([]common.EntityMerge(nil), s.merges...)), nil
}

func (s *Store) StartRun(ctx context.Context, run common.PipelineRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
	return nil
}

func (s *Store) FinishRun(ctx context.Context, run common.PipelineRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; !ok {
		return fmt.Errorf("unknown run %s", run.ID)
	}
	s.runs[run.ID] = run
	return nil
}

func (s *Store) CanonicalID(ctx context.Context, id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	canonical := store.FollowMerges(s.mergeMap, id)
	if _, ok := s.entities[canonical]; !ok {
		return "", fmt.Errorf("entity %s not found", id)
	}
	return canonical, nil
}

func (s *Store) GetEntity(ctx context.Context, id string) (common.Entity, error) {
	canonical, err := s.CanonicalID(ctx, id)
	if err != nil {
		return common.Entity{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entities[canonical], nil
}

func (s *Store) QueryInsights(ctx context.Context, filter store.InsightFilter) ([]common.Insight, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []common.Insight
	for _, in := range s.insights {
		if filter.Severity != "" && in.Severity != filter.Severity {
			continue
		}
		if filter.Kind != "" && in.Kind != filter.Kind {
			continue
		}
		if filter.Tag != "" && !hasTag(in, filter.Tag) {
			continue
		}
		if filter.RunID != "" && in.RunID != filter.RunID {
			continue
		}
		if !filter.Since.IsZero() && in.CreatedAt.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && in.CreatedAt.After(filter.Until) {
			continue
		}
		if filter.EntityID != "" && !references(in, store.FollowMerges(s.mergeMap, filter.EntityID)) {
			continue
		}
		out = append(out, in)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Severity.Rank() != out[j].Severity.Rank() {
			return out[i].Severity.Rank() > out[j].Severity.Rank()
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func hasTag(in common.Insight, tag string) bool {
	for _, t := range in.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

func references(in common.Insight, entityID string) bool {
	for _, id := range in.EntityIDs {
		if id == entityID {
			return true
		}
	}
	return false
}

func (s *Store) EvidenceForInsight(ctx context.Context, insightID string) ([]common.Evidence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []common.Evidence
	seen := map[string]bool{}
	for _, l := range s.links {
		if l.RefKind != "insight" || l.RefID != insightID || seen[l.EvidenceID] {
			continue
		}
		if ev, ok := s.evidence[l.EvidenceID]; ok {
			seen[l.EvidenceID] = true
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *Store) EvidenceForRef(ctx context.Context, refKind, refID string) ([]common.Evidence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []common.Evidence
	seen := map[string]bool{}
	for _, l := range s.links {
		if l.RefKind != refKind || l.RefID != refID || seen[l.EvidenceID] {
			continue
		}
		if ev, ok := s.evidence[l.EvidenceID]; ok {
			seen[l.EvidenceID] = true
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *Store) EntityTimeline(ctx context.Context, entityID string, from, to time.Time) ([]common.Event, error) {
	canonical, err := s.CanonicalID(ctx, entityID)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []common.Event
	for _, e := range s.edges {
		if !e.TargetIsEvent || store.FollowMerges(s.mergeMap, e.SourceID) != canonical {
			continue
		}
		ev, ok := s.events[e.TargetID]
		if !ok {
			continue
		}
		if !from.IsZero() && ev.OccurredAt.Before(from) {
			continue
		}
		if !to.IsZero() && ev.OccurredAt.After(to) {
			continue
		}
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].OccurredAt.Before(out[j].OccurredAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) EntityNeighbours(ctx context.Context, entityID string) ([]common.Edge, []common.Entity, error) {
	canonical, err := s.CanonicalID(ctx, entityID)
	if err != nil {
		return nil, nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var edges []common.Edge
	neighbourIDs := map[string]bool{}
	for _, e := range s.edges {
		if e.TargetIsEvent {
			continue
		}
		src := store.FollowMerges(s.mergeMap, e.SourceID)
		dst := store.FollowMerges(s.mergeMap, e.TargetID)
		switch canonical {
		case src:
			edges = append(edges, e)
			neighbourIDs[dst] = true
		case dst:
			edges = append(edges, e)
			neighbourIDs[src] = true
		}
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].ID < edges[j].ID })

	var neighbours []common.Entity
	for _, id := range s.order {
		if neighbourIDs[id] {
			neighbours = append(neighbours, s.entities[id])
		}
	}
	return edges, neighbours, nil
}

func (s *Store) GetSummary(ctx context.Context) (common.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sources := map[string]bool{}
	for _, ev := range s.evidence {
		sources[ev.Source] = true
	}
	var last time.Time
	for _, in := range s.insights {
		if in.CreatedAt.After(last) {
			last = in.CreatedAt
		}
	}
	return common.Summary{
		EntityCount: len(s.entities),
		EdgeCount:   len(s.edges),
		SourceCount: len(sources),
		AlertCount:  len(s.insights),
		LastUpdated: last,
	}, nil
}
