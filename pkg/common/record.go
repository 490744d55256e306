package common

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// DocumentKind distinguishes full identifiers from the partially redacted
// sub-kind produced by later disclosure regimes.
type DocumentKind string

const (
	DocCPF        DocumentKind = "cpf"
	DocCPFPartial DocumentKind = "cpf_partial"
	DocCNPJ       DocumentKind = "cnpj"
	DocMatricula  DocumentKind = "matricula"
)

// Document is a parsed identifier extracted from a record. Value holds only
// digits; for DocCPFPartial it holds the digits visible through the mask.
type Document struct {
	Kind  DocumentKind `json:"kind"`
	Value string       `json:"value"`
}

// SourceRecord is the sole input shape the core consumes from ingestion
// adapters: an already-fetched raw record plus its capture metadata.
type SourceRecord struct {
	Source     string            `json:"source"`
	SourceKind RecordKind        `json:"source_kind"`
	CapturedAt time.Time         `json:"captured_at"`
	Locator    string            `json:"locator"`
	Payload    map[string]string `json:"payload"`
}

// Hash returns the content hash of the record payload. The hash is stable
// across map iteration order and is the dedup key for events and evidence.
func (r SourceRecord) Hash() string {
	keys := make([]string, 0, len(r.Payload))
	for k := range r.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	h.Write([]byte(r.Source))
	h.Write([]byte{0})
	h.Write([]byte(r.SourceKind))
	for _, k := range keys {
		h.Write([]byte{0})
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(r.Payload[k]))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Record is the normalized shape every source record is reduced to before
// resolution. Kind-specific fields live in Attrs (role, department,
// destination, awarding body and so on).
type Record struct {
	Kind       RecordKind
	Name       string
	RawName    string
	Documents  []Document
	Amount     decimal.Decimal
	OccurredAt time.Time
	OccurredTo time.Time
	Title      string
	Year       int
	Attrs      map[string]string

	Source     string
	SourceKind RecordKind
	CapturedAt time.Time
	Locator    string
	SourceHash string
}

// Document returns the first document of the given kind, if any.
func (r Record) Document(kind DocumentKind) (Document, bool) {
	for _, d := range r.Documents {
		if d.Kind == kind {
			return d, true
		}
	}
	return Document{}, false
}

// Snapshot is an immutable view of the resolved store handed to detectors.
// Detectors share it read-only and may run in parallel.
type Snapshot struct {
	TakenAt  time.Time
	Entities []Entity
	Events   []Event
	Edges    []Edge
	Merges   []EntityMerge

	entityByID map[string]int
	eventByID  map[string]int
	mergedInto map[string]string
}

// NewSnapshot builds the lookup indexes once so detector access is O(1).
func NewSnapshot(takenAt time.Time, entities []Entity, events []Event, edges []Edge, merges []EntityMerge) *Snapshot {
	s := &Snapshot{
		TakenAt:    takenAt,
		Entities:   entities,
		Events:     events,
		Edges:      edges,
		Merges:     merges,
		entityByID: make(map[string]int, len(entities)),
		eventByID:  make(map[string]int, len(events)),
		mergedInto: make(map[string]string, len(merges)),
	}
	for i := range entities {
		s.entityByID[entities[i].ID] = i
	}
	for i := range events {
		s.eventByID[events[i].ID] = i
	}
	for _, m := range merges {
		s.mergedInto[m.OldID] = m.NewID
	}
	return s
}

// Canonical follows the merge log from id to the surviving entity id. Ids
// never merged (and unknown ids) come back unchanged.
func (s *Snapshot) Canonical(id string) string {
	seen := map[string]bool{}
	for {
		next, ok := s.mergedInto[id]
		if !ok || seen[id] {
			return id
		}
		seen[id] = true
		id = next
	}
}

// Entity looks up an entity by canonical id.
func (s *Snapshot) Entity(id string) (Entity, bool) {
	if i, ok := s.entityByID[id]; ok {
		return s.Entities[i], true
	}
	return Entity{}, false
}

// Event looks up an event by content-derived id.
func (s *Snapshot) Event(id string) (Event, bool) {
	if i, ok := s.eventByID[id]; ok {
		return s.Events[i], true
	}
	return Event{}, false
}

// Participants returns the entity ids attached to an event through
// PARTICIPANT edges.
func (s *Snapshot) Participants(eventID string) []string {
	var out []string
	for i := range s.Edges {
		e := &s.Edges[i]
		if e.Type == EdgeParticipant && e.TargetIsEvent && e.TargetID == eventID {
			out = append(out, e.SourceID)
		}
	}
	return out
}

// ParticipantEdge returns the PARTICIPANT edge linking an entity to an event.
func (s *Snapshot) ParticipantEdge(entityID, eventID string) (Edge, bool) {
	for i := range s.Edges {
		e := &s.Edges[i]
		if e.Type == EdgeParticipant && e.TargetIsEvent && e.SourceID == entityID && e.TargetID == eventID {
			return *e, true
		}
	}
	return Edge{}, false
}
