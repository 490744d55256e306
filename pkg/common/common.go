package common

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntityType classifies a resolved real-world actor.
type EntityType string

const (
	EntityPerson  EntityType = "PERSON"
	EntityCompany EntityType = "COMPANY"
	EntityGovBody EntityType = "GOV_BODY"
)

// Severity orders insight findings from worst to mildest.
type Severity string

const (
	SeverityCritico Severity = "CRITICO"
	SeverityAlto    Severity = "ALTO"
	SeverityMedio   Severity = "MEDIO"
	SeverityBaixo   Severity = "BAIXO"
)

var severityRank = map[Severity]int{
	SeverityCritico: 3,
	SeverityAlto:    2,
	SeverityMedio:   1,
	SeverityBaixo:   0,
}

// Rank returns the ordering value of a severity, higher is worse.
// Unknown severities rank below BAIXO.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return -1
}

// EdgeType identifies a derived relationship rule.
type EdgeType string

const (
	EdgeEmployment    EdgeType = "EMPLOYMENT"
	EdgeContractAward EdgeType = "CONTRACT_AWARD"
	EdgeCoTravel      EdgeType = "CO_TRAVEL"
	EdgeOwnership     EdgeType = "OWNERSHIP"
	EdgeParticipant   EdgeType = "PARTICIPANT"
)

// RecordKind identifies the source shape of an ingested record.
type RecordKind string

const (
	KindPayroll  RecordKind = "payroll"
	KindContract RecordKind = "contract"
	KindTravel   RecordKind = "travel"
	KindCompany  RecordKind = "company"
)

// Entity is a resolved real-world actor: a person, a company or a public
// body. Entities are append-only; they are enriched on later sightings and
// re-pointed through merge records, never deleted.
type Entity struct {
	ID          string            `json:"id"`
	Type        EntityType        `json:"type"`
	DisplayName string            `json:"display_name"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// EntityMerge is one append-only entry of the merge log. Reads resolve an
// entity reference by following old -> new until a canonical id is reached.
type EntityMerge struct {
	OldID      string    `json:"old_id"`
	NewID      string    `json:"new_id"`
	Reason     string    `json:"reason"`
	Confidence int       `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
}

// Event is a discrete occurrence: a payment, a contract signature, a trip.
// Its ID is content-derived so re-ingesting the same source record can never
// create a duplicate.
type Event struct {
	ID         string            `json:"id"`
	Type       RecordKind        `json:"type"`
	OccurredAt time.Time         `json:"occurred_at"`
	OccurredTo time.Time         `json:"occurred_to,omitzero"`
	Amount     decimal.Decimal   `json:"amount"`
	Title      string            `json:"title"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Edge is a derived typed relationship between two entities, or between an
// entity and an event. Edges are never hand-authored: the ID is derived from
// (type, endpoints) so rebuilding the graph replaces rather than duplicates.
type Edge struct {
	ID            string            `json:"id"`
	Type          EdgeType          `json:"type"`
	SourceID      string            `json:"source_id"`
	TargetID      string            `json:"target_id"`
	TargetIsEvent bool              `json:"target_is_event"`
	Weight        decimal.Decimal   `json:"weight"`
	Attributes    map[string]string `json:"attributes,omitempty"`
}

// Evidence is an immutable provenance record for an insight or edge.
// PIIRedacted defaults to true and is never force-disabled for fields that
// identify a person.
type Evidence struct {
	ID            string            `json:"id"`
	Source        string            `json:"source"`
	SourceKind    RecordKind        `json:"source_kind"`
	CapturedAt    time.Time         `json:"captured_at"`
	Locator       string            `json:"locator"`
	ContentSHA256 string            `json:"content_sha256"`
	Excerpt       map[string]string `json:"excerpt,omitempty"`
	PIIRedacted   bool              `json:"pii_redacted"`
}

// EvidenceLink ties an evidence row to the insight or edge it backs.
// RefKind is "insight" or "edge"; Role is "supports", "contradicts" or
// "source-record".
type EvidenceLink struct {
	EvidenceID string `json:"evidence_id"`
	RefKind    string `json:"ref_kind"`
	RefID      string `json:"ref_id"`
	Role       string `json:"role"`
}

// Insight is a detector finding: scored, evidence-backed and append-only.
// Re-running detectors produces new insight rows, old ones are never mutated.
type Insight struct {
	ID          string          `json:"id"`
	Kind        string          `json:"kind"`
	Severity    Severity        `json:"severity"`
	Confidence  int             `json:"confidence"`
	Exposure    decimal.Decimal `json:"exposure"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Pattern     string          `json:"pattern"`
	Sources     []string        `json:"sources"`
	Tags        []string        `json:"tags,omitempty"`
	SampleN     int             `json:"sample_n"`
	UnitTotal   decimal.Decimal `json:"unit_total"`
	RunID       string          `json:"run_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`

	// EntityIDs and EventIDs become insight_link rows on persistence.
	EntityIDs []string `json:"entity_ids,omitempty"`
	EventIDs  []string `json:"event_ids,omitempty"`
	// EdgeIDs are the derived edges the finding rests on; the evidence
	// linker must cover each of them as well.
	EdgeIDs []string `json:"edge_ids,omitempty"`
}

// Run states recorded on pipeline_run rows.
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// PipelineRun records one pipeline execution with its stage counters, so
// every insight can be traced back to the run that produced it.
type PipelineRun struct {
	ID         string         `json:"id"`
	Status     string         `json:"status"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at,omitzero"`
	Counters   map[string]int `json:"counters,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// Summary is the aggregate view served to dashboard collaborators.
type Summary struct {
	EntityCount int       `json:"entity_count"`
	EdgeCount   int       `json:"edge_count"`
	SourceCount int       `json:"source_count"`
	AlertCount  int       `json:"alert_count"`
	LastUpdated time.Time `json:"last_updated,omitzero"`
}
