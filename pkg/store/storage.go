package store

import (
	"context"
	"time"

	"github.com/walbarellos/Sentinela/pkg/common"
	"github.com/walbarellos/Sentinela/pkg/resolve"
)

// InsightFilter narrows insight queries. Zero values mean no constraint.
type InsightFilter struct {
	Severity common.Severity
	Kind     string
	Tag      string
	EntityID string
	RunID    string
	Since    time.Time
	Until    time.Time
	Limit    int
}

// Storage persists the resolved graph and its findings. Each mutating method
// is one pipeline stage boundary and must be atomic: a failed stage leaves
// the store exactly as the previous stage left it.
//
// Reads resolve entity references through the merge log, so callers may hold
// ids that have since been merged away.
type Storage interface {
	// LoadResolutionState returns every entity and live document
	// association for a resolution session.
	LoadResolutionState(ctx context.Context) (resolve.State, error)

	// CommitResolution applies one resolution batch: new entities,
	// enriched entities, document associations and merge-log entries.
	CommitResolution(ctx context.Context, batch resolve.Batch) error

	// SaveEvents upserts events by their content-derived id.
	SaveEvents(ctx context.Context, events []common.Event) error

	// ReplaceEdges installs the complete derived edge set, atomically
	// replacing the previous one. Callers derive from every stored event,
	// so rows merged away or rederived never leave stale edges behind.
	ReplaceEdges(ctx context.Context, edges []common.Edge) error

	// SaveFindings appends insights with their evidence and links. It must
	// reject the whole batch with an UnlinkedFindingError when any insight
	// or referenced edge ends up without at least one evidence link.
	SaveFindings(ctx context.Context, insights []common.Insight, evidence []common.Evidence, links []common.EvidenceLink) error

	// Snapshot returns a read-only view of the resolved graph for the
	// detection stage.
	Snapshot(ctx context.Context) (*common.Snapshot, error)

	StartRun(ctx context.Context, run common.PipelineRun) error
	FinishRun(ctx context.Context, run common.PipelineRun) error

	// CanonicalID follows the merge log from id to the surviving entity.
	CanonicalID(ctx context.Context, id string) (string, error)
	GetEntity(ctx context.Context, id string) (common.Entity, error)
	QueryInsights(ctx context.Context, filter InsightFilter) ([]common.Insight, error)
	EvidenceForInsight(ctx context.Context, insightID string) ([]common.Evidence, error)

	// EvidenceForRef returns evidence linked to an entity, event or edge.
	// Detector-only re-runs reuse it to back their findings with the
	// evidence earlier runs captured.
	EvidenceForRef(ctx context.Context, refKind, refID string) ([]common.Evidence, error)
	EntityTimeline(ctx context.Context, entityID string, from, to time.Time) ([]common.Event, error)
	EntityNeighbours(ctx context.Context, entityID string) ([]common.Edge, []common.Entity, error)
	GetSummary(ctx context.Context) (common.Summary, error)
}
