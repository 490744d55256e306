package common

import "fmt"

// MalformedRecordError marks a raw record that cannot be normalized because a
// required field is missing or unparseable. Such records are dropped, logged
// and counted; they never abort a batch.
type MalformedRecordError struct {
	Kind   RecordKind
	Field  string
	Source string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed %s record from %s: missing or invalid %q", e.Kind, e.Source, e.Field)
}

// AmbiguousMatchError reports a resolution attempt whose best candidate fell
// below the acceptance threshold. The resolver recovers by creating a new
// provisional entity; the error is surfaced only for logging.
type AmbiguousMatchError struct {
	Name       string
	BestID     string
	Confidence int
	Threshold  int
}

func (e *AmbiguousMatchError) Error() string {
	return fmt.Sprintf("ambiguous match for %q: best candidate %s at confidence %d below threshold %d",
		e.Name, e.BestID, e.Confidence, e.Threshold)
}

// ConstructionInconsistencyError reports an edge rule that referenced an
// entity or event missing from the store. Only the affected edge is skipped.
type ConstructionInconsistencyError struct {
	EdgeType   EdgeType
	MissingRef string
}

func (e *ConstructionInconsistencyError) Error() string {
	return fmt.Sprintf("cannot derive %s edge: referenced %s not found", e.EdgeType, e.MissingRef)
}

// UnlinkedFindingError is fatal for the finding it concerns: an insight or
// edge without at least one evidence link is unauditable and must never reach
// storage.
type UnlinkedFindingError struct {
	RefKind string
	RefID   string
}

func (e *UnlinkedFindingError) Error() string {
	return fmt.Sprintf("refusing to persist %s %s without evidence links", e.RefKind, e.RefID)
}
