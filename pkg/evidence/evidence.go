// Package evidence builds provenance records and enforces the audit
// invariant: no insight, and no edge an insight rests on, is ever persisted
// without at least one evidence link.
package evidence

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/walbarellos/Sentinela/pkg/common"
	"github.com/walbarellos/Sentinela/pkg/normalize"
)

// Link roles.
const (
	RoleSupports     = "supports"
	RoleSourceRecord = "source-record"
)

// FromRecord builds the evidence row for one raw record. When redact is
// true (the default posture) document numbers in the excerpt are masked;
// fields identifying a person are always masked regardless.
func FromRecord(src common.SourceRecord, redact bool) common.Evidence {
	hash := src.Hash()
	excerpt := make(map[string]string, len(src.Payload))
	for k, v := range src.Payload {
		if isDocumentField(k) {
			excerpt[k] = normalize.MaskCPF(v)
			continue
		}
		if redact && isSensitiveField(k) {
			excerpt[k] = "[redigido]"
			continue
		}
		excerpt[k] = v
	}
	return common.Evidence{
		ID:            "ev_" + hash[:20],
		Source:        src.Source,
		SourceKind:    src.SourceKind,
		CapturedAt:    src.CapturedAt,
		Locator:       src.Locator,
		ContentSHA256: hash,
		Excerpt:       excerpt,
		PIIRedacted:   true,
	}
}

func isDocumentField(key string) bool {
	k := strings.ToLower(key)
	return strings.Contains(k, "cpf")
}

func isSensitiveField(key string) bool {
	switch strings.ToLower(key) {
	case "endereco", "telefone", "email", "rg":
		return true
	}
	return false
}

// Archiver stores the unredacted raw payload out of band. The S3
// implementation lives in internal/storage; a nil archiver disables
// archiving.
type Archiver interface {
	Archive(ctx context.Context, contentHash string, payload []byte) error
}

// ArchiveRecord serializes and ships one raw payload to the archiver.
func ArchiveRecord(ctx context.Context, a Archiver, src common.SourceRecord) error {
	if a == nil {
		return nil
	}
	body, err := json.Marshal(src.Payload)
	if err != nil {
		return err
	}
	return a.Archive(ctx, src.Hash(), body)
}

// Linker accumulates evidence rows and their links over one pipeline run.
type Linker struct {
	evidence map[string]common.Evidence
	links    []common.EvidenceLink
	covered  map[string]bool
}

func NewLinker() *Linker {
	return &Linker{
		evidence: map[string]common.Evidence{},
		covered:  map[string]bool{},
	}
}

// Add links one evidence row to an insight, edge, entity or event.
func (l *Linker) Add(ev common.Evidence, refKind, refID, role string) {
	l.evidence[ev.ID] = ev
	key := refKind + ":" + refID + ":" + ev.ID
	if l.covered[key] {
		return
	}
	l.covered[key] = true
	l.links = append(l.links, common.EvidenceLink{
		EvidenceID: ev.ID,
		RefKind:    refKind,
		RefID:      refID,
		Role:       role,
	})
}

// Covers reports whether at least one link exists for the given reference.
func (l *Linker) Covers(refKind, refID string) bool {
	for _, lk := range l.links {
		if lk.RefKind == refKind && lk.RefID == refID {
			return true
		}
	}
	return false
}

// SourcesFor returns the distinct evidence sources linked to a reference,
// sorted. Persisted findings carry them so a reader sees at a glance which
// portals back a finding.
func (l *Linker) SourcesFor(refKind, refID string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, lk := range l.links {
		if lk.RefKind != refKind || lk.RefID != refID {
			continue
		}
		source := l.evidence[lk.EvidenceID].Source
		if source == "" || seen[source] {
			continue
		}
		seen[source] = true
		out = append(out, source)
	}
	sort.Strings(out)
	return out
}

// Validate checks that every insight and every edge it references is
// covered. The first gap is returned as an UnlinkedFindingError; the caller
// must treat it as fatal for the batch.
func (l *Linker) Validate(insights []common.Insight) error {
	linked := map[string]bool{}
	for _, lk := range l.links {
		linked[lk.RefKind+":"+lk.RefID] = true
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
	return nil
}

// Evidence returns the accumulated rows sorted by id.
func (l *Linker) Evidence() []common.Evidence {
	out := make([]common.Evidence, 0, len(l.evidence))
	for _, ev := range l.evidence {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Links returns the accumulated links in insertion order.
func (l *Linker) Links() []common.EvidenceLink {
	return l.links
}
