// Package resolve clusters normalized records into canonical entities. It
// biases precision over recall: an uncertain match creates a new provisional
// entity, since a false split is recoverable by a later merge while a false
// merge corrupts the graph.
package resolve

import (
	"sort"
	"strconv"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/walbarellos/Sentinela/pkg/common"
	"github.com/walbarellos/Sentinela/pkg/logger"
)

// Match methods recorded on each resolution, ordered by confidence.
const (
	MethodDocument    = "document"
	MethodPartial     = "partial_consensus"
	MethodCrossRegime = "cross_regime"
	MethodFuzzy       = "fuzzy"
	MethodNew         = "new"
)

// Config carries the resolution policy. Thresholds are externally configured;
// zero values fall back to the documented defaults.
type Config struct {
	// Acceptance is the minimum name similarity for a fuzzy merge.
	Acceptance float64
	// PartialConfidence caps matches made through a name + partial-document
	// consensus within one regime.
	PartialConfidence int
	// CrossRegimeConfidence caps matches that bridge identifier regimes,
	// always below the exact-match ceiling.
	CrossRegimeConfidence int
	// FuzzyConfidenceCap bounds pure name-similarity matches.
	FuzzyConfidenceCap int
	// Strategy scores name similarity; defaults to JaroWinkler.
	Strategy Strategy
}

func (c Config) withDefaults() Config {
	if c.Acceptance <= 0 {
		c.Acceptance = 0.90
	}
	if c.PartialConfidence <= 0 {
		c.PartialConfidence = 90
	}
	if c.CrossRegimeConfidence <= 0 {
		c.CrossRegimeConfidence = 80
	}
	if c.FuzzyConfidenceCap <= 0 {
		c.FuzzyConfidenceCap = 95
	}
	if c.Strategy == nil {
		c.Strategy = JaroWinkler{}
	}
	return c
}

// DocKey addresses one persisted (document-fragment, entity) association.
type DocKey struct {
	Kind  common.DocumentKind
	Value string
}

// State is the resolution state loaded at stage start: every known entity
// plus the document associations consulted before any fuzzy pass.
type State struct {
	Entities  []common.Entity
	Documents map[DocKey]string
	Merges    []common.EntityMerge
}

// Association is a new (document, entity) link produced during resolution.
type Association struct {
	Doc      common.Document
	EntityID string
}

// Batch is everything a resolution pass wants persisted, committed by the
// store in a single stage transaction.
type Batch struct {
	NewEntities []common.Entity
	Enriched    []common.Entity
	Documents   []Association
	Merges      []common.EntityMerge
}

// Resolution is the outcome for one record.
type Resolution struct {
	Record      common.Record
	EntityID    string
	Confidence  int
	Method      string
	CrossRegime bool
}

// Resolver runs one resolution session over a loaded state. It is not safe
// for concurrent use; the pipeline runs it single-threaded per stage.
type Resolver struct {
	cfg Config

	entities map[string]*common.Entity
	order    []string
	docs     map[DocKey]string
	bodies   map[string]string

	newIDs      map[string]bool
	enrichedIDs map[string]bool
	assocs      []Association
	merges      []common.EntityMerge

	now func() time.Time
}

// NewResolver builds a session over the given state. The state maps are
// copied so a failed stage leaves the caller's view untouched.
func NewResolver(cfg Config, state State) *Resolver {
	r := &Resolver{
		cfg:         cfg.withDefaults(),
		entities:    make(map[string]*common.Entity, len(state.Entities)),
		order:       make([]string, 0, len(state.Entities)),
		docs:        make(map[DocKey]string, len(state.Documents)),
		bodies:      make(map[string]string),
		newIDs:      make(map[string]bool),
		enrichedIDs: make(map[string]bool),
		now:         time.Now,
	}
	for i := range state.Entities {
		e := state.Entities[i]
		if e.Attributes == nil {
			e.Attributes = map[string]string{}
		}
		r.entities[e.ID] = &e
		r.order = append(r.order, e.ID)
		if e.Type == common.EntityGovBody {
			r.bodies[e.DisplayName] = e.ID
		}
	}
	for k, v := range state.Documents {
		r.docs[k] = v
	}
	return r
}

// Batch returns the accumulated writes of this session.
func (r *Resolver) Batch() Batch {
	b := Batch{Documents: r.assocs, Merges: r.merges}
	for _, id := range r.order {
		e := r.entities[id]
		if r.newIDs[id] {
			b.NewEntities = append(b.NewEntities, *e)
		} else if r.enrichedIDs[id] {
			b.Enriched = append(b.Enriched, *e)
		}
	}
	return b
}

// Resolve maps one normalized record to a canonical entity id. It never
// fails for well-formed input: the worst case is a new provisional entity.
// The returned error, when non-nil, is an *AmbiguousMatchError carried only
// for logging; the Resolution is valid regardless.
func (r *Resolver) Resolve(rec common.Record, entityType common.EntityType) (Resolution, error) {
	// 1. Exact full-document match, the highest-confidence path.
	if res, ok := r.resolveByDocuments(rec, entityType); ok {
		return res, nil
	}

	// 2. Partial-document consensus, including the cross-regime bridge.
	if res, ambig, ok := r.resolveByPartial(rec, entityType); ok {
		return res, nil
	} else if ambig != nil {
		res := r.createEntity(rec, entityType)
		return res, ambig
	}

	// 3. Fuzzy name match, tie-broken by contextual overlap.
	res, ambig := r.resolveByName(rec, entityType)
	return res, ambig
}

// ResolveBody resolves a government body by canonical name. Bodies carry no
// documents, so exact name identity is the matching key.
func (r *Resolver) ResolveBody(name string) string {
	if id, ok := r.bodies[name]; ok {
		return id
	}
	id := newEntityID()
	now := r.now()
	e := &common.Entity{
		ID:          id,
		Type:        common.EntityGovBody,
		DisplayName: name,
		Attributes:  map[string]string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.entities[id] = e
	r.order = append(r.order, id)
	r.bodies[name] = id
	r.newIDs[id] = true
	return id
}

func (r *Resolver) resolveByDocuments(rec common.Record, entityType common.EntityType) (Resolution, bool) {
	var hits []string
	seen := map[string]bool{}
	for _, kind := range []common.DocumentKind{common.DocCPF, common.DocCNPJ, common.DocMatricula} {
		doc, ok := rec.Document(kind)
		if !ok {
			continue
		}
		if id, ok := r.docs[DocKey{Kind: doc.Kind, Value: doc.Value}]; ok && !seen[id] {
			seen[id] = true
			hits = append(hits, id)
		}
	}
	if len(hits) == 0 {
		return Resolution{}, false
	}

	canonical := hits[0]
	// Two previously separate entities sharing this record's documents are
	// the same actor: consolidate through the append-only merge log.
	for _, dupe := range hits[1:] {
		r.merge(dupe, canonical, "shared documents on "+rec.SourceHash[:12], 100)
	}

	r.enrich(canonical, rec, false)
	r.registerDocuments(rec, canonical)
	return Resolution{
		Record:     rec,
		EntityID:   canonical,
		Confidence: 100,
		Method:     MethodDocument,
	}, true
}

func (r *Resolver) resolveByPartial(rec common.Record, entityType common.EntityType) (Resolution, *common.AmbiguousMatchError, bool) {
	partial, hasPartial := rec.Document(common.DocCPFPartial)
	full, hasFull := rec.Document(common.DocCPF)

	if hasPartial {
		// Known fragment from the same regime.
		if id, ok := r.docs[DocKey{Kind: common.DocCPFPartial, Value: partial.Value}]; ok {
			if r.nameCompatible(rec.Name, r.entities[id].DisplayName) {
				// Years sighted through a fragment on a bridged entity
				// stay bridge-years; the fragment anchors nothing
				// exactly.
				bridged := r.entities[id].Attributes["cross_regime_match"] == "true"
				r.enrich(id, rec, bridged)
				r.registerDocuments(rec, id)
				return Resolution{
					Record:     rec,
					EntityID:   id,
					Confidence: r.cfg.PartialConfidence,
					Method:     MethodPartial,
				}, nil, true
			}
		}

		// Bridge into the earlier, permissive regime: full CPFs whose
		// visible digits are consistent with this fragment.
		candidates := r.regimeCandidates(common.DocCPF, func(v string) bool {
			return partialConsistent(v, partial.Value)
		}, rec.Name, entityType)
		if res, ambig, done := r.finishCrossRegime(rec, candidates); done {
			return res, ambig, res.EntityID != ""
		}
	}

	if hasFull {
		// Reverse bridge: an entity known only by a masked fragment that
		// this record's full CPF completes.
		candidates := r.regimeCandidates(common.DocCPFPartial, func(v string) bool {
			return partialConsistent(full.Value, v)
		}, rec.Name, entityType)
		if res, ambig, done := r.finishCrossRegime(rec, candidates); done {
			return res, ambig, res.EntityID != ""
		}
	}

	return Resolution{}, nil, false
}

func (r *Resolver) finishCrossRegime(rec common.Record, candidates []string) (Resolution, *common.AmbiguousMatchError, bool) {
	switch len(candidates) {
	case 0:
		return Resolution{}, nil, false
	case 1:
		id := candidates[0]
		logger.Info("[Resolve] Cross-regime match",
			"entity_id", id, "name", rec.Name, "cross_regime_match", true)
		r.enrich(id, rec, true)
		r.registerDocuments(rec, id)
		return Resolution{
			Record:      rec,
			EntityID:    id,
			Confidence:  r.cfg.CrossRegimeConfidence,
			Method:      MethodCrossRegime,
			CrossRegime: true,
		}, nil, true
	default:
		// Several plausible identities behind one fragment: refuse to guess.
		return Resolution{}, &common.AmbiguousMatchError{
			Name:       rec.Name,
			BestID:     candidates[0],
			Confidence: r.cfg.CrossRegimeConfidence,
			Threshold:  100,
		}, true
	}
}

// regimeCandidates scans the document associations for fragments satisfying
// match, keeping only name-compatible entities of the wanted type. Results
// are sorted for determinism.
func (r *Resolver) regimeCandidates(kind common.DocumentKind, match func(string) bool, name string, entityType common.EntityType) []string {
	seen := map[string]bool{}
	var out []string
	for key, id := range r.docs {
		if key.Kind != kind || !match(key.Value) || seen[id] {
			continue
		}
		e, ok := r.entities[id]
		if !ok || e.Type != entityType {
			continue
		}
		if !r.nameCompatible(name, e.DisplayName) {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *Resolver) resolveByName(rec common.Record, entityType common.EntityType) (Resolution, error) {
	type candidate struct {
		id    string
		score float64
	}
	var best *candidate

	for _, id := range r.order {
		e := r.entities[id]
		if e.Type != entityType {
			continue
		}
		score := r.cfg.Strategy.Similarity(rec.Name, e.DisplayName)
		if score <= 0 {
			continue
		}
		if r.contextOverlap(rec, e) {
			score += 0.03
		}
		if score > 1 {
			score = 1
		}
		if best == nil || score > best.score || (score == best.score && id < best.id) {
			best = &candidate{id: id, score: score}
		}
	}

	if best != nil && best.score >= r.cfg.Acceptance {
		conf := int(best.score * 100)
		if conf > r.cfg.FuzzyConfidenceCap {
			conf = r.cfg.FuzzyConfidenceCap
		}
		r.enrich(best.id, rec, false)
		r.registerDocuments(rec, best.id)
		return Resolution{
			Record:     rec,
			EntityID:   best.id,
			Confidence: conf,
			Method:     MethodFuzzy,
		}, nil
	}

	res := r.createEntity(rec, entityType)
	if best != nil && best.score >= r.cfg.Acceptance-0.15 {
		return res, &common.AmbiguousMatchError{
			Name:       rec.Name,
			BestID:     best.id,
			Confidence: int(best.score * 100),
			Threshold:  int(r.cfg.Acceptance * 100),
		}
	}
	return res, nil
}

func (r *Resolver) createEntity(rec common.Record, entityType common.EntityType) Resolution {
	id := newEntityID()
	now := r.now()
	e := &common.Entity{
		ID:          id,
		Type:        entityType,
		DisplayName: rec.Name,
		Attributes:  map[string]string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	copyRecordAttrs(e, rec)
	addYear(e.Attributes, "years", rec.Year)
	r.entities[id] = e
	r.order = append(r.order, id)
	r.newIDs[id] = true
	r.registerDocuments(rec, id)
	return Resolution{
		Record:     rec,
		EntityID:   id,
		Confidence: 100,
		Method:     MethodNew,
	}
}

func (r *Resolver) enrich(id string, rec common.Record, crossRegime bool) {
	e := r.entities[id]
	// Prefer the most complete rendering of the name we have seen.
	if len(rec.Name) > len(e.DisplayName) {
		e.DisplayName = rec.Name
	}
	copyRecordAttrs(e, rec)
	if crossRegime {
		e.Attributes["cross_regime_match"] = "true"
		addYear(e.Attributes, "cross_years", rec.Year)
	} else {
		addYear(e.Attributes, "years", rec.Year)
	}
	e.UpdatedAt = r.now()
	if !r.newIDs[id] {
		r.enrichedIDs[id] = true
	}
}

func (r *Resolver) registerDocuments(rec common.Record, id string) {
	for _, doc := range rec.Documents {
		key := DocKey{Kind: doc.Kind, Value: doc.Value}
		if _, ok := r.docs[key]; ok {
			continue
		}
		r.docs[key] = id
		r.assocs = append(r.assocs, Association{Doc: doc, EntityID: id})
	}
}

func (r *Resolver) merge(oldID, newID string, reason string, confidence int) {
	if oldID == newID {
		return
	}
	logger.Info("[Resolve] Merging entities", "old_id", oldID, "new_id", newID, "reason", reason)
	r.merges = append(r.merges, common.EntityMerge{
		OldID:      oldID,
		NewID:      newID,
		Reason:     reason,
		Confidence: confidence,
		CreatedAt:  r.now(),
	})
	// Re-point live associations; historic rows stay untouched in the log.
	for key, id := range r.docs {
		if id == oldID {
			r.docs[key] = newID
		}
	}
	old := r.entities[oldID]
	canon := r.entities[newID]
	for k, v := range old.Attributes {
		if _, ok := canon.Attributes[k]; !ok {
			canon.Attributes[k] = v
		}
	}
	if !r.newIDs[newID] {
		r.enrichedIDs[newID] = true
	}
}

func (r *Resolver) nameCompatible(a, b string) bool {
	if a == b {
		return true
	}
	if r.cfg.Strategy.Similarity(a, b) >= r.cfg.Acceptance {
		return true
	}
	// Abbreviated renderings must still anchor on the same surname.
	return surnameOf(a) == surnameOf(b) && abbreviationCompatible(a, b)
}

func (r *Resolver) contextOverlap(rec common.Record, e *common.Entity) bool {
	if sec, ok := rec.Attrs["secretaria"]; ok && sec != "" && e.Attributes["secretaria"] == sec {
		return true
	}
	if rec.Year != 0 && hasYear(e.Attributes, "years", rec.Year) {
		return true
	}
	return false
}

func copyRecordAttrs(e *common.Entity, rec common.Record) {
	for _, k := range []string{"secretaria", "cargo", "vinculo", "municipio", "uf", "cnae_principal", "situacao_cadastral"} {
		if v, ok := rec.Attrs[k]; ok && v != "" {
			e.Attributes[k] = v
		}
	}
}

// partialConsistent reports whether a full CPF exposes exactly the masked
// fragment's digits: positions 4-9 of the document.
func partialConsistent(full, partial string) bool {
	return len(full) == 11 && len(partial) == 6 && full[3:9] == partial
}

func addYear(attrs map[string]string, key string, year int) {
	if year == 0 {
		return
	}
	y := strconv.Itoa(year)
	cur := attrs[key]
	if cur == "" {
		attrs[key] = y
		return
	}
	for _, part := range strings.Split(cur, ",") {
		if part == y {
			return
		}
	}
	attrs[key] = cur + "," + y
}

func hasYear(attrs map[string]string, key string, year int) bool {
	y := strconv.Itoa(year)
	for _, part := range strings.Split(attrs[key], ",") {
		if part == y {
			return true
		}
	}
	return false
}

func newEntityID() string {
	id, err := gonanoid.New()
	if err != nil {
		// nanoid only fails when the OS entropy source does; nothing
		// sensible can continue without identifiers.
		panic(err)
	}
	return id
}
