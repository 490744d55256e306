package resolve

import (
	"errors"
	"testing"

	"github.com/walbarellos/Sentinela/pkg/common"
)

func personRecord(name string, year int, docs ...common.Document) common.Record {
	return common.Record{
		Kind:       common.KindPayroll,
		Name:       name,
		Documents:  docs,
		Year:       year,
		Source:     "portal",
		SourceHash: "0123456789abcdef0123456789abcdef",
		Attrs:      map[string]string{},
	}
}

func TestResolveNewEntity(t *testing.T) {
	r := NewResolver(Config{}, State{})
	rec := personRecord("JOAO DA SILVA", 2022, common.Document{Kind: common.DocCPF, Value: "12345678909"})

	res, err := r.Resolve(rec, common.EntityPerson)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Method != MethodNew {
		t.Fatalf("method = %q, want %q", res.Method, MethodNew)
	}
	if res.EntityID == "" {
		t.Fatal("empty entity id")
	}

	b := r.Batch()
	if len(b.NewEntities) != 1 {
		t.Fatalf("new entities = %d, want 1", len(b.NewEntities))
	}
	if len(b.Documents) != 1 {
		t.Fatalf("document associations = %d, want 1", len(b.Documents))
	}
	if b.NewEntities[0].DisplayName != "JOAO DA SILVA" {
		t.Fatalf("display name = %q", b.NewEntities[0].DisplayName)
	}
}

func TestResolveExactDocumentIdempotent(t *testing.T) {
	r := NewResolver(Config{}, State{})
	rec := personRecord("JOAO DA SILVA", 2022, common.Document{Kind: common.DocCPF, Value: "12345678909"})

	first, _ := r.Resolve(rec, common.EntityPerson)
	second, err := r.Resolve(rec, common.EntityPerson)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.EntityID != first.EntityID {
		t.Fatalf("resolved to %q, want %q", second.EntityID, first.EntityID)
	}
	if second.Method != MethodDocument {
		t.Fatalf("method = %q, want %q", second.Method, MethodDocument)
	}
	if second.Confidence != 100 {
		t.Fatalf("confidence = %d, want 100", second.Confidence)
	}
	if got := len(r.Batch().NewEntities); got != 1 {
		t.Fatalf("new entities = %d, want 1", got)
	}
}

func TestResolveCrossRegime(t *testing.T) {
	r := NewResolver(Config{}, State{})
	full := personRecord("JOAO DA SILVA", 2022, common.Document{Kind: common.DocCPF, Value: "12345678909"})
	masked := personRecord("J. SILVA", 2024, common.Document{Kind: common.DocCPFPartial, Value: "456789"})

	first, _ := r.Resolve(full, common.EntityPerson)
	second, err := r.Resolve(masked, common.EntityPerson)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.EntityID != first.EntityID {
		t.Fatalf("resolved to %q, want %q", second.EntityID, first.EntityID)
	}
	if !second.CrossRegime {
		t.Fatal("cross-regime flag not set")
	}
	if second.Method != MethodCrossRegime {
		t.Fatalf("method = %q, want %q", second.Method, MethodCrossRegime)
	}
	if second.Confidence != 80 {
		t.Fatalf("confidence = %d, want 80", second.Confidence)
	}

	e := r.entities[first.EntityID]
	if e.Attributes["cross_regime_match"] != "true" {
		t.Fatalf("cross_regime_match attr = %q", e.Attributes["cross_regime_match"])
	}
	if e.Attributes["years"] != "2022" {
		t.Fatalf("years = %q, want 2022", e.Attributes["years"])
	}
	if e.Attributes["cross_years"] != "2024" {
		t.Fatalf("cross_years = %q, want 2024", e.Attributes["cross_years"])
	}
}

func TestResolveKnownFragmentSameRegime(t *testing.T) {
	r := NewResolver(Config{}, State{})
	full := personRecord("JOAO DA SILVA", 2022, common.Document{Kind: common.DocCPF, Value: "12345678909"})
	masked := personRecord("J. SILVA", 2024, common.Document{Kind: common.DocCPFPartial, Value: "456789"})

	first, _ := r.Resolve(full, common.EntityPerson)
	r.Resolve(masked, common.EntityPerson)

	// The fragment association persisted; a repeat hits it directly and no
	// longer counts as a regime bridge.
	third, err := r.Resolve(masked, common.EntityPerson)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if third.EntityID != first.EntityID {
		t.Fatalf("resolved to %q, want %q", third.EntityID, first.EntityID)
	}
	if third.Method != MethodPartial {
		t.Fatalf("method = %q, want %q", third.Method, MethodPartial)
	}
	if third.CrossRegime {
		t.Fatal("repeat match must not be tagged cross-regime")
	}
}

func TestResolveReverseBridge(t *testing.T) {
	r := NewResolver(Config{}, State{})
	masked := personRecord("J. SILVA", 2024, common.Document{Kind: common.DocCPFPartial, Value: "456789"})
	full := personRecord("JOAO DA SILVA", 2022, common.Document{Kind: common.DocCPF, Value: "12345678909"})

	first, _ := r.Resolve(masked, common.EntityPerson)
	second, err := r.Resolve(full, common.EntityPerson)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.EntityID != first.EntityID {
		t.Fatalf("resolved to %q, want %q", second.EntityID, first.EntityID)
	}
	if !second.CrossRegime {
		t.Fatal("cross-regime flag not set")
	}
}

func TestResolveAmbiguousFragmentCreatesNewEntity(t *testing.T) {
	r := NewResolver(Config{}, State{})
	// Two distinct people whose CPFs expose the same middle digits.
	a := personRecord("JOSE SILVA", 2020, common.Document{Kind: common.DocCPF, Value: "11145678922"})
	b := personRecord("JOAO SILVA", 2021, common.Document{Kind: common.DocCPF, Value: "22245678933"})
	r.Resolve(a, common.EntityPerson)
	r.Resolve(b, common.EntityPerson)

	masked := personRecord("J. SILVA", 2024, common.Document{Kind: common.DocCPFPartial, Value: "456789"})
	res, err := r.Resolve(masked, common.EntityPerson)

	var ambig *common.AmbiguousMatchError
	if !errors.As(err, &ambig) {
		t.Fatalf("error = %v, want AmbiguousMatchError", err)
	}
	if res.Method != MethodNew {
		t.Fatalf("method = %q, want %q", res.Method, MethodNew)
	}
	if got := len(r.Batch().NewEntities); got != 3 {
		t.Fatalf("new entities = %d, want 3", got)
	}
}

func TestResolveFuzzyCapped(t *testing.T) {
	r := NewResolver(Config{}, State{})
	first, _ := r.Resolve(personRecord("MARIA APARECIDA DOS SANTOS", 2022), common.EntityPerson)

	res, err := r.Resolve(personRecord("MARIA APARECIDA DOS SANTOS", 2023), common.EntityPerson)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.EntityID != first.EntityID {
		t.Fatalf("resolved to %q, want %q", res.EntityID, first.EntityID)
	}
	if res.Method != MethodFuzzy {
		t.Fatalf("method = %q, want %q", res.Method, MethodFuzzy)
	}
	if res.Confidence != 95 {
		t.Fatalf("confidence = %d, want 95", res.Confidence)
	}
}

func TestResolvePrecisionBias(t *testing.T) {
	r := NewResolver(Config{Strategy: Exact{}}, State{})
	r.Resolve(personRecord("ANTONIO CARLOS PEREIRA", 2022), common.EntityPerson)

	res, err := r.Resolve(personRecord("BRUNO HENRIQUE LIMA", 2022), common.EntityPerson)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Method != MethodNew {
		t.Fatalf("method = %q, want %q", res.Method, MethodNew)
	}
	if got := len(r.Batch().NewEntities); got != 2 {
		t.Fatalf("new entities = %d, want 2", got)
	}
}

func TestResolveMergesOnSharedDocuments(t *testing.T) {
	r := NewResolver(Config{Strategy: Exact{}}, State{})
	byCPF, _ := r.Resolve(personRecord("JOAO DA SILVA", 2022,
		common.Document{Kind: common.DocCPF, Value: "12345678909"}), common.EntityPerson)
	byMatricula, _ := r.Resolve(personRecord("J SILVA", 2023,
		common.Document{Kind: common.DocMatricula, Value: "portal:4411"}), common.EntityPerson)
	if byCPF.EntityID == byMatricula.EntityID {
		t.Fatal("setup: expected two separate entities")
	}

	both, err := r.Resolve(personRecord("JOAO DA SILVA", 2024,
		common.Document{Kind: common.DocCPF, Value: "12345678909"},
		common.Document{Kind: common.DocMatricula, Value: "portal:4411"}), common.EntityPerson)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if both.EntityID != byCPF.EntityID {
		t.Fatalf("canonical = %q, want %q", both.EntityID, byCPF.EntityID)
	}

	b := r.Batch()
	if len(b.Merges) != 1 {
		t.Fatalf("merges = %d, want 1", len(b.Merges))
	}
	if b.Merges[0].OldID != byMatricula.EntityID || b.Merges[0].NewID != byCPF.EntityID {
		t.Fatalf("merge %q -> %q, want %q -> %q",
			b.Merges[0].OldID, b.Merges[0].NewID, byMatricula.EntityID, byCPF.EntityID)
	}

	// Live associations follow the canonical entity.
	again, _ := r.Resolve(personRecord("J SILVA", 2024,
		common.Document{Kind: common.DocMatricula, Value: "portal:4411"}), common.EntityPerson)
	if again.EntityID != byCPF.EntityID {
		t.Fatalf("matricula resolves to %q, want %q", again.EntityID, byCPF.EntityID)
	}
}

func TestResolveBody(t *testing.T) {
	r := NewResolver(Config{}, State{})
	a := r.ResolveBody("SECRETARIA DE SAUDE")
	b := r.ResolveBody("SECRETARIA DE SAUDE")
	c := r.ResolveBody("SECRETARIA DE OBRAS")
	if a != b {
		t.Fatalf("same body resolved to %q and %q", a, b)
	}
	if a == c {
		t.Fatal("distinct bodies share an id")
	}
}

func TestResolverLoadsExistingState(t *testing.T) {
	state := State{
		Entities: []common.Entity{{
			ID:          "ent_1",
			Type:        common.EntityPerson,
			DisplayName: "JOAO DA SILVA",
			Attributes:  map[string]string{"years": "2022"},
		}},
		Documents: map[DocKey]string{
			{Kind: common.DocCPF, Value: "12345678909"}: "ent_1",
		},
	}
	r := NewResolver(Config{}, state)

	res, err := r.Resolve(personRecord("JOAO DA SILVA", 2023,
		common.Document{Kind: common.DocCPF, Value: "12345678909"}), common.EntityPerson)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.EntityID != "ent_1" {
		t.Fatalf("resolved to %q, want ent_1", res.EntityID)
	}

	b := r.Batch()
	if len(b.NewEntities) != 0 {
		t.Fatalf("new entities = %d, want 0", len(b.NewEntities))
	}
	if len(b.Enriched) != 1 || b.Enriched[0].ID != "ent_1" {
		t.Fatalf("enriched = %+v, want ent_1", b.Enriched)
	}
	if b.Enriched[0].Attributes["years"] != "2022,2023" {
		t.Fatalf("years = %q, want 2022,2023", b.Enriched[0].Attributes["years"])
	}
}

func TestAbbreviationCompatible(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"J. SILVA", "JOAO DA SILVA", true},
		{"JOAO DA SILVA", "J. SILVA", true},
		{"MARIA A SANTOS", "MARIA APARECIDA DOS SANTOS", true},
		{"J. SILVA", "JOSE SANTOS", false},
		{"PEDRO SILVA", "PAULO SILVA", false},
		{"", "JOAO", false},
	}
	for _, tt := range tests {
		if got := abbreviationCompatible(tt.a, tt.b); got != tt.want {
			t.Fatalf("abbreviationCompatible(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
