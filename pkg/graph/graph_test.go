package graph

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/walbarellos/Sentinela/pkg/common"
	"github.com/walbarellos/Sentinela/pkg/resolve"
)

func travelInput(entityID, dest string, from, to time.Time, hash string) Input {
	return Input{
		Resolution: resolve.Resolution{
			Record: common.Record{
				Kind:       common.KindTravel,
				OccurredAt: from,
				OccurredTo: to,
				Amount:     decimal.NewFromInt(1000),
				Title:      "Viagem: " + dest,
				Attrs:      map[string]string{"destino": dest},
				Source:     "portal",
				SourceHash: hash,
			},
			EntityID: entityID,
		},
	}
}

func hashOf(n byte) string {
	b := make([]byte, 40)
	for i := range b {
		b[i] = 'a' + n
	}
	return string(b)
}

// deriveFrom builds the events for the inputs and derives edges from them the
// way the pipeline does, through a snapshot.
func deriveFrom(inputs []Input, merges []common.EntityMerge) Result {
	built := Build(inputs)
	snap := common.NewSnapshot(time.Now(), nil, built.Events, nil, merges)
	return Derive(snap)
}

func TestBuildCarriesResolvedEndpoints(t *testing.T) {
	in := Input{
		Resolution: resolve.Resolution{
			Record: common.Record{
				Kind:       common.KindPayroll,
				OccurredAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
				Amount:     decimal.NewFromInt(4000),
				Title:      "Folha 03/2024",
				Attrs: map[string]string{
					"cargo": "Analista", "ch": "40", "vinculo": "Efetivo", "secretaria": "Saude",
				},
				Source:     "portal",
				SourceHash: hashOf(0),
			},
			EntityID: "person_1",
		},
		BodyID: "body_1",
	}

	res := Build([]Input{in})
	if len(res.Events) != 1 {
		t.Fatalf("events = %d, want 1", len(res.Events))
	}
	ev := res.Events[0]
	if ev.ID != EventID(in.Resolution.Record) {
		t.Fatalf("event id = %q", ev.ID)
	}
	if ev.Attributes[AttrEntityID] != "person_1" || ev.Attributes[AttrBodyID] != "body_1" {
		t.Fatalf("endpoint attrs = %+v", ev.Attributes)
	}
	for _, k := range []string{"cargo", "ch", "vinculo"} {
		if ev.Attributes[k] != in.Resolution.Record.Attrs[k] {
			t.Fatalf("attr %q = %q, want %q", k, ev.Attributes[k], in.Resolution.Record.Attrs[k])
		}
	}
	if len(res.Edges) != 0 {
		t.Fatalf("edges = %d, want none from build", len(res.Edges))
	}
}

func TestDerivePayrollEdges(t *testing.T) {
	in := Input{
		Resolution: resolve.Resolution{
			Record: common.Record{
				Kind:       common.KindPayroll,
				OccurredAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
				Amount:     decimal.NewFromInt(4000),
				Title:      "Folha 03/2024",
				Attrs:      map[string]string{"cargo": "Analista", "secretaria": "Saude"},
				Source:     "portal",
				SourceHash: hashOf(0),
			},
			EntityID: "person_1",
		},
		BodyID: "body_1",
	}

	res := deriveFrom([]Input{in}, nil)
	if len(res.Edges) != 2 {
		t.Fatalf("edges = %d, want 2", len(res.Edges))
	}

	var employment, participant *common.Edge
	for i := range res.Edges {
		switch res.Edges[i].Type {
		case common.EdgeEmployment:
			employment = &res.Edges[i]
		case common.EdgeParticipant:
			participant = &res.Edges[i]
		}
	}
	if employment == nil || participant == nil {
		t.Fatalf("edge types = %+v", res.Edges)
	}
	if employment.SourceID != "person_1" || employment.TargetID != "body_1" {
		t.Fatalf("employment = %+v", employment)
	}
	if employment.Attributes["cargo"] != "Analista" {
		t.Fatalf("cargo = %q", employment.Attributes["cargo"])
	}
	if !participant.TargetIsEvent {
		t.Fatal("participant edge must target the event")
	}
}

func TestDeriveAwardSumsValues(t *testing.T) {
	mk := func(hash string, amount int64) Input {
		return Input{
			Resolution: resolve.Resolution{
				Record: common.Record{
					Kind:       common.KindContract,
					OccurredAt: time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC),
					Amount:     decimal.NewFromInt(amount),
					Title:      "Contrato",
					Attrs:      map[string]string{"secretaria": "Obras"},
					Source:     "portal",
					SourceHash: hash,
				},
				EntityID: "company_1",
			},
			BodyID: "body_1",
		}
	}

	res := deriveFrom([]Input{mk(hashOf(0), 30000), mk(hashOf(1), 27278)}, nil)

	var award *common.Edge
	for i := range res.Edges {
		if res.Edges[i].Type == common.EdgeContractAward {
			award = &res.Edges[i]
		}
	}
	if award == nil {
		t.Fatal("missing award edge")
	}
	if award.Weight.String() != "57278" {
		t.Fatalf("weight = %s, want the summed value 57278", award.Weight)
	}
	if award.Attributes["contratos"] != "2" {
		t.Fatalf("contratos = %q, want 2", award.Attributes["contratos"])
	}
}

func TestDeriveCoTravel(t *testing.T) {
	from := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC)
	inputs := []Input{
		travelInput("p1", "BRASILIA", from, to, hashOf(0)),
		travelInput("p2", "BRASILIA", from, to, hashOf(1)),
		travelInput("p3", "BRASILIA", from.AddDate(0, 0, 30), to.AddDate(0, 0, 30), hashOf(2)),
		travelInput("p4", "CURITIBA", from, to, hashOf(3)),
	}

	res := deriveFrom(inputs, nil)

	var coTravel []common.Edge
	for _, e := range res.Edges {
		if e.Type == common.EdgeCoTravel {
			coTravel = append(coTravel, e)
		}
	}
	if len(coTravel) != 1 {
		t.Fatalf("co-travel edges = %d, want 1", len(coTravel))
	}
	if coTravel[0].SourceID != "p1" || coTravel[0].TargetID != "p2" {
		t.Fatalf("pair = %s -> %s", coTravel[0].SourceID, coTravel[0].TargetID)
	}
	if coTravel[0].Attributes["destino"] != "BRASILIA" {
		t.Fatalf("destino = %q", coTravel[0].Attributes["destino"])
	}
}

func TestDeriveCoTravelCountsRecurrence(t *testing.T) {
	mar10 := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	mar12 := time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC)
	may10 := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)
	may12 := time.Date(2024, 5, 12, 0, 0, 0, 0, time.UTC)
	inputs := []Input{
		travelInput("p1", "BRASILIA", mar10, mar12, hashOf(0)),
		travelInput("p2", "BRASILIA", mar10, mar12, hashOf(1)),
		travelInput("p1", "BRASILIA", may10, may12, hashOf(2)),
		travelInput("p2", "BRASILIA", may10, may12, hashOf(3)),
	}

	res := deriveFrom(inputs, nil)

	for _, e := range res.Edges {
		if e.Type == common.EdgeCoTravel {
			if e.Weight.String() != "2" {
				t.Fatalf("weight = %s, want 2", e.Weight)
			}
			return
		}
	}
	t.Fatal("missing co-travel edge")
}

func TestDeriveOwnership(t *testing.T) {
	in := Input{
		Resolution: resolve.Resolution{
			Record: common.Record{
				Kind:       common.KindCompany,
				OccurredAt: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
				Attrs:      map[string]string{"qualificacao": "Socio-Administrador"},
				Source:     "rfb",
				SourceHash: hashOf(0),
			},
			EntityID: "company_1",
		},
		PartnerID: "person_1",
	}

	res := deriveFrom([]Input{in}, nil)

	var ownership *common.Edge
	for i := range res.Edges {
		if res.Edges[i].Type == common.EdgeOwnership {
			ownership = &res.Edges[i]
		}
	}
	if ownership == nil {
		t.Fatalf("missing ownership edge, edges = %+v", res.Edges)
	}
	if ownership.SourceID != "person_1" || ownership.TargetID != "company_1" {
		t.Fatalf("edge = %+v", ownership)
	}
	if ownership.Attributes["qualificacao"] != "Socio-Administrador" {
		t.Fatalf("qualificacao = %q", ownership.Attributes["qualificacao"])
	}
}

func TestBuildSkipsMissingEntity(t *testing.T) {
	in := Input{
		Resolution: resolve.Resolution{
			Record: common.Record{
				Kind:       common.KindPayroll,
				Amount:     decimal.NewFromInt(4000),
				Source:     "portal",
				SourceHash: hashOf(0),
			},
		},
	}

	res := Build([]Input{in})
	if len(res.Skipped) != 1 {
		t.Fatalf("skipped = %d, want 1", len(res.Skipped))
	}
	if len(res.Events) != 0 {
		t.Fatalf("events = %d, want none", len(res.Events))
	}
}

func TestDeriveSpansBatches(t *testing.T) {
	contract := Input{
		Resolution: resolve.Resolution{
			Record: common.Record{
				Kind:       common.KindContract,
				OccurredAt: time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC),
				Amount:     decimal.NewFromInt(30000),
				Attrs:      map[string]string{"secretaria": "Obras"},
				Source:     "portal",
				SourceHash: hashOf(0),
			},
			EntityID: "company_1",
		},
		BodyID: "body_1",
	}
	payroll := Input{
		Resolution: resolve.Resolution{
			Record: common.Record{
				Kind:       common.KindPayroll,
				OccurredAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
				Amount:     decimal.NewFromInt(4000),
				Attrs:      map[string]string{"cargo": "Analista"},
				Source:     "portal",
				SourceHash: hashOf(1),
			},
			EntityID: "person_1",
		},
		BodyID: "body_2",
	}

	// Two batches land their events separately; derivation over the union
	// must still produce the first batch's edges.
	first := Build([]Input{contract})
	second := Build([]Input{payroll})
	events := append(append([]common.Event(nil), first.Events...), second.Events...)
	snap := common.NewSnapshot(time.Now(), nil, events, nil, nil)

	res := Derive(snap)
	var award bool
	for _, e := range res.Edges {
		if e.Type == common.EdgeContractAward && e.SourceID == "company_1" {
			award = true
		}
	}
	if !award {
		t.Fatal("award edge from the earlier batch missing after rederivation")
	}
}

func TestDeriveFollowsMerges(t *testing.T) {
	in := Input{
		Resolution: resolve.Resolution{
			Record: common.Record{
				Kind:       common.KindPayroll,
				OccurredAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
				Amount:     decimal.NewFromInt(4000),
				Attrs:      map[string]string{"cargo": "Analista"},
				Source:     "portal",
				SourceHash: hashOf(0),
			},
			EntityID: "person_old",
		},
		BodyID: "body_1",
	}
	merges := []common.EntityMerge{{OldID: "person_old", NewID: "person_new"}}

	res := deriveFrom([]Input{in}, merges)
	for _, e := range res.Edges {
		if e.SourceID == "person_old" {
			t.Fatalf("edge %s still points at the merged-away entity", e.ID)
		}
		if e.Type == common.EdgeEmployment && e.SourceID != "person_new" {
			t.Fatalf("employment source = %q, want person_new", e.SourceID)
		}
	}
}

func TestDeriveDeterministic(t *testing.T) {
	mar10 := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	mar12 := time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC)
	may10 := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)
	may12 := time.Date(2024, 5, 12, 0, 0, 0, 0, time.UTC)

	// The same pair shares trips to two destinations; the derived rows must
	// be identical however the inputs arrive.
	inputs := []Input{
		travelInput("p1", "BRASILIA", mar10, mar12, hashOf(0)),
		travelInput("p2", "BRASILIA", mar10, mar12, hashOf(1)),
		travelInput("p1", "CURITIBA", may10, may12, hashOf(2)),
		travelInput("p2", "CURITIBA", may10, may12, hashOf(3)),
		travelInput("p3", "BRASILIA", mar10, mar12, hashOf(4)),
	}
	shuffled := []Input{inputs[3], inputs[1], inputs[4], inputs[0], inputs[2]}

	for trial := 0; trial < 10; trial++ {
		first := deriveFrom(inputs, nil)
		second := deriveFrom(shuffled, nil)

		if len(first.Edges) != len(second.Edges) {
			t.Fatalf("edge counts differ: %d vs %d", len(first.Edges), len(second.Edges))
		}
		for i := range first.Edges {
			a, b := first.Edges[i], second.Edges[i]
			if a.ID != b.ID || a.Weight.String() != b.Weight.String() {
				t.Fatalf("edge %d differs: %+v vs %+v", i, a, b)
			}
			if a.Attributes["destino"] != b.Attributes["destino"] {
				t.Fatalf("edge %s destino differs: %q vs %q", a.ID, a.Attributes["destino"], b.Attributes["destino"])
			}
		}
	}
}
