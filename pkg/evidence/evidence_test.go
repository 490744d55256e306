package evidence

import (
	"errors"
	"testing"
	"time"

	"github.com/walbarellos/Sentinela/pkg/common"
)

func sourceRecord() common.SourceRecord {
	return common.SourceRecord{
		Source:     "portal",
		SourceKind: common.KindPayroll,
		CapturedAt: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		Locator:    "https://portal.example/folha.csv#L7",
		Payload: map[string]string{
			"nome":            "João da Silva",
			"cpf":             "123.456.789-09",
			"salario_liquido": "4.000,00",
			"endereco":        "Rua das Flores 10",
		},
	}
}

func TestFromRecordMasksDocuments(t *testing.T) {
	ev := FromRecord(sourceRecord(), true)

	if ev.Excerpt["cpf"] != "***.456.789-**" {
		t.Fatalf("cpf = %q, want masked", ev.Excerpt["cpf"])
	}
	if ev.Excerpt["endereco"] != "[redigido]" {
		t.Fatalf("endereco = %q, want redacted", ev.Excerpt["endereco"])
	}
	if ev.Excerpt["salario_liquido"] != "4.000,00" {
		t.Fatalf("salario = %q, want kept", ev.Excerpt["salario_liquido"])
	}
	if !ev.PIIRedacted {
		t.Fatal("pii_redacted must be true")
	}
	if ev.ContentSHA256 == "" || ev.ID != "ev_"+ev.ContentSHA256[:20] {
		t.Fatalf("id = %q, hash = %q", ev.ID, ev.ContentSHA256)
	}
}

func TestFromRecordMasksDocumentsEvenUnredacted(t *testing.T) {
	ev := FromRecord(sourceRecord(), false)
	if ev.Excerpt["cpf"] != "***.456.789-**" {
		t.Fatalf("cpf = %q, documents must stay masked", ev.Excerpt["cpf"])
	}
	if ev.Excerpt["endereco"] == "[redigido]" {
		t.Fatal("non-document fields follow the redact flag")
	}
}

func TestLinkerValidate(t *testing.T) {
	l := NewLinker()
	ev := FromRecord(sourceRecord(), true)

	insight := common.Insight{ID: "ins_1", Kind: "salary_outlier", EdgeIDs: []string{"edg_1"}}
	l.Add(ev, "insight", "ins_1", RoleSupports)

	err := l.Validate([]common.Insight{insight})
	var unlinked *common.UnlinkedFindingError
	if !errors.As(err, &unlinked) {
		t.Fatalf("error = %v, want UnlinkedFindingError", err)
	}
	if unlinked.RefKind != "edge" || unlinked.RefID != "edg_1" {
		t.Fatalf("gap = %s %s", unlinked.RefKind, unlinked.RefID)
	}

	l.Add(ev, "edge", "edg_1", RoleSourceRecord)
	if err := l.Validate([]common.Insight{insight}); err != nil {
		t.Fatalf("fully covered finding rejected: %v", err)
	}
}

func TestLinkerSourcesFor(t *testing.T) {
	l := NewLinker()
	portal := FromRecord(sourceRecord(), true)
	rfb := sourceRecord()
	rfb.Source = "rfb"
	rfbEv := FromRecord(rfb, true)

	l.Add(portal, "insight", "ins_1", RoleSourceRecord)
	l.Add(rfbEv, "insight", "ins_1", RoleSupports)
	l.Add(portal, "insight", "ins_1", RoleSupports)
	l.Add(portal, "insight", "ins_2", RoleSupports)

	got := l.SourcesFor("insight", "ins_1")
	if len(got) != 2 || got[0] != "portal" || got[1] != "rfb" {
		t.Fatalf("sources = %v, want [portal rfb]", got)
	}
	if got := l.SourcesFor("insight", "ins_none"); len(got) != 0 || got == nil {
		t.Fatalf("sources for unlinked ref = %v, want empty non-nil", got)
	}
}

func TestLinkerDeduplicatesLinks(t *testing.T) {
	l := NewLinker()
	ev := FromRecord(sourceRecord(), true)
	l.Add(ev, "insight", "ins_1", RoleSupports)
	l.Add(ev, "insight", "ins_1", RoleSupports)

	if got := len(l.Links()); got != 1 {
		t.Fatalf("links = %d, want 1", got)
	}
	if got := len(l.Evidence()); got != 1 {
		t.Fatalf("evidence = %d, want 1", got)
	}
}
