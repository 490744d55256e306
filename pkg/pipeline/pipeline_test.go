package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/walbarellos/Sentinela/pkg/common"
	"github.com/walbarellos/Sentinela/pkg/detect"
	"github.com/walbarellos/Sentinela/pkg/store"
	"github.com/walbarellos/Sentinela/pkg/store/memory"
)

func payrollSource(nome, cpf, cargo, salario, competencia string) common.SourceRecord {
	return common.SourceRecord{
		Source:     "portal",
		SourceKind: common.KindPayroll,
		CapturedAt: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		Locator:    "https://portal.example/folha.csv",
		Payload: map[string]string{
			"nome":            nome,
			"cpf":             cpf,
			"cargo":           cargo,
			"secretaria":      "Secretaria de Administração",
			"salario_liquido": salario,
			"competencia":     competencia,
		},
	}
}

func contractSource(empresa, cnpj, valor, data string) common.SourceRecord {
	return common.SourceRecord{
		Source:     "portal",
		SourceKind: common.KindContract,
		CapturedAt: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		Locator:    "https://portal.example/contratos.csv",
		Payload: map[string]string{
			"empresa_nome":  empresa,
			"cnpj":          cnpj,
			"valor_total":   valor,
			"secretaria":    "Secretaria de Obras",
			"objeto":        "Serviços de manutenção",
			"data_contrato": data,
		},
	}
}

func travelSource(nome, destino, saida, retorno string) common.SourceRecord {
	return common.SourceRecord{
		Source:     "portal",
		SourceKind: common.KindTravel,
		CapturedAt: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		Locator:    "https://portal.example/diarias.csv",
		Payload: map[string]string{
			"servidor_nome": nome,
			"destino":       destino,
			"valor":         "1.850,00",
			"data_saida":    saida,
			"data_retorno":  retorno,
		},
	}
}

func outlierCorpus() []common.SourceRecord {
	var sources []common.SourceRecord
	cohort := []struct {
		name, salary string
	}{
		{"Marcos Pereira Lima", "3.800,00"},
		{"Juliana Castro Alves", "3.900,00"},
		{"Ricardo Nunes Barbosa", "4.000,00"},
		{"Patricia Gomes Duarte", "4.100,00"},
		{"Eduardo Faria Campos", "4.200,00"},
	}
	for _, c := range cohort {
		sources = append(sources, payrollSource(c.name, "", "Analista", c.salary, "03/2024"))
	}
	sources = append(sources, payrollSource("Fulano Suspeito", "", "Analista", "40.000,00", "03/2024"))
	return sources
}

func TestRunEndToEnd(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	p := New(Options{Store: st, RedactExcerpts: true})

	sources := outlierCorpus()
	sources = append(sources,
		contractSource("Construtora Alfa Ltda", "12.345.678/0001-95", "20.000,00", "10/02/2024"),
		contractSource("Construtora Alfa Ltda", "12.345.678/0001-95", "20.000,00", "10/03/2024"),
		contractSource("Construtora Alfa Ltda", "12.345.678/0001-95", "20.000,00", "10/04/2024"),
		travelSource("Ana Souza", "Brasília", "10/03/2024", "12/03/2024"),
		travelSource("Bruno Costa", "Brasília", "10/03/2024", "12/03/2024"),
		travelSource("Carla Dias", "Brasília", "10/03/2024", "12/03/2024"),
	)

	run, err := p.Run(ctx, sources)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.Status != common.RunSucceeded {
		t.Fatalf("status = %q, want succeeded", run.Status)
	}
	if run.Counters["records_normalized"] != len(sources) {
		t.Fatalf("normalized = %d, want %d", run.Counters["records_normalized"], len(sources))
	}
	if run.Counters["insights_withheld"] != 0 {
		t.Fatalf("withheld = %d, want 0", run.Counters["insights_withheld"])
	}

	insights, err := st.QueryInsights(ctx, store.InsightFilter{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}

	kinds := map[string]common.Insight{}
	for _, in := range insights {
		kinds[in.Kind] = in
		if in.RunID != run.ID {
			t.Fatalf("insight %s run = %q, want %q", in.ID, in.RunID, run.ID)
		}
		evs, err := st.EvidenceForInsight(ctx, in.ID)
		if err != nil {
			t.Fatalf("evidence: %v", err)
		}
		if len(evs) == 0 {
			t.Fatalf("insight %s (%s) stored without evidence", in.ID, in.Kind)
		}
		if len(in.Sources) == 0 {
			t.Fatalf("insight %s (%s) stored without sources", in.ID, in.Kind)
		}
		if in.Sources[0] != "portal" {
			t.Fatalf("insight %s sources = %v", in.ID, in.Sources)
		}
	}

	outlier, ok := kinds[detect.KindSalaryOutlier]
	if !ok {
		t.Fatal("missing salary outlier insight")
	}
	if outlier.Severity != common.SeverityCritico {
		t.Fatalf("outlier severity = %s, want CRITICO", outlier.Severity)
	}
	if _, ok := kinds[detect.KindBidSplitting]; !ok {
		t.Fatal("missing bid splitting insight")
	}
	block, ok := kinds[detect.KindBlockTravel]
	if !ok {
		t.Fatal("missing block travel insight")
	}
	if len(block.EntityIDs) != 3 {
		t.Fatalf("block travel entities = %d, want 3", len(block.EntityIDs))
	}

	// Severity ordering from the store.
	for i := 1; i < len(insights); i++ {
		if insights[i-1].Severity.Rank() < insights[i].Severity.Rank() {
			t.Fatalf("insights out of severity order at %d", i)
		}
	}
}

func TestRunIdempotentReprocessing(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	p := New(Options{Store: st, RedactExcerpts: true})

	sources := outlierCorpus()

	first, err := p.Run(ctx, sources)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := p.Run(ctx, sources)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if second.Counters["entities_new"] != 0 {
		t.Fatalf("second run created %d entities, want 0", second.Counters["entities_new"])
	}
	if first.Counters["events"] != second.Counters["events"] {
		t.Fatalf("event counts differ: %d vs %d", first.Counters["events"], second.Counters["events"])
	}

	snap, err := st.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap.Events) != first.Counters["events"] {
		t.Fatalf("events duplicated: %d in store, %d per run", len(snap.Events), first.Counters["events"])
	}

	// Findings are append-only: the rerun adds its own rows.
	firstRun, _ := st.QueryInsights(ctx, store.InsightFilter{RunID: first.ID})
	secondRun, _ := st.QueryInsights(ctx, store.InsightFilter{RunID: second.ID})
	if len(firstRun) == 0 || len(firstRun) != len(secondRun) {
		t.Fatalf("insight rows per run: %d vs %d", len(firstRun), len(secondRun))
	}
}

func TestRunIncrementalBatchesKeepEdges(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	p := New(Options{Store: st, RedactExcerpts: true})

	contracts := []common.SourceRecord{
		contractSource("Construtora Alfa Ltda", "12.345.678/0001-95", "20.000,00", "10/02/2024"),
		contractSource("Construtora Alfa Ltda", "12.345.678/0001-95", "20.000,00", "10/03/2024"),
		contractSource("Construtora Alfa Ltda", "12.345.678/0001-95", "20.000,00", "10/04/2024"),
	}
	if _, err := p.Run(ctx, contracts); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// An unrelated payroll batch must not wipe the contract graph.
	second, err := p.Run(ctx, outlierCorpus())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	snap, err := st.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	awards := 0
	for _, e := range snap.Edges {
		if e.Type == common.EdgeContractAward {
			awards++
		}
	}
	if awards != 1 {
		t.Fatalf("award edges after second batch = %d, want 1", awards)
	}

	// The second run re-detects findings resting on first-batch rows and
	// must back them with that batch's stored evidence instead of
	// withholding them.
	if second.Counters["insights_withheld"] != 0 {
		t.Fatalf("withheld = %d, want 0", second.Counters["insights_withheld"])
	}
	splitting, err := st.QueryInsights(ctx, store.InsightFilter{Kind: detect.KindBidSplitting, RunID: second.ID})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(splitting) != 1 {
		t.Fatalf("bid splitting insights in second run = %d, want 1", len(splitting))
	}
	evs, err := st.EvidenceForInsight(ctx, splitting[0].ID)
	if err != nil {
		t.Fatalf("evidence: %v", err)
	}
	if len(evs) == 0 {
		t.Fatal("re-detected insight stored without evidence")
	}
}

func TestRunDetectorsReusesStoredEvidence(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	p := New(Options{Store: st, RedactExcerpts: true})

	if _, err := p.Run(ctx, outlierCorpus()); err != nil {
		t.Fatalf("ingest run: %v", err)
	}

	run, err := p.RunDetectors(ctx)
	if err != nil {
		t.Fatalf("detector run: %v", err)
	}
	if run.Status != common.RunSucceeded {
		t.Fatalf("status = %q, want succeeded", run.Status)
	}
	if run.Counters["insights"] == 0 {
		t.Fatal("detector run stored no insights")
	}
	if run.Counters["insights_withheld"] != 0 {
		t.Fatalf("withheld = %d, want 0", run.Counters["insights_withheld"])
	}

	insights, err := st.QueryInsights(ctx, store.InsightFilter{RunID: run.ID})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(insights) != run.Counters["insights"] {
		t.Fatalf("stored %d insights, counter says %d", len(insights), run.Counters["insights"])
	}
	for _, in := range insights {
		evs, err := st.EvidenceForInsight(ctx, in.ID)
		if err != nil {
			t.Fatalf("evidence: %v", err)
		}
		if len(evs) == 0 {
			t.Fatalf("re-detected insight %s (%s) without evidence", in.ID, in.Kind)
		}
	}
}

func TestRunCrossRegimeWorkedExample(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	p := New(Options{Store: st, RedactExcerpts: true})

	run, err := p.Run(ctx, []common.SourceRecord{
		payrollSource("João da Silva", "123.456.789-09", "Analista", "4.000,00", "03/2022"),
		payrollSource("J. Silva", "***.456.789-**", "Analista", "4.100,00", "03/2024"),
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.Counters["entities_new"] != 2 {
		// The person plus the resolved body.
		t.Fatalf("entities_new = %d, want 2", run.Counters["entities_new"])
	}
	if run.Counters["matches_cross_regime"] != 1 {
		t.Fatalf("cross regime matches = %d, want 1", run.Counters["matches_cross_regime"])
	}

	insights, err := st.QueryInsights(ctx, store.InsightFilter{Kind: detect.KindCrossRegimeIdentity})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(insights) != 1 {
		t.Fatalf("cross regime insights = %d, want 1", len(insights))
	}
	e, err := st.GetEntity(ctx, insights[0].EntityIDs[0])
	if err != nil {
		t.Fatalf("entity: %v", err)
	}
	if e.Attributes["cross_regime_match"] != "true" {
		t.Fatalf("attrs = %+v", e.Attributes)
	}
	if e.DisplayName != "JOAO DA SILVA" {
		t.Fatalf("display name = %q", e.DisplayName)
	}
}

func TestRunDropsMalformedRecords(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	p := New(Options{Store: st, RedactExcerpts: true})

	bad := common.SourceRecord{
		Source:     "portal",
		SourceKind: common.KindPayroll,
		CapturedAt: time.Now(),
		Payload:    map[string]string{"nome": "Sem Salário"},
	}

	run, err := p.Run(ctx, append(outlierCorpus(), bad))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.Status != common.RunSucceeded {
		t.Fatalf("status = %q", run.Status)
	}
	if run.Counters["records_malformed"] != 1 {
		t.Fatalf("malformed = %d, want 1", run.Counters["records_malformed"])
	}
}
