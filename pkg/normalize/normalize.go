// Package normalize reduces raw source records to the single canonical shape
// the resolver consumes. Normalization is pure: a record either maps to a
// clean output or fails with a MalformedRecordError and is dropped upstream.
package normalize

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/walbarellos/Sentinela/pkg/common"
)

func malformed(src common.SourceRecord, field string) error {
	return &common.MalformedRecordError{Kind: src.SourceKind, Field: field, Source: src.Source}
}

func pick(payload map[string]string, keys ...string) string {
	for _, k := range keys {
		if v, ok := payload[k]; ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// Record normalizes one raw record. Required fields depend on the record
// kind; their absence yields a MalformedRecordError.
func Record(src common.SourceRecord) (common.Record, error) {
	out := common.Record{
		Kind:       src.SourceKind,
		Source:     src.Source,
		SourceKind: src.SourceKind,
		CapturedAt: src.CapturedAt,
		Locator:    src.Locator,
		SourceHash: src.Hash(),
		Attrs:      map[string]string{},
	}

	var err error
	switch src.SourceKind {
	case common.KindPayroll:
		err = normalizePayroll(src, &out)
	case common.KindContract:
		err = normalizeContract(src, &out)
	case common.KindTravel:
		err = normalizeTravel(src, &out)
	case common.KindCompany:
		err = normalizeCompany(src, &out)
	default:
		err = malformed(src, "source_kind")
	}
	if err != nil {
		return common.Record{}, err
	}

	if !out.OccurredAt.IsZero() {
		out.Year = out.OccurredAt.Year()
	}
	return out, nil
}

func normalizePayroll(src common.SourceRecord, out *common.Record) error {
	rawName := pick(src.Payload, "nome", "servidor_nome")
	matricula := pick(src.Payload, "matricula")

	// Older exports pack "matricula-nome" into a single servidor column.
	if rawName == "" {
		if serv := pick(src.Payload, "servidor"); serv != "" {
			if idx := strings.Index(serv, "-"); idx > 0 {
				matricula = strings.TrimSpace(serv[:idx])
				rawName = strings.TrimSpace(serv[idx+1:])
			} else {
				rawName = serv
			}
		}
	}
	if rawName == "" {
		return malformed(src, "nome")
	}

	amountRaw := pick(src.Payload, "salario_liquido", "valor_liquido", "valor")
	if amountRaw == "" {
		return malformed(src, "salario_liquido")
	}
	amount, err := Money(amountRaw)
	if err != nil {
		return malformed(src, "salario_liquido")
	}

	out.RawName = rawName
	out.Name = Name(rawName)
	out.Amount = amount

	if doc, ok := CPF(pick(src.Payload, "cpf")); ok {
		out.Documents = append(out.Documents, doc)
	}
	if matricula != "" {
		if doc, ok := Matricula(src.Source, matricula); ok {
			out.Documents = append(out.Documents, doc)
		}
	}

	if comp := pick(src.Payload, "competencia", "referencia"); comp != "" {
		if t, err := Date(comp); err == nil {
			out.OccurredAt = t
		}
	}
	if out.OccurredAt.IsZero() {
		out.OccurredAt = src.CapturedAt
	}

	for _, k := range []string{"cargo", "ch", "vinculo", "secretaria", "lotacao"} {
		if v := pick(src.Payload, k); v != "" {
			out.Attrs[k] = v
		}
	}
	out.Title = "Folha " + out.OccurredAt.Format("01/2006")
	return nil
}

func normalizeContract(src common.SourceRecord, out *common.Record) error {
	rawName := pick(src.Payload, "empresa_nome", "empresa", "contratado")
	if rawName == "" {
		return malformed(src, "empresa_nome")
	}
	amountRaw := pick(src.Payload, "valor_total", "valor")
	if amountRaw == "" {
		return malformed(src, "valor_total")
	}
	amount, err := Money(amountRaw)
	if err != nil {
		return malformed(src, "valor_total")
	}
	body := pick(src.Payload, "secretaria", "unidade", "orgao")
	if body == "" {
		return malformed(src, "secretaria")
	}

	out.RawName = rawName
	out.Name = Name(rawName)
	out.Amount = amount
	out.Attrs["secretaria"] = body

	if doc, ok := CNPJ(pick(src.Payload, "cnpj", "empresa_cnpj")); ok {
		out.Documents = append(out.Documents, doc)
	}
	if d := pick(src.Payload, "data_contrato", "data"); d != "" {
		if t, err := Date(d); err == nil {
			out.OccurredAt = t
		}
	}
	if out.OccurredAt.IsZero() {
		out.OccurredAt = src.CapturedAt
	}
	if obj := pick(src.Payload, "objeto"); obj != "" {
		out.Attrs["objeto"] = obj
		out.Title = obj
	} else {
		out.Title = "Contrato " + out.Name
	}
	return nil
}

func normalizeTravel(src common.SourceRecord, out *common.Record) error {
	rawName := pick(src.Payload, "servidor_nome", "nome", "servidor")
	if rawName == "" {
		return malformed(src, "servidor_nome")
	}
	amountRaw := pick(src.Payload, "valor")
	if amountRaw == "" {
		return malformed(src, "valor")
	}
	amount, err := Money(amountRaw)
	if err != nil {
		return malformed(src, "valor")
	}
	dest := pick(src.Payload, "destino")
	if dest == "" {
		return malformed(src, "destino")
	}
	departure, err := Date(pick(src.Payload, "data_saida"))
	if err != nil {
		return malformed(src, "data_saida")
	}

	out.RawName = rawName
	out.Name = Name(rawName)
	out.Amount = amount
	out.OccurredAt = departure
	out.Attrs["destino"] = Name(dest)

	if ret := pick(src.Payload, "data_retorno"); ret != "" {
		if t, err := Date(ret); err == nil && !t.Before(departure) {
			out.OccurredTo = t
		}
	}
	if doc, ok := CPF(pick(src.Payload, "cpf")); ok {
		out.Documents = append(out.Documents, doc)
	}
	for _, k := range []string{"motivo", "secretaria"} {
		if v := pick(src.Payload, k); v != "" {
			out.Attrs[k] = v
		}
	}
	out.Title = "Viagem: " + out.Attrs["destino"]
	return nil
}

func normalizeCompany(src common.SourceRecord, out *common.Record) error {
	rawName := pick(src.Payload, "razao_social", "empresa_nome")
	if rawName == "" {
		return malformed(src, "razao_social")
	}
	doc, ok := CNPJ(pick(src.Payload, "cnpj"))
	if !ok {
		return malformed(src, "cnpj")
	}

	out.RawName = rawName
	out.Name = Name(rawName)
	out.Amount = decimal.Zero
	out.Documents = append(out.Documents, doc)
	out.OccurredAt = src.CapturedAt
	out.Title = "Registro: " + out.Name

	for _, k := range []string{"nome_fantasia", "cnae_principal", "situacao_cadastral", "municipio", "uf", "qualificacao"} {
		if v := pick(src.Payload, k); v != "" {
			out.Attrs[k] = v
		}
	}
	if socio := pick(src.Payload, "socio_nome"); socio != "" {
		out.Attrs["socio_nome"] = socio
		if cpf := pick(src.Payload, "socio_cpf"); cpf != "" {
			out.Attrs["socio_cpf"] = cpf
		}
	}
	return nil
}

// PartnerRecord derives a person-shaped record for the partner carried on a
// corporate-registry row, so the resolver can connect owners to companies.
// Returns false when the row names no partner.
func PartnerRecord(rec common.Record) (common.Record, bool) {
	socio, ok := rec.Attrs["socio_nome"]
	if !ok || rec.Kind != common.KindCompany {
		return common.Record{}, false
	}

	partner := common.Record{
		Kind:       common.KindCompany,
		RawName:    socio,
		Name:       Name(socio),
		Amount:     decimal.Zero,
		OccurredAt: rec.OccurredAt,
		Year:       rec.Year,
		Title:      "Sócio: " + Name(socio),
		Attrs:      map[string]string{},
		Source:     rec.Source,
		SourceKind: rec.SourceKind,
		CapturedAt: rec.CapturedAt,
		Locator:    rec.Locator,
		SourceHash: rec.SourceHash,
	}
	if cpf, ok := CPF(rec.Attrs["socio_cpf"]); ok {
		partner.Documents = append(partner.Documents, cpf)
	}
	if q, ok := rec.Attrs["qualificacao"]; ok {
		partner.Attrs["qualificacao"] = q
	}
	return partner, true
}
