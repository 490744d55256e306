package pgx

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/walbarellos/Sentinela/pkg/common"
	"github.com/walbarellos/Sentinela/pkg/logger"
	"github.com/walbarellos/Sentinela/pkg/normalize"
	"github.com/walbarellos/Sentinela/pkg/store"
)

// SaveFindings appends insights with their evidence and links. The whole
// batch is rejected when any insight, or any edge an insight rests on, would
// end up without an evidence link.
func (s *Storage) SaveFindings(ctx context.Context, insights []common.Insight, evidence []common.Evidence, links []common.EvidenceLink) error {
	linked := map[string]bool{}
	for _, l := range links {
		linked[l.RefKind+":"+l.RefID] = true
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
	for _, ev := range evidence {
		if normalize.LeaksCPF(ev.Excerpt) {
			return fmt.Errorf("evidence %s carries an unmasked CPF", ev.ID)
		}
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, ev := range evidence {
		excerpt, err := marshalAttrs(ev.Excerpt)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO evidence (id, source, source_kind, captured_at, locator, content_sha256, excerpt, pii_redacted)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO NOTHING`,
			ev.ID, ev.Source, ev.SourceKind, ev.CapturedAt, ev.Locator,
			ev.ContentSHA256, excerpt, ev.PIIRedacted); err != nil {
			return err
		}
	}

	for _, in := range insights {
		// pgx encodes a nil slice as NULL; sources and tags are NOT NULL
		// columns, so nil must land as an empty array.
		sources, tags := in.Sources, in.Tags
		if sources == nil {
			sources = []string{}
		}
		if tags == nil {
			tags = []string{}
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO insight (id, kind, severity, confidence, exposure, title, description,
			                     pattern, sources, tags, sample_n, unit_total, run_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			in.ID, in.Kind, in.Severity, in.Confidence, in.Exposure.String(),
			in.Title, in.Description, in.Pattern, sources, tags,
			in.SampleN, in.UnitTotal.String(), in.RunID, in.CreatedAt); err != nil {
			return err
		}
		if err := insertInsightLinks(ctx, tx, in); err != nil {
			return err
		}
	}

	for _, l := range links {
		if _, err := tx.Exec(ctx, `
			INSERT INTO evidence_link (evidence_id, ref_kind, ref_id, role)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (evidence_id, ref_kind, ref_id) DO NOTHING`,
			l.EvidenceID, l.RefKind, l.RefID, l.Role); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	logger.Debug("[Store] Findings saved",
		"insights", len(insights), "evidence", len(evidence), "links", len(links))
	return nil
}

func insertInsightLinks(ctx context.Context, tx pgx.Tx, in common.Insight) error {
	refs := []struct {
		kind string
		ids  []string
	}{
		{"entity", in.EntityIDs},
		{"event", in.EventIDs},
		{"edge", in.EdgeIDs},
	}
	for _, r := range refs {
		for _, id := range store.DedupeStrings(r.ids) {
			if _, err := tx.Exec(ctx, `
				INSERT INTO insight_link (insight_id, ref_kind, ref_id)
				VALUES ($1, $2, $3)
				ON CONFLICT (insight_id, ref_kind, ref_id) DO NOTHING`,
				in.ID, r.kind, id); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Storage) QueryInsights(ctx context.Context, filter store.InsightFilter) ([]common.Insight, error) {
	sql := `
		SELECT i.id, i.kind, i.severity, i.confidence, i.exposure::text, i.title,
		       i.description, i.pattern, i.sources, i.tags, i.sample_n,
		       i.unit_total::text, i.run_id, i.created_at
		FROM insight i
		WHERE ($1 = '' OR i.severity = $1)
		  AND ($2 = '' OR i.kind = $2)
		  AND ($3 = '' OR i.run_id = $3)
		  AND ($4 = '' OR EXISTS (
		      SELECT 1 FROM insight_link l
		      WHERE l.insight_id = i.id AND l.ref_kind = 'entity' AND l.ref_id = $4))
		  AND ($5 = '' OR i.tags @> ARRAY[$5])
		  AND ($6::timestamptz IS NULL OR i.created_at >= $6)
		  AND ($7::timestamptz IS NULL OR i.created_at <= $7)
		ORDER BY CASE i.severity
		             WHEN 'CRITICO' THEN 3
		             WHEN 'ALTO' THEN 2
		             WHEN 'MEDIO' THEN 1
		             ELSE 0
		         END DESC,
		         i.created_at DESC, i.id ASC`
	args := []any{string(filter.Severity), filter.Kind, filter.RunID, filter.EntityID,
		filter.Tag, nullableTime(filter.Since), nullableTime(filter.Until)}
	if filter.Limit > 0 {
		sql += ` LIMIT $8`
		args = append(args, filter.Limit)
	}

	rows, err := s.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var insights []common.Insight
	for rows.Next() {
		var in common.Insight
		var exposure, unitTotal string
		if err := rows.Scan(&in.ID, &in.Kind, &in.Severity, &in.Confidence, &exposure,
			&in.Title, &in.Description, &in.Pattern, &in.Sources, &in.Tags,
			&in.SampleN, &unitTotal, &in.RunID, &in.CreatedAt); err != nil {
			return nil, err
		}
		in.Exposure = parseAmount(exposure)
		in.UnitTotal = parseAmount(unitTotal)
		if err := s.loadInsightRefs(ctx, &in); err != nil {
			return nil, err
		}
		insights = append(insights, in)
	}
	return insights, rows.Err()
}

func (s *Storage) loadInsightRefs(ctx context.Context, in *common.Insight) error {
	rows, err := s.conn.Query(ctx, `
		SELECT ref_kind, ref_id FROM insight_link
		WHERE insight_id = $1
		ORDER BY ref_kind, ref_id`, in.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var kind, id string
		if err := rows.Scan(&kind, &id); err != nil {
			return err
		}
		switch kind {
		case "entity":
			in.EntityIDs = append(in.EntityIDs, id)
		case "event":
			in.EventIDs = append(in.EventIDs, id)
		case "edge":
			in.EdgeIDs = append(in.EdgeIDs, id)
		}
	}
	return rows.Err()
}

func (s *Storage) EvidenceForInsight(ctx context.Context, insightID string) ([]common.Evidence, error) {
	return s.evidenceForLink(ctx, "insight", insightID)
}

func (s *Storage) EvidenceForRef(ctx context.Context, refKind, refID string) ([]common.Evidence, error) {
	return s.evidenceForLink(ctx, refKind, refID)
}

func (s *Storage) evidenceForLink(ctx context.Context, refKind, refID string) ([]common.Evidence, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT DISTINCT e.id, e.source, e.source_kind, e.captured_at, e.locator,
		       e.content_sha256, e.excerpt, e.pii_redacted
		FROM evidence e
		JOIN evidence_link l ON l.evidence_id = e.id
		WHERE l.ref_kind = $1 AND l.ref_id = $2
		ORDER BY e.id`, refKind, refID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var evidence []common.Evidence
	for rows.Next() {
		var ev common.Evidence
		var rawExcerpt []byte
		if err := rows.Scan(&ev.ID, &ev.Source, &ev.SourceKind, &ev.CapturedAt,
			&ev.Locator, &ev.ContentSHA256, &rawExcerpt, &ev.PIIRedacted); err != nil {
			return nil, err
		}
		if ev.Excerpt, err = unmarshalAttrs(rawExcerpt); err != nil {
			return nil, err
		}
		evidence = append(evidence, ev)
	}
	return evidence, rows.Err()
}
