package pgx

import (
	"context"

	"github.com/walbarellos/Sentinela/pkg/common"
	"github.com/walbarellos/Sentinela/pkg/logger"
	"github.com/walbarellos/Sentinela/pkg/resolve"
	"github.com/walbarellos/Sentinela/pkg/store"
)

func (s *Storage) LoadResolutionState(ctx context.Context) (resolve.State, error) {
	state := resolve.State{Documents: map[resolve.DocKey]string{}}

	rows, err := s.conn.Query(ctx, `
		SELECT id, type, display_name, attributes, created_at, updated_at
		FROM entity
		ORDER BY created_at, id`)
	if err != nil {
		return state, err
	}
	defer rows.Close()
	for rows.Next() {
		var e common.Entity
		var rawAttrs []byte
		if err := rows.Scan(&e.ID, &e.Type, &e.DisplayName, &rawAttrs, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return state, err
		}
		if e.Attributes, err = unmarshalAttrs(rawAttrs); err != nil {
			return state, err
		}
		state.Entities = append(state.Entities, e)
	}
	if err := rows.Err(); err != nil {
		return state, err
	}

	docRows, err := s.conn.Query(ctx, `
		SELECT doc_kind, doc_value, entity_id FROM entity_document`)
	if err != nil {
		return state, err
	}
	defer docRows.Close()
	for docRows.Next() {
		var key resolve.DocKey
		var entityID string
		if err := docRows.Scan(&key.Kind, &key.Value, &entityID); err != nil {
			return state, err
		}
		state.Documents[key] = entityID
	}
	if err := docRows.Err(); err != nil {
		return state, err
	}

	mergeRows, err := s.conn.Query(ctx, `
		SELECT old_id, new_id, reason, confidence, created_at
		FROM entity_merge
		ORDER BY id`)
	if err != nil {
		return state, err
	}
	defer mergeRows.Close()
	for mergeRows.Next() {
		var m common.EntityMerge
		if err := mergeRows.Scan(&m.OldID, &m.NewID, &m.Reason, &m.Confidence, &m.CreatedAt); err != nil {
			return state, err
		}
		state.Merges = append(state.Merges, m)
	}
	return state, mergeRows.Err()
}

// CommitResolution applies one resolution batch in a single transaction. The
// merge log is append-only: document rows are re-pointed, entity rows stay.
func (s *Storage) CommitResolution(ctx context.Context, batch resolve.Batch) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	err = store.ChunkRange(len(batch.NewEntities), entityChunk, func(start, end int) error {
		for _, e := range batch.NewEntities[start:end] {
			attrs, err := marshalAttrs(e.Attributes)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO entity (id, type, display_name, attributes, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				e.ID, e.Type, e.DisplayName, attrs, e.CreatedAt, e.UpdatedAt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, e := range batch.Enriched {
		attrs, err := marshalAttrs(e.Attributes)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE entity
			SET display_name = $2, attributes = $3, updated_at = $4
			WHERE id = $1`,
			e.ID, e.DisplayName, attrs, e.UpdatedAt); err != nil {
			return err
		}
	}

	for _, a := range batch.Documents {
		if _, err := tx.Exec(ctx, `
			INSERT INTO entity_document (doc_kind, doc_value, entity_id)
			VALUES ($1, $2, $3)
			ON CONFLICT (doc_kind, doc_value) DO UPDATE SET entity_id = EXCLUDED.entity_id`,
			a.Doc.Kind, a.Doc.Value, a.EntityID); err != nil {
			return err
		}
	}

	for _, m := range batch.Merges {
		if _, err := tx.Exec(ctx, `
			INSERT INTO entity_merge (old_id, new_id, reason, confidence, created_at)
			VALUES ($1, $2, $3, $4, $5)`,
			m.OldID, m.NewID, m.Reason, m.Confidence, m.CreatedAt); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	logger.Debug("[Store] Resolution committed",
		"new", len(batch.NewEntities), "enriched", len(batch.Enriched),
		"documents", len(batch.Documents), "merges", len(batch.Merges))
	return nil
}
