package pgx

import (
	"context"
	"time"

	"github.com/walbarellos/Sentinela/pkg/common"
	"github.com/walbarellos/Sentinela/pkg/logger"
	"github.com/walbarellos/Sentinela/pkg/store"
)

func (s *Storage) SaveEvents(ctx context.Context, events []common.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	err = store.ChunkRange(len(events), eventChunk, func(start, end int) error {
		for _, ev := range events[start:end] {
			attrs, err := marshalAttrs(ev.Attributes)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO event (id, type, occurred_at, occurred_to, amount, title, attributes)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				ON CONFLICT (id) DO UPDATE
				SET occurred_at = EXCLUDED.occurred_at,
				    occurred_to = EXCLUDED.occurred_to,
				    amount      = EXCLUDED.amount,
				    title       = EXCLUDED.title,
				    attributes  = EXCLUDED.attributes`,
				ev.ID, ev.Type, ev.OccurredAt, nullableTime(ev.OccurredTo),
				ev.Amount.String(), ev.Title, attrs); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	logger.Debug("[Store] Events saved", "count", len(events))
	return nil
}

// ReplaceEdges installs the full derived edge set. Edge ids are derived from
// (type, endpoints), so a rebuild writes the same rows again instead of
// accumulating stale ones.
func (s *Storage) ReplaceEdges(ctx context.Context, edges []common.Edge) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM edge`); err != nil {
		return err
	}

	err = store.ChunkRange(len(edges), edgeChunk, func(start, end int) error {
		for _, e := range edges[start:end] {
			attrs, err := marshalAttrs(e.Attributes)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO edge (id, type, source_id, target_id, target_is_event, weight, attributes)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				e.ID, e.Type, e.SourceID, e.TargetID, e.TargetIsEvent,
				e.Weight.String(), attrs); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	logger.Debug("[Store] Edges replaced", "count", len(edges))
	return nil
}

func (s *Storage) Snapshot(ctx context.Context) (*common.Snapshot, error) {
	state, err := s.LoadResolutionState(ctx)
	if err != nil {
		return nil, err
	}

	var events []common.Event
	rows, err := s.conn.Query(ctx, `
		SELECT id, type, occurred_at, occurred_to, amount::text, title, attributes
		FROM event
		ORDER BY occurred_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var ev common.Event
		var occurredTo *time.Time
		var amount string
		var rawAttrs []byte
		if err := rows.Scan(&ev.ID, &ev.Type, &ev.OccurredAt, &occurredTo, &amount, &ev.Title, &rawAttrs); err != nil {
			return nil, err
		}
		if occurredTo != nil {
			ev.OccurredTo = *occurredTo
		}
		ev.Amount = parseAmount(amount)
		if ev.Attributes, err = unmarshalAttrs(rawAttrs); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	edges, err := s.queryEdges(ctx, `SELECT id, type, source_id, target_id, target_is_event, weight::text, attributes FROM edge ORDER BY id`)
	if err != nil {
		return nil, err
	}

	return common.NewSnapshot(time.Now(), state.Entities, events, edges, state.Merges), nil
}

func (s *Storage) queryEdges(ctx context.Context, sql string, args ...any) ([]common.Edge, error) {
	rows, err := s.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []common.Edge
	for rows.Next() {
		var e common.Edge
		var weight string
		var rawAttrs []byte
		if err := rows.Scan(&e.ID, &e.Type, &e.SourceID, &e.TargetID, &e.TargetIsEvent, &weight, &rawAttrs); err != nil {
			return nil, err
		}
		e.Weight = parseAmount(weight)
		if e.Attributes, err = unmarshalAttrs(rawAttrs); err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}
