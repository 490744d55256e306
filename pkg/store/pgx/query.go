package pgx

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/walbarellos/Sentinela/pkg/common"
	"github.com/walbarellos/Sentinela/pkg/store"
)

var ErrNotFound = errors.New("not found")

func (s *Storage) mergeMap(ctx context.Context) (map[string]string, error) {
	rows, err := s.conn.Query(ctx, `SELECT old_id, new_id FROM entity_merge ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	merges := map[string]string{}
	for rows.Next() {
		var oldID, newID string
		if err := rows.Scan(&oldID, &newID); err != nil {
			return nil, err
		}
		merges[oldID] = newID
	}
	return merges, rows.Err()
}

func (s *Storage) CanonicalID(ctx context.Context, id string) (string, error) {
	merges, err := s.mergeMap(ctx)
	if err != nil {
		return "", err
	}
	return store.FollowMerges(merges, id), nil
}

func (s *Storage) GetEntity(ctx context.Context, id string) (common.Entity, error) {
	canonical, err := s.CanonicalID(ctx, id)
	if err != nil {
		return common.Entity{}, err
	}

	var e common.Entity
	var rawAttrs []byte
	err = s.conn.QueryRow(ctx, `
		SELECT id, type, display_name, attributes, created_at, updated_at
		FROM entity WHERE id = $1`, canonical).
		Scan(&e.ID, &e.Type, &e.DisplayName, &rawAttrs, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return common.Entity{}, ErrNotFound
	}
	if err != nil {
		return common.Entity{}, err
	}
	if e.Attributes, err = unmarshalAttrs(rawAttrs); err != nil {
		return common.Entity{}, err
	}
	return e, nil
}

// aliasesOf returns every id whose merge chain ends at canonical, the
// canonical id included. Edge endpoints written before a merge still carry
// the old id, so reads must widen to the full alias set.
func aliasesOf(merges map[string]string, canonical string) []string {
	ids := []string{canonical}
	for oldID := range merges {
		if store.FollowMerges(merges, oldID) == canonical {
			ids = append(ids, oldID)
		}
	}
	return store.DedupeStrings(ids)
}

func (s *Storage) EntityTimeline(ctx context.Context, entityID string, from, to time.Time) ([]common.Event, error) {
	merges, err := s.mergeMap(ctx)
	if err != nil {
		return nil, err
	}
	ids := aliasesOf(merges, store.FollowMerges(merges, entityID))

	rows, err := s.conn.Query(ctx, `
		SELECT ev.id, ev.type, ev.occurred_at, ev.occurred_to, ev.amount::text, ev.title, ev.attributes
		FROM edge e
		JOIN event ev ON ev.id = e.target_id
		WHERE e.target_is_event AND e.source_id = ANY($1)
		  AND ($2::timestamptz IS NULL OR ev.occurred_at >= $2)
		  AND ($3::timestamptz IS NULL OR ev.occurred_at <= $3)
		ORDER BY ev.occurred_at, ev.id`,
		ids, nullableTime(from), nullableTime(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []common.Event
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
	return events, rows.Err()
}

func (s *Storage) EntityNeighbours(ctx context.Context, entityID string) ([]common.Edge, []common.Entity, error) {
	merges, err := s.mergeMap(ctx)
	if err != nil {
		return nil, nil, err
	}
	canonical := store.FollowMerges(merges, entityID)
	ids := aliasesOf(merges, canonical)

	edges, err := s.queryEdges(ctx, `
		SELECT id, type, source_id, target_id, target_is_event, weight::text, attributes
		FROM edge
		WHERE NOT target_is_event AND (source_id = ANY($1) OR target_id = ANY($1))
		ORDER BY id`, ids)
	if err != nil {
		return nil, nil, err
	}

	neighbourIDs := map[string]bool{}
	for i := range edges {
		edges[i].SourceID = store.FollowMerges(merges, edges[i].SourceID)
		edges[i].TargetID = store.FollowMerges(merges, edges[i].TargetID)
		if edges[i].SourceID != canonical {
			neighbourIDs[edges[i].SourceID] = true
		}
		if edges[i].TargetID != canonical {
			neighbourIDs[edges[i].TargetID] = true
		}
	}

	ordered := keys(neighbourIDs)
	sort.Strings(ordered)

	var neighbours []common.Entity
	for _, id := range ordered {
		e, err := s.GetEntity(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		neighbours = append(neighbours, e)
	}
	return edges, neighbours, nil
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func (s *Storage) GetSummary(ctx context.Context) (common.Summary, error) {
	var sum common.Summary
	var lastUpdated *time.Time
	err := s.conn.QueryRow(ctx, `
		SELECT (SELECT count(*) FROM entity),
		       (SELECT count(*) FROM edge),
		       (SELECT count(DISTINCT source) FROM evidence),
		       (SELECT count(*) FROM insight),
		       (SELECT max(created_at) FROM insight)`).
		Scan(&sum.EntityCount, &sum.EdgeCount, &sum.SourceCount, &sum.AlertCount, &lastUpdated)
	if err != nil {
		return common.Summary{}, err
	}
	if lastUpdated != nil {
		sum.LastUpdated = *lastUpdated
	}
	return sum, nil
}
