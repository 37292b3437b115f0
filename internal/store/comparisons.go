package store

import (
	"context"
	"fmt"

	"github.com/couchcryptid/community-scoring-service/internal/domain"
)

// InsertComparison stores an immutable comparison record.
func (s *Store) InsertComparison(ctx context.Context, c domain.ComparisonRecord) error {
	fields := []struct {
		v     any
		empty string
	}{
		{c.RequestParams, "{}"},
		{c.Weights, "{}"},
		{c.Diff, "{}"},
		{c.Tradeoffs, "{}"},
		{c.MissingFields, "[]"},
	}
	encoded := make([]string, len(fields))
	for i, f := range fields {
		v, err := encodeJSON(f.v, f.empty)
		if err != nil {
			return err
		}
		encoded[i] = v
	}

	_, err := s.exec(ctx, s.db, `
		INSERT INTO comparisons (
			comparison_id, community_a_id, community_b_id, request_params, weights,
			diff, summary, tradeoffs, status, missing_fields, data_origin, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.CommunityAID, c.CommunityBID, encoded[0], encoded[1],
		encoded[2], c.Summary, encoded[3], string(c.Status), encoded[4], c.DataOrigin, formatTime(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting comparison %s: %w", c.ID, err)
	}
	return nil
}

// ListComparisons returns the most recent comparisons involving a community,
// newest first. A limit of zero or less means 50.
func (s *Store) ListComparisons(ctx context.Context, communityID string, limit int) ([]domain.ComparisonRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.query(ctx, s.db, `
		SELECT comparison_id, community_a_id, community_b_id, request_params, weights,
			diff, summary, tradeoffs, status, missing_fields, data_origin, created_at
		FROM comparisons
		WHERE community_a_id = ? OR community_b_id = ?
		ORDER BY created_at DESC, comparison_id
		LIMIT ?`, communityID, communityID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying comparisons for %s: %w", communityID, err)
	}
	defer rows.Close()

	var out []domain.ComparisonRecord
	for rows.Next() {
		var c domain.ComparisonRecord
		var params, weights, diff, tradeoffs, missing, status, createdAt string
		if err := rows.Scan(&c.ID, &c.CommunityAID, &c.CommunityBID, &params, &weights,
			&diff, &c.Summary, &tradeoffs, &status, &missing, &c.DataOrigin, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning comparison: %w", err)
		}
		c.Status = domain.ComparisonStatus(status)
		for _, f := range []struct {
			raw string
			dst any
		}{
			{params, &c.RequestParams},
			{weights, &c.Weights},
			{diff, &c.Diff},
			{tradeoffs, &c.Tradeoffs},
			{missing, &c.MissingFields},
		} {
			if err := decodeJSON(f.raw, f.dst); err != nil {
				return nil, fmt.Errorf("decoding comparison %s: %w", c.ID, err)
			}
		}
		if c.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
