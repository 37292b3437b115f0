package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/couchcryptid/community-scoring-service/internal/domain"
)

// ReplaceDimensionScores replaces every score row of a community in one
// transaction.
func (s *Store) ReplaceDimensionScores(ctx context.Context, communityID string, rows []domain.DimensionScore) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning score transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := s.exec(ctx, tx, `DELETE FROM dimension_scores WHERE community_id = ?`, communityID); err != nil {
		return fmt.Errorf("clearing scores for %s: %w", communityID, err)
	}
	for _, r := range rows {
		inputs, err := json.Marshal(r.Inputs)
		if err != nil {
			return fmt.Errorf("encoding score inputs: %w", err)
		}
		updatedAt := r.UpdatedAt
		if updatedAt.IsZero() {
			updatedAt = domain.Now()
		}
		if _, err := s.exec(ctx, tx, `
			INSERT INTO dimension_scores (community_id, dimension, score, summary, inputs, data_origin, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			communityID, string(r.Dimension), r.Score, r.Summary, string(inputs), r.DataOrigin, formatTime(updatedAt)); err != nil {
			return fmt.Errorf("inserting %s score for %s: %w", r.Dimension, communityID, err)
		}
	}
	return tx.Commit()
}

// ListDimensionScores returns the score rows of a community in
// presentation order.
func (s *Store) ListDimensionScores(ctx context.Context, communityID string) ([]domain.DimensionScore, error) {
	rows, err := s.query(ctx, s.db, `
		SELECT community_id, dimension, score, summary, inputs, data_origin, updated_at
		FROM dimension_scores WHERE community_id = ?`, communityID)
	if err != nil {
		return nil, fmt.Errorf("querying scores for %s: %w", communityID, err)
	}
	defer rows.Close()

	byDim := make(map[domain.Dimension]domain.DimensionScore)
	for rows.Next() {
		var (
			r         domain.DimensionScore
			dim       string
			inputs    string
			updatedAt string
		)
		if err := rows.Scan(&r.CommunityID, &dim, &r.Score, &r.Summary, &inputs, &r.DataOrigin, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning score: %w", err)
		}
		r.Dimension = domain.Dimension(dim)
		if err := decodeJSON(inputs, &r.Inputs); err != nil {
			return nil, fmt.Errorf("decoding score inputs: %w", err)
		}
		if r.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		byDim[r.Dimension] = r
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]domain.DimensionScore, 0, len(byDim))
	for _, d := range domain.Dimensions {
		if r, ok := byDim[d]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}
