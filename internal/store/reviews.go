package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/couchcryptid/community-scoring-service/internal/domain"
)

// CountReviews returns how many review posts a community has.
func (s *Store) CountReviews(ctx context.Context, communityID string) (int, error) {
	var n int
	if err := s.queryRow(ctx, s.db, `SELECT COUNT(*) FROM review_posts WHERE community_id = ?`, communityID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting reviews for %s: %w", communityID, err)
	}
	return n, nil
}

// InsertReviews stores posts, skipping any whose (community, platform,
// external id) already exists. It returns the number of rows inserted.
func (s *Store) InsertReviews(ctx context.Context, posts []domain.ReviewPost) (int, error) {
	if len(posts) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning review transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	inserted := 0
	for _, p := range posts {
		var likes sql.NullInt64
		if p.LikeCount != nil {
			likes = sql.NullInt64{Int64: int64(*p.LikeCount), Valid: true}
		}
		var postedAt sql.NullString
		if p.PostedAt != nil {
			postedAt = sql.NullString{String: formatTime(*p.PostedAt), Valid: true}
		}
		res, err := s.exec(ctx, tx, `
			INSERT INTO review_posts (post_id, community_id, platform, external_id, body, author, like_count, parent_id, posted_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT DO NOTHING`,
			p.ID, p.CommunityID, p.Platform, p.ExternalID, p.Body, p.Author, likes, p.ParentID, postedAt)
		if err != nil {
			return 0, fmt.Errorf("inserting review %s: %w", p.ExternalID, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing reviews: %w", err)
	}
	return inserted, nil
}

// ListReviews returns a community's review posts, newest first. A limit of
// zero or less means 100.
func (s *Store) ListReviews(ctx context.Context, communityID string, limit int) ([]domain.ReviewPost, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.query(ctx, s.db, `
		SELECT post_id, community_id, platform, external_id, body, author, like_count, parent_id, posted_at
		FROM review_posts
		WHERE community_id = ?
		ORDER BY COALESCE(posted_at, '') DESC, external_id
		LIMIT ?`, communityID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying reviews for %s: %w", communityID, err)
	}
	defer rows.Close()

	var out []domain.ReviewPost
	for rows.Next() {
		var (
			p        domain.ReviewPost
			likes    sql.NullInt64
			postedAt sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.CommunityID, &p.Platform, &p.ExternalID, &p.Body, &p.Author, &likes, &p.ParentID, &postedAt); err != nil {
			return nil, fmt.Errorf("scanning review: %w", err)
		}
		if likes.Valid {
			n := int(likes.Int64)
			p.LikeCount = &n
		}
		if postedAt.Valid {
			t, err := parseTime(postedAt.String)
			if err != nil {
				return nil, err
			}
			p.PostedAt = &t
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
