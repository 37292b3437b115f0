package ingest

import (
	"context"
	"fmt"

	"github.com/couchcryptid/community-scoring-service/internal/domain"
)

// MaterializeReviews converts the raw comments cached on a community's
// metrics record into review posts. It does nothing when posts already
// exist or no comments are cached, and never fetches. It returns the number
// of posts inserted.
func (s *Service) MaterializeReviews(ctx context.Context, communityID string) (int, error) {
	n, err := s.repo.CountReviews(ctx, communityID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		return 0, nil
	}

	rec, err := s.repo.GetMetrics(ctx, communityID)
	if err != nil {
		return 0, fmt.Errorf("loading metrics: %w", err)
	}
	if rec == nil || len(rec.RawComments) == 0 {
		return 0, nil
	}

	posts := make([]domain.ReviewPost, 0, len(rec.RawComments))
	for _, c := range rec.RawComments {
		if c.Text == "" {
			continue
		}
		posts = append(posts, domain.ReviewFromComment(communityID, domain.PlatformYouTube, c))
	}
	inserted, err := s.repo.InsertReviews(ctx, posts)
	if err != nil {
		return 0, err
	}
	s.metrics.ReviewsStored.Add(float64(inserted))
	s.logger.Info("reviews materialized", "community_id", communityID, "inserted", inserted)
	return inserted, nil
}
