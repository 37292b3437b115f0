// Package compare refreshes two communities and records a comparison of
// their current scores.
package compare

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/community-scoring-service/internal/domain"
	"github.com/couchcryptid/community-scoring-service/internal/ingest"
	"github.com/couchcryptid/community-scoring-service/internal/observability"
)

// Resolver maps an id or name to a community.
type Resolver interface {
	Resolve(ctx context.Context, idOrName string) (domain.Community, error)
}

// Refresher brings a community's metrics up to date.
type Refresher interface {
	Refresh(ctx context.Context, communityID string, opts ingest.Options) (ingest.Outcome, error)
}

// Repository stores comparisons.
type Repository interface {
	InsertComparison(ctx context.Context, c domain.ComparisonRecord) error
}

// Service runs comparisons.
type Service struct {
	resolver  Resolver
	refresher Refresher
	repo      Repository
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// NewService creates a comparison service.
func NewService(resolver Resolver, refresher Refresher, repo Repository, metrics *observability.Metrics, logger *slog.Logger) *Service {
	return &Service{resolver: resolver, refresher: refresher, repo: repo, metrics: metrics, logger: logger}
}

// Compare resolves both sides, refreshes their metrics and persists the
// comparison. Blank identifiers and self-comparisons are rejected with
// domain.ErrInvalidRequest before anything is fetched. Weights are stored
// with the record but do not change the scores.
func (s *Service) Compare(ctx context.Context, a, b string, weights map[string]float64) (domain.ComparisonRecord, error) {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return domain.ComparisonRecord{}, fmt.Errorf("both communities are required: %w", domain.ErrInvalidRequest)
	}
	if strings.EqualFold(a, b) {
		return domain.ComparisonRecord{}, fmt.Errorf("cannot compare %q with itself: %w", a, domain.ErrInvalidRequest)
	}

	ca, err := s.resolver.Resolve(ctx, a)
	if err != nil {
		return domain.ComparisonRecord{}, fmt.Errorf("community a: %w", err)
	}
	cb, err := s.resolver.Resolve(ctx, b)
	if err != nil {
		return domain.ComparisonRecord{}, fmt.Errorf("community b: %w", err)
	}
	if ca.ID == cb.ID {
		return domain.ComparisonRecord{}, fmt.Errorf("%q and %q are the same community %s: %w", a, b, ca.ID, domain.ErrInvalidRequest)
	}

	var ma, mb *domain.MetricsRecord
	var g errgroup.Group
	g.Go(func() error {
		ma = s.refresh(ctx, ca.ID)
		return nil
	})
	g.Go(func() error {
		mb = s.refresh(ctx, cb.ID)
		return nil
	})
	_ = g.Wait()

	rec := domain.BuildComparison(ca.ID, cb.ID, ma, mb, weights)
	rec.RequestParams["community_a"] = a
	rec.RequestParams["community_b"] = b

	if err := s.repo.InsertComparison(ctx, rec); err != nil {
		s.metrics.Comparisons.WithLabelValues(string(domain.ComparisonError)).Inc()
		return domain.ComparisonRecord{}, fmt.Errorf("saving comparison: %w", err)
	}
	s.metrics.Comparisons.WithLabelValues(string(rec.Status)).Inc()
	s.logger.Info("comparison recorded",
		"comparison_id", rec.ID,
		"community_a_id", ca.ID,
		"community_b_id", cb.ID,
		"status", rec.Status,
	)
	return rec, nil
}

// refresh returns the current metrics of a community, or nil when the
// refresh failed.
func (s *Service) refresh(ctx context.Context, id string) *domain.MetricsRecord {
	out, err := s.refresher.Refresh(ctx, id, ingest.Options{})
	if err != nil {
		s.logger.Warn("refresh before comparison failed", "community_id", id, "error", err)
		return nil
	}
	return out.Metrics
}
