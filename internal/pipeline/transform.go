package pipeline

import (
	"context"
	"log/slog"

	"github.com/couchcryptid/community-scoring-service/internal/domain"
	"github.com/couchcryptid/community-scoring-service/internal/ingest"
)

// Refresher refreshes the metrics of one community.
type Refresher interface {
	Refresh(ctx context.Context, communityID string, opts ingest.Options) (ingest.Outcome, error)
}

// ReviewMaterializer turns cached comments into stored review posts.
type ReviewMaterializer interface {
	MaterializeReviews(ctx context.Context, communityID string) (int, error)
}

// RefreshTransformer implements Transformer by refreshing the requested
// community and serializing the resulting score event.
type RefreshTransformer struct {
	refresher Refresher
	reviews   ReviewMaterializer
	logger    *slog.Logger
}

// NewTransformer creates a RefreshTransformer. Pass a nil materializer to
// leave review posts alone.
func NewTransformer(refresher Refresher, reviews ReviewMaterializer, logger *slog.Logger) *RefreshTransformer {
	return &RefreshTransformer{
		refresher: refresher,
		reviews:   reviews,
		logger:    logger,
	}
}

func (t *RefreshTransformer) Transform(ctx context.Context, raw domain.RawEvent) (domain.OutputEvent, error) {
	req, err := domain.ParseRefreshRequest(raw)
	if err != nil {
		return domain.OutputEvent{}, err
	}

	out, err := t.refresher.Refresh(ctx, req.CommunityID, ingest.Options{
		TTL:          req.TTL(),
		SkipExternal: req.SkipExternal,
		SkipPublish:  true,
	})
	if err != nil {
		return domain.OutputEvent{}, err
	}

	if t.reviews != nil && out.Refreshed {
		if _, err := t.reviews.MaterializeReviews(ctx, req.CommunityID); err != nil {
			t.logger.Warn("materializing reviews failed", "community_id", req.CommunityID, "error", err)
		}
	}

	return domain.SerializeScoreEvent(out.Event())
}
