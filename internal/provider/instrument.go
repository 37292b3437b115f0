package provider

import (
	"context"
	"log/slog"
	"time"

	"github.com/couchcryptid/community-scoring-service/internal/observability"
)

// Instrumented wraps f so every call records its outcome and duration under
// the given source label and logs absences.
func Instrumented[T any](f Fetcher[T], source string, metrics *observability.Metrics, logger *slog.Logger) Fetcher[T] {
	return Func[T](func(ctx context.Context, q Query) Result[T] {
		start := time.Now()
		r := f.Fetch(ctx, q)
		metrics.FetchDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())

		outcome := "present"
		if !r.Present {
			outcome = string(r.Reason)
		}
		metrics.FetchResults.WithLabelValues(source, outcome).Inc()

		if !r.Present {
			logger.Debug("provider returned no value",
				"community_id", q.CommunityID,
				"source", source,
				"reason", r.Reason,
				"detail", r.Detail,
			)
		}
		return r
	})
}
