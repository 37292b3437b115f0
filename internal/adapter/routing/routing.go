// Package routing estimates commute minutes from a community center to the
// configured destination through Google Distance Matrix or OpenRouteService.
package routing

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/couchcryptid/community-scoring-service/internal/domain"
	"github.com/couchcryptid/community-scoring-service/internal/provider"
)

// secondsToMinutes rounds a travel duration to whole minutes, halves to even.
func secondsToMinutes(seconds float64) float64 {
	return math.RoundToEven(seconds / 60)
}

// precheck handles the answers that need no network call. ok is false when
// the caller should go on to query the provider.
func precheck(src domain.Source, q provider.Query, dest *domain.Coordinate, apiKey string) (provider.Result[float64], bool) {
	if q.Center == nil {
		return provider.Absent[float64](src, domain.StatusMissingCoordinates, ""), true
	}
	if dest == nil {
		return provider.Absent[float64](src, domain.StatusNotConfigured, "no commute destination"), true
	}
	if *q.Center == *dest {
		return provider.Found(src, 0.0), true
	}
	if apiKey == "" {
		return provider.Absent[float64](src, domain.StatusMissingAPIKey, ""), true
	}
	return provider.Result[float64]{}, false
}

// Chain tries each fetcher in order and returns the first present result.
type Chain struct {
	fetchers []provider.Fetcher[float64]
}

// NewChain builds a chain from a primary and any alternates.
func NewChain(primary provider.Fetcher[float64], alternates ...provider.Fetcher[float64]) *Chain {
	return &Chain{fetchers: append([]provider.Fetcher[float64]{primary}, alternates...)}
}

// Fetch implements provider.Fetcher. When every provider is absent the
// result carries the first provider's reason and a summary of all of them.
func (c *Chain) Fetch(ctx context.Context, q provider.Query) provider.Result[float64] {
	var first provider.Result[float64]
	var reasons []string
	for i, f := range c.fetchers {
		r := f.Fetch(ctx, q)
		if r.Present {
			return r
		}
		if i == 0 {
			first = r
		}
		reasons = append(reasons, fmt.Sprintf("%s=%s", r.Source, r.Reason))
	}
	return provider.Absent[float64](domain.SourceCommute, first.Reason, strings.Join(reasons, ","))
}
