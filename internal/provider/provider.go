// Package provider defines the common shape of the external signal fetchers.
//
// A fetcher never returns a Go error. Transport and parse failures become an
// absent Result carrying a typed reason, so a refresh can always merge
// whatever the providers managed to answer.
package provider

import (
	"context"
	"time"

	"github.com/couchcryptid/community-scoring-service/internal/domain"
)

// Query describes the community a fetch is for.
type Query struct {
	CommunityID string
	Name        string
	City        string
	State       string
	Center      *domain.Coordinate

	// CachedVideoIDs are review video ids found by an earlier refresh.
	CachedVideoIDs []string
}

// QueryFor builds a Query from a community and its previous metrics record,
// which may be nil.
func QueryFor(c domain.Community, prev *domain.MetricsRecord) Query {
	q := Query{
		CommunityID: c.ID,
		Name:        c.Name,
		City:        c.City,
		State:       c.State,
		Center:      c.Center,
	}
	if prev != nil && len(prev.ReviewVideoIDs) > 0 {
		q.CachedVideoIDs = append([]string(nil), prev.ReviewVideoIDs...)
	}
	return q
}

// Result is the outcome of one fetch. When Present is false Value is the zero
// value and Reason says why.
type Result[T any] struct {
	Value   T
	Present bool
	Source  domain.Source
	Reason  domain.Status
	Detail  string
}

// Found returns a present result fetched from src.
func Found[T any](src domain.Source, v T) Result[T] {
	return Result[T]{Value: v, Present: true, Source: src, Reason: domain.StatusFetched}
}

// Fallback returns a present result whose value is a configured substitute.
// detail names what prevented a real fetch.
func Fallback[T any](src domain.Source, v T, detail string) Result[T] {
	return Result[T]{Value: v, Present: true, Source: src, Reason: domain.StatusFallback, Detail: detail}
}

// Absent returns a result with no value.
func Absent[T any](src domain.Source, reason domain.Status, detail string) Result[T] {
	return Result[T]{Source: src, Reason: reason, Detail: detail}
}

// Get returns the value and whether it is present.
func (r Result[T]) Get() (T, bool) {
	return r.Value, r.Present
}

// Provenance converts the result into a provenance entry.
func (r Result[T]) Provenance() domain.FieldProvenance {
	return domain.FieldProvenance{Source: r.Source, Status: r.Reason, Detail: r.Detail}
}

// Fetcher retrieves one signal for a community.
type Fetcher[T any] interface {
	Fetch(ctx context.Context, q Query) Result[T]
}

// Func adapts an ordinary function to the Fetcher interface.
type Func[T any] func(ctx context.Context, q Query) Result[T]

// Fetch calls f.
func (f Func[T]) Fetch(ctx context.Context, q Query) Result[T] {
	return f(ctx, q)
}

// Static returns a fetcher that always answers r. Used for providers that
// are unconfigured at startup.
func Static[T any](r Result[T]) Fetcher[T] {
	return Func[T](func(context.Context, Query) Result[T] { return r })
}

// WithTimeout bounds every call to f by d. A call cut short by the deadline
// yields an absent request_failed result for src.
func WithTimeout[T any](f Fetcher[T], src domain.Source, d time.Duration) Fetcher[T] {
	return Func[T](func(ctx context.Context, q Query) Result[T] {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()

		r := f.Fetch(ctx, q)
		if !r.Present && ctx.Err() != nil {
			return Absent[T](src, domain.StatusRequestFailed, "timeout")
		}
		return r
	})
}
