package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/community-scoring-service/internal/adapter/youtube"
	"github.com/couchcryptid/community-scoring-service/internal/adapter/zori"
	"github.com/couchcryptid/community-scoring-service/internal/domain"
	"github.com/couchcryptid/community-scoring-service/internal/observability"
	"github.com/couchcryptid/community-scoring-service/internal/provider"
	"github.com/couchcryptid/community-scoring-service/internal/store"
)

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeBaseline struct {
	rent zori.Rent
	ok   bool
}

func (f *fakeBaseline) Lookup(_ context.Context, _ domain.Community) (zori.Rent, bool) {
	return f.rent, f.ok
}

type fakePublisher struct {
	mu     sync.Mutex
	events []domain.ScoreEvent
	err    error
}

func (f *fakePublisher) Publish(_ context.Context, ev domain.ScoreEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return f.err
}

// counting wraps a static result and counts calls.
type counting[T any] struct {
	calls   atomic.Int32
	result  provider.Result[T]
	queries []provider.Query
	mu      sync.Mutex
}

func (c *counting[T]) Fetch(_ context.Context, q provider.Query) provider.Result[T] {
	c.calls.Add(1)
	c.mu.Lock()
	c.queries = append(c.queries, q)
	c.mu.Unlock()
	return c.result
}

type harness struct {
	svc       *Service
	store     *store.Store
	clock     *clockwork.FakeClock
	baseline  *fakeBaseline
	publisher *fakePublisher
	metrics   *observability.Metrics

	commute *counting[float64]
	crime   *counting[float64]
	grocery *counting[float64]
	night   *counting[float64]
	noise   *counting[provider.Noise]
	reviews *counting[provider.Reviews]
}

func trend(v float64) *float64 { return &v }

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := clockwork.NewFakeClockAt(testStart)
	domain.SetClock(clock)
	t.Cleanup(func() { domain.SetClock(clockwork.NewRealClock()) })

	s, err := store.Open(context.Background(), store.DriverSQLite, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.CreateCommunity(context.Background(), domain.Community{
		ID: "woodbridge", Name: "Woodbridge", City: "Irvine", State: "CA",
		Center: &domain.Coordinate{Lat: 33.6711, Lng: -117.7923},
	}))

	h := &harness{
		store:     s,
		clock:     clock,
		baseline:  &fakeBaseline{rent: zori.Rent{Median: 3024, TrendPct: trend(7.62), AsOf: "2025-12-31"}, ok: true},
		publisher: &fakePublisher{},
		metrics:   observability.NewMetricsForTesting(),
		commute:   &counting[float64]{result: provider.Found(domain.SourceGoogleMaps, 22.0)},
		crime:     &counting[float64]{result: provider.Found(domain.SourceSocrataLocal, 180.5)},
		grocery:   &counting[float64]{result: provider.Found(domain.SourceOverpass, 4.2)},
		night:     &counting[float64]{result: provider.Found(domain.SourceVIIRS, 41.5)},
		noise:     &counting[provider.Noise]{result: provider.Found(domain.SourceOverpass, provider.Noise{AvgDB: 62, P90DB: 69})},
		reviews: &counting[provider.Reviews]{result: provider.Found(domain.SourceYouTube, provider.Reviews{
			VideoIDs: []string{"v1"},
			Comments: []domain.RawComment{{ID: "c1", VideoID: "v1", Text: "Quiet streets"}, {ID: "c2", VideoID: "v1", Text: "Great parks"}},
		})},
	}
	h.svc = NewService(s, h.baseline, Fetchers{
		Commute: h.commute,
		Crime:   h.crime,
		Grocery: h.grocery,
		Night:   h.night,
		Noise:   h.noise,
		Reviews: h.reviews,
	}, Config{TTL: 24 * time.Hour, Concurrency: 6}, h.publisher, h.metrics, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return h
}

func ttl(d time.Duration) *time.Duration { return &d }

func TestRefresh_AllProvidersPresent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	out, err := h.svc.Refresh(ctx, "woodbridge", Options{})
	require.NoError(t, err)
	assert.True(t, out.Refreshed)

	rec, err := h.store.GetMetrics(ctx, "woodbridge")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.InDelta(t, 1.0, rec.Confidence, 1e-9)
	assert.InDelta(t, 3024, *rec.MedianRent, 1e-9)
	assert.InDelta(t, 7.62, *rec.RentTrend12mPct, 1e-9)
	assert.InDelta(t, 22, *rec.CommuteMinutes, 1e-9)
	assert.InDelta(t, 180.5, *rec.CrimeRatePer100k, 1e-9)
	assert.InDelta(t, 69, *rec.NoiseP90DB, 1e-9)
	assert.Equal(t, []string{"v1"}, rec.ReviewVideoIDs)
	assert.Len(t, rec.RawComments, 2)
	assert.True(t, testStart.Equal(rec.UpdatedAt))

	assert.Equal(t, domain.FieldProvenance{Source: domain.SourceZORI, Status: domain.StatusBaseline, Detail: "2025-12-31"}, rec.Provenance[domain.FieldMedianRent])
	assert.Equal(t, domain.StatusFetched, rec.Provenance[domain.FieldCrimeRate].Status)
	assert.Equal(t, domain.SourceSocrataLocal, rec.Provenance[domain.FieldCrimeRate].Source)

	scores, err := h.store.ListDimensionScores(ctx, "woodbridge")
	require.NoError(t, err)
	require.Len(t, scores, 8)
	assert.Equal(t, domain.DataOriginAPI, scores[0].DataOrigin)
	assert.Equal(t, out.Scores[domain.DimensionCost], scores[0].Score)

	require.Len(t, h.publisher.events, 1)
	assert.Equal(t, "woodbridge", h.publisher.events[0].CommunityID)
	assert.True(t, h.publisher.events[0].Refreshed)
	assert.InDelta(t, 1.0, testutil.ToFloat64(h.metrics.Refreshes.WithLabelValues("refreshed")), 0)
}

func TestRefresh_FreshRecordIsNotRefetched(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Refresh(ctx, "woodbridge", Options{})
	require.NoError(t, err)
	h.clock.Advance(23 * time.Hour)

	out, err := h.svc.Refresh(ctx, "woodbridge", Options{})
	require.NoError(t, err)
	assert.False(t, out.Refreshed)
	require.NotNil(t, out.Metrics)
	assert.NotEmpty(t, out.Scores)
	assert.Equal(t, int32(1), h.crime.calls.Load())
	assert.Len(t, h.publisher.events, 1)
	assert.InDelta(t, 1.0, testutil.ToFloat64(h.metrics.Refreshes.WithLabelValues("fresh")), 0)
}

func TestRefresh_StaleAfterTTL(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Refresh(ctx, "woodbridge", Options{})
	require.NoError(t, err)
	h.clock.Advance(25 * time.Hour)

	out, err := h.svc.Refresh(ctx, "woodbridge", Options{})
	require.NoError(t, err)
	assert.True(t, out.Refreshed)
	assert.Equal(t, int32(2), h.crime.calls.Load())
}

func TestRefresh_TTLOverride(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Refresh(ctx, "woodbridge", Options{})
	require.NoError(t, err)

	out, err := h.svc.Refresh(ctx, "woodbridge", Options{TTL: ttl(0)})
	require.NoError(t, err)
	assert.False(t, out.Refreshed, "no time has passed, so a zero ttl is not exceeded")

	h.clock.Advance(time.Second)
	out, err = h.svc.Refresh(ctx, "woodbridge", Options{TTL: ttl(0)})
	require.NoError(t, err)
	assert.True(t, out.Refreshed)

	h.clock.Advance(2 * time.Hour)
	out, err = h.svc.Refresh(ctx, "woodbridge", Options{TTL: ttl(time.Hour)})
	require.NoError(t, err)
	assert.True(t, out.Refreshed)
}

func TestRefresh_ZeroValuesAreNotMissing(t *testing.T) {
	h := newHarness(t)
	h.grocery.result = provider.Found(domain.SourceOverpass, 0.0)
	h.noise.result = provider.Found(domain.SourceOverpass, provider.Noise{})

	out, err := h.svc.Refresh(context.Background(), "woodbridge", Options{})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, out.Metrics.Confidence, 1e-9)
	require.NotNil(t, out.Metrics.GroceryDensityPerKm2)
	assert.Zero(t, *out.Metrics.GroceryDensityPerKm2)
}

func TestRefresh_AbsentProvidersLowerConfidence(t *testing.T) {
	h := newHarness(t)
	h.baseline.ok = false
	h.crime.result = provider.Absent[float64](domain.SourceSocrata, domain.StatusMissingAPIKey, "")
	h.grocery.result = provider.Absent[float64](domain.SourceOverpass, domain.StatusRequestFailed, "timeout")
	h.commute.result = provider.Absent[float64](domain.SourceCommute, domain.StatusNotConfigured, "")

	out, err := h.svc.Refresh(context.Background(), "woodbridge", Options{})
	require.NoError(t, err)
	rec := out.Metrics

	// median, trend, grocery, crime missing; night, noise present.
	assert.InDelta(t, 0.33, rec.Confidence, 1e-9)
	assert.Nil(t, rec.MedianRent)
	assert.Nil(t, rec.CommuteMinutes)
	assert.Equal(t, domain.StatusMissing, rec.Provenance[domain.FieldMedianRent].Status)
	assert.Equal(t, domain.StatusMissingAPIKey, rec.Provenance[domain.FieldCrimeRate].Status)
	assert.Equal(t, "timeout", rec.Provenance[domain.FieldGroceryDensity].Detail)

	// Defaults fill in for missing scorer inputs.
	assert.InDelta(t, 50, out.Scores[domain.DimensionCost], 1e-9)
	assert.InDelta(t, 40, out.Scores[domain.DimensionTransit], 1e-9)
}

func TestRefresh_NightActivityFallsBackToPreviousThenZero(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.night.result = provider.Absent[float64](domain.SourceVIIRS, domain.StatusNotConfigured, "raster not found")

	out, err := h.svc.Refresh(ctx, "woodbridge", Options{})
	require.NoError(t, err)
	require.NotNil(t, out.Metrics.NightActivityIndex)
	assert.Zero(t, *out.Metrics.NightActivityIndex)
	assert.Equal(t, domain.FieldProvenance{Source: domain.SourceVIIRS, Status: domain.StatusDefault, Detail: "not_configured"},
		out.Metrics.Provenance[domain.FieldNightActivity])

	h.night.result = provider.Found(domain.SourceVIIRS, 37.0)
	h.clock.Advance(time.Minute)
	_, err = h.svc.Refresh(ctx, "woodbridge", Options{TTL: ttl(0)})
	require.NoError(t, err)

	h.night.result = provider.Absent[float64](domain.SourceVIIRS, domain.StatusNotApplicable, "outside raster")
	h.clock.Advance(time.Minute)
	out, err = h.svc.Refresh(ctx, "woodbridge", Options{TTL: ttl(0)})
	require.NoError(t, err)
	assert.InDelta(t, 37.0, *out.Metrics.NightActivityIndex, 1e-9)
	assert.Equal(t, domain.StatusCached, out.Metrics.Provenance[domain.FieldNightActivity].Status)
}

func TestRefresh_MissingBaselineKeepsPreviousRent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Refresh(ctx, "woodbridge", Options{})
	require.NoError(t, err)

	h.baseline.ok = false
	h.clock.Advance(25 * time.Hour)
	out, err := h.svc.Refresh(ctx, "woodbridge", Options{})
	require.NoError(t, err)
	assert.InDelta(t, 3024, *out.Metrics.MedianRent, 1e-9)
	assert.InDelta(t, 7.62, *out.Metrics.RentTrend12mPct, 1e-9)
	assert.Equal(t, domain.StatusCached, out.Metrics.Provenance[domain.FieldMedianRent].Status)
	assert.InDelta(t, 1.0, out.Metrics.Confidence, 1e-9)
}

func TestRefresh_SkipExternalKeepsPreviousValues(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Refresh(ctx, "woodbridge", Options{})
	require.NoError(t, err)
	h.clock.Advance(25 * time.Hour)
	h.baseline.rent.Median = 3100

	out, err := h.svc.Refresh(ctx, "woodbridge", Options{SkipExternal: true})
	require.NoError(t, err)
	assert.True(t, out.Refreshed)
	assert.Equal(t, int32(1), h.crime.calls.Load())
	assert.Equal(t, int32(1), h.reviews.calls.Load())

	rec := out.Metrics
	assert.InDelta(t, 3100, *rec.MedianRent, 1e-9)
	assert.InDelta(t, 180.5, *rec.CrimeRatePer100k, 1e-9)
	assert.Equal(t, []string{"v1"}, rec.ReviewVideoIDs)
	assert.Equal(t, domain.FieldProvenance{Source: domain.SourceSocrataLocal, Status: domain.StatusSkipped},
		rec.Provenance[domain.FieldCrimeRate])

	scores, err := h.store.ListDimensionScores(ctx, "woodbridge")
	require.NoError(t, err)
	assert.Equal(t, domain.DataOriginMixed, scores[0].DataOrigin)
}

func TestRefresh_SkipExternalWithoutPrevious(t *testing.T) {
	h := newHarness(t)
	out, err := h.svc.Refresh(context.Background(), "woodbridge", Options{SkipExternal: true})
	require.NoError(t, err)
	assert.Zero(t, h.crime.calls.Load())
	// Only the two rent baseline fields are present.
	assert.InDelta(t, 0.33, out.Metrics.Confidence, 1e-9)
}

func TestRefresh_ReusesCachedVideoIDs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Refresh(ctx, "woodbridge", Options{})
	require.NoError(t, err)
	h.reviews.result = provider.Absent[provider.Reviews](domain.SourceYouTube, domain.StatusRequestFailed, "search")
	h.clock.Advance(25 * time.Hour)
	out, err := h.svc.Refresh(ctx, "woodbridge", Options{})
	require.NoError(t, err)

	require.Len(t, h.reviews.queries, 2)
	assert.Empty(t, h.reviews.queries[0].CachedVideoIDs)
	assert.Equal(t, []string{"v1"}, h.reviews.queries[1].CachedVideoIDs)
	assert.Equal(t, []string{"v1"}, out.Metrics.ReviewVideoIDs)
	assert.Len(t, out.Metrics.RawComments, 2)
	assert.Equal(t, domain.StatusRequestFailed, out.Metrics.Provenance[domain.FieldReviews].Status)
}

func TestRefresh_FailedCommentRequestsKeepCachedComments(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Refresh(ctx, "woodbridge", Options{})
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":403,"errors":[{"reason":"quotaExceeded"}]}}`))
	}))
	defer srv.Close()
	yt := youtube.NewClient("yt-key", "Irvine", 3, 10, time.Second, slog.New(slog.NewTextHandler(io.Discard, nil))).WithBaseURL(srv.URL)
	h.reviews.result = yt.Fetch(ctx, provider.Query{CommunityID: "woodbridge", CachedVideoIDs: []string{"v1"}})
	require.False(t, h.reviews.result.Present)

	h.clock.Advance(25 * time.Hour)
	out, err := h.svc.Refresh(ctx, "woodbridge", Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"v1"}, out.Metrics.ReviewVideoIDs)
	require.Len(t, out.Metrics.RawComments, 2)
	assert.Equal(t, "Quiet streets", out.Metrics.RawComments[0].Text)
	assert.Equal(t, domain.StatusRequestFailed, out.Metrics.Provenance[domain.FieldReviews].Status)

	stored, err := h.store.GetMetrics(ctx, "woodbridge")
	require.NoError(t, err)
	assert.Len(t, stored.RawComments, 2)
}

func TestRefresh_UnknownCommunity(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Refresh(context.Background(), "atlantis", Options{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Zero(t, h.crime.calls.Load())
	assert.InDelta(t, 1.0, testutil.ToFloat64(h.metrics.Refreshes.WithLabelValues("error")), 0)
}

func TestRefresh_PublishFailureIsNotAnError(t *testing.T) {
	h := newHarness(t)
	h.publisher.err = errors.New("broker down")

	out, err := h.svc.Refresh(context.Background(), "woodbridge", Options{})
	require.NoError(t, err)
	assert.True(t, out.Refreshed)
	assert.InDelta(t, 1.0, testutil.ToFloat64(h.metrics.ScoreEventsFailed), 0)
}

func TestRefresh_ConcurrentRefreshesFetchOnce(t *testing.T) {
	h := newHarness(t)

	var wg sync.WaitGroup
	results := make([]Outcome, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := h.svc.Refresh(context.Background(), "woodbridge", Options{})
			assert.NoError(t, err)
			results[i] = out
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), h.crime.calls.Load())
	refreshed := 0
	for _, r := range results {
		if r.Refreshed {
			refreshed++
		}
	}
	assert.Equal(t, 1, refreshed)
}

// gate blocks every fetch until released and records peak concurrency.
type gate struct {
	inFlight atomic.Int32
	peak     atomic.Int32
	release  chan struct{}
}

func (g *gate) Fetch(ctx context.Context, _ provider.Query) provider.Result[float64] {
	n := g.inFlight.Add(1)
	defer g.inFlight.Add(-1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}
	select {
	case <-g.release:
	case <-ctx.Done():
	}
	return provider.Found(domain.SourceOverpass, 1.0)
}

func TestFetchAll_RespectsConcurrencyLimit(t *testing.T) {
	h := newHarness(t)
	g := &gate{release: make(chan struct{})}
	h.svc.fetchers.Commute = g
	h.svc.fetchers.Crime = g
	h.svc.fetchers.Grocery = g
	h.svc.fetchers.Night = g
	h.svc.cfg.Concurrency = 2

	done := make(chan answers)
	go func() { done <- h.svc.fetchAll(context.Background(), provider.Query{}) }()

	require.Eventually(t, func() bool { return g.inFlight.Load() == 2 }, time.Second, time.Millisecond)
	close(g.release)
	a := <-done

	assert.Equal(t, int32(2), g.peak.Load())
	assert.True(t, a.commute.Present)
	assert.True(t, a.night.Present)
	assert.True(t, a.reviews.Present)
}

func TestMaterializeReviews(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	n, err := h.svc.MaterializeReviews(ctx, "woodbridge")
	require.NoError(t, err)
	assert.Zero(t, n, "no metrics yet")

	_, err = h.svc.Refresh(ctx, "woodbridge", Options{})
	require.NoError(t, err)

	n, err = h.svc.MaterializeReviews(ctx, "woodbridge")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = h.svc.MaterializeReviews(ctx, "woodbridge")
	require.NoError(t, err)
	assert.Zero(t, n)

	posts, err := h.store.ListReviews(ctx, "woodbridge", 0)
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Equal(t, domain.PlatformYouTube, posts[0].Platform)
	assert.InDelta(t, 2.0, testutil.ToFloat64(h.metrics.ReviewsStored), 0)
}
