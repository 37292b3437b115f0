// Package ingest refreshes community metrics: it gates on freshness, fans
// out to every provider, merges the answers with the previous record and
// persists the record and its dimension scores.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/community-scoring-service/internal/adapter/zori"
	"github.com/couchcryptid/community-scoring-service/internal/domain"
	"github.com/couchcryptid/community-scoring-service/internal/observability"
	"github.com/couchcryptid/community-scoring-service/internal/provider"
)

// Repository is the persistence the ingest service needs.
type Repository interface {
	GetCommunity(ctx context.Context, id string) (domain.Community, error)
	GetMetrics(ctx context.Context, communityID string) (*domain.MetricsRecord, error)
	UpsertMetrics(ctx context.Context, m *domain.MetricsRecord) error
	ReplaceDimensionScores(ctx context.Context, communityID string, rows []domain.DimensionScore) error
	CountReviews(ctx context.Context, communityID string) (int, error)
	InsertReviews(ctx context.Context, posts []domain.ReviewPost) (int, error)
}

// RentBaseline answers the rent baseline of a community's city.
type RentBaseline interface {
	Lookup(ctx context.Context, c domain.Community) (zori.Rent, bool)
}

// Publisher receives a score event after every refresh.
type Publisher interface {
	Publish(ctx context.Context, event domain.ScoreEvent) error
}

// Fetchers bundles one fetcher per external signal.
type Fetchers struct {
	Commute provider.Fetcher[float64]
	Crime   provider.Fetcher[float64]
	Grocery provider.Fetcher[float64]
	Night   provider.Fetcher[float64]
	Noise   provider.Fetcher[provider.Noise]
	Reviews provider.Fetcher[provider.Reviews]
}

// Config tunes the refresh.
type Config struct {
	TTL         time.Duration
	Concurrency int
}

// Options override the defaults of a single refresh. A nil TTL uses the
// configured one; a zero TTL forces a refresh.
type Options struct {
	TTL          *time.Duration
	SkipExternal bool

	// SkipPublish suppresses the score event when the caller emits its own.
	SkipPublish bool
}

// Outcome describes the state after a refresh call.
type Outcome struct {
	CommunityID string
	Refreshed   bool
	Metrics     *domain.MetricsRecord
	Scores      domain.Scores
}

// Event converts the outcome into a score event.
func (o Outcome) Event() domain.ScoreEvent {
	ev := domain.ScoreEvent{
		CommunityID: o.CommunityID,
		Refreshed:   o.Refreshed,
		Scores:      o.Scores,
		ComputedAt:  domain.Now(),
	}
	if o.Metrics != nil {
		ev.Confidence = o.Metrics.Confidence
		ev.Inputs = domain.ScoreInputFrom(o.Metrics)
		ev.Provenance = o.Metrics.Provenance
	}
	return ev
}

// Service runs refreshes. Refreshes of the same community are serialized
// inside one process.
type Service struct {
	repo      Repository
	baseline  RentBaseline
	fetchers  Fetchers
	cfg       Config
	publisher Publisher
	metrics   *observability.Metrics
	logger    *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService creates an ingest service. publisher may be nil.
func NewService(repo Repository, baseline RentBaseline, f Fetchers, cfg Config, publisher Publisher, metrics *observability.Metrics, logger *slog.Logger) *Service {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 6
	}
	return &Service{
		repo:      repo,
		baseline:  baseline,
		fetchers:  f,
		cfg:       cfg,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
		locks:     make(map[string]*sync.Mutex),
	}
}

func (s *Service) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// Refresh brings the metrics of a community up to date. A fresh record is
// returned untouched. Only storage failures and an unknown community are
// errors; provider failures are recorded in provenance.
func (s *Service) Refresh(ctx context.Context, communityID string, opts Options) (Outcome, error) {
	start := time.Now()
	out, err := s.refresh(ctx, communityID, opts)
	switch {
	case err != nil:
		s.metrics.Refreshes.WithLabelValues("error").Inc()
	case out.Refreshed:
		s.metrics.Refreshes.WithLabelValues("refreshed").Inc()
		s.metrics.RefreshDuration.Observe(time.Since(start).Seconds())
		s.metrics.Confidence.Observe(out.Metrics.Confidence)
	default:
		s.metrics.Refreshes.WithLabelValues("fresh").Inc()
	}
	return out, err
}

func (s *Service) refresh(ctx context.Context, communityID string, opts Options) (Outcome, error) {
	lock := s.lockFor(communityID)
	lock.Lock()
	defer lock.Unlock()

	// Read under the lock: a refresh that waited sees its predecessor's record.
	prev, err := s.repo.GetMetrics(ctx, communityID)
	if err != nil {
		return Outcome{}, fmt.Errorf("loading metrics: %w", err)
	}
	ttl := s.cfg.TTL
	if opts.TTL != nil {
		ttl = *opts.TTL
	}
	if !domain.IsStale(prev, ttl) {
		return Outcome{
			CommunityID: communityID,
			Metrics:     prev,
			Scores:      domain.ComputeScores(domain.ScoreInputFrom(prev)),
		}, nil
	}

	c, err := s.repo.GetCommunity(ctx, communityID)
	if err != nil {
		return Outcome{}, err
	}

	rent, haveRent := s.baseline.Lookup(ctx, c)

	var answers answers
	if !opts.SkipExternal {
		answers = s.fetchAll(ctx, provider.QueryFor(c, prev))
	}
	rec := merge(communityID, prev, rent, haveRent, answers, opts.SkipExternal)
	rec.Confidence = rec.ComputeConfidence()
	rec.UpdatedAt = domain.Now()

	if err := s.repo.UpsertMetrics(ctx, rec); err != nil {
		return Outcome{}, fmt.Errorf("saving metrics: %w", err)
	}

	in := domain.ScoreInputFrom(rec)
	scores := domain.ComputeScores(in)
	origin := domain.DataOriginAPI
	if opts.SkipExternal {
		origin = domain.DataOriginMixed
	}
	if err := s.repo.ReplaceDimensionScores(ctx, communityID, domain.BuildDimensionScores(communityID, in, scores, origin)); err != nil {
		return Outcome{}, fmt.Errorf("saving scores: %w", err)
	}

	s.logger.Info("metrics refreshed",
		"community_id", communityID,
		"confidence", rec.Confidence,
		"skip_external", opts.SkipExternal,
		"missing", missingFields(rec.Provenance),
	)

	out := Outcome{CommunityID: communityID, Refreshed: true, Metrics: rec, Scores: scores}
	if !opts.SkipPublish {
		s.publish(ctx, out)
	}
	return out, nil
}

func (s *Service) publish(ctx context.Context, out Outcome) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, out.Event()); err != nil {
		s.metrics.ScoreEventsFailed.Inc()
		s.logger.Warn("publishing score event failed", "community_id", out.CommunityID, "error", err)
	}
}

// answers holds the result of every fetcher after the fan-out has joined.
type answers struct {
	commute provider.Result[float64]
	crime   provider.Result[float64]
	grocery provider.Result[float64]
	night   provider.Result[float64]
	noise   provider.Result[provider.Noise]
	reviews provider.Result[provider.Reviews]
}

// fetchAll runs every fetcher with at most cfg.Concurrency in flight and
// waits for all of them. Fetchers never fail, so the group never cancels.
func (s *Service) fetchAll(ctx context.Context, q provider.Query) answers {
	var a answers
	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)

	g.Go(func() error { a.commute = s.fetchers.Commute.Fetch(ctx, q); return nil })
	g.Go(func() error { a.crime = s.fetchers.Crime.Fetch(ctx, q); return nil })
	g.Go(func() error { a.grocery = s.fetchers.Grocery.Fetch(ctx, q); return nil })
	g.Go(func() error { a.night = s.fetchers.Night.Fetch(ctx, q); return nil })
	g.Go(func() error { a.noise = s.fetchers.Noise.Fetch(ctx, q); return nil })
	g.Go(func() error { a.reviews = s.fetchers.Reviews.Fetch(ctx, q); return nil })

	_ = g.Wait()
	return a
}

func missingFields(p domain.Provenance) []string {
	var out []string
	for _, f := range trackedFields {
		if fp, ok := p[f]; ok && !fp.Status.Supplied() {
			out = append(out, string(f))
		}
	}
	return out
}
