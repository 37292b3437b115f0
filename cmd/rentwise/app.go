package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/community-scoring-service/internal/adapter/geocache"
	kafkaadapter "github.com/couchcryptid/community-scoring-service/internal/adapter/kafka"
	"github.com/couchcryptid/community-scoring-service/internal/adapter/mapbox"
	"github.com/couchcryptid/community-scoring-service/internal/adapter/mirror"
	"github.com/couchcryptid/community-scoring-service/internal/adapter/nominatim"
	"github.com/couchcryptid/community-scoring-service/internal/adapter/overpass"
	"github.com/couchcryptid/community-scoring-service/internal/adapter/routing"
	"github.com/couchcryptid/community-scoring-service/internal/adapter/socrata"
	"github.com/couchcryptid/community-scoring-service/internal/adapter/viirs"
	"github.com/couchcryptid/community-scoring-service/internal/adapter/youtube"
	"github.com/couchcryptid/community-scoring-service/internal/adapter/zori"
	"github.com/couchcryptid/community-scoring-service/internal/community"
	"github.com/couchcryptid/community-scoring-service/internal/compare"
	"github.com/couchcryptid/community-scoring-service/internal/config"
	"github.com/couchcryptid/community-scoring-service/internal/domain"
	"github.com/couchcryptid/community-scoring-service/internal/ingest"
	"github.com/couchcryptid/community-scoring-service/internal/observability"
	"github.com/couchcryptid/community-scoring-service/internal/provider"
	"github.com/couchcryptid/community-scoring-service/internal/store"
)

// app holds the wired services shared by every command.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *observability.Metrics
	store    *store.Store
	resolver *community.Resolver
	ingest   *ingest.Service
	compare  *compare.Service
	writer   *kafkaadapter.Writer // nil unless Kafka is enabled

	closers []func() error
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	metrics := observability.NewMetrics()

	s, err := store.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	a := &app{cfg: cfg, logger: logger, metrics: metrics, store: s}
	a.closers = append(a.closers, s.Close)

	a.resolver = community.NewResolver(s, newGeocoder(cfg, metrics, logger), cfg.DefaultCity, cfg.DefaultState, logger)

	night := viirs.NewSampler(cfg.VIIRS.RasterPath, cfg.Thresholds.NightRadiusKm, logger)
	a.closers = append(a.closers, night.Close)

	var publisher ingest.Publisher
	if cfg.KafkaEnabled {
		a.writer = kafkaadapter.NewWriter(cfg, logger)
		a.closers = append(a.closers, a.writer.Close)
		publisher = a.writer
	}

	baseline := zori.NewBaseline(cfg.ZORICSVPath, cfg.DefaultCity, cfg.DefaultState, logger)
	a.ingest = ingest.NewService(s, baseline, newFetchers(cfg, night, metrics, logger), ingest.Config{
		TTL:         cfg.MetricsTTL,
		Concurrency: cfg.FetchConcurrency,
	}, publisher, metrics, logger)

	a.compare = compare.NewService(a.resolver, a.ingest, s, metrics, logger)
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// newGeocoder picks Mapbox when enabled and Nominatim otherwise, behind the LRU cache.
func newGeocoder(cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) domain.Geocoder {
	var inner domain.Geocoder
	if cfg.MapboxEnabled {
		inner = mapbox.NewClient(cfg.MapboxToken, cfg.GeocoderTimeout, metrics, logger).WithProximity(cfg.Commute.Destination)
		logger.Debug("mapbox geocoding enabled", "cache_size", cfg.GeocoderCacheSize, "timeout", cfg.GeocoderTimeout)
	} else {
		inner = nominatim.NewClient(cfg.NominatimURL, cfg.GeocoderTimeout, metrics, logger)
		logger.Debug("nominatim geocoding enabled", "url", cfg.NominatimURL, "cache_size", cfg.GeocoderCacheSize)
	}
	metrics.GeocodeEnabled.Set(1)
	return geocache.New(inner, cfg.GeocoderCacheSize, metrics)
}

func newFetchers(cfg *config.Config, night provider.Fetcher[float64], metrics *observability.Metrics, logger *slog.Logger) ingest.Fetchers {
	t := cfg.Thresholds
	policy := mirror.DefaultPolicy(t.RetryRounds)
	rounds := time.Duration(t.RetryRounds + 1)

	google := routing.NewGoogle(cfg.Commute.GoogleMapsAPIKey, cfg.Commute.Destination, cfg.Commute.Timeout, logger)
	ors := routing.NewORS(cfg.Commute.ORSAPIKey, cfg.Commute.Destination, cfg.Commute.Timeout, logger)
	var commute provider.Fetcher[float64] = routing.NewChain(google, ors)
	if cfg.Commute.Primary == "ors" {
		commute = routing.NewChain(ors, google)
	}

	crime := socrata.NewCrime(
		socrata.NewClient(cfg.Crime.Domain, cfg.Crime.CatalogURLs, cfg.Crime.AppToken, cfg.Crime.Timeout, policy, metrics, logger),
		socrata.CrimeSettings{
			Jurisdiction:    cfg.Crime.Jurisdiction,
			CityPopulation:  cfg.Crime.CityPopulation,
			CityAreaKm2:     cfg.Crime.CityAreaKm2,
			RadiusKm:        t.CrimeRadiusKm,
			RequireToken:    cfg.Crime.RequireToken,
			EnableFallback:  t.CrimeEnableFallback,
			FallbackPer100k: t.CrimeFallbackPer100k,
		},
		logger,
	)

	op := overpass.NewClient(cfg.Overpass.Endpoints, cfg.Overpass.Timeout, policy, metrics, logger)
	yt := youtube.NewClient(cfg.YouTube.APIKey, cfg.DefaultCity, t.ReviewResultsPerQuery, t.ReviewCommentsPerVideo, cfg.YouTube.Timeout, logger)

	return ingest.Fetchers{
		Commute: instrument(provider.WithTimeout(commute, domain.SourceCommute, 2*cfg.Commute.Timeout), domain.SourceCommute, metrics, logger),
		Crime:   instrument(provider.WithTimeout[float64](crime, domain.SourceSocrata, rounds*2*cfg.Crime.Timeout), domain.SourceSocrata, metrics, logger),
		Grocery: instrument(provider.WithTimeout[float64](overpass.NewGrocery(op, t.GroceryRadiusKm), domain.SourceOverpass, rounds*cfg.Overpass.Timeout), domain.SourceOverpass, metrics, logger),
		Night:   instrument(night, domain.SourceVIIRS, metrics, logger),
		Noise:   instrument(provider.WithTimeout[provider.Noise](overpass.NewNoise(op, t.NoiseRadiusKm), domain.SourceOverpass, rounds*cfg.Overpass.Timeout), "overpass_noise", metrics, logger),
		Reviews: instrument(provider.WithTimeout[provider.Reviews](yt, domain.SourceYouTube, 6*cfg.YouTube.Timeout), domain.SourceYouTube, metrics, logger),
	}
}

func instrument[T any, S ~string](f provider.Fetcher[T], source S, metrics *observability.Metrics, logger *slog.Logger) provider.Fetcher[T] {
	return provider.Instrumented(f, string(source), metrics, logger)
}
