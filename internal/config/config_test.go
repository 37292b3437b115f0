package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	defaultBroker   = "localhost:9092"
	testMapboxToken = "pk.test-token"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{defaultBroker}, cfg.KafkaBrokers)
	assert.Equal(t, "community-refresh-requests", cfg.KafkaRequestTopic)
	assert.Equal(t, "community-scores", cfg.KafkaScoreTopic)
	assert.Equal(t, "community-scoring", cfg.KafkaGroupID)
	assert.False(t, cfg.KafkaEnabled)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 50, cfg.BatchSize)
	assert.Equal(t, 500*time.Millisecond, cfg.BatchFlushInterval)
	assert.Equal(t, "sqlite", cfg.DatabaseDriver)
	assert.Equal(t, "rentwise.db", filepath.Base(cfg.DatabaseURL))
	assert.Equal(t, 24*time.Hour, cfg.MetricsTTL)
	assert.Equal(t, 6, cfg.FetchConcurrency)
	assert.False(t, cfg.MapboxEnabled)
	assert.Empty(t, cfg.MapboxToken)
	assert.Equal(t, 1000, cfg.GeocoderCacheSize)
	assert.Equal(t, "Irvine", cfg.DefaultCity)
	assert.Equal(t, "CA", cfg.DefaultState)
	assert.Equal(t, "google", cfg.Commute.Primary)
	assert.Nil(t, cfg.Commute.Destination)
	assert.InDelta(t, 307670, cfg.Crime.CityPopulation, 0)
	assert.InDelta(t, 171.4, cfg.Crime.CityAreaKm2, 1e-9)
	assert.Len(t, cfg.Overpass.Endpoints, 3)
	assert.Len(t, cfg.Crime.CatalogURLs, 2)
	assert.Equal(t, DefaultThresholds(), cfg.Thresholds)
}

func TestLoad_CustomEnv(t *testing.T) {
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "broker1:9092,broker2:9092")
	t.Setenv("KAFKA_REQUEST_TOPIC", "custom-requests")
	t.Setenv("KAFKA_SCORE_TOPIC", "custom-scores")
	t.Setenv("KAFKA_GROUP_ID", "custom-group")
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("SHUTDOWN_TIMEOUT", "30s")
	t.Setenv("BATCH_SIZE", "100")
	t.Setenv("BATCH_FLUSH_INTERVAL", "1s")
	t.Setenv("DATABASE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/rentwise?sslmode=disable")
	t.Setenv("METRICS_TTL_HOURS", "0.5")
	t.Setenv("MAPBOX_TOKEN", testMapboxToken)
	t.Setenv("GEOCODER_CACHE_SIZE", "500")
	t.Setenv("COMMUTE_PRIMARY", "ORS")
	t.Setenv("COMMUTE_DESTINATION", "33.6846, -117.8265")
	t.Setenv("OVERPASS_ENDPOINTS", "http://a/api, http://b/api")
	t.Setenv("CRIME_ENABLE_FALLBACK", "true")
	t.Setenv("CRIME_FALLBACK_PER_100K", "180")
	t.Setenv("VIIRS_SAMPLE_RADIUS_KM", "2.5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.KafkaEnabled)
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "custom-requests", cfg.KafkaRequestTopic)
	assert.Equal(t, "custom-scores", cfg.KafkaScoreTopic)
	assert.Equal(t, "custom-group", cfg.KafkaGroupID)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 1*time.Second, cfg.BatchFlushInterval)
	assert.Equal(t, "postgres", cfg.DatabaseDriver)
	assert.Equal(t, 30*time.Minute, cfg.MetricsTTL)
	assert.True(t, cfg.MapboxEnabled)
	assert.Equal(t, testMapboxToken, cfg.MapboxToken)
	assert.Equal(t, 500, cfg.GeocoderCacheSize)
	assert.Equal(t, "ors", cfg.Commute.Primary)
	require.NotNil(t, cfg.Commute.Destination)
	assert.InDelta(t, 33.6846, cfg.Commute.Destination.Lat, 1e-9)
	assert.InDelta(t, -117.8265, cfg.Commute.Destination.Lng, 1e-9)
	assert.Equal(t, []string{"http://a/api", "http://b/api"}, cfg.Overpass.Endpoints)
	assert.True(t, cfg.Thresholds.CrimeEnableFallback)
	assert.InDelta(t, 180, cfg.Thresholds.CrimeFallbackPer100k, 0)
	assert.InDelta(t, 2.5, cfg.Thresholds.NightRadiusKm, 0)
}

func TestLoad_InvalidShutdownTimeout(t *testing.T) {
	t.Setenv("SHUTDOWN_TIMEOUT", "not-a-duration")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SHUTDOWN_TIMEOUT")
}

func TestLoad_NegativeShutdownTimeout(t *testing.T) {
	t.Setenv("SHUTDOWN_TIMEOUT", "-1s")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SHUTDOWN_TIMEOUT")
}

func TestLoad_InvalidBatchSize(t *testing.T) {
	t.Setenv("BATCH_SIZE", "0")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BATCH_SIZE")
}

func TestLoad_BatchSizeTooLarge(t *testing.T) {
	t.Setenv("BATCH_SIZE", "9999")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BATCH_SIZE")
}

func TestLoad_InvalidBatchFlushInterval(t *testing.T) {
	t.Setenv("BATCH_FLUSH_INTERVAL", "not-a-duration")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BATCH_FLUSH_INTERVAL")
}

func TestLoad_InvalidNumbers(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"METRICS_TTL_HOURS", "soon"},
		{"FETCH_CONCURRENCY", "many"},
		{"CITY_POPULATION", "lots"},
		{"SOCRATA_REQUIRE_TOKEN", "maybe"},
		{"GEOCODER_TIMEOUT", "bad"},
		{"COMMUTE_DESTINATION", "33.6"},
		{"COMMUTE_DESTINATION", "95,10"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestLoad_UnsupportedDriver(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "mysql")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_DRIVER")
}

func TestLoad_UnsupportedCommutePrimary(t *testing.T) {
	t.Setenv("COMMUTE_PRIMARY", "bing")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COMMUTE_PRIMARY")
}

func TestLoad_NegativeTTL(t *testing.T) {
	t.Setenv("METRICS_TTL_HOURS", "-1")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "METRICS_TTL_HOURS")
}

func TestLoad_MapboxEnabledWithoutToken(t *testing.T) {
	t.Setenv("MAPBOX_ENABLED", "true")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAPBOX_TOKEN")
}

func TestLoad_MapboxTokenImpliesEnabled(t *testing.T) {
	t.Setenv("MAPBOX_TOKEN", testMapboxToken)
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.MapboxEnabled)
}

func TestLoad_MapboxExplicitlyDisabled(t *testing.T) {
	t.Setenv("MAPBOX_TOKEN", testMapboxToken)
	t.Setenv("MAPBOX_ENABLED", "false")
	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.MapboxEnabled)
}

func TestLoad_ThresholdsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thresholds.yaml")
	require.NoError(t, os.WriteFile(path, []byte("grocery_radius_km: 2.0\nretry_rounds: 5\n"), 0o600))
	t.Setenv("THRESHOLDS_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.InDelta(t, 2.0, cfg.Thresholds.GroceryRadiusKm, 0)
	assert.Equal(t, 5, cfg.Thresholds.RetryRounds)
	// Keys absent from the file keep their defaults.
	assert.InDelta(t, DefaultThresholds().NoiseRadiusKm, cfg.Thresholds.NoiseRadiusKm, 0)
	assert.Equal(t, DefaultThresholds().ReviewCommentsPerVideo, cfg.Thresholds.ReviewCommentsPerVideo)
}

func TestLoad_ThresholdsFileMissing(t *testing.T) {
	t.Setenv("THRESHOLDS_FILE", filepath.Join(t.TempDir(), "nope.yaml"))
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "THRESHOLDS_FILE")
}

func TestLoad_ThresholdsFileInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thresholds.yaml")
	require.NoError(t, os.WriteFile(path, []byte("noise_radius_km: -1\n"), 0o600))
	t.Setenv("THRESHOLDS_FILE", path)
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "radii")
}
