package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/couchcryptid/community-scoring-service/internal/domain"
	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/joho/godotenv"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	DatabaseDriver string // "sqlite" or "postgres"
	DatabaseURL    string

	MetricsTTL       time.Duration
	FetchConcurrency int

	KafkaEnabled       bool
	KafkaBrokers       []string
	KafkaRequestTopic  string
	KafkaScoreTopic    string
	KafkaGroupID       string
	BatchSize          int
	BatchFlushInterval time.Duration

	// Geocoding configuration. Nominatim is used unless Mapbox is enabled.
	MapboxToken       string
	MapboxEnabled     bool
	NominatimURL      string
	GeocoderTimeout   time.Duration
	GeocoderCacheSize int
	DefaultCity       string
	DefaultState      string

	Commute  CommuteConfig
	Crime    CrimeConfig
	Overpass OverpassConfig
	VIIRS    VIIRSConfig
	YouTube  YouTubeConfig

	ZORICSVPath string

	Thresholds Thresholds
}

// CommuteConfig configures the routing providers.
type CommuteConfig struct {
	GoogleMapsAPIKey string
	ORSAPIKey        string
	Primary          string // "google" or "ors"
	Destination      *domain.Coordinate
	Timeout          time.Duration
}

// CrimeConfig configures Socrata dataset discovery and rate estimation.
type CrimeConfig struct {
	Domain         string
	CatalogURLs    []string
	AppToken       string
	RequireToken   bool
	Jurisdiction   string
	CityPopulation float64
	CityAreaKm2    float64
	Timeout        time.Duration
}

// OverpassConfig lists the Overpass mirrors rotated through on failure.
type OverpassConfig struct {
	Endpoints []string
	Timeout   time.Duration
}

// VIIRSConfig points at the local nighttime radiance raster.
type VIIRSConfig struct {
	RasterPath string
}

// YouTubeConfig configures review comment retrieval.
type YouTubeConfig struct {
	APIKey  string
	Timeout time.Duration
}

// Load reads configuration from an optional .env file and environment
// variables, applies the optional thresholds file, and validates the result.
func Load() (*Config, error) {
	_ = godotenv.Load() // a missing .env is not an error

	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}

	flushInterval, err := sharedcfg.ParseBatchFlushInterval()
	if err != nil {
		return nil, err
	}

	p := &parser{}

	ttlHours := p.float("METRICS_TTL_HOURS", 24)
	mapboxToken := os.Getenv("MAPBOX_TOKEN")
	mapboxEnabled := mapboxToken != ""
	if v := os.Getenv("MAPBOX_ENABLED"); v != "" {
		mapboxEnabled = v == "true"
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		DatabaseDriver: strings.ToLower(sharedcfg.EnvOrDefault("DATABASE_DRIVER", "sqlite")),
		DatabaseURL:    sharedcfg.EnvOrDefault("DATABASE_URL", filepath.Join(xdg.DataHome, "rentwise", "rentwise.db")),

		MetricsTTL:       time.Duration(ttlHours * float64(time.Hour)),
		FetchConcurrency: p.int("FETCH_CONCURRENCY", 6),

		KafkaEnabled:       p.bool("KAFKA_ENABLED", false),
		KafkaBrokers:       sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaRequestTopic:  sharedcfg.EnvOrDefault("KAFKA_REQUEST_TOPIC", "community-refresh-requests"),
		KafkaScoreTopic:    sharedcfg.EnvOrDefault("KAFKA_SCORE_TOPIC", "community-scores"),
		KafkaGroupID:       sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "community-scoring"),
		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,

		MapboxToken:       mapboxToken,
		MapboxEnabled:     mapboxEnabled,
		NominatimURL:      sharedcfg.EnvOrDefault("NOMINATIM_URL", "https://nominatim.openstreetmap.org"),
		GeocoderTimeout:   p.duration("GEOCODER_TIMEOUT", 20*time.Second),
		GeocoderCacheSize: p.int("GEOCODER_CACHE_SIZE", 1000),
		DefaultCity:       sharedcfg.EnvOrDefault("DEFAULT_CITY", "Irvine"),
		DefaultState:      sharedcfg.EnvOrDefault("DEFAULT_STATE", "CA"),

		Commute: CommuteConfig{
			GoogleMapsAPIKey: os.Getenv("GOOGLE_MAPS_API_KEY"),
			ORSAPIKey:        os.Getenv("OPENROUTESERVICE_API_KEY"),
			Primary:          strings.ToLower(sharedcfg.EnvOrDefault("COMMUTE_PRIMARY", "google")),
			Destination:      p.coordinate("COMMUTE_DESTINATION"),
			Timeout:          p.duration("COMMUTE_TIMEOUT", 8*time.Second),
		},
		Crime: CrimeConfig{
			Domain:         sharedcfg.EnvOrDefault("SOCRATA_DOMAIN", "data.cityofirvine.org"),
			CatalogURLs:    splitList(sharedcfg.EnvOrDefault("SOCRATA_CATALOG_URLS", "https://api.us.socrata.com/api/catalog/v1,https://api.eu.socrata.com/api/catalog/v1")),
			AppToken:       os.Getenv("SOCRATA_APP_TOKEN"),
			RequireToken:   p.bool("SOCRATA_REQUIRE_TOKEN", false),
			Jurisdiction:   sharedcfg.EnvOrDefault("CRIME_JURISDICTION", "Irvine"),
			CityPopulation: p.float("CITY_POPULATION", 307670),
			CityAreaKm2:    p.float("CITY_AREA_KM2", 171.4),
			Timeout:        p.duration("SOCRATA_TIMEOUT", 8*time.Second),
		},
		Overpass: OverpassConfig{
			Endpoints: splitList(sharedcfg.EnvOrDefault("OVERPASS_ENDPOINTS",
				"https://overpass-api.de/api/interpreter,https://overpass.kumi.systems/api/interpreter,https://overpass.private.coffee/api/interpreter")),
			Timeout: p.duration("OVERPASS_TIMEOUT", 20*time.Second),
		},
		VIIRS: VIIRSConfig{
			RasterPath: sharedcfg.EnvOrDefault("VIIRS_RASTER_PATH", "data/viirs_radiance.tif"),
		},
		YouTube: YouTubeConfig{
			APIKey:  os.Getenv("YOUTUBE_API_KEY"),
			Timeout: p.duration("YOUTUBE_TIMEOUT", 10*time.Second),
		},
		ZORICSVPath: sharedcfg.EnvOrDefault("ZORI_CSV_PATH", "data/City_zori_uc_sfrcondomfr_sm_month.csv"),

		Thresholds: DefaultThresholds(),
	}

	if path := os.Getenv("THRESHOLDS_FILE"); path != "" {
		t, err := LoadThresholds(path, cfg.Thresholds)
		if err != nil {
			return nil, err
		}
		cfg.Thresholds = t
	}
	cfg.Thresholds.NightRadiusKm = p.float("VIIRS_SAMPLE_RADIUS_KM", cfg.Thresholds.NightRadiusKm)
	cfg.Thresholds.CrimeEnableFallback = p.bool("CRIME_ENABLE_FALLBACK", cfg.Thresholds.CrimeEnableFallback)
	cfg.Thresholds.CrimeFallbackPer100k = p.float("CRIME_FALLBACK_PER_100K", cfg.Thresholds.CrimeFallbackPer100k)

	if p.err != nil {
		return nil, p.err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.MetricsTTL < 0 {
		return errors.New("METRICS_TTL_HOURS must not be negative")
	}
	if c.FetchConcurrency <= 0 {
		return errors.New("FETCH_CONCURRENCY must be positive")
	}
	switch c.DatabaseDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", c.DatabaseDriver)
	}
	switch c.Commute.Primary {
	case "google", "ors":
	default:
		return fmt.Errorf("unsupported COMMUTE_PRIMARY %q", c.Commute.Primary)
	}
	if c.KafkaEnabled {
		if len(c.KafkaBrokers) == 0 {
			return errors.New("KAFKA_BROKERS is required")
		}
		if c.KafkaRequestTopic == "" {
			return errors.New("KAFKA_REQUEST_TOPIC is required")
		}
		if c.KafkaScoreTopic == "" {
			return errors.New("KAFKA_SCORE_TOPIC is required")
		}
	}
	if c.MapboxEnabled && c.MapboxToken == "" {
		return errors.New("MAPBOX_ENABLED is true but MAPBOX_TOKEN is not set")
	}
	if c.Crime.CityPopulation <= 0 || c.Crime.CityAreaKm2 <= 0 {
		return errors.New("CITY_POPULATION and CITY_AREA_KM2 must be positive")
	}
	if len(c.Overpass.Endpoints) == 0 {
		return errors.New("OVERPASS_ENDPOINTS is required")
	}
	return c.Thresholds.validate()
}

// parser accumulates the first parse error so Load can report it once.
type parser struct {
	err error
}

func (p *parser) fail(key, value string) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s: %q", key, value)
	}
}

func (p *parser) float(key string, def float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		p.fail(key, s)
		return def
	}
	return v
}

func (p *parser) int(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		p.fail(key, s)
		return def
	}
	return v
}

func (p *parser) bool(key string, def bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		p.fail(key, s)
		return def
	}
	return v
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		p.fail(key, s)
		return def
	}
	return d
}

// coordinate parses "lat,lng". Unset yields nil.
func (p *parser) coordinate(key string) *domain.Coordinate {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		p.fail(key, s)
		return nil
	}
	lat, errLat := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	lng, errLng := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if errLat != nil || errLng != nil || lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		p.fail(key, s)
		return nil
	}
	return &domain.Coordinate{Lat: lat, Lng: lng}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
