//go:build mapbox

package mapbox

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/couchcryptid/community-scoring-service/internal/adapter/geocache"
	"github.com/couchcryptid/community-scoring-service/internal/domain"
	"github.com/couchcryptid/community-scoring-service/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests hit the real Mapbox API and need MAPBOX_TOKEN.
// Run with: go test -tags=mapbox ./internal/adapter/mapbox/ -v -count=1

func smokeClient(t *testing.T) *Client {
	t.Helper()
	token := os.Getenv("MAPBOX_TOKEN")
	if token == "" {
		t.Skip("MAPBOX_TOKEN not set")
	}
	return NewClient(token, 10*time.Second, observability.NewMetricsForTesting(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSmoke_ForwardGeocodeCommunity(t *testing.T) {
	c := smokeClient(t).WithProximity(&domain.Coordinate{Lat: 33.6846, Lng: -117.8265})

	result, err := c.ForwardGeocode(context.Background(), "Woodbridge, Irvine, CA", "CA")
	require.NoError(t, err)
	require.True(t, result.Found())

	assert.InDelta(t, 33.67, result.Lat, 0.1)
	assert.InDelta(t, -117.79, result.Lon, 0.1)
	assert.Equal(t, "Irvine", result.City)
	assert.Equal(t, "CA", result.State)
}

func TestSmoke_ReverseGeocodeFillsCity(t *testing.T) {
	result, err := smokeClient(t).ReverseGeocode(context.Background(), 33.7173, -117.7734)
	require.NoError(t, err)

	assert.Equal(t, "Irvine", result.City)
	assert.Equal(t, "CA", result.State)
}

func TestSmoke_CacheServesRepeatLookups(t *testing.T) {
	c := smokeClient(t)
	cached := geocache.New(c, 10, c.metrics)

	first, err := cached.ForwardGeocode(context.Background(), "Northwood, Irvine, CA", "CA")
	require.NoError(t, err)
	second, err := cached.ForwardGeocode(context.Background(), "Northwood, Irvine, CA", "CA")
	require.NoError(t, err)

	assert.Equal(t, first, second)
}
