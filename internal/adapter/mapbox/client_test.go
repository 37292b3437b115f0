package mapbox

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/couchcryptid/community-scoring-service/internal/domain"
	"github.com/couchcryptid/community-scoring-service/internal/observability"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "test-token"

func testClient(baseURL string, timeout time.Duration) *Client {
	return NewClient(testToken, timeout, observability.NewMetricsForTesting(), slog.New(slog.NewTextHandler(io.Discard, nil))).withBaseURL(baseURL)
}

func (c *Client) withBaseURL(u string) *Client {
	c.baseURL = u
	return c
}

// serveFeatures answers every request with the given features and hands the
// request to inspect.
func serveFeatures(t *testing.T, inspect func(r *http.Request), features ...feature) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if inspect != nil {
			inspect(r)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response{Features: features})
	}))
	t.Cleanup(srv.Close)
	return srv
}

var woodbridge = feature{
	ID:        "neighborhood.42",
	Center:    []float64{-117.7923, 33.6711},
	PlaceName: "Woodbridge, Irvine, California, United States",
	Text:      "Woodbridge",
	Relevance: 0.95,
	Context: []contextItem{
		{ID: "place.7", Text: "Irvine"},
		{ID: "region.9", Text: "California", ShortCode: "US-CA"},
	},
}

func TestClient_ForwardGeocode(t *testing.T) {
	var got *http.Request
	srv := serveFeatures(t, func(r *http.Request) { got = r }, woodbridge)

	c := testClient(srv.URL, 5*time.Second)
	result, err := c.ForwardGeocode(context.Background(), "Woodbridge, Irvine, CA", "CA")
	require.NoError(t, err)

	require.NotNil(t, got)
	assert.Contains(t, got.URL.Path, "Woodbridge, Irvine, CA.json")
	q := got.URL.Query()
	assert.Equal(t, testToken, q.Get("access_token"))
	assert.Equal(t, "1", q.Get("limit"))
	assert.Equal(t, "us", q.Get("country"))
	assert.Equal(t, "neighborhood,locality,place,address,poi", q.Get("types"))
	assert.Empty(t, q.Get("proximity"))

	assert.Equal(t, domain.GeocodingResult{
		FormattedAddress: "Woodbridge, Irvine, California, United States",
		PlaceName:        "Woodbridge",
		Lat:              33.6711,
		Lon:              -117.7923,
		City:             "Irvine",
		State:            "CA",
		Confidence:       0.95,
	}, result)
	assert.InDelta(t, 1, testutil.ToFloat64(c.metrics.GeocodeRequests.WithLabelValues("forward", "success")), 0)
}

func TestClient_ForwardGeocode_AppendsStateAndProximity(t *testing.T) {
	var got *http.Request
	srv := serveFeatures(t, func(r *http.Request) { got = r })

	c := testClient(srv.URL, 5*time.Second).WithProximity(&domain.Coordinate{Lat: 33.6846, Lng: -117.8265})
	_, err := c.ForwardGeocode(context.Background(), "Woodbridge", "CA")
	require.NoError(t, err)

	assert.Contains(t, got.URL.Path, "Woodbridge, CA.json")
	assert.Equal(t, "-117.826500,33.684600", got.URL.Query().Get("proximity"))
}

func TestClient_ReverseGeocode(t *testing.T) {
	var got *http.Request
	srv := serveFeatures(t, func(r *http.Request) { got = r }, feature{
		ID:        "place.7",
		Center:    []float64{-117.7923, 33.6711},
		PlaceName: "Irvine, California, United States",
		Text:      "Irvine",
		Relevance: 0.98,
		Context:   []contextItem{{ID: "region.9", Text: "California", ShortCode: "US-CA"}},
	})

	c := testClient(srv.URL, 5*time.Second)
	result, err := c.ReverseGeocode(context.Background(), 33.6711, -117.7923)
	require.NoError(t, err)

	assert.Contains(t, got.URL.Path, "-117.792300,33.671100")
	assert.Equal(t, "neighborhood,locality,place", got.URL.Query().Get("types"))
	assert.Equal(t, "Irvine", result.City)
	assert.Equal(t, "CA", result.State)
	assert.InDelta(t, 1, testutil.ToFloat64(c.metrics.GeocodeRequests.WithLabelValues("reverse", "success")), 0)
}

func TestClient_ForwardGeocode_NoResults(t *testing.T) {
	srv := serveFeatures(t, nil)

	c := testClient(srv.URL, 5*time.Second)
	result, err := c.ForwardGeocode(context.Background(), "Atlantis", "CA")
	require.NoError(t, err)
	assert.False(t, result.Found())
	assert.InDelta(t, 1, testutil.ToFloat64(c.metrics.GeocodeRequests.WithLabelValues("forward", "empty")), 0)
}

func TestClient_ForwardGeocode_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		timeout time.Duration
		want    string
	}{
		{
			name: "unauthorized",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"message":"Not Authorized"}`))
			},
			want: "401",
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"features":`))
			},
			want: "decode response",
		},
		{
			name: "timeout",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				time.Sleep(200 * time.Millisecond)
				w.WriteHeader(http.StatusOK)
			},
			timeout: 50 * time.Millisecond,
			want:    "forward geocode request",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			timeout := tt.timeout
			if timeout == 0 {
				timeout = 5 * time.Second
			}
			c := testClient(srv.URL, timeout)

			_, err := c.ForwardGeocode(context.Background(), "Woodbridge", "CA")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.InDelta(t, 1, testutil.ToFloat64(c.metrics.GeocodeRequests.WithLabelValues("forward", "error")), 0)
		})
	}
}

func TestPlaceAndRegion_FallsBackToRegionText(t *testing.T) {
	city, state := placeAndRegion(feature{
		ID:      "locality.1",
		Text:    "Northwood",
		Context: []contextItem{{ID: "place.2", Text: "Irvine"}, {ID: "region.3", Text: "ca"}},
	})
	assert.Equal(t, "Irvine", city)
	assert.Equal(t, "CA", state)
}
