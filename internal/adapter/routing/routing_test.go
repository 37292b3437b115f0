package routing

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
	"github.com/couchcryptid/community-scoring-service/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	origin      = &domain.Coordinate{Lat: 33.6711, Lng: -117.7923}
	destination = &domain.Coordinate{Lat: 33.6846, Lng: -117.8265}
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func query() provider.Query {
	return provider.Query{CommunityID: "woodbridge", Center: origin}
}

func TestGoogle_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key-1", r.URL.Query().Get("key"))
		assert.Equal(t, "driving", r.URL.Query().Get("mode"))
		assert.Contains(t, r.URL.Query().Get("origins"), "33.671100")
		_, _ = w.Write([]byte(`{"rows":[{"elements":[{"status":"OK","duration":{"value":1290}}]}]}`))
	}))
	defer srv.Close()

	g := NewGoogle("key-1", destination, time.Second, discardLogger())
	g.baseURL = srv.URL

	r := g.Fetch(context.Background(), query())
	require.True(t, r.Present)
	assert.InDelta(t, 22, r.Value, 0) // 21.5 rounds to even
	assert.Equal(t, domain.SourceGoogleMaps, r.Source)
}

func TestGoogle_ElementNotOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"rows":[{"elements":[{"status":"ZERO_RESULTS"}]}]}`))
	}))
	defer srv.Close()

	g := NewGoogle("key-1", destination, time.Second, discardLogger())
	g.baseURL = srv.URL

	r := g.Fetch(context.Background(), query())
	assert.False(t, r.Present)
	assert.Equal(t, domain.StatusMissing, r.Reason)
	assert.Equal(t, "ZERO_RESULTS", r.Detail)
}

func TestGoogle_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	g := NewGoogle("key-1", destination, time.Second, discardLogger())
	g.baseURL = srv.URL

	r := g.Fetch(context.Background(), query())
	assert.Equal(t, domain.StatusRequestFailed, r.Reason)
}

func TestSecondsToMinutes(t *testing.T) {
	tests := []struct {
		seconds float64
		want    float64
	}{
		{seconds: 0, want: 0},
		{seconds: 29, want: 0},
		{seconds: 89, want: 1},
		{seconds: 1290, want: 22}, // 21.5
		{seconds: 1350, want: 22}, // 22.5
		{seconds: 1351, want: 23},
		{seconds: 1410, want: 24}, // 23.5
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, secondsToMinutes(tt.seconds), 0, "%v seconds", tt.seconds)
	}
}

func TestGoogle_HalfMinuteRoundsToEven(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"rows":[{"elements":[{"status":"OK","duration":{"value":1350}}]}]}`))
	}))
	defer srv.Close()

	g := NewGoogle("key-1", destination, time.Second, discardLogger())
	g.baseURL = srv.URL

	r := g.Fetch(context.Background(), query())
	require.True(t, r.Present)
	assert.InDelta(t, 22, r.Value, 0)
}

func TestPrecheck(t *testing.T) {
	tests := []struct {
		name    string
		q       provider.Query
		dest    *domain.Coordinate
		key     string
		present bool
		reason  domain.Status
	}{
		{"no center", provider.Query{}, destination, "k", false, domain.StatusMissingCoordinates},
		{"no destination", query(), nil, "k", false, domain.StatusNotConfigured},
		{"same point", provider.Query{Center: destination}, destination, "", true, domain.StatusFetched},
		{"no key", query(), destination, "", false, domain.StatusMissingAPIKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewGoogle(tt.key, tt.dest, time.Second, discardLogger()).Fetch(context.Background(), tt.q)
			assert.Equal(t, tt.present, r.Present)
			assert.Equal(t, tt.reason, r.Reason)
			if tt.present {
				assert.InDelta(t, 0, r.Value, 0)
			}
		})
	}
}

func TestORS_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/driving-car", r.URL.Path)
		assert.Equal(t, "ors-key", r.Header.Get("Authorization"))

		var body directionsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Coordinates, 2)
		assert.Equal(t, [2]float64{origin.Lng, origin.Lat}, body.Coordinates[0])

		_, _ = w.Write([]byte(`{"features":[{"properties":{"summary":{"duration":905.2}}}]}`))
	}))
	defer srv.Close()

	o := NewORS("ors-key", destination, time.Second, discardLogger())
	o.baseURL = srv.URL

	r := o.Fetch(context.Background(), query())
	require.True(t, r.Present)
	assert.InDelta(t, 15, r.Value, 0)
	assert.Equal(t, domain.SourceORS, r.Source)
}

func TestORS_NoFeatures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"features":[]}`))
	}))
	defer srv.Close()

	o := NewORS("ors-key", destination, time.Second, discardLogger())
	o.baseURL = srv.URL

	r := o.Fetch(context.Background(), query())
	assert.Equal(t, domain.StatusMissing, r.Reason)
}

func TestChain_FallsThroughToAlternate(t *testing.T) {
	primary := provider.Static(provider.Absent[float64](domain.SourceGoogleMaps, domain.StatusMissingAPIKey, ""))
	alternate := provider.Static(provider.Found(domain.SourceORS, 18.0))

	r := NewChain(primary, alternate).Fetch(context.Background(), query())
	require.True(t, r.Present)
	assert.Equal(t, domain.SourceORS, r.Source)
	assert.InDelta(t, 18, r.Value, 0)
}

func TestChain_PrimaryWins(t *testing.T) {
	alternateCalled := false
	primary := provider.Static(provider.Found(domain.SourceGoogleMaps, 12.0))
	alternate := provider.Func[float64](func(context.Context, provider.Query) provider.Result[float64] {
		alternateCalled = true
		return provider.Found(domain.SourceORS, 99.0)
	})

	r := NewChain(primary, alternate).Fetch(context.Background(), query())
	assert.Equal(t, domain.SourceGoogleMaps, r.Source)
	assert.False(t, alternateCalled)
}

func TestChain_AllAbsent(t *testing.T) {
	primary := provider.Static(provider.Absent[float64](domain.SourceGoogleMaps, domain.StatusMissingAPIKey, ""))
	alternate := provider.Static(provider.Absent[float64](domain.SourceORS, domain.StatusRequestFailed, ""))

	r := NewChain(primary, alternate).Fetch(context.Background(), query())
	assert.False(t, r.Present)
	assert.Equal(t, domain.SourceCommute, r.Source)
	assert.Equal(t, domain.StatusMissingAPIKey, r.Reason)
	assert.Equal(t, "google_maps=missing_api_key,openrouteservice=request_failed", r.Detail)
}
