package mapbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/couchcryptid/community-scoring-service/internal/domain"
	"github.com/couchcryptid/community-scoring-service/internal/observability"
)

// Client implements domain.Geocoder using the Mapbox Geocoding API.
type Client struct {
	token      string
	httpClient *http.Client
	baseURL    string
	proximity  *domain.Coordinate
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a Mapbox geocoding client.
func NewClient(token string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    "https://api.mapbox.com/geocoding/v5/mapbox.places",
		metrics:    metrics,
		logger:     logger,
	}
}

// WithProximity biases forward results toward p.
func (c *Client) WithProximity(p *domain.Coordinate) *Client {
	c.proximity = p
	return c
}

// ForwardGeocode converts a community name and optional state to coordinates.
// A name that already carries a comma is sent as is.
func (c *Client) ForwardGeocode(ctx context.Context, name, state string) (domain.GeocodingResult, error) {
	query := name
	if state != "" && !strings.Contains(name, ",") {
		query = fmt.Sprintf("%s, %s", name, state)
	}

	params := c.params("neighborhood,locality,place,address,poi")
	params.Set("country", "us")
	params.Set("autocomplete", "false")
	if c.proximity != nil {
		params.Set("proximity", fmt.Sprintf("%.6f,%.6f", c.proximity.Lng, c.proximity.Lat))
	}
	return c.doRequest(ctx, c.endpoint(url.PathEscape(query))+"?"+params.Encode(), "forward")
}

// ReverseGeocode resolves coordinates to the enclosing neighborhood or place.
func (c *Client) ReverseGeocode(ctx context.Context, lat, lon float64) (domain.GeocodingResult, error) {
	// Mapbox uses lon,lat order.
	coord := fmt.Sprintf("%.6f,%.6f", lon, lat)
	return c.doRequest(ctx, c.endpoint(coord)+"?"+c.params("neighborhood,locality,place").Encode(), "reverse")
}

func (c *Client) endpoint(query string) string {
	return fmt.Sprintf("%s/%s.json", c.baseURL, query)
}

func (c *Client) params(types string) url.Values {
	return url.Values{
		"access_token": {c.token},
		"limit":        {"1"},
		"language":     {"en"},
		"types":        {types},
	}
}

// doRequest performs one lookup. The outcome label is recorded once per call.
func (c *Client) doRequest(ctx context.Context, fullURL, method string) (result domain.GeocodingResult, err error) {
	outcome := "error"
	defer func() { c.metrics.GeocodeRequests.WithLabelValues(method, outcome).Inc() }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return domain.GeocodingResult{}, fmt.Errorf("create request: %w", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.GeocodeAPIDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err != nil {
		return domain.GeocodingResult{}, fmt.Errorf("%s geocode request: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.GeocodingResult{}, fmt.Errorf("mapbox API error: status %d: %s", resp.StatusCode, body)
	}

	var mapboxResp response
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&mapboxResp); err != nil {
		return domain.GeocodingResult{}, fmt.Errorf("decode response: %w", err)
	}

	if len(mapboxResp.Features) == 0 {
		outcome = "empty"
		c.logger.Debug("mapbox returned no features", "method", method)
		return domain.GeocodingResult{}, nil
	}
	outcome = "success"

	f := mapboxResp.Features[0]
	result = domain.GeocodingResult{
		FormattedAddress: f.PlaceName,
		PlaceName:        f.Text,
		Confidence:       f.Relevance,
	}
	if len(f.Center) == 2 {
		result.Lon = f.Center[0]
		result.Lat = f.Center[1]
	}
	result.City, result.State = placeAndRegion(f)
	return result, nil
}

const maxResponseBytes = 1 << 20

// placeAndRegion extracts the city and two-letter state from a feature and
// its context chain.
func placeAndRegion(f feature) (city, state string) {
	items := append([]contextItem{{ID: f.ID, Text: f.Text, ShortCode: f.ShortCode}}, f.Context...)
	for _, item := range items {
		switch {
		case strings.HasPrefix(item.ID, "place.") && city == "":
			city = item.Text
		case strings.HasPrefix(item.ID, "region.") && state == "":
			code := item.ShortCode
			if i := strings.LastIndex(code, "-"); i >= 0 {
				code = code[i+1:]
			}
			if code == "" {
				code = item.Text
			}
			state = strings.ToUpper(code)
		}
	}
	return city, state
}

// Mapbox API response types.

type response struct {
	Features []feature `json:"features"`
}

type feature struct {
	ID        string        `json:"id"`
	Center    []float64     `json:"center"` // [lon, lat]
	PlaceName string        `json:"place_name"`
	Text      string        `json:"text"`
	ShortCode string        `json:"short_code,omitempty"`
	Relevance float64       `json:"relevance"`
	Context   []contextItem `json:"context,omitempty"`
}

type contextItem struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	ShortCode string `json:"short_code,omitempty"`
}
