// Package nominatim implements domain.Geocoder against the OpenStreetMap
// Nominatim search and reverse APIs.
package nominatim

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/community-scoring-service/internal/domain"
	"github.com/couchcryptid/community-scoring-service/internal/observability"
)

const userAgent = "rentwise-backend/0.1 (community geocoding)"

// Client implements domain.Geocoder using Nominatim.
type Client struct {
	httpClient *http.Client
	baseURL    string
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a Nominatim client. baseURL is the service root, e.g.
// https://nominatim.openstreetmap.org.
func NewClient(baseURL string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		metrics:    metrics,
		logger:     logger,
	}
}

// ForwardGeocode looks up a community by name. The state is appended when
// the name carries no qualifier of its own.
func (c *Client) ForwardGeocode(ctx context.Context, name, state string) (domain.GeocodingResult, error) {
	query := strings.TrimSpace(name)
	if query == "" {
		return domain.GeocodingResult{}, nil
	}
	if state != "" && !strings.Contains(query, ",") {
		query = query + ", " + state
	}
	params := url.Values{
		"q":              {query},
		"format":         {"jsonv2"},
		"addressdetails": {"1"},
		"limit":          {"1"},
	}

	var places []place
	if err := c.get(ctx, "/search?"+params.Encode(), "forward", &places); err != nil {
		return domain.GeocodingResult{}, err
	}
	if len(places) == 0 {
		c.metrics.GeocodeRequests.WithLabelValues("forward", "empty").Inc()
		return domain.GeocodingResult{}, nil
	}
	return c.toResult("forward", places[0], name)
}

// ReverseGeocode converts coordinates to place details.
func (c *Client) ReverseGeocode(ctx context.Context, lat, lon float64) (domain.GeocodingResult, error) {
	params := url.Values{
		"lat":            {strconv.FormatFloat(lat, 'f', 6, 64)},
		"lon":            {strconv.FormatFloat(lon, 'f', 6, 64)},
		"format":         {"jsonv2"},
		"addressdetails": {"1"},
	}

	var p place
	if err := c.get(ctx, "/reverse?"+params.Encode(), "reverse", &p); err != nil {
		return domain.GeocodingResult{}, err
	}
	if p.Error != "" || p.Lat == "" {
		c.metrics.GeocodeRequests.WithLabelValues("reverse", "empty").Inc()
		return domain.GeocodingResult{}, nil
	}
	return c.toResult("reverse", p, "")
}

func (c *Client) toResult(method string, p place, query string) (domain.GeocodingResult, error) {
	lat, errLat := strconv.ParseFloat(p.Lat, 64)
	lon, errLon := strconv.ParseFloat(p.Lon, 64)
	if errLat != nil || errLon != nil {
		c.metrics.GeocodeRequests.WithLabelValues(method, "error").Inc()
		return domain.GeocodingResult{}, fmt.Errorf("nominatim returned invalid coordinates %q,%q", p.Lat, p.Lon)
	}
	c.metrics.GeocodeRequests.WithLabelValues(method, "success").Inc()

	name := p.Name
	if name == "" {
		name = strings.TrimSpace(query)
	}
	return domain.GeocodingResult{
		Lat:              lat,
		Lon:              lon,
		FormattedAddress: p.DisplayName,
		PlaceName:        name,
		City:             p.Address.city(),
		State:            p.Address.state(),
		Confidence:       p.Importance,
	}, nil
}

func (c *Client) get(ctx context.Context, path, method string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.GeocodeAPIDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.GeocodeRequests.WithLabelValues(method, "error").Inc()
		return fmt.Errorf("%s geocode request: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.metrics.GeocodeRequests.WithLabelValues(method, "error").Inc()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("nominatim API error: status %d: %s", resp.StatusCode, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		c.metrics.GeocodeRequests.WithLabelValues(method, "error").Inc()
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Nominatim API response types.

type place struct {
	Lat         string  `json:"lat"`
	Lon         string  `json:"lon"`
	Name        string  `json:"name"`
	DisplayName string  `json:"display_name"`
	Importance  float64 `json:"importance"`
	Address     address `json:"address"`
	Error       string  `json:"error,omitempty"`
}

type address struct {
	City         string `json:"city"`
	Town         string `json:"town"`
	Village      string `json:"village"`
	Municipality string `json:"municipality"`
	ISOLevel4    string `json:"ISO3166-2-lvl4"`
	StateCode    string `json:"state_code"`
	State        string `json:"state"`
}

func (a address) city() string {
	for _, v := range []string{a.City, a.Town, a.Village, a.Municipality} {
		if v != "" {
			return v
		}
	}
	return ""
}

func (a address) state() string {
	if code := a.ISOLevel4; code != "" {
		if i := strings.LastIndex(code, "-"); i >= 0 {
			return strings.ToUpper(code[i+1:])
		}
	}
	if a.StateCode != "" {
		return strings.ToUpper(a.StateCode)
	}
	return strings.ToUpper(a.State)
}
