// Package overpass queries OpenStreetMap through the Overpass API and derives
// the grocery density and noise proxy signals from the returned features.
package overpass

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/couchcryptid/community-scoring-service/internal/adapter/mirror"
	"github.com/couchcryptid/community-scoring-service/internal/observability"
)

// Client posts Overpass QL queries, rotating across mirror endpoints.
type Client struct {
	endpoints  []string
	httpClient *http.Client
	policy     mirror.Policy
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates an Overpass client.
func NewClient(endpoints []string, timeout time.Duration, policy mirror.Policy, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		endpoints:  endpoints,
		httpClient: &http.Client{Timeout: timeout},
		policy:     policy,
		metrics:    metrics,
		logger:     logger,
	}
}

// Query runs ql and decodes the JSON response.
func (c *Client) Query(ctx context.Context, ql string) (*Response, error) {
	var out *Response
	onRound := func(round int) {
		c.metrics.ProviderRetries.WithLabelValues("overpass").Inc()
		c.logger.Debug("retrying overpass query", "round", round)
	}
	err := mirror.Do(ctx, c.endpoints, c.policy, onRound, func(ctx context.Context, endpoint string) error {
		resp, err := c.post(ctx, endpoint, ql)
		if err != nil {
			c.logger.Debug("overpass endpoint failed", "endpoint", endpoint, "error", err)
			return err
		}
		out = resp
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("overpass query: %w", err)
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, endpoint, ql string) (*Response, error) {
	body := url.Values{"data": {ql}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &mirror.StatusError{Endpoint: endpoint, Code: resp.StatusCode}
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

// Response is the JSON output of an Overpass query.
type Response struct {
	Elements []Element `json:"elements"`
}

// Element is a node, way or relation. Which location fields are set depends
// on the output mode of the query.
type Element struct {
	Type     string            `json:"type"`
	ID       int64             `json:"id"`
	Lat      *float64          `json:"lat,omitempty"`
	Lon      *float64          `json:"lon,omitempty"`
	Center   *Point            `json:"center,omitempty"`
	Bounds   *Bounds           `json:"bounds,omitempty"`
	Geometry []Point           `json:"geometry,omitempty"`
	Tags     map[string]string `json:"tags,omitempty"`
}

// Point is a geometry vertex.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Bounds is an element bounding box.
type Bounds struct {
	MinLat float64 `json:"minlat"`
	MinLon float64 `json:"minlon"`
	MaxLat float64 `json:"maxlat"`
	MaxLon float64 `json:"maxlon"`
}

// Location returns the element's own coordinate or its center.
func (e Element) Location() (Point, bool) {
	if e.Lat != nil && e.Lon != nil {
		return Point{Lat: *e.Lat, Lon: *e.Lon}, true
	}
	if e.Center != nil {
		return *e.Center, true
	}
	return Point{}, false
}
