package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/couchcryptid/community-scoring-service/internal/domain"
	"github.com/couchcryptid/community-scoring-service/internal/provider"
)

// Google queries the Google Distance Matrix API.
type Google struct {
	apiKey      string
	destination *domain.Coordinate
	mode        string
	httpClient  *http.Client
	baseURL     string
	logger      *slog.Logger
}

// NewGoogle creates a Distance Matrix fetcher for driving commutes.
func NewGoogle(apiKey string, destination *domain.Coordinate, timeout time.Duration, logger *slog.Logger) *Google {
	return &Google{
		apiKey:      apiKey,
		destination: destination,
		mode:        "driving",
		httpClient:  &http.Client{Timeout: timeout},
		baseURL:     "https://maps.googleapis.com/maps/api/distancematrix/json",
		logger:      logger,
	}
}

// Fetch implements provider.Fetcher.
func (g *Google) Fetch(ctx context.Context, q provider.Query) provider.Result[float64] {
	if r, done := precheck(domain.SourceGoogleMaps, q, g.destination, g.apiKey); done {
		return r
	}

	params := url.Values{
		"origins":      {fmt.Sprintf("%f,%f", q.Center.Lat, q.Center.Lng)},
		"destinations": {fmt.Sprintf("%f,%f", g.destination.Lat, g.destination.Lng)},
		"mode":         {g.mode},
		"units":        {"metric"},
		"key":          {g.apiKey},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return provider.Absent[float64](domain.SourceGoogleMaps, domain.StatusRequestFailed, err.Error())
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		g.logger.Warn("distance matrix request failed", "community_id", q.CommunityID, "error", err)
		return provider.Absent[float64](domain.SourceGoogleMaps, domain.StatusRequestFailed, "")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return provider.Absent[float64](domain.SourceGoogleMaps, domain.StatusRequestFailed, fmt.Sprintf("status %d", resp.StatusCode))
	}

	var payload distanceMatrixResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return provider.Absent[float64](domain.SourceGoogleMaps, domain.StatusRequestFailed, "decode response")
	}
	if len(payload.Rows) == 0 || len(payload.Rows[0].Elements) == 0 {
		return provider.Absent[float64](domain.SourceGoogleMaps, domain.StatusMissing, "no route")
	}
	el := payload.Rows[0].Elements[0]
	if el.Status != "OK" || el.Duration == nil {
		return provider.Absent[float64](domain.SourceGoogleMaps, domain.StatusMissing, el.Status)
	}
	return provider.Found(domain.SourceGoogleMaps, secondsToMinutes(el.Duration.Value))
}

type distanceMatrixResponse struct {
	Rows []struct {
		Elements []struct {
			Status   string `json:"status"`
			Duration *struct {
				Value float64 `json:"value"`
			} `json:"duration"`
		} `json:"elements"`
	} `json:"rows"`
}
