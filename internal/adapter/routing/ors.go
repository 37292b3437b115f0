package routing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/community-scoring-service/internal/domain"
	"github.com/couchcryptid/community-scoring-service/internal/provider"
)

// ORS queries the OpenRouteService directions API.
type ORS struct {
	apiKey      string
	destination *domain.Coordinate
	profile     string
	httpClient  *http.Client
	baseURL     string
	logger      *slog.Logger
}

// NewORS creates an OpenRouteService fetcher for the driving-car profile.
func NewORS(apiKey string, destination *domain.Coordinate, timeout time.Duration, logger *slog.Logger) *ORS {
	return &ORS{
		apiKey:      apiKey,
		destination: destination,
		profile:     "driving-car",
		httpClient:  &http.Client{Timeout: timeout},
		baseURL:     "https://api.openrouteservice.org/v2/directions",
		logger:      logger,
	}
}

// Fetch implements provider.Fetcher.
func (o *ORS) Fetch(ctx context.Context, q provider.Query) provider.Result[float64] {
	if r, done := precheck(domain.SourceORS, q, o.destination, o.apiKey); done {
		return r
	}

	// ORS expects [lng, lat].
	body, err := json.Marshal(directionsRequest{Coordinates: [][2]float64{
		{q.Center.Lng, q.Center.Lat},
		{o.destination.Lng, o.destination.Lat},
	}})
	if err != nil {
		return provider.Absent[float64](domain.SourceORS, domain.StatusRequestFailed, err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/"+o.profile, bytes.NewReader(body))
	if err != nil {
		return provider.Absent[float64](domain.SourceORS, domain.StatusRequestFailed, err.Error())
	}
	req.Header.Set("Authorization", o.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		o.logger.Warn("openrouteservice request failed", "community_id", q.CommunityID, "error", err)
		return provider.Absent[float64](domain.SourceORS, domain.StatusRequestFailed, "")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return provider.Absent[float64](domain.SourceORS, domain.StatusRequestFailed, fmt.Sprintf("status %d", resp.StatusCode))
	}

	var payload directionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return provider.Absent[float64](domain.SourceORS, domain.StatusRequestFailed, "decode response")
	}
	if len(payload.Features) == 0 || payload.Features[0].Properties.Summary.Duration == nil {
		return provider.Absent[float64](domain.SourceORS, domain.StatusMissing, "no route")
	}
	return provider.Found(domain.SourceORS, secondsToMinutes(*payload.Features[0].Properties.Summary.Duration))
}

type directionsRequest struct {
	Coordinates [][2]float64 `json:"coordinates"`
}

type directionsResponse struct {
	Features []struct {
		Properties struct {
			Summary struct {
				Duration *float64 `json:"duration"`
			} `json:"summary"`
		} `json:"properties"`
	} `json:"features"`
}
