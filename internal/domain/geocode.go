package domain

import (
	"context"
	"log/slog"
	"strings"
)

// BiasQuery appends the default city and state to short names so ambiguous
// neighbourhood names resolve inside the service area. Queries that already
// contain a comma or mention the default city are returned unchanged.
func BiasQuery(query, defaultCity, defaultState string) string {
	q := strings.TrimSpace(query)
	if q == "" || defaultCity == "" {
		return q
	}
	if strings.Contains(q, ",") || strings.Contains(strings.ToLower(q), strings.ToLower(defaultCity)) {
		return q
	}
	if defaultState == "" {
		return q + ", " + defaultCity
	}
	return q + ", " + defaultCity + ", " + defaultState
}

// CommunityFromGeocode builds a new community from a forward geocoding hit.
func CommunityFromGeocode(query string, result GeocodingResult) Community {
	name := strings.TrimSpace(result.PlaceName)
	if name == "" {
		name = strings.TrimSpace(query)
	}
	return Community{
		Name:   name,
		City:   strings.TrimSpace(result.City),
		State:  strings.ToUpper(strings.TrimSpace(result.State)),
		Center: result.Center(),
	}
}

// EnrichWithGeocoding fills a missing city or state by reverse geocoding the
// community's center. Communities without coordinates, or with both fields
// already set, are returned unchanged. Failures degrade gracefully: the
// community is returned as-is and the error is logged.
func EnrichWithGeocoding(ctx context.Context, c Community, geocoder Geocoder, logger *slog.Logger) (Community, bool) {
	if geocoder == nil || !c.HasCenter() {
		return c, false
	}
	if c.City != "" && c.State != "" {
		return c, false
	}

	result, err := geocoder.ReverseGeocode(ctx, c.Center.Lat, c.Center.Lng)
	if err != nil {
		logger.Warn("reverse geocoding failed",
			"community_id", c.ID,
			"lat", c.Center.Lat,
			"lng", c.Center.Lng,
			"error", err,
		)
		return c, false
	}

	changed := false
	if c.City == "" && result.City != "" {
		c.City = result.City
		changed = true
	}
	if c.State == "" && result.State != "" {
		c.State = strings.ToUpper(result.State)
		changed = true
	}
	return c, changed
}
