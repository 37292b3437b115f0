package domain

import (
	"strings"
	"time"
	"unicode"
)

// Coordinate is a WGS-84 latitude/longitude pair.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Community is the root record every metrics, score and review row hangs off.
// Once Center is set it is treated as a stable input to all geospatial fetchers.
type Community struct {
	ID              string      `json:"community_id"`
	Name            string      `json:"name"`
	City            string      `json:"city,omitempty"`
	State           string      `json:"state,omitempty"`
	Center          *Coordinate `json:"center,omitempty"`
	BoundaryGeoJSON string      `json:"boundary_geojson,omitempty"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// HasCenter reports whether the community has been geocoded.
func (c Community) HasCenter() bool {
	return c.Center != nil
}

// Slugify turns a display name into a community id: lowercase ASCII letters
// and digits separated by single hyphens. "Turtle Rock, Irvine" -> "turtle-rock-irvine".
func Slugify(name string) string {
	var b strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
			continue
		}
		pendingDash = true
	}
	return b.String()
}
