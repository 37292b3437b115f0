package overpass

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/couchcryptid/community-scoring-service/internal/domain"
	"github.com/couchcryptid/community-scoring-service/internal/provider"
)

// Grocery estimates distance- and size-weighted grocery density per km².
type Grocery struct {
	client   *Client
	radiusKm float64
}

// NewGrocery creates the grocery density fetcher.
func NewGrocery(client *Client, radiusKm float64) *Grocery {
	return &Grocery{client: client, radiusKm: radiusKm}
}

// Fetch implements provider.Fetcher.
func (g *Grocery) Fetch(ctx context.Context, q provider.Query) provider.Result[float64] {
	if q.Center == nil {
		return provider.Absent[float64](domain.SourceOverpass, domain.StatusMissingCoordinates, "")
	}
	radiusM := int(math.Round(g.radiusKm * 1000))
	ql := fmt.Sprintf(`[out:json][timeout:20];
(
  node(around:%[1]d,%[2]f,%[3]f)["shop"~"supermarket|grocery|convenience"];
  way(around:%[1]d,%[2]f,%[3]f)["shop"~"supermarket|grocery|convenience"];
);
out center tags bb;`, radiusM, q.Center.Lat, q.Center.Lng)

	resp, err := g.client.Query(ctx, ql)
	if err != nil {
		return provider.Absent[float64](domain.SourceOverpass, domain.StatusRequestFailed, "")
	}
	return provider.Found(domain.SourceOverpass, weightedDensity(*q.Center, resp.Elements, g.radiusKm))
}

// weightedDensity sums each store's distance decay times its size multiplier
// and divides by the search area.
func weightedDensity(center domain.Coordinate, elements []Element, radiusKm float64) float64 {
	area := domain.CircleAreaKm2(radiusKm)
	if area <= 0 {
		return 0
	}
	halfScale := 0.5 * radiusKm
	sum := 0.0
	for _, el := range elements {
		p, ok := el.Location()
		if !ok {
			continue
		}
		d := domain.HaversineKm(center.Lat, center.Lng, p.Lat, p.Lon)
		sum += math.Exp(-d/halfScale) * sizeMultiplier(el)
	}
	return domain.Round3(sum / area)
}

// sizeMultiplier ranks a store by shop type, floor area and building levels,
// clamped to [0.4, 2.0].
func sizeMultiplier(el Element) float64 {
	m := 1.0
	switch strings.ToLower(el.Tags["shop"]) {
	case "supermarket":
		m = 1.5
	case "grocery":
		m = 1.0
	case "convenience":
		m = 0.6
	}

	levels := parseLevels(el.Tags["building:levels"])
	if area, ok := floorAreaM2(el, levels); ok {
		switch {
		case area > 2000:
			m *= 1.3
		case area > 800:
			m *= 1.1
		case area < 150:
			m *= 0.8
		}
	}
	if levels >= 2 {
		m *= 1.1
	}
	return math.Max(0.4, math.Min(2.0, m))
}

// floorAreaM2 estimates floor area from the element's bounding box
// footprint times its levels.
func floorAreaM2(el Element, levels float64) (float64, bool) {
	if el.Bounds == nil {
		return 0, false
	}
	b := el.Bounds
	midLat := (b.MinLat + b.MaxLat) / 2
	h := (b.MaxLat - b.MinLat) * 111_000
	w := (b.MaxLon - b.MinLon) * 111_000 * math.Cos(midLat*math.Pi/180)
	footprint := math.Abs(h * w)
	if footprint <= 0 {
		return 0, false
	}
	return footprint * math.Max(1, levels), true
}

func parseLevels(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}
