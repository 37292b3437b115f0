package overpass

import (
	"context"
	"fmt"
	"math"

	"github.com/couchcryptid/community-scoring-service/internal/domain"
	"github.com/couchcryptid/community-scoring-service/internal/provider"
)

// Noise derives a noise proxy from the nearest major road or airport.
type Noise struct {
	client   *Client
	radiusKm float64
}

// NewNoise creates the noise proxy fetcher.
func NewNoise(client *Client, radiusKm float64) *Noise {
	return &Noise{client: client, radiusKm: radiusKm}
}

// Fetch implements provider.Fetcher. A successful query that finds no
// feature yields a present 0/0 reading.
func (n *Noise) Fetch(ctx context.Context, q provider.Query) provider.Result[provider.Noise] {
	if q.Center == nil {
		return provider.Absent[provider.Noise](domain.SourceOverpass, domain.StatusMissingCoordinates, "")
	}
	radiusM := int(math.Round(n.radiusKm * 1000))
	ql := fmt.Sprintf(`[out:json][timeout:20];
(
  way(around:%[1]d,%[2]f,%[3]f)["highway"~"motorway|trunk|primary"];
  relation(around:%[1]d,%[2]f,%[3]f)["highway"~"motorway|trunk|primary"];
  way(around:%[1]d,%[2]f,%[3]f)["aeroway"="aerodrome"];
  relation(around:%[1]d,%[2]f,%[3]f)["aeroway"="aerodrome"];
);
out geom;`, radiusM, q.Center.Lat, q.Center.Lng)

	resp, err := n.client.Query(ctx, ql)
	if err != nil {
		return provider.Absent[provider.Noise](domain.SourceOverpass, domain.StatusRequestFailed, "")
	}

	minKm, ok := nearestVertexKm(*q.Center, resp.Elements)
	if !ok {
		return provider.Found(domain.SourceOverpass, provider.Noise{})
	}
	avg := distanceToDB(minKm)
	return provider.Found(domain.SourceOverpass, provider.Noise{
		AvgDB: domain.Round2(avg),
		P90DB: domain.Round2(math.Min(85, avg+7)),
	})
}

func nearestVertexKm(center domain.Coordinate, elements []Element) (float64, bool) {
	best := math.Inf(1)
	found := false
	for _, el := range elements {
		for _, p := range el.Geometry {
			d := domain.HaversineKm(center.Lat, center.Lng, p.Lat, p.Lon)
			if d < best {
				best = d
				found = true
			}
		}
	}
	return best, found
}

func distanceToDB(km float64) float64 {
	switch {
	case km <= 0.3:
		return 75
	case km <= 1.0:
		return 68
	case km <= 2.0:
		return 62
	default:
		return 55
	}
}
