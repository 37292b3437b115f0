package socrata

import (
	"context"
	"log/slog"
	"math"
	"strings"

	"github.com/couchcryptid/community-scoring-service/internal/domain"
	"github.com/couchcryptid/community-scoring-service/internal/provider"
)

// minAreaKm2 floors the search area used to estimate local population.
const minAreaKm2 = 0.05

// CrimeSettings tunes the crime rate estimate.
type CrimeSettings struct {
	Jurisdiction    string
	CityPopulation  float64
	CityAreaKm2     float64
	RadiusKm        float64
	RequireToken    bool
	EnableFallback  bool
	FallbackPer100k float64
}

// Crime estimates incidents per 100k residents over the last year.
type Crime struct {
	client   *Client
	settings CrimeSettings
	logger   *slog.Logger
}

// NewCrime creates the crime rate fetcher.
func NewCrime(client *Client, settings CrimeSettings, logger *slog.Logger) *Crime {
	return &Crime{client: client, settings: settings, logger: logger}
}

// Fetch implements provider.Fetcher. A local radius count is preferred so
// neighbouring communities can differ; a city-wide count is the second
// choice and the configured fallback constant the last.
func (c *Crime) Fetch(ctx context.Context, q provider.Query) provider.Result[float64] {
	if !strings.EqualFold(strings.TrimSpace(q.City), strings.TrimSpace(c.settings.Jurisdiction)) {
		return provider.Absent[float64](domain.SourceSocrata, domain.StatusNotApplicable, q.City)
	}
	if c.settings.RequireToken && !c.client.HasToken() {
		return c.fallback(domain.StatusMissingAPIKey)
	}

	candidates, err := c.client.Discover(ctx, c.settings.Jurisdiction)
	if err != nil {
		c.logger.Warn("crime dataset discovery failed", "community_id", q.CommunityID, "error", err)
		return c.fallback(domain.StatusRequestFailed)
	}

	now := domain.Now()
	anyAnswered := false
	for _, ds := range candidates {
		dateCol := chooseDateCol(ds.Columns)
		geoCol := chooseGeoCol(ds.Columns)
		latCol, lngCol := chooseLatLngCols(ds.Columns)

		for _, where := range whereClauses(ds.Columns, dateCol, c.settings.Jurisdiction, now) {
			if q.Center != nil {
				if local, ok := c.countLocal(ctx, ds.ID, where, *q.Center, geoCol, latCol, lngCol); ok {
					rate := domain.Round2(float64(local) / c.localPopulation() * 100000)
					return provider.Result[float64]{
						Value:   rate,
						Present: true,
						Source:  domain.SourceSocrataLocal,
						Reason:  domain.StatusFetched,
						Detail:  ds.ID,
					}
				}
			}

			total, ok := c.client.Count(ctx, ds.ID, where)
			if ok {
				anyAnswered = true
			}
			if ok && total > 0 {
				rate := domain.Round2(float64(total) / c.settings.CityPopulation * 100000)
				return provider.Result[float64]{
					Value:   rate,
					Present: true,
					Source:  domain.SourceSocrata,
					Reason:  domain.StatusFetched,
					Detail:  ds.ID,
				}
			}
		}
	}

	switch {
	case q.Center == nil:
		return c.fallback(domain.StatusMissingCoordinates)
	case len(candidates) > 0 && !anyAnswered:
		return c.fallback(domain.StatusRequestFailed)
	default:
		return c.fallback(domain.StatusMissing)
	}
}

func (c *Crime) countLocal(ctx context.Context, datasetID, where string, center domain.Coordinate, geoCol, latCol, lngCol string) (int, bool) {
	switch {
	case geoCol != "":
		return c.client.Count(ctx, datasetID, mergeWhere(where, circleClause(geoCol, center, c.settings.RadiusKm)))
	case latCol != "" && lngCol != "":
		return c.client.Count(ctx, datasetID, mergeWhere(where, boundsClause(latCol, lngCol, center, c.settings.RadiusKm)))
	default:
		return 0, false
	}
}

// localPopulation scales city-wide density to the search circle.
func (c *Crime) localPopulation() float64 {
	density := c.settings.CityPopulation / c.settings.CityAreaKm2
	return density * math.Max(domain.CircleAreaKm2(c.settings.RadiusKm), minAreaKm2)
}

func (c *Crime) fallback(reason domain.Status) provider.Result[float64] {
	if c.settings.EnableFallback {
		return provider.Fallback(domain.SourceSocrata, c.settings.FallbackPer100k, string(reason))
	}
	return provider.Absent[float64](domain.SourceSocrata, reason, "")
}
