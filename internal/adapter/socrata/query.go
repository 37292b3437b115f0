package socrata

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/couchcryptid/community-scoring-service/internal/domain"
)

var (
	preferredDateCols = []string{"date", "reported_date", "report_date", "occurred_date", "incident_date"}
	preferredGeoCols  = []string{"location", "incident_location", "block_address", "geocoded_column", "geolocation"}
	latCols           = []string{"latitude", "lat", "y", "y_coord"}
	lngCols           = []string{"longitude", "lon", "lng", "x", "x_coord"}
	jurisdictionCols  = map[string]bool{
		"city": true, "city_name": true, "jurisdiction": true, "agency": true, "reporting_district": true,
	}
)

// columnSet maps lowercased column names to their original spelling.
type columnSet map[string]string

func newColumnSet(columns []string) columnSet {
	cs := make(columnSet, len(columns))
	for _, c := range columns {
		lc := strings.ToLower(c)
		if _, ok := cs[lc]; !ok {
			cs[lc] = c
		}
	}
	return cs
}

func (cs columnSet) first(names []string) string {
	for _, n := range names {
		if c, ok := cs[n]; ok {
			return c
		}
	}
	return ""
}

func chooseDateCol(columns []string) string {
	if c := newColumnSet(columns).first(preferredDateCols); c != "" {
		return c
	}
	for _, c := range columns {
		if strings.Contains(strings.ToLower(c), "date") {
			return c
		}
	}
	return ""
}

func chooseGeoCol(columns []string) string {
	if c := newColumnSet(columns).first(preferredGeoCols); c != "" {
		return c
	}
	for _, c := range columns {
		lc := strings.ToLower(c)
		if strings.Contains(lc, "location") || strings.Contains(lc, "geocode") {
			return c
		}
	}
	return ""
}

func chooseLatLngCols(columns []string) (lat, lng string) {
	cs := newColumnSet(columns)
	return cs.first(latCols), cs.first(lngCols)
}

// whereClauses returns the filters to try in order: date and jurisdiction,
// jurisdiction, date, then no filter. Duplicates are dropped and the empty
// string stands for no filter.
func whereClauses(columns []string, dateCol, jurisdiction string, now time.Time) []string {
	dateFilter := ""
	if dateCol != "" {
		since := now.UTC().AddDate(0, 0, -365).Format("2006-01-02") + "T00:00:00"
		dateFilter = fmt.Sprintf("%s >= '%s'", dateCol, since)
	}

	var clauses []string
	j := strings.ToLower(strings.TrimSpace(jurisdiction))
	if j != "" {
		for _, col := range columns {
			if !jurisdictionCols[strings.ToLower(col)] {
				continue
			}
			cityFilter := fmt.Sprintf("lower(%s) like '%%%s%%'", col, strings.ReplaceAll(j, "'", "''"))
			if dateFilter != "" {
				clauses = append(clauses, dateFilter+" AND "+cityFilter)
			}
			clauses = append(clauses, cityFilter)
		}
	}
	if dateFilter != "" {
		clauses = append(clauses, dateFilter)
	}
	clauses = append(clauses, "")

	seen := make(map[string]bool, len(clauses))
	out := clauses[:0]
	for _, c := range clauses {
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

func mergeWhere(base, extra string) string {
	if base == "" {
		return extra
	}
	return fmt.Sprintf("(%s) AND (%s)", base, extra)
}

func circleClause(geoCol string, center domain.Coordinate, radiusKm float64) string {
	return fmt.Sprintf("within_circle(%s, %.7f, %.7f, %d)", geoCol, center.Lat, center.Lng, int(math.Round(radiusKm*1000)))
}

func boundsClause(latCol, lngCol string, center domain.Coordinate, radiusKm float64) string {
	dLat, dLng := domain.DegreeDeltas(center.Lat, radiusKm)
	return fmt.Sprintf("%s >= %.7f AND %s <= %.7f AND %s >= %.7f AND %s <= %.7f",
		latCol, center.Lat-dLat, latCol, center.Lat+dLat,
		lngCol, center.Lng-dLng, lngCol, center.Lng+dLng)
}
