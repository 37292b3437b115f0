package domain

import "fmt"

// Field names a raw metrics field whose origin is tracked.
type Field string

const (
	FieldMedianRent     Field = "median_rent"
	FieldRentTrend      Field = "rent_trend_12m_pct"
	FieldGroceryDensity Field = "grocery_density_per_km2"
	FieldCrimeRate      Field = "crime_rate_per_100k"
	FieldNightActivity  Field = "night_activity_index"
	FieldNoise          Field = "noise_avg_db"
	FieldCommute        Field = "commute_minutes"
	FieldReviews        Field = "review_comments"
)

// Source identifies the provider that answered (or failed to answer) for a field.
type Source string

const (
	SourceZORI         Source = "zori_csv"
	SourceGoogleMaps   Source = "google_maps"
	SourceORS          Source = "openrouteservice"
	SourceCommute      Source = "commute"
	SourceSocrata      Source = "socrata"
	SourceSocrataLocal Source = "socrata_local"
	SourceOverpass     Source = "overpass"
	SourceVIIRS        Source = "viirs"
	SourceYouTube      Source = "youtube"
	SourceNone         Source = ""
)

// Status records how a field was satisfied or why it was not.
type Status string

const (
	StatusFetched            Status = "fetched"
	StatusBaseline           Status = "baseline"
	StatusCached             Status = "cached"
	StatusFallback           Status = "fallback"
	StatusDefault            Status = "default"
	StatusSkipped            Status = "skipped"
	StatusMissing            Status = "missing"
	StatusMissingCoordinates Status = "missing_coordinates"
	StatusMissingAPIKey      Status = "missing_api_key"
	StatusRequestFailed      Status = "request_failed"
	StatusNotApplicable      Status = "not_applicable"
	StatusNotConfigured      Status = "not_configured"
)

// Supplied reports whether the status means the field carries a value.
func (s Status) Supplied() bool {
	switch s {
	case StatusFetched, StatusBaseline, StatusCached, StatusFallback, StatusDefault:
		return true
	default:
		return false
	}
}

// FieldProvenance is the origin of a single field.
type FieldProvenance struct {
	Source Source `json:"source,omitempty"`
	Status Status `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// String renders the provenance as a short tag, e.g. "fallback:no_dataset".
func (p FieldProvenance) String() string {
	if p.Detail != "" && p.Status == StatusFallback {
		return fmt.Sprintf("%s:%s", p.Status, p.Detail)
	}
	return string(p.Status)
}

// Provenance maps each tracked field to its origin.
type Provenance map[Field]FieldProvenance

// Set records the origin of a field.
func (p Provenance) Set(f Field, src Source, status Status, detail string) {
	p[f] = FieldProvenance{Source: src, Status: status, Detail: detail}
}
