package domain

import (
	"math"
	"time"
)

// RawComment is a provider-side review comment as cached on a metrics record.
type RawComment struct {
	ID          string     `json:"id,omitempty"`
	VideoID     string     `json:"video_id,omitempty"`
	Text        string     `json:"text"`
	Author      string     `json:"author,omitempty"`
	LikeCount   *int       `json:"like_count,omitempty"`
	ParentID    string     `json:"parent_id,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// MetricsRecord holds the raw livability signals of one community. It is
// upserted in place on every refresh; there is no history.
type MetricsRecord struct {
	CommunityID string `json:"community_id"`

	MedianRent           *float64 `json:"median_rent"`
	Rent2B2B             *float64 `json:"rent_2b2b"`
	Rent1B1B             *float64 `json:"rent_1b1b"`
	AvgSqft              *float64 `json:"avg_sqft"`
	GroceryDensityPerKm2 *float64 `json:"grocery_density_per_km2"`
	CrimeRatePer100k     *float64 `json:"crime_rate_per_100k"`
	RentTrend12mPct      *float64 `json:"rent_trend_12m_pct"`
	NightActivityIndex   *float64 `json:"night_activity_index"`
	NoiseAvgDB           *float64 `json:"noise_avg_db"`
	NoiseP90DB           *float64 `json:"noise_p90_db"`
	CommuteMinutes       *float64 `json:"commute_minutes"`

	ReviewVideoIDs []string     `json:"review_video_ids,omitempty"`
	RawComments    []RawComment `json:"raw_comments,omitempty"`

	Confidence float64    `json:"confidence"`
	Provenance Provenance `json:"provenance"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// requiredFields returns the six fields confidence is computed over.
func (m *MetricsRecord) requiredFields() []*float64 {
	return []*float64{
		m.MedianRent,
		m.GroceryDensityPerKm2,
		m.CrimeRatePer100k,
		m.RentTrend12mPct,
		m.NightActivityIndex,
		m.NoiseAvgDB,
	}
}

// RequiredFieldCount is the denominator of the confidence fraction.
const RequiredFieldCount = 6

// ComputeConfidence returns the fraction of required fields that are present,
// rounded to two decimals.
func (m *MetricsRecord) ComputeConfidence() float64 {
	present := 0
	for _, v := range m.requiredFields() {
		if IsPresent(v) {
			present++
		}
	}
	return Round2(float64(present) / float64(RequiredFieldCount))
}

// IsPresent reports whether v holds a finite value. Zero counts as present.
func IsPresent(v *float64) bool {
	return v != nil && !math.IsNaN(*v) && !math.IsInf(*v, 0)
}

// Round2 rounds to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Round3 rounds to three decimal places.
func Round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}
