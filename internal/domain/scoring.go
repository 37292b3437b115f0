package domain

import (
	"fmt"
	"math"
	"time"
)

// Dimension names one of the eight livability sub-scores.
type Dimension string

const (
	DimensionCost        Dimension = "Cost"
	DimensionTransit     Dimension = "Transit"
	DimensionConvenience Dimension = "Convenience"
	DimensionSafety      Dimension = "Safety"
	DimensionTrend       Dimension = "Trend"
	DimensionNoise       Dimension = "Noise"
	DimensionNightlife   Dimension = "Nightlife"
	DimensionReviews     Dimension = "Reviews"
)

// Dimensions lists every dimension in presentation order.
var Dimensions = []Dimension{
	DimensionCost,
	DimensionTransit,
	DimensionConvenience,
	DimensionSafety,
	DimensionTrend,
	DimensionNoise,
	DimensionNightlife,
	DimensionReviews,
}

// Defaults substituted for missing scoring inputs.
const (
	DefaultMedianRent      = 2500.0
	DefaultCommuteMinutes  = 30.0
	DefaultGroceryDensity  = 8.0
	DefaultCrimeRate       = 300.0
	DefaultRentTrendPct    = 3.0
	DefaultNoiseDB         = 55.0
	DefaultNightActivity   = 50.0
	DefaultReviewSentiment = 60.0
)

// ScoreInput is the subset of a metrics record the scorer reads. Nil means missing.
type ScoreInput struct {
	MedianRent      *float64 `json:"median_rent"`
	CommuteMinutes  *float64 `json:"commute_minutes"`
	GroceryDensity  *float64 `json:"grocery_density_per_km2"`
	CrimeRate       *float64 `json:"crime_rate_per_100k"`
	RentTrendPct    *float64 `json:"rent_trend_12m_pct"`
	NoiseAvgDB      *float64 `json:"noise_avg_db"`
	NightActivity   *float64 `json:"night_activity_index"`
	ReviewSentiment *float64 `json:"review_signal_score"`
}

// ScoreInputFrom extracts scorer inputs from a metrics record. Review
// sentiment is not derived from the record and stays nil.
func ScoreInputFrom(m *MetricsRecord) ScoreInput {
	if m == nil {
		return ScoreInput{}
	}
	return ScoreInput{
		MedianRent:     m.MedianRent,
		CommuteMinutes: m.CommuteMinutes,
		GroceryDensity: m.GroceryDensityPerKm2,
		CrimeRate:      m.CrimeRatePer100k,
		RentTrendPct:   m.RentTrend12mPct,
		NoiseAvgDB:     m.NoiseAvgDB,
		NightActivity:  m.NightActivityIndex,
	}
}

// Scores maps every dimension to its 0–100 value.
type Scores map[Dimension]float64

// Total sums all dimension scores.
func (s Scores) Total() float64 {
	total := 0.0
	for _, d := range Dimensions {
		total += s[d]
	}
	return total
}

// ComputeScores maps raw inputs to the eight dimension scores. It is pure and
// deterministic; the constants are fixed and must not be tuned.
func ComputeScores(in ScoreInput) Scores {
	rent := valueOr(in.MedianRent, DefaultMedianRent)
	commute := valueOr(in.CommuteMinutes, DefaultCommuteMinutes)
	grocery := valueOr(in.GroceryDensity, DefaultGroceryDensity)
	crime := valueOr(in.CrimeRate, DefaultCrimeRate)
	trend := valueOr(in.RentTrendPct, DefaultRentTrendPct)
	noise := valueOr(in.NoiseAvgDB, DefaultNoiseDB)
	night := valueOr(in.NightActivity, DefaultNightActivity)
	reviews := valueOr(in.ReviewSentiment, DefaultReviewSentiment)

	return Scores{
		DimensionCost:        score(100 - rent/50),
		DimensionTransit:     score(100 - commute*2.0),
		DimensionConvenience: score(grocery * 6.5),
		DimensionSafety:      score(100 - crime/5),
		DimensionTrend:       score(100 - math.Abs(trend*8)),
		DimensionNoise:       score(100 - noise*1.5),
		DimensionNightlife:   score(night * 1.2),
		DimensionReviews:     score(reviews),
	}
}

// valueOr treats nil and NaN as missing.
func valueOr(v *float64, def float64) float64 {
	if !IsPresent(v) {
		return def
	}
	return *v
}

func score(v float64) float64 {
	return Round2(math.Max(0, math.Min(100, v)))
}

// DataOrigin tags where a dimension score's inputs came from.
const (
	DataOriginAPI   = "api"
	DataOriginMixed = "mixed"
)

// DimensionScore is one persisted sub-score, keyed by (CommunityID, Dimension).
type DimensionScore struct {
	CommunityID string     `json:"community_id"`
	Dimension   Dimension  `json:"dimension"`
	Score       float64    `json:"score_0_100"`
	Summary     string     `json:"summary"`
	Inputs      ScoreInput `json:"details"`
	DataOrigin  string     `json:"data_origin"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// BuildDimensionScores expands a score set into the eight rows persisted for
// a community, each tagged with the inputs used.
func BuildDimensionScores(communityID string, in ScoreInput, scores Scores, origin string) []DimensionScore {
	now := Now()
	rows := make([]DimensionScore, 0, len(Dimensions))
	for _, d := range Dimensions {
		rows = append(rows, DimensionScore{
			CommunityID: communityID,
			Dimension:   d,
			Score:       scores[d],
			Summary:     fmt.Sprintf("%s score auto-generated by ingest pipeline", d),
			Inputs:      in,
			DataOrigin:  origin,
			UpdatedAt:   now,
		})
	}
	return rows
}
