package ingest

import (
	"github.com/couchcryptid/community-scoring-service/internal/adapter/zori"
	"github.com/couchcryptid/community-scoring-service/internal/domain"
	"github.com/couchcryptid/community-scoring-service/internal/provider"
)

// trackedFields lists provenance fields in reporting order.
var trackedFields = []domain.Field{
	domain.FieldMedianRent,
	domain.FieldRentTrend,
	domain.FieldGroceryDensity,
	domain.FieldCrimeRate,
	domain.FieldNightActivity,
	domain.FieldNoise,
	domain.FieldCommute,
	domain.FieldReviews,
}

// merge builds the new metrics record from the previous one, the rent
// baseline and the provider answers.
//
//   - Provider values that arrived win; absent ones clear the field.
//   - Rent fields keep their previous values when the baseline has no row.
//   - Night activity falls back to the previous value, then to zero.
//   - With skipExternal every provider field keeps its previous value.
//   - Review videos and comments are kept when the review provider fails.
func merge(id string, prev *domain.MetricsRecord, rent zori.Rent, haveRent bool, a answers, skipExternal bool) *domain.MetricsRecord {
	rec := &domain.MetricsRecord{CommunityID: id, Provenance: domain.Provenance{}}
	if prev == nil {
		prev = &domain.MetricsRecord{}
	}
	rec.Rent2B2B = prev.Rent2B2B
	rec.Rent1B1B = prev.Rent1B1B
	rec.AvgSqft = prev.AvgSqft

	mergeRent(rec, prev, rent, haveRent)

	if skipExternal {
		keepPrevious(rec, prev)
		return rec
	}

	rec.CommuteMinutes = fieldFrom(rec.Provenance, domain.FieldCommute, a.commute)
	rec.CrimeRatePer100k = fieldFrom(rec.Provenance, domain.FieldCrimeRate, a.crime)
	rec.GroceryDensityPerKm2 = fieldFrom(rec.Provenance, domain.FieldGroceryDensity, a.grocery)

	switch {
	case a.night.Present:
		rec.NightActivityIndex = domain.Float(a.night.Value)
		rec.Provenance[domain.FieldNightActivity] = a.night.Provenance()
	case prev.NightActivityIndex != nil:
		rec.NightActivityIndex = domain.Float(*prev.NightActivityIndex)
		rec.Provenance.Set(domain.FieldNightActivity, a.night.Source, domain.StatusCached, string(a.night.Reason))
	default:
		rec.NightActivityIndex = domain.Float(0)
		rec.Provenance.Set(domain.FieldNightActivity, a.night.Source, domain.StatusDefault, string(a.night.Reason))
	}

	rec.Provenance[domain.FieldNoise] = a.noise.Provenance()
	if a.noise.Present {
		rec.NoiseAvgDB = domain.Float(a.noise.Value.AvgDB)
		rec.NoiseP90DB = domain.Float(a.noise.Value.P90DB)
	}

	rec.Provenance[domain.FieldReviews] = a.reviews.Provenance()
	if a.reviews.Present {
		rec.ReviewVideoIDs = a.reviews.Value.VideoIDs
		rec.RawComments = a.reviews.Value.Comments
	} else {
		rec.ReviewVideoIDs = prev.ReviewVideoIDs
		rec.RawComments = prev.RawComments
	}
	return rec
}

func mergeRent(rec, prev *domain.MetricsRecord, rent zori.Rent, haveRent bool) {
	if haveRent {
		rec.MedianRent = domain.Float(rent.Median)
		rec.Provenance.Set(domain.FieldMedianRent, domain.SourceZORI, domain.StatusBaseline, rent.AsOf)
	} else {
		rec.MedianRent = carry(rec.Provenance, domain.FieldMedianRent, domain.SourceZORI, prev.MedianRent)
	}

	if haveRent && rent.TrendPct != nil {
		rec.RentTrend12mPct = domain.Float(*rent.TrendPct)
		rec.Provenance.Set(domain.FieldRentTrend, domain.SourceZORI, domain.StatusBaseline, rent.AsOf)
	} else {
		rec.RentTrend12mPct = carry(rec.Provenance, domain.FieldRentTrend, domain.SourceZORI, prev.RentTrend12mPct)
	}
}

// keepPrevious copies every provider-backed field from prev and marks it
// skipped.
func keepPrevious(rec, prev *domain.MetricsRecord) {
	rec.CommuteMinutes = prev.CommuteMinutes
	rec.CrimeRatePer100k = prev.CrimeRatePer100k
	rec.GroceryDensityPerKm2 = prev.GroceryDensityPerKm2
	rec.NightActivityIndex = prev.NightActivityIndex
	rec.NoiseAvgDB = prev.NoiseAvgDB
	rec.NoiseP90DB = prev.NoiseP90DB
	rec.ReviewVideoIDs = prev.ReviewVideoIDs
	rec.RawComments = prev.RawComments

	for _, f := range []domain.Field{
		domain.FieldCommute,
		domain.FieldCrimeRate,
		domain.FieldGroceryDensity,
		domain.FieldNightActivity,
		domain.FieldNoise,
		domain.FieldReviews,
	} {
		src := domain.SourceNone
		if p, ok := prev.Provenance[f]; ok {
			src = p.Source
		}
		rec.Provenance.Set(f, src, domain.StatusSkipped, "")
	}
}

// carry keeps a previous value, recording it as cached, or records the
// field as missing.
func carry(p domain.Provenance, f domain.Field, src domain.Source, prev *float64) *float64 {
	if prev == nil {
		p.Set(f, src, domain.StatusMissing, "")
		return nil
	}
	p.Set(f, src, domain.StatusCached, "")
	return domain.Float(*prev)
}

func fieldFrom(p domain.Provenance, f domain.Field, r provider.Result[float64]) *float64 {
	p[f] = r.Provenance()
	if !r.Present {
		return nil
	}
	return domain.Float(r.Value)
}
