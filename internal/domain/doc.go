// Package domain models residential communities and the livability signals
// gathered for them.
//
// # Data Sources
//
// Each signal comes from an independent, unreliable provider:
//
//	Rent baseline       Zillow Observed Rent Index (ZORI) city CSV, read locally
//	Commute time        Google Distance Matrix, OpenRouteService as alternate
//	Crime rate          Socrata open-data incident datasets, discovered at runtime
//	Grocery density     OpenStreetMap via the Overpass API
//	Noise exposure      OpenStreetMap major roads and aerodromes via Overpass
//	Night activity      NASA VIIRS nighttime radiance GeoTIFF, read locally
//	Review comments     YouTube Data API search + comment threads
//
// A provider that fails never fails a refresh. Its field stays empty and the
// reason is written to the record's [Provenance].
//
// # Confidence
//
// Six fields are required: median rent, grocery density, crime rate, rent
// trend, night activity and average noise. Confidence is the fraction of
// those that are present, rounded to two decimals. Commute minutes and the
// unit-type rents are informative but do not count.
//
// # Scoring
//
// [ComputeScores] maps a [ScoreInput] to eight 0–100 dimension scores using
// fixed linear transforms. Missing inputs are replaced by defaults first:
//
//	Cost        = 100 − rent/50         rent    default 2500
//	Transit     = 100 − commute·2       commute default 30 min
//	Convenience = grocery·6.5           grocery default 8 per km²
//	Safety      = 100 − crime/5         crime   default 300 per 100k
//	Trend       = 100 − |trend·8|       trend   default 3.0 %
//	Noise       = 100 − noise·1.5       noise   default 55 dB
//	Nightlife   = night·1.2             night   default 50
//	Reviews     = reviews               reviews default 60
//
// Every score is clamped to [0, 100] and rounded to two decimals.
//
// # Identifiers
//
// Community IDs are slugs ("turtle-rock"). Review posts are keyed by
// (community, platform, external id). When a comment lacks a provider id the
// external id is a truncated SHA-256 of its text, so re-ingesting the same
// comment is idempotent. See [ReviewFromComment].
package domain
