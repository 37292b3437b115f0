package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/couchcryptid/community-scoring-service/internal/domain"
)

// GetMetrics returns the metrics record of a community, or nil when none has
// been written yet.
func (s *Store) GetMetrics(ctx context.Context, communityID string) (*domain.MetricsRecord, error) {
	var (
		m          domain.MetricsRecord
		cols       [11]sql.NullFloat64
		videoIDs   string
		comments   string
		provenance string
		updatedAt  string
	)
	err := s.queryRow(ctx, s.db, `
		SELECT community_id, median_rent, rent_2b2b, rent_1b1b, avg_sqft,
			grocery_density_per_km2, crime_rate_per_100k, rent_trend_12m_pct,
			night_activity_index, noise_avg_db, noise_p90_db, commute_minutes,
			review_video_ids, raw_comments, confidence, provenance, updated_at
		FROM community_metrics WHERE community_id = ?`, communityID).Scan(
		&m.CommunityID, &cols[0], &cols[1], &cols[2], &cols[3],
		&cols[4], &cols[5], &cols[6],
		&cols[7], &cols[8], &cols[9], &cols[10],
		&videoIDs, &comments, &m.Confidence, &provenance, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying metrics for %s: %w", communityID, err)
	}

	targets := metricFloats(&m)
	for i := range cols {
		*targets[i] = floatPtr(cols[i])
	}
	if err := decodeJSON(videoIDs, &m.ReviewVideoIDs); err != nil {
		return nil, fmt.Errorf("decoding video ids for %s: %w", communityID, err)
	}
	if err := decodeJSON(comments, &m.RawComments); err != nil {
		return nil, fmt.Errorf("decoding raw comments for %s: %w", communityID, err)
	}
	if err := decodeJSON(provenance, &m.Provenance); err != nil {
		return nil, fmt.Errorf("decoding provenance for %s: %w", communityID, err)
	}
	if m.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

// UpsertMetrics writes the record, replacing any previous one.
func (s *Store) UpsertMetrics(ctx context.Context, m *domain.MetricsRecord) error {
	videoIDs, err := encodeJSON(m.ReviewVideoIDs, "[]")
	if err != nil {
		return err
	}
	comments, err := encodeJSON(m.RawComments, "[]")
	if err != nil {
		return err
	}
	provenance, err := encodeJSON(m.Provenance, "{}")
	if err != nil {
		return err
	}
	updatedAt := m.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = domain.Now()
	}

	args := []any{m.CommunityID}
	for _, f := range metricFloats(m) {
		args = append(args, nullFloat(*f))
	}
	args = append(args, videoIDs, comments, m.Confidence, provenance, formatTime(updatedAt))

	_, err = s.exec(ctx, s.db, `
		INSERT INTO community_metrics (
			community_id, median_rent, rent_2b2b, rent_1b1b, avg_sqft,
			grocery_density_per_km2, crime_rate_per_100k, rent_trend_12m_pct,
			night_activity_index, noise_avg_db, noise_p90_db, commute_minutes,
			review_video_ids, raw_comments, confidence, provenance, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (community_id) DO UPDATE SET
			median_rent = excluded.median_rent,
			rent_2b2b = excluded.rent_2b2b,
			rent_1b1b = excluded.rent_1b1b,
			avg_sqft = excluded.avg_sqft,
			grocery_density_per_km2 = excluded.grocery_density_per_km2,
			crime_rate_per_100k = excluded.crime_rate_per_100k,
			rent_trend_12m_pct = excluded.rent_trend_12m_pct,
			night_activity_index = excluded.night_activity_index,
			noise_avg_db = excluded.noise_avg_db,
			noise_p90_db = excluded.noise_p90_db,
			commute_minutes = excluded.commute_minutes,
			review_video_ids = excluded.review_video_ids,
			raw_comments = excluded.raw_comments,
			confidence = excluded.confidence,
			provenance = excluded.provenance,
			updated_at = excluded.updated_at`, args...)
	if err != nil {
		return fmt.Errorf("upserting metrics for %s: %w", m.CommunityID, err)
	}
	return nil
}

// metricFloats lists the nullable numeric fields in column order.
func metricFloats(m *domain.MetricsRecord) []**float64 {
	return []**float64{
		&m.MedianRent, &m.Rent2B2B, &m.Rent1B1B, &m.AvgSqft,
		&m.GroceryDensityPerKm2, &m.CrimeRatePer100k, &m.RentTrend12mPct,
		&m.NightActivityIndex, &m.NoiseAvgDB, &m.NoiseP90DB, &m.CommuteMinutes,
	}
}

func encodeJSON(v any, empty string) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding json: %w", err)
	}
	if string(b) == "null" {
		return empty, nil
	}
	return string(b), nil
}

func decodeJSON(raw string, dst any) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), dst)
}
