package domain

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// ComparisonStatus is the outcome recorded on a comparison.
type ComparisonStatus string

const (
	ComparisonReady       ComparisonStatus = "ready"
	ComparisonMissingData ComparisonStatus = "missing_data"
	ComparisonError       ComparisonStatus = "error"
)

// DiffEntry compares one dimension between side A and side B.
type DiffEntry struct {
	A      float64 `json:"a"`
	B      float64 `json:"b"`
	Winner string  `json:"winner"`
	Delta  float64 `json:"delta"`
}

// Tradeoffs lists the dimensions each side won.
type Tradeoffs struct {
	AStrengths []Dimension `json:"community_a_strengths"`
	BStrengths []Dimension `json:"community_b_strengths"`
}

// ComparisonRecord is an immutable comparison outcome.
//
// Weights are stored for provenance only; scoring does not apply them.
type ComparisonRecord struct {
	ID            string                  `json:"comparison_id"`
	CommunityAID  string                  `json:"community_a_id"`
	CommunityBID  string                  `json:"community_b_id"`
	RequestParams map[string]any          `json:"request_params"`
	Weights       map[string]float64      `json:"weights_used"`
	Diff          map[Dimension]DiffEntry `json:"structured_diff"`
	Summary       string                  `json:"short_summary"`
	Tradeoffs     Tradeoffs               `json:"tradeoffs"`
	Status        ComparisonStatus        `json:"status"`
	MissingFields []string                `json:"missing_fields"`
	DataOrigin    string                  `json:"data_origin"`
	CreatedAt     time.Time               `json:"created_at"`
}

// SortedDimensions returns the diff's dimension keys in ascending order.
func (c ComparisonRecord) SortedDimensions() []Dimension {
	dims := make([]Dimension, 0, len(c.Diff))
	for d := range c.Diff {
		dims = append(dims, d)
	}
	sort.Slice(dims, func(i, j int) bool { return dims[i] < dims[j] })
	return dims
}

// BuildComparison compares two communities from their current metrics. A nil
// record on either side yields a missing_data comparison with an empty diff.
// Scores are recomputed from the metrics, never read from persisted rows.
// Ties favor side A.
func BuildComparison(aID, bID string, a, b *MetricsRecord, weights map[string]float64) ComparisonRecord {
	if weights == nil {
		weights = map[string]float64{}
	}
	rec := ComparisonRecord{
		ID:            uuid.NewString(),
		CommunityAID:  aID,
		CommunityBID:  bID,
		RequestParams: map[string]any{"weights": weights},
		Weights:       weights,
		Diff:          map[Dimension]DiffEntry{},
		Tradeoffs:     Tradeoffs{AStrengths: []Dimension{}, BStrengths: []Dimension{}},
		MissingFields: []string{},
		DataOrigin:    DataOriginMixed,
		CreatedAt:     Now(),
	}

	if a == nil || b == nil {
		if a == nil {
			rec.MissingFields = append(rec.MissingFields, "missing metrics: "+aID)
		}
		if b == nil {
			rec.MissingFields = append(rec.MissingFields, "missing metrics: "+bID)
		}
		rec.Status = ComparisonMissingData
		rec.Summary = "Comparison incomplete due to missing metrics"
		return rec
	}

	scoresA := ComputeScores(ScoreInputFrom(a))
	scoresB := ComputeScores(ScoreInputFrom(b))

	dims := make([]Dimension, 0, len(scoresA))
	for d := range scoresA {
		dims = append(dims, d)
	}
	sort.Slice(dims, func(i, j int) bool { return dims[i] < dims[j] })

	for _, d := range dims {
		entry := DiffEntry{
			A:     scoresA[d],
			B:     scoresB[d],
			Delta: Round2(scoresA[d] - scoresB[d]),
		}
		if scoresA[d] >= scoresB[d] {
			entry.Winner = aID
			rec.Tradeoffs.AStrengths = append(rec.Tradeoffs.AStrengths, d)
		} else {
			entry.Winner = bID
			rec.Tradeoffs.BStrengths = append(rec.Tradeoffs.BStrengths, d)
		}
		rec.Diff[d] = entry
	}

	leader := aID
	if scoresA.Total() < scoresB.Total() {
		leader = bID
	}
	rec.Summary = fmt.Sprintf("%s leads overall", leader)
	rec.Status = ComparisonReady
	return rec
}
