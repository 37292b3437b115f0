package domain

import (
	"context"
	"time"
)

// RawEvent represents an unprocessed message from the refresh request topic.
type RawEvent struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// RefreshRequest asks the pipeline to refresh one community.
type RefreshRequest struct {
	CommunityID  string   `json:"community_id"`
	TTLHours     *float64 `json:"ttl_hours,omitempty"`
	Force        bool     `json:"force,omitempty"`
	SkipExternal bool     `json:"skip_external,omitempty"`
}

// ScoreEvent is published after a refresh with the merged record's scores.
type ScoreEvent struct {
	CommunityID string     `json:"community_id"`
	Refreshed   bool       `json:"refreshed"`
	Confidence  float64    `json:"confidence"`
	Scores      Scores     `json:"scores"`
	Inputs      ScoreInput `json:"inputs"`
	Provenance  Provenance `json:"provenance"`
	ComputedAt  time.Time  `json:"computed_at"`
}

// OutputEvent is the serialized form destined for the score topic.
type OutputEvent struct {
	Key     []byte
	Value   []byte
	Headers map[string]string
}
