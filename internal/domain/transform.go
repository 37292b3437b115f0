package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseRefreshRequest decodes a refresh request message. A bare community id
// (non-JSON payload) is accepted as well, falling back to the message key.
func ParseRefreshRequest(raw RawEvent) (RefreshRequest, error) {
	value := strings.TrimSpace(string(raw.Value))
	var req RefreshRequest
	if strings.HasPrefix(value, "{") {
		if err := json.Unmarshal(raw.Value, &req); err != nil {
			return RefreshRequest{}, fmt.Errorf("parse refresh request: %w", err)
		}
	} else {
		req.CommunityID = value
	}
	if req.CommunityID == "" {
		req.CommunityID = strings.TrimSpace(string(raw.Key))
	}
	if req.CommunityID == "" {
		return RefreshRequest{}, errors.New("parse refresh request: missing community_id")
	}
	if req.TTLHours != nil && *req.TTLHours < 0 {
		return RefreshRequest{}, fmt.Errorf("parse refresh request: negative ttl_hours %s",
			strconv.FormatFloat(*req.TTLHours, 'f', -1, 64))
	}
	return req, nil
}

// TTL returns the request's TTL override, or nil when the default applies.
// Force maps to a zero TTL.
func (r RefreshRequest) TTL() *time.Duration {
	if r.Force {
		d := time.Duration(0)
		return &d
	}
	if r.TTLHours == nil {
		return nil
	}
	d := time.Duration(*r.TTLHours * float64(time.Hour))
	return &d
}

// SerializeScoreEvent marshals a score event into an output message keyed by community id.
func SerializeScoreEvent(event ScoreEvent) (OutputEvent, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return OutputEvent{}, fmt.Errorf("serialize score event: %w", err)
	}
	return OutputEvent{
		Key:   []byte(event.CommunityID),
		Value: data,
		Headers: map[string]string{
			"community_id": event.CommunityID,
			"computed_at":  event.ComputedAt.Format(time.RFC3339),
		},
	}, nil
}
