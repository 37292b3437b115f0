package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// PlatformYouTube is the only review platform currently ingested.
const PlatformYouTube = "youtube"

// ReviewPost is a structured review materialized from cached raw comments.
// (CommunityID, Platform, ExternalID) is the dedup key.
type ReviewPost struct {
	ID          string     `json:"post_id"`
	CommunityID string     `json:"community_id"`
	Platform    string     `json:"platform"`
	ExternalID  string     `json:"external_id"`
	Body        string     `json:"body_text"`
	Author      string     `json:"author,omitempty"`
	LikeCount   *int       `json:"like_count,omitempty"`
	ParentID    string     `json:"parent_id,omitempty"`
	PostedAt    *time.Time `json:"posted_at,omitempty"`
}

// ReviewFromComment converts a cached comment into a review post. Comments
// without a provider id get a content-derived external id.
func ReviewFromComment(communityID, platform string, c RawComment) ReviewPost {
	externalID := c.ID
	if externalID == "" {
		externalID = "yt-" + textHash(c.Text)
	}
	return ReviewPost{
		ID:          reviewID(communityID, platform, externalID),
		CommunityID: communityID,
		Platform:    platform,
		ExternalID:  externalID,
		Body:        c.Text,
		Author:      c.Author,
		LikeCount:   c.LikeCount,
		ParentID:    c.ParentID,
		PostedAt:    c.PublishedAt,
	}
}

func textHash(text string) string {
	hash := sha256.Sum256([]byte(text))
	return hex.EncodeToString(hash[:16])
}

// reviewID is deterministic so replays map to the same primary key.
func reviewID(communityID, platform, externalID string) string {
	hash := sha256.Sum256([]byte(communityID + "|" + platform + "|" + externalID))
	return hex.EncodeToString(hash[:16])
}
