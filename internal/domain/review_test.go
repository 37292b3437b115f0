package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReviewFromComment(t *testing.T) {
	posted := time.Date(2024, 6, 1, 8, 30, 0, 0, time.UTC)
	likes := 4
	c := RawComment{
		ID:          "Ugx123",
		VideoID:     "vid-1",
		Text:        "Quiet streets, decent parking.",
		Author:      "@resident",
		LikeCount:   &likes,
		ParentID:    "Ugx000",
		PublishedAt: &posted,
	}

	post := ReviewFromComment("woodbridge", PlatformYouTube, c)

	assert.Equal(t, "Ugx123", post.ExternalID)
	assert.Equal(t, "woodbridge", post.CommunityID)
	assert.Equal(t, PlatformYouTube, post.Platform)
	assert.Equal(t, c.Text, post.Body)
	assert.Equal(t, "@resident", post.Author)
	assert.Equal(t, 4, *post.LikeCount)
	assert.Equal(t, "Ugx000", post.ParentID)
	assert.Equal(t, posted, *post.PostedAt)
	assert.Len(t, post.ID, 32)
}

func TestReviewFromComment_Deterministic(t *testing.T) {
	c := RawComment{Text: "Love the parks"}

	first := ReviewFromComment("woodbridge", PlatformYouTube, c)
	second := ReviewFromComment("woodbridge", PlatformYouTube, c)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.ExternalID, second.ExternalID)
	assert.Contains(t, first.ExternalID, "yt-")

	other := ReviewFromComment("turtle-rock", PlatformYouTube, c)
	assert.Equal(t, first.ExternalID, other.ExternalID)
	assert.NotEqual(t, first.ID, other.ID)
}
