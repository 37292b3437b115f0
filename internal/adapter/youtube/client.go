// Package youtube finds review videos for a community and collects their
// comment threads through the YouTube Data API v3.
package youtube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/couchcryptid/community-scoring-service/internal/domain"
	"github.com/couchcryptid/community-scoring-service/internal/provider"
)

// searchTemplates cover reviews, lifestyle and tour videos. Each takes the
// community name and city.
var searchTemplates = []string{
	"%s %s apartments review",
	"%s %s living",
	"%s %s tour",
	"Living in %s %s",
}

// errCommentsDisabled marks a video whose comment threads cannot be read.
var errCommentsDisabled = errors.New("comments disabled")

// Client fetches review comments. It implements provider.Fetcher.
type Client struct {
	apiKey      string
	defaultCity string
	perQuery    int
	perVideo    int
	httpClient  *http.Client
	baseURL     string
	logger      *slog.Logger
}

// NewClient creates a YouTube client. perQuery caps search results per
// template and perVideo caps comment threads per video.
func NewClient(apiKey, defaultCity string, perQuery, perVideo int, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		apiKey:      apiKey,
		defaultCity: defaultCity,
		perQuery:    perQuery,
		perVideo:    perVideo,
		httpClient:  &http.Client{Timeout: timeout},
		baseURL:     "https://www.googleapis.com/youtube/v3",
		logger:      logger,
	}
}

// WithBaseURL points the client at another Data API host.
func (c *Client) WithBaseURL(u string) *Client {
	c.baseURL = u
	return c
}

// Fetch implements provider.Fetcher. Video ids cached from an earlier
// refresh are reused instead of searching again.
func (c *Client) Fetch(ctx context.Context, q provider.Query) provider.Result[provider.Reviews] {
	if c.apiKey == "" {
		return provider.Absent[provider.Reviews](domain.SourceYouTube, domain.StatusMissingAPIKey, "")
	}

	ids := q.CachedVideoIDs
	if len(ids) == 0 {
		var err error
		ids, err = c.searchAll(ctx, q)
		if err != nil {
			c.logger.Warn("youtube search failed", "community_id", q.CommunityID, "error", err)
			return provider.Absent[provider.Reviews](domain.SourceYouTube, domain.StatusRequestFailed, "search")
		}
	}

	reviews := provider.Reviews{VideoIDs: ids}
	succeeded, failed := 0, 0
	for _, id := range ids {
		comments, err := c.Comments(ctx, id)
		if errors.Is(err, errCommentsDisabled) {
			c.logger.Debug("youtube comments unavailable", "community_id", q.CommunityID, "video_id", id)
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return provider.Absent[provider.Reviews](domain.SourceYouTube, domain.StatusRequestFailed, "timeout")
			}
			c.logger.Warn("youtube comments failed", "community_id", q.CommunityID, "video_id", id, "error", err)
			failed++
			continue
		}
		succeeded++
		reviews.Comments = append(reviews.Comments, comments...)
	}
	if succeeded == 0 && failed > 0 {
		return provider.Absent[provider.Reviews](domain.SourceYouTube, domain.StatusRequestFailed, "comments")
	}
	return provider.Found(domain.SourceYouTube, reviews)
}

// searchAll runs every template and merges the ids in first-seen order. It
// fails only when every search failed.
func (c *Client) searchAll(ctx context.Context, q provider.Query) ([]string, error) {
	city := q.City
	if city == "" {
		city = c.defaultCity
	}

	seen := make(map[string]bool)
	var ids []string
	var lastErr error
	succeeded := 0
	for _, tmpl := range searchTemplates {
		found, err := c.Search(ctx, fmt.Sprintf(tmpl, q.Name, city))
		if err != nil {
			lastErr = err
			continue
		}
		succeeded++
		for _, id := range found {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	if succeeded == 0 {
		return nil, lastErr
	}
	return ids, nil
}

// Search returns the ids of up to perQuery videos matching query.
func (c *Client) Search(ctx context.Context, query string) ([]string, error) {
	params := url.Values{
		"part":       {"snippet"},
		"q":          {query},
		"type":       {"video"},
		"maxResults": {strconv.Itoa(c.perQuery)},
	}
	var payload searchResponse
	if err := c.get(ctx, "/search", params, &payload); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(payload.Items))
	for _, item := range payload.Items {
		if item.ID.VideoID != "" {
			ids = append(ids, item.ID.VideoID)
		}
	}
	return ids, nil
}

// Comments pages through the comment threads of a video until perVideo
// threads have been read. Replies are returned after their parent.
func (c *Client) Comments(ctx context.Context, videoID string) ([]domain.RawComment, error) {
	var out []domain.RawComment
	threads := 0
	pageToken := ""
	for threads < c.perVideo {
		params := url.Values{
			"part":       {"snippet,replies"},
			"videoId":    {videoID},
			"maxResults": {strconv.Itoa(min(100, c.perVideo-threads))},
			"textFormat": {"plainText"},
			"order":      {"relevance"},
		}
		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}

		var payload threadsResponse
		if err := c.get(ctx, "/commentThreads", params, &payload); err != nil {
			return out, err
		}
		for _, item := range payload.Items {
			if threads >= c.perVideo {
				break
			}
			threads++
			top := item.Snippet.TopLevelComment
			out = append(out, top.Snippet.raw(top.ID, videoID, ""))
			for _, reply := range item.Replies.Comments {
				parent := reply.Snippet.ParentID
				if parent == "" {
					parent = top.ID
				}
				out = append(out, reply.Snippet.raw(reply.ID, videoID, parent))
			}
		}
		if payload.NextPageToken == "" || len(payload.Items) == 0 {
			break
		}
		pageToken = payload.NextPageToken
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, dst any) error {
	params.Set("key", c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		reason := errorReason(resp.Body)
		if resp.StatusCode == http.StatusForbidden && path == "/commentThreads" && !quotaReasons[reason] {
			return errCommentsDisabled
		}
		return fmt.Errorf("%s returned status %d %s", path, resp.StatusCode, reason)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// quotaReasons are 403 reasons that mean the key is throttled, not that the
// video has comments turned off.
var quotaReasons = map[string]bool{
	"quotaExceeded":         true,
	"dailyLimitExceeded":    true,
	"rateLimitExceeded":     true,
	"userRateLimitExceeded": true,
}

// errorReason extracts the first reason from a Google API error body.
func errorReason(body io.Reader) string {
	var payload struct {
		Error struct {
			Errors []struct {
				Reason string `json:"reason"`
			} `json:"errors"`
		} `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(body, 4096)).Decode(&payload); err != nil || len(payload.Error.Errors) == 0 {
		return ""
	}
	return payload.Error.Errors[0].Reason
}

type searchResponse struct {
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
	} `json:"items"`
}

type threadsResponse struct {
	NextPageToken string `json:"nextPageToken"`
	Items         []struct {
		Snippet struct {
			TopLevelComment comment `json:"topLevelComment"`
		} `json:"snippet"`
		Replies struct {
			Comments []comment `json:"comments"`
		} `json:"replies"`
	} `json:"items"`
}

type comment struct {
	ID      string         `json:"id"`
	Snippet commentSnippet `json:"snippet"`
}

type commentSnippet struct {
	TextDisplay       string `json:"textDisplay"`
	TextOriginal      string `json:"textOriginal"`
	AuthorDisplayName string `json:"authorDisplayName"`
	LikeCount         *int   `json:"likeCount"`
	ParentID          string `json:"parentId"`
	PublishedAt       string `json:"publishedAt"`
}

func (s commentSnippet) raw(id, videoID, parentID string) domain.RawComment {
	text := s.TextDisplay
	if text == "" {
		text = s.TextOriginal
	}
	rc := domain.RawComment{
		ID:        id,
		VideoID:   videoID,
		Text:      text,
		Author:    s.AuthorDisplayName,
		LikeCount: s.LikeCount,
		ParentID:  parentID,
	}
	if ts, err := time.Parse(time.RFC3339, s.PublishedAt); err == nil {
		rc.PublishedAt = &ts
	}
	return rc
}
