// Package socrata discovers public incident datasets on a Socrata open data
// portal and estimates a crime rate per 100k residents from them.
package socrata

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/community-scoring-service/internal/adapter/mirror"
	"github.com/couchcryptid/community-scoring-service/internal/observability"
)

const maxCandidates = 10

// Dataset is a discovered catalog entry.
type Dataset struct {
	ID      string
	Name    string
	Columns []string
	Score   int
}

// Client talks to the Socrata discovery catalog and SODA resource API.
type Client struct {
	domain       string
	catalogURLs  []string
	resourceBase string
	appToken     string
	httpClient   *http.Client
	policy       mirror.Policy
	metrics      *observability.Metrics
	logger       *slog.Logger
}

// NewClient creates a client for the portal at domain.
func NewClient(domain string, catalogURLs []string, appToken string, timeout time.Duration, policy mirror.Policy, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		domain:       domain,
		catalogURLs:  catalogURLs,
		resourceBase: "https://" + domain + "/resource",
		appToken:     appToken,
		httpClient:   &http.Client{Timeout: timeout},
		policy:       policy,
		metrics:      metrics,
		logger:       logger,
	}
}

// HasToken reports whether an app token is configured.
func (c *Client) HasToken() bool {
	return c.appToken != ""
}

// Discover searches the catalog for incident datasets on the portal and
// returns at most ten candidates ranked by relevance to jurisdiction.
func (c *Client) Discover(ctx context.Context, jurisdiction string) ([]Dataset, error) {
	params := url.Values{
		"domains":        {c.domain},
		"search_context": {c.domain},
		"q":              {"crime incident police"},
		"limit":          {"50"},
	}

	var payload catalogResponse
	onRound := func(round int) {
		c.metrics.ProviderRetries.WithLabelValues("socrata").Inc()
		c.logger.Debug("retrying socrata catalog", "round", round)
	}
	err := mirror.Do(ctx, c.catalogURLs, c.policy, onRound, func(ctx context.Context, endpoint string) error {
		return c.getJSON(ctx, endpoint+"?"+params.Encode(), &payload)
	})
	if err != nil {
		return nil, fmt.Errorf("socrata catalog: %w", err)
	}
	return rankDatasets(payload.Results, jurisdiction), nil
}

// Count runs a count(1) query against a dataset. ok is false when the
// query failed or the response held no parseable count.
func (c *Client) Count(ctx context.Context, datasetID, where string) (count int, ok bool) {
	params := url.Values{
		"$select": {"count(1) as incident_count"},
		"$limit":  {"1"},
	}
	if where != "" {
		params.Set("$where", where)
	}

	var rows []map[string]any
	u := fmt.Sprintf("%s/%s.json?%s", c.resourceBase, url.PathEscape(datasetID), params.Encode())
	if err := c.getJSON(ctx, u, &rows); err != nil {
		c.logger.Debug("socrata count failed", "dataset", datasetID, "error", err)
		return 0, false
	}
	if len(rows) == 0 {
		return 0, false
	}
	return parseCount(rows[0]["incident_count"])
}

func (c *Client) getJSON(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.appToken != "" {
		req.Header.Set("X-App-Token", c.appToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &mirror.StatusError{Endpoint: req.URL.Host, Code: resp.StatusCode}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func parseCount(v any) (int, bool) {
	switch n := v.(type) {
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// rankDatasets keeps results that mention crime, incident or police and
// orders them by score, highest first.
func rankDatasets(results []catalogResult, jurisdiction string) []Dataset {
	var ranked []Dataset
	for _, r := range results {
		res := r.Resource
		if res.ID == "" {
			continue
		}
		text := strings.ToLower(res.Name + " " + res.Description)
		if !strings.Contains(text, "crime") && !strings.Contains(text, "incident") && !strings.Contains(text, "police") {
			continue
		}
		ranked = append(ranked, Dataset{
			ID:      res.ID,
			Name:    res.Name,
			Columns: res.Columns,
			Score:   scoreDataset(text, res.Columns, jurisdiction),
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	if len(ranked) > maxCandidates {
		ranked = ranked[:maxCandidates]
	}
	return ranked
}

func scoreDataset(text string, columns []string, jurisdiction string) int {
	score := 0
	if j := strings.ToLower(strings.TrimSpace(jurisdiction)); j != "" && strings.Contains(text, j) {
		score += 8
	}
	if strings.Contains(text, "crime") {
		score += 5
	}
	if strings.Contains(text, "incident") {
		score += 4
	}
	if strings.Contains(text, "police") {
		score += 2
	}
	hasDate, hasJurisdiction := false, false
	for _, col := range columns {
		lc := strings.ToLower(col)
		if strings.Contains(lc, "date") {
			hasDate = true
		}
		switch lc {
		case "city", "city_name", "jurisdiction", "agency":
			hasJurisdiction = true
		}
	}
	if hasDate {
		score += 2
	}
	if hasJurisdiction {
		score++
	}
	return score
}

// Socrata discovery API response types.

type catalogResponse struct {
	Results []catalogResult `json:"results"`
}

type catalogResult struct {
	Resource struct {
		ID          string   `json:"id"`
		Name        string   `json:"name"`
		Description string   `json:"description"`
		Columns     []string `json:"columns_field_name"`
	} `json:"resource"`
}
