// Package client is the HTTP client for the sybilwatch report API.
package client

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
	"strings"
	"time"

	"github.com/brojonat/sybilwatch/service/db"
	"github.com/brojonat/sybilwatch/service/sybil"
)

// ErrNotFound is returned when the server has no report, cluster or history
// for the request.
var ErrNotFound = errors.New("not found")

// ClusterPage is one page of clusters from the latest report.
type ClusterPage struct {
	GeneratedAt time.Time        `json:"generated_at"`
	MinStake    float64          `json:"min_stake"`
	Total       int              `json:"total"` // clusters above MinStake before the limit
	Clusters    []*sybil.Cluster `json:"clusters"`
}

// Client is the HTTP client for the sybilwatch server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new report API client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// LatestReport fetches the full latest report.
func (c *Client) LatestReport(ctx context.Context) (*sybil.Report, error) {
	var report sybil.Report
	if err := c.get(ctx, "/api/v1/report/latest", nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// LatestSummary fetches only the headline counts of the latest report.
func (c *Client) LatestSummary(ctx context.Context) (*sybil.Summary, error) {
	var summary sybil.Summary
	if err := c.get(ctx, "/api/v1/report/latest", url.Values{"summary": {"true"}}, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// Clusters lists clusters holding at least minStake SOL, largest first.
// A zero limit uses the server default.
func (c *Client) Clusters(ctx context.Context, minStake float64, limit int) (*ClusterPage, error) {
	q := url.Values{}
	if minStake > 0 {
		q.Set("min_stake", strconv.FormatFloat(minStake, 'f', -1, 64))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var page ClusterPage
	if err := c.get(ctx, "/api/v1/clusters", q, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Cluster fetches one cluster of the latest report by 1-based rank.
func (c *Client) Cluster(ctx context.Context, rank int) (*sybil.Cluster, error) {
	if rank < 1 {
		return nil, fmt.Errorf("rank must be a positive integer")
	}
	var cluster sybil.Cluster
	if err := c.get(ctx, "/api/v1/clusters/"+strconv.Itoa(rank), nil, &cluster); err != nil {
		return nil, err
	}
	return &cluster, nil
}

// Runs lists saved analysis runs, newest first.
func (c *Client) Runs(ctx context.Context, limit int) ([]*db.Run, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var resp struct {
		Runs []*db.Run `json:"runs"`
	}
	if err := c.get(ctx, "/api/v1/runs", q, &resp); err != nil {
		return nil, err
	}
	return resp.Runs, nil
}

// IdentityClusters lists the saved clusters identity appeared in, newest first.
func (c *Client) IdentityClusters(ctx context.Context, identity string, limit int) ([]*db.ClusterRecord, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var resp struct {
		Clusters []*db.ClusterRecord `json:"clusters"`
	}
	path := fmt.Sprintf("/api/v1/identities/%s/clusters", url.PathEscape(identity))
	if err := c.get(ctx, path, q, &resp); err != nil {
		return nil, err
	}
	return resp.Clusters, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	c.logger.Debug("api request", "path", path, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
// A 404 wraps ErrNotFound.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	message := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		message = errResp.Error
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, message)
	}
	return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, message)
}
