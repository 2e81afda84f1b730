// Package jellyseerr is a client for the Jellyseerr media-request API.
// It covers the three operations the agent's tool surface needs:
// searching the catalog, submitting a request, and checking request
// status.
package jellyseerr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MaartenKnaepen/home-agent/internal/httpkit"
)

// Client talks to a Jellyseerr instance.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a Jellyseerr client.
func New(baseURL, apiKey string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		logger:  logger.With("component", "jellyseerr"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(30 * time.Second),
		),
	}
}

// SearchResult is one catalog entry from a title search.
type SearchResult struct {
	ID           int    `json:"id"`
	MediaType    string `json:"mediaType"` // movie, tv
	Title        string `json:"title,omitempty"`
	Name         string `json:"name,omitempty"` // tv results use name
	ReleaseDate  string `json:"releaseDate,omitempty"`
	FirstAirDate string `json:"firstAirDate,omitempty"`
	Overview     string `json:"overview,omitempty"`
	MediaInfo    *struct {
		Status int `json:"status"`
	} `json:"mediaInfo,omitempty"`
}

// DisplayTitle returns the title for either media type.
func (r SearchResult) DisplayTitle() string {
	if r.Title != "" {
		return r.Title
	}
	return r.Name
}

// Year returns the release year, or an empty string when unknown.
func (r SearchResult) Year() string {
	date := r.ReleaseDate
	if date == "" {
		date = r.FirstAirDate
	}
	if len(date) >= 4 {
		return date[:4]
	}
	return ""
}

// MediaRequest is a submitted or looked-up media request.
type MediaRequest struct {
	ID     int `json:"id"`
	Status int `json:"status"`
	Media  struct {
		ID        int    `json:"id"`
		MediaType string `json:"mediaType"`
		Status    int    `json:"status"`
	} `json:"media"`
	CreatedAt string `json:"createdAt"`
}

// RequestStatus renders the approval state of a request.
func RequestStatus(status int) string {
	switch status {
	case 1:
		return "pending approval"
	case 2:
		return "approved"
	case 3:
		return "declined"
	default:
		return fmt.Sprintf("unknown (%d)", status)
	}
}

// MediaStatus renders the availability state of the requested media.
func MediaStatus(status int) string {
	switch status {
	case 2:
		return "pending"
	case 3:
		return "processing"
	case 4:
		return "partially available"
	case 5:
		return "available"
	default:
		return "unknown"
	}
}

// Search queries the catalog by title.
func (c *Client) Search(ctx context.Context, query string) ([]SearchResult, error) {
	if query == "" {
		return nil, fmt.Errorf("search: query is required")
	}

	u := fmt.Sprintf("%s/api/v1/search?query=%s", c.baseURL, url.QueryEscape(query))
	var out struct {
		Results []SearchResult `json:"results"`
	}
	if err := c.get(ctx, u, &out); err != nil {
		return nil, err
	}

	c.logger.Debug("search complete", "query", query, "results", len(out.Results))
	return out.Results, nil
}

// Request submits a media request. mediaType is "movie" or "tv";
// seasons (tv only) limits the request to specific seasons, nil means
// all seasons.
func (c *Client) Request(ctx context.Context, mediaType string, mediaID int, seasons []int) (*MediaRequest, error) {
	if mediaType != "movie" && mediaType != "tv" {
		return nil, fmt.Errorf("request: media type must be movie or tv, got %q", mediaType)
	}

	payload := map[string]any{
		"mediaType": mediaType,
		"mediaId":   mediaID,
	}
	if mediaType == "tv" {
		if len(seasons) > 0 {
			payload["seasons"] = seasons
		} else {
			payload["seasons"] = "all"
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/v1/request", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		return nil, fmt.Errorf("jellyseerr API error %d: %s", resp.StatusCode, errBody)
	}

	var req MediaRequest
	if err := json.NewDecoder(resp.Body).Decode(&req); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	c.logger.Info("media requested",
		"media_type", mediaType,
		"media_id", mediaID,
		"request_id", req.ID,
	)
	return &req, nil
}

// GetRequest looks up an existing request by ID.
func (c *Client) GetRequest(ctx context.Context, requestID int) (*MediaRequest, error) {
	u := fmt.Sprintf("%s/api/v1/request/%d", c.baseURL, requestID)
	var req MediaRequest
	if err := c.get(ctx, u, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// Ping checks connectivity and key validity.
func (c *Client) Ping(ctx context.Context) error {
	var out struct {
		Version string `json:"version"`
	}
	return c.get(ctx, c.baseURL+"/api/v1/status", &out)
}

func (c *Client) get(ctx context.Context, url string, dst any) error {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		return fmt.Errorf("jellyseerr API error %d: %s", resp.StatusCode, errBody)
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
