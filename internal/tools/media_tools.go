package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/MaartenKnaepen/home-agent/internal/jellyseerr"
)

// registerMediaTools wires the media-request tools backed by the
// Jellyseerr client.
func (r *Registry) registerMediaTools() {
	r.Register(&Tool{
		Name: "search_media",
		Description: "Search the media catalog by title. Returns candidate movies and TV series " +
			"with their IDs, which you need for request_media.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Title to search for",
				},
			},
			"required": []string{"query"},
		},
		Handler: r.handleSearchMedia,
	})

	r.Register(&Tool{
		Name: "request_media",
		Description: "Request a movie or TV series for download by its catalog ID. " +
			"Use search_media first to find the ID. For TV series, an optional season number " +
			"limits the request to that season; omit it to request all seasons.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"media_id": map[string]any{
					"type":        "integer",
					"description": "Catalog ID from search_media",
				},
				"media_type": map[string]any{
					"type":        "string",
					"enum":        []string{"movie", "tv"},
					"description": "Whether this is a movie or a TV series",
				},
				"season": map[string]any{
					"type":        "integer",
					"description": "Optional: request only this season (TV only)",
				},
			},
			"required": []string{"media_id", "media_type"},
		},
		Handler: r.handleRequestMedia,
	})

	r.Register(&Tool{
		Name:        "request_status",
		Description: "Look up the status of a previously submitted media request by its request ID.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"request_id": map[string]any{
					"type":        "integer",
					"description": "The request ID returned by request_media",
				},
			},
			"required": []string{"request_id"},
		},
		Handler: r.handleRequestStatus,
	})
}

func (r *Registry) handleSearchMedia(ctx context.Context, sess *Session, args map[string]any) (string, error) {
	if r.media == nil {
		return "", fmt.Errorf("media service not configured")
	}

	query, err := stringArg(args, "query")
	if err != nil {
		return "", err
	}

	results, err := r.media.Search(ctx, query)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return fmt.Sprintf("No results for %q", query), nil
	}

	// Cap the list so it stays readable in model context.
	const maxResults = 8
	if len(results) > maxResults {
		results = results[:maxResults]
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d results:\n", len(results))
	for _, res := range results {
		line := fmt.Sprintf("- [%s id=%d] %s", res.MediaType, res.ID, res.DisplayTitle())
		if year := res.Year(); year != "" {
			line += fmt.Sprintf(" (%s)", year)
		}
		sb.WriteString(line + "\n")
	}
	return sb.String(), nil
}

func (r *Registry) handleRequestMedia(ctx context.Context, sess *Session, args map[string]any) (string, error) {
	if r.media == nil {
		return "", fmt.Errorf("media service not configured")
	}

	mediaID, ok := intArg(args, "media_id")
	if !ok {
		return "", fmt.Errorf("media_id is required")
	}
	mediaType, err := stringArg(args, "media_type")
	if err != nil {
		return "", err
	}

	var seasons []int
	if season, ok := intArg(args, "season"); ok {
		seasons = []int{season}
	}

	req, err := r.media.Request(ctx, mediaType, mediaID, seasons)
	if err != nil {
		return "", err
	}

	// Count the request on the profile; best-effort, the request
	// itself already succeeded.
	p := sess.Profile.WithStat("requests_made", 1)
	if err := r.saveProfile(ctx, sess, p); err != nil {
		r.logger.Warn("failed to update request stats", "user_id", p.UserID, "error", err)
	}

	return fmt.Sprintf("Request #%d submitted (%s).", req.ID, jellyseerr.RequestStatus(req.Status)), nil
}

func (r *Registry) handleRequestStatus(ctx context.Context, sess *Session, args map[string]any) (string, error) {
	if r.media == nil {
		return "", fmt.Errorf("media service not configured")
	}

	requestID, ok := intArg(args, "request_id")
	if !ok {
		return "", fmt.Errorf("request_id is required")
	}

	req, err := r.media.GetRequest(ctx, requestID)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("Request #%d is %s; media is %s.",
		req.ID, jellyseerr.RequestStatus(req.Status), jellyseerr.MediaStatus(req.Media.Status)), nil
}

// intArg extracts an integer argument. JSON numbers arrive as float64.
func intArg(args map[string]any, key string) (int, bool) {
	switch v := args[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	default:
		return 0, false
	}
}
